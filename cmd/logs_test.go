package cmd

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeLog(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "worklog.log")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o600))
	return path
}

func TestLogsCommand(t *testing.T) {
	t.Run("should print the trailing lines", func(t *testing.T) {
		resetForTest(t)
		path := writeLog(t, "one", "two", "three", "four")
		out, err := executeCommand(t, context.Background(), "logs", "--config", testConfig(t, ""), "--file", path, "-n", "2")
		require.NoError(t, err)
		assert.Equal(t, "three\nfour\n", out)
	})

	t.Run("should print everything when the file is short", func(t *testing.T) {
		resetForTest(t)
		path := writeLog(t, "only")
		out, err := executeCommand(t, context.Background(), "logs", "--config", testConfig(t, ""), "--file", path)
		require.NoError(t, err)
		assert.Equal(t, "only\n", out)
	})

	t.Run("should fail for a missing file", func(t *testing.T) {
		resetForTest(t)
		_, err := executeCommand(t, context.Background(), "logs", "--config", testConfig(t, ""),
			"--file", filepath.Join(t.TempDir(), "absent.log"))
		assert.Error(t, err)
	})

	t.Run("should explain when file logging is off", func(t *testing.T) {
		resetForTest(t)
		_, err := executeCommand(t, context.Background(), "logs", "--config", testConfig(t, ""))
		assert.ErrorContains(t, err, "file logging is disabled")
	})

	t.Run("should follow lines appended later", func(t *testing.T) {
		resetForTest(t)
		path := writeLog(t, "before")
		cfg := testConfig(t, "")

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		root := NewRootCommand()
		buf := new(syncBuffer)
		root.SetOut(buf)
		root.SetErr(buf)
		root.SetArgs([]string{"logs", "--config", cfg, "--file", path, "--follow"})
		done := make(chan error, 1)
		go func() { done <- root.ExecuteContext(ctx) }()

		require.Eventually(t, func() bool { return strings.Contains(buf.String(), "before\n") }, 5*time.Second, 20*time.Millisecond)

		f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o600)
		require.NoError(t, err)
		_, err = f.WriteString("after\n")
		require.NoError(t, err)
		require.NoError(t, f.Close())

		require.Eventually(t, func() bool { return strings.Contains(buf.String(), "after\n") }, 5*time.Second, 20*time.Millisecond)
		assert.Equal(t, 1, strings.Count(buf.String(), "before"), "the snapshot must not be printed twice")

		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("logs --follow did not stop on cancel")
		}
	})
}
