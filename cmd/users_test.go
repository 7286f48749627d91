package cmd

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const userJSON = `{
  "authSessionId": "auth-session-0001",
  "keycloakIdentity": "kc-identity",
  "keycloakSession": "kc-session",
  "tasksCompleted": "Wired the scheduler into serve"
}`

func writeUserFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "user.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestUsersCommands(t *testing.T) {
	ctx := context.Background()

	t.Run("should add, list and reset users", func(t *testing.T) {
		resetForTest(t)
		cfg := testConfig(t, "")

		out, err := executeCommand(t, ctx, "users", "list", "--config", cfg)
		require.NoError(t, err)
		assert.Contains(t, out, "No users configured.")

		out, err = executeCommand(t, ctx, "users", "add", "--config", cfg, "--from", writeUserFile(t, userJSON))
		require.NoError(t, err)
		assert.Contains(t, out, "Configuration saved for ...ion-0001.")

		out, err = executeCommand(t, ctx, "users", "add", "--config", cfg,
			"--auth-session-id", "auth-session-0002", "--tasks", "Pairing session")
		require.NoError(t, err)
		assert.Contains(t, out, "...ion-0002")

		out, err = executeCommand(t, ctx, "users", "list", "--config", cfg)
		require.NoError(t, err)
		assert.Contains(t, out, "1    ...ion-0001")
		assert.Contains(t, out, "Wired the scheduler into serve")
		assert.Contains(t, out, "2    ...ion-0002")
		assert.NotContains(t, out, "auth-session-0001", "tokens must be masked")

		_, err = executeCommand(t, ctx, "users", "reset", "--config", cfg)
		assert.ErrorContains(t, err, "--yes")

		out, err = executeCommand(t, ctx, "users", "reset", "--yes", "--config", cfg)
		require.NoError(t, err)
		assert.Contains(t, out, "Deleted 2 user configuration(s).")
	})

	t.Run("should fill missing content with the configured defaults", func(t *testing.T) {
		resetForTest(t)
		cfg := testConfig(t, "worklog:\n  defaults:\n    challenges: Nothing notable\n")

		_, err := executeCommand(t, ctx, "users", "add", "--config", cfg, "--auth-session-id", "auth-session-0003")
		require.NoError(t, err)

		root := NewRootCommand()
		root.SetArgs([]string{"users", "list", "--config", cfg})
		buf := new(syncBuffer)
		root.SetOut(buf)
		require.NoError(t, root.ExecuteContext(ctx))
		assert.Contains(t, buf.String(), "Need to complete the tasks assigned.")
	})

	t.Run("should reject a configuration without a session token", func(t *testing.T) {
		resetForTest(t)
		_, err := executeCommand(t, ctx, "users", "add", "--config", testConfig(t, ""), "--from", writeUserFile(t, `{"tasksCompleted":"x"}`))
		assert.ErrorContains(t, err, "primary session token is empty")
	})

	t.Run("should reject malformed JSON", func(t *testing.T) {
		resetForTest(t)
		_, err := executeCommand(t, ctx, "users", "add", "--config", testConfig(t, ""), "--from", writeUserFile(t, `{"authSessionId":`))
		assert.ErrorContains(t, err, "invalid configuration JSON")
	})

	t.Run("should report an unknown user id for screenshots", func(t *testing.T) {
		resetForTest(t)
		_, err := executeCommand(t, ctx, "users", "screenshots", "3", "--config", testConfig(t, ""))
		assert.ErrorContains(t, err, "no user with id 3")
	})

	t.Run("should say when a user has no screenshots", func(t *testing.T) {
		resetForTest(t)
		cfg := testConfig(t, "")
		_, err := executeCommand(t, ctx, "users", "add", "--config", cfg, "--from", writeUserFile(t, userJSON))
		require.NoError(t, err)

		out, err := executeCommand(t, ctx, "users", "screenshots", "1", "--config", cfg)
		require.NoError(t, err)
		assert.Contains(t, out, "No screenshots stored.")
	})
}

func TestPreview(t *testing.T) {
	assert.Equal(t, "a b c", preview("a\n b\tc", 10))
	assert.Equal(t, "abcd...", preview("abcdefghij", 7))
}
