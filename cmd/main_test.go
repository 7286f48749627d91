package cmd

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xkilldash9x/worklog-cli/internal/browser"
	"github.com/xkilldash9x/worklog-cli/internal/config"
	"github.com/xkilldash9x/worklog-cli/internal/observability"
	"go.uber.org/zap"
)

// resetForTest silences the global logger. Later InitializeLogger calls made
// by PersistentPreRunE are no-ops, so no test writes a log file.
func resetForTest(t *testing.T) {
	t.Helper()
	observability.ResetForTest()
	observability.InitializeLogger(config.LoggerConfig{Level: "fatal", Format: "console", ServiceName: "test"})
	t.Cleanup(observability.ResetForTest)
}

// createTempConfig writes content to a YAML file that lives for the test.
func createTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// testConfig is a config using the file store in a temp dir, with the
// schedule and notifications off and no waits.
func testConfig(t *testing.T, extra string) string {
	t.Helper()
	dir := t.TempDir()
	return createTempConfig(t, fmt.Sprintf(`
logger:
  log_file: ""
database:
  driver: file
  file_path: %s
  screenshot_dir: %s
browser:
  teardown_settle: 0s
batch:
  cooldown: 0s
schedule:
  enabled: false
notify:
  provider: none
%s`, filepath.Join(dir, "users.json"), filepath.Join(dir, "shots"), extra))
}

// executeCommand runs a fresh command tree and returns everything it printed.
func executeCommand(t *testing.T, ctx context.Context, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand()
	buf := new(syncBuffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	return buf.String(), err
}

type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

type failingLauncher struct{ err error }

func (l failingLauncher) Launch(context.Context) (browser.Instance, error) {
	return nil, l.err
}

func useLauncher(t *testing.T, l browser.Launcher) {
	t.Helper()
	orig := newLauncher
	newLauncher = func(config.BrowserConfig, *zap.Logger) browser.Launcher { return l }
	t.Cleanup(func() { newLauncher = orig })
}
