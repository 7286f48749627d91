// internal/browser/teardown_test.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type recordedCommand struct {
	name string
	args []string
}

type fakeRunner struct {
	mu    sync.Mutex
	calls []recordedCommand
	err   error
}

func (f *fakeRunner) run(_ context.Context, name string, args ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, recordedCommand{name: name, args: args})
	return f.err
}

func newTestReaper(t *testing.T, runner *fakeRunner) *reaper {
	t.Helper()
	return &reaper{
		processName: "chrome",
		patterns:    []string{".org.chromium.Chromium.*", "worklog-profile-*"},
		tempRoot:    t.TempDir(),
		goos:        "linux",
		runCommand:  runner.run,
		logger:      zaptest.NewLogger(t),
	}
}

func TestKillCommand(t *testing.T) {
	r := &reaper{processName: "chrome", goos: "linux"}

	name, args := r.killCommand("/tmp/worklog-profile-123")
	assert.Equal(t, "pkill", name)
	assert.Equal(t, []string{"-9", "-f", "/tmp/worklog-profile-123"}, args)

	_, args = r.killCommand("")
	assert.Equal(t, []string{"-9", "-f", "chrome"}, args, "without a marker the process name is used")

	r.goos = "windows"
	name, args = r.killCommand("ignored")
	assert.Equal(t, "taskkill", name)
	assert.Equal(t, []string{"/F", "/T", "/IM", "chrome.exe"}, args)
}

func TestRemoveTemp(t *testing.T) {
	t.Run("should remove the profile and stale leftovers", func(t *testing.T) {
		r := newTestReaper(t, &fakeRunner{})

		profile := filepath.Join(r.tempRoot, "worklog-profile-abc")
		stray := filepath.Join(r.tempRoot, ".org.chromium.Chromium.XyZ")
		keep := filepath.Join(r.tempRoot, "unrelated")
		for _, dir := range []string{profile, stray, keep} {
			require.NoError(t, os.MkdirAll(filepath.Join(dir, "Default"), 0o700))
		}
		old := time.Now().Add(-time.Hour)
		require.NoError(t, os.Chtimes(stray, old, old))

		removed, err := r.removeTemp(profile, time.Now().Add(-time.Minute))
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{profile, stray}, removed, "the profile matched by both rules is removed once")

		assert.NoDirExists(t, profile)
		assert.NoDirExists(t, stray)
		assert.DirExists(t, keep)

		removed, err = r.removeTemp(profile, time.Time{})
		require.NoError(t, err)
		assert.Empty(t, removed, "a second pass has nothing left to do")
	})

	t.Run("should leave paths created after this run started", func(t *testing.T) {
		r := newTestReaper(t, &fakeRunner{})
		since := time.Now().Add(-time.Minute)

		own := filepath.Join(r.tempRoot, "worklog-profile-own")
		other := filepath.Join(r.tempRoot, "worklog-profile-other")
		for _, dir := range []string{own, other} {
			require.NoError(t, os.MkdirAll(dir, 0o700))
		}

		removed, err := r.removeTemp(own, since)
		require.NoError(t, err)
		assert.Equal(t, []string{own}, removed)
		assert.DirExists(t, other, "a concurrent run's profile survives")
	})

	t.Run("should leave profiles locked by a live process", func(t *testing.T) {
		r := newTestReaper(t, &fakeRunner{})

		locked := filepath.Join(r.tempRoot, "worklog-profile-locked")
		abandoned := filepath.Join(r.tempRoot, "worklog-profile-abandoned")
		require.NoError(t, os.MkdirAll(locked, 0o700))
		require.NoError(t, os.MkdirAll(abandoned, 0o700))
		require.NoError(t, os.Symlink(fmt.Sprintf("host-%d", os.Getpid()), filepath.Join(locked, "SingletonLock")))
		require.NoError(t, os.Symlink("host-not-a-pid", filepath.Join(abandoned, "SingletonLock")))
		old := time.Now().Add(-time.Hour)
		for _, dir := range []string{locked, abandoned} {
			require.NoError(t, os.Chtimes(dir, old, old))
		}

		removed, err := r.removeTemp("", time.Now())
		require.NoError(t, err)
		assert.Equal(t, []string{abandoned}, removed)
		assert.DirExists(t, locked)
	})
}

func TestSessionTeardown(t *testing.T) {
	t.Run("should escalate and still clean up when graceful close fails", func(t *testing.T) {
		runner := &fakeRunner{}
		r := newTestReaper(t, runner)
		profile := filepath.Join(r.tempRoot, "worklog-profile-run")
		require.NoError(t, os.MkdirAll(profile, 0o700))

		// A plain context is not a chromedp context, so the graceful close fails.
		ctx, cancel := context.WithCancel(context.Background())
		allocCanceled := false
		s := &Session{
			logger:      zaptest.NewLogger(t),
			ctx:         ctx,
			cancel:      cancel,
			allocCancel: func() { allocCanceled = true },
			profileDir:  profile,
			reaper:      r,
		}

		report, err := s.Close(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "graceful close")

		assert.False(t, report.Graceful)
		assert.True(t, report.KilledByName)
		assert.Contains(t, report.RemovedPaths, profile)
		assert.NoDirExists(t, profile)
		assert.True(t, allocCanceled)
		assert.Error(t, ctx.Err(), "the browser context is released")

		require.Len(t, runner.calls, 1)
		assert.Equal(t, "pkill", runner.calls[0].name)
		assert.Contains(t, runner.calls[0].args, profile)

		again, err2 := s.Close(context.Background())
		assert.Equal(t, report, again, "close is idempotent")
		assert.Equal(t, err, err2)
		assert.Len(t, runner.calls, 1)
	})

	t.Run("should report every failed stage", func(t *testing.T) {
		runner := &fakeRunner{err: errors.New("pkill: not found")}
		r := newTestReaper(t, runner)
		ctx, cancel := context.WithCancel(context.Background())
		s := &Session{
			logger:      zaptest.NewLogger(t),
			ctx:         ctx,
			cancel:      cancel,
			allocCancel: func() {},
			reaper:      r,
		}

		report, err := s.Close(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "graceful close")
		assert.Contains(t, err.Error(), "pkill: not found")
		assert.False(t, report.KilledByName)
	})
}
