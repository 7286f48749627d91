// internal/browser/teardown.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	goruntime "runtime"
	"runtime/debug"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/xkilldash9x/worklog-cli/internal/config"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// TeardownReport describes how a browser was shut down.
type TeardownReport struct {
	Graceful      bool
	ProcessKilled bool
	KilledByName  bool
	RemovedPaths  []string
	Duration      time.Duration
}

// commandRunner runs an external command; swapped out in tests.
type commandRunner func(ctx context.Context, name string, args ...string) error

func execRunner(ctx context.Context, name string, args ...string) error {
	err := exec.CommandContext(ctx, name, args...).Run()
	var exitErr *exec.ExitError
	// pkill exits 1 when nothing matched; taskkill 128 when no such image.
	if errors.As(err, &exitErr) && (exitErr.ExitCode() == 1 || exitErr.ExitCode() == 128) {
		return nil
	}
	return err
}

// reaper owns the forceful end of the teardown ladder.
type reaper struct {
	processName string
	patterns    []string
	tempRoot    string
	goos        string
	runCommand  commandRunner
	logger      *zap.Logger
}

func newReaper(cfg config.BrowserConfig, logger *zap.Logger) *reaper {
	name := cfg.ProcessName
	if name == "" {
		name = "chrome"
	}
	return &reaper{
		processName: name,
		patterns:    cfg.TempDirPatterns,
		tempRoot:    os.TempDir(),
		goos:        goruntime.GOOS,
		runCommand:  execRunner,
		logger:      logger,
	}
}

// killCommand returns the command that kills browsers by name. On unix the
// profile directory is used as the match marker so only this run's processes
// (including renderers and zygotes) are hit.
func (r *reaper) killCommand(marker string) (string, []string) {
	if r.goos == "windows" {
		return "taskkill", []string{"/F", "/T", "/IM", r.processName + ".exe"}
	}
	pattern := r.processName
	if marker != "" {
		pattern = marker
	}
	return "pkill", []string{"-9", "-f", pattern}
}

func (r *reaper) killByName(ctx context.Context, marker string) error {
	name, args := r.killCommand(marker)
	r.logger.Debug("Killing browser processes by name.", zap.String("cmd", name), zap.Strings("args", args))
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := r.runCommand(ctx, name, args...); err != nil {
		return fmt.Errorf("%s %v: %w", name, args, err)
	}
	return nil
}

// removeTemp deletes the profile directory and anything in the temp root that
// matches a known browser working-directory pattern. Pattern matches that
// another browser may still be using are left alone: see inUse.
func (r *reaper) removeTemp(profileDir string, since time.Time) ([]string, error) {
	var (
		removed []string
		errs    error
	)
	targets := []string{}
	if profileDir != "" {
		targets = append(targets, profileDir)
	}
	for _, p := range r.patterns {
		matches, err := filepath.Glob(filepath.Join(r.tempRoot, p))
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("pattern %q: %w", p, err))
			continue
		}
		targets = append(targets, matches...)
	}

	seen := make(map[string]bool, len(targets))
	for _, path := range targets {
		if seen[path] {
			continue
		}
		seen[path] = true
		info, err := os.Lstat(path)
		if os.IsNotExist(err) {
			continue
		}
		if path != profileDir && err == nil && r.inUse(path, info, since) {
			r.logger.Debug("Leaving temp path of another browser.", zap.String("path", path))
			continue
		}
		if err := os.RemoveAll(path); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("removing %s: %w", path, err))
			continue
		}
		removed = append(removed, path)
	}
	return removed, errs
}

// inUse reports whether a matched temp path may belong to a browser that is
// still running: it changed after this run started, or it is a profile whose
// SingletonLock names a live process.
func (r *reaper) inUse(path string, info os.FileInfo, since time.Time) bool {
	if !since.IsZero() && info.ModTime().After(since) {
		return true
	}
	if !info.IsDir() {
		return false
	}
	// Chrome links SingletonLock to "<hostname>-<pid>".
	target, err := os.Readlink(filepath.Join(path, "SingletonLock"))
	if err != nil {
		return false
	}
	i := strings.LastIndex(target, "-")
	if i < 0 {
		return false
	}
	pid, err := strconv.Atoi(target[i+1:])
	if err != nil || pid <= 0 {
		return false
	}
	return pidAlive(pid)
}

func pidAlive(pid int) bool {
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = p.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}

func processAlive(p *os.Process) bool {
	if p == nil {
		return false
	}
	return p.Signal(syscall.Signal(0)) == nil
}

// Close shuts the browser down in escalating steps: graceful close, kill by
// PID, kill by name, then removal of temp directories and a memory hint. It is
// safe to call more than once; later calls return the first result.
func (s *Session) Close(ctx context.Context) (TeardownReport, error) {
	s.closeOnce.Do(func() {
		s.closeReport, s.closeErr = s.teardown(Detach(ctx))
	})
	return s.closeReport, s.closeErr
}

func (s *Session) teardown(ctx context.Context) (TeardownReport, error) {
	start := time.Now()
	var (
		report TeardownReport
		errs   error
	)

	timeout := s.cfg.CloseTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	done := make(chan error, 1)
	go func() { done <- chromedp.Cancel(s.ctx) }()
	select {
	case err := <-done:
		if err == nil || errors.Is(err, context.Canceled) {
			report.Graceful = true
		} else {
			errs = multierr.Append(errs, fmt.Errorf("graceful close: %w", err))
		}
	case <-time.After(timeout):
		errs = multierr.Append(errs, fmt.Errorf("graceful close timed out after %s", timeout))
	}

	if processAlive(s.process) {
		if err := s.process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			errs = multierr.Append(errs, fmt.Errorf("killing pid %d: %w", s.process.Pid, err))
		} else {
			report.ProcessKilled = true
		}
	}
	// Children outlive their parent when the PID kill is all that ran.
	if !report.Graceful || processAlive(s.process) {
		if err := s.reaper.killByName(ctx, s.profileDir); err != nil {
			errs = multierr.Append(errs, err)
		} else {
			report.KilledByName = true
		}
	}

	s.cancel()
	s.allocCancel()

	removed, err := s.reaper.removeTemp(s.profileDir, s.started)
	report.RemovedPaths = removed
	errs = multierr.Append(errs, err)

	goruntime.GC()
	debug.FreeOSMemory()

	report.Duration = time.Since(start)
	fields := []zap.Field{
		zap.Bool("graceful", report.Graceful),
		zap.Bool("pid_killed", report.ProcessKilled),
		zap.Bool("name_killed", report.KilledByName),
		zap.Int("paths_removed", len(report.RemovedPaths)),
		zap.Duration("took", report.Duration),
	}
	if errs != nil {
		s.logger.Warn("Browser teardown finished with errors.", append(fields, zap.Error(errs))...)
	} else {
		s.logger.Debug("Browser teardown finished.", fields...)
	}
	return report, errs
}
