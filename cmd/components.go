package cmd

import (
	"context"
	"fmt"

	"github.com/xkilldash9x/worklog-cli/internal/browser"
	"github.com/xkilldash9x/worklog-cli/internal/config"
	"github.com/xkilldash9x/worklog-cli/internal/locators"
	"github.com/xkilldash9x/worklog-cli/internal/notify"
	"github.com/xkilldash9x/worklog-cli/internal/store"
	"github.com/xkilldash9x/worklog-cli/internal/worklog"
	"go.uber.org/zap"
)

// newLauncher is replaced in tests so commands can run without Chrome.
var newLauncher = func(cfg config.BrowserConfig, logger *zap.Logger) browser.Launcher {
	return browser.NewLauncher(cfg, logger)
}

// components holds the services a command needs.
type components struct {
	store   store.Backend
	watcher *locators.Watcher
	batch   *worklog.Batch
}

// initializeComponents opens storage and wires runner, notifier and batch.
// With watch set and an override file configured, locators come from a
// Watcher whose Run the caller must start; otherwise they are loaded once.
func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger, watch bool) (*components, error) {
	backend, err := store.Open(ctx, cfg.Database(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}
	c := &components{store: backend}

	var source locators.Source
	path := cfg.Worklog().LocatorsFile
	if watch && path != "" {
		if c.watcher, err = locators.NewWatcher(path, logger); err != nil {
			c.Shutdown()
			return nil, err
		}
		source = c.watcher
	} else {
		reg, err := locators.LoadWithOverride(path)
		if err != nil {
			c.Shutdown()
			return nil, err
		}
		source = reg
	}

	runner, err := worklog.NewRunner(cfg, newLauncher(cfg.Browser(), logger), source, logger,
		worklog.WithScreenshotSink(backend))
	if err != nil {
		c.Shutdown()
		return nil, err
	}
	notifier, err := notify.New(cfg.Notify(), logger)
	if err != nil {
		c.Shutdown()
		return nil, err
	}
	if c.batch, err = worklog.NewBatch(runner, backend, notifier, cfg.Batch().Cooldown, logger); err != nil {
		c.Shutdown()
		return nil, err
	}
	return c, nil
}

// Shutdown releases storage.
func (c *components) Shutdown() {
	if err := c.store.Close(); err != nil {
		zap.L().Warn("Closing storage failed.", zap.Error(err))
	}
}
