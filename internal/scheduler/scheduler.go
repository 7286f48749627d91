// Package scheduler triggers batch runs on a cron schedule and keeps a hosted
// instance awake by pinging its own URL.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/xkilldash9x/worklog-cli/internal/config"
	"github.com/xkilldash9x/worklog-cli/internal/worklog"
	"go.uber.org/zap"
)

// BatchRunner is satisfied by *worklog.Batch.
type BatchRunner interface {
	RunAll(ctx context.Context) (worklog.Summary, error)
}

const keepAliveTimeout = 30 * time.Second

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithHTTPClient replaces the client used for keep-alive pings.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Scheduler) { s.client = c }
}

// Scheduler owns one cron instance with up to two entries.
type Scheduler struct {
	cron     *cron.Cron
	batch    BatchRunner
	client   *http.Client
	logger   *zap.Logger
	runEntry cron.EntryID

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

// New registers the batch entry (when scheduling is enabled) and the
// keep-alive entry (when a URL is configured).
func New(cfg config.ScheduleConfig, batch BatchRunner, logger *zap.Logger, opts ...Option) (*Scheduler, error) {
	if batch == nil || logger == nil {
		return nil, errors.New("cannot initialize scheduler with nil dependencies")
	}
	loc := time.UTC
	if cfg.Timezone != "" {
		var err error
		if loc, err = time.LoadLocation(cfg.Timezone); err != nil {
			return nil, fmt.Errorf("loading timezone %q: %w", cfg.Timezone, err)
		}
	}

	logger = logger.Named("scheduler")
	cl := cronLogger{logger.Sugar()}
	s := &Scheduler{
		batch:  batch,
		client: &http.Client{Timeout: keepAliveTimeout},
		logger: logger,
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithParser(config.CronParser),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
	}
	for _, opt := range opts {
		opt(s)
	}

	if cfg.Enabled {
		id, err := s.cron.AddFunc(cfg.Cron, s.runBatch)
		if err != nil {
			return nil, fmt.Errorf("scheduling %q: %w", cfg.Cron, err)
		}
		s.runEntry = id
		logger.Info("Batch scheduled.", zap.String("cron", cfg.Cron), zap.String("timezone", loc.String()))
	}
	if cfg.KeepAliveURL != "" {
		if cfg.KeepAliveInterval <= 0 {
			return nil, errors.New("keep-alive interval must be positive")
		}
		url := cfg.KeepAliveURL
		s.cron.Schedule(cron.Every(cfg.KeepAliveInterval), cron.FuncJob(func() { s.ping(url) }))
		logger.Info("Keep-alive scheduled.", zap.String("url", url), zap.Duration("every", cfg.KeepAliveInterval))
	}
	return s, nil
}

// Start begins firing entries. Jobs run with a context derived from ctx.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()
	s.cron.Start()
}

// Stop prevents new jobs, cancels running ones, and waits for them until ctx
// expires.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for scheduled jobs: %w", ctx.Err())
	}
}

// Next is when the batch fires next; zero when it is not scheduled or the
// scheduler has not started.
func (s *Scheduler) Next() time.Time {
	if s.runEntry == 0 {
		return time.Time{}
	}
	return s.cron.Entry(s.runEntry).Next
}

func (s *Scheduler) jobContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx == nil {
		return context.Background()
	}
	return s.ctx
}

func (s *Scheduler) runBatch() {
	start := time.Now()
	s.logger.Info("Scheduled batch starting.")
	sum, err := s.batch.RunAll(s.jobContext())
	if err != nil {
		s.logger.Error("Scheduled batch ended early.", zap.Error(err), zap.Int("skipped", sum.Skipped))
		return
	}
	s.logger.Info("Scheduled batch finished.",
		zap.Int("total", sum.Total),
		zap.Int("succeeded", sum.Succeeded),
		zap.Int("failed", sum.Failed),
		zap.Duration("took", time.Since(start)))
}

func (s *Scheduler) ping(url string) {
	ctx, cancel := context.WithTimeout(s.jobContext(), keepAliveTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		s.logger.Warn("Keep-alive request could not be built.", zap.Error(err))
		return
	}
	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Warn("Keep-alive ping failed.", zap.String("url", url), zap.Error(err))
		return
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	s.logger.Debug("Keep-alive ping sent.", zap.String("url", url), zap.Int("status", resp.StatusCode))
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
