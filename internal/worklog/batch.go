package worklog

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Executor runs one submission.
type Executor interface {
	Run(ctx context.Context, creds Credentials) *Result
}

// CredentialSource lists every stored user.
type CredentialSource interface {
	LoadAll(ctx context.Context) ([]Credentials, error)
}

// Notifier delivers a finished result somewhere a human will see it.
type Notifier interface {
	Notify(ctx context.Context, res *Result) error
}

// SummaryNotifier is implemented by notifiers that also report whole batches.
type SummaryNotifier interface {
	NotifySummary(ctx context.Context, sum Summary) error
}

const notifyTimeout = 30 * time.Second

// Summary counts the outcomes of a batch.
type Summary struct {
	Total     int       `json:"total"`
	Succeeded int       `json:"succeeded"`
	Failed    int       `json:"failed"`
	Skipped   int       `json:"skipped"`
	Results   []*Result `json:"-"`
}

// Batch serializes runs: at most one browser exists at any time, whether the
// run came from the scheduler, the API or the CLI.
type Batch struct {
	exec     Executor
	source   CredentialSource
	notifier Notifier
	cooldown time.Duration
	logger   *zap.Logger
	sleep    sleeper

	mu      sync.Mutex
	running atomic.Bool
}

// NewBatch wires a Batch. notifier may be nil.
func NewBatch(exec Executor, source CredentialSource, notifier Notifier, cooldown time.Duration, logger *zap.Logger) (*Batch, error) {
	if exec == nil || source == nil || logger == nil {
		return nil, fmt.Errorf("cannot initialize batch with nil dependencies")
	}
	return &Batch{
		exec:     exec,
		source:   source,
		notifier: notifier,
		cooldown: cooldown,
		logger:   logger.Named("batch"),
		sleep:    sleepCtx,
	}, nil
}

// Busy reports whether a run is in progress.
func (b *Batch) Busy() bool {
	return b.running.Load()
}

// RunOne runs a single user, waiting for any run in progress to finish first.
func (b *Batch) RunOne(ctx context.Context, creds Credentials) *Result {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.runLocked(ctx, creds)
}

func (b *Batch) runLocked(ctx context.Context, creds Credentials) *Result {
	b.running.Store(true)
	defer b.running.Store(false)

	res := b.exec.Run(ctx, creds)
	b.notify(ctx, res)
	return res
}

func (b *Batch) notify(ctx context.Context, res *Result) {
	if b.notifier == nil || res == nil {
		return
	}
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()
	if err := b.notifier.Notify(nctx, res); err != nil {
		b.logger.Warn("Notification failed.", zap.String("user", res.User), zap.Error(err))
	}
}

// RunAll runs every stored user in sequence with a cooldown between runs.
// One user's failure never stops the others. Cancelling ctx stops the batch
// between runs; the users not reached are counted as skipped.
func (b *Batch) RunAll(ctx context.Context) (Summary, error) {
	users, err := b.source.LoadAll(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("loading users: %w", err)
	}
	sum := Summary{Total: len(users)}
	if len(users) == 0 {
		b.logger.Info("No users configured, nothing to run.")
		return sum, nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.logger.Info("Batch starting.", zap.Int("users", len(users)))
	for i, creds := range users {
		if i > 0 {
			if err := b.sleep(ctx, b.cooldown); err != nil {
				sum.Skipped = len(users) - i
				b.logger.Warn("Batch interrupted.", zap.Int("skipped", sum.Skipped), zap.Error(err))
				return sum, err
			}
		}
		if err := ctx.Err(); err != nil {
			sum.Skipped = len(users) - i
			return sum, err
		}

		res := b.runLocked(ctx, creds)
		sum.Results = append(sum.Results, res)
		if res.Succeeded() {
			sum.Succeeded++
		} else {
			sum.Failed++
		}
		b.logger.Info("User processed.",
			zap.Int("n", i+1),
			zap.Int("of", len(users)),
			zap.String("user", creds.MaskedKey()),
			zap.String("status", string(res.Status)))
	}
	b.logger.Info("Batch finished.",
		zap.Int("succeeded", sum.Succeeded),
		zap.Int("failed", sum.Failed))
	b.notifySummary(ctx, sum)
	return sum, nil
}

func (b *Batch) notifySummary(ctx context.Context, sum Summary) {
	sn, ok := b.notifier.(SummaryNotifier)
	if !ok {
		return
	}
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()
	if err := sn.NotifySummary(nctx, sum); err != nil {
		b.logger.Warn("Summary notification failed.", zap.Error(err))
	}
}
