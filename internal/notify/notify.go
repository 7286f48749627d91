// Package notify tells a human how a run went.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/xkilldash9x/worklog-cli/internal/config"
	"github.com/xkilldash9x/worklog-cli/internal/worklog"
	"go.uber.org/zap"
)

// Notifier is worklog.Notifier plus whole-batch summaries.
type Notifier interface {
	worklog.Notifier
	worklog.SummaryNotifier
}

// New builds the notifier selected by cfg.Provider.
func New(cfg config.NotifyConfig, logger *zap.Logger) (Notifier, error) {
	switch cfg.Provider {
	case config.ProviderNone, "":
		return Nop{}, nil
	case config.ProviderLog:
		return NewLogNotifier(logger), nil
	case config.ProviderResend:
		return NewResendNotifier(cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported notification provider %q", cfg.Provider)
	}
}

// Nop discards everything.
type Nop struct{}

func (Nop) Notify(context.Context, *worklog.Result) error        { return nil }
func (Nop) NotifySummary(context.Context, worklog.Summary) error { return nil }

// LogNotifier writes outcomes to the process log.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.Named("notify")}
}

func (n *LogNotifier) Notify(_ context.Context, res *worklog.Result) error {
	fields := []zap.Field{
		zap.String("user", res.User),
		zap.String("run_id", res.RunID),
		zap.String("status", string(res.Status)),
		zap.String("message", res.Message),
		zap.Int("steps", len(res.Steps)),
		zap.Int("screenshots", len(res.Screenshots)),
		zap.Duration("took", res.Duration()),
	}
	if res.Succeeded() {
		n.logger.Info("Worklog run succeeded.", fields...)
	} else {
		n.logger.Error("Worklog run failed.", fields...)
	}
	return nil
}

func (n *LogNotifier) NotifySummary(_ context.Context, sum worklog.Summary) error {
	n.logger.Info("Worklog batch finished.",
		zap.Int("total", sum.Total),
		zap.Int("succeeded", sum.Succeeded),
		zap.Int("failed", sum.Failed),
		zap.Int("skipped", sum.Skipped))
	return nil
}

// subjectTime is the timestamp layout used in email subjects.
const subjectTime = "2006-01-02 15:04:05"

func subject(res *worklog.Result, at time.Time) string {
	if res.Succeeded() {
		return "Worklog Submission Successful - " + at.Format(subjectTime)
	}
	return "Worklog Submission Failed - " + at.Format(subjectTime)
}
