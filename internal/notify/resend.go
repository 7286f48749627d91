package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/resend/resend-go/v2"
	"github.com/xkilldash9x/worklog-cli/internal/config"
	"github.com/xkilldash9x/worklog-cli/internal/worklog"
	"go.uber.org/zap"
)

// emailSender is the part of the Resend client we use.
type emailSender interface {
	SendWithContext(ctx context.Context, params *resend.SendEmailRequest) (*resend.SendEmailResponse, error)
}

// ResendNotifier emails an HTML report with the run's screenshots attached.
type ResendNotifier struct {
	emails emailSender
	from   string
	to     []string
	now    func() time.Time
	logger *zap.Logger
}

func NewResendNotifier(cfg config.NotifyConfig, logger *zap.Logger) (*ResendNotifier, error) {
	if cfg.ResendAPIKey == "" {
		return nil, errors.New("resend notifier requires notify.resend_api_key")
	}
	if len(cfg.To) == 0 {
		return nil, errors.New("resend notifier requires at least one notify.to address")
	}
	client := resend.NewClient(cfg.ResendAPIKey)
	return newResendNotifier(client.Emails, cfg.From, cfg.To, logger), nil
}

func newResendNotifier(emails emailSender, from string, to []string, logger *zap.Logger) *ResendNotifier {
	return &ResendNotifier{
		emails: emails,
		from:   from,
		to:     append([]string(nil), to...),
		now:    time.Now,
		logger: logger.Named("notify"),
	}
}

// Notify sends one email per run. Screenshots are recovered from the encoded
// result, so what is mailed is exactly what the run reported.
func (n *ResendNotifier) Notify(ctx context.Context, res *worklog.Result) error {
	parsed, err := worklog.ParseResult(res.Encode())
	if err != nil {
		return fmt.Errorf("decoding result for email: %w", err)
	}

	body, err := renderHTML(runReport(res, parsed.Screenshots))
	if err != nil {
		return err
	}
	var attachments []*resend.Attachment
	for i, sh := range parsed.Screenshots {
		attachments = append(attachments, &resend.Attachment{
			Filename: attachmentName(i),
			Content:  sh.Data,
		})
	}
	return n.send(ctx, subject(res, n.now()), body, attachments,
		zap.String("user", res.User), zap.Int("attachments", len(attachments)))
}

func (n *ResendNotifier) NotifySummary(ctx context.Context, sum worklog.Summary) error {
	body, err := renderHTML(summaryReport(sum))
	if err != nil {
		return err
	}
	subj := "Worklog Automation Summary - " + n.now().Format(subjectTime)
	return n.send(ctx, subj, body, nil, zap.Int("users", sum.Total))
}

func (n *ResendNotifier) send(ctx context.Context, subj, body string, attachments []*resend.Attachment, fields ...zap.Field) error {
	sent, err := n.emails.SendWithContext(ctx, &resend.SendEmailRequest{
		From:        n.from,
		To:          n.to,
		Subject:     subj,
		Html:        body,
		Attachments: attachments,
	})
	if err != nil {
		return fmt.Errorf("sending email: %w", err)
	}
	n.logger.Info("Notification email sent.", append(fields, zap.String("id", sent.Id), zap.String("subject", subj))...)
	return nil
}
