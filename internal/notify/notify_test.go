package notify

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/resend/resend-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/xkilldash9x/worklog-cli/internal/config"
	"github.com/xkilldash9x/worklog-cli/internal/worklog"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

type mockSender struct{ mock.Mock }

func (m *mockSender) SendWithContext(ctx context.Context, params *resend.SendEmailRequest) (*resend.SendEmailResponse, error) {
	args := m.Called(ctx, params)
	resp, _ := args.Get(0).(*resend.SendEmailResponse)
	return resp, args.Error(1)
}

var fixedNow = time.Date(2026, 10, 18, 17, 30, 0, 0, time.UTC)

func sampleResult(status worklog.Status, msg string) *worklog.Result {
	res := worklog.NewResult(status, msg,
		[]string{"Loaded https://kalvium.community", "Screenshot captured: Homepage loaded", "WARNING: <b>odd</b> | markup"},
		[]worklog.Screenshot{
			{Description: "Homepage loaded", Data: []byte{0x89, 'P', 'N', 'G', 1}},
			{Description: "After submission", Data: []byte{0x89, 'P', 'N', 'G', 2}},
		})
	res.User = "...pha-0001"
	res.RunID = "run-1"
	res.StartedAt = fixedNow.Add(-42 * time.Second)
	res.FinishedAt = fixedNow
	return res
}

func TestNew(t *testing.T) {
	logger := zaptest.NewLogger(t)

	n, err := New(config.NotifyConfig{Provider: config.ProviderNone}, logger)
	require.NoError(t, err)
	assert.IsType(t, Nop{}, n)

	n, err = New(config.NotifyConfig{Provider: config.ProviderLog}, logger)
	require.NoError(t, err)
	assert.IsType(t, &LogNotifier{}, n)

	n, err = New(config.NotifyConfig{Provider: config.ProviderResend, ResendAPIKey: "re_test", To: []string{"ops@example.com"}}, logger)
	require.NoError(t, err)
	assert.IsType(t, &ResendNotifier{}, n)

	_, err = New(config.NotifyConfig{Provider: config.ProviderResend, To: []string{"ops@example.com"}}, logger)
	assert.ErrorContains(t, err, "resend_api_key")

	_, err = New(config.NotifyConfig{Provider: config.ProviderResend, ResendAPIKey: "re_test"}, logger)
	assert.ErrorContains(t, err, "notify.to")

	_, err = New(config.NotifyConfig{Provider: "pigeon"}, logger)
	assert.ErrorContains(t, err, `unsupported notification provider "pigeon"`)
}

func TestResendNotifier(t *testing.T) {
	ctx := context.Background()

	t.Run("should mail the report with every screenshot attached", func(t *testing.T) {
		sender := &mockSender{}
		var sent *resend.SendEmailRequest
		sender.On("SendWithContext", mock.Anything, mock.Anything).
			Run(func(args mock.Arguments) { sent = args.Get(1).(*resend.SendEmailRequest) }).
			Return(&resend.SendEmailResponse{Id: "email-1"}, nil).Once()

		n := newResendNotifier(sender, "bot@example.com", []string{"ops@example.com"}, zaptest.NewLogger(t))
		n.now = func() time.Time { return fixedNow }

		require.NoError(t, n.Notify(ctx, sampleResult(worklog.StatusSuccess, "Worklog submitted successfully")))
		require.NotNil(t, sent)

		assert.Equal(t, "Worklog Submission Successful - 2026-10-18 17:30:00", sent.Subject)
		assert.Equal(t, "bot@example.com", sent.From)
		assert.Equal(t, []string{"ops@example.com"}, sent.To)
		require.Len(t, sent.Attachments, 2)
		assert.Equal(t, "screenshot-00.png", sent.Attachments[0].Filename)
		assert.Equal(t, []byte{0x89, 'P', 'N', 'G', 2}, sent.Attachments[1].Content)

		assert.Contains(t, sent.Html, "<h1>Worklog submitted</h1>")
		assert.Contains(t, sent.Html, "<table>")
		assert.Contains(t, sent.Html, "&lt;b&gt;odd&lt;/b&gt;", "step markup is escaped")
		assert.NotContains(t, sent.Html, "<b>odd</b>")
		assert.Contains(t, sent.Html, "screenshot-01.png")
		sender.AssertExpectations(t)
	})

	t.Run("should use the failure subject for errors", func(t *testing.T) {
		sender := &mockSender{}
		sender.On("SendWithContext", mock.Anything, mock.MatchedBy(func(r *resend.SendEmailRequest) bool {
			return strings.HasPrefix(r.Subject, "Worklog Submission Failed - ") &&
				strings.Contains(r.Html, "Complete button not found")
		})).Return(&resend.SendEmailResponse{Id: "email-2"}, nil).Once()

		n := newResendNotifier(sender, "bot@example.com", []string{"ops@example.com"}, zaptest.NewLogger(t))
		require.NoError(t, n.Notify(ctx, sampleResult(worklog.StatusError, "Complete button not found")))
		sender.AssertExpectations(t)
	})

	t.Run("should wrap delivery errors", func(t *testing.T) {
		sender := &mockSender{}
		sender.On("SendWithContext", mock.Anything, mock.Anything).Return(nil, errors.New("rate limited"))

		n := newResendNotifier(sender, "bot@example.com", []string{"ops@example.com"}, zaptest.NewLogger(t))
		err := n.Notify(ctx, sampleResult(worklog.StatusSuccess, "ok"))
		assert.ErrorContains(t, err, "sending email: rate limited")
	})

	t.Run("should send batch summaries without attachments", func(t *testing.T) {
		sender := &mockSender{}
		sender.On("SendWithContext", mock.Anything, mock.MatchedBy(func(r *resend.SendEmailRequest) bool {
			return r.Subject == "Worklog Automation Summary - 2026-10-18 17:30:00" &&
				len(r.Attachments) == 0 &&
				strings.Contains(r.Html, "<td>3</td>")
		})).Return(&resend.SendEmailResponse{Id: "email-3"}, nil).Once()

		n := newResendNotifier(sender, "bot@example.com", []string{"ops@example.com"}, zaptest.NewLogger(t))
		n.now = func() time.Time { return fixedNow }
		sum := worklog.Summary{Total: 3, Succeeded: 2, Failed: 1, Results: []*worklog.Result{sampleResult(worklog.StatusError, "boom")}}
		require.NoError(t, n.NotifySummary(ctx, sum))
		sender.AssertExpectations(t)
	})
}

func TestLogNotifier(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	n := NewLogNotifier(zap.New(core))

	require.NoError(t, n.Notify(context.Background(), sampleResult(worklog.StatusError, "Navigation failed")))
	require.NoError(t, n.NotifySummary(context.Background(), worklog.Summary{Total: 1, Failed: 1}))

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, zapcore.ErrorLevel, entries[0].Level)
	assert.Equal(t, "...pha-0001", entries[0].ContextMap()["user"])
	assert.Equal(t, int64(2), entries[0].ContextMap()["screenshots"])
	assert.Equal(t, "Worklog batch finished.", entries[1].Message)
}

func TestEscapeMarkdown(t *testing.T) {
	assert.Equal(t, `a\*b\_c \<x\> 1\. \| done`, escapeMarkdown("a*b_c <x> 1. | done"))
	assert.Equal(t, "plain words", escapeMarkdown("plain words"))
}
