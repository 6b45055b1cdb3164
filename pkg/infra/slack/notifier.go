package slack

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/m-mizutani/davmirror/pkg/domain/model"
	"github.com/m-mizutani/davmirror/pkg/domain/types"
	"github.com/m-mizutani/goerr/v2"
	"github.com/slack-go/slack"
)

// maxListedFailures bounds the failures spelled out in one message
const maxListedFailures = 10

// Notifier posts run reports to a Slack incoming webhook
type Notifier struct {
	webhookURL string
	channel    string
	client     *http.Client
}

// Option configures a Notifier
type Option func(*Notifier)

// WithChannel overrides the default channel of the webhook
func WithChannel(channel string) Option {
	return func(n *Notifier) {
		n.channel = channel
	}
}

// WithHTTPClient sets the HTTP client used to call the webhook
func WithHTTPClient(client *http.Client) Option {
	return func(n *Notifier) {
		n.client = client
	}
}

// New creates a Slack notifier
func New(webhookURL string, opts ...Option) *Notifier {
	n := &Notifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Notify posts a summary of report
func (n *Notifier) Notify(ctx context.Context, report *model.RunReport) error {
	msg := buildMessage(report)
	msg.Channel = n.channel

	if err := slack.PostWebhookCustomHTTPContext(ctx, n.webhookURL, n.client, msg); err != nil {
		return goerr.Wrap(err, "failed to post Slack message", goerr.V("run_id", report.RunID))
	}
	return nil
}

func buildMessage(report *model.RunReport) *slack.WebhookMessage {
	color, state := "good", "succeeded"
	switch {
	case report.Error != "":
		color, state = "danger", "failed"
	case report.Aborted:
		color, state = "warning", "aborted"
	case len(report.Failed) > 0:
		color, state = "warning", "finished with failures"
	}

	fields := []slack.AttachmentField{
		{Title: "Endpoint", Value: report.Endpoint},
		{Title: "Destination", Value: report.Destination},
		{Title: "Discovered", Value: fmt.Sprint(report.Discovered), Short: true},
		{Title: "Succeeded", Value: fmt.Sprint(report.Succeeded), Short: true},
		{Title: "Failed", Value: fmt.Sprint(len(report.Failed)), Short: true},
		{Title: "Waves", Value: fmt.Sprint(report.Waves), Short: true},
		{Title: "Elapsed", Value: report.Elapsed.Round(time.Millisecond).String(), Short: true},
	}
	if report.Error != "" {
		fields = append(fields, slack.AttachmentField{Title: "Error", Value: report.Error})
	}
	if len(report.Failed) > 0 {
		fields = append(fields, slack.AttachmentField{Title: "Failed resources", Value: failureList(report.Failed)})
	}

	return &slack.WebhookMessage{
		Text: fmt.Sprintf("%s backup `%s` %s", types.AppName, report.Job, state),
		Attachments: []slack.Attachment{
			{
				Color:  color,
				Fields: fields,
				Footer: "run " + report.RunID,
			},
		},
	}
}

func failureList(failed []model.FailedResource) string {
	var s string
	for i, f := range failed {
		if i == maxListedFailures {
			s += fmt.Sprintf("... and %d more", len(failed)-maxListedFailures)
			break
		}
		s += fmt.Sprintf("• `%s`: %s\n", f.Remote, f.Reason)
	}
	return s
}
