package config

import (
	"github.com/m-mizutani/davmirror/pkg/domain/interfaces"
	"github.com/m-mizutani/davmirror/pkg/infra/sentry"
	"github.com/m-mizutani/davmirror/pkg/infra/slack"
	"github.com/urfave/cli/v3"
)

// Slack holds Slack notification configuration
type Slack struct {
	WebhookURL string `masq:"secret"`
	Channel    string
}

// Flags returns CLI flags for Slack configuration
func (c *Slack) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "slack-webhook-url",
			Usage:       "Slack incoming webhook URL for run reports",
			Destination: &c.WebhookURL,
			Sources:     cli.EnvVars("DAVMIRROR_SLACK_WEBHOOK_URL"),
		},
		&cli.StringFlag{
			Name:        "slack-channel",
			Usage:       "Slack channel overriding the webhook default",
			Destination: &c.Channel,
			Sources:     cli.EnvVars("DAVMIRROR_SLACK_CHANNEL"),
		},
	}
}

// Notifier returns nil when Slack is not configured
func (c *Slack) Notifier() interfaces.Notifier {
	if c.WebhookURL == "" {
		return nil
	}
	var opts []slack.Option
	if c.Channel != "" {
		opts = append(opts, slack.WithChannel(c.Channel))
	}
	return slack.New(c.WebhookURL, opts...)
}

// Sentry holds Sentry configuration
type Sentry struct {
	DSN         string `masq:"secret"`
	Environment string
}

// Flags returns CLI flags for Sentry configuration
func (c *Sentry) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "sentry-dsn",
			Usage:       "Sentry DSN; failed and aborted runs are reported",
			Destination: &c.DSN,
			Sources:     cli.EnvVars("DAVMIRROR_SENTRY_DSN"),
		},
		&cli.StringFlag{
			Name:        "sentry-env",
			Usage:       "Sentry environment",
			Value:       "production",
			Destination: &c.Environment,
			Sources:     cli.EnvVars("DAVMIRROR_SENTRY_ENV"),
		},
	}
}

// Notifier returns nil when Sentry is not configured
func (c *Sentry) Notifier() (interfaces.Notifier, error) {
	if c.DSN == "" {
		return nil, nil
	}
	return sentry.New(c.DSN, c.Environment)
}

// Notifications bundles every notifier configuration
type Notifications struct {
	Slack  Slack
	Sentry Sentry
}

// Flags returns CLI flags for all notifiers
func (c *Notifications) Flags() []cli.Flag {
	return append(c.Slack.Flags(), c.Sentry.Flags()...)
}

// Notifiers returns the configured notifiers
func (c *Notifications) Notifiers() ([]interfaces.Notifier, error) {
	var notifiers []interfaces.Notifier
	if n := c.Slack.Notifier(); n != nil {
		notifiers = append(notifiers, n)
	}
	n, err := c.Sentry.Notifier()
	if err != nil {
		return nil, err
	}
	if n != nil {
		notifiers = append(notifiers, n)
	}
	return notifiers, nil
}
