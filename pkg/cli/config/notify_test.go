package config_test

import (
	"testing"

	"github.com/m-mizutani/davmirror/pkg/cli/config"
	"github.com/m-mizutani/gt"
)

func TestNotifications_Notifiers(t *testing.T) {
	t.Run("nothing configured", func(t *testing.T) {
		notifiers, err := (&config.Notifications{}).Notifiers()
		gt.NoError(t, err)
		gt.Equal(t, len(notifiers), 0)
	})

	t.Run("slack and sentry", func(t *testing.T) {
		cfg := &config.Notifications{
			Slack:  config.Slack{WebhookURL: "https://hooks.slack.com/services/T/B/X"},
			Sentry: config.Sentry{DSN: "https://public@sentry.example.com/1", Environment: "test"},
		}
		notifiers, err := cfg.Notifiers()
		gt.NoError(t, err)
		gt.Equal(t, len(notifiers), 2)
	})

	t.Run("invalid sentry dsn", func(t *testing.T) {
		cfg := &config.Notifications{Sentry: config.Sentry{DSN: "not a dsn"}}
		_, err := cfg.Notifiers()
		gt.Error(t, err)
	})
}
