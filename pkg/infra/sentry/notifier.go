package sentry

import (
	"context"
	"errors"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/davmirror/pkg/domain/model"
	"github.com/m-mizutani/davmirror/pkg/domain/types"
	"github.com/m-mizutani/goerr/v2"
)

const flushTimeout = 5 * time.Second

// Notifier reports failed or aborted runs to Sentry. Clean runs are not reported.
type Notifier struct {
	hub *sentry.Hub
}

// New creates a notifier for dsn
func New(dsn, environment string) (*Notifier, error) {
	client, err := sentry.NewClient(sentry.ClientOptions{
		Dsn:         dsn,
		Environment: environment,
		Release:     types.AppName + "@" + types.Version,
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create Sentry client", goerr.T(types.ErrTagConfiguration))
	}
	return NewWithClient(client), nil
}

// NewWithClient creates a notifier on an existing client
func NewWithClient(client *sentry.Client) *Notifier {
	return &Notifier{hub: sentry.NewHub(client, sentry.NewScope())}
}

// Notify captures an event when report has failures
func (n *Notifier) Notify(ctx context.Context, report *model.RunReport) error {
	if !report.HasFailures() {
		return nil
	}

	var eventID *sentry.EventID
	n.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("job", report.Job)
		scope.SetTag("run_id", report.RunID)
		scope.SetTag("aborted", boolString(report.Aborted))
		scope.SetContext("run", sentry.Context{
			"endpoint":    report.Endpoint,
			"destination": report.Destination,
			"discovered":  report.Discovered,
			"succeeded":   report.Succeeded,
			"failed":      len(report.Failed),
			"waves":       report.Waves,
		})

		if report.Error != "" {
			scope.SetLevel(sentry.LevelError)
			eventID = n.hub.CaptureException(errors.New(report.Error))
			return
		}
		scope.SetLevel(sentry.LevelWarning)
		eventID = n.hub.CaptureMessage("backup run of " + report.Job + " did not complete cleanly")
	})

	if eventID != nil {
		ctxlog.From(ctx).Debug("Reported run to Sentry", "event_id", *eventID)
	}
	if !n.hub.Flush(flushTimeout) {
		return goerr.New("timed out flushing Sentry events", goerr.V("run_id", report.RunID))
	}
	return nil
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
