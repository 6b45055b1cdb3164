package usecase

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/davmirror/pkg/domain/interfaces"
	"github.com/m-mizutani/davmirror/pkg/domain/model"
	"github.com/m-mizutani/davmirror/pkg/domain/types"
	"github.com/m-mizutani/davmirror/pkg/utils/sanitize"
	"github.com/m-mizutani/goerr/v2"
)

// Listing retry defaults
const (
	DefaultListAttempts = 3
	DefaultListDelay    = 2 * time.Second
)

type ctxRunIDKey struct{}

// ContextWithRunID makes Run use id instead of generating a new run ID
func ContextWithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxRunIDKey{}, id)
}

func runIDFrom(ctx context.Context) string {
	if id, ok := ctx.Value(ctxRunIDKey{}).(string); ok && id != "" {
		return id
	}
	return uuid.NewString()
}

// SourceFactory opens the remote source of a job
type SourceFactory func(job *model.Job) (interfaces.ResourceSource, error)

type backupUseCase struct {
	newSource    SourceFactory
	notifiers    []interfaces.Notifier
	listAttempts int
	listDelay    time.Duration
}

// BackupOption configures the backup use case
type BackupOption func(*backupUseCase)

// WithNotifiers adds notifiers that receive every finished report
func WithNotifiers(notifiers ...interfaces.Notifier) BackupOption {
	return func(uc *backupUseCase) {
		uc.notifiers = append(uc.notifiers, notifiers...)
	}
}

// WithListRetry sets how often a transient listing failure is attempted and the pause
// between attempts
func WithListRetry(attempts int, delay time.Duration) BackupOption {
	return func(uc *backupUseCase) {
		uc.listAttempts = attempts
		uc.listDelay = delay
	}
}

// NewBackup creates a new BackupUseCase instance
func NewBackup(newSource SourceFactory, opts ...BackupOption) interfaces.BackupUseCase {
	uc := &backupUseCase{
		newSource:    newSource,
		listAttempts: DefaultListAttempts,
		listDelay:    DefaultListDelay,
	}
	for _, opt := range opts {
		opt(uc)
	}
	if uc.listAttempts < 1 {
		uc.listAttempts = 1
	}
	return uc
}

// Run mirrors the remote tree of job into job.Destination. Configuration and discovery
// failures abort the run and are returned together with the partial report.
func (uc *backupUseCase) Run(ctx context.Context, job *model.Job) (*model.RunReport, error) {
	runID := runIDFrom(ctx)
	ctx = ctxlog.With(ctx, ctxlog.From(ctx).With("run_id", runID, "job", job.Name))
	logger := ctxlog.From(ctx)

	report := &model.RunReport{
		RunID:       runID,
		Job:         job.Name,
		Destination: job.Destination,
		StartedAt:   time.Now(),
		Failed:      []model.FailedResource{},
	}

	err := uc.run(ctx, job, report)
	report.Elapsed = time.Since(report.StartedAt)
	if err != nil {
		report.Error = err.Error()
		logger.Error("Backup run failed", "error", err)
	} else {
		logger.Info("Backup run finished",
			"discovered", report.Discovered,
			"succeeded", report.Succeeded,
			"failed", len(report.Failed),
			"waves", report.Waves,
			"aborted", report.Aborted,
			"elapsed", report.Elapsed,
		)
	}

	uc.notify(ctx, report)
	return report, err
}

func (uc *backupUseCase) run(ctx context.Context, job *model.Job, report *model.RunReport) error {
	logger := ctxlog.From(ctx)

	if job.Endpoint == nil {
		return goerr.New("job has no endpoint", goerr.V("job", job.Name), goerr.T(types.ErrTagConfiguration))
	}
	report.Endpoint = job.Endpoint.String()
	for _, w := range job.Endpoint.Warnings {
		logger.Warn("Endpoint warning", "warning", w)
	}

	src, err := uc.newSource(job)
	if err != nil {
		return goerr.Wrap(err, "failed to open remote source", goerr.V("endpoint", report.Endpoint))
	}
	defer func() {
		if err := src.Close(); err != nil {
			logger.Warn("Failed to close remote source", "error", err)
		}
	}()

	paths, err := uc.list(ctx, src)
	if err != nil {
		if goerr.HasTag(err, types.ErrTagConfiguration) {
			return err
		}
		return goerr.Wrap(err, "failed to list remote resources",
			goerr.V("endpoint", report.Endpoint),
			goerr.T(types.ErrTagDiscovery))
	}
	report.Discovered = len(paths)
	logger.Info("Discovered remote resources", "count", len(paths))

	if len(paths) == 0 && !job.AllowEmpty {
		return goerr.New("remote listing is empty, refusing to clear the destination",
			goerr.V("endpoint", report.Endpoint),
			goerr.V("destination", job.Destination),
			goerr.T(types.ErrTagDiscovery))
	}

	records, conflicts := sanitize.BuildRecords(paths)
	for _, c := range conflicts {
		err := goerr.New("sanitized path already claimed",
			goerr.V("remote", c.Remote),
			goerr.V("local", c.Local),
			goerr.V("claimed_by", c.ClaimedBy),
			goerr.T(types.ErrTagConflict))
		logger.Warn("Skipping conflicting resource", "error", err)
		report.Failed = append(report.Failed, model.FailedResource{
			Remote: c.Remote,
			Local:  c.Local,
			Reason: "local path " + string(c.Local) + " is already used by " + string(c.ClaimedBy),
		})
	}

	if _, err := BuildLayout(ctx, job.Destination, records); err != nil {
		return err
	}

	dl := NewEngine(src, job.Engine).Run(ctx, job.Destination, records)
	report.Succeeded = len(dl.Succeeded)
	report.Failed = append(report.Failed, dl.Failed...)
	report.Waves = dl.Waves
	report.Aborted = dl.Aborted

	return nil
}

// list retries transient listing failures. Anything else fails immediately.
func (uc *backupUseCase) list(ctx context.Context, src interfaces.ResourceLister) ([]model.RemotePath, error) {
	logger := ctxlog.From(ctx)

	var lastErr error
	for attempt := 1; attempt <= uc.listAttempts; attempt++ {
		paths, err := src.List(ctx)
		if err == nil {
			return paths, nil
		}
		lastErr = err

		if !isTimeout(err) && !goerr.HasTag(err, types.ErrTagRetryable) {
			return nil, err
		}
		if attempt == uc.listAttempts {
			break
		}

		logger.Warn("Listing failed, retrying", "attempt", attempt, "error", err)
		timer := time.NewTimer(uc.listDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, goerr.Wrap(ctx.Err(), "listing aborted", goerr.V("last_error", lastErr.Error()))
		case <-timer.C:
		}
	}

	return nil, goerr.Wrap(lastErr, "listing kept failing", goerr.V("attempts", uc.listAttempts))
}

func (uc *backupUseCase) notify(ctx context.Context, report *model.RunReport) {
	logger := ctxlog.From(ctx)
	for _, n := range uc.notifiers {
		if err := n.Notify(ctx, report); err != nil {
			logger.Error("Failed to notify run result", "error", err)
		}
	}
}
