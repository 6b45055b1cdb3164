package usecase

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/davmirror/pkg/domain/interfaces"
	"github.com/m-mizutani/davmirror/pkg/domain/model"
	"github.com/m-mizutani/davmirror/pkg/domain/types"
	"github.com/m-mizutani/davmirror/pkg/utils/async"
	"github.com/m-mizutani/goerr/v2"
)

// runnerUseCase runs every configured job in the background, one run at a time
type runnerUseCase struct {
	backup interfaces.BackupUseCase
	jobs   []*model.Job

	mu     sync.Mutex
	cancel context.CancelFunc
	done   <-chan struct{}
	latest *model.RunBatch
}

// NewRunner creates a new RunnerUseCase instance
func NewRunner(backup interfaces.BackupUseCase, jobs []*model.Job) *runnerUseCase {
	return &runnerUseCase{
		backup: backup,
		jobs:   jobs,
	}
}

// Trigger starts a run unless one is already active
func (uc *runnerUseCase) Trigger(ctx context.Context) (string, error) {
	uc.mu.Lock()
	defer uc.mu.Unlock()

	if uc.running() {
		return "", goerr.Wrap(types.ErrRunInProgress, "cannot trigger run")
	}

	runID := uuid.NewString()
	runCtx, cancel := context.WithCancel(context.Background())
	uc.cancel = cancel

	ctxlog.From(ctx).Info("Triggering backup run", "run_id", runID, "jobs", len(uc.jobs))

	uc.done = async.Dispatch(ctx, "backup_run", func(ctx context.Context) error {
		defer cancel()

		batch := &model.RunBatch{
			RunID:     runID,
			StartedAt: time.Now(),
			Reports:   []*model.RunReport{},
		}
		// ctx carries the logger, runCtx the abort signal
		jobCtx := ContextWithRunID(mergeCancel(ctx, runCtx), runID)

		for _, job := range uc.jobs {
			if jobCtx.Err() != nil {
				break
			}
			report, err := uc.backup.Run(jobCtx, job)
			if report != nil {
				batch.Reports = append(batch.Reports, report)
			}
			if err != nil {
				ctxlog.From(ctx).Error("Backup job failed", "job", job.Name, "error", err)
			}
		}
		batch.FinishedAt = time.Now()

		uc.mu.Lock()
		uc.latest = batch
		uc.mu.Unlock()
		return nil
	})

	return runID, nil
}

// Latest returns the most recent finished run
func (uc *runnerUseCase) Latest() (*model.RunBatch, bool) {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	return uc.latest, uc.latest != nil
}

// Running reports whether a run is active
func (uc *runnerUseCase) Running() bool {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	return uc.running()
}

func (uc *runnerUseCase) running() bool {
	if uc.done == nil {
		return false
	}
	select {
	case <-uc.done:
		return false
	default:
		return true
	}
}

// Shutdown aborts the active run and waits until it has finished or ctx is done
func (uc *runnerUseCase) Shutdown(ctx context.Context) error {
	uc.mu.Lock()
	cancel, done := uc.cancel, uc.done
	uc.mu.Unlock()

	if done == nil {
		return nil
	}
	cancel()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return goerr.Wrap(ctx.Err(), "backup run did not stop in time")
	}
}

// mergeCancel returns a context with the values of valueCtx that is cancelled with cancelCtx
func mergeCancel(valueCtx, cancelCtx context.Context) context.Context {
	ctx, cancel := context.WithCancel(valueCtx)
	context.AfterFunc(cancelCtx, cancel)
	return ctx
}
