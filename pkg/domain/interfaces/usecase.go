package interfaces

import (
	"context"

	"github.com/m-mizutani/davmirror/pkg/domain/model"
)

// BackupUseCase mirrors a remote tree to local storage
type BackupUseCase interface {
	// Run performs one full backup. Only configuration and discovery failures are
	// returned as errors; resource failures are part of the report.
	Run(ctx context.Context, job *model.Job) (*model.RunReport, error)
}

// RunnerUseCase coordinates background runs for long-lived processes
type RunnerUseCase interface {
	// Trigger starts a run in the background and returns its ID
	Trigger(ctx context.Context) (string, error)
	// Latest returns the most recent finished run
	Latest() (*model.RunBatch, bool)
	// Running reports whether a run is active
	Running() bool
}

// Notifier publishes the result of a run
type Notifier interface {
	Notify(ctx context.Context, report *model.RunReport) error
}
