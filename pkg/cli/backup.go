package cli

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/davmirror/pkg/cli/config"
	"github.com/m-mizutani/davmirror/pkg/domain/interfaces"
	"github.com/m-mizutani/davmirror/pkg/domain/model"
	"github.com/m-mizutani/davmirror/pkg/infra/source"
	"github.com/m-mizutani/davmirror/pkg/usecase"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

func cmdBackup() *cli.Command {
	var (
		endpointCfg config.Endpoint
		engineCfg   config.Engine
		jobsCfg     config.Jobs
		notifyCfg   config.Notifications
		reportPath  string
	)

	flags := append(endpointCfg.Flags(), engineCfg.Flags()...)
	flags = append(flags, jobsCfg.Flags()...)
	flags = append(flags, notifyCfg.Flags()...)
	flags = append(flags, &cli.StringFlag{
		Name:        "report",
		Usage:       "Write the run reports as JSON to this file",
		Destination: &reportPath,
		Sources:     cli.EnvVars("DAVMIRROR_REPORT"),
	})

	return &cli.Command{
		Name:    "backup",
		Aliases: []string{"b"},
		Usage:   "Mirror the remote tree once",
		Flags:   flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			logger := ctxlog.From(ctx)

			jobs, err := jobsCfg.Build(&endpointCfg, &engineCfg)
			if err != nil {
				return err
			}
			notifiers, err := notifyCfg.Notifiers()
			if err != nil {
				return err
			}

			backupUC := newBackupUseCase(endpointCfg.SourceOptions(), notifiers)

			// the first signal aborts the run; in-flight downloads still complete
			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			var (
				reports []*model.RunReport
				runErr  error
			)
			for _, job := range jobs {
				if ctx.Err() != nil {
					logger.Warn("Skipping remaining jobs after abort", "job", job.Name)
					break
				}
				logger.Info("Starting backup job", "job", job.Name, "endpoint", job.Endpoint.String())

				report, err := backupUC.Run(ctx, job)
				if report != nil {
					reports = append(reports, report)
					printSummary(c.Root().Writer, report)
				}
				if err != nil && runErr == nil {
					runErr = err
				}
			}

			if reportPath != "" {
				if err := writeReports(reportPath, reports); err != nil {
					return err
				}
				logger.Info("Wrote run report", "path", reportPath)
			}

			if runErr != nil {
				return runErr
			}
			for _, r := range reports {
				if r.HasFailures() {
					return goerr.New("backup finished with failures", goerr.V("job", r.Job), goerr.V("failed", len(r.Failed)))
				}
			}
			return nil
		},
	}
}

func newBackupUseCase(opts source.Options, notifiers []interfaces.Notifier) interfaces.BackupUseCase {
	return usecase.NewBackup(
		func(job *model.Job) (interfaces.ResourceSource, error) {
			return source.New(job, opts)
		},
		usecase.WithNotifiers(notifiers...),
	)
}

func writeReports(path string, reports []*model.RunReport) error {
	data, err := json.MarshalIndent(reports, "", "  ")
	if err != nil {
		return goerr.Wrap(err, "failed to encode run report")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return goerr.Wrap(err, "failed to write run report", goerr.V("path", path))
	}
	return nil
}
