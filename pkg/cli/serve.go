package cli

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/davmirror/pkg/cli/config"
	controller "github.com/m-mizutani/davmirror/pkg/controller/http"
	"github.com/m-mizutani/davmirror/pkg/usecase"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

func cmdServe() *cli.Command {
	var (
		serverCfg   config.Server
		endpointCfg config.Endpoint
		engineCfg   config.Engine
		jobsCfg     config.Jobs
		notifyCfg   config.Notifications
	)

	flags := append(serverCfg.Flags(), endpointCfg.Flags()...)
	flags = append(flags, engineCfg.Flags()...)
	flags = append(flags, jobsCfg.Flags()...)
	flags = append(flags, notifyCfg.Flags()...)

	return &cli.Command{
		Name:    "serve",
		Aliases: []string{"s"},
		Usage:   "Start HTTP server that triggers backup runs on request",
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

			logger.Info("Starting davmirror server",
				slog.String("addr", serverCfg.Addr),
				slog.Int("jobs", len(jobs)),
			)

			backupUC := newBackupUseCase(endpointCfg.SourceOptions(), notifiers)
			runnerUC := usecase.NewRunner(backupUC, jobs)

			server, err := controller.NewServer(
				ctx,
				runnerUC,
				controller.WithAddr(serverCfg.Addr),
				controller.WithTriggerToken(serverCfg.TriggerToken),
			)
			if err != nil {
				return goerr.Wrap(err, "failed to create HTTP server")
			}

			go func() {
				logger.Info("HTTP server starting", slog.String("addr", serverCfg.Addr))
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logger.Error("HTTP server error", slog.Any("error", err))
				}
			}()

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

			select {
			case <-ctx.Done():
				logger.Info("Context cancelled, shutting down...")
			case sig := <-sigChan:
				logger.Info("Signal received, shutting down...", slog.Any("signal", sig))
			}

			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
			defer cancel()

			if err := server.Shutdown(shutdownCtx); err != nil {
				return goerr.Wrap(err, "failed to shutdown server gracefully")
			}
			if err := runnerUC.Shutdown(shutdownCtx); err != nil {
				return goerr.Wrap(err, "failed to stop active backup run")
			}

			logger.Info("Server shutdown complete")
			return nil
		},
	}
}
