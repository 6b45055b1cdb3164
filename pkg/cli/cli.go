package cli

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"

	"github.com/joho/godotenv"
	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/davmirror/pkg/cli/config"
	"github.com/m-mizutani/davmirror/pkg/domain/types"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

// envFile is loaded before flags are parsed so that it can provide DAVMIRROR_* values
const envFile = ".env"

// Run runs the CLI application
func Run(ctx context.Context, args []string) error {
	var loggerCfg config.Logger
	var logger *slog.Logger
	defer func() {
		if err := loggerCfg.Close(); err != nil {
			slog.Default().Warn("Failed to close log file", "error", err)
		}
	}()

	envErr := loadEnv(envFile)

	app := &cli.Command{
		Name:    types.AppName,
		Usage:   "Mirror a remote WebDAV, FTP or SFTP tree to a local directory",
		Version: types.Version,
		Flags:   loggerCfg.Flags(),
		Before: func(ctx context.Context, c *cli.Command) (context.Context, error) {
			var err error
			logger, err = loggerCfg.Configure()
			if err != nil {
				return nil, err
			}

			slog.SetDefault(logger)
			if envErr != nil {
				logger.Warn("Failed to load env file", "path", envFile, "error", envErr)
			}
			ctx = ctxlog.With(ctx, logger)
			return ctx, nil
		},
		Commands: []*cli.Command{
			cmdBackup(),
			cmdServe(),
		},
	}

	if err := app.Run(ctx, args); err != nil {
		if logger == nil {
			logger = slog.Default()
		}
		logger.Error("CLI execution failed", slog.Any("error", err))
		return err
	}

	return nil
}

// loadEnv loads path into the process environment. Existing variables win and a
// missing file is not an error.
func loadEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return goerr.Wrap(err, "failed to load env file", goerr.V("path", path))
	}
	return nil
}
