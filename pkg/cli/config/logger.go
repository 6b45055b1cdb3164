package config

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/m-mizutani/clog"
	"github.com/m-mizutani/davmirror/pkg/domain/types"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/masq"
	"github.com/urfave/cli/v3"
)

// Logger holds logger configuration
type Logger struct {
	Level string
	JSON  bool
	// File additionally receives every record in plain text, or JSON with JSON set
	File string

	// Writer receives log output, os.Stderr when nil
	Writer io.Writer

	file *os.File
}

// Flags returns CLI flags for logger configuration
func (c *Logger) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "Log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &c.Level,
			Sources:     cli.EnvVars("DAVMIRROR_LOG_LEVEL"),
		},
		&cli.BoolFlag{
			Name:        "log-json",
			Usage:       "Output logs in JSON format",
			Value:       false,
			Destination: &c.JSON,
			Sources:     cli.EnvVars("DAVMIRROR_LOG_JSON"),
		},
		&cli.StringFlag{
			Name:        "log-file",
			Usage:       "Also append logs to this file",
			Destination: &c.File,
			Sources:     cli.EnvVars("DAVMIRROR_LOG_FILE"),
		},
	}
}

// Configure configures and returns a logger
func (c *Logger) Configure() (*slog.Logger, error) {
	var level slog.Level
	switch strings.ToLower(c.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return nil, goerr.New("invalid log level",
			goerr.V("level", c.Level),
			goerr.T(types.ErrTagConfiguration))
	}

	w := c.Writer
	if w == nil {
		w = os.Stderr
	}

	redact := masq.New(
		masq.WithTag("secret"),
		masq.WithFieldName("Password"),
		masq.WithFieldName("PrivateKey"),
	)

	opts := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: redact,
	}

	var handler slog.Handler
	if c.JSON {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = clog.New(
			clog.WithWriter(w),
			clog.WithLevel(level),
			clog.WithReplaceAttr(redact),
		)
	}

	if c.File != "" {
		f, err := os.OpenFile(c.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to open log file",
				goerr.V("path", c.File),
				goerr.T(types.ErrTagConfiguration))
		}
		c.file = f

		var fileHandler slog.Handler = slog.NewTextHandler(f, opts)
		if c.JSON {
			fileHandler = slog.NewJSONHandler(f, opts)
		}
		handler = slog.NewMultiHandler(handler, fileHandler)
	}

	return slog.New(handler), nil
}

// Close releases the log file opened by Configure, if any
func (c *Logger) Close() error {
	if c.file == nil {
		return nil
	}
	err := c.file.Close()
	c.file = nil
	if err != nil {
		return goerr.Wrap(err, "failed to close log file", goerr.V("path", c.File))
	}
	return nil
}
