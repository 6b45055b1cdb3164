package config

import (
	"time"

	"github.com/m-mizutani/davmirror/pkg/domain/model"
	"github.com/m-mizutani/davmirror/pkg/usecase"
	"github.com/urfave/cli/v3"
)

// Engine holds download engine configuration
type Engine struct {
	Workers     int
	MaxAttempts int
	RetryDelay  time.Duration
	ChunkSize   int
}

// Flags returns CLI flags for engine configuration
func (c *Engine) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:        "workers",
			Aliases:     []string{"w"},
			Usage:       "Number of concurrent downloads (1 is strictly sequential)",
			Value:       usecase.DefaultWorkers,
			Destination: &c.Workers,
			Sources:     cli.EnvVars("DAVMIRROR_WORKERS"),
		},
		&cli.IntFlag{
			Name:        "max-attempts",
			Usage:       "Attempts per resource before a transient failure becomes permanent",
			Value:       usecase.DefaultMaxAttempts,
			Destination: &c.MaxAttempts,
			Sources:     cli.EnvVars("DAVMIRROR_MAX_ATTEMPTS"),
		},
		&cli.DurationFlag{
			Name:        "retry-delay",
			Usage:       "Pause between retry waves",
			Value:       2 * time.Second,
			Destination: &c.RetryDelay,
			Sources:     cli.EnvVars("DAVMIRROR_RETRY_DELAY"),
		},
		&cli.IntFlag{
			Name:        "chunk-size",
			Usage:       "Copy buffer size in bytes",
			Value:       usecase.DefaultChunkSize,
			Destination: &c.ChunkSize,
			Sources:     cli.EnvVars("DAVMIRROR_CHUNK_SIZE"),
		},
	}
}

// Settings converts the configuration into engine settings
func (c *Engine) Settings() model.EngineSettings {
	return model.EngineSettings{
		Workers:     c.Workers,
		MaxAttempts: c.MaxAttempts,
		RetryDelay:  c.RetryDelay,
		ChunkSize:   c.ChunkSize,
	}
}
