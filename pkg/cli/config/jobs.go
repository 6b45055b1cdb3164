package config

import (
	"bytes"
	"errors"
	"os"
	"strings"
	"time"

	"github.com/m-mizutani/davmirror/pkg/domain/model"
	"github.com/m-mizutani/davmirror/pkg/domain/types"
	"github.com/m-mizutani/goerr/v2"
	"github.com/pelletier/go-toml/v2"
	"github.com/urfave/cli/v3"
)

// Jobs holds the job selection: either a TOML job file or a single job built from flags
type Jobs struct {
	File        string
	Name        string
	Destination string
	AllowEmpty  bool
}

// Flags returns CLI flags for job configuration
func (c *Jobs) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "jobs",
			Usage:       "TOML file describing one or more backup jobs",
			Destination: &c.File,
			Sources:     cli.EnvVars("DAVMIRROR_JOBS"),
		},
		&cli.StringFlag{
			Name:        "name",
			Usage:       "Job name used in logs and reports",
			Value:       "default",
			Destination: &c.Name,
			Sources:     cli.EnvVars("DAVMIRROR_NAME"),
		},
		&cli.StringFlag{
			Name:        "destination",
			Aliases:     []string{"d"},
			Usage:       "Local directory that mirrors the remote tree; its content is replaced",
			Destination: &c.Destination,
			Sources:     cli.EnvVars("DAVMIRROR_DESTINATION"),
		},
		&cli.BoolFlag{
			Name:        "allow-empty",
			Usage:       "Allow an empty remote listing to clear the destination",
			Destination: &c.AllowEmpty,
			Sources:     cli.EnvVars("DAVMIRROR_ALLOW_EMPTY"),
		},
	}
}

// Build returns the jobs to run. Flags provide defaults for every job in the job file.
func (c *Jobs) Build(endpoint *Endpoint, engine *Engine) ([]*model.Job, error) {
	creds, err := endpoint.Credentials()
	if err != nil {
		return nil, err
	}

	base := model.Job{
		Name:        c.Name,
		Credentials: creds,
		Destination: c.Destination,
		Depth:       endpoint.Depth,
		Timeout:     endpoint.Timeout,
		AllowEmpty:  c.AllowEmpty,
		Engine:      engine.Settings(),
	}

	if c.File == "" {
		if endpoint.URL == "" {
			return nil, goerr.New("either --url or --jobs is required", goerr.T(types.ErrTagConfiguration))
		}
		job := base
		if err := job.SetEndpoint(endpoint.URL); err != nil {
			return nil, err
		}
		if err := validateJob(&job); err != nil {
			return nil, err
		}
		return []*model.Job{&job}, nil
	}

	data, err := os.ReadFile(c.File)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read job file", goerr.V("path", c.File), goerr.T(types.ErrTagConfiguration))
	}
	return ParseJobFile(data, base)
}

// jobFile is the TOML layout of a job file
type jobFile struct {
	Jobs []jobEntry `toml:"job"`
}

type jobEntry struct {
	Name           string `toml:"name"`
	URL            string `toml:"url"`
	Username       string `toml:"username"`
	Password       string `toml:"password" masq:"secret"`
	PasswordEnv    string `toml:"password_env"`
	PrivateKeyFile string `toml:"private_key_file"`
	Destination    string `toml:"destination"`
	Depth          *int   `toml:"depth"`
	Timeout        string `toml:"timeout"`
	AllowEmpty     *bool  `toml:"allow_empty"`
	Workers        *int   `toml:"workers"`
	MaxAttempts    *int   `toml:"max_attempts"`
	RetryDelay     string `toml:"retry_delay"`
	ChunkSize      *int   `toml:"chunk_size"`
}

// ParseJobFile decodes a TOML job file. Unset fields fall back to base. Unknown keys
// are rejected.
func ParseJobFile(data []byte, base model.Job) ([]*model.Job, error) {
	var file jobFile
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&file); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return nil, goerr.Wrap(err, "unknown key in job file",
				goerr.V("details", strict.String()),
				goerr.T(types.ErrTagConfiguration))
		}
		return nil, goerr.Wrap(err, "failed to parse job file", goerr.T(types.ErrTagConfiguration))
	}

	if len(file.Jobs) == 0 {
		return nil, goerr.New("job file defines no [[job]]", goerr.T(types.ErrTagConfiguration))
	}

	names := make(map[string]bool)
	var jobs []*model.Job
	for i, entry := range file.Jobs {
		job, err := entry.toJob(base)
		if err != nil {
			return nil, goerr.Wrap(err, "invalid job", goerr.V("index", i), goerr.V("name", entry.Name))
		}
		if names[job.Name] {
			return nil, goerr.New("duplicate job name", goerr.V("name", job.Name), goerr.T(types.ErrTagConfiguration))
		}
		names[job.Name] = true
		jobs = append(jobs, job)
	}

	return jobs, nil
}

func (e jobEntry) toJob(base model.Job) (*model.Job, error) {
	job := base
	if e.Name != "" {
		job.Name = e.Name
	}
	if e.Destination != "" {
		job.Destination = e.Destination
	}
	if e.Username != "" {
		job.Credentials.Username = e.Username
	}

	switch {
	case e.Password != "" && e.PasswordEnv != "":
		return nil, goerr.New("password and password_env are exclusive", goerr.T(types.ErrTagConfiguration))
	case e.Password != "":
		job.Credentials.Password = e.Password
	case e.PasswordEnv != "":
		password, ok := os.LookupEnv(e.PasswordEnv)
		if !ok {
			return nil, goerr.New("password_env is not set", goerr.V("env", e.PasswordEnv), goerr.T(types.ErrTagConfiguration))
		}
		job.Credentials.Password = password
	}

	if e.PrivateKeyFile != "" {
		key, err := os.ReadFile(e.PrivateKeyFile)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to read private key",
				goerr.V("path", e.PrivateKeyFile),
				goerr.T(types.ErrTagConfiguration))
		}
		job.Credentials.PrivateKey = key
	}

	if e.Depth != nil {
		job.Depth = *e.Depth
	}
	if e.AllowEmpty != nil {
		job.AllowEmpty = *e.AllowEmpty
	}
	if e.Workers != nil {
		job.Engine.Workers = *e.Workers
	}
	if e.MaxAttempts != nil {
		job.Engine.MaxAttempts = *e.MaxAttempts
	}
	if e.ChunkSize != nil {
		job.Engine.ChunkSize = *e.ChunkSize
	}

	var err error
	if job.Timeout, err = parseDuration("timeout", e.Timeout, job.Timeout); err != nil {
		return nil, err
	}
	if job.Engine.RetryDelay, err = parseDuration("retry_delay", e.RetryDelay, job.Engine.RetryDelay); err != nil {
		return nil, err
	}

	if strings.TrimSpace(e.URL) == "" {
		return nil, goerr.New("url is required", goerr.T(types.ErrTagConfiguration))
	}
	if err := job.SetEndpoint(e.URL); err != nil {
		return nil, err
	}
	if err := validateJob(&job); err != nil {
		return nil, err
	}
	return &job, nil
}

func parseDuration(key, value string, fallback time.Duration) (time.Duration, error) {
	if value == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, goerr.Wrap(err, "invalid duration", goerr.V("key", key), goerr.V("value", value), goerr.T(types.ErrTagConfiguration))
	}
	if d < 0 {
		return 0, goerr.New("duration must not be negative", goerr.V("key", key), goerr.V("value", value), goerr.T(types.ErrTagConfiguration))
	}
	return d, nil
}

func validateJob(job *model.Job) error {
	if strings.TrimSpace(job.Destination) == "" {
		return goerr.New("destination is required", goerr.V("job", job.Name), goerr.T(types.ErrTagConfiguration))
	}
	if job.Depth < 1 {
		return goerr.New("depth must be at least 1", goerr.V("job", job.Name), goerr.V("depth", job.Depth), goerr.T(types.ErrTagConfiguration))
	}
	if job.Engine.Workers < 1 {
		return goerr.New("workers must be at least 1", goerr.V("job", job.Name), goerr.T(types.ErrTagConfiguration))
	}
	if job.Engine.MaxAttempts < 1 {
		return goerr.New("max attempts must be at least 1", goerr.V("job", job.Name), goerr.T(types.ErrTagConfiguration))
	}
	return nil
}
