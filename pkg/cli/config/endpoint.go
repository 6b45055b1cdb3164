package config

import (
	"fmt"
	"os"
	"time"

	"github.com/m-mizutani/davmirror/pkg/domain/model"
	"github.com/m-mizutani/davmirror/pkg/domain/types"
	"github.com/m-mizutani/davmirror/pkg/infra/sftp"
	"github.com/m-mizutani/davmirror/pkg/infra/source"
	"github.com/m-mizutani/davmirror/pkg/infra/webdav"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
	"golang.org/x/term"
)

// Endpoint holds the remote endpoint and credential configuration
type Endpoint struct {
	URL             string
	Username        string
	Password        string `masq:"secret"`
	AskPassword     bool
	PrivateKeyFile  string
	KnownHostsFile  string
	InsecureHostKey bool
	Depth           int
	Timeout         time.Duration
}

// Flags returns CLI flags for endpoint configuration
func (c *Endpoint) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "url",
			Usage:       "Root URL of the remote tree (https://, http://, ftp:// or sftp://)",
			Destination: &c.URL,
			Sources:     cli.EnvVars("DAVMIRROR_URL"),
		},
		&cli.StringFlag{
			Name:        "username",
			Aliases:     []string{"u"},
			Usage:       "Username for the remote endpoint",
			Destination: &c.Username,
			Sources:     cli.EnvVars("DAVMIRROR_USERNAME"),
		},
		&cli.StringFlag{
			Name:        "password",
			Usage:       "Password for the remote endpoint",
			Destination: &c.Password,
			Sources:     cli.EnvVars("DAVMIRROR_PASSWORD"),
		},
		&cli.BoolFlag{
			Name:        "ask-password",
			Usage:       "Prompt for the password on the terminal when it is not set",
			Destination: &c.AskPassword,
		},
		&cli.StringFlag{
			Name:        "private-key-file",
			Usage:       "PEM private key for SFTP authentication",
			Destination: &c.PrivateKeyFile,
			Sources:     cli.EnvVars("DAVMIRROR_PRIVATE_KEY_FILE"),
		},
		&cli.StringFlag{
			Name:        "known-hosts",
			Usage:       "known_hosts file for SFTP host key verification (default ~/.ssh/known_hosts)",
			Destination: &c.KnownHostsFile,
			Sources:     cli.EnvVars("DAVMIRROR_KNOWN_HOSTS"),
		},
		&cli.BoolFlag{
			Name:        "insecure-host-key",
			Usage:       "Skip SFTP host key verification",
			Destination: &c.InsecureHostKey,
			Sources:     cli.EnvVars("DAVMIRROR_INSECURE_HOST_KEY"),
		},
		&cli.IntFlag{
			Name:        "depth",
			Usage:       "WebDAV listing depth",
			Value:       webdav.DefaultDepth,
			Destination: &c.Depth,
			Sources:     cli.EnvVars("DAVMIRROR_DEPTH"),
		},
		&cli.DurationFlag{
			Name:        "timeout",
			Usage:       "Per request budget for connect, response headers and idle body reads",
			Value:       webdav.DefaultTimeout,
			Destination: &c.Timeout,
			Sources:     cli.EnvVars("DAVMIRROR_TIMEOUT"),
		},
	}
}

// SourceOptions returns the protocol options shared by every job
func (c *Endpoint) SourceOptions() source.Options {
	return source.Options{
		SFTPHostKey: sftp.HostKeyConfig{
			KnownHostsFile: c.KnownHostsFile,
			Insecure:       c.InsecureHostKey,
		},
	}
}

// Credentials resolves the credentials given by flags
func (c *Endpoint) Credentials() (model.Credentials, error) {
	creds := model.Credentials{
		Username: c.Username,
		Password: c.Password,
	}

	if c.PrivateKeyFile != "" {
		key, err := os.ReadFile(c.PrivateKeyFile)
		if err != nil {
			return creds, goerr.Wrap(err, "failed to read private key",
				goerr.V("path", c.PrivateKeyFile),
				goerr.T(types.ErrTagConfiguration))
		}
		creds.PrivateKey = key
	}

	if creds.Password == "" && c.AskPassword {
		password, err := promptPassword(fmt.Sprintf("Password for %s@%s: ", c.Username, c.URL))
		if err != nil {
			return creds, err
		}
		creds.Password = password
	}

	return creds, nil
}

func promptPassword(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", goerr.New("cannot prompt for password, stdin is not a terminal", goerr.T(types.ErrTagConfiguration))
	}

	fmt.Fprint(os.Stderr, prompt)
	password, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", goerr.Wrap(err, "failed to read password", goerr.T(types.ErrTagConfiguration))
	}
	return string(password), nil
}
