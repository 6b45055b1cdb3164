package config

import "github.com/urfave/cli/v3"

// Server holds server configuration
type Server struct {
	Addr         string
	TriggerToken string `masq:"secret"`
}

// Flags returns CLI flags for server configuration
func (c *Server) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "addr",
			Usage:       "Server address",
			Value:       "localhost:8080",
			Destination: &c.Addr,
			Sources:     cli.EnvVars("DAVMIRROR_ADDR"),
		},
		&cli.StringFlag{
			Name:        "trigger-token",
			Usage:       "Bearer token required to trigger runs (empty disables the check)",
			Destination: &c.TriggerToken,
			Sources:     cli.EnvVars("DAVMIRROR_TRIGGER_TOKEN"),
		},
	}
}
