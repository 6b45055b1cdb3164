package model

import "time"

// Credentials authenticate against the remote endpoint
type Credentials struct {
	Username string
	Password string `masq:"secret"`
	// PrivateKey is a PEM encoded key used by SFTP instead of the password when set
	PrivateKey []byte `masq:"secret"`
}

// EngineSettings tune the download engine of one job
type EngineSettings struct {
	Workers     int
	MaxAttempts int
	RetryDelay  time.Duration
	ChunkSize   int
}

// Job is everything a single backup run needs
type Job struct {
	Name        string
	Endpoint    *Endpoint
	Credentials Credentials
	Destination string
	// Depth is the listing recursion depth sent to the server
	Depth int
	// Timeout is the per request budget for connect, header and idle body reads
	Timeout time.Duration
	// AllowEmpty permits wiping the destination when the remote tree has no files
	AllowEmpty bool
	Engine     EngineSettings
}

// SetEndpoint parses rootURL and assigns it to the job
func (j *Job) SetEndpoint(rootURL string) error {
	ep, err := ParseEndpoint(rootURL)
	if err != nil {
		return err
	}
	j.Endpoint = ep
	return nil
}
