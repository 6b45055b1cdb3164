package types

import "github.com/m-mizutani/goerr/v2"

// Error tags classify failures across layers. Resource level tags are only
// inspected by the download engine; configuration and discovery tags abort a run.
var (
	// ErrTagConfiguration marks invalid endpoint, destination or job settings
	ErrTagConfiguration = goerr.NewTag("configuration")
	// ErrTagDiscovery marks a failed or unparsable listing
	ErrTagDiscovery = goerr.NewTag("discovery")
	// ErrTagTimeout marks a transport timeout (connect, response header or idle body read)
	ErrTagTimeout = goerr.NewTag("timeout")
	// ErrTagRetryable marks a transient server answer (e.g. HTTP 503, FTP 421)
	ErrTagRetryable = goerr.NewTag("retryable")
	// ErrTagPermanent marks a failure that must not be retried
	ErrTagPermanent = goerr.NewTag("permanent")
	// ErrTagConflict marks two remote paths sanitizing to the same local path
	ErrTagConflict = goerr.NewTag("sanitization_conflict")
)

// ErrRunInProgress is returned when a run is triggered while another one is active
var ErrRunInProgress = goerr.New("backup run already in progress")
