package model

// OutcomeKind is the terminal classification of one fetch attempt
type OutcomeKind int

const (
	OutcomeSucceeded OutcomeKind = iota
	OutcomeRetryable
	OutcomePermanent
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSucceeded:
		return "succeeded"
	case OutcomeRetryable:
		return "retryable_failure"
	case OutcomePermanent:
		return "permanent_failure"
	default:
		return "unknown"
	}
}

// Outcome is the result of a single fetch attempt
type Outcome struct {
	Kind OutcomeKind
	// Status is the protocol status code (HTTP status, FTP reply code) if one was received
	Status int
	Reason string
}

// Succeeded returns a successful outcome
func Succeeded(status int) Outcome {
	return Outcome{Kind: OutcomeSucceeded, Status: status}
}

// RetryableFailure returns an outcome that puts the resource back to pending
func RetryableFailure(status int, reason string) Outcome {
	return Outcome{Kind: OutcomeRetryable, Status: status, Reason: reason}
}

// PermanentFailure returns an outcome that must not be retried
func PermanentFailure(status int, reason string) Outcome {
	return Outcome{Kind: OutcomePermanent, Status: status, Reason: reason}
}

// RetryState tracks attempts of one resource across waves
type RetryState struct {
	Attempts int
	Last     Outcome
}

// ResourceState is the state of a resource within the download engine
type ResourceState string

const (
	StatePending   ResourceState = "pending"
	StateInFlight  ResourceState = "in_flight"
	StateSucceeded ResourceState = "succeeded"
	StateRetryable ResourceState = "retryable_failure"
	StatePermanent ResourceState = "permanent_failure"
)

// IsRetryableHTTPStatus reports whether an HTTP status is worth another attempt
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case 429, 502, 503, 504:
		return true
	default:
		return false
	}
}
