package model

import "strings"

// Status is the lifecycle state of a fetch job. Stores persist it as a token
// string; the numeric value is internal and never written anywhere.
type Status uint8

const (
	// StatusBacklog means the job exists but is not scheduled
	StatusBacklog Status = iota

	// StatusQueued means the job waits in the pending queue
	StatusQueued

	// StatusDownloading means an execution is running for the job
	StatusDownloading

	// StatusDone means the job finished successfully
	StatusDone

	// StatusError means every attempt for the job failed
	StatusError

	// StatusCanceled means the job was canceled by the user
	StatusCanceled
)

// Store tokens
const (
	TokenBacklog     = "backlog"
	TokenQueued      = "queued"
	TokenDownloading = "downloading"
	TokenDone        = "done"
	TokenError       = "error"
	TokenCanceled    = "canceled"

	// legacyTokenQueue is written by older stores for queued rows
	legacyTokenQueue = "queue"
)

// AllStatuses lists every status in transition order.
var AllStatuses = []Status{
	StatusBacklog,
	StatusQueued,
	StatusDownloading,
	StatusDone,
	StatusError,
	StatusCanceled,
}

// Token returns the persisted representation of the status.
func (s Status) Token() string {
	switch s {
	case StatusBacklog:
		return TokenBacklog
	case StatusQueued:
		return TokenQueued
	case StatusDownloading:
		return TokenDownloading
	case StatusDone:
		return TokenDone
	case StatusError:
		return TokenError
	case StatusCanceled:
		return TokenCanceled
	default:
		return TokenBacklog
	}
}

// String returns the string representation of Status
func (s Status) String() string {
	return s.Token()
}

// ParseStatus maps a stored token back to a Status. Unknown tokens map to
// StatusBacklog so a corrupted row never blocks loading.
func ParseStatus(token string) Status {
	switch strings.ToLower(strings.TrimSpace(token)) {
	case TokenQueued, legacyTokenQueue:
		return StatusQueued
	case TokenDownloading:
		return StatusDownloading
	case TokenDone:
		return StatusDone
	case TokenError:
		return StatusError
	case TokenCanceled, "cancelled":
		return StatusCanceled
	default:
		return StatusBacklog
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.Token()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(text []byte) error {
	*s = ParseStatus(string(text))
	return nil
}

// IsActive returns true if an execution may currently be running for the job
func (s Status) IsActive() bool {
	return s == StatusDownloading
}

// IsFinished returns true if the job is in a terminal state (done, error, or canceled)
func (s Status) IsFinished() bool {
	return s == StatusDone || s == StatusError || s == StatusCanceled
}

// IsRestSafe reports whether the status can survive a process restart as is.
// Only Downloading cannot: no process is left to complete it.
func (s Status) IsRestSafe() bool {
	return s != StatusDownloading
}

// CanTransition reports whether moving from s to next is allowed.
//
// Enqueue and StartNow may re-queue a job from any state, including terminal
// ones, so that finished jobs can be fetched again. Startup recovery also
// re-queues jobs left in Downloading.
func (s Status) CanTransition(next Status) bool {
	if s == next {
		return true
	}
	switch next {
	case StatusQueued:
		return true
	case StatusBacklog:
		return s == StatusQueued || s == StatusDownloading
	case StatusDownloading:
		return s == StatusQueued
	case StatusDone, StatusError:
		return s == StatusDownloading
	case StatusCanceled:
		return !s.IsFinished()
	default:
		return false
	}
}
