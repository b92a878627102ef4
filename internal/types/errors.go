package types

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Sentinel errors for common failure modes.
var (
	ErrTimeout         = errors.New("operation timed out")
	ErrInvalidURL      = errors.New("invalid URL")
	ErrDuplicate       = errors.New("duplicate URL")
	ErrDomainBlocked   = errors.New("domain not allowed")
	ErrCrawlStopped    = errors.New("crawl has been stopped")
	ErrNoSeeds         = errors.New("no schedulable seed URLs")
	ErrNoContainer     = errors.New("content container not found")
	ErrSinkFatal       = errors.New("sink unusable after recovery")
	ErrInvalidRecord   = errors.New("record failed required-field validation")
	ErrEmptyResponse   = errors.New("empty response body")
	ErrLimitReached    = errors.New("crawl limit reached")
	ErrPageUnavailable = errors.New("browser page unavailable")
)

// FetchError wraps errors that occur during fetching or navigation.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
	Retryable  bool
	RetryAfter time.Duration // populated from Retry-After header on HTTP 429
}

func (e *FetchError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("fetch error for %s (status %d): %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch error for %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

func (e *FetchError) IsRetryable() bool { return e.Retryable }

// ExtractError wraps a failure to obtain a field that the caller treats as fatal.
type ExtractError struct {
	URL   string
	Field string
	Err   error
}

func (e *ExtractError) Error() string {
	return fmt.Sprintf("extract error for %s (field=%q): %v", e.URL, e.Field, e.Err)
}

func (e *ExtractError) Unwrap() error { return e.Err }

// StorageError wraps errors that occur while opening or closing a sink.
type StorageError struct {
	Backend string
	Err     error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error (%s): %v", e.Backend, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// SinkError is returned by an append that could not be written.
// Fatal is set once the single recovery cycle has also failed.
type SinkError struct {
	Backend string
	Key     string
	Fatal   bool
	Err     error
}

func (e *SinkError) Error() string {
	kind := "recoverable"
	if e.Fatal {
		kind = "fatal"
	}
	return fmt.Sprintf("%s sink error (%s) writing %q: %v", kind, e.Backend, e.Key, e.Err)
}

func (e *SinkError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrSinkFatal) match fatal sink errors.
func (e *SinkError) Is(target error) bool {
	return target == ErrSinkFatal && e.Fatal
}

// ValidationError reports the required fields a record was missing.
type ValidationError struct {
	Key     string
	Missing []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("record %q missing required fields: %s", e.Key, strings.Join(e.Missing, ", "))
}

func (e *ValidationError) Unwrap() error { return ErrInvalidRecord }

// TaskError wraps an unexpected failure while processing a single page.
type TaskError struct {
	URL   string
	Stage string
	Err   error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("task error for %s at stage %q: %v", e.URL, e.Stage, e.Err)
}

func (e *TaskError) Unwrap() error { return e.Err }
