// Package transports defines the contract every backend transport variant
// satisfies: open a fresh session against a resolved target, run commands,
// and release the session on every exit path. Concrete variants live in the
// ssh, virt, and devbridge subpackages.
package transports

import (
	"context"
	"errors"
	"time"

	"github.com/openconduit/openconduit/pkg/target"
)

// Transport builds sessions for one backend variant. Implementations are
// cheap to construct and hold no open connections themselves; every Open
// call yields a private, non-pooled session.
type Transport interface {
	// Backend identifies the variant.
	Backend() target.Backend

	// Open establishes a fresh session against the target. The caller owns
	// the session and must Close it on every exit path.
	Open(ctx context.Context, t target.Target) (Session, error)
}

// Session is a single live connection to a target.
type Session interface {
	// Run executes one command string and returns its result. A non-zero
	// exit status is reported in the result, not as an error; errors signal
	// transport-level failures only.
	//
	// When elevated is true the command runs in an elevated sub-shell. Only
	// the device bridge requests elevation in practice.
	Run(ctx context.Context, command string, elevated bool) (*ExecResult, error)

	// Close releases the session. Safe to call more than once.
	Close() error
}

// FileUploader is implemented by sessions that can stage files on the
// target.
type FileUploader interface {
	UploadFile(ctx context.Context, localPath, remotePath string, mode uint32) error
}

// ExecResult represents the result of a single command execution.
// It is produced once and never partially mutated.
type ExecResult struct {
	// Stdout is the standard output from the command.
	Stdout string `json:"stdout"`

	// Stderr is the standard error output from the command.
	Stderr string `json:"stderr"`

	// ExitCode is the command's exit status.
	ExitCode int `json:"exit_code"`

	// StartedAt is when the command started executing.
	StartedAt time.Time `json:"started_at"`

	// FinishedAt is when the command finished.
	FinishedAt time.Time `json:"finished_at"`

	// Duration is the total execution time.
	Duration time.Duration `json:"duration"`
}

// TransportError represents an error from the transport layer: the target
// was unreachable, or credentials were rejected, before any command ran.
type TransportError struct {
	// Op is the operation that failed (e.g., "connect", "execute").
	Op string

	// Err is the underlying error.
	Err error

	// IsTemporary indicates if the error is temporary and can be retried.
	IsTemporary bool

	// IsAuthError indicates if the error is related to authentication.
	IsAuthError bool
}

func (e *TransportError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func (e *TransportError) Temporary() bool {
	return e.IsTemporary
}

// IsAuthFailure reports whether err is a transport authentication failure.
func IsAuthFailure(err error) bool {
	var te *TransportError
	if errors.As(err, &te) {
		return te.IsAuthError
	}
	return false
}

// IsUnavailable reports whether err is a transport-level failure that is not
// an authentication failure: the target was unreachable before any command
// ran.
func IsUnavailable(err error) bool {
	var te *TransportError
	if errors.As(err, &te) {
		return !te.IsAuthError
	}
	return false
}

// IsRetryable reports whether err is a temporary transport failure that may
// succeed on a later attempt.
func IsRetryable(err error) bool {
	var te *TransportError
	if errors.As(err, &te) {
		return te.IsTemporary
	}
	return false
}
