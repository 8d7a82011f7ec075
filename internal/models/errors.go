package models

import (
	"errors"
	"fmt"
	"time"
)

// Process exit codes shared by the CLI and the pipelines.
const (
	ExitOK       = 0
	ExitFatal    = 1
	ExitUsage    = 2
	ExitPartial  = 3
	ExitLockBusy = 4
)

// ErrLockBusy is the sentinel matched by errors.Is for any LockBusyError.
var ErrLockBusy = errors.New("writer lock is held by another process")

// LockBusyError reports a live writer-lock holder.
type LockBusyError struct {
	Owner       string
	PID         int
	Command     string
	Host        string
	HeartbeatAt time.Time
}

func (e *LockBusyError) Error() string {
	return fmt.Sprintf("writer lock is held by %s (pid %d, %s)", e.Owner, e.PID, e.Command)
}

func (e *LockBusyError) Is(target error) bool { return target == ErrLockBusy }

// BoundaryError reports a tool path that resolved outside its allowed roots.
// Jobs are not retried for this kind: it is a logic bug in the caller, not a
// transient condition.
type BoundaryError struct {
	Op   string
	Path string
}

func (e *BoundaryError) Error() string {
	return fmt.Sprintf("access denied: %s path %q is outside the allowed roots", e.Op, e.Path)
}

// ArtifactError reports a missing or contract-violating run artifact.
type ArtifactError struct {
	Artifact string
	Reason   string
	Missing  bool
}

func (e *ArtifactError) Error() string {
	if e.Missing {
		return fmt.Sprintf("artifact missing: %s", e.Artifact)
	}
	return fmt.Sprintf("artifact invalid: %s: %s", e.Artifact, e.Reason)
}

// AdapterError wraps a per-platform enumeration failure. Discovery logs it
// and continues with the remaining platforms.
type AdapterError struct {
	Platform string
	Err      error
}

func (e *AdapterError) Error() string {
	return fmt.Sprintf("adapter %s: %v", e.Platform, e.Err)
}

func (e *AdapterError) Unwrap() error { return e.Err }

// PipelineError wraps an LLM-stage failure: the call raised, the subprocess
// exited non-zero, or its output could not be parsed. Jobs failing with this
// kind retry with backoff until max attempts.
type PipelineError struct {
	Stage string
	Err   error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("pipeline %s: %v", e.Stage, e.Err)
}

func (e *PipelineError) Unwrap() error { return e.Err }

// ConfigError reports a layered-config value that could not be folded to a
// usable default.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %s: %s", e.Field, e.Reason)
}

// ExitError carries a process exit code alongside the underlying error.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("exit code %d", e.Code)
}

func (e *ExitError) Unwrap() error { return e.Err }

// NewExitError wraps err with an explicit exit code.
func NewExitError(code int, err error) *ExitError {
	return &ExitError{Code: code, Err: err}
}

// ExitCode maps an error to the process exit code. Usage errors are mapped
// by the CLI layer before reaching here.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var ee *ExitError
	if errors.As(err, &ee) {
		return ee.Code
	}
	if errors.Is(err, ErrLockBusy) {
		return ExitLockBusy
	}
	return ExitFatal
}
