package bootseq

import (
	"errors"
	"fmt"
	"time"
)

const (
	// panicSignalLimit triggers when a 65th distinct signal is referenced in a Registry.
	panicSignalLimit = "reached limit of max 64 signals"

	// inProgressErrorMessage triggers when Agent.Run is called while a run is active.
	inProgressErrorMessage = "already in progress"
)

// ErrNoCapacity indicates that the Launcher could not reserve an execution context for a unit.
var ErrNoCapacity = errors.New("no execution context available")

// EmptySequenceError indicates a boot sequence without any units.
type EmptySequenceError string

// Error returns the error message for a EmptySequenceError.
func (e EmptySequenceError) Error() string {
	return fmt.Sprintf("empty boot sequence: %q", string(e))
}

// NilFuncError indicates that a unit was registered with a nil function.
type NilFuncError string

// Error returns the error message for a NilFuncError.
func (n NilFuncError) Error() string {
	return fmt.Sprintf("nil Func provided: %s", string(n))
}

// DuplicateSignalError indicates that two units would set the same signal.
type DuplicateSignalError string

// Error returns the error message for a DuplicateSignalError.
func (d DuplicateSignalError) Error() string {
	return fmt.Sprintf("signal set by more than one unit: %q", string(d))
}

// UnknownSignalError indicates a wait on a signal that no unit in the sequence produces.
type UnknownSignalError string

// Error returns the error message for a UnknownSignalError.
func (u UnknownSignalError) Error() string {
	return fmt.Sprintf("no unit sets signal: %q", string(u))
}

// InvalidConfigError indicates a Config that cannot drive a boot run.
type InvalidConfigError string

// Error returns the error message for a InvalidConfigError.
func (i InvalidConfigError) Error() string {
	return fmt.Sprintf("invalid config: %s", string(i))
}

// InvalidWaitError indicates a WaitRequest that cannot be evaluated.
type InvalidWaitError string

// Error returns the error message for a InvalidWaitError.
func (i InvalidWaitError) Error() string {
	return fmt.Sprintf("invalid wait request: %s", string(i))
}

// InvalidStateError indicates that the Agent was unable to run the boot sequence because it is already running.
type InvalidStateError string

// Error returns the error message for a InvalidStateError.
func (i InvalidStateError) Error() string {
	return fmt.Sprintf("cannot run sequence: %s", string(i))
}

// SpawnError is returned by Launcher.Spawn when a unit could not be started.
// A unit that never starts leaves its signal unset for the rest of the run.
type SpawnError struct {
	Unit string
	Err  error
}

// Error returns the error message for a SpawnError.
func (s *SpawnError) Error() string {
	return fmt.Sprintf("spawn %q: %v", s.Unit, s.Err)
}

// Unwrap returns the underlying cause.
func (s *SpawnError) Unwrap() error {
	return s.Err
}

// WaitTimeoutError is returned by WaitUntil when the condition did not hold within the timeout.
type WaitTimeoutError struct {
	Label   string
	Timeout time.Duration
}

// Error returns the error message for a WaitTimeoutError.
func (w *WaitTimeoutError) Error() string {
	return fmt.Sprintf("wait %q timed out after %s", w.Label, w.Timeout)
}

// CriticalInitError is returned by Agent.Run when a critical-path initializer failed.
type CriticalInitError struct {
	Unit string
	Err  error
}

// Error returns the error message for a CriticalInitError.
func (c *CriticalInitError) Error() string {
	return fmt.Sprintf("critical init %q failed: %v", c.Unit, c.Err)
}

// Unwrap returns the underlying cause.
func (c *CriticalInitError) Unwrap() error {
	return c.Err
}

// IsTimeout reports whether err is, or wraps, a *WaitTimeoutError.
func IsTimeout(err error) bool {
	var w *WaitTimeoutError
	return errors.As(err, &w)
}

// IsFatal reports whether err aborts a boot run.
func IsFatal(err error) bool {
	var c *CriticalInitError
	return errors.As(err, &c)
}

// Check that errors satisfy the error interface.
var _ error = EmptySequenceError("")
var _ error = NilFuncError("")
var _ error = DuplicateSignalError("")
var _ error = UnknownSignalError("")
var _ error = InvalidConfigError("")
var _ error = InvalidWaitError("")
var _ error = InvalidStateError("")
var _ error = (*SpawnError)(nil)
var _ error = (*WaitTimeoutError)(nil)
var _ error = (*CriticalInitError)(nil)
