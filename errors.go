package profileagent

import (
	"fmt"

	"github.com/riftline/profileagent/model"
)

// InvalidStateError is returned when an Agent operation is illegal for the
// lifecycle state the Agent is currently in. Backends report their own
// illegal transitions with their own error values.
type InvalidStateError struct {
	Expected []model.State
	Actual   model.State
	Op       string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("profileagent: %s illegal in state %s (expected one of %v)", e.Op, e.Actual, e.Expected)
}

func newInvalidState(op string, actual model.State, expected ...model.State) error {
	return &InvalidStateError{Op: op, Actual: actual, Expected: expected}
}

// InvalidConfigError reports a malformed Config field.
type InvalidConfigError struct {
	Field  string
	Reason string
}

func (e *InvalidConfigError) Error() string {
	return fmt.Sprintf("profileagent: invalid config field %q: %s", e.Field, e.Reason)
}

// InvalidTagError is returned when a tag key collides with a reserved key
// (empty, "__name__", or wrapped in double underscores).
type InvalidTagError struct {
	Key    string
	Reason string
}

func (e *InvalidTagError) Error() string {
	return fmt.Sprintf("profileagent: invalid tag key %q: %s", e.Key, e.Reason)
}

// TimerTerminatedError is the error kind for attaching to a Timer whose
// subscriber set has drained to zero. The internal timer's AttachListener
// reports that case with its own error value, not with this type.
type TimerTerminatedError struct{}

func (e *TimerTerminatedError) Error() string { return "profileagent: timer terminated" }

// WorkerFailedError surfaces a latent background-worker panic on the next
// lifecycle call, per the error propagation policy: panics are never
// silently swallowed.
type WorkerFailedError struct {
	Component string
	Cause     any
}

func (e *WorkerFailedError) Error() string {
	return fmt.Sprintf("profileagent: worker %q failed: %v", e.Component, e.Cause)
}

// QueueFullError is the error kind for a Session rejected by the
// SessionManager's bounded queue under a non-blocking send. The
// SessionManager itself logs and counts such a drop without constructing
// this error, and nothing surfaces it to the caller.
type QueueFullError struct{}

func (e *QueueFullError) Error() string { return "profileagent: session queue full" }

// SerializationError wraps a Report encoding failure.
type SerializationError struct {
	Reason string
	Cause  error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("profileagent: serialization failed: %s: %v", e.Reason, e.Cause)
}

func (e *SerializationError) Unwrap() error { return e.Cause }
