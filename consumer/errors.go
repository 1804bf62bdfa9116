package consumer

import "fmt"

// ErrEventDecode marks a message whose payload could not be decoded into an
// event. Decode failures are deterministic, so these are sent to the DLQ
// without retry.
type ErrEventDecode struct {
	Err error
}

func (e ErrEventDecode) Error() string { return fmt.Sprintf("event decode: %s", e.Err) }
func (e ErrEventDecode) Unwrap() error { return e.Err }

// ErrEvaluationTimeout marks an event whose ruleset evaluation exceeded its
// per-event deadline.
type ErrEvaluationTimeout struct {
	Deadline string
}

func (e ErrEvaluationTimeout) Error() string {
	return fmt.Sprintf("evaluation exceeded deadline of %s", e.Deadline)
}

// ErrSinkWrite marks a failure writing to the egress Sink, retried per
// RetryPolicy before falling through to the DLQ.
type ErrSinkWrite struct {
	Err error
}

func (e ErrSinkWrite) Error() string { return fmt.Sprintf("sink write: %s", e.Err) }
func (e ErrSinkWrite) Unwrap() error { return e.Err }

// ErrBrokerTransient marks a Source/Sink error judged retryable (timeouts,
// connection resets).
type ErrBrokerTransient struct {
	Err error
}

func (e ErrBrokerTransient) Error() string { return fmt.Sprintf("transient broker error: %s", e.Err) }
func (e ErrBrokerTransient) Unwrap() error { return e.Err }

// ErrBrokerFatal marks a Source/Sink error judged unrecoverable, causing the
// pipeline to stop rather than retry indefinitely.
type ErrBrokerFatal struct {
	Err error
}

func (e ErrBrokerFatal) Error() string { return fmt.Sprintf("fatal broker error: %s", e.Err) }
func (e ErrBrokerFatal) Unwrap() error { return e.Err }
