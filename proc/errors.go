package proc

import "fmt"

// InvalidArgumentError reports an unsupported input chunk, a missing
// placeholder value in a command template, or a mode unsupported on the
// current platform.
type InvalidArgumentError struct {
	Msg string
}

func (e *InvalidArgumentError) Error() string { return e.Msg }

func invalidArgument(format string, args ...interface{}) error {
	return &InvalidArgumentError{Msg: fmt.Sprintf(format, args...)}
}

// LogicError reports an operation that is illegal given the Supervisor's
// current state, such as calling Wait before Start, or accessing buffered
// output when the mode is ModeOutputDisabled.
type LogicError struct {
	Msg string
}

func (e *LogicError) Error() string { return e.Msg }

func logicError(format string, args ...interface{}) error {
	return &LogicError{Msg: fmt.Sprintf(format, args...)}
}

// RuntimeError reports a spawn failure, a pipe-open failure, a signal
// delivery failure, or an unexpected signal termination.
type RuntimeError struct {
	Msg string
	Err error
}

func (e *RuntimeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *RuntimeError) Unwrap() error { return e.Err }

func runtimeError(msg string, err error) error {
	return &RuntimeError{Msg: msg, Err: err}
}

// TimeoutError reports that the total wall-clock timeout elapsed before the
// child exited.
type TimeoutError struct {
	Timeout float64
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("process timed out after %.3fs", e.Timeout)
}

// IdleTimeoutError reports that no output was observed for longer than the
// idle timeout before the child exited.
type IdleTimeoutError struct {
	IdleTimeout float64
}

func (e *IdleTimeoutError) Error() string {
	return fmt.Sprintf("process idle timed out after %.3fs with no output", e.IdleTimeout)
}

// SpawnCapabilityError reports that the host is missing one of the OS
// primitives (open-with-descriptors, poll-status, terminate, close) this
// package's spawn contract requires.
type SpawnCapabilityError struct {
	Primitive string
}

func (e *SpawnCapabilityError) Error() string {
	return fmt.Sprintf("host is missing required spawn primitive %q", e.Primitive)
}

// Event represents something that happened during the lifetime of a
// supervised process (see WithEventHandler for which occurrences emit
// one). Host applications wire an EventHandler to plug in their own
// structured logging; this package never logs directly.
type Event struct {
	Command string
	Msg     string
	Err     error
	Context map[string]interface{}
}

// EventHandler receives Events as they occur. The zero handler discards
// everything.
type EventHandler func(e *Event)

var emptyEventHandler EventHandler = func(e *Event) {}
