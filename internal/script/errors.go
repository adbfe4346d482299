package script

import "fmt"

// CompileError means the source failed to parse or compile. The script
// never reached its run phase.
type CompileError struct {
	Script string
	Detail string
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("compile %s: %s", e.Script, e.Detail)
}

// RunError means the script compiled but its top-level execution
// failed. Like a compile error, it is recoverable by editing the file.
type RunError struct {
	Script string
	Detail string
}

func (e *RunError) Error() string {
	return fmt.Sprintf("run %s: %s", e.Script, e.Detail)
}

// CallError means the listener was invoked and raised a runtime error.
// Recoverable: the dispatcher enters the fix protocol and replays the
// message after a successful reload.
type CallError struct {
	Script string
	Detail string
}

func (e *CallError) Error() string {
	return fmt.Sprintf("call %s: %s", e.Script, e.Detail)
}

// ListenerError means the listener is absent or not callable. This is a
// structural problem with the script, not a runtime failure: it is
// reported once per occurrence and the triggering message is dropped,
// with no retry protocol entered.
type ListenerError struct {
	Script string
	Detail string
}

func (e *ListenerError) Error() string {
	return fmt.Sprintf("%s: %s", e.Script, e.Detail)
}
