package dispatch

import (
	"errors"
	"fmt"
)

// Process exit codes. The scripts-folder code is distinct so shell
// wrappers can tell "nothing to run" from a crashed run.
const (
	CodeFatal     = 1
	CodeNoScripts = 2
)

// ExitError is a condition the dispatcher cannot recover from, carrying
// the process exit code for main to use.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string { return e.Err.Error() }

func (e *ExitError) Unwrap() error { return e.Err }

// NoScripts builds the exit error for a scripts folder that is missing,
// unreadable, or empty.
func NoScripts(root string, err error) *ExitError {
	if err != nil {
		return &ExitError{Code: CodeNoScripts, Err: fmt.Errorf("scripts folder %s: %w", root, err)}
	}
	return &ExitError{Code: CodeNoScripts, Err: errors.New("no scripts in " + root)}
}
