package executor

import (
	"errors"
	"fmt"
)

var ErrClosed = errors.New("executor closed")

// ExecError reports a failed guest invocation: a trap, a non-zero WASI exit
// or a missing export.
type ExecError struct {
	Export   string
	ExitCode uint32
	Err      error
}

func (e *ExecError) Error() string {
	if e.ExitCode != 0 {
		return fmt.Sprintf("%s exited with code %d", e.Export, e.ExitCode)
	}
	return fmt.Sprintf("%s: %v", e.Export, e.Err)
}

func (e *ExecError) Unwrap() error {
	return e.Err
}
