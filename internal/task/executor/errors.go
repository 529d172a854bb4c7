package executor

import (
	"errors"
	"fmt"
)

var (
	ErrStopped         = errors.New("executor stopped")
	ErrInvalidInterval = errors.New("executor: interval must be > 0")
	ErrNilFunc         = errors.New("executor: nil callback")

	// ErrReentrant is returned by Shutdown when called from a callback running on
	// the executor itself. Termination is still requested; waiting is skipped
	// since the caller is the goroutine being waited for.
	ErrReentrant = errors.New("executor: shutdown wait called from its own context")
)

// PanicError describes a panic recovered from a callback.
type PanicError struct {
	Task  string
	Value any
	Stack string
}

func (e *PanicError) Error() string { return fmt.Sprintf("panic in %s: %v", e.Task, e.Value) }

// Unwrap returns the panic value when it is an error.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}
