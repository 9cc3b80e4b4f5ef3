package graph

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrNoSuchTask        = errors.New("no such task")
	ErrLoopDetected      = errors.New("loop detected")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// LoopError reports a dependency cycle. Path starts and ends with the same task.
type LoopError struct {
	Path []*Task
}

func (e *LoopError) Error() string {
	names := make([]string, 0, len(e.Path))
	for _, task := range e.Path {
		names = append(names, task.String())
	}
	return fmt.Sprintf("%s: %s", ErrLoopDetected, strings.Join(names, " -> "))
}

func (e *LoopError) Unwrap() error { return ErrLoopDetected }
