package model

import (
	"errors"
	"fmt"
)

// Error sentinels. Wrapped errors are tested with errors.Is.
var (
	// ErrConfig is returned when settings or the destination are unusable
	ErrConfig = errors.New("configuration error")
	// ErrToolInvocation is returned when a fetch tool could not be started
	ErrToolInvocation = errors.New("tool invocation failed")
	// ErrToolFailure is returned when a fetch tool ran but reported failure
	ErrToolFailure = errors.New("tool reported failure")
	// ErrNoCredentials is returned when no credential profile is usable
	ErrNoCredentials = errors.New("no usable browser cookies found")
	// ErrPlacement is returned when a file could not be moved into place
	ErrPlacement = errors.New("file placement failed")
	// ErrNotFound is returned by stores for unknown job ids
	ErrNotFound = errors.New("job not found")
)

// ToolError carries the captured output of a failed tool run
type ToolError struct {
	Tool   string
	Output string
	Err    error
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("%s: %v", e.Tool, e.Err)
}

func (e *ToolError) Unwrap() error {
	return e.Err
}
