package realtime

import (
	"errors"
	"fmt"
)

var (
	ErrDisconnected   = errors.New("realtime: disconnected")
	ErrToolNotFound   = errors.New("realtime: tool not found")
	ErrToolExists     = errors.New("realtime: tool already added")
	ErrInvalidTool    = errors.New("realtime: invalid tool")
	ErrCannotCancel   = errors.New("realtime: item cannot be cancelled")
	ErrNoAudioContent = errors.New("realtime: item has no audio content")
)

// ToolExecutionError wraps a failure while running a tool call. It is never
// returned to callers; its message becomes the error output sent to the
// peer.
type ToolExecutionError struct {
	Tool   string
	CallID string
	Err    error
}

func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("tool %q: %v", e.Tool, e.Err)
}

func (e *ToolExecutionError) Unwrap() error {
	return e.Err
}
