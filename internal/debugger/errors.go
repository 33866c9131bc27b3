package debugger

import "errors"

var (
	// ErrDetached is returned by operations on a detached tracer
	ErrDetached = errors.New("tracer detached")
	// ErrNotStopped is returned by step operations while the code is running
	ErrNotStopped = errors.New("not stopped")
	// ErrFrameInvalidated is returned by a frame whose stop has ended
	ErrFrameInvalidated = errors.New("frame invalidated; execution has resumed")
)
