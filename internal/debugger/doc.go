// Package debugger tracks the execution state of a traced session.
//
// A Tracer moves between Running, Stepping, Stopped and Detached as the
// worker reports stops and prompts. While Stopped it holds the stack as a
// list of frames ordered from the innermost call outwards; each frame can
// evaluate expressions in its own scope until execution resumes, after which
// the frame is invalid and a fresh list is captured at the next stop.
//
// Breakpoint definitions are kept in a Store so they survive Detach and are
// reapplied on the next Attach.
//
// Browse callbacks run on the session's notification goroutine. They may
// evaluate in frames but must not step or continue synchronously.
package debugger
