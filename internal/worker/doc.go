/*
Package worker is the reference worker: a JavaScript interpreter (goja)
that speaks the host protocol. It stands in for the statistical language
runtime in tests and demos; it does not emulate that language.

# Threads

One interpreter goroutine owns the VM and serves evaluation-class requests
(evaluate, interact, children, set_value) from a queue. The connection
reader answers control requests (trace, breakpoints, break, cancel,
shutdown) itself, so they take effect while code is running.

# Debugging

Global functions are wrapped after every top-level run so calls maintain a
shadow stack. A stop (breakpoint, step, break request or browser()) runs a
nested browse loop on the interpreter goroutine:

	stopped notification  ->  prompt notification  ->  reply to the pending interact/step
	serve evaluate, children, set_value and interact in the stopped frames
	return on step or continue; the resumed request is answered at the next prompt

Frame environments hold the function's arguments by parameter name; locals
declared inside the function body are not visible.

Console input while browsing accepts c (continue), n (step over), s (step
into), f (step out) and Q (quit to top level).
*/
package worker
