/*
Package session owns worker connections.

# Overview

A Session is the single authority over one worker's input. Evaluation and
interaction both require a token, and tokens are granted one at a time in
arrival order:

	tok, err := sess.BeginEvaluation(ctx)
	if err != nil {
		return err
	}
	defer tok.Release()

	result, err := tok.Describe(ctx, "x", session.DescribeOptions{})

Release is idempotent, so deferring it is always safe. Status queries
(State, IsRunning, ProcessID) never wait for a token. Debugger control
requests go through Control and do not take a token either.

# Lifecycle

	Disconnected --Start--> Connecting --ready--> Running --Stop--> Stopping --> Disconnected
	                                                 |
	                                            connection lost
	                                                 v
	                                           Disconnected (terminal)

Losing the connection fails every pending request and every token waiter
with ErrDisconnected and fires OnDisconnected exactly once. A session that
has disconnected cannot be restarted; Provider.GetOrCreate replaces it.

# Errors

	*InterpreterError    raw evaluation raised an error (described evaluation returns *inspect.Error instead)
	ErrDisconnected      the worker went away; also matches transport.ErrTransport
	ErrCancelled         the caller cancelled; also matches context.Canceled
	ErrTimeout           start or evaluation timed out
	*StartupError        the worker did not become ready
*/
package session
