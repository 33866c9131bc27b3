/*
Package transport carries the worker protocol over a duplex message channel.

# Overview

Every frame is one JSON envelope (see Message). Requests carry a
monotonically increasing id; the worker answers each with a response that
echoes the id. Notifications are unsolicited and carry no id.

	host  -> worker   {"id":7,"kind":"request","name":"evaluate","params":{...}}
	worker -> host    {"id":7,"kind":"response","result":{...}}
	worker -> host    {"kind":"notification","name":"stopped","params":{...}}

# Usage

	ch, err := transport.Dial(ctx, "ws://127.0.0.1:8701/worker")
	conn := transport.New(ch, transport.Options{Logger: logger})

	raw, err := conn.Call(ctx, transport.RequestEvaluate, params)

	for n := range conn.Notifications() {
		// stopped, output, prompt, disconnected
	}

# Failure

Any read or write failure, a peer close, or Close ends the connection: every
pending call fails with an error matching ErrTransport, Done is closed and the
notification channel is closed after queued notifications are delivered.
Nothing is retried here.
*/
package transport
