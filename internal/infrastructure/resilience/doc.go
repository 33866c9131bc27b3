/*
Package resilience provides the start breaker that guards worker launches.

# Overview

A worker that fails to start tends to keep failing (missing binary, bad
arguments, port exhaustion). The breaker stops the provider from relaunching
such a worker on every request.

# Usage

	breaker := resilience.New("worker-start", resilience.Settings{
		Threshold: 3,
		Cooldown:  10 * time.Second,
	})

	err := breaker.Execute(func() error {
		return sess.Start(ctx, info, timeout)
	})
	if errors.Is(err, resilience.ErrOpen) {
		// fail fast, retry later
	}

# States

	Closed --[Threshold failures]-> Open --[Cooldown]-> Half-Open --[success]-> Closed
	                                                        |
	                                                    [failure]
	                                                        v
	                                                      Open
*/
package resilience
