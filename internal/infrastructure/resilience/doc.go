/*
Package resilience provides the failure-handling primitives used around the
sandboxing engine.

# Circuit breaker

Breaker is a three-state (closed, open, half-open) circuit breaker. The engine
HTTP client runs every call through one so a dead engine fails fast instead of
holding request goroutines for a full timeout.

	breaker := resilience.New("engine", resilience.Settings{
		MaxRequests: 3,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts resilience.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	pkgs, err := resilience.Do(breaker, func() ([]types.InstalledPackage, error) {
		return client.list(ctx, profileID)
	})

	Closed --[failures]-> Open --[timeout]-> Half-Open --[successes]-> Closed
	                                           |
	                                       [failure]
	                                           v
	                                         Open

# Retry policy

RetryPolicy is a bounded attempt schedule whose delay depends on how the
previous attempt failed. The inventory loader uses it with three attempts,
100ms after an absent engine answer and 200ms after an engine error:

	policy := resilience.RetryPolicy{
		MaxAttempts: 3,
		Backoff: resilience.FixedBackoff(isAbsent, 100*time.Millisecond, 200*time.Millisecond),
	}
	pkgs, attempts, err := resilience.Retry(ctx, policy, fetch)
*/
package resilience
