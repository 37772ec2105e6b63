// Package resilience holds the fault-tolerance primitives regd uses at its
// edges: Retry for discovery clients talking to a registry, CircuitBreaker
// for skipping a registry endpoint that keeps failing, and RateLimiter /
// KeyedRateLimiter for throttling HTTP callers.
//
//	cb := resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig("http://reg-1:8761"))
//	err := resilience.RetryFunc(ctx, resilience.DefaultRetryConfig(), func() error {
//	    return cb.Execute(func() error { return client.renew(ctx) })
//	})
package resilience
