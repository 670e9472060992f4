// Package retry provides the retry building blocks used around gateway calls:
// backoff strategies, a cancellable wait and a circuit breaker.
//
// ExponentialBackoff defaults to 500ms, doubling, capped at 4s, without jitter,
// which is the schedule the subscription sync loop uses between transient
// gateway failures:
//
//	b := retry.DefaultStrategy()
//	for attempt := 1; attempt <= maxRetries; attempt++ {
//		if err := retry.Wait(ctx, b.NextInterval(attempt)); err != nil {
//			return err // cancelled, timer already stopped
//		}
//		// ...
//	}
//
// CircuitBreaker guards a remote endpoint. Call Allow before each request and
// report the outcome with RecordSuccess or RecordFailure.
package retry
