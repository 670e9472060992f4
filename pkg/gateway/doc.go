// Package gateway is the boundary between the subscription controllers and the
// external payment provider.
//
// The Gateway interface has four calls: FetchStatus, CreateCheckoutSession,
// Renew and Cancel. Each adapter translates provider statuses to the three live
// states (active, inactive, canceled) and every provider error shape to a
// single *Error carrying a Kind from a closed set:
//
//   - KindNetwork: transient transport or provider failure (retryable)
//   - KindRateLimited: provider throttling (retryable with backoff)
//   - KindNotFound: the id is unknown to the provider (terminal)
//   - KindInvalidRequest: a caller bug (terminal)
//
// Callers switch on KindOf(err) or errors.Is(err, ErrNotFound) and never probe
// SDK types.
//
// # Adapters
//
//   - HTTPGateway: the billing REST API, bearer auth via oauth2.TokenSource,
//     optional client-side rate limiting and circuit breaking.
//   - StripeGateway: stripe-go subscriptions and embedded Checkout Sessions.
//   - PaddleGateway: Paddle Billing subscriptions and transactions.
//   - Instrumented: decorator adding slog logging and an Observer hook.
//
// # Idempotency
//
// Mutating calls forward the key attached with WithIdempotencyKey. Controllers
// build it with IdempotencyKey(op, id, version) so a retried transition reuses
// the same key:
//
//	ctx = gateway.WithIdempotencyKey(ctx, gateway.IdempotencyKey(gateway.OpRenew, id, rec.Version))
//	res, err := gw.Renew(ctx, id)
//
// Client secrets are carried as logger.Secret and render as [REDACTED].
package gateway
