// Package subscription keeps a UI-facing subscription record consistent with
// a remote, fallible payment gateway.
//
// A Store owns one Record per tracked subscription id. Every change to a
// record is a versioned commit: a change is applied only if the record still
// has the version it was computed against, so late gateway responses never
// regress newer state ("last writer wins by version").
//
// # Architecture
//
//   - Record: the snapshot presentation layers render (status, last error,
//     pending checkout secret, version).
//   - Sync and Resync: single-flight status fetches with bounded retries for
//     transient gateway failures. Stale results are discarded.
//   - Renew and Cancel: optimistic transitions. The record shows StatusSyncing
//     while the gateway call runs and is rolled back with LastError set if
//     the call fails.
//   - StartCheckout, Redirect, CompleteCheckout, AbandonCheckout: the checkout
//     flow that hands a session and client secret to the provider UI.
//   - Subscription: the observable handle returned by Track.
//
// Renew, Cancel and StartCheckout are mutually exclusive per id through a
// lock.Locker. The default is in-process; lock.RedisLocker extends the
// exclusion to every process sharing the Redis instance.
//
// # Usage
//
//	gw := gateway.Instrument(stripeGateway, gateway.WithObserver(m))
//	store := subscription.NewStore(gw,
//		subscription.WithLogger(log),
//		subscription.WithMetrics(m),
//	)
//	defer store.Close()
//
//	sub, err := store.Track(ctx, "sub_1")
//	if err != nil {
//		return err
//	}
//	defer sub.Close()
//
//	for rec := range sub.Updates() {
//		render(rec.Status, rec.LastError)
//	}
//
// User actions:
//
//	rec, err := store.Cancel(ctx, "sub_1")
//	switch {
//	case errors.Is(err, subscription.ErrConflict):
//		// another renew, cancel or checkout is outstanding
//	case errors.Is(err, subscription.ErrInvalidTransition):
//		// cancel is only valid from StatusActive
//	case errors.Is(err, gateway.ErrNetwork):
//		// rec has the previous status and LastError set
//	}
//
// # Checkout
//
//	h, err := store.StartCheckout(ctx, gateway.CheckoutParams{
//		SubscriptionID: "sub_1",
//		ProductID:      "price_pro",
//		Amount:         990,
//		Currency:       "usd",
//	})
//	// pass h.SessionID and h.ClientSecret.Reveal() to the provider UI
//
// The client secret lives on the record only while the checkout awaits
// redirect. It is a logger.Secret and renders as [REDACTED] in logs, fmt
// and JSON.
//
// # Errors
//
// Gateway failures keep their *gateway.Error kind, so errors.Is works with
// gateway.ErrNetwork, gateway.ErrNotFound and friends. Every error returned
// by the store is wrapped in *OpError naming the operation and id.
// ErrCancelled means the id was evicted or the caller gave up; it is never
// surfaced on a record.
package subscription
