// Package lock provides non-blocking, per-key mutual exclusion.
//
// Subscription operations that talk to the payment gateway (renew, cancel,
// checkout) hold a lease on the subscription id for the duration of the call,
// so a second operation on the same id fails fast with ErrLocked instead of
// queueing behind the first.
//
// Two implementations are provided:
//
//   - MemoryLocker: exclusion inside one process.
//   - RedisLocker: exclusion across every process sharing a Redis, using
//     SET NX with a random owner token and a compare-and-delete Lua script
//     on release.
//
// # Usage
//
//	client, err := lock.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	locker, err := lock.NewRedisLocker(client)
//
//	lease, err := locker.TryLock(ctx, "sub_123", 30*time.Second)
//	if errors.Is(err, lock.ErrLocked) {
//		// someone else is working on sub_123
//	}
//	defer lease.Release(context.WithoutCancel(ctx))
//
// Always pass a TTL to RedisLocker so a crashed holder cannot block a key forever.
package lock
