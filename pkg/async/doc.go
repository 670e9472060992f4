// Package async provides a small generic Future type for sharing the result of
// one asynchronous computation between many waiters.
//
// A Future is either produced by Async, which runs a function in its own
// goroutine, or by NewFuture, which hands the producer a Resolver. The second
// form backs single-flight operations: the first caller creates the future and
// every concurrent caller receives the same *Future instead of starting
// duplicate work.
//
// # Usage
//
//	f, resolve := async.NewFuture[Record]()
//	go func() {
//		resolve(fetch(ctx))
//	}()
//
//	rec, err := f.Await(ctx)
//
// Await honours the waiter's context only; abandoning a wait never cancels the
// computation, which is owned by whoever holds the Resolver.
package async
