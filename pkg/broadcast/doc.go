// Package broadcast provides a type-safe, latest-value observable.
//
// A Topic holds the most recent value of T and fans it out to any number of
// subscribers. Each subscriber channel has room for one value; when a new value
// arrives before the previous one was read, the old one is replaced. Consumers
// that only render current state, such as a UI watching a subscription record,
// never see a backlog and never slow the publisher down.
//
// Basic usage:
//
//	topic := broadcast.NewTopicWithValue(record)
//	defer topic.Close()
//
//	sub := topic.Subscribe(ctx) // receives the current value immediately
//	defer sub.Close()
//
//	_ = topic.Publish(updated)
//
//	for rec := range sub.C() {
//		render(rec)
//	}
//
// Subscriptions are cleaned up when:
//   - the subscription's context is cancelled
//   - Close is called on the subscription
//   - the topic is closed
package broadcast
