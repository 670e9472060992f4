// Package statemachine provides small, typed finite state machines.
//
// A Table holds the transitions, keyed by any comparable state and event types,
// and is shared by many Machines, one per tracked entity. The subscription
// package uses it for the lifecycle precondition table (which statuses accept
// renew or cancel), the per-id sync state and the checkout flow.
//
// # Usage
//
//	type State string
//	type Event string
//
//	var checkout = statemachine.MustNewTable(
//		statemachine.WithTransition[State, Event]("idle", "creating", "start"),
//		statemachine.WithTransition[State, Event]("creating", "awaiting", "created"),
//	)
//
//	m := checkout.NewMachine("idle")
//	if _, err := m.Fire("start"); err != nil {
//		// statemachine.IsNoTransitionAvailableError(err)
//	}
//
// Table.Next answers "where would this event lead" without a machine, which is
// how precondition checks are done against a status stored elsewhere.
//
// # Guards
//
// Guards veto a transition at fire time. When several transitions share a
// from/event pair the first one whose guards pass wins; if all are vetoed the
// error is ErrTransitionRejected.
//
// # Concurrency
//
// Tables are read-only after construction. Machine guards its state with a
// RWMutex.
package statemachine
