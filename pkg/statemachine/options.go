package statemachine

import "fmt"

// Option adds transitions to a Table during construction.
type Option[S, E comparable] func(*Table[S, E]) error

// NewTable builds a transition table from options.
func NewTable[S, E comparable](opts ...Option[S, E]) (*Table[S, E], error) {
	t := &Table[S, E]{transitions: make(map[S]map[E][]Transition[S, E])}

	for _, opt := range opts {
		if err := opt(t); err != nil {
			return nil, err
		}
	}

	return t, nil
}

// MustNewTable is like NewTable but panics on error.
// Tables are usually package-level definitions, so a bad one should stop startup.
func MustNewTable[S, E comparable](opts ...Option[S, E]) *Table[S, E] {
	t, err := NewTable(opts...)
	if err != nil {
		panic(fmt.Sprintf("failed to create transition table: %v", err))
	}
	return t
}

// WithTransition adds a single transition.
func WithTransition[S, E comparable](from, to S, event E, guards ...Guard[S, E]) Option[S, E] {
	return func(t *Table[S, E]) error {
		t.add(Transition[S, E]{From: from, To: to, Event: event, Guards: compact(guards)})
		return nil
	}
}

// WithTransitionFrom adds the same transition from each of the given states.
func WithTransitionFrom[S, E comparable](to S, event E, from ...S) Option[S, E] {
	return func(t *Table[S, E]) error {
		if len(from) == 0 {
			return fmt.Errorf("%w: %v has no source states", ErrInvalidTransition, event)
		}
		for _, f := range from {
			t.add(Transition[S, E]{From: f, To: to, Event: event})
		}
		return nil
	}
}

// WithTransitions adds predefined transitions.
func WithTransitions[S, E comparable](transitions ...Transition[S, E]) Option[S, E] {
	return func(t *Table[S, E]) error {
		for _, tr := range transitions {
			tr.Guards = compact(tr.Guards)
			t.add(tr)
		}
		return nil
	}
}

func compact[S, E comparable](guards []Guard[S, E]) []Guard[S, E] {
	out := guards[:0:0]
	for _, g := range guards {
		if g != nil {
			out = append(out, g)
		}
	}
	return out
}
