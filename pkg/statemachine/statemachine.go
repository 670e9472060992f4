package statemachine

import "sync"

// Guard vetoes a transition at fire time. All guards of a transition must pass.
type Guard[S, E comparable] func(from S, event E) bool

// Transition defines a state change triggered by an event.
type Transition[S, E comparable] struct {
	From   S
	To     S
	Event  E
	Guards []Guard[S, E]
}

// Table is an immutable set of transitions shared by any number of machines.
// Lookups use a nested map: [from][event][]Transition.
type Table[S, E comparable] struct {
	transitions map[S]map[E][]Transition[S, E]
}

func (t *Table[S, E]) add(tr Transition[S, E]) {
	if _, ok := t.transitions[tr.From]; !ok {
		t.transitions[tr.From] = make(map[E][]Transition[S, E])
	}
	// several transitions per from/event allow guard-based branching
	t.transitions[tr.From][tr.Event] = append(t.transitions[tr.From][tr.Event], tr)
}

// Next returns the state reached from `from` on `event` without changing anything.
// The first transition whose guards pass wins.
func (t *Table[S, E]) Next(from S, event E) (S, error) {
	candidates := t.transitions[from][event]
	if len(candidates) == 0 {
		var zero S
		return zero, newErrNoTransitionAvailable(from, event)
	}

	for _, tr := range candidates {
		if guardsPass(tr, from, event) {
			return tr.To, nil
		}
	}

	var zero S
	return zero, newErrTransitionRejected(from, event)
}

// Can reports whether event is accepted in state from.
func (t *Table[S, E]) Can(from S, event E) bool {
	_, err := t.Next(from, event)
	return err == nil
}

// NewMachine starts a machine over this table in the initial state.
func (t *Table[S, E]) NewMachine(initial S) *Machine[S, E] {
	return &Machine[S, E]{
		table:   t,
		initial: initial,
		current: initial,
	}
}

func guardsPass[S, E comparable](tr Transition[S, E], from S, event E) bool {
	for _, g := range tr.Guards {
		if g != nil && !g(from, event) {
			return false
		}
	}
	return true
}

// Machine tracks the current state of one entity. Safe for concurrent use.
type Machine[S, E comparable] struct {
	mu      sync.RWMutex
	table   *Table[S, E]
	initial S
	current S
}

// Current returns the current state.
func (m *Machine[S, E]) Current() S {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Fire applies event and returns the new state.
// On error the state is unchanged.
func (m *Machine[S, E]) Fire(event E) (S, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	next, err := m.table.Next(m.current, event)
	if err != nil {
		return m.current, err
	}
	m.current = next
	return next, nil
}

// Can reports whether event would be accepted in the current state.
func (m *Machine[S, E]) Can(event E) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.table.Can(m.current, event)
}

// Reset returns the machine to its initial state.
func (m *Machine[S, E]) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = m.initial
}
