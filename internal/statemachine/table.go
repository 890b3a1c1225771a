// Package statemachine provides a generic table-driven finite state machine.
//
// Transitions are keyed by (from state, event). Each transition names a target
// state and an optional handler that runs before the transition is committed.
// Tables are built at startup and sealed before use, after which they are
// safe for concurrent reads.
package statemachine

import (
	"context"
	"sync"
)

// Handler runs the work attached to a transition. A non-nil error aborts the
// transition and leaves the machine in its source state.
type Handler[S ~string, E ~string, C any] func(ctx context.Context, from, to S, event E, c C) error

// Transition is one row of a Table
type Transition[S ~string, E ~string, C any] struct {
	From    S
	Event   E
	To      S
	Handler Handler[S, E, C]
}

type transitionKey[S ~string, E ~string] struct {
	from  S
	event E
}

// Table stores transitions keyed by (From, Event)
type Table[S ~string, E ~string, C any] struct {
	mu          sync.RWMutex
	transitions map[transitionKey[S, E]]Transition[S, E, C]
	order       []transitionKey[S, E]
	sealed      bool
}

// NewTable creates an empty transition table
func NewTable[S ~string, E ~string, C any]() *Table[S, E, C] {
	return &Table[S, E, C]{
		transitions: make(map[transitionKey[S, E]]Transition[S, E, C]),
	}
}

// Add registers a transition. Registering the same (From, Event) twice is an
// error even when the target is identical.
func (t *Table[S, E, C]) Add(tr Transition[S, E, C]) error {
	if tr.From == "" || tr.To == "" || tr.Event == "" {
		return newError(CodeInvalidTransition, string(tr.From), string(tr.Event), nil)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.sealed {
		return newError(CodeTableSealed, string(tr.From), string(tr.Event), nil)
	}

	key := transitionKey[S, E]{from: tr.From, event: tr.Event}
	if existing, ok := t.transitions[key]; ok {
		return newError(CodeTransitionConflict, string(tr.From), string(tr.Event),
			conflictDetail(string(existing.To), string(tr.To)))
	}

	t.transitions[key] = tr
	t.order = append(t.order, key)
	return nil
}

// Seal makes the table read-only
func (t *Table[S, E, C]) Seal() {
	t.mu.Lock()
	t.sealed = true
	t.mu.Unlock()
}

// Sealed reports whether Seal has been called
func (t *Table[S, E, C]) Sealed() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.sealed
}

// Lookup returns the transition registered for (from, event)
func (t *Table[S, E, C]) Lookup(from S, event E) (Transition[S, E, C], bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	tr, ok := t.transitions[transitionKey[S, E]{from: from, event: event}]
	return tr, ok
}

// Events lists the events accepted in state from, in registration order
func (t *Table[S, E, C]) Events(from S) []E {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var events []E
	for _, key := range t.order {
		if key.from == from {
			events = append(events, key.event)
		}
	}
	return events
}

// All returns every transition in registration order
func (t *Table[S, E, C]) All() []Transition[S, E, C] {
	t.mu.RLock()
	defer t.mu.RUnlock()

	all := make([]Transition[S, E, C], 0, len(t.order))
	for _, key := range t.order {
		all = append(all, t.transitions[key])
	}
	return all
}

// Len returns the number of registered transitions
func (t *Table[S, E, C]) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.order)
}

type conflictError struct {
	existing, attempted string
}

func (c conflictError) Error() string {
	return "existing target " + c.existing + ", attempted " + c.attempted
}

func conflictDetail(existing, attempted string) error {
	return conflictError{existing: existing, attempted: attempted}
}
