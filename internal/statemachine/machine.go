package statemachine

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Machine executes transitions from a Table. It holds no current state of its
// own; callers pass the state they are in and receive the state they move to,
// so one Machine can drive any number of concurrent requests.
type Machine[S ~string, E ~string, C any] struct {
	table  *Table[S, E, C]
	logger *zap.Logger
}

// New creates a machine over table. A nil logger disables logging.
func New[S ~string, E ~string, C any](table *Table[S, E, C], logger *zap.Logger) *Machine[S, E, C] {
	if table == nil {
		table = NewTable[S, E, C]()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Machine[S, E, C]{table: table, logger: logger}
}

// AddTransition registers a transition on the underlying table
func (m *Machine[S, E, C]) AddTransition(from S, event E, to S, handler Handler[S, E, C]) error {
	return m.table.Add(Transition[S, E, C]{From: from, Event: event, To: to, Handler: handler})
}

// Seal freezes the underlying table
func (m *Machine[S, E, C]) Seal() {
	m.table.Seal()
}

// Table returns the underlying transition table
func (m *Machine[S, E, C]) Table() *Table[S, E, C] {
	return m.table
}

// CanTrigger reports whether event is accepted in state from
func (m *Machine[S, E, C]) CanTrigger(from S, event E) bool {
	_, ok := m.table.Lookup(from, event)
	return ok
}

// ValidEvents lists the events accepted in state from
func (m *Machine[S, E, C]) ValidEvents(from S) []E {
	return m.table.Events(from)
}

// Trigger fires event from state from. On success it returns the target
// state. On failure it returns from together with an *Error; the handler is
// not run when the transition is missing.
func (m *Machine[S, E, C]) Trigger(ctx context.Context, from S, event E, c C) (S, error) {
	tr, ok := m.table.Lookup(from, event)
	if !ok {
		m.logger.Error("Transition not allowed",
			zap.String("from", string(from)),
			zap.String("event", string(event)),
			zap.Any("valid_events", m.table.Events(from)),
		)
		return from, newError(CodeTransitionNotAllowed, string(from), string(event), nil)
	}

	if tr.Handler != nil {
		if err := runHandler(ctx, tr, c); err != nil {
			m.logger.Warn("Transition handler failed",
				zap.String("from", string(from)),
				zap.String("event", string(event)),
				zap.String("to", string(tr.To)),
				zap.Error(err),
			)
			return from, newError(CodeHandlerError, string(from), string(event), err)
		}
	}

	m.logger.Debug("Transition committed",
		zap.String("from", string(from)),
		zap.String("event", string(event)),
		zap.String("to", string(tr.To)),
	)
	return tr.To, nil
}

func runHandler[S ~string, E ~string, C any](ctx context.Context, tr Transition[S, E, C], c C) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return tr.Handler(ctx, tr.From, tr.To, tr.Event, c)
}
