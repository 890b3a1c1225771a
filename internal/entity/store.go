package entity

import (
	"fmt"
)

// Store holds the entities of one conversation in creation order.
// Store is not safe for concurrent use; Resolver serialises access to it.
type Store struct {
	entities map[string]*Entity
	order    []string
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{entities: make(map[string]*Entity)}
}

// Add inserts a new entity. The key must be unused and the alias list must
// contain the canonical form.
func (s *Store) Add(e *Entity) error {
	if err := validate(e); err != nil {
		return err
	}
	if _, exists := s.entities[e.Key]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateKey, e.Key)
	}
	s.entities[e.Key] = e
	s.order = append(s.order, e.Key)
	return nil
}

// Get returns the live entity for key
func (s *Store) Get(key string) (*Entity, bool) {
	e, ok := s.entities[key]
	return e, ok
}

// Has reports whether key is in use
func (s *Store) Has(key string) bool {
	_, ok := s.entities[key]
	return ok
}

// Len returns the number of entities
func (s *Store) Len() int {
	return len(s.order)
}

// Each calls fn for every entity in creation order until fn returns false
func (s *Store) Each(fn func(e *Entity) bool) {
	for _, key := range s.order {
		if !fn(s.entities[key]) {
			return
		}
	}
}

// Entities returns copies of all entities in creation order
func (s *Store) Entities() []Entity {
	out := make([]Entity, 0, len(s.order))
	for _, key := range s.order {
		out = append(out, s.entities[key].clone())
	}
	return out
}

// Snapshot is a serialisable copy of a Store
type Snapshot struct {
	Entities []Entity `json:"entities"`
}

// Snapshot copies the store
func (s *Store) Snapshot() Snapshot {
	return Snapshot{Entities: s.Entities()}
}

// RestoreStore rebuilds a store from a snapshot, checking every invariant
func RestoreStore(snap Snapshot) (*Store, error) {
	store := NewStore()
	for i := range snap.Entities {
		e := snap.Entities[i].clone()
		if err := store.Add(&e); err != nil {
			return nil, fmt.Errorf("failed to restore entity %d: %w", i, err)
		}
	}
	return store, nil
}

func validate(e *Entity) error {
	switch {
	case e == nil:
		return fmt.Errorf("%w: nil entity", ErrInvalidEntity)
	case e.Key == "":
		return fmt.Errorf("%w: empty key", ErrInvalidEntity)
	case e.Canonical == "":
		return fmt.Errorf("%w: empty canonical for %s", ErrInvalidEntity, e.Key)
	case !e.HasAlias(e.Canonical):
		return fmt.Errorf("%w: canonical of %s missing from aliases", ErrInvalidEntity, e.Key)
	}
	return nil
}
