package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/raaihank/sentinel-chat/internal/entity"
)

// ErrNotFound is returned by Load when a session has no stored snapshot
var ErrNotFound = errors.New("session not found")

// Repository persists entity store snapshots between turns
type Repository interface {
	Load(ctx context.Context, id string) (entity.Snapshot, error)
	Save(ctx context.Context, id string, snap entity.Snapshot, ttl time.Duration) error
	Delete(ctx context.Context, id string) error
	Close() error
}

type memoryRecord struct {
	snap    entity.Snapshot
	expires time.Time
}

// MemoryRepository keeps snapshots in process memory
type MemoryRepository struct {
	mu      sync.Mutex
	records map[string]memoryRecord
	now     func() time.Time
}

// NewMemoryRepository creates an empty in-memory repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{records: make(map[string]memoryRecord), now: time.Now}
}

func (m *MemoryRepository) Load(ctx context.Context, id string) (entity.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[id]
	if !ok {
		return entity.Snapshot{}, ErrNotFound
	}
	if !rec.expires.IsZero() && m.now().After(rec.expires) {
		delete(m.records, id)
		return entity.Snapshot{}, ErrNotFound
	}
	return rec.snap, nil
}

func (m *MemoryRepository) Save(ctx context.Context, id string, snap entity.Snapshot, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec := memoryRecord{snap: snap}
	if ttl > 0 {
		rec.expires = m.now().Add(ttl)
	}
	m.records[id] = rec
	return nil
}

func (m *MemoryRepository) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, id)
	return nil
}

func (m *MemoryRepository) Close() error {
	return nil
}
