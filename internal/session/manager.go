// Package session scopes entity stores to conversations. Each session id owns
// one entity.Resolver, kept in memory while active and optionally persisted
// between turns.
package session

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/raaihank/sentinel-chat/internal/entity"
)

// ErrInvalidID is returned for session ids outside the accepted format
var ErrInvalidID = errors.New("invalid session id")

var idPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)

// ValidID reports whether id may name a session
func ValidID(id string) bool {
	return idPattern.MatchString(id)
}

// Config controls session lifetime
type Config struct {
	TTL             time.Duration `yaml:"ttl" mapstructure:"ttl"`
	JanitorInterval time.Duration `yaml:"janitor_interval" mapstructure:"janitor_interval"`
}

// Factory builds an empty resolver for a new session
type Factory func() *entity.Resolver

type entry struct {
	resolver *entity.Resolver
	lastUsed time.Time
}

// Manager hands out one resolver per session id
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*entry
	factory  Factory
	repo     Repository
	config   Config
	logger   *zap.Logger
	now      func() time.Time

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewManager creates a manager. repo may be nil, in which case sessions live
// only in memory.
func NewManager(config Config, factory Factory, repo Repository, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		sessions: make(map[string]*entry),
		factory:  factory,
		repo:     repo,
		config:   config,
		logger:   logger,
		now:      time.Now,
	}
}

// Acquire returns the resolver for id, restoring it from the repository when
// it is not active. An empty id starts a new session. An id the server does
// not know (never issued, expired or evicted from the repository) is not
// adopted: a new session is started under a fresh id, which is returned.
func (m *Manager) Acquire(ctx context.Context, id string) (string, *entity.Resolver, error) {
	if id == "" {
		id, r := m.create()
		return id, r, nil
	}
	if !ValidID(id) {
		return "", nil, fmt.Errorf("%w: %q", ErrInvalidID, id)
	}

	m.mu.Lock()
	if e, ok := m.sessions[id]; ok {
		if !m.expired(e) {
			e.lastUsed = m.now()
			m.mu.Unlock()
			return id, e.resolver, nil
		}
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	r, found := m.load(ctx, id)
	if !found {
		fresh, r := m.create()
		m.logger.Info("Unknown session id replaced",
			zap.String("requested_session_id", id),
			zap.String("session_id", fresh))
		return fresh, r, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.sessions[id]; ok && !m.expired(e) {
		e.lastUsed = m.now()
		return id, e.resolver, nil
	}
	m.sessions[id] = &entry{resolver: r, lastUsed: m.now()}
	return id, r, nil
}

// create registers an empty session under a new id
func (m *Manager) create() (string, *entity.Resolver) {
	id := uuid.NewString()
	r := m.factory()
	m.mu.Lock()
	m.sessions[id] = &entry{resolver: r, lastUsed: m.now()}
	m.mu.Unlock()
	m.logger.Debug("Session created", zap.String("session_id", id))
	return id, r
}

// load restores id from the repository. It reports false when no usable
// snapshot exists.
func (m *Manager) load(ctx context.Context, id string) (*entity.Resolver, bool) {
	if m.repo == nil {
		return nil, false
	}

	snap, err := m.repo.Load(ctx, id)
	switch {
	case errors.Is(err, ErrNotFound):
		return nil, false
	case err != nil:
		m.logger.Warn("Session repository unavailable, starting a new session",
			zap.String("session_id", id), zap.Error(err))
		return nil, false
	}

	r := m.factory()
	if err := r.Restore(snap); err != nil {
		m.logger.Warn("Discarding invalid session snapshot",
			zap.String("session_id", id), zap.Error(err))
		return nil, false
	}
	m.logger.Debug("Session restored",
		zap.String("session_id", id),
		zap.Int("entities", len(snap.Entities)))
	return r, true
}

// Release marks the end of a turn and persists the resolver's store
func (m *Manager) Release(ctx context.Context, id string, r *entity.Resolver) error {
	m.mu.Lock()
	if e, ok := m.sessions[id]; ok {
		e.lastUsed = m.now()
	}
	m.mu.Unlock()

	if m.repo == nil || r == nil {
		return nil
	}
	if err := m.repo.Save(ctx, id, r.Snapshot(), m.config.TTL); err != nil {
		return fmt.Errorf("failed to persist session %s: %w", id, err)
	}
	return nil
}

// Delete discards a session and its stored snapshot
func (m *Manager) Delete(ctx context.Context, id string) error {
	if !ValidID(id) {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()

	if m.repo != nil {
		if err := m.repo.Delete(ctx, id); err != nil {
			return err
		}
	}
	m.logger.Info("Session deleted", zap.String("session_id", id))
	return nil
}

// Len returns the number of active sessions
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *Manager) expired(e *entry) bool {
	return m.config.TTL > 0 && m.now().Sub(e.lastUsed) > m.config.TTL
}

// EvictExpired drops sessions idle for longer than the TTL and returns how
// many were removed. Persisted snapshots expire on their own.
func (m *Manager) EvictExpired() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for id, e := range m.sessions {
		if m.expired(e) {
			delete(m.sessions, id)
			n++
		}
	}
	return n
}

// Start runs the janitor until Close
func (m *Manager) Start() {
	if m.config.TTL <= 0 || m.stop != nil {
		return
	}
	interval := m.config.JanitorInterval
	if interval <= 0 {
		interval = m.config.TTL / 2
	}
	m.stop = make(chan struct{})

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if n := m.EvictExpired(); n > 0 {
					m.logger.Info("Expired idle sessions", zap.Int("evicted", n), zap.Int("active", m.Len()))
				}
			case <-m.stop:
				return
			}
		}
	}()
}

// Close stops the janitor and closes the repository
func (m *Manager) Close() error {
	if m.stop != nil {
		close(m.stop)
		m.wg.Wait()
		m.stop = nil
	}
	if m.repo != nil {
		return m.repo.Close()
	}
	return nil
}
