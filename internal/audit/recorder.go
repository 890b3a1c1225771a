package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/raaihank/sentinel-chat/internal/chat"
)

// Writer persists batches of records
type Writer interface {
	BatchInsert(ctx context.Context, records []Record) (*BatchInsertResult, error)
}

// Recorder buffers transition events and writes them in batches off the
// request path. When the buffer is full new events are dropped and counted.
type Recorder struct {
	writer  Writer
	config  Config
	logger  *zap.Logger
	events  chan Record
	dropped atomic.Int64
	written atomic.Int64

	// mu guards closed so no send races the channel close
	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewRecorder creates a recorder and starts its flush loop
func NewRecorder(writer Writer, config Config, logger *zap.Logger) *Recorder {
	if config.BufferSize <= 0 {
		config.BufferSize = 1024
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 100
	}
	if config.FlushInterval <= 0 {
		config.FlushInterval = 2 * time.Second
	}

	r := &Recorder{
		writer: writer,
		config: config,
		logger: logger,
		events: make(chan Record, config.BufferSize),
		done:   make(chan struct{}),
	}
	go r.run()
	return r
}

// OnTransition queues ev for persistence
func (r *Recorder) OnTransition(ctx context.Context, ev chat.TransitionEvent) {
	rec := Record{
		CorrelationID: ev.CorrelationID,
		SessionID:     ev.SessionID,
		FromState:     string(ev.From),
		Event:         string(ev.Event),
		ToState:       string(ev.To),
		Committed:     ev.Committed,
		Error:         ev.Error,
		Warnings:      ev.Warnings,
		ElapsedMicros: ev.Elapsed.Microseconds(),
		CreatedAt:     ev.Timestamp,
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.dropped.Add(1)
		return
	}

	select {
	case r.events <- rec:
	default:
		if n := r.dropped.Add(1); n == 1 || n%100 == 0 {
			r.logger.Warn("Audit buffer full, dropping records", zap.Int64("dropped", n))
		}
	}
}

func (r *Recorder) run() {
	defer close(r.done)

	ticker := time.NewTicker(r.config.FlushInterval)
	defer ticker.Stop()

	batch := make([]Record, 0, r.config.BatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if _, err := r.writer.BatchInsert(ctx, batch); err != nil {
			r.logger.Error("Failed to write audit batch", zap.Error(err), zap.Int("records", len(batch)))
		} else {
			r.written.Add(int64(len(batch)))
		}
		batch = batch[:0]
	}

	for {
		select {
		case rec, ok := <-r.events:
			if !ok {
				flush()
				return
			}
			batch = append(batch, rec)
			if len(batch) >= r.config.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

// Written returns the number of records persisted so far
func (r *Recorder) Written() int64 {
	return r.written.Load()
}

// Dropped returns the number of records lost to a full buffer
func (r *Recorder) Dropped() int64 {
	return r.dropped.Load()
}

// Close flushes buffered records and stops the recorder. Events arriving
// after Close are counted as dropped.
func (r *Recorder) Close() error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.events)
	}
	r.mu.Unlock()
	<-r.done
	return nil
}
