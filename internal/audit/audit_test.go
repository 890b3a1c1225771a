package audit

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/parquet-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/raaihank/sentinel-chat/internal/chat"
)

type fakeWriter struct {
	mu      sync.Mutex
	batches [][]Record
	err     error
}

func (w *fakeWriter) BatchInsert(ctx context.Context, records []Record) (*BatchInsertResult, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return nil, w.err
	}
	w.batches = append(w.batches, append([]Record(nil), records...))
	return &BatchInsertResult{Inserted: int64(len(records))}, nil
}

func (w *fakeWriter) records() []Record {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []Record
	for _, b := range w.batches {
		out = append(out, b...)
	}
	return out
}

func transition(correlationID string, from chat.ChatState, event chat.Event, to chat.ChatState) chat.TransitionEvent {
	return chat.TransitionEvent{
		CorrelationID: correlationID,
		SessionID:     "s-1",
		From:          from,
		Event:         event,
		To:            to,
		Committed:     true,
		Elapsed:       1500 * time.Microsecond,
		Timestamp:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestRecorderBatches(t *testing.T) {
	w := &fakeWriter{}
	r := NewRecorder(w, Config{BatchSize: 2, FlushInterval: time.Hour}, zap.NewNop())

	ctx := context.Background()
	r.OnTransition(ctx, transition("c1", chat.StatePending, chat.EventValidateSuccess, chat.StateValidated))
	r.OnTransition(ctx, transition("c1", chat.StateValidated, chat.EventFilesProcessSuccess, chat.StateFileProcessed))
	r.OnTransition(ctx, transition("c1", chat.StateFileProcessed, chat.EventAnonymiseFailure, chat.StateFailure))

	require.NoError(t, r.Close())

	recs := w.records()
	require.Len(t, recs, 3)
	assert.Equal(t, "PENDING", recs[0].FromState)
	assert.Equal(t, "VALIDATE_SUCCESS", recs[0].Event)
	assert.Equal(t, "FAILURE", recs[2].ToState)
	assert.Equal(t, int64(1500), recs[0].ElapsedMicros)
	assert.Equal(t, int64(3), r.Written())

	// the third record arrives only through the final flush
	w.mu.Lock()
	assert.Len(t, w.batches, 2)
	w.mu.Unlock()
}

func TestRecorderFlushInterval(t *testing.T) {
	w := &fakeWriter{}
	r := NewRecorder(w, Config{BatchSize: 100, FlushInterval: 10 * time.Millisecond}, zap.NewNop())
	defer r.Close()

	r.OnTransition(context.Background(), transition("c1", chat.StatePending, chat.EventValidateSuccess, chat.StateValidated))

	assert.Eventually(t, func() bool { return len(w.records()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestRecorderWriteFailureIsNotFatal(t *testing.T) {
	w := &fakeWriter{err: errors.New("database down")}
	r := NewRecorder(w, Config{BatchSize: 1, FlushInterval: time.Hour}, zap.NewNop())

	r.OnTransition(context.Background(), transition("c1", chat.StatePending, chat.EventValidateSuccess, chat.StateValidated))
	require.NoError(t, r.Close())
	assert.Zero(t, r.Written())
}

// blockingWriter holds the flush loop so the buffer can fill
type blockingWriter struct {
	release chan struct{}
}

func (w *blockingWriter) BatchInsert(ctx context.Context, records []Record) (*BatchInsertResult, error) {
	<-w.release
	return &BatchInsertResult{Inserted: int64(len(records))}, nil
}

func TestRecorderDropsWhenFull(t *testing.T) {
	w := &blockingWriter{release: make(chan struct{})}
	r := NewRecorder(w, Config{BufferSize: 1, BatchSize: 1, FlushInterval: time.Hour}, zap.NewNop())

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		r.OnTransition(ctx, transition("c1", chat.StatePending, chat.EventValidateSuccess, chat.StateValidated))
	}
	assert.Positive(t, r.Dropped())

	close(w.release)
	require.NoError(t, r.Close())
	assert.Equal(t, int64(10), r.Written()+r.Dropped())
}

func TestRecorderAfterClose(t *testing.T) {
	tests := []struct {
		name    string
		senders int
	}{
		{"single late event", 1},
		{"senders racing close", 8},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := &fakeWriter{}
			r := NewRecorder(w, Config{BatchSize: 1, FlushInterval: time.Hour}, zap.NewNop())
			ctx := context.Background()
			ev := transition("c1", chat.StatePending, chat.EventValidateSuccess, chat.StateValidated)

			var wg sync.WaitGroup
			for i := 0; i < tt.senders; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for j := 0; j < 50; j++ {
						r.OnTransition(ctx, ev)
					}
				}()
			}
			require.NoError(t, r.Close())
			wg.Wait()

			assert.NotPanics(t, func() { r.OnTransition(ctx, ev) })
			assert.NoError(t, r.Close())
			assert.Equal(t, int64(tt.senders*50+1), r.Written()+r.Dropped())
		})
	}
}

// memorySource serves records the way Store.Query does
type memorySource struct {
	records []Record
	queries int
}

func (s *memorySource) Query(ctx context.Context, filter Filter) ([]Record, error) {
	s.queries++
	var out []Record
	for _, r := range s.records {
		if r.ID <= filter.AfterID {
			continue
		}
		if filter.CorrelationID != "" && r.CorrelationID != filter.CorrelationID {
			continue
		}
		out = append(out, r)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

func sampleRecords(n int) []Record {
	recs := make([]Record, n)
	for i := range recs {
		recs[i] = Record{
			ID:            int64(i + 1),
			CorrelationID: "c" + string(rune('a'+i%3)),
			SessionID:     "s-1",
			FromState:     "PENDING",
			Event:         "VALIDATE_SUCCESS",
			ToState:       "VALIDATED",
			Committed:     true,
			Warnings:      i % 2,
			ElapsedMicros: int64(100 * i),
			CreatedAt:     time.Date(2026, 3, 1, 12, 0, i, 0, time.UTC),
		}
	}
	return recs
}

func TestExportCSV(t *testing.T) {
	src := &memorySource{records: sampleRecords(5)}
	var buf bytes.Buffer

	result, err := NewExporter(src, 2, zap.NewNop()).Export(context.Background(), Filter{}, FormatCSV, &buf)
	require.NoError(t, err)
	assert.Equal(t, int64(5), result.Records)
	assert.Equal(t, int64(3), result.Batches)

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 6)
	assert.Equal(t, csvHeader, rows[0])
	assert.Equal(t, []string{"1", "ca", "s-1", "PENDING", "VALIDATE_SUCCESS", "VALIDATED", "true", "", "0", "0", "2026-03-01T12:00:00Z"}, rows[1])
}

func TestExportLimitAndFilter(t *testing.T) {
	src := &memorySource{records: sampleRecords(9)}
	var buf bytes.Buffer

	result, err := NewExporter(src, 2, zap.NewNop()).Export(context.Background(), Filter{CorrelationID: "ca", Limit: 2}, FormatJSON, &buf)
	require.NoError(t, err)
	assert.Equal(t, int64(2), result.Records)

	dec := json.NewDecoder(&buf)
	var ids []int64
	for {
		var row ExportRow
		if err := dec.Decode(&row); err == io.EOF {
			break
		} else {
			require.NoError(t, err)
		}
		assert.Equal(t, "ca", row.CorrelationID)
		ids = append(ids, row.ID)
	}
	assert.Equal(t, []int64{1, 4}, ids)
}

func TestExportParquetFile(t *testing.T) {
	src := &memorySource{records: sampleRecords(7)}
	path := filepath.Join(t.TempDir(), "trail.parquet")

	result, err := NewExporter(src, 3, zap.NewNop()).ExportFile(context.Background(), Filter{}, path)
	require.NoError(t, err)
	assert.Equal(t, FormatParquet, result.Format)
	assert.Equal(t, int64(7), result.Records)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	reader := parquet.NewGenericReader[ExportRow](f)
	defer reader.Close()
	assert.Equal(t, int64(7), reader.NumRows())

	rows := make([]ExportRow, 7)
	n, err := reader.Read(rows)
	if err != nil {
		require.ErrorIs(t, err, io.EOF)
	}
	require.Equal(t, 7, n)
	assert.Equal(t, int64(7), rows[6].ID)
	assert.Equal(t, int32(0), rows[6].Warnings)
	assert.Equal(t, int64(600), rows[6].ElapsedMicros)
}

func TestExportCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewExporter(&memorySource{records: sampleRecords(3)}, 2, zap.NewNop()).Export(ctx, Filter{}, FormatCSV, io.Discard)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDetectFileFormat(t *testing.T) {
	assert.Equal(t, FormatParquet, DetectFileFormat("out.parquet"))
	assert.Equal(t, FormatJSON, DetectFileFormat("out.jsonl"))
	assert.Equal(t, FormatJSON, DetectFileFormat("out.json"))
	assert.Equal(t, FormatCSV, DetectFileFormat("out.csv"))
	assert.Equal(t, FormatCSV, DetectFileFormat("out"))
}

func TestSelectQuery(t *testing.T) {
	query, args := selectQuery(Filter{})
	assert.NotContains(t, query, "WHERE")
	assert.NotContains(t, query, "LIMIT")
	assert.Empty(t, args)

	since := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	query, args = selectQuery(Filter{SessionID: "s-1", Since: since, AfterID: 40, Limit: 10})
	assert.Contains(t, query, "WHERE session_id = $1 AND created_at >= $2 AND id > $3")
	assert.Contains(t, query, "LIMIT $4")
	assert.Equal(t, []any{"s-1", since, int64(40), 10}, args)
}

func TestInsertQuery(t *testing.T) {
	query, args := insertQuery(sampleRecords(2))
	assert.Contains(t, query, "($1, $2, $3, $4, $5, $6, $7, $8, $9, $10),($11, $12")
	assert.Len(t, args, 2*insertColumns)
	assert.Equal(t, "ca", args[0])
	assert.Equal(t, "cb", args[insertColumns])
}

func TestMaskDatabaseURL(t *testing.T) {
	tests := map[string]string{
		"postgres://sentinel:secret@db:5432/chat?sslmode=disable": "postgres://sentinel:***@db:5432/chat?sslmode=disable",
		"postgres://sentinel@db:5432/chat":                        "postgres://sentinel@db:5432/chat",
		"postgres://db:5432/chat":                                 "postgres://db:5432/chat",
	}
	for in, want := range tests {
		assert.Equal(t, want, maskDatabaseURL(in), in)
	}
}

// TestStoreIntegration runs against a live PostgreSQL when
// SENTINEL_TEST_DATABASE_URL is set.
func TestStoreIntegration(t *testing.T) {
	url := os.Getenv("SENTINEL_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("SENTINEL_TEST_DATABASE_URL not set")
	}

	store, err := NewStore(&Config{DatabaseURL: url, MaxOpenConns: 2, MaxIdleConns: 1}, zap.NewNop())
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	correlationID := "it-" + strings.ReplaceAll(time.Now().Format("150405.000000"), ".", "")
	recs := sampleRecords(3)
	for i := range recs {
		recs[i].CorrelationID = correlationID
	}

	result, err := store.BatchInsert(ctx, recs)
	require.NoError(t, err)
	assert.Equal(t, int64(3), result.Inserted)

	got, err := store.Query(ctx, Filter{CorrelationID: correlationID})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "VALIDATED", got[0].ToState)

	stats, err := store.GetStats(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, stats.TotalRecords, int64(3))
}
