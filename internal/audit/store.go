// Package audit persists every chat pipeline transition and exports the
// trail for offline analysis.
package audit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

const schema = `
CREATE TABLE IF NOT EXISTS chat_transitions (
	id             BIGSERIAL PRIMARY KEY,
	correlation_id TEXT        NOT NULL,
	session_id     TEXT        NOT NULL,
	from_state     TEXT        NOT NULL,
	event          TEXT        NOT NULL,
	to_state       TEXT        NOT NULL,
	committed      BOOLEAN     NOT NULL,
	error          TEXT        NOT NULL DEFAULT '',
	warnings       INTEGER     NOT NULL DEFAULT 0,
	elapsed_us     BIGINT      NOT NULL DEFAULT 0,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_chat_transitions_correlation ON chat_transitions (correlation_id);
CREATE INDEX IF NOT EXISTS idx_chat_transitions_created ON chat_transitions (created_at);`

const insertColumns = 10

// Store handles audit storage in PostgreSQL
type Store struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewStore connects to PostgreSQL and ensures the audit table exists
func NewStore(config *Config, logger *zap.Logger) (*Store, error) {
	db, err := sqlx.Connect("postgres", config.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	store := &Store{db: db, logger: logger}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := store.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize audit store: %w", err)
	}

	logger.Info("Audit store initialized",
		zap.String("database_url", maskDatabaseURL(config.DatabaseURL)),
		zap.Int("max_open_conns", config.MaxOpenConns),
		zap.Int("max_idle_conns", config.MaxIdleConns))

	return store, nil
}

// Migrate checks the connection and creates the audit table
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create audit schema: %w", err)
	}
	return nil
}

// BatchInsert writes records in a single statement
func (s *Store) BatchInsert(ctx context.Context, records []Record) (*BatchInsertResult, error) {
	if len(records) == 0 {
		return &BatchInsertResult{}, nil
	}

	start := time.Now()
	query, args := insertQuery(records)

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		s.logger.Error("Audit batch insert failed", zap.Error(err), zap.Int("records", len(records)))
		return nil, fmt.Errorf("audit batch insert failed: %w", err)
	}

	inserted, err := res.RowsAffected()
	if err != nil {
		s.logger.Warn("Could not get rows affected", zap.Error(err))
		inserted = int64(len(records))
	}

	result := &BatchInsertResult{Inserted: inserted, Duration: time.Since(start)}
	s.logger.Debug("Audit batch insert completed",
		zap.Int64("inserted", result.Inserted),
		zap.Duration("duration", result.Duration))
	return result, nil
}

func insertQuery(records []Record) (string, []any) {
	valueStrings := make([]string, 0, len(records))
	args := make([]any, 0, len(records)*insertColumns)

	for i, r := range records {
		n := i * insertColumns
		valueStrings = append(valueStrings, fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			n+1, n+2, n+3, n+4, n+5, n+6, n+7, n+8, n+9, n+10))

		createdAt := r.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now()
		}
		args = append(args,
			r.CorrelationID,
			r.SessionID,
			r.FromState,
			r.Event,
			r.ToState,
			r.Committed,
			r.Error,
			r.Warnings,
			r.ElapsedMicros,
			createdAt.UTC(),
		)
	}

	query := `
		INSERT INTO chat_transitions
			(correlation_id, session_id, from_state, event, to_state, committed, error, warnings, elapsed_us, created_at)
		VALUES ` + strings.Join(valueStrings, ",")
	return query, args
}

// Query returns records matching filter ordered by id
func (s *Store) Query(ctx context.Context, filter Filter) ([]Record, error) {
	query, args := selectQuery(filter)

	var records []Record
	if err := s.db.SelectContext(ctx, &records, query, args...); err != nil {
		return nil, fmt.Errorf("audit query failed: %w", err)
	}
	return records, nil
}

func selectQuery(filter Filter) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	add := func(clause string, arg any) {
		args = append(args, arg)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}

	if filter.CorrelationID != "" {
		add("correlation_id = $%d", filter.CorrelationID)
	}
	if filter.SessionID != "" {
		add("session_id = $%d", filter.SessionID)
	}
	if !filter.Since.IsZero() {
		add("created_at >= $%d", filter.Since.UTC())
	}
	if !filter.Until.IsZero() {
		add("created_at < $%d", filter.Until.UTC())
	}
	if filter.AfterID > 0 {
		add("id > $%d", filter.AfterID)
	}

	query := `
		SELECT id, correlation_id, session_id, from_state, event, to_state,
			committed, error, warnings, elapsed_us, created_at
		FROM chat_transitions`
	if len(clauses) > 0 {
		query += "\n\t\tWHERE " + strings.Join(clauses, " AND ")
	}
	query += "\n\t\tORDER BY id"

	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf("\n\t\tLIMIT $%d", len(args))
	}
	return query, args
}

// GetStats returns counts over the whole audit trail
func (s *Store) GetStats(ctx context.Context) (*Stats, error) {
	query := `
		SELECT
			COUNT(*) AS total,
			COUNT(DISTINCT correlation_id) AS requests,
			COUNT(CASE WHEN committed AND to_state = 'FAILURE' THEN 1 END) AS failures,
			COUNT(DISTINCT CASE WHEN warnings > 0 THEN correlation_id END) AS degraded
		FROM chat_transitions`

	var stats Stats
	if err := s.db.GetContext(ctx, &stats, query); err != nil {
		return nil, fmt.Errorf("failed to get audit stats: %w", err)
	}
	return &stats, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// maskDatabaseURL hides the password in a database URL for logging
func maskDatabaseURL(url string) string {
	at := strings.LastIndex(url, "@")
	if at < 0 {
		return url
	}
	userPart := url[:at]
	colon := strings.LastIndex(userPart, ":")
	if colon <= strings.Index(userPart, "://")+2 {
		return url
	}
	return userPart[:colon+1] + "***" + url[at:]
}
