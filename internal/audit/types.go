package audit

import (
	"strings"
	"time"
)

// Record is one attempted pipeline transition
type Record struct {
	ID            int64     `db:"id" json:"id"`
	CorrelationID string    `db:"correlation_id" json:"correlation_id"`
	SessionID     string    `db:"session_id" json:"session_id"`
	FromState     string    `db:"from_state" json:"from_state"`
	Event         string    `db:"event" json:"event"`
	ToState       string    `db:"to_state" json:"to_state"`
	Committed     bool      `db:"committed" json:"committed"`
	Error         string    `db:"error" json:"error,omitempty"`
	Warnings      int       `db:"warnings" json:"warnings"`
	ElapsedMicros int64     `db:"elapsed_us" json:"elapsed_us"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// Config contains audit store and recorder configuration
type Config struct {
	Enabled         bool          `yaml:"enabled" mapstructure:"enabled"`
	DatabaseURL     string        `yaml:"database_url" mapstructure:"database_url"`
	MaxOpenConns    int           `yaml:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" mapstructure:"conn_max_idle_time"`
	BufferSize      int           `yaml:"buffer_size" mapstructure:"buffer_size"`       // 1024
	BatchSize       int           `yaml:"batch_size" mapstructure:"batch_size"`         // 100
	FlushInterval   time.Duration `yaml:"flush_interval" mapstructure:"flush_interval"` // 2s
}

// Filter selects records for queries and exports
type Filter struct {
	CorrelationID string
	SessionID     string
	Since         time.Time
	Until         time.Time
	AfterID       int64
	Limit         int
}

// Stats summarises the audit trail
type Stats struct {
	TotalRecords int64 `db:"total" json:"total_records"`
	Requests     int64 `db:"requests" json:"requests"`
	Failures     int64 `db:"failures" json:"failures"`
	Degraded     int64 `db:"degraded" json:"degraded"`
}

// BatchInsertResult represents the result of a batch insert
type BatchInsertResult struct {
	Inserted int64         `json:"inserted"`
	Duration time.Duration `json:"duration"`
}

// ExportResult represents the result of an export run
type ExportResult struct {
	Records  int64         `json:"records"`
	Batches  int64         `json:"batches"`
	Duration time.Duration `json:"duration"`
	Format   FileFormat    `json:"format"`
}

// FileFormat represents supported export formats
type FileFormat string

const (
	FormatCSV     FileFormat = "csv"
	FormatParquet FileFormat = "parquet"
	FormatJSON    FileFormat = "json"
)

// DetectFileFormat detects the export format from a file extension,
// defaulting to CSV
func DetectFileFormat(filename string) FileFormat {
	switch {
	case strings.HasSuffix(filename, ".parquet"):
		return FormatParquet
	case strings.HasSuffix(filename, ".json"), strings.HasSuffix(filename, ".jsonl"):
		return FormatJSON
	default:
		return FormatCSV
	}
}
