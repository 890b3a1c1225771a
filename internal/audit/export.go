package audit

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/segmentio/parquet-go"
	"go.uber.org/zap"
)

// Source pages through stored records
type Source interface {
	Query(ctx context.Context, filter Filter) ([]Record, error)
}

// ExportRow is the flat export shape of a Record
type ExportRow struct {
	ID            int64  `parquet:"id" json:"id"`
	CorrelationID string `parquet:"correlation_id" json:"correlation_id"`
	SessionID     string `parquet:"session_id" json:"session_id"`
	FromState     string `parquet:"from_state" json:"from_state"`
	Event         string `parquet:"event" json:"event"`
	ToState       string `parquet:"to_state" json:"to_state"`
	Committed     bool   `parquet:"committed" json:"committed"`
	Error         string `parquet:"error" json:"error"`
	Warnings      int32  `parquet:"warnings" json:"warnings"`
	ElapsedMicros int64  `parquet:"elapsed_us" json:"elapsed_us"`
	CreatedAt     string `parquet:"created_at" json:"created_at"`
}

var csvHeader = []string{
	"id", "correlation_id", "session_id", "from_state", "event", "to_state",
	"committed", "error", "warnings", "elapsed_us", "created_at",
}

func toRow(r Record) ExportRow {
	return ExportRow{
		ID:            r.ID,
		CorrelationID: r.CorrelationID,
		SessionID:     r.SessionID,
		FromState:     r.FromState,
		Event:         r.Event,
		ToState:       r.ToState,
		Committed:     r.Committed,
		Error:         r.Error,
		Warnings:      int32(r.Warnings),
		ElapsedMicros: r.ElapsedMicros,
		CreatedAt:     r.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func (row ExportRow) csvRecord() []string {
	return []string{
		strconv.FormatInt(row.ID, 10),
		row.CorrelationID,
		row.SessionID,
		row.FromState,
		row.Event,
		row.ToState,
		strconv.FormatBool(row.Committed),
		row.Error,
		strconv.Itoa(int(row.Warnings)),
		strconv.FormatInt(row.ElapsedMicros, 10),
		row.CreatedAt,
	}
}

type rowWriter interface {
	write(rows []ExportRow) error
	close() error
}

// Exporter writes the audit trail to CSV, Parquet or JSON lines
type Exporter struct {
	source    Source
	batchSize int
	logger    *zap.Logger
}

// NewExporter creates an exporter reading batchSize records per query
func NewExporter(source Source, batchSize int, logger *zap.Logger) *Exporter {
	if batchSize <= 0 {
		batchSize = 1000
	}
	return &Exporter{source: source, batchSize: batchSize, logger: logger}
}

// ExportFile writes records matching filter to path, choosing the format
// from its extension
func (e *Exporter) ExportFile(ctx context.Context, filter Filter, path string) (*ExportResult, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create export file: %w", err)
	}

	result, err := e.Export(ctx, filter, DetectFileFormat(path), f)
	if cerr := f.Close(); cerr != nil && err == nil {
		err = fmt.Errorf("failed to close export file: %w", cerr)
	}
	return result, err
}

// Export streams records matching filter to w in format
func (e *Exporter) Export(ctx context.Context, filter Filter, format FileFormat, w io.Writer) (*ExportResult, error) {
	start := time.Now()
	result := &ExportResult{Format: format}

	var out rowWriter
	switch format {
	case FormatCSV:
		out = newCSVWriter(w)
	case FormatParquet:
		out = &parquetRowWriter{w: parquet.NewGenericWriter[ExportRow](w)}
	case FormatJSON:
		out = &jsonRowWriter{enc: json.NewEncoder(w)}
	default:
		return nil, fmt.Errorf("unsupported export format: %s", format)
	}

	e.logger.Info("Starting audit export",
		zap.String("format", string(format)),
		zap.Int("batch_size", e.batchSize))

	page := filter
	limit := filter.Limit
	for {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		default:
		}

		page.Limit = e.batchSize
		if limit > 0 && limit-int(result.Records) < page.Limit {
			page.Limit = limit - int(result.Records)
		}
		if page.Limit <= 0 {
			break
		}

		records, err := e.source.Query(ctx, page)
		if err != nil {
			return result, fmt.Errorf("failed to read audit batch: %w", err)
		}
		if len(records) == 0 {
			break
		}

		rows := make([]ExportRow, len(records))
		for i, r := range records {
			rows[i] = toRow(r)
		}
		if err := out.write(rows); err != nil {
			return result, fmt.Errorf("failed to write %s batch: %w", format, err)
		}

		result.Records += int64(len(records))
		result.Batches++
		page.AfterID = records[len(records)-1].ID

		if len(records) < page.Limit {
			break
		}
	}

	if err := out.close(); err != nil {
		return result, fmt.Errorf("failed to finish %s export: %w", format, err)
	}
	result.Duration = time.Since(start)

	e.logger.Info("Audit export completed",
		zap.Int64("records", result.Records),
		zap.Int64("batches", result.Batches),
		zap.Duration("duration", result.Duration))

	return result, nil
}

type csvRowWriter struct {
	w *csv.Writer
}

func newCSVWriter(w io.Writer) *csvRowWriter {
	cw := csv.NewWriter(w)
	_ = cw.Write(csvHeader)
	return &csvRowWriter{w: cw}
}

func (c *csvRowWriter) write(rows []ExportRow) error {
	for _, row := range rows {
		if err := c.w.Write(row.csvRecord()); err != nil {
			return err
		}
	}
	c.w.Flush()
	return c.w.Error()
}

func (c *csvRowWriter) close() error {
	c.w.Flush()
	return c.w.Error()
}

type parquetRowWriter struct {
	w *parquet.GenericWriter[ExportRow]
}

func (p *parquetRowWriter) write(rows []ExportRow) error {
	_, err := p.w.Write(rows)
	return err
}

func (p *parquetRowWriter) close() error {
	return p.w.Close()
}

type jsonRowWriter struct {
	enc *json.Encoder
}

func (j *jsonRowWriter) write(rows []ExportRow) error {
	for _, row := range rows {
		if err := j.enc.Encode(row); err != nil {
			return err
		}
	}
	return nil
}

func (j *jsonRowWriter) close() error {
	return nil
}
