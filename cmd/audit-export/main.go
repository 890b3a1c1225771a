package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/raaihank/sentinel-chat/internal/audit"
	"github.com/raaihank/sentinel-chat/internal/config"
	"github.com/raaihank/sentinel-chat/internal/logger"
)

func main() {
	var (
		configPath    = flag.String("config", "", "Configuration file path (defaults and SENTINEL_* environment when empty)")
		output        = flag.String("output", "", "Output file (.csv, .json, .jsonl or .parquet)")
		since         = flag.String("since", "", "Only export transitions at or after this RFC3339 time")
		until         = flag.String("until", "", "Only export transitions before this RFC3339 time")
		correlationID = flag.String("correlation", "", "Only export one request")
		sessionID     = flag.String("session", "", "Only export one conversation")
		limit         = flag.Int("limit", 0, "Maximum number of transitions to export (0 for all)")
		batchSize     = flag.Int("batch-size", 1000, "Rows fetched per query")
		showStats     = flag.Bool("stats", false, "Show audit trail statistics and exit")
	)
	flag.Parse()

	if *output == "" && !*showStats {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s --output audit.parquet --since 2026-01-01T00:00:00Z\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --output failures.csv --session conv-42\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --stats\n", os.Args[0])
		os.Exit(1)
	}

	filter, err := buildFilter(*since, *until, *correlationID, *sessionID, *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid filter: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if cfg.Audit.DatabaseURL == "" {
		log.Fatal("audit.database_url is not configured")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("Received shutdown signal, cancelling export...")
		cancel()
	}()

	store, err := audit.NewStore(&cfg.Audit, log.Named("audit"))
	if err != nil {
		log.Fatal("Failed to open audit store", zap.Error(err))
	}
	defer store.Close()

	if *showStats {
		if err := printStats(ctx, store); err != nil {
			log.Fatal("Failed to show stats", zap.Error(err))
		}
		return
	}

	exporter := audit.NewExporter(store, *batchSize, log.Named("export"))
	result, err := exporter.ExportFile(ctx, filter, *output)
	if err != nil {
		log.Fatal("Export failed", zap.Error(err))
	}

	log.Info("Export completed successfully",
		zap.String("output", *output),
		zap.Int64("records", result.Records),
		zap.Int64("batches", result.Batches),
		zap.String("format", string(result.Format)),
		zap.Duration("duration", result.Duration))
}

func buildFilter(since, until, correlationID, sessionID string, limit int) (audit.Filter, error) {
	filter := audit.Filter{
		CorrelationID: correlationID,
		SessionID:     sessionID,
		Limit:         limit,
	}
	if since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			return filter, fmt.Errorf("--since: %w", err)
		}
		filter.Since = t
	}
	if until != "" {
		t, err := time.Parse(time.RFC3339, until)
		if err != nil {
			return filter, fmt.Errorf("--until: %w", err)
		}
		filter.Until = t
	}
	if !filter.Since.IsZero() && !filter.Until.IsZero() && !filter.Until.After(filter.Since) {
		return filter, fmt.Errorf("--until must be after --since")
	}
	if limit < 0 {
		return filter, fmt.Errorf("--limit cannot be negative")
	}
	return filter, nil
}

func printStats(ctx context.Context, store *audit.Store) error {
	stats, err := store.GetStats(ctx)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(stats)
}
