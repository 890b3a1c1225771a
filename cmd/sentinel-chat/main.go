package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/raaihank/sentinel-chat/internal/audit"
	"github.com/raaihank/sentinel-chat/internal/chat"
	"github.com/raaihank/sentinel-chat/internal/config"
	"github.com/raaihank/sentinel-chat/internal/embeddings"
	"github.com/raaihank/sentinel-chat/internal/entity"
	"github.com/raaihank/sentinel-chat/internal/llm"
	"github.com/raaihank/sentinel-chat/internal/logger"
	"github.com/raaihank/sentinel-chat/internal/recognizer"
	"github.com/raaihank/sentinel-chat/internal/server"
	"github.com/raaihank/sentinel-chat/internal/session"
	"github.com/raaihank/sentinel-chat/internal/websocket"
)

var (
	version = server.Version
	commit  = "dev"
	date    = "unknown"
)

func main() {
	var (
		configPath  = flag.String("config", "", "Path to configuration file")
		showVersion = flag.Bool("version", false, "Show version information")
		healthCheck = flag.String("health-check", "", "Check the server at this base URL and exit (e.g. http://localhost:8080)")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("sentinel-chat %s (commit: %s, built: %s)\n", version, commit, date)
		os.Exit(0)
	}

	if *healthCheck != "" {
		performHealthCheck(*healthCheck)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	loggerConfig := logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	}
	if cfg.Logging.File.Enabled {
		loggerConfig.File = &logger.FileConfig{
			Enabled: true,
			Path:    cfg.Logging.File.Path,
		}
	}

	log, err := logger.New(loggerConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting sentinel-chat",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("build_date", date),
		zap.Int("port", cfg.Server.Port),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := build(ctx, cfg, log)
	if err != nil {
		log.Fatal("Failed to initialize services", zap.Error(err))
	}
	defer app.close(log)

	if *configPath != "" {
		err := config.Watch(*configPath, log.Logger, func(next *config.Config) {
			if err := log.SetLevel(next.Logging.Level); err != nil {
				log.Warn("Ignoring invalid log level", zap.String("level", next.Logging.Level))
			}
			app.server.UpdateRateLimit(next.RateLimit)
		})
		if err != nil {
			log.Warn("Configuration hot reload disabled", zap.Error(err))
		}
	}

	serverErrors := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening", zap.Int("port", cfg.Server.Port))
		serverErrors <- app.server.Start()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil {
			log.Error("Server error", zap.Error(err))
		}
	case sig := <-shutdown:
		log.Info("Shutdown signal received", zap.String("signal", sig.String()))

		// Give outstanding requests 30 seconds to complete
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := app.server.Stop(shutdownCtx); err != nil {
			log.Error("Failed to shutdown server gracefully", zap.Error(err))
		}
		log.Info("Server shutdown complete")
	}
}

// application holds the wired services
type application struct {
	server   *server.Server
	sessions *session.Manager
	embedder embeddings.Embedder
	recorder *audit.Recorder
	store    *audit.Store
}

// close releases services in reverse start order
func (a *application) close(log *logger.Logger) {
	if a.recorder != nil {
		if err := a.recorder.Close(); err != nil {
			log.Warn("Failed to flush audit trail", zap.Error(err))
		}
	}
	if a.store != nil {
		a.store.Close()
	}
	if a.sessions != nil {
		a.sessions.Close()
	}
	if a.embedder != nil {
		a.embedder.Close()
	}
}

// build wires the pipeline from configuration. Optional collaborators
// (Redis, Postgres, the dashboard feed) degrade to in-process fallbacks or are
// skipped when unavailable.
func build(ctx context.Context, cfg *config.Config, log *logger.Logger) (*application, error) {
	app := &application{}

	rec, err := newRecognizer(cfg.Recognizer, log.Logger)
	if err != nil {
		return nil, fmt.Errorf("recognizer: %w", err)
	}

	embedder, err := embeddings.NewFactory(log.Named("embeddings")).Create(cfg.Embedding)
	if err != nil {
		log.Warn("Embedder unavailable, entity matching falls back to lexical scores", zap.Error(err))
	} else {
		app.embedder = embedder
	}

	var encoder entity.Encoder
	if app.embedder != nil {
		encoder = app.embedder
	}
	factory := func() *entity.Resolver {
		return entity.NewResolver(cfg.Entity, rec, encoder, log.Named("entity"))
	}

	var repo session.Repository
	if cfg.Session.RedisEnabled {
		redisRepo, err := session.NewRedisRepository(cfg.Session.Redis, log.Named("session"))
		if err != nil {
			log.Warn("Redis unavailable, sessions are kept in memory only", zap.Error(err))
		} else {
			repo = redisRepo
		}
	}
	app.sessions = session.NewManager(cfg.Session.Config, factory, repo, log.Named("session"))
	app.sessions.Start()

	model, err := llm.New(cfg.LLM, log.Named("llm"))
	if err != nil {
		return nil, fmt.Errorf("language model: %w", err)
	}

	var opts []chat.Option
	if cfg.Audit.Enabled {
		store, err := audit.NewStore(&cfg.Audit, log.Named("audit"))
		if err != nil {
			log.Warn("Audit store unavailable, transitions are not persisted", zap.Error(err))
		} else {
			app.store = store
			app.recorder = audit.NewRecorder(store, cfg.Audit, log.Named("audit"))
			opts = append(opts, chat.WithObserver(app.recorder))
		}
	}

	var hub *websocket.Hub
	if cfg.WebSocket.Enabled {
		hub = websocket.NewHub(websocket.HubConfig{
			BroadcastTransitions: cfg.WebSocket.Events.BroadcastTransitions,
			BroadcastRequests:    cfg.WebSocket.Events.BroadcastRequests,
			BroadcastConnections: cfg.WebSocket.Events.BroadcastConnections,
			MaxConnections:       cfg.WebSocket.MaxConnections,
			PingInterval:         cfg.WebSocket.PingInterval,
			PongTimeout:          cfg.WebSocket.PongTimeout,
			WriteTimeout:         cfg.WebSocket.WriteTimeout,
			Username:             cfg.WebSocket.Username,
			Password:             cfg.WebSocket.Password,
			AllowedOrigins:       cfg.Server.AllowedOrigins,
		}, log.Named("websocket"))
		go hub.Run(ctx)
		opts = append(opts, chat.WithObserver(hub))
	}

	orchestrator, err := chat.NewOrchestrator(cfg.Chat, app.sessions, model, log.Named("chat"), opts...)
	if err != nil {
		return nil, err
	}

	app.server, err = server.New(cfg, log, orchestrator, app.sessions, hub)
	if err != nil {
		return nil, err
	}
	return app, nil
}

// newRecognizer builds the configured PII recognizer
func newRecognizer(cfg config.RecognizerConfig, log *zap.Logger) (recognizer.Recognizer, error) {
	presidio := func() (*recognizer.PresidioClient, error) {
		return recognizer.NewPresidioClient(recognizer.PresidioConfig{
			URL:            cfg.Presidio.URL,
			ScoreThreshold: cfg.Presidio.ScoreThreshold,
			Entities:       cfg.Presidio.Entities,
			Timeout:        cfg.Presidio.Timeout,
		}, log.Named("presidio"))
	}

	switch cfg.Type {
	case "presidio":
		return presidio()
	case "composite":
		rules, err := recognizer.NewRuleRecognizer(cfg.Rules, log.Named("rules"))
		if err != nil {
			return nil, err
		}
		remote, err := presidio()
		if err != nil {
			return nil, err
		}
		return recognizer.NewComposite(log).Add("presidio", remote).Add("rules", rules), nil
	default:
		return recognizer.NewRuleRecognizer(cfg.Rules, log.Named("rules"))
	}
}

// performHealthCheck performs a health check against a running server
func performHealthCheck(baseURL string) {
	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	resp, err := client.Get(baseURL + "/health")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "Health check failed: HTTP %d\n", resp.StatusCode)
		os.Exit(1)
	}

	fmt.Println("Health check passed")
	os.Exit(0)
}
