package embeddings

import (
	"context"
	"fmt"
	"sync"
	"time"

	lcembeddings "github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"
)

// LangchainEmbedder calls an OpenAI-compatible embedding endpoint (OpenAI,
// TEI, vLLM) through langchaingo.
type LangchainEmbedder struct {
	embedder lcembeddings.Embedder
	config   *ModelConfig
	logger   *zap.Logger
	stats    ModelStats
	mu       sync.Mutex
}

// NewLangchainEmbedder creates an embedder backed by langchaingo's OpenAI client
func NewLangchainEmbedder(config *ModelConfig, logger *zap.Logger) (*LangchainEmbedder, error) {
	if config == nil || config.BaseURL == "" || config.ModelName == "" {
		return nil, fmt.Errorf("%w: base URL and model name required", ErrConfigError)
	}

	apiKey := config.APIKey
	if apiKey == "" {
		// langchaingo requires a token, TEI ignores it
		apiKey = "placeholder"
	}

	llm, err := openai.New(
		openai.WithBaseURL(config.BaseURL),
		openai.WithModel(config.ModelName),
		openai.WithToken(apiKey),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create OpenAI client: %w", err)
	}

	embedder, err := lcembeddings.NewEmbedder(llm)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}

	logger.Info("Langchain embedder initialized",
		zap.String("base_url", config.BaseURL),
		zap.String("model", config.ModelName))

	return newLangchainEmbedder(embedder, config, logger), nil
}

func newLangchainEmbedder(embedder lcembeddings.Embedder, config *ModelConfig, logger *zap.Logger) *LangchainEmbedder {
	return &LangchainEmbedder{
		embedder: embedder,
		config:   config,
		logger:   logger,
		stats:    ModelStats{ServiceType: "langchain", StartTime: time.Now()},
	}
}

// Encode embeds text with the remote model
func (e *LangchainEmbedder) Encode(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", ErrInvalidInput)
	}

	if e.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.config.Timeout)
		defer cancel()
	}

	start := time.Now()
	vec, err := e.embedder.EmbedQuery(ctx, text)

	e.mu.Lock()
	e.stats.record(time.Since(start), err == nil)
	e.mu.Unlock()

	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInferenceFailed, err)
	}
	return vec, nil
}

// Stats returns embedder statistics
func (e *LangchainEmbedder) Stats() ModelStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

// Close is a no-op; the HTTP client has no resources to release
func (e *LangchainEmbedder) Close() error {
	return nil
}
