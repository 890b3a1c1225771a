package embeddings

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// OnnxEmbedder runs a local sentence-transformer through a TransformerBackend
type OnnxEmbedder struct {
	backend   TransformerBackend
	tokenizer *Tokenizer
	logger    *zap.Logger
	stats     ModelStats
	mu        sync.Mutex
}

// NewOnnxEmbedder loads the tokenizer and model described by config
func NewOnnxEmbedder(config *ModelConfig, logger *zap.Logger) (*OnnxEmbedder, error) {
	if config == nil || config.ModelPath == "" || config.VocabPath == "" {
		return nil, fmt.Errorf("%w: model_path and vocab_path required", ErrConfigError)
	}

	tokenizer, err := LoadTokenizer(config.VocabPath, config.MaxLength)
	if err != nil {
		return nil, err
	}

	backend := NewTransformerBackend(logger, config.ModelPath)
	if backend == nil || !backend.IsReady() {
		return nil, fmt.Errorf("%w: %s", ErrModelNotLoaded, config.ModelPath)
	}

	return newOnnxEmbedder(backend, tokenizer, logger), nil
}

func newOnnxEmbedder(backend TransformerBackend, tokenizer *Tokenizer, logger *zap.Logger) *OnnxEmbedder {
	return &OnnxEmbedder{
		backend:   backend,
		tokenizer: tokenizer,
		logger:    logger,
		stats:     ModelStats{ServiceType: "onnx", StartTime: time.Now()},
	}
}

// Encode tokenizes text and runs one inference
func (e *OnnxEmbedder) Encode(ctx context.Context, text string) ([]float32, error) {
	tokens, err := e.tokenizer.Tokenize(text)
	if err != nil {
		return nil, err
	}
	if tokens.Truncated {
		e.logger.Debug("Embedding input truncated", zap.Int("tokens", tokens.Length))
	}

	start := time.Now()
	out, err := e.backend.EmbedBatch(ctx, []*TokenizedInput{tokens})
	if err == nil && len(out) != 1 {
		err = fmt.Errorf("%w: expected 1 embedding, got %d", ErrInferenceFailed, len(out))
	}

	e.mu.Lock()
	e.stats.record(time.Since(start), err == nil)
	e.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// Stats returns embedder statistics
func (e *OnnxEmbedder) Stats() ModelStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

// Close releases the backend
func (e *OnnxEmbedder) Close() error {
	return e.backend.Close()
}
