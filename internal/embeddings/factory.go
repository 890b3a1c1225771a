package embeddings

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// ServiceType represents the type of embedder
type ServiceType string

const (
	// HashEmbedding uses deterministic n-gram hashing, no model required
	HashEmbedding ServiceType = "hash"

	// LangchainEmbedding calls an OpenAI-compatible embedding API
	LangchainEmbedding ServiceType = "langchain"

	// OnnxEmbedding runs a local transformer (binary must be built with -tags onnx)
	OnnxEmbedding ServiceType = "onnx"
)

// ServiceConfig contains configuration for embedder selection
type ServiceConfig struct {
	Type         ServiceType `yaml:"type" mapstructure:"type"`
	ModelConfig  ModelConfig `yaml:"model" mapstructure:"model"`
	RedisEnabled bool        `yaml:"redis_enabled" mapstructure:"redis_enabled"`
	RedisURL     string      `yaml:"redis_url" mapstructure:"redis_url"`
}

// Factory creates embedders based on configuration
type Factory struct {
	logger *zap.Logger
}

// NewFactory creates a new embedder factory
func NewFactory(logger *zap.Logger) *Factory {
	return &Factory{
		logger: logger,
	}
}

// Create builds the configured embedder, wrapping it in a Redis cache when enabled
func (f *Factory) Create(config ServiceConfig) (Embedder, error) {
	if err := ValidateServiceConfig(config); err != nil {
		return nil, err
	}

	var (
		embedder Embedder
		err      error
	)
	switch config.Type {
	case HashEmbedding:
		embedder, err = NewHashEmbedder(&config.ModelConfig, f.logger)
	case LangchainEmbedding:
		embedder, err = NewLangchainEmbedder(&config.ModelConfig, f.logger)
	case OnnxEmbedding:
		embedder, err = NewOnnxEmbedder(&config.ModelConfig, f.logger)
	}
	if err != nil {
		return nil, err
	}
	f.logger.Info("Created embedder", zap.String("type", string(config.Type)))

	if !config.RedisEnabled {
		return embedder, nil
	}

	opts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		f.logger.Warn("Invalid Redis URL, embedding cache disabled", zap.Error(err))
		return embedder, nil
	}
	client := redis.NewClient(opts)
	if err := client.Ping(context.Background()).Err(); err != nil {
		f.logger.Warn("Redis connection failed, embedding cache disabled", zap.Error(err))
		_ = client.Close()
		return embedder, nil
	}
	return NewCachedEmbedder(embedder, client, config.ModelConfig.CacheTTL, f.logger), nil
}

// ValidateServiceConfig validates embedder configuration
func ValidateServiceConfig(config ServiceConfig) error {
	switch config.Type {
	case HashEmbedding:
	case LangchainEmbedding:
		if config.ModelConfig.BaseURL == "" || config.ModelConfig.ModelName == "" {
			return fmt.Errorf("%w: langchain embedder needs base_url and model_name", ErrConfigError)
		}
	case OnnxEmbedding:
		if config.ModelConfig.ModelPath == "" || config.ModelConfig.VocabPath == "" {
			return fmt.Errorf("%w: onnx embedder needs model_path and vocab_path", ErrConfigError)
		}
	default:
		return fmt.Errorf("%w: unknown embedder type: %s", ErrConfigError, config.Type)
	}

	if config.RedisEnabled && config.RedisURL == "" {
		return fmt.Errorf("%w: redis_url required when redis_enabled is true", ErrConfigError)
	}
	return nil
}
