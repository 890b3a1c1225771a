// Package llm adapts chat language models to a single Invoke call.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ErrUnavailable wraps any failure to obtain a completion
var ErrUnavailable = errors.New("language model unavailable")

// Role of a chat message
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one chat turn
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Usage reports token consumption when the provider returns it
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is a completed model call
type Response struct {
	Content  string        `json:"content"`
	Usage    *Usage        `json:"usage,omitempty"`
	Model    string        `json:"model,omitempty"`
	Duration time.Duration `json:"duration"`
}

// LanguageModel produces a reply to a conversation
type LanguageModel interface {
	Invoke(ctx context.Context, messages []Message) (*Response, error)
}

// Config selects and tunes the model provider
type Config struct {
	Provider    string        `yaml:"provider" mapstructure:"provider"` // openai, ollama or echo
	Model       string        `yaml:"model" mapstructure:"model"`
	BaseURL     string        `yaml:"base_url" mapstructure:"base_url"`
	APIKey      string        `yaml:"api_key" mapstructure:"api_key"`
	Temperature float64       `yaml:"temperature" mapstructure:"temperature"`
	MaxTokens   int           `yaml:"max_tokens" mapstructure:"max_tokens"`
	Timeout     time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// New builds the configured model
func New(config Config, logger *zap.Logger) (LanguageModel, error) {
	switch strings.ToLower(config.Provider) {
	case "openai", "ollama":
		return NewLangchainModel(config, logger)
	case "echo", "":
		logger.Warn("No language model provider configured, using echo model")
		return EchoModel{}, nil
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", config.Provider)
	}
}

// EchoModel answers locally without any network call. It is used when no
// provider is configured and in tests.
type EchoModel struct{}

// Invoke echoes the last user message
func (EchoModel) Invoke(ctx context.Context, messages []Message) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	var last string
	for _, m := range messages {
		if m.Role == RoleUser {
			last = m.Content
		}
	}
	return &Response{Content: "You said: " + last, Model: "echo"}, nil
}
