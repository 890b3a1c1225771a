package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"
	"go.uber.org/zap"
)

// LangchainModel calls an OpenAI-compatible or Ollama chat model through langchaingo
type LangchainModel struct {
	model  llms.Model
	config Config
	logger *zap.Logger
}

// NewLangchainModel creates the provider client named by config.Provider
func NewLangchainModel(config Config, logger *zap.Logger) (*LangchainModel, error) {
	var (
		model llms.Model
		err   error
	)

	switch strings.ToLower(config.Provider) {
	case "openai":
		opts := []openai.Option{openai.WithModel(config.Model)}
		if config.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(config.BaseURL))
		}
		if config.APIKey != "" {
			opts = append(opts, openai.WithToken(config.APIKey))
		}
		model, err = openai.New(opts...)
	case "ollama":
		opts := []ollama.Option{ollama.WithModel(config.Model)}
		if config.BaseURL != "" {
			opts = append(opts, ollama.WithServerURL(config.BaseURL))
		}
		model, err = ollama.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported langchain provider: %s", config.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create %s client: %w", config.Provider, err)
	}

	logger.Info("Language model client initialized",
		zap.String("provider", config.Provider),
		zap.String("model", config.Model))

	return newLangchainModel(model, config, logger), nil
}

func newLangchainModel(model llms.Model, config Config, logger *zap.Logger) *LangchainModel {
	return &LangchainModel{model: model, config: config, logger: logger}
}

// Invoke sends the conversation and returns the first choice
func (m *LangchainModel) Invoke(ctx context.Context, messages []Message) (*Response, error) {
	if m.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.config.Timeout)
		defer cancel()
	}

	content := make([]llms.MessageContent, 0, len(messages))
	for _, msg := range messages {
		content = append(content, llms.TextParts(messageType(msg.Role), msg.Content))
	}

	var opts []llms.CallOption
	if m.config.Temperature > 0 {
		opts = append(opts, llms.WithTemperature(m.config.Temperature))
	}
	if m.config.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(m.config.MaxTokens))
	}

	start := time.Now()
	resp, err := m.model.GenerateContent(ctx, content, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: empty response", ErrUnavailable)
	}

	choice := resp.Choices[0]
	out := &Response{
		Content:  choice.Content,
		Usage:    usageFrom(choice.GenerationInfo),
		Model:    m.config.Model,
		Duration: time.Since(start),
	}

	m.logger.Debug("Language model responded",
		zap.String("model", m.config.Model),
		zap.Duration("duration", out.Duration),
		zap.Int("response_length", len(out.Content)))

	return out, nil
}

func messageType(role Role) schema.ChatMessageType {
	switch role {
	case RoleSystem:
		return schema.ChatMessageTypeSystem
	case RoleAssistant:
		return schema.ChatMessageTypeAI
	default:
		return schema.ChatMessageTypeHuman
	}
}

func usageFrom(info map[string]any) *Usage {
	if info == nil {
		return nil
	}
	u := &Usage{
		PromptTokens:     intValue(info["PromptTokens"]),
		CompletionTokens: intValue(info["CompletionTokens"]),
		TotalTokens:      intValue(info["TotalTokens"]),
	}
	if *u == (Usage{}) {
		return nil
	}
	return u
}

func intValue(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int32:
		return int(n)
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}
