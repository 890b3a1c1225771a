package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"
	"go.uber.org/zap"
)

type fakeModel struct {
	got  []llms.MessageContent
	resp *llms.ContentResponse
	err  error
}

func (f *fakeModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	f.got = messages
	return f.resp, f.err
}

func (f *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return "", errors.New("not used")
}

func TestLangchainModel(t *testing.T) {
	ctx := context.Background()
	messages := []Message{
		{Role: RoleSystem, Content: "be brief"},
		{Role: RoleUser, Content: "Who is PERSON_0001?"},
	}

	t.Run("maps roles and usage", func(t *testing.T) {
		fake := &fakeModel{resp: &llms.ContentResponse{Choices: []*llms.ContentChoice{{
			Content:        "PERSON_0001 is a spy.",
			GenerationInfo: map[string]any{"PromptTokens": 12, "CompletionTokens": 5, "TotalTokens": 17},
		}}}}
		m := newLangchainModel(fake, Config{Model: "gpt-test"}, zap.NewNop())

		resp, err := m.Invoke(ctx, messages)
		require.NoError(t, err)
		assert.Equal(t, "PERSON_0001 is a spy.", resp.Content)
		assert.Equal(t, &Usage{PromptTokens: 12, CompletionTokens: 5, TotalTokens: 17}, resp.Usage)
		assert.Equal(t, "gpt-test", resp.Model)

		require.Len(t, fake.got, 2)
		assert.Equal(t, schema.ChatMessageTypeSystem, fake.got[0].Role)
		assert.Equal(t, schema.ChatMessageTypeHuman, fake.got[1].Role)
		assert.Equal(t, llms.TextContent{Text: "Who is PERSON_0001?"}, fake.got[1].Parts[0])
	})

	t.Run("provider error", func(t *testing.T) {
		m := newLangchainModel(&fakeModel{err: errors.New("429")}, Config{}, zap.NewNop())
		_, err := m.Invoke(ctx, messages)
		assert.ErrorIs(t, err, ErrUnavailable)
	})

	t.Run("no choices", func(t *testing.T) {
		m := newLangchainModel(&fakeModel{resp: &llms.ContentResponse{}}, Config{}, zap.NewNop())
		_, err := m.Invoke(ctx, messages)
		assert.ErrorIs(t, err, ErrUnavailable)
	})

	t.Run("missing usage", func(t *testing.T) {
		fake := &fakeModel{resp: &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: "ok"}}}}
		m := newLangchainModel(fake, Config{}, zap.NewNop())
		resp, err := m.Invoke(ctx, messages)
		require.NoError(t, err)
		assert.Nil(t, resp.Usage)
	})
}

func TestNew(t *testing.T) {
	m, err := New(Config{}, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, EchoModel{}, m)

	_, err = New(Config{Provider: "carrier-pigeon"}, zap.NewNop())
	assert.Error(t, err)

	m, err = New(Config{Provider: "ollama", Model: "llama3", BaseURL: "http://localhost:11434"}, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &LangchainModel{}, m)
}

func TestEchoModel(t *testing.T) {
	resp, err := EchoModel{}.Invoke(context.Background(), []Message{{Role: RoleUser, Content: "hi"}})
	require.NoError(t, err)
	assert.Equal(t, "You said: hi", resp.Content)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = EchoModel{}.Invoke(ctx, nil)
	assert.ErrorIs(t, err, ErrUnavailable)
}
