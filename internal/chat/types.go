package chat

import (
	"context"
	"time"

	"github.com/raaihank/sentinel-chat/internal/convert"
	"github.com/raaihank/sentinel-chat/internal/entity"
	"github.com/raaihank/sentinel-chat/internal/llm"
)

// File is an uploaded attachment
type File = convert.File

// Request is one chat turn
type Request struct {
	Prompt        string `json:"prompt"`
	Files         []File `json:"files,omitempty"`
	SessionID     string `json:"session_id,omitempty"`
	CorrelationID string `json:"-"`
}

// Warning records a stage that degraded instead of failing
type Warning struct {
	Stage   ChatState `json:"stage"`
	Message string    `json:"message"`
}

// Result is the outcome of a pipeline run
type Result struct {
	Response      string     `json:"response"`
	State         ChatState  `json:"state"`
	CorrelationID string     `json:"correlation_id"`
	SessionID     string     `json:"session_id"`
	Warnings      []Warning  `json:"warnings,omitempty"`
	Usage         *llm.Usage `json:"usage,omitempty"`
}

// Thought is a progress message emitted after each committed transition
type Thought struct {
	Stage     ChatState `json:"stage"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// TransitionEvent describes one attempted transition. It never carries
// request text.
type TransitionEvent struct {
	CorrelationID string        `json:"correlation_id"`
	SessionID     string        `json:"session_id"`
	From          ChatState     `json:"from"`
	Event         Event         `json:"event"`
	To            ChatState     `json:"to"`
	Committed     bool          `json:"committed"`
	Error         string        `json:"error,omitempty"`
	Warnings      int           `json:"warnings"`
	Elapsed       time.Duration `json:"elapsed"`
	Timestamp     time.Time     `json:"timestamp"`
}

// Observer is notified of every transition the orchestrator attempts
type Observer interface {
	OnTransition(ctx context.Context, ev TransitionEvent)
}

// ObserverFunc adapts a function to Observer
type ObserverFunc func(ctx context.Context, ev TransitionEvent)

func (f ObserverFunc) OnTransition(ctx context.Context, ev TransitionEvent) {
	f(ctx, ev)
}

// Sessions hands out the entity resolver for a conversation. Acquire with an
// empty id starts a new conversation and returns its id.
type Sessions interface {
	Acquire(ctx context.Context, id string) (string, *entity.Resolver, error)
	Release(ctx context.Context, id string, r *entity.Resolver) error
}

// FileConverter renders an attachment as markdown
type FileConverter interface {
	Convert(ctx context.Context, f File) string
}

// PipelineContext carries one request through the state machine. Handlers
// write their outputs only after they succeed.
type PipelineContext struct {
	CorrelationID string
	SessionID     string
	Request       Request

	Combined     string
	Anonymized   string
	LLMOutput    string
	Deanonymized string
	Usage        *llm.Usage

	Warnings      []Warning
	FailureReason string

	StartedAt time.Time
	Stamps    map[ChatState]time.Time

	resolver *entity.Resolver
}

func newPipelineContext(req Request, sessionID string, resolver *entity.Resolver, now time.Time) *PipelineContext {
	return &PipelineContext{
		CorrelationID: req.CorrelationID,
		SessionID:     sessionID,
		Request:       req,
		StartedAt:     now,
		Stamps:        map[ChatState]time.Time{StatePending: now},
		resolver:      resolver,
	}
}

func (pc *PipelineContext) warn(stage ChatState, message string) {
	pc.Warnings = append(pc.Warnings, Warning{Stage: stage, Message: message})
}
