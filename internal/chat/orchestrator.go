// Package chat runs a chat request through validation, file conversion,
// anonymisation, the language model and deanonymisation, one state machine
// transition per stage.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/raaihank/sentinel-chat/internal/convert"
	"github.com/raaihank/sentinel-chat/internal/llm"
	"github.com/raaihank/sentinel-chat/internal/statemachine"
)

// DefaultSystemPrompt is sent ahead of every anonymised user message
const DefaultSystemPrompt = "You are a helpful AI assistant. Provide accurate and helpful responses based on the user's prompt. " +
	"Placeholders such as PERSON_1a2b stand for real values; keep them unchanged in your answer. " +
	"If files are included, take their content into account."

// Config tunes the orchestrator
type Config struct {
	Limits       Limits `yaml:"limits" mapstructure:"limits"`
	SystemPrompt string `yaml:"system_prompt" mapstructure:"system_prompt"`
	// StrictPrivacy fails the request instead of forwarding unanonymised
	// text when entity analysis is unavailable.
	StrictPrivacy bool `yaml:"strict_privacy" mapstructure:"strict_privacy"`
}

// DefaultConfig returns the stock orchestrator configuration
func DefaultConfig() Config {
	return Config{
		Limits:       DefaultLimits(),
		SystemPrompt: DefaultSystemPrompt,
	}
}

// Machine is the chat pipeline state machine
type Machine = statemachine.Machine[ChatState, Event, *PipelineContext]

// Orchestrator drives requests through the chat pipeline
type Orchestrator struct {
	machine   *Machine
	config    Config
	validator Validator
	converter FileConverter
	model     llm.LanguageModel
	sessions  Sessions
	observers []Observer
	logger    *zap.Logger
	now       func() time.Time
}

// Option customises an Orchestrator
type Option func(*Orchestrator)

// WithObserver adds a transition observer
func WithObserver(obs Observer) Option {
	return func(o *Orchestrator) {
		o.observers = append(o.observers, obs)
	}
}

// WithConverter replaces the markdown file converter
func WithConverter(c FileConverter) Option {
	return func(o *Orchestrator) {
		o.converter = c
	}
}

// WithValidator replaces the default validator chain
func WithValidator(v Validator) Option {
	return func(o *Orchestrator) {
		o.validator = v
	}
}

// NewOrchestrator registers the chat transition table and seals it
func NewOrchestrator(config Config, sessions Sessions, model llm.LanguageModel, logger *zap.Logger, opts ...Option) (*Orchestrator, error) {
	if sessions == nil {
		return nil, fmt.Errorf("chat orchestrator requires a session provider")
	}
	if model == nil {
		return nil, fmt.Errorf("chat orchestrator requires a language model")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	o := &Orchestrator{
		machine:   statemachine.New(statemachine.NewTable[ChatState, Event, *PipelineContext](), logger.Named("statemachine")),
		config:    config,
		validator: DefaultValidatorChain(config.Limits),
		converter: convert.NewConverter(logger),
		model:     model,
		sessions:  sessions,
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}

	handlers := map[ChatState]statemachine.Handler[ChatState, Event, *PipelineContext]{
		StateValidated:     o.validate,
		StateFileProcessed: o.processFiles,
		StateAnonymised:    o.anonymise,
		StateProcessed:     o.invokeModel,
		StateDeanonymised:  o.deanonymise,
		StateSuccess:       o.complete,
	}
	for _, s := range pipeline {
		if err := o.machine.AddTransition(s.from, s.success, s.to, handlers[s.to]); err != nil {
			return nil, fmt.Errorf("failed to register %s: %w", s.success, err)
		}
		if err := o.machine.AddTransition(s.from, s.failure, StateFailure, o.recordFailure); err != nil {
			return nil, fmt.Errorf("failed to register %s: %w", s.failure, err)
		}
	}
	o.machine.Seal()

	logger.Info("Chat orchestrator initialized",
		zap.Int("transitions", o.machine.Table().Len()),
		zap.Bool("strict_privacy", config.StrictPrivacy))

	return o, nil
}

// Transitions lists the registered transitions in registration order
func (o *Orchestrator) Transitions() []statemachine.Transition[ChatState, Event, *PipelineContext] {
	return o.machine.Table().All()
}

// Process runs req to a terminal state. On FAILURE the result carries the
// generic failure message and the returned *Error classifies the cause.
func (o *Orchestrator) Process(ctx context.Context, req Request) (*Result, error) {
	return o.run(ctx, req, nil)
}

// Stream is Process with a progress Thought delivered to sink after every
// committed transition. sink runs on the calling goroutine.
func (o *Orchestrator) Stream(ctx context.Context, req Request, sink func(Thought)) (*Result, error) {
	return o.run(ctx, req, sink)
}

func (o *Orchestrator) run(ctx context.Context, req Request, sink func(Thought)) (*Result, error) {
	if req.CorrelationID == "" {
		req.CorrelationID = uuid.NewString()
	}
	logger := o.logger.With(zap.String("correlation_id", req.CorrelationID))

	sessionID, resolver, err := o.sessions.Acquire(ctx, req.SessionID)
	if err != nil {
		logger.Error("Failed to acquire session", zap.Error(err))
		o.emit(sink, StateFailure, GenericFailureMessage)
		return &Result{
			Response:      GenericFailureMessage,
			State:         StateFailure,
			CorrelationID: req.CorrelationID,
			SessionID:     req.SessionID,
		}, classify(StatePending, err)
	}
	logger = logger.With(zap.String("session_id", sessionID))
	defer func() {
		if err := o.sessions.Release(context.WithoutCancel(ctx), sessionID, resolver); err != nil {
			logger.Warn("Failed to release session", zap.Error(err))
		}
	}()

	pc := newPipelineContext(req, sessionID, resolver, o.now())
	logger.Info("Starting chat processing",
		zap.Int("files", len(req.Files)),
		zap.String("state", string(StatePending)))

	state := StatePending
	for _, s := range pipeline {
		err := ctx.Err()
		if err == nil {
			next, terr := o.trigger(ctx, pc, state, s.success)
			if terr == nil {
				state = next
				o.emit(sink, state, thoughtFor(state, pc))
				continue
			}
			err = terr
		}
		return o.fail(ctx, logger, pc, state, s.failure, err, sink)
	}

	logger.Info("Chat processing completed",
		zap.String("state", string(state)),
		zap.Int("warnings", len(pc.Warnings)),
		zap.Duration("duration", o.now().Sub(pc.StartedAt)))

	return &Result{
		Response:      pc.Deanonymized,
		State:         state,
		CorrelationID: pc.CorrelationID,
		SessionID:     pc.SessionID,
		Warnings:      pc.Warnings,
		Usage:         pc.Usage,
	}, nil
}

func (o *Orchestrator) fail(ctx context.Context, logger *zap.Logger, pc *PipelineContext, state ChatState, event Event, cause error, sink func(Thought)) (*Result, error) {
	pc.FailureReason = failureReason(cause)

	if _, err := o.trigger(context.WithoutCancel(ctx), pc, state, event); err != nil {
		logger.Error("Failed to record failure transition",
			zap.String("state", string(state)),
			zap.String("event", string(event)),
			zap.Error(err))
	}

	chatErr := classify(state, cause)
	if chatErr.Kind == KindValidation {
		logger.Warn("Chat request rejected",
			zap.String("stage", string(state)),
			zap.String("reason", pc.FailureReason))
	} else {
		logger.Error("Chat processing failed",
			zap.String("stage", string(state)),
			zap.String("kind", string(chatErr.Kind)),
			zap.Error(cause))
	}

	o.emit(sink, StateFailure, GenericFailureMessage)

	return &Result{
		Response:      GenericFailureMessage,
		State:         StateFailure,
		CorrelationID: pc.CorrelationID,
		SessionID:     pc.SessionID,
		Warnings:      pc.Warnings,
	}, chatErr
}

func (o *Orchestrator) trigger(ctx context.Context, pc *PipelineContext, from ChatState, event Event) (ChatState, error) {
	start := o.now()
	to, err := o.machine.Trigger(ctx, from, event, pc)

	ev := TransitionEvent{
		CorrelationID: pc.CorrelationID,
		SessionID:     pc.SessionID,
		From:          from,
		Event:         event,
		To:            to,
		Committed:     err == nil,
		Warnings:      len(pc.Warnings),
		Elapsed:       o.now().Sub(start),
		Timestamp:     o.now(),
	}
	if err != nil {
		ev.Error = failureReason(err)
	}
	for _, obs := range o.observers {
		obs.OnTransition(ctx, ev)
	}
	return to, err
}

func (o *Orchestrator) emit(sink func(Thought), stage ChatState, message string) {
	if sink == nil {
		return
	}
	sink(Thought{Stage: stage, Message: message, Timestamp: o.now()})
}

func (o *Orchestrator) degrade(pc *PipelineContext, stage ChatState, message string, err error) {
	o.logger.Warn("Chat stage degraded",
		zap.String("correlation_id", pc.CorrelationID),
		zap.String("session_id", pc.SessionID),
		zap.String("stage", string(stage)),
		zap.String("warning", message),
		zap.Error(err))
	pc.warn(stage, message)
}

func (o *Orchestrator) validate(ctx context.Context, from, to ChatState, event Event, pc *PipelineContext) error {
	if err := o.validator.Validate(&pc.Request); err != nil {
		return err
	}
	pc.Stamps[to] = o.now()
	return nil
}

func (o *Orchestrator) processFiles(ctx context.Context, from, to ChatState, event Event, pc *PipelineContext) error {
	parts := make([]string, 0, len(pc.Request.Files)+1)
	if strings.TrimSpace(pc.Request.Prompt) != "" {
		parts = append(parts, pc.Request.Prompt)
	}
	for _, f := range pc.Request.Files {
		if md := o.converter.Convert(ctx, f); md != "" {
			parts = append(parts, md)
		}
	}
	pc.Combined = strings.Join(parts, "\n\n")
	pc.Stamps[to] = o.now()
	return nil
}

func (o *Orchestrator) anonymise(ctx context.Context, from, to ChatState, event Event, pc *PipelineContext) error {
	anonymized := pc.Combined
	if err := pc.resolver.Analyze(ctx, pc.Combined); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if o.config.StrictPrivacy {
			return fmt.Errorf("anonymising request: %w", err)
		}
		o.degrade(pc, to, "entity analysis unavailable; request forwarded without anonymisation", err)
	} else {
		anonymized = pc.resolver.Anonymize(pc.Combined)
	}
	pc.Anonymized = anonymized
	pc.Stamps[to] = o.now()
	return nil
}

func (o *Orchestrator) invokeModel(ctx context.Context, from, to ChatState, event Event, pc *PipelineContext) error {
	messages := make([]llm.Message, 0, 2)
	if o.config.SystemPrompt != "" {
		messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: o.config.SystemPrompt})
	}
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: pc.Anonymized})

	resp, err := o.model.Invoke(ctx, messages)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		o.degrade(pc, to, "language model unavailable; fallback response used", err)
		pc.LLMOutput = fallbackResponse(pc)
	} else {
		pc.LLMOutput = resp.Content
		pc.Usage = resp.Usage
	}
	pc.Stamps[to] = o.now()
	return nil
}

func (o *Orchestrator) deanonymise(ctx context.Context, from, to ChatState, event Event, pc *PipelineContext) error {
	pc.Deanonymized = pc.resolver.Deanonymize(pc.LLMOutput)
	pc.Stamps[to] = o.now()
	return nil
}

func (o *Orchestrator) complete(ctx context.Context, from, to ChatState, event Event, pc *PipelineContext) error {
	pc.Stamps[to] = o.now()
	return nil
}

func (o *Orchestrator) recordFailure(ctx context.Context, from, to ChatState, event Event, pc *PipelineContext) error {
	pc.Stamps[to] = o.now()
	return nil
}

func fallbackResponse(pc *PipelineContext) string {
	var b strings.Builder
	b.WriteString("Response to: ")
	b.WriteString(pc.Anonymized)
	if n := len(pc.Request.Files); n > 0 {
		fmt.Fprintf(&b, " (with %d files)", n)
	}
	b.WriteString(" | This is a fallback response; the language model is currently unavailable.")
	return b.String()
}

func thoughtFor(state ChatState, pc *PipelineContext) string {
	switch state {
	case StateValidated:
		return "Request validated!"
	case StateFileProcessed:
		if n := len(pc.Request.Files); n > 0 {
			return fmt.Sprintf("Processed %d file(s)", n)
		}
		return "No files to process"
	case StateAnonymised:
		return "Anonymised prompt is now " + pc.Anonymized
	case StateProcessed:
		return "Original LLM response is " + pc.LLMOutput
	case StateDeanonymised:
		return "Response deanonymised"
	case StateSuccess:
		return "Success!"
	}
	return string(state)
}

// failureReason keeps validation messages and drops the state machine
// wrapping for everything else
func failureReason(err error) string {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Message
	}
	var se *statemachine.Error
	if errors.As(err, &se) && se.Err != nil {
		return se.Err.Error()
	}
	return err.Error()
}
