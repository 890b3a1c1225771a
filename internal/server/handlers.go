package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/raaihank/sentinel-chat/internal/chat"
	"github.com/raaihank/sentinel-chat/internal/session"
)

// ChatResponse is the body of a successful chat turn
type ChatResponse struct {
	Response  string `json:"response"`
	SessionID string `json:"session_id"`
}

// decodeChatRequest reads and pre-validates the request body. It writes the
// error response itself and reports false when the request cannot proceed.
func (s *Server) decodeChatRequest(w http.ResponseWriter, r *http.Request) (chat.Request, bool) {
	var req chat.Request

	body := r.Body
	if limit := s.config.Server.MaxBodyBytes; limit > 0 {
		body = http.MaxBytesReader(w, r.Body, limit)
	}
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, r, http.StatusRequestEntityTooLarge, "PayloadTooLarge",
				fmt.Sprintf("Request body exceeds %d bytes", tooLarge.Limit))
			return req, false
		}
		writeValidationError(w, r, "body", "Request body must be a JSON object with prompt, files and session_id")
		return req, false
	}

	if req.SessionID != "" && !session.ValidID(req.SessionID) {
		writeValidationError(w, r, "session_id", "Invalid session id")
		return req, false
	}

	req.CorrelationID = CorrelationID(r.Context())
	return req, true
}

// handleChat runs one chat turn
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeChatRequest(w, r)
	if !ok {
		return
	}

	result, err := s.chat.Process(r.Context(), req)
	if err != nil {
		s.writeChatError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, ChatResponse{Response: result.Response, SessionID: result.SessionID})
}

// writeChatError maps a failed turn onto the error envelope. Only validation
// messages reach the client; everything else is the generic failure text.
func (s *Server) writeChatError(w http.ResponseWriter, r *http.Request, err error) {
	log := s.logger.WithRequestID(CorrelationID(r.Context()))

	var chatErr *chat.Error
	if errors.As(err, &chatErr) {
		switch chatErr.Kind {
		case chat.KindValidation:
			if ve, ok := chatErr.Validation(); ok {
				writeValidationError(w, r, ve.Field, ve.Message)
				return
			}
		case chat.KindCanceled:
			if errors.Is(err, context.DeadlineExceeded) {
				writeError(w, r, http.StatusGatewayTimeout, "GatewayTimeout", chat.GenericFailureMessage)
				return
			}
			// the client went away; nobody is left to read a response
			log.Info("Chat request cancelled by client", zap.String("stage", string(chatErr.Stage)))
			return
		}
	}

	log.Error("Chat request failed", zap.Error(err))
	writeError(w, r, http.StatusInternalServerError, "InternalServerError", chat.GenericFailureMessage)
}

// handleChatStream runs one chat turn and reports progress as server-sent
// events: a "thought" per pipeline stage, then "content" or "error", then "end".
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeChatRequest(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, "InternalServerError", "Streaming is not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	send := func(event string, data any) {
		payload, err := json.Marshal(data)
		if err != nil {
			return
		}
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload)
		flusher.Flush()
	}

	result, err := s.chat.Stream(r.Context(), req, func(t chat.Thought) {
		send("thought", t)
	})

	switch {
	case err == nil:
		send("content", ChatResponse{Response: result.Response, SessionID: result.SessionID})
	case r.Context().Err() != nil:
		return
	default:
		resp := newErrorResponse(r, http.StatusInternalServerError, "InternalServerError", chat.GenericFailureMessage)
		var chatErr *chat.Error
		if errors.As(err, &chatErr) {
			if ve, ok := chatErr.Validation(); ok {
				resp = newErrorResponse(r, http.StatusBadRequest, "ValidationError", ve.Message)
				resp.Field = ve.Field
			}
		}
		if resp.StatusCode == http.StatusInternalServerError {
			s.logger.WithRequestID(CorrelationID(r.Context())).Error("Chat stream failed", zap.Error(err))
		}
		send("error", resp)
	}
	send("end", map[string]string{"correlation_id": CorrelationID(r.Context())})
}

// handleDeleteSession forgets a conversation
func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.sessions.Delete(r.Context(), id); err != nil {
		if errors.Is(err, session.ErrInvalidID) {
			writeValidationError(w, r, "id", "Invalid session id")
			return
		}
		s.logger.WithRequestID(CorrelationID(r.Context())).Error("Failed to delete session", zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "InternalServerError", chat.GenericFailureMessage)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleInfo handles info requests
func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	info := map[string]any{
		"name":               "sentinel-chat",
		"version":            Version,
		"uptime":             time.Since(s.startedAt).Round(time.Second).String(),
		"llm_provider":       s.config.LLM.Provider,
		"recognizer":         s.config.Recognizer.Type,
		"embedding":          s.config.Embedding.Type,
		"entity_threshold":   s.config.Entity.Threshold,
		"strict_privacy":     s.config.Chat.StrictPrivacy,
		"active_sessions":    s.sessions.Len(),
		"audit_enabled":      s.config.Audit.Enabled,
		"rate_limit_enabled": s.config.RateLimit.Enabled,
	}
	if s.hub != nil {
		info["dashboard_clients"] = s.hub.GetStats().ActiveConnections
	}
	writeJSON(w, http.StatusOK, info)
}
