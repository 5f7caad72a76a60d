package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/lectern-ai/lectern/internal/chat"
	"github.com/lectern-ai/lectern/internal/log"
	"github.com/lectern-ai/lectern/internal/tool"
)

// MaxQueryLength bounds the accepted query body.
const MaxQueryLength = 10000

// Answerer runs one conversational turn. Implemented by chat.Chat.
type Answerer interface {
	Answer(ctx context.Context, sessionID uuid.UUID, query string) (*chat.Answer, error)
}

// SessionAllocator hands out new session identifiers. Implemented by
// session.Store.
type SessionAllocator interface {
	NewID() uuid.UUID
}

// QueryHandler handles the query endpoint.
type QueryHandler struct {
	answerer Answerer
	sessions SessionAllocator
	logger   log.Logger
}

// NewQueryHandler creates a query handler.
func NewQueryHandler(answerer Answerer, sessions SessionAllocator, logger log.Logger) *QueryHandler {
	return &QueryHandler{answerer: answerer, sessions: sessions, logger: logger}
}

// RegisterRoutes registers query routes on the given mux.
func (h *QueryHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/query", h.query)
}

// QueryRequest is the body of POST /api/query. A missing session_id
// allocates a fresh session, returned in the response for later turns.
type QueryRequest struct {
	Query     string `json:"query"`
	SessionID string `json:"session_id,omitempty"`
}

// QueryResponse is the body of a successful query.
type QueryResponse struct {
	Answer    string        `json:"answer"`
	SessionID string        `json:"session_id"`
	Sources   []tool.Source `json:"sources"`
}

func (h *QueryHandler) query(w http.ResponseWriter, r *http.Request) {
	if h.answerer == nil || h.sessions == nil {
		h.logger.Error("query handler not configured")
		writeError(w, http.StatusInternalServerError, "not_configured", "")
		return
	}

	var req QueryRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxQueryLength)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "missing_query", "query is required")
		return
	}

	var sessionID uuid.UUID
	if req.SessionID == "" {
		sessionID = h.sessions.NewID()
	} else {
		var err error
		if sessionID, err = uuid.Parse(req.SessionID); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_session_id", err.Error())
			return
		}
	}

	answer, err := h.answerer.Answer(r.Context(), sessionID, req.Query)
	if err != nil {
		// Client gone; nothing useful to write.
		if r.Context().Err() != nil {
			h.logger.Info("query abandoned", "session_id", sessionID)
			return
		}
		if errors.Is(err, chat.ErrToolRoundLimit) {
			h.logger.Error("query failed", "session_id", sessionID, "error", err)
			writeError(w, http.StatusInternalServerError, "query_failed",
				"the assistant could not complete the request, please retry")
			return
		}
		h.logger.Error("provider call failed", "session_id", sessionID, "error", err)
		writeError(w, http.StatusBadGateway, "provider_error", err.Error())
		return
	}

	sources := answer.Sources
	if sources == nil {
		sources = []tool.Source{}
	}
	writeJSON(w, http.StatusOK, QueryResponse{
		Answer:    answer.Text,
		SessionID: sessionID.String(),
		Sources:   sources,
	})
}
