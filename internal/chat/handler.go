package chat

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/echosofme/echos-server/internal/config"
	"github.com/echosofme/echos-server/internal/domain"
	"github.com/echosofme/echos-server/internal/identity"
	"github.com/echosofme/echos-server/internal/session"
	"github.com/echosofme/echos-server/internal/store"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

// defaultMaxRequestBodySize is the default maximum allowed request body size (1MB).
const defaultMaxRequestBodySize = 1 << 20 // 1MB

// Sender is the orchestrator surface the HTTP and WebSocket transports need.
type Sender interface {
	SendMessage(ctx context.Context, userID, sessionID, text string) (*session.Session, *domain.Message, error)
}

// Handler handles chat HTTP requests.
type Handler struct {
	orch        Sender
	sessions    session.Store
	repo        store.Repository
	rateLimiter *RateLimiter
	maxBodySize int64
}

// NewHandler creates a chat handler.
func NewHandler(orch Sender, sessions session.Store, repo store.Repository, cfg *config.Config) *Handler {
	rateLimitRequests := 20
	rateLimitWindow := time.Minute
	maxBodySize := int64(defaultMaxRequestBodySize)

	if cfg != nil {
		rateLimitRequests = cfg.RateLimit.RequestsPerWindow
		rateLimitWindow = cfg.RateLimit.WindowDuration
		if cfg.Chat.MaxRequestBodySize > 0 {
			maxBodySize = cfg.Chat.MaxRequestBodySize
		}
	}

	return &Handler{
		orch:        orch,
		sessions:    sessions,
		repo:        repo,
		rateLimiter: NewRateLimiter(rateLimitRequests, rateLimitWindow),
		maxBodySize: maxBodySize,
	}
}

type chatRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

type chatResponse struct {
	SessionID string          `json:"session_id"`
	Message   *domain.Message `json:"message"`
}

// HandleSend handles POST /api/chat requests.
func (h *Handler) HandleSend(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		http.Error(w, `{"error": "unauthorized"}`, http.StatusUnauthorized)
		return
	}

	if !h.rateLimiter.Allow(userID) {
		http.Error(w, `{"error": "rate limit exceeded"}`, http.StatusTooManyRequests)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "invalid request body"}`, http.StatusBadRequest)
		return
	}

	reqID := chiMiddleware.GetReqID(r.Context())
	slog.Info("Chat request",
		"user_id", userID,
		"session_id", req.SessionID,
		"message_length", len(req.Message),
		"request_id", reqID,
	)

	sess, reply, err := h.orch.SendMessage(r.Context(), userID, req.SessionID, req.Message)
	switch {
	case errors.Is(err, ErrEmptyMessage):
		http.Error(w, `{"error": "message is required"}`, http.StatusBadRequest)
		return
	case errors.Is(err, ErrUnknownUser):
		http.Error(w, `{"error": "user not found"}`, http.StatusUnauthorized)
		return
	case err != nil:
		slog.Error("Chat turn failed", "user_id", userID, "error", err, "request_id", reqID)
		http.Error(w, `{"error": "internal error"}`, http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, chatResponse{
		SessionID: sess.ID,
		Message:   reply,
	})
}

// HandleMessages handles GET /api/chat/{sessionID}/messages requests.
func (h *Handler) HandleMessages(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		http.Error(w, `{"error": "unauthorized"}`, http.StatusUnauthorized)
		return
	}

	sessionID := chi.URLParam(r, "sessionID")
	sess, ok := h.sessions.Get(sessionID, userID)
	if !ok {
		http.Error(w, `{"error": "session not found"}`, http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session_id": sess.ID,
		"messages":   sess.Messages(),
	})
}

// HandleHistory handles GET /api/chat/history requests, serving the durable
// conversation log.
func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		http.Error(w, `{"error": "unauthorized"}`, http.StatusUnauthorized)
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 && parsed <= 500 {
			limit = parsed
		}
	}

	entries, err := h.repo.ListConversationLog(r.Context(), userID, limit)
	if err != nil {
		slog.Error("Failed to list conversation log", "user_id", userID, "error", err)
		http.Error(w, `{"error": "internal error"}`, http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []*domain.ConversationLogEntry{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
	})
}

// RegisterRoutes registers chat routes (requires identity middleware).
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api/chat", func(r chi.Router) {
		r.Post("/", h.HandleSend)
		r.Get("/history", h.HandleHistory)
		r.Get("/{sessionID}/messages", h.HandleMessages)
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode response", "error", err)
	}
}
