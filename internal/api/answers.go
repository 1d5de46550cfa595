package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/echosofme/echos-server/internal/domain"
	"github.com/echosofme/echos-server/internal/identity"
	"github.com/echosofme/echos-server/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

const maxAnswerLength = 10000

// AnswersHandler manages the stored answers that feed persona replies.
type AnswersHandler struct {
	*Handler
}

// NewAnswersHandler creates an answers handler.
func NewAnswersHandler(base *Handler) *AnswersHandler {
	return &AnswersHandler{Handler: base}
}

// RegisterRoutes registers answer routes (requires identity middleware).
func (h *AnswersHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/answers", func(r chi.Router) {
		r.Get("/", h.List)
		r.Post("/", h.Submit)
	})
	r.Get("/api/me", h.GetMe)
	r.Get("/api/config", h.GetConfig)
}

// List handles GET /api/answers.
func (h *AnswersHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	q := store.AnswerQuery{
		Category: r.URL.Query().Get("category"),
		Limit:    100,
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 && parsed <= 500 {
			q.Limit = parsed
		}
	}

	answers, err := h.repo.ListAnswers(r.Context(), userID, q)
	if err != nil {
		slog.Error("Failed to list answers", "user_id", userID, "error", err)
		Error(w, http.StatusInternalServerError, "internal error")
		return
	}
	if answers == nil {
		answers = []*domain.StoredAnswer{}
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"answers": answers,
	})
}

type submitAnswerRequest struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
	Category string `json:"category"`
}

// Submit handles POST /api/answers.
func (h *AnswersHandler) Submit(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req submitAnswerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	req.Question = strings.TrimSpace(req.Question)
	req.Answer = strings.TrimSpace(req.Answer)
	if req.Question == "" || req.Answer == "" {
		Error(w, http.StatusBadRequest, "question and answer are required")
		return
	}
	if len(req.Answer) > maxAnswerLength {
		Error(w, http.StatusBadRequest, "answer too long")
		return
	}

	answer := &domain.StoredAnswer{
		ID:        uuid.NewString(),
		UserID:    userID,
		Question:  req.Question,
		Answer:    req.Answer,
		Category:  strings.TrimSpace(req.Category),
		WordCount: domain.CountWords(req.Answer),
		CreatedAt: time.Now(),
	}

	if err := h.repo.InsertAnswer(r.Context(), answer); err != nil {
		slog.Error("Failed to insert answer", "user_id", userID, "error", err)
		Error(w, http.StatusInternalServerError, "internal error")
		return
	}

	slog.Info("Answer stored",
		"user_id", userID,
		"answer_id", answer.ID,
		"category", answer.Category,
		"word_count", answer.WordCount,
	)

	JSON(w, http.StatusCreated, map[string]interface{}{
		"answer": answer,
	})
}

// GetMe returns the current user's information.
func (h *AnswersHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	user, err := h.repo.GetUser(r.Context(), userID)
	if err != nil || user == nil {
		Error(w, http.StatusUnauthorized, "user not found")
		return
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"user_id": user.UserID,
		"name":    user.DisplayName(),
		"role":    user.Role,
	})
}

// GetConfig returns the server configuration for the frontend.
func (h *AnswersHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, map[string]interface{}{
		"development": h.isDevelopment(),
	})
}
