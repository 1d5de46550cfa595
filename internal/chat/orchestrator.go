// Package chat turns user messages into persona replies. It orchestrates the
// in-memory session, the external inference engine, the deterministic
// fallback, and the durable conversation log.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/echosofme/echos-server/internal/domain"
	"github.com/echosofme/echos-server/internal/inference"
	"github.com/echosofme/echos-server/internal/session"
	"github.com/echosofme/echos-server/internal/store"
	"github.com/google/uuid"
)

var (
	// ErrEmptyMessage rejects messages that are empty after trimming. This
	// is the only error surfaced to the end user; everything else degrades
	// to a fallback reply.
	ErrEmptyMessage = errors.New("message is required")
	// ErrUnknownUser indicates the user row does not exist.
	ErrUnknownUser = errors.New("user not found")
)

// Config holds orchestrator tuning knobs.
type Config struct {
	// ContextAnswerLimit bounds how many recent stored answers are passed
	// to the inference engine as persona context.
	ContextAnswerLimit int
	// FallbackAnswerLimit bounds how many stored answers a fallback reply
	// is synthesized from.
	FallbackAnswerLimit int
}

// DefaultConfig returns default orchestrator configuration.
func DefaultConfig() Config {
	return Config{
		ContextAnswerLimit:  20,
		FallbackAnswerLimit: 3,
	}
}

// Orchestrator coordinates one chat turn end to end.
type Orchestrator struct {
	repo     store.Repository
	sessions session.Store
	infer    inference.Client // nil when inference is disabled
	log      ConversationLogger
	cfg      Config
}

// NewOrchestrator creates a chat orchestrator. infer may be nil, in which
// case every reply is synthesized from stored answers.
func NewOrchestrator(repo store.Repository, sessions session.Store, infer inference.Client, convlog ConversationLogger, cfg Config) *Orchestrator {
	if convlog == nil {
		convlog = noopConversationLogger{}
	}
	if cfg.ContextAnswerLimit <= 0 {
		cfg.ContextAnswerLimit = DefaultConfig().ContextAnswerLimit
	}
	if cfg.FallbackAnswerLimit <= 0 {
		cfg.FallbackAnswerLimit = DefaultConfig().FallbackAnswerLimit
	}
	return &Orchestrator{
		repo:     repo,
		sessions: sessions,
		infer:    infer,
		log:      convlog,
		cfg:      cfg,
	}
}

// Sessions returns the underlying session store.
func (o *Orchestrator) Sessions() session.Store {
	return o.sessions
}

// SendMessage turns one user message into one assistant reply. The returned
// session carries the (possibly newly issued) session ID.
func (o *Orchestrator) SendMessage(ctx context.Context, userID, sessionID, text string) (*session.Session, *domain.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil, ErrEmptyMessage
	}

	user, err := o.repo.GetUser(ctx, userID)
	if err != nil {
		return nil, nil, fmt.Errorf("load user: %w", err)
	}
	if user == nil {
		return nil, nil, ErrUnknownUser
	}

	sess, _ := o.sessions.GetOrCreate(sessionID, userID)

	// Turns on the same session are serialized so the transcript only ever
	// grows by whole exchanges, in completion order.
	sess.LockTurn()
	defer sess.UnlockTurn()

	if sess.Len() == 0 {
		sess.Append(welcomeMessage(user))
	}

	answers, err := o.repo.ListAnswers(ctx, userID, store.AnswerQuery{Limit: o.cfg.ContextAnswerLimit})
	if err != nil {
		// Context gathering is best effort; a reply without context beats
		// no reply.
		slog.Warn("failed to load stored answers", "user_id", userID, "error", err)
		answers = nil
	}

	start := time.Now()
	content, meta := o.generateReply(ctx, user, answers, text)
	meta.ResponseTimeMs = time.Since(start).Milliseconds()

	now := time.Now()
	userMsg := domain.Message{
		ID:        uuid.NewString(),
		Role:      domain.RoleUser,
		Content:   text,
		Timestamp: now,
	}
	assistantMsg := domain.Message{
		ID:        uuid.NewString(),
		Role:      domain.RoleAssistant,
		Content:   content,
		Timestamp: now,
		Metadata:  &meta,
	}

	// User then assistant, as one atomic batch.
	sess.Append(userMsg, assistantMsg)

	o.log.Log(domain.ConversationLogEntry{
		ID:             uuid.NewString(),
		UserID:         userID,
		SessionID:      sess.ID,
		Prompt:         text,
		Response:       content,
		Source:         meta.Source,
		ResponseTimeMs: meta.ResponseTimeMs,
		CreatedAt:      now,
	})

	return sess, &assistantMsg, nil
}

// generateReply asks the inference engine for a reply and synthesizes a
// fallback from stored answers when the engine cannot deliver one.
func (o *Orchestrator) generateReply(ctx context.Context, user *domain.User, answers []*domain.StoredAnswer, text string) (string, domain.MessageMetadata) {
	if o.infer != nil {
		reply, err := o.infer.Generate(ctx, buildRequest(user, answers, text))
		if err == nil {
			return reply.Response, domain.MessageMetadata{
				Source: domain.SourceModel,
				Tokens: reply.TokensGenerated,
			}
		}
		slog.Warn("inference failed, using fallback synthesis",
			"user_id", user.UserID,
			"error", err,
		)
	}

	content, confidence := SynthesizeFallback(text, answers, o.cfg.FallbackAnswerLimit)
	return content, domain.MessageMetadata{
		Source:     domain.SourceFallback,
		Confidence: confidence,
	}
}

func buildRequest(user *domain.User, answers []*domain.StoredAnswer, text string) inference.Request {
	ctxAnswers := make([]inference.ContextAnswer, 0, len(answers))
	for _, a := range answers {
		ctxAnswers = append(ctxAnswers, inference.ContextAnswer{
			Question: a.Question,
			Answer:   a.Answer,
			Category: a.Category,
		})
	}
	return inference.Request{
		Message: text,
		Context: inference.RequestContext{
			UserName: user.Name,
			UserRole: user.Role,
			Answers:  ctxAnswers,
		},
	}
}

func welcomeMessage(user *domain.User) domain.Message {
	return domain.Message{
		ID:   uuid.NewString(),
		Role: domain.RoleAssistant,
		Content: fmt.Sprintf(
			"Hello, this is %s. Ask me about the memories and reflections I've shared, and I'll answer in my own words.",
			user.DisplayName(),
		),
		Timestamp: time.Now(),
	}
}
