// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/echosofme/echos-server/internal/domain"
)

// AnswerQuery bounds and filters a stored-answer listing.
type AnswerQuery struct {
	// Category filters answers by category when non-empty.
	Category string
	// Limit caps the number of returned answers. Zero or negative means no cap.
	Limit int
}

// Repository defines the interface for persisting users, stored answers and
// the conversation log.
type Repository interface {
	// GetUser retrieves a user by their user ID. Returns (nil, nil) if the
	// user does not exist.
	GetUser(ctx context.Context, userID string) (*domain.User, error)

	// UpsertUser creates or updates a user record.
	UpsertUser(ctx context.Context, user *domain.User) error

	// UpdateLastSeen updates the last_seen_at timestamp for a user.
	UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error

	// ListAnswers retrieves a user's stored answers, most recent first.
	ListAnswers(ctx context.Context, userID string, q AnswerQuery) ([]*domain.StoredAnswer, error)

	// InsertAnswer stores a newly submitted answer.
	InsertAnswer(ctx context.Context, answer *domain.StoredAnswer) error

	// AppendConversationLog inserts one conversation log entry. The log is
	// append-only; entries are never updated or deleted.
	AppendConversationLog(ctx context.Context, entry *domain.ConversationLogEntry) error

	// ListConversationLog retrieves a user's most recent log entries, newest
	// first, capped by limit.
	ListConversationLog(ctx context.Context, userID string, limit int) ([]*domain.ConversationLogEntry, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
