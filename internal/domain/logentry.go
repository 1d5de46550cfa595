package domain

import (
	"time"
)

// ConversationLogEntry is the durable record of one chat exchange. Entries
// are append-only; nothing updates or deletes them after the insert.
type ConversationLogEntry struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	SessionID      string    `json:"session_id"`
	Prompt         string    `json:"prompt"`
	Response       string    `json:"response"`
	Source         string    `json:"source"` // "model" or "fallback"
	ResponseTimeMs int64     `json:"response_time_ms,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}
