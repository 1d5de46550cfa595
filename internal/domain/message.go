package domain

import (
	"time"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Reply sources recorded in message metadata.
const (
	SourceModel    = "model"
	SourceFallback = "fallback"
)

// MessageMetadata annotates an assistant message with how it was produced.
type MessageMetadata struct {
	Source         string  `json:"source"`
	Confidence     float64 `json:"confidence,omitempty"`
	ResponseTimeMs int64   `json:"response_time_ms,omitempty"`
	Tokens         int     `json:"tokens,omitempty"`
}

// Message is a single entry in a chat session. Messages are append-only and
// never edited or reordered after being added.
type Message struct {
	ID        string           `json:"id"`
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	Timestamp time.Time        `json:"timestamp"`
	Metadata  *MessageMetadata `json:"metadata,omitempty"`
}
