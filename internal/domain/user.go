// Package domain contains core domain types for the Echos Of Me backend.
package domain

import (
	"time"
)

// User represents a family member whose stored answers seed the persona.
type User struct {
	UserID     string    `json:"user_id"`
	Name       string    `json:"name"`
	Role       string    `json:"role,omitempty"` // e.g. "parent", "grandparent"
	LastSeenAt time.Time `json:"last_seen_at"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// DisplayName returns the name used when addressing the user in chat.
func (u *User) DisplayName() string {
	if u.Name != "" {
		return u.Name
	}
	return "there"
}
