package domain

import (
	"strings"
	"time"
)

// StoredAnswer is a reflective question a user has answered. Answers are the
// persona's source material: they are read in bulk to build model context and
// to synthesize fallback replies.
type StoredAnswer struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Question  string    `json:"question"`
	Answer    string    `json:"answer"`
	Category  string    `json:"category,omitempty"`
	WordCount int       `json:"word_count"`
	CreatedAt time.Time `json:"created_at"`
}

// CountWords counts whitespace-separated words in an answer's text.
func CountWords(text string) int {
	return len(strings.Fields(text))
}

// CountWords recomputes the answer's word count from its text.
func (a *StoredAnswer) CountWords() int {
	return CountWords(a.Answer)
}
