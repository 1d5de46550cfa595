// Package inference talks to the external model engine that generates
// persona replies.
package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrEngineUnavailable covers spawn failures, non-zero exits and
	// timeouts. Callers recover via fallback synthesis.
	ErrEngineUnavailable = errors.New("inference engine unavailable")
	// ErrMalformedOutput indicates the engine produced output that could
	// not be parsed as a reply.
	ErrMalformedOutput = errors.New("malformed inference output")
	// ErrEmptyResponse indicates the engine replied with no usable text.
	ErrEmptyResponse = errors.New("inference returned empty response")
)

// ContextAnswer is one stored answer passed to the engine as persona context.
type ContextAnswer struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
	Category string `json:"category,omitempty"`
}

// RequestContext carries the persona context for one generation.
type RequestContext struct {
	UserName string          `json:"user_name"`
	UserRole string          `json:"user_role,omitempty"`
	Answers  []ContextAnswer `json:"answers"`
}

// Request is the JSON document written to the engine's stdin.
type Request struct {
	Message string         `json:"message"`
	Context RequestContext `json:"context"`
}

// Reply is the single JSON document the engine writes to stdout.
type Reply struct {
	Response        string  `json:"response"`
	TokensGenerated int     `json:"tokens_generated,omitempty"`
	GenerationTime  float64 `json:"generation_time,omitempty"` // seconds
	Error           string  `json:"error,omitempty"`
}

// Client generates a persona reply from a message and context.
type Client interface {
	Generate(ctx context.Context, req Request) (*Reply, error)
	Close()
}

// parseReply decodes the engine's stdout. The engine is supposed to emit a
// single JSON object, but model warmup chatter sometimes precedes it, so the
// last JSON-looking line is tried before giving up.
func parseReply(stdout []byte) (*Reply, error) {
	var reply Reply
	if err := json.Unmarshal(bytes.TrimSpace(stdout), &reply); err != nil {
		line := lastJSONLine(stdout)
		if line == "" {
			return nil, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
		}
		if err := json.Unmarshal([]byte(line), &reply); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
		}
	}

	if reply.Error != "" {
		return nil, fmt.Errorf("%w: %s", ErrEngineUnavailable, reply.Error)
	}
	if strings.TrimSpace(reply.Response) == "" {
		return nil, ErrEmptyResponse
	}
	return &reply, nil
}

func lastJSONLine(stdout []byte) string {
	lines := strings.Split(strings.TrimSpace(string(stdout)), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if strings.HasPrefix(line, "{") {
			return line
		}
	}
	return ""
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
