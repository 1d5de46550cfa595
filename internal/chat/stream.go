package chat

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/echosofme/echos-server/internal/domain"
	"github.com/echosofme/echos-server/internal/identity"
)

// StreamHandler serves chat over a WebSocket, delivering the assistant reply
// in small chunks at a typing cadence.
type StreamHandler struct {
	orch          Sender
	allowedOrigin string
	isDev         bool
	chunkDelay    time.Duration
}

// NewStreamHandler creates a WebSocket chat handler.
func NewStreamHandler(orch Sender, allowedOrigin string, isDev bool, chunkDelay time.Duration) *StreamHandler {
	if chunkDelay <= 0 {
		chunkDelay = 75 * time.Millisecond
	}
	return &StreamHandler{
		orch:          orch,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
		chunkDelay:    chunkDelay,
	}
}

// streamClientMessage is what the browser sends over the socket.
type streamClientMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	Content   string `json:"content,omitempty"`
}

// streamServerMessage is what the server sends back.
type streamServerMessage struct {
	Type      string                  `json:"type"` // "chunk", "done" or "error"
	SessionID string                  `json:"session_id,omitempty"`
	Content   string                  `json:"content,omitempty"`
	Metadata  *domain.MessageMetadata `json:"metadata,omitempty"`
	Error     string                  `json:"error,omitempty"`
}

// ServeHTTP implements http.Handler for the WebSocket upgrade.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "user_id", userID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "chat ended"); closeErr != nil {
			slog.Debug("WebSocket close error", "error", closeErr)
		}
	}()

	slog.Info("Chat stream connected", "user_id", userID)

	ctx := r.Context()
	for {
		var msg streamClientMessage
		if err := wsjson.Read(ctx, ws, &msg); err != nil {
			if ctx.Err() == nil && websocket.CloseStatus(err) == -1 {
				slog.Debug("WebSocket read error", "error", err, "user_id", userID)
			}
			return
		}

		if msg.Type != "message" {
			continue
		}

		h.handleTurn(ctx, ws, userID, msg)
	}
}

func (h *StreamHandler) handleTurn(ctx context.Context, ws *websocket.Conn, userID string, msg streamClientMessage) {
	sess, reply, err := h.orch.SendMessage(ctx, userID, msg.SessionID, msg.Content)
	if err != nil {
		errMsg := "internal error"
		if errors.Is(err, ErrEmptyMessage) || errors.Is(err, ErrUnknownUser) {
			errMsg = err.Error()
		} else {
			slog.Error("Chat stream turn failed", "user_id", userID, "error", err)
		}
		if writeErr := wsjson.Write(ctx, ws, streamServerMessage{Type: "error", Error: errMsg}); writeErr != nil {
			slog.Debug("failed to write stream error", "error", writeErr)
		}
		return
	}

	for _, chunk := range chunkContent(reply.Content) {
		if err := wsjson.Write(ctx, ws, streamServerMessage{
			Type:      "chunk",
			SessionID: sess.ID,
			Content:   chunk,
		}); err != nil {
			slog.Debug("failed to write stream chunk", "error", err, "user_id", userID)
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(h.chunkDelay):
		}
	}

	if err := wsjson.Write(ctx, ws, streamServerMessage{
		Type:      "done",
		SessionID: sess.ID,
		Metadata:  reply.Metadata,
	}); err != nil {
		slog.Debug("failed to write stream done", "error", err, "user_id", userID)
	}
}

// chunkContent splits a reply into word groups so the client can render a
// typing effect without per-character traffic.
func chunkContent(content string) []string {
	const wordsPerChunk = 6

	words := strings.Fields(content)
	if len(words) == 0 {
		return nil
	}

	var chunks []string
	for i := 0; i < len(words); i += wordsPerChunk {
		end := i + wordsPerChunk
		if end > len(words) {
			end = len(words)
		}
		chunk := strings.Join(words[i:end], " ")
		if end < len(words) {
			chunk += " "
		}
		chunks = append(chunks, chunk)
	}
	return chunks
}

func (h *StreamHandler) checkOrigin(r *http.Request) bool {
	if h.isDev || h.allowedOrigin == "" {
		return true
	}
	origin := r.Header.Get("Origin")
	return origin == "" || strings.HasPrefix(origin, h.allowedOrigin)
}
