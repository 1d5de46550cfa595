package chat

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/echosofme/echos-server/internal/domain"
	"github.com/echosofme/echos-server/internal/shared"
	"github.com/echosofme/echos-server/internal/store"
	"github.com/google/uuid"
)

// ConversationLogger persists chat exchanges. Log never blocks the chat
// turn: entries are queued and written by a background worker, and a failed
// write costs a log line, not the reply.
type ConversationLogger interface {
	Log(entry domain.ConversationLogEntry)
	Close() error
}

// noopConversationLogger drops all entries. Used when logging is disabled.
type noopConversationLogger struct{}

func (noopConversationLogger) Log(domain.ConversationLogEntry) {}
func (noopConversationLogger) Close() error                    { return nil }

// NewNoopConversationLogger returns a logger that drops all entries.
func NewNoopConversationLogger() ConversationLogger {
	return noopConversationLogger{}
}

const (
	convlogWriteAttempts = 3
	convlogRetryDelay    = 100 * time.Millisecond
	convlogWriteTimeout  = 5 * time.Second
)

// asyncConversationLogger writes entries to the repository from a worker
// goroutine.
type asyncConversationLogger struct {
	repo   store.Repository
	queue  chan domain.ConversationLogEntry
	done   chan struct{}
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
}

// NewConversationLogger creates an async repository-backed conversation
// logger with the given queue size.
func NewConversationLogger(repo store.Repository, queueSize int, logger *slog.Logger) ConversationLogger {
	if logger == nil {
		logger = slog.Default()
	}
	if queueSize <= 0 {
		queueSize = 1000
	}

	l := &asyncConversationLogger{
		repo:   repo,
		queue:  make(chan domain.ConversationLogEntry, queueSize),
		done:   make(chan struct{}),
		logger: logger,
	}
	go l.run()
	return l
}

// Log enqueues an entry for persistence. When the queue is full the entry is
// dropped with a warning; chat availability wins over log durability.
func (l *asyncConversationLogger) Log(entry domain.ConversationLogEntry) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		l.logger.Warn("conversation log entry dropped after close", "user_id", entry.UserID)
		return
	}

	select {
	case l.queue <- entry:
	default:
		l.logger.Warn("conversation log queue full, dropping entry",
			"user_id", entry.UserID,
			"session_id", entry.SessionID,
		)
	}
}

// Close stops the worker after draining queued entries.
func (l *asyncConversationLogger) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	close(l.queue)
	l.mu.Unlock()

	<-l.done
	return nil
}

func (l *asyncConversationLogger) run() {
	defer close(l.done)

	for entry := range l.queue {
		l.write(entry)
	}
}

// write inserts one entry, retrying on SQLite contention.
func (l *asyncConversationLogger) write(entry domain.ConversationLogEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), convlogWriteTimeout)
	defer cancel()

	var err error
	for attempt := 0; attempt < convlogWriteAttempts; attempt++ {
		err = l.repo.AppendConversationLog(ctx, &entry)
		if err == nil {
			return
		}
		if !shared.IsSQLiteConflictError(err) {
			break
		}

		delay := convlogRetryDelay * time.Duration(1<<attempt)
		l.logger.Debug("conversation log write hit SQLITE_BUSY, retrying",
			"attempt", attempt+1,
			"delay", delay,
		)
		select {
		case <-ctx.Done():
			err = ctx.Err()
			attempt = convlogWriteAttempts
		case <-time.After(delay):
		}
	}

	l.logger.Warn("failed to persist conversation log entry",
		"user_id", entry.UserID,
		"session_id", entry.SessionID,
		"error", err,
	)
}
