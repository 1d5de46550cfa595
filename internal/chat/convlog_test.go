package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/echosofme/echos-server/internal/domain"
)

func waitForLogCount(t *testing.T, repo *fakeRepo, want int) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if len(repo.loggedEntries()) >= want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d log entries, have %d", want, len(repo.loggedEntries()))
}

func TestConversationLoggerPersistsEntries(t *testing.T) {
	t.Parallel()

	repo := newFakeRepo()
	logger := NewConversationLogger(repo, 10, nil)
	defer logger.Close()

	logger.Log(domain.ConversationLogEntry{
		UserID:    "u1",
		SessionID: "s1",
		Prompt:    "hello",
		Response:  "hi",
		Source:    domain.SourceModel,
	})

	waitForLogCount(t, repo, 1)

	entries := repo.loggedEntries()
	e := entries[0]
	if e.UserID != "u1" || e.SessionID != "s1" || e.Prompt != "hello" || e.Response != "hi" {
		t.Errorf("unexpected entry persisted: %+v", e)
	}
	if e.ID == "" {
		t.Error("expected an ID to be assigned")
	}
	if e.CreatedAt.IsZero() {
		t.Error("expected CreatedAt to be assigned")
	}
}

func TestConversationLoggerCloseDrainsQueue(t *testing.T) {
	t.Parallel()

	repo := newFakeRepo()
	logger := NewConversationLogger(repo, 100, nil)

	const n = 25
	for i := 0; i < n; i++ {
		logger.Log(domain.ConversationLogEntry{
			UserID:   "u1",
			Prompt:   fmt.Sprintf("prompt %d", i),
			Response: "r",
			Source:   domain.SourceFallback,
		})
	}

	if err := logger.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if got := len(repo.loggedEntries()); got != n {
		t.Errorf("expected %d entries after Close, got %d", n, got)
	}
}

func TestConversationLoggerLogAfterClose(t *testing.T) {
	t.Parallel()

	repo := newFakeRepo()
	logger := NewConversationLogger(repo, 10, nil)
	if err := logger.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	// Must not panic or block.
	logger.Log(domain.ConversationLogEntry{UserID: "u1", Prompt: "late", Response: "r"})

	if got := len(repo.loggedEntries()); got != 0 {
		t.Errorf("expected no entries, got %d", got)
	}
}

// busyOnceRepo fails the first append with a SQLite contention error.
type busyOnceRepo struct {
	*fakeRepo
	mu     sync.Mutex
	failed bool
}

func (b *busyOnceRepo) AppendConversationLog(ctx context.Context, entry *domain.ConversationLogEntry) error {
	b.mu.Lock()
	if !b.failed {
		b.failed = true
		b.mu.Unlock()
		return errors.New("SQLITE_BUSY: database is locked (5)")
	}
	b.mu.Unlock()
	return b.fakeRepo.AppendConversationLog(ctx, entry)
}

func TestConversationLoggerRetriesOnContention(t *testing.T) {
	t.Parallel()

	repo := &busyOnceRepo{fakeRepo: newFakeRepo()}
	logger := NewConversationLogger(repo, 10, nil)
	defer logger.Close()

	logger.Log(domain.ConversationLogEntry{UserID: "u1", Prompt: "p", Response: "r"})

	waitForLogCount(t, repo.fakeRepo, 1)
}

func TestConversationLoggerDropsWhenQueueFull(t *testing.T) {
	t.Parallel()

	repo := newFakeRepo()
	block := make(chan struct{})
	slow := &blockingRepo{fakeRepo: repo, release: block}
	logger := NewConversationLogger(slow, 1, nil)

	// First entry occupies the worker, second fills the queue, third must be
	// dropped without blocking.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 3; i++ {
			logger.Log(domain.ConversationLogEntry{UserID: "u1", Prompt: fmt.Sprintf("p%d", i), Response: "r"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Log blocked on a full queue")
	}

	close(block)
	if err := logger.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if got := len(repo.loggedEntries()); got > 2 {
		t.Errorf("expected at most 2 persisted entries, got %d", got)
	}
}

// blockingRepo holds appends until released.
type blockingRepo struct {
	*fakeRepo
	release chan struct{}
	once    sync.Once
}

func (b *blockingRepo) AppendConversationLog(ctx context.Context, entry *domain.ConversationLogEntry) error {
	b.once.Do(func() { <-b.release })
	return b.fakeRepo.AppendConversationLog(ctx, entry)
}
