package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/docker/docker/client"
)

type fakeManager struct {
	mu       sync.Mutex
	lastUsed time.Time
	running  bool

	isRunningErr error
	stopErr      error
	stopCalls    int
}

func (f *fakeManager) EnsureEngine(_ context.Context) (string, error) {
	f.Touch()
	return "engine-1", nil
}

func (f *fakeManager) StopEngine(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopCalls++
	if f.stopErr != nil {
		return f.stopErr
	}
	f.running = false
	return nil
}

func (f *fakeManager) IsRunning(_ context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running, f.isRunningErr
}

func (f *fakeManager) Touch() {
	f.mu.Lock()
	f.lastUsed = time.Now()
	f.mu.Unlock()
}

func (f *fakeManager) LastUsed() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastUsed
}

func (f *fakeManager) Client() *client.Client { return nil }

func (f *fakeManager) stopCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopCalls
}

func TestStopIfIdleStopsExpiredEngine(t *testing.T) {
	t.Parallel()

	mgr := &fakeManager{lastUsed: time.Now().Add(-time.Hour), running: true}

	stopIfIdle(context.Background(), mgr, 30*time.Minute)

	if mgr.stopCount() != 1 {
		t.Fatalf("expected one stop call, got %d", mgr.stopCount())
	}
	if running, _ := mgr.IsRunning(context.Background()); running {
		t.Error("expected engine stopped")
	}
}

func TestStopIfIdleLeavesActiveEngine(t *testing.T) {
	t.Parallel()

	mgr := &fakeManager{lastUsed: time.Now(), running: true}

	stopIfIdle(context.Background(), mgr, 30*time.Minute)

	if mgr.stopCount() != 0 {
		t.Fatalf("expected no stop calls for an active engine, got %d", mgr.stopCount())
	}
}

func TestStopIfIdleSkipsStoppedEngine(t *testing.T) {
	t.Parallel()

	mgr := &fakeManager{lastUsed: time.Now().Add(-time.Hour), running: false}

	stopIfIdle(context.Background(), mgr, 30*time.Minute)

	if mgr.stopCount() != 0 {
		t.Fatalf("expected no stop calls when already stopped, got %d", mgr.stopCount())
	}
}

func TestStopIfIdleToleratesInspectFailure(t *testing.T) {
	t.Parallel()

	mgr := &fakeManager{
		lastUsed:     time.Now().Add(-time.Hour),
		running:      true,
		isRunningErr: errors.New("daemon unreachable"),
	}

	stopIfIdle(context.Background(), mgr, 30*time.Minute)

	if mgr.stopCount() != 0 {
		t.Fatalf("expected no stop call after inspect failure, got %d", mgr.stopCount())
	}
}

func TestTouchResetsIdleClock(t *testing.T) {
	t.Parallel()

	mgr := &fakeManager{lastUsed: time.Now().Add(-time.Hour), running: true}
	mgr.Touch()

	stopIfIdle(context.Background(), mgr, 30*time.Minute)

	if mgr.stopCount() != 0 {
		t.Fatalf("expected Touch to reset the idle clock, got %d stop calls", mgr.stopCount())
	}
}
