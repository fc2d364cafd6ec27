package docstore

import (
	"context"
	"sync"
	"testing"
	"time"
)

// testEnv wires a Manager to an in-memory driver with recording metrics.
type testEnv struct {
	driver  *MemoryDriver
	manager *Manager
	metrics *InMemoryMetrics
}

func newTestEnv(t *testing.T, opts ...ManagerOption) *testEnv {
	t.Helper()

	cfg := DefaultConfig()
	cfg.Database = "docstore_test"
	cfg.RetryBaseDelay = time.Millisecond

	env := &testEnv{
		driver:  NewMemoryDriver(),
		metrics: NewInMemoryMetrics(),
	}

	all := append([]ManagerOption{WithDriver(env.driver), WithMetrics(env.metrics)}, opts...)
	manager, err := NewManager(cfg, all...)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	env.manager = manager

	t.Cleanup(func() {
		manager.Close(context.Background())
	})
	return env
}

// fastRetry keeps retry tests quick.
func fastRetry(maxRetries int) RetryPolicy {
	return RetryPolicy{
		MaxRetries: maxRetries,
		BaseDelay:  time.Millisecond,
		MaxDelay:   5 * time.Millisecond,
		Jitter:     0.1,
	}
}

// stepClock returns a clock that advances by step on every call.
func stepClock(start time.Time, step time.Duration) func() time.Time {
	var mu sync.Mutex
	now := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(step)
		return now
	}
}

// fixedClock always returns t.
func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

// recordingLogger captures warnings for assertions.
type recordingLogger struct {
	NoOpLogger
	mu    sync.Mutex
	warns []string
}

func (l *recordingLogger) Warn(msg string, fields ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warns = append(l.warns, msg)
}

func (l *recordingLogger) warnings() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.warns...)
}
