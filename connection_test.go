package docstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestNewManager_InvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.URI = "http://localhost"

	if _, err := NewManager(cfg); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("got %v, want ErrInvalidConfig", err)
	}
}

func TestManager_InitializeAndStatus(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if !env.manager.Initialize(ctx) {
		t.Fatal("Initialize returned false")
	}
	// Idempotent while connected.
	if !env.manager.Initialize(ctx) {
		t.Fatal("second Initialize returned false")
	}
	if env.driver.Connects() != 1 {
		t.Errorf("Connects() = %d, want 1", env.driver.Connects())
	}

	status := env.manager.Status(ctx)
	if !status.Connected || !status.Healthy {
		t.Errorf("status = %+v, want connected and healthy", status)
	}
	if status.Server == nil || status.Server.Version != "memory" {
		t.Errorf("server info = %+v", status.Server)
	}
	if status.Database != "docstore_test" {
		t.Errorf("Database = %q", status.Database)
	}
	if env.metrics.Gauges[MetricConnected] != 1 {
		t.Errorf("connected gauge = %v, want 1", env.metrics.Gauges[MetricConnected])
	}
}

func TestManager_InitializeFailure(t *testing.T) {
	env := newTestEnv(t)
	env.driver.SetAvailable(false)
	ctx := context.Background()

	if env.manager.Initialize(ctx) {
		t.Fatal("Initialize should fail when the database is down")
	}

	status := env.manager.Status(ctx)
	if status.Connected || status.Healthy {
		t.Errorf("status = %+v, want disconnected", status)
	}
	if status.LastError == "" {
		t.Error("LastError should be recorded")
	}
	if status.LastAttempt.IsZero() {
		t.Error("LastAttempt should be recorded")
	}
}

func TestManager_GetClientReturnsDependencyError(t *testing.T) {
	env := newTestEnv(t)
	env.driver.SetAvailable(false)
	ctx := context.Background()

	_, err := env.manager.GetClient(ctx)
	var dep *DependencyError
	if !errors.As(err, &dep) {
		t.Fatalf("got %T %v, want *DependencyError", err, err)
	}
	if !dep.Retryable || dep.Dependency != "mongodb" {
		t.Errorf("dependency error = %+v", dep)
	}
	if !IsRetryable(err) || !errors.Is(err, ErrBackendUnavailable) {
		t.Errorf("dependency error should be retryable and match ErrBackendUnavailable")
	}

	if _, err := env.manager.Collection(ctx, "tasks"); !IsDependency(err) {
		t.Errorf("Collection error = %v, want dependency error", err)
	}

	env.driver.SetAvailable(true)
	coll, err := env.manager.Collection(ctx, "tasks")
	if err != nil {
		t.Fatalf("Collection failed after recovery: %v", err)
	}
	if coll.Name() != "tasks" {
		t.Errorf("Name() = %q", coll.Name())
	}
}

func TestManager_CloseIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Closing a manager that never connected.
	if !env.manager.Close(ctx) {
		t.Error("Close on a fresh manager should return true")
	}

	env.manager.Initialize(ctx)
	if !env.manager.Close(ctx) {
		t.Error("first Close returned false")
	}
	if !env.manager.Close(ctx) {
		t.Error("second Close returned false")
	}
	if env.manager.Connected() {
		t.Error("manager still reports connected after Close")
	}
	if env.manager.Ping(ctx) {
		t.Error("Ping should fail after Close")
	}
}

func TestManager_PingFailureUpdatesStatus(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.manager.Initialize(ctx)

	env.driver.SetAvailable(false)
	if env.manager.Ping(ctx) {
		t.Fatal("Ping should fail during an outage")
	}
	if env.manager.Connected() {
		t.Error("Connected() should be false after a failed ping")
	}
	if env.metrics.Counter(MetricPingFailures) != 1 {
		t.Errorf("ping failures = %d, want 1", env.metrics.Counter(MetricPingFailures))
	}

	env.driver.SetAvailable(true)
	if !env.manager.Ping(ctx) {
		t.Error("Ping should recover once the database is back")
	}
}

func TestManager_Reconnect(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.manager.Initialize(ctx)

	if !env.manager.Reconnect(ctx) {
		t.Fatal("Reconnect returned false")
	}
	if env.driver.Connects() != 2 {
		t.Errorf("Connects() = %d, want 2", env.driver.Connects())
	}

	env.driver.SetAvailable(false)
	if env.manager.Reconnect(ctx) {
		t.Error("Reconnect should fail during an outage")
	}
	if env.manager.Connected() {
		t.Error("failed Reconnect must leave the manager disconnected")
	}
}

func TestManager_ConcurrentLifecycle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			switch i % 4 {
			case 0:
				env.manager.Reconnect(ctx)
			case 1:
				env.manager.Ping(ctx)
			case 2:
				env.manager.Collection(ctx, "tasks")
			default:
				env.manager.Status(ctx)
			}
		}(i)
	}
	wg.Wait()

	if !env.manager.Initialize(ctx) {
		t.Error("manager unusable after concurrent lifecycle calls")
	}
}

func TestManager_ConnectBreakerFailsFast(t *testing.T) {
	breaker := NewCircuitBreaker(2, time.Hour)
	env := newTestEnv(t, WithConnectBreaker(breaker))
	env.driver.SetAvailable(false)
	ctx := context.Background()

	env.manager.Initialize(ctx)
	env.manager.Initialize(ctx)
	if breaker.State() != BreakerOpen {
		t.Fatalf("breaker state = %s, want open", breaker.State())
	}

	connects := env.driver.Connects()
	_, err := env.manager.GetClient(ctx)
	if !errors.Is(err, ErrBackendUnavailable) {
		t.Errorf("got %v, want ErrBackendUnavailable", err)
	}
	if env.driver.Connects() != connects {
		t.Error("an open breaker must not dial the database")
	}
}
