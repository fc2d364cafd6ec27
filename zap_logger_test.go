package docstore

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

// TestZapLoggerLevels verifies each method writes at its own level
func TestZapLoggerLevels(t *testing.T) {
	core, recorded := observer.New(zapcore.DebugLevel)
	zapLogger := NewZapLogger(zap.New(core))

	zapLogger.Debug("debug message", "key", "value")
	zapLogger.Info("info message", "key", "value")
	zapLogger.Warn("warn message", "key", "value")
	zapLogger.Error("error message", "key", "value")

	entries := recorded.All()
	if len(entries) != 4 {
		t.Fatalf("expected 4 log entries, got %d", len(entries))
	}
	want := []zapcore.Level{zapcore.DebugLevel, zapcore.InfoLevel, zapcore.WarnLevel, zapcore.ErrorLevel}
	for i, level := range want {
		if entries[i].Level != level {
			t.Errorf("entry %d level = %v, want %v", i, entries[i].Level, level)
		}
	}
}

func TestZapLoggerFields(t *testing.T) {
	core, recorded := observer.New(zapcore.InfoLevel)
	zapLogger := NewZapLoggerFromSugar(zap.New(core).Sugar())

	zapLogger.With("collection", "tasks").Info("saved",
		"id", "65f0c0ffee",
		"version", 3,
		"soft_deleted", false,
	)

	if recorded.Len() != 1 {
		t.Fatalf("expected 1 log entry, got %d", recorded.Len())
	}
	fields := recorded.All()[0].ContextMap()
	if fields["collection"] != "tasks" {
		t.Errorf("collection = %v", fields["collection"])
	}
	if fields["version"] != int64(3) {
		t.Errorf("version = %v", fields["version"])
	}
	if fields["soft_deleted"] != false {
		t.Errorf("soft_deleted = %v", fields["soft_deleted"])
	}
}

func TestNewProductionZapLogger(t *testing.T) {
	logger, err := NewProductionZapLogger()
	if err != nil {
		t.Fatalf("failed to create production logger: %v", err)
	}
	logger.Info("info message", "key", "value")
	if err := logger.Sync(); err != nil {
		// Sync can fail on stdout/stderr in tests
		t.Logf("sync returned error: %v", err)
	}
}

func TestNewDevelopmentZapLogger(t *testing.T) {
	logger, err := NewDevelopmentZapLogger()
	if err != nil {
		t.Fatalf("failed to create development logger: %v", err)
	}
	logger.Debug("debug message", "key", "value")
}

func TestZapLoggerImplementsInterface(t *testing.T) {
	var _ Logger = &ZapLogger{}
	var _ Logger = &NoOpLogger{}
}

// TestZapLogger_ManagerEvents checks the manager logs retries and connection
// failures through zap.
func TestZapLogger_ManagerEvents(t *testing.T) {
	core, recorded := observer.New(zapcore.InfoLevel)
	env := newTestEnv(t, WithLogger(NewZapLogger(zap.New(core))))
	ctx := context.Background()

	env.driver.SetAvailable(false)
	if env.manager.Initialize(ctx) {
		t.Fatal("Initialize should fail while the database is down")
	}
	if n := recorded.FilterMessage("failed to connect to database").Len(); n != 1 {
		t.Errorf("connect failures logged = %d, want 1", n)
	}

	env.driver.SetAvailable(true)
	env.driver.FailNext(ErrBackendUnavailable)
	_, err := Retry(ctx, env.manager, fastRetry(2), "find", func(ctx context.Context) (int64, error) {
		coll, err := env.manager.Collection(ctx, "tasks")
		if err != nil {
			return 0, err
		}
		return coll.CountDocuments(ctx, nil)
	})
	if err != nil {
		t.Fatal(err)
	}

	retries := recorded.FilterMessage("retrying database operation").All()
	if len(retries) != 1 {
		t.Fatalf("retry warnings = %d, want 1", len(retries))
	}
	if retries[0].ContextMap()["operation"] != "find" {
		t.Errorf("retry fields = %v", retries[0].ContextMap())
	}
}

func TestZapLogger_TestLogger(t *testing.T) {
	logger := NewZapLogger(zaptest.NewLogger(t))
	env := newTestEnv(t, WithLogger(logger))

	if !env.manager.Initialize(context.Background()) {
		t.Fatal("Initialize failed")
	}
}
