package docstore

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
)

func TestRetry_ExhaustionCallCount(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	calls := 0
	_, err := Retry(ctx, env.manager, fastRetry(2), "always_fails", func(ctx context.Context) (int, error) {
		calls++
		return 0, ErrBackendUnavailable
	})

	if calls != 3 {
		t.Errorf("operation ran %d times, want 3", calls)
	}
	if err != ErrBackendUnavailable {
		t.Errorf("last error must be returned unchanged, got %v", err)
	}
	if got := env.metrics.Counter(MetricRetryAttempts); got != 2 {
		t.Errorf("retry attempts metric = %d, want 2", got)
	}
	if got := env.metrics.Counter(MetricRetryExhausted); got != 1 {
		t.Errorf("retry exhausted metric = %d, want 1", got)
	}
}

func TestRetry_SucceedsAfterTransientFailures(t *testing.T) {
	env := newTestEnv(t)

	calls := 0
	got, err := Retry(context.Background(), env.manager, fastRetry(3), "flaky", func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", mongo.ErrClientDisconnected
		}
		return "done", nil
	})

	if err != nil {
		t.Fatalf("Retry failed: %v", err)
	}
	if got != "done" || calls != 3 {
		t.Errorf("got %q after %d calls, want done after 3", got, calls)
	}
}

func TestRetry_NonRetryableReturnsImmediately(t *testing.T) {
	nonRetryable := []error{
		&ValidationError{Fields: map[string]string{"title": "is required"}},
		ErrConcurrentModification,
		ErrMissingID,
		WithContext(ErrAlreadyExists, map[string]interface{}{"index": "_id_"}),
		errors.New("some unknown failure"),
	}

	for _, target := range nonRetryable {
		t.Run(fmt.Sprintf("%T/%v", target, target), func(t *testing.T) {
			calls := 0
			_, err := Retry(context.Background(), nil, fastRetry(5), "op", func(ctx context.Context) (int, error) {
				calls++
				return 0, target
			})
			if calls != 1 {
				t.Errorf("ran %d times, want 1", calls)
			}
			if err != target {
				t.Errorf("got %v, want %v", err, target)
			}
		})
	}
}

func TestRetry_ContextCancellationAbortsSleep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	policy := RetryPolicy{MaxRetries: 5, BaseDelay: time.Hour}

	calls := 0
	done := make(chan error, 1)
	go func() {
		_, err := Retry(ctx, nil, policy, "slow", func(ctx context.Context) (int, error) {
			calls++
			return 0, ErrTimeout
		})
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("error %v should wrap context.Canceled", err)
		}
		if !errors.Is(err, ErrTimeout) {
			t.Errorf("error %v should wrap the last operation error", err)
		}
		if calls != 1 {
			t.Errorf("ran %d times, want 1", calls)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Retry did not return after cancellation")
	}
}

func TestRetry_ReconnectsWhenPingFails(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if !env.manager.Initialize(ctx) {
		t.Fatal("Initialize failed")
	}
	connectsBefore := env.driver.Connects()

	calls := 0
	_, err := Retry(ctx, env.manager, fastRetry(2), "reconnect", func(ctx context.Context) (int, error) {
		calls++
		if calls == 1 {
			// Outage starts and ends between attempts; the ping sees it first.
			env.driver.SetAvailable(false)
			return 0, ErrBackendUnavailable
		}
		return 1, nil
	})
	if err != nil {
		t.Fatalf("Retry failed: %v", err)
	}

	// The failed ping marks the manager disconnected; bring the server back
	// and confirm the next call reconnects.
	env.driver.SetAvailable(true)
	if _, err := env.manager.GetClient(ctx); err != nil {
		t.Fatalf("GetClient failed: %v", err)
	}
	if env.driver.Connects() <= connectsBefore {
		t.Errorf("expected a reconnect attempt, connects stayed at %d", env.driver.Connects())
	}
}

func TestRetry_CustomClassifier(t *testing.T) {
	errBusy := errors.New("busy")
	policy := fastRetry(2)
	policy.Retryable = RetryOn(errBusy)

	calls := 0
	_, err := Retry(context.Background(), nil, policy, "busy", func(ctx context.Context) (int, error) {
		calls++
		return 0, fmt.Errorf("wrapped: %w", errBusy)
	})
	if calls != 3 || !errors.Is(err, errBusy) {
		t.Errorf("calls = %d, err = %v; want 3 calls ending in errBusy", calls, err)
	}

	calls = 0
	Retry(context.Background(), nil, policy, "other", func(ctx context.Context) (int, error) {
		calls++
		return 0, ErrBackendUnavailable
	})
	if calls != 1 {
		t.Errorf("classifier should reject ErrBackendUnavailable, ran %d times", calls)
	}
}

func TestManager_WithRetry(t *testing.T) {
	env := newTestEnv(t)

	calls := 0
	wrapped := env.manager.WithRetry(fastRetry(1), func(ctx context.Context) error {
		calls++
		return ErrTimeout
	})

	if err := wrapped(context.Background()); !errors.Is(err, ErrTimeout) {
		t.Errorf("got %v, want ErrTimeout", err)
	}
	if calls != 2 {
		t.Errorf("ran %d times, want 2", calls)
	}
}

func TestRetryPolicy_Delays(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 4, BaseDelay: 100 * time.Millisecond, Jitter: 0.1}
	b := policy.backOff()

	nominal := 100 * time.Millisecond
	for i := 0; i < 4; i++ {
		d := b.NextBackOff()
		low := time.Duration(float64(nominal) * 0.9)
		high := time.Duration(float64(nominal) * 1.1)
		if d < low || d > high {
			t.Errorf("delay %d = %v, want within [%v, %v]", i, d, low, high)
		}
		nominal *= 2
	}
}

func TestRetryPolicy_MaxDelayCapsNominalDelay(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 10, BaseDelay: 10 * time.Millisecond, MaxDelay: 40 * time.Millisecond}
	b := policy.backOff()

	for i := 0; i < 10; i++ {
		if d := b.NextBackOff(); d > 40*time.Millisecond {
			t.Errorf("delay %d = %v exceeds MaxDelay", i, d)
		}
	}
}

func TestRetryPolicy_Validate(t *testing.T) {
	testCases := []struct {
		name    string
		policy  RetryPolicy
		wantErr bool
	}{
		{"default", DefaultRetryPolicy(), false},
		{"no retry", NoRetry(), false},
		{"negative retries", RetryPolicy{MaxRetries: -1}, true},
		{"negative delay", RetryPolicy{BaseDelay: -time.Second}, true},
		{"negative max delay", RetryPolicy{MaxDelay: -time.Second}, true},
		{"jitter too large", RetryPolicy{Jitter: 1.5}, true},
		{"negative jitter", RetryPolicy{Jitter: -0.1}, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.policy.Validate()
			if (err != nil) != tc.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tc.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("error should wrap ErrInvalidConfig: %v", err)
			}
		})
	}
}
