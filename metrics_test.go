package docstore

import (
	"sync"
	"testing"
	"time"
)

func TestNoOpMetrics(t *testing.T) {
	metrics := &NoOpMetrics{}

	// All calls should be safe
	metrics.Increment(MetricOperations, "operation", "insert")
	metrics.Gauge(MetricConnected, 1)
	metrics.Histogram(MetricQueryResults, 10, "collection", "tasks")
	metrics.Timing(MetricOperationDuration, 5*time.Millisecond)
}

func TestInMemoryMetrics(t *testing.T) {
	metrics := NewInMemoryMetrics()

	metrics.Increment(MetricRetryAttempts, "operation", "find")
	metrics.Increment(MetricRetryAttempts, "operation", "insert")
	metrics.Gauge(MetricConnected, 1)
	metrics.Gauge(MetricConnected, 0)
	metrics.Histogram(MetricQueryResults, 3)
	metrics.Timing(MetricOperationDuration, 7*time.Millisecond)

	if metrics.Counter(MetricRetryAttempts) != 2 {
		t.Errorf("retry attempts = %d, want 2", metrics.Counter(MetricRetryAttempts))
	}
	if metrics.Gauges[MetricConnected] != 0 {
		t.Errorf("gauge = %v, want the last value 0", metrics.Gauges[MetricConnected])
	}
	if got := metrics.Histograms[MetricQueryResults]; len(got) != 1 || got[0] != 3 {
		t.Errorf("histogram = %v", got)
	}
	if got := metrics.Timings[MetricOperationDuration]; len(got) != 1 || got[0] != 7*time.Millisecond {
		t.Errorf("timings = %v", got)
	}
}

func TestInMemoryMetrics_Concurrent(t *testing.T) {
	metrics := NewInMemoryMetrics()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				metrics.Increment(MetricOperations)
			}
		}()
	}
	wg.Wait()

	if metrics.Counter(MetricOperations) != 1000 {
		t.Errorf("counter = %d, want 1000", metrics.Counter(MetricOperations))
	}
}
