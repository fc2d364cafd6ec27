package docstore

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.mongodb.org/mongo-driver/bson"
)

func TestNewPrometheusMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewPrometheusMetrics(registry)

	if metrics.GetRegistry() != registry {
		t.Error("registry not set correctly")
	}
	for _, name := range []string{MetricOperations, MetricRetryAttempts, MetricConnectAttempts, MetricHistoryError} {
		if _, ok := metrics.counters[name]; !ok {
			t.Errorf("counter %s not registered", name)
		}
	}
	if _, ok := metrics.histograms[MetricOperationDuration]; !ok {
		t.Error("operation duration histogram not registered")
	}
	if _, ok := metrics.gauges[MetricConnected]; !ok {
		t.Error("connection gauge not registered")
	}
}

func TestPrometheusMetrics_RecordsOperations(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewPrometheusMetrics(registry)

	metrics.Increment(MetricOperations, "operation", "insert", "collection", "tasks")
	metrics.Increment(MetricOperations, "operation", "insert", "collection", "tasks")
	metrics.Increment(MetricOperations, "operation", "find", "collection", "tasks")
	metrics.Timing(MetricOperationDuration, 20*time.Millisecond, "operation", "insert", "collection", "tasks")

	inserts := metrics.counters[MetricOperations].WithLabelValues("insert", "tasks")
	if got := testutil.ToFloat64(inserts); got != 2 {
		t.Errorf("insert counter = %v, want 2", got)
	}

	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	found := false
	for _, mf := range families {
		if mf.GetName() == "docstore_document_operation_duration_seconds" {
			found = true
			if mf.GetType() != 4 { // HISTOGRAM
				t.Errorf("expected histogram type, got %v", mf.GetType())
			}
		}
	}
	if !found {
		t.Error("expected docstore_document_operation_duration_seconds")
	}
}

func TestPrometheusMetrics_DynamicMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewPrometheusMetrics(registry)

	metrics.Increment("docstore.custom.events", "kind", "audit")
	metrics.Gauge("docstore.queue.depth", 7)
	metrics.Histogram("docstore.batch.size", 12, "collection", "tasks")

	families, err := registry.Gather()
	if err != nil {
		t.Fatal(err)
	}
	names := make(map[string]bool)
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	for _, want := range []string{"docstore_custom_events_total", "docstore_queue_depth", "docstore_batch_size"} {
		if !names[want] {
			t.Errorf("dynamic metric %s missing", want)
		}
	}
}

func TestPrometheusMetrics_WiredIntoManager(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewPrometheusMetrics(registry)
	env := newTestEnv(t, WithMetrics(metrics))
	ctx := context.Background()

	tasks := NewDocumentModel(env.manager, "tasks")
	task := tasks.New(bson.M{"title": "observed"})
	if _, err := task.Save(ctx); err != nil {
		t.Fatal(err)
	}

	if got := testutil.ToFloat64(metrics.counters[MetricOperations].WithLabelValues(OpInsert, "tasks")); got != 1 {
		t.Errorf("insert operations = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.counters[MetricConnectAttempts].WithLabelValues("success")); got != 1 {
		t.Errorf("connect successes = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.gauges[MetricConnected].WithLabelValues()); got != 1 {
		t.Errorf("connected gauge = %v, want 1", got)
	}
}

func TestMetricName(t *testing.T) {
	testCases := map[string]string{
		"docstore.retry.attempts": "retry_attempts",
		"custom.thing-name":       "custom_thing_name",
	}
	for in, want := range testCases {
		if got := metricName(in); got != want {
			t.Errorf("metricName(%q) = %q, want %q", in, got, want)
		}
		if strings.Contains(metricName(in), ".") {
			t.Errorf("metricName(%q) kept a dot", in)
		}
	}
}
