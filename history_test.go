package docstore

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
)

func TestHistory_RecordsEverySave(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	tasks := NewDocumentModel(env.manager, "tasks", WithHistory())

	task := tasks.New(bson.M{"title": "audit"})
	task.Save(ctx)
	task.Set("title", "audited").Save(ctx)
	task.Delete(ctx)
	task.Restore(ctx)

	entries, err := task.VersionHistory(ctx)
	if err != nil {
		t.Fatal(err)
	}

	wantOps := []string{OpInsert, OpUpdate, OpSoftDelete, OpRestore}
	if len(entries) != len(wantOps) {
		t.Fatalf("got %d history entries, want %d", len(entries), len(wantOps))
	}
	for i, e := range entries {
		if e[HistoryOperation] != wantOps[i] {
			t.Errorf("entry %d operation = %v, want %s", i, e[HistoryOperation], wantOps[i])
		}
		if v, _ := toFloat(e[HistoryVersion]); int(v) != i+1 {
			t.Errorf("entry %d version = %v, want %d", i, e[HistoryVersion], i+1)
		}
		if e[HistoryDocumentID] != task.ID() {
			t.Errorf("entry %d document_id = %v", i, e[HistoryDocumentID])
		}
		id, err := uuid.Parse(e[HistoryChangeID].(string))
		if err != nil || id.Version() != 7 {
			t.Errorf("entry %d change_id = %v", i, e[HistoryChangeID])
		}
	}

	snapshot := entries[1][HistorySnapshot].(bson.M)
	if snapshot["title"] != "audited" {
		t.Errorf("update snapshot title = %v", snapshot["title"])
	}
	if _, ok := snapshot[FieldID]; ok {
		t.Error("snapshot should not duplicate _id")
	}
}

func TestHistory_FailureDoesNotFailSave(t *testing.T) {
	logger := &recordingLogger{}
	env := newTestEnv(t, WithLogger(logger))
	ctx := context.Background()
	tasks := NewVersionedModel(env.manager, "tasks", WithHistory(), WithRetryPolicy(NoRetry()))

	env.driver.FailCollection(tasks.HistoryCollection(), ErrBackendUnavailable)

	task := tasks.New(bson.M{"title": "audit"})
	if _, err := task.Save(ctx); err != nil {
		t.Fatalf("Save failed because of history: %v", err)
	}
	if env.metrics.Counter(MetricHistoryError) != 1 {
		t.Errorf("history errors = %d, want 1", env.metrics.Counter(MetricHistoryError))
	}
	if len(logger.warnings()) == 0 {
		t.Error("history failure should be logged")
	}

	env.driver.FailCollection(tasks.HistoryCollection(), nil)
	task.Set("title", "changed").Save(ctx)

	entries, _ := task.VersionHistory(ctx)
	if len(entries) != 1 || entries[0][HistoryOperation] != OpUpdate {
		t.Errorf("entries = %v, want only the update", entries)
	}
}

func TestHistory_LostReplyIsNotDuplicated(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	tasks := NewVersionedModel(env.manager, "tasks", WithHistory(), WithRetryPolicy(fastRetry(2)))

	env.driver.DropReplies(tasks.HistoryCollection(), ErrTimeout)

	task := tasks.New(bson.M{"title": "audit"})
	if _, err := task.Save(ctx); err != nil {
		t.Fatal(err)
	}
	if env.metrics.Counter(MetricHistoryError) != 0 {
		t.Errorf("history errors = %d, want 0", env.metrics.Counter(MetricHistoryError))
	}

	entries, _ := task.VersionHistory(ctx)
	if len(entries) != 1 {
		t.Errorf("got %d history entries after a lost reply, want 1", len(entries))
	}
}

func TestVersionHistory_RequiresVersioning(t *testing.T) {
	env := newTestEnv(t)
	m := NewSoftDeleteModel(env.manager, "files")

	d := m.New(bson.M{})
	d.Save(context.Background())

	if _, err := d.VersionHistory(context.Background()); !errors.Is(err, ErrUnsupported) {
		t.Errorf("got %v, want ErrUnsupported", err)
	}
}
