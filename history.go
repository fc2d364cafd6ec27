package docstore

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// History entry fields in <collection>_history.
const (
	HistoryDocumentID = "document_id"
	HistoryVersion    = "version"
	HistoryOperation  = "operation"
	HistoryChangeID   = "change_id"
	HistoryChangedAt  = "changed_at"
	HistorySnapshot   = "snapshot"
)

// appendHistory writes one audit entry. Failures are counted and returned so
// the caller can log them; they never undo the save.
func (m *Model) appendHistory(ctx context.Context, d *Document, op string) error {
	entry := bson.M{
		FieldID:           primitive.NewObjectID(),
		HistoryDocumentID: d.id,
		HistoryVersion:    d.Version(),
		HistoryOperation:  op,
		HistoryChangeID:   NewChangeID(),
		HistoryChangedAt:  d.model.now(),
		HistorySnapshot:   d.Fields(),
	}

	start := time.Now()
	err := m.insertRecord(ctx, "history", m.HistoryCollection(), entry)
	m.metrics.Timing(MetricOperationDuration, time.Since(start), "operation", "history", "collection", m.collection)
	if err != nil {
		m.metrics.Increment(MetricHistoryError, "collection", m.collection)
		return err
	}
	return nil
}

func (m *Model) history(ctx context.Context, id primitive.ObjectID) ([]bson.M, error) {
	opts := FindOptions{Sort: bson.D{{Key: HistoryVersion, Value: Ascending}}}
	return Retry(ctx, m.conn, m.retry, "version_history", func(ctx context.Context) ([]bson.M, error) {
		coll, err := m.conn.Collection(ctx, m.HistoryCollection())
		if err != nil {
			return nil, err
		}
		return coll.Find(ctx, bson.M{HistoryDocumentID: id}, opts)
	})
}
