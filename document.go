package docstore

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Document is one record of a Model's collection held in memory.
//
// A Document starts new, becomes persisted on its first successful Save, and
// becomes removed after a successful HardDelete. Removed documents reject
// every persistence operation with ErrDocumentRemoved.
//
// Documents loaded with a projection are partial: they can be read but every
// write fails with ErrUnsupported, since a replace would drop the fields that
// were not loaded.
//
// Documents are not safe for concurrent use.
type Document struct {
	model   *Model
	id      primitive.ObjectID
	isNew   bool
	removed bool
	partial bool
	fields  bson.M
}

// Model returns the model the document belongs to.
func (d *Document) Model() *Model {
	return d.model
}

// ID returns the document's ObjectID; zero until the first save unless it
// was given explicitly.
func (d *Document) ID() primitive.ObjectID {
	return d.id
}

// IsNew reports whether the document has never been saved.
func (d *Document) IsNew() bool {
	return d.isNew
}

// IsPartial reports whether the document was loaded with a projection.
func (d *Document) IsPartial() bool {
	return d.partial
}

// IsRemoved reports whether the document was hard deleted.
func (d *Document) IsRemoved() bool {
	return d.removed
}

// Get returns the value of field, or def when it is absent.
func (d *Document) Get(field string, def interface{}) interface{} {
	if field == FieldID {
		if d.id.IsZero() {
			return def
		}
		return d.id
	}
	if v, ok := d.fields[field]; ok {
		return v
	}
	return def
}

// Set assigns one field in memory. "_id" is ignored.
func (d *Document) Set(field string, value interface{}) *Document {
	if field != FieldID {
		d.fields[field] = value
	}
	return d
}

// Update merges partial into the document in memory. Nothing is written
// until Save. "_id" is ignored.
func (d *Document) Update(partial bson.M) *Document {
	for k, v := range partial {
		d.Set(k, v)
	}
	return d
}

// Fields returns a shallow copy of the document's fields without "_id".
func (d *Document) Fields() bson.M {
	out := make(bson.M, len(d.fields))
	for k, v := range d.fields {
		out[k] = v
	}
	return out
}

// CreatedAt returns created_at, or the zero time.
func (d *Document) CreatedAt() time.Time {
	t, _ := toTime(d.fields[FieldCreatedAt])
	return t.UTC()
}

// UpdatedAt returns updated_at, or the zero time.
func (d *Document) UpdatedAt() time.Time {
	t, _ := toTime(d.fields[FieldUpdatedAt])
	return t.UTC()
}

// DeletedAt returns the tombstone time, or nil when the document is live.
func (d *Document) DeletedAt() *time.Time {
	t, ok := toTime(d.fields[FieldDeletedAt])
	if !ok {
		return nil
	}
	t = t.UTC()
	return &t
}

// IsDeleted reports whether the document carries a tombstone.
func (d *Document) IsDeleted() bool {
	return d.DeletedAt() != nil
}

// Version returns the document version, or 0 for unversioned documents.
func (d *Document) Version() int64 {
	switch v := d.fields[FieldVersion].(type) {
	case int64:
		return v
	case int32:
		return int64(v)
	case int:
		return int64(v)
	case float64:
		return int64(v)
	default:
		return 0
	}
}

// Validate checks the document against the model schema, if any.
func (d *Document) Validate() error {
	return d.model.schema.Validate(d.fields)
}

// Save inserts a new document or replaces a persisted one and returns its ID.
//
// New documents are validated first. For versioned models the replace only
// matches the version that was loaded; if another writer got there first
// Save fails with ErrConcurrentModification. The in-memory fields are
// restored whenever Save fails. Partial documents fail with ErrUnsupported.
func (d *Document) Save(ctx context.Context) (primitive.ObjectID, error) {
	return d.saveWithOp(ctx, "")
}

func (d *Document) saveWithOp(ctx context.Context, op string) (primitive.ObjectID, error) {
	if err := d.checkWritable("save"); err != nil {
		return primitive.NilObjectID, err
	}
	if !d.isNew && d.id.IsZero() {
		return primitive.NilObjectID, WithContext(ErrMissingID, map[string]interface{}{
			"collection": d.model.collection,
		})
	}
	if d.isNew {
		if err := d.Validate(); err != nil {
			return primitive.NilObjectID, err
		}
	}
	if op == "" {
		op = OpUpdate
		if d.isNew {
			op = OpInsert
		}
	}

	snapshot := d.Fields()
	prevVersion := d.Version()

	now := d.model.now()
	for _, b := range d.model.behaviors {
		if hook, ok := b.(SaveHook); ok {
			hook.BeforeSave(d, now)
		}
	}

	start := time.Now()
	var err error
	if d.isNew {
		err = d.insert(ctx)
	} else {
		err = d.replace(ctx, prevVersion)
	}
	d.model.observe(op, start, err)

	if err != nil {
		d.fields = snapshot
		return primitive.NilObjectID, err
	}

	d.model.invalidate(ctx, d.id)

	for _, b := range d.model.behaviors {
		if hook, ok := b.(AfterSaveHook); ok {
			if herr := hook.AfterSave(ctx, d, op); herr != nil {
				d.model.logger.Warn("after-save hook failed",
					"behavior", hook.Name(),
					"collection", d.model.collection,
					"id", d.id.Hex(),
					"error", herr)
			}
		}
	}

	return d.id, nil
}

func (d *Document) insert(ctx context.Context) error {
	id := d.id
	if id.IsZero() {
		id = primitive.NewObjectID()
	}
	if err := d.model.insertRecord(ctx, "insert", d.model.collection, d.record(id)); err != nil {
		return err
	}
	d.id = id
	d.isNew = false
	return nil
}

// insertRecord inserts a record that already carries its _id. The ID is
// fixed before the first attempt, so a duplicate _id on a later attempt means
// an earlier one was applied and only its reply was lost.
func (m *Model) insertRecord(ctx context.Context, op, collection string, record bson.M) error {
	attempt := 0
	_, err := Retry(ctx, m.conn, m.retry, op, func(ctx context.Context) (interface{}, error) {
		attempt++
		coll, err := m.conn.Collection(ctx, collection)
		if err != nil {
			return nil, err
		}
		id, err := coll.InsertOne(ctx, record)
		if err != nil && attempt > 1 && isDuplicateID(err) {
			m.logger.Debug("insert already applied by an earlier attempt",
				"collection", collection,
				"id", record[FieldID],
				"attempt", attempt)
			return record[FieldID], nil
		}
		return id, err
	})
	return err
}

func (d *Document) replace(ctx context.Context, prevVersion int64) error {
	filter := bson.M{FieldID: d.id}
	if d.model.Versioned() {
		filter[FieldVersion] = prevVersion
	}
	record := d.record(d.id)

	matched, err := Retry(ctx, d.model.conn, d.model.retry, "replace", func(ctx context.Context) (int64, error) {
		coll, err := d.model.coll(ctx)
		if err != nil {
			return 0, err
		}
		return coll.ReplaceOne(ctx, filter, record)
	})
	if err != nil {
		return err
	}
	if matched > 0 {
		return nil
	}

	if d.model.Versioned() {
		exists, err := Retry(ctx, d.model.conn, d.model.retry, "count", func(ctx context.Context) (int64, error) {
			coll, err := d.model.coll(ctx)
			if err != nil {
				return 0, err
			}
			return coll.CountDocuments(ctx, bson.M{FieldID: d.id})
		})
		if err != nil {
			return err
		}
		if exists > 0 {
			d.model.metrics.Increment(MetricConflicts, "collection", d.model.collection)
			return WithContext(ErrConcurrentModification, map[string]interface{}{
				"collection":       d.model.collection,
				"id":               d.id.Hex(),
				"expected_version": prevVersion,
			})
		}
	}

	return d.model.replaceMissing(d.id)
}

// Delete removes the document: a tombstone for soft-delete models, a
// permanent removal otherwise. It returns false without error for documents
// that were never saved.
func (d *Document) Delete(ctx context.Context) (bool, error) {
	if err := d.checkUsable(); err != nil {
		return false, err
	}
	if !d.model.SoftDeletes() {
		return d.HardDelete(ctx)
	}
	if err := d.checkWritable(OpSoftDelete); err != nil {
		return false, err
	}
	if d.isNew || d.id.IsZero() {
		return false, nil
	}

	prev, had := d.fields[FieldDeletedAt]
	d.fields[FieldDeletedAt] = d.model.now()
	if _, err := d.saveWithOp(ctx, OpSoftDelete); err != nil {
		d.restoreField(FieldDeletedAt, prev, had)
		return false, err
	}
	return true, nil
}

// HardDelete permanently removes the record, bypassing soft delete. It returns
// true only when exactly one record was removed.
func (d *Document) HardDelete(ctx context.Context) (bool, error) {
	if err := d.checkUsable(); err != nil {
		return false, err
	}
	if d.isNew || d.id.IsZero() {
		return false, nil
	}

	filter := bson.M{FieldID: d.id}
	start := time.Now()
	deleted, err := Retry(ctx, d.model.conn, d.model.retry, "delete", func(ctx context.Context) (int64, error) {
		coll, err := d.model.coll(ctx)
		if err != nil {
			return 0, err
		}
		return coll.DeleteOne(ctx, filter)
	})
	d.model.observe("delete", start, err)
	if err != nil {
		return false, err
	}

	d.model.invalidate(ctx, d.id)
	if deleted != 1 {
		return false, nil
	}
	d.removed = true
	return true, nil
}

// Restore clears the tombstone and saves. Only soft-delete models support it.
func (d *Document) Restore(ctx context.Context) error {
	if err := d.checkWritable(OpRestore); err != nil {
		return err
	}
	if !d.model.SoftDeletes() {
		return WithContext(ErrUnsupported, map[string]interface{}{
			"collection": d.model.collection,
			"operation":  OpRestore,
		})
	}
	if d.isNew || d.id.IsZero() {
		return WithContext(ErrMissingID, map[string]interface{}{
			"collection": d.model.collection,
			"operation":  OpRestore,
		})
	}

	prev, had := d.fields[FieldDeletedAt]
	d.fields[FieldDeletedAt] = nil
	if _, err := d.saveWithOp(ctx, OpRestore); err != nil {
		d.restoreField(FieldDeletedAt, prev, had)
		return err
	}
	return nil
}

// VersionHistory returns the history entries of this document ordered by
// version. The model must be versioned.
func (d *Document) VersionHistory(ctx context.Context) ([]bson.M, error) {
	if !d.model.Versioned() {
		return nil, WithContext(ErrUnsupported, map[string]interface{}{
			"collection": d.model.collection,
			"operation":  "version_history",
		})
	}
	if d.id.IsZero() {
		return []bson.M{}, nil
	}
	return d.model.history(ctx, d.id)
}

func (d *Document) checkUsable() error {
	if d.removed {
		return WithContext(ErrDocumentRemoved, map[string]interface{}{
			"collection": d.model.collection,
			"id":         d.id.Hex(),
		})
	}
	return nil
}

// checkWritable rejects writes of removed and partial documents.
func (d *Document) checkWritable(op string) error {
	if err := d.checkUsable(); err != nil {
		return err
	}
	if d.partial {
		return WithContext(ErrUnsupported, map[string]interface{}{
			"collection": d.model.collection,
			"id":         d.id.Hex(),
			"operation":  op,
			"reason":     "document was loaded with a projection",
		})
	}
	return nil
}

func (d *Document) restoreField(field string, prev interface{}, had bool) {
	if had {
		d.fields[field] = prev
	} else {
		delete(d.fields, field)
	}
}

// record returns the stored form of the document.
func (d *Document) record(id primitive.ObjectID) bson.M {
	out := make(bson.M, len(d.fields)+1)
	for k, v := range d.fields {
		out[k] = v
	}
	out[FieldID] = id
	return out
}

// replaceMissing applies the model's MissingPolicy to a replace that matched
// nothing.
func (m *Model) replaceMissing(id primitive.ObjectID) error {
	if m.missing == FailOnMissing {
		return WithContext(ErrDocumentMissing, map[string]interface{}{
			"collection": m.collection,
			"id":         id.Hex(),
		})
	}

	m.metrics.Increment(MetricMissingReplace, "collection", m.collection)
	m.logger.Warn("replace matched no document; write dropped",
		"collection", m.collection,
		"id", id.Hex())
	return nil
}
