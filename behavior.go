package docstore

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
)

// Reserved field names.
const (
	FieldID        = "_id"
	FieldCreatedAt = "created_at"
	FieldUpdatedAt = "updated_at"
	FieldDeletedAt = "deleted_at"
	FieldVersion   = "version"
)

// Save operations passed to AfterSaveHook and recorded in history entries.
const (
	OpInsert     = "insert"
	OpUpdate     = "update"
	OpSoftDelete = "soft_delete"
	OpRestore    = "restore"
)

// Behavior is one composable piece of document lifecycle logic. A model runs
// its behaviors in ascending Order; a behavior takes part in a phase by
// implementing the matching hook interface.
type Behavior interface {
	Name() string
	Order() int
}

// Initializer sets default fields on newly constructed documents.
type Initializer interface {
	Behavior
	InitDocument(d *Document, now time.Time)
}

// SaveHook mutates a document right before it is written.
type SaveHook interface {
	Behavior
	BeforeSave(d *Document, now time.Time)
}

// QueryRewriter adjusts finder filters. The returned map must be a copy
// whenever it differs from filter.
type QueryRewriter interface {
	Behavior
	RewriteFilter(filter bson.M, includeDeleted bool) bson.M
}

// AfterSaveHook runs once a write has succeeded. Errors are logged by the
// model and never fail the save.
type AfterSaveHook interface {
	Behavior
	AfterSave(ctx context.Context, d *Document, op string) error
}

// Versioning keeps an integer version: 1 at creation, +1 on every update.
// Updates are conditional on the version read, which turns a lost update into
// ErrConcurrentModification.
type Versioning struct{}

func (Versioning) Name() string { return "versioning" }
func (Versioning) Order() int   { return 10 }

func (Versioning) InitDocument(d *Document, now time.Time) {
	d.fields[FieldVersion] = int64(1)
}

func (Versioning) BeforeSave(d *Document, now time.Time) {
	if d.isNew {
		if d.Version() == 0 {
			d.fields[FieldVersion] = int64(1)
		}
		return
	}
	d.fields[FieldVersion] = d.Version() + 1
}

// Timestamps maintains created_at and updated_at.
type Timestamps struct{}

func (Timestamps) Name() string { return "timestamps" }
func (Timestamps) Order() int   { return 20 }

func (Timestamps) InitDocument(d *Document, now time.Time) {
	d.fields[FieldCreatedAt] = now
	d.fields[FieldUpdatedAt] = now
}

func (Timestamps) BeforeSave(d *Document, now time.Time) {
	if _, ok := d.fields[FieldCreatedAt]; !ok {
		d.fields[FieldCreatedAt] = now
	}
	if d.isNew {
		if created := d.CreatedAt(); now.Before(created) {
			now = created
		}
		d.fields[FieldUpdatedAt] = now
		return
	}
	// updated_at must move forward even when two saves share a millisecond.
	if prev := d.UpdatedAt(); !prev.IsZero() && !now.After(prev) {
		now = prev.Add(time.Millisecond)
	}
	d.fields[FieldUpdatedAt] = now
}

// SoftDelete tombstones documents with deleted_at instead of removing them,
// and hides tombstoned documents from finders.
type SoftDelete struct{}

func (SoftDelete) Name() string { return "soft_delete" }
func (SoftDelete) Order() int   { return 30 }

func (SoftDelete) InitDocument(d *Document, now time.Time) {
	d.fields[FieldDeletedAt] = nil
}

func (SoftDelete) RewriteFilter(filter bson.M, includeDeleted bool) bson.M {
	if includeDeleted {
		return filter
	}
	if _, explicit := filter[FieldDeletedAt]; explicit {
		return filter
	}

	out := make(bson.M, len(filter)+1)
	for k, v := range filter {
		out[k] = v
	}
	out[FieldDeletedAt] = nil
	return out
}

// History appends a snapshot of every successful save to <collection>_history.
type History struct{}

func (History) Name() string { return "history" }
func (History) Order() int   { return 40 }

func (History) AfterSave(ctx context.Context, d *Document, op string) error {
	return d.model.appendHistory(ctx, d, op)
}
