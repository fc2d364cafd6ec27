package docstore

import (
	"context"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// MissingPolicy decides what a save does when the document it replaces no
// longer exists.
type MissingPolicy int

const (
	// LastWriteWins logs a warning and reports success. Nothing is upserted.
	LastWriteWins MissingPolicy = iota
	// FailOnMissing returns ErrDocumentMissing.
	FailOnMissing
)

// Model binds documents to one collection and the behaviors that apply to it.
type Model struct {
	conn       *Manager
	collection string
	schema     *Schema
	behaviors  []Behavior
	retry      RetryPolicy
	cache      DocumentCache
	missing    MissingPolicy
	clock      func() time.Time
	logger     Logger
	metrics    Metrics
}

// ModelOption configures a Model.
type ModelOption func(*Model)

// WithSchema validates new documents against s before their first save.
func WithSchema(s *Schema) ModelOption {
	return func(m *Model) {
		m.schema = s
	}
}

// WithBehavior adds custom behaviors.
func WithBehavior(b ...Behavior) ModelOption {
	return func(m *Model) {
		m.behaviors = append(m.behaviors, b...)
	}
}

// WithTimestamps maintains created_at and updated_at.
func WithTimestamps() ModelOption {
	return WithBehavior(Timestamps{})
}

// WithSoftDelete tombstones instead of deleting. Implies WithTimestamps.
func WithSoftDelete() ModelOption {
	return WithBehavior(Timestamps{}, SoftDelete{})
}

// WithVersioning enables optimistic concurrency. Implies WithTimestamps.
func WithVersioning() ModelOption {
	return WithBehavior(Versioning{}, Timestamps{})
}

// WithHistory records every save in <collection>_history. Implies WithVersioning.
func WithHistory() ModelOption {
	return WithBehavior(Versioning{}, Timestamps{}, History{})
}

// WithRetryPolicy overrides the retry policy derived from the Manager config.
func WithRetryPolicy(p RetryPolicy) ModelOption {
	return func(m *Model) {
		m.retry = p
	}
}

// WithCache reads FindByID through c.
func WithCache(c DocumentCache) ModelOption {
	return func(m *Model) {
		m.cache = c
	}
}

// WithMissingPolicy sets how a replace of a vanished document is handled.
func WithMissingPolicy(p MissingPolicy) ModelOption {
	return func(m *Model) {
		m.missing = p
	}
}

// WithClock overrides time.Now.
func WithClock(clock func() time.Time) ModelOption {
	return func(m *Model) {
		m.clock = clock
	}
}

// NewModel binds collection on conn.
func NewModel(conn *Manager, collection string, opts ...ModelOption) *Model {
	m := &Model{
		conn:       conn,
		collection: collection,
		retry:      conn.Config().RetryPolicy(),
		clock:      time.Now,
		logger:     conn.Logger(),
		metrics:    conn.Metrics(),
	}
	for _, opt := range opts {
		opt(m)
	}

	seen := make(map[string]bool, len(m.behaviors))
	behaviors := m.behaviors[:0]
	for _, b := range m.behaviors {
		if seen[b.Name()] {
			continue
		}
		seen[b.Name()] = true
		behaviors = append(behaviors, b)
	}
	sort.SliceStable(behaviors, func(i, j int) bool {
		return behaviors[i].Order() < behaviors[j].Order()
	})
	m.behaviors = behaviors

	return m
}

// NewTimestampedModel binds a collection whose documents carry timestamps.
func NewTimestampedModel(conn *Manager, collection string, opts ...ModelOption) *Model {
	return NewModel(conn, collection, append([]ModelOption{WithTimestamps()}, opts...)...)
}

// NewSoftDeleteModel binds a collection with timestamps and soft deletes.
func NewSoftDeleteModel(conn *Manager, collection string, opts ...ModelOption) *Model {
	return NewModel(conn, collection, append([]ModelOption{WithSoftDelete()}, opts...)...)
}

// NewVersionedModel binds a collection with timestamps and versioning.
func NewVersionedModel(conn *Manager, collection string, opts ...ModelOption) *Model {
	return NewModel(conn, collection, append([]ModelOption{WithVersioning()}, opts...)...)
}

// NewDocumentModel binds a collection with timestamps, soft deletes and
// versioning, the shape used by projects, tasks, files and dashboards.
func NewDocumentModel(conn *Manager, collection string, opts ...ModelOption) *Model {
	return NewModel(conn, collection, append([]ModelOption{WithSoftDelete(), WithVersioning()}, opts...)...)
}

// Collection returns the collection name.
func (m *Model) Collection() string {
	return m.collection
}

// HistoryCollection returns the name of the sibling history collection.
func (m *Model) HistoryCollection() string {
	return m.collection + "_history"
}

func (m *Model) Manager() *Manager {
	return m.conn
}

func (m *Model) Schema() *Schema {
	return m.schema
}

// Behaviors returns the model's behaviors in execution order.
func (m *Model) Behaviors() []Behavior {
	out := make([]Behavior, len(m.behaviors))
	copy(out, m.behaviors)
	return out
}

// HasBehavior reports whether a behavior with the given name is enabled.
func (m *Model) HasBehavior(name string) bool {
	for _, b := range m.behaviors {
		if b.Name() == name {
			return true
		}
	}
	return false
}

func (m *Model) Timestamped() bool { return m.HasBehavior(Timestamps{}.Name()) }
func (m *Model) SoftDeletes() bool { return m.HasBehavior(SoftDelete{}.Name()) }
func (m *Model) Versioned() bool   { return m.HasBehavior(Versioning{}.Name()) }

// New builds an unsaved document from fields. An "_id" in fields is used as
// the document's ID on insert.
func (m *Model) New(fields bson.M) *Document {
	d := &Document{
		model:  m,
		isNew:  true,
		fields: make(bson.M, len(fields)+4),
	}

	now := m.now()
	for _, b := range m.behaviors {
		if init, ok := b.(Initializer); ok {
			init.InitDocument(d, now)
		}
	}

	for k, v := range fields {
		if k == FieldID {
			if id, err := ToObjectID(v); err == nil {
				d.id = id
			}
			continue
		}
		d.fields[k] = v
	}
	return d
}

// fromRecord wraps a stored record. Records read with a projection are
// partial and cannot be written back.
func (m *Model) fromRecord(record bson.M, partial bool) *Document {
	d := &Document{
		model:   m,
		partial: partial,
		fields:  make(bson.M, len(record)),
	}
	for k, v := range record {
		if k == FieldID {
			if id, ok := v.(primitive.ObjectID); ok {
				d.id = id
			}
			continue
		}
		d.fields[k] = v
	}
	return d
}

// now returns the model clock in UTC truncated to BSON datetime precision.
func (m *Model) now() time.Time {
	return m.clock().UTC().Truncate(time.Millisecond)
}

func (m *Model) coll(ctx context.Context) (Collection, error) {
	return m.conn.Collection(ctx, m.collection)
}

func (m *Model) rewriteFilter(filter bson.M, includeDeleted bool) bson.M {
	if filter == nil {
		filter = bson.M{}
	}
	for _, b := range m.behaviors {
		if rw, ok := b.(QueryRewriter); ok {
			filter = rw.RewriteFilter(filter, includeDeleted)
		}
	}
	return filter
}

func (m *Model) observe(op string, start time.Time, err error) {
	m.metrics.Increment(MetricOperations, "operation", op, "collection", m.collection)
	m.metrics.Timing(MetricOperationDuration, time.Since(start), "operation", op, "collection", m.collection)
	if err != nil {
		m.metrics.Increment(MetricOperationErrors, "operation", op, "collection", m.collection)
	}
}

// FindByID loads a document by ObjectID or hex string. It returns nil, nil
// when no visible document has that ID.
func (m *Model) FindByID(ctx context.Context, id interface{}, opts ...QueryOption) (*Document, error) {
	oid, err := ToObjectID(id)
	if err != nil {
		return nil, err
	}
	q := buildQueryOptions(opts)

	if m.cache != nil && len(q.projection) == 0 {
		record, err := m.readThrough(ctx, oid)
		if err != nil || record == nil {
			return nil, err
		}
		if !q.includeDeleted && m.SoftDeletes() && record[FieldDeletedAt] != nil {
			return nil, nil
		}
		return m.fromRecord(record, false), nil
	}

	filter := m.rewriteFilter(bson.M{FieldID: oid}, q.includeDeleted)
	return m.findOne(ctx, "find_by_id", filter, q)
}

// FindOne returns the first document matching filter, or nil, nil.
func (m *Model) FindOne(ctx context.Context, filter bson.M, opts ...QueryOption) (*Document, error) {
	q := buildQueryOptions(opts)
	return m.findOne(ctx, "find_one", m.rewriteFilter(filter, q.includeDeleted), q)
}

func (m *Model) findOne(ctx context.Context, op string, filter bson.M, q queryOptions) (*Document, error) {
	start := time.Now()
	record, err := Retry(ctx, m.conn, m.retry, op, func(ctx context.Context) (bson.M, error) {
		coll, err := m.coll(ctx)
		if err != nil {
			return nil, err
		}
		return coll.FindOne(ctx, filter, q.findOptions())
	})
	m.observe(op, start, err)

	if err != nil || record == nil {
		return nil, err
	}
	return m.fromRecord(record, len(q.projection) > 0), nil
}

// Find returns every document matching filter. No match yields an empty slice.
func (m *Model) Find(ctx context.Context, filter bson.M, opts ...QueryOption) ([]*Document, error) {
	q := buildQueryOptions(opts)
	filter = m.rewriteFilter(filter, q.includeDeleted)

	start := time.Now()
	records, err := Retry(ctx, m.conn, m.retry, "find", func(ctx context.Context) ([]bson.M, error) {
		coll, err := m.coll(ctx)
		if err != nil {
			return nil, err
		}
		return coll.Find(ctx, filter, q.findOptions())
	})
	m.observe("find", start, err)
	if err != nil {
		return nil, err
	}

	m.metrics.Histogram(MetricQueryResults, float64(len(records)), "collection", m.collection)

	docs := make([]*Document, 0, len(records))
	for _, record := range records {
		docs = append(docs, m.fromRecord(record, len(q.projection) > 0))
	}
	return docs, nil
}

// Count returns the number of documents matching filter. Sort, skip, limit
// and projection options are ignored.
func (m *Model) Count(ctx context.Context, filter bson.M, opts ...QueryOption) (int64, error) {
	q := buildQueryOptions(opts)
	filter = m.rewriteFilter(filter, q.includeDeleted)

	start := time.Now()
	n, err := Retry(ctx, m.conn, m.retry, "count", func(ctx context.Context) (int64, error) {
		coll, err := m.coll(ctx)
		if err != nil {
			return 0, err
		}
		return coll.CountDocuments(ctx, filter)
	})
	m.observe("count", start, err)
	return n, err
}

// CreateIndexes creates specs on the model's collection.
func (m *Model) CreateIndexes(ctx context.Context, specs []IndexSpec) *IndexResult {
	report := m.conn.CreateIndexes(ctx, map[string][]IndexSpec{m.collection: specs})
	return report[m.collection]
}

// Query starts a fluent query on the model.
func (m *Model) Query() *DocumentQuery {
	return NewDocumentQuery(m)
}
