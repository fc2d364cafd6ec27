package docstore

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
)

// Sort directions.
const (
	Ascending  = 1
	Descending = -1
)

type queryOptions struct {
	sort           bson.D
	skip           int64
	limit          int64
	projection     []string
	includeDeleted bool
}

// QueryOption adjusts a finder call.
type QueryOption func(*queryOptions)

// SortBy orders results by field. Repeated calls add tie-breakers; sorting by
// the same field again replaces its direction in place.
func SortBy(field string, dir int) QueryOption {
	return func(q *queryOptions) {
		q.sort = setSortKey(q.sort, field, dir)
	}
}

// Limit caps the number of results. Zero means no limit.
func Limit(n int64) QueryOption {
	return func(q *queryOptions) {
		q.limit = n
	}
}

// Skip drops the first n results.
func Skip(n int64) QueryOption {
	return func(q *queryOptions) {
		q.skip = n
	}
}

// Project restricts returned fields; _id is always included.
func Project(fields ...string) QueryOption {
	return func(q *queryOptions) {
		q.projection = append(q.projection, fields...)
	}
}

// IncludeDeleted makes soft-delete models return tombstoned documents too.
func IncludeDeleted() QueryOption {
	return func(q *queryOptions) {
		q.includeDeleted = true
	}
}

func buildQueryOptions(opts []QueryOption) queryOptions {
	var q queryOptions
	for _, opt := range opts {
		opt(&q)
	}
	return q
}

func (q queryOptions) findOptions() FindOptions {
	return FindOptions{
		Sort:       q.sort,
		Skip:       q.skip,
		Limit:      q.limit,
		Projection: q.projection,
	}
}

func setSortKey(keys bson.D, field string, dir int) bson.D {
	if dir < 0 {
		dir = Descending
	} else {
		dir = Ascending
	}
	for i := range keys {
		if keys[i].Key == field {
			keys[i].Value = dir
			return keys
		}
	}
	return append(keys, bson.E{Key: field, Value: dir})
}

// DocumentQuery is a fluent builder over a Model's finders.
//
// Example:
//
//	tasks, err := tasksModel.Query().
//	    Filter(bson.M{"project_id": projectID}).
//	    Filter(bson.M{"status": "open"}).
//	    Sort("priority", Descending).
//	    Sort("created_at", Ascending).
//	    Limit(20).
//	    Execute(ctx)
type DocumentQuery struct {
	model  *Model
	filter bson.M
	opts   queryOptions
}

// NewDocumentQuery starts an empty query on m.
func NewDocumentQuery(m *Model) *DocumentQuery {
	return &DocumentQuery{
		model:  m,
		filter: bson.M{},
	}
}

// Filter merges conditions into the query. Later values win per key.
func (q *DocumentQuery) Filter(filter bson.M) *DocumentQuery {
	for k, v := range filter {
		q.filter[k] = v
	}
	return q
}

// Sort adds a sort key.
func (q *DocumentQuery) Sort(field string, dir int) *DocumentQuery {
	q.opts.sort = setSortKey(q.opts.sort, field, dir)
	return q
}

// SortFields adds several sort keys in order.
func (q *DocumentQuery) SortFields(keys bson.D) *DocumentQuery {
	for _, k := range keys {
		dir := Ascending
		if n, ok := toFloat(k.Value); ok && n < 0 {
			dir = Descending
		}
		q.opts.sort = setSortKey(q.opts.sort, k.Key, dir)
	}
	return q
}

// Limit sets the maximum number of results to return
func (q *DocumentQuery) Limit(n int64) *DocumentQuery {
	q.opts.limit = n
	return q
}

// Skip sets the number of results to skip
func (q *DocumentQuery) Skip(n int64) *DocumentQuery {
	q.opts.skip = n
	return q
}

// Project restricts returned fields.
func (q *DocumentQuery) Project(fields ...string) *DocumentQuery {
	q.opts.projection = append(q.opts.projection, fields...)
	return q
}

// IncludeDeleted includes tombstoned documents.
func (q *DocumentQuery) IncludeDeleted() *DocumentQuery {
	q.opts.includeDeleted = true
	return q
}

// Execute runs the query.
func (q *DocumentQuery) Execute(ctx context.Context) ([]*Document, error) {
	return q.model.Find(ctx, q.filter, q.options()...)
}

// First returns the first result or nil. The builder's limit is left untouched.
func (q *DocumentQuery) First(ctx context.Context) (*Document, error) {
	return q.model.FindOne(ctx, q.filter, q.options()...)
}

// Count counts matches of the filter, ignoring sort and pagination.
func (q *DocumentQuery) Count(ctx context.Context) (int64, error) {
	var opts []QueryOption
	if q.opts.includeDeleted {
		opts = append(opts, IncludeDeleted())
	}
	return q.model.Count(ctx, q.filter, opts...)
}

// Each calls fn for every result in order, stopping at the first error.
func (q *DocumentQuery) Each(ctx context.Context, fn func(*Document) error) error {
	docs, err := q.Execute(ctx)
	if err != nil {
		return err
	}
	for _, d := range docs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(d); err != nil {
			return err
		}
	}
	return nil
}

// options snapshots the builder state so later chaining cannot affect a
// running query.
func (q *DocumentQuery) options() []QueryOption {
	snapshot := q.opts
	snapshot.sort = append(bson.D(nil), q.opts.sort...)
	snapshot.projection = append([]string(nil), q.opts.projection...)
	return []QueryOption{func(o *queryOptions) { *o = snapshot }}
}
