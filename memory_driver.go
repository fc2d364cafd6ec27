package docstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

// MemoryDriver implements Driver entirely in process.
//
// Data outlives individual clients, so Close/Reconnect keep previously
// written documents. Documents pass through a BSON round trip on every write
// and read, so callers see the same Go types a real server would return
// (int32/int64, primitive.DateTime, primitive.A, nested bson.M).
//
// SetAvailable, FailNext and FailCollection simulate outages for retry and
// reconnect tests. DropReplies simulates writes whose reply never arrives.
type MemoryDriver struct {
	mu        sync.Mutex
	databases map[string]map[string]*memoryStore
	available bool
	failures  []error
	broken    map[string]error
	dropped   map[string][]error
	connects  int
	started   time.Time
}

type memoryStore struct {
	docs    []bson.M
	indexes map[string]IndexSpec
}

// NewMemoryDriver creates an empty, available in-memory driver
func NewMemoryDriver() *MemoryDriver {
	return &MemoryDriver{
		databases: make(map[string]map[string]*memoryStore),
		available: true,
		started:   time.Now(),
	}
}

// SetAvailable toggles whether connects, pings and operations succeed.
func (d *MemoryDriver) SetAvailable(available bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.available = available
}

// FailNext queues errors returned by the next collection operations, one
// error per operation. Nil errors are ignored.
func (d *MemoryDriver) FailNext(errs ...error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, err := range errs {
		if err != nil {
			d.failures = append(d.failures, err)
		}
	}
}

// FailCollection makes every operation on the named collection fail with err
// until it is called again with a nil error.
func (d *MemoryDriver) FailCollection(name string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.broken == nil {
		d.broken = make(map[string]error)
	}
	if err == nil {
		delete(d.broken, name)
		return
	}
	d.broken[name] = err
}

// DropReplies makes the next applied writes on the named collection return
// errs, one error per write, even though the write itself took effect.
func (d *MemoryDriver) DropReplies(name string, errs ...error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.dropped == nil {
		d.dropped = make(map[string][]error)
	}
	for _, err := range errs {
		if err != nil {
			d.dropped[name] = append(d.dropped[name], err)
		}
	}
}

// Connects returns how many times Connect was called.
func (d *MemoryDriver) Connects() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connects
}

func (d *MemoryDriver) Connect(ctx context.Context, cfg Config) (Client, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.connects++

	if !d.available {
		return nil, WithContext(ErrBackendUnavailable, map[string]interface{}{
			"uri": cfg.URI,
		})
	}
	return &memoryClient{driver: d}, nil
}

// store returns the collection storage, creating it on first use.
// Caller must hold d.mu.
func (d *MemoryDriver) store(db, name string) *memoryStore {
	collections, ok := d.databases[db]
	if !ok {
		collections = make(map[string]*memoryStore)
		d.databases[db] = collections
	}
	s, ok := collections[name]
	if !ok {
		s = &memoryStore{indexes: make(map[string]IndexSpec)}
		collections[name] = s
	}
	return s
}

type memoryClient struct {
	driver *MemoryDriver
	mu     sync.RWMutex
	closed bool
}

func (c *memoryClient) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

func (c *memoryClient) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.isClosed() {
		return mongo.ErrClientDisconnected
	}

	c.driver.mu.Lock()
	defer c.driver.mu.Unlock()
	if !c.driver.available {
		return ErrBackendUnavailable
	}
	return nil
}

func (c *memoryClient) Database(name string) Database {
	return &memoryDatabase{client: c, name: name}
}

func (c *memoryClient) ServerInfo(ctx context.Context) (*ServerInfo, error) {
	if err := c.Ping(ctx); err != nil {
		return nil, err
	}
	return &ServerInfo{
		Version: "memory",
		Uptime:  time.Since(c.driver.started),
	}, nil
}

func (c *memoryClient) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

type memoryDatabase struct {
	client *memoryClient
	name   string
}

func (d *memoryDatabase) Name() string {
	return d.name
}

func (d *memoryDatabase) Collection(name string) Collection {
	return &memoryCollection{client: d.client, db: d.name, name: name}
}

type memoryCollection struct {
	client *memoryClient
	db     string
	name   string
}

func (c *memoryCollection) Name() string {
	return c.name
}

// begin checks connectivity and injected failures, then locks the driver.
// On success the caller must call c.end().
func (c *memoryCollection) begin(ctx context.Context) (*memoryStore, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.client.isClosed() {
		return nil, mongo.ErrClientDisconnected
	}

	d := c.client.driver
	d.mu.Lock()
	if !d.available {
		d.mu.Unlock()
		return nil, WithContext(ErrBackendUnavailable, map[string]interface{}{
			"collection": c.name,
		})
	}
	if err, ok := d.broken[c.name]; ok {
		d.mu.Unlock()
		return nil, err
	}
	if len(d.failures) > 0 {
		err := d.failures[0]
		d.failures = d.failures[1:]
		d.mu.Unlock()
		return nil, err
	}
	return d.store(c.db, c.name), nil
}

func (c *memoryCollection) end() {
	c.client.driver.mu.Unlock()
}

// lostReply pops the next dropped reply for this collection.
// Caller must hold d.mu.
func (c *memoryCollection) lostReply() error {
	d := c.client.driver
	errs := d.dropped[c.name]
	if len(errs) == 0 {
		return nil
	}
	d.dropped[c.name] = errs[1:]
	return errs[0]
}

func (c *memoryCollection) InsertOne(ctx context.Context, doc bson.M) (interface{}, error) {
	record := make(bson.M, len(doc)+1)
	for k, v := range doc {
		record[k] = v
	}
	if _, ok := record["_id"]; !ok {
		record["_id"] = primitive.NewObjectID()
	}

	normalized, err := normalizeDocument(record)
	if err != nil {
		return nil, err
	}

	s, err := c.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer c.end()

	for _, existing := range s.docs {
		if valuesEqual(existing["_id"], normalized["_id"]) {
			return nil, WithContext(ErrAlreadyExists, map[string]interface{}{
				"collection": c.name,
				"index":      "_id_",
			})
		}
	}
	if err := s.checkUnique(c.name, normalized, -1); err != nil {
		return nil, err
	}

	s.docs = append(s.docs, normalized)
	if err := c.lostReply(); err != nil {
		return nil, err
	}
	return normalized["_id"], nil
}

func (c *memoryCollection) ReplaceOne(ctx context.Context, filter bson.M, doc bson.M) (int64, error) {
	normalized, err := normalizeDocument(doc)
	if err != nil {
		return 0, err
	}

	s, err := c.begin(ctx)
	if err != nil {
		return 0, err
	}
	defer c.end()

	for i, existing := range s.docs {
		if !matchesFilter(existing, filter) {
			continue
		}
		if id, ok := normalized["_id"]; ok && !valuesEqual(id, existing["_id"]) {
			return 0, WithContext(ErrInvalidData, map[string]interface{}{
				"collection": c.name,
				"reason":     "_id is immutable",
			})
		}
		normalized["_id"] = existing["_id"]
		if err := s.checkUnique(c.name, normalized, i); err != nil {
			return 0, err
		}
		s.docs[i] = normalized
		if err := c.lostReply(); err != nil {
			return 0, err
		}
		return 1, nil
	}
	return 0, nil
}

func (c *memoryCollection) DeleteOne(ctx context.Context, filter bson.M) (int64, error) {
	s, err := c.begin(ctx)
	if err != nil {
		return 0, err
	}
	defer c.end()

	for i, existing := range s.docs {
		if matchesFilter(existing, filter) {
			s.docs = append(s.docs[:i], s.docs[i+1:]...)
			if err := c.lostReply(); err != nil {
				return 0, err
			}
			return 1, nil
		}
	}
	return 0, nil
}

func (c *memoryCollection) FindOne(ctx context.Context, filter bson.M, opts FindOptions) (bson.M, error) {
	opts.Limit = 1
	results, err := c.Find(ctx, filter, opts)
	if err != nil || len(results) == 0 {
		return nil, err
	}
	return results[0], nil
}

func (c *memoryCollection) Find(ctx context.Context, filter bson.M, opts FindOptions) ([]bson.M, error) {
	s, err := c.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer c.end()

	matched := make([]bson.M, 0)
	for _, doc := range s.docs {
		if matchesFilter(doc, filter) {
			matched = append(matched, doc)
		}
	}

	if len(opts.Sort) > 0 {
		sort.SliceStable(matched, func(i, j int) bool {
			return sortLess(matched[i], matched[j], opts.Sort)
		})
	}

	if opts.Skip > 0 {
		if opts.Skip >= int64(len(matched)) {
			matched = matched[:0]
		} else {
			matched = matched[opts.Skip:]
		}
	}
	if opts.Limit > 0 && int64(len(matched)) > opts.Limit {
		matched = matched[:opts.Limit]
	}

	results := make([]bson.M, 0, len(matched))
	for _, doc := range matched {
		if len(opts.Projection) > 0 {
			doc = project(doc, opts.Projection)
		}
		out, err := normalizeDocument(doc)
		if err != nil {
			return nil, err
		}
		results = append(results, out)
	}
	return results, nil
}

func (c *memoryCollection) CountDocuments(ctx context.Context, filter bson.M) (int64, error) {
	s, err := c.begin(ctx)
	if err != nil {
		return 0, err
	}
	defer c.end()

	var n int64
	for _, doc := range s.docs {
		if matchesFilter(doc, filter) {
			n++
		}
	}
	return n, nil
}

func (c *memoryCollection) CreateIndex(ctx context.Context, spec IndexSpec) (string, error) {
	if err := spec.Validate(); err != nil {
		return "", err
	}

	s, err := c.begin(ctx)
	if err != nil {
		return "", err
	}
	defer c.end()

	name := spec.IndexName()
	if existing, ok := s.indexes[name]; ok {
		if !sameKeys(existing, spec) || existing.Unique != spec.Unique {
			return "", WithContext(ErrAlreadyExists, map[string]interface{}{
				"collection": c.name,
				"index":      name,
				"reason":     "an index with this name but different options exists",
			})
		}
		return name, nil
	}

	if spec.Unique {
		for i, doc := range s.docs {
			if dup := s.findDuplicate(spec, doc, i); dup {
				return "", WithContext(ErrAlreadyExists, map[string]interface{}{
					"collection": c.name,
					"index":      name,
					"reason":     "existing documents violate the unique constraint",
				})
			}
		}
	}

	s.indexes[name] = spec
	return name, nil
}

func (c *memoryCollection) DropIndex(ctx context.Context, name string) error {
	s, err := c.begin(ctx)
	if err != nil {
		return err
	}
	defer c.end()

	if name == "_id_" {
		return WithContext(ErrUnsupported, map[string]interface{}{
			"collection": c.name,
			"reason":     "cannot drop _id index",
		})
	}
	if _, ok := s.indexes[name]; !ok {
		return WithContext(ErrInvalidData, map[string]interface{}{
			"collection": c.name,
			"index":      name,
			"reason":     "index not found",
		})
	}
	delete(s.indexes, name)
	return nil
}

// checkUnique reports a duplicate-key error when doc collides with another
// document on a unique index. skip is the position of doc itself (-1 for inserts).
func (s *memoryStore) checkUnique(collection string, doc bson.M, skip int) error {
	for name, spec := range s.indexes {
		if !spec.Unique {
			continue
		}
		if s.findDuplicate(spec, doc, skip) {
			return WithContext(ErrAlreadyExists, map[string]interface{}{
				"collection": collection,
				"index":      name,
			})
		}
	}
	return nil
}

func (s *memoryStore) findDuplicate(spec IndexSpec, doc bson.M, skip int) bool {
	if spec.Sparse && !hasAnyKey(doc, spec) {
		return false
	}
	for i, other := range s.docs {
		if i == skip {
			continue
		}
		if spec.Sparse && !hasAnyKey(other, spec) {
			continue
		}
		same := true
		for _, k := range spec.Keys {
			a, _ := lookupPath(doc, k.Field)
			b, _ := lookupPath(other, k.Field)
			if !valuesEqual(a, b) {
				same = false
				break
			}
		}
		if same {
			return true
		}
	}
	return false
}

func hasAnyKey(doc bson.M, spec IndexSpec) bool {
	for _, k := range spec.Keys {
		if _, found := lookupPath(doc, k.Field); found {
			return true
		}
	}
	return false
}

func sameKeys(a, b IndexSpec) bool {
	if len(a.Keys) != len(b.Keys) {
		return false
	}
	for i := range a.Keys {
		if a.Keys[i].Field != b.Keys[i].Field || a.Keys[i].order() != b.Keys[i].order() {
			return false
		}
	}
	return true
}

// normalizeDocument deep-copies doc through BSON so stored values have
// server types.
func normalizeDocument(doc bson.M) (bson.M, error) {
	data, err := bson.Marshal(doc)
	if err != nil {
		return nil, WithContext(ErrInvalidData, map[string]interface{}{
			"reason": err.Error(),
		})
	}
	var out bson.M
	if err := bson.Unmarshal(data, &out); err != nil {
		return nil, WithContext(ErrInvalidData, map[string]interface{}{
			"reason": err.Error(),
		})
	}
	return out, nil
}

func project(doc bson.M, fields []string) bson.M {
	out := bson.M{"_id": doc["_id"]}
	for _, f := range fields {
		if v, found := lookupPath(doc, f); found {
			setPath(out, f, v)
		}
	}
	return out
}
