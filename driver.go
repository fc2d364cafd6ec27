package docstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
)

// Driver opens clients. MongoDriver talks to a real server; MemoryDriver keeps
// everything in process for tests and local development.
type Driver interface {
	Connect(ctx context.Context, cfg Config) (Client, error)
}

// Client is a connected driver handle. It must be safe for concurrent use.
type Client interface {
	Ping(ctx context.Context) error
	Database(name string) Database
	ServerInfo(ctx context.Context) (*ServerInfo, error)
	Disconnect(ctx context.Context) error
}

// Database is a handle to one logical database.
type Database interface {
	Name() string
	Collection(name string) Collection
}

// Collection defines the record operations the document layer relies on.
// FindOne returns nil, nil when nothing matches.
type Collection interface {
	Name() string

	InsertOne(ctx context.Context, doc bson.M) (interface{}, error)
	// ReplaceOne returns the number of matched documents. It never upserts.
	ReplaceOne(ctx context.Context, filter bson.M, doc bson.M) (int64, error)
	// DeleteOne returns the number of deleted documents.
	DeleteOne(ctx context.Context, filter bson.M) (int64, error)

	FindOne(ctx context.Context, filter bson.M, opts FindOptions) (bson.M, error)
	Find(ctx context.Context, filter bson.M, opts FindOptions) ([]bson.M, error)
	CountDocuments(ctx context.Context, filter bson.M) (int64, error)

	CreateIndex(ctx context.Context, spec IndexSpec) (string, error)
	DropIndex(ctx context.Context, name string) error
}

// FindOptions carries sort, pagination and projection for a read.
type FindOptions struct {
	Sort       bson.D
	Skip       int64
	Limit      int64
	Projection []string
}

// ServerInfo is the server metadata reported by Manager.Status.
type ServerInfo struct {
	Version string        `json:"version"`
	Uptime  time.Duration `json:"uptime"`
}

// IndexKey is one field of a (possibly compound) index.
type IndexKey struct {
	Field string `yaml:"field" json:"field"`
	Order int    `yaml:"order" json:"order"`
}

// IndexSpec describes an index on a collection.
type IndexSpec struct {
	Keys   []IndexKey `yaml:"keys" json:"keys"`
	Name   string     `yaml:"name,omitempty" json:"name,omitempty"`
	Unique bool       `yaml:"unique,omitempty" json:"unique,omitempty"`
	Sparse bool       `yaml:"sparse,omitempty" json:"sparse,omitempty"`
	// ExpireAfter turns the index into a TTL index when positive.
	ExpireAfter time.Duration `yaml:"expire_after,omitempty" json:"expire_after,omitempty"`
}

// Index builds an ascending single or compound IndexSpec from field names.
// A leading "-" makes a field descending: Index("project_id", "-created_at").
func Index(fields ...string) IndexSpec {
	spec := IndexSpec{Keys: make([]IndexKey, 0, len(fields))}
	for _, f := range fields {
		order := 1
		if strings.HasPrefix(f, "-") {
			order = -1
			f = strings.TrimPrefix(f, "-")
		}
		spec.Keys = append(spec.Keys, IndexKey{Field: f, Order: order})
	}
	return spec
}

// IndexName returns the explicit name or the server default ("a_1_b_-1").
func (s IndexSpec) IndexName() string {
	if s.Name != "" {
		return s.Name
	}
	parts := make([]string, 0, len(s.Keys)*2)
	for _, k := range s.Keys {
		parts = append(parts, k.Field, fmt.Sprintf("%d", k.order()))
	}
	return strings.Join(parts, "_")
}

// KeysDocument returns the keys in server order.
func (s IndexSpec) KeysDocument() bson.D {
	keys := make(bson.D, 0, len(s.Keys))
	for _, k := range s.Keys {
		keys = append(keys, bson.E{Key: k.Field, Value: k.order()})
	}
	return keys
}

// Validate checks if the IndexSpec is usable
func (s IndexSpec) Validate() error {
	if len(s.Keys) == 0 {
		return WithContext(ErrInvalidData, map[string]interface{}{
			"index":  s.Name,
			"reason": "index needs at least one key",
		})
	}
	for _, k := range s.Keys {
		if k.Field == "" {
			return WithContext(ErrInvalidData, map[string]interface{}{
				"index":  s.Name,
				"reason": "index key has an empty field name",
			})
		}
		if k.Order != 0 && k.Order != 1 && k.Order != -1 {
			return WithContext(ErrInvalidData, map[string]interface{}{
				"index":  s.Name,
				"field":  k.Field,
				"reason": "order must be 1 or -1",
			})
		}
	}
	return nil
}

func (k IndexKey) order() int {
	if k.Order == 0 {
		return 1
	}
	return k.Order
}
