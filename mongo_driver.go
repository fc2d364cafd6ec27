package docstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// MongoDriver implements Driver using go.mongodb.org/mongo-driver
type MongoDriver struct{}

// NewMongoDriver creates the default driver used by NewManager.
func NewMongoDriver() *MongoDriver {
	return &MongoDriver{}
}

// ClientOptions translates cfg into driver options.
func (d *MongoDriver) ClientOptions(cfg Config) *options.ClientOptions {
	opts := options.Client().ApplyURI(cfg.URI)
	if cfg.AppName != "" {
		opts.SetAppName(cfg.AppName)
	}
	if cfg.ConnectTimeout > 0 {
		opts.SetConnectTimeout(cfg.ConnectTimeout)
	}
	if cfg.ServerSelectionTimeout > 0 {
		opts.SetServerSelectionTimeout(cfg.ServerSelectionTimeout)
	}
	if cfg.MaxPoolSize > 0 {
		opts.SetMaxPoolSize(cfg.MaxPoolSize)
	}
	if cfg.MinPoolSize > 0 {
		opts.SetMinPoolSize(cfg.MinPoolSize)
	}
	return opts
}

func (d *MongoDriver) Connect(ctx context.Context, cfg Config) (Client, error) {
	client, err := mongo.Connect(ctx, d.ClientOptions(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	return &mongoClient{client: client}, nil
}

type mongoClient struct {
	client *mongo.Client
}

func (c *mongoClient) Ping(ctx context.Context) error {
	return c.client.Ping(ctx, readpref.Primary())
}

func (c *mongoClient) Database(name string) Database {
	return &mongoDatabase{db: c.client.Database(name)}
}

func (c *mongoClient) ServerInfo(ctx context.Context) (*ServerInfo, error) {
	var status struct {
		Version string  `bson:"version"`
		Uptime  float64 `bson:"uptime"`
	}
	err := c.client.Database("admin").
		RunCommand(ctx, bson.D{{Key: "serverStatus", Value: 1}}).
		Decode(&status)
	if err != nil {
		return nil, err
	}
	return &ServerInfo{
		Version: status.Version,
		Uptime:  time.Duration(status.Uptime * float64(time.Second)),
	}, nil
}

func (c *mongoClient) Disconnect(ctx context.Context) error {
	return c.client.Disconnect(ctx)
}

type mongoDatabase struct {
	db *mongo.Database
}

func (d *mongoDatabase) Name() string {
	return d.db.Name()
}

func (d *mongoDatabase) Collection(name string) Collection {
	return &mongoCollection{coll: d.db.Collection(name)}
}

type mongoCollection struct {
	coll *mongo.Collection
}

func (c *mongoCollection) Name() string {
	return c.coll.Name()
}

func (c *mongoCollection) InsertOne(ctx context.Context, doc bson.M) (interface{}, error) {
	res, err := c.coll.InsertOne(ctx, doc)
	if err != nil {
		return nil, err
	}
	return res.InsertedID, nil
}

func (c *mongoCollection) ReplaceOne(ctx context.Context, filter bson.M, doc bson.M) (int64, error) {
	res, err := c.coll.ReplaceOne(ctx, nonNil(filter), doc)
	if err != nil {
		return 0, err
	}
	return res.MatchedCount, nil
}

func (c *mongoCollection) DeleteOne(ctx context.Context, filter bson.M) (int64, error) {
	res, err := c.coll.DeleteOne(ctx, nonNil(filter))
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

func (c *mongoCollection) FindOne(ctx context.Context, filter bson.M, opts FindOptions) (bson.M, error) {
	findOpts := options.FindOne()
	if len(opts.Sort) > 0 {
		findOpts.SetSort(opts.Sort)
	}
	if opts.Skip > 0 {
		findOpts.SetSkip(opts.Skip)
	}
	if len(opts.Projection) > 0 {
		findOpts.SetProjection(projectionDocument(opts.Projection))
	}

	var out bson.M
	err := c.coll.FindOne(ctx, nonNil(filter), findOpts).Decode(&out)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *mongoCollection) Find(ctx context.Context, filter bson.M, opts FindOptions) ([]bson.M, error) {
	findOpts := options.Find()
	if len(opts.Sort) > 0 {
		findOpts.SetSort(opts.Sort)
	}
	if opts.Skip > 0 {
		findOpts.SetSkip(opts.Skip)
	}
	if opts.Limit > 0 {
		findOpts.SetLimit(opts.Limit)
	}
	if len(opts.Projection) > 0 {
		findOpts.SetProjection(projectionDocument(opts.Projection))
	}

	cursor, err := c.coll.Find(ctx, nonNil(filter), findOpts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	results := []bson.M{}
	if err := cursor.All(ctx, &results); err != nil {
		return nil, err
	}
	return results, nil
}

func (c *mongoCollection) CountDocuments(ctx context.Context, filter bson.M) (int64, error) {
	return c.coll.CountDocuments(ctx, nonNil(filter))
}

func (c *mongoCollection) CreateIndex(ctx context.Context, spec IndexSpec) (string, error) {
	indexOpts := options.Index().SetName(spec.IndexName())
	if spec.Unique {
		indexOpts.SetUnique(true)
	}
	if spec.Sparse {
		indexOpts.SetSparse(true)
	}
	if spec.ExpireAfter > 0 {
		indexOpts.SetExpireAfterSeconds(int32(spec.ExpireAfter / time.Second))
	}

	return c.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    spec.KeysDocument(),
		Options: indexOpts,
	})
}

func (c *mongoCollection) DropIndex(ctx context.Context, name string) error {
	_, err := c.coll.Indexes().DropOne(ctx, name)
	return err
}

func nonNil(filter bson.M) bson.M {
	if filter == nil {
		return bson.M{}
	}
	return filter
}

func projectionDocument(fields []string) bson.M {
	projection := make(bson.M, len(fields))
	for _, f := range fields {
		projection[f] = 1
	}
	return projection
}
