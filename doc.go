// Package docstore is the MongoDB persistence core shared by the task
// management services: connection lifecycle, retry with backoff, and a
// document model with timestamps, soft deletes, optimistic versioning and a
// fluent query builder.
//
// # Quick Start
//
//	cfg, err := docstore.LoadConfig("docstore.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	logger, _ := docstore.NewProductionZapLogger()
//	manager, err := docstore.NewManager(cfg,
//	    docstore.WithLogger(logger),
//	    docstore.WithMetrics(docstore.NewPrometheusMetrics(nil)),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer manager.Close(ctx)
//
//	tasks := docstore.NewDocumentModel(manager, "tasks",
//	    docstore.WithSchema(docstore.NewSchema(
//	        docstore.Field{Name: "title", Kind: docstore.KindString, Required: true, Rule: "max=200"},
//	        docstore.Field{Name: "project_id", Kind: docstore.KindObjectID, Required: true},
//	    )),
//	)
//
//	task := tasks.New(bson.M{"title": "Write release notes", "project_id": projectID})
//	id, err := task.Save(ctx)
//
//	open, err := tasks.Query().
//	    Filter(bson.M{"project_id": projectID}).
//	    Sort("created_at", docstore.Descending).
//	    Limit(20).
//	    Execute(ctx)
//
// # Core Concepts
//
// Manager: owns the database client. Handles are created lazily and every
// lifecycle transition is serialized. Failing to reach the database yields a
// retryable *DependencyError rather than a nil handle.
//
// Driver: the narrow set of database operations the package needs.
// MongoDriver talks to a server; MemoryDriver keeps everything in process
// and can simulate outages.
//
// Model and Document: a Model binds a collection and a list of behaviors
// (Versioning, Timestamps, SoftDelete, History) that run in a fixed order on
// every save. Documents are plain field maps with an ObjectID.
//
// # Concurrency
//
// Versioned models replace with a filter on the version that was read. A
// stale writer gets ErrConcurrentModification and should reload and retry:
//
//	for {
//	    task, err := tasks.FindByID(ctx, id)
//	    if err != nil || task == nil {
//	        return err
//	    }
//	    task.Set("status", "done")
//	    if _, err = task.Save(ctx); !docstore.IsConflict(err) {
//	        return err
//	    }
//	}
//
// # Errors
//
// Not found is never an error: finders return nil or an empty slice. Use
// IsRetryable, IsConflict, IsValidation and IsDependency to classify
// failures.
package docstore
