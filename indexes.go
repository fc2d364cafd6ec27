package docstore

import (
	"context"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// IndexError is one index that could not be created or dropped.
type IndexError struct {
	Index string `json:"index"`
	Error string `json:"error"`
}

// IndexResult is the outcome for one collection.
type IndexResult struct {
	Success []string     `json:"success"`
	Errors  []IndexError `json:"errors"`
}

// IndexReport maps collection name to its IndexResult.
type IndexReport map[string]*IndexResult

// Failed reports whether any index operation failed.
func (r IndexReport) Failed() bool {
	for _, res := range r {
		if len(res.Errors) > 0 {
			return true
		}
	}
	return false
}

// IndexFile is the YAML layout read by LoadIndexFile:
//
//	collections:
//	  tasks:
//	    - keys: [{field: project_id}, {field: created_at, order: -1}]
//	    - keys: [{field: slug}]
//	      unique: true
type IndexFile struct {
	Collections map[string][]IndexSpec `yaml:"collections"`
}

// LoadIndexFile reads index definitions from a YAML file.
func LoadIndexFile(path string) (map[string][]IndexSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read index file: %w", err)
	}

	var file IndexFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, WithContext(ErrInvalidData, map[string]interface{}{
			"path":   path,
			"reason": err.Error(),
		})
	}

	for coll, specs := range file.Collections {
		for _, spec := range specs {
			if err := spec.Validate(); err != nil {
				return nil, fmt.Errorf("collection %s: %w", coll, err)
			}
		}
	}
	return file.Collections, nil
}

// CreateIndexes creates every index it is given. Each index is attempted
// independently, so one failure never blocks the others. A database that
// cannot be reached is reported against every requested index.
func (m *Manager) CreateIndexes(ctx context.Context, specs map[string][]IndexSpec) IndexReport {
	return m.eachIndex(ctx, specs, "create", func(coll Collection, spec IndexSpec) (string, error) {
		return coll.CreateIndex(ctx, spec)
	})
}

// DropIndexes drops the named indexes with the same isolation as CreateIndexes.
func (m *Manager) DropIndexes(ctx context.Context, specs map[string][]IndexSpec) IndexReport {
	return m.eachIndex(ctx, specs, "drop", func(coll Collection, spec IndexSpec) (string, error) {
		name := spec.IndexName()
		return name, coll.DropIndex(ctx, name)
	})
}

func (m *Manager) eachIndex(ctx context.Context, specs map[string][]IndexSpec, action string, apply func(Collection, IndexSpec) (string, error)) IndexReport {
	report := make(IndexReport, len(specs))

	names := make([]string, 0, len(specs))
	for name := range specs {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, collName := range names {
		result := &IndexResult{Success: []string{}, Errors: []IndexError{}}
		report[collName] = result

		coll, err := m.Collection(ctx, collName)
		for _, spec := range specs[collName] {
			if err != nil {
				result.fail(m, collName, action, spec.IndexName(), err)
				continue
			}
			if verr := spec.Validate(); verr != nil {
				result.fail(m, collName, action, spec.IndexName(), verr)
				continue
			}

			name, aerr := apply(coll, spec)
			if aerr != nil {
				result.fail(m, collName, action, spec.IndexName(), aerr)
				continue
			}
			result.Success = append(result.Success, name)
		}
	}

	return report
}

func (r *IndexResult) fail(m *Manager, collection, action, index string, err error) {
	r.Errors = append(r.Errors, IndexError{Index: index, Error: err.Error()})
	m.metrics.Increment(MetricIndexErrors, "collection", collection)
	m.logger.Warn("index operation failed",
		"action", action,
		"collection", collection,
		"index", index,
		"error", err)
}
