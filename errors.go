package docstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/x/mongo/driver/topology"
)

// Sentinel errors for common conditions
var (
	// Data errors
	ErrAlreadyExists          = errors.New("document already exists")
	ErrConcurrentModification = errors.New("concurrent modification detected")
	ErrInvalidData            = errors.New("invalid data format")
	ErrValidation             = errors.New("document validation failed")
	ErrInvalidID              = errors.New("invalid document id")

	// Document lifecycle errors
	ErrMissingID       = errors.New("document has no id")
	ErrDocumentMissing = errors.New("document no longer exists")
	ErrDocumentRemoved = errors.New("document has been permanently removed")
	ErrUnsupported     = errors.New("operation not supported by model")

	// Backend errors
	ErrBackendUnavailable = errors.New("database unavailable")
	ErrNotConnected       = errors.New("database client not initialized")
	ErrTimeout            = errors.New("operation timed out")

	// Configuration errors
	ErrInvalidConfig = errors.New("invalid configuration")
)

// ErrorWithContext adds additional context to errors for better debugging and logging
type ErrorWithContext struct {
	Err     error
	Context map[string]interface{}
}

func (e *ErrorWithContext) Error() string {
	if len(e.Context) == 0 {
		return e.Err.Error()
	}
	return fmt.Sprintf("%v (context: %+v)", e.Err, e.Context)
}

func (e *ErrorWithContext) Unwrap() error {
	return e.Err
}

// WithContext adds context to an error
func WithContext(err error, context map[string]interface{}) error {
	if err == nil {
		return nil
	}
	return &ErrorWithContext{
		Err:     err,
		Context: context,
	}
}

// DependencyError reports that an external dependency (the database) could
// not be reached. Callers use it to tell "database is down" apart from
// "record not found".
type DependencyError struct {
	Dependency string
	Retryable  bool
	Err        error
}

func (e *DependencyError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("dependency %s unavailable", e.Dependency)
	}
	return fmt.Sprintf("dependency %s unavailable: %v", e.Dependency, e.Err)
}

func (e *DependencyError) Unwrap() error {
	return e.Err
}

// Is makes every DependencyError match ErrBackendUnavailable.
func (e *DependencyError) Is(target error) bool {
	return target == ErrBackendUnavailable
}

// ValidationError carries every violated field with its message.
type ValidationError struct {
	Fields map[string]string
	Cause  error
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return ErrValidation.Error()
	}
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+": "+e.Fields[name])
	}
	return fmt.Sprintf("%s: %s", ErrValidation, strings.Join(parts, "; "))
}

func (e *ValidationError) Unwrap() error {
	return e.Cause
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Common error checking helpers

// IsConflict checks if an error is a concurrent modification error
func IsConflict(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsValidation checks if an error is a local validation or precondition failure
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidID) ||
		errors.Is(err, ErrMissingID)
}

// IsDependency checks if an error reports an unreachable database
func IsDependency(err error) bool {
	var dep *DependencyError
	return errors.As(err, &dep)
}

// IsRetryable checks if an error is safe to retry.
// Connectivity-class failures are retryable; validation, precondition,
// duplicate-key and concurrent-modification failures never are.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if IsPermanent(err) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var dep *DependencyError
	if errors.As(err, &dep) {
		return dep.Retryable
	}

	if errors.Is(err, ErrBackendUnavailable) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrNotConnected) ||
		errors.Is(err, mongo.ErrClientDisconnected) {
		return true
	}

	if mongo.IsNetworkError(err) || mongo.IsTimeout(err) {
		return true
	}

	var selectionErr topology.ServerSelectionError
	if errors.As(err, &selectionErr) {
		return true
	}

	var serverErr mongo.ServerError
	if errors.As(err, &serverErr) {
		return serverErr.HasErrorLabel("RetryableWriteError") ||
			serverErr.HasErrorLabel("TransientTransactionError") ||
			serverErr.HasErrorLabel("NetworkError")
	}

	return false
}

// IsPermanent checks if an error is permanent (not retryable)
func IsPermanent(err error) bool {
	return IsValidation(err) ||
		errors.Is(err, ErrConcurrentModification) ||
		errors.Is(err, ErrAlreadyExists) ||
		errors.Is(err, ErrDocumentRemoved) ||
		errors.Is(err, ErrDocumentMissing) ||
		errors.Is(err, ErrUnsupported) ||
		errors.Is(err, ErrInvalidData) ||
		errors.Is(err, ErrInvalidConfig) ||
		mongo.IsDuplicateKeyError(err)
}

// isDuplicateID reports whether err is a unique violation on the _id index,
// as opposed to a secondary unique index.
func isDuplicateID(err error) bool {
	var ctxErr *ErrorWithContext
	if errors.As(err, &ctxErr) && errors.Is(err, ErrAlreadyExists) {
		return ctxErr.Context["index"] == "_id_"
	}

	var we mongo.WriteException
	if errors.As(err, &we) {
		for _, e := range we.WriteErrors {
			if e.Code == 11000 && strings.Contains(e.Message, "_id_") {
				return true
			}
		}
	}
	return false
}
