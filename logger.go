package docstore

// Logger receives the events a Manager and its models report: connects and
// reconnects, retried operations, cache fallbacks and failed after-save
// hooks. Messages are constant strings; the variable parts travel as
// alternating key/value fields such as "collection", "id" and "error".
type Logger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
}

// NoOpLogger discards every event. Managers use it when no logger is set.
type NoOpLogger struct{}

func (l *NoOpLogger) Debug(msg string, fields ...interface{}) {}
func (l *NoOpLogger) Info(msg string, fields ...interface{})  {}
func (l *NoOpLogger) Warn(msg string, fields ...interface{})  {}
func (l *NoOpLogger) Error(msg string, fields ...interface{}) {}
