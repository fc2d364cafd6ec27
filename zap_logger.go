package docstore

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ZapLogger writes docstore events through a zap SugaredLogger, so the
// key/value fields become structured zap fields.
type ZapLogger struct {
	logger *zap.SugaredLogger
}

// NewZapLogger wraps an application's zap logger.
func NewZapLogger(logger *zap.Logger) *ZapLogger {
	return NewZapLoggerFromSugar(logger.Sugar())
}

// NewZapLoggerFromSugar wraps a logger that is already sugared.
func NewZapLoggerFromSugar(logger *zap.SugaredLogger) *ZapLogger {
	return &ZapLogger{logger: logger}
}

// NewProductionZapLogger builds the logger used by the docstore CLI: JSON
// lines at info level with an ISO-8601 "timestamp" field, named "docstore".
func NewProductionZapLogger() (*ZapLogger, error) {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return buildZapLogger(cfg)
}

// NewDevelopmentZapLogger builds a console logger at debug level, which also
// shows skipped cache fills and inserts recovered after a lost reply.
func NewDevelopmentZapLogger() (*ZapLogger, error) {
	return buildZapLogger(zap.NewDevelopmentConfig())
}

func buildZapLogger(cfg zap.Config) (*ZapLogger, error) {
	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return NewZapLogger(logger.Named("docstore")), nil
}

// With returns a logger that stamps fields, typically "collection", on
// every event.
func (l *ZapLogger) With(fields ...interface{}) *ZapLogger {
	return &ZapLogger{logger: l.logger.With(fields...)}
}

func (l *ZapLogger) Debug(msg string, fields ...interface{}) { l.logger.Debugw(msg, fields...) }
func (l *ZapLogger) Info(msg string, fields ...interface{})  { l.logger.Infow(msg, fields...) }
func (l *ZapLogger) Warn(msg string, fields ...interface{})  { l.logger.Warnw(msg, fields...) }
func (l *ZapLogger) Error(msg string, fields ...interface{}) { l.logger.Errorw(msg, fields...) }

// Sync flushes buffered entries. The CLI calls it on exit.
func (l *ZapLogger) Sync() error {
	return l.logger.Sync()
}
