package pubsub

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/voxbill/voxbill/internal/logger"
)

// loggerAdapter routes watermill logs through the service logger
type loggerAdapter struct {
	log    *logger.Logger
	fields watermill.LogFields
}

// NewLoggerAdapter wraps the service logger for watermill components
func NewLoggerAdapter(log *logger.Logger) watermill.LoggerAdapter {
	return &loggerAdapter{log: log}
}

func (l *loggerAdapter) kv(fields watermill.LogFields) []interface{} {
	merged := l.fields.Add(fields)
	kv := make([]interface{}, 0, len(merged)*2)
	for k, v := range merged {
		kv = append(kv, k, v)
	}
	return kv
}

func (l *loggerAdapter) Error(msg string, err error, fields watermill.LogFields) {
	l.log.Errorw(msg, append(l.kv(fields), "error", err)...)
}

func (l *loggerAdapter) Info(msg string, fields watermill.LogFields) {
	l.log.Infow(msg, l.kv(fields)...)
}

func (l *loggerAdapter) Debug(msg string, fields watermill.LogFields) {
	l.log.Debugw(msg, l.kv(fields)...)
}

// Trace is too chatty for the service logs
func (l *loggerAdapter) Trace(msg string, fields watermill.LogFields) {}

func (l *loggerAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &loggerAdapter{log: l.log, fields: l.fields.Add(fields)}
}
