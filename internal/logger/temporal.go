package logger

import "go.temporal.io/sdk/log"

// workflowLogger forwards temporal SDK log lines to zap, tagged so worker
// output can be told apart from API logs.
type workflowLogger struct {
	sugar *Logger
}

var (
	_ log.Logger     = (*workflowLogger)(nil)
	_ log.WithLogger = (*workflowLogger)(nil)
)

// GetTemporalLogger returns the logger handed to the temporal client and worker.
func (l *Logger) GetTemporalLogger() log.Logger {
	return &workflowLogger{sugar: &Logger{SugaredLogger: l.SugaredLogger.With("component", "temporal")}}
}

func (w *workflowLogger) Debug(msg string, keyvals ...interface{}) { w.sugar.Debugw(msg, keyvals...) }
func (w *workflowLogger) Info(msg string, keyvals ...interface{})  { w.sugar.Infow(msg, keyvals...) }
func (w *workflowLogger) Warn(msg string, keyvals ...interface{})  { w.sugar.Warnw(msg, keyvals...) }
func (w *workflowLogger) Error(msg string, keyvals ...interface{}) { w.sugar.Errorw(msg, keyvals...) }

// With carries workflow and activity identifiers into every later line.
func (w *workflowLogger) With(keyvals ...interface{}) log.Logger {
	return &workflowLogger{sugar: &Logger{SugaredLogger: w.sugar.SugaredLogger.With(keyvals...)}}
}
