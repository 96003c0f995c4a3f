package notify

import (
	"context"
	"log/slog"
)

// LogSink writes every event to a slog.Logger at info level. The one-time
// link is never logged.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink returns a LogSink writing to logger, or to slog.Default when nil.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Emit(ctx context.Context, event string, payload map[string]string) {
	clean := redact(payload)
	attrs := make([]slog.Attr, 0, len(clean)+1)
	attrs = append(attrs, slog.String("event", event))
	for _, k := range sortedKeys(clean) {
		attrs = append(attrs, slog.String(k, clean[k]))
	}
	s.logger.LogAttrs(ctx, slog.LevelInfo, "stampauth event", attrs...)
}
