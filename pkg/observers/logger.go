package observers

import (
	"context"
	"log/slog"
	"sort"

	"github.com/harunnryd/voxstream/pkg/metrics"
)

// LoggerObserver logs client and turn events under their own names. Frame
// level events go to debug, protocol and decode errors to warn.
type LoggerObserver struct {
	log *slog.Logger
}

func NewLoggerObserver(log *slog.Logger) *LoggerObserver {
	if log == nil {
		log = slog.Default()
	}
	return &LoggerObserver{log: log}
}

func (o *LoggerObserver) RecordEvent(ev metrics.MetricsEvent) {
	level := slog.LevelDebug
	attrs := make([]slog.Attr, 0, 6)
	for _, key := range []string{metrics.TagProvider, metrics.TagSessionID, metrics.TagTraceID} {
		if v := ev.Tags[key]; v != "" {
			attrs = append(attrs, slog.String(key, v))
		}
	}

	switch ev.Name {
	case metrics.EventSTTAudio, metrics.EventTTSChunk:
		attrs = append(attrs, slog.Int("size_bytes", int(ev.Value)))
	case metrics.EventTurnCompleted:
		attrs = append(attrs, slog.Int64("total_ms", int64(ev.Value)))
	case metrics.EventProtocolError, metrics.EventDecodeError, metrics.EventRateLimit, metrics.EventBreakerDenied:
		level = slog.LevelWarn
	case metrics.EventConnected, metrics.EventDisconnected, metrics.EventBreakerOpen, metrics.EventBreakerClose:
		level = slog.LevelInfo
	default:
		if ev.Value != 0 {
			attrs = append(attrs, slog.Float64("value", ev.Value))
		}
	}

	keys := make([]string, 0, len(ev.Fields))
	for k := range ev.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		attrs = append(attrs, slog.Any(k, ev.Fields[k]))
	}
	o.log.LogAttrs(context.Background(), level, ev.Name, attrs...)
}
