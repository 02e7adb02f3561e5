package metrics

import "time"

// Event names emitted by the streaming clients and the turn pipeline.
const (
	EventSTTAudio      = "stt_audio"
	EventSTTChunk      = "stt_chunk"
	EventSTTOutput     = "stt_output"
	EventTTSChunk      = "tts_chunk"
	EventProtocolError = "protocol_error"
	EventDecodeError   = "decode_error"
	EventConnected     = "connected"
	EventDisconnected  = "disconnected"
	EventTurnCompleted = "turn_completed"
	EventTurnDropped   = "turn_dropped"
	EventRateLimit     = "rate_limit"
	EventBreakerDenied = "breaker_denied"
	EventBreakerOpen   = "breaker_open"
	EventBreakerClose  = "breaker_close"
)

// Tag keys.
const (
	TagProvider  = "provider"
	TagSessionID = "session_id"
	TagTraceID   = "trace_id"
)

type MetricsEvent struct {
	Name   string
	Time   time.Time
	Value  float64
	Tags   map[string]string
	Fields map[string]any
}

type Observer interface {
	RecordEvent(ev MetricsEvent)
}

type Flusher interface {
	Flush() error
}

type NoopObserver struct{}

func (NoopObserver) RecordEvent(MetricsEvent) {}

// OrNoop returns obs, or a NoopObserver when obs is nil.
func OrNoop(obs Observer) Observer {
	if obs == nil {
		return NoopObserver{}
	}
	return obs
}

// MultiObserver fans every event out to a fixed list of observers.
type MultiObserver struct {
	list []Observer
}

func NewMultiObserver(list ...Observer) *MultiObserver {
	return &MultiObserver{list: list}
}

func (m *MultiObserver) RecordEvent(ev MetricsEvent) {
	for _, obs := range m.list {
		if obs != nil {
			obs.RecordEvent(ev)
		}
	}
}
