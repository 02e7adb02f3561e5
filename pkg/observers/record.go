package observers

import (
	"time"

	"github.com/harunnryd/voxstream/pkg/redact"
	"github.com/harunnryd/voxstream/pkg/turn"
)

// TurnRecord is the serialized form of a finished turn shared by the
// timeline and Redis sinks. Timestamps are unix milliseconds, zero when the
// milestone was not observed.
type TurnRecord struct {
	ConversationID string `json:"conversation_id,omitempty"`
	Index          int    `json:"turn"`
	Recorded       bool   `json:"recorded"`
	Transcript     string `json:"transcript,omitempty"`
	Response       string `json:"response,omitempty"`

	TurnStart  int64 `json:"turn_start_ms,omitempty"`
	STTStart   int64 `json:"stt_start_ms,omitempty"`
	STTEnd     int64 `json:"stt_end_ms,omitempty"`
	AgentStart int64 `json:"agent_start_ms,omitempty"`
	AgentEnd   int64 `json:"agent_end_ms,omitempty"`
	TTSStart   int64 `json:"tts_start_ms,omitempty"`
	TTSEnd     int64 `json:"tts_end_ms,omitempty"`

	STTMs   int64 `json:"stt_ms,omitempty"`
	AgentMs int64 `json:"agent_ms,omitempty"`
	TTSMs   int64 `json:"tts_ms,omitempty"`
	TotalMs int64 `json:"total_ms,omitempty"`
}

// NewTurnRecord flattens f. Transcript and response pass through
// redact.Text.
func NewTurnRecord(conversationID string, f turn.Finished) TurnRecord {
	s := f.State
	rec := TurnRecord{
		ConversationID: conversationID,
		Index:          f.Index,
		Recorded:       f.Recorded,
		Transcript:     redact.Text(s.Transcript),
		Response:       redact.Text(s.Response),
		TurnStart:      unixMs(s.TurnStart),
		STTStart:       unixMs(s.STTStart),
		STTEnd:         unixMs(s.STTEnd),
		AgentStart:     unixMs(s.AgentStart),
		AgentEnd:       unixMs(s.AgentEnd),
		TTSStart:       unixMs(s.TTSStart),
		TTSEnd:         unixMs(s.TTSEnd),
	}
	if f.Recorded {
		rec.STTMs = f.Latency.STT.Milliseconds()
		rec.AgentMs = f.Latency.Agent.Milliseconds()
		rec.TTSMs = f.Latency.TTS.Milliseconds()
		rec.TotalMs = f.Latency.Total.Milliseconds()
	}
	return rec
}

func unixMs(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}
