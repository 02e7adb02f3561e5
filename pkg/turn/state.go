// Package turn tracks the milestones of one conversation turn and folds
// completed turns into latency statistics.
package turn

import "time"

// State is the record of a single turn. A zero time means the milestone has
// not been observed.
type State struct {
	Active bool

	TurnStart    time.Time
	STTStart     time.Time
	STTLastChunk time.Time
	STTEnd       time.Time
	AgentStart   time.Time
	AgentEnd     time.Time
	TTSStart     time.Time
	TTSEnd       time.Time

	// Transcript is replaced by every STT update.
	Transcript string
	// Response accumulates streamed agent text.
	Response string
}

// Duration is the wall time from TurnStart to the latest recorded milestone.
func (s State) Duration() time.Duration {
	if s.TurnStart.IsZero() {
		return 0
	}
	var last time.Time
	for _, ts := range []time.Time{s.STTStart, s.STTLastChunk, s.STTEnd, s.AgentStart, s.AgentEnd, s.TTSStart, s.TTSEnd} {
		if ts.After(last) {
			last = ts
		}
	}
	if last.IsZero() {
		return 0
	}
	return last.Sub(s.TurnStart)
}

func setOnce(dst *time.Time, ts time.Time) {
	if dst.IsZero() {
		*dst = ts
	}
}
