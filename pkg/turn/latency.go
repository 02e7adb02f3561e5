package turn

import (
	"fmt"
	"math"
	"slices"
	"time"
)

// DefaultSTTEstimate stands in for STT latency. The provider does not report
// when it detected end of speech, so the stage is approximated.
const DefaultSTTEstimate = 400 * time.Millisecond

// Latency is the per-stage breakdown of one turn.
type Latency struct {
	STT   time.Duration
	Agent time.Duration
	TTS   time.Duration
	Total time.Duration
}

// Compute derives latency from a finished turn. ok is false when any stage is
// missing a timestamp, in which case the turn must not be recorded.
func Compute(s State, sttEstimate time.Duration) (Latency, bool) {
	if s.STTEnd.IsZero() || s.AgentEnd.IsZero() || s.TTSStart.IsZero() {
		return Latency{}, false
	}
	l := Latency{
		STT:   sttEstimate,
		Agent: s.AgentEnd.Sub(s.STTEnd),
		TTS:   s.TTSStart.Sub(s.AgentEnd),
	}
	l.Total = l.STT + l.Agent + l.TTS
	return l, true
}

// Stats accumulates latencies of recorded turns. The zero value is ready.
type Stats struct {
	Turns int
	STT   []time.Duration
	Agent []time.Duration
	TTS   []time.Duration
	Total []time.Duration
}

// Record appends one turn's latency.
func (s *Stats) Record(l Latency) {
	s.Turns++
	s.STT = append(s.STT, l.STT)
	s.Agent = append(s.Agent, l.Agent)
	s.TTS = append(s.TTS, l.TTS)
	s.Total = append(s.Total, l.Total)
}

func (s Stats) clone() Stats {
	return Stats{
		Turns: s.Turns,
		STT:   slices.Clone(s.STT),
		Agent: slices.Clone(s.Agent),
		TTS:   slices.Clone(s.TTS),
		Total: slices.Clone(s.Total),
	}
}

// Summary aggregates total latency across recorded turns.
type Summary struct {
	Turns int
	Avg   time.Duration
	Min   time.Duration
	Max   time.Duration
}

// Summary reports avg/min/max of total latency. ok is false when nothing has
// been recorded yet.
func (s Stats) Summary() (Summary, bool) {
	if len(s.Total) == 0 {
		return Summary{}, false
	}
	var sum time.Duration
	for _, d := range s.Total {
		sum += d
	}
	return Summary{
		Turns: s.Turns,
		Avg:   sum / time.Duration(len(s.Total)),
		Min:   slices.Min(s.Total),
		Max:   slices.Max(s.Total),
	}, true
}

func (s Summary) String() string {
	return fmt.Sprintf("turns=%d avg=%s min=%s max=%s",
		s.Turns, FormatDuration(s.Avg), FormatDuration(s.Min), FormatDuration(s.Max))
}

// FormatDuration renders d for display: "—" for zero, whole milliseconds
// below one second, and seconds with two decimals otherwise.
func FormatDuration(d time.Duration) string {
	if d == 0 {
		return "—"
	}
	ms := float64(d) / float64(time.Millisecond)
	if r := math.Round(ms); r < 1000 {
		return fmt.Sprintf("%.0fms", r)
	}
	return fmt.Sprintf("%.2fs", ms/1000)
}
