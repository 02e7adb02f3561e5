package observers

import (
	"log/slog"
	"sync"
	"time"

	"github.com/harunnryd/voxstream/pkg/turn"
)

// LatencyObserver logs every finished turn with its stage breakdown and the
// running summary across the conversation.
type LatencyObserver struct {
	mu    sync.Mutex
	stats turn.Stats
	log   *slog.Logger
}

func NewLatencyObserver(log *slog.Logger) *LatencyObserver {
	if log == nil {
		log = slog.Default()
	}
	return &LatencyObserver{log: log}
}

func (o *LatencyObserver) OnTurnFinished(f turn.Finished) {
	if !f.Recorded {
		o.log.Info("latency_turn_dropped",
			"turn", f.Index,
			"stt_end_set", !f.State.STTEnd.IsZero(),
			"agent_end_set", !f.State.AgentEnd.IsZero(),
			"tts_start_set", !f.State.TTSStart.IsZero(),
		)
		return
	}
	o.mu.Lock()
	o.stats.Record(f.Latency)
	summary, _ := o.stats.Summary()
	o.mu.Unlock()

	o.log.Info("latency",
		"turn", f.Index,
		"stt_ms", f.Latency.STT.Milliseconds(),
		"agent_ms", f.Latency.Agent.Milliseconds(),
		"tts_first_audio_ms", f.Latency.TTS.Milliseconds(),
		"total_ms", f.Latency.Total.Milliseconds(),
		"audio_ms", durationMs(f.State.TTSStart, f.State.TTSEnd),
		"avg_ms", summary.Avg.Milliseconds(),
		"min_ms", summary.Min.Milliseconds(),
		"max_ms", summary.Max.Milliseconds(),
	)
}

// Summary reports the totals observed so far.
func (o *LatencyObserver) Summary() (turn.Summary, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stats.Summary()
}

func durationMs(a, b time.Time) int64 {
	if a.IsZero() || b.IsZero() {
		return -1
	}
	return b.Sub(a).Milliseconds()
}

var _ turn.Listener = (*LatencyObserver)(nil)
