package observers

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/harunnryd/voxstream/pkg/metrics"
	"github.com/harunnryd/voxstream/pkg/turn"
)

// PrometheusObserver exports turn latency histograms and client event
// counters. It is both a turn.Listener and a metrics.Observer.
type PrometheusObserver struct {
	stage      *prometheus.HistogramVec
	total      prometheus.Histogram
	turns      *prometheus.CounterVec
	events     *prometheus.CounterVec
	audioBytes *prometheus.CounterVec
}

// NewPrometheusObserver registers its collectors on reg. Pass
// prometheus.DefaultRegisterer to expose them on the default handler.
func NewPrometheusObserver(reg prometheus.Registerer) (*PrometheusObserver, error) {
	o := &PrometheusObserver{
		stage: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "voxstream_turn_stage_duration_seconds",
			Help:    "Per-stage latency of recorded turns",
			Buckets: []float64{0.05, 0.1, 0.2, 0.3, 0.4, 0.5, 0.8, 1.0, 2.0, 5.0},
		}, []string{"stage"}),
		total: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "voxstream_turn_total_duration_seconds",
			Help:    "Estimated end-of-speech to first audio latency",
			Buckets: []float64{0.2, 0.5, 0.8, 1.0, 1.5, 2.0, 3.0, 5.0},
		}),
		turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "voxstream_turns_total",
			Help: "Finished turns by outcome",
		}, []string{"outcome"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "voxstream_client_events_total",
			Help: "Streaming client events by provider and name",
		}, []string{"provider", "event"}),
		audioBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "voxstream_audio_bytes_total",
			Help: "Audio bytes sent to STT or received from TTS",
		}, []string{"provider", "direction"}),
	}
	for _, c := range []prometheus.Collector{o.stage, o.total, o.turns, o.events, o.audioBytes} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return o, nil
}

func (o *PrometheusObserver) OnTurnFinished(f turn.Finished) {
	if !f.Recorded {
		o.turns.WithLabelValues("dropped").Inc()
		return
	}
	o.turns.WithLabelValues("recorded").Inc()
	o.stage.WithLabelValues("stt").Observe(f.Latency.STT.Seconds())
	o.stage.WithLabelValues("agent").Observe(f.Latency.Agent.Seconds())
	o.stage.WithLabelValues("tts").Observe(f.Latency.TTS.Seconds())
	o.total.Observe(f.Latency.Total.Seconds())
}

func (o *PrometheusObserver) RecordEvent(ev metrics.MetricsEvent) {
	provider := ev.Tags[metrics.TagProvider]
	if provider == "" {
		// turn events are covered by OnTurnFinished
		return
	}
	o.events.WithLabelValues(provider, ev.Name).Inc()
	switch ev.Name {
	case metrics.EventSTTAudio:
		o.audioBytes.WithLabelValues(provider, "out").Add(ev.Value)
	case metrics.EventTTSChunk:
		o.audioBytes.WithLabelValues(provider, "in").Add(ev.Value)
	}
}

var (
	_ turn.Listener    = (*PrometheusObserver)(nil)
	_ metrics.Observer = (*PrometheusObserver)(nil)
)
