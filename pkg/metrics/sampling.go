package metrics

import (
	"math"
	"sync/atomic"
)

// sampled lists the per-frame events that may be thinned out. Everything
// else (turns, errors, connection changes) is always forwarded.
var sampled = map[string]bool{
	EventSTTAudio: true,
	EventSTTChunk: true,
	EventTTSChunk: true,
}

// SamplingObserver forwards one in every 1/rate high-volume events.
type SamplingObserver struct {
	inner       Observer
	rate        float64
	sampleEvery uint64
	counter     uint64
}

func NewSamplingObserver(inner Observer, rate float64) *SamplingObserver {
	rate = min(max(rate, 0), 1)
	var every uint64
	switch {
	case rate == 0:
	case rate == 1:
		every = 1
	default:
		every = max(uint64(math.Round(1.0/rate)), 1)
	}
	return &SamplingObserver{inner: OrNoop(inner), rate: rate, sampleEvery: every}
}

func (s *SamplingObserver) RecordEvent(ev MetricsEvent) {
	if !sampled[ev.Name] || s.sampleEvery == 1 {
		s.inner.RecordEvent(ev)
		return
	}
	if s.sampleEvery == 0 {
		return
	}
	if atomic.AddUint64(&s.counter, 1)%s.sampleEvery == 0 {
		s.inner.RecordEvent(ev)
	}
}
