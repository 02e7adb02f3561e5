package metrics

import (
	"testing"
	"time"
)

func TestAsyncObserverDeliversBeforeClose(t *testing.T) {
	mem := NewMemoryObserver()
	a := NewAsyncObserver(mem, 8)
	for i := 0; i < 5; i++ {
		a.RecordEvent(MetricsEvent{Name: EventTTSChunk, Time: time.Now()})
	}
	a.Close()
	if mem.Count(EventTTSChunk) != 5 {
		t.Fatalf("expected 5 delivered events, got %d", mem.Count(EventTTSChunk))
	}
	a.RecordEvent(MetricsEvent{Name: EventTTSChunk})
	if mem.Count(EventTTSChunk) != 5 {
		t.Fatalf("events after close must be ignored")
	}
}

func TestMultiObserverFansOut(t *testing.T) {
	a, b := NewMemoryObserver(), NewMemoryObserver()
	m := NewMultiObserver(a, nil, b)
	m.RecordEvent(MetricsEvent{Name: EventSTTOutput})
	if a.Count(EventSTTOutput) != 1 || b.Count(EventSTTOutput) != 1 {
		t.Fatalf("expected both observers to receive the event")
	}
}

func TestOrNoop(t *testing.T) {
	OrNoop(nil).RecordEvent(MetricsEvent{Name: "x"})
	mem := NewMemoryObserver()
	if OrNoop(mem) != Observer(mem) {
		t.Fatalf("expected observer returned unchanged")
	}
}

func TestSamplingObserverThinsFrameEvents(t *testing.T) {
	mem := NewMemoryObserver()
	s := NewSamplingObserver(mem, 0.25)
	for i := 0; i < 8; i++ {
		s.RecordEvent(MetricsEvent{Name: EventTTSChunk})
	}
	s.RecordEvent(MetricsEvent{Name: EventTurnCompleted})
	if mem.Count(EventTTSChunk) != 2 {
		t.Fatalf("expected 2 sampled chunks, got %d", mem.Count(EventTTSChunk))
	}
	if mem.Count(EventTurnCompleted) != 1 {
		t.Fatalf("turn events must not be sampled")
	}

	off := NewMemoryObserver()
	z := NewSamplingObserver(off, 0)
	z.RecordEvent(MetricsEvent{Name: EventSTTAudio})
	z.RecordEvent(MetricsEvent{Name: EventProtocolError})
	if off.Count(EventSTTAudio) != 0 || off.Count(EventProtocolError) != 1 {
		t.Fatalf("unexpected counts with sampling off")
	}
}
