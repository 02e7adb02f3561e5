package mock

import (
	"context"
	"iter"
	"sync"
	"time"

	"github.com/harunnryd/voxstream/pkg/adapters/stt"
	"github.com/harunnryd/voxstream/pkg/buffer"
	"github.com/harunnryd/voxstream/pkg/errorsx"
	"github.com/harunnryd/voxstream/pkg/events"
	"github.com/harunnryd/voxstream/pkg/wsconn"
)

// Utterance scripts one user turn: interim guesses followed by the final
// formatted transcript.
type Utterance struct {
	Partials []string
	Final    string
}

type STTConfig struct {
	// Script is played one event per SendAudio call.
	Script []Utterance
	Now    func() time.Time
}

// StreamingSTT replays a scripted conversation instead of transcribing.
type StreamingSTT struct {
	now    func() time.Time
	events *buffer.Queue[events.Event]

	mu      sync.Mutex
	pending []events.Event
	frames  int
	closed  bool
}

func NewSTT(cfg STTConfig) *StreamingSTT {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	s := &StreamingSTT{now: now, events: buffer.New[events.Event](buffer.Config{Name: "mock_stt"})}
	for _, u := range cfg.Script {
		for _, p := range u.Partials {
			s.pending = append(s.pending, events.STTChunk{Transcript: p})
		}
		if u.Final != "" {
			s.pending = append(s.pending, events.STTOutput{Transcript: u.Final})
		}
	}
	return s
}

func (s *StreamingSTT) Name() string { return "mock_stt" }

func (s *StreamingSTT) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errorsx.Wrap(wsconn.ErrClosed, errorsx.ReasonConnClosed)
	}
	return nil
}

// SendAudio counts the frame and releases the next scripted event.
func (s *StreamingSTT) SendAudio(ctx context.Context, pcm []byte) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errorsx.Wrap(wsconn.ErrClosed, errorsx.ReasonConnClosed)
	}
	s.frames++
	var next events.Event
	if len(s.pending) > 0 {
		next = s.pending[0]
		s.pending = s.pending[1:]
	}
	s.mu.Unlock()
	if next != nil {
		s.Emit(next)
	}
	return nil
}

// Emit pushes ev stamped with the current time.
func (s *StreamingSTT) Emit(ev events.Event) {
	switch e := ev.(type) {
	case events.STTChunk:
		e.At = s.now()
		ev = e
	case events.STTOutput:
		e.At = s.now()
		ev = e
	}
	s.events.Push(ev)
}

// Remaining is the number of scripted events not yet released.
func (s *StreamingSTT) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

func (s *StreamingSTT) Frames() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

func (s *StreamingSTT) Events(ctx context.Context) iter.Seq[events.Event] {
	return s.events.All(ctx)
}

func (s *StreamingSTT) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.events.Cancel()
	return nil
}

var _ stt.StreamingSTT = (*StreamingSTT)(nil)
