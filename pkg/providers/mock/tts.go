package mock

import (
	"context"
	"fmt"
	"iter"
	"strings"
	"sync"
	"time"

	"github.com/harunnryd/voxstream/pkg/adapters/tts"
	"github.com/harunnryd/voxstream/pkg/buffer"
	"github.com/harunnryd/voxstream/pkg/errorsx"
	"github.com/harunnryd/voxstream/pkg/events"
	"github.com/harunnryd/voxstream/pkg/wsconn"
)

type TTSConfig struct {
	// ChunksPerText audio chunks are emitted for each SendText. Default 1.
	ChunksPerText int
	// ChunkBytes of silence per chunk. Default 320.
	ChunkBytes int
	// Delay before the first chunk of each text.
	Delay time.Duration
	Now   func() time.Time
}

// StreamingTTS emits deterministic silent audio for every utterance.
type StreamingTTS struct {
	cfg    TTSConfig
	now    func() time.Time
	events *buffer.Queue[events.Event]

	mu     sync.Mutex
	texts  []string
	closed bool
	wg     sync.WaitGroup
}

func NewTTS(cfg TTSConfig) *StreamingTTS {
	if cfg.ChunksPerText <= 0 {
		cfg.ChunksPerText = 1
	}
	if cfg.ChunkBytes <= 0 {
		cfg.ChunkBytes = 320
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &StreamingTTS{cfg: cfg, now: now, events: buffer.New[events.Event](buffer.Config{Name: "mock_tts"})}
}

func (s *StreamingTTS) Name() string { return "mock_tts" }

func (s *StreamingTTS) Warmup(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errorsx.Wrap(wsconn.ErrClosed, errorsx.ReasonConnClosed)
	}
	return nil
}

func (s *StreamingTTS) SendText(ctx context.Context, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", nil
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", errorsx.Wrap(wsconn.ErrClosed, errorsx.ReasonConnClosed)
	}
	s.texts = append(s.texts, text)
	id := fmt.Sprintf("mock-%d", len(s.texts))
	s.wg.Add(1)
	s.mu.Unlock()

	emit := func() {
		defer s.wg.Done()
		for i := 0; i < s.cfg.ChunksPerText; i++ {
			s.events.Push(events.TTSChunk{Audio: make([]byte, s.cfg.ChunkBytes), ContextID: id, At: s.now()})
		}
	}
	if s.cfg.Delay > 0 {
		go func() {
			time.Sleep(s.cfg.Delay)
			emit()
		}()
	} else {
		emit()
	}
	return id, nil
}

// Texts returns every utterance sent so far.
func (s *StreamingTTS) Texts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.texts...)
}

func (s *StreamingTTS) Events(ctx context.Context) iter.Seq[events.Event] {
	return s.events.All(ctx)
}

// Close waits for delayed chunks, then ends the event sequence.
func (s *StreamingTTS) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	s.wg.Wait()
	s.events.Cancel()
	return nil
}

var _ tts.StreamingTTS = (*StreamingTTS)(nil)
