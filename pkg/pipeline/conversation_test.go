package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/harunnryd/voxstream/pkg/events"
	"github.com/harunnryd/voxstream/pkg/llm"
	"github.com/harunnryd/voxstream/pkg/providers/mock"
	"github.com/harunnryd/voxstream/pkg/runner"
	"github.com/harunnryd/voxstream/pkg/turn"
)

type audioCapture struct {
	mu     sync.Mutex
	chunks int
}

func (a *audioCapture) WriteAudio(pcm []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.chunks++
	return nil
}

func (a *audioCapture) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.chunks
}

type finishedTurns struct {
	mu   sync.Mutex
	list []turn.Finished
}

func (f *finishedTurns) OnTurnFinished(t turn.Finished) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.list = append(f.list, t)
}

func (f *finishedTurns) all() []turn.Finished {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]turn.Finished(nil), f.list...)
}

type harness struct {
	conv     *Conversation
	stt      *mock.StreamingSTT
	tts      *mock.StreamingTTS
	llm      *mock.Responder
	sink     *audioCapture
	finished *finishedTurns
	runErr   chan error
	cancel   context.CancelFunc
}

type harnessOptions struct {
	tts       mock.TTSConfig
	idle      time.Duration
	listeners []turn.Listener
}

func newHarness(t *testing.T, script []mock.Utterance, llmCfg mock.LLMConfig) *harness {
	return newHarnessWith(t, script, llmCfg, harnessOptions{})
}

func newHarnessWith(t *testing.T, script []mock.Utterance, llmCfg mock.LLMConfig, opts harnessOptions) *harness {
	t.Helper()
	if opts.tts.ChunksPerText == 0 {
		opts.tts.ChunksPerText = 2
	}
	if opts.idle == 0 {
		opts.idle = 30 * time.Millisecond
	}
	h := &harness{
		stt:      mock.NewSTT(mock.STTConfig{Script: script}),
		tts:      mock.NewTTS(opts.tts),
		llm:      mock.NewResponder(llmCfg),
		sink:     &audioCapture{},
		finished: &finishedTurns{},
		runErr:   make(chan error, 1),
	}
	conv, err := New(Config{
		STT:           h.stt,
		TTS:           h.tts,
		Responder:     h.llm,
		History:       llm.NewHistory("", 0),
		Sink:          h.sink,
		TurnListeners: append([]turn.Listener{h.finished}, opts.listeners...),
		IdleFinish:    opts.idle,
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	h.conv = conv
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.runErr <- conv.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-h.runErr:
		case <-time.After(2 * time.Second):
			t.Errorf("conversation did not stop")
		}
	})
	return h
}

func (h *harness) speak(t *testing.T, frames int) {
	t.Helper()
	for i := 0; i < frames; i++ {
		if err := h.conv.SendAudio(context.Background(), []byte{0, 0}); err != nil {
			t.Fatalf("send audio: %v", err)
		}
	}
}

func (h *harness) waitFinished(t *testing.T, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for len(h.finished.all()) < n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d finished turns, got %d", n, len(h.finished.all()))
		}
		time.Sleep(5 * time.Millisecond)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.conv.Settle(ctx); err != nil {
		t.Fatalf("settle: %v", err)
	}
}

func TestConversationRecordsCompletedTurn(t *testing.T) {
	h := newHarness(t, []mock.Utterance{
		{Partials: []string{"", "one cheese"}, Final: "One cheeseburger, please."},
	}, mock.LLMConfig{Replies: []string{"Sure thing, one cheeseburger. Anything else today?"}})

	h.speak(t, 3)
	h.waitFinished(t, 1)

	f := h.finished.all()[0]
	if !f.Recorded {
		t.Fatalf("expected recorded turn, got %+v", f.State)
	}
	s := f.State
	if s.Transcript != "One cheeseburger, please." || s.Response != "Sure thing, one cheeseburger. Anything else today?" {
		t.Fatalf("unexpected text %+v", s)
	}
	if s.STTStart.IsZero() || s.STTLastChunk.IsZero() || s.AgentStart.IsZero() || s.TTSEnd.IsZero() {
		t.Fatalf("missing milestones %+v", s)
	}
	if s.TTSStart.Before(s.AgentEnd) {
		t.Fatalf("audio should follow the finished reply by default")
	}
	if got := h.tts.Texts(); len(got) != 2 || got[0] != "Sure thing, one cheeseburger." || got[1] != "Anything else today?" {
		t.Fatalf("unexpected utterances %q", got)
	}
	if h.sink.count() != 4 {
		t.Fatalf("expected 4 audio chunks at the sink, got %d", h.sink.count())
	}
	if stats := h.conv.Turns().Stats(); stats.Turns != 1 {
		t.Fatalf("expected one recorded turn, got %+v", stats)
	}
	if h.conv.History().Len() != 2 {
		t.Fatalf("expected exchange in history, got %d", h.conv.History().Len())
	}
}

func TestConversationCarriesHistoryAcrossTurns(t *testing.T) {
	h := newHarness(t, []mock.Utterance{
		{Final: "Hi."},
		{Final: "A large fries."},
	}, mock.LLMConfig{Replies: []string{"Welcome! What can I get you?", "Large fries, got it."}})

	h.speak(t, 1)
	h.waitFinished(t, 1)
	h.speak(t, 1)
	h.waitFinished(t, 2)

	prompts := h.llm.Prompts()
	if len(prompts) != 2 {
		t.Fatalf("expected 2 prompts, got %d", len(prompts))
	}
	second := prompts[1]
	if len(second) != 3 || second[0].Content != "Hi." || second[1].Role != llm.RoleAssistant || second[2].Content != "A large fries." {
		t.Fatalf("unexpected second prompt %+v", second)
	}
	if stats := h.conv.Turns().Stats(); stats.Turns != 2 {
		t.Fatalf("expected 2 recorded turns, got %d", stats.Turns)
	}
}

func TestConversationDropsTurnWhenResponderFails(t *testing.T) {
	h := newHarness(t, []mock.Utterance{{Final: "Hello?"}}, mock.LLMConfig{Err: errors.New("offline")})

	h.speak(t, 1)
	h.waitFinished(t, 1)

	if f := h.finished.all()[0]; f.Recorded {
		t.Fatalf("failed reply must not be recorded")
	}
	if _, ok := h.conv.Turns().Summary(); ok {
		t.Fatalf("expected no data")
	}
	if len(h.tts.Texts()) != 0 {
		t.Fatalf("nothing should be synthesized")
	}
}

func TestConversationDropsTruncatedReply(t *testing.T) {
	h := newHarness(t, []mock.Utterance{{Final: "Two tacos."}},
		mock.LLMConfig{Replies: []string{"Two tacos"}, StreamErr: errors.New("connection reset")})

	h.speak(t, 1)
	h.waitFinished(t, 1)

	f := h.finished.all()[0]
	if f.Recorded || !f.State.AgentEnd.IsZero() {
		t.Fatalf("truncated reply must not be recorded, got %+v", f.State)
	}
	if len(h.tts.Texts()) != 0 || h.conv.History().Len() != 0 {
		t.Fatalf("truncated reply must not be spoken or remembered")
	}
}

func TestConversationIgnoresAudioOfInterruptedTurn(t *testing.T) {
	h := newHarnessWith(t, []mock.Utterance{
		{Final: "Hi."},
		{Final: "Actually, a milkshake."},
	}, mock.LLMConfig{
		Replies:    []string{"Welcome, what can I get?", "One milkshake, coming right up."},
		TokenDelay: 80 * time.Millisecond,
	}, harnessOptions{
		tts:  mock.TTSConfig{ChunksPerText: 2, Delay: 100 * time.Millisecond},
		idle: 400 * time.Millisecond,
	})

	h.speak(t, 1)
	deadline := time.Now().Add(2 * time.Second)
	for len(h.tts.Texts()) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("first reply never reached TTS")
		}
		time.Sleep(2 * time.Millisecond)
	}
	// The caller talks over the first reply before its audio arrives.
	h.speak(t, 1)
	h.waitFinished(t, 2)

	first, second := h.finished.all()[0], h.finished.all()[1]
	if first.Recorded || !first.State.TTSStart.IsZero() {
		t.Fatalf("interrupted turn must not be recorded, got %+v", first.State)
	}
	if !second.Recorded {
		t.Fatalf("expected second turn recorded, got %+v", second.State)
	}
	if second.Latency.TTS < 0 || second.State.TTSStart.Before(second.State.AgentEnd) {
		t.Fatalf("audio of the first reply leaked into the second turn: tts=%s", second.Latency.TTS)
	}
	if h.sink.count() != 2 {
		t.Fatalf("expected only the second reply's 2 chunks at the sink, got %d", h.sink.count())
	}
}

func TestAcceptTTSMatchesRequestedContexts(t *testing.T) {
	conv, err := New(Config{STT: mock.NewSTT(mock.STTConfig{}), TTS: mock.NewTTS(mock.TTSConfig{}), Responder: mock.NewResponder(mock.LLMConfig{})})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	t0 := time.UnixMilli(10_000)
	conv.mu.Lock()
	conv.beginTurnLocked(t0)
	conv.turns.STTEnd(t0.Add(200*time.Millisecond), "hi")
	conv.turns.AgentStart(t0.Add(300 * time.Millisecond))
	conv.mu.Unlock()

	early := events.TTSChunk{ContextID: "ctx-old", At: t0.Add(400 * time.Millisecond)}
	if conv.acceptTTS(early) {
		t.Fatalf("audio before the reply finished must be ignored")
	}

	conv.mu.Lock()
	conv.turns.AgentEnd(t0.Add(500 * time.Millisecond))
	conv.ttsIDs["ctx-new"] = struct{}{}
	conv.mu.Unlock()

	cases := []struct {
		chunk events.TTSChunk
		want  bool
	}{
		{events.TTSChunk{ContextID: "ctx-old", At: t0.Add(600 * time.Millisecond)}, false},
		{events.TTSChunk{ContextID: "ctx-new", At: t0.Add(450 * time.Millisecond)}, false},
		{events.TTSChunk{ContextID: "ctx-new", At: t0.Add(650 * time.Millisecond)}, true},
		{events.TTSChunk{At: t0.Add(700 * time.Millisecond)}, true},
	}
	for i, tc := range cases {
		if got := conv.acceptTTS(tc.chunk); got != tc.want {
			t.Fatalf("case %d: acceptTTS(%+v) = %v, want %v", i, tc.chunk, got, tc.want)
		}
	}
	if s := conv.turns.Snapshot(); !s.TTSStart.Equal(t0.Add(650 * time.Millisecond)) {
		t.Fatalf("unexpected tts start %s", s.TTSStart)
	}

	conv.mu.Lock()
	conv.beginTurnLocked(t0.Add(time.Second))
	conv.mu.Unlock()
	if len(conv.ttsIDs) != 0 {
		t.Fatalf("a new turn must forget earlier contexts")
	}
}

type blockingListener struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingListener) OnTurnFinished(turn.Finished) {
	b.once.Do(func() { close(b.entered) })
	<-b.release
}

func TestConversationListenersRunOutsideLock(t *testing.T) {
	slow := &blockingListener{entered: make(chan struct{}), release: make(chan struct{})}
	h := newHarnessWith(t, []mock.Utterance{
		{Final: "Hi."},
		{Final: "A soda."},
	}, mock.LLMConfig{Replies: []string{"Hello there, what would you like?", "One soda."}},
		harnessOptions{listeners: []turn.Listener{slow}})
	t.Cleanup(func() { close(slow.release) })

	h.speak(t, 1)
	select {
	case <-slow.entered:
	case <-time.After(2 * time.Second):
		t.Fatalf("listener never called")
	}

	locked := make(chan struct{})
	go func() {
		h.conv.mu.Lock()
		h.conv.mu.Unlock()
		close(locked)
	}()
	select {
	case <-locked:
	case <-time.After(100 * time.Millisecond):
		t.Fatalf("conversation lock held while a listener blocks")
	}

	// The next turn opens while the first is still being delivered.
	h.speak(t, 1)
	deadline := time.Now().Add(time.Second)
	for h.conv.Turns().Snapshot().Transcript != "A soda." {
		if time.Now().After(deadline) {
			t.Fatalf("second turn did not start while a listener was blocked")
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestNewRequiresCollaborators(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatalf("expected error without clients")
	}
}

func TestRunnerStopsWhenConversationEnds(t *testing.T) {
	stt := mock.NewSTT(mock.STTConfig{})
	conv, err := New(Config{STT: stt, TTS: mock.NewTTS(mock.TTSConfig{}), Responder: mock.NewResponder(mock.LLMConfig{})})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	r := NewRunner(conv, runner.Hooks{}, time.Second)
	done := make(chan error, 1)
	go func() { done <- r.Run(context.Background()) }()
	time.Sleep(10 * time.Millisecond)
	_ = stt.Close()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("runner did not stop after the conversation ended")
	}
}
