// Package pipeline drives one spoken conversation: STT events open and close
// turns, the responder's reply is synthesized, and every milestone is
// stamped on a turn.Pipeline.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/harunnryd/voxstream/pkg/adapters/stt"
	"github.com/harunnryd/voxstream/pkg/adapters/tts"
	"github.com/harunnryd/voxstream/pkg/aggregators"
	"github.com/harunnryd/voxstream/pkg/buffer"
	"github.com/harunnryd/voxstream/pkg/events"
	"github.com/harunnryd/voxstream/pkg/llm"
	"github.com/harunnryd/voxstream/pkg/logging"
	"github.com/harunnryd/voxstream/pkg/metrics"
	"github.com/harunnryd/voxstream/pkg/redact"
	"github.com/harunnryd/voxstream/pkg/turn"
)

// DefaultIdleFinish is how long a turn waits for more audio after the reply
// was sent before it is finished.
const DefaultIdleFinish = 1500 * time.Millisecond

// AudioSink receives synthesized PCM of the current turn.
type AudioSink interface {
	WriteAudio(pcm []byte) error
}

type AudioSinkFunc func(pcm []byte) error

func (fn AudioSinkFunc) WriteAudio(pcm []byte) error { return fn(pcm) }

type Config struct {
	STT       stt.StreamingSTT
	TTS       tts.StreamingTTS
	Responder llm.Responder

	// Turns is created from TurnListeners when nil.
	Turns         *turn.Pipeline
	TurnListeners []turn.Listener
	STTEstimate   time.Duration
	History       *llm.History
	Aggregation   aggregators.AggregatorConfig
	Sink          AudioSink
	IdleFinish    time.Duration
	// StreamSentences sends each sentence to TTS as soon as it is complete.
	// By default the reply is sent after the responder finishes so that TTS
	// latency measures time to first audio after the agent is done.
	StreamSentences bool

	TraceID  string
	Logger   *slog.Logger
	Observer metrics.Observer
	Now      func() time.Time
}

// Conversation owns the turn lifecycle of one call. Run it once.
type Conversation struct {
	stt       stt.StreamingSTT
	tts       tts.StreamingTTS
	responder llm.Responder
	turns     *turn.Pipeline
	history   *llm.History
	aggCfg    aggregators.AggregatorConfig
	sink      AudioSink
	idle      time.Duration
	streamTTS bool
	traceID   string
	logger    *slog.Logger
	now       func() time.Time
	// ended turns wait here for the notifier so listeners never run under mu.
	ended *buffer.Queue[turn.Finished]

	// ttsMu covers SendText plus registering its context id, so a chunk of
	// a context being registered can wait for it.
	ttsMu sync.Mutex

	mu          sync.Mutex
	runCtx      context.Context
	gen         uint64
	turnOpen    bool
	replyCancel context.CancelFunc
	replies     int
	unnotified  int
	timer       *time.Timer
	// ttsIDs are the synthesis contexts requested by the open turn.
	ttsIDs map[string]struct{}
}

var errMissingCollaborator = errors.New("pipeline: STT, TTS and Responder are required")

func New(cfg Config) (*Conversation, error) {
	if cfg.STT == nil || cfg.TTS == nil || cfg.Responder == nil {
		return nil, errMissingCollaborator
	}
	traceID := cfg.TraceID
	if traceID == "" {
		traceID = uuid.NewString()
	}
	logger := logging.NewComponentLogger(cfg.Logger, "conversation").With(slog.String("trace_id", traceID))
	turns := cfg.Turns
	if turns == nil {
		turns = turn.NewPipeline(turn.Config{
			STTEstimate: cfg.STTEstimate,
			Listeners:   cfg.TurnListeners,
			Observer:    cfg.Observer,
			Logger:      cfg.Logger,
			Tags:        map[string]string{metrics.TagTraceID: traceID},
		})
	}
	history := cfg.History
	if history == nil {
		history = llm.NewHistory(llm.VoiceOutputPrompt, 0)
	}
	idle := cfg.IdleFinish
	if idle <= 0 {
		idle = DefaultIdleFinish
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Conversation{
		stt:       cfg.STT,
		tts:       cfg.TTS,
		responder: cfg.Responder,
		turns:     turns,
		history:   history,
		aggCfg:    cfg.Aggregation,
		sink:      cfg.Sink,
		idle:      idle,
		streamTTS: cfg.StreamSentences,
		traceID:   traceID,
		logger:    logger,
		now:       now,
		ended:     buffer.New[turn.Finished](buffer.Config{Name: "ended_turns"}),
		ttsIDs:    map[string]struct{}{},
	}, nil
}

func (c *Conversation) TraceID() string { return c.traceID }

func (c *Conversation) Turns() *turn.Pipeline { return c.turns }

func (c *Conversation) History() *llm.History { return c.history }

// SendAudio forwards caller audio to STT.
func (c *Conversation) SendAudio(ctx context.Context, pcm []byte) error {
	return c.stt.SendAudio(ctx, pcm)
}

// Run warms up TTS, then drains both clients until ctx is done or the STT
// sequence ends. Any turn still open on return is finished, and dropped from
// statistics if incomplete. Cancellation of ctx is not reported as an error.
func (c *Conversation) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.mu.Lock()
	if c.runCtx != nil {
		c.mu.Unlock()
		return errors.New("pipeline: conversation already running")
	}
	c.runCtx = runCtx
	c.mu.Unlock()

	if err := c.tts.Warmup(runCtx); err != nil {
		return err
	}
	c.logger.Info("conversation_started",
		slog.String("stt", c.stt.Name()),
		slog.String("tts", c.tts.Name()),
		slog.String("llm", c.responder.Name()))

	notifyDone := make(chan struct{})
	go c.notifyLoop(notifyDone)

	ttsDone := make(chan struct{})
	go func() {
		defer close(ttsDone)
		for ev := range c.tts.Events(runCtx) {
			c.onTTS(ev)
		}
	}()

	for ev := range c.stt.Events(runCtx) {
		c.onSTT(ev)
	}
	_ = c.Settle(runCtx)
	cancel()
	<-ttsDone

	c.mu.Lock()
	c.finishLocked()
	c.mu.Unlock()
	c.ended.Push(turn.Finished{})
	<-notifyDone

	if summary, ok := c.turns.Summary(); ok {
		c.logger.Info("conversation_finished", slog.String("latency", summary.String()))
	} else {
		c.logger.Info("conversation_finished", slog.String("latency", "no data"))
	}
	if err := ctx.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// Settle blocks until no reply is in flight, no turn is open and every
// ended turn has reached the listeners.
func (c *Conversation) Settle(ctx context.Context) error {
	tick := time.NewTicker(10 * time.Millisecond)
	defer tick.Stop()
	for {
		c.mu.Lock()
		quiet := c.replies == 0 && !c.turnOpen && c.unnotified == 0
		c.mu.Unlock()
		if quiet {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
		}
	}
}

// notifyLoop hands ended turns to the listeners in order. A zero Finished
// stops it.
func (c *Conversation) notifyLoop(done chan<- struct{}) {
	defer close(done)
	for {
		f, ok := c.ended.Next(context.Background())
		if !ok || f.Index == 0 {
			return
		}
		c.turns.Notify(f)
		c.mu.Lock()
		c.unnotified--
		c.mu.Unlock()
	}
}

func (c *Conversation) onSTT(ev events.Event) {
	switch e := ev.(type) {
	case events.STTChunk:
		if strings.TrimSpace(e.Transcript) == "" {
			return
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		if !c.listeningLocked() {
			c.beginTurnLocked(e.At)
		}
		c.turns.STTStart(e.At)
		c.turns.STTChunk(e.At, e.Transcript)
	case events.STTOutput:
		c.mu.Lock()
		if !c.listeningLocked() {
			c.beginTurnLocked(e.At)
			c.turns.STTStart(e.At)
		}
		c.turns.STTEnd(e.At, e.Transcript)
		ctx, cancel := context.WithCancel(c.runCtx)
		c.replyCancel = cancel
		c.replies++
		gen := c.gen
		c.mu.Unlock()

		c.logger.Debug("user_utterance", slog.String("transcript", redact.Preview(e.Transcript, 80)))
		go c.reply(ctx, gen, e.Transcript)
	}
}

func (c *Conversation) onTTS(ev events.Event) {
	chunk, ok := ev.(events.TTSChunk)
	if !ok {
		return
	}
	accepted := c.acceptTTS(chunk)
	if !accepted && chunk.ContextID != "" {
		// SendText may still be registering this context.
		c.ttsMu.Lock()
		c.ttsMu.Unlock()
		accepted = c.acceptTTS(chunk)
	}
	if !accepted {
		c.logger.Debug("tts_chunk_outside_turn",
			slog.String("context_id", chunk.ContextID),
			slog.Int("size_bytes", len(chunk.Audio)))
		return
	}
	if c.sink != nil {
		if err := c.sink.WriteAudio(chunk.Audio); err != nil {
			c.logger.Warn("audio_sink_write_failed", slog.String("error", err.Error()))
		}
	}
}

// acceptTTS stamps chunk on the open turn when it belongs to a context that
// turn requested. Chunks without a context id are taken once the agent has
// started, and in the default mode only once it has finished.
func (c *Conversation) acceptTTS(chunk events.TTSChunk) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.turnOpen {
		return false
	}
	s := c.turns.Snapshot()
	if s.AgentStart.IsZero() {
		return false
	}
	if !c.streamTTS && (s.AgentEnd.IsZero() || chunk.At.Before(s.AgentEnd)) {
		return false
	}
	if chunk.ContextID != "" {
		if _, ok := c.ttsIDs[chunk.ContextID]; !ok {
			return false
		}
	}
	c.turns.TTSChunk(chunk.At)
	if c.timer != nil {
		c.timer.Reset(c.idle)
	}
	return true
}

func (c *Conversation) reply(ctx context.Context, gen uint64, transcript string) {
	defer func() {
		c.mu.Lock()
		c.replies--
		c.mu.Unlock()
	}()

	start := c.now()
	if !c.milestone(gen, func() { c.turns.AgentStart(start) }) {
		return
	}
	ch, err := c.responder.Stream(ctx, c.history.Prompt(transcript))
	if err != nil {
		c.logger.Error("responder_failed", slog.String("error", err.Error()))
		c.finishIfCurrent(gen)
		return
	}

	agg := aggregators.NewTextAggregator(c.aggCfg)
	var full strings.Builder
	var pending []string
	for tok := range ch {
		if tok.Err != nil {
			c.logger.Error("responder_stream_failed", slog.String("error", tok.Err.Error()))
			c.finishIfCurrent(gen)
			return
		}
		ts := c.now()
		if !c.milestone(gen, func() { c.turns.AgentChunk(ts, tok.Text) }) {
			return
		}
		full.WriteString(tok.Text)
		if sentence, ok := agg.Add(tok.Text); ok {
			if c.streamTTS {
				c.speak(ctx, gen, sentence)
			} else {
				pending = append(pending, sentence)
			}
		}
	}
	if ctx.Err() != nil {
		return
	}
	end := c.now()
	if !c.milestone(gen, func() { c.turns.AgentEnd(end) }) {
		return
	}
	if rest := agg.Flush(); rest != "" {
		pending = append(pending, rest)
	}
	for _, sentence := range pending {
		c.speak(ctx, gen, sentence)
	}
	c.history.Append(transcript, full.String())
	c.logger.Debug("agent_reply", slog.String("response", redact.Preview(full.String(), 80)))
	c.armIdle(gen)
}

// speak synthesizes text and registers its context id with turn gen.
func (c *Conversation) speak(ctx context.Context, gen uint64, text string) {
	c.ttsMu.Lock()
	defer c.ttsMu.Unlock()
	id, err := c.tts.SendText(ctx, text)
	if err != nil {
		c.logger.Warn("tts_send_failed", slog.String("error", err.Error()))
		return
	}
	if id != "" {
		c.milestone(gen, func() { c.ttsIDs[id] = struct{}{} })
	}
}

// milestone applies fn if gen is still the current turn.
func (c *Conversation) milestone(gen uint64, fn func()) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen || !c.turnOpen {
		return false
	}
	fn()
	return true
}

func (c *Conversation) armIdle(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen || !c.turnOpen {
		return
	}
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(c.idle, func() { c.finishIfCurrent(gen) })
}

func (c *Conversation) finishIfCurrent(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen == c.gen {
		c.finishLocked()
	}
}

// listeningLocked reports whether the open turn is still collecting speech.
func (c *Conversation) listeningLocked() bool {
	return c.turnOpen && c.turns.Snapshot().STTEnd.IsZero()
}

func (c *Conversation) beginTurnLocked(ts time.Time) {
	c.finishLocked()
	c.gen++
	c.turnOpen = true
	c.ttsIDs = map[string]struct{}{}
	c.turns.StartTurn(ts)
}

// finishLocked closes the open turn, cancelling a reply still in flight, and
// queues it for the listeners.
func (c *Conversation) finishLocked() {
	if !c.turnOpen {
		return
	}
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if c.replyCancel != nil {
		c.replyCancel()
		c.replyCancel = nil
	}
	if f, ok := c.turns.EndTurn(); ok {
		c.unnotified++
		c.ended.Push(f)
	}
	c.turnOpen = false
}
