package turn

import (
	"log/slog"
	"sync"
	"time"

	"github.com/harunnryd/voxstream/pkg/logging"
	"github.com/harunnryd/voxstream/pkg/metrics"
)

// Finished describes a turn handed to listeners by Notify.
type Finished struct {
	// Index counts finished turns, starting at 1, recorded or not.
	Index int
	State State
	// Latency is only meaningful when Recorded is true.
	Latency  Latency
	Recorded bool
}

// Listener observes finished turns.
type Listener interface {
	OnTurnFinished(f Finished)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(f Finished)

func (fn ListenerFunc) OnTurnFinished(f Finished) { fn(f) }

type Config struct {
	// STTEstimate replaces DefaultSTTEstimate when positive.
	STTEstimate time.Duration
	Listeners   []Listener
	Observer    metrics.Observer
	Logger      *slog.Logger
	// Tags are attached to every metrics event, e.g. a session id.
	Tags map[string]string
}

// Pipeline owns the current turn record and the latency statistics of one
// conversation. Methods are safe for concurrent use, but a single active
// turn at a time is assumed.
type Pipeline struct {
	mu          sync.Mutex
	cur         State
	last        *State
	stats       Stats
	finished    int
	sttEstimate time.Duration
	listeners   []Listener
	obs         metrics.Observer
	logger      *slog.Logger
	tags        map[string]string
}

func NewPipeline(cfg Config) *Pipeline {
	est := cfg.STTEstimate
	if est <= 0 {
		est = DefaultSTTEstimate
	}
	return &Pipeline{
		sttEstimate: est,
		listeners:   append([]Listener(nil), cfg.Listeners...),
		obs:         metrics.OrNoop(cfg.Observer),
		logger:      logging.NewComponentLogger(cfg.Logger, "turn"),
		tags:        cfg.Tags,
	}
}

// AddListener registers l for subsequent finished turns.
func (p *Pipeline) AddListener(l Listener) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners = append(p.listeners, l)
}

// StartTurn discards the current record and begins a new active turn.
func (p *Pipeline) StartTurn(ts time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cur = State{Active: true, TurnStart: ts}
	p.last = nil
}

func (p *Pipeline) STTStart(ts time.Time) {
	p.update(func(s *State) { setOnce(&s.STTStart, ts) })
}

func (p *Pipeline) STTChunk(ts time.Time, transcript string) {
	p.update(func(s *State) {
		s.STTLastChunk = ts
		s.Transcript = transcript
	})
}

func (p *Pipeline) STTEnd(ts time.Time, transcript string) {
	p.update(func(s *State) {
		s.STTEnd = ts
		s.Transcript = transcript
	})
}

func (p *Pipeline) AgentStart(ts time.Time) {
	p.update(func(s *State) { setOnce(&s.AgentStart, ts) })
}

// AgentChunk appends text to the response and marks AgentStart if unset.
func (p *Pipeline) AgentChunk(ts time.Time, text string) {
	p.update(func(s *State) {
		setOnce(&s.AgentStart, ts)
		s.Response += text
	})
}

func (p *Pipeline) AgentEnd(ts time.Time) {
	p.update(func(s *State) { s.AgentEnd = ts })
}

func (p *Pipeline) TTSStart(ts time.Time) {
	p.update(func(s *State) { setOnce(&s.TTSStart, ts) })
}

// TTSChunk marks the first audio arrival once and tracks the latest in TTSEnd.
func (p *Pipeline) TTSChunk(ts time.Time) {
	p.update(func(s *State) {
		setOnce(&s.TTSStart, ts)
		s.TTSEnd = ts
	})
}

// FinishTurn ends the current turn and notifies listeners before returning.
func (p *Pipeline) FinishTurn() (Finished, bool) {
	f, ok := p.EndTurn()
	if ok {
		p.Notify(f)
	}
	return f, ok
}

// EndTurn deactivates the current turn, keeping its timestamps readable,
// and folds it into the statistics when every stage is computable. Nothing
// is logged and no listener is called; pass the result to Notify for that.
// Calling it with no active turn does nothing and returns ok=false.
func (p *Pipeline) EndTurn() (Finished, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.cur.Active {
		return Finished{}, false
	}
	p.cur.Active = false
	snapshot := p.cur
	p.last = &snapshot
	p.finished++
	f := Finished{Index: p.finished, State: snapshot}
	if l, ok := Compute(snapshot, p.sttEstimate); ok {
		p.stats.Record(l)
		f.Latency = l
		f.Recorded = true
	}
	return f, true
}

// Notify logs f, emits its metrics event and calls every listener in
// registration order. It blocks for as long as the listeners do.
func (p *Pipeline) Notify(f Finished) {
	p.mu.Lock()
	listeners := append([]Listener(nil), p.listeners...)
	p.mu.Unlock()

	snapshot := f.State
	if f.Recorded {
		p.logger.Debug("turn_completed",
			slog.Int("turn", f.Index),
			slog.Int64("stt_ms", f.Latency.STT.Milliseconds()),
			slog.Int64("agent_ms", f.Latency.Agent.Milliseconds()),
			slog.Int64("tts_ms", f.Latency.TTS.Milliseconds()),
			slog.Int64("total_ms", f.Latency.Total.Milliseconds()))
		p.record(metrics.EventTurnCompleted, float64(f.Latency.Total.Milliseconds()), snapshot)
	} else {
		p.logger.Debug("turn_dropped",
			slog.Int("turn", f.Index),
			slog.Bool("has_stt_end", !snapshot.STTEnd.IsZero()),
			slog.Bool("has_agent_end", !snapshot.AgentEnd.IsZero()),
			slog.Bool("has_tts_start", !snapshot.TTSStart.IsZero()))
		p.record(metrics.EventTurnDropped, 0, snapshot)
	}
	for _, l := range listeners {
		l.OnTurnFinished(f)
	}
}

// Reset returns the current record to its idle shape. Statistics and the
// last finished turn are kept.
func (p *Pipeline) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cur = State{}
}

// ResetStats clears accumulated latencies.
func (p *Pipeline) ResetStats() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stats = Stats{}
}

// Snapshot returns a copy of the current record.
func (p *Pipeline) Snapshot() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cur
}

// LastTurn returns the most recently finished turn. It is kept until the
// next StartTurn.
func (p *Pipeline) LastTurn() (State, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last == nil {
		return State{}, false
	}
	return *p.last, true
}

// Stats returns a copy of the accumulated statistics.
func (p *Pipeline) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats.clone()
}

func (p *Pipeline) Summary() (Summary, bool) {
	return p.Stats().Summary()
}

func (p *Pipeline) update(fn func(s *State)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(&p.cur)
}

func (p *Pipeline) record(name string, value float64, s State) {
	tags := make(map[string]string, len(p.tags))
	for k, v := range p.tags {
		tags[k] = v
	}
	p.obs.RecordEvent(metrics.MetricsEvent{
		Name:  name,
		Time:  time.Now(),
		Value: value,
		Tags:  tags,
		Fields: map[string]any{
			"transcript_len": len(s.Transcript),
			"response_len":   len(s.Response),
		},
	})
}
