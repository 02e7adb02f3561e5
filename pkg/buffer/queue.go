package buffer

import (
	"context"
	"iter"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Config tunes a Queue. The zero value is an unbounded queue with no warning.
type Config struct {
	// Name is attached to log lines.
	Name string
	// HighWater logs a single warning when the backlog first exceeds it.
	// Items are never dropped.
	HighWater int
	Logger    *slog.Logger
}

type Stats struct {
	Pushed   int64
	Popped   int64
	Rejected int64
}

// Queue bridges push-style producers to pull-style consumers. Items are
// delivered in push order, each to exactly one consumer. Once cancelled a
// queue yields nothing more and rejects further pushes.
type Queue[T any] struct {
	cfg    Config
	log    *slog.Logger
	mu     sync.Mutex
	items  []T
	warned bool

	ready chan struct{}
	done  chan struct{}
	once  sync.Once

	pushed   atomic.Int64
	popped   atomic.Int64
	rejected atomic.Int64
}

func New[T any](cfg Config) *Queue[T] {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Queue[T]{
		cfg:   cfg,
		log:   log,
		ready: make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

// Push enqueues v without blocking. It returns false when the queue has been
// cancelled, in which case v is discarded.
func (q *Queue[T]) Push(v T) bool {
	q.mu.Lock()
	if q.cancelledLocked() {
		q.mu.Unlock()
		q.rejected.Add(1)
		return false
	}
	q.items = append(q.items, v)
	n := len(q.items)
	warn := q.cfg.HighWater > 0 && n > q.cfg.HighWater && !q.warned
	if warn {
		q.warned = true
	}
	q.mu.Unlock()

	q.pushed.Add(1)
	q.signal()
	if warn {
		q.log.Warn("event_buffer_high_water",
			slog.String("buffer", q.cfg.Name),
			slog.Int("backlog", n),
			slog.Int("high_water", q.cfg.HighWater))
	}
	return true
}

// Next blocks until an item is available, the queue is cancelled, or ctx is
// done. ok is false in the latter two cases.
func (q *Queue[T]) Next(ctx context.Context) (v T, ok bool) {
	if ctx == nil {
		ctx = context.Background()
	}
	for {
		q.mu.Lock()
		if q.cancelledLocked() {
			q.mu.Unlock()
			return v, false
		}
		if len(q.items) > 0 {
			v = q.items[0]
			var zero T
			q.items[0] = zero
			q.items = q.items[1:]
			more := len(q.items) > 0
			q.mu.Unlock()
			q.popped.Add(1)
			if more {
				// Another consumer may be parked on the coalesced signal.
				q.signal()
			}
			return v, true
		}
		q.mu.Unlock()

		select {
		case <-q.ready:
		case <-q.done:
			return v, false
		case <-ctx.Done():
			return v, false
		}
	}
}

// All returns the queue as a lazy sequence. The sequence is not restartable:
// items a consumer has pulled are gone, and a second call continues from
// whatever is still queued.
func (q *Queue[T]) All(ctx context.Context) iter.Seq[T] {
	return func(yield func(T) bool) {
		for {
			v, ok := q.Next(ctx)
			if !ok {
				return
			}
			if !yield(v) {
				return
			}
		}
	}
}

// Cancel terminates the sequence for current and future consumers and
// discards anything still queued. Safe to call more than once.
func (q *Queue[T]) Cancel() {
	q.once.Do(func() {
		q.mu.Lock()
		dropped := len(q.items)
		q.items = nil
		close(q.done)
		q.mu.Unlock()
		if dropped > 0 {
			q.log.Debug("event_buffer_cancelled",
				slog.String("buffer", q.cfg.Name),
				slog.Int("discarded", dropped))
		}
	})
}

// Done is closed once the queue is cancelled.
func (q *Queue[T]) Done() <-chan struct{} { return q.done }

func (q *Queue[T]) Cancelled() bool {
	select {
	case <-q.done:
		return true
	default:
		return false
	}
}

func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue[T]) Stats() Stats {
	return Stats{
		Pushed:   q.pushed.Load(),
		Popped:   q.popped.Load(),
		Rejected: q.rejected.Load(),
	}
}

func (q *Queue[T]) cancelledLocked() bool {
	select {
	case <-q.done:
		return true
	default:
		return false
	}
}

func (q *Queue[T]) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}
