package pipeline

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/harunnryd/voxstream/pkg/runner"
)

// Runner ties a Conversation to a lifecycle: on stop it lets the open turn
// settle before cancelling the conversation.
type Runner struct {
	conv   *Conversation
	lc     *runner.LifecycleRunner
	settle time.Duration

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
	err     error
}

func NewRunner(conv *Conversation, hooks runner.Hooks, settle time.Duration) *Runner {
	if settle <= 0 {
		settle = 5 * time.Second
	}
	r := &Runner{conv: conv, settle: settle, done: make(chan struct{})}
	onStart := hooks.OnStart
	hooks.OnStart = func() {
		if onStart != nil {
			onStart()
		}
		r.start()
	}
	r.lc = runner.NewLifecycleRunner(runner.DrainerFunc(r.drain), hooks, settle+2*time.Second)
	return r
}

// WithBanner prints the startup banner to w.
func (r *Runner) WithBanner(w io.Writer) *Runner {
	r.lc.WithBanner(w)
	return r
}

// Run blocks until ctx is done, Stop is called, or the conversation ends.
func (r *Runner) Run(ctx context.Context) error {
	if err := r.lc.Run(ctx); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

func (r *Runner) Stop() error { return r.lc.Stop() }

func (r *Runner) State() runner.State { return r.lc.State() }

func (r *Runner) start() {
	ctx, cancel := context.WithCancel(context.Background())
	r.mu.Lock()
	r.started = true
	r.cancel = cancel
	r.mu.Unlock()
	go func() {
		err := r.conv.Run(ctx)
		r.mu.Lock()
		r.err = err
		r.mu.Unlock()
		close(r.done)
		_ = r.lc.Stop()
	}()
}

func (r *Runner) drain() error {
	r.mu.Lock()
	started, cancel := r.started, r.cancel
	r.mu.Unlock()
	if !started {
		return nil
	}
	ctx, stop := context.WithTimeout(context.Background(), r.settle)
	err := r.conv.Settle(ctx)
	stop()
	cancel()
	<-r.done
	return err
}

var _ runner.Runner = (*Runner)(nil)
