package llm

import (
	"context"
	"sync"
	"time"

	"github.com/harunnryd/voxstream/pkg/errorsx"
	"github.com/harunnryd/voxstream/pkg/metrics"
	"github.com/harunnryd/voxstream/pkg/resilience"
)

// CircuitBreakerResponder wraps a Responder with rate-limit circuit breaking.
type CircuitBreakerResponder struct {
	inner   Responder
	breaker *resilience.CircuitBreaker
	obs     metrics.Observer
	open    bool
	mu      sync.Mutex
}

func NewCircuitBreakerResponder(inner Responder, breaker *resilience.CircuitBreaker) *CircuitBreakerResponder {
	if breaker == nil {
		breaker = resilience.NewCircuitBreaker(3, 30*time.Second)
	}
	return &CircuitBreakerResponder{inner: inner, breaker: breaker}
}

func (r *CircuitBreakerResponder) Name() string { return r.inner.Name() }

// SetObserver allows metrics emission for breaker events.
func (r *CircuitBreakerResponder) SetObserver(obs metrics.Observer) { r.obs = obs }

func (r *CircuitBreakerResponder) Stream(ctx context.Context, messages []Message) (<-chan Token, error) {
	if !r.breaker.Allow() {
		r.setOpen(true)
		r.record(metrics.EventBreakerDenied)
		return nil, errorsx.Wrap(resilience.RateLimitError{Provider: r.Name(), Message: "degraded"}, errorsx.ReasonLLMRateLimit)
	}
	r.setOpen(false)
	ch, err := r.inner.Stream(ctx, messages)
	if err != nil {
		if resilience.IsRateLimit(err) {
			r.record(metrics.EventRateLimit)
		}
		r.breaker.OnError(err)
		return nil, err
	}
	r.breaker.OnSuccess()
	return ch, nil
}

func (r *CircuitBreakerResponder) record(name string) {
	if r.obs == nil {
		return
	}
	r.obs.RecordEvent(metrics.MetricsEvent{
		Name: name,
		Time: time.Now(),
		Tags: map[string]string{
			metrics.TagProvider: r.inner.Name(),
			"component":         "llm",
		},
	})
}

func (r *CircuitBreakerResponder) setOpen(open bool) {
	r.mu.Lock()
	changed := r.open != open
	r.open = open
	r.mu.Unlock()
	if !changed {
		return
	}
	if open {
		r.record(metrics.EventBreakerOpen)
		return
	}
	r.record(metrics.EventBreakerClose)
}

var _ Responder = (*CircuitBreakerResponder)(nil)
