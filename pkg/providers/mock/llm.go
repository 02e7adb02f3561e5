package mock

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/harunnryd/voxstream/pkg/llm"
)

type LLMConfig struct {
	// Replies are returned in order, the last one repeating. Each reply is
	// streamed word by word.
	Replies []string
	// TokenDelay is slept between tokens.
	TokenDelay time.Duration
	Err        error
	// StreamErr is sent as the final token of every reply.
	StreamErr error
}

type Responder struct {
	cfg LLMConfig

	mu      sync.Mutex
	calls   int
	prompts [][]llm.Message
}

func NewResponder(cfg LLMConfig) *Responder {
	if len(cfg.Replies) == 0 {
		cfg.Replies = []string{"mock response."}
	}
	return &Responder{cfg: cfg}
}

func (r *Responder) Name() string { return "mock_llm" }

func (r *Responder) Stream(ctx context.Context, messages []llm.Message) (<-chan llm.Token, error) {
	if r.cfg.Err != nil {
		return nil, r.cfg.Err
	}
	r.mu.Lock()
	reply := r.cfg.Replies[min(r.calls, len(r.cfg.Replies)-1)]
	r.calls++
	r.prompts = append(r.prompts, append([]llm.Message(nil), messages...))
	r.mu.Unlock()

	out := make(chan llm.Token)
	go func() {
		defer close(out)
		for i, word := range strings.Fields(reply) {
			if i > 0 {
				word = " " + word
			}
			if r.cfg.TokenDelay > 0 && i > 0 {
				time.Sleep(r.cfg.TokenDelay)
			}
			select {
			case <-ctx.Done():
				return
			case out <- llm.Token{Text: word}:
			}
		}
		if r.cfg.StreamErr != nil {
			select {
			case <-ctx.Done():
			case out <- llm.Token{Err: r.cfg.StreamErr}:
			}
		}
	}()
	return out, nil
}

// Prompts returns the message lists received so far.
func (r *Responder) Prompts() [][]llm.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]llm.Message(nil), r.prompts...)
}

var _ llm.Responder = (*Responder)(nil)
