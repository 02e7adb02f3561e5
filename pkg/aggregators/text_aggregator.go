package aggregators

import (
	"strings"
	"sync"
)

// TextAggregator groups streamed agent tokens into sentence-sized utterances
// for synthesis.
type TextAggregator struct {
	mu         sync.Mutex
	cfg        AggregatorConfig
	sb         strings.Builder
	tokenCount int
}

func NewTextAggregator(cfg AggregatorConfig) *TextAggregator {
	if cfg.MinLen <= 0 {
		cfg.MinLen = 8
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 256
	}
	return &TextAggregator{cfg: cfg}
}

func (a *TextAggregator) Add(tok string) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sb.WriteString(tok)
	a.tokenCount++
	text := a.sb.String()
	if !eosDetected(text) && a.tokenCount < a.cfg.MaxTokens {
		return "", false
	}
	final := strings.TrimSpace(text)
	if len(final) < a.cfg.MinLen {
		return "", false
	}
	a.resetLocked()
	return final, true
}

func (a *TextAggregator) Flush() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := strings.TrimSpace(a.sb.String())
	a.resetLocked()
	return out
}

func (a *TextAggregator) resetLocked() {
	a.sb.Reset()
	a.tokenCount = 0
}

// eosDetected reports a sentence end: terminal punctuation, a line break, or
// an ellipsis once enough text has accumulated.
func eosDetected(s string) bool {
	if strings.HasSuffix(strings.TrimRight(s, " \t"), "\n") {
		return strings.TrimSpace(s) != ""
	}
	t := strings.TrimSpace(s)
	if len(t) == 0 {
		return false
	}
	if strings.HasSuffix(t, "...") {
		return len(t) >= 12
	}
	last := t[len(t)-1]
	return last == '.' || last == '!' || last == '?'
}

var _ Aggregator = (*TextAggregator)(nil)
