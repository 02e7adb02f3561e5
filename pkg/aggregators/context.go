package aggregators

type AggregatorConfig struct {
	// MinLen holds back sentences shorter than this many bytes so tiny
	// fragments like "Ok." are merged with what follows.
	MinLen int
	// MaxTokens forces a flush after this many tokens without a sentence end.
	MaxTokens int
}

type Aggregator interface {
	// Add appends a token and returns a complete utterance when one is ready.
	Add(tok string) (string, bool)
	// Flush returns whatever is buffered.
	Flush() string
}
