package tts

import (
	"context"
	"iter"

	"github.com/harunnryd/voxstream/pkg/events"
)

// StreamingTTS defines the contract for any streaming synthesis vendor.
type StreamingTTS interface {
	// Name returns adapter name for logging/metrics.
	Name() string
	// Warmup opens the connection without sending text.
	Warmup(ctx context.Context) error
	// SendText synthesizes one utterance and returns the id it was sent under.
	// Blank text is ignored and returns an empty id.
	SendText(ctx context.Context, text string) (string, error)
	// Events yields events.TTSChunk in arrival order.
	Events(ctx context.Context) iter.Seq[events.Event]
	// Close shuts down the connection and ends the event sequence.
	Close() error
}
