package stt

import (
	"context"
	"iter"

	"github.com/harunnryd/voxstream/pkg/events"
)

// StreamingSTT defines the contract for any streaming transcription vendor.
type StreamingSTT interface {
	// Name returns adapter name for logging/metrics.
	Name() string
	// Connect opens the connection ahead of the first audio frame.
	Connect(ctx context.Context) error
	// SendAudio forwards one raw audio frame, connecting first if needed.
	SendAudio(ctx context.Context, pcm []byte) error
	// Events yields events.STTChunk and events.STTOutput in arrival order.
	Events(ctx context.Context) iter.Seq[events.Event]
	// Close shuts down the connection and ends the event sequence.
	Close() error
}
