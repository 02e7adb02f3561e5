package assemblyai

import (
	"context"
	"iter"

	"github.com/harunnryd/voxstream/pkg/events"
)

func pull(s *StreamingSTT) (func() (events.Event, bool), func()) {
	return iter.Pull(s.Events(context.Background()))
}
