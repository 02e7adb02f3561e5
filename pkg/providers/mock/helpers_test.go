package mock

import (
	"context"
	"iter"

	"github.com/harunnryd/voxstream/pkg/events"
)

type eventSource interface {
	Events(ctx context.Context) iter.Seq[events.Event]
}

func pull(ctx context.Context, src eventSource) (func() (events.Event, bool), func()) {
	return iter.Pull(src.Events(ctx))
}
