package observers

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/harunnryd/voxstream/pkg/metrics"
	"github.com/harunnryd/voxstream/pkg/redact"
	"github.com/harunnryd/voxstream/pkg/turn"
)

// TimelineObserver writes one JSONL trace per conversation: client metrics
// events as they happen and a "turn" line for every finished turn.
type TimelineObserver struct {
	dir            string
	conversationID string
	mu             sync.Mutex
	file           *os.File
	failed         bool
}

// NewTimelineObserver writes to <dir>/<conversationID>.jsonl. The file is
// created on the first entry. An empty dir disables the observer.
func NewTimelineObserver(dir, conversationID string) *TimelineObserver {
	return &TimelineObserver{dir: dir, conversationID: conversationID}
}

// Path is where entries are written, or "" when disabled.
func (o *TimelineObserver) Path() string {
	safe := sanitizeID(o.conversationID)
	if strings.TrimSpace(o.dir) == "" || safe == "" {
		return ""
	}
	return filepath.Join(o.dir, safe+".jsonl")
}

// RecordEvent implements metrics.Observer.
func (o *TimelineObserver) RecordEvent(ev metrics.MetricsEvent) {
	o.write(timelineEvent{
		Time:      ev.Time.UTC(),
		Event:     ev.Name,
		Provider:  ev.Tags[metrics.TagProvider],
		SessionID: ev.Tags[metrics.TagSessionID],
		Value:     ev.Value,
		Tags:      copyTags(ev.Tags),
		Fields:    sanitizeFields(ev.Fields),
	})
}

// OnTurnFinished implements turn.Listener.
func (o *TimelineObserver) OnTurnFinished(f turn.Finished) {
	rec := NewTurnRecord(o.conversationID, f)
	o.write(timelineEvent{
		Time:  time.Now().UTC(),
		Event: "turn",
		Turn:  &rec,
	})
}

// Close closes the trace file.
func (o *TimelineObserver) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.file == nil {
		return nil
	}
	err := o.file.Close()
	o.file = nil
	return err
}

type timelineEvent struct {
	Time      time.Time         `json:"time"`
	Event     string            `json:"event"`
	Provider  string            `json:"provider,omitempty"`
	SessionID string            `json:"session_id,omitempty"`
	Value     float64           `json:"value,omitempty"`
	Tags      map[string]string `json:"tags,omitempty"`
	Fields    map[string]any    `json:"fields,omitempty"`
	Turn      *TurnRecord       `json:"turn,omitempty"`
}

func (o *TimelineObserver) write(entry timelineEvent) {
	line, err := json.Marshal(entry)
	if err != nil {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	f := o.fileLocked()
	if f == nil {
		return
	}
	_, _ = f.Write(append(line, '\n'))
}

func (o *TimelineObserver) fileLocked() *os.File {
	if o.file != nil || o.failed {
		return o.file
	}
	path := o.Path()
	if path == "" {
		o.failed = true
		return nil
	}
	if err := os.MkdirAll(o.dir, 0o755); err != nil {
		o.failed = true
		return nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		o.failed = true
		return nil
	}
	o.file = f
	return f
}

func sanitizeID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return ""
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r
		case r >= 'A' && r <= 'Z':
			return r
		case r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_' || r == '.':
			return r
		default:
			return '_'
		}
	}, id)
}

func copyTags(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func sanitizeFields(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		if s, ok := v.(string); ok {
			out[k] = redact.Text(s)
			continue
		}
		out[k] = v
	}
	return out
}

var (
	_ metrics.Observer = (*TimelineObserver)(nil)
	_ turn.Listener    = (*TimelineObserver)(nil)
)
