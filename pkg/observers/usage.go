package observers

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/harunnryd/voxstream/pkg/metrics"
)

// UsageSummary is billable audio per trace, assuming 16-bit mono PCM.
type UsageSummary struct {
	TraceID       string  `json:"trace_id"`
	STTAudioSec   float64 `json:"stt_audio_seconds"`
	TTSAudioSec   float64 `json:"tts_audio_seconds"`
	TTSChunks     int     `json:"tts_chunks"`
	STTOutputs    int     `json:"stt_outputs"`
	RecordedAtUTC string  `json:"recorded_at_utc,omitempty"`
}

// UsageObserver tallies audio seconds sent to STT and received from TTS and
// writes <dir>/<trace>.usage.json on Close.
type UsageObserver struct {
	dir   string
	mu    sync.Mutex
	stats map[string]*UsageSummary
}

func NewUsageObserver(dir string) *UsageObserver {
	return &UsageObserver{dir: dir, stats: make(map[string]*UsageSummary)}
}

func (o *UsageObserver) RecordEvent(ev metrics.MetricsEvent) {
	id := ev.Tags[metrics.TagTraceID]
	if id == "" {
		id = ev.Tags[metrics.TagSessionID]
	}
	if id == "" {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	stat := o.stats[id]
	if stat == nil {
		stat = &UsageSummary{TraceID: id}
		o.stats[id] = stat
	}
	switch ev.Name {
	case metrics.EventSTTAudio:
		stat.STTAudioSec += pcmSeconds(ev.Value, ev.Fields)
	case metrics.EventTTSChunk:
		stat.TTSAudioSec += pcmSeconds(ev.Value, ev.Fields)
		stat.TTSChunks++
	case metrics.EventSTTOutput:
		stat.STTOutputs++
	}
}

// Snapshot returns the tally for id.
func (o *UsageObserver) Snapshot(id string) (UsageSummary, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	stat := o.stats[id]
	if stat == nil {
		return UsageSummary{}, false
	}
	return *stat, true
}

func (o *UsageObserver) Close() error {
	if strings.TrimSpace(o.dir) == "" {
		return nil
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := os.MkdirAll(o.dir, 0o755); err != nil {
		return err
	}
	var errOut error
	for id, stat := range o.stats {
		stat.RecordedAtUTC = time.Now().UTC().Format(time.RFC3339)
		b, err := json.MarshalIndent(stat, "", "  ")
		if err != nil {
			errOut = errors.Join(errOut, err)
			continue
		}
		path := filepath.Join(o.dir, sanitizeID(id)+".usage.json")
		if err := os.WriteFile(path, b, 0o644); err != nil {
			errOut = errors.Join(errOut, err)
		}
	}
	return errOut
}

func pcmSeconds(bytes float64, fields map[string]any) float64 {
	sampleRate := 0
	switch v := fields["sample_rate"].(type) {
	case int:
		sampleRate = v
	case float64:
		sampleRate = int(v)
	}
	if sampleRate <= 0 || bytes <= 0 {
		return 0
	}
	return bytes / float64(sampleRate*2)
}

var _ metrics.Observer = (*UsageObserver)(nil)
