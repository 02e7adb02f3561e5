package observers

import (
	"bufio"
	"encoding/json"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/harunnryd/voxstream/pkg/metrics"
	"github.com/harunnryd/voxstream/pkg/redact"
	"github.com/harunnryd/voxstream/pkg/turn"
)

func finishedTurn(recorded bool) turn.Finished {
	base := time.UnixMilli(1_700_000_000_000)
	f := turn.Finished{
		Index: 1,
		State: turn.State{
			TurnStart:  base,
			STTEnd:     base.Add(500 * time.Millisecond),
			AgentEnd:   base.Add(900 * time.Millisecond),
			TTSStart:   base.Add(950 * time.Millisecond),
			Transcript: "call me at jane@example.com",
			Response:   "Sure.",
		},
		Recorded: recorded,
	}
	if recorded {
		f.Latency = turn.Latency{
			STT:   400 * time.Millisecond,
			Agent: 400 * time.Millisecond,
			TTS:   50 * time.Millisecond,
			Total: 850 * time.Millisecond,
		}
	}
	return f
}

func TestTimelineObserverWritesJSONL(t *testing.T) {
	redact.SetEnabled(true)
	t.Cleanup(func() { redact.SetEnabled(false) })

	dir := t.TempDir()
	obs := NewTimelineObserver(dir, "conv/1")
	obs.RecordEvent(metrics.MetricsEvent{
		Name:  metrics.EventTTSChunk,
		Time:  time.Now(),
		Value: 480,
		Tags: map[string]string{
			metrics.TagProvider:  "inworld",
			metrics.TagSessionID: "s-1",
		},
	})
	obs.OnTurnFinished(finishedTurn(true))
	if err := obs.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if !strings.HasSuffix(obs.Path(), "conv_1.jsonl") {
		t.Fatalf("unexpected path %s", obs.Path())
	}
	f, err := os.Open(obs.Path())
	if err != nil {
		t.Fatalf("open file: %v", err)
	}
	defer f.Close()

	var lines []map[string]any
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var m map[string]any
		if err := json.Unmarshal(sc.Bytes(), &m); err != nil {
			t.Fatalf("invalid jsonl line %q: %v", sc.Text(), err)
		}
		lines = append(lines, m)
	}
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	if lines[0]["event"] != "tts_chunk" || lines[0]["provider"] != "inworld" {
		t.Fatalf("unexpected event line %v", lines[0])
	}
	rec, _ := lines[1]["turn"].(map[string]any)
	if lines[1]["event"] != "turn" || rec["total_ms"] != float64(850) {
		t.Fatalf("unexpected turn line %v", lines[1])
	}
	if strings.Contains(rec["transcript"].(string), "jane@example.com") {
		t.Fatalf("transcript not redacted: %v", rec["transcript"])
	}
}

func TestTimelineObserverDisabledWithoutDir(t *testing.T) {
	obs := NewTimelineObserver("", "conv")
	obs.OnTurnFinished(finishedTurn(false))
	if obs.Path() != "" {
		t.Fatalf("expected disabled observer")
	}
	if err := obs.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}
