package inworld

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/harunnryd/voxstream/pkg/errorsx"
	"github.com/harunnryd/voxstream/pkg/events"
	"github.com/harunnryd/voxstream/pkg/metrics"
)

func newInworldServer(t *testing.T, script func(conn *websocket.Conn)) (string, <-chan http.Header) {
	t.Helper()
	seen := make(chan http.Header, 4)
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen <- r.Header.Clone()
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		script(conn)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http"), seen
}

func nextChunk(t *testing.T, next func() (events.Event, bool)) events.TTSChunk {
	t.Helper()
	ch := make(chan events.Event, 1)
	go func() {
		ev, ok := next()
		if !ok {
			ev = nil
		}
		ch <- ev
	}()
	select {
	case ev := <-ch:
		chunk, ok := ev.(events.TTSChunk)
		if !ok {
			t.Fatalf("expected tts_chunk, got %#v", ev)
		}
		return chunk
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for audio")
		return events.TTSChunk{}
	}
}

func audioMessage(contextID string, b []byte) string {
	return fmt.Sprintf(`{"result":{"contextId":%q,"audioChunk":{"audioContent":%q}}}`,
		contextID, base64.StdEncoding.EncodeToString(b))
}

func TestNewRequiresCredential(t *testing.T) {
	t.Setenv(APIKeyEnv, "")
	_, err := New(Config{})
	if !errors.Is(err, errorsx.ErrMissingCredential) {
		t.Fatalf("expected missing credential error, got %v", err)
	}
}

func TestNewAppliesDefaults(t *testing.T) {
	s, err := New(Config{APIKey: "k"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if s.VoiceID() != DefaultVoiceID || s.SampleRate() != DefaultSampleRate || s.modelID != DefaultModelID {
		t.Fatalf("unexpected defaults voice=%s rate=%d model=%s", s.VoiceID(), s.SampleRate(), s.modelID)
	}
	if s.Name() != "inworld_tts" {
		t.Fatalf("unexpected name %s", s.Name())
	}
}

func TestSendTextWritesContextLifecycle(t *testing.T) {
	frames := make(chan map[string]any, 8)
	wsURL, seen := newInworldServer(t, func(conn *websocket.Conn) {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var m map[string]any
			if err := json.Unmarshal(data, &m); err == nil {
				frames <- m
			}
		}
	})
	s, err := New(Config{APIKey: "secret", URL: wsURL, VoiceID: "Clive", SampleRate: 16000})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer s.Close()

	id, err := s.SendText(context.Background(), "Welcome to the drive thru.")
	if err != nil {
		t.Fatalf("send text: %v", err)
	}
	if !strings.HasPrefix(id, "ctx-") {
		t.Fatalf("unexpected context id %q", id)
	}
	if h := <-seen; h.Get("Authorization") != "Basic secret" {
		t.Fatalf("unexpected Authorization %q", h.Get("Authorization"))
	}

	var got []map[string]any
	for len(got) < 3 {
		select {
		case m := <-frames:
			got = append(got, m)
		case <-time.After(2 * time.Second):
			t.Fatalf("server received %d of 3 messages", len(got))
		}
	}
	for i, m := range got {
		if m["context_id"] != id {
			t.Fatalf("message %d has context_id %v, want %s", i, m["context_id"], id)
		}
	}
	create, ok := got[0]["create"].(map[string]any)
	if !ok || create["voice_id"] != "Clive" || create["model_id"] != DefaultModelID {
		t.Fatalf("unexpected create message %v", got[0])
	}
	audio, _ := create["audio_config"].(map[string]any)
	if audio["audio_encoding"] != "LINEAR16" || audio["sample_rate_hertz"] != float64(16000) {
		t.Fatalf("unexpected audio_config %v", audio)
	}
	send, ok := got[1]["send_text"].(map[string]any)
	if !ok || send["text"] != "Welcome to the drive thru." {
		t.Fatalf("unexpected send_text message %v", got[1])
	}
	if _, ok := send["flush_context"].(map[string]any); !ok {
		t.Fatalf("send_text must carry flush_context, got %v", send)
	}
	if _, ok := got[2]["close_context"].(map[string]any); !ok {
		t.Fatalf("unexpected close_context message %v", got[2])
	}
}

func TestContextIDsAreUnique(t *testing.T) {
	wsURL, _ := newInworldServer(t, func(conn *websocket.Conn) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	fixed := time.UnixMilli(1700000000000)
	s, err := New(Config{APIKey: "k", URL: wsURL, Now: func() time.Time { return fixed }})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer s.Close()

	ids := map[string]struct{}{}
	for i := 0; i < 5; i++ {
		id, err := s.SendText(context.Background(), "hi")
		if err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
		ids[id] = struct{}{}
	}
	if len(ids) != 5 {
		t.Fatalf("expected 5 unique ids in the same millisecond, got %v", ids)
	}
	if _, ok := ids["ctx-1700000000000-0"]; !ok {
		t.Fatalf("expected counter to start at zero, got %v", ids)
	}
}

func TestBlankTextIsNoop(t *testing.T) {
	s, err := New(Config{APIKey: "k", URL: "ws://127.0.0.1:1"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer s.Close()
	id, err := s.SendText(context.Background(), "   ")
	if err != nil || id != "" {
		t.Fatalf("expected no-op for blank text, got %q %v", id, err)
	}
	if s.State().String() != "absent" {
		t.Fatalf("blank text must not dial, state=%s", s.State())
	}
}

func TestAudioChunksStripWAVHeader(t *testing.T) {
	header := append([]byte("RIFF"), make([]byte, 40)...)
	pcm := []byte{1, 2, 3, 4}
	short := []byte("RIFF")
	release := make(chan struct{})
	wsURL, _ := newInworldServer(t, func(conn *websocket.Conn) {
		msgs := []string{
			audioMessage("ctx-1", append(append([]byte{}, header...), pcm...)),
			`{"error":{"message":"voice not found"}}`,
			`{"result":{"contextId":"ctx-1","audioChunk":{"audioContent":"%%%"}}}`,
			`garbage`,
			audioMessage("ctx-1", []byte{9, 8, 7}),
			audioMessage("ctx-1", short),
			`{"result":{"contextId":"ctx-1","contextClosed":{}}}`,
		}
		for _, m := range msgs {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(m)); err != nil {
				return
			}
		}
		<-release
	})
	defer close(release)

	obs := metrics.NewMemoryObserver()
	s, err := New(Config{APIKey: "k", URL: wsURL, Observer: obs})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer s.Close()
	if err := s.Warmup(context.Background()); err != nil {
		t.Fatalf("warmup: %v", err)
	}

	next, stop := iter.Pull(s.Events(context.Background()))
	defer stop()

	if c := nextChunk(t, next); string(c.Audio) != string(pcm) || c.ContextID != "ctx-1" {
		t.Fatalf("expected header stripped with context id, got %v %q", c.Audio, c.ContextID)
	}
	if c := nextChunk(t, next); string(c.Audio) != string([]byte{9, 8, 7}) {
		t.Fatalf("expected raw pcm untouched, got %v", c.Audio)
	}
	if c := nextChunk(t, next); string(c.Audio) != "RIFF" {
		t.Fatalf("expected short RIFF payload untouched, got %v", c.Audio)
	}
	if obs.Count(metrics.EventProtocolError) != 1 {
		t.Fatalf("expected one protocol error, got %d", obs.Count(metrics.EventProtocolError))
	}
	if obs.Count(metrics.EventDecodeError) != 2 {
		t.Fatalf("expected two decode errors, got %d", obs.Count(metrics.EventDecodeError))
	}
	if obs.Count(metrics.EventTTSChunk) != 3 {
		t.Fatalf("expected three tts_chunk metrics, got %d", obs.Count(metrics.EventTTSChunk))
	}
}

func TestCloseRejectsFurtherText(t *testing.T) {
	s, err := New(Config{APIKey: "k", URL: "ws://127.0.0.1:1"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := s.SendText(context.Background(), "hello"); !errorsx.HasReason(err, errorsx.ReasonConnClosed) {
		t.Fatalf("expected conn_closed, got %v", err)
	}
	for range s.Events(context.Background()) {
		t.Fatalf("closed client must not yield events")
	}
}

func TestConfigFromSettings(t *testing.T) {
	cfg, err := ConfigFromSettings(map[string]any{"voice_id": "Hana", "sample_rate": "22050"})
	if err != nil {
		t.Fatalf("settings: %v", err)
	}
	if cfg.VoiceID != "Hana" || cfg.SampleRate != 22050 {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if _, err := ConfigFromSettings(map[string]any{"format_turns": true}); err == nil {
		t.Fatalf("expected unknown key to be rejected")
	}
}
