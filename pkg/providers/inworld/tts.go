package inworld

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/harunnryd/voxstream/pkg/adapters/tts"
	"github.com/harunnryd/voxstream/pkg/buffer"
	"github.com/harunnryd/voxstream/pkg/configutil"
	"github.com/harunnryd/voxstream/pkg/errorsx"
	"github.com/harunnryd/voxstream/pkg/events"
	"github.com/harunnryd/voxstream/pkg/logging"
	"github.com/harunnryd/voxstream/pkg/metrics"
	"github.com/harunnryd/voxstream/pkg/redact"
	"github.com/harunnryd/voxstream/pkg/wsconn"
)

const providerName = "inworld"

// StreamingTTS drives Inworld's bidirectional synthesis socket. Each
// utterance gets its own context: create, send text with flush, close.
type StreamingTTS struct {
	voiceID    string
	modelID    string
	sampleRate int
	sessionID  string
	traceID    string
	logger     *slog.Logger
	obs        metrics.Observer
	now        func() time.Time

	counter atomic.Uint64
	events  *buffer.Queue[events.Event]
	conn    *wsconn.Manager
	closed  atomic.Bool
}

// New validates cfg and builds a client. A blank API key with no
// INWORLD_API_KEY in the environment is an error.
func New(cfg Config) (*StreamingTTS, error) {
	apiKey := configutil.EnvFallback(cfg.APIKey, APIKeyEnv)
	if apiKey == "" {
		return nil, errorsx.MissingCredential(providerName, APIKeyEnv)
	}
	sessionID := uuid.NewString()
	logger := logging.NewComponentLogger(cfg.Logger, "inworld_tts").With(slog.String("session_id", sessionID))
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	s := &StreamingTTS{
		voiceID:    configutil.StringValue(cfg.VoiceID, DefaultVoiceID),
		modelID:    configutil.StringValue(cfg.ModelID, DefaultModelID),
		sampleRate: cfg.SampleRate,
		sessionID:  sessionID,
		traceID:    cfg.TraceID,
		logger:     logger,
		obs:        metrics.OrNoop(cfg.Observer),
		now:        now,
		events: buffer.New[events.Event](buffer.Config{
			Name:      "inworld_tts",
			HighWater: cfg.BufferHighWater,
			Logger:    logger,
		}),
	}
	if s.sampleRate <= 0 {
		s.sampleRate = DefaultSampleRate
	}
	if !isKnownVoice(s.voiceID) {
		logger.Warn("inworld_unknown_voice", slog.String("voice_id", s.voiceID))
	}
	s.conn = wsconn.New(wsconn.Config{
		Provider:      providerName,
		URL:           configutil.StringValue(cfg.URL, DefaultURL),
		Header:        http.Header{"Authorization": []string{"Basic " + apiKey}},
		Breaker:       cfg.Breaker,
		ConnectReason: errorsx.ReasonTTSConnect,
		Logger:        logger,
		Handlers: wsconn.Handlers{
			OnOpen:    s.onOpen,
			OnMessage: s.onMessage,
			OnError:   s.onError,
			OnClose:   s.onClose,
		},
	})
	return s, nil
}

func (s *StreamingTTS) Name() string { return "inworld_tts" }

func (s *StreamingTTS) SessionID() string { return s.sessionID }

func (s *StreamingTTS) VoiceID() string { return s.voiceID }

func (s *StreamingTTS) SampleRate() int { return s.sampleRate }

func (s *StreamingTTS) State() wsconn.State { return s.conn.State() }

// Warmup connects ahead of the first utterance to hide handshake latency.
func (s *StreamingTTS) Warmup(ctx context.Context) error {
	if s.closed.Load() {
		return errorsx.Wrap(wsconn.ErrClosed, errorsx.ReasonConnClosed)
	}
	_, err := s.conn.Connect(ctx)
	return err
}

// SendText waits for the shared connection and runs one context lifecycle
// for text. Blank text is a no-op. If the socket closed before the three
// messages could be written, the utterance is not synthesized and the error
// carries errorsx.ReasonTTSSend.
func (s *StreamingTTS) SendText(ctx context.Context, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", nil
	}
	if s.closed.Load() {
		return "", errorsx.Wrap(wsconn.ErrClosed, errorsx.ReasonConnClosed)
	}
	conn, err := s.conn.Connect(ctx)
	if err != nil {
		return "", err
	}
	if !conn.IsOpen() {
		s.logger.Warn("inworld_send_on_closed_connection",
			slog.String("text", redact.Preview(text, 60)))
		return "", errorsx.Wrap(wsconn.ErrClosed, errorsx.ReasonTTSSend)
	}

	contextID := s.nextContextID()
	msgs := []any{
		createMessage{
			ContextID: contextID,
			Create: createBody{
				VoiceID: s.voiceID,
				ModelID: s.modelID,
				AudioConfig: audioConfig{
					AudioEncoding:   audioEncodingLinear16,
					SampleRateHertz: s.sampleRate,
				},
			},
		},
		sendTextMessage{
			ContextID: contextID,
			SendText:  sendTextBody{Text: text},
		},
		closeContextMessage{ContextID: contextID},
	}
	for _, m := range msgs {
		if err := conn.WriteJSON(m); err != nil {
			s.logger.Error("inworld_send_failed",
				slog.String("context_id", contextID),
				slog.String("error", err.Error()))
			return contextID, errorsx.Wrap(err, errorsx.ReasonTTSSend)
		}
	}
	s.logger.Debug("inworld_context_sent",
		slog.String("context_id", contextID),
		slog.String("text", redact.Preview(text, 60)))
	return contextID, nil
}

func (s *StreamingTTS) Events(ctx context.Context) iter.Seq[events.Event] {
	return s.events.All(ctx)
}

// Close cancels the event sequence and closes the socket. The client cannot
// be reused afterwards.
func (s *StreamingTTS) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.logger.Info("closing inworld connection")
	s.events.Cancel()
	return s.conn.Close()
}

// nextContextID is unique per client even for calls in the same millisecond.
func (s *StreamingTTS) nextContextID() string {
	n := s.counter.Add(1) - 1
	return fmt.Sprintf("ctx-%d-%d", s.now().UnixMilli(), n)
}

func (s *StreamingTTS) onOpen(*wsconn.Conn) {
	s.logger.Info("inworld_connected",
		slog.String("voice_id", s.voiceID),
		slog.String("model_id", s.modelID),
		slog.Int("sample_rate", s.sampleRate))
	s.record(metrics.EventConnected, 0, nil)
}

func (s *StreamingTTS) onError(err error) {
	s.logger.Error("inworld_transport_error", slog.String("error", err.Error()))
	s.events.Cancel()
}

func (s *StreamingTTS) onClose(code int, text string) {
	s.logger.Info("inworld_connection_closed",
		slog.Int("code", code),
		slog.String("reason", text))
	s.record(metrics.EventDisconnected, 0, nil)
}

func (s *StreamingTTS) onMessage(_ int, data []byte) {
	var msg response
	if err := json.Unmarshal(data, &msg); err != nil {
		s.logger.Warn("inworld_decode_error",
			slog.String("error", err.Error()),
			slog.Int("size_bytes", len(data)))
		s.record(metrics.EventDecodeError, 0, nil)
		return
	}
	if text := msg.errorMessage(); text != "" {
		s.logger.Error("inworld_error", slog.String("error_message", text))
		s.record(metrics.EventProtocolError, 0, map[string]any{"error": text})
		return
	}
	if content := msg.audioContent(); content != "" {
		raw, err := base64.StdEncoding.DecodeString(content)
		if err != nil {
			s.logger.Warn("inworld_audio_decode_error", slog.String("error", err.Error()))
			s.record(metrics.EventDecodeError, 0, nil)
			return
		}
		pcm := stripWAVHeader(raw)
		s.record(metrics.EventTTSChunk, float64(len(pcm)), map[string]any{"sample_rate": s.sampleRate})
		s.events.Push(events.TTSChunk{Audio: pcm, ContextID: msg.Result.ContextID, At: s.now()})
	}
	if msg.contextClosed() {
		s.logger.Debug("inworld_context_closed", slog.String("context_id", msg.Result.ContextID))
	}
}

func (s *StreamingTTS) record(name string, value float64, fields map[string]any) {
	s.obs.RecordEvent(metrics.MetricsEvent{
		Name:   name,
		Time:   s.now(),
		Value:  value,
		Tags:   s.tags(),
		Fields: fields,
	})
}

func (s *StreamingTTS) tags() map[string]string {
	tags := map[string]string{
		metrics.TagProvider:  providerName,
		metrics.TagSessionID: s.sessionID,
	}
	if s.traceID != "" {
		tags[metrics.TagTraceID] = s.traceID
	}
	return tags
}

var _ tts.StreamingTTS = (*StreamingTTS)(nil)
