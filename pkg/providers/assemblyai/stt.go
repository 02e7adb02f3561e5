package assemblyai

import (
	"context"
	"iter"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/harunnryd/voxstream/pkg/adapters/stt"
	"github.com/harunnryd/voxstream/pkg/buffer"
	"github.com/harunnryd/voxstream/pkg/configutil"
	"github.com/harunnryd/voxstream/pkg/errorsx"
	"github.com/harunnryd/voxstream/pkg/events"
	"github.com/harunnryd/voxstream/pkg/logging"
	"github.com/harunnryd/voxstream/pkg/metrics"
	"github.com/harunnryd/voxstream/pkg/redact"
	"github.com/harunnryd/voxstream/pkg/wsconn"
)

const providerName = "assemblyai"

// StreamingSTT speaks AssemblyAI's v3 streaming protocol: raw PCM frames
// out, Begin/Turn/Termination/Error JSON messages in.
type StreamingSTT struct {
	params    params
	url       string
	sessionID string
	traceID   string
	logger    *slog.Logger
	obs       metrics.Observer
	now       func() time.Time

	events *buffer.Queue[events.Event]
	conn   *wsconn.Manager
	closed atomic.Bool
}

// New validates cfg and builds a client. No connection is made until the
// first SendAudio or Connect. A blank API key with no ASSEMBLYAI_API_KEY in
// the environment is an error.
func New(cfg Config) (*StreamingSTT, error) {
	apiKey := configutil.EnvFallback(cfg.APIKey, APIKeyEnv)
	if apiKey == "" {
		return nil, errorsx.MissingCredential(providerName, APIKeyEnv)
	}
	p := resolveParams(cfg)
	u, err := buildURL(cfg.URL, p)
	if err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonConfigInvalid)
	}

	sessionID := uuid.NewString()
	logger := logging.NewComponentLogger(cfg.Logger, "assemblyai_stt").With(slog.String("session_id", sessionID))
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	s := &StreamingSTT{
		params:    p,
		url:       u,
		sessionID: sessionID,
		traceID:   cfg.TraceID,
		logger:    logger,
		obs:       metrics.OrNoop(cfg.Observer),
		now:       now,
		events: buffer.New[events.Event](buffer.Config{
			Name:      "assemblyai_stt",
			HighWater: cfg.BufferHighWater,
			Logger:    logger,
		}),
	}
	s.conn = wsconn.New(wsconn.Config{
		Provider:      providerName,
		URL:           u,
		Header:        http.Header{"Authorization": []string{apiKey}},
		Breaker:       cfg.Breaker,
		ConnectReason: errorsx.ReasonSTTConnect,
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

func (s *StreamingSTT) Name() string { return "assemblyai_streaming" }

// SessionID identifies this client instance in logs and metrics.
func (s *StreamingSTT) SessionID() string { return s.sessionID }

// URL returns the handshake URL including session parameters.
func (s *StreamingSTT) URL() string { return s.url }

// State reports the connection state.
func (s *StreamingSTT) State() wsconn.State { return s.conn.State() }

func (s *StreamingSTT) Connect(ctx context.Context) error {
	if s.closed.Load() {
		return errorsx.Wrap(wsconn.ErrClosed, errorsx.ReasonConnClosed)
	}
	_, err := s.conn.Connect(ctx)
	return err
}

// SendAudio waits for the connection and forwards pcm verbatim as one
// binary frame.
func (s *StreamingSTT) SendAudio(ctx context.Context, pcm []byte) error {
	if s.closed.Load() {
		return errorsx.Wrap(wsconn.ErrClosed, errorsx.ReasonConnClosed)
	}
	conn, err := s.conn.Connect(ctx)
	if err != nil {
		return err
	}
	if err := conn.WriteBinary(pcm); err != nil {
		s.logger.Error("assemblyai_send_audio_failed",
			slog.String("error", err.Error()),
			slog.Int("size_bytes", len(pcm)))
		return errorsx.Wrap(err, errorsx.ReasonSTTSend)
	}
	s.record(metrics.EventSTTAudio, float64(len(pcm)), map[string]any{"sample_rate": s.params.sampleRate})
	return nil
}

// ForceEndpoint asks the server to end the current turn immediately.
func (s *StreamingSTT) ForceEndpoint(ctx context.Context) error {
	if s.closed.Load() {
		return errorsx.Wrap(wsconn.ErrClosed, errorsx.ReasonConnClosed)
	}
	conn, err := s.conn.Connect(ctx)
	if err != nil {
		return err
	}
	return errorsx.Wrap(conn.WriteJSON(forceEndpointMessage), errorsx.ReasonSTTSend)
}

// Terminate asks the server to end the session gracefully; the server
// answers with Termination and closes. It does nothing without an open
// connection.
func (s *StreamingSTT) Terminate(ctx context.Context) error {
	if s.conn.State() != wsconn.StateOpen {
		return nil
	}
	conn, err := s.conn.Connect(ctx)
	if err != nil {
		return err
	}
	return errorsx.Wrap(conn.WriteJSON(terminateMessage), errorsx.ReasonSTTSend)
}

func (s *StreamingSTT) Events(ctx context.Context) iter.Seq[events.Event] {
	return s.events.All(ctx)
}

// Close cancels the event sequence and closes the socket. The client cannot
// be reused afterwards.
func (s *StreamingSTT) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.logger.Info("closing assemblyai connection")
	s.events.Cancel()
	return s.conn.Close()
}

func (s *StreamingSTT) onOpen(*wsconn.Conn) {
	s.logger.Info("assemblyai_connected",
		slog.Int("sample_rate", s.params.sampleRate),
		slog.Bool("format_turns", s.params.formatTurns),
		slog.Float64("end_of_turn_confidence_threshold", s.params.confidenceThreshold))
	s.record(metrics.EventConnected, 0, nil)
}

// onError covers transport failures: the event sequence ends for good and
// any pending connect is rejected by the manager.
func (s *StreamingSTT) onError(err error) {
	s.logger.Error("assemblyai_transport_error", slog.String("error", err.Error()))
	s.events.Cancel()
}

func (s *StreamingSTT) onClose(code int, text string) {
	s.logger.Info("assemblyai_connection_closed",
		slog.Int("code", code),
		slog.String("reason", text))
	s.record(metrics.EventDisconnected, 0, nil)
}

func (s *StreamingSTT) onMessage(_ int, data []byte) {
	msg, err := parseMessage(data)
	if err != nil {
		s.logger.Warn("assemblyai_decode_error",
			slog.String("error", err.Error()),
			slog.Int("size_bytes", len(data)))
		s.record(metrics.EventDecodeError, 0, nil)
		return
	}
	switch m := msg.(type) {
	case beginMessage:
		s.logger.Info("assemblyai_session_begin",
			slog.String("provider_session_id", m.ID),
			slog.Int64("expires_at", m.ExpiresAt))
	case turnMessage:
		s.handleTurn(m)
	case terminationMessage:
		s.logger.Info("assemblyai_session_terminated",
			slog.Float64("audio_duration_seconds", m.AudioDurationSeconds),
			slog.Float64("session_duration_seconds", m.SessionDurationSeconds))
	case errorMessage:
		s.logger.Error("assemblyai_error", slog.String("error_message", m.Error))
		s.record(metrics.EventProtocolError, 0, map[string]any{"error": m.Error})
	}
}

// handleTurn emits a chunk for every unformatted Turn, even an empty one,
// and an output only for a formatted Turn with text.
func (s *StreamingSTT) handleTurn(m turnMessage) {
	at := s.now()
	if m.TurnIsFormatted {
		if m.Transcript == "" {
			return
		}
		s.logger.Debug("assemblyai_turn_final",
			slog.Int("turn_order", m.TurnOrder),
			slog.String("transcript", redact.Preview(m.Transcript, 120)))
		s.events.Push(events.STTOutput{Transcript: m.Transcript, At: at})
		s.record(metrics.EventSTTOutput, float64(len(m.Transcript)), nil)
		return
	}
	s.events.Push(events.STTChunk{Transcript: m.Transcript, At: at})
	s.record(metrics.EventSTTChunk, float64(len(m.Transcript)), nil)
}

func (s *StreamingSTT) record(name string, value float64, fields map[string]any) {
	s.obs.RecordEvent(metrics.MetricsEvent{
		Name:   name,
		Time:   s.now(),
		Value:  value,
		Tags:   s.tags(),
		Fields: fields,
	})
}

func (s *StreamingSTT) tags() map[string]string {
	tags := map[string]string{
		metrics.TagProvider:  providerName,
		metrics.TagSessionID: s.sessionID,
	}
	if s.traceID != "" {
		tags[metrics.TagTraceID] = s.traceID
	}
	return tags
}

var _ stt.StreamingSTT = (*StreamingSTT)(nil)
