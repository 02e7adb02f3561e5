package wsconn

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/harunnryd/voxstream/pkg/errorsx"
	"github.com/harunnryd/voxstream/pkg/resilience"
)

// ErrClosed is returned to waiters whose connection attempt was abandoned
// by an explicit Close.
var ErrClosed = errors.New("connection closed")

type State int

const (
	StateAbsent State = iota
	StateConnecting
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateAbsent:
		return "absent"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Handlers are the reactions a client registers on its connection. All of
// them are optional and run on the manager's goroutines; OnMessage is called
// from a single read loop, one message at a time, in arrival order.
type Handlers struct {
	OnOpen    func(c *Conn)
	OnMessage func(messageType int, data []byte)
	// OnError receives dial failures and abnormal read errors.
	OnError func(err error)
	// OnClose runs after the cached future has been invalidated.
	OnClose func(code int, text string)
}

type Config struct {
	// Provider names the vendor in logs and rate limit errors.
	Provider string
	URL      string
	Header   http.Header
	Dialer   *websocket.Dialer
	// WriteTimeout bounds each write. Defaults to 10s.
	WriteTimeout time.Duration
	// Breaker, when set, fails dials fast while it is open.
	Breaker       *resilience.CircuitBreaker
	ConnectReason errorsx.ReasonCode
	Logger        *slog.Logger
	Handlers      Handlers
}

// Manager lazily opens a single websocket and shares the attempt with every
// caller until it closes. After a close or error the next caller starts a
// fresh attempt; nothing reconnects on its own.
type Manager struct {
	cfg    Config
	log    *slog.Logger
	dialer *websocket.Dialer

	mu     sync.Mutex
	future *Future
	state  State
}

func New(cfg Config) *Manager {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.ConnectReason == "" {
		cfg.ConnectReason = errorsx.ReasonUnknown
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		}
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		cfg:    cfg,
		log:    log,
		dialer: dialer,
		state:  StateAbsent,
	}
}

// Future returns the outstanding connection attempt, starting one if none is
// cached. Concurrent callers receive the same instance.
func (m *Manager) Future() *Future {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.future != nil {
		return m.future
	}
	f := newFuture()
	m.future = f
	m.state = StateConnecting
	go m.dial(f)
	return f
}

// Connect waits for the shared connection. ctx only bounds this caller's
// wait; the attempt itself continues for other callers.
func (m *Manager) Connect(ctx context.Context) (*Conn, error) {
	return m.Future().Wait(ctx)
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Close tears down the current connection, if any, and invalidates the
// cached future. Calling it with nothing open is a no-op.
func (m *Manager) Close() error {
	m.mu.Lock()
	f := m.future
	m.future = nil
	if m.state != StateAbsent {
		m.state = StateClosed
	}
	m.mu.Unlock()

	if f == nil {
		return nil
	}
	select {
	case <-f.done:
	default:
		// Still dialing; dial() notices the invalidation and discards the socket.
		return nil
	}
	if f.conn == nil {
		return nil
	}
	m.log.Info("ws_close_requested", slog.String("provider", m.cfg.Provider))
	return f.conn.close(websocket.CloseNormalClosure)
}

func (m *Manager) dial(f *Future) {
	if b := m.cfg.Breaker; b != nil && !b.Allow() {
		err := errorsx.Errorf(errorsx.ReasonConnCircuitOpen, "%s: circuit open for %s", m.cfg.Provider, b.Remaining().Round(time.Millisecond))
		m.log.Warn("ws_circuit_open", slog.String("provider", m.cfg.Provider))
		m.fail(f, err)
		return
	}

	m.log.Debug("ws_connecting", slog.String("provider", m.cfg.Provider))
	ws, resp, err := m.dialer.Dial(m.cfg.URL, m.cfg.Header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusTooManyRequests {
			err = resilience.RateLimitError{Provider: m.cfg.Provider, Message: resp.Status}
		}
		if m.cfg.Breaker != nil {
			m.cfg.Breaker.OnError(err)
		}
		m.log.Error("ws_dial_failed",
			slog.String("provider", m.cfg.Provider),
			slog.String("error", err.Error()))
		m.fail(f, errorsx.Wrap(err, m.cfg.ConnectReason))
		return
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if m.cfg.Breaker != nil {
		m.cfg.Breaker.OnSuccess()
	}

	conn := newConn(ws, m.cfg.WriteTimeout)
	m.mu.Lock()
	if m.future != f {
		m.mu.Unlock()
		_ = conn.close(websocket.CloseNormalClosure)
		f.resolve(nil, errorsx.Wrap(ErrClosed, errorsx.ReasonConnClosed))
		return
	}
	m.state = StateOpen
	m.mu.Unlock()

	m.log.Info("ws_connected", slog.String("provider", m.cfg.Provider))
	f.resolve(conn, nil)
	if h := m.cfg.Handlers.OnOpen; h != nil {
		h(conn)
	}
	go m.readLoop(f, conn)
}

func (m *Manager) fail(f *Future, err error) {
	m.invalidate(f)
	if h := m.cfg.Handlers.OnError; h != nil {
		h(err)
	}
	f.resolve(nil, err)
}

func (m *Manager) readLoop(f *Future, conn *Conn) {
	for {
		mt, data, err := conn.ws.ReadMessage()
		if err != nil {
			m.onReadError(f, conn, err)
			return
		}
		if h := m.cfg.Handlers.OnMessage; h != nil {
			h(mt, data)
		}
	}
}

func (m *Manager) onReadError(f *Future, conn *Conn, err error) {
	byUs := conn.markClosed()
	_ = conn.ws.Close()
	m.invalidate(f)

	code, text := websocket.CloseNoStatusReceived, ""
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		code, text = ce.Code, ce.Text
	}
	normal := byUs || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
	if !normal {
		m.log.Error("ws_read_error",
			slog.String("provider", m.cfg.Provider),
			slog.String("error", err.Error()))
		if h := m.cfg.Handlers.OnError; h != nil {
			h(err)
		}
	}
	m.log.Info("ws_closed",
		slog.String("provider", m.cfg.Provider),
		slog.Int("code", code),
		slog.Bool("local", byUs))
	if h := m.cfg.Handlers.OnClose; h != nil {
		h(code, text)
	}
}

// invalidate drops f from the cache if it is still the current attempt.
func (m *Manager) invalidate(f *Future) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.future == f {
		m.future = nil
		m.state = StateClosed
	}
}

// Future is a pending or settled connection attempt.
type Future struct {
	done chan struct{}
	once sync.Once
	conn *Conn
	err  error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func (f *Future) resolve(conn *Conn, err error) {
	f.once.Do(func() {
		f.conn = conn
		f.err = err
		close(f.done)
	})
}

// Done is closed once the attempt has settled.
func (f *Future) Done() <-chan struct{} { return f.done }

func (f *Future) Wait(ctx context.Context) (*Conn, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-f.done:
		return f.conn, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
