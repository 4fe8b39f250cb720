// Package socket owns the realtime connection for one user–companion pair.
//
// The manager runs the state machine idle → connecting → open → closed. It
// never reconnects on its own; callers decide whether to Open again.
package socket

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/zhouzirui/z-tavern/companion/internal/logging"
	"github.com/zhouzirui/z-tavern/companion/internal/model/chat"
)

var (
	// ErrMissingIdentifiers is a configuration error: a socket needs both a
	// user id and a companion id. It is not retryable.
	ErrMissingIdentifiers = errors.New("user id and companion id are required")
	ErrNotConnected       = errors.New("socket is not connected")
	ErrClosed             = errors.New("socket closed while connecting")
)

// MessageHandler receives decoded inbound messages.
type MessageHandler func(chat.Message)

// StateHandler receives state transitions caused by Open and by transport
// failures. An explicit Close is not reported.
type StateHandler func(State)

// Options 连接参数
type Options struct {
	URL               string
	HeartbeatInterval time.Duration
	HandshakeTimeout  time.Duration
	WriteTimeout      time.Duration
	Header            http.Header
	Now               func() time.Time
}

// DefaultOptions 默认连接参数
func DefaultOptions(socketURL string) Options {
	return Options{
		URL:               socketURL,
		HeartbeatInterval: 30 * time.Second,
		HandshakeTimeout:  10 * time.Second,
		WriteTimeout:      10 * time.Second,
		Now:               time.Now,
	}
}

// Manager holds at most one live connection.
//
// Handlers run on the manager's goroutines and must not call Open or Close
// synchronously. Once Close returns no handler fires for the closed
// connection.
type Manager struct {
	opts   Options
	dialer *websocket.Dialer
	logger *zap.Logger

	mu        sync.Mutex
	state     State
	gen       uint64
	conn      *websocket.Conn
	cancel    context.CancelFunc
	abortDial context.CancelFunc
	onMessage MessageHandler
	onState   StateHandler

	// cbMu serializes handler calls against Close.
	cbMu    sync.Mutex
	writeMu sync.Mutex
	wg      sync.WaitGroup
}

// NewManager 创建连接管理器
func NewManager(opts Options, logger *zap.Logger) *Manager {
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 30 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Manager{
		opts: opts,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: opts.HandshakeTimeout,
		},
		logger: logger.Named("socket"),
	}
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Open tears down any previous connection and dials the endpoint for the pair.
// It blocks until the connection is open or has failed. Dial failures are
// reported through onState(Closed) and returned. A Close during the dial
// aborts it and Open returns ErrClosed.
func (m *Manager) Open(ctx context.Context, userID, companionID string, onMessage MessageHandler, onState StateHandler) error {
	if err := m.Close(); err != nil {
		return err
	}

	if !(chat.Session{UserID: userID, CompanionID: companionID}).Complete() {
		m.mu.Lock()
		m.state = Closed
		m.mu.Unlock()
		return ErrMissingIdentifiers
	}

	addr, err := m.address(userID, companionID)
	if err != nil {
		m.mu.Lock()
		m.state = Closed
		m.mu.Unlock()
		return err
	}

	dialCtx, abortDial := context.WithCancel(ctx)
	defer abortDial()

	m.mu.Lock()
	m.gen++
	gen := m.gen
	m.state = Connecting
	m.onMessage = onMessage
	m.onState = onState
	m.abortDial = abortDial
	m.mu.Unlock()

	m.emitState(gen, Connecting)

	conn, _, err := m.dialer.DialContext(dialCtx, addr, m.opts.Header)

	m.mu.Lock()
	if m.gen != gen {
		// closed or reopened while dialing
		m.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return ErrClosed
	}
	m.abortDial = nil
	if err != nil {
		m.state = Closed
		m.mu.Unlock()
		m.logger.Warn("dial failed",
			zap.String("user", userID), zap.String("companion", companionID), zap.Error(err))
		m.emitState(gen, Closed)
		return fmt.Errorf("websocket dial failed: %w", err)
	}
	runCtx, cancel := context.WithCancel(context.Background())
	m.conn = conn
	m.cancel = cancel
	m.state = Open
	m.wg.Add(2)
	m.mu.Unlock()

	m.logger.Info("connected", zap.String("user", userID), zap.String("companion", companionID))
	m.emitState(gen, Open)

	go m.readLoop(runCtx, gen, conn)
	go m.heartbeatLoop(runCtx, gen, conn)
	return nil
}

// Send encodes text as a message action frame. It returns ErrNotConnected
// unless the connection is open.
func (m *Manager) Send(text string) error {
	m.mu.Lock()
	if m.state != Open || m.conn == nil {
		m.mu.Unlock()
		return ErrNotConnected
	}
	conn, gen := m.conn, m.gen
	m.mu.Unlock()

	if err := m.writeFrame(conn, Frame{Action: ActionMessage, Content: text}); err != nil {
		m.fail(gen, err)
		return fmt.Errorf("send message: %w", err)
	}

	m.logger.Debug("message sent", zap.String("preview", logging.Preview(text, 20)))
	return nil
}

// Close moves to closed, aborts a dial in progress, stops the heartbeat and
// releases the connection. It waits for the read loop to exit and is safe to
// call repeatedly.
func (m *Manager) Close() error {
	m.mu.Lock()
	m.gen++
	conn, cancel, abortDial := m.conn, m.cancel, m.abortDial
	m.conn, m.cancel, m.abortDial = nil, nil, nil
	if m.state != Idle {
		m.state = Closed
	}
	m.mu.Unlock()

	if abortDial != nil {
		abortDial()
	}
	if cancel != nil {
		cancel()
	}
	if conn != nil {
		deadline := time.Now().Add(time.Second)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		conn.Close()
		m.logger.Info("connection closed")
	}

	// barrier: any handler already running finishes before Close returns
	m.cbMu.Lock()
	m.cbMu.Unlock()

	m.wg.Wait()
	return nil
}

func (m *Manager) address(userID, companionID string) (string, error) {
	u, err := url.Parse(m.opts.URL)
	if err != nil {
		return "", fmt.Errorf("invalid socket url %q: %w", m.opts.URL, err)
	}
	q := u.Query()
	q.Set("user_id", userID)
	q.Set("lover_id", companionID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (m *Manager) readLoop(ctx context.Context, gen uint64, conn *websocket.Conn) {
	defer m.wg.Done()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				m.fail(gen, err)
			}
			return
		}

		msg, ok := decodeInbound(data, m.opts.Now())
		if !ok {
			continue
		}
		m.deliver(gen, msg)
	}
}

// heartbeatLoop 定期发送心跳帧
func (m *Manager) heartbeatLoop(ctx context.Context, gen uint64, conn *websocket.Conn) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !m.isOpen(gen) {
				return
			}
			if err := m.writeFrame(conn, Frame{Action: ActionHeartbeat}); err != nil {
				m.fail(gen, err)
				return
			}
		}
	}
}

func (m *Manager) writeFrame(conn *websocket.Conn, frame Frame) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	if err := conn.SetWriteDeadline(time.Now().Add(m.opts.WriteTimeout)); err != nil {
		return err
	}
	return conn.WriteJSON(frame)
}

func (m *Manager) isOpen(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gen == gen && m.state == Open
}

// fail closes the connection of generation gen after a transport error.
func (m *Manager) fail(gen uint64, cause error) {
	m.mu.Lock()
	if m.gen != gen || m.state != Open {
		m.mu.Unlock()
		return
	}
	m.state = Closed
	conn, cancel := m.conn, m.cancel
	m.conn, m.cancel = nil, nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.Close()
	}

	if websocket.IsCloseError(cause, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		m.logger.Info("connection closed by peer", zap.Error(cause))
	} else {
		m.logger.Warn("connection lost", zap.Error(cause))
	}
	m.emitState(gen, Closed)
}

func (m *Manager) emitState(gen uint64, state State) {
	m.cbMu.Lock()
	defer m.cbMu.Unlock()

	m.mu.Lock()
	cb, current := m.onState, m.gen == gen
	m.mu.Unlock()

	if current && cb != nil {
		cb(state)
	}
}

func (m *Manager) deliver(gen uint64, msg chat.Message) {
	m.cbMu.Lock()
	defer m.cbMu.Unlock()

	m.mu.Lock()
	cb, current := m.onMessage, m.gen == gen && m.state == Open
	m.mu.Unlock()

	if current && cb != nil {
		cb(msg)
	}
}
