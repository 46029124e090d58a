// ABOUTME: WebSocket transport for the streaming chat connection.
// ABOUTME: Owns connection lifecycle, outbound FIFO queue, and frame fan-out to listeners.

package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/prepdesk/prepchat/internal/wire"
)

// State is the connection lifecycle state.
type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateOpen       State = "open"
	StateClosed     State = "closed"
)

// Conn is the minimal surface of a live websocket connection. Satisfied by
// *websocket.Conn; tests substitute fakes.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Dialer opens a connection to the given URL.
type Dialer interface {
	Dial(ctx context.Context, rawURL string) (Conn, error)
}

// Handler receives one decoded inbound frame.
type Handler func(*wire.Frame)

type gorillaDialer struct{}

func (gorillaDialer) Dial(ctx context.Context, rawURL string) (Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, rawURL, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// StreamURL derives the streaming endpoint URL from an HTTP(S) base URL,
// rewriting the scheme to its websocket equivalent and attaching the bearer
// credential as a query parameter.
func StreamURL(baseURL, token string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parsing base url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = "/api/chat/ws"
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

type listener struct {
	id int
	fn Handler
}

// Transport maintains zero-or-one live streaming connection to the chat
// backend. Outbound payloads sent while disconnected are queued and flushed in
// FIFO order once a connection opens. Inbound frames are decoded and fanned
// out to every registered listener in registration order.
//
// There is no automatic retry or backoff: a dropped connection moves the
// transport to StateClosed and the next Send triggers a reconnect.
type Transport struct {
	baseURL string
	token   func() string
	dialer  Dialer
	logger  *slog.Logger

	// wmu serializes writes to the live connection; gorilla allows only one
	// concurrent writer.
	wmu sync.Mutex

	mu        sync.Mutex
	state     State
	conn      Conn
	gen       int // increments on every successful dial
	queue     [][]byte
	listeners []listener
	nextID    int
}

// Option configures a Transport.
type Option func(*Transport)

// WithDialer substitutes the websocket dialer. Used by tests.
func WithDialer(d Dialer) Option {
	return func(t *Transport) { t.dialer = d }
}

// New creates a Transport for the given HTTP(S) base URL. The token function
// is consulted at connect time so a refreshed credential is picked up on
// reconnect. Pass nil logger for default.
func New(baseURL string, token func() string, logger *slog.Logger, opts ...Option) *Transport {
	if logger == nil {
		logger = slog.Default()
	}
	t := &Transport{
		baseURL: baseURL,
		token:   token,
		dialer:  gorillaDialer{},
		logger:  logger.With("component", "transport"),
		state:   StateIdle,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// State returns the current lifecycle state.
func (t *Transport) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// IsConnected reports whether the connection is open.
func (t *Transport) IsConnected() bool {
	return t.State() == StateOpen
}

// OnFrame registers a listener for inbound frames and returns a detach
// function. All listeners receive every frame in registration order.
func (t *Transport) OnFrame(fn Handler) func() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.nextID++
	id := t.nextID
	t.listeners = append(t.listeners, listener{id: id, fn: fn})

	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		for i, l := range t.listeners {
			if l.id == id {
				t.listeners = append(t.listeners[:i], t.listeners[i+1:]...)
				return
			}
		}
	}
}

// Connect opens the streaming connection if one is not already open or in
// progress. On success any queued outbound payloads are flushed in FIFO
// order; if the connection drops mid-flush the unsent remainder is re-queued
// at the front.
func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	if t.state == StateConnecting || t.state == StateOpen {
		t.mu.Unlock()
		return nil
	}
	t.state = StateConnecting
	t.mu.Unlock()

	rawURL, err := StreamURL(t.baseURL, t.token())
	if err != nil {
		t.setClosed()
		return err
	}

	conn, err := t.dialer.Dial(ctx, rawURL)
	if err != nil {
		t.setClosed()
		t.logger.Warn("connect failed", "error", err)
		return fmt.Errorf("dialing chat stream: %w", err)
	}

	t.mu.Lock()
	t.conn = conn
	t.state = StateOpen
	t.gen++
	gen := t.gen
	t.mu.Unlock()

	go t.readLoop(conn, gen)

	// Flush queued payloads in FIFO order, including any that were queued
	// while the flush was in progress. On write failure, everything not yet
	// written (including the failed payload) goes back to the front.
	for {
		t.mu.Lock()
		pending := t.queue
		t.queue = nil
		t.mu.Unlock()
		if len(pending) == 0 {
			return nil
		}

		for i, data := range pending {
			if err := t.write(conn, data); err != nil {
				t.logger.Warn("flush interrupted", "error", err, "remaining", len(pending)-i)
				t.mu.Lock()
				if t.gen == gen {
					t.queue = append(append([][]byte(nil), pending[i:]...), t.queue...)
					t.dropConnLocked()
				}
				t.mu.Unlock()
				return fmt.Errorf("flushing queued payload: %w", err)
			}
		}
	}
}

// Send writes the payload immediately if the connection is open. Otherwise
// the payload is appended to the outbound queue and, if the connection is
// closed or was never opened, a reconnect is triggered in the background.
func (t *Transport) Send(payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding payload: %w", err)
	}

	t.mu.Lock()
	if t.state == StateOpen {
		conn := t.conn
		gen := t.gen
		t.mu.Unlock()
		if err := t.write(conn, data); err != nil {
			t.mu.Lock()
			if t.gen == gen {
				t.dropConnLocked()
			}
			t.mu.Unlock()
			return fmt.Errorf("writing frame: %w", err)
		}
		return nil
	}

	t.queue = append(t.queue, data)
	needsConnect := t.state == StateClosed || t.state == StateIdle
	t.mu.Unlock()

	if needsConnect {
		go func() {
			// Error already logged inside Connect; queued payload is delivered
			// on the next successful connect.
			_ = t.Connect(context.Background())
		}()
	}
	return nil
}

// write sends one text frame under the write mutex.
func (t *Transport) write(conn Conn, data []byte) error {
	t.wmu.Lock()
	defer t.wmu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, data)
}

// Disconnect closes the live connection and discards any queued-but-unsent
// payloads. There is no delivery guarantee across a full teardown.
func (t *Transport) Disconnect() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != nil {
		_ = t.conn.Close()
	}
	t.conn = nil
	t.state = StateClosed
	t.queue = nil
}

func (t *Transport) setClosed() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = StateClosed
}

// dropConnLocked demotes the transport to StateClosed after a connection
// failure. Caller holds t.mu.
func (t *Transport) dropConnLocked() {
	if t.conn != nil {
		_ = t.conn.Close()
	}
	t.conn = nil
	t.state = StateClosed
}

// readLoop reads frames until the connection fails. Malformed frames are
// logged and dropped without notifying listeners. Connection errors are
// observed for diagnostics only; higher layers learn of failure through
// their own timeout.
func (t *Transport) readLoop(conn Conn, gen int) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.mu.Lock()
			if t.gen == gen {
				t.dropConnLocked()
			}
			t.mu.Unlock()
			t.logger.Debug("connection closed", "error", err)
			return
		}

		frame, err := wire.Decode(data)
		if err != nil {
			t.logger.Warn("dropping malformed frame", "error", err)
			continue
		}

		t.mu.Lock()
		targets := make([]Handler, len(t.listeners))
		for i, l := range t.listeners {
			targets[i] = l.fn
		}
		t.mu.Unlock()

		for _, fn := range targets {
			fn(frame)
		}
	}
}
