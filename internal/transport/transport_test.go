// ABOUTME: Tests for Transport connection lifecycle, outbound queue and fan-out.
// ABOUTME: Uses fake dialers/conns; covers flush order, mid-flush requeue, listeners.

package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prepdesk/prepchat/internal/wire"
)

type fakeConn struct {
	mu        sync.Mutex
	writes    [][]byte
	failAfter int // fail writes once this many have succeeded; -1 = never
	reads     chan []byte
	closed    bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{failAfter: -1, reads: make(chan []byte, 16)}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	data, ok := <-c.reads
	if !ok {
		return 0, nil, io.EOF
	}
	return 1, data, nil
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failAfter >= 0 && len(c.writes) >= c.failAfter {
		return errors.New("broken pipe")
	}
	c.writes = append(c.writes, append([]byte(nil), data...))
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.reads)
	}
	return nil
}

func (c *fakeConn) written() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.writes))
	for i, w := range c.writes {
		out[i] = string(w)
	}
	return out
}

// overlapConn tracks how many goroutines are inside WriteMessage at once and
// holds the first write open until released.
type overlapConn struct {
	mu       sync.Mutex
	writes   [][]byte
	inFlight int
	maxSeen  int
	once     sync.Once
	entered  chan struct{} // closed when the first write is in progress
	release  chan struct{} // the first write blocks until this is closed
	reads    chan []byte
}

func newOverlapConn() *overlapConn {
	return &overlapConn{
		entered: make(chan struct{}),
		release: make(chan struct{}),
		reads:   make(chan []byte, 1),
	}
}

func (c *overlapConn) ReadMessage() (int, []byte, error) {
	data, ok := <-c.reads
	if !ok {
		return 0, nil, io.EOF
	}
	return 1, data, nil
}

func (c *overlapConn) WriteMessage(_ int, data []byte) error {
	c.mu.Lock()
	c.inFlight++
	if c.inFlight > c.maxSeen {
		c.maxSeen = c.inFlight
	}
	first := false
	c.once.Do(func() { first = true })
	c.mu.Unlock()

	if first {
		close(c.entered)
		<-c.release
	}

	c.mu.Lock()
	c.writes = append(c.writes, append([]byte(nil), data...))
	c.inFlight--
	c.mu.Unlock()
	return nil
}

func (c *overlapConn) Close() error { return nil }

// fakeDialer returns scripted results in order, repeating the last one.
type fakeDialer struct {
	mu      sync.Mutex
	results []dialResult
	dials   int
}

type dialResult struct {
	conn Conn
	err  error
}

func (d *fakeDialer) Dial(_ context.Context, _ string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	i := d.dials - 1
	if i >= len(d.results) {
		i = len(d.results) - 1
	}
	r := d.results[i]
	return r.conn, r.err
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func newTransport(d Dialer) *Transport {
	return New("https://api.example.com", func() string { return "tok-1" }, nil, WithDialer(d))
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return string(data)
}

func TestStreamURL(t *testing.T) {
	tests := []struct {
		name    string
		base    string
		want    string
		wantErr bool
	}{
		{name: "https becomes wss", base: "https://api.example.com", want: "wss://api.example.com/api/chat/ws?token=tok-1"},
		{name: "http becomes ws", base: "http://localhost:8080", want: "ws://localhost:8080/api/chat/ws?token=tok-1"},
		{name: "ws stays ws", base: "ws://localhost:8080", want: "ws://localhost:8080/api/chat/ws?token=tok-1"},
		{name: "unsupported scheme", base: "ftp://example.com", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := StreamURL(tt.base, "tok-1")
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConnect_NoOpWhenAlreadyOpen(t *testing.T) {
	conn := newFakeConn()
	d := &fakeDialer{results: []dialResult{{conn: conn}}}
	tr := newTransport(d)

	require.NoError(t, tr.Connect(context.Background()))
	require.NoError(t, tr.Connect(context.Background()))

	assert.Equal(t, 1, d.dialCount())
	assert.Equal(t, StateOpen, tr.State())
	assert.True(t, tr.IsConnected())
}

func TestConnect_DialFailureClosesTransport(t *testing.T) {
	d := &fakeDialer{results: []dialResult{{err: errors.New("refused")}}}
	tr := newTransport(d)

	err := tr.Connect(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateClosed, tr.State())
	assert.False(t, tr.IsConnected())
}

func TestSend_WritesImmediatelyWhenOpen(t *testing.T) {
	conn := newFakeConn()
	d := &fakeDialer{results: []dialResult{{conn: conn}}}
	tr := newTransport(d)
	require.NoError(t, tr.Connect(context.Background()))

	req := wire.SendRequest{Message: "hello", ContextType: "general"}
	require.NoError(t, tr.Send(req))

	assert.Equal(t, []string{mustJSON(t, req)}, conn.written())
}

func TestSend_QueuesAndReconnectsWhenClosed(t *testing.T) {
	conn := newFakeConn()
	d := &fakeDialer{results: []dialResult{{err: errors.New("refused")}, {conn: conn}}}
	tr := newTransport(d)

	// First connect fails, leaving the transport closed.
	require.Error(t, tr.Connect(context.Background()))

	req := wire.SendRequest{Message: "queued", ContextType: "general"}
	require.NoError(t, tr.Send(req))

	// The background reconnect flushes the queue.
	require.Eventually(t, func() bool {
		return len(conn.written()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{mustJSON(t, req)}, conn.written())
	assert.Equal(t, StateOpen, tr.State())
}

func TestConnect_FlushesQueueInFIFOOrder(t *testing.T) {
	conn := newFakeConn()
	d := &fakeDialer{results: []dialResult{{conn: conn}}}
	tr := newTransport(d)

	tr.mu.Lock()
	tr.state = StateClosed
	tr.queue = [][]byte{[]byte(`"a"`), []byte(`"b"`), []byte(`"c"`)}
	tr.mu.Unlock()

	require.NoError(t, tr.Connect(context.Background()))
	assert.Equal(t, []string{`"a"`, `"b"`, `"c"`}, conn.written())
}

func TestConnect_RequeuesRemainderOnMidFlushDrop(t *testing.T) {
	conn1 := newFakeConn()
	conn1.failAfter = 1
	conn2 := newFakeConn()
	d := &fakeDialer{results: []dialResult{{conn: conn1}, {conn: conn2}}}
	tr := newTransport(d)

	tr.mu.Lock()
	tr.state = StateClosed
	tr.queue = [][]byte{[]byte(`"a"`), []byte(`"b"`), []byte(`"c"`)}
	tr.mu.Unlock()

	// First connect writes "a" then drops; "b" and "c" are re-queued.
	require.Error(t, tr.Connect(context.Background()))
	assert.Equal(t, []string{`"a"`}, conn1.written())
	assert.Equal(t, StateClosed, tr.State())

	// Second connect delivers the remainder in order.
	require.NoError(t, tr.Connect(context.Background()))
	assert.Equal(t, []string{`"b"`, `"c"`}, conn2.written())
}

func TestSend_SerializedWithQueueFlush(t *testing.T) {
	conn := newOverlapConn()
	d := &fakeDialer{results: []dialResult{{conn: conn}}}
	tr := newTransport(d)

	tr.mu.Lock()
	tr.state = StateClosed
	tr.queue = [][]byte{[]byte(`"queued"`)}
	tr.mu.Unlock()

	connectDone := make(chan error, 1)
	go func() { connectDone <- tr.Connect(context.Background()) }()

	// Wait until the flush is holding the connection's first write open. The
	// transport is already StateOpen at this point, so Send takes the direct
	// write path.
	select {
	case <-conn.entered:
	case <-time.After(time.Second):
		t.Fatal("flush never reached the connection")
	}
	require.Equal(t, StateOpen, tr.State())

	sendDone := make(chan error, 1)
	go func() { sendDone <- tr.Send("direct") }()

	// Give the direct send a window to overlap the held flush write before
	// releasing it.
	time.Sleep(20 * time.Millisecond)
	close(conn.release)

	require.NoError(t, <-connectDone)
	require.NoError(t, <-sendDone)

	conn.mu.Lock()
	defer conn.mu.Unlock()
	assert.Equal(t, 1, conn.maxSeen, "writes overlapped on one connection")
	assert.Equal(t, [][]byte{[]byte(`"queued"`), []byte(`"direct"`)}, conn.writes)
}

func TestOnFrame_ListenersReceiveInRegistrationOrder(t *testing.T) {
	conn := newFakeConn()
	d := &fakeDialer{results: []dialResult{{conn: conn}}}
	tr := newTransport(d)

	var mu sync.Mutex
	var order []string
	tr.OnFrame(func(f *wire.Frame) {
		mu.Lock()
		order = append(order, "first:"+f.Content)
		mu.Unlock()
	})
	tr.OnFrame(func(f *wire.Frame) {
		mu.Lock()
		order = append(order, "second:"+f.Content)
		mu.Unlock()
	})

	require.NoError(t, tr.Connect(context.Background()))
	conn.reads <- []byte(`{"type":"delta","content":"x"}`)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 2
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"first:x", "second:x"}, order)
}

func TestOnFrame_DetachStopsDelivery(t *testing.T) {
	conn := newFakeConn()
	d := &fakeDialer{results: []dialResult{{conn: conn}}}
	tr := newTransport(d)

	var mu sync.Mutex
	var got []string
	detach := tr.OnFrame(func(f *wire.Frame) {
		mu.Lock()
		got = append(got, "detached:"+f.Content)
		mu.Unlock()
	})
	tr.OnFrame(func(f *wire.Frame) {
		mu.Lock()
		got = append(got, "kept:"+f.Content)
		mu.Unlock()
	})
	detach()

	require.NoError(t, tr.Connect(context.Background()))
	conn.reads <- []byte(`{"type":"delta","content":"x"}`)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"kept:x"}, got)
}

func TestReadLoop_MalformedFramesAreDropped(t *testing.T) {
	conn := newFakeConn()
	d := &fakeDialer{results: []dialResult{{conn: conn}}}
	tr := newTransport(d)

	var mu sync.Mutex
	var got []string
	tr.OnFrame(func(f *wire.Frame) {
		mu.Lock()
		got = append(got, f.Content)
		mu.Unlock()
	})

	require.NoError(t, tr.Connect(context.Background()))
	conn.reads <- []byte(`{not json`)
	conn.reads <- []byte(`{"type":"teleport"}`)
	conn.reads <- []byte(`{"type":"delta","content":"ok"}`)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"ok"}, got)
}

func TestReadLoop_ConnectionDropMovesToClosed(t *testing.T) {
	conn := newFakeConn()
	d := &fakeDialer{results: []dialResult{{conn: conn}}}
	tr := newTransport(d)

	require.NoError(t, tr.Connect(context.Background()))
	_ = conn.Close()

	require.Eventually(t, func() bool {
		return tr.State() == StateClosed
	}, time.Second, 5*time.Millisecond)
}

func TestDisconnect_DiscardsQueuedPayloads(t *testing.T) {
	d := &fakeDialer{results: []dialResult{{err: errors.New("refused")}}}
	tr := newTransport(d)

	tr.mu.Lock()
	tr.queue = [][]byte{[]byte(`"a"`)}
	tr.mu.Unlock()

	tr.Disconnect()

	tr.mu.Lock()
	defer tr.mu.Unlock()
	assert.Empty(t, tr.queue)
	assert.Equal(t, StateClosed, tr.state)
}
