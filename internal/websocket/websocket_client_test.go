package websocket

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"delaycast/internal/model"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testServer is a minimal WebSocket server whose per-connection behavior is
// supplied by each test.
type testServer struct {
	server   *httptest.Server
	upgrader websocket.Upgrader

	mu       sync.Mutex
	received [][]byte
	conns    []*websocket.Conn

	pingCount atomic.Int64
	reject    atomic.Bool
	handler   func(conn *websocket.Conn)
}

func newTestServer(handler func(conn *websocket.Conn)) *testServer {
	ts := &testServer{
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		handler:  handler,
	}
	ts.server = httptest.NewServer(http.HandlerFunc(ts.serve))
	return ts
}

func (ts *testServer) serve(w http.ResponseWriter, r *http.Request) {
	if ts.reject.Load() {
		w.WriteHeader(http.StatusForbidden)
		return
	}

	conn, err := ts.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	ts.mu.Lock()
	ts.conns = append(ts.conns, conn)
	ts.mu.Unlock()

	conn.SetPingHandler(func(data string) error {
		ts.pingCount.Add(1)
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})

	if ts.handler != nil {
		ts.handler(conn)
		return
	}
	ts.recordUntilClosed(conn)
}

func (ts *testServer) recordUntilClosed(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		ts.mu.Lock()
		ts.received = append(ts.received, data)
		ts.mu.Unlock()
	}
}

func (ts *testServer) messages() []string {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	out := make([]string, 0, len(ts.received))
	for _, m := range ts.received {
		out = append(out, string(m))
	}
	return out
}

func (ts *testServer) URL() string {
	return "ws" + strings.TrimPrefix(ts.server.URL, "http")
}

func (ts *testServer) Close() {
	ts.mu.Lock()
	for _, c := range ts.conns {
		c.Close()
	}
	ts.mu.Unlock()
	ts.server.Close()
}

// echoHandler emits one update per frame carrying the frame text as token id.
func echoHandler(data []byte, out chan<- model.BookUpdate) error {
	out <- model.BookUpdate{TokenID: string(data)}
	return nil
}

func Test_NewWebsocketClient_Validation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{name: "Missing endpoint", cfg: Config{Handler: echoHandler}, wantErr: "endpoint URL is required"},
		{name: "Missing handler", cfg: Config{Endpoint: "ws://localhost:1"}, wantErr: "message handler is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := NewWebsocketClient(context.Background(), tt.cfg)
			require.Error(t, err)
			assert.Nil(t, client)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func Test_NewWebsocketClient_DialFailure(t *testing.T) {
	ts := newTestServer(nil)
	defer ts.Close()
	ts.reject.Store(true)

	client, err := NewWebsocketClient(context.Background(), Config{Endpoint: ts.URL(), Handler: echoHandler})
	require.Error(t, err)
	assert.Nil(t, client)
	assert.Contains(t, err.Error(), "initial dial failed")
}

func Test_Client_SendsSubscriptionsAndReceives(t *testing.T) {
	ts := newTestServer(func(conn *websocket.Conn) {
		_, sub, err := conn.ReadMessage()
		if err != nil {
			return
		}
		conn.WriteMessage(websocket.TextMessage, []byte("ack:"+string(sub)))
		conn.WriteMessage(websocket.TextMessage, []byte("second"))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer ts.Close()

	client, err := NewWebsocketClient(context.Background(), Config{
		Endpoint:             ts.URL(),
		Handler:              echoHandler,
		SubscriptionMessages: [][]byte{[]byte(`{"type":"market"}`)},
	})
	require.NoError(t, err)
	defer client.Close()

	var got []string
	timeout := time.After(2 * time.Second)
	for len(got) < 2 {
		select {
		case u := <-client.Updates:
			got = append(got, u.TokenID)
		case <-timeout:
			t.Fatalf("timed out, got %v", got)
		}
	}
	assert.Equal(t, []string{`ack:{"type":"market"}`, "second"}, got)
}

func Test_Client_TextKeepalive(t *testing.T) {
	ts := newTestServer(func(conn *websocket.Conn) {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if string(data) == "PING" {
				conn.WriteMessage(websocket.TextMessage, []byte("PONG"))
			}
		}
	})
	defer ts.Close()

	var handled atomic.Int64
	client, err := NewWebsocketClient(context.Background(), Config{
		Endpoint:         ts.URL(),
		PingPeriod:       20 * time.Millisecond,
		KeepaliveMessage: []byte("PING"),
		KeepaliveReply:   []byte("PONG"),
		Handler: func([]byte, chan<- model.BookUpdate) error {
			handled.Add(1)
			return nil
		},
	})
	require.NoError(t, err)
	defer client.Close()

	time.Sleep(150 * time.Millisecond)
	assert.Zero(t, handled.Load(), "keepalive replies must not reach the handler")
	assert.Zero(t, ts.pingCount.Load(), "text keepalive replaces control pings")
}

func Test_Client_ControlPing(t *testing.T) {
	ts := newTestServer(nil)
	defer ts.Close()

	client, err := NewWebsocketClient(context.Background(), Config{
		Endpoint:   ts.URL(),
		Handler:    echoHandler,
		PingPeriod: 20 * time.Millisecond,
	})
	require.NoError(t, err)
	defer client.Close()

	assert.Eventually(t, func() bool { return ts.pingCount.Load() > 0 }, 2*time.Second, 10*time.Millisecond)
}

func Test_Client_HandlerErrorAndPanicDoNotStopLoop(t *testing.T) {
	ts := newTestServer(func(conn *websocket.Conn) {
		for _, m := range []string{"error", "panic", "ok"} {
			conn.WriteMessage(websocket.TextMessage, []byte(m))
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer ts.Close()

	client, err := NewWebsocketClient(context.Background(), Config{
		Endpoint: ts.URL(),
		Handler: func(data []byte, out chan<- model.BookUpdate) error {
			switch string(data) {
			case "error":
				return errors.New("bad frame")
			case "panic":
				panic("boom")
			}
			out <- model.BookUpdate{TokenID: string(data)}
			return nil
		},
	})
	require.NoError(t, err)
	defer client.Close()

	select {
	case u := <-client.Updates:
		assert.Equal(t, "ok", u.TokenID)
	case <-time.After(2 * time.Second):
		t.Fatal("read loop stopped after handler failure")
	}
}

func Test_Client_ServerCloseClosesUpdates(t *testing.T) {
	ts := newTestServer(func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "bye"))
		conn.Close()
	})
	defer ts.Close()

	client, err := NewWebsocketClient(context.Background(), Config{Endpoint: ts.URL(), Handler: echoHandler})
	require.NoError(t, err)
	defer client.Close()

	select {
	case <-client.DisconnectChan():
	case <-time.After(2 * time.Second):
		t.Fatal("disconnect not signalled")
	}

	_, open := <-client.Updates
	assert.False(t, open)

	select {
	case err := <-client.ErrChan():
		assert.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("no error delivered")
	}
}

func Test_Client_ContextCancelShutsDown(t *testing.T) {
	ts := newTestServer(nil)
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	client, err := NewWebsocketClient(ctx, Config{Endpoint: ts.URL(), Handler: echoHandler})
	require.NoError(t, err)

	cancel()

	select {
	case <-client.DisconnectChan():
	case <-time.After(3 * time.Second):
		t.Fatal("client did not shut down on cancel")
	}

	// idempotent
	client.Close()
	client.Close()
}

func Test_Client_CloseSendsNoFurtherMessages(t *testing.T) {
	ts := newTestServer(nil)
	defer ts.Close()

	client, err := NewWebsocketClient(context.Background(), Config{
		Endpoint:             ts.URL(),
		Handler:              echoHandler,
		SubscriptionMessages: [][]byte{[]byte("a"), []byte("b")},
	})
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return len(ts.messages()) == 2 }, 2*time.Second, 10*time.Millisecond)
	client.Close()
	assert.Equal(t, []string{"a", "b"}, ts.messages())
}
