package connection

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// mockWSServer creates a test WebSocket server driven by handler.
func mockWSServer(t *testing.T, handler func(*websocket.Conn)) *httptest.Server {
	t.Helper()

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer conn.Close()
		handler(conn)
	}))
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func testClientConfig(url string) ClientConfig {
	return ClientConfig{
		URL:              url,
		HandshakeTimeout: 2 * time.Second,
		WriteTimeout:     time.Second,
		BufferSize:       100,
	}
}

func TestClient_ConnectSendReceive(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		// Echo frames back
		for {
			mt, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			conn.WriteMessage(mt, msg)
		}
	})
	defer server.Close()

	c := NewClient(testClientConfig(wsURL(server)), nil)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer c.Close()

	if !c.IsConnected() {
		t.Error("IsConnected() = false after Connect")
	}

	want := `{"requestId":"r1","action":"generate","prompt":"Hi","stream":true}`
	if err := c.Send([]byte(want)); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	select {
	case got := <-c.Messages():
		if string(got) != want {
			t.Errorf("echoed frame = %s, want %s", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for echoed frame")
	}
}

func TestClient_ConnectUnreachable(t *testing.T) {
	c := NewClient(testClientConfig("ws://127.0.0.1:1"), nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := c.Connect(ctx); err == nil {
		t.Fatal("Connect to unreachable address succeeded")
	}
}

func TestClient_SendWhenDisconnected(t *testing.T) {
	c := NewClient(testClientConfig("ws://127.0.0.1:1"), nil)

	if err := c.Send([]byte("x")); err != ErrNotConnected {
		t.Errorf("Send err = %v, want ErrNotConnected", err)
	}
}

func TestClient_ServerCloseSurfacesError(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		// Close immediately after accepting
	})
	defer server.Close()

	c := NewClient(testClientConfig(wsURL(server)), nil)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer c.Close()

	select {
	case <-c.Errors():
	case <-time.After(2 * time.Second):
		t.Fatal("no error surfaced after server closed the connection")
	}

	if c.IsConnected() {
		t.Error("IsConnected() = true after server close")
	}
}

func TestClient_ConnectAfterClose(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	c := NewClient(testClientConfig(wsURL(server)), nil)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := c.Connect(context.Background()); err != ErrAlreadyClosed {
		t.Errorf("Connect after Close err = %v, want ErrAlreadyClosed", err)
	}
}
