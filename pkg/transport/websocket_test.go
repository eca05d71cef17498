package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"nhooyr.io/websocket"
)

// echoServer accepts one socket, checks the header and echoes every frame.
// Sending "bye" makes it close normally; "crash" makes it close with an error status.
func echoServer(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Api-Key") != "secret" {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("websocket accept: %v", err)
			return
		}
		ctx := r.Context()
		for {
			typ, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			switch string(data) {
			case "bye":
				conn.Close(websocket.StatusNormalClosure, "")
				return
			case "crash":
				conn.Close(websocket.StatusInternalError, "server fault")
				return
			}
			if err := conn.Write(ctx, typ, data); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func openSocket(t *testing.T, url string) *WebSocketTransport {
	t.Helper()
	tr := NewWebSocketTransport(url, map[string]string{"X-Api-Key": "secret"})
	if err := tr.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { tr.Close() })
	return tr
}

func TestWebSocketTransport_RoundTrip(t *testing.T) {
	tr := openSocket(t, echoServer(t))

	if err := tr.Write(context.Background(), []byte(`{"jsonrpc":"2.0","method":"ping","id":1}`)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got := recv(t, tr)
	if got.Type != TMsgData || string(got.Payload) != `{"jsonrpc":"2.0","method":"ping","id":1}` {
		t.Errorf("got %+v", got)
	}
}

func TestWebSocketTransport_NormalClosureHasNoError(t *testing.T) {
	tr := openSocket(t, echoServer(t))

	if err := tr.Write(context.Background(), []byte("bye")); err != nil {
		t.Fatal(err)
	}
	for msg := range tr.ReadMessages() {
		if msg.Type == TMsgError {
			t.Errorf("unexpected error on normal closure: %v", msg.Error)
		}
	}
	if tr.IsReady() {
		t.Error("IsReady() = true after server closed")
	}
}

func TestWebSocketTransport_AbnormalClosureReported(t *testing.T) {
	tr := openSocket(t, echoServer(t))

	if err := tr.Write(context.Background(), []byte("crash")); err != nil {
		t.Fatal(err)
	}
	got := recv(t, tr)
	if got.Type != TMsgError {
		t.Fatalf("Type = %q, want error", got.Type)
	}
	if websocket.CloseStatus(got.Error) != websocket.StatusInternalError {
		t.Errorf("close status = %v", websocket.CloseStatus(got.Error))
	}
	waitClosed(t, tr)
}

func TestWebSocketTransport_DialRejected(t *testing.T) {
	url := echoServer(t)
	tr := NewWebSocketTransport(url, nil)
	if err := tr.Open(context.Background()); err == nil {
		t.Fatal("expected dial error without api key")
	}
	waitClosed(t, tr)
}

func TestWebSocketTransport_WriteAfterClose(t *testing.T) {
	tr := openSocket(t, echoServer(t))
	tr.Close()

	if err := tr.Write(context.Background(), []byte(`{}`)); !errors.Is(err, ErrTransportClosed) {
		t.Errorf("Write after Close = %v, want ErrTransportClosed", err)
	}
	waitClosed(t, tr)
}
