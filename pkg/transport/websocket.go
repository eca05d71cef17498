package transport

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"nhooyr.io/websocket"
)

// maxFrameSize bounds a single inbound frame.
const maxFrameSize = 10 * 1024 * 1024

// WebSocketTransport talks to a server over a WebSocket connection.
// Each text or binary frame carries one JSON document.
type WebSocketTransport struct {
	inbox

	url     string
	headers map[string]string

	mu     sync.Mutex
	conn   *websocket.Conn
	cancel context.CancelFunc

	writeMu sync.Mutex
}

// NewWebSocketTransport returns an unopened transport for url. Headers are
// sent verbatim with the upgrade request.
func NewWebSocketTransport(url string, headers map[string]string) *WebSocketTransport {
	return &WebSocketTransport{
		inbox:   newInbox(),
		url:     url,
		headers: headers,
	}
}

// Open dials the server. ctx bounds the dial only.
func (t *WebSocketTransport) Open(ctx context.Context) error {
	if err := t.claimOpen(); err != nil {
		return err
	}

	h := http.Header{}
	for k, v := range t.headers {
		h.Set(k, v)
	}
	conn, _, err := websocket.Dial(ctx, t.url, &websocket.DialOptions{HTTPHeader: h})
	if err != nil {
		t.finish()
		return fmt.Errorf("websocket dial %s: %w", t.url, err)
	}
	conn.SetReadLimit(maxFrameSize)

	readCtx, cancel := context.WithCancel(context.Background())

	t.mu.Lock()
	if t.isClosed() {
		t.mu.Unlock()
		cancel()
		conn.Close(websocket.StatusNormalClosure, "")
		t.finish()
		return ErrTransportClosed
	}
	t.conn = conn
	t.cancel = cancel
	t.mu.Unlock()

	t.ready.Store(true)
	go t.readLoop(readCtx, conn)
	return nil
}

// readLoop reads frames and sends them on inputCh.
func (t *WebSocketTransport) readLoop(ctx context.Context, conn *websocket.Conn) {
	defer t.finish()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
				return
			}
			t.deliverError(fmt.Errorf("websocket read: %w", err))
			return
		}
		if !t.deliver(TransportMessage{Type: TMsgData, Payload: data}) {
			return
		}
	}
}

// Write sends data as a text frame.
func (t *WebSocketTransport) Write(ctx context.Context, data []byte) error {
	if !t.ready.Load() {
		return ErrTransportClosed
	}

	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	return conn.Write(ctx, websocket.MessageText, data)
}

// Close sends a close frame and shuts down the transport.
// Safe to call multiple times.
func (t *WebSocketTransport) Close() error {
	if !t.shutdown() {
		return nil
	}

	t.mu.Lock()
	conn, cancel := t.conn, t.cancel
	t.mu.Unlock()

	if conn != nil {
		conn.Close(websocket.StatusNormalClosure, "")
	}
	if cancel != nil {
		cancel()
	}
	return nil
}

// CanWrite is always true for sockets.
func (t *WebSocketTransport) CanWrite() bool { return true }
