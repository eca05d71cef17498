package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/tmaxmax/go-sse"
)

// StreamTransport receives server messages over a server-sent event stream.
// The stream itself is one-way; Write only works when a POST side channel
// is configured.
type StreamTransport struct {
	inbox

	url     string
	postURL string
	headers map[string]string
	client  *http.Client

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewStreamTransport returns an unopened transport reading from url.
// postURL may be empty, in which case the transport is receive-only.
// A nil client means http.DefaultClient.
func NewStreamTransport(url, postURL string, headers map[string]string, client *http.Client) *StreamTransport {
	if client == nil {
		client = http.DefaultClient
	}
	return &StreamTransport{
		inbox:   newInbox(),
		url:     url,
		postURL: postURL,
		headers: headers,
		client:  client,
	}
}

// Open issues the GET and starts reading events. ctx bounds the request
// until the response headers arrive; the stream itself lives until Close.
func (t *StreamTransport) Open(ctx context.Context) error {
	if err := t.claimOpen(); err != nil {
		return err
	}

	streamCtx, cancel := context.WithCancel(context.Background())
	stop := context.AfterFunc(ctx, cancel)

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, t.url, nil)
	if err != nil {
		stop()
		cancel()
		t.finish()
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	t.setHeaders(req)

	resp, err := t.client.Do(req)
	stopped := stop()
	if err != nil {
		cancel()
		t.finish()
		return fmt.Errorf("connect to event stream: %w", err)
	}
	if !stopped {
		// ctx ended while the headers were in flight
		resp.Body.Close()
		cancel()
		t.finish()
		return ctx.Err()
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		t.finish()
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	t.mu.Lock()
	if t.isClosed() {
		t.mu.Unlock()
		resp.Body.Close()
		cancel()
		t.finish()
		return ErrTransportClosed
	}
	t.cancel = cancel
	t.mu.Unlock()

	t.ready.Store(true)
	go t.readLoop(resp.Body)
	return nil
}

func (t *StreamTransport) readLoop(body io.ReadCloser) {
	defer t.finish()
	defer body.Close()

	cfg := &sse.ReadConfig{MaxEventSize: maxFrameSize}
	for ev, err := range sse.Read(body, cfg) {
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				t.deliverError(fmt.Errorf("read event stream: %w", err))
			}
			return
		}

		switch ev.Type {
		case "", "message":
			if !t.deliver(TransportMessage{Type: TMsgData, Payload: []byte(ev.Data)}) {
				return
			}
		default:
			// endpoint announcements and custom events carry no JSON-RPC payload
		}
	}
}

// Write posts data to the side channel.
func (t *StreamTransport) Write(ctx context.Context, data []byte) error {
	if t.postURL == "" {
		return ErrWriteUnsupported
	}
	if !t.ready.Load() {
		return ErrTransportClosed
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.postURL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	t.setHeaders(req)

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("post message: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusAccepted, http.StatusNoContent:
		return nil
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("post message: HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}
}

// Close cancels the stream. Safe to call multiple times.
func (t *StreamTransport) Close() error {
	if !t.shutdown() {
		return nil
	}
	t.mu.Lock()
	cancel := t.cancel
	t.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return nil
}

// CanWrite reports whether a POST side channel is configured.
func (t *StreamTransport) CanWrite() bool { return t.postURL != "" }

func (t *StreamTransport) setHeaders(req *http.Request) {
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}
}
