// Package transport carries raw JSON-RPC documents between the connection
// manager and an MCP server. Implementations include PipeTransport (child
// process stdin/stdout), StreamTransport (server-sent events),
// WebSocketTransport and ChannelTransport (in-process).
package transport

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrTransportClosed is returned when operations are attempted on a closed transport.
var ErrTransportClosed = errors.New("transport closed")

// ErrWriteUnsupported is returned by transports that only receive.
var ErrWriteUnsupported = errors.New("transport does not support sending")

// ErrAlreadyOpen is returned when Open is called twice on the same transport.
var ErrAlreadyOpen = errors.New("transport already open")

// TransportMessageType identifies the type of a transport message.
type TransportMessageType string

const (
	TMsgData  TransportMessageType = "data"  // one complete JSON document
	TMsgError TransportMessageType = "error" // non-fatal diagnostic
)

// TransportMessage is the envelope for everything flowing out of a Transport.
type TransportMessage struct {
	Type    TransportMessageType
	Payload []byte // raw line or frame for TMsgData
	Error   error  // non-nil for TMsgError
}

// Transport is the byte-level contract every server connection sits on.
// A Transport is single-use: once closed (or once its stream ends) a new
// one must be created.
type Transport interface {
	// Open establishes the underlying channel (spawn, dial, GET).
	Open(ctx context.Context) error

	// Write sends one JSON document. Returns ErrTransportClosed if the
	// transport is not open and ErrWriteUnsupported for receive-only transports.
	Write(ctx context.Context, data []byte) error

	// Close shuts down the transport. Safe to call multiple times.
	Close() error

	// IsReady returns true if the transport is accepting writes.
	IsReady() bool

	// CanWrite reports whether Write can ever succeed on this transport.
	CanWrite() bool

	// ReadMessages returns the inbound channel. It is closed exactly once,
	// when the transport ends for any reason.
	ReadMessages() <-chan TransportMessage
}

// inbox is the read-side plumbing shared by the transports. deliver and
// finish are only ever called by the goroutine that owns the stream, or by
// Close/Open when no such goroutine was started.
type inbox struct {
	inputCh    chan TransportMessage
	doneCh     chan struct{}
	ready      atomic.Bool
	started    atomic.Bool
	closeOnce  sync.Once
	finishOnce sync.Once
}

func newInbox() inbox {
	return inbox{
		inputCh: make(chan TransportMessage, 64),
		doneCh:  make(chan struct{}),
	}
}

// claimOpen marks the transport as started. It fails if Open already ran
// or Close got there first.
func (b *inbox) claimOpen() error {
	if b.started.CompareAndSwap(false, true) {
		return nil
	}
	if b.isClosed() {
		return ErrTransportClosed
	}
	return ErrAlreadyOpen
}

// shutdown closes doneCh once and finishes the stream if nobody started it.
// It reports whether this call did the closing.
func (b *inbox) shutdown() bool {
	first := false
	b.closeOnce.Do(func() {
		first = true
		b.ready.Store(false)
		close(b.doneCh)
		if b.started.CompareAndSwap(false, true) {
			b.finish()
		}
	})
	return first
}

func (b *inbox) isClosed() bool {
	select {
	case <-b.doneCh:
		return true
	default:
		return false
	}
}

func (b *inbox) deliver(msg TransportMessage) bool {
	select {
	case b.inputCh <- msg:
		return true
	case <-b.doneCh:
		return false
	}
}

func (b *inbox) deliverError(err error) {
	if b.isClosed() {
		return
	}
	b.deliver(TransportMessage{Type: TMsgError, Error: err})
}

func (b *inbox) finish() {
	b.finishOnce.Do(func() {
		b.ready.Store(false)
		close(b.inputCh)
	})
}

// IsReady returns true if the transport is accepting writes.
func (b *inbox) IsReady() bool {
	return b.ready.Load()
}

// ReadMessages returns the inbound channel.
func (b *inbox) ReadMessages() <-chan TransportMessage {
	return b.inputCh
}
