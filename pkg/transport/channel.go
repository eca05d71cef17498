package transport

import (
	"context"
)

// ChannelTransport is one end of an in-process connection. Documents written
// to one end are read from the other; closing either end ends the peer's
// stream once it has consumed what was already written.
type ChannelTransport struct {
	inbox

	incoming chan []byte
	peer     *ChannelTransport
}

// NewChannelPair returns two connected, unopened ends. bufferSize controls
// the capacity of each direction.
func NewChannelPair(bufferSize int) (*ChannelTransport, *ChannelTransport) {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	a := &ChannelTransport{inbox: newInbox(), incoming: make(chan []byte, bufferSize)}
	b := &ChannelTransport{inbox: newInbox(), incoming: make(chan []byte, bufferSize)}
	a.peer, b.peer = b, a
	return a, b
}

// Open starts delivering documents written by the peer.
func (t *ChannelTransport) Open(_ context.Context) error {
	if err := t.claimOpen(); err != nil {
		return err
	}
	if t.peer.isClosed() {
		t.finish()
		return ErrTransportClosed
	}
	t.ready.Store(true)
	go t.pump()
	return nil
}

func (t *ChannelTransport) pump() {
	defer t.finish()

	for {
		select {
		case data := <-t.incoming:
			if !t.deliver(TransportMessage{Type: TMsgData, Payload: data}) {
				return
			}
		case <-t.peer.doneCh:
			for {
				select {
				case data := <-t.incoming:
					if !t.deliver(TransportMessage{Type: TMsgData, Payload: data}) {
						return
					}
				default:
					return
				}
			}
		case <-t.doneCh:
			return
		}
	}
}

// Write hands data to the peer.
func (t *ChannelTransport) Write(ctx context.Context, data []byte) error {
	if !t.ready.Load() {
		return ErrTransportClosed
	}
	buf := make([]byte, len(data))
	copy(buf, data)

	select {
	case t.peer.incoming <- buf:
		return nil
	case <-t.peer.doneCh:
		return ErrTransportClosed
	case <-t.doneCh:
		return ErrTransportClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close shuts down this end. Safe to call multiple times.
func (t *ChannelTransport) Close() error {
	t.shutdown()
	return nil
}

// CanWrite is always true for channel pairs.
func (t *ChannelTransport) CanWrite() bool { return true }
