package transport

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
)

const (
	// maxScannerBuffer bounds one newline-delimited message (10 MB).
	maxScannerBuffer = 10 * 1024 * 1024
	// initialScannerBuffer is the initial buffer size for the scanner (64 KB).
	initialScannerBuffer = 64 * 1024
)

// StdioTransport exchanges newline-delimited JSON over an already-connected
// reader/writer pair, such as the current process's stdin/stdout or a
// net.Conn. PipeTransport is the variant that spawns its own child.
type StdioTransport struct {
	inbox

	reader io.Reader
	writer io.Writer

	writeMu sync.Mutex
}

// NewStdioTransport creates a transport reading from reader and writing to writer.
// Close closes whichever of the two implement io.Closer; the read channel
// ends once the reader returns.
func NewStdioTransport(reader io.Reader, writer io.Writer) *StdioTransport {
	return &StdioTransport{
		inbox:  newInbox(),
		reader: reader,
		writer: writer,
	}
}

// Open starts reading lines.
func (t *StdioTransport) Open(_ context.Context) error {
	if err := t.claimOpen(); err != nil {
		return err
	}
	t.ready.Store(true)
	go func() {
		defer t.finish()
		if err := readLines(t.reader, &t.inbox); err != nil {
			t.deliverError(err)
		}
	}()
	return nil
}

// readLines delivers each non-empty line of r as one TMsgData message.
// It returns when r is exhausted, the inbox is shut down, or reading fails.
func readLines(r io.Reader, b *inbox) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, initialScannerBuffer), maxScannerBuffer)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue // skip empty lines
		}
		// the scanner reuses its buffer
		payload := make([]byte, len(line))
		copy(payload, line)
		if !b.deliver(TransportMessage{Type: TMsgData, Payload: payload}) {
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read lines: %w", err)
	}
	return nil
}

// Write sends data as a single line. Thread-safe via mutex.
func (t *StdioTransport) Write(_ context.Context, data []byte) error {
	if !t.ready.Load() {
		return ErrTransportClosed
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	return writeLine(t.writer, data)
}

// writeLine writes data plus a newline in a single call so concurrent
// writers on the same pipe never interleave partial lines.
func writeLine(w io.Writer, data []byte) error {
	line := make([]byte, 0, len(data)+1)
	line = append(line, data...)
	line = append(line, '\n')
	_, err := w.Write(line)
	return err
}

// Close shuts down the transport. Safe to call multiple times.
func (t *StdioTransport) Close() error {
	if !t.shutdown() {
		return nil
	}
	var err error
	if c, ok := t.writer.(io.Closer); ok {
		err = c.Close()
	}
	if c, ok := t.reader.(io.Closer); ok {
		if cerr := c.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// CanWrite is always true.
func (t *StdioTransport) CanWrite() bool { return true }
