package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

const (
	// stderrTailSize is how much child stderr is kept for exit diagnostics.
	stderrTailSize = 8 * 1024
	killTimeout    = 5 * time.Second
	// exitGrace is how long a child that closed stdout gets to exit before
	// the stream ends without its exit status.
	exitGrace = 500 * time.Millisecond
)

// ErrOutputClosed reports that the child closed stdout but kept running.
// The transport ends and the child is terminated.
var ErrOutputClosed = errors.New("process closed stdout")

// ExitError reports that the child process behind a PipeTransport exited.
type ExitError struct {
	Code   int
	Stderr string // tail of the child's stderr
	Err    error
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("process exited with code %d", e.Code)
	if e.Err != nil && e.Code < 0 {
		msg = "process exited: " + e.Err.Error()
	}
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

func (e *ExitError) Unwrap() error { return e.Err }

// PipeTransport communicates with a child process via newline-delimited
// JSON over its stdin/stdout.
type PipeTransport struct {
	inbox

	command string
	args    []string
	env     map[string]string
	dir     string

	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stderr *tailBuffer

	writeMu sync.Mutex // serializes writes to stdin

	waitOnce sync.Once
	exited   chan struct{} // closed once cmd.Wait returns
	waitErr  error
}

// NewPipeTransport returns an unopened transport for command. The child
// inherits the parent environment plus env.
func NewPipeTransport(command string, args []string, env map[string]string, dir string) *PipeTransport {
	return &PipeTransport{
		inbox:   newInbox(),
		command: command,
		args:    args,
		env:     env,
		dir:     dir,
		stderr:  &tailBuffer{max: stderrTailSize},
		exited:  make(chan struct{}),
	}
}

// Open spawns the child process. The process is not tied to ctx.
func (t *PipeTransport) Open(_ context.Context) error {
	if err := t.claimOpen(); err != nil {
		return err
	}

	cmd := exec.Command(t.command, t.args...)
	cmd.Dir = t.dir
	cmd.Env = os.Environ()
	for k, v := range t.env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}
	cmd.Stderr = t.stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		t.finish()
		return fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		t.finish()
		return fmt.Errorf("stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		t.finish()
		return fmt.Errorf("start process: %w", err)
	}

	t.mu.Lock()
	t.cmd = cmd
	t.stdin = stdin
	closed := t.isClosed()
	t.mu.Unlock()

	go t.readLoop(stdout)

	if closed {
		// Close ran while we were spawning; let it finish the job.
		t.terminate()
		return ErrTransportClosed
	}
	t.ready.Store(true)
	return nil
}

// readLoop reads lines from stdout until the child closes it, then reports
// the exit status. The stream ends at stdout EOF whether or not the child
// exits.
func (t *PipeTransport) readLoop(stdout io.Reader) {
	defer t.finish()

	scanErr := readLines(stdout, &t.inbox)
	if t.isClosed() {
		return
	}

	t.ready.Store(false)
	go t.wait()
	select {
	case <-t.exited:
	case <-time.After(exitGrace):
	}

	if t.isClosed() {
		return
	}
	if scanErr != nil {
		t.deliverError(scanErr)
	}
	select {
	case <-t.exited:
		t.deliverError(t.exitError())
	default:
		t.deliverError(ErrOutputClosed)
		go t.Close()
	}
}

func (t *PipeTransport) wait() {
	t.waitOnce.Do(func() {
		t.mu.Lock()
		cmd := t.cmd
		t.mu.Unlock()
		t.waitErr = cmd.Wait()
		close(t.exited)
	})
}

func (t *PipeTransport) exitError() *ExitError {
	e := &ExitError{Stderr: t.stderr.String(), Err: t.waitErr}
	var ee *exec.ExitError
	switch {
	case t.waitErr == nil:
		e.Code = 0
	case errors.As(t.waitErr, &ee):
		e.Code = ee.ExitCode()
	default:
		e.Code = -1
	}
	return e
}

// Write sends data followed by a newline.
func (t *PipeTransport) Write(_ context.Context, data []byte) error {
	if !t.ready.Load() {
		return ErrTransportClosed
	}

	t.mu.Lock()
	stdin := t.stdin
	t.mu.Unlock()

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if err := writeLine(stdin, data); err != nil {
		return fmt.Errorf("write to stdin: %w", err)
	}
	return nil
}

// Close terminates the child process: close stdin, SIGTERM, wait with timeout, SIGKILL.
func (t *PipeTransport) Close() error {
	t.mu.Lock()
	first := t.shutdown()
	started := t.cmd != nil
	t.mu.Unlock()

	if first && started {
		t.terminate()
	}
	return nil
}

func (t *PipeTransport) terminate() {
	t.mu.Lock()
	cmd, stdin := t.cmd, t.stdin
	t.mu.Unlock()

	stdin.Close()
	if cmd.Process != nil {
		_ = cmd.Process.Signal(syscall.SIGTERM)
	}

	go t.wait()

	select {
	case <-t.exited:
	case <-time.After(killTimeout):
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
		<-t.exited
	}
}

// CanWrite is always true for pipes.
func (t *PipeTransport) CanWrite() bool { return true }

// Pid returns the child's process id, or 0 before Open.
func (t *PipeTransport) Pid() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cmd == nil || t.cmd.Process == nil {
		return 0
	}
	return t.cmd.Process.Pid
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.max; over > 0 {
		b.buf = append(b.buf[:0], b.buf[over:]...)
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(bytes.TrimSpace(b.buf))
}
