package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/jg-phare/mcpconn/pkg/transport"
	"github.com/jg-phare/mcpconn/pkg/types"
)

var errUnexpectedClose = errors.New("transport closed unexpectedly")

// Connection manages the lifecycle and state of a single MCP server. It owns
// at most one live transport, the correlation table for it and the
// reconnection timer. Connections are created by a Registry.
type Connection struct {
	id         string
	config     types.ServerConfig
	filter     *toolFilter
	logger     *slog.Logger
	events     *emitter
	factory    TransportFactory
	clientInfo ClientInfo
	clientCaps ClientCapabilities

	connectMu sync.Mutex // serializes connect attempts
	sendMu    sync.Mutex // id allocation and write happen together so wire order matches id order

	mu              sync.Mutex
	status          ConnectionStatus
	transport       transport.Transport
	gen             uint64 // bumped whenever the current transport is superseded
	lostGen         uint64 // gen whose transport ended before the handshake finished
	sessionID       string
	serverInfo      *ServerInfo
	capabilities    *ServerCapabilities
	protocolVersion string
	instructions    string
	attempts        int
	lastErr         error
	connectedAt     time.Time
	reconnectTimer  *time.Timer
	cancelConnect   context.CancelFunc

	nextID  atomic.Int64 // never reset, so ids stay unique across reconnects
	pending *pendingTable
	stats   connCounters
}

// connDeps is what a Connection borrows from its Registry.
type connDeps struct {
	logger     *slog.Logger
	events     *emitter
	global     *globalCounters
	factory    TransportFactory
	clientInfo ClientInfo
	clientCaps ClientCapabilities
}

func newConnection(cfg types.ServerConfig, deps connDeps) (*Connection, error) {
	filter, err := newToolFilter(cfg.AllowedTools, cfg.DisallowedTools)
	if err != nil {
		return nil, fmt.Errorf("server %q: %w", cfg.ID, err)
	}
	c := &Connection{
		id:         cfg.ID,
		config:     cfg,
		filter:     filter,
		logger:     deps.logger.With("server", cfg.ID),
		events:     deps.events,
		factory:    deps.factory,
		clientInfo: deps.clientInfo,
		clientCaps: deps.clientCaps,
		status:     StatusDisconnected,
		pending:    newPendingTable(),
	}
	c.stats.global = deps.global
	c.pending.onTimeout = func(method string) {
		c.stats.timeout()
		c.logger.Warn("request timed out", "method", method, "timeout", cfg.Timeout())
	}
	return c, nil
}

// ID returns the server id.
func (c *Connection) ID() string { return c.id }

// Config returns the server configuration with defaults applied.
func (c *Connection) Config() types.ServerConfig { return c.config }

// Status returns the current connection state.
func (c *Connection) Status() ConnectionStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Capabilities returns what the server offered during the last successful
// handshake, or nil.
func (c *Connection) Capabilities() *ServerCapabilities {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.capabilities
}

// Stats returns a snapshot of the connection's counters.
func (c *Connection) Stats() ConnectionStats {
	return c.stats.snapshot()
}

// Connect opens a transport and runs the handshake. It returns nil at once
// if the connection is already connected. A failed attempt leaves the
// connection in error, or hands it to the reconnection policy.
func (c *Connection) Connect(ctx context.Context) error {
	return c.connect(ctx, 0)
}

// connect does the work of Connect. A non-zero expectGen makes the attempt
// conditional on nothing having happened since it was scheduled.
func (c *Connection) connect(ctx context.Context, expectGen uint64) error {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	c.mu.Lock()
	if expectGen != 0 && (c.gen != expectGen || c.status != StatusReconnecting) {
		c.mu.Unlock()
		return nil
	}
	if c.status == StatusConnected {
		c.mu.Unlock()
		return nil
	}
	c.stopReconnectLocked()
	c.gen++
	gen := c.gen
	ctx, cancel := context.WithCancel(ctx)
	c.cancelConnect = cancel
	c.status = StatusConnecting
	c.sessionID = uuid.NewString()
	session := c.sessionID
	c.mu.Unlock()
	defer cancel()

	c.logger.Info("connecting", "type", c.config.Type, "session", session)
	c.emit(Event{Type: EventConnecting})

	t, err := c.factory(c.config)
	if err != nil {
		return c.connectFailed(gen, &TransportOpenError{ServerID: c.id, Err: err})
	}
	openCtx, cancelOpen := context.WithTimeout(ctx, c.config.Timeout())
	err = t.Open(openCtx)
	cancelOpen()
	if err != nil {
		t.Close()
		return c.connectFailed(gen, &TransportOpenError{ServerID: c.id, Err: err})
	}

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		t.Close()
		return ErrConnectionClosed
	}
	c.transport = t
	c.mu.Unlock()

	c.pending.reset()
	go c.readLoop(t, gen)

	if err := c.handshake(ctx, t); err != nil {
		return c.connectFailed(gen, err)
	}

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return ErrConnectionClosed
	}
	if c.lostGen == gen {
		c.mu.Unlock()
		return c.connectFailed(gen, errUnexpectedClose)
	}
	c.status = StatusConnected
	c.attempts = 0
	c.lastErr = nil
	c.connectedAt = time.Now()
	c.cancelConnect = nil
	caps := c.capabilities
	info := c.serverInfo
	version := c.protocolVersion
	c.mu.Unlock()

	c.stats.global.active.Add(1)
	c.logger.Info("connected", "server_name", info.Name, "server_version", info.Version, "protocol", version)
	c.emit(Event{Type: EventConnected, Capabilities: caps})
	return nil
}

// connectFailed tears down whatever the attempt for gen opened and applies
// the reconnection policy. It returns err for the caller.
func (c *Connection) connectFailed(gen uint64, err error) error {
	c.mu.Lock()
	if c.gen != gen {
		// a Disconnect superseded this attempt and already cleaned up
		c.mu.Unlock()
		return err
	}
	c.gen++
	t := c.transport
	c.transport = nil
	c.status = StatusError
	c.lastErr = err
	c.cancelConnect = nil
	c.mu.Unlock()

	c.pending.drain(ErrConnectionClosed)
	if t != nil {
		t.Close()
	}
	c.stats.failure()
	c.logger.Error("connect failed", "err", err)
	c.emit(Event{Type: EventError, Err: err})
	c.afterFailure(err, false)
	return err
}

// Disconnect tears the connection down. It cancels any reconnect timer and
// any in-flight connect, fails every pending request with
// ErrConnectionClosed and closes the transport before returning.
func (c *Connection) Disconnect() error {
	c.mu.Lock()
	c.gen++
	c.stopReconnectLocked()
	if c.cancelConnect != nil {
		c.cancelConnect()
		c.cancelConnect = nil
	}
	t := c.transport
	c.transport = nil
	prev := c.status
	c.status = StatusDisconnected
	c.attempts = 0
	c.mu.Unlock()

	n := c.pending.drain(ErrConnectionClosed)
	var err error
	if t != nil {
		err = t.Close()
	}
	if prev == StatusConnected {
		c.stats.global.active.Add(-1)
	}
	if prev != StatusDisconnected {
		c.logger.Info("disconnected", "previous", prev, "pending_failed", n)
		c.emit(Event{Type: EventDisconnected, Reason: "disconnect requested"})
	}
	return err
}

// readLoop handles everything t delivers, in arrival order, until t ends.
// Events raised by inbound traffic go through a dispatcher so the loop keeps
// resolving responses while handlers run.
func (c *Connection) readLoop(t transport.Transport, gen uint64) {
	d := c.startDispatcher()
	var cause error
	for msg := range t.ReadMessages() {
		switch msg.Type {
		case transport.TMsgError:
			cause = msg.Error
			c.stats.failure()
			c.logger.Warn("transport error", "err", msg.Error)
		case transport.TMsgData:
			c.handleInbound(t, d, msg.Payload)
		}
	}
	d.stop()
	c.transportClosed(gen, cause)
}

// transportClosed runs when the transport for gen stopped delivering.
func (c *Connection) transportClosed(gen uint64, cause error) {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}
	if c.status != StatusConnected {
		// Still handshaking: fail the initialize request and let connect
		// take the failure path.
		c.lostGen = gen
		c.mu.Unlock()
		c.pending.drain(ErrConnectionClosed)
		return
	}
	if cause == nil {
		cause = errUnexpectedClose
	}
	c.gen++
	t := c.transport
	c.transport = nil
	c.status = StatusError
	c.lastErr = cause
	c.mu.Unlock()

	n := c.pending.drain(ErrConnectionClosed)
	t.Close()
	c.stats.global.active.Add(-1)
	c.stats.failure()
	c.logger.Warn("connection lost", "err", cause, "pending_failed", n)
	c.emit(Event{Type: EventError, Err: cause})
	c.afterFailure(cause, true)
}

// handleInbound decodes one document and routes it. Malformed input is
// counted and dropped; the connection stays up.
func (c *Connection) handleInbound(t transport.Transport, d *dispatcher, data []byte) {
	msg, err := ParseMessage(data)
	if err != nil {
		c.stats.failure()
		c.logger.Warn("dropping malformed message", "err", err, "bytes", len(data))
		d.post(Event{Type: EventError, Err: err})
		return
	}
	c.stats.messageReceived()

	switch msg.Kind {
	case KindResponse:
		id, ok := msg.IntID()
		if !ok || !c.pending.resolve(id, msg) {
			c.logger.Debug("dropping response without pending request", "id", string(msg.ID))
		}
	case KindNotification:
		c.handleNotification(d, msg)
	case KindRequest:
		c.handleServerRequest(t, msg)
	}
}

// request issues a correlated request over t and waits for its outcome.
// ctx cancellation abandons the wait and forgets the request.
func (c *Connection) request(ctx context.Context, t transport.Transport, method string, params any) (json.RawMessage, error) {
	c.sendMu.Lock()
	id := c.nextID.Add(1)
	data, err := json.Marshal(newRequest(id, method, params))
	if err != nil {
		c.sendMu.Unlock()
		return nil, fmt.Errorf("marshal %s request: %w", method, err)
	}
	req, err := c.pending.add(id, method, c.config.Timeout())
	if err != nil {
		c.sendMu.Unlock()
		return nil, err
	}
	err = t.Write(ctx, data)
	c.sendMu.Unlock()

	if err != nil {
		c.pending.remove(id)
		c.stats.failure()
		return nil, &TransportSendError{ServerID: c.id, Method: method, Err: err}
	}
	c.stats.messageSent()

	select {
	case res := <-req.done:
		if res.err != nil {
			return nil, res.err
		}
		if e := res.msg.Error; e != nil {
			c.stats.failure()
			return nil, &RemoteError{Method: method, Code: e.Code, Message: e.Message, Data: e.Data}
		}
		return res.msg.Result, nil
	case <-ctx.Done():
		c.pending.remove(id)
		return nil, ctx.Err()
	}
}

// write sends a message that expects no response.
func (c *Connection) write(ctx context.Context, t transport.Transport, method string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", method, err)
	}

	c.sendMu.Lock()
	err = t.Write(ctx, data)
	c.sendMu.Unlock()

	if err != nil {
		c.stats.failure()
		return &TransportSendError{ServerID: c.id, Method: method, Err: err}
	}
	c.stats.messageSent()
	return nil
}

// connectedTransport returns the live transport, or a *NotConnectedError
// unless the connection is connected.
func (c *Connection) connectedTransport() (transport.Transport, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != StatusConnected || c.transport == nil {
		return nil, &NotConnectedError{ServerID: c.id, Status: c.status}
	}
	return c.transport, nil
}

func (c *Connection) emit(ev Event) {
	ev.ServerID = c.id
	c.events.emit(ev)
}
