package mcp

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/jg-phare/mcpconn/pkg/transport"
)

// dispatchBuffer bounds how far event delivery may fall behind the read loop
// before the loop waits for handlers.
const dispatchBuffer = 256

// dispatcher delivers the events of one read loop on its own goroutine, in
// arrival order. Handlers may call back into the connection: the read loop
// is free to deliver the responses they wait for.
type dispatcher struct {
	c     *Connection
	queue chan Event
}

func (c *Connection) startDispatcher() *dispatcher {
	d := &dispatcher{c: c, queue: make(chan Event, dispatchBuffer)}
	go d.run()
	return d
}

func (d *dispatcher) run() {
	for ev := range d.queue {
		d.c.emit(ev)
	}
}

func (d *dispatcher) post(ev Event) { d.queue <- ev }

// stop lets queued events drain without waiting for them. A handler blocked
// on a request must not hold up the teardown that fails that request.
func (d *dispatcher) stop() { close(d.queue) }

// handleNotification maps server notifications onto events, posted to d in
// arrival order.
func (c *Connection) handleNotification(d *dispatcher, msg Message) {
	switch msg.Method {
	case NotificationProgress:
		var p ProgressParams
		if err := json.Unmarshal(msg.Params, &p); err != nil {
			c.logger.Warn("bad progress notification", "err", err)
			return
		}
		d.post(Event{Type: EventProgress, Progress: &p})

	case NotificationResourceUpdated:
		var p ResourceUpdatedParams
		if err := json.Unmarshal(msg.Params, &p); err != nil {
			c.logger.Warn("bad resource update notification", "err", err)
			return
		}
		d.post(Event{Type: EventResourceUpdated, URI: p.URI})

	case NotificationToolsListChanged:
		d.post(Event{Type: EventToolsChanged})
	case NotificationResourcesListChanged:
		d.post(Event{Type: EventResourcesChanged})
	case NotificationPromptsListChanged:
		d.post(Event{Type: EventPromptsChanged})

	case NotificationMessage:
		var p LoggingMessageParams
		if err := json.Unmarshal(msg.Params, &p); err != nil {
			c.logger.Warn("bad log notification", "err", err)
			return
		}
		c.logger.Log(context.Background(), serverLogLevel(p.Level), "server log", "logger", p.Logger, "data", string(p.Data))
		d.post(Event{Type: EventLogMessage, Log: &p})

	default:
		c.logger.Debug("ignoring notification", "method", msg.Method)
	}
}

// handleServerRequest answers requests the server sends us. Only ping is
// supported; anything else gets method-not-found.
func (c *Connection) handleServerRequest(t transport.Transport, msg Message) {
	var resp JSONRPCResponse
	switch msg.Method {
	case MethodPing:
		resp = newResultResponse(msg.ID, json.RawMessage(`{}`))
	default:
		resp = newErrorResponse(msg.ID, CodeMethodNotFound, "Method not found: "+msg.Method)
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.config.Timeout())
	defer cancel()
	if err := c.write(ctx, t, msg.Method, resp); err != nil {
		c.logger.Warn("could not answer server request", "method", msg.Method, "err", err)
	}
}

// serverLogLevel maps MCP (syslog-style) levels onto slog.
func serverLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info", "notice":
		return slog.LevelInfo
	case "warning":
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}
