package mcp

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType names a lifecycle or invocation event.
type EventType string

const (
	EventConnecting   EventType = "connecting"
	EventConnected    EventType = "connected"
	EventDisconnected EventType = "disconnected"
	EventError        EventType = "error"
	EventReconnecting EventType = "reconnecting"

	EventToolCalled      EventType = "tool:called"
	EventResourceRead    EventType = "resource:read"
	EventResourceUpdated EventType = "resource:updated"
	EventPromptGet       EventType = "prompt:get"
	EventListCalled      EventType = "list:called"
	EventProgress        EventType = "progress:update"

	EventToolsChanged     EventType = "tools:changed"
	EventResourcesChanged EventType = "resources:changed"
	EventPromptsChanged   EventType = "prompts:changed"
	EventLogMessage       EventType = "log:message"
)

// Event is delivered to handlers registered with Registry.On. Only the
// fields relevant to Type are set.
type Event struct {
	ID       string
	Type     EventType
	ServerID string
	Time     time.Time

	Capabilities *ServerCapabilities // connected
	Reason       string              // disconnected
	Err          error               // error
	Attempt      int                 // reconnecting

	Tool      string         // tool:called
	Arguments map[string]any // tool:called
	URI       string         // resource:read, resource:updated
	Prompt    string         // prompt:get
	Method    string         // list:called

	Progress *ProgressParams       // progress:update
	Log      *LoggingMessageParams // log:message
}

// Handler receives events. Events raised by server traffic (notifications,
// malformed input) are delivered in order on a per-connection goroutine, and
// such handlers may call back into the connection. Other events are delivered
// synchronously on the goroutine that produced them.
type Handler func(Event)

type subscription struct {
	id uint64
	h  Handler
}

// emitter fans events out to subscribers. A panicking handler is logged and
// skipped; the remaining handlers still run.
type emitter struct {
	mu     sync.RWMutex
	byType map[EventType][]subscription
	all    []subscription
	nextID uint64
	logger *slog.Logger
}

func newEmitter(logger *slog.Logger) *emitter {
	return &emitter{
		byType: make(map[EventType][]subscription),
		logger: logger,
	}
}

// on subscribes h to one event type and returns its unsubscribe func.
func (e *emitter) on(t EventType, h Handler) func() {
	e.mu.Lock()
	e.nextID++
	id := e.nextID
	e.byType[t] = append(e.byType[t], subscription{id: id, h: h})
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		e.byType[t] = without(e.byType[t], id)
		e.mu.Unlock()
	}
}

// onAny subscribes h to every event.
func (e *emitter) onAny(h Handler) func() {
	e.mu.Lock()
	e.nextID++
	id := e.nextID
	e.all = append(e.all, subscription{id: id, h: h})
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		e.all = without(e.all, id)
		e.mu.Unlock()
	}
}

func without(subs []subscription, id uint64) []subscription {
	out := make([]subscription, 0, len(subs))
	for _, s := range subs {
		if s.id != id {
			out = append(out, s)
		}
	}
	return out
}

// emit stamps ev with an id and time and delivers it.
func (e *emitter) emit(ev Event) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	e.mu.RLock()
	handlers := make([]subscription, 0, len(e.byType[ev.Type])+len(e.all))
	handlers = append(handlers, e.byType[ev.Type]...)
	handlers = append(handlers, e.all...)
	e.mu.RUnlock()

	for _, s := range handlers {
		e.call(s.h, ev)
	}
}

func (e *emitter) call(h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("event handler panicked", "event", ev.Type, "server", ev.ServerID, "panic", r)
		}
	}()
	h(ev)
}
