package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"sync"

	"github.com/jg-phare/mcpconn/pkg/types"
)

// Version is reported as the client version during initialize.
const Version = "0.1.0"

// Registry owns the connections to a set of MCP servers, the event
// subscribers and the aggregated stats. The zero value is not usable; call
// NewRegistry.
type Registry struct {
	mu     sync.RWMutex
	conns  map[string]*Connection
	closed bool

	logger     *slog.Logger
	events     *emitter
	global     globalCounters
	factory    TransportFactory
	clientInfo ClientInfo
	clientCaps ClientCapabilities
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithLogger sets the logger. Each connection logs with a "server" attribute.
func WithLogger(l *slog.Logger) RegistryOption {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithClientInfo sets the implementation name and version sent in initialize.
func WithClientInfo(info ClientInfo) RegistryOption {
	return func(r *Registry) {
		r.clientInfo = info
	}
}

// WithClientCapabilities sets the capabilities sent in initialize.
func WithClientCapabilities(caps ClientCapabilities) RegistryOption {
	return func(r *Registry) {
		r.clientCaps = caps
	}
}

// WithTransportFactory replaces DefaultTransportFactory, e.g. to serve some
// servers in-process over transport.NewChannelPair.
func WithTransportFactory(f TransportFactory) RegistryOption {
	return func(r *Registry) {
		if f != nil {
			r.factory = f
		}
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		conns:      make(map[string]*Connection),
		logger:     slog.Default(),
		factory:    DefaultTransportFactory,
		clientInfo: ClientInfo{Name: "mcpconn", Version: Version},
	}
	for _, opt := range opts {
		opt(r)
	}
	r.events = newEmitter(r.logger)
	return r
}

// Add registers a server without connecting it. Defaults are applied and the
// config is validated first.
func (r *Registry) Add(cfg types.ServerConfig) (*Connection, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrRegistryClosed
	}
	if _, ok := r.conns[cfg.ID]; ok {
		return nil, fmt.Errorf("%w: %q", ErrDuplicateServer, cfg.ID)
	}
	conn, err := newConnection(cfg, connDeps{
		logger:     r.logger,
		events:     r.events,
		global:     &r.global,
		factory:    r.factory,
		clientInfo: r.clientInfo,
		clientCaps: r.clientCaps,
	})
	if err != nil {
		return nil, err
	}
	r.conns[cfg.ID] = conn
	r.global.connections.Add(1)
	return conn, nil
}

// Get returns the connection for id.
func (r *Registry) Get(id string) (*Connection, error) {
	r.mu.RLock()
	conn, ok := r.conns[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownServer, id)
	}
	return conn, nil
}

// Connect connects one registered server.
func (r *Registry) Connect(ctx context.Context, id string) error {
	conn, err := r.Get(id)
	if err != nil {
		return err
	}
	if r.isClosed() {
		return ErrRegistryClosed
	}
	if !conn.config.Enabled {
		return fmt.Errorf("%w: %q", ErrServerDisabled, id)
	}
	return conn.Connect(ctx)
}

// ConnectAll connects every enabled server concurrently and joins the errors.
func (r *Registry) ConnectAll(ctx context.Context) error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, conn := range r.connections() {
		if !conn.config.Enabled {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := conn.Connect(ctx); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}

// Disconnect disconnects one server and keeps it registered.
func (r *Registry) Disconnect(id string) error {
	conn, err := r.Get(id)
	if err != nil {
		return err
	}
	return conn.Disconnect()
}

// Remove disconnects a server and forgets it.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	conn, ok := r.conns[id]
	delete(r.conns, id)
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownServer, id)
	}
	return conn.Disconnect()
}

// SetServers reconciles the registry with servers, keyed by id: servers not
// in the map are removed, new ones are added, changed ones are replaced, and
// enabled servers that were added or replaced are connected. Unchanged
// servers are left alone. A connect failure is reported in Errors; the server
// stays registered.
func (r *Registry) SetServers(ctx context.Context, servers map[string]types.ServerConfig) *SetServersResult {
	result := &SetServersResult{Errors: make(map[string]string)}

	desired := make(map[string]types.ServerConfig, len(servers))
	for id, cfg := range servers {
		if cfg.ID == "" {
			cfg.ID = id
		}
		desired[id] = cfg.WithDefaults()
	}

	for _, conn := range r.connections() {
		if _, ok := desired[conn.id]; ok {
			continue
		}
		if err := r.Remove(conn.id); err != nil {
			result.Errors[conn.id] = err.Error()
		}
		result.Removed = append(result.Removed, conn.id)
	}

	ids := make([]string, 0, len(desired))
	for id := range desired {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		cfg := desired[id]
		if existing, err := r.Get(id); err == nil {
			if reflect.DeepEqual(existing.config, cfg) {
				continue
			}
			if err := r.Remove(id); err != nil {
				r.logger.Warn("disconnect during update failed", "server", id, "err", err)
			}
			result.Updated = append(result.Updated, id)
		} else {
			result.Added = append(result.Added, id)
		}

		conn, err := r.Add(cfg)
		if err != nil {
			result.Errors[id] = err.Error()
			continue
		}
		if !cfg.Enabled {
			continue
		}
		if err := conn.Connect(ctx); err != nil {
			result.Errors[id] = err.Error()
		}
	}
	return result
}

// Status returns a snapshot of one server's state.
func (r *Registry) Status(id string) (ServerStatus, error) {
	conn, err := r.Get(id)
	if err != nil {
		return ServerStatus{}, err
	}
	return conn.ServerStatus(), nil
}

// Statuses returns a snapshot of every server, ordered by id.
func (r *Registry) Statuses() []ServerStatus {
	conns := r.connections()
	out := make([]ServerStatus, 0, len(conns))
	for _, conn := range conns {
		out = append(out, conn.ServerStatus())
	}
	return out
}

// Stats returns one server's counters.
func (r *Registry) Stats(id string) (ConnectionStats, error) {
	conn, err := r.Get(id)
	if err != nil {
		return ConnectionStats{}, err
	}
	return conn.Stats(), nil
}

// GlobalStats returns the counters aggregated over every connection the
// registry created.
func (r *Registry) GlobalStats() GlobalStats {
	return r.global.snapshot()
}

// On subscribes h to one event type. The returned func unsubscribes.
func (r *Registry) On(t EventType, h Handler) func() {
	return r.events.on(t, h)
}

// OnAny subscribes h to every event.
func (r *Registry) OnAny(h Handler) func() {
	return r.events.onAny(h)
}

// Shutdown disconnects every server concurrently and refuses further Add and
// Connect calls. It returns ctx.Err() if ctx ends first; the disconnects keep
// running in the background.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	conns := r.connections()
	errCh := make(chan error, len(conns))
	var wg sync.WaitGroup
	for _, conn := range conns {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := conn.Disconnect(); err != nil {
				errCh <- fmt.Errorf("%s: %w", conn.id, err)
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	close(errCh)
	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}
	r.logger.Info("registry shut down", "servers", len(conns))
	return errors.Join(errs...)
}

// CallTool calls a tool on server id.
func (r *Registry) CallTool(ctx context.Context, id, name string, args map[string]any) (*ToolResult, error) {
	conn, err := r.Get(id)
	if err != nil {
		return nil, err
	}
	return conn.CallTool(ctx, name, args)
}

// ListTools lists the tools of server id.
func (r *Registry) ListTools(ctx context.Context, id string) ([]ToolInfo, error) {
	conn, err := r.Get(id)
	if err != nil {
		return nil, err
	}
	return conn.ListTools(ctx)
}

// ReadResource reads a resource from server id.
func (r *Registry) ReadResource(ctx context.Context, id, uri string) (*ResourceReadResult, error) {
	conn, err := r.Get(id)
	if err != nil {
		return nil, err
	}
	return conn.ReadResource(ctx, uri)
}

// ListResources lists the resources of server id.
func (r *Registry) ListResources(ctx context.Context, id string) ([]Resource, error) {
	conn, err := r.Get(id)
	if err != nil {
		return nil, err
	}
	return conn.ListResources(ctx)
}

// ListResourceTemplates lists the resource templates of server id.
func (r *Registry) ListResourceTemplates(ctx context.Context, id string) ([]ResourceTemplate, error) {
	conn, err := r.Get(id)
	if err != nil {
		return nil, err
	}
	return conn.ListResourceTemplates(ctx)
}

// SubscribeResource subscribes to updates of a resource on server id.
func (r *Registry) SubscribeResource(ctx context.Context, id, uri string) error {
	conn, err := r.Get(id)
	if err != nil {
		return err
	}
	return conn.SubscribeResource(ctx, uri)
}

// UnsubscribeResource cancels a subscription on server id.
func (r *Registry) UnsubscribeResource(ctx context.Context, id, uri string) error {
	conn, err := r.Get(id)
	if err != nil {
		return err
	}
	return conn.UnsubscribeResource(ctx, uri)
}

// GetPrompt renders a prompt from server id.
func (r *Registry) GetPrompt(ctx context.Context, id, name string, args map[string]string) (*GetPromptResult, error) {
	conn, err := r.Get(id)
	if err != nil {
		return nil, err
	}
	return conn.GetPrompt(ctx, name, args)
}

// ListPrompts lists the prompts of server id.
func (r *Registry) ListPrompts(ctx context.Context, id string) ([]Prompt, error) {
	conn, err := r.Get(id)
	if err != nil {
		return nil, err
	}
	return conn.ListPrompts(ctx)
}

// Ping pings server id.
func (r *Registry) Ping(ctx context.Context, id string) error {
	conn, err := r.Get(id)
	if err != nil {
		return err
	}
	return conn.Ping(ctx)
}

// connections returns the registered connections ordered by id.
func (r *Registry) connections() []*Connection {
	r.mu.RLock()
	out := make([]*Connection, 0, len(r.conns))
	for _, conn := range r.conns {
		out = append(out, conn)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

func (r *Registry) isClosed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.closed
}
