package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jg-phare/mcpconn/pkg/transport"
	"github.com/jg-phare/mcpconn/pkg/types"
)

// fakeServer answers MCP requests over the server end of a channel pair. A
// new pair is made for every connect attempt.
type fakeServer struct {
	mu       sync.Mutex
	results  map[string]json.RawMessage // method → result JSON
	errs     map[string]*JSONRPCError
	silent   map[string]bool // methods that never get an answer
	pages    map[string][]json.RawMessage
	openErr  error
	received []Message
	ends     []*transport.ChannelTransport
	opens    int
}

func newFakeServer() *fakeServer {
	return &fakeServer{
		results: make(map[string]json.RawMessage),
		errs:    make(map[string]*JSONRPCError),
		silent:  make(map[string]bool),
		pages:   make(map[string][]json.RawMessage),
	}
}

// withInitialize answers initialize with the given capabilities.
func (s *fakeServer) withInitialize(caps ServerCapabilities) *fakeServer {
	return s.withInitializeVersion(LatestProtocolVersion, caps)
}

func (s *fakeServer) withInitializeVersion(version string, caps ServerCapabilities) *fakeServer {
	return s.withResult(MethodInitialize, InitializeResult{
		ProtocolVersion: version,
		Capabilities:    caps,
		ServerInfo:      ServerInfo{Name: "fake-server", Version: "1.0"},
		Instructions:    "be nice",
	})
}

// withTools answers tools/list with a single page.
func (s *fakeServer) withTools(tools []ToolInfo) *fakeServer {
	return s.withResult(MethodToolsList, ToolsListResult{Tools: tools})
}

// withPages answers successive requests for method with successive results.
func (s *fakeServer) withPages(method string, pages ...any) *fakeServer {
	for _, p := range pages {
		data, _ := json.Marshal(p)
		s.pages[method] = append(s.pages[method], data)
	}
	return s
}

func (s *fakeServer) withResult(method string, result any) *fakeServer {
	data, _ := json.Marshal(result)
	s.results[method] = data
	return s
}

func (s *fakeServer) withError(method string, e *JSONRPCError) *fakeServer {
	s.errs[method] = e
	return s
}

func (s *fakeServer) withSilence(method string) *fakeServer {
	s.silent[method] = true
	return s
}

func (s *fakeServer) failOpens(err error) {
	s.mu.Lock()
	s.openErr = err
	s.mu.Unlock()
}

// factory builds client ends wired to this server.
func (s *fakeServer) factory() TransportFactory {
	return func(types.ServerConfig) (transport.Transport, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.opens++
		if s.openErr != nil {
			return nil, s.openErr
		}
		client, server := transport.NewChannelPair(64)
		if err := server.Open(context.Background()); err != nil {
			return nil, err
		}
		s.ends = append(s.ends, server)
		go s.serve(server)
		return client, nil
	}
}

func (s *fakeServer) serve(end *transport.ChannelTransport) {
	for tm := range end.ReadMessages() {
		if tm.Type != transport.TMsgData {
			continue
		}
		msg, err := ParseMessage(tm.Payload)
		if err != nil {
			continue
		}
		s.mu.Lock()
		s.received = append(s.received, msg)
		resp, ok := s.answer(msg)
		s.mu.Unlock()
		if !ok {
			continue
		}
		data, _ := json.Marshal(resp)
		end.Write(context.Background(), data)
	}
}

// answer picks the reply for msg. s.mu must be held.
func (s *fakeServer) answer(msg Message) (JSONRPCResponse, bool) {
	if msg.Kind != KindRequest || s.silent[msg.Method] {
		return JSONRPCResponse{}, false
	}
	if e, ok := s.errs[msg.Method]; ok {
		return JSONRPCResponse{JSONRPC: jsonrpcVersion, ID: msg.ID, Error: e}, true
	}
	if pages := s.pages[msg.Method]; len(pages) > 0 {
		s.pages[msg.Method] = pages[1:]
		return newResultResponse(msg.ID, pages[0]), true
	}
	if result, ok := s.results[msg.Method]; ok {
		return newResultResponse(msg.ID, result), true
	}
	return newErrorResponse(msg.ID, CodeMethodNotFound, "Method not found: "+msg.Method), true
}

// send writes a raw document to the client from the current server end.
func (s *fakeServer) send(t *testing.T, doc string) {
	t.Helper()
	end := s.current(t)
	if err := end.Write(context.Background(), []byte(doc)); err != nil {
		t.Fatalf("server write: %v", err)
	}
}

// drop closes the current server end, as if the server went away.
func (s *fakeServer) drop(t *testing.T) {
	t.Helper()
	s.current(t).Close()
}

func (s *fakeServer) current(t *testing.T) *transport.ChannelTransport {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.ends) == 0 {
		t.Fatal("no server end open")
	}
	return s.ends[len(s.ends)-1]
}

func (s *fakeServer) openCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opens
}

// requests returns the requests and notifications received so far.
func (s *fakeServer) requests() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.received...)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(id string) types.ServerConfig {
	return types.ServerConfig{
		ID:      id,
		Type:    types.TransportStdio,
		Command: "fake",
		Enabled: true,
	}.WithDefaults()
}

// newTestRegistry returns a registry whose servers are all served by srv.
func newTestRegistry(srv *fakeServer) *Registry {
	return NewRegistry(WithLogger(testLogger()), WithTransportFactory(srv.factory()))
}

// newTestConnection registers cfg with a fresh registry backed by srv.
func newTestConnection(t *testing.T, srv *fakeServer, cfg types.ServerConfig) (*Registry, *Connection) {
	t.Helper()
	reg := newTestRegistry(srv)
	conn, err := reg.Add(cfg)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { reg.Shutdown(context.Background()) })
	return reg, conn
}

// eventLog records events for assertions.
type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) record(ev Event) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
}

func (l *eventLog) ofType(et EventType) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Event
	for _, ev := range l.events {
		if ev.Type == et {
			out = append(out, ev)
		}
	}
	return out
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func waitStatus(t *testing.T, conn *Connection, want ConnectionStatus) {
	t.Helper()
	waitFor(t, "status "+string(want), func() bool { return conn.Status() == want })
}

var errRefused = errors.New("connection refused")
