package mcp

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jg-phare/mcpconn/pkg/types"
)

func TestRegistry_AddValidates(t *testing.T) {
	reg := newTestRegistry(newFakeServer())

	if _, err := reg.Add(types.ServerConfig{ID: "nocmd", Type: types.TransportStdio}); err == nil {
		t.Error("expected error for stdio server without command")
	}
	if _, err := reg.Add(types.ServerConfig{ID: "badglob", Command: "x", AllowedTools: []string{"[unclosed"}}); err == nil {
		t.Error("expected error for invalid tool pattern")
	}

	conn, err := reg.Add(types.ServerConfig{ID: "ok", Command: "x"})
	if err != nil {
		t.Fatal(err)
	}
	if cfg := conn.Config(); cfg.TimeoutMs != types.DefaultTimeoutMs || cfg.Type != types.TransportStdio {
		t.Errorf("defaults not applied: %+v", cfg)
	}
	if _, err := reg.Add(types.ServerConfig{ID: "ok", Command: "y"}); !errors.Is(err, ErrDuplicateServer) {
		t.Errorf("err = %v, want ErrDuplicateServer", err)
	}
	if g := reg.GlobalStats(); g.TotalConnections != 1 {
		t.Errorf("total connections = %d, want 1", g.TotalConnections)
	}
}

func TestRegistry_UnknownAndDisabled(t *testing.T) {
	srv := newFakeServer().withInitialize(ServerCapabilities{})
	reg := newTestRegistry(srv)
	ctx := context.Background()

	if err := reg.Connect(ctx, "ghost"); !errors.Is(err, ErrUnknownServer) {
		t.Errorf("Connect err = %v", err)
	}
	if _, err := reg.CallTool(ctx, "ghost", "x", nil); !errors.Is(err, ErrUnknownServer) {
		t.Errorf("CallTool err = %v", err)
	}
	if _, err := reg.Status("ghost"); !errors.Is(err, ErrUnknownServer) {
		t.Errorf("Status err = %v", err)
	}

	cfg := testConfig("off")
	cfg.Enabled = false
	if _, err := reg.Add(cfg); err != nil {
		t.Fatal(err)
	}
	if err := reg.Connect(ctx, "off"); !errors.Is(err, ErrServerDisabled) {
		t.Errorf("err = %v, want ErrServerDisabled", err)
	}
	if srv.openCount() != 0 {
		t.Error("disabled server was opened")
	}
}

func TestRegistry_ConnectAllAndStatuses(t *testing.T) {
	srv := newFakeServer().
		withInitialize(ServerCapabilities{Tools: &ToolsCapability{}}).
		withTools([]ToolInfo{{Name: "t"}})
	reg := newTestRegistry(srv)
	defer reg.Shutdown(context.Background())

	for _, id := range []string{"b", "a", "c"} {
		cfg := testConfig(id)
		cfg.Enabled = id != "c"
		if _, err := reg.Add(cfg); err != nil {
			t.Fatal(err)
		}
	}
	if err := reg.ConnectAll(context.Background()); err != nil {
		t.Fatal(err)
	}

	statuses := reg.Statuses()
	var got []string
	for _, s := range statuses {
		got = append(got, s.ID+"="+string(s.Status))
	}
	if fmt.Sprint(got) != "[a=connected b=connected c=disconnected]" {
		t.Errorf("statuses = %v", got)
	}

	a := statuses[0]
	if a.ServerInfo == nil || a.ServerInfo.Name != "fake-server" || a.ProtocolVersion != LatestProtocolVersion {
		t.Errorf("status a = %+v", a)
	}
	if a.Instructions != "be nice" || a.SessionID == "" || a.ConnectedAt.IsZero() {
		t.Errorf("status a = %+v", a)
	}

	if _, err := reg.ListTools(context.Background(), "a"); err != nil {
		t.Fatal(err)
	}
	g := reg.GlobalStats()
	if g.TotalConnections != 3 || g.ActiveConnections != 2 {
		t.Errorf("global = %+v", g)
	}
	// each connect sends initialize + initialized and receives one response,
	// ListTools adds one each way
	if g.TotalMessages != 2*3+2 {
		t.Errorf("total messages = %d, want 8", g.TotalMessages)
	}
	if g.LastActivity.IsZero() {
		t.Error("last activity not recorded")
	}

	stats, err := reg.Stats("a")
	if err != nil {
		t.Fatal(err)
	}
	if stats.MessagesSent != 3 || stats.MessagesReceived != 2 {
		t.Errorf("stats a = %+v", stats)
	}
}

func TestRegistry_SetServers(t *testing.T) {
	srv := newFakeServer().withInitialize(ServerCapabilities{})
	reg := newTestRegistry(srv)
	defer reg.Shutdown(context.Background())
	ctx := context.Background()

	first := map[string]types.ServerConfig{
		"keep":   {Command: "keep", Enabled: true},
		"change": {Command: "v1", Enabled: true},
		"drop":   {Command: "drop", Enabled: true},
	}
	res := reg.SetServers(ctx, first)
	if fmt.Sprint(res.Added) != "[change drop keep]" || len(res.Errors) != 0 {
		t.Fatalf("first result = %+v", res)
	}
	keep, _ := reg.Get("keep")

	second := map[string]types.ServerConfig{
		"keep":   {Command: "keep", Enabled: true},
		"change": {Command: "v2", Enabled: true},
		"new":    {Command: "new"},
	}
	res = reg.SetServers(ctx, second)
	if fmt.Sprint(res.Added) != "[new]" || fmt.Sprint(res.Removed) != "[drop]" || fmt.Sprint(res.Updated) != "[change]" {
		t.Errorf("second result = %+v", res)
	}

	if again, _ := reg.Get("keep"); again != keep {
		t.Error("unchanged server was replaced")
	}
	if keep.Status() != StatusConnected {
		t.Errorf("keep status = %s", keep.Status())
	}
	if _, err := reg.Get("drop"); !errors.Is(err, ErrUnknownServer) {
		t.Error("drop still registered")
	}
	change, _ := reg.Get("change")
	if change.Config().Command != "v2" || change.Status() != StatusConnected {
		t.Errorf("change = %+v %s", change.Config(), change.Status())
	}
	if nw, _ := reg.Get("new"); nw.Status() != StatusDisconnected {
		t.Errorf("disabled new server status = %s", nw.Status())
	}
}

func TestRegistry_SetServersReportsConnectErrors(t *testing.T) {
	srv := newFakeServer()
	srv.failOpens(errRefused)
	reg := newTestRegistry(srv)

	res := reg.SetServers(context.Background(), map[string]types.ServerConfig{
		"down": {Command: "x", Enabled: true},
	})
	if len(res.Errors) != 1 || res.Errors["down"] == "" {
		t.Errorf("result = %+v", res)
	}
	if _, err := reg.Get("down"); err != nil {
		t.Error("server with failed connect should stay registered")
	}
}

func TestRegistry_Shutdown(t *testing.T) {
	srv := newFakeServer().
		withInitialize(ServerCapabilities{Tools: &ToolsCapability{}}).
		withSilence(MethodToolsCall)
	reg := newTestRegistry(srv)
	for _, id := range []string{"a", "b"} {
		if _, err := reg.Add(testConfig(id)); err != nil {
			t.Fatal(err)
		}
	}
	if err := reg.ConnectAll(context.Background()); err != nil {
		t.Fatal(err)
	}

	errCh := make(chan error, 1)
	go func() {
		_, err := reg.CallTool(context.Background(), "a", "wait", nil)
		errCh <- err
	}()
	conn, _ := reg.Get("a")
	waitFor(t, "pending call", func() bool { return conn.pending.len() == 1 })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := reg.Shutdown(ctx); err != nil {
		t.Fatal(err)
	}
	if err := <-errCh; !errors.Is(err, ErrConnectionClosed) {
		t.Errorf("pending call err = %v", err)
	}
	for _, s := range reg.Statuses() {
		if s.Status != StatusDisconnected {
			t.Errorf("%s status = %s", s.ID, s.Status)
		}
	}
	if g := reg.GlobalStats(); g.ActiveConnections != 0 {
		t.Errorf("active = %d", g.ActiveConnections)
	}
	if _, err := reg.Add(testConfig("late")); !errors.Is(err, ErrRegistryClosed) {
		t.Errorf("Add after shutdown err = %v", err)
	}
	if err := reg.Connect(context.Background(), "a"); !errors.Is(err, ErrRegistryClosed) {
		t.Errorf("Connect after shutdown err = %v", err)
	}
}

func TestRegistry_Remove(t *testing.T) {
	srv := newFakeServer().withInitialize(ServerCapabilities{})
	reg := newTestRegistry(srv)
	if _, err := reg.Add(testConfig("x")); err != nil {
		t.Fatal(err)
	}
	if err := reg.Connect(context.Background(), "x"); err != nil {
		t.Fatal(err)
	}
	conn, _ := reg.Get("x")

	if err := reg.Remove("x"); err != nil {
		t.Fatal(err)
	}
	if conn.Status() != StatusDisconnected {
		t.Errorf("status = %s", conn.Status())
	}
	if err := reg.Remove("x"); !errors.Is(err, ErrUnknownServer) {
		t.Errorf("second Remove err = %v", err)
	}
}
