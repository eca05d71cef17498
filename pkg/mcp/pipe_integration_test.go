package mcp

import (
	"context"
	"os/exec"
	"testing"

	"github.com/jg-phare/mcpconn/pkg/types"
)

// scriptedServer answers initialize with id 1 and tools/list with id 2, then
// idles until stdin closes.
const scriptedServer = `
read init
echo '{"jsonrpc":"2.0","id":1,"result":{"protocolVersion":"2025-06-18","capabilities":{"tools":{}},"serverInfo":{"name":"sh","version":"1"}}}'
read initialized
read list
echo '{"jsonrpc":"2.0","id":2,"result":{"tools":[{"name":"echo","description":"Echo input"}]}}'
cat >/dev/null
`

func TestPipeServer_ListTools(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	reg := NewRegistry(WithLogger(testLogger()))
	defer reg.Shutdown(context.Background())

	_, err := reg.Add(types.ServerConfig{
		ID:      "scripted",
		Command: "sh",
		Args:    []string{"-c", scriptedServer},
		Enabled: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := reg.Connect(ctx, "scripted"); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	tools, err := reg.ListTools(ctx, "scripted")
	if err != nil {
		t.Fatal(err)
	}
	if len(tools) != 1 || tools[0].Name != "echo" {
		t.Errorf("tools = %+v", tools)
	}
	st, _ := reg.Status("scripted")
	if st.ServerInfo == nil || st.ServerInfo.Name != "sh" {
		t.Errorf("status = %+v", st)
	}
}
