package mcp

import (
	"encoding/json"
	"testing"
)

func TestInitializeResultUnmarshal_FullCapabilities(t *testing.T) {
	raw := `{
		"protocolVersion": "2025-06-18",
		"capabilities": {
			"tools": {"listChanged": true},
			"resources": {"subscribe": true, "listChanged": true},
			"prompts": {"listChanged": false},
			"logging": {}
		},
		"serverInfo": {"name": "test-server", "version": "1.0.0"},
		"instructions": "Use search before fetch."
	}`
	var result InitializeResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		t.Fatal(err)
	}
	if result.ServerInfo.Name != "test-server" {
		t.Errorf("serverInfo.name: got %q", result.ServerInfo.Name)
	}
	if result.Capabilities.Tools == nil || !result.Capabilities.Tools.ListChanged {
		t.Error("expected tools.listChanged")
	}
	if result.Capabilities.Resources == nil || !result.Capabilities.Resources.Subscribe {
		t.Error("expected resources.subscribe")
	}
	if result.Capabilities.Prompts == nil {
		t.Error("expected prompts capability even with listChanged false")
	}
	if result.Capabilities.Logging == nil {
		t.Error("expected logging capability from empty object")
	}
	if result.Instructions != "Use search before fetch." {
		t.Errorf("instructions: got %q", result.Instructions)
	}
}

func TestInitializeResultUnmarshal_EmptyCapabilities(t *testing.T) {
	raw := `{"protocolVersion":"2024-11-05","capabilities":{},"serverInfo":{"name":"bare","version":"0"}}`
	var result InitializeResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		t.Fatal(err)
	}
	caps := result.Capabilities
	if caps.Tools != nil || caps.Resources != nil || caps.Prompts != nil || caps.Logging != nil {
		t.Errorf("expected no capabilities, got %+v", caps)
	}
}

func TestInitializeParamsMarshal(t *testing.T) {
	data, err := json.Marshal(InitializeParams{
		ProtocolVersion: LatestProtocolVersion,
		ClientInfo:      ClientInfo{Name: "mcpconn", Version: "1.2.3"},
	})
	if err != nil {
		t.Fatal(err)
	}
	want := `{"protocolVersion":"2025-06-18","capabilities":{},"clientInfo":{"name":"mcpconn","version":"1.2.3"}}`
	if string(data) != want {
		t.Errorf("got  %s\nwant %s", data, want)
	}
}

func TestToolAnnotations_HintNames(t *testing.T) {
	raw := `{"name":"rm","annotations":{"readOnlyHint":false,"destructiveHint":true,"idempotentHint":true,"openWorldHint":false}}`
	var tool ToolInfo
	if err := json.Unmarshal([]byte(raw), &tool); err != nil {
		t.Fatal(err)
	}
	a := tool.Annotations
	if a == nil || a.ReadOnly == nil || *a.ReadOnly {
		t.Errorf("readOnlyHint not decoded: %+v", a)
	}
	if a.Destructive == nil || !*a.Destructive {
		t.Error("destructiveHint not decoded")
	}
	if a.Idempotent == nil || !*a.Idempotent {
		t.Error("idempotentHint not decoded")
	}
	if a.OpenWorld == nil || *a.OpenWorld {
		t.Error("openWorldHint not decoded")
	}
}

func TestToolResultText(t *testing.T) {
	raw := `{"content":[
		{"type":"text","text":"line one"},
		{"type":"image","data":"iVBORw0KGgo=","mimeType":"image/png"},
		{"type":"text","text":"line two"}
	]}`
	var result ToolResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		t.Fatal(err)
	}
	if got := result.Text(); got != "line one\nline two" {
		t.Errorf("Text() = %q", got)
	}
}

func TestGetPromptResultUnmarshal(t *testing.T) {
	raw := `{
		"description": "Review code",
		"messages": [
			{"role": "user", "content": {"type": "text", "text": "Please review main.go"}},
			{"role": "user", "content": {"type": "resource", "resource": {"uri": "file:///main.go", "text": "package main"}}}
		]
	}`
	var result GetPromptResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		t.Fatal(err)
	}
	if len(result.Messages) != 2 {
		t.Fatalf("messages: got %d", len(result.Messages))
	}
	if result.Messages[1].Content.Resource == nil || result.Messages[1].Content.Resource.URI != "file:///main.go" {
		t.Errorf("embedded resource not decoded: %+v", result.Messages[1].Content)
	}
}

func TestProgressParamsKeepsTokenVerbatim(t *testing.T) {
	var p ProgressParams
	if err := json.Unmarshal([]byte(`{"progressToken":"abc-1","progress":3,"total":10,"message":"indexing"}`), &p); err != nil {
		t.Fatal(err)
	}
	if string(p.ProgressToken) != `"abc-1"` || p.Progress != 3 || p.Total != 10 {
		t.Errorf("got %+v", p)
	}
}
