package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/jg-phare/mcpconn/pkg/transport"
	"github.com/jg-phare/mcpconn/pkg/types"
)

// LatestProtocolVersion is offered in initialize.
const LatestProtocolVersion = "2025-06-18"

// SupportedProtocolVersions lists the versions a server may answer with.
var SupportedProtocolVersions = []string{"2025-06-18", "2025-03-26", "2024-11-05"}

// handshake runs initialize and initialized over t. Nothing else is sent on
// t until it returns nil.
func (c *Connection) handshake(ctx context.Context, t transport.Transport) error {
	if !t.CanWrite() {
		return &HandshakeError{ServerID: c.id, Reason: "transport cannot send initialize", Err: transport.ErrWriteUnsupported}
	}

	params := InitializeParams{
		ProtocolVersion: LatestProtocolVersion,
		Capabilities:    c.clientCaps,
		ClientInfo:      c.clientInfo,
	}
	raw, err := c.request(ctx, t, MethodInitialize, params)
	if err != nil {
		return &HandshakeError{ServerID: c.id, Reason: "initialize", Err: err}
	}

	var result InitializeResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return &HandshakeError{ServerID: c.id, Reason: "parse initialize result", Err: err}
	}
	if !slices.Contains(SupportedProtocolVersions, result.ProtocolVersion) {
		return &HandshakeError{ServerID: c.id, Reason: fmt.Sprintf("unsupported protocol version %q", result.ProtocolVersion)}
	}
	if missing := missingCapabilities(c.config.Capabilities, result.Capabilities); len(missing) > 0 {
		return &HandshakeError{ServerID: c.id, Reason: "server does not offer required capabilities: " + strings.Join(missing, ", ")}
	}

	c.mu.Lock()
	c.serverInfo = &result.ServerInfo
	c.capabilities = &result.Capabilities
	c.protocolVersion = result.ProtocolVersion
	c.instructions = result.Instructions
	c.mu.Unlock()

	if err := c.write(ctx, t, MethodInitialized, newNotification(MethodInitialized, nil)); err != nil {
		return &HandshakeError{ServerID: c.id, Reason: "send initialized", Err: err}
	}
	return nil
}

// missingCapabilities lists what the config requires and the server lacks.
func missingCapabilities(required types.DeclaredCapabilities, offered ServerCapabilities) []string {
	var missing []string
	if required.Tools && offered.Tools == nil {
		missing = append(missing, "tools")
	}
	if required.Resources && offered.Resources == nil {
		missing = append(missing, "resources")
	}
	if required.Prompts && offered.Prompts == nil {
		missing = append(missing, "prompts")
	}
	if required.Logging && offered.Logging == nil {
		missing = append(missing, "logging")
	}
	return missing
}
