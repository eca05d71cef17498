// Package types holds the configuration records shared between the connection
// manager, the config loader and the command-line tools.
package types

import (
	"errors"
	"fmt"
	"time"
)

// Transport type constants.
const (
	TransportStdio     = "stdio"
	TransportSSE       = "sse"
	TransportWebSocket = "websocket"
)

// Defaults applied by WithDefaults.
const (
	DefaultTimeoutMs            = 30000
	DefaultReconnectDelayMs     = 5000
	DefaultMaxReconnectAttempts = 3
)

// DeclaredCapabilities lists the server features a configuration requires.
// The handshake fails when the server does not offer one of them.
type DeclaredCapabilities struct {
	Tools     bool `json:"tools,omitempty" yaml:"tools,omitempty"`
	Resources bool `json:"resources,omitempty" yaml:"resources,omitempty"`
	Prompts   bool `json:"prompts,omitempty" yaml:"prompts,omitempty"`
	Logging   bool `json:"logging,omitempty" yaml:"logging,omitempty"`
}

// ServerConfig is the static, already-parsed description of one MCP server.
type ServerConfig struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
	Type string `json:"type" yaml:"type"` // "stdio"|"sse"|"websocket"

	// stdio
	Command string            `json:"command,omitempty" yaml:"command,omitempty"`
	Args    []string          `json:"args,omitempty" yaml:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	Dir     string            `json:"dir,omitempty" yaml:"dir,omitempty"`

	// sse/websocket
	URL     string            `json:"url,omitempty" yaml:"url,omitempty"`
	PostURL string            `json:"postUrl,omitempty" yaml:"postUrl,omitempty"` // sse side channel
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`

	Enabled bool `json:"enabled" yaml:"enabled"`

	// AutoReconnect is the only switch for reconnection. MaxReconnectAttempts
	// of zero or less means DefaultMaxReconnectAttempts, not "never"; set
	// AutoReconnect to false instead.
	AutoReconnect        bool `json:"autoReconnect,omitempty" yaml:"autoReconnect,omitempty"`
	MaxReconnectAttempts int  `json:"maxReconnectAttempts,omitempty" yaml:"maxReconnectAttempts,omitempty"`
	ReconnectDelayMs     int  `json:"reconnectDelayMs,omitempty" yaml:"reconnectDelayMs,omitempty"`
	TimeoutMs            int  `json:"timeoutMs,omitempty" yaml:"timeoutMs,omitempty"`

	Capabilities DeclaredCapabilities `json:"capabilities,omitempty" yaml:"capabilities,omitempty"`

	// Glob patterns (doublestar syntax) matched against tool names.
	AllowedTools    []string `json:"allowedTools,omitempty" yaml:"allowedTools,omitempty"`
	DisallowedTools []string `json:"disallowedTools,omitempty" yaml:"disallowedTools,omitempty"`
}

// WithDefaults returns a copy with zero-valued tunables filled in. Zero and
// negative timeouts, delays and attempt limits all take the default.
func (c ServerConfig) WithDefaults() ServerConfig {
	if c.Type == "" && c.Command != "" {
		c.Type = TransportStdio
	}
	if c.Name == "" {
		c.Name = c.ID
	}
	if c.TimeoutMs <= 0 {
		c.TimeoutMs = DefaultTimeoutMs
	}
	if c.ReconnectDelayMs <= 0 {
		c.ReconnectDelayMs = DefaultReconnectDelayMs
	}
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	return c
}

// Validate reports the first problem that would prevent a transport from opening.
func (c ServerConfig) Validate() error {
	if c.ID == "" {
		return errors.New("server config: missing id")
	}
	switch c.Type {
	case TransportStdio, "":
		if c.Command == "" {
			return fmt.Errorf("server %q: stdio transport requires a command", c.ID)
		}
	case TransportSSE, TransportWebSocket:
		if c.URL == "" {
			return fmt.Errorf("server %q: %s transport requires a URL", c.ID, c.Type)
		}
	default:
		return fmt.Errorf("server %q: unsupported transport type: %q", c.ID, c.Type)
	}
	return nil
}

// Timeout is the per-request deadline.
func (c ServerConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// ReconnectDelay is the wait before each reconnection attempt.
func (c ServerConfig) ReconnectDelay() time.Duration {
	return time.Duration(c.ReconnectDelayMs) * time.Millisecond
}

// DisplayName returns Name, falling back to ID.
func (c ServerConfig) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	return c.ID
}
