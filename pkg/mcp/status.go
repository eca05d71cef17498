package mcp

import "time"

// ServerStatus is an external view of a server connection's state.
type ServerStatus struct {
	ID                string              `json:"id"`
	Name              string              `json:"name"`
	Type              string              `json:"type"`
	Enabled           bool                `json:"enabled"`
	Status            ConnectionStatus    `json:"status"`
	SessionID         string              `json:"sessionId,omitempty"`
	ServerInfo        *ServerInfo         `json:"serverInfo,omitempty"`
	Capabilities      *ServerCapabilities `json:"capabilities,omitempty"`
	ProtocolVersion   string              `json:"protocolVersion,omitempty"`
	Instructions      string              `json:"instructions,omitempty"`
	Error             string              `json:"error,omitempty"`
	ReconnectAttempts int                 `json:"reconnectAttempts,omitempty"`
	PendingRequests   int                 `json:"pendingRequests"`
	ConnectedAt       time.Time           `json:"connectedAt,omitzero"`
	Stats             ConnectionStats     `json:"stats"`
}

// ServerStatus returns a snapshot of the connection's state.
func (c *Connection) ServerStatus() ServerStatus {
	c.mu.Lock()
	s := ServerStatus{
		ID:                c.id,
		Name:              c.config.DisplayName(),
		Type:              c.config.Type,
		Enabled:           c.config.Enabled,
		Status:            c.status,
		SessionID:         c.sessionID,
		ServerInfo:        c.serverInfo,
		Capabilities:      c.capabilities,
		ProtocolVersion:   c.protocolVersion,
		Instructions:      c.instructions,
		ReconnectAttempts: c.attempts,
		ConnectedAt:       c.connectedAt,
	}
	if c.lastErr != nil {
		s.Error = c.lastErr.Error()
	}
	if c.status != StatusConnected {
		s.ConnectedAt = time.Time{}
	}
	c.mu.Unlock()

	s.PendingRequests = c.pending.len()
	s.Stats = c.stats.snapshot()
	return s
}

// SetServersResult reports what changed after a SetServers call.
type SetServersResult struct {
	Added   []string          `json:"added,omitempty"`
	Removed []string          `json:"removed,omitempty"`
	Updated []string          `json:"updated,omitempty"`
	Errors  map[string]string `json:"errors,omitempty"`
}
