package mcp

import (
	"fmt"

	"github.com/jg-phare/mcpconn/pkg/transport"
	"github.com/jg-phare/mcpconn/pkg/types"
)

// TransportFactory builds an unopened transport for a server. A Connection
// calls it once per connect attempt.
type TransportFactory func(cfg types.ServerConfig) (transport.Transport, error)

// DefaultTransportFactory maps the configured type onto the pipe, stream and
// socket transports.
func DefaultTransportFactory(cfg types.ServerConfig) (transport.Transport, error) {
	switch cfg.Type {
	case types.TransportStdio:
		return transport.NewPipeTransport(cfg.Command, cfg.Args, cfg.Env, cfg.Dir), nil
	case types.TransportSSE:
		return transport.NewStreamTransport(cfg.URL, cfg.PostURL, cfg.Headers, nil), nil
	case types.TransportWebSocket:
		return transport.NewWebSocketTransport(cfg.URL, cfg.Headers), nil
	default:
		return nil, fmt.Errorf("unsupported transport type: %q", cfg.Type)
	}
}
