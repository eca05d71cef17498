package mcp

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrConnectionClosed fails every request still pending when a connection is torn down.
	ErrConnectionClosed = errors.New("connection closed")
	// ErrNotConnected is matched by every *NotConnectedError.
	ErrNotConnected = errors.New("not connected")
	// ErrUnknownServer is returned for server ids the registry does not hold.
	ErrUnknownServer = errors.New("unknown server")
	// ErrServerDisabled is returned when connecting a server whose config is disabled.
	ErrServerDisabled = errors.New("server disabled")
	// ErrToolNotAllowed is returned by CallTool for tools filtered out by the server config.
	ErrToolNotAllowed = errors.New("tool not allowed")
	// ErrDuplicateServer is returned by Registry.Add for an id already registered.
	ErrDuplicateServer = errors.New("server already registered")
	// ErrRegistryClosed is returned once Shutdown has started.
	ErrRegistryClosed = errors.New("registry closed")
)

// TransportOpenError reports that the process, socket or stream could not be opened.
type TransportOpenError struct {
	ServerID string
	Err      error
}

func (e *TransportOpenError) Error() string {
	return fmt.Sprintf("open transport for %q: %v", e.ServerID, e.Err)
}

func (e *TransportOpenError) Unwrap() error { return e.Err }

// TransportSendError reports that a message could not be written, including
// transports that cannot send at all.
type TransportSendError struct {
	ServerID string
	Method   string
	Err      error
}

func (e *TransportSendError) Error() string {
	return fmt.Sprintf("send %s to %q: %v", e.Method, e.ServerID, e.Err)
}

func (e *TransportSendError) Unwrap() error { return e.Err }

// ProtocolParseError reports inbound bytes that were not a valid JSON-RPC message.
// Such messages are dropped; the connection survives.
type ProtocolParseError struct {
	Raw []byte
	Err error
}

func (e *ProtocolParseError) Error() string {
	return fmt.Sprintf("parse message: %v", e.Err)
}

func (e *ProtocolParseError) Unwrap() error { return e.Err }

// RequestTimeoutError reports that no response arrived within the configured timeout.
type RequestTimeoutError struct {
	Method  string
	Timeout time.Duration
}

func (e *RequestTimeoutError) Error() string {
	return "request timeout: " + e.Method
}

// RemoteError is an error object returned by the server, preserved verbatim.
type RemoteError struct {
	Method  string
	Code    int
	Message string
	Data    json.RawMessage
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: %s (code %d)", e.Method, e.Message, e.Code)
}

// NotConnectedError is returned by API calls made while the connection is
// not in the connected state. No I/O happens.
type NotConnectedError struct {
	ServerID string
	Status   ConnectionStatus
}

func (e *NotConnectedError) Error() string {
	return fmt.Sprintf("server %q not connected (status %s)", e.ServerID, e.Status)
}

func (e *NotConnectedError) Unwrap() error { return ErrNotConnected }

// HandshakeError reports that initialize failed or the server's answer was
// incompatible with this client or with the server's declared capabilities.
type HandshakeError struct {
	ServerID string
	Reason   string
	Err      error
}

func (e *HandshakeError) Error() string {
	msg := fmt.Sprintf("handshake with %q failed: %s", e.ServerID, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *HandshakeError) Unwrap() error { return e.Err }
