package mcp

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"
)

const jsonrpcVersion = "2.0"

// JSON-RPC error codes used when answering server-initiated requests.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// JSONRPCRequest is a JSON-RPC 2.0 request or notification as written to the wire.
type JSONRPCRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      *int64 `json:"id,omitempty"` // nil for notifications
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// JSONRPCResponse is a JSON-RPC 2.0 response as written to the wire. The id
// is kept raw so replies to server requests echo it verbatim.
type JSONRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *JSONRPCError   `json:"error,omitempty"`
}

// JSONRPCError is the error object in a JSON-RPC 2.0 response.
type JSONRPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *JSONRPCError) Error() string { return e.Message }

// newRequest creates a JSON-RPC 2.0 request with the given ID, method, and params.
func newRequest(id int64, method string, params any) JSONRPCRequest {
	return JSONRPCRequest{
		JSONRPC: jsonrpcVersion,
		ID:      &id,
		Method:  method,
		Params:  params,
	}
}

// newNotification creates a JSON-RPC 2.0 notification (no ID, no response expected).
func newNotification(method string, params any) JSONRPCRequest {
	return JSONRPCRequest{
		JSONRPC: jsonrpcVersion,
		Method:  method,
		Params:  params,
	}
}

// newResultResponse answers id with result. A nil result is sent as null.
func newResultResponse(id json.RawMessage, result json.RawMessage) JSONRPCResponse {
	if len(result) == 0 {
		result = json.RawMessage("null")
	}
	return JSONRPCResponse{JSONRPC: jsonrpcVersion, ID: id, Result: result}
}

// newErrorResponse answers id with an error and never a result.
func newErrorResponse(id json.RawMessage, code int, message string) JSONRPCResponse {
	return JSONRPCResponse{
		JSONRPC: jsonrpcVersion,
		ID:      id,
		Error:   &JSONRPCError{Code: code, Message: message},
	}
}

// MessageKind tags a decoded Message.
type MessageKind int

const (
	KindRequest MessageKind = iota + 1
	KindResponse
	KindNotification
)

func (k MessageKind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindResponse:
		return "response"
	case KindNotification:
		return "notification"
	default:
		return "unknown"
	}
}

// Message is one inbound JSON-RPC document, decoded once at the transport
// boundary. Which fields are set depends on Kind.
type Message struct {
	Kind   MessageKind
	ID     json.RawMessage // request and response
	Method string          // request and notification
	Params json.RawMessage // request and notification
	Result json.RawMessage // response
	Error  *JSONRPCError   // response
}

// wireMessage is the union of every field a JSON-RPC document may carry.
type wireMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *JSONRPCError   `json:"error,omitempty"`
}

// ParseMessage decodes data and classifies it by field presence: id and
// method make a request, method alone a notification, id with result or
// error a response. Anything else is a *ProtocolParseError.
func ParseMessage(data []byte) (Message, error) {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return Message{}, &ProtocolParseError{Raw: data, Err: err}
	}
	if w.JSONRPC != jsonrpcVersion {
		return Message{}, &ProtocolParseError{Raw: data, Err: errors.New("missing or unsupported jsonrpc version")}
	}

	hasID := len(w.ID) > 0 && !bytes.Equal(w.ID, []byte("null"))
	switch {
	case w.Method != "" && hasID:
		return Message{Kind: KindRequest, ID: w.ID, Method: w.Method, Params: w.Params}, nil
	case w.Method != "":
		return Message{Kind: KindNotification, Method: w.Method, Params: w.Params}, nil
	case hasID:
		if w.Error != nil && len(w.Result) > 0 {
			return Message{}, &ProtocolParseError{Raw: data, Err: errors.New("response carries both result and error")}
		}
		if w.Error == nil && len(w.Result) == 0 {
			return Message{}, &ProtocolParseError{Raw: data, Err: errors.New("response carries neither result nor error")}
		}
		return Message{Kind: KindResponse, ID: w.ID, Result: w.Result, Error: w.Error}, nil
	default:
		return Message{}, &ProtocolParseError{Raw: data, Err: errors.New("message has neither id nor method")}
	}
}

// IntID returns the numeric id of the message. Numeric strings are accepted
// since some servers echo ids as strings.
func (m Message) IntID() (int64, bool) {
	if len(m.ID) == 0 {
		return 0, false
	}
	var n int64
	if err := json.Unmarshal(m.ID, &n); err == nil {
		return n, true
	}
	var s string
	if err := json.Unmarshal(m.ID, &s); err == nil {
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n, true
		}
	}
	return 0, false
}
