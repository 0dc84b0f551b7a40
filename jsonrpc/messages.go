package jsonrpc

import (
	"encoding/json"
	"fmt"
)

// ProtocolVersion is the supported JSON-RPC protocol version.
const ProtocolVersion = "2.0"

// Message is the raw JSON representation of a JSON-RPC message.
type Message []byte

// AnyMessage is a generic JSON-RPC message (request, notification, or
// response). Decoding is deliberately lax: the envelope version and the
// presence of a method are validated by the protocol engine, which answers
// violations with the mandated JSON-RPC error codes instead of a decode
// failure.
type AnyMessage struct {
	JSONRPCVersion string          `json:"jsonrpc"`
	Method         string          `json:"method,omitempty"`
	Params         json.RawMessage `json:"params,omitempty"`
	Result         json.RawMessage `json:"result,omitempty"`
	Error          *Error          `json:"error,omitempty"`
	ID             *RequestID      `json:"id,omitempty"`
}

// Request represents a JSON-RPC request (with an ID) or notification (without ID).
type Request struct {
	JSONRPCVersion string          `json:"jsonrpc"`
	Method         string          `json:"method"`
	Params         json.RawMessage `json:"params,omitempty"`
	ID             *RequestID      `json:"id,omitempty"`
}

// Response represents a JSON-RPC response.
type Response struct {
	JSONRPCVersion string          `json:"jsonrpc"`
	Result         json.RawMessage `json:"result,omitempty"`
	Error          *Error          `json:"error,omitempty"`
	ID             *RequestID      `json:"id"`
}

// Error is a JSON-RPC error object.
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Data    any       `json:"data,omitempty"`
}

// NewRequest builds a request message with the given id.
func NewRequest(id *RequestID, method string, params any) (*Request, error) {
	req := &Request{JSONRPCVersion: ProtocolVersion, Method: method, ID: id}
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal params: %w", err)
		}
		req.Params = b
	}
	return req, nil
}

// NewNotification builds a request message without an id. A nil params value
// serializes as an empty object rather than being omitted.
func NewNotification(method string, params any) (*Request, error) {
	if params == nil {
		params = struct{}{}
	}
	return NewRequest(nil, method, params)
}

// NewResultResponse builds a successful JSON-RPC response object.
func NewResultResponse(id *RequestID, result any) (*Response, error) {
	resultBytes, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}

	return &Response{
		JSONRPCVersion: ProtocolVersion,
		Result:         resultBytes,
		ID:             id,
	}, nil
}

// NewErrorResponse builds an error JSON-RPC response with the given code.
func NewErrorResponse(id *RequestID, code ErrorCode, message string, data any) *Response {
	return &Response{
		JSONRPCVersion: ProtocolVersion,
		Error: &Error{
			Code:    code,
			Message: message,
			Data:    data,
		},
		ID: id,
	}
}

// Type returns "request", "notification", or "response" depending on the
// message shape.
func (m *AnyMessage) Type() string {
	if m.Method != "" {
		if m.ID.IsNil() {
			return "notification"
		}
		return "request"
	}
	return "response"
}

// AsRequest returns the message as a Request if it carries a method, otherwise nil.
func (m *AnyMessage) AsRequest() *Request {
	if m.Method == "" {
		return nil
	}

	return &Request{
		JSONRPCVersion: m.JSONRPCVersion,
		Method:         m.Method,
		Params:         m.Params,
		ID:             m.ID,
	}
}

// AsResponse returns the message as a Response if it carries a result or
// error, otherwise nil.
func (m *AnyMessage) AsResponse() *Response {
	if m.Method != "" || (len(m.Result) == 0 && m.Error == nil) {
		return nil
	}

	return &Response{
		JSONRPCVersion: m.JSONRPCVersion,
		Result:         m.Result,
		Error:          m.Error,
		ID:             m.ID,
	}
}

// MarshalJSON implements json.Marshaler. Response-shaped messages always
// carry an explicit id (null when unknown, e.g. parse errors); requests and
// notifications omit an absent id.
func (m AnyMessage) MarshalJSON() ([]byte, error) {
	version := m.JSONRPCVersion
	if version == "" {
		version = ProtocolVersion
	}

	if m.Method == "" {
		type responseWire struct {
			JSONRPCVersion string          `json:"jsonrpc"`
			Result         json.RawMessage `json:"result,omitempty"`
			Error          *Error          `json:"error,omitempty"`
			ID             *RequestID      `json:"id"`
		}
		return json.Marshal(responseWire{
			JSONRPCVersion: version,
			Result:         m.Result,
			Error:          m.Error,
			ID:             m.ID,
		})
	}

	type requestWire struct {
		JSONRPCVersion string          `json:"jsonrpc"`
		Method         string          `json:"method"`
		Params         json.RawMessage `json:"params,omitempty"`
		ID             *RequestID      `json:"id,omitempty"`
	}
	return json.Marshal(requestWire{
		JSONRPCVersion: version,
		Method:         m.Method,
		Params:         m.Params,
		ID:             m.ID,
	})
}

// Encode serializes the message, injecting the protocol version if absent.
func (m *AnyMessage) Encode() (Message, error) {
	if m.JSONRPCVersion == "" {
		m.JSONRPCVersion = ProtocolVersion
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message: %w", err)
	}
	return Message(b), nil
}

// ResponseMessage converts a Response into the generic message form.
func ResponseMessage(res *Response) *AnyMessage {
	return &AnyMessage{
		JSONRPCVersion: res.JSONRPCVersion,
		Result:         res.Result,
		Error:          res.Error,
		ID:             res.ID,
	}
}

// RequestMessage converts a Request into the generic message form.
func RequestMessage(req *Request) *AnyMessage {
	return &AnyMessage{
		JSONRPCVersion: req.JSONRPCVersion,
		Method:         req.Method,
		Params:         req.Params,
		ID:             req.ID,
	}
}
