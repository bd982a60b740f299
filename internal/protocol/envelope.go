// Package protocol defines the JSON-RPC 2.0 envelopes and LSP payload
// shapes exchanged between the RPC client and a language server. It has
// no transport or session behaviour of its own; it is pure data.
package protocol

import "encoding/json"

// Request is an outbound or inbound JSON-RPC 2.0 request: a method call
// that expects a response correlated by ID.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Notification is a JSON-RPC 2.0 message with no ID; it expects no reply.
type Notification struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is a JSON-RPC 2.0 reply. Exactly one of Result and Error is set.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error is a JSON-RPC 2.0 error object.
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil protocol error>"
	}
	return e.Message
}

// Standard JSON-RPC 2.0 error codes used by the dispatcher.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603

	// CodeRequestCancelled is the LSP-defined code for a request that was
	// cancelled via $/cancelRequest before it completed.
	CodeRequestCancelled = -32800
)

// Envelope is the generic shape used to classify an inbound payload
// before it is known to be a request, notification, or response.
type Envelope struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// PayloadKind classifies a decoded JSON-RPC payload per spec.md §4.3's
// dispatch classification order.
type PayloadKind int

const (
	KindUnknown PayloadKind = iota
	KindRequest
	KindNotification
	KindResponse
	KindInvalid
)

// Classify inspects a raw decoded frame and determines how the RPC
// client's dispatcher should route it, per the classification order:
// method present wins over id present.
func Classify(raw json.RawMessage) (PayloadKind, Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return KindInvalid, env, err
	}

	if env.Method != "" {
		if len(env.ID) == 0 {
			return KindNotification, env, nil
		}
		return KindRequest, env, nil
	}

	if len(env.ID) > 0 {
		hasResult := len(env.Result) > 0
		hasError := env.Error != nil
		if hasResult == hasError {
			// both present or both absent: invalid payload.
			return KindInvalid, env, nil
		}
		return KindResponse, env, nil
	}

	return KindUnknown, env, nil
}

// NewRequest builds an outbound Request envelope.
func NewRequest(id int64, method string, params any) (Request, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return Request{}, err
	}
	return Request{JSONRPC: "2.0", ID: id, Method: method, Params: raw}, nil
}

// NewNotification builds an outbound Notification envelope.
func NewNotification(method string, params any) (Notification, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return Notification{}, err
	}
	return Notification{JSONRPC: "2.0", Method: method, Params: raw}, nil
}

// NewResultResponse builds a success Response for a server-originated request.
func NewResultResponse(id json.RawMessage, result any) (Response, error) {
	raw, err := marshalParams(result)
	if err != nil {
		return Response{}, err
	}
	if raw == nil {
		raw = json.RawMessage("null")
	}
	return Response{JSONRPC: "2.0", ID: id, Result: raw}, nil
}

// NewErrorResponse builds an error Response for a server-originated request.
func NewErrorResponse(id json.RawMessage, code int, message string, data any) (Response, error) {
	var raw json.RawMessage
	if data != nil {
		var err error
		raw, err = marshalParams(data)
		if err != nil {
			return Response{}, err
		}
	}
	return Response{JSONRPC: "2.0", ID: id, Error: &Error{Code: code, Message: message, Data: raw}}, nil
}

func marshalParams(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return b, nil
}
