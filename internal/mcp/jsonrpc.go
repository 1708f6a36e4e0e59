package mcp

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

const jsonrpcVersion = "2.0"

// Standard JSON-RPC error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// Kind discriminates the JSON-RPC message variants.
type Kind int

const (
	KindRequest Kind = iota + 1
	KindNotification
	KindResponse
	KindErrorResponse
)

func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindNotification:
		return "notification"
	case KindResponse:
		return "response"
	case KindErrorResponse:
		return "error response"
	default:
		return "unknown"
	}
}

// Message is one of *Request, *Notification, *Response or *ErrorResponse.
type Message interface {
	Kind() Kind
	message()
}

// RequestID is a JSON-RPC id. Ids we issue are always numeric; ids from
// server-initiated requests are echoed back verbatim.
type RequestID struct {
	raw json.RawMessage
}

// NumericID returns the id for n.
func NumericID(n int64) RequestID {
	return RequestID{raw: json.RawMessage(strconv.FormatInt(n, 10))}
}

// Int64 reports the numeric value of the id, if it has one.
func (id RequestID) Int64() (int64, bool) {
	if len(id.raw) == 0 || id.raw[0] == '"' {
		return 0, false
	}
	n, err := strconv.ParseInt(string(id.raw), 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// IsNull reports whether the id is absent or JSON null.
func (id RequestID) IsNull() bool {
	return len(id.raw) == 0 || bytes.Equal(id.raw, []byte("null"))
}

func (id RequestID) String() string {
	if id.IsNull() {
		return "null"
	}
	return string(id.raw)
}

func (id RequestID) MarshalJSON() ([]byte, error) {
	if len(id.raw) == 0 {
		return []byte("null"), nil
	}
	return id.raw, nil
}

func (id *RequestID) UnmarshalJSON(data []byte) error {
	id.raw = append(id.raw[:0], data...)
	return nil
}

// Request is a call that expects a response.
type Request struct {
	ID     RequestID
	Method string
	Params json.RawMessage
}

// Notification is a one-way message; it has no id.
type Notification struct {
	Method string
	Params json.RawMessage
}

// Response carries the result of a request.
type Response struct {
	ID     RequestID
	Result json.RawMessage
}

// ErrorResponse carries a JSON-RPC error object. ID is null when the peer
// could not parse the request.
type ErrorResponse struct {
	ID    RequestID
	Error RPCError
}

func (*Request) Kind() Kind       { return KindRequest }
func (*Notification) Kind() Kind  { return KindNotification }
func (*Response) Kind() Kind      { return KindResponse }
func (*ErrorResponse) Kind() Kind { return KindErrorResponse }

func (*Request) message()       {}
func (*Notification) message()  {}
func (*Response) message()      {}
func (*ErrorResponse) message() {}

// RPCError is the JSON-RPC error object.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

type wireMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *RequestID      `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// EncodeMessage renders m as a single JSON object. Empty params are omitted
// entirely rather than sent as {} or null.
func EncodeMessage(m Message) ([]byte, error) {
	w := wireMessage{JSONRPC: jsonrpcVersion}
	switch v := m.(type) {
	case *Request:
		id := v.ID
		w.ID = &id
		w.Method = v.Method
		w.Params = v.Params
	case *Notification:
		w.Method = v.Method
		w.Params = v.Params
	case *Response:
		id := v.ID
		w.ID = &id
		w.Result = v.Result
		if len(w.Result) == 0 {
			w.Result = json.RawMessage("{}")
		}
	case *ErrorResponse:
		id := v.ID
		w.ID = &id
		e := v.Error
		w.Error = &e
	default:
		return nil, fmt.Errorf("unsupported message type %T", m)
	}
	return json.Marshal(w)
}

var errUnclassifiable = errors.New("frame is not a JSON-RPC request, notification or response")

// DecodeMessage parses one JSON-RPC frame into its variant. Syntax errors are
// returned as *json.SyntaxError so callers can report the column.
func DecodeMessage(data []byte) (Message, error) {
	var w struct {
		JSONRPC string          `json:"jsonrpc"`
		ID      json.RawMessage `json:"id"`
		Method  string          `json:"method"`
		Params  json.RawMessage `json:"params"`
		Result  json.RawMessage `json:"result"`
		Error   *RPCError       `json:"error"`
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, err
	}
	if w.JSONRPC != "" && w.JSONRPC != jsonrpcVersion {
		return nil, fmt.Errorf("unsupported jsonrpc version %q", w.JSONRPC)
	}

	id := RequestID{raw: w.ID}
	switch {
	case w.Method != "" && !id.IsNull():
		return &Request{ID: id, Method: w.Method, Params: w.Params}, nil
	case w.Method != "":
		return &Notification{Method: w.Method, Params: w.Params}, nil
	case w.Error != nil:
		return &ErrorResponse{ID: id, Error: *w.Error}, nil
	case !id.IsNull():
		return &Response{ID: id, Result: w.Result}, nil
	default:
		return nil, errUnclassifiable
	}
}

// decodeBatch decodes a frame that may be a single message or a JSON array of
// messages.
func decodeBatch(data []byte) ([]Message, error) {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) == 0 || trimmed[0] != '[' {
		m, err := DecodeMessage(data)
		if err != nil {
			return nil, err
		}
		return []Message{m}, nil
	}
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, err
	}
	msgs := make([]Message, 0, len(raws))
	for _, raw := range raws {
		m, err := DecodeMessage(raw)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

func marshalParams(params any) (json.RawMessage, error) {
	switch p := params.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return p, nil
	default:
		data, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("marshal params: %w", err)
		}
		return data, nil
	}
}
