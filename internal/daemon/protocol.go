package daemon

import (
	"encoding/json"
	"fmt"

	fmerrors "github.com/Aman-CERP/fmindex/internal/errors"
	"github.com/Aman-CERP/fmindex/internal/router"
)

// Methods served over the socket. Each connection carries one
// newline-terminated JSON-RPC 2.0 request and its response.
const (
	MethodQuery  = "query"
	MethodStatus = "status"
	MethodPing   = "ping"
)

const jsonrpcVersion = "2.0"

// JSON-RPC error codes. ErrCodeTimeout is in the implementation-defined
// server error range.
const (
	ErrCodeParseError     = -32700
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
	ErrCodeTimeout        = -32001
)

type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      string          `json:"id"`
}

// Response carries exactly one of Result and Error.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
	ID      string          `json:"id"`
}

// Error is a JSON-RPC error object. Data, when set, is the
// *fmerrors.JSONError behind it.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

func NewRequest(id, method string, params any) (Request, error) {
	req := Request{JSONRPC: jsonrpcVersion, Method: method, ID: id}
	if params == nil {
		return req, nil
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return Request{}, fmt.Errorf("encode params: %w", err)
	}
	req.Params = raw
	return req, nil
}

// NewSuccessResponse encodes result, degrading to an internal error when
// it cannot be marshaled.
func NewSuccessResponse(id string, result any) Response {
	raw, err := json.Marshal(result)
	if err != nil {
		return NewErrorResponse(id, ErrCodeInternalError, "failed to encode result: "+err.Error())
	}
	return Response{JSONRPC: jsonrpcVersion, Result: raw, ID: id}
}

func NewErrorResponse(id string, code int, message string) Response {
	return Response{JSONRPC: jsonrpcVersion, Error: &Error{Code: code, Message: message}, ID: id}
}

// newFMErrorResponse reports err under the given RPC code with its
// structured form attached as data.
func newFMErrorResponse(id string, code int, err error) Response {
	je := fmerrors.ToJSON(err)
	resp := NewErrorResponse(id, code, je.Message)
	resp.Error.Data = je
	return resp
}

// QueryParams are the parameters of the query method.
type QueryParams = router.Request

// QueryResult is the routed response, status and latency included.
type QueryResult = router.Response

type StatusResult struct {
	Running bool     `json:"running"`
	PID     int      `json:"pid"`
	Uptime  string   `json:"uptime"`
	Indexes []string `json:"indexes"`
	// Queries served since start.
	Queries int64 `json:"queries"`
	// InFlight excludes the status request itself.
	InFlight int64 `json:"in_flight"`
}

type PingResult struct {
	Pong bool `json:"pong"`
}
