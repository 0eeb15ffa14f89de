package daemon

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/fmindex/internal/router"
)

func TestNewRequest_EncodesParams(t *testing.T) {
	req, err := NewRequest("req-1", MethodQuery, QueryParams{
		Index:     "pile",
		Operation: "locate",
		Query:     "nature",
		Params:    json.RawMessage(`{"num_occ":3}`),
	})
	require.NoError(t, err)
	assert.Equal(t, "2.0", req.JSONRPC)
	assert.Equal(t, MethodQuery, req.Method)

	var params QueryParams
	require.NoError(t, json.Unmarshal(req.Params, &params))
	assert.Equal(t, "pile", params.Index)
	assert.Equal(t, "nature", params.Query)
	assert.JSONEq(t, `{"num_occ":3}`, string(params.Params))
}

func TestNewRequest_NoParams(t *testing.T) {
	req, err := NewRequest("req-2", MethodPing, nil)
	require.NoError(t, err)

	data, err := json.Marshal(req)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "params")
}

func TestNewRequest_UnencodableParams(t *testing.T) {
	_, err := NewRequest("req-3", MethodQuery, make(chan int))
	require.Error(t, err)
}

func TestResponses(t *testing.T) {
	ok := NewSuccessResponse("a", PingResult{Pong: true})
	assert.Nil(t, ok.Error)
	assert.JSONEq(t, `{"pong":true}`, string(ok.Result))

	fail := NewErrorResponse("b", ErrCodeMethodNotFound, "method not found: x")
	require.NotNil(t, fail.Error)
	assert.Empty(t, fail.Result)
	assert.Equal(t, "rpc error -32601: method not found: x", fail.Error.Error())

	bad := NewSuccessResponse("c", func() {})
	require.NotNil(t, bad.Error)
	assert.Equal(t, ErrCodeInternalError, bad.Error.Code)
}

func TestQueryResult_RoundTrip(t *testing.T) {
	resp := NewSuccessResponse("q", QueryResult{
		Status:    router.StatusClientError,
		Error:     "unknown index \"nope\"",
		Code:      "ERR_404",
		LatencyMS: 0.25,
	})

	var got QueryResult
	require.NoError(t, json.Unmarshal(resp.Result, &got))
	assert.Equal(t, router.StatusClientError, got.Status)
	assert.Equal(t, "ERR_404", got.Code)
	assert.InDelta(t, 0.25, got.LatencyMS, 1e-9)
}
