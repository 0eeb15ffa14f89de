package daemon

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/fmindex/internal/router"
)

func TestClient_NotRunning(t *testing.T) {
	client := NewClient(Config{SocketPath: serverTestSocketPath(t), Timeout: time.Second})

	assert.False(t, client.IsRunning())
	require.Error(t, client.Ping(context.Background()))

	_, err := client.Query(context.Background(), QueryParams{Index: "pile", Operation: "count", Query: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connect to")
}

func TestClient_PingAndStatus(t *testing.T) {
	cfg := startTestServer(t, Config{}, &fakeHandler{indexes: []string{"pile"}})
	client := NewClient(cfg)

	assert.True(t, client.IsRunning())
	require.NoError(t, client.Ping(context.Background()))

	status, err := client.Status(context.Background())
	require.NoError(t, err)
	assert.True(t, status.Running)
	assert.Equal(t, os.Getpid(), status.PID)
	assert.Equal(t, []string{"pile"}, status.Indexes)
}

func TestClient_Query(t *testing.T) {
	h := &fakeHandler{}
	cfg := startTestServer(t, Config{}, h)
	client := NewClient(cfg)

	res, err := client.Query(context.Background(), QueryParams{
		Index:     "pile",
		Operation: "locate",
		Query:     "nature",
		Params:    json.RawMessage(`{"num_occ":2}`),
	})
	require.NoError(t, err)
	assert.Equal(t, router.StatusSuccess, res.Status)

	// Results arrive as generic JSON values.
	m, ok := res.Result.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 7.0, m["cnt"])

	seen := h.calls()
	require.Len(t, seen, 1)
	assert.JSONEq(t, `{"num_occ":2}`, string(seen[0].Params))
}

func TestClient_RPCErrorSurfaces(t *testing.T) {
	h := &fakeHandler{block: make(chan struct{})}
	defer close(h.block)
	cfg := startTestServer(t, Config{Timeout: 100 * time.Millisecond}, h)

	client := NewClient(Config{SocketPath: cfg.SocketPath, Timeout: 2 * time.Second})
	_, err := client.Query(context.Background(), QueryParams{Index: "pile", Operation: "count", Query: "x"})
	require.Error(t, err)

	var rpcErr *Error
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, ErrCodeTimeout, rpcErr.Code)
}

func TestClient_ContextDeadline(t *testing.T) {
	h := &fakeHandler{block: make(chan struct{})}
	defer close(h.block)
	cfg := startTestServer(t, Config{Timeout: 5 * time.Second}, h)

	client := NewClient(Config{SocketPath: cfg.SocketPath, Timeout: 5 * time.Second})
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := client.Query(ctx, QueryParams{Index: "pile", Operation: "count", Query: "x"})
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestClient_RequestIDsAreUnique(t *testing.T) {
	client := NewClient(DefaultConfig())
	assert.NotEqual(t, client.nextID(), client.nextID())
}
