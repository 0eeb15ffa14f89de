package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/fmindex/internal/router"
)

// serverTestSocketPath creates a unique socket path for server tests.
// Unix socket paths are length limited, so t.TempDir is avoided.
func serverTestSocketPath(t *testing.T) string {
	t.Helper()
	socketPath := filepath.Join("/tmp", fmt.Sprintf("fmindex-server-test-%d.sock", time.Now().UnixNano()))
	t.Cleanup(func() { os.Remove(socketPath) })
	return socketPath
}

// fakeHandler answers queries with a fixed count and can be told to block.
type fakeHandler struct {
	mu      sync.Mutex
	seen    []QueryParams
	block   chan struct{}
	indexes []string
}

func (h *fakeHandler) HandleQuery(_ context.Context, params QueryParams) QueryResult {
	h.mu.Lock()
	h.seen = append(h.seen, params)
	block := h.block
	h.mu.Unlock()
	if block != nil {
		<-block
	}
	return QueryResult{Status: router.StatusSuccess, Result: map[string]int{"cnt": 7}, LatencyMS: 0.1}
}

func (h *fakeHandler) calls() []QueryParams {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]QueryParams(nil), h.seen...)
}

func (h *fakeHandler) GetStatus() StatusResult {
	return StatusResult{Indexes: h.indexes, Queries: 3}
}

// startTestServer runs a server until the test ends.
func startTestServer(t *testing.T, cfg Config, h RequestHandler) Config {
	t.Helper()
	if cfg.SocketPath == "" {
		cfg.SocketPath = serverTestSocketPath(t)
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.ShutdownGracePeriod == 0 {
		cfg.ShutdownGracePeriod = time.Second
	}

	srv, err := NewServer(cfg)
	require.NoError(t, err)
	if h != nil {
		srv.SetHandler(h)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-errCh:
		case <-time.After(2 * time.Second):
			t.Error("server did not stop")
		}
	})

	require.Eventually(t, func() bool {
		_, err := os.Stat(cfg.SocketPath)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
	return cfg
}

// rawCall sends one raw line and decodes the response.
func rawCall(t *testing.T, socketPath, line string) Response {
	t.Helper()
	conn, err := net.Dial("unix", socketPath)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte(line + "\n"))
	require.NoError(t, err)

	var resp Response
	require.NoError(t, json.NewDecoder(conn).Decode(&resp))
	return resp
}

func TestNewServer(t *testing.T) {
	_, err := NewServer(Config{})
	require.Error(t, err)

	socketPath := serverTestSocketPath(t)
	srv, err := NewServer(Config{SocketPath: socketPath})
	require.NoError(t, err)
	assert.Equal(t, socketPath, srv.socketPath)
	assert.Equal(t, DefaultConfig().Timeout, srv.timeout)
}

func TestServer_ListenAndServe(t *testing.T) {
	socketPath := serverTestSocketPath(t)
	srv, err := NewServer(Config{SocketPath: socketPath})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe(ctx)
	}()

	time.Sleep(50 * time.Millisecond)
	_, err = os.Stat(socketPath)
	require.NoError(t, err)

	cancel()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}

	// The socket is removed on shutdown.
	_, err = os.Stat(socketPath)
	assert.True(t, os.IsNotExist(err))
}

func TestServer_RemovesStaleSocket(t *testing.T) {
	socketPath := serverTestSocketPath(t)
	require.NoError(t, os.WriteFile(socketPath, []byte("stale"), 0644))

	startTestServer(t, Config{SocketPath: socketPath}, nil)
	resp := rawCall(t, socketPath, `{"jsonrpc":"2.0","method":"ping","id":"1"}`)
	assert.Nil(t, resp.Error)
}

func TestServer_ProtocolErrors(t *testing.T) {
	cfg := startTestServer(t, Config{}, nil)

	tests := []struct {
		name string
		line string
		code int
	}{
		{"malformed json", `{not json`, ErrCodeParseError},
		{"wrong version", `{"jsonrpc":"1.0","method":"ping","id":"1"}`, ErrCodeInvalidRequest},
		{"unknown method", `{"jsonrpc":"2.0","method":"search","id":"1"}`, ErrCodeMethodNotFound},
		{"no handler", `{"jsonrpc":"2.0","method":"query","params":{"index":"pile"},"id":"1"}`, ErrCodeInternalError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := rawCall(t, cfg.SocketPath, tt.line)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.code, resp.Error.Code)
		})
	}
}

func TestServer_QueryParams(t *testing.T) {
	h := &fakeHandler{}
	cfg := startTestServer(t, Config{}, h)

	resp := rawCall(t, cfg.SocketPath, `{"jsonrpc":"2.0","method":"query","id":"1"}`)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeInvalidParams, resp.Error.Code)

	resp = rawCall(t, cfg.SocketPath, `{"jsonrpc":"2.0","method":"query","params":[1,2],"id":"2"}`)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeInvalidParams, resp.Error.Code)
	data, ok := resp.Error.Data.(map[string]any)
	require.True(t, ok, "structured error data")
	assert.Equal(t, "ERR_401_INVALID_INPUT", data["code"])
	assert.Equal(t, "VALIDATION", data["category"])

	resp = rawCall(t, cfg.SocketPath,
		`{"jsonrpc":"2.0","method":"query","params":{"index":"pile","operation":"count","query":"nature"},"id":"3"}`)
	require.Nil(t, resp.Error)
	assert.Equal(t, "3", resp.ID)

	var res QueryResult
	require.NoError(t, json.Unmarshal(resp.Result, &res))
	assert.Equal(t, router.StatusSuccess, res.Status)

	seen := h.calls()
	require.Len(t, seen, 1)
	assert.Equal(t, "pile", seen[0].Index)
	assert.Equal(t, "count", seen[0].Operation)
	assert.Equal(t, "nature", seen[0].Query)
}

func TestServer_QueryTimeout(t *testing.T) {
	h := &fakeHandler{block: make(chan struct{})}
	defer close(h.block)
	cfg := startTestServer(t, Config{Timeout: 100 * time.Millisecond}, h)

	resp := rawCall(t, cfg.SocketPath,
		`{"jsonrpc":"2.0","method":"query","params":{"index":"pile","operation":"count","query":"x"},"id":"1"}`)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeTimeout, resp.Error.Code)
}

func TestServer_Status(t *testing.T) {
	cfg := startTestServer(t, Config{}, &fakeHandler{indexes: []string{"pile", "wiki"}})

	resp := rawCall(t, cfg.SocketPath, `{"jsonrpc":"2.0","method":"status","id":"1"}`)
	require.Nil(t, resp.Error)

	var status StatusResult
	require.NoError(t, json.Unmarshal(resp.Result, &status))
	assert.True(t, status.Running)
	assert.Equal(t, os.Getpid(), status.PID)
	assert.Equal(t, []string{"pile", "wiki"}, status.Indexes)
	assert.Equal(t, int64(3), status.Queries)
	assert.NotEmpty(t, status.Uptime)
}

func TestServer_Close(t *testing.T) {
	srv, err := NewServer(Config{SocketPath: serverTestSocketPath(t)})
	require.NoError(t, err)
	// Closing a server that never listened is a no-op.
	assert.NoError(t, srv.Close())
}

func TestServer_StatusCountsInFlight(t *testing.T) {
	h := &fakeHandler{block: make(chan struct{})}
	cfg := startTestServer(t, Config{}, h)
	defer close(h.block)

	go func() {
		conn, err := net.Dial("unix", cfg.SocketPath)
		if err != nil {
			return
		}
		defer conn.Close()
		_, _ = conn.Write([]byte(`{"jsonrpc":"2.0","method":"query","params":{"index":"pile","operation":"count","query":"x"},"id":"q"}` + "\n"))
		_, _ = conn.Read(make([]byte, 1))
	}()
	require.Eventually(t, func() bool { return len(h.calls()) == 1 }, 2*time.Second, 10*time.Millisecond)

	resp := rawCall(t, cfg.SocketPath, `{"jsonrpc":"2.0","method":"status","id":"s"}`)
	require.Nil(t, resp.Error)
	var status StatusResult
	require.NoError(t, json.Unmarshal(resp.Result, &status))
	assert.Equal(t, int64(1), status.InFlight)
}
