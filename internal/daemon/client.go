package daemon

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync/atomic"
	"time"
)

// Client talks to a running server. Every call uses a fresh connection,
// so a Client is safe for concurrent use.
type Client struct {
	socketPath string
	timeout    time.Duration
	seq        atomic.Uint64
}

// NewClient creates a client for the server described by cfg.
func NewClient(cfg Config) *Client {
	return &Client{socketPath: cfg.SocketPath, timeout: cfg.Timeout}
}

func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	d := net.Dialer{Timeout: c.timeout}
	conn, err := d.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", c.socketPath, err)
	}
	return conn, nil
}

// IsRunning reports whether a server accepts connections on the socket.
func (c *Client) IsRunning() bool {
	conn, err := c.dial(context.Background())
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// Ping checks that the server answers requests.
func (c *Client) Ping(ctx context.Context) error {
	var res PingResult
	if err := c.call(ctx, MethodPing, nil, &res); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	if !res.Pong {
		return errors.New("ping: server did not answer pong")
	}
	return nil
}

// Query routes one query through the server. Client and server errors
// of the query itself are reported in the result's status, not as err.
func (c *Client) Query(ctx context.Context, params QueryParams) (*QueryResult, error) {
	var res QueryResult
	if err := c.call(ctx, MethodQuery, params, &res); err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	return &res, nil
}

// Status returns the server's status.
func (c *Client) Status(ctx context.Context) (*StatusResult, error) {
	var res StatusResult
	if err := c.call(ctx, MethodStatus, nil, &res); err != nil {
		return nil, fmt.Errorf("status: %w", err)
	}
	return &res, nil
}

// call sends one request and decodes the result into out. The
// connection deadline is the earlier of the client timeout and ctx's
// deadline, and cancelling ctx aborts the call.
func (c *Client) call(ctx context.Context, method string, params, out any) error {
	req, err := NewRequest(c.nextID(), method, params)
	if err != nil {
		return err
	}
	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return err
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Unix(1, 0)) })
	defer stop()

	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return fmt.Errorf("send %s: %w", method, err)
	}
	var resp Response
	if err := json.NewDecoder(bufio.NewReader(conn)).Decode(&resp); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("receive %s: %w", method, err)
	}
	if resp.ID != req.ID {
		return fmt.Errorf("response id %q does not match request %q", resp.ID, req.ID)
	}
	if resp.Error != nil {
		return resp.Error
	}
	return json.Unmarshal(resp.Result, out)
}

func (c *Client) nextID() string {
	return "req-" + strconv.FormatUint(c.seq.Add(1), 10)
}
