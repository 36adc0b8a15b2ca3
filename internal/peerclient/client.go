// Package peerclient implements the short-lived connection a node opens to
// a peer to exchange exactly one JSON command/response pair — used by the
// Replicator (REPLICATE), the Cluster Manager (HEARTBEAT, ELECTION), and
// the catch-up path in cmd/node (SYNC). Every call is bounded by a single timeout covering dial, write,
// and read together, because a peer that accepts the connection but never
// answers is exactly as dangerous as one that's unreachable.
package peerclient

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/bytedance/sonic"
)

// ErrTimeout is returned when a call does not get a response within its
// deadline. Callers (Replicator, Cluster Manager) treat it identically to
// any other PeerUnreachable condition: log it, drop it, move on.
var ErrTimeout = errors.New("peerclient: timed out waiting for peer")

// Client sends one-shot JSON commands to peers.
type Client struct {
	timeout time.Duration
}

// New creates a Client whose calls are each bounded by timeout. The spec
// caps all peer RPCs at roughly 2 seconds; callers are expected to pass
// something in that neighborhood.
func New(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Client{timeout: timeout}
}

// Send dials addr, writes msg as a single JSON line, reads back exactly one
// JSON line, and closes the connection. The whole round trip must complete
// within the client's configured timeout.
func (c *Client) Send(addr string, msg map[string]any) (map[string]any, error) {
	deadline := time.Now().Add(c.timeout)

	conn, err := net.DialTimeout("tcp", addr, c.timeout)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()

	if err := conn.SetDeadline(deadline); err != nil {
		return nil, fmt.Errorf("set deadline: %w", err)
	}

	line, err := sonic.MarshalString(msg)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	if _, err := conn.Write([]byte(line + "\n")); err != nil {
		return nil, translateTimeout(err)
	}

	reader := bufio.NewReaderSize(conn, 4096)
	respLine, err := reader.ReadString('\n')
	if err != nil && respLine == "" {
		return nil, translateTimeout(err)
	}

	var resp map[string]any
	if err := sonic.UnmarshalString(respLine, &resp); err != nil {
		return nil, fmt.Errorf("decode response from %s: %w", addr, err)
	}
	return resp, nil
}

func translateTimeout(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout
	}
	return fmt.Errorf("peer I/O: %w", err)
}
