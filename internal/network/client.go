package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"
)

// DefaultRequestTimeout applies when the request context has no deadline.
const DefaultRequestTimeout = 3 * time.Second

// Client issues requests to a navigation server and waits for the reply.
// A Client handles one request at a time.
type Client struct {
	conn   *net.UDPConn
	server *net.UDPAddr
	seq    atomic.Uint64
}

func Dial(server string) (*Client, error) {
	target, err := net.ResolveUDPAddr("udp", server)
	if err != nil {
		return nil, fmt.Errorf("resolve server: %w", err)
	}
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4zero, Port: 0})
	if err != nil {
		return nil, fmt.Errorf("listen udp: %w", err)
	}
	return &Client{conn: conn, server: target}, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

// Request sends payload as msg and decodes the first reply of type want into
// out. Replies of other types are skipped.
func (c *Client) Request(ctx context.Context, msg MessageType, payload any, want MessageType, out any) error {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(DefaultRequestTimeout)
	}
	if err := c.conn.SetDeadline(deadline); err != nil {
		return err
	}

	data, err := encodeEnvelope(&c.seq, msg, payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", msg, err)
	}
	if _, err := c.conn.WriteToUDP(data, c.server); err != nil {
		return fmt.Errorf("send %s: %w", msg, err)
	}

	buf := make([]byte, 64*1024)
	for {
		n, _, err := c.conn.ReadFromUDP(buf)
		if err != nil {
			var nErr net.Error
			if errors.As(err, &nErr) && nErr.Timeout() {
				return fmt.Errorf("waiting for %s: %w", want, context.DeadlineExceeded)
			}
			return fmt.Errorf("recv: %w", err)
		}
		env, err := Decode(buf[:n])
		if err != nil || env.Type != want {
			continue
		}
		if out == nil {
			return nil
		}
		return DecodePayload(env, out)
	}
}
