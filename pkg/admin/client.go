// Package admin speaks the daemon admin-socket protocol: a request/response
// exchange over a Unix domain socket where both directions carry a 4-byte
// big-endian length prefix followed by a JSON body.
package admin

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/rs/zerolog"

	"github.com/gorados/gorados/internal/buffer"
	"github.com/gorados/gorados/pkg/errors"
)

// DefaultMaxFrame bounds the response body the client will accept.
const DefaultMaxFrame = 16 << 20

// Client issues commands to one daemon's admin socket. A fresh connection is
// made per command, matching how daemons service the socket.
type Client struct {
	path     string
	timeout  time.Duration
	maxFrame int
	log      zerolog.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithTimeout bounds each exchange; zero relies on the context alone.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithMaxFrame overrides the largest accepted response body.
func WithMaxFrame(n int) Option {
	return func(c *Client) { c.maxFrame = n }
}

// WithLogger attaches a structured logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.log = l }
}

// NewClient creates a client for the socket at path.
func NewClient(path string, opts ...Option) *Client {
	c := &Client{
		path:     path,
		timeout:  10 * time.Second,
		maxFrame: DefaultMaxFrame,
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Command sends a bare prefix command, e.g. "help" or "perf dump".
func (c *Client) Command(ctx context.Context, prefix string) ([]byte, error) {
	return c.Do(ctx, map[string]any{"prefix": prefix})
}

// Do sends an arbitrary command body and returns the response payload.
func (c *Client) Do(ctx context.Context, req map[string]any) ([]byte, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, errors.New(errors.ErrCodeInvalid, "cannot encode admin command").WithCause(err)
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", c.path)
	if err != nil {
		return nil, errors.New(errors.ErrCodeNotConnected, "admin socket unreachable").
			WithOperation("admin_dial").WithDetail("path", c.path).WithCause(err)
	}
	defer conn.Close()

	if c.timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(c.timeout))
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	c.log.Debug().Str("socket", c.path).RawJSON("command", body).Msg("admin command")

	if err := writeFrame(conn, body); err != nil {
		return nil, wrapIO("admin_send", err)
	}
	resp, err := c.readFrame(conn)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// writeFrame sends one length-prefixed body.
func writeFrame(w io.Writer, body []byte) error {
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(body)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.Write(body)
	return err
}

// readFrame receives one length-prefixed body, refusing frames larger than
// the configured bound before reading a byte of the payload.
func (c *Client) readFrame(r io.Reader) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, wrapIO("admin_recv", err)
	}
	size := binary.BigEndian.Uint32(hdr[:])
	if err := buffer.CheckBounded(int(size), c.maxFrame); err != nil {
		return nil, fmt.Errorf("admin_recv: response frame of %d bytes: %w", size, err)
	}
	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, wrapIO("admin_recv", err)
	}
	return body, nil
}

func wrapIO(op string, err error) error {
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return errors.New(errors.ErrCodeTimeout, "admin socket exchange timed out").
			WithOperation(op).WithCause(err)
	}
	return fmt.Errorf("%s: %w", op,
		errors.New(errors.ErrCodeUnknown, "admin socket exchange failed").WithCause(err))
}
