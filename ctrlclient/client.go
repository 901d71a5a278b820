package ctrlclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/auricle-dev/auricle/ctrltypes"
)

// Client provides a high-level interface to the card control server, handling
// request formatting, response parsing, and error handling.
type Client struct{ transport *Transport }

// New constructs a high-level client using the internal low-level Transport.
// The addr parameter specifies the TCP address (host:port) of the control server.
func New(addr string) *Client { return &Client{transport: NewTransport(addr)} }

// NewWithPassword constructs a client that authenticates with the given password.
func NewWithPassword(addr, password string) *Client {
	return &Client{transport: NewTransportWithPassword(addr, password)}
}

// NewWithConfig constructs a client with custom transport timeouts.
func NewWithConfig(addr string, cfg *Config) *Client {
	return &Client{transport: NewTransportWithConfig(addr, cfg)}
}

// WithTransport constructs a Client using a custom Transport implementation.
// This is primarily useful for testing or when advanced transport configuration is needed.
func WithTransport(t *Transport) *Client { return &Client{transport: t} }

// Ping returns the identity and version of the control server.
func (c *Client) Ping() (*ctrltypes.PingResponse, error) {
	return c.PingCtx(context.Background())
}

// PingCtx is the context-aware version of Ping.
func (c *Client) PingCtx(ctx context.Context) (*ctrltypes.PingResponse, error) {
	const path = "ping"
	raw, err := c.transport.DoCtx(ctx, path, nil, nil)
	if err != nil {
		return nil, err
	}
	return parse[ctrltypes.PingResponse](raw)
}

// Status retrieves the card's current status snapshot: clock lock, effective
// sample rate, transfer engine states and error counters.
func (c *Client) Status() (*ctrltypes.StatusResponse, error) {
	return c.StatusCtx(context.Background())
}

func (c *Client) StatusCtx(ctx context.Context) (*ctrltypes.StatusResponse, error) {
	const path = "status"
	raw, err := c.transport.DoCtx(ctx, path, nil, nil)
	if err != nil {
		return nil, err
	}
	return parse[ctrltypes.StatusResponse](raw)
}

// RegRead reads the 32-bit register at the given byte offset.
func (c *Client) RegRead(offset uint32) (*ctrltypes.RegAccessResponse, error) {
	return c.RegReadCtx(context.Background(), offset)
}

func (c *Client) RegReadCtx(ctx context.Context, offset uint32) (*ctrltypes.RegAccessResponse, error) {
	pathParams := map[string]string{"offset": fmt.Sprintf("0x%03x", offset)}
	const path = "reg/{offset}/read"
	raw, err := c.transport.DoCtx(ctx, path, nil, pathParams)
	if err != nil {
		return nil, err
	}
	return parse[ctrltypes.RegAccessResponse](raw)
}

// RegWrite writes value to the 32-bit register at the given byte offset and
// returns the register content read back after the write.
func (c *Client) RegWrite(offset, value uint32) (*ctrltypes.RegAccessResponse, error) {
	return c.RegWriteCtx(context.Background(), offset, value)
}

func (c *Client) RegWriteCtx(ctx context.Context, offset, value uint32) (*ctrltypes.RegAccessResponse, error) {
	pathParams := map[string]string{"offset": fmt.Sprintf("0x%03x", offset)}
	const path = "reg/{offset}/write"
	raw, err := c.transport.DoCtx(ctx, path, fmt.Sprintf("0x%08x", value), pathParams)
	if err != nil {
		return nil, err
	}
	return parse[ctrltypes.RegAccessResponse](raw)
}

func parse[T any](data string) (*T, error) {
	if data == "" {
		return nil, errors.New("empty response")
	}
	var problem ctrltypes.ApiError
	if err := json.Unmarshal([]byte(data), &problem); err == nil && (problem.Status != 0 || problem.Title != "") {
		return nil, &problem
	}
	var out T
	dec := json.NewDecoder(bytes.NewReader([]byte(data)))
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return &out, nil
}
