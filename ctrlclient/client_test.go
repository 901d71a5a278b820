package ctrlclient_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/auricle-dev/auricle/ctrlclient"
	"github.com/auricle-dev/auricle/ctrltypes"
)

// testClient constructs a client backed by a simple in-memory responder.
// responses maps full, already-filled paths (after path param substitution) to raw JSON payloads.
// If err is non-nil, every request returns that error, simulating dial failures.
func testClient(responses map[string]string, err error) *ctrlclient.Client {
	return ctrlclient.WithTransport(ctrlclient.NewMockTransport(func(path string, _ any, _ map[string]string) (string, error) {
		if err != nil {
			return "", err
		}
		if out, ok := responses[path]; ok {
			return out, nil
		}
		return "", nil
	}))
}

func TestHighLevelClient(t *testing.T) {
	tests := []struct {
		name       string
		setup      func(responses map[string]string) (err error)
		call       func(c *ctrlclient.Client) (any, error)
		wantErr    string
		assertFunc func(t *testing.T, got any)
	}{
		{
			name: "ping success",
			setup: func(responses map[string]string) error {
				responses["ping"] = `{"server":"auricle","version":"1.0.0"}`
				return nil
			},
			call: func(c *ctrlclient.Client) (any, error) { return c.Ping() },
			assertFunc: func(t *testing.T, got any) {
				resp, ok := got.(*ctrltypes.PingResponse)
				assert.True(t, ok, "expected *ctrltypes.PingResponse type")
				assert.Equal(t, "auricle", resp.Server)
			},
		},
		{
			name: "register read",
			setup: func(responses map[string]string) error {
				responses["reg/{offset}/read"] = `{"offset":0,"value":6145}`
				return nil
			},
			call: func(c *ctrlclient.Client) (any, error) { return c.RegRead(0) },
			assertFunc: func(t *testing.T, got any) {
				resp := got.(*ctrltypes.RegAccessResponse)
				assert.Equal(t, uint32(6145), resp.Value)
			},
		},
		{
			name: "register write error structured",
			setup: func(responses map[string]string) error {
				responses["reg/{offset}/write"] = `{"status":409,"title":"Conflict","detail":"ring is enabled"}`
				return nil
			},
			call:    func(c *ctrlclient.Client) (any, error) { return c.RegWrite(0x108, 4) },
			wantErr: "409 Conflict: ring is enabled",
		},
		{
			name: "status",
			setup: func(responses map[string]string) error {
				responses["status"] = `{"locked":true,"actualRate":48000,"playbackState":"MoveData","underruns":3}`
				return nil
			},
			call: func(c *ctrlclient.Client) (any, error) { return c.Status() },
			assertFunc: func(t *testing.T, got any) {
				resp := got.(*ctrltypes.StatusResponse)
				assert.True(t, resp.Locked)
				assert.Equal(t, uint32(48000), resp.ActualRate)
				assert.Equal(t, uint64(3), resp.Underruns)
			},
		},
		{
			name:    "transport failure",
			setup:   func(responses map[string]string) error { return errors.New("dial fail") },
			call:    func(c *ctrlclient.Client) (any, error) { return c.Status() },
			wantErr: "dial fail",
		},
		{
			name:    "blank response error",
			setup:   func(responses map[string]string) error { return nil },
			call:    func(c *ctrlclient.Client) (any, error) { return c.Status() },
			wantErr: "empty response",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			responses := map[string]string{}
			errInject := error(nil)
			if tt.setup != nil {
				if e := tt.setup(responses); e != nil {
					errInject = e
				}
			}
			c := testClient(responses, errInject)
			got, err := tt.call(c)
			if tt.wantErr != "" {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			assert.NoError(t, err)
			if tt.assertFunc != nil {
				tt.assertFunc(t, got)
			}
		})
	}
}

func TestContextCancellation(t *testing.T) {
	c := ctrlclient.WithTransport(ctrlclient.NewTransport("127.0.0.1:9")) // address irrelevant due to early cancel
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.StatusCtx(ctx)
	assert.Error(t, err)
}

func TestWatchIRQsNotSupportedWithMockTransport(t *testing.T) {
	c := testClient(map[string]string{}, nil)
	_, err := c.WatchIRQs(context.Background())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "not supported with mock transport")
}
