package tendermint

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alloylabs/blockrecorder/internal/chainclient"
)

func testConfig() Config {
	return Config{
		RequestTimeout: 2 * time.Second,
		RetryBackoff:   time.Millisecond,
		MaxRetries:     2,
	}
}

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := New(srv.URL, testConfig())
	require.NoError(t, err)
	return c
}

func statusBody(height string) string {
	return fmt.Sprintf(`{"result":{"sync_info":{"latest_block_height":%q}}}`, height)
}

func blockBody(height, hash string) string {
	return fmt.Sprintf(`{"result":{"block_id":{"hash":%q},"block":{"header":{"height":%q}}}}`, hash, height)
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{name: "http url", url: "http://localhost:26657", wantErr: false},
		{name: "https url", url: "https://rpc.example.com", wantErr: false},
		{name: "trailing slash accepted", url: "http://localhost:26657/", wantErr: false},
		{name: "websocket scheme rejected", url: "ws://localhost:26657", wantErr: true},
		{name: "empty url rejected", url: "", wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := New(tt.url, testConfig())
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestHeight(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/status", r.URL.Path)
		fmt.Fprint(w, statusBody("12345"))
	}))

	h, err := c.Height(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(12345), h)
}

func TestHeight_Malformed(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		body string
	}{
		{name: "not json", body: "<html>gateway error</html>"},
		{name: "non-integer height", body: statusBody("twelve")},
		{name: "missing sync_info", body: `{"result":{}}`},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, tt.body)
			}))

			_, err := c.Height(context.Background())
			require.ErrorIs(t, err, chainclient.ErrMalformedResponse)
		})
	}
}

func TestHeight_Unreachable(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close() // connection refused from here on

	c, err := New(url, testConfig())
	require.NoError(t, err)

	_, err = c.Height(context.Background())
	require.ErrorIs(t, err, chainclient.ErrUnreachable)
}

func TestHeight_RetriesTransientFailure(t *testing.T) {
	t.Parallel()
	var calls int
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, statusBody("77"))
	}))

	h, err := c.Height(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(77), h)
	require.Equal(t, 2, calls)
}

func TestBlockByHeight(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/block", r.URL.Path)
		require.Equal(t, "103", r.URL.Query().Get("height"))
		fmt.Fprint(w, blockBody("103", "A1B2C3"))
	}))

	rec, err := c.BlockByHeight(context.Background(), 103)
	require.NoError(t, err)
	require.Equal(t, uint64(103), rec.Height)
	require.Equal(t, "A1B2C3", rec.Hash)
}

func TestBlockByHeight_NotFound(t *testing.T) {
	t.Parallel()
	var calls int
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		// Tendermint answers a height past the tip with a 500 carrying an RPC
		// error envelope.
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"error":{"code":-32603,"message":"Internal error","data":"height 104 must be less than or equal to the current blockchain height 103"}}`)
	}))

	_, err := c.BlockByHeight(context.Background(), 104)
	require.ErrorIs(t, err, chainclient.ErrBlockNotFound)
	// Not a transport failure: no in-call retry.
	require.Equal(t, 1, calls)
}

func TestBlockByHeight_Malformed(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		body string
	}{
		{name: "not json", body: "nope"},
		{name: "non-integer header height", body: blockBody("tall", "A1")},
		{name: "empty hash", body: blockBody("103", "")},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, tt.body)
			}))

			_, err := c.BlockByHeight(context.Background(), 103)
			require.ErrorIs(t, err, chainclient.ErrMalformedResponse)
		})
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, 5*time.Second, cfg.RequestTimeout)
	require.Equal(t, 200*time.Millisecond, cfg.RetryBackoff)
	require.Equal(t, uint64(2), cfg.MaxRetries)
}
