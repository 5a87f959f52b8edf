package tendermint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/alloylabs/blockrecorder/internal/chainclient"
	"github.com/alloylabs/blockrecorder/internal/metrics"
	"github.com/alloylabs/blockrecorder/internal/types"
)

// maxResponseBytes bounds how much of a response body is read; block headers
// and status responses are small, anything larger is not a node we understand.
const maxResponseBytes = 1 << 20

// Client speaks the Tendermint HTTP+JSON RPC interface (/status and /block).
type Client struct {
	base    string
	http    *http.Client
	cfg     Config
	metrics *metrics.Metrics // nil if metrics disabled
}

var _ chainclient.ChainClient = (*Client)(nil)

// Option configures the Client.
type Option func(*Client)

// WithMetrics enables metrics collection for the client.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// New creates a client for the node at rawURL.
func New(rawURL string, cfg Config, opts ...Option) (*Client, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse rpc url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported rpc url scheme %q", u.Scheme)
	}

	client := &Client{
		base: strings.TrimRight(rawURL, "/"),
		http: &http.Client{Timeout: cfg.RequestTimeout},
		cfg:  cfg,
	}

	for _, opt := range opts {
		opt(client)
	}

	return client, nil
}

// statusResponse is the subset of GET /status we need.
type statusResponse struct {
	Result struct {
		SyncInfo struct {
			LatestBlockHeight string `json:"latest_block_height"`
		} `json:"sync_info"`
	} `json:"result"`
}

// blockResponse is the subset of GET /block?height=N we need. Error is set
// when the node rejects the request at the RPC level (e.g. unknown height).
type blockResponse struct {
	Error  *rpcError `json:"error"`
	Result struct {
		BlockID struct {
			Hash string `json:"hash"`
		} `json:"block_id"`
		Block struct {
			Header struct {
				Height string `json:"height"`
			} `json:"header"`
		} `json:"block"`
	} `json:"result"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data"`
}

// Height returns the node's current chain tip from /status.
func (c *Client) Height(ctx context.Context) (uint64, error) {
	const method = "Height"
	start := time.Now()

	if c.metrics != nil {
		c.metrics.IncRPCInFlight()
		defer c.metrics.DecRPCInFlight()
	}

	h, err := backoff.RetryWithData(func() (uint64, error) {
		return permanentUnlessUnreachable(c.height(ctx))
	}, c.retryPolicy(ctx))

	if c.metrics != nil {
		c.metrics.RecordRPCCall(method, err, time.Since(start).Seconds())
	}

	return h, err
}

func (c *Client) height(ctx context.Context) (uint64, error) {
	body, err := c.get(ctx, c.base+"/status")
	if err != nil {
		return 0, err
	}

	var resp statusResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("%w: decode status: %v", chainclient.ErrMalformedResponse, err)
	}

	h, err := strconv.ParseUint(resp.Result.SyncInfo.LatestBlockHeight, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: latest_block_height %q is not an integer",
			chainclient.ErrMalformedResponse, resp.Result.SyncInfo.LatestBlockHeight)
	}
	return h, nil
}

// BlockByHeight returns the header recorded at exactly the given height.
func (c *Client) BlockByHeight(ctx context.Context, height uint64) (types.BlockRecord, error) {
	const method = "BlockByHeight"
	start := time.Now()

	if c.metrics != nil {
		c.metrics.IncRPCInFlight()
		defer c.metrics.DecRPCInFlight()
	}

	rec, err := backoff.RetryWithData(func() (types.BlockRecord, error) {
		return permanentUnlessUnreachable(c.blockByHeight(ctx, height))
	}, c.retryPolicy(ctx))

	if c.metrics != nil {
		c.metrics.RecordRPCCall(method, err, time.Since(start).Seconds())
	}

	return rec, err
}

func (c *Client) blockByHeight(ctx context.Context, height uint64) (types.BlockRecord, error) {
	body, err := c.get(ctx, fmt.Sprintf("%s/block?height=%d", c.base, height))
	if err != nil {
		return types.BlockRecord{}, err
	}

	var resp blockResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return types.BlockRecord{}, fmt.Errorf("%w: decode block %d: %v", chainclient.ErrMalformedResponse, height, err)
	}
	if resp.Error != nil {
		return types.BlockRecord{}, fmt.Errorf("%w: height %d: %s %s",
			chainclient.ErrBlockNotFound, height, resp.Error.Message, resp.Error.Data)
	}

	h, err := strconv.ParseUint(resp.Result.Block.Header.Height, 10, 64)
	if err != nil {
		return types.BlockRecord{}, fmt.Errorf("%w: block header height %q is not an integer",
			chainclient.ErrMalformedResponse, resp.Result.Block.Header.Height)
	}
	hash := resp.Result.BlockID.Hash
	if hash == "" {
		return types.BlockRecord{}, fmt.Errorf("%w: block %d has empty block_id hash", chainclient.ErrMalformedResponse, height)
	}

	return types.BlockRecord{Height: h, Hash: hash}, nil
}

// get performs a single GET and returns the response body. Transport failures
// and unexpected HTTP statuses without an RPC error payload map to
// ErrUnreachable; statuses carrying an RPC error payload are returned verbatim
// for the caller to interpret.
func (c *Client) get(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	res, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", chainclient.ErrUnreachable, err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", chainclient.ErrUnreachable, err)
	}

	if res.StatusCode != http.StatusOK && !hasRPCError(body) {
		return nil, fmt.Errorf("%w: unexpected status %d", chainclient.ErrUnreachable, res.StatusCode)
	}
	return body, nil
}

// hasRPCError reports whether the body is a JSON-RPC envelope carrying an
// error object. Tendermint answers unknown heights with a non-200 status and
// such an envelope.
func hasRPCError(body []byte) bool {
	var probe struct {
		Error *rpcError `json:"error"`
	}
	return json.Unmarshal(body, &probe) == nil && probe.Error != nil
}

func (c *Client) retryPolicy(ctx context.Context) backoff.BackOffContext {
	return backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(c.cfg.RetryBackoff), c.cfg.MaxRetries),
		ctx,
	)
}

// permanentUnlessUnreachable marks every error except ErrUnreachable permanent
// so that only transport failures are retried in-call.
func permanentUnlessUnreachable[T any](v T, err error) (T, error) {
	if err != nil && !errors.Is(err, chainclient.ErrUnreachable) {
		return v, backoff.Permanent(err)
	}
	return v, err
}
