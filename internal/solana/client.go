package solana

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/solpos/service_layer/internal/httputil"
)

// Client is a minimal Solana JSON-RPC client.
type Client struct {
	rpcURL     string
	httpClient *http.Client
	commitment string
	nextID     int64
	observe    func(method string, err error, d time.Duration)
}

// Config holds client configuration.
type Config struct {
	RPCURL     string
	Commitment string
	HTTPClient *http.Client
	// Observe is called after every call, for metrics.
	Observe func(method string, err error, d time.Duration)
}

// NewClient creates an RPC client. Commitment defaults to confirmed.
func NewClient(cfg Config) (*Client, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("RPC URL required")
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = httputil.NewResilientHTTPClient(20 * time.Second)
	}
	commitment := cfg.Commitment
	if commitment == "" {
		commitment = CommitmentConfirmed
	}
	return &Client{rpcURL: cfg.RPCURL, httpClient: hc, commitment: commitment, observe: cfg.Observe}, nil
}

// =============================================================================
// Core RPC Methods
// =============================================================================

// Call makes a JSON-RPC call and returns the raw result.
func (c *Client) Call(ctx context.Context, method string, params ...interface{}) (result json.RawMessage, err error) {
	if c.observe != nil {
		start := time.Now()
		defer func() { c.observe(method, err, time.Since(start)) }()
	}

	body, err := json.Marshal(RPCRequest{
		JSONRPC: "2.0",
		ID:      int(atomic.AddInt64(&c.nextID, 1)),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}

	var rpcResp RPCResponse
	if err := httputil.DecodeResponse(resp, &rpcResp); err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	if rpcResp.Error != nil {
		return nil, rpcResp.Error
	}
	return rpcResp.Result, nil
}

// SignaturesOptions narrows getSignaturesForAddress.
type SignaturesOptions struct {
	Limit  int
	Before string
	Until  string
}

// GetSignaturesForAddress returns recent signatures touching address, newest first.
func (c *Client) GetSignaturesForAddress(ctx context.Context, address PublicKey, opts SignaturesOptions) ([]SignatureInfo, error) {
	cfg := map[string]interface{}{"commitment": c.commitment}
	if opts.Limit > 0 {
		cfg["limit"] = opts.Limit
	}
	if opts.Before != "" {
		cfg["before"] = opts.Before
	}
	if opts.Until != "" {
		cfg["until"] = opts.Until
	}

	result, err := c.Call(ctx, "getSignaturesForAddress", address.String(), cfg)
	if err != nil {
		return nil, err
	}
	var sigs []SignatureInfo
	if err := json.Unmarshal(result, &sigs); err != nil {
		return nil, fmt.Errorf("decode signatures: %w", err)
	}
	return sigs, nil
}

// GetTransaction fetches a transaction with parsed instructions. A nil result
// with no error means the node does not know the signature yet.
func (c *Client) GetTransaction(ctx context.Context, signature string) (*Transaction, error) {
	result, err := c.Call(ctx, "getTransaction", signature, map[string]interface{}{
		"encoding":                       "jsonParsed",
		"commitment":                     c.commitment,
		"maxSupportedTransactionVersion": 0,
	})
	if err != nil {
		return nil, err
	}
	if len(result) == 0 || string(result) == "null" {
		return nil, nil
	}
	var tx Transaction
	if err := json.Unmarshal(result, &tx); err != nil {
		return nil, fmt.Errorf("decode transaction: %w", err)
	}
	return &tx, nil
}

// GetSlot returns the current slot at the client commitment.
func (c *Client) GetSlot(ctx context.Context) (uint64, error) {
	result, err := c.Call(ctx, "getSlot", map[string]interface{}{"commitment": c.commitment})
	if err != nil {
		return 0, err
	}
	var slot uint64
	if err := json.Unmarshal(result, &slot); err != nil {
		return 0, fmt.Errorf("decode slot: %w", err)
	}
	return slot, nil
}

// GetHealth returns nil when the node reports "ok".
func (c *Client) GetHealth(ctx context.Context) error {
	result, err := c.Call(ctx, "getHealth")
	if err != nil {
		return err
	}
	var status string
	if err := json.Unmarshal(result, &status); err != nil {
		return fmt.Errorf("decode health: %w", err)
	}
	if status != "ok" {
		return fmt.Errorf("node unhealthy: %s", status)
	}
	return nil
}
