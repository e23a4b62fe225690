// Package chainrpc provides per-chain JSON-RPC connectivity: a request
// client for queries and submissions, and websocket subscriptions for
// pushed chain events.
package chainrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/substratelabs/asset-exchange/pkg/types"
)

// Caller issues a single RPC call against a chain node. Venues and the
// fee/support provider depend on this interface so tests can substitute
// an in-memory node.
type Caller interface {
	// Call invokes method with params and decodes the result into result.
	Call(ctx context.Context, method string, params any, result any) error
}

// RPCError is a structured error returned by a chain node.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Client is a JSON-RPC 2.0 client for one chain node.
type Client struct {
	chain      types.ChainID
	url        string
	httpClient *http.Client
	nextID     atomic.Uint64
	log        *zap.Logger
}

// NewClient creates a client for the given chain endpoint.
func NewClient(chain types.ChainID, url string, log *zap.Logger) *Client {
	return &Client{
		chain: chain,
		url:   url,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		log: log.Named("chainrpc").With(zap.String("chain", string(chain))),
	}
}

// Chain returns the chain this client talks to.
func (c *Client) Chain() types.ChainID {
	return c.chain
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error"`
}

// Call implements Caller.
func (c *Client) Call(ctx context.Context, method string, params any, result any) error {
	id := c.nextID.Add(1)

	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      id,
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("rpc call %s failed: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("rpc call %s: node returned status %d: %s", method, resp.StatusCode, string(raw))
	}

	var decoded rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return fmt.Errorf("rpc call %s: failed to decode response: %w", method, err)
	}

	if decoded.Error != nil {
		c.log.Debug("rpc error", zap.String("method", method), zap.Int("code", decoded.Error.Code))
		return decoded.Error
	}

	if result != nil {
		if err := json.Unmarshal(decoded.Result, result); err != nil {
			return fmt.Errorf("rpc call %s: failed to decode result: %w", method, err)
		}
	}

	return nil
}
