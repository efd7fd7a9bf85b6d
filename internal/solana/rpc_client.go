package solana

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

// Default configuration values.
const (
	DefaultTimeout     = 10 * time.Second
	DefaultMaxRetries  = 2
	DefaultRetryDelay  = 250 * time.Millisecond
	DefaultMaxDelay    = 2 * time.Second
	DefaultBackoffMult = 2.0
)

// HTTPClient implements RPCClient using HTTP JSON-RPC 2.0.
type HTTPClient struct {
	endpoint    string
	client      *http.Client
	maxRetries  int
	retryDelay  time.Duration
	maxDelay    time.Duration
	backoffMult float64
	requestID   atomic.Uint64
}

// ClientOption configures HTTPClient.
type ClientOption func(*HTTPClient)

// WithTimeout sets HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.client.Timeout = d
	}
}

// WithMaxRetries sets maximum retry attempts.
func WithMaxRetries(n int) ClientOption {
	return func(c *HTTPClient) {
		c.maxRetries = n
	}
}

// WithRetryDelay sets initial retry delay.
func WithRetryDelay(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.retryDelay = d
	}
}

// WithHTTPClient sets custom http.Client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *HTTPClient) {
		c.client = client
	}
}

// NewHTTPClient creates a new Solana RPC HTTP client.
func NewHTTPClient(endpoint string, opts ...ClientOption) *HTTPClient {
	c := &HTTPClient{
		endpoint:    endpoint,
		client:      &http.Client{Timeout: DefaultTimeout},
		maxRetries:  DefaultMaxRetries,
		retryDelay:  DefaultRetryDelay,
		maxDelay:    DefaultMaxDelay,
		backoffMult: DefaultBackoffMult,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Endpoint returns the endpoint this client submits to.
func (c *HTTPClient) Endpoint() string { return c.endpoint }

// rpcRequest represents a JSON-RPC 2.0 request.
type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
}

// rpcResponse represents a JSON-RPC 2.0 response.
type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError represents a JSON-RPC 2.0 error.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// AlreadyProcessed reports whether err is the node telling us the
// transaction already landed. Callers treat this as success: the
// signature is derivable locally from the signed bytes.
func AlreadyProcessed(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "already been processed") ||
		strings.Contains(err.Error(), "AlreadyProcessed")
}

// call performs a JSON-RPC call with retries and exponential backoff.
// RPC-level errors are returned without retry; transport errors retry.
func (c *HTTPClient) call(ctx context.Context, method string, params []interface{}, result interface{}) error {
	reqID := c.requestID.Add(1)
	reqBody := rpcRequest{
		JSONRPC: "2.0",
		ID:      reqID,
		Method:  method,
		Params:  params,
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	delay := c.retryDelay
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay = time.Duration(float64(delay) * c.backoffMult)
			if delay > c.maxDelay {
				delay = c.maxDelay
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("http request: %w", err)
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read response: %w", err)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			lastErr = fmt.Errorf("rate limited (429)")
			continue
		}

		if resp.StatusCode != http.StatusOK {
			lastErr = fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
			continue
		}

		var rpcResp rpcResponse
		if err := json.Unmarshal(respBody, &rpcResp); err != nil {
			lastErr = fmt.Errorf("unmarshal response: %w", err)
			continue
		}

		if rpcResp.Error != nil {
			return rpcResp.Error
		}

		if result != nil && rpcResp.Result != nil {
			if err := json.Unmarshal(rpcResp.Result, result); err != nil {
				return fmt.Errorf("unmarshal result: %w", err)
			}
		}

		return nil
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

// GetAccountInfo retrieves account info by public key.
// Returns nil if account not found.
func (c *HTTPClient) GetAccountInfo(ctx context.Context, pubkey string) (*AccountInfo, error) {
	params := []interface{}{
		pubkey,
		map[string]interface{}{
			"encoding": "base64",
		},
	}

	var result getAccountInfoResult
	if err := c.call(ctx, "getAccountInfo", params, &result); err != nil {
		return nil, err
	}

	if result.Value == nil {
		return nil, nil
	}

	info := &AccountInfo{
		Lamports:   result.Value.Lamports,
		Owner:      result.Value.Owner,
		Executable: result.Value.Executable,
		RentEpoch:  result.Value.RentEpoch,
	}

	if len(result.Value.Data) >= 1 {
		info.Data = result.Value.Data[0]
	}

	return info, nil
}

type getAccountInfoResult struct {
	Value *getAccountInfoValue `json:"value"`
}

type getAccountInfoValue struct {
	Lamports   uint64   `json:"lamports"`
	Owner      string   `json:"owner"`
	Data       []string `json:"data"` // [base64_data, encoding]
	Executable bool     `json:"executable"`
	RentEpoch  uint64   `json:"rentEpoch"`
}

// GetLatestBlockhash returns the latest blockhash and its validity bound.
func (c *HTTPClient) GetLatestBlockhash(ctx context.Context) (*Blockhash, error) {
	params := []interface{}{
		map[string]interface{}{
			"commitment": "confirmed",
		},
	}

	var result struct {
		Value *Blockhash `json:"value"`
	}
	if err := c.call(ctx, "getLatestBlockhash", params, &result); err != nil {
		return nil, err
	}
	if result.Value == nil {
		return nil, fmt.Errorf("empty getLatestBlockhash result")
	}
	return result.Value, nil
}

// GetBlockHeight returns the current block height.
func (c *HTTPClient) GetBlockHeight(ctx context.Context) (uint64, error) {
	var result uint64
	if err := c.call(ctx, "getBlockHeight", nil, &result); err != nil {
		return 0, err
	}
	return result, nil
}

// GetSignatureStatuses returns the status of each signature, in order.
func (c *HTTPClient) GetSignatureStatuses(ctx context.Context, searchHistory bool, signatures ...string) ([]*SignatureStatus, error) {
	params := []interface{}{signatures}
	if searchHistory {
		params = append(params, map[string]interface{}{
			"searchTransactionHistory": true,
		})
	}

	var result struct {
		Value []*SignatureStatus `json:"value"`
	}
	if err := c.call(ctx, "getSignatureStatuses", params, &result); err != nil {
		return nil, err
	}
	return result.Value, nil
}

// SendTransaction submits base64-encoded signed transaction bytes.
func (c *HTTPClient) SendTransaction(ctx context.Context, txBase64 string, opts SendOpts) (string, error) {
	config := map[string]interface{}{
		"encoding":      "base64",
		"skipPreflight": opts.SkipPreflight,
	}
	if opts.MaxRetries != nil {
		config["maxRetries"] = *opts.MaxRetries
	}

	var signature string
	if err := c.call(ctx, "sendTransaction", []interface{}{txBase64, config}, &signature); err != nil {
		return "", err
	}
	return signature, nil
}

// SimulateTransaction simulates base64-encoded transaction bytes against
// the latest confirmed state, without replacing the blockhash.
func (c *HTTPClient) SimulateTransaction(ctx context.Context, txBase64 string) (*SimulationResult, error) {
	params := []interface{}{
		txBase64,
		map[string]interface{}{
			"encoding":   "base64",
			"commitment": "confirmed",
		},
	}

	var result struct {
		Value *SimulationResult `json:"value"`
	}
	if err := c.call(ctx, "simulateTransaction", params, &result); err != nil {
		return nil, err
	}
	if result.Value == nil {
		return nil, fmt.Errorf("empty simulateTransaction result")
	}
	return result.Value, nil
}
