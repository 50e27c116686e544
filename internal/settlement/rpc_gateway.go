package settlement

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"
)

// Default configuration values.
const (
	DefaultTimeout     = 30 * time.Second
	DefaultMaxRetries  = 3
	DefaultRetryDelay  = 1 * time.Second
	DefaultMaxDelay    = 10 * time.Second
	DefaultBackoffMult = 2.0
)

// HTTPGateway implements Gateway using HTTP JSON-RPC 2.0.
type HTTPGateway struct {
	endpoint    string
	client      *http.Client
	maxRetries  int
	retryDelay  time.Duration
	maxDelay    time.Duration
	backoffMult float64
	requestID   atomic.Uint64
}

// GatewayOption configures HTTPGateway.
type GatewayOption func(*HTTPGateway)

// WithTimeout sets HTTP client timeout.
func WithTimeout(d time.Duration) GatewayOption {
	return func(g *HTTPGateway) {
		g.client.Timeout = d
	}
}

// WithMaxRetries sets maximum retry attempts.
func WithMaxRetries(n int) GatewayOption {
	return func(g *HTTPGateway) {
		g.maxRetries = n
	}
}

// WithRetryDelay sets initial retry delay.
func WithRetryDelay(d time.Duration) GatewayOption {
	return func(g *HTTPGateway) {
		g.retryDelay = d
	}
}

// WithHTTPClient sets custom http.Client.
func WithHTTPClient(client *http.Client) GatewayOption {
	return func(g *HTTPGateway) {
		g.client = client
	}
}

// NewHTTPGateway creates a new settlement gateway JSON-RPC client.
func NewHTTPGateway(endpoint string, opts ...GatewayOption) *HTTPGateway {
	g := &HTTPGateway{
		endpoint:    endpoint,
		client:      &http.Client{Timeout: DefaultTimeout},
		maxRetries:  DefaultMaxRetries,
		retryDelay:  DefaultRetryDelay,
		maxDelay:    DefaultMaxDelay,
		backoffMult: DefaultBackoffMult,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Compile-time interface check.
var _ Gateway = (*HTTPGateway)(nil)

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
	Error   *rpcError       `json:"error,omitempty"`
}

// rpcError represents a JSON-RPC 2.0 error.
type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// call performs a JSON-RPC call with retries and exponential backoff.
// RPC-level errors are not retried; transport errors and rate limits are.
func (g *HTTPGateway) call(ctx context.Context, method string, params []interface{}, result interface{}) error {
	reqID := g.requestID.Add(1)
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

	delay := g.retryDelay
	var lastErr error

	for attempt := 0; attempt <= g.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			// Exponential backoff
			delay = time.Duration(float64(delay) * g.backoffMult)
			if delay > g.maxDelay {
				delay = g.maxDelay
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := g.client.Do(req)
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

		// Handle rate limiting
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
			// The gateway rejected the operation; retrying would repeat
			// the side effect.
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

// mintResult is the raw RPC response for settlement_mintToken.
type mintResult struct {
	TokenRef string `json:"tokenRef"`
}

// MintToken mints the pool's token supply into the treasury account.
func (g *HTTPGateway) MintToken(ctx context.Context, poolID string, supply int64, treasury string) (string, error) {
	params := []interface{}{
		map[string]interface{}{
			"poolId":   poolID,
			"supply":   supply,
			"treasury": treasury,
		},
	}

	var result mintResult
	if err := g.call(ctx, "settlement_mintToken", params, &result); err != nil {
		return "", err
	}
	if result.TokenRef == "" {
		return "", fmt.Errorf("gateway returned empty token reference")
	}
	return result.TokenRef, nil
}

// txResult is the raw RPC response for transfer methods.
type txResult struct {
	TxID string `json:"txId"`
}

// TransferToken moves tokens between two external accounts.
func (g *HTTPGateway) TransferToken(ctx context.Context, tokenRef, from, to string, amount int64) (string, error) {
	params := []interface{}{
		map[string]interface{}{
			"tokenRef": tokenRef,
			"from":     from,
			"to":       to,
			"amount":   amount,
		},
	}

	var result txResult
	if err := g.call(ctx, "settlement_transferToken", params, &result); err != nil {
		return "", err
	}
	return result.TxID, nil
}

// TransferSettlementCurrency moves settlement currency to an account.
func (g *HTTPGateway) TransferSettlementCurrency(ctx context.Context, to string, amount float64) (string, error) {
	params := []interface{}{
		map[string]interface{}{
			"to":     to,
			"amount": amount,
		},
	}

	var result txResult
	if err := g.call(ctx, "settlement_transferCurrency", params, &result); err != nil {
		return "", err
	}
	return result.TxID, nil
}

// GetOperatorAccount returns the platform operator account reference.
func (g *HTTPGateway) GetOperatorAccount(ctx context.Context) (string, error) {
	var result string
	if err := g.call(ctx, "settlement_getOperatorAccount", nil, &result); err != nil {
		return "", err
	}
	return result, nil
}
