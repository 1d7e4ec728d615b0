package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

// readOnlyMethods are JSON-RPC methods that are safe to resend. Anything
// else, eth_sendRawTransaction in particular, is sent exactly once.
var readOnlyMethods = map[string]bool{
	"eth_call":                  true,
	"eth_chainId":               true,
	"eth_blockNumber":           true,
	"eth_getBalance":            true,
	"eth_getCode":               true,
	"eth_getTransactionCount":   true,
	"eth_getTransactionReceipt": true,
	"eth_getTransactionByHash":  true,
	"eth_getBlockByNumber":      true,
	"eth_getBlockByHash":        true,
	"eth_getLogs":               true,
	"eth_estimateGas":           true,
	"eth_gasPrice":              true,
	"eth_maxPriorityFeePerGas":  true,
	"eth_feeHistory":            true,
	"net_version":               true,
}

// retryTransport retries JSON-RPC requests whose every method is read-only.
type retryTransport struct {
	base   http.RoundTripper
	policy *RetryPolicy
}

// NewHTTPClient returns an http.Client for the RPC endpoint whose transport
// retries idempotent reads under policy.
func NewHTTPClient(timeout time.Duration, policy *RetryPolicy) *http.Client {
	if policy == nil {
		policy = DefaultRetryPolicy()
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: &retryTransport{base: http.DefaultTransport, policy: policy},
	}
}

// Dial connects to a JSON-RPC endpoint over httpClient.
func Dial(ctx context.Context, rawURL string, httpClient *http.Client) (*ethclient.Client, error) {
	rc, err := rpc.DialOptions(ctx, rawURL, rpc.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}
	return ethclient.NewClient(rc), nil
}

func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Body == nil || req.Method != http.MethodPost {
		return t.base.RoundTrip(req)
	}
	body, err := io.ReadAll(req.Body)
	req.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("read rpc request: %w", err)
	}

	attempts := 1
	methods := rpcMethods(body)
	if allReadOnly(methods) {
		attempts = t.policy.MaxAttempts
	}

	var (
		resp    *http.Response
		lastErr error
	)
	for attempt := 1; attempt <= attempts; attempt++ {
		r := req.Clone(req.Context())
		r.Body = io.NopCloser(bytes.NewReader(body))
		r.ContentLength = int64(len(body))

		resp, lastErr = t.base.RoundTrip(r)
		if lastErr == nil && !retryableStatus(resp.StatusCode) {
			return resp, nil
		}
		if attempt == attempts {
			break
		}
		if resp != nil {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}

		delay := t.policy.NextDelay(attempt)
		slog.Debug("retrying rpc request", "methods", methods, "attempt", attempt, "delay", delay, "error", lastErr)
		if err := sleepCtx(req.Context(), delay); err != nil {
			return nil, err
		}
	}
	return resp, lastErr
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// rpcMethods extracts method names from a single or batched JSON-RPC body.
// An unparseable body yields nil, which is treated as not retryable.
func rpcMethods(body []byte) []string {
	type message struct {
		Method string `json:"method"`
	}
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil
	}
	if trimmed[0] == '[' {
		var batch []message
		if err := json.Unmarshal(trimmed, &batch); err != nil {
			return nil
		}
		out := make([]string, 0, len(batch))
		for _, m := range batch {
			out = append(out, m.Method)
		}
		return out
	}
	var m message
	if err := json.Unmarshal(trimmed, &m); err != nil {
		return nil
	}
	return []string{m.Method}
}

func allReadOnly(methods []string) bool {
	if len(methods) == 0 {
		return false
	}
	for _, m := range methods {
		if !readOnlyMethods[m] {
			return false
		}
	}
	return true
}
