// Package solana talks to a Solana JSON-RPC node and encodes the heartbeat
// transfer transaction.
package solana

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/ideastake/ledgerbeat/internal/ledger"
)

const (
	// DefaultRPCURL is the public devnet endpoint.
	DefaultRPCURL = "https://api.devnet.solana.com"
	// DefaultCommitment is the level at which transfers count as confirmed.
	DefaultCommitment = "confirmed"
	// DefaultConfirmTimeout bounds a confirmation wait when the caller sets no deadline.
	DefaultConfirmTimeout = 60 * time.Second
	// DefaultPollInterval is the wait between signature status queries.
	DefaultPollInterval = 500 * time.Millisecond

	maxResponseBytes = 4 << 20
)

var commitmentRank = map[string]int{
	"processed": 1,
	"confirmed": 2,
	"finalized": 3,
}

// RPCError is an error object returned by the node.
type RPCError struct {
	Code    int64
	Message string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// TransactionError reports a transaction that landed but failed on chain.
type TransactionError struct {
	Signature string
	Detail    string
}

func (e *TransactionError) Error() string {
	return fmt.Sprintf("transaction %s failed: %s", e.Signature, e.Detail)
}

// Options configures a Client.
type Options struct {
	// Commitment is one of processed, confirmed or finalized.
	Commitment     string
	ConfirmTimeout time.Duration
	PollInterval   time.Duration
	// WebsocketURL enables signatureSubscribe confirmation when set.
	WebsocketURL string
	HTTPClient   *http.Client
}

func (o Options) withDefaults() Options {
	if o.Commitment == "" {
		o.Commitment = DefaultCommitment
	}
	if o.ConfirmTimeout <= 0 {
		o.ConfirmTimeout = DefaultConfirmTimeout
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	return o
}

// Client implements ledger.Endpoint over JSON-RPC.
type Client struct {
	rpcURL string
	opts   Options
	client *http.Client
	log    zerolog.Logger
	nextID atomic.Uint64
}

var _ ledger.Endpoint = (*Client)(nil)

// NewClient creates a client for the given RPC URL.
func NewClient(rpcURL string, opts Options, log zerolog.Logger) (*Client, error) {
	u, err := url.Parse(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("invalid rpc url %q: %w", rpcURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid rpc url %q: scheme must be http or https", rpcURL)
	}

	opts = opts.withDefaults()
	if _, ok := commitmentRank[opts.Commitment]; !ok {
		return nil, fmt.Errorf("unknown commitment %q", opts.Commitment)
	}

	return &Client{
		rpcURL: rpcURL,
		opts:   opts,
		client: opts.HTTPClient,
		log:    log.With().Str("client", "solana-rpc").Str("url", rpcURL).Logger(),
	}, nil
}

// NewFactory returns a ledger.EndpointFactory sharing opts and one HTTP client.
func NewFactory(opts Options, log zerolog.Logger) ledger.EndpointFactory {
	opts = opts.withDefaults()
	return func(rpcURL string) (ledger.Endpoint, error) {
		return NewClient(rpcURL, opts, log)
	}
}

// GetBalance returns the balance of address in lamports.
func (c *Client) GetBalance(ctx context.Context, address string) (uint64, error) {
	result, err := c.call(ctx, "getBalance", address, map[string]any{"commitment": c.opts.Commitment})
	if err != nil {
		return 0, err
	}
	value := result.Get("value")
	if !value.Exists() {
		return 0, fmt.Errorf("getBalance: missing value in response")
	}
	return value.Uint(), nil
}

// RequestAirdrop asks the faucet for lamports and returns the funding signature.
func (c *Client) RequestAirdrop(ctx context.Context, address string, lamports uint64) (string, error) {
	result, err := c.call(ctx, "requestAirdrop", address, lamports, map[string]any{"commitment": c.opts.Commitment})
	if err != nil {
		return "", err
	}
	if result.Type != gjson.String || result.String() == "" {
		return "", fmt.Errorf("requestAirdrop: unexpected result %s", result.Raw)
	}
	return result.String(), nil
}

// ConfirmTransfer waits for an airdrop to reach the configured commitment.
func (c *Client) ConfirmTransfer(ctx context.Context, transferID string) error {
	return c.confirm(ctx, transferID)
}

// GetLatestBlockhash returns a recent blockhash for transaction building.
func (c *Client) GetLatestBlockhash(ctx context.Context) (string, error) {
	result, err := c.call(ctx, "getLatestBlockhash", map[string]any{"commitment": c.opts.Commitment})
	if err != nil {
		return "", err
	}
	hash := result.Get("value.blockhash").String()
	if hash == "" {
		return "", fmt.Errorf("getLatestBlockhash: missing blockhash in response")
	}
	return hash, nil
}

// SendTransaction submits a signed transaction and returns its signature.
func (c *Client) SendTransaction(ctx context.Context, tx ledger.SignedTransaction) (string, error) {
	encoded := base64.StdEncoding.EncodeToString(tx.Raw)
	result, err := c.call(ctx, "sendTransaction", encoded, map[string]any{
		"encoding":            "base64",
		"preflightCommitment": c.opts.Commitment,
	})
	if err != nil {
		return "", err
	}

	signature := result.String()
	if signature == "" {
		return "", fmt.Errorf("sendTransaction: empty signature in response")
	}
	if tx.Signature != "" && signature != tx.Signature {
		c.log.Warn().
			Str("expected", tx.Signature).
			Str("returned", signature).
			Msg("Node returned a different signature than the one signed")
	}
	return signature, nil
}

// ConfirmTransaction waits for a submitted transaction to reach the
// configured commitment.
func (c *Client) ConfirmTransaction(ctx context.Context, signature string) error {
	return c.confirm(ctx, signature)
}

func (c *Client) confirm(ctx context.Context, signature string) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.ConfirmTimeout)
		defer cancel()
	}

	if c.opts.WebsocketURL != "" {
		err := c.confirmBySubscription(ctx, signature)
		if err == nil || !isSubscriptionUnavailable(err) {
			return err
		}
		c.log.Warn().Err(err).Msg("Signature subscription unavailable, falling back to polling")
	}

	return c.confirmByPolling(ctx, signature)
}

func (c *Client) confirmByPolling(ctx context.Context, signature string) error {
	ticker := time.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()

	for {
		done, err := c.signatureStatus(ctx, signature)
		if err != nil {
			var txErr *TransactionError
			if errors.As(err, &txErr) {
				return err
			}
			c.log.Debug().Err(err).Str("signature", signature).Msg("Signature status query failed")
		}
		if done {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("confirmation of %s did not complete: %w", signature, ctx.Err())
		case <-ticker.C:
		}
	}
}

// signatureStatus reports whether signature has reached the commitment.
// A landed transaction that failed is returned as *TransactionError.
func (c *Client) signatureStatus(ctx context.Context, signature string) (bool, error) {
	result, err := c.call(ctx, "getSignatureStatuses", []string{signature}, map[string]any{
		"searchTransactionHistory": true,
	})
	if err != nil {
		return false, err
	}

	status := result.Get("value.0")
	if !status.Exists() || status.Type == gjson.Null {
		return false, nil
	}
	if txErr := status.Get("err"); txErr.Exists() && txErr.Type != gjson.Null {
		return false, &TransactionError{Signature: signature, Detail: txErr.Raw}
	}
	return c.reached(status.Get("confirmationStatus").String()), nil
}

func (c *Client) reached(status string) bool {
	return commitmentRank[status] >= commitmentRank[c.opts.Commitment]
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params,omitempty"`
}

func (c *Client) newRequest(method string, params ...any) rpcRequest {
	return rpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	}
}

// call performs one JSON-RPC request and returns its result member.
func (c *Client) call(ctx context.Context, method string, params ...any) (gjson.Result, error) {
	body, err := json.Marshal(c.newRequest(method, params...))
	if err != nil {
		return gjson.Result{}, fmt.Errorf("%s: failed to encode request: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcURL, bytes.NewReader(body))
	if err != nil {
		return gjson.Result{}, fmt.Errorf("%s: failed to create request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("%s: request failed: %w", method, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return gjson.Result{}, fmt.Errorf("%s: failed to read response: %w", method, err)
	}

	c.log.Debug().
		Str("method", method).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("RPC call")

	if resp.StatusCode != http.StatusOK {
		return gjson.Result{}, fmt.Errorf("%s: node returned status %d: %s", method, resp.StatusCode, truncate(data, 200))
	}
	if !gjson.ValidBytes(data) {
		return gjson.Result{}, fmt.Errorf("%s: invalid JSON response", method)
	}

	if rpcErr := gjson.GetBytes(data, "error"); rpcErr.Exists() && rpcErr.Type != gjson.Null {
		return gjson.Result{}, fmt.Errorf("%s: %w", method, &RPCError{
			Code:    rpcErr.Get("code").Int(),
			Message: rpcErr.Get("message").String(),
		})
	}

	result := gjson.GetBytes(data, "result")
	if !result.Exists() {
		return gjson.Result{}, fmt.Errorf("%s: response has no result", method)
	}
	return result, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
