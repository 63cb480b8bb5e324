package solana

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/ideastake/ledgerbeat/internal/ledger"
)

type rpcHandler func(params gjson.Result) (any, *RPCError)

// fakeNode answers JSON-RPC calls over HTTP and signatureSubscribe over websocket.
type fakeNode struct {
	mu       sync.Mutex
	handlers map[string]rpcHandler
	calls    map[string]int
	// notify is sent after the subscription ack; nil sends nothing.
	notify map[string]any
}

func newFakeNode() *fakeNode {
	return &fakeNode{
		handlers: make(map[string]rpcHandler),
		calls:    make(map[string]int),
	}
}

func (n *fakeNode) handle(method string, h rpcHandler) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.handlers[method] = h
}

func (n *fakeNode) count(method string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls[method]
}

func (n *fakeNode) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		n.serveWebsocket(w, r)
		return
	}

	body, _ := io.ReadAll(r.Body)
	req := gjson.ParseBytes(body)
	method := req.Get("method").String()

	n.mu.Lock()
	n.calls[method]++
	h, ok := n.handlers[method]
	n.mu.Unlock()

	resp := map[string]any{"jsonrpc": "2.0", "id": req.Get("id").Uint()}
	if !ok {
		resp["error"] = map[string]any{"code": -32601, "message": "Method not found"}
	} else if result, rpcErr := h(req.Get("params")); rpcErr != nil {
		resp["error"] = map[string]any{"code": rpcErr.Code, "message": rpcErr.Message}
	} else {
		resp["result"] = result
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (n *fakeNode) serveWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	ctx := r.Context()
	var req map[string]any
	if err := wsjson.Read(ctx, conn, &req); err != nil {
		return
	}

	n.mu.Lock()
	n.calls["signatureSubscribe"]++
	notify := n.notify
	n.mu.Unlock()

	_ = wsjson.Write(ctx, conn, map[string]any{"jsonrpc": "2.0", "id": req["id"], "result": 7})
	if notify != nil {
		_ = wsjson.Write(ctx, conn, notify)
	}
	// Hold the connection until the client hangs up.
	_, _, _ = conn.Read(ctx)
}

func newTestClient(t *testing.T, node *fakeNode, opts Options) *Client {
	t.Helper()
	srv := httptest.NewServer(node)
	t.Cleanup(srv.Close)

	if opts.PollInterval == 0 {
		opts.PollInterval = 5 * time.Millisecond
	}
	if opts.WebsocketURL == "ws" {
		opts.WebsocketURL = "ws" + strings.TrimPrefix(srv.URL, "http")
	}

	c, err := NewClient(srv.URL, opts, zerolog.Nop())
	require.NoError(t, err)
	return c
}

func statusResult(status string, txErr any) map[string]any {
	return map[string]any{
		"context": map[string]any{"slot": 1},
		"value": []any{map[string]any{
			"slot":               1,
			"confirmations":      nil,
			"err":                txErr,
			"confirmationStatus": status,
		}},
	}
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient("ftp://example.com", Options{}, zerolog.Nop())
	assert.Error(t, err)

	_, err = NewClient("://bad", Options{}, zerolog.Nop())
	assert.Error(t, err)

	_, err = NewClient(DefaultRPCURL, Options{Commitment: "eventually"}, zerolog.Nop())
	assert.Error(t, err)

	c, err := NewClient(DefaultRPCURL, Options{}, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, DefaultCommitment, c.opts.Commitment)
	assert.Equal(t, DefaultConfirmTimeout, c.opts.ConfirmTimeout)
}

func TestNewFactory(t *testing.T) {
	dial := NewFactory(Options{}, zerolog.Nop())

	ep, err := dial(DefaultRPCURL)
	require.NoError(t, err)
	assert.IsType(t, &Client{}, ep)

	_, err = dial("not a url")
	assert.Error(t, err)
}

func TestClient_GetBalance(t *testing.T) {
	node := newFakeNode()
	node.handle("getBalance", func(params gjson.Result) (any, *RPCError) {
		assert.Equal(t, "addr", params.Get("0").String())
		assert.Equal(t, "confirmed", params.Get("1.commitment").String())
		return map[string]any{"context": map[string]any{"slot": 1}, "value": 2_500_000}, nil
	})
	c := newTestClient(t, node, Options{})

	balance, err := c.GetBalance(context.Background(), "addr")
	require.NoError(t, err)
	assert.Equal(t, uint64(2_500_000), balance)
}

func TestClient_RPCError(t *testing.T) {
	node := newFakeNode()
	node.handle("getBalance", func(gjson.Result) (any, *RPCError) {
		return nil, &RPCError{Code: -32602, Message: "Invalid param"}
	})
	c := newTestClient(t, node, Options{})

	_, err := c.GetBalance(context.Background(), "addr")
	require.Error(t, err)

	var rpcErr *RPCError
	require.True(t, errors.As(err, &rpcErr))
	assert.Equal(t, int64(-32602), rpcErr.Code)
	assert.Equal(t, "Invalid param", rpcErr.Message)
}

func TestClient_HTTPStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, Options{}, zerolog.Nop())
	require.NoError(t, err)

	_, err = c.GetLatestBlockhash(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestClient_RequestAirdrop(t *testing.T) {
	node := newFakeNode()
	node.handle("requestAirdrop", func(params gjson.Result) (any, *RPCError) {
		assert.Equal(t, "addr", params.Get("0").String())
		assert.Equal(t, uint64(1_000_000), params.Get("1").Uint())
		return "airdrop-sig", nil
	})
	c := newTestClient(t, node, Options{})

	sig, err := c.RequestAirdrop(context.Background(), "addr", 1_000_000)
	require.NoError(t, err)
	assert.Equal(t, "airdrop-sig", sig)
}

func TestClient_GetLatestBlockhash(t *testing.T) {
	node := newFakeNode()
	node.handle("getLatestBlockhash", func(gjson.Result) (any, *RPCError) {
		return map[string]any{
			"context": map[string]any{"slot": 1},
			"value":   map[string]any{"blockhash": SystemProgramID, "lastValidBlockHeight": 10},
		}, nil
	})
	c := newTestClient(t, node, Options{})

	hash, err := c.GetLatestBlockhash(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SystemProgramID, hash)
}

func TestClient_SendTransaction(t *testing.T) {
	raw := []byte{1, 2, 3, 4}
	node := newFakeNode()
	node.handle("sendTransaction", func(params gjson.Result) (any, *RPCError) {
		decoded, err := base64.StdEncoding.DecodeString(params.Get("0").String())
		assert.NoError(t, err)
		assert.Equal(t, raw, decoded)
		assert.Equal(t, "base64", params.Get("1.encoding").String())
		return "tx-sig", nil
	})
	c := newTestClient(t, node, Options{})

	sig, err := c.SendTransaction(context.Background(), ledger.SignedTransaction{Raw: raw, Signature: "tx-sig"})
	require.NoError(t, err)
	assert.Equal(t, "tx-sig", sig)
}

func TestClient_ConfirmByPolling(t *testing.T) {
	var mu sync.Mutex
	polls := 0
	node := newFakeNode()
	node.handle("getSignatureStatuses", func(params gjson.Result) (any, *RPCError) {
		assert.Equal(t, "sig", params.Get("0.0").String())
		mu.Lock()
		defer mu.Unlock()
		polls++
		switch {
		case polls < 3:
			return map[string]any{"context": map[string]any{"slot": 1}, "value": []any{nil}}, nil
		case polls < 4:
			return statusResult("processed", nil), nil
		default:
			return statusResult("confirmed", nil), nil
		}
	})
	c := newTestClient(t, node, Options{})

	require.NoError(t, c.ConfirmTransaction(context.Background(), "sig"))
	assert.Equal(t, 4, node.count("getSignatureStatuses"))
}

func TestClient_ConfirmFinalizedSatisfiesConfirmed(t *testing.T) {
	node := newFakeNode()
	node.handle("getSignatureStatuses", func(gjson.Result) (any, *RPCError) {
		return statusResult("finalized", nil), nil
	})
	c := newTestClient(t, node, Options{})

	require.NoError(t, c.ConfirmTransfer(context.Background(), "sig"))
}

func TestClient_ConfirmFailedTransaction(t *testing.T) {
	node := newFakeNode()
	node.handle("getSignatureStatuses", func(gjson.Result) (any, *RPCError) {
		return statusResult("confirmed", map[string]any{"InstructionError": []any{0, "Custom"}}), nil
	})
	c := newTestClient(t, node, Options{})

	err := c.ConfirmTransaction(context.Background(), "sig")
	require.Error(t, err)

	var txErr *TransactionError
	require.True(t, errors.As(err, &txErr))
	assert.Equal(t, "sig", txErr.Signature)
	assert.Contains(t, txErr.Detail, "InstructionError")
}

func TestClient_ConfirmTimeout(t *testing.T) {
	node := newFakeNode()
	node.handle("getSignatureStatuses", func(gjson.Result) (any, *RPCError) {
		return map[string]any{"context": map[string]any{"slot": 1}, "value": []any{nil}}, nil
	})
	c := newTestClient(t, node, Options{ConfirmTimeout: 50 * time.Millisecond})

	err := c.ConfirmTransaction(context.Background(), "sig")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClient_ConfirmBySubscription(t *testing.T) {
	node := newFakeNode()
	node.notify = map[string]any{
		"jsonrpc": "2.0",
		"method":  "signatureNotification",
		"params": map[string]any{
			"subscription": 7,
			"result": map[string]any{
				"context": map[string]any{"slot": 5},
				"value":   map[string]any{"err": nil},
			},
		},
	}
	node.handle("getSignatureStatuses", func(gjson.Result) (any, *RPCError) {
		return map[string]any{"context": map[string]any{"slot": 1}, "value": []any{nil}}, nil
	})
	c := newTestClient(t, node, Options{WebsocketURL: "ws"})

	require.NoError(t, c.ConfirmTransaction(context.Background(), "sig"))
	assert.Equal(t, 1, node.count("signatureSubscribe"))
	assert.Equal(t, 1, node.count("getSignatureStatuses"))
}

func TestClient_SubscriptionSeesAlreadyLandedTransaction(t *testing.T) {
	node := newFakeNode()
	node.handle("getSignatureStatuses", func(gjson.Result) (any, *RPCError) {
		return statusResult("confirmed", nil), nil
	})
	c := newTestClient(t, node, Options{WebsocketURL: "ws"})

	require.NoError(t, c.ConfirmTransaction(context.Background(), "sig"))
	assert.Equal(t, 1, node.count("signatureSubscribe"))
}

func TestClient_SubscriptionFallsBackToPolling(t *testing.T) {
	node := newFakeNode()
	node.handle("getSignatureStatuses", func(gjson.Result) (any, *RPCError) {
		return statusResult("confirmed", nil), nil
	})
	c := newTestClient(t, node, Options{WebsocketURL: "ws://127.0.0.1:1"})

	require.NoError(t, c.ConfirmTransaction(context.Background(), "sig"))
	assert.Equal(t, 0, node.count("signatureSubscribe"))
	assert.Equal(t, 1, node.count("getSignatureStatuses"))
}
