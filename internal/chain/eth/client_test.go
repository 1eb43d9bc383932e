package eth

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seqlabs/txgate/internal/chain"
	"github.com/seqlabs/txgate/internal/chain/eth/rpc"
	txgerr "github.com/seqlabs/txgate/pkg/errors"
)

// nodeStub is a JSON-RPC test server with per-method canned responses.
type nodeStub struct {
	server   *httptest.Server
	calls    atomic.Int64
	failing  atomic.Bool
	results  map[string]any
	rpcError map[string]*rpc.Error
}

func newNodeStub(t *testing.T, results map[string]any) *nodeStub {
	t.Helper()

	stub := &nodeStub{
		results:  results,
		rpcError: make(map[string]*rpc.Error),
	}
	stub.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		stub.calls.Add(1)
		if stub.failing.Load() {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}

		var req struct {
			Method string `json:"method"`
			ID     uint64 `json:"id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
		if rpcErr, ok := stub.rpcError[req.Method]; ok {
			resp["error"] = rpcErr
		} else {
			resp["result"] = stub.results[req.Method]
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(stub.server.Close)
	return stub
}

func TestNewClient_RequiresURL(t *testing.T) {
	t.Parallel()

	_, err := NewClient("", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, txgerr.ErrRPCURLRequired)
}

func TestClient_ConnectsLazily(t *testing.T) {
	t.Parallel()

	stub := newNodeStub(t, map[string]any{"eth_chainId": "0x1"})

	client, err := NewClient(stub.server.URL, nil)
	require.NoError(t, err)
	t.Cleanup(client.Close)

	// Construction never touches the network.
	assert.Equal(t, int64(0), stub.calls.Load())

	id, err := client.ChainID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(1), id)
	assert.Equal(t, int64(1), stub.calls.Load())

	// The detected chain ID is cached.
	_, err = client.ChainID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), stub.calls.Load())
}

func TestClient_ConfiguredChainIDSkipsDetection(t *testing.T) {
	t.Parallel()

	stub := newNodeStub(t, map[string]any{})

	client, err := NewClient(stub.server.URL, &ClientOptions{ChainID: big.NewInt(137)})
	require.NoError(t, err)
	t.Cleanup(client.Close)

	id, err := client.ChainID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(137), id)
	assert.Equal(t, int64(0), stub.calls.Load())
}

func TestClient_ReconnectsAfterInitFailure(t *testing.T) {
	t.Parallel()

	stub := newNodeStub(t, map[string]any{"eth_chainId": "0x1"})
	stub.failing.Store(true)

	client, err := NewClient(stub.server.URL, nil)
	require.NoError(t, err)
	t.Cleanup(client.Close)

	_, err = client.ChainID(context.Background())
	require.Error(t, err)

	// The node comes back; the client recovers without being rebuilt.
	stub.failing.Store(false)
	id, err := client.ChainID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(1), id)
}

func TestClient_PendingNonceAt(t *testing.T) {
	t.Parallel()

	stub := newNodeStub(t, map[string]any{
		"eth_chainId":             "0x1",
		"eth_getTransactionCount": "0x2a",
	})

	client, err := NewClient(stub.server.URL, nil)
	require.NoError(t, err)
	t.Cleanup(client.Close)

	nonce, err := client.PendingNonceAt(context.Background(), common.HexToAddress("0x1111111111111111111111111111111111111111"))
	require.NoError(t, err)
	assert.Equal(t, uint64(42), nonce)
}

func TestClient_PendingNonceAtNodeErrorNotRetried(t *testing.T) {
	t.Parallel()

	stub := newNodeStub(t, map[string]any{"eth_chainId": "0x1"})
	stub.rpcError["eth_getTransactionCount"] = &rpc.Error{Code: -32602, Message: "invalid params"}

	client, err := NewClient(stub.server.URL, nil)
	require.NoError(t, err)
	t.Cleanup(client.Close)

	_, err = client.PendingNonceAt(context.Background(), common.HexToAddress("0x1111111111111111111111111111111111111111"))
	require.Error(t, err)

	var rpcErr *rpc.Error
	assert.ErrorAs(t, err, &rpcErr)
	// eth_chainId plus exactly one eth_getTransactionCount attempt; the
	// node's rejection would just replay on a retry.
	assert.Equal(t, int64(2), stub.calls.Load())
}

func TestClient_SendTransaction(t *testing.T) {
	t.Parallel()

	stub := newNodeStub(t, map[string]any{
		"eth_chainId":            "0x1",
		"eth_sendRawTransaction": "0x1111111111111111111111111111111111111111111111111111111111111111",
	})

	client, err := NewClient(stub.server.URL, nil)
	require.NoError(t, err)
	t.Cleanup(client.Close)

	w, err := NewWallet(testKeyHex)
	require.NoError(t, err)

	to := common.HexToAddress("0x2222222222222222222222222222222222222222")
	signedTx, err := w.SignTx(types.NewTx(&types.LegacyTx{
		Nonce:    0,
		To:       &to,
		Gas:      21000,
		GasPrice: big.NewInt(1_000_000_000),
	}), big.NewInt(1))
	require.NoError(t, err)

	require.NoError(t, client.SendTransaction(context.Background(), signedTx))
}

func TestClient_SendTransactionErrorPreservesMessage(t *testing.T) {
	t.Parallel()

	stub := newNodeStub(t, map[string]any{"eth_chainId": "0x1"})
	stub.rpcError["eth_sendRawTransaction"] = &rpc.Error{
		Code:    -32000,
		Message: "nonce too low: next nonce 9, tx nonce 3",
	}

	client, err := NewClient(stub.server.URL, nil)
	require.NoError(t, err)
	t.Cleanup(client.Close)

	w, err := NewWallet(testKeyHex)
	require.NoError(t, err)
	signedTx, err := w.SignTx(types.NewTx(&types.LegacyTx{
		Gas:      21000,
		GasPrice: big.NewInt(1),
	}), big.NewInt(1))
	require.NoError(t, err)

	err = client.SendTransaction(context.Background(), signedTx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nonce too low: next nonce 9, tx nonce 3")

	// Sends are never retried, whatever the failure.
	assert.Equal(t, int64(2), stub.calls.Load())
}

func TestClient_CallContract(t *testing.T) {
	t.Parallel()

	stub := newNodeStub(t, map[string]any{
		"eth_chainId": "0x1",
		"eth_call":    "0xdeadbeef",
	})

	client, err := NewClient(stub.server.URL, nil)
	require.NoError(t, err)
	t.Cleanup(client.Close)

	to := common.HexToAddress("0x2222222222222222222222222222222222222222")
	data, err := client.CallContract(context.Background(), chain.CallMsg{
		From: common.HexToAddress("0x1111111111111111111111111111111111111111"),
		To:   &to,
		Gas:  50000,
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, data)
}

func TestClient_GasPrice(t *testing.T) {
	t.Parallel()

	stub := newNodeStub(t, map[string]any{
		"eth_chainId":  "0x1",
		"eth_gasPrice": "0x3b9aca00",
	})

	client, err := NewClient(stub.server.URL, nil)
	require.NoError(t, err)
	t.Cleanup(client.Close)

	price, err := client.GasPrice(context.Background())
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(1_000_000_000), price)
}

func TestMarkTransportRetryable(t *testing.T) {
	t.Parallel()

	// Node-level rejections pass through untouched.
	nodeErr := &rpc.Error{Code: -32000, Message: "rejected"}
	assert.False(t, chain.IsRetryable(markTransportRetryable(nodeErr)))

	// Transport failures are worth another attempt.
	transportErr := errors.New("connection refused")
	assert.True(t, chain.IsRetryable(markTransportRetryable(transportErr)))
}
