// Package eth provides the EVM node client used by the broadcast subsystem.
package eth

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/seqlabs/txgate/internal/chain"
	"github.com/seqlabs/txgate/internal/chain/eth/rpc"
	"github.com/seqlabs/txgate/internal/metrics"
	txgerr "github.com/seqlabs/txgate/pkg/errors"
)

// Compile-time interface check
var _ chain.NodeClient = (*Client)(nil)

// ClientOptions contains optional configuration for the EVM client.
type ClientOptions struct {
	// ChainID overrides chain ID detection.
	ChainID *big.Int
	// Transport overrides the default HTTP transport for the underlying RPC
	// client. Useful for sharing a transport across clients for multiple
	// networks.
	Transport *http.Transport
	// RateLimiter throttles node calls per method. Nil disables limiting.
	RateLimiter *chain.RateLimiter
}

// Client implements chain.NodeClient over JSON-RPC.
type Client struct {
	rpcURL    string
	rpcClient *rpc.Client
	chainID   *big.Int
	transport *http.Transport
	limiter   *chain.RateLimiter
	mu        sync.Mutex
	initErr   error
}

// NewClient creates a new EVM client. The RPC connection is established
// lazily on first use so construction never touches the network.
func NewClient(rpcURL string, opts *ClientOptions) (*Client, error) {
	if rpcURL == "" {
		return nil, txgerr.ErrRPCURLRequired
	}

	c := &Client{
		rpcURL: rpcURL,
	}

	if opts != nil {
		if opts.ChainID != nil {
			c.chainID = opts.ChainID
		}
		if opts.Transport != nil {
			c.transport = opts.Transport
		}
		if opts.RateLimiter != nil {
			c.limiter = opts.RateLimiter
		}
	}

	return c, nil
}

// ChainID returns the chain ID of the connected node.
func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	if err := c.connect(ctx); err != nil {
		return nil, err
	}
	return new(big.Int).Set(c.chainID), nil
}

// PendingNonceAt returns the account's next nonce including mempool
// transactions. Transient transport failures are retried; node-level errors
// are not.
func (c *Client) PendingNonceAt(ctx context.Context, address common.Address) (uint64, error) {
	if err := c.connect(ctx); err != nil {
		return 0, err
	}

	if err := c.wait(ctx, "eth_getTransactionCount"); err != nil {
		return 0, err
	}

	return chain.Retry(ctx, func() (uint64, error) {
		start := time.Now()
		nonce, err := c.rpcClient.GetTransactionCount(ctx, address.Hex(), "pending")
		metrics.Global.RecordRPCCall(time.Since(start), err)
		if err != nil {
			return 0, markTransportRetryable(err)
		}
		return nonce, nil
	})
}

// SendTransaction submits a signed transaction to the node. Sends are never
// retried here; nonce-conflict recovery belongs to the broadcaster.
func (c *Client) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	if err := c.connect(ctx); err != nil {
		return err
	}

	if err := c.wait(ctx, "eth_sendRawTransaction"); err != nil {
		return err
	}

	raw, err := tx.MarshalBinary()
	if err != nil {
		return fmt.Errorf("encoding transaction: %w", err)
	}

	start := time.Now()
	_, err = c.rpcClient.SendRawTransaction(ctx, raw)
	metrics.Global.RecordRPCCall(time.Since(start), err)
	return err
}

// CallContract executes a read-only call at the given block.
// A nil blockNumber means the latest block.
func (c *Client) CallContract(ctx context.Context, msg chain.CallMsg, blockNumber *big.Int) ([]byte, error) {
	if err := c.connect(ctx); err != nil {
		return nil, err
	}

	if err := c.wait(ctx, "eth_call"); err != nil {
		return nil, err
	}

	callMsg := rpc.CallMsg{
		From:  msg.From.Hex(),
		Gas:   msg.Gas,
		Value: msg.Value,
		Data:  msg.Data,
	}
	if msg.To != nil {
		callMsg.To = msg.To.Hex()
	}

	start := time.Now()
	data, err := c.rpcClient.EthCall(ctx, callMsg, rpc.BlockTag(blockNumber))
	metrics.Global.RecordRPCCall(time.Since(start), err)
	return data, err
}

// GasPrice returns the node's suggested gas price in wei.
func (c *Client) GasPrice(ctx context.Context) (*big.Int, error) {
	if err := c.connect(ctx); err != nil {
		return nil, err
	}

	if err := c.wait(ctx, "eth_gasPrice"); err != nil {
		return nil, err
	}

	return chain.Retry(ctx, func() (*big.Int, error) {
		start := time.Now()
		price, err := c.rpcClient.GasPrice(ctx)
		metrics.Global.RecordRPCCall(time.Since(start), err)
		if err != nil {
			return nil, markTransportRetryable(err)
		}
		return price, nil
	})
}

// Close closes the client connection.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.rpcClient != nil {
		c.rpcClient.Close()
		c.rpcClient = nil
	}
}

// connect establishes the RPC connection if not already connected.
// This method is thread-safe and allows retries after transient failures.
func (c *Client) connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.rpcClient != nil && c.initErr == nil {
		return nil
	}

	var rpcOpts *rpc.ClientOptions
	if c.transport != nil {
		rpcOpts = &rpc.ClientOptions{Transport: c.transport}
	}
	c.rpcClient = rpc.NewClientWithOptions(c.rpcURL, rpcOpts)

	// Detect chain ID if not set
	if c.chainID == nil {
		chainID, err := c.rpcClient.ChainID(ctx)
		if err != nil {
			c.rpcClient.Close()
			c.rpcClient = nil
			c.initErr = fmt.Errorf("getting chain ID: %w", err)
			return c.initErr
		}
		c.chainID = chainID
	}

	c.initErr = nil
	return nil
}

// wait applies the per-method rate limit, if configured.
func (c *Client) wait(ctx context.Context, method string) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx, method)
}

// markTransportRetryable marks transport-level failures as retryable.
// Node-level JSON-RPC errors pass through untouched; retrying those would
// just replay the same rejection.
func markTransportRetryable(err error) error {
	var rpcErr *rpc.Error
	if errors.As(err, &rpcErr) {
		return err
	}
	return chain.WrapRetryable(err)
}
