// Package chain provides blockchain interface definitions and common utilities.
package chain

import (
	"context"
	"math/big"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	txgerr "github.com/seqlabs/txgate/pkg/errors"
)

// ID identifies a configured network, e.g. "ethereum", "polygon", "base".
type ID string

// String returns the network identifier string.
func (id ID) String() string {
	return string(id)
}

// addressRegex validates 0x-prefixed EVM addresses.
var addressRegex = regexp.MustCompile("^0x[0-9a-fA-F]{40}$")

// ValidAddress reports whether s is a well-formed EVM address.
func ValidAddress(s string) bool {
	return addressRegex.MatchString(s)
}

// ParseAddress validates and parses an EVM address string.
func ParseAddress(s string) (common.Address, error) {
	if !ValidAddress(s) {
		return common.Address{}, txgerr.WithDetails(txgerr.ErrInvalidAddress, map[string]string{
			"address": s,
		})
	}
	return common.HexToAddress(s), nil
}

// AccountKey builds the canonical "<chain>:<address>" key used by the nonce
// store and the broadcaster registry. Addresses are lowercased so that
// checksummed and plain forms map to the same account.
func AccountKey(id ID, address common.Address) string {
	return string(id) + ":" + strings.ToLower(address.Hex())
}

// CallMsg represents the parameters of a read-only contract call.
type CallMsg struct {
	From  common.Address
	To    *common.Address
	Gas   uint64
	Value *big.Int
	Data  []byte
}

// NodeClient is the subset of node operations the broadcast subsystem
// consumes. Implementations must be safe for concurrent use.
type NodeClient interface {
	// ChainID returns the EIP-155 chain ID of the connected node.
	ChainID(ctx context.Context) (*big.Int, error)

	// PendingNonceAt returns the account's next nonce including mempool
	// transactions.
	PendingNonceAt(ctx context.Context, address common.Address) (uint64, error)

	// SendTransaction submits a signed transaction to the node.
	SendTransaction(ctx context.Context, tx *types.Transaction) error

	// CallContract executes a read-only call at the given block.
	// A nil blockNumber means the latest block.
	CallContract(ctx context.Context, msg CallMsg, blockNumber *big.Int) ([]byte, error)
}

// GasPricer is the optional pricing capability of a node client. Callers
// that need a suggested price type-assert the NodeClient against it.
type GasPricer interface {
	// GasPrice returns the node's suggested gas price in wei.
	GasPrice(ctx context.Context) (*big.Int, error)
}

// Signer signs transactions for a single account. Key resolution and storage
// are outside this subsystem; callers supply a Signer per (chain, address).
type Signer interface {
	// Address returns the account this signer signs for.
	Address() common.Address

	// SignTx signs the transaction for the given chain ID.
	SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error)
}

// ClientSource resolves the node client for a network.
type ClientSource interface {
	Client(id ID) (NodeClient, error)
}

// WalletSource resolves the signer for an account.
type WalletSource interface {
	Signer(id ID, address common.Address) (Signer, error)
}
