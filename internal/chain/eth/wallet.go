package eth

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/seqlabs/txgate/internal/chain"
	txgerr "github.com/seqlabs/txgate/pkg/errors"
)

// Compile-time interface check
var _ chain.Signer = (*Wallet)(nil)

// Wallet is an in-memory secp256k1 signer for a single account. Key storage
// and decryption live outside this subsystem; the Wallet only holds a key
// already resolved by the caller.
type Wallet struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewWallet creates a signer from a hex-encoded private key
// (with or without 0x prefix).
func NewWallet(hexKey string) (*Wallet, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")

	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, txgerr.WithCause(txgerr.ErrInvalidPrivateKey, err)
	}

	return &Wallet{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
	}, nil
}

// NewWalletFromKey creates a signer from an already-parsed private key.
func NewWalletFromKey(key *ecdsa.PrivateKey) *Wallet {
	return &Wallet{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
	}
}

// Address returns the account this signer signs for.
func (w *Wallet) Address() common.Address {
	return w.address
}

// SignTx signs the transaction for the given chain ID using the latest
// supported signer (EIP-155, EIP-2930, EIP-1559 as appropriate for the tx
// type).
func (w *Wallet) SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	if chainID == nil {
		return nil, txgerr.ErrInvalidChainID
	}

	signedTx, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), w.key)
	if err != nil {
		return nil, fmt.Errorf("signing transaction: %w", err)
	}

	return signedTx, nil
}
