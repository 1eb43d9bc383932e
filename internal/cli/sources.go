package cli

import (
	"math/big"
	"os"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/seqlabs/txgate/internal/chain"
	"github.com/seqlabs/txgate/internal/chain/eth"
	"github.com/seqlabs/txgate/internal/config"
	txgerr "github.com/seqlabs/txgate/pkg/errors"
)

// clientSource builds one node client per configured network, sharing a
// single rate limiter across them.
type clientSource struct {
	cfg     *config.Config
	limiter *chain.RateLimiter

	mu      sync.Mutex
	clients map[chain.ID]*eth.Client
}

func newClientSource(cfg *config.Config) *clientSource {
	return &clientSource{
		cfg:     cfg,
		limiter: chain.NewRateLimiter(cfg.Broadcast.RateLimitPerSecond, cfg.Broadcast.RateBurst),
		clients: make(map[chain.ID]*eth.Client),
	}
}

func (s *clientSource) Client(id chain.ID) (chain.NodeClient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if client, ok := s.clients[id]; ok {
		return client, nil
	}

	net, err := s.cfg.Network(id)
	if err != nil {
		return nil, err
	}

	opts := &eth.ClientOptions{RateLimiter: s.limiter}
	if net.ChainID > 0 {
		opts.ChainID = big.NewInt(net.ChainID)
	}

	client, err := eth.NewClient(net.RPC, opts)
	if err != nil {
		return nil, err
	}
	s.clients[id] = client
	return client, nil
}

// Close closes all node clients.
func (s *clientSource) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, client := range s.clients {
		client.Close()
	}
	s.clients = make(map[chain.ID]*eth.Client)
}

// envWalletSource resolves signers from the TXGATE_PRIVATE_KEY environment
// variable. Key management proper (keystores, HSMs) is out of scope for the
// CLI; services embed the broadcast packages with their own WalletSource.
type envWalletSource struct{}

func (envWalletSource) Signer(_ chain.ID, address common.Address) (chain.Signer, error) {
	hexKey := os.Getenv(config.EnvPrivateKey)
	if hexKey == "" {
		return nil, txgerr.WithSuggestion(
			txgerr.ErrInvalidPrivateKey,
			"set "+config.EnvPrivateKey+" to the sender's private key",
		)
	}

	w, err := eth.NewWallet(hexKey)
	if err != nil {
		return nil, err
	}
	if w.Address() != address {
		return nil, txgerr.WithDetails(txgerr.ErrInvalidPrivateKey, map[string]string{
			"expected": address.Hex(),
			"derived":  w.Address().Hex(),
		})
	}
	return w, nil
}
