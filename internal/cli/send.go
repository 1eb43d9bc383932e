package cli

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/big"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/seqlabs/txgate/internal/broadcast"
	"github.com/seqlabs/txgate/internal/chain"
	txgerr "github.com/seqlabs/txgate/pkg/errors"
)

var (
	sendChain    string
	sendFrom     string
	sendTo       string
	sendValue    string
	sendData     string
	sendGasLimit uint64
	sendGasPrice string
	sendMaxFee   string
	sendMaxTip   string
	sendNonce    int64
)

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Sign and broadcast a transaction",
	Long: `Send signs a transaction with the key from ` + "TXGATE_PRIVATE_KEY" + ` and
broadcasts it through the per-account queue, allocating the nonce from the
persisted sequence unless --nonce is given.`,
	Args: cobra.NoArgs,
	RunE: runSend,
}

func runSend(cmd *cobra.Command, _ []string) error {
	id := chain.ID(sendChain)
	if _, err := cfg.Network(id); err != nil {
		return err
	}

	from, err := chain.ParseAddress(sendFrom)
	if err != nil {
		return err
	}

	req, err := buildRequest()
	if err != nil {
		return err
	}

	manager, err := openNonceManager()
	if err != nil {
		return err
	}

	clients := newClientSource(cfg)
	defer clients.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// No pricing flag given: take the node's suggested price.
	if req.GasPrice == nil && req.GasFeeCap == nil {
		if req.GasPrice, err = suggestGasPrice(ctx, clients, id); err != nil {
			return err
		}
	}

	registry := broadcast.NewRegistry(clients, envWalletSource{}, manager,
		cfg.Broadcast.RegistryCapacity, broadcast.Options{
			SendTimeout: cfg.SendTimeout(),
			QueueDepth:  cfg.Broadcast.QueueDepth,
			Logger:      logger,
		})
	defer registry.Close()

	b, err := registry.For(id, from)
	if err != nil {
		return err
	}

	res, err := b.Broadcast(ctx, req)
	if err != nil {
		// A rejected transaction sometimes carries a revert reason that
		// only a read-only replay can surface.
		if reason := b.RevertReason(ctx, req, nil); reason != "" {
			return txgerr.Wrap(err, "reverted with %q", reason)
		}
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "hash: %s\nnonce: %d\n", res.Hash.Hex(), res.Nonce)
	if res.Retried {
		fmt.Fprintln(cmd.OutOrStdout(), "note: nonce corrected from node state and resent")
	}
	return nil
}

func buildRequest() (*broadcast.Request, error) {
	req := &broadcast.Request{GasLimit: sendGasLimit}

	if sendTo != "" {
		to, err := chain.ParseAddress(sendTo)
		if err != nil {
			return nil, err
		}
		req.To = &to
	}

	var err error
	if req.Value, err = parseWei(sendValue, "value"); err != nil {
		return nil, err
	}
	if req.GasPrice, err = parseWei(sendGasPrice, "gas-price"); err != nil {
		return nil, err
	}
	if req.GasFeeCap, err = parseWei(sendMaxFee, "max-fee"); err != nil {
		return nil, err
	}
	if req.GasTipCap, err = parseWei(sendMaxTip, "max-tip"); err != nil {
		return nil, err
	}

	if sendData != "" {
		data, err := hex.DecodeString(strings.TrimPrefix(sendData, "0x"))
		if err != nil {
			return nil, txgerr.WithDetails(txgerr.ErrInvalidInput, map[string]string{
				"data": sendData,
			})
		}
		req.Data = data
	}

	if sendNonce >= 0 {
		n := uint64(sendNonce)
		req.Nonce = &n
	}

	return req, nil
}

// suggestGasPrice asks the network's node for its current gas price.
func suggestGasPrice(ctx context.Context, clients chain.ClientSource, id chain.ID) (*big.Int, error) {
	client, err := clients.Client(id)
	if err != nil {
		return nil, err
	}
	pricer, ok := client.(chain.GasPricer)
	if !ok {
		return nil, txgerr.WithSuggestion(
			txgerr.ErrInvalidValue,
			"the node client cannot suggest a gas price; pass --gas-price or --max-fee",
		)
	}
	return pricer.GasPrice(ctx)
}

// parseWei parses a decimal wei amount. Empty means unset.
func parseWei(s, flag string) (*big.Int, error) {
	if s == "" {
		return nil, nil
	}
	n, ok := new(big.Int).SetString(s, 10)
	if !ok || n.Sign() < 0 {
		return nil, txgerr.WithDetails(txgerr.ErrInvalidValue, map[string]string{
			"flag":  flag,
			"value": s,
		})
	}
	return n, nil
}

//nolint:gochecknoinits // Cobra CLI pattern requires init for command registration
func init() {
	rootCmd.AddCommand(sendCmd)

	sendCmd.Flags().StringVar(&sendChain, "chain", "ethereum", "network to broadcast on")
	sendCmd.Flags().StringVar(&sendFrom, "from", "", "sender address (must match TXGATE_PRIVATE_KEY)")
	sendCmd.Flags().StringVar(&sendTo, "to", "", "recipient address (omit for contract creation)")
	sendCmd.Flags().StringVar(&sendValue, "value", "", "amount in wei")
	sendCmd.Flags().StringVar(&sendData, "data", "", "calldata as hex")
	sendCmd.Flags().Uint64Var(&sendGasLimit, "gas-limit", 21000, "gas limit")
	sendCmd.Flags().StringVar(&sendGasPrice, "gas-price", "", "legacy gas price in wei (default: node suggestion)")
	sendCmd.Flags().StringVar(&sendMaxFee, "max-fee", "", "EIP-1559 max fee per gas in wei")
	sendCmd.Flags().StringVar(&sendMaxTip, "max-tip", "", "EIP-1559 max priority fee per gas in wei")
	sendCmd.Flags().Int64Var(&sendNonce, "nonce", -1, "explicit nonce (bypasses allocation)")
	_ = sendCmd.MarkFlagRequired("from")
}
