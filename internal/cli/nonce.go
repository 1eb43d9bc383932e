package cli

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"text/tabwriter"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/seqlabs/txgate/internal/chain"
	"github.com/seqlabs/txgate/internal/nonce"
	txgerr "github.com/seqlabs/txgate/pkg/errors"
)

var nonceCmd = &cobra.Command{
	Use:   "nonce",
	Short: "Inspect and correct persisted nonce state",
}

var nonceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tracked accounts and their nonce state",
	Args:  cobra.NoArgs,
	RunE:  runNonceList,
}

var nonceResetCmd = &cobra.Command{
	Use:   "reset <chain> <address> <nonce>",
	Short: "Force an account's next nonce",
	Long: `Reset overrides the persisted next nonce for an account, dropping any
pending allocations at or above the new value. Use it after manual
transactions outside txgate left the stored sequence behind the chain.`,
	Args: cobra.ExactArgs(3),
	RunE: runNonceReset,
}

func openNonceManager() (*nonce.Manager, error) {
	store, err := nonce.OpenStore(cfg.NonceDBPath())
	if err != nil {
		return nil, err
	}

	clients := newClientSource(cfg)
	lookup := func(ctx context.Context, id chain.ID, address common.Address) (uint64, error) {
		client, err := clients.Client(id)
		if err != nil {
			return 0, err
		}
		return client.PendingNonceAt(ctx, address)
	}
	return nonce.NewManager(store, lookup, logger), nil
}

func runNonceList(cmd *cobra.Command, _ []string) error {
	store, err := nonce.OpenStore(cfg.NonceDBPath())
	if err != nil {
		return err
	}

	records := store.All()
	sort.Slice(records, func(i, j int) bool {
		if records[i].Chain != records[j].Chain {
			return records[i].Chain < records[j].Chain
		}
		return records[i].Address < records[j].Address
	})

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CHAIN\tADDRESS\tNEXT\tPENDING\tUPDATED")
	for _, rec := range records {
		fmt.Fprintf(w, "%s\t%s\t%d\t%v\t%s\n",
			rec.Chain, rec.Address, rec.NextNonce, rec.Pending,
			rec.UpdatedAt.Format("2006-01-02 15:04:05"))
	}
	return w.Flush()
}

func runNonceReset(cmd *cobra.Command, args []string) error {
	id := chain.ID(args[0])
	if _, err := cfg.Network(id); err != nil {
		return err
	}

	address, err := chain.ParseAddress(args[1])
	if err != nil {
		return err
	}

	corrected, err := strconv.ParseUint(args[2], 10, 64)
	if err != nil {
		return txgerr.WithDetails(txgerr.ErrInvalidInput, map[string]string{
			"nonce": args[2],
		})
	}

	manager, err := openNonceManager()
	if err != nil {
		return err
	}

	if err := manager.OverridePending(id, address, corrected); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "next nonce for %s on %s set to %d\n",
		address.Hex(), id, corrected)
	return nil
}

//nolint:gochecknoinits // Cobra CLI pattern requires init for command registration
func init() {
	rootCmd.AddCommand(nonceCmd)
	nonceCmd.AddCommand(nonceListCmd)
	nonceCmd.AddCommand(nonceResetCmd)
}
