package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/user/stagepass/internal/chain"
	"github.com/user/stagepass/internal/config"
	"github.com/user/stagepass/internal/state"
)

func init() {
	rootCmd.AddCommand(ticketsCmd, receiptsCmd)
}

var ticketsCmd = &cobra.Command{
	Use:   "tickets [address]",
	Short: "List tickets owned by an address",
	Long:  "List tickets owned by an address. Defaults to the configured wallet.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			owner, err := ownerAddress(a.cfg, args)
			if err != nil {
				return err
			}

			tickets, err := a.listing.UserTickets(ctx, owner)
			if err != nil {
				return fmt.Errorf("list tickets: %w", err)
			}
			if len(tickets) == 0 {
				fmt.Printf("No tickets found for %s.\n", owner.Hex())
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TICKET\tEVENT\tNAME\tPAID\tBOUGHT")
			for _, t := range tickets {
				fmt.Fprintf(w, "%d\t%d\t%s\t%s\t%s\n",
					t.TicketID,
					t.EventIndex,
					truncate(t.Name, 40),
					formatEther(t.PurchasePrice),
					humanize.Time(t.PurchaseTimestamp),
				)
			}
			return w.Flush()
		})
	},
}

func ownerAddress(cfg *config.Config, args []string) (common.Address, error) {
	if len(args) == 1 {
		if !common.IsHexAddress(args[0]) {
			return common.Address{}, fmt.Errorf("invalid address %q", args[0])
		}
		return common.HexToAddress(args[0]), nil
	}
	if cfg.Chain.PrivateKey == "" {
		return common.Address{}, errors.New("no address given and no wallet configured")
	}
	key, err := chain.ParsePrivateKey(cfg.Chain.PrivateKey)
	if err != nil {
		return common.Address{}, err
	}
	return chain.AddressOf(key), nil
}

var receiptsCmd = &cobra.Command{
	Use:   "receipts",
	Short: "List purchases recorded on this machine",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		store := state.NewReceiptStore(cfg.DataDir)

		receipts, err := store.List(cmd.Context())
		if err != nil {
			return fmt.Errorf("list receipts: %w", err)
		}
		if len(receipts) == 0 {
			fmt.Println("No purchases recorded.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "WHEN\tEVENT\tTICKET\tNAME\tPAID\tTX")
		for _, r := range receipts {
			ticket := fmt.Sprintf("#%d", r.TicketID)
			if !r.FromLog {
				ticket += "?"
			}
			fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\t%s\n",
				r.PurchasedAt.Local().Format("2006-01-02 15:04"),
				r.EventIndex,
				ticket,
				truncate(r.TicketName, 40),
				formatEther(r.PurchasePrice),
				r.TxHash.Hex(),
			)
		}
		return w.Flush()
	},
}
