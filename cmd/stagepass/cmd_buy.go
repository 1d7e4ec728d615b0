package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/user/stagepass/internal/purchase"
)

func init() {
	rootCmd.AddCommand(buyCmd)
	buyCmd.Flags().BoolP("yes", "y", false, "skip the confirmation prompt")
}

var buyCmd = &cobra.Command{
	Use:   "buy <index>",
	Short: "Buy one ticket for an event",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		index, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid event index %q", args[0])
		}
		yes, _ := cmd.Flags().GetBool("yes")

		return withApp(cmd, func(ctx context.Context, a *app) error {
			hexKey := a.cfg.Chain.PrivateKey
			if hexKey == "" {
				hexKey, err = readSecret("Private key: ")
				if err != nil {
					return err
				}
			}
			wallet, err := a.signer(hexKey)
			if err != nil {
				return err
			}

			ev, err := a.listing.Event(ctx, index)
			if err != nil {
				return fmt.Errorf("read event %d: %w", index, err)
			}
			fmt.Printf("Buying 1 ticket for %q (event %d) at %s from %s\n",
				ev.Metadata.Title, index, formatEther(ev.TicketPrice), wallet.Address().Hex())
			if !yes && !confirm("Proceed?") {
				fmt.Println("Cancelled.")
				return nil
			}

			coord := purchase.NewCoordinator(wallet, wallet, nil,
				purchase.WithJournal(a.receipts),
				purchase.WithTitles(a.listing),
			)
			attempt := coord.NewAttempt(index)
			receipt, err := attempt.Run(ctx)
			if err != nil {
				var pe *purchase.Error
				if errors.As(err, &pe) {
					if h := attempt.TxHash(); h.Big().Sign() != 0 {
						fmt.Fprintf(os.Stderr, "Transaction: %s\n", h.Hex())
					}
					fmt.Fprintln(os.Stderr, pe.Message())
				}
				return err
			}

			fmt.Println("Purchase confirmed.")
			fmt.Printf("  Ticket:  #%d %s\n", receipt.TicketID, receipt.TicketName)
			fmt.Printf("  Price:   %s\n", formatEther(receipt.PurchasePrice))
			fmt.Printf("  Tx:      %s\n", receipt.TxHash.Hex())
			if !receipt.FromLog {
				fmt.Println("  (ticket id not found in the transaction logs; run `stagepass tickets` to see the minted ticket)")
			}
			return nil
		})
	},
}

// readSecret reads a line from the terminal without echo.
func readSecret(label string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("no private key configured (set chain.private_key or STAGEPASS_PRIVATE_KEY)")
	}
	fmt.Fprint(os.Stderr, label)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read private key: %w", err)
	}
	return strings.TrimSpace(string(b)), nil
}

func confirm(question string) bool {
	fmt.Printf("%s [y/N]: ", question)
	scanner := bufio.NewScanner(os.Stdin)
	if !scanner.Scan() {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(scanner.Text()))
	return answer == "y" || answer == "yes"
}
