package main

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/user/stagepass/internal/timing"
	"github.com/user/stagepass/internal/types"
)

func init() {
	rootCmd.AddCommand(eventsCmd, eventCmd)
	eventsCmd.Flags().String("phase", "", "only show events in this phase (upcoming|live|completed)")
	eventsCmd.Flags().Bool("refresh", false, "bypass the cache")
}

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "List all events",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		phase, _ := cmd.Flags().GetString("phase")
		refresh, _ := cmd.Flags().GetBool("refresh")

		return withApp(cmd, func(ctx context.Context, a *app) error {
			var (
				list []types.EventRecord
				err  error
			)
			if refresh {
				list, err = a.listing.Refresh(ctx)
			} else {
				list, err = a.listing.Events(ctx)
			}
			if err != nil {
				return fmt.Errorf("list events: %w", err)
			}

			if len(list) == 0 {
				fmt.Println("No events found.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "INDEX\tTITLE\tPHASE\tSTARTS\tTICKETS\tPRICE")
			for _, ev := range list {
				if phase != "" && string(ev.Phase) != phase {
					continue
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d/%d\t%s\n",
					ev.Index,
					truncate(ev.Metadata.Title, 40),
					ev.Phase,
					humanize.Time(ev.StartTime),
					ev.SoldTickets, ev.MaxTickets,
					formatEther(ev.TicketPrice),
				)
			}
			return w.Flush()
		})
	},
}

var eventCmd = &cobra.Command{
	Use:   "event <index>",
	Short: "Show one event, read fresh from the chain",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		index, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid event index %q", args[0])
		}

		return withApp(cmd, func(ctx context.Context, a *app) error {
			ev, err := a.listing.Event(ctx, index)
			if err != nil {
				return fmt.Errorf("read event %d: %w", index, err)
			}
			printEvent(ev, time.Now())
			return nil
		})
	},
}

func printEvent(ev types.EventRecord, now time.Time) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "Title:\t%s\n", ev.Metadata.Title)
	fmt.Fprintf(w, "Index:\t%d\n", ev.Index)
	fmt.Fprintf(w, "Phase:\t%s\n", ev.Phase)
	fmt.Fprintf(w, "Starts:\t%s (%s)\n", ev.StartTime.Local().Format("2006-01-02 15:04 MST"), humanize.Time(ev.StartTime))
	fmt.Fprintf(w, "Duration:\t%d min\n", ev.DurationMinutes)
	if d, ok := timing.Remaining(now, ev.StartTime, ev.DurationMinutes); ok {
		label := "Starts in"
		if ev.Phase == types.PhaseLive {
			label = "Ends in"
		}
		fmt.Fprintf(w, "%s:\t%s\n", label, d.Round(time.Second))
	}
	fmt.Fprintf(w, "Tickets:\t%s sold of %s (%s left)\n",
		humanize.Comma(int64(ev.SoldTickets)), humanize.Comma(int64(ev.MaxTickets)), humanize.Comma(int64(ev.Remaining())))
	fmt.Fprintf(w, "Price:\t%s\n", formatEther(ev.TicketPrice))
	if ev.Category != "" {
		fmt.Fprintf(w, "Category:\t%s\n", ev.Category)
	}
	fmt.Fprintf(w, "Creator:\t%s\n", ev.Creator.Hex())
	if ev.HasKiosk() {
		fmt.Fprintf(w, "Kiosk:\t%s\n", ev.KioskAddress.Hex())
	} else {
		fmt.Fprintf(w, "Kiosk:\tnot deployed\n")
	}
	w.Flush()

	if ev.Metadata.Description != "" {
		fmt.Println()
		fmt.Println(ev.Metadata.Description)
	}
}

var weiPerEther = new(big.Float).SetFloat64(1e18)

// formatEther renders a wei amount in ETH with trailing zeros trimmed.
func formatEther(wei *big.Int) string {
	if wei == nil {
		return "-"
	}
	eth := new(big.Float).Quo(new(big.Float).SetInt(wei), weiPerEther)
	s := eth.Text('f', 6)
	s = strings.TrimRight(strings.TrimRight(s, "0"), ".")
	return s + " ETH"
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
