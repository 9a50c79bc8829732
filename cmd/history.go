package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"stableswap/pkg/history"
	"stableswap/pkg/parser"
	"stableswap/pkg/swap"
)

var (
	historyLimit int
	historyState string
)

var historyCmd = &cobra.Command{
	Use:   "history [swap-id]",
	Short: "Show past swaps",
	Long: `Show the audit log of swap orchestrations, newest first.

Every swap is recorded, including failed and withdrawn ones, together with the
state transitions it went through.

Examples:
  stableswap history
  stableswap history --state failed
  stableswap history 3f2a9c1e-...`,
	Args: cobra.MaximumNArgs(1),
	RunE: runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)

	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Maximum number of swaps to show")
	historyCmd.Flags().StringVar(&historyState, "state", "", "Only show swaps that ended in this state")
}

func runHistory(cmd *cobra.Command, args []string) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")

	store, err := history.NewStorage(appConfig.HistoryPath, history.DefaultMaxRecords)
	if err != nil {
		return err
	}

	if len(args) == 1 {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid swap id: %w", err)
		}
		res, err := store.Get(id)
		if err != nil {
			return err
		}
		if jsonOutput {
			data, _ := json.MarshalIndent(res, "", "  ")
			fmt.Println(string(data))
			return nil
		}
		displayTrace(res)
		return nil
	}

	var results []swap.Result
	if historyState != "" {
		results = store.ListByState(swap.State(strings.ToLower(historyState)))
		if historyLimit > 0 && len(results) > historyLimit {
			results = results[:historyLimit]
		}
	} else {
		results = store.List(historyLimit)
	}

	if jsonOutput {
		data, _ := json.MarshalIndent(results, "", "  ")
		fmt.Println(string(data))
		return nil
	}
	displayHistory(results, store.GetFilePath())
	return nil
}

func displayHistory(results []swap.Result, path string) {
	if len(results) == 0 {
		fmt.Printf("\nNo swaps recorded in %s\n\n", path)
		return
	}

	fmt.Println("\n" + strings.Repeat("=", 90))
	color.Green("                              SWAP HISTORY")
	fmt.Println(strings.Repeat("=", 90))

	for _, r := range results {
		state := string(r.State)
		switch r.State {
		case swap.StateConfirmed:
			state = color.GreenString(state)
		case swap.StateCancelled:
			state = color.YellowString(state)
		default:
			state = color.RedString(state)
		}
		amount := "?"
		if r.AmountIn != nil {
			amount = r.AmountIn.String()
		}
		fmt.Printf("  %s  %-9s  %s %s",
			color.HiBlackString(r.StartedAt.Local().Format("2006-01-02 15:04:05")),
			state, amount, r.TokenSymbol)
		if r.AmountOut != nil {
			fmt.Printf(" → %s native", parser.FormatUnits(r.AmountOut, 18))
		}
		if r.ErrorKind != "" {
			fmt.Printf("  (%s)", r.ErrorKind)
		}
		fmt.Printf("\n      %s\n", color.HiBlackString(r.ID.String()))
	}

	fmt.Println("\n" + strings.Repeat("=", 90))
	fmt.Printf("\nShowing %d swap(s) from %s\n\n", len(results), path)
}

func displayTrace(r swap.Result) {
	fmt.Printf("\nSwap %s\n", color.CyanString(r.ID.String()))
	fmt.Printf("  State:    %s\n", r.State)
	if r.Reason != "" {
		fmt.Printf("  Reason:   %s\n", r.Reason)
	}
	if r.SwapTx != nil {
		fmt.Printf("  Swap tx:  %s\n", r.SwapTx.Hex())
	}
	fmt.Println("  Trace:")
	for _, t := range r.Trace {
		line := fmt.Sprintf("    %s  %s → %s", t.At.Local().Format("15:04:05.000"), t.From, t.To)
		if t.Note != "" {
			line += "  " + color.HiBlackString(t.Note)
		}
		fmt.Println(line)
	}
	fmt.Println()
}
