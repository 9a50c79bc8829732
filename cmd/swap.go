package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/ethereum/go-ethereum/common"
	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"stableswap/pkg/parser"
	"stableswap/pkg/pricecache"
	"stableswap/pkg/quote"
	"stableswap/pkg/ratesource"
	"stableswap/pkg/slippage"
	"stableswap/pkg/swap"
	"stableswap/pkg/tokens"
	"stableswap/pkg/types"
)

var (
	pathFlags   []string
	slippageBps uint32
	deadline    time.Duration
	noConfirm   bool
)

var swapCmd = &cobra.Command{
	Use:   "swap <amount> <token>",
	Short: "Swap an allow-listed stable token for native ETH",
	Long: `Swap an allow-listed stable token for the network's native asset.

The swap checks the allowance of the swap contract and approves exactly the
input amount when needed, quotes every candidate path on the router, applies
the slippage tolerance to the best quote and submits the swap. When the router
cannot quote, a fresh cached price is used as an estimate with a wider discount.

Each --path is a comma-separated list of token symbols or addresses. The input
token and the wrapped native token are added at either end when missing.

Examples:
  stableswap swap 100 USDC
  stableswap swap 100 USDC to ETH --slippage-bps 30
  stableswap swap 250 DAI --path DAI,USDC,WETH --path DAI,WETH --yes
  stableswap swap 50 USDC --deadline 5m`,
	Args: cobra.MinimumNArgs(2),
	RunE: runSwap,
}

func init() {
	rootCmd.AddCommand(swapCmd)

	swapCmd.Flags().StringArrayVar(&pathFlags, "path", nil, "Candidate path, repeatable (default: <token>,WETH)")
	swapCmd.Flags().Uint32Var(&slippageBps, "slippage-bps", 0, "Slippage tolerance in basis points (default swap.slippage_bps)")
	swapCmd.Flags().DurationVar(&deadline, "deadline", 0, "Deadline offset from submission (default swap.deadline_offset)")
	swapCmd.Flags().BoolVarP(&noConfirm, "yes", "y", false, "Skip confirmation prompt")
}

func runSwap(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	jsonOutput, _ := cmd.Flags().GetBool("json")
	verbose, _ := cmd.Flags().GetBool("verbose")

	if err := checkConfirmation(jsonOutput, noConfirm); err != nil {
		return err
	}

	// Parse the command
	command, err := parser.ParseSwapCommand(strings.Join(args, " "))
	if err != nil {
		return err
	}

	cfg := appConfig
	if slippageBps == 0 {
		slippageBps = cfg.Swap.SlippageBps
	}
	if deadline == 0 {
		deadline = cfg.Swap.DeadlineOffset
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	token, err := a.allow.FindBySymbol(a.network.ChainID, command.Token)
	if err != nil {
		return err
	}
	amountIn, err := parser.ParseUnits(command.Amount, token.Decimals)
	if err != nil {
		return err
	}
	base, err := ratesource.BaseAsset(a.network)
	if err != nil {
		return err
	}
	paths, err := resolvePaths(a.allow, a.network.ChainID, token.Address, base, pathFlags)
	if err != nil {
		return err
	}

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	if !jsonOutput {
		s.Suffix = " Preparing swap..."
		s.Start()
	}

	observer := func(id uuid.UUID, t swap.Transition) {
		if verbose {
			logger.Debug("swap transition", "swap_id", id.String(), "from", t.From, "to", t.To, "note", t.Note)
		}
		s.Lock()
		s.Suffix = " " + describeState(t.To)
		s.Unlock()
	}
	sw, err := a.newSwapper(ctx, swap.WithObserver(observer))
	if err != nil {
		s.Stop()
		return err
	}

	// Keep the fallback price fresh while the swap runs.
	key := a.key(token)
	if err := a.cache.Start(key, 0); err != nil {
		s.Stop()
		return err
	}
	defer a.cache.Stop(key)

	preview, err := previewQuote(ctx, sw.engine, paths, amountIn)
	if !jsonOutput {
		s.Stop()
	}
	if err != nil {
		return err
	}
	minOut, err := minOutFor(preview, slippageBps)
	if err != nil {
		return err
	}

	if !jsonOutput {
		displayQuote(a.network, token, amountIn, preview, minOut, slippageBps, sw.engine.RouterAddress(), a.cache.Get(key))
	}
	if !noConfirm {
		if !confirmSwap() {
			fmt.Println("\nSwap cancelled.")
			return nil
		}
	}

	if !jsonOutput {
		s.Suffix = " Submitting swap..."
		s.Start()
	}
	res, err := sw.orchestrator.Execute(ctx, types.SwapRequest{
		Caller:               sw.signer.Address(),
		InputToken:           token.Address,
		InputAmount:          amountIn,
		CandidatePaths:       paths,
		SlippageToleranceBps: slippageBps,
		DeadlineOffset:       deadline,
	})
	if !jsonOutput {
		s.Stop()
	}

	if jsonOutput {
		data, _ := json.MarshalIndent(res, "", "  ")
		fmt.Println(string(data))
		return err
	}
	displayResult(a.network, token, res)
	if err != nil {
		var se *swap.Error
		if errors.As(err, &se) && se.Kind == swap.KindCancelled {
			color.Yellow("Swap withdrawn before submission.\n")
			return nil
		}
		return err
	}
	return nil
}

// checkConfirmation rejects --json without --yes: JSON mode never prompts,
// so a swap has to be confirmed up front.
func checkConfirmation(jsonOutput, yes bool) error {
	if jsonOutput && !yes {
		return errors.New("--json requires --yes to submit a swap")
	}
	return nil
}

// resolvePaths expands --path values into candidate paths from tokenIn to
// base. Hops are symbols on the allow-list, WETH/ETH for base, or addresses.
func resolvePaths(allow *tokens.AllowList, chainID int64, tokenIn, base common.Address, raw []string) ([][]common.Address, error) {
	if len(raw) == 0 {
		return [][]common.Address{{tokenIn, base}}, nil
	}
	paths := make([][]common.Address, 0, len(raw))
	for _, r := range raw {
		hops := parser.ParsePath(r)
		path := make([]common.Address, 0, len(hops)+2)
		for _, hop := range hops {
			addr, err := resolveHop(allow, chainID, base, hop)
			if err != nil {
				return nil, fmt.Errorf("path %q: %w", r, err)
			}
			path = append(path, addr)
		}
		if len(path) == 0 || path[0] != tokenIn {
			path = append([]common.Address{tokenIn}, path...)
		}
		if path[len(path)-1] != base {
			path = append(path, base)
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func resolveHop(allow *tokens.AllowList, chainID int64, base common.Address, hop string) (common.Address, error) {
	if common.IsHexAddress(hop) {
		return common.HexToAddress(hop), nil
	}
	switch sym := parser.NormalizeTokenSymbol(hop); sym {
	case "WETH", "ETH", "NATIVE":
		return base, nil
	default:
		t, err := allow.FindBySymbol(chainID, sym)
		if err != nil {
			return common.Address{}, err
		}
		return t.Address, nil
	}
}

// previewQuote prices every path for display; the orchestrator quotes again
func previewQuote(ctx context.Context, engine *quote.Engine, paths [][]common.Address, amountIn *big.Int) (quote.Quote, error) {
	var (
		best quote.Quote
		errs []error
	)
	for _, p := range paths {
		q, err := engine.Quote(ctx, p, amountIn)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if best.AmountOut == nil || q.AmountOut.Cmp(best.AmountOut) > 0 {
			best = q
		}
	}
	if best.AmountOut == nil {
		return quote.Quote{}, errors.Join(append([]error{quote.ErrNoQuoteAvailable}, errs...)...)
	}
	return best, nil
}

func minOutFor(q quote.Quote, bps uint32) (*big.Int, error) {
	if q.Estimate() {
		return slippage.FallbackMinOut(q.AmountOut, bps)
	}
	return slippage.MinOut(q.AmountOut, bps)
}

func describeState(s swap.State) string {
	switch s {
	case swap.StateCheckingAllowance:
		return "Checking allowance..."
	case swap.StateApproving:
		return "Waiting for approval..."
	case swap.StateQuoting:
		return "Quoting paths..."
	case swap.StateSubmitting:
		return "Submitting swap and waiting for confirmation..."
	default:
		return string(s)
	}
}

func confirmSwap() bool {
	reader := bufio.NewReader(os.Stdin)
	fmt.Print("\nProceed with this swap? (y/N): ")

	response, err := reader.ReadString('\n')
	if err != nil {
		return false
	}

	response = strings.TrimSpace(strings.ToLower(response))
	return response == "y" || response == "yes"
}

func displayQuote(network types.Network, token types.Token, amountIn *big.Int, q quote.Quote, minOut *big.Int, bps uint32, router common.Address, snap pricecache.Snapshot) {
	fmt.Println("\n" + strings.Repeat("=", 60))
	color.Green("                    SWAP QUOTE")
	fmt.Println(strings.Repeat("=", 60))

	fmt.Printf("\n  You send:     %s %s\n", color.YellowString(parser.FormatUnits(amountIn, token.Decimals)), token.Symbol)
	fmt.Printf("  You receive:  ~%s %s\n", color.GreenString(parser.FormatUnits(q.AmountOut, 18)), network.NativeSymbol)
	fmt.Printf("  Minimum:      %s %s  (%s slippage)\n", parser.FormatUnits(minOut, 18), network.NativeSymbol, bpsPercent(bps))
	fmt.Printf("  Route:        %s\n", formatPath(q.Path))
	fmt.Printf("  Router:       %s\n", color.HiBlackString(router.Hex()))
	if q.Estimate() {
		color.Yellow("  Router unavailable: amounts are estimates from the cached price")
	}
	if snap.Found() {
		fmt.Printf("  Reference:    1 %s = %s %s\n", network.NativeSymbol, snap.Price.FloatString(2), token.Symbol)
	}
	fmt.Println("\n" + strings.Repeat("=", 60))
}

func displayResult(network types.Network, token types.Token, res swap.Result) {
	fmt.Println()
	switch res.State {
	case swap.StateConfirmed:
		color.Green("✓ Swap confirmed")
		if res.AmountOut != nil {
			fmt.Printf("  Received:  %s %s\n", color.GreenString(parser.FormatUnits(res.AmountOut, 18)), network.NativeSymbol)
		}
	default:
		color.Red("✗ Swap %s", res.State)
		if res.ErrorKind != "" {
			fmt.Printf("  Kind:      %s\n", res.ErrorKind)
		}
		if res.Reason != "" {
			fmt.Printf("  Reason:    %s\n", res.Reason)
		}
	}
	if res.AmountIn != nil {
		fmt.Printf("  Sent:      %s %s\n", parser.FormatUnits(res.AmountIn, token.Decimals), token.Symbol)
	}
	if res.ApprovalTx != nil {
		fmt.Printf("  Approval:  %s\n", color.CyanString(res.ApprovalTx.Hex()))
	}
	if res.SwapTx != nil {
		fmt.Printf("  Swap tx:   %s\n", color.CyanString(res.SwapTx.Hex()))
	}
	if res.ID != uuid.Nil {
		fmt.Printf("  Record:    %s\n\n", color.HiBlackString(res.ID.String()))
	}
}

func formatPath(path []common.Address) string {
	hops := make([]string, len(path))
	for i, p := range path {
		hops[i] = p.Hex()[:10]
	}
	return strings.Join(hops, " → ")
}

func bpsPercent(bps uint32) string {
	return big.NewRat(int64(bps), 100).FloatString(2) + "%"
}
