package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"stableswap/pkg/pricecache"
	"stableswap/pkg/types"
)

var (
	watchPrices  bool
	pollInterval time.Duration
)

var priceCmd = &cobra.Command{
	Use:   "price [SYMBOL...]",
	Short: "Show the native price of allow-listed tokens",
	Long: `Show how many stable tokens one unit of the native asset costs, and the inverse.

Without arguments every allow-listed token on the configured network is priced.
With --watch the prices are polled in the background and printed on every update
until interrupted.

Examples:
  stableswap price
  stableswap price USDC DAI
  stableswap price USDC --watch --interval 15s --metrics-addr :9100`,
	RunE: runPrice,
}

func init() {
	rootCmd.AddCommand(priceCmd)

	priceCmd.Flags().BoolVarP(&watchPrices, "watch", "w", false, "Keep polling and print every update")
	priceCmd.Flags().DurationVar(&pollInterval, "interval", 0, "Poll interval for --watch (default cache.poll_interval)")
}

type priceLine struct {
	Key       string    `json:"key"`
	Symbol    string    `json:"symbol"`
	Price     string    `json:"price"`
	Inverse   string    `json:"inverse"`
	FetchedAt time.Time `json:"fetched_at"`
	Stale     bool      `json:"stale"`
	Error     string    `json:"error,omitempty"`
}

func runPrice(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	jsonOutput, _ := cmd.Flags().GetBool("json")

	a, err := newApp(ctx, appConfig)
	if err != nil {
		return err
	}
	defer a.Close()

	toks, err := selectTokens(a, args)
	if err != nil {
		return err
	}
	keys := make([]pricecache.Key, len(toks))
	for i, t := range toks {
		keys[i] = a.key(t)
	}
	if err := a.cache.Warm(ctx, keys...); err != nil {
		logger.Warn("warm start incomplete", "err", err)
	}

	if watchPrices {
		return watch(ctx, a, toks, keys, jsonOutput)
	}

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	if !jsonOutput {
		s.Suffix = " Fetching prices..."
		s.Start()
	}
	lines := make([]priceLine, 0, len(toks))
	for i, t := range toks {
		snap, err := pricecache.Await(ctx, a.cache.EnsureFresh(keys[i]))
		if err != nil {
			s.Stop()
			return err
		}
		lines = append(lines, toLine(t, snap))
	}
	s.Stop()

	if jsonOutput {
		data, _ := json.MarshalIndent(lines, "", "  ")
		fmt.Println(string(data))
		return nil
	}
	displayPrices(a.network, lines)
	return nil
}

func watch(ctx context.Context, a *app, toks []types.Token, keys []pricecache.Key, jsonOutput bool) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.serveMetrics(ctx) })

	for i := range keys {
		t, key := toks[i], keys[i]
		updates, cancel, err := a.cache.Subscribe(key)
		if err != nil {
			return err
		}
		if err := a.cache.Start(key, pollInterval); err != nil {
			cancel()
			return err
		}

		g.Go(func() error {
			defer cancel()
			defer a.cache.Stop(key)
			for {
				select {
				case <-ctx.Done():
					return nil
				case snap, ok := <-updates:
					if !ok {
						return nil
					}
					a.metrics.ObservePriceAge(key.String(), time.Since(snap.FetchedAt))
					printUpdate(toLine(t, snap), jsonOutput)
				}
			}
		})
	}

	if !jsonOutput {
		color.Cyan("\nWatching %d price(s) on %s. Press Ctrl+C to stop.\n", len(keys), a.network.Name)
	}
	return g.Wait()
}

func selectTokens(a *app, symbols []string) ([]types.Token, error) {
	if len(symbols) == 0 {
		toks := a.allow.Tokens(a.network.ChainID)
		if len(toks) == 0 {
			return nil, fmt.Errorf("no tokens are allow-listed on %s", a.network.Name)
		}
		return toks, nil
	}
	toks := make([]types.Token, 0, len(symbols))
	for _, sym := range symbols {
		t, err := a.allow.FindBySymbol(a.network.ChainID, sym)
		if err != nil {
			return nil, err
		}
		toks = append(toks, t)
	}
	return toks, nil
}

func toLine(t types.Token, snap pricecache.Snapshot) priceLine {
	line := priceLine{
		Key:       snap.Key.String(),
		Symbol:    t.Symbol,
		FetchedAt: snap.FetchedAt,
		Stale:     snap.Stale,
	}
	if snap.Found() {
		line.Price = snap.Price.FloatString(4)
		line.Inverse = snap.Inverse().FloatString(10)
	}
	if snap.Err != nil {
		line.Error = snap.Err.Error()
	}
	return line
}

func displayPrices(network types.Network, lines []priceLine) {
	fmt.Println("\n" + strings.Repeat("=", 70))
	color.Green("                     %s PRICES", strings.ToUpper(network.NativeSymbol))
	fmt.Println(strings.Repeat("=", 70))

	for _, l := range lines {
		if l.Price == "" {
			fmt.Printf("  %-8s  %s\n", color.YellowString(l.Symbol), color.RedString("unavailable: %s", l.Error))
			continue
		}
		status := color.GreenString("fresh")
		if l.Stale {
			status = color.YellowString("stale")
		}
		fmt.Printf("  1 %s = %s %s   (1 %s = %s %s)  %s\n",
			network.NativeSymbol, color.CyanString(l.Price), l.Symbol,
			l.Symbol, l.Inverse, network.NativeSymbol, status)
		if l.Error != "" {
			fmt.Printf("      %s\n", color.HiBlackString("last refresh failed: %s", l.Error))
		}
	}
	fmt.Println(strings.Repeat("=", 70) + "\n")
}

func printUpdate(l priceLine, jsonOutput bool) {
	if jsonOutput {
		data, _ := json.Marshal(l)
		fmt.Println(string(data))
		return
	}
	fmt.Printf("%s  %-6s %s\n",
		color.HiBlackString(l.FetchedAt.Format(time.TimeOnly)),
		color.YellowString(l.Symbol),
		color.CyanString(l.Price))
}
