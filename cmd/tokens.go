package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"stableswap/pkg/tokens"
	"stableswap/pkg/types"
)

var filterSymbol string

var tokensCmd = &cobra.Command{
	Use:     "tokens",
	Aliases: []string{"list-tokens", "ls"},
	Short:   "List allow-listed tokens",
	Long: `List the stable tokens that can be swapped on the configured network.

The built-in allow-list can be extended with a "tokens" list in .stableswap.yaml.

Examples:
  stableswap tokens
  stableswap tokens --symbol USD`,
	RunE: runListTokens,
}

func init() {
	rootCmd.AddCommand(tokensCmd)

	tokensCmd.Flags().StringVar(&filterSymbol, "symbol", "", "Filter by token symbol")
}

func runListTokens(cmd *cobra.Command, _ []string) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")

	allow, err := appConfig.AllowList()
	if err != nil {
		return err
	}
	network, ok := allow.Network(appConfig.ChainID)
	if !ok {
		return fmt.Errorf("chain %d is not supported", appConfig.ChainID)
	}

	filtered := filterTokens(allow, network.ChainID, filterSymbol)

	// Output
	if jsonOutput {
		jsonData, _ := json.MarshalIndent(filtered, "", "  ")
		fmt.Println(string(jsonData))
		return nil
	}
	displayTokens(network, filtered)
	return nil
}

func filterTokens(allow *tokens.AllowList, chainID int64, symbol string) []types.Token {
	all := allow.Tokens(chainID)
	if symbol == "" {
		return all
	}
	var out []types.Token
	for _, t := range all {
		if strings.Contains(strings.ToUpper(t.Symbol), strings.ToUpper(symbol)) {
			out = append(out, t)
		}
	}
	return out
}

func displayTokens(network types.Network, toks []types.Token) {
	if len(toks) == 0 {
		fmt.Println("\nNo tokens found matching the criteria.")
		return
	}

	fmt.Println("\n" + strings.Repeat("=", 80))
	color.Green("                     ALLOW-LISTED TOKENS ON %s", strings.ToUpper(network.Name))
	fmt.Println(strings.Repeat("=", 80))

	for _, t := range toks {
		fmt.Printf("  %-8s  %-12s  %2d decimals  %s\n",
			color.YellowString(t.Symbol),
			t.Name,
			t.Decimals,
			color.HiBlackString(t.Address.Hex()))
	}

	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Printf("\nTotal: %d tokens, swapped for %s\n\n", len(toks), network.NativeSymbol)
}
