package parser

import (
	"fmt"
	"math/big"
	"regexp"
	"strings"
)

// SwapCommand is a parsed "<amount> <token> [to ETH]" command
type SwapCommand struct {
	Amount string
	Token  string
}

var swapPattern = regexp.MustCompile(`^(\d+\.?\d*)\s+([A-Z0-9]+)(?:\s+TO\s+(ETH|WETH|NATIVE))?$`)

// ParseSwapCommand parses a natural language swap command
// Examples:
//   - "swap 100 USDC"
//   - "250.5 DAI to ETH"
func ParseSwapCommand(command string) (*SwapCommand, error) {
	command = strings.TrimSpace(strings.ToUpper(command))
	command = strings.TrimPrefix(command, "SWAP ")

	matches := swapPattern.FindStringSubmatch(command)
	if matches == nil {
		return nil, fmt.Errorf("invalid swap command format. Expected: 'swap <amount> <token> [to ETH]' (e.g., 'swap 100 USDC')")
	}

	return &SwapCommand{
		Amount: matches[1],
		Token:  NormalizeTokenSymbol(matches[2]),
	}, nil
}

// NormalizeTokenSymbol normalizes token symbols to standard format
func NormalizeTokenSymbol(symbol string) string {
	symbol = strings.TrimSpace(strings.ToUpper(symbol))

	aliases := map[string]string{
		"USDC.E": "USDC",
		"XDAI":   "DAI",
	}
	if normalized, exists := aliases[symbol]; exists {
		return normalized
	}
	return symbol
}

// ParseUnits converts a decimal string into the token's smallest unit without
// going through floating point. More fractional digits than decimals is an error.
func ParseUnits(amount string, decimals uint8) (*big.Int, error) {
	amount = strings.TrimSpace(amount)
	if amount == "" {
		return nil, fmt.Errorf("amount cannot be empty")
	}

	whole, frac, _ := strings.Cut(amount, ".")
	if whole == "" {
		whole = "0"
	}
	if len(frac) > int(decimals) {
		return nil, fmt.Errorf("amount %s has more than %d decimal places", amount, decimals)
	}
	frac += strings.Repeat("0", int(decimals)-len(frac))

	value, ok := new(big.Int).SetString(whole+frac, 10)
	if !ok || value.Sign() < 0 {
		return nil, fmt.Errorf("invalid amount format: %s", amount)
	}
	return value, nil
}

// FormatUnits renders a smallest-unit amount as a decimal string, trimming
// trailing fractional zeros
func FormatUnits(value *big.Int, decimals uint8) string {
	if value == nil {
		return "0"
	}
	neg := value.Sign() < 0
	digits := new(big.Int).Abs(value).String()
	if len(digits) <= int(decimals) {
		digits = strings.Repeat("0", int(decimals)-len(digits)+1) + digits
	}

	cut := len(digits) - int(decimals)
	out := digits[:cut]
	if frac := strings.TrimRight(digits[cut:], "0"); frac != "" {
		out += "." + frac
	}
	if neg {
		out = "-" + out
	}
	return out
}

// ParsePath splits a comma-separated hop list ("USDC,WETH") into its parts
func ParsePath(raw string) []string {
	parts := strings.Split(raw, ",")
	hops := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			hops = append(hops, p)
		}
	}
	return hops
}
