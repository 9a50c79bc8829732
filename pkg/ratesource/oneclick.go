package ratesource

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	oneclick "github.com/defuse-protocol/one-click-sdk-go"

	"stableswap/pkg/types"
)

// blockchains maps chain ids to 1Click blockchain identifiers
var blockchains = map[int64]string{
	1: "eth",
}

// OneClick derives a reference rate from a dry 1Click quote of one native
// unit into the stable token. It never creates a deposit address.
type OneClick struct {
	client    *oneclick.APIClient
	jwtToken  string
	recipient string
}

// NewOneClick creates a 1Click API backed source
func NewOneClick(jwtToken, recipient string) *OneClick {
	config := oneclick.NewConfiguration()
	return &OneClick{
		client:    oneclick.NewAPIClient(config),
		jwtToken:  jwtToken,
		recipient: recipient,
	}
}

func (o *OneClick) Name() string { return "oneclick" }

// Fetch returns quote-token units per one native unit as quoted by 1Click
func (o *OneClick) Fetch(ctx context.Context, network types.Network, token types.Token) (*big.Rat, error) {
	chain, ok := blockchains[network.ChainID]
	if !ok || !network.IsETHLike() {
		return nil, fmt.Errorf("%w: 1Click has no route for chain %d", ErrUnsupported, network.ChainID)
	}
	if o.recipient == "" {
		return nil, fmt.Errorf("%w: 1Click quotes need a recipient address", ErrUnsupported)
	}

	ctx = context.WithValue(ctx, oneclick.ContextAccessToken, o.jwtToken)

	supported, httpResp, err := o.client.OneClickAPI.GetTokens(ctx).Execute()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get tokens: %v", ErrRPCFailure, err)
	}
	httpResp.Body.Close()

	var native, stable *oneclick.TokenResponse
	for i := range supported {
		tok := &supported[i]
		if !strings.EqualFold(tok.GetBlockchain(), chain) {
			continue
		}
		switch {
		case strings.EqualFold(tok.GetSymbol(), network.NativeSymbol) && tok.GetContractAddress() == "":
			native = tok
		case strings.EqualFold(tok.GetContractAddress(), token.Address.Hex()):
			stable = tok
		}
	}
	if native == nil || stable == nil {
		return nil, fmt.Errorf("%w: 1Click does not list %s/%s on %s", ErrNoLiquidityPool, network.NativeSymbol, token.Symbol, chain)
	}

	oneUnit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(native.GetDecimals())), nil).String()

	quoteReq := oneclick.NewQuoteRequest(
		true,          // dry - price discovery only
		"EXACT_INPUT", // swapType
		100,           // slippageTolerance (1%)
		native.GetAssetId(),
		"ORIGIN_CHAIN",
		stable.GetAssetId(),
		oneUnit,
		o.recipient,
		"ORIGIN_CHAIN",
		o.recipient,
		"DESTINATION_CHAIN",
		time.Now().Add(10*time.Minute),
	)

	resp, httpResp, err := o.client.OneClickAPI.GetQuote(ctx).QuoteRequest(*quoteReq).Execute()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get quote: %v", ErrRPCFailure, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: 1Click returned status code %d", ErrRPCFailure, httpResp.StatusCode)
	}
	if resp == nil {
		return nil, fmt.Errorf("%w: empty quote response", ErrRPCFailure)
	}

	quote := resp.GetQuote()
	return QuotedPrice(quote.GetAmountInFormatted(), quote.GetAmountOutFormatted())
}

// QuotedPrice turns formatted in/out amounts into an out-per-in rate
func QuotedPrice(amountIn, amountOut string) (*big.Rat, error) {
	in, ok := new(big.Rat).SetString(strings.TrimSpace(amountIn))
	if !ok || in.Sign() <= 0 {
		return nil, fmt.Errorf("%w: invalid amount in %q", ErrRPCFailure, amountIn)
	}
	out, ok := new(big.Rat).SetString(strings.TrimSpace(amountOut))
	if !ok || out.Sign() <= 0 {
		return nil, fmt.Errorf("%w: invalid amount out %q", ErrRPCFailure, amountOut)
	}
	return new(big.Rat).Quo(out, in), nil
}
