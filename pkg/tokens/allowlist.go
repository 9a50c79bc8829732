package tokens

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"stableswap/pkg/types"
)

// Well-known chain ids
const (
	Mainnet int64 = 1
	Sepolia int64 = 11155111
)

var (
	MainnetWETH = common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
	SepoliaWETH = common.HexToAddress("0xfFf9976782d46CC05630D1f6eBAb18b2324d6B14")
	MainnetUSDC = common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	MainnetDAI  = common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F")
)

// DefaultNetworks returns the networks known without configuration
func DefaultNetworks() []types.Network {
	return []types.Network{
		{ChainID: Mainnet, Name: "Ethereum", NativeSymbol: "ETH", WrappedNative: MainnetWETH},
		{ChainID: Sepolia, Name: "Sepolia", NativeSymbol: "SEP", WrappedNative: SepoliaWETH},
	}
}

// DefaultTokens returns the built-in stable token allow-list
func DefaultTokens() []types.Token {
	return []types.Token{
		{Address: MainnetUSDC, Symbol: "USDC", Name: "USDC", Decimals: 6, ChainID: Mainnet, Color: "#2775CA"},
		{Address: MainnetDAI, Symbol: "DAI", Name: "Dai", Decimals: 18, ChainID: Mainnet, Color: "#FFAA00"},
	}
}

type tokenKey struct {
	chainID int64
	addr    common.Address
}

// AllowList is the static set of tokens and networks the swap flow accepts.
// It is safe for concurrent reads once built.
type AllowList struct {
	mu       sync.RWMutex
	networks map[int64]types.Network
	tokens   map[tokenKey]types.Token
}

// NewAllowList creates an allow-list seeded with the given networks and tokens
func NewAllowList(networks []types.Network, toks []types.Token) *AllowList {
	al := &AllowList{
		networks: make(map[int64]types.Network),
		tokens:   make(map[tokenKey]types.Token),
	}
	for _, n := range networks {
		al.networks[n.ChainID] = n
	}
	for _, t := range toks {
		al.tokens[tokenKey{t.ChainID, t.Address}] = t
	}
	return al
}

// Default returns the built-in allow-list
func Default() *AllowList {
	return NewAllowList(DefaultNetworks(), DefaultTokens())
}

// AddNetwork registers or replaces a network
func (a *AllowList) AddNetwork(n types.Network) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.networks[n.ChainID] = n
}

// AddToken registers or replaces a token
func (a *AllowList) AddToken(t types.Token) error {
	if t.Address == (common.Address{}) {
		return fmt.Errorf("token %s has no address", t.Symbol)
	}
	if t.Symbol == "" {
		return fmt.Errorf("token %s has no symbol", t.Address.Hex())
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.tokens[tokenKey{t.ChainID, t.Address}] = t
	return nil
}

// Network returns the network registered for chainID
func (a *AllowList) Network(chainID int64) (types.Network, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	n, ok := a.networks[chainID]
	return n, ok
}

// Token returns the allow-listed token at addr on chainID
func (a *AllowList) Token(chainID int64, addr common.Address) (types.Token, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	t, ok := a.tokens[tokenKey{chainID, addr}]
	return t, ok
}

// FindBySymbol looks a token up by symbol (case-insensitive) on chainID
func (a *AllowList) FindBySymbol(chainID int64, symbol string) (types.Token, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))

	a.mu.RLock()
	defer a.mu.RUnlock()
	for k, t := range a.tokens {
		if k.chainID == chainID && strings.ToUpper(t.Symbol) == symbol {
			return t, nil
		}
	}
	return types.Token{}, fmt.Errorf("token '%s' is not on the allow-list for chain %d", symbol, chainID)
}

// Tokens returns the allow-listed tokens for chainID sorted by symbol
func (a *AllowList) Tokens(chainID int64) []types.Token {
	a.mu.RLock()
	out := make([]types.Token, 0, len(a.tokens))
	for k, t := range a.tokens {
		if k.chainID == chainID {
			out = append(out, t)
		}
	}
	a.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Resolve returns the network and token for a price key's parts
func (a *AllowList) Resolve(chainID int64, addr common.Address) (types.Network, types.Token, error) {
	n, ok := a.Network(chainID)
	if !ok {
		return types.Network{}, types.Token{}, fmt.Errorf("network %d is not configured", chainID)
	}
	t, ok := a.Token(chainID, addr)
	if !ok {
		return types.Network{}, types.Token{}, fmt.Errorf("token %s is not on the allow-list for chain %d", addr.Hex(), chainID)
	}
	return n, t, nil
}
