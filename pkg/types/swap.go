package types

import (
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Network describes an EVM chain the swap flow can run against
type Network struct {
	ChainID       int64
	Name          string
	NativeSymbol  string
	WrappedNative common.Address // zero when no wrapped-native mapping is configured
}

// IsETHLike reports whether the native asset behaves like ETH for pricing
func (n Network) IsETHLike() bool {
	switch strings.ToUpper(n.NativeSymbol) {
	case "ETH", "SEP":
		return true
	default:
		return false
	}
}

// Token is an allow-listed ERC20 token
type Token struct {
	Address  common.Address
	Symbol   string
	Name     string
	Decimals uint8
	ChainID  int64
	Color    string
}

// SwapRequest represents a caller's request to swap a stable token for native
type SwapRequest struct {
	Caller               common.Address
	InputToken           common.Address
	InputAmount          *big.Int // smallest token unit
	CandidatePaths       [][]common.Address
	SlippageToleranceBps uint32
	DeadlineOffset       time.Duration
}
