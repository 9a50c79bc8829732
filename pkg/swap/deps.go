package swap

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"

	"stableswap/pkg/quote"
	"stableswap/pkg/types"
)

//go:generate mockgen -source=deps.go -destination=mocks/mock_deps.go -package=mocks

// ChainReader is the read-only chain access the orchestrator needs
type ChainReader interface {
	Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error)
	HasCode(ctx context.Context, addr common.Address) (bool, error)
}

// Quoter prices one candidate path
type Quoter interface {
	Quote(ctx context.Context, path []common.Address, amountIn *big.Int) (quote.Quote, error)
}

// TxRequest describes a transaction for the signer. The orchestrator never
// sees keys or nonces.
type TxRequest struct {
	From  common.Address
	To    common.Address
	Data  []byte
	Value *big.Int
	// Label names the transaction in logs ("approve", "swap").
	Label string
}

// TxHandle is a submitted transaction
type TxHandle interface {
	Hash() common.Hash
	// Wait blocks until the transaction is mined.
	Wait(ctx context.Context) (*gethtypes.Receipt, error)
}

// Signer submits transactions on behalf of a caller
type Signer interface {
	ChainID() int64
	Submit(ctx context.Context, req TxRequest) (TxHandle, error)
}

// TokenLookup resolves allow-listed tokens
type TokenLookup interface {
	Token(chainID int64, addr common.Address) (types.Token, bool)
}

// Recorder persists finished orchestrations
type Recorder interface {
	Record(ctx context.Context, result Result) error
}

// Metrics observes finished orchestrations
type Metrics interface {
	ObserveSwap(state State, kind Kind, source string, seconds float64)
}
