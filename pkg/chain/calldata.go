package chain

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// PackApprove encodes ERC20 approve(spender, amount)
func PackApprove(spender common.Address, amount *big.Int) ([]byte, error) {
	data, err := ERC20ABI.Pack("approve", spender, amount)
	if err != nil {
		return nil, fmt.Errorf("failed to pack approve data: %w", err)
	}
	return data, nil
}

// PackSwap encodes swapStableToETHBest(tokenIn, amountIn, paths, amountOutMin, deadline)
func PackSwap(tokenIn common.Address, amountIn *big.Int, paths [][]common.Address, amountOutMin *big.Int, deadline *big.Int) ([]byte, error) {
	data, err := SwapABI.Pack("swapStableToETHBest", tokenIn, amountIn, paths, amountOutMin, deadline)
	if err != nil {
		return nil, fmt.Errorf("failed to pack swap data: %w", err)
	}
	return data, nil
}

// SwapExecuted is the completion event of the swap contract
type SwapExecuted struct {
	User      common.Address
	TokenIn   common.Address
	AmountIn  *big.Int
	AmountOut *big.Int
}

// FindSwapExecuted returns the first SwapExecuted event emitted by contract
// in logs. ok is false when the receipt carries none.
func FindSwapExecuted(logs []*types.Log, contract common.Address) (SwapExecuted, bool, error) {
	event := SwapABI.Events["SwapExecuted"]
	for _, lg := range logs {
		if lg == nil || lg.Address != contract || len(lg.Topics) != 3 || lg.Topics[0] != event.ID {
			continue
		}
		values, err := event.Inputs.NonIndexed().Unpack(lg.Data)
		if err != nil {
			return SwapExecuted{}, false, fmt.Errorf("failed to unpack SwapExecuted: %w", err)
		}
		return SwapExecuted{
			User:      common.BytesToAddress(lg.Topics[1].Bytes()),
			TokenIn:   common.BytesToAddress(lg.Topics[2].Bytes()),
			AmountIn:  values[0].(*big.Int),
			AmountOut: values[1].(*big.Int),
		}, true, nil
	}
	return SwapExecuted{}, false, nil
}

// SwapExecutedLog builds the log the swap contract emits; used by tests and
// dry runs.
func SwapExecutedLog(contract common.Address, ev SwapExecuted) (*types.Log, error) {
	event := SwapABI.Events["SwapExecuted"]
	data, err := event.Inputs.NonIndexed().Pack(ev.AmountIn, ev.AmountOut)
	if err != nil {
		return nil, fmt.Errorf("failed to pack SwapExecuted: %w", err)
	}
	return &types.Log{
		Address: contract,
		Topics: []common.Hash{
			event.ID,
			common.BytesToHash(ev.User.Bytes()),
			common.BytesToHash(ev.TokenIn.Bytes()),
		},
		Data: data,
	}, nil
}
