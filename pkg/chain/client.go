package chain

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

const DefaultReadTimeout = 10 * time.Second

// Backend is the read-only slice of ethclient.Client this package uses
type Backend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
}

// Client performs typed contract reads against an EVM RPC endpoint.
// Every read is bounded by the configured timeout.
type Client struct {
	backend Backend
	timeout time.Duration
}

// NewClient wraps backend; a non-positive timeout selects DefaultReadTimeout
func NewClient(backend Backend, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultReadTimeout
	}
	return &Client{backend: backend, timeout: timeout}
}

// HasCode reports whether addr has deployed contract code
func (c *Client) HasCode(ctx context.Context, addr common.Address) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	code, err := c.backend.CodeAt(ctx, addr, nil)
	if err != nil {
		return false, fmt.Errorf("failed to get code at %s: %w", addr.Hex(), err)
	}
	return len(code) > 0, nil
}

// PairTokens reads token0 and token1 of a Uniswap V2 pair
func (c *Client) PairTokens(ctx context.Context, pair common.Address) (common.Address, common.Address, error) {
	out0, err := c.call(ctx, PairABI, pair, "token0")
	if err != nil {
		return common.Address{}, common.Address{}, err
	}
	out1, err := c.call(ctx, PairABI, pair, "token1")
	if err != nil {
		return common.Address{}, common.Address{}, err
	}
	return out0[0].(common.Address), out1[0].(common.Address), nil
}

// PairReserves reads reserve0 and reserve1 of a Uniswap V2 pair
func (c *Client) PairReserves(ctx context.Context, pair common.Address) (*big.Int, *big.Int, error) {
	out, err := c.call(ctx, PairABI, pair, "getReserves")
	if err != nil {
		return nil, nil, err
	}
	return out[0].(*big.Int), out[1].(*big.Int), nil
}

// Allowance reads the ERC20 allowance owner granted to spender
func (c *Client) Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	out, err := c.call(ctx, ERC20ABI, token, "allowance", owner, spender)
	if err != nil {
		return nil, err
	}
	return out[0].(*big.Int), nil
}

// Decimals reads the ERC20 decimals of token
func (c *Client) Decimals(ctx context.Context, token common.Address) (uint8, error) {
	out, err := c.call(ctx, ERC20ABI, token, "decimals")
	if err != nil {
		return 0, err
	}
	return out[0].(uint8), nil
}

// GetAmountsOut calls the router's read-only quoting entry point
func (c *Client) GetAmountsOut(ctx context.Context, router common.Address, amountIn *big.Int, path []common.Address) ([]*big.Int, error) {
	out, err := c.call(ctx, RouterABI, router, "getAmountsOut", amountIn, path)
	if err != nil {
		return nil, err
	}
	amounts := out[0].([]*big.Int)
	if len(amounts) == 0 {
		return nil, fmt.Errorf("router %s returned no amounts", router.Hex())
	}
	return amounts, nil
}

// SwapRouter reads the router the swap contract was deployed against
func (c *Client) SwapRouter(ctx context.Context, swapContract common.Address) (common.Address, error) {
	out, err := c.call(ctx, SwapABI, swapContract, "uniV2")
	if err != nil {
		return common.Address{}, err
	}
	return out[0].(common.Address), nil
}

func (c *Client) call(ctx context.Context, parsed abi.ABI, to common.Address, method string, args ...interface{}) ([]interface{}, error) {
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s data: %w", method, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	result, err := c.backend.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to call %s on %s: %w", method, to.Hex(), err)
	}
	if len(result) == 0 {
		return nil, fmt.Errorf("empty result from %s on %s", method, to.Hex())
	}

	out, err := parsed.Unpack(method, result)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack %s result: %w", method, err)
	}
	return out, nil
}
