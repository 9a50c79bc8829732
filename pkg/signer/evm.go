// Package signer submits transactions from a local private key. It is the
// concrete swap.Signer used by the CLI.
package signer

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/jonboulle/clockwork"

	"stableswap/pkg/swap"
)

const (
	DefaultGasLimit     = uint64(300000)
	DefaultReceiptPoll  = 2 * time.Second
	gasBufferPercentage = 120
)

// Backend is the slice of ethclient.Client the signer needs
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// EVM signs legacy EIP-155 transactions with one key
type EVM struct {
	backend     Backend
	privateKey  *ecdsa.PrivateKey
	from        common.Address
	chainID     *big.Int
	gasPrice    *big.Int
	gasLimit    uint64
	receiptPoll time.Duration
	clock       clockwork.Clock
	logger      *slog.Logger

	// serializes nonce assignment
	mu sync.Mutex
}

type Option func(*EVM)

// WithGasPrice pins the gas price instead of asking the node
func WithGasPrice(wei *big.Int) Option {
	return func(e *EVM) { e.gasPrice = wei }
}

// WithGasLimit pins the gas limit instead of estimating
func WithGasLimit(limit uint64) Option {
	return func(e *EVM) { e.gasLimit = limit }
}

func WithReceiptPoll(d time.Duration) Option {
	return func(e *EVM) {
		if d > 0 {
			e.receiptPoll = d
		}
	}
}

func WithClock(clock clockwork.Clock) Option {
	return func(e *EVM) {
		if clock != nil {
			e.clock = clock
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *EVM) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// New parses hexKey and reads the backend's chain id
func New(ctx context.Context, backend Backend, hexKey string, opts ...Option) (*EVM, error) {
	if hexKey == "" {
		return nil, errors.New("private key not configured")
	}
	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}

	chainID, err := backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get chain id: %w", err)
	}

	e := &EVM{
		backend:     backend,
		privateKey:  privateKey,
		from:        crypto.PubkeyToAddress(privateKey.PublicKey),
		chainID:     chainID,
		receiptPoll: DefaultReceiptPoll,
		clock:       clockwork.NewRealClock(),
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Address returns the account the key controls
func (e *EVM) Address() common.Address { return e.from }

// ChainID returns the chain the backend reported at construction
func (e *EVM) ChainID() int64 { return e.chainID.Int64() }

// Submit signs and sends req.
func (e *EVM) Submit(ctx context.Context, req swap.TxRequest) (swap.TxHandle, error) {
	if req.From != (common.Address{}) && req.From != e.from {
		return nil, fmt.Errorf("signer holds the key for %s, not %s", e.from.Hex(), req.From.Hex())
	}
	value := req.Value
	if value == nil {
		value = new(big.Int)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	nonce, err := e.backend.PendingNonceAt(ctx, e.from)
	if err != nil {
		return nil, fmt.Errorf("failed to get nonce: %w", err)
	}

	gasPrice, err := e.getGasPrice(ctx)
	if err != nil {
		return nil, err
	}

	gasLimit, err := e.getGasLimit(ctx, req.To, value, req.Data)
	if err != nil {
		return nil, err
	}

	tx := types.NewTransaction(nonce, req.To, value, gasLimit, gasPrice, req.Data)
	signedTx, err := types.SignTx(tx, types.NewEIP155Signer(e.chainID), e.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}

	if err := e.backend.SendTransaction(ctx, signedTx); err != nil {
		return nil, fmt.Errorf("failed to send %s transaction: %w", req.Label, err)
	}

	e.logger.Info("transaction sent",
		"label", req.Label, "tx", signedTx.Hash().Hex(), "nonce", nonce, "gas", gasLimit, "gas_price", gasPrice)
	return &pendingTx{signer: e, hash: signedTx.Hash()}, nil
}

// getGasPrice returns the gas price to use for transactions
func (e *EVM) getGasPrice(ctx context.Context) (*big.Int, error) {
	if e.gasPrice != nil {
		return new(big.Int).Set(e.gasPrice), nil
	}
	gasPrice, err := e.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get gas price: %w", err)
	}
	return gasPrice, nil
}

// getGasLimit estimates with a 20% buffer. A failed estimate usually means
// the call would revert, so it is surfaced rather than replaced by a default.
func (e *EVM) getGasLimit(ctx context.Context, to common.Address, value *big.Int, data []byte) (uint64, error) {
	if e.gasLimit > 0 {
		return e.gasLimit, nil
	}
	estimated, err := e.backend.EstimateGas(ctx, ethereum.CallMsg{
		From:  e.from,
		To:    &to,
		Value: value,
		Data:  data,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to estimate gas: %w", err)
	}
	if estimated == 0 {
		return DefaultGasLimit, nil
	}
	return estimated * gasBufferPercentage / 100, nil
}

type pendingTx struct {
	signer *EVM
	hash   common.Hash
}

func (p *pendingTx) Hash() common.Hash { return p.hash }

// Wait polls for the receipt until it appears or ctx ends
func (p *pendingTx) Wait(ctx context.Context) (*types.Receipt, error) {
	ticker := p.signer.clock.NewTicker(p.signer.receiptPoll)
	defer ticker.Stop()

	for {
		receipt, err := p.signer.backend.TransactionReceipt(ctx, p.hash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			p.signer.logger.Debug("receipt lookup failed", "tx", p.hash.Hex(), "err", err)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for %s: %w", p.hash.Hex(), ctx.Err())
		case <-ticker.Chan():
		}
	}
}

var _ swap.Signer = (*EVM)(nil)
