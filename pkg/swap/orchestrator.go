// Package swap sequences a stable-token to native swap: allowance check,
// exact approval, best-path quoting, slippage-bounded submission.
//
// Each Execute call is one orchestration. At most one orchestration runs per
// caller; a second call while one is active fails with ErrBusy before any
// network access.
package swap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"stableswap/pkg/chain"
	"stableswap/pkg/quote"
	"stableswap/pkg/ratesource"
	"stableswap/pkg/slippage"
	"stableswap/pkg/types"
)

// Result describes a finished orchestration, successful or not
type Result struct {
	ID           uuid.UUID        `json:"id"`
	ChainID      int64            `json:"chain_id"`
	Caller       common.Address   `json:"caller"`
	InputToken   common.Address   `json:"input_token"`
	TokenSymbol  string           `json:"token_symbol,omitempty"`
	AmountIn     *big.Int         `json:"amount_in"`
	State        State            `json:"state"`
	ErrorKind    Kind             `json:"error_kind,omitempty"`
	Reason       string           `json:"reason,omitempty"`
	Path         []common.Address `json:"path,omitempty"`
	QuoteSource  string           `json:"quote_source,omitempty"`
	QuotedOut    *big.Int         `json:"quoted_out,omitempty"`
	AmountOutMin *big.Int         `json:"amount_out_min,omitempty"`
	AmountOut    *big.Int         `json:"amount_out,omitempty"`
	Deadline     int64            `json:"deadline,omitempty"`
	ApprovalTx   *common.Hash     `json:"approval_tx,omitempty"`
	SwapTx       *common.Hash     `json:"swap_tx,omitempty"`
	StartedAt    time.Time        `json:"started_at"`
	FinishedAt   time.Time        `json:"finished_at"`
	Trace        []Transition     `json:"trace"`
}

// Deps are the collaborators of an Orchestrator
type Deps struct {
	Network      types.Network
	SwapContract common.Address
	Tokens       TokenLookup
	Chain        ChainReader
	Quoter       Quoter
	Signer       Signer
}

type Option func(*Orchestrator)

func WithClock(clock clockwork.Clock) Option {
	return func(o *Orchestrator) {
		if clock != nil {
			o.clock = clock
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithRecorder stores every finished orchestration
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

func WithMetrics(m Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithObserver is called synchronously on every state transition
func WithObserver(fn func(id uuid.UUID, t Transition)) Option {
	return func(o *Orchestrator) { o.observer = fn }
}

type Orchestrator struct {
	network  types.Network
	contract common.Address
	tokens   TokenLookup
	chain    ChainReader
	quoter   Quoter
	signer   Signer

	clock    clockwork.Clock
	logger   *slog.Logger
	recorder Recorder
	metrics  Metrics
	observer func(uuid.UUID, Transition)

	mu     sync.Mutex
	active map[common.Address]uuid.UUID
}

// New validates deps and creates an Orchestrator
func New(d Deps, opts ...Option) (*Orchestrator, error) {
	switch {
	case d.Tokens == nil:
		return nil, errors.New("swap: token lookup is required")
	case d.Chain == nil:
		return nil, errors.New("swap: chain reader is required")
	case d.Quoter == nil:
		return nil, errors.New("swap: quoter is required")
	case d.Signer == nil:
		return nil, errors.New("swap: signer is required")
	case d.SwapContract == (common.Address{}):
		return nil, errors.New("swap: swap contract address is required")
	}

	o := &Orchestrator{
		network:  d.Network,
		contract: d.SwapContract,
		tokens:   d.Tokens,
		chain:    d.Chain,
		quoter:   d.Quoter,
		signer:   d.Signer,
		clock:    clockwork.NewRealClock(),
		logger:   slog.Default(),
		active:   make(map[common.Address]uuid.UUID),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Active reports whether an orchestration is in flight for caller
func (o *Orchestrator) Active(caller common.Address) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.active[caller]
	return ok
}

// Execute runs one orchestration for req. Cancelling ctx withdraws the
// request only until Submitting begins; a transaction already sent is
// always awaited. Every failure is an *Error.
func (o *Orchestrator) Execute(ctx context.Context, req types.SwapRequest) (Result, error) {
	id := uuid.New()
	if !o.claim(req.Caller, id) {
		return Result{}, fail(KindBusy, StateIdle, nil, "a swap for %s is already in progress", req.Caller.Hex())
	}
	defer o.release(req.Caller)

	r := &run{
		o:   o,
		ctx: ctx,
		req: req,
		log: o.logger.With("swap_id", id.String(), "caller", req.Caller.Hex()),
		res: Result{
			ID:         id,
			ChainID:    o.network.ChainID,
			Caller:     req.Caller,
			InputToken: req.InputToken,
			AmountIn:   req.InputAmount,
			State:      StateIdle,
			StartedAt:  o.clock.Now(),
		},
	}

	err := r.execute()
	r.res.FinishedAt = o.clock.Now()
	if err != nil {
		var se *Error
		if errors.As(err, &se) {
			r.res.ErrorKind = se.Kind
		}
		r.res.Reason = err.Error()
	}
	o.finish(ctx, r.res, r.log)
	return r.res, err
}

func (o *Orchestrator) claim(caller common.Address, id uuid.UUID) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, busy := o.active[caller]; busy {
		return false
	}
	o.active[caller] = id
	return true
}

func (o *Orchestrator) release(caller common.Address) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.active, caller)
}

func (o *Orchestrator) finish(ctx context.Context, res Result, log *slog.Logger) {
	elapsed := res.FinishedAt.Sub(res.StartedAt)
	if o.metrics != nil {
		o.metrics.ObserveSwap(res.State, res.ErrorKind, res.QuoteSource, elapsed.Seconds())
	}
	if o.recorder != nil {
		if err := o.recorder.Record(context.WithoutCancel(ctx), res); err != nil {
			log.Warn("failed to record swap", "err", err)
		}
	}

	if res.State == StateConfirmed {
		log.Info("swap confirmed", "amount_out", res.AmountOut, "tx", res.SwapTx, "elapsed", elapsed)
		return
	}
	log.Warn("swap ended", "state", res.State, "kind", res.ErrorKind, "reason", res.Reason)
}

// run is the per-call state of one orchestration
type run struct {
	o   *Orchestrator
	ctx context.Context
	req types.SwapRequest
	log *slog.Logger
	res Result
}

func (r *run) to(next State, note string) {
	prev := r.res.State
	if !CanTransition(prev, next) {
		r.log.Error("illegal swap transition", "from", prev, "to", next)
	}
	t := Transition{From: prev, To: next, At: r.o.clock.Now(), Note: note}
	r.res.State = next
	r.res.Trace = append(r.res.Trace, t)
	r.log.Debug("swap transition", "from", prev, "state", next, "note", note)
	if r.o.observer != nil {
		r.o.observer(r.res.ID, t)
	}
}

func (r *run) failWith(e *Error) error {
	if e.State == "" {
		e.State = r.res.State
	}
	r.to(StateFailed, e.Reason)
	return e
}

func (r *run) cancelled() error {
	state := r.res.State
	r.to(StateCancelled, "request withdrawn")
	return &Error{Kind: KindCancelled, State: state, Reason: "request withdrawn before submission", Err: r.ctx.Err()}
}

// readFailed maps a failed read to Cancelled when the caller withdrew,
// otherwise to an RPC failure.
func (r *run) readFailed(err error, format string, args ...interface{}) error {
	if r.ctx.Err() != nil && r.res.State.Cancellable() {
		return r.cancelled()
	}
	return r.failWith(fail(KindRPCFailure, r.res.State, err, format, args...))
}

func (r *run) execute() error {
	token, err := r.validate()
	if err != nil {
		return r.failWith(err.(*Error))
	}
	r.res.TokenSymbol = token.Symbol
	if r.ctx.Err() != nil {
		return r.cancelled()
	}

	r.to(StateCheckingAllowance, "")
	allowance, err := r.o.chain.Allowance(r.ctx, r.req.InputToken, r.req.Caller, r.o.contract)
	if err != nil {
		return r.readFailed(err, "allowance read failed")
	}
	if allowance.Cmp(r.req.InputAmount) < 0 {
		if r.ctx.Err() != nil {
			return r.cancelled()
		}
		if err := r.approve(allowance); err != nil {
			return err
		}
	}

	if r.ctx.Err() != nil {
		return r.cancelled()
	}
	r.to(StateQuoting, "")
	best, err := r.selectQuote()
	if err != nil {
		return err
	}
	minOut, err := r.minOut(best)
	if err != nil {
		return err
	}

	if r.ctx.Err() != nil {
		return r.cancelled()
	}
	return r.submit(best, minOut)
}

func (r *run) validate() (types.Token, error) {
	req := r.req
	network := r.o.network

	if req.Caller == (common.Address{}) {
		return types.Token{}, fail(KindInvalidRequest, StateIdle, nil, "caller address is required")
	}
	if req.InputAmount == nil || req.InputAmount.Sign() <= 0 {
		return types.Token{}, fail(KindInvalidRequest, StateIdle, nil, "input amount must be positive")
	}
	token, ok := r.o.tokens.Token(network.ChainID, req.InputToken)
	if !ok {
		return types.Token{}, fail(KindInvalidRequest, StateIdle, nil, "token %s is not allow-listed on %s", req.InputToken.Hex(), network.Name)
	}
	if !slippage.ValidTolerance(req.SlippageToleranceBps) {
		return types.Token{}, fail(KindInvalidRequest, StateIdle, nil, "slippage tolerance %d bps outside [1, 10000)", req.SlippageToleranceBps)
	}
	if req.DeadlineOffset < time.Second {
		return types.Token{}, fail(KindInvalidRequest, StateIdle, nil, "deadline offset must be at least one second, got %s", req.DeadlineOffset)
	}

	base, err := ratesource.BaseAsset(network)
	if err != nil {
		return types.Token{}, fail(KindUnsupported, StateIdle, err, "no swap route to %s", network.NativeSymbol)
	}
	if len(req.CandidatePaths) == 0 {
		return types.Token{}, fail(KindInvalidRequest, StateIdle, nil, "at least one candidate path is required")
	}
	for i, path := range req.CandidatePaths {
		if len(path) < 2 {
			return types.Token{}, fail(KindInvalidRequest, StateIdle, nil, "path %d has %d hops, need at least 2", i, len(path))
		}
		if path[0] != req.InputToken {
			return types.Token{}, fail(KindInvalidRequest, StateIdle, nil, "path %d starts at %s, not the input token", i, path[0].Hex())
		}
		if path[len(path)-1] != base {
			return types.Token{}, fail(KindInvalidRequest, StateIdle, nil, "path %d ends at %s, not wrapped %s %s", i, path[len(path)-1].Hex(), network.NativeSymbol, base.Hex())
		}
	}

	if id := r.o.signer.ChainID(); id != network.ChainID {
		return types.Token{}, fail(KindUnsupported, StateIdle, nil, "signer is on chain %d, swap configured for chain %d", id, network.ChainID)
	}
	return token, nil
}

func (r *run) approve(current *big.Int) error {
	amount := r.req.InputAmount
	r.to(StateApproving, fmt.Sprintf("allowance %s below %s", current, amount))

	data, err := chain.PackApprove(r.o.contract, amount)
	if err != nil {
		return r.failWith(fail(KindInvalidRequest, StateApproving, err, "cannot encode approval"))
	}

	// a submitted approval is awaited even if the caller withdraws meanwhile
	sctx := context.WithoutCancel(r.ctx)
	tx, err := r.o.signer.Submit(sctx, TxRequest{
		From:  r.req.Caller,
		To:    r.req.InputToken,
		Data:  data,
		Value: new(big.Int),
		Label: "approve",
	})
	if err != nil {
		return r.failWith(fail(KindRPCFailure, StateApproving, err, "approval submission failed"))
	}
	hash := tx.Hash()
	r.res.ApprovalTx = &hash
	r.log.Info("approval submitted", "tx", hash.Hex(), "amount", amount)

	receipt, err := tx.Wait(sctx)
	if err != nil {
		return r.failWith(fail(KindRPCFailure, StateApproving, err, "approval %s receipt unavailable", hash.Hex()))
	}
	if receipt.Status != gethtypes.ReceiptStatusSuccessful {
		return r.failWith(fail(KindApprovalIncomplete, StateApproving, nil, "approval %s reverted", hash.Hex()))
	}

	after, err := r.o.chain.Allowance(sctx, r.req.InputToken, r.req.Caller, r.o.contract)
	if err != nil {
		return r.failWith(fail(KindRPCFailure, StateApproving, err, "allowance re-read failed"))
	}
	if after.Cmp(amount) < 0 {
		return r.failWith(fail(KindApprovalIncomplete, StateApproving, nil, "allowance %s still below %s after approval", after, amount))
	}
	return nil
}

// selectQuote quotes every candidate path in order and keeps the greatest
// output; ties go to the earlier path.
func (r *run) selectQuote() (quote.Quote, error) {
	var (
		best *quote.Quote
		errs []error
	)
	for i, path := range r.req.CandidatePaths {
		q, err := r.o.quoter.Quote(r.ctx, path, r.req.InputAmount)
		if err != nil {
			if r.ctx.Err() != nil {
				return quote.Quote{}, r.cancelled()
			}
			r.log.Debug("path quote failed", "path", i, "err", err)
			errs = append(errs, fmt.Errorf("path %d: %w", i, err))
			continue
		}
		if q.AmountOut == nil || q.AmountOut.Sign() <= 0 {
			errs = append(errs, fmt.Errorf("path %d: zero output", i))
			continue
		}
		if best == nil || q.AmountOut.Cmp(best.AmountOut) > 0 {
			q := q
			best = &q
		}
	}
	if best == nil {
		return quote.Quote{}, r.failWith(fail(KindNoQuoteAvailable, StateQuoting, errors.Join(errs...), "no candidate path could be quoted"))
	}

	r.res.Path = best.Path
	r.res.QuoteSource = best.Source.String()
	r.res.QuotedOut = best.AmountOut
	return *best, nil
}

func (r *run) minOut(q quote.Quote) (*big.Int, error) {
	bound := slippage.MinOut
	if q.Source == quote.CacheFallback {
		bound = slippage.FallbackMinOut
	}
	minOut, err := bound(q.AmountOut, r.req.SlippageToleranceBps)
	if err != nil {
		return nil, r.failWith(fail(KindInvalidRequest, StateQuoting, err, "cannot bound slippage"))
	}
	if minOut.Sign() <= 0 {
		return nil, r.failWith(fail(KindNoQuoteAvailable, StateQuoting, nil, "quoted output %s is too small to bound slippage", q.AmountOut))
	}
	r.res.AmountOutMin = minOut
	return minOut, nil
}

func (r *run) submit(q quote.Quote, minOut *big.Int) error {
	r.to(StateSubmitting, "")

	// no cancellation past this point
	sctx := context.WithoutCancel(r.ctx)
	deadline := r.o.clock.Now().Add(r.req.DeadlineOffset).Unix()
	r.res.Deadline = deadline

	deployed, err := r.o.chain.HasCode(sctx, r.o.contract)
	if err != nil {
		return r.failWith(fail(KindRPCFailure, StateSubmitting, err, "contract code check failed"))
	}
	if !deployed {
		return r.failWith(fail(KindUnsupported, StateSubmitting, nil, "no contract code at %s on %s", r.o.contract.Hex(), r.o.network.Name))
	}

	data, err := chain.PackSwap(r.req.InputToken, r.req.InputAmount, [][]common.Address{q.Path}, minOut, big.NewInt(deadline))
	if err != nil {
		return r.failWith(fail(KindInvalidRequest, StateSubmitting, err, "cannot encode swap"))
	}
	tx, err := r.o.signer.Submit(sctx, TxRequest{
		From:  r.req.Caller,
		To:    r.o.contract,
		Data:  data,
		Value: new(big.Int),
		Label: "swap",
	})
	if err != nil {
		return r.failWith(fail(KindRPCFailure, StateSubmitting, err, "swap submission failed"))
	}
	hash := tx.Hash()
	r.res.SwapTx = &hash
	r.log.Info("swap submitted", "tx", hash.Hex(), "amount_out_min", minOut, "deadline", deadline, "source", q.Source.String())

	receipt, err := tx.Wait(sctx)
	if err != nil {
		return r.failWith(fail(KindRPCFailure, StateSubmitting, err, "swap %s outcome unknown", hash.Hex()))
	}
	if receipt.Status != gethtypes.ReceiptStatusSuccessful {
		return r.failWith(fail(KindExecutionReverted, StateSubmitting, nil, "swap %s reverted on-chain", hash.Hex()))
	}

	ev, ok, err := chain.FindSwapExecuted(receipt.Logs, r.o.contract)
	switch {
	case err != nil:
		r.log.Warn("cannot decode swap event", "tx", hash.Hex(), "err", err)
	case !ok:
		r.log.Warn("swap receipt has no SwapExecuted event", "tx", hash.Hex())
	default:
		r.res.AmountOut = ev.AmountOut
	}

	r.to(StateConfirmed, "")
	return nil
}
