package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/prometheus/client_golang/prometheus"

	"stableswap/config"
	"stableswap/pkg/chain"
	"stableswap/pkg/history"
	"stableswap/pkg/metrics"
	"stableswap/pkg/pricecache"
	"stableswap/pkg/quote"
	"stableswap/pkg/ratesource"
	"stableswap/pkg/signer"
	"stableswap/pkg/swap"
	"stableswap/pkg/tokens"
	"stableswap/pkg/types"
)

// canonicalRouter is the Uniswap V2 router used on mainnet when the swap
// contract does not report one
var canonicalRouter = common.HexToAddress("0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D")

// app bundles the components a command needs
type app struct {
	cfg     *config.Config
	allow   *tokens.AllowList
	network types.Network
	metrics *metrics.Metrics

	eth   *ethclient.Client
	chain *chain.Client
	cache *pricecache.Cache

	closers []func()
}

// newApp dials the RPC endpoint and builds the price cache
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	if cfg.RPCURL == "" && cfg.PriceSource == config.SourceUniswap {
		return nil, errors.New("rpc_url not set. Please set STABLESWAP_RPC_URL or add it to .stableswap.yaml")
	}

	allow, err := cfg.AllowList()
	if err != nil {
		return nil, err
	}
	network, ok := allow.Network(cfg.ChainID)
	if !ok {
		return nil, fmt.Errorf("chain %d is not supported", cfg.ChainID)
	}

	a := &app{
		cfg:     cfg,
		allow:   allow,
		network: network,
		metrics: metrics.Default(),
	}

	if cfg.RPCURL != "" {
		eth, err := ethclient.DialContext(ctx, cfg.RPCURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to RPC: %w", err)
		}
		a.eth = eth
		a.chain = chain.NewClient(eth, cfg.Swap.ReadTimeout)
		a.closers = append(a.closers, eth.Close)
	}

	opts := []pricecache.Option{
		pricecache.WithTTL(cfg.Cache.TTL),
		pricecache.WithPollInterval(cfg.Cache.PollInterval),
		pricecache.WithFetchTimeout(cfg.Cache.FetchTimeout),
		pricecache.WithMaxEntries(cfg.Cache.MaxEntries),
		pricecache.WithLogger(logger),
		pricecache.WithObserver(a.metrics),
	}
	if cfg.Cache.RedisAddr != "" {
		rdb, err := pricecache.DialRedis(ctx, cfg.Cache.RedisAddr, cfg.Cache.RedisPassword, cfg.Cache.RedisDB)
		if err != nil {
			logger.Warn("price persistence disabled", "addr", cfg.Cache.RedisAddr, "err", err)
		} else {
			opts = append(opts, pricecache.WithStore(pricecache.NewRedisStore(rdb, "stableswap:")))
			a.closers = append(a.closers, func() { _ = rdb.Close() })
		}
	}

	a.cache = pricecache.New(a.rateSource(), allow, opts...)
	a.closers = append(a.closers, a.cache.Close)
	return a, nil
}

func (a *app) rateSource() ratesource.Source {
	var src ratesource.Source
	switch a.cfg.PriceSource {
	case config.SourceOneClick:
		src = ratesource.NewOneClick(a.cfg.OneClickJWT, a.cfg.OneClickRecipient)
	default:
		src = ratesource.NewUniswapV2(a.chain, hexAddress(a.cfg.Factory), common.HexToHash(a.cfg.PairInitCodeHash))
	}
	if a.cfg.Cache.RateLimit > 0 {
		return ratesource.NewLimited(src, a.cfg.Cache.RateLimit, a.cfg.Cache.RateBurst)
	}
	return src
}

// key returns the price cache key for token on the configured network
func (a *app) key(token types.Token) pricecache.Key {
	return pricecache.Key{ChainID: a.network.ChainID, Token: token.Address}
}

// routerAddress picks the configured router, then the one the swap contract
// reports, then the canonical mainnet router
func (a *app) routerAddress(ctx context.Context, swapContract common.Address) (common.Address, error) {
	if a.cfg.Router != "" {
		return common.HexToAddress(a.cfg.Router), nil
	}
	router, err := a.chain.SwapRouter(ctx, swapContract)
	if err == nil && router != (common.Address{}) {
		return router, nil
	}
	if a.network.ChainID == tokens.Mainnet {
		logger.Debug("using canonical router", "err", err)
		return canonicalRouter, nil
	}
	if err == nil {
		err = errors.New("swap contract reported no router")
	}
	return common.Address{}, fmt.Errorf("router discovery failed: %w", err)
}

// swapper holds what a swap command needs on top of app
type swapper struct {
	orchestrator *swap.Orchestrator
	signer       *signer.EVM
	history      *history.Storage
	engine       *quote.Engine
}

func (a *app) newSwapper(ctx context.Context, opts ...swap.Option) (*swapper, error) {
	if err := a.cfg.RequireSwap(); err != nil {
		return nil, err
	}
	if a.eth == nil {
		return nil, errors.New("rpc_url not set")
	}
	contract := common.HexToAddress(a.cfg.SwapContract)

	evm, err := signer.New(ctx, a.eth, a.cfg.PrivateKey,
		signer.WithReceiptPoll(a.cfg.Swap.ReceiptPoll),
		signer.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}

	if err := verifyDecimals(ctx, a.chain, a.allow.Tokens(a.network.ChainID)); err != nil {
		return nil, err
	}

	router, err := a.routerAddress(ctx, contract)
	if err != nil {
		return nil, err
	}
	engine := quote.NewEngine(a.chain, router, a.cache, a.allow, a.network.ChainID,
		quote.WithTimeout(a.cfg.Swap.ReadTimeout),
		quote.WithLogger(logger),
	)

	store, err := history.NewStorage(a.cfg.HistoryPath, history.DefaultMaxRecords)
	if err != nil {
		return nil, err
	}

	opts = append([]swap.Option{
		swap.WithLogger(logger),
		swap.WithRecorder(store),
		swap.WithMetrics(a.metrics),
	}, opts...)
	orch, err := swap.New(swap.Deps{
		Network:      a.network,
		SwapContract: contract,
		Tokens:       a.allow,
		Chain:        a.chain,
		Quoter:       engine,
		Signer:       evm,
	}, opts...)
	if err != nil {
		return nil, err
	}
	return &swapper{orchestrator: orch, signer: evm, history: store, engine: engine}, nil
}

type decimalsReader interface {
	Decimals(ctx context.Context, token common.Address) (uint8, error)
}

// verifyDecimals compares the allow-listed decimals of toks with what the
// token contracts report. Amounts are scaled by these decimals, so a
// mismatch is fatal; an unreadable token is only logged.
func verifyDecimals(ctx context.Context, reader decimalsReader, toks []types.Token) error {
	var errs []error
	for _, tok := range toks {
		got, err := reader.Decimals(ctx, tok.Address)
		if err != nil {
			logger.Warn("token decimals unreadable", "token", tok.Symbol, "address", tok.Address.Hex(), "err", err)
			continue
		}
		if got != tok.Decimals {
			errs = append(errs, fmt.Errorf("token %s: configured %d decimals, contract reports %d", tok.Symbol, tok.Decimals, got))
		}
	}
	return errors.Join(errs...)
}

// serveMetrics runs the metrics endpoint when one is configured
func (a *app) serveMetrics(ctx context.Context) error {
	if a.cfg.MetricsAddr == "" {
		return nil
	}
	logger.Info("serving metrics", "addr", a.cfg.MetricsAddr)
	return metrics.Serve(ctx, a.cfg.MetricsAddr, prometheus.DefaultGatherer)
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func hexAddress(s string) common.Address {
	if s == "" {
		return common.Address{}
	}
	return common.HexToAddress(s)
}
