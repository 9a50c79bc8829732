// Package metrics exposes Prometheus collectors for price fetches and swaps.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"stableswap/pkg/swap"
)

// Metrics implements pricecache.FetchObserver and swap.Metrics
type Metrics struct {
	fetches       *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec
	swaps         *prometheus.CounterVec
	swapDuration  *prometheus.HistogramVec
	priceAge      *prometheus.GaugeVec
}

var (
	defaultOnce sync.Once
	defaultReg  *Metrics
)

// Default returns collectors registered with the default registry
func Default() *Metrics {
	defaultOnce.Do(func() {
		defaultReg = New(prometheus.DefaultRegisterer)
	})
	return defaultReg
}

// New creates collectors and registers them with reg
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stableswap",
			Subsystem: "price",
			Name:      "fetches_total",
			Help:      "Upstream price fetches by source and outcome.",
		}, []string{"source", "outcome"}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "stableswap",
			Subsystem: "price",
			Name:      "fetch_duration_seconds",
			Help:      "Latency of upstream price fetches.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"source"}),
		priceAge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "stableswap",
			Subsystem: "price",
			Name:      "age_seconds",
			Help:      "Age of the cached price per key at last observation.",
		}, []string{"key"}),
		swaps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stableswap",
			Subsystem: "swap",
			Name:      "orchestrations_total",
			Help:      "Finished swap orchestrations by final state and error kind.",
		}, []string{"state", "kind", "quote_source"}),
		swapDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "stableswap",
			Subsystem: "swap",
			Name:      "duration_seconds",
			Help:      "Wall time of swap orchestrations.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"state"}),
	}
	reg.MustRegister(m.fetches, m.fetchDuration, m.priceAge, m.swaps, m.swapDuration)
	return m
}

// ObserveFetch records one upstream fetch
func (m *Metrics) ObserveFetch(source string, duration time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.fetches.WithLabelValues(source, outcome).Inc()
	m.fetchDuration.WithLabelValues(source).Observe(duration.Seconds())
}

// ObservePriceAge records how old the cached value for key is
func (m *Metrics) ObservePriceAge(key string, age time.Duration) {
	m.priceAge.WithLabelValues(key).Set(age.Seconds())
}

// ObserveSwap records a finished orchestration
func (m *Metrics) ObserveSwap(state swap.State, kind swap.Kind, source string, seconds float64) {
	m.swaps.WithLabelValues(string(state), string(kind), source).Inc()
	m.swapDuration.WithLabelValues(string(state)).Observe(seconds)
}

// Serve exposes /metrics on addr until ctx ends
func Serve(ctx context.Context, addr string, gatherer prometheus.Gatherer) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
