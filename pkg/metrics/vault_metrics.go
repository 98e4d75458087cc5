package metrics

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/luxfi/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/luxfi/vault/pkg/vault"
)

// VaultMetrics exposes vault activity as Prometheus metrics
type VaultMetrics struct {
	namespace string
	registry  *prometheus.Registry
	logger    log.Logger

	// Flow metrics
	deposits            prometheus.Counter
	withdrawsRequested  prometheus.Counter
	withdrawsCompleted  prometheus.Counter
	withdrawsCancelled  prometheus.Counter
	feeCollections      prometheus.Counter
	rebalances          prometheus.Counter

	// Ledger gauges
	totalValue     prometheus.Gauge
	totalShares    prometheus.Gauge
	sharePrice     prometheus.Gauge
	highWaterMark  prometheus.Gauge
	depositorCount prometheus.Gauge
	allocationBps  prometheus.GaugeVec

	// System metrics
	memoryUsage prometheus.Gauge
	goroutines  prometheus.Gauge
}

// NewVaultMetrics creates and registers the vault metric set
func NewVaultMetrics(namespace string) (*VaultMetrics, error) {
	logger := log.Root().New("module", "metrics")

	registry := prometheus.NewRegistry()

	m := &VaultMetrics{
		namespace: namespace,
		registry:  registry,
		logger:    logger,

		deposits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deposits_total",
			Help:      "Total number of accepted deposits",
		}),

		withdrawsRequested: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "withdrawals_requested_total",
			Help:      "Total number of withdrawal requests created",
		}),

		withdrawsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "withdrawals_completed_total",
			Help:      "Total number of withdrawal requests settled",
		}),

		withdrawsCancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "withdrawals_cancelled_total",
			Help:      "Total number of withdrawal requests cancelled",
		}),

		feeCollections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fee_collections_total",
			Help:      "Total number of fee collection runs",
		}),

		rebalances: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rebalances_total",
			Help:      "Total number of completed rebalances",
		}),

		totalValue: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "total_value",
			Help:      "Total pooled value held by the vault",
		}),

		totalShares: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "total_shares",
			Help:      "Total shares outstanding",
		}),

		sharePrice: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "share_price",
			Help:      "Current share price scaled by 1e9",
		}),

		highWaterMark: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "high_water_mark",
			Help:      "Performance fee high-water mark scaled by 1e9",
		}),

		depositorCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "depositors",
			Help:      "Number of distinct depositors",
		}),

		allocationBps: *prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "allocation_bps",
			Help:      "Allocation percentages in basis points by protocol",
		}, []string{"protocol", "kind"}),

		memoryUsage: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "memory_usage_bytes",
			Help:      "Current memory usage in bytes",
		}),

		goroutines: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "goroutines_count",
			Help:      "Current number of goroutines",
		}),
	}

	registry.MustRegister(
		m.deposits,
		m.withdrawsRequested,
		m.withdrawsCompleted,
		m.withdrawsCancelled,
		m.feeCollections,
		m.rebalances,
		m.totalValue,
		m.totalShares,
		m.sharePrice,
		m.highWaterMark,
		m.depositorCount,
		m.allocationBps,
		m.memoryUsage,
		m.goroutines,
	)

	logger.Info("Vault metrics initialized")
	return m, nil
}

// Handler returns the Prometheus scrape handler for this registry.
func (m *VaultMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StartServer starts a standalone Prometheus metrics server
func (m *VaultMetrics) StartServer(port string) error {
	m.logger.Info("Starting Prometheus metrics server", "port", port)

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	go func() {
		if err := http.ListenAndServe(":"+port, mux); err != nil {
			m.logger.Error("Metrics server failed", "error", err)
		}
	}()

	return nil
}

// ObserveEvents consumes the vault event feed and bumps flow counters
// until ctx is cancelled.
func (m *VaultMetrics) ObserveEvents(ctx context.Context, feed *vault.EventFeed) {
	events, cancel := feed.Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			switch e.Type {
			case vault.EventDeposit:
				m.deposits.Inc()
			case vault.EventWithdrawRequested:
				m.withdrawsRequested.Inc()
			case vault.EventWithdrawCompleted:
				m.withdrawsCompleted.Inc()
			case vault.EventWithdrawCancelled:
				m.withdrawsCancelled.Inc()
			case vault.EventFeeCollection:
				m.feeCollections.Inc()
			case vault.EventRebalance:
				m.rebalances.Inc()
			}
		}
	}
}

// UpdateLedger refreshes the ledger gauges from a state snapshot.
func (m *VaultMetrics) UpdateLedger(st vault.State) {
	m.totalValue.Set(float64(st.TotalValue))
	m.totalShares.Set(float64(st.TotalShares))
	m.sharePrice.Set(float64(st.SharePrice))
	m.highWaterMark.Set(float64(st.HighWaterMark))
	m.depositorCount.Set(float64(st.DepositorCount))
	for _, a := range st.Allocations {
		m.allocationBps.WithLabelValues(a.Protocol.String(), "target").Set(float64(a.TargetBps))
		m.allocationBps.WithLabelValues(a.Protocol.String(), "current").Set(float64(a.CurrentBps))
	}
}

// CollectSystemMetrics collects system-level metrics
func (m *VaultMetrics) CollectSystemMetrics(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			var memStats runtime.MemStats
			runtime.ReadMemStats(&memStats)
			m.memoryUsage.Set(float64(memStats.Alloc))
			m.goroutines.Set(float64(runtime.NumGoroutine()))
		}
	}
}
