package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// ReserveMetrics exposes the engine's market variables and operation
// counters to Prometheus.
type ReserveMetrics struct {
	price       prometheus.Gauge
	athPrice    prometheus.Gauge
	slipPool    prometheus.Gauge
	pegPool     prometheus.Gauge
	circulating prometheus.Gauge
	locked      prometheus.Gauge
	leverage    *prometheus.GaugeVec
	operations  *prometheus.CounterVec
	epochs      prometheus.Counter
	halted      prometheus.Gauge
}

var (
	reserveOnce     sync.Once
	reserveRegistry *ReserveMetrics
)

// Reserve returns the lazily-initialised reserve metrics registry.
func Reserve() *ReserveMetrics {
	reserveOnce.Do(func() {
		reserveRegistry = &ReserveMetrics{
			price: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "crest_reserve_price",
				Help: "Current CREST price in collateral units.",
			}),
			athPrice: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "crest_reserve_ath_price",
				Help: "All-time-high CREST price (the peg).",
			}),
			slipPool: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "crest_reserve_slip_pool",
				Help: "Collateral in the slippage pool.",
			}),
			pegPool: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "crest_reserve_peg_pool",
				Help: "Collateral in the peg pool.",
			}),
			circulating: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "crest_reserve_circulating_supply",
				Help: "Circulating CREST supply in base units.",
			}),
			locked: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "crest_bonds_total_locked",
				Help: "CREST locked in bond positions, in base units.",
			}),
			leverage: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "crest_reserve_leverage",
				Help: "Leverage calibration values by kind (cap, realized, target).",
			}, []string{"kind"}),
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "crest_node_operations_total",
				Help: "Committed node operations segmented by operation and outcome.",
			}, []string{"operation", "outcome"}),
			epochs: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "crest_bonds_epochs_closed_total",
				Help: "Number of bond epochs closed.",
			}),
			halted: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "crest_reserve_halted",
				Help: "1 when the market has reached the terminal halt.",
			}),
		}
		prometheus.MustRegister(
			reserveRegistry.price,
			reserveRegistry.athPrice,
			reserveRegistry.slipPool,
			reserveRegistry.pegPool,
			reserveRegistry.circulating,
			reserveRegistry.locked,
			reserveRegistry.leverage,
			reserveRegistry.operations,
			reserveRegistry.epochs,
			reserveRegistry.halted,
		)
	})
	return reserveRegistry
}

// ObserveOperation counts a committed or rejected node operation.
func (m *ReserveMetrics) ObserveOperation(operation, outcome string) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(operation, outcome).Inc()
}

// EpochClosed counts a bond epoch boundary.
func (m *ReserveMetrics) EpochClosed() {
	if m == nil {
		return
	}
	m.epochs.Inc()
}

// MarketSample refreshes the market gauges from the latest committed state.
type MarketSample struct {
	Price            float64
	ATHPrice         float64
	SlipPool         float64
	PegPool          float64
	Circulating      float64
	Locked           float64
	LeverageCap      float64
	LeverageRealized float64
	LeverageTarget   float64
	Halted           bool
}

// SetMarket publishes a market sample.
func (m *ReserveMetrics) SetMarket(s MarketSample) {
	if m == nil {
		return
	}
	m.price.Set(s.Price)
	m.athPrice.Set(s.ATHPrice)
	m.slipPool.Set(s.SlipPool)
	m.pegPool.Set(s.PegPool)
	m.circulating.Set(s.Circulating)
	m.locked.Set(s.Locked)
	m.leverage.WithLabelValues("cap").Set(s.LeverageCap)
	m.leverage.WithLabelValues("realized").Set(s.LeverageRealized)
	m.leverage.WithLabelValues("target").Set(s.LeverageTarget)
	if s.Halted {
		m.halted.Set(1)
	} else {
		m.halted.Set(0)
	}
}
