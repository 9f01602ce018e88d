package obs

import (
	"sync/atomic"
	"time"

	"github.com/nashquant/backtesthub/internal/schema"
)

const (
	maxOrderStatus  = int(schema.OrderStatusCancelled)
	maxRejectReason = int(schema.RejectReasonWithdrawn)
)

// Metrics collects run counters and latency stats. Broadcast workers update
// it concurrently; every method is safe on a nil receiver.
type Metrics struct {
	steps          uint64
	signals        uint64
	noSignals      uint64
	strategyErrors uint64

	orderCounts  [maxOrderStatus + 1]uint64
	rejectCounts [maxRejectReason + 1]uint64

	stepLatency       LatencyStats
	broadcastLatency  LatencyStats
	strategyLatency   LatencyStats
	precomputeLatency LatencyStats
}

// LatencyStats aggregates duration samples in nanoseconds.
type LatencyStats struct {
	count uint64
	sum   uint64
	min   uint64
	max   uint64
}

// LatencySnapshot is a point-in-time view of latency stats.
type LatencySnapshot struct {
	Count uint64        `json:"count"`
	Min   time.Duration `json:"min"`
	Max   time.Duration `json:"max"`
	Avg   time.Duration `json:"avg"`
}

// Snapshot captures the current metrics values.
type Snapshot struct {
	Steps             uint64                         `json:"steps"`
	Signals           uint64                         `json:"signals"`
	NoSignals         uint64                         `json:"noSignals"`
	StrategyErrors    uint64                         `json:"strategyErrors"`
	Orders            map[schema.OrderStatus]uint64  `json:"orders"`
	Rejects           map[schema.RejectReason]uint64 `json:"rejects"`
	StepLatency       LatencySnapshot                `json:"stepLatency"`
	BroadcastLatency  LatencySnapshot                `json:"broadcastLatency"`
	StrategyLatency   LatencySnapshot                `json:"strategyLatency"`
	PrecomputeLatency LatencySnapshot                `json:"precomputeLatency"`
}

// NewMetrics allocates a metrics container.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// ObserveStep counts a completed step and its wall time.
func (m *Metrics) ObserveStep(d time.Duration) {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.steps, 1)
	m.stepLatency.Observe(d)
}

// ObserveBroadcast measures one fan-out across all assets.
func (m *Metrics) ObserveBroadcast(d time.Duration) {
	if m == nil {
		return
	}
	m.broadcastLatency.Observe(d)
}

// ObserveStrategy measures a single strategy evaluation.
func (m *Metrics) ObserveStrategy(d time.Duration) {
	if m == nil {
		return
	}
	m.strategyLatency.Observe(d)
}

// ObservePrecompute measures derived line preparation.
func (m *Metrics) ObservePrecompute(d time.Duration) {
	if m == nil {
		return
	}
	m.precomputeLatency.Observe(d)
}

// IncSignal records a valid signal.
func (m *Metrics) IncSignal() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.signals, 1)
}

// IncNoSignal records a step where an asset produced no signal.
func (m *Metrics) IncNoSignal() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.noSignals, 1)
}

// IncStrategyError records an isolated strategy failure.
func (m *Metrics) IncStrategyError() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.strategyErrors, 1)
}

// IncOrder records an order reaching status, with reason for rejects and
// cancels.
func (m *Metrics) IncOrder(status schema.OrderStatus, reason schema.RejectReason) {
	if m == nil {
		return
	}
	if idx := int(status); idx >= 0 && idx < len(m.orderCounts) {
		atomic.AddUint64(&m.orderCounts[idx], 1)
	}
	if reason == schema.RejectReasonNone {
		return
	}
	if idx := int(reason); idx >= 0 && idx < len(m.rejectCounts) {
		atomic.AddUint64(&m.rejectCounts[idx], 1)
	}
}

// Snapshot returns a copy of the current metrics values.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	orders := make(map[schema.OrderStatus]uint64)
	for i := range m.orderCounts {
		if v := atomic.LoadUint64(&m.orderCounts[i]); v > 0 {
			orders[schema.OrderStatus(i)] = v
		}
	}
	rejects := make(map[schema.RejectReason]uint64)
	for i := range m.rejectCounts {
		if v := atomic.LoadUint64(&m.rejectCounts[i]); v > 0 {
			rejects[schema.RejectReason(i)] = v
		}
	}
	return Snapshot{
		Steps:             atomic.LoadUint64(&m.steps),
		Signals:           atomic.LoadUint64(&m.signals),
		NoSignals:         atomic.LoadUint64(&m.noSignals),
		StrategyErrors:    atomic.LoadUint64(&m.strategyErrors),
		Orders:            orders,
		Rejects:           rejects,
		StepLatency:       m.stepLatency.Snapshot(),
		BroadcastLatency:  m.broadcastLatency.Snapshot(),
		StrategyLatency:   m.strategyLatency.Snapshot(),
		PrecomputeLatency: m.precomputeLatency.Snapshot(),
	}
}

// Observe records a duration sample.
func (l *LatencyStats) Observe(d time.Duration) {
	if d < 0 {
		return
	}
	nanos := uint64(d)
	atomic.AddUint64(&l.count, 1)
	atomic.AddUint64(&l.sum, nanos)

	for {
		cur := atomic.LoadUint64(&l.min)
		if cur != 0 && nanos >= cur {
			break
		}
		if atomic.CompareAndSwapUint64(&l.min, cur, nanos) {
			break
		}
	}

	for {
		cur := atomic.LoadUint64(&l.max)
		if nanos <= cur {
			break
		}
		if atomic.CompareAndSwapUint64(&l.max, cur, nanos) {
			break
		}
	}
}

// Snapshot returns the aggregated latency stats.
func (l *LatencyStats) Snapshot() LatencySnapshot {
	count := atomic.LoadUint64(&l.count)
	if count == 0 {
		return LatencySnapshot{}
	}
	sum := atomic.LoadUint64(&l.sum)
	return LatencySnapshot{
		Count: count,
		Min:   time.Duration(atomic.LoadUint64(&l.min)),
		Max:   time.Duration(atomic.LoadUint64(&l.max)),
		Avg:   time.Duration(sum / count),
	}
}
