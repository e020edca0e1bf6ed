package pipeline

import "sync"

// Gate is a single-permit admission check. TryAcquire never waits: a caller
// that finds the permit taken is turned away and its work is shed.
type Gate struct {
	permit  chan struct{}
	metrics *gateMetrics
}

type gateMetrics struct {
	mu            sync.RWMutex
	held          bool
	totalAcquired uint64
	totalReleased uint64
	rejected      uint64
}

type GateStats struct {
	Held          bool   `json:"held"`
	TotalAcquired uint64 `json:"total_acquired"`
	TotalReleased uint64 `json:"total_released"`
	Rejected      uint64 `json:"rejected"`
}

func NewGate() *Gate {
	g := &Gate{
		permit:  make(chan struct{}, 1),
		metrics: &gateMetrics{},
	}
	g.permit <- struct{}{}
	return g
}

func (g *Gate) TryAcquire() bool {
	select {
	case <-g.permit:
		g.metrics.mu.Lock()
		g.metrics.held = true
		g.metrics.totalAcquired++
		g.metrics.mu.Unlock()
		return true
	default:
		g.metrics.mu.Lock()
		g.metrics.rejected++
		g.metrics.mu.Unlock()
		return false
	}
}

// Release returns the permit. Releasing a gate that is not held is a
// programming error and panics, like unlocking an unlocked mutex.
func (g *Gate) Release() {
	g.metrics.mu.Lock()
	defer g.metrics.mu.Unlock()

	select {
	case g.permit <- struct{}{}:
		g.metrics.held = false
		g.metrics.totalReleased++
	default:
		panic("pipeline: release of unheld gate")
	}
}

// Do runs fn while holding the gate and reports whether it was admitted.
// The permit is returned on every exit path, panics included.
func (g *Gate) Do(fn func()) bool {
	if !g.TryAcquire() {
		return false
	}
	defer g.Release()
	fn()
	return true
}

func (g *Gate) Stats() GateStats {
	g.metrics.mu.RLock()
	defer g.metrics.mu.RUnlock()
	return GateStats{
		Held:          g.metrics.held,
		TotalAcquired: g.metrics.totalAcquired,
		TotalReleased: g.metrics.totalReleased,
		Rejected:      g.metrics.rejected,
	}
}
