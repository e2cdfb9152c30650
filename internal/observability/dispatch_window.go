package observability

import (
	"math"
	"sort"
	"sync"
	"time"
)

// DispatchStats summarises recent dispatch latencies for one outcome.
type DispatchStats struct {
	Outcome string  `json:"outcome"`
	Samples int     `json:"samples"`
	LastMS  float64 `json:"last_ms"`
	AvgMS   float64 `json:"avg_ms"`
	P50MS   float64 `json:"p50_ms"`
	P95MS   float64 `json:"p95_ms"`
}

type DispatchSnapshot struct {
	GeneratedAt time.Time       `json:"generated_at"`
	WindowSize  int             `json:"window_size"`
	Total       int             `json:"total"`
	Outcomes    []DispatchStats `json:"outcomes"`
}

// dispatchWindow keeps a fixed ring of recent latencies per outcome, so the
// debug surface can show what the backend looked like lately rather than since
// boot.
type dispatchWindow struct {
	mu         sync.RWMutex
	maxSamples int
	total      int
	rings      map[string]*latencyRing
}

type latencyRing struct {
	values []float64
	next   int
	filled bool
	last   float64
}

func newDispatchWindow(maxSamples int) *dispatchWindow {
	if maxSamples <= 0 {
		maxSamples = 128
	}
	return &dispatchWindow{
		maxSamples: maxSamples,
		rings:      make(map[string]*latencyRing),
	}
}

func (w *dispatchWindow) observe(outcome string, ms float64) {
	if w == nil || outcome == "" || ms < 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	ring, ok := w.rings[outcome]
	if !ok {
		ring = &latencyRing{values: make([]float64, w.maxSamples)}
		w.rings[outcome] = ring
	}
	ring.values[ring.next] = ms
	ring.last = ms
	ring.next++
	if ring.next == len(ring.values) {
		ring.next = 0
		ring.filled = true
	}
	w.total++
}

func (w *dispatchWindow) snapshot() DispatchSnapshot {
	snap := DispatchSnapshot{GeneratedAt: time.Now().UTC(), Outcomes: []DispatchStats{}}
	if w == nil {
		return snap
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	snap.WindowSize = w.maxSamples
	snap.Total = w.total

	outcomes := make([]string, 0, len(w.rings))
	for o := range w.rings {
		outcomes = append(outcomes, o)
	}
	sort.Strings(outcomes)

	for _, o := range outcomes {
		ring := w.rings[o]
		n := ring.next
		if ring.filled {
			n = len(ring.values)
		}
		if n == 0 {
			continue
		}
		samples := append([]float64(nil), ring.values[:n]...)
		sort.Float64s(samples)
		sum := 0.0
		for _, v := range samples {
			sum += v
		}
		snap.Outcomes = append(snap.Outcomes, DispatchStats{
			Outcome: o,
			Samples: n,
			LastMS:  round2(ring.last),
			AvgMS:   round2(sum / float64(n)),
			P50MS:   round2(quantile(samples, 0.50)),
			P95MS:   round2(quantile(samples, 0.95)),
		})
	}
	return snap
}

// quantile interpolates linearly between the two nearest ranks.
func quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if q <= 0 {
		return sorted[0]
	}
	if q >= 1 {
		return sorted[len(sorted)-1]
	}
	idx := q * float64(len(sorted)-1)
	lo, hi := int(math.Floor(idx)), int(math.Ceil(idx))
	if lo == hi {
		return sorted[lo]
	}
	frac := idx - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
