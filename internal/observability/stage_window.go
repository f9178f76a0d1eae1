package observability

import (
	"maps"
	"math"
	"slices"
	"strings"
	"sync"
	"time"
)

// StageLatency summarises the recent samples of one pipeline stage.
type StageLatency struct {
	Stage       string  `json:"stage"`
	Samples     int     `json:"samples"`
	LastMS      float64 `json:"last_ms"`
	AvgMS       float64 `json:"avg_ms"`
	P50MS       float64 `json:"p50_ms"`
	P95MS       float64 `json:"p95_ms"`
	P99MS       float64 `json:"p99_ms"`
	TargetP95MS float64 `json:"target_p95_ms,omitempty"`
	OverTarget  bool    `json:"over_target,omitempty"`
}

// Counter is a named event total since process start.
type Counter struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// EngineSnapshot is the JSON body served by the latency endpoint.
type EngineSnapshot struct {
	GeneratedAt      time.Time      `json:"generated_at"`
	WindowSize       int            `json:"window_size"`
	Turns            int            `json:"turns"`
	Interjections    int            `json:"interjections"`
	InterjectionRate float64        `json:"interjection_rate"`
	Stages           []StageLatency `json:"stages"`
	Counters         []Counter      `json:"counters"`
}

// stageTargets are the p95 budgets per stage, in milliseconds.
var stageTargets = map[string]float64{
	"gate":       2500,
	"synthesis":  4000,
	"reply":      4000,
	"turn_total": 8000,
}

type stageWindow struct {
	mu            sync.Mutex
	size          int
	rings         map[string]*ring
	counters      map[string]int
	turns         int
	interjections int
}

// ring keeps the last len(values) samples; next wraps once full.
type ring struct {
	values []float64
	next   int
	full   bool
	last   float64
}

func (r *ring) push(v float64) {
	r.values[r.next] = v
	r.last = v
	r.next = (r.next + 1) % len(r.values)
	if r.next == 0 {
		r.full = true
	}
}

func (r *ring) sorted() []float64 {
	n := r.next
	if r.full {
		n = len(r.values)
	}
	out := slices.Clone(r.values[:n])
	slices.Sort(out)
	return out
}

func newStageWindow(size int) *stageWindow {
	if size <= 0 {
		size = 256
	}
	return &stageWindow{
		size:     size,
		rings:    make(map[string]*ring),
		counters: make(map[string]int),
	}
}

func (w *stageWindow) observe(stage string, d time.Duration) {
	if stage == "" || d < 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	r, ok := w.rings[stage]
	if !ok {
		r = &ring{values: make([]float64, w.size)}
		w.rings[stage] = r
	}
	r.push(float64(d.Microseconds()) / 1000)
}

func (w *stageWindow) count(name string) {
	name = strings.TrimSpace(name)
	if name == "" {
		return
	}
	w.mu.Lock()
	w.counters[name]++
	w.mu.Unlock()
}

func (w *stageWindow) turn(interjected bool) {
	w.mu.Lock()
	w.turns++
	if interjected {
		w.interjections++
	}
	w.mu.Unlock()
}

func (w *stageWindow) snapshot() EngineSnapshot {
	w.mu.Lock()
	defer w.mu.Unlock()

	snap := EngineSnapshot{
		GeneratedAt:   time.Now().UTC(),
		WindowSize:    w.size,
		Turns:         w.turns,
		Interjections: w.interjections,
		Stages:        []StageLatency{},
		Counters:      []Counter{},
	}
	if w.turns > 0 {
		snap.InterjectionRate = round2(float64(w.interjections) / float64(w.turns))
	}

	for _, stage := range slices.Sorted(maps.Keys(w.rings)) {
		samples := w.rings[stage].sorted()
		if len(samples) == 0 {
			continue
		}
		var sum float64
		for _, v := range samples {
			sum += v
		}
		st := StageLatency{
			Stage:       stage,
			Samples:     len(samples),
			LastMS:      round2(w.rings[stage].last),
			AvgMS:       round2(sum / float64(len(samples))),
			P50MS:       round2(quantile(samples, 0.50)),
			P95MS:       round2(quantile(samples, 0.95)),
			P99MS:       round2(quantile(samples, 0.99)),
			TargetP95MS: stageTargets[stage],
		}
		st.OverTarget = st.TargetP95MS > 0 && st.P95MS > st.TargetP95MS
		snap.Stages = append(snap.Stages, st)
	}

	for _, name := range slices.Sorted(maps.Keys(w.counters)) {
		snap.Counters = append(snap.Counters, Counter{Name: name, Count: w.counters[name]})
	}
	return snap
}

// quantile interpolates linearly between the closest ranks of sorted.
func quantile(sorted []float64, q float64) float64 {
	switch {
	case len(sorted) == 0:
		return 0
	case q <= 0:
		return sorted[0]
	case q >= 1:
		return sorted[len(sorted)-1]
	}
	idx := q * float64(len(sorted)-1)
	lo, hi := int(math.Floor(idx)), int(math.Ceil(idx))
	frac := idx - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
