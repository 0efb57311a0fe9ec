// Package metrics keeps the in-process observation sink the admin snapshot
// endpoint reads, and the Prometheus export mirrored from the hot paths.
package metrics

import (
	"log/slog"
	"sort"
	"strings"
	"sync"
)

const (
	// ringSize bounds the retained samples per series; percentiles cover this
	// window.
	ringSize = 1000

	// maxSeries bounds total series so unbounded label values (chat ids)
	// cannot grow memory without limit.
	maxSeries = 4096
)

// Sink accumulates named observations into bounded rings, one per distinct
// (name, labels) series.
type Sink struct {
	mu       sync.RWMutex
	series   map[string]*series
	overflow sync.Once
}

type series struct {
	name   string
	labels map[string]string
	count  int64
	sum    float64
	ring   []float64
	next   int
	size   int
}

// SeriesSnapshot is the on-demand aggregate of one series. Count and Sum
// cover every observation ever made; Mean and the percentiles cover the ring
// window of the most recent ringSize samples.
type SeriesSnapshot struct {
	Name   string            `json:"name"`
	Labels map[string]string `json:"labels,omitempty"`
	Count  int64             `json:"count"`
	Sum    float64           `json:"sum"`
	Mean   float64           `json:"mean"`
	P50    float64           `json:"p50"`
	P95    float64           `json:"p95"`
	P99    float64           `json:"p99"`
}

func NewSink() *Sink {
	return &Sink{series: make(map[string]*series)}
}

// Observe records one value for a series.
func (s *Sink) Observe(name string, value float64, labels map[string]string) {
	key := seriesKey(name, labels)

	s.mu.Lock()
	defer s.mu.Unlock()

	sr, ok := s.series[key]
	if !ok {
		if len(s.series) >= maxSeries {
			s.overflow.Do(func() {
				slog.Warn("Metrics series limit reached, new series are dropped", "limit", maxSeries)
			})
			return
		}
		copied := make(map[string]string, len(labels))
		for k, v := range labels {
			copied[k] = v
		}
		sr = &series{name: name, labels: copied, ring: make([]float64, ringSize)}
		s.series[key] = sr
	}

	sr.count++
	sr.sum += value
	sr.ring[sr.next] = value
	sr.next = (sr.next + 1) % ringSize
	if sr.size < ringSize {
		sr.size++
	}
}

// Incr records a counter-style observation of one.
func (s *Sink) Incr(name string, labels map[string]string) {
	s.Observe(name, 1, labels)
}

// Snapshot computes the aggregates of every series, ordered by series key so
// consecutive reads are comparable.
func (s *Sink) Snapshot() []SeriesSnapshot {
	type window struct {
		snap    SeriesSnapshot
		samples []float64
	}

	s.mu.RLock()
	keys := make([]string, 0, len(s.series))
	for key := range s.series {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	windows := make([]window, 0, len(keys))
	for _, key := range keys {
		sr := s.series[key]
		samples := make([]float64, sr.size)
		copy(samples, sr.ring[:sr.size])
		windows = append(windows, window{
			snap: SeriesSnapshot{
				Name:   sr.name,
				Labels: sr.labels,
				Count:  sr.count,
				Sum:    sr.sum,
			},
			samples: samples,
		})
	}
	s.mu.RUnlock()

	out := make([]SeriesSnapshot, 0, len(windows))
	for _, w := range windows {
		sort.Float64s(w.samples)
		if n := len(w.samples); n > 0 {
			var sum float64
			for _, v := range w.samples {
				sum += v
			}
			w.snap.Mean = sum / float64(n)
			w.snap.P50 = percentile(w.samples, 50)
			w.snap.P95 = percentile(w.samples, 95)
			w.snap.P99 = percentile(w.samples, 99)
		}
		out = append(out, w.snap)
	}
	return out
}

// percentile returns the nearest-rank percentile of sorted samples.
func percentile(sorted []float64, q int) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	rank := (q*n + 99) / 100
	if rank < 1 {
		rank = 1
	}
	return sorted[rank-1]
}

func seriesKey(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(name)
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(labels[k])
	}
	b.WriteByte('}')
	return b.String()
}
