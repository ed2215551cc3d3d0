package stamp

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts filesystem work done by a provider. A nil *Metrics is valid
// and counts nothing.
type Metrics struct {
	stats         atomic.Int64
	bytesRead     atomic.Int64
	hashCacheHits atomic.Int64
}

// Stats returns the number of stat calls.
func (m *Metrics) Stats() int64 {
	if m == nil {
		return 0
	}
	return m.stats.Load()
}

// BytesRead returns the number of content bytes hashed.
func (m *Metrics) BytesRead() int64 {
	if m == nil {
		return 0
	}
	return m.bytesRead.Load()
}

// HashCacheHits returns how often a memoised hash was reused.
func (m *Metrics) HashCacheHits() int64 {
	if m == nil {
		return 0
	}
	return m.hashCacheHits.Load()
}

func (m *Metrics) addStat() {
	if m != nil {
		m.stats.Add(1)
	}
}

func (m *Metrics) addBytesRead(n int64) {
	if m != nil {
		m.bytesRead.Add(n)
	}
}

func (m *Metrics) addHashCacheHit() {
	if m != nil {
		m.hashCacheHits.Add(1)
	}
}

// Register exposes the counters on reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "forge",
			Subsystem: "stamp",
			Name:      "stats_total",
			Help:      "Number of file stat calls made while stamping.",
		}, func() float64 { return float64(m.Stats()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "forge",
			Subsystem: "stamp",
			Name:      "bytes_read_total",
			Help:      "Number of file content bytes hashed.",
		}, func() float64 { return float64(m.BytesRead()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "forge",
			Subsystem: "stamp",
			Name:      "hash_cache_hits_total",
			Help:      "Number of content hashes served from the memo.",
		}, func() float64 { return float64(m.HashCacheHits()) }),
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
