package metrics

import (
	"math"
	"sort"
	"sync"
	"time"
)

// MetricWindow is a bounded FIFO of recent MetricRecords. Many caller
// goroutines record into it concurrently; a single reader at a time takes
// an aggregate snapshot. On overflow the oldest record is evicted silently.
type MetricWindow struct {
	mu       sync.Mutex
	records  []MetricRecord
	capacity int
	head     int
	size     int
}

// DefaultWindowCapacity is the default bound W from the data model.
const DefaultWindowCapacity = 1000

// NewMetricWindow creates a window bounded to capacity records.
func NewMetricWindow(capacity int) *MetricWindow {
	if capacity <= 0 {
		capacity = DefaultWindowCapacity
	}
	return &MetricWindow{
		records:  make([]MetricRecord, capacity),
		capacity: capacity,
	}
}

// Record appends a MetricRecord, evicting the oldest on overflow.
func (w *MetricWindow) Record(m MetricRecord) {
	w.mu.Lock()
	defer w.mu.Unlock()

	idx := (w.head + w.size) % w.capacity
	if w.size < w.capacity {
		w.records[idx] = m
		w.size++
	} else {
		w.records[w.head] = m
		w.head = (w.head + 1) % w.capacity
	}
}

// Len reports the current number of records held.
func (w *MetricWindow) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.size
}

// Snapshot copies the current contents and computes the derived aggregates.
// The copy happens under the lock; all math below runs lock-free so writers
// are never blocked for longer than one slice copy.
func (w *MetricWindow) Snapshot() MetricSnapshot {
	w.mu.Lock()
	if w.size == 0 {
		w.mu.Unlock()
		return emptySnapshot()
	}
	buf := make([]MetricRecord, w.size)
	for i := 0; i < w.size; i++ {
		buf[i] = w.records[(w.head+i)%w.capacity]
	}
	w.mu.Unlock()

	return aggregate(buf)
}

func aggregate(buf []MetricRecord) MetricSnapshot {
	n := len(buf)
	if n == 0 {
		return emptySnapshot()
	}

	latencies := make([]time.Duration, n)
	var failures int
	var concurrencySum, loadSum float64
	for i, r := range buf {
		latencies[i] = r.Latency
		if !r.Success {
			failures++
		}
		concurrencySum += float64(r.InFlight)
		loadSum += r.SystemLoad
	}

	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
	p95 := p95Latency(latencies)

	errorRate := float64(failures) / float64(n)

	return MetricSnapshot{
		P95Latency:  p95,
		ErrorRate:   errorRate,
		SuccessRate: 1 - errorRate,
		Concurrency: concurrencySum / float64(n),
		SystemLoad:  loadSum / float64(n),
		TimeOfDay:   timeOfDayFraction(time.Now()),
		Count:       n,
	}
}

// p95Latency returns the ceil(0.95*N)-th order statistic of a sorted slice.
func p95Latency(sorted []time.Duration) time.Duration {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	idx := int(math.Ceil(0.95*float64(n))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= n {
		idx = n - 1
	}
	return sorted[idx]
}
