package metrics

import "time"

// MetricRecord is one immutable observation of a protected call.
type MetricRecord struct {
	Timestamp  time.Time
	Latency    time.Duration
	Success    bool
	InFlight   int
	SystemLoad float64
}

// MetricSnapshot is a read-only view over a point-in-time copy of a
// MetricWindow, exposing derived scalars used by the feature engineer.
type MetricSnapshot struct {
	P95Latency  time.Duration
	ErrorRate   float64
	SuccessRate float64
	Concurrency float64
	SystemLoad  float64
	TimeOfDay   float64
	Count       int
}

// emptySnapshot is the fallback used whenever the window cannot be read,
// or holds no records yet. On an empty window p95 latency, error rate,
// concurrency and system load are zero, success rate is 1, and time of day
// is the current hour fraction.
func emptySnapshot() MetricSnapshot {
	return MetricSnapshot{
		SuccessRate: 1,
		TimeOfDay:   timeOfDayFraction(time.Now()),
	}
}

func timeOfDayFraction(t time.Time) float64 {
	return float64(t.Hour()) / 24.0
}
