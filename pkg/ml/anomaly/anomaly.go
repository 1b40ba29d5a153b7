// Package anomaly implements a statistical per-feature anomaly score: a
// running mean/stddev per feature with an exact-vs-EMA update switch once
// enough samples have accumulated. A second, simple mean-based detector was
// considered and dropped in favor of this single statistical one; see
// DESIGN.md.
package anomaly

import (
	"math"

	"github.com/khryptorgraphics/adaptivebreaker/pkg/ml/features"
)

const recentCapacity = 30
const exactRecomputeThreshold = 10
const emaRate = 0.1

// DefaultThreshold is the default pre-normalization composite-score
// threshold above which a feature vector is flagged anomalous.
const DefaultThreshold = 2.5

type featureStats struct {
	mean   float64
	stddev float64
	min    float64
	max    float64
	count  int
}

// Detector maintains running per-feature statistics and a bounded window of
// recent vectors.
type Detector struct {
	stats     [features.Width]featureStats
	recent    []features.Vector // bounded to recentCapacity
	threshold float64
}

// New creates a Detector using threshold as the pre-normalization score
// cutoff for IsAnomaly.
func New(threshold float64) *Detector {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Detector{threshold: threshold}
}

// Score computes sqrt(mean over features of ((xi-mean_i)/stddev_i)^2),
// updates the running statistics and the recent-vector window, then
// returns the score.
func (d *Detector) Score(f features.Vector) float64 {
	var sumSq float64
	for i := 0; i < features.Width; i++ {
		s := d.stats[i]
		var z float64
		if s.count > 0 && s.stddev > 0 {
			z = (f[i] - s.mean) / s.stddev
		}
		sumSq += z * z
	}
	d.update(f)
	return math.Sqrt(sumSq / float64(features.Width))
}

// IsAnomaly reports whether the given feature vector's score exceeds the
// configured threshold. It does not mutate detector state beyond what Score
// already does — callers should call Score (or IsAnomaly, which calls
// Score internally) once per tick.
func (d *Detector) IsAnomaly(f features.Vector) (bool, float64) {
	score := d.Score(f)
	return score > d.threshold, score
}

func (d *Detector) update(f features.Vector) {
	for i := 0; i < features.Width; i++ {
		d.stats[i] = updateStat(d.stats[i], f[i])
	}
	d.pushRecent(f)
}

func (d *Detector) pushRecent(f features.Vector) {
	if len(d.recent) == recentCapacity {
		copy(d.recent, d.recent[1:])
		d.recent[recentCapacity-1] = f
		return
	}
	d.recent = append(d.recent, f)
}

func updateStat(s featureStats, x float64) featureStats {
	s.count++
	if s.count == 1 {
		s.min, s.max = x, x
	} else {
		s.min = math.Min(s.min, x)
		s.max = math.Max(s.max, x)
	}

	if s.count <= exactRecomputeThreshold {
		return recomputeExact(s, x)
	}

	// EMA update for mean/variance beyond the exact-recompute window.
	delta := x - s.mean
	s.mean += emaRate * delta
	variance := s.stddev * s.stddev
	variance = (1-emaRate)*variance + emaRate*delta*delta
	s.stddev = math.Max(math.Sqrt(variance), 1e-4)
	return s
}

// recomputeExact keeps an exact running mean/variance using Welford's
// method while the sample count is small, using the "recompute
// exactly" branch for the first exactRecomputeThreshold observations. Since this package
// doesn't retain every raw sample, it approximates that recompute with an
// incremental Welford update, which is exact for mean/variance regardless
// of order.
func recomputeExact(s featureStats, x float64) featureStats {
	if s.count == 1 {
		s.mean = x
		s.stddev = 1e-4
		return s
	}
	delta := x - s.mean
	s.mean += delta / float64(s.count)
	delta2 := x - s.mean
	m2 := s.stddev * s.stddev * float64(s.count-1)
	m2 += delta * delta2
	variance := m2 / float64(s.count)
	s.stddev = math.Max(math.Sqrt(variance), 1e-4)
	return s
}
