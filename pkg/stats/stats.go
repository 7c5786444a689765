// Package stats implements the reductions used to turn noisy latency and
// throughput samples into single numbers. Every function is total: empty
// input yields 0 and the input slice is never modified.
package stats

import (
	"math"
	"sort"
)

// sorted returns an ascending copy of s.
func sorted(s []float64) []float64 {
	c := make([]float64, len(s))
	copy(c, s)
	sort.Float64s(c)
	return c
}

// Mean returns the arithmetic mean of s.
func Mean(s []float64) float64 {
	if len(s) == 0 {
		return 0
	}
	var sum float64
	for _, v := range s {
		sum += v
	}
	return sum / float64(len(s))
}

// Median returns the median of s. For an even number of samples it is the
// average of the two central order statistics.
func Median(s []float64) float64 {
	n := len(s)
	if n == 0 {
		return 0
	}
	c := sorted(s)
	if n%2 == 1 {
		return c[n/2]
	}
	return (c[n/2-1] + c[n/2]) / 2
}

// Min returns the smallest value in s.
func Min(s []float64) float64 {
	if len(s) == 0 {
		return 0
	}
	m := s[0]
	for _, v := range s[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

// Max returns the largest value in s.
func Max(s []float64) float64 {
	if len(s) == 0 {
		return 0
	}
	m := s[0]
	for _, v := range s[1:] {
		if v > m {
			m = v
		}
	}
	return m
}

// Jitter returns the mean absolute difference between consecutive samples.
// Order matters: s is expected in time order.
func Jitter(s []float64) float64 {
	if len(s) < 2 {
		return 0
	}
	var sum float64
	for i := 1; i < len(s); i++ {
		sum += math.Abs(s[i] - s[i-1])
	}
	return sum / float64(len(s)-1)
}

// InterquartileMean returns the mean of the middle half of the sorted
// samples, i.e. sorted[n/4 : 3n/4]. With fewer than 4 samples it returns
// the plain mean.
func InterquartileMean(s []float64) float64 {
	n := len(s)
	if n < 4 {
		return Mean(s)
	}
	c := sorted(s)
	lo, hi := n/4, (3*n)/4
	if hi <= lo {
		return Mean(c)
	}
	return Mean(c[lo:hi])
}

// Percentile returns the p-th percentile of s using linear interpolation
// between the closest ranks. p is clamped to [0, 100].
func Percentile(s []float64, p float64) float64 {
	n := len(s)
	if n == 0 {
		return 0
	}
	p = math.Max(0, math.Min(100, p))
	c := sorted(s)
	rank := p / 100 * float64(n-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return c[lo]
	}
	frac := rank - float64(lo)
	return c[lo] + (c[hi]-c[lo])*frac
}

// Summary is a reduced view of a sample set.
type Summary struct {
	Count  int
	Min    float64
	Max    float64
	Mean   float64
	Median float64
	IQM    float64
	Jitter float64
	P95    float64
	// Samples is a copy of the input, in the original order.
	Samples []float64
}

// Summarize computes a Summary of s. Samples is always non-nil.
func Summarize(s []float64) Summary {
	c := make([]float64, len(s))
	copy(c, s)
	return Summary{
		Count:   len(s),
		Min:     Min(s),
		Max:     Max(s),
		Mean:    Mean(s),
		Median:  Median(s),
		IQM:     InterquartileMean(s),
		Jitter:  Jitter(s),
		P95:     Percentile(s, 95),
		Samples: c,
	}
}
