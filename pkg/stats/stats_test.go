package stats_test

import (
	"math"
	"reflect"
	"testing"

	"github.com/m-lab/speedtest/pkg/stats"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestJitter(t *testing.T) {
	tests := []struct {
		name string
		s    []float64
		want float64
	}{
		{name: "empty", s: nil, want: 0},
		{name: "single", s: []float64{42}, want: 0},
		{name: "constant run", s: []float64{5, 5, 5}, want: 0},
		{name: "two samples", s: []float64{10, 20}, want: 10},
		{name: "alternating", s: []float64{10, 20, 10, 20}, want: 10},
		{name: "order matters", s: []float64{1, 3, 2}, want: 1.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := stats.Jitter(tt.s); !almostEqual(got, tt.want) {
				t.Errorf("Jitter(%v) = %v, want %v", tt.s, got, tt.want)
			}
		})
	}
}

func TestJitter_appendConstantRun(t *testing.T) {
	s := []float64{7, 7}
	for i := 0; i < 10; i++ {
		s = append(s, 7)
		if got := stats.Jitter(s); got != 0 {
			t.Fatalf("Jitter(%v) = %v, want 0", s, got)
		}
	}
}

func TestInterquartileMean(t *testing.T) {
	tests := []struct {
		name string
		s    []float64
		want float64
	}{
		{name: "empty", s: nil, want: 0},
		{name: "fewer than four", s: []float64{1, 2, 6}, want: 3},
		{name: "eight ordered", s: []float64{10, 20, 30, 40, 50, 60, 70, 80}, want: 45},
		{name: "eight shuffled", s: []float64{80, 10, 60, 30, 20, 70, 50, 40}, want: 45},
		{name: "outlier resistant", s: []float64{50, 50, 50, 50, 50, 50, 500, 1}, want: 50},
		{name: "four", s: []float64{1, 2, 3, 100}, want: 2.5},
		{name: "five", s: []float64{1, 2, 3, 4, 100}, want: 2.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := stats.InterquartileMean(tt.s); !almostEqual(got, tt.want) {
				t.Errorf("InterquartileMean(%v) = %v, want %v", tt.s, got, tt.want)
			}
		})
	}
}

func TestInterquartileMean_bounds(t *testing.T) {
	sets := [][]float64{
		{3, 1, 4, 1, 5, 9, 2, 6, 5, 3, 5},
		{0.5, 0.25, 1000, 0.75},
		{-5, 10, 3, 3, 3, 3, 3},
	}
	for _, s := range sets {
		got := stats.InterquartileMean(s)
		if got < stats.Min(s) || got > stats.Max(s) {
			t.Errorf("InterquartileMean(%v) = %v, outside [%v, %v]", s, got,
				stats.Min(s), stats.Max(s))
		}
	}
}

func TestMedian(t *testing.T) {
	tests := []struct {
		name string
		s    []float64
		want float64
	}{
		{name: "empty", s: nil, want: 0},
		{name: "odd", s: []float64{3, 1, 2}, want: 2},
		{name: "even", s: []float64{1, 2, 3, 4}, want: 2.5},
		{name: "even unsorted", s: []float64{4, 1, 3, 2}, want: 2.5},
		{name: "two", s: []float64{10, 20}, want: 15},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := stats.Median(tt.s); !almostEqual(got, tt.want) {
				t.Errorf("Median(%v) = %v, want %v", tt.s, got, tt.want)
			}
		})
	}
}

func TestPercentile(t *testing.T) {
	s := []float64{15, 20, 35, 40, 50}
	tests := []struct {
		p    float64
		want float64
	}{
		{p: 0, want: 15},
		{p: 100, want: 50},
		{p: 50, want: 35},
		{p: 25, want: 20},
		{p: 90, want: 46},
		{p: -10, want: 15},
		{p: 250, want: 50},
	}
	for _, tt := range tests {
		if got := stats.Percentile(s, tt.p); !almostEqual(got, tt.want) {
			t.Errorf("Percentile(%v, %v) = %v, want %v", s, tt.p, got, tt.want)
		}
	}
	if got := stats.Percentile(nil, 50); got != 0 {
		t.Errorf("Percentile(nil, 50) = %v, want 0", got)
	}
	if got := stats.Percentile([]float64{7}, 30); got != 7 {
		t.Errorf("Percentile([7], 30) = %v, want 7", got)
	}
}

func TestMinMaxMean(t *testing.T) {
	s := []float64{4, -2, 9, 1}
	if got := stats.Min(s); got != -2 {
		t.Errorf("Min() = %v, want -2", got)
	}
	if got := stats.Max(s); got != 9 {
		t.Errorf("Max() = %v, want 9", got)
	}
	if got := stats.Mean(s); got != 3 {
		t.Errorf("Mean() = %v, want 3", got)
	}
	if stats.Min(nil) != 0 || stats.Max(nil) != 0 || stats.Mean(nil) != 0 {
		t.Errorf("empty input must reduce to 0")
	}
}

func TestPurity(t *testing.T) {
	s := []float64{9, 3, 7, 1, 5, 2, 8, 4}
	orig := append([]float64(nil), s...)

	first := stats.Summarize(s)
	second := stats.Summarize(s)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("Summarize() is not idempotent: %+v != %+v", first, second)
	}
	stats.Median(s)
	stats.Percentile(s, 50)
	stats.InterquartileMean(s)
	if !reflect.DeepEqual(s, orig) {
		t.Errorf("input was modified: %v, want %v", s, orig)
	}
}

func TestSummarize(t *testing.T) {
	got := stats.Summarize(nil)
	if got.Count != 0 || got.Samples == nil || len(got.Samples) != 0 {
		t.Errorf("Summarize(nil) = %+v, want empty non-nil samples", got)
	}

	got = stats.Summarize([]float64{10, 20})
	if got.Count != 2 || got.Min != 10 || got.Max != 20 || got.Median != 15 ||
		got.Jitter != 10 {
		t.Errorf("Summarize([10 20]) = %+v", got)
	}
}
