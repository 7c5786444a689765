package throughput

import (
	"context"
	"math"
	"sync/atomic"
	"time"

	"github.com/m-lab/speedtest/internal/metrics"
	"github.com/m-lab/speedtest/pkg/throughput/spec"
	"github.com/prometheus/client_golang/prometheus"
)

// samplerResult is what the sampler hands back to the orchestrator.
type samplerResult struct {
	// samples are the raw post-warm-up rates, in Mbps.
	samples []float64
	// warmup is the number of accepted samples taken during warm-up.
	warmup int
}

// sampler converts a cumulative byte counter into per-interval rates.
type sampler struct {
	start    time.Time
	interval time.Duration
	warmup   time.Duration
	duration time.Duration
	progress ProgressFunc

	lastTime  time.Time
	lastBytes int64
	smoothed  float64
	haveEMA   bool
	result    samplerResult

	tooClose prometheus.Counter
	tooFast  prometheus.Counter
}

func newSampler(kind spec.SubtestKind, start time.Time, cfg Config) *sampler {
	return &sampler{
		start:    start,
		interval: cfg.SampleInterval,
		warmup:   cfg.Warmup,
		duration: cfg.Duration,
		progress: cfg.OnProgress,
		lastTime: start,
		result:   samplerResult{samples: []float64{}},
		tooClose: metrics.SamplesDiscarded.WithLabelValues(string(kind), "interval"),
		tooFast:  metrics.SamplesDiscarded.WithLabelValues(string(kind), "ceiling"),
	}
}

// run samples total on every tick until ctx is done.
func (s *sampler) run(ctx context.Context, total *atomic.Int64) samplerResult {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return s.result
		case now := <-ticker.C:
			s.observe(now, total.Load())
		}
	}
}

// observe processes the counter value read at now. A sample is discarded
// when it is too close to the previous one, in which case the previous
// baseline is kept, or when it exceeds the plausible ceiling. Warm-up
// samples update the smoothed progress rate but are not kept.
func (s *sampler) observe(now time.Time, bytes int64) {
	dt := now.Sub(s.lastTime)
	if dt < spec.MinSampleElapsed {
		s.tooClose.Inc()
		return
	}
	mbps := float64(bytes-s.lastBytes) * 8 / dt.Seconds() / 1e6
	s.lastTime, s.lastBytes = now, bytes
	if mbps > spec.MaxPlausibleMbps || mbps < 0 {
		s.tooFast.Inc()
		return
	}

	elapsed := now.Sub(s.start)
	if elapsed < s.warmup {
		s.result.warmup++
	} else {
		s.result.samples = append(s.result.samples, mbps)
	}

	if s.haveEMA {
		s.smoothed = spec.SmoothingFactor*mbps + (1-spec.SmoothingFactor)*s.smoothed
	} else {
		s.smoothed, s.haveEMA = mbps, true
	}
	if s.progress != nil {
		fraction := math.Min(float64(elapsed)/float64(s.duration), 1)
		s.progress(fraction, s.smoothed)
	}
}
