// Package throughput implements the timed, multi-stream download and
// upload tests.
//
// A Tester runs N workers against one endpoint. Workers add every chunk
// they move to their own record and to a shared counter. A sampler turns
// the shared counter into a series of per-interval rates. When the
// deadline expires the shared context is cancelled, the workers are given
// a bounded grace period to unwind and the final rate is computed from the
// post-warm-up samples.
package throughput

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/m-lab/speedtest/internal/metrics"
	"github.com/m-lab/speedtest/pkg/model"
	"github.com/m-lab/speedtest/pkg/stats"
	"github.com/m-lab/speedtest/pkg/throughput/spec"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// ErrInvalidEndpoint is returned when the endpoint has no host.
	ErrInvalidEndpoint = errors.New("invalid endpoint")
	// ErrUnexpectedStatus is recorded when the server answers a transfer
	// request with a non-200 status.
	ErrUnexpectedStatus = errors.New("unexpected status code")
)

// LoadedLatency measures latency to an endpoint until ctx is done.
type LoadedLatency interface {
	Measure(ctx context.Context, ep model.Endpoint) stats.Summary
}

// ProgressFunc receives the fraction of the subtest elapsed, in [0, 1],
// and the smoothed current rate in Mbps. It must return quickly.
type ProgressFunc func(fraction, mbps float64)

// Config is the configuration of a Tester. Zero values take defaults.
type Config struct {
	// Duration is the length of the subtest, clamped to
	// [spec.MinDuration, spec.MaxDuration].
	Duration time.Duration
	// Streams is the number of parallel workers, clamped to
	// [spec.MinStreams, spec.MaxStreams].
	Streams int
	// Warmup is the initial window excluded from the final statistics.
	Warmup time.Duration
	// SampleInterval is the sampler's tick interval.
	SampleInterval time.Duration
	// Grace bounds the wait for workers to unwind after the deadline.
	Grace time.Duration

	// UserAgent is sent with every request.
	UserAgent string
	// NoVerify disables TLS certificate verification.
	NoVerify bool

	// OnProgress, if set, is called on every accepted sample.
	OnProgress ProgressFunc
	// Loaded, if set, measures latency while the transfer runs.
	Loaded LoadedLatency
}

// ClampStreams returns n clamped to the allowed number of streams. Zero
// means the default.
func ClampStreams(n int) int {
	switch {
	case n == 0:
		return spec.DefaultStreams
	case n < spec.MinStreams:
		return spec.MinStreams
	case n > spec.MaxStreams:
		return spec.MaxStreams
	}
	return n
}

// ClampDuration returns d clamped to the allowed subtest length. Zero
// means the default.
func ClampDuration(d time.Duration) time.Duration {
	switch {
	case d == 0:
		return spec.DefaultDuration
	case d < spec.MinDuration:
		return spec.MinDuration
	case d > spec.MaxDuration:
		return spec.MaxDuration
	}
	return d
}

func (c Config) withDefaults() Config {
	c.Duration = ClampDuration(c.Duration)
	c.Streams = ClampStreams(c.Streams)
	if c.Warmup <= 0 {
		c.Warmup = spec.Warmup
	}
	if c.SampleInterval <= 0 {
		c.SampleInterval = spec.SampleInterval
	}
	if c.Grace <= 0 {
		c.Grace = spec.Grace
	}
	return c
}

// Tester runs one kind of subtest.
type Tester struct {
	kind   spec.SubtestKind
	config Config

	// buffer is the read-only payload cycled through by upload bodies.
	buffer []byte

	bytesMetric  prometheus.Counter
	errorsMetric prometheus.Counter
}

func newTester(kind spec.SubtestKind, config Config) *Tester {
	return &Tester{
		kind:         kind,
		config:       config.withDefaults(),
		bytesMetric:  metrics.TransferBytes.WithLabelValues(string(kind)),
		errorsMetric: metrics.TransferErrors.WithLabelValues(string(kind)),
	}
}

// NewDownloader returns a Tester running download subtests.
func NewDownloader(config Config) *Tester {
	return newTester(spec.SubtestDownload, config)
}

// NewUploader returns a Tester running upload subtests. The upload payload
// is generated once here.
func NewUploader(config Config) *Tester {
	t := newTester(spec.SubtestUpload, config)
	t.buffer = make([]byte, spec.UploadBufferSize)
	rnd := rand.New(rand.NewSource(time.Now().UnixNano()))
	rnd.Read(t.buffer)
	return t
}

// Kind returns the subtest kind of this Tester.
func (t *Tester) Kind() spec.SubtestKind {
	return t.kind
}

// Config returns the effective configuration, defaults applied.
func (t *Tester) Config() Config {
	return t.config
}

// Run runs the subtest against ep for the configured duration.
//
// Transfer errors are handled inside the workers and never returned. Run
// only fails if ep is invalid or ctx is cancelled before the deadline; in
// both cases the returned result is the zero value.
func (t *Tester) Run(ctx context.Context, ep model.Endpoint) (model.ThroughputResult, error) {
	if ep.Host == "" {
		return model.ThroughputResult{}, ErrInvalidEndpoint
	}
	if err := ctx.Err(); err != nil {
		return model.ThroughputResult{}, err
	}
	cfg := t.config

	start := time.Now()
	phaseCtx, cancel := context.WithDeadline(ctx, start.Add(cfg.Duration))
	defer cancel()

	var total atomic.Int64
	workers := make([]*worker, cfg.Streams)
	wg := &sync.WaitGroup{}
	for i := range workers {
		w := t.newWorker(i, ep)
		workers[i] = w
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer w.finish()
			t.work(phaseCtx, w, &total)
		}()
	}

	s := newSampler(t.kind, start, cfg)
	samplerDone := make(chan samplerResult, 1)
	go func() {
		samplerDone <- s.run(phaseCtx, &total)
	}()

	var loadedDone chan stats.Summary
	if cfg.Loaded != nil {
		loadedDone = make(chan stats.Summary, 1)
		go func() {
			loadedDone <- cfg.Loaded.Measure(phaseCtx, ep)
		}()
	}

	<-phaseCtx.Done()
	canceled := ctx.Err() != nil
	cancel()

	// Everything started above observes phaseCtx. Give it a bounded time to
	// stop, then read out whatever state there is.
	graceCtx, graceCancel := context.WithTimeout(context.Background(), cfg.Grace)
	defer graceCancel()

	workersDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(workersDone)
	}()
	stragglers := metrics.StragglersTotal.WithLabelValues(string(t.kind))
	if _, ok := await(workersDone, graceCtx.Done()); !ok {
		log.Warn("abandoning workers after grace period", "direction", t.kind,
			"server", ep.Addr())
		stragglers.Inc()
	}

	sr, ok := await(samplerDone, graceCtx.Done())
	if !ok {
		sr = samplerResult{samples: []float64{}}
		stragglers.Inc()
	}

	loaded := stats.Summarize(nil)
	if loadedDone != nil {
		if l, ok := await(loadedDone, graceCtx.Done()); ok {
			loaded = l
		} else {
			stragglers.Inc()
		}
	}
	elapsed := time.Since(start)

	if canceled {
		return model.ThroughputResult{}, ctx.Err()
	}

	res := model.NewThroughputResult(t.kind)
	res.Streams = cfg.Streams
	res.DurationMs = float64(elapsed.Microseconds()) / 1000
	for _, w := range workers {
		rec := w.snapshot()
		res.Connections = append(res.Connections, rec)
		res.Bytes += rec.Bytes
	}
	res.Samples = sr.samples
	res.WarmupSamples = sr.warmup
	res.LoadedLatency = loaded
	res.SpeedBps, res.Method = reduce(sr.samples, res.Bytes, elapsed)
	res.SpeedMbps = res.SpeedBps / 1e6

	metrics.ThroughputMbps.WithLabelValues(string(t.kind)).Observe(res.SpeedMbps)
	log.Debug("subtest done", "direction", t.kind, "server", ep.Addr(),
		"mbps", res.SpeedMbps, "method", res.Method, "bytes", res.Bytes,
		"samples", len(res.Samples))
	return res, nil
}

// await receives from ch until expired is closed. A value that is already
// available is always returned, even if expired is closed too.
func await[T any](ch <-chan T, expired <-chan struct{}) (T, bool) {
	select {
	case v := <-ch:
		return v, true
	default:
	}
	select {
	case v := <-ch:
		return v, true
	case <-expired:
		var zero T
		return zero, false
	}
}

// reduce computes the final rate in bits per second. The interquartile
// mean of the post-warm-up samples is preferred; without samples it falls
// back to the average over the whole run.
func reduce(samples []float64, bytes int64, elapsed time.Duration) (float64, spec.Method) {
	if len(samples) > 0 {
		return stats.InterquartileMean(samples) * 1e6, spec.MethodIQM
	}
	if elapsed <= 0 {
		return 0, spec.MethodAverage
	}
	return float64(bytes) * 8 / elapsed.Seconds(), spec.MethodAverage
}
