package throughput

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/m-lab/speedtest/pkg/throughput/spec"
)

func testSampler(progress ProgressFunc) (*sampler, time.Time) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg := Config{Duration: 10 * time.Second, OnProgress: progress}.withDefaults()
	return newSampler(spec.SubtestDownload, start, cfg), start
}

// mbpsBytes returns the number of bytes that produce mbps over dt.
func mbpsBytes(mbps float64, dt time.Duration) int64 {
	return int64(mbps * 1e6 / 8 * dt.Seconds())
}

func Test_sampler_warmupExclusion(t *testing.T) {
	var progressCalls int
	s, start := testSampler(func(fraction, mbps float64) { progressCalls++ })

	var bytes int64
	tick := 250 * time.Millisecond
	// 4s of samples: 7 during warm-up at 1000 Mbps, 9 after at 100 Mbps.
	for i := 1; i <= 16; i++ {
		rate := 100.0
		if i*int(tick) < int(spec.Warmup) {
			rate = 1000
		}
		bytes += mbpsBytes(rate, tick)
		s.observe(start.Add(time.Duration(i)*tick), bytes)
	}

	if s.result.warmup != 7 {
		t.Errorf("warmup samples = %d, want 7", s.result.warmup)
	}
	if len(s.result.samples) != 9 {
		t.Fatalf("samples = %d, want 9", len(s.result.samples))
	}
	for _, v := range s.result.samples {
		if v > 101 {
			t.Errorf("warm-up sample %v leaked into the reduction", v)
		}
	}
	if progressCalls != 16 {
		t.Errorf("progress calls = %d, want 16", progressCalls)
	}
}

func Test_sampler_discards(t *testing.T) {
	s, start := testSampler(nil)

	// Too close to the start: discarded, baseline kept.
	s.observe(start.Add(10*time.Millisecond), 1000)
	if len(s.result.samples)+s.result.warmup != 0 {
		t.Fatalf("sample closer than the minimum interval was accepted")
	}
	if !s.lastTime.Equal(start) {
		t.Errorf("baseline moved on a discarded sample")
	}

	// Above the plausible ceiling: discarded.
	dt := 250 * time.Millisecond
	s.observe(start.Add(dt), mbpsBytes(spec.MaxPlausibleMbps*2, dt))
	if len(s.result.samples)+s.result.warmup != 0 {
		t.Errorf("implausible sample was accepted")
	}

	// Plausible: accepted as a warm-up sample.
	s.observe(start.Add(2*dt), mbpsBytes(spec.MaxPlausibleMbps*2, dt)+mbpsBytes(50, dt))
	if s.result.warmup != 1 {
		t.Errorf("plausible sample was not accepted")
	}
}

func Test_sampler_smoothing(t *testing.T) {
	var got []float64
	s, start := testSampler(func(fraction, mbps float64) {
		if fraction < 0 || fraction > 1 {
			t.Errorf("fraction %v out of range", fraction)
		}
		got = append(got, mbps)
	})
	dt := 250 * time.Millisecond
	s.observe(start.Add(dt), mbpsBytes(100, dt))
	s.observe(start.Add(2*dt), mbpsBytes(100, dt)+mbpsBytes(200, dt))

	want := []float64{100, 0.25*200 + 0.75*100}
	for i := range want {
		if diff := got[i] - want[i]; diff > 0.01 || diff < -0.01 {
			t.Errorf("smoothed[%d] = %v, want %v", i, got[i], want[i])
		}
	}

	// Progress fraction never exceeds 1, even past the deadline.
	s.observe(start.Add(20*time.Second), mbpsBytes(100, dt)*100)
}

func Test_await(t *testing.T) {
	expired := make(chan struct{})
	close(expired)
	for i := 0; i < 100; i++ {
		ch := make(chan int, 1)
		ch <- 7
		if v, ok := await(ch, expired); !ok || v != 7 {
			t.Fatalf("await() = %d, %v, want 7, true", v, ok)
		}
	}
	if _, ok := await(make(chan int), expired); ok {
		t.Errorf("await() on an empty channel returned ok after expiry")
	}
}

func Test_reduce(t *testing.T) {
	bps, method := reduce([]float64{10, 20, 30, 40, 50, 60, 70, 80}, 0, time.Second)
	if bps != 45e6 || method != spec.MethodIQM {
		t.Errorf("reduce() = %v, %s, want 45e6, iqm", bps, method)
	}
	bps, method = reduce(nil, 1_250_000, time.Second)
	if bps != 10e6 || method != spec.MethodAverage {
		t.Errorf("reduce() = %v, %s, want 10e6, average", bps, method)
	}
	bps, _ = reduce([]float64{}, 1000, 0)
	if bps != 0 {
		t.Errorf("reduce() with zero duration = %v, want 0", bps)
	}
}

func Test_cyclicReader(t *testing.T) {
	buf := []byte("0123456789")
	var counted int
	ctx, cancel := context.WithCancel(context.Background())
	r := &cyclicReader{ctx: ctx, buffer: buf, chunk: 4, onRead: func(n int) { counted += n }}

	p := make([]byte, 8)
	var out []byte
	for i := 0; i < 4; i++ {
		n, err := r.Read(p)
		if err != nil || n != 4 {
			t.Fatalf("Read() = %d, %v, want 4, nil", n, err)
		}
		out = append(out, p[:n]...)
	}
	if string(out) != "0123456789012345" {
		t.Errorf("cyclicReader produced %q", out)
	}
	if counted != 16 {
		t.Errorf("onRead counted %d bytes, want 16", counted)
	}

	// Small reads wrap around the buffer too.
	small := make([]byte, 3)
	n, _ := r.Read(small)
	if string(small[:n]) != "678" {
		t.Errorf("Read() = %q, want 678", small[:n])
	}

	cancel()
	if _, err := r.Read(p); err != io.EOF {
		t.Errorf("Read() after cancel error = %v, want io.EOF", err)
	}
}

func TestClamp(t *testing.T) {
	streams := map[int]int{0: spec.DefaultStreams, -1: 1, 1: 1, 16: 16, 64: 32}
	for in, want := range streams {
		if got := ClampStreams(in); got != want {
			t.Errorf("ClampStreams(%d) = %d, want %d", in, got, want)
		}
	}
	durations := map[time.Duration]time.Duration{
		0:                  spec.DefaultDuration,
		time.Millisecond:   spec.MinDuration,
		15 * time.Second:   15 * time.Second,
		1000 * time.Second: spec.MaxDuration,
	}
	for in, want := range durations {
		if got := ClampDuration(in); got != want {
			t.Errorf("ClampDuration(%v) = %v, want %v", in, got, want)
		}
	}
}
