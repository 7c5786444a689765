package model

import (
	"github.com/m-lab/speedtest/pkg/stats"
	"github.com/m-lab/speedtest/pkg/throughput/spec"
)

// ConnectionRecord is the per-worker bookkeeping of a subtest. During the
// run it is written only by its worker.
type ConnectionRecord struct {
	// ID is the worker index.
	ID int
	// ServerID is the ID of the endpoint this worker transferred to or from.
	ServerID int
	// Host is the endpoint's host:port.
	Host string
	// Bytes is the number of application-level bytes transferred.
	Bytes int64
	// NetworkBytes is the number of bytes read from or written to the
	// worker's sockets, including HTTP and TLS framing.
	NetworkBytes int64
	// Requests is the number of requests started by the worker.
	Requests int
	// Errors is the number of transfer errors the worker recovered from.
	Errors int
	// DurationMs is the time this worker was active.
	DurationMs float64
	// SpeedMbps is Bytes over DurationMs.
	SpeedMbps float64
}

// ThroughputResult is the reduced result of a download or upload subtest.
type ThroughputResult struct {
	// Direction is the subtest kind.
	Direction spec.SubtestKind
	// SpeedBps is the final rate in bits per second.
	SpeedBps float64
	// SpeedMbps is the final rate in megabits per second.
	SpeedMbps float64
	// Bytes is the sum of Bytes over Connections.
	Bytes int64
	// DurationMs is the measured wall-clock span of the subtest.
	DurationMs float64
	// Method is how SpeedBps was computed.
	Method spec.Method
	// Streams is the number of parallel workers used.
	Streams int
	// Connections holds one record per worker.
	Connections []ConnectionRecord
	// Samples holds the post-warm-up raw throughput samples in Mbps.
	Samples []float64
	// WarmupSamples is the number of accepted samples taken during
	// warm-up, which are excluded from Samples.
	WarmupSamples int
	// LoadedLatency summarizes probes sent while the transfer was running.
	// Count is zero when it was not measured.
	LoadedLatency stats.Summary
}

// NewThroughputResult returns an empty result for kind with all slices
// allocated.
func NewThroughputResult(kind spec.SubtestKind) ThroughputResult {
	return ThroughputResult{
		Direction:     kind,
		Connections:   []ConnectionRecord{},
		Samples:       []float64{},
		LoadedLatency: stats.Summarize(nil),
	}
}

// Clone returns a copy of r that shares no slices with it.
func (r ThroughputResult) Clone() ThroughputResult {
	r.Connections = append([]ConnectionRecord{}, r.Connections...)
	r.Samples = append([]float64{}, r.Samples...)
	r.LoadedLatency.Samples = append([]float64{}, r.LoadedLatency.Samples...)
	return r
}
