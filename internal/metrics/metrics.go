// Package metrics defines the Prometheus metrics exported by the
// measurement components.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ProbesTotal counts latency probes by outcome ("success" or a
	// failure reason).
	ProbesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "speedtest_latency_probes_total",
			Help: "Number of latency probes sent, by result.",
		},
		[]string{"result"},
	)

	// ProbeRTT is the distribution of successful probe round-trip times.
	ProbeRTT = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "speedtest_latency_probe_rtt_seconds",
			Help:    "Round-trip time of successful latency probes.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		},
	)

	// EndpointsTotal counts probed endpoints by final state.
	EndpointsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "speedtest_latency_endpoints_total",
			Help: "Number of endpoints probed, by final state.",
		},
		[]string{"state"},
	)

	// TransferBytes counts application bytes moved by transfer workers.
	TransferBytes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "speedtest_transfer_bytes_total",
			Help: "Application-level bytes transferred, by direction.",
		},
		[]string{"direction"},
	)

	// TransferErrors counts transfer errors workers recovered from.
	TransferErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "speedtest_transfer_errors_total",
			Help: "Transient transfer errors, by direction.",
		},
		[]string{"direction"},
	)

	// SamplesDiscarded counts throughput samples rejected by the sampler.
	SamplesDiscarded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "speedtest_samples_discarded_total",
			Help: "Throughput samples discarded, by direction and reason.",
		},
		[]string{"direction", "reason"},
	)

	// StragglersTotal counts workers abandoned after the unwind grace
	// period.
	StragglersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "speedtest_transfer_stragglers_total",
			Help: "Tasks that did not stop within the grace period, by direction.",
		},
		[]string{"direction"},
	)

	// ThroughputMbps is the distribution of final subtest rates.
	ThroughputMbps = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "speedtest_throughput_mbps",
			Help:    "Final throughput of completed subtests, by direction.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 15),
		},
		[]string{"direction"},
	)
)
