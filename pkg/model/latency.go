package model

import (
	"github.com/m-lab/speedtest/pkg/stats"
)

// PingSample is a single PING/PONG round trip.
type PingSample struct {
	// LatencyMs is the round-trip time in milliseconds. Zero on failure.
	LatencyMs float64
	// ClientTimestamp is the Unix time in milliseconds carried by the PING.
	ClientTimestamp int64
	// ServerTimestamp is the value carried by the PONG, if parseable.
	ServerTimestamp int64
	// Success says whether a matching reply was received in time.
	Success bool
	// Reason is set when Success is false.
	Reason FailureReason `json:",omitempty"`
	// Error is the error message when Success is false.
	Error string `json:",omitempty"`
}

// FailureReason classifies why probing an endpoint, or a single probe,
// failed.
type FailureReason string

const (
	ReasonNone            = FailureReason("")
	ReasonConnectTimeout  = FailureReason("connect_timeout")
	ReasonConnectError    = FailureReason("connect_error")
	ReasonProbeTimeout    = FailureReason("probe_timeout")
	ReasonUnexpectedReply = FailureReason("unexpected_reply")
	ReasonNoSamples       = FailureReason("no_samples")
	ReasonCanceled        = FailureReason("canceled")
)

// EndpointLatencyResult is the aggregate of all probes sent to one
// endpoint. It is filled by Add, reduced once by Finalize and read-only
// afterwards.
type EndpointLatencyResult struct {
	// Server is the probed endpoint.
	Server Endpoint
	// ServerVersion is the version announced in the HELLO message.
	ServerVersion string
	// ExternalIP is the client address announced in the YOURIP message.
	ExternalIP string
	// Capabilities lists the tokens of the CAPABILITIES message.
	Capabilities []string
	// Pings holds successful round-trip times in milliseconds, in time order.
	Pings []float64
	// LatencyMs is the minimum successful round-trip time.
	LatencyMs float64
	// JitterMs is the mean absolute difference between consecutive pings.
	JitterMs float64
	// Attempts is the number of probes issued, retries included.
	Attempts int
	// PacketLoss is the percentage of issued probes that got no reply.
	PacketLoss float64
	// Success is true when at least one probe succeeded.
	Success bool
	// Reason is the failure classification when Success is false.
	Reason FailureReason `json:",omitempty"`
	// Error is the last error seen, if any.
	Error string `json:",omitempty"`

	finalized bool
}

// NewEndpointLatencyResult returns an empty result for ep.
func NewEndpointLatencyResult(ep Endpoint) *EndpointLatencyResult {
	return &EndpointLatencyResult{
		Server:       ep,
		Capabilities: []string{},
		Pings:        []float64{},
	}
}

// Clone returns a copy of r that shares no slices with it.
func (r EndpointLatencyResult) Clone() EndpointLatencyResult {
	r.Capabilities = append([]string{}, r.Capabilities...)
	r.Pings = append([]float64{}, r.Pings...)
	return r
}

// Add folds one probe outcome into the result. It is a no-op once the
// result has been finalized.
func (r *EndpointLatencyResult) Add(s PingSample) {
	if r.finalized {
		return
	}
	r.Attempts++
	if s.Success {
		r.Pings = append(r.Pings, s.LatencyMs)
		return
	}
	if s.Reason != ReasonNone {
		r.Reason = s.Reason
	}
	if s.Error != "" {
		r.Error = s.Error
	}
}

// Fail records a failure that happened before or outside probing, e.g. a
// connection error. It does not count as an attempt.
func (r *EndpointLatencyResult) Fail(reason FailureReason, err error) {
	if r.finalized {
		return
	}
	r.Reason = reason
	if err != nil {
		r.Error = err.Error()
	}
}

// Finalize computes the derived fields. Only the first call has an effect.
//
// With no successful pings the result is failed with zero latency and
// jitter. Packet loss is 1 - successes/attempts, as a percentage, where
// attempts counts every probe actually issued.
func (r *EndpointLatencyResult) Finalize() {
	if r.finalized {
		return
	}
	r.finalized = true

	n := len(r.Pings)
	if r.Attempts > 0 {
		r.PacketLoss = (1 - float64(n)/float64(r.Attempts)) * 100
	} else {
		r.PacketLoss = 100
	}
	if n == 0 {
		r.Success = false
		r.LatencyMs = 0
		r.JitterMs = 0
		if r.Reason == ReasonNone {
			r.Reason = ReasonNoSamples
		}
		return
	}
	r.Success = true
	r.Reason = ReasonNone
	r.LatencyMs = stats.Min(r.Pings)
	r.JitterMs = stats.Jitter(r.Pings)
}

// Finalized says whether Finalize has been called.
func (r *EndpointLatencyResult) Finalized() bool {
	return r.finalized
}
