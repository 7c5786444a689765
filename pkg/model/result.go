// Package model contains the data types exchanged between the measurement
// components and returned to callers.
package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/m-lab/speedtest/pkg/stats"
	"github.com/m-lab/speedtest/pkg/throughput/spec"
)

// ClientInfo describes the client as seen by the discovery service.
type ClientInfo struct {
	IP      string
	ISP     string
	Country string
	Lat     float64
	Lon     float64
}

// RTT summarizes the successful round trips to the selected endpoint.
type RTT struct {
	Min    float64
	Max    float64
	Mean   float64
	Median float64
}

// Latency is the latency section of a Result.
type Latency struct {
	// Protocol is the probing protocol, "wss" or "ws".
	Protocol string
	Jitter   float64
	RTT      RTT
	Count    int
	Samples  []float64
}

// Result is the complete record of one run. It is built once by NewResult
// and is not modified afterwards.
type Result struct {
	// ID uniquely identifies this run.
	ID string
	// Timestamp is the time the run completed.
	Timestamp time.Time
	Client    ClientInfo
	Server    Endpoint
	// Ping is the best latency to Server, in milliseconds.
	Ping float64
	// Jitter is the latency jitter to Server, in milliseconds.
	Jitter float64
	// PacketLoss is the probe loss percentage to Server.
	PacketLoss float64
	// Pings holds all successful round trips to Server.
	Pings    []float64
	Latency  Latency
	Download ThroughputResult
	Upload   ThroughputResult
	// ServerSelection holds the ranked latency results of every candidate.
	ServerSelection []EndpointLatencyResult
}

// NewResult assembles a Result from the selected endpoint's latency result,
// both throughput results and the full ranking. Every input is deep
// copied, so the Result shares no memory with its inputs.
func NewResult(client ClientInfo, selected EndpointLatencyResult,
	ranking []EndpointLatencyResult, download, upload ThroughputResult) *Result {
	pings := append([]float64{}, selected.Pings...)
	proto := "wss"
	if selected.Server.HTTPScheme() == "http" {
		proto = "ws"
	}
	if download.Direction == "" {
		download = NewThroughputResult(spec.SubtestDownload)
	}
	if upload.Direction == "" {
		upload = NewThroughputResult(spec.SubtestUpload)
	}
	selection := make([]EndpointLatencyResult, len(ranking))
	for i := range ranking {
		selection[i] = ranking[i].Clone()
	}
	return &Result{
		ID:         uuid.NewString(),
		Timestamp:  time.Now().UTC(),
		Client:     client,
		Server:     selected.Server,
		Ping:       selected.LatencyMs,
		Jitter:     selected.JitterMs,
		PacketLoss: selected.PacketLoss,
		Pings:      pings,
		Latency: Latency{
			Protocol: proto,
			Jitter:   selected.JitterMs,
			RTT: RTT{
				Min:    stats.Min(pings),
				Max:    stats.Max(pings),
				Mean:   stats.Mean(pings),
				Median: stats.Median(pings),
			},
			Count:   len(pings),
			Samples: append([]float64{}, pings...),
		},
		Download:        download.Clone(),
		Upload:          upload.Clone(),
		ServerSelection: selection,
	}
}
