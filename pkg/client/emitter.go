package client

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/m-lab/speedtest/pkg/model"
	"github.com/m-lab/speedtest/pkg/throughput/spec"
)

// Emitter is an interface for emitting results.
type Emitter interface {
	// OnStart is called when the latency test starts.
	OnStart(candidates int)
	// OnLatency is called for each server after the latency test.
	OnLatency(r model.EndpointLatencyResult)
	// OnSelected is called when the server for the transfer tests is chosen.
	OnSelected(r model.EndpointLatencyResult)
	// OnProgress is called periodically during transfer tests.
	OnProgress(kind spec.SubtestKind, fraction, mbps float64)
	// OnThroughput is called when a transfer test completes.
	OnThroughput(r model.ThroughputResult)
	// OnError is called on errors.
	OnError(err error)
	// OnDebug is called to print debug information.
	OnDebug(msg string)
	// OnSummary is called to print summary information.
	OnSummary(r *model.Result)
}

// HumanReadable prints human-readable output to stdout.
// It can be configured to include debug output, too.
type HumanReadable struct {
	Debug bool
	// Progress enables the live progress line. It should only be set when
	// stdout is a terminal.
	Progress bool
}

// OnStart prints the number of candidate servers.
func (HumanReadable) OnStart(candidates int) {
	fmt.Printf("Testing latency to %d servers\n", candidates)
}

// OnLatency prints one server's latency result.
func (e HumanReadable) OnLatency(r model.EndpointLatencyResult) {
	if !e.Debug {
		return
	}
	if !r.Success {
		fmt.Printf("  %-40s failed (%s)\n", serverName(r.Server), r.Reason)
		return
	}
	fmt.Printf("  %-40s %7.2f ms\n", serverName(r.Server), r.LatencyMs)
}

// OnSelected prints the selected server.
func (HumanReadable) OnSelected(r model.EndpointLatencyResult) {
	fmt.Printf("Server: %s (%s, %.0f km)\n", serverName(r.Server), r.Server.Addr(),
		r.Server.Distance)
	fmt.Printf("Ping: %.2f ms, jitter: %.2f ms, loss: %.1f%%\n", r.LatencyMs, r.JitterMs,
		r.PacketLoss)
}

// OnProgress prints the current rate on a single, rewritten line.
func (e HumanReadable) OnProgress(kind spec.SubtestKind, fraction, mbps float64) {
	if !e.Progress {
		return
	}
	fmt.Printf("\r%s: %3.0f%% %10.2f Mb/s", kind, fraction*100, mbps)
}

// OnThroughput prints the final rate of a transfer test.
func (e HumanReadable) OnThroughput(r model.ThroughputResult) {
	if e.Progress {
		fmt.Print("\r")
	}
	fmt.Printf("%s rate: %.2f Mb/s (%s in %.1fs, %d streams)\n", r.Direction, r.SpeedMbps,
		humanize.Bytes(uint64(r.Bytes)), r.DurationMs/1000, r.Streams)
	if r.LoadedLatency.Count > 0 {
		fmt.Printf("  loaded latency: %.2f ms median, %.2f ms p95\n",
			r.LoadedLatency.Median, r.LoadedLatency.P95)
	}
}

// OnError is called on errors.
func (HumanReadable) OnError(err error) {
	fmt.Println(err)
}

// OnSummary prints the final summary.
func (HumanReadable) OnSummary(r *model.Result) {
	fmt.Println()
	fmt.Printf("Test results:\n")
	fmt.Printf("  server:   %s\n", serverName(r.Server))
	if r.Client.ISP != "" {
		fmt.Printf("  isp:      %s (%s)\n", r.Client.ISP, r.Client.IP)
	}
	fmt.Printf("  ping:     %.2f ms (jitter %.2f ms)\n", r.Ping, r.Jitter)
	fmt.Printf("  download: %.2f Mb/s\n", r.Download.SpeedMbps)
	fmt.Printf("  upload:   %.2f Mb/s\n", r.Upload.SpeedMbps)
}

// OnDebug is called to print debug information.
func (e HumanReadable) OnDebug(msg string) {
	if e.Debug {
		fmt.Printf("DEBUG: %s\n", msg)
	}
}

func serverName(ep model.Endpoint) string {
	if ep.Sponsor == "" {
		return ep.Name
	}
	return ep.Sponsor + " - " + ep.Name
}

// Silent discards everything.
type Silent struct{}

func (Silent) OnStart(int)                                   {}
func (Silent) OnLatency(model.EndpointLatencyResult)         {}
func (Silent) OnSelected(model.EndpointLatencyResult)        {}
func (Silent) OnProgress(spec.SubtestKind, float64, float64) {}
func (Silent) OnThroughput(model.ThroughputResult)           {}
func (Silent) OnError(error)                                 {}
func (Silent) OnDebug(string)                                {}
func (Silent) OnSummary(*model.Result)                       {}

// Checks that HumanReadable and Silent implement Emitter.
var (
	_ Emitter = &HumanReadable{}
	_ Emitter = Silent{}
)
