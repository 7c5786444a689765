package model_test

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/m-lab/go/testingx"
	"github.com/m-lab/speedtest/pkg/model"
	"github.com/m-lab/speedtest/pkg/throughput/spec"
)

func TestEndpoint_URLs(t *testing.T) {
	tests := []struct {
		name     string
		ep       model.Endpoint
		probe    string
		download string
		upload   string
	}{
		{
			name:     "https default",
			ep:       model.Endpoint{Host: "speed.example.net", Port: 8080},
			probe:    "wss://speed.example.net:8080/ws",
			download: "https://speed.example.net:8080/download",
			upload:   "https://speed.example.net:8080/upload",
		},
		{
			name:     "missing port",
			ep:       model.Endpoint{Host: "speed.example.net"},
			probe:    "wss://speed.example.net:8080/ws",
			download: "https://speed.example.net:8080/download",
			upload:   "https://speed.example.net:8080/upload",
		},
		{
			name:     "cleartext",
			ep:       model.Endpoint{Host: "127.0.0.1", Port: 1234, Scheme: "http"},
			probe:    "ws://127.0.0.1:1234/ws",
			download: "http://127.0.0.1:1234/download",
			upload:   "http://127.0.0.1:1234/upload",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.ep.ProbeURL(); got != tt.probe {
				t.Errorf("ProbeURL() = %s, want %s", got, tt.probe)
			}
			if got := tt.ep.DownloadURL(); got != tt.download {
				t.Errorf("DownloadURL() = %s, want %s", got, tt.download)
			}
			if got := tt.ep.UploadURL(); got != tt.upload {
				t.Errorf("UploadURL() = %s, want %s", got, tt.upload)
			}
			if got := tt.ep.TransferURL(spec.SubtestUpload); got != tt.upload {
				t.Errorf("TransferURL(upload) = %s, want %s", got, tt.upload)
			}
		})
	}
}

func TestEndpointLatencyResult_Finalize(t *testing.T) {
	t.Run("two samples", func(t *testing.T) {
		r := model.NewEndpointLatencyResult(model.Endpoint{ID: 1})
		r.Add(model.PingSample{LatencyMs: 10, Success: true})
		r.Add(model.PingSample{LatencyMs: 20, Success: true})
		r.Finalize()
		if !r.Success || r.LatencyMs != 10 || r.JitterMs != 10 || r.PacketLoss != 0 {
			t.Errorf("Finalize() = %+v", r)
		}
	})

	t.Run("single sample has no jitter", func(t *testing.T) {
		r := model.NewEndpointLatencyResult(model.Endpoint{ID: 1})
		r.Add(model.PingSample{LatencyMs: 12.5, Success: true})
		r.Finalize()
		if !r.Success || r.LatencyMs != 12.5 || r.JitterMs != 0 {
			t.Errorf("Finalize() = %+v", r)
		}
	})

	t.Run("zero successes out of ten", func(t *testing.T) {
		r := model.NewEndpointLatencyResult(model.Endpoint{ID: 1})
		for i := 0; i < 10; i++ {
			r.Add(model.PingSample{Reason: model.ReasonProbeTimeout, Error: "timeout"})
		}
		r.Finalize()
		if r.Success || r.LatencyMs != 0 || r.JitterMs != 0 || r.PacketLoss != 100 {
			t.Errorf("Finalize() = %+v", r)
		}
		if r.Reason != model.ReasonProbeTimeout {
			t.Errorf("Reason = %s, want %s", r.Reason, model.ReasonProbeTimeout)
		}
	})

	t.Run("no attempts", func(t *testing.T) {
		r := model.NewEndpointLatencyResult(model.Endpoint{ID: 1})
		r.Fail(model.ReasonConnectError, errors.New("refused"))
		r.Finalize()
		if r.Success || r.Reason != model.ReasonConnectError || r.Error != "refused" ||
			r.PacketLoss != 100 {
			t.Errorf("Finalize() = %+v", r)
		}
	})

	t.Run("loss counts issued attempts", func(t *testing.T) {
		r := model.NewEndpointLatencyResult(model.Endpoint{ID: 1})
		r.Add(model.PingSample{LatencyMs: 5, Success: true})
		r.Add(model.PingSample{Reason: model.ReasonProbeTimeout})
		r.Add(model.PingSample{LatencyMs: 7, Success: true})
		r.Add(model.PingSample{Reason: model.ReasonProbeTimeout})
		r.Finalize()
		if r.PacketLoss != 50 {
			t.Errorf("PacketLoss = %v, want 50", r.PacketLoss)
		}
	})

	t.Run("finalize runs once", func(t *testing.T) {
		r := model.NewEndpointLatencyResult(model.Endpoint{ID: 1})
		r.Add(model.PingSample{LatencyMs: 5, Success: true})
		r.Finalize()
		r.Add(model.PingSample{LatencyMs: 1, Success: true})
		r.Finalize()
		if r.LatencyMs != 5 || len(r.Pings) != 1 || r.Attempts != 1 || !r.Finalized() {
			t.Errorf("result changed after Finalize: %+v", r)
		}
	})
}

func TestNewResult(t *testing.T) {
	sel := model.NewEndpointLatencyResult(model.Endpoint{ID: 7, Host: "h"})
	for _, v := range []float64{4, 1, 3, 2} {
		sel.Add(model.PingSample{LatencyMs: v, Success: true})
	}
	sel.Finalize()

	dl := model.NewThroughputResult(spec.SubtestDownload)
	dl.SpeedMbps = 100
	dl.Samples = append(dl.Samples, 90, 110)
	ranking := []model.EndpointLatencyResult{*sel}
	r := model.NewResult(model.ClientInfo{ISP: "isp"}, *sel,
		ranking, dl, model.ThroughputResult{})

	if r.Latency.RTT.Median != 2.5 {
		t.Errorf("RTT.Median = %v, want 2.5", r.Latency.RTT.Median)
	}
	if r.Latency.RTT.Min != 1 || r.Latency.RTT.Max != 4 || r.Latency.RTT.Mean != 2.5 {
		t.Errorf("RTT = %+v", r.Latency.RTT)
	}
	if r.Ping != 1 || r.Server.ID != 7 || r.Latency.Protocol != "wss" || r.ID == "" {
		t.Errorf("NewResult() = %+v", r)
	}
	if r.Upload.Direction != spec.SubtestUpload || r.Upload.Samples == nil {
		t.Errorf("missing upload must be an empty record, got %+v", r.Upload)
	}

	// Results must not share memory with their inputs.
	sel.Pings[0] = 1000
	if r.Pings[0] == 1000 {
		t.Errorf("Result aliases the input pings")
	}
	ranking[0].Pings[1] = 1000
	if r.ServerSelection[0].Pings[1] == 1000 {
		t.Errorf("ServerSelection aliases the ranking pings")
	}
	dl.Samples[0] = 1000
	if r.Download.Samples[0] == 1000 {
		t.Errorf("Download aliases the input samples")
	}

	// All fields are always present, slices are never null.
	b, err := json.Marshal(r)
	testingx.Must(t, err, "cannot marshal result")
	if strings.Contains(string(b), "null") {
		t.Errorf("serialized result contains null: %s", b)
	}
}
