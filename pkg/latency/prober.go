// Package latency measures round-trip latency to measurement servers over
// a persistent WebSocket connection and ranks servers by it.
package latency

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
	"github.com/m-lab/speedtest/internal/metrics"
	"github.com/m-lab/speedtest/internal/netx"
	"github.com/m-lab/speedtest/pkg/latency/spec"
	"github.com/m-lab/speedtest/pkg/model"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrConnectTimeout is recorded when the connection is not
	// established within the connect timeout.
	ErrConnectTimeout = errors.New("connect timed out")
	// ErrConnectFailed is recorded when the transport refuses the
	// connection.
	ErrConnectFailed = errors.New("connect failed")
)

// Prober runs the latency test against one or more endpoints.
type Prober struct {
	// Count is the number of probe slots per endpoint.
	Count int

	// ConnectTimeout bounds the connection phase.
	ConnectTimeout time.Duration
	// ProbeTimeout bounds every single round trip.
	ProbeTimeout time.Duration
	// HandshakeWindow bounds the handshake phase.
	HandshakeWindow time.Duration
	// HandshakeMessageTimeout bounds the wait for each handshake message.
	HandshakeMessageTimeout time.Duration

	// Header is sent with the WebSocket upgrade request.
	Header http.Header

	// OnSample, if set, is called after each probe.
	OnSample func(ep model.Endpoint, s model.PingSample)

	dialer *websocket.Dialer
}

// NewProber returns a Prober with default timeouts. noVerify disables TLS
// certificate verification.
func NewProber(count int, userAgent string, noVerify bool) *Prober {
	h := http.Header{}
	h.Set("User-Agent", userAgent)
	h.Set("Origin", "https://www.speedtest.net")
	d := &netx.Dialer{Timeout: spec.ConnectTimeout}
	return &Prober{
		Count:                   ClampCount(count),
		ConnectTimeout:          spec.ConnectTimeout,
		ProbeTimeout:            spec.ProbeTimeout,
		HandshakeWindow:         spec.HandshakeWindow,
		HandshakeMessageTimeout: spec.HandshakeMessageTimeout,
		Header:                  h,
		dialer: &websocket.Dialer{
			HandshakeTimeout: spec.ConnectTimeout,
			NetDialContext:   d.DialContext,
			TLSClientConfig:  &tls.Config{InsecureSkipVerify: noVerify},
			ReadBufferSize:   spec.MaxMessageSize,
			WriteBufferSize:  spec.MaxMessageSize,
		},
	}
}

// ClampCount returns count clamped to the allowed number of probes. Zero
// means the default.
func ClampCount(count int) int {
	switch {
	case count == 0:
		return spec.DefaultCount
	case count < spec.MinCount:
		return spec.MinCount
	case count > spec.MaxCount:
		return spec.MaxCount
	}
	return count
}

// connect opens the probe connection to ep. Failures are classified as
// connect timeouts or connect errors.
func (p *Prober) connect(ctx context.Context, ep model.Endpoint) (*Protocol, model.FailureReason, error) {
	dialCtx, cancel := context.WithTimeout(ctx, p.ConnectTimeout)
	defer cancel()
	conn, _, err := p.dialer.DialContext(dialCtx, ep.ProbeURL(), p.Header)
	if err == nil {
		return New(conn), model.ReasonNone, nil
	}
	if ctx.Err() != nil {
		return nil, model.ReasonCanceled, ctx.Err()
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return nil, model.ReasonConnectTimeout, fmt.Errorf("%w: %v", ErrConnectTimeout, err)
	}
	return nil, model.ReasonConnectError, fmt.Errorf("%w: %v", ErrConnectFailed, err)
}

// ping sends a probe and reports it to metrics and OnSample.
func (p *Prober) ping(ctx context.Context, proto *Protocol, ep model.Endpoint) model.PingSample {
	s := proto.Ping(ctx, p.ProbeTimeout)
	if s.Success {
		metrics.ProbesTotal.WithLabelValues("success").Inc()
		metrics.ProbeRTT.Observe(s.LatencyMs / 1000)
	} else {
		metrics.ProbesTotal.WithLabelValues(string(s.Reason)).Inc()
	}
	if p.OnSample != nil {
		p.OnSample(ep, s)
	}
	return s
}

// TestEndpoint runs the full latency test against ep: connect, drain the
// handshake, then send Count probes one at a time. A failed probe is
// retried once; two consecutive failures end probing with the samples
// collected so far. The returned result is always finalized.
func (p *Prober) TestEndpoint(ctx context.Context, ep model.Endpoint) model.EndpointLatencyResult {
	res := model.NewEndpointLatencyResult(ep)
	p.run(ctx, ep, res)
	res.Finalize()

	state := spec.StateFailed
	if res.Success {
		state = spec.StateSuccess
	}
	metrics.EndpointsTotal.WithLabelValues(string(state)).Inc()
	log.Debug("latency test done", "server", ep.Addr(), "state", state,
		"latency", res.LatencyMs, "loss", res.PacketLoss, "reason", res.Reason)
	return *res
}

func (p *Prober) run(ctx context.Context, ep model.Endpoint, res *model.EndpointLatencyResult) {
	log.Debug("latency test", "server", ep.Addr(), "state", spec.StateConnecting)
	proto, reason, err := p.connect(ctx, ep)
	if err != nil {
		res.Fail(reason, err)
		return
	}
	defer proto.Close()

	log.Debug("latency test", "server", ep.Addr(), "state", spec.StateHandshaking)
	id := proto.Handshake(ctx, p.HandshakeWindow, p.HandshakeMessageTimeout)
	res.ServerVersion = id.Version
	res.ExternalIP = id.ExternalIP
	res.Capabilities = id.Capabilities

	log.Debug("latency test", "server", ep.Addr(), "state", spec.StateProbing,
		"version", id.Version, "ip", id.ExternalIP)
	for slot := 0; slot < p.Count; slot++ {
		s := p.ping(ctx, proto, ep)
		res.Add(s)
		if s.Success {
			continue
		}
		if ctx.Err() != nil {
			res.Fail(model.ReasonCanceled, ctx.Err())
			return
		}
		s = p.ping(ctx, proto, ep)
		res.Add(s)
		if !s.Success {
			log.Debug("two consecutive probe failures", "server", ep.Addr(),
				"slot", slot, "error", s.Error)
			return
		}
	}
}

// TestEndpoints tests every endpoint and returns the ranked results. When
// concurrency is greater than one, up to min(concurrency, MaxConcurrency)
// endpoints are tested at the same time. The ranking does not depend on
// concurrency.
func (p *Prober) TestEndpoints(ctx context.Context, eps []model.Endpoint,
	concurrency int) []model.EndpointLatencyResult {
	results := make([]model.EndpointLatencyResult, len(eps))
	if concurrency <= 1 {
		for i, ep := range eps {
			results[i] = p.TestEndpoint(ctx, ep)
		}
		return Rank(results)
	}
	if concurrency > spec.MaxConcurrency {
		concurrency = spec.MaxConcurrency
	}
	g := &errgroup.Group{}
	g.SetLimit(concurrency)
	for i, ep := range eps {
		i, ep := i, ep
		g.Go(func() error {
			results[i] = p.TestEndpoint(ctx, ep)
			return nil
		})
	}
	// Per-endpoint failures are data, so Wait never returns an error.
	g.Wait()
	return Rank(results)
}
