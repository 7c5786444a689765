package client

import (
	"context"
	"errors"
	"fmt"

	"github.com/m-lab/speedtest/internal/discovery"
	"github.com/m-lab/speedtest/pkg/latency"
	"github.com/m-lab/speedtest/pkg/model"
	"github.com/m-lab/speedtest/pkg/throughput"
	"github.com/m-lab/speedtest/pkg/throughput/spec"
	"github.com/m-lab/speedtest/pkg/version"
)

const (
	// DefaultServers is the default number of candidate servers.
	DefaultServers = 10

	libraryName = "speedtest-go"
)

var (
	// ErrNoTargets is returned if the Locator returns no servers.
	ErrNoTargets = errors.New("no targets available")

	// ErrServerNotFound is returned if the requested server ID is not among
	// the servers returned by the Locator.
	ErrServerNotFound = errors.New("server not found")

	// ErrNoEndpoint is returned if no server answered the latency test.
	ErrNoEndpoint = latency.ErrNoEndpoint

	libraryVersion = version.Version
)

// Locator is an interface used to get a list of available servers to test against.
type Locator interface {
	Nearest(ctx context.Context, limit int) ([]model.Endpoint, error)
}

// ClientInfoLocator is implemented by Locators that can also describe the
// client.
type ClientInfoLocator interface {
	ClientInfo(ctx context.Context) (model.ClientInfo, error)
}

// Client runs the full measurement: discovery, latency, server selection,
// download and upload.
type Client struct {
	// ClientName is the name of the client sent to the server as part of the user-agent.
	ClientName string
	// ClientVersion is the version of the client sent to the server as part of the user-agent.
	ClientVersion string

	config  Config
	emitter Emitter
	locator Locator
	prober  *latency.Prober
}

// makeUserAgent creates the user agent string.
func makeUserAgent(clientName, clientVersion string) string {
	return clientName + "/" + clientVersion + " " + libraryName + "/" + libraryVersion
}

// New returns a new Client with the provided client name, version and config.
// It panics if clientName or clientVersion are empty.
func New(clientName, clientVersion string, config Config) *Client {
	if clientName == "" || clientVersion == "" {
		panic("client name and version must be non-empty")
	}
	if config.Servers <= 0 {
		config.Servers = DefaultServers
	}
	config.PingCount = latency.ClampCount(config.PingCount)
	config.Streams = throughput.ClampStreams(config.Streams)
	config.DownloadDuration = throughput.ClampDuration(config.DownloadDuration)
	config.UploadDuration = throughput.ClampDuration(config.UploadDuration)

	c := &Client{
		ClientName:    clientName,
		ClientVersion: clientVersion,
		config:        config,
		emitter:       config.Emitter,
		locator:       config.Locator,
	}
	if c.emitter == nil {
		c.emitter = Silent{}
	}
	if c.locator == nil {
		c.locator = discovery.New(discovery.Config{})
	}
	c.prober = latency.NewProber(config.PingCount, c.userAgent(), config.NoVerify)
	return c
}

func (c *Client) userAgent() string {
	return makeUserAgent(c.ClientName, c.ClientVersion)
}

// Servers returns the candidate servers, restricted to config.ServerID if
// set.
func (c *Client) Servers(ctx context.Context) ([]model.Endpoint, error) {
	eps, err := c.locator.Nearest(ctx, c.config.Servers)
	if err != nil {
		return nil, fmt.Errorf("cannot get servers: %w", err)
	}
	if len(eps) == 0 {
		return nil, ErrNoTargets
	}
	if c.config.ServerID == 0 {
		return eps, nil
	}
	for _, ep := range eps {
		if ep.ID == c.config.ServerID {
			return []model.Endpoint{ep}, nil
		}
	}
	return nil, fmt.Errorf("%w: %d", ErrServerNotFound, c.config.ServerID)
}

// Latency probes every endpoint and returns the ranked results.
func (c *Client) Latency(ctx context.Context, eps []model.Endpoint) []model.EndpointLatencyResult {
	c.emitter.OnStart(len(eps))
	ranking := c.prober.TestEndpoints(ctx, eps, c.config.Concurrency)
	for _, r := range ranking {
		c.emitter.OnLatency(r)
	}
	return ranking
}

func (c *Client) throughputConfig(kind spec.SubtestKind) throughput.Config {
	cfg := throughput.Config{
		Duration:  c.config.DownloadDuration,
		Streams:   c.config.Streams,
		UserAgent: c.userAgent(),
		NoVerify:  c.config.NoVerify,
		OnProgress: func(fraction, mbps float64) {
			c.emitter.OnProgress(kind, fraction, mbps)
		},
	}
	if kind == spec.SubtestUpload {
		cfg.Duration = c.config.UploadDuration
	}
	if c.config.LoadedLatency {
		cfg.Loaded = &latency.LoadedProber{Prober: c.prober}
	}
	return cfg
}

// Download runs a download test against ep using the settings configured
// for this client.
func (c *Client) Download(ctx context.Context, ep model.Endpoint) (model.ThroughputResult, error) {
	return c.transfer(ctx, throughput.NewDownloader(c.throughputConfig(spec.SubtestDownload)), ep)
}

// Upload runs an upload test against ep using the settings configured for
// this client.
func (c *Client) Upload(ctx context.Context, ep model.Endpoint) (model.ThroughputResult, error) {
	return c.transfer(ctx, throughput.NewUploader(c.throughputConfig(spec.SubtestUpload)), ep)
}

func (c *Client) transfer(ctx context.Context, t *throughput.Tester,
	ep model.Endpoint) (model.ThroughputResult, error) {
	c.emitter.OnDebug(fmt.Sprintf("starting %s test against %s", t.Kind(), ep.Addr()))
	res, err := t.Run(ctx, ep)
	if err != nil {
		return model.ThroughputResult{}, err
	}
	c.emitter.OnThroughput(res)
	return res, nil
}

// clientInfo asks the Locator about the client, if it can. Failures are
// not fatal: the address announced by the selected server is used instead.
func (c *Client) clientInfo(ctx context.Context, selected model.EndpointLatencyResult) model.ClientInfo {
	var info model.ClientInfo
	if l, ok := c.locator.(ClientInfoLocator); ok {
		var err error
		info, err = l.ClientInfo(ctx)
		if err != nil {
			c.emitter.OnDebug(fmt.Sprintf("cannot get client info: %v", err))
		}
	}
	if info.IP == "" {
		info.IP = selected.ExternalIP
	}
	return info
}

// Run runs the full measurement and returns the complete result. It fails
// with ErrNoTargets or ErrServerNotFound if there is nothing to test,
// ErrNoEndpoint if no server answered the latency test, or the context's
// error if ctx is cancelled. There are no retries across phases.
func (c *Client) Run(ctx context.Context) (*model.Result, error) {
	eps, err := c.Servers(ctx)
	if err != nil {
		c.emitter.OnError(err)
		return nil, err
	}

	ranking := c.Latency(ctx, eps)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	selected, err := latency.Select(ranking)
	if err != nil {
		c.emitter.OnError(err)
		return nil, err
	}
	c.emitter.OnSelected(selected)

	info := c.clientInfo(ctx, selected)

	download := model.NewThroughputResult(spec.SubtestDownload)
	if !c.config.SkipDownload {
		download, err = c.Download(ctx, selected.Server)
		if err != nil {
			c.emitter.OnError(err)
			return nil, err
		}
	}
	upload := model.NewThroughputResult(spec.SubtestUpload)
	if !c.config.SkipUpload {
		upload, err = c.Upload(ctx, selected.Server)
		if err != nil {
			c.emitter.OnError(err)
			return nil, err
		}
	}

	result := model.NewResult(info, selected, ranking, download, upload)
	c.emitter.OnSummary(result)
	return result, nil
}
