package model

import (
	"net"
	"net/url"
	"strconv"

	latencyspec "github.com/m-lab/speedtest/pkg/latency/spec"
	"github.com/m-lab/speedtest/pkg/throughput/spec"
)

// DefaultPort is the port used when a server does not advertise one.
const DefaultPort = 8080

// Endpoint is a measurement server candidate. Endpoints are immutable and
// passed by value.
type Endpoint struct {
	// ID is the numeric identifier of this server.
	ID int
	// Name is the display name, usually the city.
	Name string
	// Sponsor is the organization running the server.
	Sponsor string
	// Host is the server's hostname, without port.
	Host string
	// Port is the server's TCP port.
	Port int
	// Country is the country name.
	Country string
	// CC is the ISO country code.
	CC string
	// Lat and Lon are the server's coordinates.
	Lat float64
	Lon float64
	// Distance is the distance from the client in kilometers.
	Distance float64
	// URL is the legacy upload URL advertised by discovery, if any.
	URL string `json:",omitempty"`
	// Scheme is "https" (the default when empty) or "http".
	Scheme string `json:",omitempty"`
}

// Addr returns the host:port pair of this endpoint.
func (e Endpoint) Addr() string {
	port := e.Port
	if port == 0 {
		port = DefaultPort
	}
	return net.JoinHostPort(e.Host, strconv.Itoa(port))
}

// HTTPScheme returns the scheme used for transfer requests.
func (e Endpoint) HTTPScheme() string {
	if e.Scheme == "" {
		return "https"
	}
	return e.Scheme
}

func (e Endpoint) wsScheme() string {
	if e.HTTPScheme() == "http" {
		return "ws"
	}
	return "wss"
}

func (e Endpoint) makeURL(scheme, path string) string {
	u := url.URL{
		Scheme: scheme,
		Host:   e.Addr(),
		Path:   path,
	}
	return u.String()
}

// ProbeURL returns the WebSocket URL used for latency probing.
func (e Endpoint) ProbeURL() string {
	return e.makeURL(e.wsScheme(), latencyspec.ProbePath)
}

// DownloadURL returns the URL used by download workers.
func (e Endpoint) DownloadURL() string {
	return e.makeURL(e.HTTPScheme(), spec.DownloadPath)
}

// UploadURL returns the URL used by upload workers.
func (e Endpoint) UploadURL() string {
	return e.makeURL(e.HTTPScheme(), spec.UploadPath)
}

// TransferURL returns the download or upload URL for the given subtest.
func (e Endpoint) TransferURL(kind spec.SubtestKind) string {
	if kind == spec.SubtestUpload {
		return e.UploadURL()
	}
	return e.DownloadURL()
}
