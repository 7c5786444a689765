// Package spec contains constants for the latency probing protocol.
package spec

import "time"

const (
	// ProbePath is the path of the WebSocket probe endpoint on a server.
	ProbePath = "/ws"

	// DefaultCount is the default number of probe slots per endpoint.
	DefaultCount = 10
	// MinCount is the minimum number of probe slots per endpoint.
	MinCount = 1
	// MaxCount is the maximum number of probe slots per endpoint.
	MaxCount = 100

	// ConnectTimeout bounds the WebSocket dial, TLS and upgrade included.
	ConnectTimeout = 5 * time.Second

	// ProbeTimeout bounds a single PING/PONG round trip.
	ProbeTimeout = 5 * time.Second

	// HandshakeWindow bounds the time spent reading identification
	// messages after connecting.
	HandshakeWindow = 2 * time.Second

	// HandshakeMessageTimeout bounds the wait for each identification
	// message.
	HandshakeMessageTimeout = 500 * time.Millisecond

	// HandshakeMessages is the number of identification messages a server
	// normally sends (HELLO, YOURIP, CAPABILITIES).
	HandshakeMessages = 3

	// MaxConcurrency is the upper bound on concurrently probed endpoints.
	MaxConcurrency = 10

	// MaxMessageSize is the largest text message accepted from a server.
	MaxMessageSize = 1 << 12

	// MinLoadedInterval is the minimum interval between loaded-latency
	// probes.
	MinLoadedInterval = 100 * time.Millisecond
	// AvgLoadedInterval is the average interval between loaded-latency
	// probes.
	AvgLoadedInterval = 250 * time.Millisecond
	// MaxLoadedInterval is the maximum interval between loaded-latency
	// probes.
	MaxLoadedInterval = 500 * time.Millisecond
)

// Message tags used on the wire.
const (
	TagPing         = "PING"
	TagPong         = "PONG"
	TagHello        = "HELLO"
	TagYourIP       = "YOURIP"
	TagCapabilities = "CAPABILITIES"
)

// State is the state of a per-endpoint probing session.
type State string

const (
	StateConnecting  = State("connecting")
	StateHandshaking = State("handshaking")
	StateProbing     = State("probing")
	StateSuccess     = State("success")
	StateFailed      = State("failed")
)
