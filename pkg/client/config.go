package client

import (
	"time"
)

// Config is the configuration for a Client.
type Config struct {
	// ServerID restricts the test to the server with this ID. If zero, every
	// server returned by the Locator is probed and the best one is used.
	ServerID int

	// Servers is the number of candidate servers requested from the Locator.
	Servers int

	// PingCount is the number of latency probes per server.
	PingCount int

	// Concurrency is the number of servers probed at the same time. Values
	// <= 1 probe servers sequentially.
	Concurrency int

	// Streams is the number of parallel streams used by the download and
	// upload tests.
	Streams int

	// DownloadDuration is the length of the download test.
	DownloadDuration time.Duration

	// UploadDuration is the length of the upload test.
	UploadDuration time.Duration

	// SkipDownload disables the download test.
	SkipDownload bool

	// SkipUpload disables the upload test.
	SkipUpload bool

	// LoadedLatency enables latency probing during the transfer tests.
	LoadedLatency bool

	// Locator is used to get the list of candidate servers. If nil, the
	// speedtest.net server list is used.
	Locator Locator

	// Emitter is the interface used to emit the results of the test. It can
	// be overridden to provide a custom output. If nil, nothing is emitted.
	Emitter Emitter

	// NoVerify disables the TLS certificate verification.
	NoVerify bool
}
