// Package spec contains constants for the download and upload tests.
package spec

import "time"

const (
	// DownloadPath is the path of the download endpoint on a server.
	DownloadPath = "/download"
	// UploadPath is the path of the upload endpoint on a server.
	UploadPath = "/upload"

	// DefaultStreams is the default number of parallel transfer workers.
	DefaultStreams = 4
	// MinStreams is the minimum number of parallel transfer workers.
	MinStreams = 1
	// MaxStreams is the maximum number of parallel transfer workers.
	MaxStreams = 32

	// DefaultDuration is the default length of a subtest.
	DefaultDuration = 10 * time.Second
	// MinDuration is the minimum length of a subtest.
	MinDuration = 1 * time.Second
	// MaxDuration is the maximum length of a subtest.
	MaxDuration = 300 * time.Second

	// Warmup is the initial part of a subtest excluded from the final
	// statistics.
	Warmup = 2 * time.Second

	// SampleInterval is the interval between throughput samples.
	SampleInterval = 250 * time.Millisecond

	// MinSampleElapsed is the minimum time between two accepted samples.
	// Ticks closer than this are discarded.
	MinSampleElapsed = 50 * time.Millisecond

	// MaxPlausibleMbps is the ceiling above which a sample is discarded.
	MaxPlausibleMbps = 20000.0

	// SmoothingFactor is the weight of the newest sample in the
	// exponential moving average reported as progress.
	SmoothingFactor = 0.25

	// Grace bounds the wait for workers to unwind after the deadline.
	Grace = 2 * time.Second

	// ChunkSize is the size of a single read or write.
	ChunkSize = 256 << 10

	// UploadBufferSize is the size of the random buffer cycled through by
	// upload bodies.
	UploadBufferSize = 1 << 20

	// DownloadRequestSize is the payload size asked of the server per
	// download request.
	DownloadRequestSize = 50_000_000

	// DownloadBackoff is the pause before a download worker retries.
	DownloadBackoff = 200 * time.Millisecond
	// UploadBackoff is the pause before an upload worker retries.
	UploadBackoff = 100 * time.Millisecond

	// DialTimeout bounds TCP connection establishment.
	DialTimeout = 5 * time.Second
	// ResponseHeaderTimeout bounds the wait for response headers.
	ResponseHeaderTimeout = 5 * time.Second
)

// SubtestKind indicates the subtest kind
type SubtestKind string

const (
	// SubtestDownload is a download subtest
	SubtestDownload = SubtestKind("download")

	// SubtestUpload is a upload subtest
	SubtestUpload = SubtestKind("upload")
)

// Method is how the final rate of a subtest was computed.
type Method string

const (
	// MethodIQM means the rate is the interquartile mean of the samples.
	MethodIQM = Method("iqm")
	// MethodAverage means the rate is total bytes over total duration.
	MethodAverage = Method("average")
)
