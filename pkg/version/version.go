// Package version holds the library version reported in the User-Agent.
package version

// Version is the library version. It can be overridden at build time with
// -ldflags "-X github.com/m-lab/speedtest/pkg/version.Version=...".
var Version = "v0.3.0"
