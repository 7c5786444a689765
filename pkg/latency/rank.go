package latency

import (
	"errors"
	"sort"

	"github.com/m-lab/speedtest/pkg/model"
)

// ErrNoEndpoint is returned when no endpoint answered any probe.
var ErrNoEndpoint = errors.New("no usable endpoint")

// Rank returns a deep copy of results with successes first, ordered by
// ascending latency, followed by failures in their original order. The
// sort is stable, so equal latencies keep their input order.
func Rank(results []model.EndpointLatencyResult) []model.EndpointLatencyResult {
	ranked := make([]model.EndpointLatencyResult, len(results))
	for i := range results {
		ranked[i] = results[i].Clone()
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.Success != b.Success {
			return a.Success
		}
		if !a.Success {
			return false
		}
		return a.LatencyMs < b.LatencyMs
	})
	return ranked
}

// Select returns the best endpoint's result from a list of results. It
// returns ErrNoEndpoint if no result is successful.
func Select(results []model.EndpointLatencyResult) (model.EndpointLatencyResult, error) {
	ranked := Rank(results)
	if len(ranked) == 0 || !ranked[0].Success {
		return model.EndpointLatencyResult{}, ErrNoEndpoint
	}
	return ranked[0], nil
}
