package latency

import (
	"context"

	"github.com/charmbracelet/log"
	"github.com/m-lab/go/memoryless"
	"github.com/m-lab/go/rtx"
	"github.com/m-lab/speedtest/pkg/latency/spec"
	"github.com/m-lab/speedtest/pkg/model"
	"github.com/m-lab/speedtest/pkg/stats"
)

// LoadedProber measures latency while a transfer is running. Probes are
// sent at randomized intervals on a dedicated connection until the
// context is done.
type LoadedProber struct {
	Prober *Prober
}

// Measure probes ep until ctx is done and summarizes the successful
// samples. It is best effort: if the connection cannot be established the
// summary is empty.
func (lp *LoadedProber) Measure(ctx context.Context, ep model.Endpoint) stats.Summary {
	proto, _, err := lp.Prober.connect(ctx, ep)
	if err != nil {
		log.Debug("loaded latency: cannot connect", "server", ep.Addr(), "error", err)
		return stats.Summarize(nil)
	}
	defer proto.Close()

	t, err := memoryless.NewTicker(ctx, memoryless.Config{
		Expected: spec.AvgLoadedInterval,
		Min:      spec.MinLoadedInterval,
		Max:      spec.MaxLoadedInterval,
	})
	rtx.Must(err, "invalid configuration for memoryless.Ticker")

	samples := []float64{}
	for {
		select {
		case <-ctx.Done():
			return stats.Summarize(samples)
		case <-t.C:
			s := proto.Ping(ctx, lp.Prober.ProbeTimeout)
			if s.Success {
				samples = append(samples, s.LatencyMs)
			}
		}
	}
}
