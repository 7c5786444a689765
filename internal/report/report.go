// Package report contains helpers that interpret results for the user:
// grades against a plan, comparisons and history summaries.
package report

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/m-lab/speedtest/pkg/model"
	"github.com/m-lab/speedtest/pkg/stats"
)

// ProjectURL is appended to shared results.
const ProjectURL = "https://github.com/m-lab/speedtest"

// Grade is a letter grade of a measured rate against a plan.
type Grade struct {
	Letter string
	// Fraction is measured / plan.
	Fraction float64
}

var thresholds = []struct {
	min    float64
	letter string
}{
	{0.95, "A+"},
	{0.85, "A"},
	{0.75, "B"},
	{0.60, "C"},
	{0.40, "D"},
}

// GradeSpeed grades measuredMbps against planMbps. A plan <= 0 yields the
// letter "?".
func GradeSpeed(measuredMbps, planMbps float64) Grade {
	if planMbps <= 0 {
		return Grade{Letter: "?"}
	}
	frac := measuredMbps / planMbps
	for _, t := range thresholds {
		if frac >= t.min {
			return Grade{Letter: t.letter, Fraction: frac}
		}
	}
	return Grade{Letter: "F", Fraction: frac}
}

func (g Grade) String() string {
	if g.Letter == "?" {
		return g.Letter
	}
	return fmt.Sprintf("%s (%.0f%% of plan)", g.Letter, g.Fraction*100)
}

// Delta is the difference between two results. Positive values mean the
// current value is larger.
type Delta struct {
	Ping     float64
	Download float64
	Upload   float64

	Previous *model.Result
}

// Compare returns current minus previous. It returns nil if previous is nil.
func Compare(current, previous *model.Result) *Delta {
	if current == nil || previous == nil {
		return nil
	}
	return &Delta{
		Ping:     current.Ping - previous.Ping,
		Download: current.Download.SpeedMbps - previous.Download.SpeedMbps,
		Upload:   current.Upload.SpeedMbps - previous.Upload.SpeedMbps,
		Previous: previous,
	}
}

// FormatDelta formats v with a sign and unit, or "(same)" when it is
// negligible.
func FormatDelta(v float64, unit string) string {
	if math.Abs(v) < 0.01 {
		return "(same)"
	}
	sign := ""
	if v > 0 {
		sign = "+"
	}
	return fmt.Sprintf("%s%.1f %s", sign, v, unit)
}

func (d *Delta) String() string {
	return fmt.Sprintf("Ping %s  DL %s  UL %s", FormatDelta(d.Ping, "ms"),
		FormatDelta(d.Download, "Mbps"), FormatDelta(d.Upload, "Mbps"))
}

// ShareText returns a plain-text block suitable for sharing.
func ShareText(r *model.Result) string {
	lines := []string{
		"Speedtest Results",
		fmt.Sprintf("Server: %s (%s)", r.Server.Name, r.Server.Sponsor),
		fmt.Sprintf("Ping: %.1f ms (jitter: %.2f ms)", r.Ping, r.Jitter),
	}
	if r.PacketLoss > 0 {
		lines = append(lines, fmt.Sprintf("Packet Loss: %.1f%%", r.PacketLoss))
	}
	lines = append(lines,
		fmt.Sprintf("Download: %.2f Mbps", r.Download.SpeedMbps),
		fmt.Sprintf("Upload: %.2f Mbps", r.Upload.SpeedMbps),
		ProjectURL,
	)
	return strings.Join(lines, "\n")
}

const sparkBars = "▁▂▃▄▅▆▇█"

// Sparkline renders values as a single line of block characters.
func Sparkline(values []float64) string {
	if len(values) == 0 {
		return ""
	}
	bars := []rune(sparkBars)
	lo, hi := stats.Min(values), stats.Max(values)
	span := hi - lo
	if span <= 0 {
		span = 1
	}
	var b strings.Builder
	for _, v := range values {
		i := int((v - lo) / span * float64(len(bars)-1))
		b.WriteRune(bars[min(i, len(bars)-1)])
	}
	return b.String()
}

// HourlySummary is the average of all results taken during one hour of
// the day.
type HourlySummary struct {
	Hour        int
	Tests       int
	AvgDownload float64
	AvgUpload   float64
	AvgPing     float64
}

// ByHour groups results by the local hour of their timestamp. Zero values
// are not averaged. Results without a timestamp are skipped.
func ByHour(entries []model.Result) []HourlySummary {
	type bucket struct{ download, upload, ping []float64 }
	buckets := map[int]*bucket{}
	for _, e := range entries {
		if e.Timestamp.IsZero() {
			continue
		}
		h := e.Timestamp.Local().Hour()
		b, ok := buckets[h]
		if !ok {
			b = &bucket{}
			buckets[h] = b
		}
		if e.Download.SpeedMbps > 0 {
			b.download = append(b.download, e.Download.SpeedMbps)
		}
		if e.Upload.SpeedMbps > 0 {
			b.upload = append(b.upload, e.Upload.SpeedMbps)
		}
		if e.Ping > 0 {
			b.ping = append(b.ping, e.Ping)
		}
	}
	summaries := make([]HourlySummary, 0, len(buckets))
	for h, b := range buckets {
		summaries = append(summaries, HourlySummary{
			Hour:        h,
			Tests:       max(len(b.download), len(b.upload), len(b.ping)),
			AvgDownload: stats.Mean(b.download),
			AvgUpload:   stats.Mean(b.upload),
			AvgPing:     stats.Mean(b.ping),
		})
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].Hour < summaries[j].Hour
	})
	return summaries
}
