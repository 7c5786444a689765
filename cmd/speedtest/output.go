package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/m-lab/speedtest/internal/persistence"
	"github.com/m-lab/speedtest/internal/report"
	"github.com/m-lab/speedtest/pkg/model"
)

func printServers(w io.Writer, eps []model.Endpoint) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSPONSOR\tNAME\tCOUNTRY\tDISTANCE\tHOST")
	for _, ep := range eps {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%.0f km\t%s\n", ep.ID, ep.Sponsor, ep.Name,
			ep.CC, ep.Distance, ep.Addr())
	}
	tw.Flush()
}

func printHistory(w io.Writer, h *persistence.History, limit int) error {
	entries, err := h.Load(limit)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(w, "No history found. Run a test first.")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "WHEN\tSERVER\tPING\tDOWNLOAD\tUPLOAD")
	var pings, downloads, uploads []float64
	for _, e := range entries {
		name := e.Server.Name
		if e.Server.Sponsor != "" {
			name += " (" + e.Server.Sponsor + ")"
		}
		fmt.Fprintf(tw, "%s\t%s\t%.1f ms\t%.2f Mb/s\t%.2f Mb/s\n",
			humanize.Time(e.Timestamp), name, e.Ping, e.Download.SpeedMbps, e.Upload.SpeedMbps)
		pings = append(pings, e.Ping)
		downloads = append(downloads, e.Download.SpeedMbps)
		uploads = append(uploads, e.Upload.SpeedMbps)
	}
	tw.Flush()

	if len(entries) > 1 {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Ping      %s\n", report.Sparkline(pings))
		fmt.Fprintf(w, "Download  %s\n", report.Sparkline(downloads))
		fmt.Fprintf(w, "Upload    %s\n", report.Sparkline(uploads))
	}

	hours := report.ByHour(entries)
	if len(hours) < 2 {
		return nil
	}
	fmt.Fprintln(w)
	tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "HOUR\tTESTS\tDOWNLOAD\tUPLOAD\tPING")
	for _, s := range hours {
		fmt.Fprintf(tw, "%02d:00\t%d\t%.2f Mb/s\t%.2f Mb/s\t%.1f ms\n", s.Hour, s.Tests,
			s.AvgDownload, s.AvgUpload, s.AvgPing)
	}
	return tw.Flush()
}

func printComparison(w io.Writer, current, previous *model.Result) {
	if d := report.Compare(current, previous); d != nil {
		fmt.Fprintf(w, "  vs last: %s\n", d)
	}
}

func printGrades(w io.Writer, r *model.Result, plan float64) {
	if plan <= 0 {
		return
	}
	fmt.Fprintf(w, "\nPlan: %.0f Mb/s\n", plan)
	fmt.Fprintf(w, "  Download: %s\n", report.GradeSpeed(r.Download.SpeedMbps, plan))
	fmt.Fprintf(w, "  Upload:   %s\n", report.GradeSpeed(r.Upload.SpeedMbps, plan))
}

func printAlert(w io.Writer, r *model.Result, threshold float64) {
	if threshold > 0 && r.Download.SpeedMbps < threshold {
		fmt.Fprintf(w, "ALERT: Download speed %.2f Mb/s is below threshold %.0f Mb/s\n",
			r.Download.SpeedMbps, threshold)
	}
}
