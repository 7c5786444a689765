package main

import (
	"flag"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/m-lab/speedtest/internal/config"
	"github.com/m-lab/speedtest/internal/persistence"
	"github.com/m-lab/speedtest/pkg/client"
	"github.com/m-lab/speedtest/pkg/latency/spec"
	throughputspec "github.com/m-lab/speedtest/pkg/throughput/spec"
)

// options is the merged configuration of a run: defaults, then the config
// file, then flags that were set explicitly.
type options struct {
	client client.Config

	json        bool
	output      string
	csv         string
	datadir     string
	plan        float64
	alertBelow  float64
	share       bool
	saveHistory bool
	history     *persistence.History
	repeat      int
	interval    time.Duration
}

func optionsFromFlags() *options {
	return &options{
		client: client.Config{
			ServerID:         *flagServer,
			Servers:          *flagServers,
			PingCount:        *flagPingCount,
			Concurrency:      *flagConcurrency,
			Streams:          *flagStreams,
			DownloadDuration: *flagDownloadDur,
			UploadDuration:   *flagUploadDur,
			SkipDownload:     *flagNoDownload,
			SkipUpload:       *flagNoUpload,
			LoadedLatency:    *flagLoaded,
			NoVerify:         *flagNoVerify,
		},
		json:        *flagJSON,
		output:      *flagOutput,
		csv:         *flagCSV,
		datadir:     *flagDataDir,
		plan:        *flagPlan,
		alertBelow:  *flagAlertBelow,
		share:       *flagShare,
		saveHistory: !*flagNoHistory,
		repeat:      *flagRepeat,
		interval:    *flagInterval,
	}
}

// applyFile copies the values set in f into o, unless the corresponding
// flag was given on the command line.
func applyFile(o *options, f *config.File, set map[string]bool) {
	if f.Server > 0 && !set["server"] {
		o.client.ServerID = f.Server
	}
	if f.Plan > 0 && !set["plan"] {
		o.plan = f.Plan
	}
	if f.Connections > 0 && !set["streams"] {
		o.client.Streams = f.Connections
	}
	if f.PingCount > 0 && !set["ping-count"] {
		o.client.PingCount = f.PingCount
	}
	if f.DownloadDuration > 0 && !set["download-duration"] {
		o.client.DownloadDuration = config.Seconds(f.DownloadDuration)
	}
	if f.UploadDuration > 0 && !set["upload-duration"] {
		o.client.UploadDuration = config.Seconds(f.UploadDuration)
	}
	if f.AlertBelow > 0 && !set["alert-below"] {
		o.alertBelow = f.AlertBelow
	}
	if f.CSVFile != "" && !set["csv"] {
		o.csv = f.CSVFile
	}
}

// validate rejects values out of range instead of silently clamping them.
func validate(o *options) error {
	c := o.client
	switch {
	case c.ServerID < 0:
		return fmt.Errorf("invalid server ID: %d", c.ServerID)
	case c.Servers < 1:
		return fmt.Errorf("servers must be at least 1, got %d", c.Servers)
	case c.PingCount < spec.MinCount || c.PingCount > spec.MaxCount:
		return fmt.Errorf("ping count must be between %d and %d, got %d",
			spec.MinCount, spec.MaxCount, c.PingCount)
	case c.Streams < throughputspec.MinStreams || c.Streams > throughputspec.MaxStreams:
		return fmt.Errorf("streams must be between %d and %d, got %d",
			throughputspec.MinStreams, throughputspec.MaxStreams, c.Streams)
	case c.DownloadDuration < throughputspec.MinDuration || c.DownloadDuration > throughputspec.MaxDuration:
		return fmt.Errorf("download duration must be between %v and %v, got %v",
			throughputspec.MinDuration, throughputspec.MaxDuration, c.DownloadDuration)
	case c.UploadDuration < throughputspec.MinDuration || c.UploadDuration > throughputspec.MaxDuration:
		return fmt.Errorf("upload duration must be between %v and %v, got %v",
			throughputspec.MinDuration, throughputspec.MaxDuration, c.UploadDuration)
	case o.plan < 0:
		return fmt.Errorf("plan must be positive, got %v", o.plan)
	case o.alertBelow < 0:
		return fmt.Errorf("alert threshold must be positive, got %v", o.alertBelow)
	case o.repeat < 1:
		return fmt.Errorf("repeat must be at least 1, got %d", o.repeat)
	case o.interval < 0:
		return fmt.Errorf("interval must not be negative, got %v", o.interval)
	}
	return nil
}

// loadOptions builds the options of this run from the command line and
// the config file.
func loadOptions() (*options, error) {
	set := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })

	o := optionsFromFlags()
	path := *flagConfig
	if path == "" {
		var err error
		if path, err = config.DefaultPath(); err != nil {
			log.Warn("cannot find config directory", "error", err)
		}
	}
	if path != "" {
		f, err := config.Load(path)
		if err != nil {
			// A broken config file must not prevent measurements.
			log.Warn("ignoring config file", "path", path, "error", err)
		} else {
			applyFile(o, f, set)
		}
	}

	historyPath, err := persistence.DefaultHistoryPath()
	if err != nil {
		return nil, fmt.Errorf("cannot find history file: %w", err)
	}
	o.history = persistence.NewHistory(historyPath)
	if err := validate(o); err != nil {
		return nil, err
	}
	return o, nil
}
