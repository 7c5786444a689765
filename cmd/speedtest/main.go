package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/m-lab/go/flagx"
	"github.com/m-lab/go/prometheusx"
	"github.com/m-lab/go/rtx"
	"github.com/m-lab/speedtest/internal/discovery"
	"github.com/m-lab/speedtest/internal/persistence"
	"github.com/m-lab/speedtest/internal/report"
	"github.com/m-lab/speedtest/pkg/client"
	"github.com/m-lab/speedtest/pkg/latency/spec"
	"github.com/m-lab/speedtest/pkg/model"
	throughputspec "github.com/m-lab/speedtest/pkg/throughput/spec"
	"github.com/m-lab/speedtest/pkg/version"
	"golang.org/x/term"
)

const clientName = "speedtest"

var (
	flagServer      = flag.Int("server", 0, "ID of the server to test against (0 selects the best one)")
	flagServers     = flag.Int("servers", client.DefaultServers, "Number of candidate servers")
	flagList        = flag.Bool("list", false, "List nearby servers and exit")
	flagPingCount   = flag.Int("ping-count", spec.DefaultCount, "Number of latency probes per server")
	flagConcurrency = flag.Int("concurrency", 1, "Number of servers probed at the same time")
	flagStreams     = flag.Int("streams", throughputspec.DefaultStreams, "Number of parallel transfer streams")
	flagDownloadDur = flag.Duration("download-duration", throughputspec.DefaultDuration, "Length of the download test")
	flagUploadDur   = flag.Duration("upload-duration", throughputspec.DefaultDuration, "Length of the upload test")
	flagNoDownload  = flag.Bool("no-download", false, "Skip the download test")
	flagNoUpload    = flag.Bool("no-upload", false, "Skip the upload test")
	flagLoaded      = flag.Bool("loaded-latency", false, "Measure latency during the transfer tests")
	flagRepeat      = flag.Int("repeat", 1, "Run the test this many times")
	flagInterval    = flag.Duration("interval", time.Minute, "Time to wait between repeated runs")
	flagJSON        = flag.Bool("json", false, "Print the result as JSON")
	flagOutput      = flag.String("output", "", "Path to write the JSON result to")
	flagCSV         = flag.String("csv", "", "Path of a CSV file to append the result to")
	flagDataDir     = flag.String("datadir", "", "Directory to archive results in")
	flagPlan        = flag.Float64("plan", 0, "Subscribed plan speed in Mb/s, used for grading")
	flagAlertBelow  = flag.Float64("alert-below", 0, "Print an alert if the download rate is below this many Mb/s")
	flagShare       = flag.Bool("share", false, "Print a shareable text summary")
	flagHistory     = flag.Bool("history", false, "Show past results and exit")
	flagNoHistory   = flag.Bool("no-history", false, "Do not save the result to the history")
	flagNoVerify    = flag.Bool("no-verify", false, "Skip TLS certificate verification")
	flagConfig      = flag.String("config", "", "Path of the config file (default $XDG_CONFIG_HOME/speedtest/config.yaml)")
	flagDebug       = flag.Bool("debug", false, "Print debug output")
	flagPrometheus  = flag.Bool("prometheus", false, "Serve Prometheus metrics during the test")
	flagVersion     = flag.Bool("version", false, "Print the version and exit")
)

func main() {
	flag.Parse()
	rtx.Must(flagx.ArgsFromEnv(flag.CommandLine), "Could not get args from environment variables")

	log.SetReportTimestamp(true)
	log.SetLevel(log.WarnLevel)
	if *flagDebug {
		log.SetLevel(log.DebugLevel)
	}

	if *flagVersion {
		fmt.Println(clientName, version.Version)
		return
	}
	if err := run(); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}

func run() error {
	opts, err := loadOptions()
	if err != nil {
		return err
	}

	if *flagHistory {
		return printHistory(os.Stdout, opts.history, persistence.DefaultHistoryLimit)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if *flagPrometheus {
		promSrv := prometheusx.MustServeMetrics()
		defer promSrv.Close()
	}

	locator := discovery.New(discovery.Config{})
	if *flagList {
		eps, err := locator.Nearest(ctx, opts.client.Servers)
		if err != nil {
			return err
		}
		printServers(os.Stdout, eps)
		return nil
	}

	var emitter client.Emitter = client.Silent{}
	if !opts.json {
		emitter = &client.HumanReadable{
			Debug:    *flagDebug,
			Progress: term.IsTerminal(int(os.Stdout.Fd())),
		}
	}
	opts.client.Locator = locator
	opts.client.Emitter = emitter

	cl := client.New(clientName, version.Version, opts.client)
	return runAll(ctx, os.Stdout, os.Stderr, opts, func(ctx context.Context) (*model.Result, error) {
		start := time.Now()
		result, err := cl.Run(ctx)
		if err != nil {
			return nil, err
		}
		log.Debug("measurement completed", "id", result.ID, "elapsed", time.Since(start))
		return result, nil
	})
}

// runAll calls measure opts.repeat times, handing every result to finish and
// waiting opts.interval between runs. The wait ends early if ctx is done.
func runAll(ctx context.Context, stdout, stderr io.Writer, opts *options,
	measure func(context.Context) (*model.Result, error)) error {
	human := stdout
	if opts.json {
		human = stderr
	}
	for i := 0; i < opts.repeat; i++ {
		if opts.repeat > 1 {
			fmt.Fprintf(human, "\n--- Run %d/%d ---\n", i+1, opts.repeat)
		}
		result, err := measure(ctx)
		if err != nil {
			return err
		}
		if err := finish(stdout, stderr, result, opts); err != nil {
			return err
		}
		if i == opts.repeat-1 {
			break
		}
		fmt.Fprintf(human, "Next run in %v...\n", opts.interval)
		timer := time.NewTimer(opts.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return nil
}

// finish handles everything that happens after a successful run: output
// files, comparisons, grading, alerts and history.
func finish(stdout, stderr io.Writer, result *model.Result, opts *options) error {
	// In JSON mode stdout carries only the JSON document.
	human := stdout
	if opts.json {
		b, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(stdout, string(b))
		human = stderr
	}
	if opts.output != "" {
		if err := persistence.WriteJSON(opts.output, result); err != nil {
			return fmt.Errorf("cannot write result: %w", err)
		}
		fmt.Fprintf(human, "Results saved to: %s\n", opts.output)
	}
	if opts.csv != "" {
		if err := persistence.AppendCSV(opts.csv, result); err != nil {
			return fmt.Errorf("cannot append CSV row: %w", err)
		}
		fmt.Fprintf(human, "CSV row appended to: %s\n", opts.csv)
	}
	if opts.datadir != "" {
		df, err := persistence.WriteDataFile(opts.datadir, clientName, "result", result.ID, result)
		if err != nil {
			return fmt.Errorf("cannot archive result: %w", err)
		}
		log.Debug("result archived", "path", df.Path, "size", df.Size)
	}

	if !opts.json {
		previous, err := opts.history.Last()
		if err != nil {
			log.Warn("cannot read history", "error", err)
		}
		printComparison(stdout, result, previous)
		printGrades(stdout, result, opts.plan)
	}
	if opts.share {
		fmt.Fprintln(human)
		fmt.Fprintln(human, report.ShareText(result))
	}
	if !opts.client.SkipDownload {
		printAlert(stderr, result, opts.alertBelow)
	}

	// The history is written last so the comparison above uses the
	// previous run.
	if opts.saveHistory {
		if err := opts.history.Append(result); err != nil {
			log.Warn("cannot save result to history", "error", err)
		}
	}
	return nil
}
