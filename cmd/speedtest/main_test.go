package main

import (
	"bytes"
	"context"
	"errors"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/m-lab/go/testingx"
	"github.com/m-lab/speedtest/internal/config"
	"github.com/m-lab/speedtest/internal/persistence"
	"github.com/m-lab/speedtest/pkg/model"
)

func defaultOptions() *options {
	return optionsFromFlags()
}

func Test_applyFile(t *testing.T) {
	f := &config.File{
		Server:           7,
		Plan:             100,
		Connections:      8,
		PingCount:        3,
		DownloadDuration: 2.5,
		UploadDuration:   4,
		AlertBelow:       50,
		CSVFile:          "log.csv",
	}

	t.Run("file values apply", func(t *testing.T) {
		o := defaultOptions()
		applyFile(o, f, map[string]bool{})
		c := o.client
		if c.ServerID != 7 || o.plan != 100 || c.Streams != 8 || c.PingCount != 3 ||
			c.DownloadDuration != 2500*time.Millisecond || c.UploadDuration != 4*time.Second ||
			o.alertBelow != 50 || o.csv != "log.csv" {
			t.Errorf("applyFile() = %+v", o)
		}
	})

	t.Run("explicit flags win", func(t *testing.T) {
		o := defaultOptions()
		o.client.Streams = 2
		o.plan = 500
		applyFile(o, f, map[string]bool{"streams": true, "plan": true})
		if o.client.Streams != 2 || o.plan != 500 || o.client.PingCount != 3 {
			t.Errorf("applyFile() = %+v", o)
		}
	})

	t.Run("empty file changes nothing", func(t *testing.T) {
		o := defaultOptions()
		want := *o
		applyFile(o, &config.File{}, map[string]bool{})
		if o.client != want.client || o.plan != want.plan || o.csv != want.csv {
			t.Errorf("applyFile() = %+v, want %+v", o, want)
		}
	})
}

func Test_validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(o *options)
		wantErr bool
	}{
		{name: "defaults", modify: func(o *options) {}},
		{name: "negative server", modify: func(o *options) { o.client.ServerID = -1 }, wantErr: true},
		{name: "no servers", modify: func(o *options) { o.client.Servers = 0 }, wantErr: true},
		{name: "ping count low", modify: func(o *options) { o.client.PingCount = 0 }, wantErr: true},
		{name: "ping count high", modify: func(o *options) { o.client.PingCount = 101 }, wantErr: true},
		{name: "too many streams", modify: func(o *options) { o.client.Streams = 33 }, wantErr: true},
		{name: "short download", modify: func(o *options) { o.client.DownloadDuration = time.Millisecond }, wantErr: true},
		{name: "long upload", modify: func(o *options) { o.client.UploadDuration = time.Hour }, wantErr: true},
		{name: "negative plan", modify: func(o *options) { o.plan = -1 }, wantErr: true},
		{name: "negative alert", modify: func(o *options) { o.alertBelow = -1 }, wantErr: true},
		{name: "no repeat", modify: func(o *options) { o.repeat = 0 }, wantErr: true},
		{name: "negative interval", modify: func(o *options) { o.interval = -time.Second }, wantErr: true},
		{name: "repeat without wait", modify: func(o *options) { o.repeat, o.interval = 5, 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := defaultOptions()
			tt.modify(o)
			if err := validate(o); (err != nil) != tt.wantErr {
				t.Errorf("validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func testResult() *model.Result {
	r := model.NewResult(model.ClientInfo{ISP: "ISP", IP: "192.0.2.1"},
		model.EndpointLatencyResult{
			Server:    model.Endpoint{ID: 1, Name: "Town", Sponsor: "Sponsor", Host: "example.com", Port: 8080},
			Pings:     []float64{10, 12},
			LatencyMs: 10,
			JitterMs:  2,
			Success:   true,
		}, nil, model.ThroughputResult{}, model.ThroughputResult{})
	r.Download.SpeedMbps = 40
	r.Upload.SpeedMbps = 10
	return r
}

func Test_finish(t *testing.T) {
	dir := t.TempDir()

	t.Run("human output", func(t *testing.T) {
		o := defaultOptions()
		o.output = filepath.Join(dir, "result.json")
		o.csv = filepath.Join(dir, "log.csv")
		o.datadir = filepath.Join(dir, "data")
		o.plan = 100
		o.alertBelow = 50
		o.share = true
		o.history = persistence.NewHistory(filepath.Join(dir, "history.jsonl"))

		previous := testResult()
		previous.Ping = 15
		testingx.Must(t, o.history.Append(previous), "cannot seed history")

		var stdout, stderr bytes.Buffer
		testingx.Must(t, finish(&stdout, &stderr, testResult(), o), "finish failed")

		out := stdout.String()
		for _, want := range []string{"Results saved to", "CSV row appended", "vs last: Ping -5.0 ms",
			"Download: D (40% of plan)", "Speedtest Results"} {
			if !strings.Contains(out, want) {
				t.Errorf("stdout does not contain %q:\n%s", want, out)
			}
		}
		if !strings.Contains(stderr.String(), "ALERT: Download speed 40.00") {
			t.Errorf("missing alert: %s", stderr.String())
		}
		for _, p := range []string{o.output, o.csv} {
			if _, err := os.Stat(p); err != nil {
				t.Errorf("missing output file %s: %v", p, err)
			}
		}
		entries, err := o.history.Load(0)
		if err != nil || len(entries) != 2 {
			t.Errorf("history has %d entries, %v", len(entries), err)
		}
	})

	t.Run("json output", func(t *testing.T) {
		o := defaultOptions()
		o.json = true
		o.share = true
		o.saveHistory = false
		o.history = persistence.NewHistory(filepath.Join(dir, "json-history.jsonl"))

		var stdout, stderr bytes.Buffer
		testingx.Must(t, finish(&stdout, &stderr, testResult(), o), "finish failed")

		var decoded model.Result
		if err := json.Unmarshal(stdout.Bytes(), &decoded); err != nil {
			t.Fatalf("stdout is not a JSON result: %v\n%s", err, stdout.String())
		}
		if decoded.Server.ID != 1 {
			t.Errorf("decoded result = %+v", decoded.Server)
		}
		if !strings.Contains(stderr.String(), "Speedtest Results") {
			t.Errorf("share text not on stderr")
		}
		if _, err := os.Stat(o.history.Path); !os.IsNotExist(err) {
			t.Errorf("history written despite saveHistory=false")
		}
	})
}

func Test_finish_noDownloadAlert(t *testing.T) {
	o := defaultOptions()
	o.client.SkipDownload = true
	o.alertBelow = 50
	o.saveHistory = false
	o.history = persistence.NewHistory(filepath.Join(t.TempDir(), "history.jsonl"))

	r := testResult()
	r.Download.SpeedMbps = 0
	var stdout, stderr bytes.Buffer
	testingx.Must(t, finish(&stdout, &stderr, r, o), "finish failed")
	if strings.Contains(stderr.String(), "ALERT") {
		t.Errorf("alert printed for a skipped download: %s", stderr.String())
	}
}

func Test_runAll(t *testing.T) {
	t.Run("repeats and saves every run", func(t *testing.T) {
		o := defaultOptions()
		o.repeat = 3
		o.interval = 10 * time.Millisecond
		o.history = persistence.NewHistory(filepath.Join(t.TempDir(), "history.jsonl"))

		runs := 0
		var stdout, stderr bytes.Buffer
		err := runAll(context.Background(), &stdout, &stderr, o,
			func(context.Context) (*model.Result, error) {
				runs++
				return testResult(), nil
			})
		testingx.Must(t, err, "runAll failed")
		if runs != 3 {
			t.Errorf("measured %d times, want 3", runs)
		}
		out := stdout.String()
		for _, want := range []string{"--- Run 1/3 ---", "--- Run 3/3 ---", "Next run in 10ms"} {
			if !strings.Contains(out, want) {
				t.Errorf("stdout does not contain %q:\n%s", want, out)
			}
		}
		if strings.Count(out, "Next run in") != 2 {
			t.Errorf("want a wait only between runs:\n%s", out)
		}
		entries, err := o.history.Load(0)
		if err != nil || len(entries) != 3 {
			t.Errorf("history has %d entries, %v", len(entries), err)
		}
	})

	t.Run("single run prints no header", func(t *testing.T) {
		o := defaultOptions()
		o.saveHistory = false
		o.history = persistence.NewHistory(filepath.Join(t.TempDir(), "history.jsonl"))
		var stdout, stderr bytes.Buffer
		err := runAll(context.Background(), &stdout, &stderr, o,
			func(context.Context) (*model.Result, error) { return testResult(), nil })
		testingx.Must(t, err, "runAll failed")
		if strings.Contains(stdout.String(), "--- Run") {
			t.Errorf("unexpected header: %s", stdout.String())
		}
	})

	t.Run("wait is cancellable", func(t *testing.T) {
		o := defaultOptions()
		o.repeat = 2
		o.interval = time.Hour
		o.saveHistory = false
		o.history = persistence.NewHistory(filepath.Join(t.TempDir(), "history.jsonl"))

		ctx, cancel := context.WithCancel(context.Background())
		runs := 0
		var stdout, stderr bytes.Buffer
		start := time.Now()
		err := runAll(ctx, &stdout, &stderr, o, func(context.Context) (*model.Result, error) {
			runs++
			time.AfterFunc(50*time.Millisecond, cancel)
			return testResult(), nil
		})
		if !errors.Is(err, context.Canceled) {
			t.Errorf("runAll() error = %v, want context.Canceled", err)
		}
		if runs != 1 || time.Since(start) > 10*time.Second {
			t.Errorf("runs = %d after %v", runs, time.Since(start))
		}
	})

	t.Run("measurement error stops the loop", func(t *testing.T) {
		o := defaultOptions()
		o.repeat = 3
		o.interval = 0
		o.history = persistence.NewHistory(filepath.Join(t.TempDir(), "history.jsonl"))
		errFailed := errors.New("no endpoint")
		runs := 0
		var stdout, stderr bytes.Buffer
		err := runAll(context.Background(), &stdout, &stderr, o,
			func(context.Context) (*model.Result, error) {
				runs++
				return nil, errFailed
			})
		if !errors.Is(err, errFailed) || runs != 1 {
			t.Errorf("runAll() = %v after %d runs", err, runs)
		}
	})
}

func Test_printHistory(t *testing.T) {
	h := persistence.NewHistory(filepath.Join(t.TempDir(), "history.jsonl"))

	var buf bytes.Buffer
	testingx.Must(t, printHistory(&buf, h, 20), "printHistory failed")
	if !strings.Contains(buf.String(), "No history found") {
		t.Errorf("unexpected output: %s", buf.String())
	}

	for i, hour := range []int{8, 8, 20} {
		r := testResult()
		r.Ping = float64(10 + i)
		r.Timestamp = time.Date(2024, 5, 1, hour, 0, 0, 0, time.Local)
		testingx.Must(t, h.Append(r), "cannot append")
	}
	buf.Reset()
	testingx.Must(t, printHistory(&buf, h, 20), "printHistory failed")
	out := buf.String()
	for _, want := range []string{"Town (Sponsor)", "Ping      ", "08:00", "20:00"} {
		if !strings.Contains(out, want) {
			t.Errorf("output does not contain %q:\n%s", want, out)
		}
	}
}

func Test_printServers(t *testing.T) {
	var buf bytes.Buffer
	printServers(&buf, []model.Endpoint{{ID: 42, Name: "Town", Sponsor: "ISP", CC: "XX",
		Distance: 12.3, Host: "example.com", Port: 8080}})
	out := buf.String()
	if !strings.Contains(out, "42") || !strings.Contains(out, "example.com:8080") ||
		!strings.Contains(out, "12 km") {
		t.Errorf("unexpected output: %s", out)
	}
}
