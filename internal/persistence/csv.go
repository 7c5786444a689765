package persistence

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/m-lab/speedtest/pkg/model"
)

// CSVRow is one line of the CSV export.
type CSVRow struct {
	Timestamp    string `csv:"timestamp"`
	Server       string `csv:"server"`
	ISP          string `csv:"isp"`
	IP           string `csv:"ip"`
	PingMs       string `csv:"ping_ms"`
	JitterMs     string `csv:"jitter_ms"`
	DownloadMbps string `csv:"download_mbps"`
	UploadMbps   string `csv:"upload_mbps"`
}

func format(v float64, prec int) string {
	return strconv.FormatFloat(v, 'f', prec, 64)
}

// NewCSVRow converts a Result to a CSVRow.
func NewCSVRow(r *model.Result) CSVRow {
	ts := r.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return CSVRow{
		Timestamp:    ts.Format(time.RFC3339),
		Server:       r.Server.Name,
		ISP:          r.Client.ISP,
		IP:           r.Client.IP,
		PingMs:       format(r.Ping, 1),
		JitterMs:     format(r.Jitter, 2),
		DownloadMbps: format(r.Download.SpeedMbps, 2),
		UploadMbps:   format(r.Upload.SpeedMbps, 2),
	}
}

// AppendCSV appends r to the CSV file at filename. The header is written
// only when the file is new or empty.
func AppendCSV(filename string, r *model.Result) error {
	if dir := filepath.Dir(filename); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(filename, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return err
	}
	rows := []CSVRow{NewCSVRow(r)}
	if info.Size() == 0 {
		err = gocsv.Marshal(rows, f)
	} else {
		err = gocsv.MarshalWithoutHeaders(rows, f)
	}
	if err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
