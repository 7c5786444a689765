package throughput

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/m-lab/speedtest/internal/netx"
	"github.com/m-lab/speedtest/pkg/model"
	"github.com/m-lab/speedtest/pkg/throughput/spec"
)

// worker is the state owned by a single transfer goroutine. Counters are
// atomic so the orchestrator can snapshot a worker that did not unwind in
// time.
type worker struct {
	id     int
	kind   spec.SubtestKind
	ep     model.Endpoint
	url    string
	client *http.Client
	tr     *http.Transport

	counter  netx.Counter
	start    time.Time
	end      atomic.Int64
	bytes    atomic.Int64
	requests atomic.Int64
	errors   atomic.Int64
}

func (t *Tester) newWorker(id int, ep model.Endpoint) *worker {
	w := &worker{
		id:    id,
		kind:  t.kind,
		ep:    ep,
		url:   ep.TransferURL(t.kind),
		start: time.Now(),
	}
	d := &netx.Dialer{Timeout: spec.DialTimeout, Counter: &w.counter}
	w.tr = &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           d.DialContext,
		TLSClientConfig:       &tls.Config{InsecureSkipVerify: t.config.NoVerify},
		TLSHandshakeTimeout:   spec.DialTimeout,
		ResponseHeaderTimeout: spec.ResponseHeaderTimeout,
		DisableCompression:    true,
		MaxIdleConnsPerHost:   1,
		// The transport copies bodies through these buffers, so they set
		// the size of the chunks seen by the workers.
		WriteBufferSize: spec.ChunkSize,
		ReadBufferSize:  spec.ChunkSize,
		// A non-nil empty map disables HTTP/2: one stream is one TCP
		// connection.
		TLSNextProto: map[string]func(string, *tls.Conn) http.RoundTripper{},
	}
	w.client = &http.Client{Transport: w.tr}
	return w
}

func (w *worker) add(n int, total *atomic.Int64) {
	w.bytes.Add(int64(n))
	total.Add(int64(n))
}

func (w *worker) finish() {
	w.end.Store(time.Now().UnixNano())
	w.tr.CloseIdleConnections()
}

// snapshot returns the worker's record. For a worker that has not
// finished, the duration runs until now.
func (w *worker) snapshot() model.ConnectionRecord {
	end := time.Now()
	if ns := w.end.Load(); ns != 0 {
		end = time.Unix(0, ns)
	}
	elapsed := end.Sub(w.start)
	read, written := w.counter.ByteCounters()
	rec := model.ConnectionRecord{
		ID:         w.id,
		ServerID:   w.ep.ID,
		Host:       w.ep.Addr(),
		Bytes:      w.bytes.Load(),
		Requests:   int(w.requests.Load()),
		Errors:     int(w.errors.Load()),
		DurationMs: float64(elapsed.Microseconds()) / 1000,
	}
	if w.kind == spec.SubtestUpload {
		rec.NetworkBytes = written
	} else {
		rec.NetworkBytes = read
	}
	if elapsed > 0 {
		rec.SpeedMbps = float64(rec.Bytes) * 8 / elapsed.Seconds() / 1e6
	}
	return rec
}

// work runs transfer requests back to back until ctx is done. Transient
// errors are logged, counted and followed by a short backoff.
func (t *Tester) work(ctx context.Context, w *worker, total *atomic.Int64) {
	transfer, backoff := t.downloadOnce, spec.DownloadBackoff
	if t.kind == spec.SubtestUpload {
		transfer, backoff = t.uploadOnce, spec.UploadBackoff
	}
	var buf []byte
	if t.kind == spec.SubtestDownload {
		buf = make([]byte, spec.ChunkSize)
	}
	for ctx.Err() == nil {
		w.requests.Add(1)
		err := transfer(ctx, w, buf, total)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			continue
		}
		w.errors.Add(1)
		t.errorsMetric.Inc()
		log.Debug("transfer error, retrying", "direction", t.kind, "worker", w.id,
			"server", w.ep.Addr(), "error", err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
	}
}

func (t *Tester) newRequest(ctx context.Context, w *worker, method string,
	body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, w.url, body)
	if err != nil {
		return nil, err
	}
	q := req.URL.Query()
	q.Set("nocache", uuid.NewString())
	if method == http.MethodGet {
		q.Set("size", strconv.Itoa(spec.DownloadRequestSize))
	}
	req.URL.RawQuery = q.Encode()
	if t.config.UserAgent != "" {
		req.Header.Set("User-Agent", t.config.UserAgent)
	}
	req.Header.Set("Origin", "https://www.speedtest.net")
	req.Header.Set("Referer", "https://www.speedtest.net/")
	return req, nil
}

// downloadOnce streams a single download response, reading one chunk at a
// time. It returns nil when the body is complete.
func (t *Tester) downloadOnce(ctx context.Context, w *worker, buf []byte,
	total *atomic.Int64) error {
	req, err := t.newRequest(ctx, w, http.MethodGet, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept-Encoding", "identity")
	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			w.add(n, total)
			t.bytesMetric.Add(float64(n))
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// uploadOnce streams a single upload request whose body cycles through the
// shared random buffer until ctx is done. The response is discarded.
func (t *Tester) uploadOnce(ctx context.Context, w *worker, _ []byte,
	total *atomic.Int64) error {
	body := &cyclicReader{
		ctx:    ctx,
		buffer: t.buffer,
		chunk:  spec.ChunkSize,
		onRead: func(n int) {
			w.add(n, total)
			t.bytesMetric.Add(float64(n))
		},
	}
	req, err := t.newRequest(ctx, w, http.MethodPost, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}
	return nil
}

// cyclicReader yields at most chunk bytes per Read from buffer, wrapping
// around at the end. It returns io.EOF once ctx is done.
type cyclicReader struct {
	ctx    context.Context
	buffer []byte
	chunk  int
	pos    int
	onRead func(n int)
}

func (r *cyclicReader) Read(p []byte) (int, error) {
	if r.ctx.Err() != nil || len(r.buffer) == 0 {
		return 0, io.EOF
	}
	want := len(p)
	if want > r.chunk {
		want = r.chunk
	}
	n := 0
	for n < want {
		c := copy(p[n:want], r.buffer[r.pos:])
		n += c
		r.pos = (r.pos + c) % len(r.buffer)
	}
	if r.onRead != nil {
		r.onRead(n)
	}
	return n, nil
}
