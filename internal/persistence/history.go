package persistence

import (
	"bufio"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/m-lab/speedtest/pkg/model"
)

const (
	// HistoryDir is the directory under $HOME holding the history file.
	HistoryDir = ".speedtest"
	// HistoryFile is the name of the history file.
	HistoryFile = "history.jsonl"
	// DefaultHistoryLimit is the number of entries shown by default.
	DefaultHistoryLimit = 20

	maxLineSize = 16 << 20
)

// History is an append-only JSON-lines log of results.
type History struct {
	Path string
	mu   sync.Mutex
}

// DefaultHistoryPath returns ~/.speedtest/history.jsonl.
func DefaultHistoryPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, HistoryDir, HistoryFile), nil
}

// NewHistory returns a History stored at path.
func NewHistory(path string) *History {
	return &History{Path: path}
}

// Append writes r as one line. A zero timestamp is replaced with the
// current time on a copy; r itself is not modified.
func (h *History) Append(r *model.Result) error {
	entry := *r
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(&entry)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(h.Path), 0755); err != nil {
		return err
	}
	f, err := os.OpenFile(h.Path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	// A single write keeps lines whole when several processes append.
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Load returns up to limit of the most recent entries, oldest first. A
// missing file is an empty history. Lines that cannot be decoded are
// skipped. A limit <= 0 returns everything.
func (h *History) Load(limit int) ([]model.Result, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	f, err := os.Open(h.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return []model.Result{}, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	entries := []model.Result{}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64<<10), maxLineSize)
	line := 0
	for scanner.Scan() {
		line++
		b := scanner.Bytes()
		if len(b) == 0 {
			continue
		}
		var r model.Result
		if err := json.Unmarshal(b, &r); err != nil {
			log.Debug("skipping corrupt history line", "path", h.Path, "line", line,
				"error", err)
			continue
		}
		entries = append(entries, r)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	return entries, nil
}

// Last returns the most recent entry, or nil if the history is empty.
func (h *History) Last() (*model.Result, error) {
	entries, err := h.Load(1)
	if err != nil || len(entries) == 0 {
		return nil, err
	}
	return &entries[0], nil
}
