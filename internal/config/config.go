// Package config reads and writes the user's default settings.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/m-lab/speedtest/internal/persistence"
	"gopkg.in/yaml.v3"
)

// ErrUnknownKey is returned by Set for keys that are not part of File.
var ErrUnknownKey = errors.New("unknown config key")

// File is the content of the config file. Zero values mean "not set".
type File struct {
	// Server is the preferred server ID.
	Server int `yaml:"server,omitempty"`
	// Plan is the subscribed plan speed in Mb/s, used for grading.
	Plan float64 `yaml:"plan,omitempty"`
	// Connections is the number of parallel streams.
	Connections int `yaml:"connections,omitempty"`
	// PingCount is the number of latency probes per server.
	PingCount int `yaml:"ping_count,omitempty"`
	// DownloadDuration is the download test length in seconds.
	DownloadDuration float64 `yaml:"download_duration,omitempty"`
	// UploadDuration is the upload test length in seconds.
	UploadDuration float64 `yaml:"upload_duration,omitempty"`
	// AlertBelow is the download rate in Mb/s under which an alert is printed.
	AlertBelow float64 `yaml:"alert_below,omitempty"`
	// CSVFile is a CSV file every result is appended to.
	CSVFile string `yaml:"csv_file,omitempty"`
}

// Seconds converts a duration in seconds to a time.Duration.
func Seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// DefaultPath returns $XDG_CONFIG_HOME/speedtest/config.yaml, falling back
// to ~/.config/speedtest/config.yaml.
func DefaultPath() (string, error) {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "speedtest", "config.yaml"), nil
}

// Load reads the config file at path. A missing file returns an empty File.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return &File{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	f := &File{}
	if err := yaml.Unmarshal(data, f); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file: %w", err)
	}
	return f, nil
}

// Validate checks that all values are in range.
func (f *File) Validate() error {
	switch {
	case f.Server < 0:
		return fmt.Errorf("server must be positive: %d", f.Server)
	case f.Plan < 0:
		return fmt.Errorf("plan must be positive: %v", f.Plan)
	case f.Connections < 0:
		return fmt.Errorf("connections must be positive: %d", f.Connections)
	case f.PingCount < 0:
		return fmt.Errorf("ping_count must be positive: %d", f.PingCount)
	case f.DownloadDuration < 0 || f.UploadDuration < 0:
		return errors.New("durations must be positive")
	case f.AlertBelow < 0:
		return fmt.Errorf("alert_below must be positive: %v", f.AlertBelow)
	}
	return nil
}

// Save writes f to path, replacing any existing file atomically.
func (f *File) Save(path string) error {
	data, err := yaml.Marshal(f)
	if err != nil {
		return err
	}
	return persistence.WriteFile(path, data, 0644)
}

// Keys returns the names of all config keys, sorted.
func Keys() []string {
	keys := make([]string, 0, len(setters))
	for k := range setters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

var setters = map[string]func(f *File, v string) error{
	"server":            func(f *File, v string) error { return setInt(&f.Server, v) },
	"plan":              func(f *File, v string) error { return setFloat(&f.Plan, v) },
	"connections":       func(f *File, v string) error { return setInt(&f.Connections, v) },
	"ping_count":        func(f *File, v string) error { return setInt(&f.PingCount, v) },
	"download_duration": func(f *File, v string) error { return setFloat(&f.DownloadDuration, v) },
	"upload_duration":   func(f *File, v string) error { return setFloat(&f.UploadDuration, v) },
	"alert_below":       func(f *File, v string) error { return setFloat(&f.AlertBelow, v) },
	"csv_file": func(f *File, v string) error {
		f.CSVFile = v
		return nil
	},
}

func setInt(dst *int, v string) error {
	n, err := strconv.Atoi(v)
	if err != nil {
		return err
	}
	*dst = n
	return nil
}

func setFloat(dst *float64, v string) error {
	n, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return err
	}
	*dst = n
	return nil
}

// Set parses value and assigns it to key.
func (f *File) Set(key, value string) error {
	set, ok := setters[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	if err := set(f, value); err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	return f.Validate()
}
