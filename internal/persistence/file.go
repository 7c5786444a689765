// Package persistence saves measurement results to disk.
package persistence

import (
	"encoding/json"
	"os"
	"path"
	"path/filepath"
	"time"
)

// DataFile is an archived measurement file.
type DataFile struct {
	// Prefix is the data directory.
	Prefix string
	// Datatype is the kind of measurement, e.g. "speedtest".
	Datatype string
	// Subtest is the phase, e.g. "download".
	Subtest string
	// UUID is the measurement ID.
	UUID string
	// Path is the full path of the file.
	Path string
	// Size is the number of bytes written.
	Size int
}

// WriteDataFile writes a JSON representation of v under
// datadir/datatype/YYYY/MM/DD/. Existing files are never overwritten.
func WriteDataFile(datadir, datatype, subtest, uuid string, v any) (*DataFile, error) {
	timestamp := time.Now().UTC()
	dir := path.Join(datadir, datatype, timestamp.Format("2006/01/02"))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	fp := path.Join(dir, datatype+"-"+subtest+"-"+
		timestamp.Format("20060102T150405.000000000Z")+"."+uuid+".json")
	f, err := os.OpenFile(fp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return nil, err
	}
	n, err := f.Write(data)
	if err != nil {
		f.Close()
		return nil, err
	}
	if err := f.Close(); err != nil {
		return nil, err
	}
	return &DataFile{
		Prefix:   datadir,
		Datatype: datatype,
		Subtest:  subtest,
		UUID:     uuid,
		Path:     fp,
		Size:     n,
	}, nil
}

// WriteJSON writes v as indented JSON to filename. The data is written to a
// temporary file in the same directory and renamed into place, so readers
// never see a partial file.
func WriteJSON(filename string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return writeAtomic(filename, append(data, '\n'), 0644)
}

func writeAtomic(filename string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".tmp-"+filepath.Base(filename)+"-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), filename)
}

// WriteFile atomically replaces filename with data.
func WriteFile(filename string, data []byte, perm os.FileMode) error {
	return writeAtomic(filename, data, perm)
}
