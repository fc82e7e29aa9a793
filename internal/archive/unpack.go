package archive

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"path/filepath"
	"sort"
)

// Entry is one unpacked file from the staging archive: a name, the
// number of bytes read for it, and its bytes.
type Entry struct {
	Name string
	Size int64
	Data []byte
}

// Unpack reads a staging ZIP fully into memory and returns its entries in
// a stable order (by name), skipping directory entries. Callers
// constrained on memory may swap this for a disk-backed unpack without
// changing the Entry contract.
func Unpack(data []byte) ([]Entry, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open staging archive: %w", err)
	}

	var entries []Entry
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open staging entry %q: %w", f.Name, err)
		}
		b, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("read staging entry %q: %w", f.Name, err)
		}
		entries = append(entries, Entry{
			Name: filepath.Base(f.Name),
			Size: int64(len(b)),
			Data: b,
		})
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}
