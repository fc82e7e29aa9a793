// Package archive implements the streaming output ZIP and
// staging-archive unpacking. archive/zip natively supports the UTF-8 name
// flag (0x800) that the non-ASCII entry names require.
package archive

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path"
)

// Result folder names. Both are created even when empty.
const (
	DefectiveFolder = "results/Поврежденные/"
	NormalFolder    = "results/Неповрежденные/"
)

// Output is a streaming ZIP writer for the worker's annotated output
// archive. It is backed by a temp file so the whole archive is never held
// in memory.
type Output struct {
	file *os.File
	zw   *zip.Writer
}

// NewOutput opens a temp file and writes the two predeclared folder
// entries.
func NewOutput() (*Output, error) {
	f, err := os.CreateTemp("", "analysis-output-*.zip")
	if err != nil {
		return nil, fmt.Errorf("create output archive temp file: %w", err)
	}
	zw := zip.NewWriter(f)
	o := &Output{file: f, zw: zw}
	if err := o.writeFolderEntry(DefectiveFolder); err != nil {
		return nil, err
	}
	if err := o.writeFolderEntry(NormalFolder); err != nil {
		return nil, err
	}
	return o, nil
}

func (o *Output) writeFolderEntry(name string) error {
	w, err := o.zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Store})
	if err != nil {
		return fmt.Errorf("write folder entry %q: %w", name, err)
	}
	_, err = w.Write(nil)
	return err
}

// AddDefective streams one annotated image into the defective folder.
func (o *Output) AddDefective(stem string, jpegBytes []byte) error {
	return o.add(DefectiveFolder, stem, jpegBytes)
}

// AddNormal streams one annotated image into the normal folder.
func (o *Output) AddNormal(stem string, jpegBytes []byte) error {
	return o.add(NormalFolder, stem, jpegBytes)
}

func (o *Output) add(folder, stem string, jpegBytes []byte) error {
	name := path.Join(folder, stem+"_annotated.jpg")
	hdr := &zip.FileHeader{Name: name, Method: zip.Deflate}
	w, err := o.zw.CreateHeader(hdr)
	if err != nil {
		return fmt.Errorf("write archive entry %q: %w", name, err)
	}
	_, err = w.Write(jpegBytes)
	return err
}

// Finish closes the ZIP writer and returns the backing file, rewound to
// the start, ready to be read and uploaded. The caller is responsible for
// closing and removing the file.
func (o *Output) Finish() (*os.File, error) {
	if err := o.zw.Close(); err != nil {
		return nil, fmt.Errorf("close output archive: %w", err)
	}
	if _, err := o.file.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("rewind output archive: %w", err)
	}
	return o.file, nil
}

// Remove discards the temp file backing an Output.
func (o *Output) Remove() {
	name := o.file.Name()
	o.file.Close()
	_ = os.Remove(name)
}
