package httpapi

import (
	"archive/zip"
	"bytes"
)

// stagedFile is one bulk-partition file awaiting staging into the
// in-memory ZIP uploaded once as the job's staging archive.
type stagedFile struct {
	name string
	data []byte
}

// buildStagingZip deflates every bulk file into a single in-memory
// archive with the UTF-8 name flag set, so Cyrillic file names survive
// the round trip through the blob store and back out through Unpack.
func buildStagingZip(files []stagedFile) ([]byte, error) {
	buf := &bytes.Buffer{}
	zw := zip.NewWriter(buf)
	for _, f := range files {
		hdr := &zip.FileHeader{Name: f.name, Method: zip.Deflate}
		hdr.Flags |= 0x800
		w, err := zw.CreateHeader(hdr)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(f.data); err != nil {
			return nil, err
		}
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
