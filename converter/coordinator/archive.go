package coordinator

import (
	"archive/zip"
	"bytes"
	"fmt"
)

// ArchiveBuilder accumulates named outputs into one downloadable archive.
type ArchiveBuilder interface {
	Add(name string, data []byte) error
	Finalize() ([]byte, error)
}

// Archiver creates archive builders. The coordinator treats it as an
// optional collaborator: when unavailable, delivery degrades to sequential
// individual downloads.
type Archiver interface {
	Create() ArchiveBuilder
}

// ZipArchiver packages outputs into a ZIP archive.
type ZipArchiver struct{}

func (ZipArchiver) Create() ArchiveBuilder {
	buf := &bytes.Buffer{}
	return &zipBuilder{buf: buf, zw: zip.NewWriter(buf)}
}

type zipBuilder struct {
	buf *bytes.Buffer
	zw  *zip.Writer
}

func (b *zipBuilder) Add(name string, data []byte) error {
	w, err := b.zw.Create(name)
	if err != nil {
		return fmt.Errorf("add %s to archive: %w", name, err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write %s to archive: %w", name, err)
	}
	return nil
}

func (b *zipBuilder) Finalize() ([]byte, error) {
	if err := b.zw.Close(); err != nil {
		return nil, fmt.Errorf("finalize archive: %w", err)
	}
	return b.buf.Bytes(), nil
}
