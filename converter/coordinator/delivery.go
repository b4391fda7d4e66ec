package coordinator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"heicConverter/converter/handle"
)

// DeliverySink receives finished outputs. The browser-equivalent is a
// download trigger; the CLI writes files to a directory.
type DeliverySink interface {
	Deliver(ctx context.Context, h *handle.Handle) error
}

// DirSink writes delivered handles into a directory.
type DirSink struct {
	Dir string
}

func (s DirSink) Deliver(ctx context.Context, h *handle.Handle) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := h.Bytes()
	if err != nil {
		return fmt.Errorf("read output %s: %w", h.Name, err)
	}
	path := filepath.Join(s.Dir, filepath.Base(h.Name))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
