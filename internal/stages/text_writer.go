package stages

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/nao1215/reductree/internal/stage"
)

// textWriter writes one file per scan point.
//
// Without overwrite an existing file for the same scan point is an error,
// so a re-run never replaces results silently. With overwrite re-running a
// scan point rewrites the same file with the same content.
type textWriter struct {
	stage.Base
	dir       string
	prefix    string
	overwrite bool
}

func newTextWriter(desc *stage.Descriptor) (stage.Stage, error) {
	return &textWriter{Base: stage.NewBase(desc)}, nil
}

func (w *textWriter) Prepare(ctx context.Context) error {
	dir, err := w.Params().String("directory")
	if err != nil {
		return err
	}
	if strings.TrimSpace(dir) == "" {
		return stage.NewUserConfigError("directory must not be empty")
	}
	prefix, err := w.Params().String("prefix")
	if err != nil {
		return err
	}
	overwrite, err := w.Params().Bool("overwrite")
	if err != nil {
		return err
	}
	w.dir, w.prefix, w.overwrite = dir, prefix, overwrite

	if stage.IsTestMode(ctx) {
		return nil
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return stage.NewUserConfigError("cannot create directory %s: %v", dir, err)
	}
	return nil
}

// path returns the file written for a scan point.
func (w *textWriter) path(index int) string {
	return filepath.Join(w.dir, fmt.Sprintf("%s_%06d.txt", w.prefix, index))
}

func (w *textWriter) Process(_ context.Context, in stage.Payload, sb stage.Sideband) (stage.Payload, error) {
	if sb.TestMode() {
		return in, nil
	}
	index, ok := sb.GlobalIndex()
	if !ok {
		return nil, stage.NewUserConfigError("sideband carries no %s", stage.GlobalIndexKey)
	}

	var b strings.Builder
	switch v := in.(type) {
	case Vector:
		for _, x := range v {
			b.WriteString(strconv.FormatFloat(x, 'g', -1, 64))
			b.WriteByte('\n')
		}
	case Scalar:
		b.WriteString(strconv.FormatFloat(float64(v), 'g', -1, 64))
		b.WriteByte('\n')
	default:
		return nil, fmt.Errorf("cannot write payload of type %T", in)
	}

	path := w.path(index)
	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if !w.overwrite {
		flags = os.O_WRONLY | os.O_CREATE | os.O_EXCL
	}
	f, err := os.OpenFile(path, flags, 0o600) //nolint:gosec // path is built from the configured directory
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil, stage.NewUserConfigError("%s already exists, enable overwrite to replace it", path)
		}
		return nil, err
	}
	if _, err := f.WriteString(b.String()); err != nil {
		_ = f.Close()
		return nil, err
	}
	if err := f.Close(); err != nil {
		return nil, err
	}
	return in, nil
}
