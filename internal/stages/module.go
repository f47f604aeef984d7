package stages

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/nao1215/reductree/internal/registry"
)

//go:embed manifests/*
var manifests embed.FS

// Module registers the built-in stage factories.
type Module struct{}

// Register implements registry.Module.
func (Module) Register(c *registry.Catalog) {
	c.Register("ramp", newRamp)
	c.Register("scale", newScale)
	c.Register("crop", newCrop)
	c.Register("sum", newSum)
	c.Register("threshold_flag", newThresholdFlag)
	c.Register("text_writer", newTextWriter)
}

// Manifests returns the embedded manifests of the built-in stages.
func Manifests() fs.FS {
	sub, err := fs.Sub(manifests, "manifests")
	if err != nil {
		panic(err)
	}
	return sub
}

// WriteManifests copies the embedded manifests into dir and returns the
// files written. Existing files are kept unless overwrite is set.
func WriteManifests(dir string, overwrite bool) ([]string, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create plugin directory: %w", err)
	}

	src := Manifests()
	entries, err := fs.ReadDir(src, ".")
	if err != nil {
		return nil, err
	}

	var written []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		dst := filepath.Join(dir, entry.Name())
		if _, err := os.Stat(dst); err == nil && !overwrite {
			continue
		} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return written, err
		}
		data, err := fs.ReadFile(src, entry.Name())
		if err != nil {
			return written, err
		}
		if err := os.WriteFile(dst, data, 0o600); err != nil {
			return written, fmt.Errorf("write manifest %s: %w", dst, err)
		}
		written = append(written, dst)
	}
	return written, nil
}
