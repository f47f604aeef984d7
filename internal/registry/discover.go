package registry

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/charlievieth/fastwalk"
)

// manifestPattern is the naming convention for stage manifests relative to
// a search path root.
const manifestPattern = "**/*.stage.{yaml,yml,hcl}"

// isManifestName reports whether a path relative to a search root follows
// the manifest naming convention.
func isManifestName(rel string) bool {
	ok, err := doublestar.Match(manifestPattern, filepath.ToSlash(rel))
	return err == nil && ok
}

// isSkipped reports whether a file or directory name is hidden or private.
func isSkipped(name string) bool {
	return strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_")
}

// findManifests returns the sorted manifest files under root. Hidden and
// private directories are not descended into. root may also be a single
// manifest file.
func findManifests(root string) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		name := filepath.Base(root)
		if isSkipped(name) || !isManifestName(name) {
			return nil, nil
		}
		return []string{root}, nil
	}

	var (
		mu    sync.Mutex
		files []string
	)
	conf := fastwalk.Config{Follow: false}
	err = fastwalk.Walk(&conf, root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable entries are skipped, not fatal for the scan.
			return nil
		}
		if path == root {
			return nil
		}
		if isSkipped(d.Name()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil || !isManifestName(rel) {
			return nil
		}
		mu.Lock()
		files = append(files, path)
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(files)
	return files, nil
}
