package config

import (
	"errors"
	"slices"
	"strings"
	"sync"
)

// PathSeparator joins plugin search paths into one settings value.
const PathSeparator = ";;"

// JoinPaths joins search paths into one settings value.
func JoinPaths(paths []string) string {
	return strings.Join(paths, PathSeparator)
}

// SplitPaths splits a settings value into search paths, dropping empty
// entries.
func SplitPaths(value string) []string {
	var paths []string
	for _, p := range strings.Split(value, PathSeparator) {
		if p = strings.TrimSpace(p); p != "" {
			paths = append(paths, p)
		}
	}
	return paths
}

// PathStore persists plugin search paths in the plugin_paths value of a
// settings file. Other settings in the file are preserved.
type PathStore struct {
	mu   sync.Mutex
	path string
}

// NewPathStore creates a store backed by the settings file at path.
// The file is created on the first write.
func NewPathStore(path string) *PathStore {
	return &PathStore{path: path}
}

// Path returns the settings file the store writes to.
func (s *PathStore) Path() string {
	return s.path
}

func (s *PathStore) load() (*File, error) {
	cf, err := LoadConfigFile(s.path)
	if errors.Is(err, ErrConfigNotFound) {
		return &File{}, nil
	}
	return cf, err
}

// LoadPaths returns the persisted search paths.
func (s *PathStore) LoadPaths() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cf, err := s.load()
	if err != nil {
		return nil, err
	}
	return SplitPaths(cf.PluginPaths), nil
}

// AppendPath persists one more search path. A path that is already stored
// is not added again.
func (s *PathStore) AppendPath(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cf, err := s.load()
	if err != nil {
		return err
	}
	paths := SplitPaths(cf.PluginPaths)
	if slices.Contains(paths, path) {
		return nil
	}
	cf.PluginPaths = JoinPaths(append(paths, path))
	return SaveConfigFile(s.path, cf)
}

// ClearPaths forgets all search paths.
func (s *PathStore) ClearPaths() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cf, err := s.load()
	if err != nil {
		return err
	}
	if cf.PluginPaths == "" {
		return nil
	}
	cf.PluginPaths = ""
	return SaveConfigFile(s.path, cf)
}
