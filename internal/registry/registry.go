package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"sort"
	"sync"

	"github.com/nao1215/reductree/internal/stage"
)

// PathStore persists the set of registered search paths across restarts.
type PathStore interface {
	// LoadPaths returns the remembered search paths.
	LoadPaths() ([]string, error)
	// AppendPath remembers one more search path. Implementations must not
	// store duplicates.
	AppendPath(path string) error
	// ClearPaths forgets all search paths.
	ClearPaths() error
}

// Event is delivered to subscribers after the registry changed.
type Event struct {
	// Paths holds the roots that were scanned by the call.
	Paths []string
	// Cleared is true when the registry was wiped.
	Cleared bool
}

// Registry discovers stage manifests on search paths and keeps the
// registered stage classes. The zero value is not usable; use New.
//
// Design decision: the registry is constructed once and injected into trees
// and run coordinators rather than living in a package-level variable.
// All methods are safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	catalog *Catalog
	logger  *slog.Logger
	store   PathStore

	defaultPaths []string

	byImpl    map[string]*stage.Descriptor
	byDisplay map[string]string
	paths     []string

	initialized bool

	listenerMu sync.Mutex
	listeners  map[int]func(Event)
	nextListen int
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger for the registry.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

// WithPathStore sets where registered search paths are persisted.
func WithPathStore(store PathStore) Option {
	return func(r *Registry) {
		r.store = store
	}
}

// WithDefaultPaths sets search paths scanned on first use in addition to
// the stored ones.
func WithDefaultPaths(paths ...string) Option {
	return func(r *Registry) {
		r.defaultPaths = append(r.defaultPaths, paths...)
	}
}

// New creates a registry resolving runnable stages through catalog.
// Nothing is scanned until the first accessor call.
func New(catalog *Catalog, opts ...Option) *Registry {
	if catalog == nil {
		catalog = NewCatalog()
	}
	r := &Registry{
		catalog:   catalog,
		logger:    slog.Default(),
		byImpl:    make(map[string]*stage.Descriptor),
		byDisplay: make(map[string]string),
		listeners: make(map[int]func(Event)),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// lazyInit scans the stored and default search paths exactly once.
func (r *Registry) lazyInit() {
	r.mu.RLock()
	done := r.initialized
	r.mu.RUnlock()
	if done {
		return
	}

	r.mu.Lock()
	if r.initialized {
		r.mu.Unlock()
		return
	}
	r.initialized = true

	var paths []string
	if r.store != nil {
		stored, err := r.store.LoadPaths()
		if err != nil {
			r.logger.Warn("Failed to load stored search paths.", "error", err)
		}
		paths = append(paths, stored...)
	}
	paths = append(paths, r.defaultPaths...)

	added, err := r.registerLocked(paths, false)
	r.mu.Unlock()

	if err != nil {
		r.logger.Warn("Initial stage registration reported errors.", "error", err)
	}
	r.logger.Debug("Stage registry initialized.", "paths", len(added))
}

// RegisterPath scans each path recursively and registers the stage classes
// found there. Paths already scanned are skipped. Newly scanned paths are
// persisted to the PathStore. Subscribers are notified once per call.
//
// Malformed manifests are logged and skipped. Display-name conflicts are
// returned as *RegistrationConflictError values joined together; every other
// class of the scan stays registered.
func (r *Registry) RegisterPath(paths ...string) error {
	r.lazyInit()

	r.mu.Lock()
	added, err := r.registerLocked(paths, true)
	r.mu.Unlock()

	r.notify(Event{Paths: added})
	return err
}

// registerLocked scans the paths that are not yet known. The caller must
// hold the write lock.
func (r *Registry) registerLocked(paths []string, persist bool) ([]string, error) {
	var (
		added []string
		errs  []error
	)
	for _, p := range paths {
		root, err := normalizePath(p)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if slices.Contains(r.paths, root) {
			r.logger.Debug("Search path already registered.", "path", root)
			continue
		}
		if err := r.scanLocked(root, false); err != nil {
			errs = append(errs, err)
			if !errors.Is(err, ErrConflict) {
				continue
			}
		}
		r.paths = append(r.paths, root)
		added = append(added, root)
		if persist && r.store != nil {
			if err := r.store.AppendPath(root); err != nil {
				errs = append(errs, fmt.Errorf("persist search path %s: %w", root, err))
			}
		}
	}
	return added, errors.Join(errs...)
}

// FindAndRegister scans paths without remembering them. With allowReload
// false an already registered implementation name keeps its first
// registration. With allowReload true the old entry, including its
// display-name reference, is removed before the new one is installed.
func (r *Registry) FindAndRegister(allowReload bool, paths ...string) error {
	r.lazyInit()

	var (
		errs    []error
		scanned []string
	)
	r.mu.Lock()
	for _, p := range paths {
		root, err := normalizePath(p)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := r.scanLocked(root, allowReload); err != nil {
			errs = append(errs, err)
		}
		scanned = append(scanned, root)
	}
	r.mu.Unlock()

	r.notify(Event{Paths: scanned})
	return errors.Join(errs...)
}

// scanLocked registers every manifest under root.
func (r *Registry) scanLocked(root string, allowReload bool) error {
	files, err := findManifests(root)
	if err != nil {
		return fmt.Errorf("scan search path %s: %w", root, err)
	}

	var conflicts []error
	for _, file := range files {
		desc, err := parseManifest(file)
		if err != nil {
			r.logger.Warn("Skipping malformed stage manifest.", "path", file, "error", err)
			continue
		}
		if err := r.installLocked(desc, allowReload); err != nil {
			if errors.Is(err, ErrConflict) {
				r.logger.Warn("Stage registration conflict.", "path", file, "error", err)
				conflicts = append(conflicts, err)
				continue
			}
			r.logger.Warn("Skipping malformed stage manifest.", "path", file, "error", err)
		}
	}
	return errors.Join(conflicts...)
}

// installLocked adds one descriptor to both maps, keeping them consistent.
func (r *Registry) installLocked(desc *stage.Descriptor, allowReload bool) error {
	impl := desc.ImplementationName
	if desc.Kind.Runnable() {
		if _, ok := r.catalog.Lookup(impl); !ok {
			return fmt.Errorf("%w: %q", ErrNoFactory, impl)
		}
	}

	existing, registered := r.byImpl[impl]
	if registered && !allowReload {
		r.logger.Debug("Stage already registered, keeping first registration.",
			"implementation", impl, "source", existing.Source)
		return nil
	}

	key := displayKey(desc.DisplayName)
	if owner, ok := r.byDisplay[key]; ok && owner != impl {
		other := r.byImpl[owner]
		return &RegistrationConflictError{
			DisplayName:       desc.DisplayName,
			Existing:          owner,
			ExistingSource:    other.Source,
			Conflicting:       impl,
			ConflictingSource: desc.Source,
		}
	}

	if registered {
		delete(r.byDisplay, displayKey(existing.DisplayName))
	}
	r.byImpl[impl] = desc
	r.byDisplay[key] = impl
	r.logger.Debug("Registered stage.", "implementation", impl, "display_name", desc.DisplayName, "kind", desc.Kind)
	return nil
}

// GetByImplementationName returns a copy of the descriptor registered under
// the implementation name, or a *NotFoundError.
func (r *Registry) GetByImplementationName(name string) (*stage.Descriptor, error) {
	r.lazyInit()

	r.mu.RLock()
	defer r.mu.RUnlock()
	desc, ok := r.byImpl[name]
	if !ok {
		return nil, &NotFoundError{By: "implementation", Name: name}
	}
	return desc.Clone(), nil
}

// GetByDisplayName returns a copy of the descriptor registered under the
// display name, or a *NotFoundError. Matching ignores case.
func (r *Registry) GetByDisplayName(name string) (*stage.Descriptor, error) {
	r.lazyInit()

	r.mu.RLock()
	defer r.mu.RUnlock()
	impl, ok := r.byDisplay[displayKey(name)]
	if !ok {
		return nil, &NotFoundError{By: "display", Name: name}
	}
	return r.byImpl[impl].Clone(), nil
}

// ListAll returns a snapshot of every registered class sorted by
// implementation name.
func (r *Registry) ListAll() []*stage.Descriptor {
	return r.list(func(*stage.Descriptor) bool { return true })
}

// ListByKind returns a snapshot of the registered classes of one kind.
func (r *Registry) ListByKind(kind stage.Kind) []*stage.Descriptor {
	return r.list(func(d *stage.Descriptor) bool { return d.Kind == kind })
}

func (r *Registry) list(keep func(*stage.Descriptor) bool) []*stage.Descriptor {
	r.lazyInit()

	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*stage.Descriptor, 0, len(r.byImpl))
	for _, desc := range r.byImpl {
		if keep(desc) {
			out = append(out, desc.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ImplementationName < out[j].ImplementationName
	})
	return out
}

// Instantiate creates a fresh stage instance of a registered class.
// Base-kind classes are rejected with ErrAbstractStage.
func (r *Registry) Instantiate(implementationName string) (stage.Stage, error) {
	desc, err := r.GetByImplementationName(implementationName)
	if err != nil {
		return nil, err
	}
	return r.instantiate(desc)
}

// InstantiateByDisplayName is Instantiate keyed by display name.
func (r *Registry) InstantiateByDisplayName(displayName string) (stage.Stage, error) {
	desc, err := r.GetByDisplayName(displayName)
	if err != nil {
		return nil, err
	}
	return r.instantiate(desc)
}

func (r *Registry) instantiate(desc *stage.Descriptor) (stage.Stage, error) {
	if !desc.Kind.Runnable() {
		return nil, fmt.Errorf("%w: %s", ErrAbstractStage, desc.ImplementationName)
	}
	factory, ok := r.catalog.Lookup(desc.ImplementationName)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNoFactory, desc.ImplementationName)
	}
	s, err := factory(desc)
	if err != nil {
		return nil, fmt.Errorf("instantiate %s: %w", desc.ImplementationName, err)
	}
	return s, nil
}

// Paths returns the scanned search paths in registration order.
func (r *Registry) Paths() []string {
	r.lazyInit()

	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.paths)
}

// Clear removes every registration and forgets the remembered search
// paths. Without confirm it only logs a warning.
func (r *Registry) Clear(confirm bool) error {
	if !confirm {
		r.logger.Warn("Registry clear requested without confirmation, nothing was removed.")
		return nil
	}

	r.mu.Lock()
	r.initialized = true
	r.byImpl = make(map[string]*stage.Descriptor)
	r.byDisplay = make(map[string]string)
	r.paths = nil
	r.mu.Unlock()

	var err error
	if r.store != nil {
		err = r.store.ClearPaths()
	}
	r.notify(Event{Cleared: true})
	return err
}

// Subscribe registers fn to be called after every change. The returned
// function removes the subscription.
func (r *Registry) Subscribe(fn func(Event)) func() {
	r.listenerMu.Lock()
	defer r.listenerMu.Unlock()
	id := r.nextListen
	r.nextListen++
	r.listeners[id] = fn
	return func() {
		r.listenerMu.Lock()
		defer r.listenerMu.Unlock()
		delete(r.listeners, id)
	}
}

func (r *Registry) notify(ev Event) {
	r.listenerMu.Lock()
	fns := make([]func(Event), 0, len(r.listeners))
	for _, fn := range r.listeners {
		fns = append(fns, fn)
	}
	r.listenerMu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

func normalizePath(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", fmt.Errorf("resolve search path %s: %w", p, err)
	}
	return filepath.Clean(abs), nil
}
