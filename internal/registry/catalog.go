package registry

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/nao1215/reductree/internal/stage"
)

// Module is implemented by every stage package compiled into the binary.
type Module interface {
	Register(c *Catalog)
}

// Catalog maps implementation names to compiled factories.
type Catalog struct {
	mu        sync.RWMutex
	factories map[string]stage.Factory
}

// NewCatalog creates a catalog and lets every module register into it.
func NewCatalog(modules ...Module) *Catalog {
	c := &Catalog{factories: make(map[string]stage.Factory)}
	for _, m := range modules {
		m.Register(c)
	}
	return c
}

// Register adds a factory. Registering the same implementation name twice
// is a programming error and panics.
func (c *Catalog) Register(implementationName string, factory stage.Factory) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.factories[implementationName]; exists {
		panic(fmt.Sprintf("stage factory %q already registered", implementationName))
	}
	slog.Debug("Registering stage factory.", "implementation", implementationName)
	c.factories[implementationName] = factory
}

// Lookup returns the factory for an implementation name.
func (c *Catalog) Lookup(implementationName string) (stage.Factory, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	f, ok := c.factories[implementationName]
	return f, ok
}

// Names returns the sorted implementation names of all factories.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.factories))
	for name := range c.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
