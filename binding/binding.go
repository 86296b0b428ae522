// Package binding holds the catalog that maps watched entities to the
// destination tables and columns they replicate into.
package binding

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/samber/lo"
)

// DefaultHandler is the write handler used when a binding names none.
const DefaultHandler = "sql"

var ErrConflict = errors.New("conflicting entity binding")

// Entity is a watched type and the collection its documents live in.
type Entity struct {
	Name       string `json:"name" toml:"name"`
	Collection string `json:"collection" toml:"collection"`
}

// Binding maps one watched entity to one destination table.
type Binding struct {
	Entity  Entity
	Fields  []string
	Table   string
	Handler string
}

// Catalog is the read-only view consumed by the coordinator and the dispatcher.
type Catalog interface {
	// Bindings returns every registered binding in registration order.
	Bindings() []Binding

	// Entities returns the watched entities, deduplicated by name.
	Entities() []Entity

	// BindingsFor returns the bindings subscribed to the named entity.
	BindingsFor(entity string) []Binding
}

// Registry is the in-process Catalog, populated at wiring time.
type Registry struct {
	bindings []Binding
	mu       sync.RWMutex
}

func NewRegistry(bindings ...Binding) (*Registry, error) {
	r := &Registry{}
	for _, b := range bindings {
		if err := r.Register(b); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a binding. Several bindings may watch the same entity, but
// they must agree on its collection.
func (r *Registry) Register(b Binding) error {
	if strings.TrimSpace(b.Entity.Name) == "" {
		return fmt.Errorf("binding entity name is required")
	}
	if strings.TrimSpace(b.Table) == "" {
		return fmt.Errorf("binding for %s: destination table is required", b.Entity.Name)
	}
	if b.Entity.Collection == "" {
		b.Entity.Collection = b.Entity.Name
	}
	if b.Handler == "" {
		b.Handler = DefaultHandler
	}
	b.Fields = lo.Uniq(lo.Filter(b.Fields, func(f string, _ int) bool {
		return strings.TrimSpace(f) != ""
	}))

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.bindings {
		if existing.Entity.Name != b.Entity.Name {
			continue
		}
		if existing.Entity.Collection != b.Entity.Collection {
			return fmt.Errorf("%w: entity %s watches both %s and %s",
				ErrConflict, b.Entity.Name, existing.Entity.Collection, b.Entity.Collection)
		}
		if existing.Table == b.Table && existing.Handler == b.Handler {
			return fmt.Errorf("%w: entity %s already bound to %s", ErrConflict, b.Entity.Name, b.Table)
		}
	}

	r.bindings = append(r.bindings, b)
	return nil
}

func (r *Registry) Bindings() []Binding {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Binding, len(r.bindings))
	copy(out, r.bindings)
	return out
}

func (r *Registry) Entities() []Entity {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return lo.UniqBy(lo.Map(r.bindings, func(b Binding, _ int) Entity {
		return b.Entity
	}), func(e Entity) string {
		return e.Name
	})
}

func (r *Registry) BindingsFor(entity string) []Binding {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return lo.Filter(r.bindings, func(b Binding, _ int) bool {
		return b.Entity.Name == entity
	})
}

var _ Catalog = (*Registry)(nil)
