package registry

import (
	"errors"
	"fmt"
	"sync"

	"shellpm/internal/spec"
)

// ErrDeclaration marks a declaration rejected before entering the registry.
var ErrDeclaration = errors.New("declaration rejected")

type entry struct {
	id         string
	specifiers []spec.Specifier
}

// Registry maps plugin ids to their accumulated raw specifiers. Declaration
// and validation take the write lock; everything else only reads.
type Registry struct {
	mu      sync.RWMutex
	order   []string
	entries map[string]*entry
}

func New() *Registry {
	return &Registry{entries: map[string]*entry{}}
}

// Declare records specifiers for id, merging with any earlier declaration.
func (r *Registry) Declare(id string, specifiers ...string) error {
	if !spec.ValidID(id) {
		return fmt.Errorf("DSL_DECLARE: %w: %w %q", ErrDeclaration, spec.ErrInvalidID, id)
	}
	var parsed []spec.Specifier
	for _, raw := range specifiers {
		items, err := spec.SplitSpecifiers(raw)
		if err != nil {
			return fmt.Errorf("DSL_DECLARE: %w: %s: %v", ErrDeclaration, id, err)
		}
		for _, s := range items {
			if spec.ReservedKey(s.Key) {
				return fmt.Errorf("DSL_DECLARE: %w: %s: key %q is reserved", ErrDeclaration, id, s.Key)
			}
			if !spec.KnownKey(s.Key) {
				return fmt.Errorf("DSL_DECLARE: %w: %s: unknown key %q", ErrDeclaration, id, s.Key)
			}
		}
		parsed = append(parsed, items...)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[id]; ok {
		e.specifiers = spec.Merge(e.specifiers, parsed)
		return nil
	}
	r.entries[id] = &entry{id: id, specifiers: spec.Merge(nil, parsed)}
	r.order = append(r.order, id)
	return nil
}

// Raw returns the accumulated specifier text for id.
func (r *Registry) Raw(id string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return "", false
	}
	return spec.Join(e.specifiers), true
}

// Spec derives the PluginSpec for id. Nothing is cached.
func (r *Registry) Spec(id string, d spec.Defaults) (spec.PluginSpec, bool) {
	raw, ok := r.Raw(id)
	if !ok {
		return spec.PluginSpec{}, false
	}
	return spec.Parse(id, raw, d), true
}

func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[id]
	return ok
}

// Keys returns ids in declaration order.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Select returns the requested ids in the order given, or every key when ids
// is empty. Ids that were never declared are returned separately.
func (r *Registry) Select(ids []string) (known, unknown []string) {
	if len(ids) == 0 {
		return r.Keys(), nil
	}
	seen := map[string]struct{}{}
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if r.Has(id) {
			known = append(known, id)
		} else {
			unknown = append(unknown, id)
		}
	}
	return known, unknown
}

func (r *Registry) remove(id string) {
	delete(r.entries, id)
	for i, k := range r.order {
		if k == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			return
		}
	}
}
