// Package registry provides a small generic name->item registry, used by the
// node registry, for a process-wide lookup table without resorting to
// package-level globals.
package registry

import "fmt"

// Registry is the capability surface a BaseRegistry provides.
type Registry[T any] interface {
	Register(name string, item T) error
	Get(name string) (T, bool)
	List() []T
	Names() []string
	Remove(name string) error
	Count() int
}

// BaseRegistry is a plain name->item map with no internal locking. Callers
// that mutate a registry concurrently with lookups must serialize that
// themselves. nodes.Discover builds a fresh Registry rather than mutating a
// live one in place, and no caller replaces the node registry after startup.
type BaseRegistry[T any] struct {
	items map[string]T
}

// NewBaseRegistry creates an empty registry.
func NewBaseRegistry[T any]() *BaseRegistry[T] {
	return &BaseRegistry[T]{items: make(map[string]T)}
}

// Register adds item under name. Returns an error if name is empty or
// already registered.
func (r *BaseRegistry[T]) Register(name string, item T) error {
	if name == "" {
		return fmt.Errorf("registry: name cannot be empty")
	}
	if _, exists := r.items[name]; exists {
		return fmt.Errorf("registry: %q already registered", name)
	}
	r.items[name] = item
	return nil
}

// Override adds or replaces item under name unconditionally; it is the
// explicit-override path nodes.Registry.RegisterType takes when asked.
func (r *BaseRegistry[T]) Override(name string, item T) {
	r.items[name] = item
}

// Get looks up an item by name (case-sensitive, per spec.md §4.1).
func (r *BaseRegistry[T]) Get(name string) (T, bool) {
	item, ok := r.items[name]
	return item, ok
}

// List returns every registered item in unspecified order.
func (r *BaseRegistry[T]) List() []T {
	out := make([]T, 0, len(r.items))
	for _, v := range r.items {
		out = append(out, v)
	}
	return out
}

// Names returns every registered name in unspecified order.
func (r *BaseRegistry[T]) Names() []string {
	out := make([]string, 0, len(r.items))
	for k := range r.items {
		out = append(out, k)
	}
	return out
}

// Remove deletes name from the registry.
func (r *BaseRegistry[T]) Remove(name string) error {
	if _, exists := r.items[name]; !exists {
		return fmt.Errorf("registry: %q not found", name)
	}
	delete(r.items, name)
	return nil
}

// Count returns the number of registered items.
func (r *BaseRegistry[T]) Count() int {
	return len(r.items)
}
