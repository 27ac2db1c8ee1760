package datasource

import (
	"fmt"
	"sort"
)

// Registry is the read-only catalog of descriptors keyed by logical key.
type Registry struct {
	byKey map[string]*Descriptor
	keys  []string
}

// NewRegistry validates descs and builds a registry. Later descriptors with
// the same key replace earlier ones, so a catalog file can override the
// built-in defaults.
func NewRegistry(descs []Descriptor) (*Registry, error) {
	r := &Registry{byKey: make(map[string]*Descriptor, len(descs))}
	for i := range descs {
		d := cloneDescriptor(descs[i])
		if err := d.validate(); err != nil {
			return nil, err
		}
		if _, exists := r.byKey[d.Key]; !exists {
			r.keys = append(r.keys, d.Key)
		}
		r.byKey[d.Key] = &d
	}
	sort.Strings(r.keys)
	return r, nil
}

// Resolve returns the active descriptor for key.
func (r *Registry) Resolve(key string) (*Descriptor, error) {
	d, ok := r.byKey[key]
	if !ok || !d.Active {
		return nil, fmt.Errorf("%s: %w", key, ErrSourceNotFound)
	}
	return d, nil
}

// Active returns the active descriptors in key order.
func (r *Registry) Active() []*Descriptor {
	out := make([]*Descriptor, 0, len(r.keys))
	for _, k := range r.keys {
		if d := r.byKey[k]; d.Active {
			out = append(out, d)
		}
	}
	return out
}

// All returns every descriptor, active or not, in key order.
func (r *Registry) All() []*Descriptor {
	out := make([]*Descriptor, 0, len(r.keys))
	for _, k := range r.keys {
		out = append(out, r.byKey[k])
	}
	return out
}

func cloneDescriptor(d Descriptor) Descriptor {
	d.AllowedColumns = append([]string(nil), d.AllowedColumns...)
	d.DefaultFilters = append([]Filter(nil), d.DefaultFilters...)
	if d.OrderBy != nil {
		o := *d.OrderBy
		d.OrderBy = &o
	}
	return d
}

// Keys returns every registered key in order.
func (r *Registry) Keys() []string {
	return append([]string(nil), r.keys...)
}
