package mapping

import "github.com/natserract/retailex/pkg/hub"

// EntityFunc computes a value from an entity.
type EntityFunc func(e hub.Entity) (any, error)

// ValueFunc transforms an attribute value.
type ValueFunc func(v any) (any, error)

// NoArgFunc produces a value from gateway state alone.
type NoArgFunc func() (any, error)

// Registry holds the methods a FieldMap may name. Methods are grouped by
// the argument they take.
type Registry struct {
	entity map[string]EntityFunc
	value  map[string]ValueFunc
	noArg  map[string]NoArgFunc
}

func NewRegistry() *Registry {
	return &Registry{
		entity: make(map[string]EntityFunc),
		value:  make(map[string]ValueFunc),
		noArg:  make(map[string]NoArgFunc),
	}
}

func (r *Registry) Entity(name string, fn EntityFunc) *Registry {
	r.entity[name] = fn
	return r
}

func (r *Registry) Value(name string, fn ValueFunc) *Registry {
	r.value[name] = fn
	return r
}

func (r *Registry) NoArg(name string, fn NoArgFunc) *Registry {
	r.noArg[name] = fn
	return r
}

// Merge copies all methods of other into r, overriding same-named ones.
func (r *Registry) Merge(other *Registry) *Registry {
	for k, v := range other.entity {
		r.entity[k] = v
	}
	for k, v := range other.value {
		r.value[k] = v
	}
	for k, v := range other.noArg {
		r.noArg[k] = v
	}
	return r
}
