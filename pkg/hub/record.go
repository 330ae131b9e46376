package hub

import (
	"maps"
	"sync"

	"github.com/google/uuid"
)

// Record is the in-memory Entity implementation.
type Record struct {
	id         uuid.UUID
	entityType string
	uniqueID   string
	storeID    int
	parent     Entity

	mu    sync.RWMutex
	attrs map[string]any
}

var (
	_ Entity       = (*Record)(nil)
	_ MethodCaller = (*Record)(nil)
)

// NewRecord creates a record with a fresh id. attrs is copied.
func NewRecord(entityType, uniqueID string, storeID int, attrs map[string]any) *Record {
	r := &Record{
		id:         uuid.New(),
		entityType: entityType,
		uniqueID:   uniqueID,
		storeID:    storeID,
		attrs:      make(map[string]any, len(attrs)),
	}
	for k, v := range attrs {
		if v != nil {
			r.attrs[k] = v
		}
	}
	return r
}

// WithParent sets the parent entity and returns r.
func (r *Record) WithParent(parent Entity) *Record {
	r.parent = parent
	return r
}

func (r *Record) ID() uuid.UUID    { return r.id }
func (r *Record) Type() string     { return r.entityType }
func (r *Record) UniqueID() string { return r.uniqueID }
func (r *Record) StoreID() int     { return r.storeID }
func (r *Record) Parent() Entity   { return r.parent }

func (r *Record) Attribute(code string) any {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.attrs[code]
}

// Attributes returns a copy of all attributes.
func (r *Record) Attributes() map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return maps.Clone(r.attrs)
}

// CallMethod exposes the record's identity to the mapping engine.
func (r *Record) CallMethod(name string) (any, bool) {
	switch name {
	case "id":
		return r.id.String(), true
	case "uniqueId":
		return r.uniqueID, true
	case "storeId":
		return r.storeID, true
	case "type":
		return r.entityType, true
	}
	return nil, false
}

func (r *Record) apply(data map[string]any, merge bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, v := range data {
		if v == nil {
			delete(r.attrs, k)
			continue
		}
		if merge {
			if existing, ok := r.attrs[k].(map[string]any); ok {
				if incoming, ok := v.(map[string]any); ok {
					merged := maps.Clone(existing)
					maps.Copy(merged, incoming)
					r.attrs[k] = merged
					continue
				}
			}
		}
		r.attrs[k] = v
	}
}
