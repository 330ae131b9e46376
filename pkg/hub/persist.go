package hub

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Snapshot is the storable form of a Record. Attributes is a JSON object in
// which nested entities are embedded under entityKey and entity lists under
// entityListKey.
type Snapshot struct {
	ID         uuid.UUID
	Type       string
	StoreID    int
	UniqueID   string
	ParentID   uuid.UUID
	Attributes []byte
}

// RecordStore persists records so a later process can load them again.
// LoadRecord returns (nil, nil) for an unknown id.
type RecordStore interface {
	SaveRecord(ctx context.Context, s Snapshot) error
	LoadRecord(ctx context.Context, id uuid.UUID) (*Snapshot, error)
}

const (
	entityKey     = "$entity"
	entityListKey = "$entities"
	maxEmbedDepth = 8
)

type embedded struct {
	ID         uuid.UUID      `json:"id"`
	Type       string         `json:"type"`
	StoreID    int            `json:"storeId"`
	UniqueID   string         `json:"uniqueId"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// snapshot encodes r for a RecordStore.
func (r *Record) snapshot() (Snapshot, error) {
	attrs, err := json.Marshal(encodeAttributes(r.Attributes(), 0))
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to encode %s %s: %w", r.entityType, r.uniqueID, err)
	}
	s := Snapshot{
		ID:         r.id,
		Type:       r.entityType,
		StoreID:    r.storeID,
		UniqueID:   r.uniqueID,
		Attributes: attrs,
	}
	if r.parent != nil {
		s.ParentID = r.parent.ID()
	}
	return s, nil
}

func encodeAttributes(attrs map[string]any, depth int) map[string]any {
	out := make(map[string]any, len(attrs))
	for k, v := range attrs {
		out[k] = encodeValue(v, depth)
	}
	return out
}

func encodeValue(v any, depth int) any {
	switch t := v.(type) {
	case Entity:
		return map[string]any{entityKey: embed(t, depth)}
	case []Entity:
		list := make([]embedded, 0, len(t))
		for _, e := range t {
			list = append(list, embed(e, depth))
		}
		return map[string]any{entityListKey: list}
	case []*Record:
		list := make([]embedded, 0, len(t))
		for _, e := range t {
			list = append(list, embed(e, depth))
		}
		return map[string]any{entityListKey: list}
	case map[string]any:
		return encodeAttributes(t, depth)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = encodeValue(item, depth)
		}
		return out
	}
	return v
}

func embed(e Entity, depth int) embedded {
	out := embedded{ID: e.ID(), Type: e.Type(), StoreID: e.StoreID(), UniqueID: e.UniqueID()}
	if r, ok := e.(*Record); ok && depth < maxEmbedDepth {
		out.Attributes = encodeAttributes(r.Attributes(), depth+1)
	}
	return out
}

// decodeAttributes reverses encodeAttributes. Whole numbers come back as
// int64, other numbers as decimal.Decimal. Embedded entities resolve through
// known when it holds them and are rebuilt as detached records otherwise.
func decodeAttributes(raw []byte, known func(uuid.UUID) *Record) (map[string]any, error) {
	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var attrs map[string]any
	if err := dec.Decode(&attrs); err != nil {
		return nil, fmt.Errorf("failed to decode attributes: %w", err)
	}
	d := decoder{known: known}
	for k, v := range attrs {
		attrs[k] = d.value(v)
	}
	return attrs, nil
}

type decoder struct {
	known func(uuid.UUID) *Record
}

func (d decoder) value(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := strconv.ParseInt(t.String(), 10, 64); err == nil {
			return i
		}
		if dv, err := decimal.NewFromString(t.String()); err == nil {
			return dv
		}
		return t.String()
	case []any:
		for i, item := range t {
			t[i] = d.value(item)
		}
		return t
	case map[string]any:
		if e, ok := t[entityKey]; ok && len(t) == 1 {
			return d.entity(e)
		}
		if list, ok := t[entityListKey].([]any); ok && len(t) == 1 {
			out := make([]Entity, 0, len(list))
			for _, item := range list {
				if r := d.entity(item); r != nil {
					out = append(out, r)
				}
			}
			return out
		}
		for k, item := range t {
			t[k] = d.value(item)
		}
		return t
	}
	return v
}

func (d decoder) entity(v any) *Record {
	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	id, err := uuid.Parse(fmt.Sprint(m["id"]))
	if err != nil {
		return nil
	}
	if d.known != nil {
		if r := d.known(id); r != nil {
			return r
		}
	}

	storeID, _ := d.value(m["storeId"]).(int64)
	attrs, _ := m["attributes"].(map[string]any)
	for k, item := range attrs {
		attrs[k] = d.value(item)
	}
	r := NewRecord(fmt.Sprint(m["type"]), fmt.Sprint(m["uniqueId"]), int(storeID), attrs)
	r.id = id
	return r
}

// MemoryRecords is an in-memory RecordStore. Snapshots outlive the Store
// that wrote them, which is what tests of restarts need.
type MemoryRecords struct {
	mu    sync.RWMutex
	snaps map[uuid.UUID]Snapshot
}

func NewMemoryRecords() *MemoryRecords {
	return &MemoryRecords{snaps: make(map[uuid.UUID]Snapshot)}
}

func (m *MemoryRecords) SaveRecord(ctx context.Context, s Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snaps[s.ID] = s
	return nil
}

func (m *MemoryRecords) LoadRecord(ctx context.Context, id uuid.UUID) (*Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.snaps[id]
	if !ok {
		return nil, nil
	}
	return &s, nil
}
