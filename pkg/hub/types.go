// Package hub defines the contracts the connector expects from the host
// commerce hub: entities, actions, identity links and retrieve watermarks.
package hub

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Entity types handled by the connector.
const (
	TypeCustomer  = "customer"
	TypeAddress   = "address"
	TypeProduct   = "product"
	TypeStockItem = "stockitem"
	TypeOrder     = "order"
	TypeOrderItem = "orderitem"
)

// UpdateType tells a gateway why it is asked to write an entity.
type UpdateType int

const (
	UpdateTypeUpdate UpdateType = iota
	UpdateTypeCreate
	UpdateTypeDelete
)

func (t UpdateType) String() string {
	switch t {
	case UpdateTypeCreate:
		return "create"
	case UpdateTypeDelete:
		return "delete"
	}
	return "update"
}

// Entity is a read-only view of a hub record.
type Entity interface {
	ID() uuid.UUID
	Type() string
	UniqueID() string
	StoreID() int
	// Attribute returns nil when the attribute is not set.
	Attribute(code string) any
	Parent() Entity
}

// MethodCaller is implemented by entities that expose named accessors to the
// mapping engine.
type MethodCaller interface {
	CallMethod(name string) (any, bool)
}

// Action is a state transition requested by the hub, e.g. "cancel" on an order.
type Action struct {
	ID     uuid.UUID
	Type   string
	Entity Entity
	Data   map[string]any
}

// EntityService is the host's entity storage and identity-link service.
// Load methods return (nil, nil) when nothing matches.
type EntityService interface {
	LocalID(ctx context.Context, nodeID int, e Entity) (string, error)
	Link(ctx context.Context, nodeID int, e Entity, localID string) error
	Unlink(ctx context.Context, nodeID int, e Entity) error

	Load(ctx context.Context, nodeID int, entityType string, storeID int, uniqueID string) (Entity, error)
	LoadByLocalID(ctx context.Context, nodeID int, entityType string, storeID int, localID string) (Entity, error)
	Create(ctx context.Context, nodeID int, entityType string, storeID int, uniqueID string, data map[string]any, parent Entity) (Entity, error)
	// Update writes data onto e. nil values unset attributes. With merge,
	// map values are merged into existing maps instead of replacing them.
	Update(ctx context.Context, nodeID int, e Entity, data map[string]any, merge bool) error
}

// TimestampTracker stores retrieve watermarks per node and entity type.
type TimestampTracker interface {
	LastRetrieve(ctx context.Context, nodeID int, entityType string) (time.Time, error)
	SetLastRetrieve(ctx context.Context, nodeID int, entityType string, at time.Time) error
}

// ConfigReader exposes node configuration by key.
type ConfigReader interface {
	Get(key string) string
}
