package hub

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrAlreadyLinked = errors.New("entity is already linked")
	ErrNotFound      = errors.New("entity not found")
	ErrDuplicate     = errors.New("entity already exists")
)

// LinkStore persists the mapping between hub entities and backend ids.
type LinkStore interface {
	LocalID(ctx context.Context, nodeID int, entityID uuid.UUID) (string, error)
	EntityID(ctx context.Context, nodeID int, entityType, localID string) (uuid.UUID, bool, error)
	Link(ctx context.Context, nodeID int, entityID uuid.UUID, entityType, localID string) error
	Unlink(ctx context.Context, nodeID int, entityID uuid.UUID) error
}

// recordNamespace seeds StableID.
var recordNamespace = uuid.MustParse("5f0c1d2e-8a47-4b7e-9a31-6c2d8e4f1a90")

// StableID derives an entity id from its natural key, so records recreated by
// a later run keep the links stored for them.
func StableID(entityType string, storeID int, uniqueID string) uuid.UUID {
	return uuid.NewSHA1(recordNamespace, []byte(fmt.Sprintf("%s/%d/%s", entityType, storeID, uniqueID)))
}

type recordKey struct {
	entityType string
	storeID    int
	uniqueID   string
}

// Store is an EntityService holding records in memory. Links are kept in
// memory unless a LinkStore is supplied. With a RecordStore, created and
// updated records are written through and records missing from memory are
// loaded from it.
type Store struct {
	mu      sync.RWMutex
	records map[uuid.UUID]*Record
	byKey   map[recordKey]uuid.UUID
	links   LinkStore
	persist RecordStore
	logger  *zap.Logger
}

var _ EntityService = (*Store)(nil)

func NewStore(logger *zap.Logger) *Store {
	return NewStoreWithLinks(NewMemoryLinks(), logger)
}

func NewStoreWithLinks(links LinkStore, logger *zap.Logger) *Store {
	return NewPersistentStore(links, nil, logger)
}

// NewPersistentStore backs the store with records. A nil RecordStore keeps
// everything in memory.
func NewPersistentStore(links LinkStore, records RecordStore, logger *zap.Logger) *Store {
	return &Store{
		persist: records,
		records: make(map[uuid.UUID]*Record),
		byKey:   make(map[recordKey]uuid.UUID),
		links:   links,
		logger:  logger,
	}
}

// fetch returns the record with id from memory, falling back to the
// RecordStore. It returns nil when neither has it.
func (s *Store) fetch(ctx context.Context, id uuid.UUID) (*Record, error) {
	s.mu.RLock()
	r, ok := s.records[id]
	s.mu.RUnlock()
	if ok || s.persist == nil || id == uuid.Nil {
		return r, nil
	}

	snap, err := s.persist.LoadRecord(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load entity %s: %w", id, err)
	}
	if snap == nil {
		return nil, nil
	}
	return s.restore(ctx, snap)
}

func (s *Store) restore(ctx context.Context, snap *Snapshot) (*Record, error) {
	var parent Entity
	if snap.ParentID != uuid.Nil && snap.ParentID != snap.ID {
		p, err := s.fetch(ctx, snap.ParentID)
		if err != nil {
			return nil, err
		}
		if p != nil {
			parent = p
		}
	}
	attrs, err := decodeAttributes(snap.Attributes, s.cached)
	if err != nil {
		return nil, fmt.Errorf("failed to restore %s %s: %w", snap.Type, snap.UniqueID, err)
	}
	r := NewRecord(snap.Type, snap.UniqueID, snap.StoreID, attrs).WithParent(parent)
	r.id = snap.ID

	s.mu.Lock()
	defer s.mu.Unlock()
	// another caller may have restored it first
	if existing, ok := s.records[r.id]; ok {
		return existing, nil
	}
	s.records[r.id] = r
	s.byKey[recordKey{r.entityType, r.storeID, r.uniqueID}] = r.id
	return r, nil
}

func (s *Store) cached(id uuid.UUID) *Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.records[id]
}

func (s *Store) save(ctx context.Context, r *Record) error {
	if s.persist == nil {
		return nil
	}
	snap, err := r.snapshot()
	if err != nil {
		return err
	}
	if err := s.persist.SaveRecord(ctx, snap); err != nil {
		return fmt.Errorf("failed to save %s %s: %w", r.entityType, r.uniqueID, err)
	}
	return nil
}

// Add registers an existing record, e.g. one built by a test or loaded elsewhere.
func (s *Store) Add(r *Record) *Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[r.id] = r
	s.byKey[recordKey{r.entityType, r.storeID, r.uniqueID}] = r.id
	return r
}

func (s *Store) Get(id uuid.UUID) (*Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[id]
	return r, ok
}

// Records returns all records of the given type.
func (s *Store) Records(entityType string) []*Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Record
	for _, r := range s.records {
		if r.entityType == entityType {
			out = append(out, r)
		}
	}
	return out
}

func (s *Store) LocalID(ctx context.Context, nodeID int, e Entity) (string, error) {
	return s.links.LocalID(ctx, nodeID, e.ID())
}

func (s *Store) Link(ctx context.Context, nodeID int, e Entity, localID string) error {
	if err := s.links.Link(ctx, nodeID, e.ID(), e.Type(), localID); err != nil {
		return fmt.Errorf("failed to link %s %s to %s: %w", e.Type(), e.UniqueID(), localID, err)
	}
	s.logger.Debug("Linked entity",
		zap.Int("node_id", nodeID),
		zap.String("type", e.Type()),
		zap.String("unique_id", e.UniqueID()),
		zap.String("local_id", localID))
	return nil
}

func (s *Store) Unlink(ctx context.Context, nodeID int, e Entity) error {
	if err := s.links.Unlink(ctx, nodeID, e.ID()); err != nil {
		return fmt.Errorf("failed to unlink %s %s: %w", e.Type(), e.UniqueID(), err)
	}
	return nil
}

func (s *Store) Load(ctx context.Context, nodeID int, entityType string, storeID int, uniqueID string) (Entity, error) {
	s.mu.RLock()
	id, ok := s.byKey[recordKey{entityType, storeID, uniqueID}]
	s.mu.RUnlock()
	if !ok {
		id = StableID(entityType, storeID, uniqueID)
	}
	r, err := s.fetch(ctx, id)
	if err != nil || r == nil {
		return nil, err
	}
	if r.entityType != entityType || r.storeID != storeID || r.uniqueID != uniqueID {
		return nil, nil
	}
	return r, nil
}

func (s *Store) LoadByLocalID(ctx context.Context, nodeID int, entityType string, storeID int, localID string) (Entity, error) {
	id, ok, err := s.links.EntityID(ctx, nodeID, entityType, localID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	r, err := s.fetch(ctx, id)
	if err != nil || r == nil {
		return nil, err
	}
	if r.storeID != storeID {
		return nil, nil
	}
	return r, nil
}

func (s *Store) Create(ctx context.Context, nodeID int, entityType string, storeID int, uniqueID string, data map[string]any, parent Entity) (Entity, error) {
	key := recordKey{entityType, storeID, uniqueID}
	r := NewRecord(entityType, uniqueID, storeID, data).WithParent(parent)
	r.id = StableID(entityType, storeID, uniqueID)
	// pulls a persisted twin into memory so the duplicate check sees it
	if _, err := s.fetch(ctx, r.id); err != nil {
		return nil, err
	}

	s.mu.Lock()
	if _, exists := s.byKey[key]; exists {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s %s", ErrDuplicate, entityType, uniqueID)
	}
	s.records[r.id] = r
	s.byKey[key] = r.id
	s.mu.Unlock()

	if err := s.save(ctx, r); err != nil {
		s.mu.Lock()
		delete(s.records, r.id)
		delete(s.byKey, key)
		s.mu.Unlock()
		return nil, err
	}
	s.logger.Debug("Created entity",
		zap.Int("node_id", nodeID),
		zap.String("type", entityType),
		zap.String("unique_id", uniqueID))
	return r, nil
}

func (s *Store) Update(ctx context.Context, nodeID int, e Entity, data map[string]any, merge bool) error {
	s.mu.RLock()
	r, ok := s.records[e.ID()]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s %s", ErrNotFound, e.Type(), e.UniqueID())
	}
	r.apply(data, merge)
	return s.save(ctx, r)
}

type linkKey struct {
	nodeID   int
	entityID uuid.UUID
}

type localKey struct {
	nodeID     int
	entityType string
	localID    string
}

// MemoryLinks is an in-memory LinkStore.
type MemoryLinks struct {
	mu      sync.RWMutex
	byID    map[linkKey]string
	byLocal map[localKey]uuid.UUID
	types   map[linkKey]string
}

func NewMemoryLinks() *MemoryLinks {
	return &MemoryLinks{
		byID:    make(map[linkKey]string),
		byLocal: make(map[localKey]uuid.UUID),
		types:   make(map[linkKey]string),
	}
}

func (m *MemoryLinks) LocalID(ctx context.Context, nodeID int, entityID uuid.UUID) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.byID[linkKey{nodeID, entityID}], nil
}

func (m *MemoryLinks) EntityID(ctx context.Context, nodeID int, entityType, localID string) (uuid.UUID, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byLocal[localKey{nodeID, entityType, localID}]
	return id, ok, nil
}

func (m *MemoryLinks) Link(ctx context.Context, nodeID int, entityID uuid.UUID, entityType, localID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := linkKey{nodeID, entityID}
	if existing, ok := m.byID[k]; ok {
		if existing == localID {
			return nil
		}
		return fmt.Errorf("%w to %s", ErrAlreadyLinked, existing)
	}
	lk := localKey{nodeID, entityType, localID}
	if other, ok := m.byLocal[lk]; ok && other != entityID {
		return fmt.Errorf("%w: local id %s belongs to %s", ErrAlreadyLinked, localID, other)
	}
	m.byID[k] = localID
	m.byLocal[lk] = entityID
	m.types[k] = entityType
	return nil
}

func (m *MemoryLinks) Unlink(ctx context.Context, nodeID int, entityID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := linkKey{nodeID, entityID}
	localID, ok := m.byID[k]
	if !ok {
		return nil
	}
	delete(m.byLocal, localKey{nodeID, m.types[k], localID})
	delete(m.byID, k)
	delete(m.types, k)
	return nil
}

// MemoryTimestamps is an in-memory TimestampTracker.
type MemoryTimestamps struct {
	mu    sync.RWMutex
	times map[string]time.Time
}

func NewMemoryTimestamps() *MemoryTimestamps {
	return &MemoryTimestamps{times: make(map[string]time.Time)}
}

func (m *MemoryTimestamps) LastRetrieve(ctx context.Context, nodeID int, entityType string) (time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.times[fmt.Sprintf("%d/%s", nodeID, entityType)], nil
}

func (m *MemoryTimestamps) SetLastRetrieve(ctx context.Context, nodeID int, entityType string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.times[fmt.Sprintf("%d/%s", nodeID, entityType)] = at
	return nil
}
