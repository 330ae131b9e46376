package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/natserract/retailex/pkg/hub"
)

const (
	selectRecord = `SELECT entity_type, store_id, unique_id, parent_id, attributes FROM retailex_entities WHERE entity_id = $1`
	upsertRecord = `INSERT INTO retailex_entities (entity_id, entity_type, store_id, unique_id, parent_id, attributes)
VALUES ($1, $2, $3, $4, $5, $6::jsonb)
ON CONFLICT (entity_id) DO UPDATE SET parent_id = EXCLUDED.parent_id, attributes = EXCLUDED.attributes, updated_at = now()`
)

// RecordStore keeps hub records in postgres so entities written by one run
// are there for the next.
type RecordStore struct {
	db querier
}

var _ hub.RecordStore = (*RecordStore)(nil)

func NewRecordStore(db querier) *RecordStore {
	return &RecordStore{db: db}
}

func (s *RecordStore) SaveRecord(ctx context.Context, snap hub.Snapshot) error {
	var parent any
	if snap.ParentID != uuid.Nil {
		parent = snap.ParentID
	}
	attrs := string(snap.Attributes)
	if attrs == "" {
		attrs = "{}"
	}
	if _, err := s.db.Exec(ctx, upsertRecord, snap.ID, snap.Type, snap.StoreID, snap.UniqueID, parent, attrs); err != nil {
		return fmt.Errorf("failed to store %s %s: %w", snap.Type, snap.UniqueID, err)
	}
	return nil
}

func (s *RecordStore) LoadRecord(ctx context.Context, id uuid.UUID) (*hub.Snapshot, error) {
	snap := hub.Snapshot{ID: id}
	var parent *uuid.UUID
	err := s.db.QueryRow(ctx, selectRecord, id).Scan(&snap.Type, &snap.StoreID, &snap.UniqueID, &parent, &snap.Attributes)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read entity %s: %w", id, err)
	}
	if parent != nil {
		snap.ParentID = *parent
	}
	return &snap, nil
}
