package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/natserract/retailex/pkg/hub"
)

const (
	selectLastRetrieve = `SELECT last_retrieve FROM retailex_retrieve_timestamps WHERE node_id = $1 AND entity_type = $2`
	upsertLastRetrieve = `INSERT INTO retailex_retrieve_timestamps (node_id, entity_type, last_retrieve)
VALUES ($1, $2, $3)
ON CONFLICT (node_id, entity_type) DO UPDATE SET last_retrieve = EXCLUDED.last_retrieve, updated_at = now()`
)

// TimestampTracker stores retrieve watermarks in postgres.
type TimestampTracker struct {
	db querier
}

var _ hub.TimestampTracker = (*TimestampTracker)(nil)

func NewTimestampTracker(db querier) *TimestampTracker {
	return &TimestampTracker{db: db}
}

// LastRetrieve returns the zero time when no retrieve has completed yet.
func (t *TimestampTracker) LastRetrieve(ctx context.Context, nodeID int, entityType string) (time.Time, error) {
	var at time.Time
	err := t.db.QueryRow(ctx, selectLastRetrieve, nodeID, entityType).Scan(&at)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read watermark for %s: %w", entityType, err)
	}
	return at.UTC(), nil
}

func (t *TimestampTracker) SetLastRetrieve(ctx context.Context, nodeID int, entityType string, at time.Time) error {
	if _, err := t.db.Exec(ctx, upsertLastRetrieve, nodeID, entityType, at.UTC()); err != nil {
		return fmt.Errorf("failed to store watermark for %s: %w", entityType, err)
	}
	return nil
}
