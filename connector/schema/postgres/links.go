package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/natserract/retailex/pkg/hub"
	"go.uber.org/zap"
)

const (
	selectLocalID = `SELECT local_id FROM retailex_links WHERE node_id = $1 AND entity_id = $2`
	selectEntity  = `SELECT entity_id FROM retailex_links WHERE node_id = $1 AND entity_type = $2 AND local_id = $3`
	insertLink    = `INSERT INTO retailex_links (node_id, entity_id, entity_type, local_id) VALUES ($1, $2, $3, $4)`
	deleteLink    = `DELETE FROM retailex_links WHERE node_id = $1 AND entity_id = $2`
)

// LinkStore keeps hub entity to backend id links in postgres.
type LinkStore struct {
	db     querier
	logger *zap.Logger
}

var _ hub.LinkStore = (*LinkStore)(nil)

func NewLinkStore(db querier, logger *zap.Logger) *LinkStore {
	return &LinkStore{db: db, logger: logger}
}

func (s *LinkStore) LocalID(ctx context.Context, nodeID int, entityID uuid.UUID) (string, error) {
	var localID string
	err := s.db.QueryRow(ctx, selectLocalID, nodeID, entityID).Scan(&localID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read link for %s: %w", entityID, err)
	}
	return localID, nil
}

func (s *LinkStore) EntityID(ctx context.Context, nodeID int, entityType, localID string) (uuid.UUID, bool, error) {
	var id uuid.UUID
	err := s.db.QueryRow(ctx, selectEntity, nodeID, entityType, localID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("failed to read link for %s %s: %w", entityType, localID, err)
	}
	return id, true, nil
}

// Link is idempotent for the same pair. Linking an entity to a second id, or
// an id to a second entity, fails with hub.ErrAlreadyLinked.
func (s *LinkStore) Link(ctx context.Context, nodeID int, entityID uuid.UUID, entityType, localID string) error {
	existing, err := s.LocalID(ctx, nodeID, entityID)
	if err != nil {
		return err
	}
	if existing == localID {
		return nil
	}
	if existing != "" {
		return fmt.Errorf("%w to %s", hub.ErrAlreadyLinked, existing)
	}

	if _, err := s.db.Exec(ctx, insertLink, nodeID, entityID, entityType, localID); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: local id %s is linked to another %s", hub.ErrAlreadyLinked, localID, entityType)
		}
		return fmt.Errorf("failed to store link: %w", err)
	}
	s.logger.Debug("Stored link",
		zap.Int("node_id", nodeID),
		zap.String("entity_id", entityID.String()),
		zap.String("local_id", localID))
	return nil
}

func (s *LinkStore) Unlink(ctx context.Context, nodeID int, entityID uuid.UUID) error {
	if _, err := s.db.Exec(ctx, deleteLink, nodeID, entityID); err != nil {
		return fmt.Errorf("failed to delete link: %w", err)
	}
	return nil
}

// isUniqueViolation checks for pgx error code 23505 (unique_violation)
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
