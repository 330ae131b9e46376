// Package gateway holds the per-entity-type adapters between the hub and
// Retail Express. Each gateway builds payloads through the mapping engine and
// calls the backend through a soap.Caller.
package gateway

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/natserract/retailex/pkg/config"
	"github.com/natserract/retailex/pkg/hub"
	"github.com/natserract/retailex/pkg/retailex/mapping"
	"github.com/natserract/retailex/pkg/retailex/refdata"
	"github.com/natserract/retailex/pkg/retailex/soap"
	"go.uber.org/zap"
)

// Gateway handles one entity type for one node.
type Gateway interface {
	EntityType() string
	// Retrieve pulls changes since the last watermark and returns the
	// number of hub entities written.
	Retrieve(ctx context.Context) (int, error)
	WriteUpdates(ctx context.Context, e hub.Entity, changed []string, updateType hub.UpdateType) error
	WriteAction(ctx context.Context, action hub.Action) error
}

// Deps are the capabilities a gateway needs from its node.
type Deps struct {
	NodeID     int
	Soap       soap.Caller
	Entities   hub.EntityService
	Config     hub.ConfigReader
	Timestamps hub.TimestampTracker
	RefData    *refdata.Tables
	Logger     *zap.Logger

	// ForceResync widens the retrieve window backwards over the last run.
	ForceResync bool
	// Now defaults to time.Now.
	Now func() time.Time
}

type base struct {
	entityType string
	nodeID     int
	soap       soap.Caller
	entities   hub.EntityService
	config     hub.ConfigReader
	timestamps hub.TimestampTracker
	engine     *mapping.Engine
	force      bool
	now        func() time.Time
	logger     *zap.Logger
}

func newBase(entityType string, d Deps, registry *mapping.Registry) base {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.Int("node_id", d.NodeID), zap.String("entity_type", entityType))
	now := d.Now
	if now == nil {
		now = time.Now
	}

	b := base{
		entityType: entityType,
		nodeID:     d.NodeID,
		soap:       d.Soap,
		entities:   d.Entities,
		config:     d.Config,
		timestamps: d.Timestamps,
		force:      d.ForceResync,
		now:        now,
		logger:     logger,
	}
	reg := commonRegistry(b.channelID)
	if registry != nil {
		reg.Merge(registry)
	}
	b.engine = mapping.NewEngine(reg, logger)
	return b
}

func (b *base) EntityType() string {
	return b.entityType
}

func (b *base) channelID() string {
	return b.config.Get(config.KeyChannel)
}

// channelNumber is the channel id as the numeric value some calls require.
func (b *base) channelNumber() (int, error) {
	id, err := strconv.Atoi(b.channelID())
	if err != nil {
		return 0, fmt.Errorf("channel id %q is not numeric: %w", b.channelID(), err)
	}
	return id, nil
}

// retrieveWindow returns the LastUpdated value to send and the watermark to
// store once the retrieve succeeds.
func (b *base) retrieveWindow(ctx context.Context) (since, next time.Time, err error) {
	next = b.now().UTC()
	last, err := b.timestamps.LastRetrieve(ctx, b.nodeID, b.entityType)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("failed to read retrieve watermark: %w", err)
	}
	if last.IsZero() {
		return time.Unix(0, 0).UTC(), next, nil
	}
	if b.force {
		return ForcedResyncSince(last, next), next, nil
	}
	return last.UTC(), next, nil
}

func (b *base) commitRetrieve(ctx context.Context, next time.Time) error {
	if err := b.timestamps.SetLastRetrieve(ctx, b.nodeID, b.entityType, next); err != nil {
		return fmt.Errorf("failed to store retrieve watermark: %w", err)
	}
	return nil
}

// ForcedResyncSince looks back over the previous retrieve window. The
// overlap shrinks from 2.4 to 1.2 windows as the window grows to 72 minutes
// and never exceeds the window plus one hour.
func ForcedResyncSince(last, next time.Time) time.Time {
	interval := next.Sub(last).Seconds()
	before := 2.4 - math.Min(1.2, math.Max(0, interval/3600))
	back := math.Min(interval*before, interval+3600)
	return last.Add(-time.Duration(back * float64(time.Second))).UTC()
}

// linkCreated links e to localID once. A second link attempt is reported.
func (b *base) linkCreated(ctx context.Context, e hub.Entity, localID string) error {
	if localID == "" {
		return fmt.Errorf("%w: backend did not return an id for %s %s", ErrUnexpectedResponse, e.Type(), e.UniqueID())
	}
	if err := b.entities.Link(ctx, b.nodeID, e, localID); err != nil {
		return fmt.Errorf("failed to link %s %s to %s: %w", e.Type(), e.UniqueID(), localID, err)
	}
	return nil
}

// writeResult is the single log record of an outbound write.
type writeResult struct {
	Operation string
	Entity    hub.Entity
	Update    string
	LocalID   string
	Linked    bool
	Skipped   string
	Err       error
}

func (b *base) logWrite(r writeResult) {
	fields := []zap.Field{
		zap.String("operation", r.Operation),
		zap.String("update_type", r.Update),
		zap.String("local_id", r.LocalID),
		zap.Bool("linked", r.Linked),
	}
	if r.Entity != nil {
		fields = append(fields, zap.String("unique_id", r.Entity.UniqueID()), zap.String("entity_id", r.Entity.ID().String()))
	}
	switch {
	case r.Err != nil:
		b.logger.Error("Write failed", append(fields, zap.Error(r.Err))...)
	case r.Skipped != "":
		b.logger.Info("Write skipped", append(fields, zap.String("reason", r.Skipped))...)
	default:
		b.logger.Info("Write completed", fields...)
	}
}

// upsert writes an inbound record: load by unique id, else by backend id,
// else create; then make sure the link points at localID.
func (b *base) upsert(ctx context.Context, entityType, uniqueID, localID string, data map[string]any) (hub.Entity, bool, error) {
	e, err := b.entities.Load(ctx, b.nodeID, entityType, 0, uniqueID)
	if err != nil {
		return nil, false, err
	}
	if e == nil {
		if e, err = b.entities.LoadByLocalID(ctx, b.nodeID, entityType, 0, localID); err != nil {
			return nil, false, err
		}
	}

	created := false
	if e == nil {
		if e, err = b.entities.Create(ctx, b.nodeID, entityType, 0, uniqueID, data, nil); err != nil {
			return nil, false, fmt.Errorf("failed to create %s %s: %w", entityType, uniqueID, err)
		}
		created = true
	} else if err := b.entities.Update(ctx, b.nodeID, e, data, false); err != nil {
		return nil, false, fmt.Errorf("failed to update %s %s: %w", entityType, uniqueID, err)
	}

	if err := b.relink(ctx, e, localID); err != nil {
		return nil, false, err
	}
	return e, created, nil
}

// relink points e at localID, unlinking a stale id first.
func (b *base) relink(ctx context.Context, e hub.Entity, localID string) error {
	current, err := b.entities.LocalID(ctx, b.nodeID, e)
	if err != nil {
		return err
	}
	if current == localID {
		return nil
	}
	if current != "" {
		b.logger.Warn("Correcting stale link",
			zap.String("unique_id", e.UniqueID()),
			zap.String("old_local_id", current),
			zap.String("local_id", localID))
		if err := b.entities.Unlink(ctx, b.nodeID, e); err != nil {
			return fmt.Errorf("failed to unlink %s %s: %w", e.Type(), e.UniqueID(), err)
		}
	}
	if err := b.entities.Link(ctx, b.nodeID, e, localID); err != nil {
		return fmt.Errorf("failed to link %s %s: %w", e.Type(), e.UniqueID(), err)
	}
	return nil
}

// reconcile handles a duplicate-key create by looking the record up and
// linking it. lookup returns "" when the record cannot be found.
func (b *base) reconcile(ctx context.Context, e hub.Entity, cause error, lookup func(context.Context) (string, error)) (string, error) {
	b.logger.Warn("Backend reports duplicate key, reading back",
		zap.String("unique_id", e.UniqueID()),
		zap.Error(cause))

	localID, err := lookup(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: read-back failed: %v (create failed: %v)", ErrDuplicateKey, err, cause)
	}
	if localID == "" {
		return "", fmt.Errorf("%w: no record found for %s (create failed: %v)", ErrDuplicateKey, e.UniqueID(), cause)
	}
	if err := b.linkCreated(ctx, e, localID); err != nil {
		return "", err
	}
	return localID, nil
}
