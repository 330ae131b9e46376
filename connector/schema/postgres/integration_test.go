//go:build integration

package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/natserract/retailex/pkg/hub"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("retailex_test"),
		tcpostgres.WithUsername("postgres"),
		tcpostgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err, "Failed to start PostgreSQL container")
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := Open(ctx, dsn, PoolLimits{}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(db.Close)

	require.NoError(t, db.InitSchema(ctx))
	// a second run is a no-op
	require.NoError(t, db.InitSchema(ctx))
	return db
}

func TestLinkStoreAgainstPostgres(t *testing.T) {
	db := newTestDB(t)
	links := db.Links()
	ctx := context.Background()
	a, b := uuid.New(), uuid.New()

	require.NoError(t, links.Link(ctx, 1, a, hub.TypeCustomer, "10"))
	require.NoError(t, links.Link(ctx, 1, a, hub.TypeCustomer, "10"))

	localID, err := links.LocalID(ctx, 1, a)
	require.NoError(t, err)
	assert.Equal(t, "10", localID)

	id, ok, err := links.EntityID(ctx, 1, hub.TypeCustomer, "10")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, a, id)

	assert.ErrorIs(t, links.Link(ctx, 1, b, hub.TypeCustomer, "10"), hub.ErrAlreadyLinked)
	// the same backend id on another node is a different link
	require.NoError(t, links.Link(ctx, 2, b, hub.TypeCustomer, "10"))

	require.NoError(t, links.Unlink(ctx, 1, a))
	localID, err = links.LocalID(ctx, 1, a)
	require.NoError(t, err)
	assert.Empty(t, localID)
	require.NoError(t, links.Link(ctx, 1, b, hub.TypeCustomer, "10"))
}

func TestTimestampsAgainstPostgres(t *testing.T) {
	db := newTestDB(t)
	tracker := db.Timestamps()
	ctx := context.Background()

	last, err := tracker.LastRetrieve(ctx, 1, hub.TypeOrder)
	require.NoError(t, err)
	assert.True(t, last.IsZero())

	first := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, tracker.SetLastRetrieve(ctx, 1, hub.TypeOrder, first))
	second := first.Add(10 * time.Minute)
	require.NoError(t, tracker.SetLastRetrieve(ctx, 1, hub.TypeOrder, second))

	last, err = tracker.LastRetrieve(ctx, 1, hub.TypeOrder)
	require.NoError(t, err)
	assert.True(t, second.Equal(last))
}

func TestRecordStoreAgainstPostgres(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	first := hub.NewPersistentStore(db.Links(), db.Records(), zap.NewNop())
	product, err := first.Create(ctx, 1, hub.TypeProduct, 0, "POS-1", map[string]any{"name": "Tee", "qty": 3}, nil)
	require.NoError(t, err)
	_, err = first.Create(ctx, 1, hub.TypeStockItem, 0, "POS-1", map[string]any{"qty": "4.5"}, product)
	require.NoError(t, err)
	require.NoError(t, first.Link(ctx, 1, product, "900"))
	require.NoError(t, first.Update(ctx, 1, product, map[string]any{"name": "Shirt"}, false))

	second := hub.NewPersistentStore(db.Links(), db.Records(), zap.NewNop())
	loaded, err := second.LoadByLocalID(ctx, 1, hub.TypeProduct, 0, "900")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "Shirt", loaded.Attribute("name"))
	assert.Equal(t, int64(3), loaded.Attribute("qty"))

	stock, err := second.Load(ctx, 1, hub.TypeStockItem, 0, "POS-1")
	require.NoError(t, err)
	require.NotNil(t, stock)
	assert.Equal(t, product.ID(), stock.Parent().ID())
}
