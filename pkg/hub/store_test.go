package hub

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestStoreCreateLoadUpdate(t *testing.T) {
	ctx := context.Background()
	store := NewStore(zap.NewNop())

	e, err := store.Create(ctx, 1, TypeProduct, 0, "POS-1", map[string]any{"name": "Tee", "price": "10"}, nil)
	require.NoError(t, err)

	loaded, err := store.Load(ctx, 1, TypeProduct, 0, "POS-1")
	require.NoError(t, err)
	assert.Equal(t, e.ID(), loaded.ID())
	assert.Equal(t, "Tee", loaded.Attribute("name"))

	_, err = store.Create(ctx, 1, TypeProduct, 0, "POS-1", nil, nil)
	assert.ErrorIs(t, err, ErrDuplicate)

	require.NoError(t, store.Update(ctx, 1, e, map[string]any{"price": nil, "name": "Shirt"}, false))
	assert.Nil(t, e.Attribute("price"))
	assert.Equal(t, "Shirt", e.Attribute("name"))

	missing, err := store.Load(ctx, 1, TypeProduct, 0, "POS-2")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestStoreUpdateMerge(t *testing.T) {
	ctx := context.Background()
	store := NewStore(zap.NewNop())
	e, err := store.Create(ctx, 1, TypeOrder, 0, "100", map[string]any{"meta": map[string]any{"a": 1}}, nil)
	require.NoError(t, err)

	require.NoError(t, store.Update(ctx, 1, e, map[string]any{"meta": map[string]any{"b": 2}}, true))
	assert.Equal(t, map[string]any{"a": 1, "b": 2}, e.Attribute("meta"))

	require.NoError(t, store.Update(ctx, 1, e, map[string]any{"meta": map[string]any{"c": 3}}, false))
	assert.Equal(t, map[string]any{"c": 3}, e.Attribute("meta"))
}

func TestStoreLinks(t *testing.T) {
	ctx := context.Background()
	store := NewStore(zap.NewNop())
	a, _ := store.Create(ctx, 1, TypeProduct, 0, "POS-1", nil, nil)
	b, _ := store.Create(ctx, 1, TypeProduct, 0, "POS-2", nil, nil)

	local, err := store.LocalID(ctx, 1, a)
	require.NoError(t, err)
	assert.Empty(t, local)

	require.NoError(t, store.Link(ctx, 1, a, "1"))
	require.NoError(t, store.Link(ctx, 1, a, "1"), "relinking to the same id is a no-op")
	assert.ErrorIs(t, store.Link(ctx, 1, a, "2"), ErrAlreadyLinked)
	assert.ErrorIs(t, store.Link(ctx, 1, b, "1"), ErrAlreadyLinked)

	byLocal, err := store.LoadByLocalID(ctx, 1, TypeProduct, 0, "1")
	require.NoError(t, err)
	assert.Equal(t, a.ID(), byLocal.ID())

	// links are per node
	other, err := store.LoadByLocalID(ctx, 2, TypeProduct, 0, "1")
	require.NoError(t, err)
	assert.Nil(t, other)

	require.NoError(t, store.Unlink(ctx, 1, a))
	require.NoError(t, store.Link(ctx, 1, b, "1"))
	local, _ = store.LocalID(ctx, 1, b)
	assert.Equal(t, "1", local)
}

func TestRecordIsolation(t *testing.T) {
	attrs := map[string]any{"name": "x", "empty": nil}
	r := NewRecord(TypeCustomer, "a@b.c", 0, attrs)
	attrs["name"] = "changed"

	assert.Equal(t, "x", r.Attribute("name"))
	_, has := r.Attributes()["empty"]
	assert.False(t, has)

	v, ok := r.CallMethod("uniqueId")
	assert.True(t, ok)
	assert.Equal(t, "a@b.c", v)
	_, ok = r.CallMethod("nope")
	assert.False(t, ok)
}

func TestMemoryTimestamps(t *testing.T) {
	ctx := context.Background()
	ts := NewMemoryTimestamps()

	last, err := ts.LastRetrieve(ctx, 1, TypeProduct)
	require.NoError(t, err)
	assert.True(t, last.IsZero())

	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, ts.SetLastRetrieve(ctx, 1, TypeProduct, now))
	last, _ = ts.LastRetrieve(ctx, 1, TypeProduct)
	assert.Equal(t, now, last)

	other, _ := ts.LastRetrieve(ctx, 2, TypeProduct)
	assert.True(t, other.IsZero())
}

func TestUpdateTypeString(t *testing.T) {
	assert.Equal(t, "create", UpdateTypeCreate.String())
	assert.Equal(t, "update", UpdateTypeUpdate.String())
	assert.Equal(t, "delete", UpdateTypeDelete.String())
}

func TestCreatedRecordsKeepLinksAcrossStores(t *testing.T) {
	ctx := context.Background()
	links := NewMemoryLinks()

	first := NewStoreWithLinks(links, zap.NewNop())
	e, err := first.Create(ctx, 1, TypeCustomer, 0, "a@example.com", nil, nil)
	require.NoError(t, err)
	require.NoError(t, first.Link(ctx, 1, e, "10"))
	assert.Equal(t, StableID(TypeCustomer, 0, "a@example.com"), e.ID())

	// a fresh store sharing the link table sees the same entity id
	second := NewStoreWithLinks(links, zap.NewNop())
	again, err := second.Create(ctx, 1, TypeCustomer, 0, "a@example.com", nil, nil)
	require.NoError(t, err)
	localID, err := second.LocalID(ctx, 1, again)
	require.NoError(t, err)
	assert.Equal(t, "10", localID)

	assert.NotEqual(t, StableID(TypeCustomer, 1, "a@example.com"), again.ID())
}
