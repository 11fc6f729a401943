package catalog

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestUpsertAndGet(t *testing.T) {
	dir := t.TempDir()
	c, err := Open(filepath.Join(dir, "state.sqlite"))
	require.NoError(t, err)
	defer c.Close()

	ctx := context.Background()

	rec, err := c.Get(ctx, 1)
	require.NoError(t, err)
	require.Nil(t, rec)

	now := time.Now().Truncate(time.Second)
	require.NoError(t, c.Upsert(ctx, 1, "etag-1", now))

	rec, err = c.Get(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.Equal(t, uint32(1), rec.ID)
	require.Equal(t, "etag-1", rec.ETag)
	require.Equal(t, now.Unix(), rec.UpdatedAt.Unix())
}

func TestUpsertUpdatesExistingRow(t *testing.T) {
	dir := t.TempDir()
	c, err := Open(filepath.Join(dir, "state.sqlite"))
	require.NoError(t, err)
	defer c.Close()

	ctx := context.Background()
	t1 := time.Now().Add(-time.Hour).Truncate(time.Second)
	t2 := time.Now().Truncate(time.Second)

	require.NoError(t, c.Upsert(ctx, 5, "etag-old", t1))
	require.NoError(t, c.Upsert(ctx, 5, "etag-new", t2))

	rec, err := c.Get(ctx, 5)
	require.NoError(t, err)
	require.Equal(t, "etag-new", rec.ETag)
	require.Equal(t, t2.Unix(), rec.UpdatedAt.Unix())
}

func TestReopenPreservesState(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.sqlite")

	c, err := Open(path)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, c.Upsert(ctx, 9, "etag-9", time.Now()))
	require.NoError(t, c.Close())

	c2, err := Open(path)
	require.NoError(t, err)
	defer c2.Close()

	rec, err := c2.Get(ctx, 9)
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.Equal(t, "etag-9", rec.ETag)
}
