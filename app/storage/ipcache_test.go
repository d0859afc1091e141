package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCachedBannedIPs_Contains(t *testing.T) {
	ctx := context.Background()
	store, err := NewBannedIPs(ctx, newTestDB(t))
	require.NoError(t, err)
	cached := NewCachedBannedIPs(store, 100, time.Minute)

	banned, err := cached.Contains(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.False(t, banned)

	// ban via the underlying store directly, cached negative answer sticks
	_, err = store.Add(ctx, "1.2.3.4")
	require.NoError(t, err)
	banned, err = cached.Contains(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.False(t, banned, "stale negative served from cache")
}

func TestCachedBannedIPs_AddInvalidates(t *testing.T) {
	ctx := context.Background()
	store, err := NewBannedIPs(ctx, newTestDB(t))
	require.NoError(t, err)
	cached := NewCachedBannedIPs(store, 100, time.Minute)

	banned, err := cached.Contains(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.False(t, banned)

	created, err := cached.Add(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.True(t, created)

	banned, err = cached.Contains(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.True(t, banned, "ban through the wrapper is visible immediately")

	require.NoError(t, cached.Remove(ctx, "1.2.3.4"))
	banned, err = cached.Contains(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.False(t, banned, "unban through the wrapper is visible immediately")
}

func TestCachedBannedIPs_All(t *testing.T) {
	ctx := context.Background()
	store, err := NewBannedIPs(ctx, newTestDB(t))
	require.NoError(t, err)
	cached := NewCachedBannedIPs(store, 0, 0) // defaults applied

	_, err = cached.Add(ctx, "1.2.3.4")
	require.NoError(t, err)

	all, err := cached.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "1.2.3.4", all[0].IP)
}
