package noncestore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCheckAndMarkUsedRejectsDuplicates(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	key := Key("base", "0xpayer", "0xnonce")

	require.NoError(t, s.CheckAndMarkUsed(ctx, key, time.Minute))

	err := s.CheckAndMarkUsed(ctx, key, time.Minute)
	require.Error(t, err)
	require.ErrorAs(t, err, &ErrAlreadyUsed{})

	used, err := s.IsUsed(ctx, key)
	require.NoError(t, err)
	require.True(t, used)

	used, err = s.IsUsed(ctx, Key("base", "0xpayer", "0xother"))
	require.NoError(t, err)
	require.False(t, used)
}

func TestExpiredEntriesAreReusable(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	key := DigestKey("sui", "abc123")

	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return clock }

	require.NoError(t, s.CheckAndMarkUsed(ctx, key, time.Minute))
	require.Error(t, s.CheckAndMarkUsed(ctx, key, time.Minute))

	clock = clock.Add(2 * time.Minute)
	used, err := s.IsUsed(ctx, key)
	require.NoError(t, err)
	require.False(t, used, "expired entries no longer count as used")
	require.NoError(t, s.CheckAndMarkUsed(ctx, key, time.Minute))
}

func TestMemoryStoreIsAlwaysHealthy(t *testing.T) {
	require.NoError(t, NewMemoryStore().Healthy(context.Background()))
}

func TestKeyFormats(t *testing.T) {
	require.Equal(t, "base#0xpayer#0xnonce", Key("base", "0xpayer", "0xnonce"))
	require.Equal(t, "algorand#group#deadbeef", GroupKey("algorand", "deadbeef"))
	require.Equal(t, "sui#digest#abc", DigestKey("sui", "abc"))
}
