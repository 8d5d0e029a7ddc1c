package kv_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/offerpage/offerpage/internal/kv"
)

func backends(t *testing.T) map[string]kv.Store {
	t.Helper()

	sqlite, err := kv.OpenSQLite(filepath.Join(t.TempDir(), "kv.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := kv.NewRedis(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "offerpage:")
	t.Cleanup(func() { rdb.Close() })

	return map[string]kv.Store{
		"memory": kv.NewMemory(),
		"sqlite": sqlite,
		"redis":  rdb,
	}
}

func TestStore_RoundTrip(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := s.Get(ctx, "ab_session_id")
			assert.True(t, errors.Is(err, kv.ErrNotFound), "got %v", err)

			require.NoError(t, s.Set(ctx, "ab_session_id", "abc"))
			got, err := s.Get(ctx, "ab_session_id")
			require.NoError(t, err)
			assert.Equal(t, "abc", got)

			require.NoError(t, s.Set(ctx, "ab_session_id", "def"))
			got, err = s.Get(ctx, "ab_session_id")
			require.NoError(t, err)
			assert.Equal(t, "def", got)

			require.NoError(t, s.Delete(ctx, "ab_session_id"))
			_, err = s.Get(ctx, "ab_session_id")
			assert.ErrorIs(t, err, kv.ErrNotFound)

			// Deleting a missing key is not an error.
			assert.NoError(t, s.Delete(ctx, "missing"))
		})
	}
}

func TestRedis_UsesPrefix(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	s := kv.NewRedis(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "tenant1:")
	defer s.Close()

	require.NoError(t, s.Set(context.Background(), "geocode_cache", "{}"))

	val, err := mr.Get("tenant1:geocode_cache")
	require.NoError(t, err)
	assert.Equal(t, "{}", val)
}

func TestOpenRedis_BadURL(t *testing.T) {
	_, err := kv.OpenRedis(context.Background(), "not a url", "")
	assert.Error(t, err)
}

func TestSQLite_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kv.db")
	ctx := context.Background()

	s, err := kv.OpenSQLite(path)
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, "dispatch_queue", `[{"id":"1"}]`))
	require.NoError(t, s.Close())

	s, err = kv.OpenSQLite(path)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.Get(ctx, "dispatch_queue")
	require.NoError(t, err)
	assert.Equal(t, `[{"id":"1"}]`, got)
}

func TestWithPrefix(t *testing.T) {
	ctx := context.Background()
	inner := kv.NewMemory()
	scoped := kv.WithPrefix(inner, "session:s1:")

	require.NoError(t, scoped.Set(ctx, "ab_variant:hero", "B"))

	got, err := inner.Get(ctx, "session:s1:ab_variant:hero")
	require.NoError(t, err)
	assert.Equal(t, "B", got)

	got, err = scoped.Get(ctx, "ab_variant:hero")
	require.NoError(t, err)
	assert.Equal(t, "B", got)

	require.NoError(t, scoped.Close())
	assert.Equal(t, 1, inner.Len())
}

func TestWithTTL_Expires(t *testing.T) {
	sqlite, err := kv.OpenSQLite(filepath.Join(t.TempDir(), "kv.db"))
	require.NoError(t, err)
	defer sqlite.Close()

	for name, s := range map[string]kv.Store{"memory": kv.NewMemory(), "sqlite": sqlite} {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			scoped := kv.WithTTL(kv.WithPrefix(s, "session:s1:"), 50*time.Millisecond)

			require.NoError(t, scoped.Set(ctx, "ab_session_id", "s1"))
			got, err := s.Get(ctx, "session:s1:ab_session_id")
			require.NoError(t, err)
			assert.Equal(t, "s1", got)

			require.NoError(t, s.Set(ctx, "session:s1:keep", "yes"))

			time.Sleep(100 * time.Millisecond)
			_, err = scoped.Get(ctx, "ab_session_id")
			assert.ErrorIs(t, err, kv.ErrNotFound)

			// A plain Set never expires.
			got, err = s.Get(ctx, "session:s1:keep")
			require.NoError(t, err)
			assert.Equal(t, "yes", got)
		})
	}
}

func TestRedis_SetTTL(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	s := kv.NewRedis(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "offerpage:")
	defer s.Close()

	scoped := kv.WithTTL(s, time.Hour)
	require.NoError(t, scoped.Set(context.Background(), "session:s1:ab_session_id", "s1"))
	assert.Equal(t, time.Hour, mr.TTL("offerpage:session:s1:ab_session_id"))

	mr.FastForward(2 * time.Hour)
	_, err = s.Get(context.Background(), "session:s1:ab_session_id")
	assert.ErrorIs(t, err, kv.ErrNotFound)
}

// plainStore hides any SetTTL of the wrapped store.
type plainStore struct{ kv.Store }

func TestWithTTL_StoreWithoutExpiry(t *testing.T) {
	ctx := context.Background()
	inner := kv.NewMemory()
	scoped := kv.WithTTL(plainStore{inner}, time.Nanosecond)

	require.NoError(t, scoped.Set(ctx, "k", "v"))
	_, ok := inner.Expiry("k")
	assert.False(t, ok)
	got, err := scoped.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", got)
}
