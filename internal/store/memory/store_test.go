package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Azure-Samples/service-fabric-watchdog-service/internal/store"
)

func TestCommitAppliesBufferedWrites(t *testing.T) {
	s := New()
	ctx := context.Background()

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	m := tx.Map(store.MapHealthChecks)
	require.NoError(t, m.AddOrUpdate(ctx, "a", []byte("1")))
	require.NoError(t, m.AddOrUpdate(ctx, "b", []byte("2")))

	// Nothing is visible to other transactions before commit.
	other, err := s.Begin(ctx)
	require.NoError(t, err)
	_, ok, err := other.Map(store.MapHealthChecks).TryGet(ctx, "a", store.ModeRead)
	require.NoError(t, err)
	assert.False(t, ok)
	other.Discard()

	require.NoError(t, tx.Commit(ctx))

	verify, err := s.Begin(ctx)
	require.NoError(t, err)
	defer verify.Discard()
	v, ok, err := verify.Map(store.MapHealthChecks).TryGet(ctx, "a", store.ModeRead)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("1"), v)
}

func TestDiscardDropsWrites(t *testing.T) {
	s := New()
	ctx := context.Background()

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Map(store.MapHealthChecks).AddOrUpdate(ctx, "a", []byte("1")))
	tx.Discard()

	verify, err := s.Begin(ctx)
	require.NoError(t, err)
	defer verify.Discard()
	_, ok, err := verify.Map(store.MapHealthChecks).TryGet(ctx, "a", store.ModeRead)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTryAdd(t *testing.T) {
	s := New()
	ctx := context.Background()

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	m := tx.Map(store.MapSchedule)

	ok, err := m.TryAdd(ctx, "k", []byte("1"))
	require.NoError(t, err)
	assert.True(t, ok)

	// Same key again inside the same transaction collides with the
	// buffered write.
	ok, err = m.TryAdd(ctx, "k", []byte("2"))
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, tx.Commit(ctx))

	tx2, err := s.Begin(ctx)
	require.NoError(t, err)
	defer tx2.Discard()
	ok, err = tx2.Map(store.MapSchedule).TryAdd(ctx, "k", []byte("3"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTryUpdateNeedsMatchingWitness(t *testing.T) {
	s := New()
	ctx := context.Background()
	seed(t, s, store.MapHealthChecks, "k", []byte("v1"))

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	defer tx.Discard()
	m := tx.Map(store.MapHealthChecks)

	ok, err := m.TryUpdate(ctx, "k", []byte("v2"), []byte("wrong"))
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = m.TryUpdate(ctx, "k", []byte("v2"), []byte("v1"))
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, tx.Commit(ctx))
}

func TestTryRemove(t *testing.T) {
	s := New()
	ctx := context.Background()
	seed(t, s, store.MapSchedule, "k", []byte("v"))

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	m := tx.Map(store.MapSchedule)

	ok, err := m.TryRemove(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = m.TryRemove(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, tx.Commit(ctx))

	verify, err := s.Begin(ctx)
	require.NoError(t, err)
	defer verify.Discard()
	_, ok, err = verify.Map(store.MapSchedule).TryGet(ctx, "k", store.ModeRead)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCommitConflictIsTransient(t *testing.T) {
	s := New()
	ctx := context.Background()
	seed(t, s, store.MapHealthChecks, "k", []byte("v1"))

	// Both transactions pin the same version of k.
	tx1, err := s.Begin(ctx)
	require.NoError(t, err)
	_, ok, err := tx1.Map(store.MapHealthChecks).TryGet(ctx, "k", store.ModeUpdate)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, tx1.Map(store.MapHealthChecks).AddOrUpdate(ctx, "k", []byte("tx1")))

	tx2, err := s.Begin(ctx)
	require.NoError(t, err)
	_, ok, err = tx2.Map(store.MapHealthChecks).TryGet(ctx, "k", store.ModeUpdate)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, tx2.Map(store.MapHealthChecks).AddOrUpdate(ctx, "k", []byte("tx2")))

	require.NoError(t, tx1.Commit(ctx))
	err = tx2.Commit(ctx)
	require.Error(t, err)
	assert.True(t, store.IsTransient(err))
}

func TestUpdateModeGetPinsAbsentKey(t *testing.T) {
	s := New()
	ctx := context.Background()

	// tx1 observes the key absent under update intent; a concurrent
	// writer creating it must fail tx1's commit.
	tx1, err := s.Begin(ctx)
	require.NoError(t, err)
	_, ok, err := tx1.Map(store.MapSchedule).TryGet(ctx, "k", store.ModeUpdate)
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, tx1.Map(store.MapSchedule).AddOrUpdate(ctx, "other", []byte("x")))

	seed(t, s, store.MapSchedule, "k", []byte("v"))

	err = tx1.Commit(ctx)
	require.Error(t, err)
	assert.True(t, store.IsTransient(err))
}

func TestAscendOrderedWithPrefixAndBuffer(t *testing.T) {
	s := New()
	ctx := context.Background()
	seed(t, s, store.MapHealthChecks, "/App/Svc/b", []byte("live-b"))
	seed(t, s, store.MapHealthChecks, "/App/Svc/a", []byte("live-a"))
	seed(t, s, store.MapHealthChecks, "/Other/Svc/x", []byte("other"))

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	defer tx.Discard()
	m := tx.Map(store.MapHealthChecks)
	require.NoError(t, m.AddOrUpdate(ctx, "/App/Svc/c", []byte("buffered-c")))
	require.NoError(t, m.AddOrUpdate(ctx, "/App/Svc/a", []byte("buffered-a")))
	_, err = m.TryRemove(ctx, "/App/Svc/b")
	require.NoError(t, err)

	var keys []string
	var values []string
	err = m.Ascend(ctx, "/App/Svc/", func(kv store.KV) bool {
		keys = append(keys, kv.Key)
		values = append(values, string(kv.Value))
		return true
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"/App/Svc/a", "/App/Svc/c"}, keys)
	assert.Equal(t, []string{"buffered-a", "buffered-c"}, values)
}

func TestAscendStopsWhenCallbackReturnsFalse(t *testing.T) {
	s := New()
	ctx := context.Background()
	seed(t, s, store.MapSchedule, "a", []byte("1"))
	seed(t, s, store.MapSchedule, "b", []byte("2"))
	seed(t, s, store.MapSchedule, "c", []byte("3"))

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	defer tx.Discard()

	var seen int
	err = tx.Map(store.MapSchedule).Ascend(ctx, "", func(kv store.KV) bool {
		seen++
		return seen < 2
	})
	require.NoError(t, err)
	assert.Equal(t, 2, seen)
}

func TestRoleGating(t *testing.T) {
	s := New()
	ctx := context.Background()

	assert.Equal(t, store.AccessGranted, s.ReadStatus())
	assert.Equal(t, store.AccessGranted, s.WriteStatus())

	s.SetPrimary(false)
	assert.Equal(t, store.AccessNotPrimary, s.WriteStatus())

	_, err := s.Begin(ctx)
	require.Error(t, err)
	assert.True(t, store.IsNotPrimary(err))
}

func TestDemotionFailsPendingCommit(t *testing.T) {
	s := New()
	ctx := context.Background()

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Map(store.MapHealthChecks).AddOrUpdate(ctx, "k", []byte("v")))

	s.SetPrimary(false)
	err = tx.Commit(ctx)
	require.Error(t, err)
	assert.True(t, store.IsNotPrimary(err))
}

func TestOnRoleChangeFiresOnTransition(t *testing.T) {
	s := New()
	var got []bool
	s.OnRoleChange(func(primary bool) { got = append(got, primary) })

	s.SetPrimary(true) // no transition, already primary
	s.SetPrimary(false)
	s.SetPrimary(true)

	assert.Equal(t, []bool{false, true}, got)
}

func TestClosedStoreRefusesAccess(t *testing.T) {
	s := New()
	require.NoError(t, s.Close())

	assert.Equal(t, store.AccessNotReady, s.ReadStatus())
	_, err := s.Begin(context.Background())
	assert.Error(t, err)
}

func seed(t *testing.T, s *Store, mapName, key string, value []byte) {
	t.Helper()
	ctx := context.Background()
	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Map(mapName).AddOrUpdate(ctx, key, value))
	require.NoError(t, tx.Commit(ctx))
}
