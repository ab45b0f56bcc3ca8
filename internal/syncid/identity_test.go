package syncid

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shrimpsizemoose/tasksync/internal/models"
)

// memStore is a SyncIDStore kept in maps.
type memStore struct {
	mu      sync.Mutex
	byUser  map[string]string
	byHash  map[string]models.SyncIDMapping
	inserts int
}

func newMemStore() *memStore {
	return &memStore{
		byUser: make(map[string]string),
		byHash: make(map[string]models.SyncIDMapping),
	}
}

func key(userID int64, org, pool string) string {
	return fmt.Sprintf("%d/%s/%s", userID, org, pool)
}

func (m *memStore) FindSyncHash(ctx context.Context, userID int64, org, pool string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byUser[key(userID, org, pool)], nil
}

func (m *memStore) InsertSyncHash(ctx context.Context, mapping *models.SyncIDMapping) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key(mapping.UserID, mapping.Org, mapping.Pool)
	if _, ok := m.byUser[k]; ok {
		return nil
	}
	m.inserts++
	m.byUser[k] = mapping.Hash
	m.byHash[mapping.Hash] = *mapping
	return nil
}

func (m *memStore) FindSyncHashOwner(ctx context.Context, hash string) (*models.SyncIDMapping, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mapping, ok := m.byHash[hash]
	if !ok {
		return nil, nil
	}
	return &mapping, nil
}

func boolPtr(b bool) *bool { return &b }

func TestScopeFor(t *testing.T) {
	shared := &models.Task{CourseID: 12, PrivateGradePool: boolPtr(false)}
	private := &models.Task{CourseID: 12, PrivateGradePool: boolPtr(true)}

	assert.Equal(t, Scope{Org: "uni"}, ScopeFor("uni", shared))
	assert.Equal(t, Scope{Org: "uni", Pool: "p12"}, ScopeFor("uni", private))
}

func TestIdentity_Plain(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	id := NewIdentity(store, "")

	sid, err := id.SyncID(ctx, 42, false, Scope{Org: "uni"})
	require.NoError(t, err)
	assert.Equal(t, "GSSO_uni_42", sid)
	assert.Zero(t, store.inserts)

	userID, err := id.UserID(ctx, sid, false, Scope{Org: "uni"})
	require.NoError(t, err)
	assert.Equal(t, int64(42), userID)
}

func TestIdentity_HashedIsStable(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	id := NewIdentity(store, "")
	scope := Scope{Org: "uni"}

	first, err := id.SyncID(ctx, 42, true, scope)
	require.NoError(t, err)
	second, err := id.SyncID(ctx, 42, true, scope)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, store.inserts)
	assert.True(t, strings.HasPrefix(first, "GSSO_uni_"))
	assert.NotEqual(t, "GSSO_uni_42", first)

	userID, err := id.UserID(ctx, first, true, scope)
	require.NoError(t, err)
	assert.Equal(t, int64(42), userID)
}

func TestIdentity_PrivatePoolsDiffer(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	id := NewIdentity(store, "")

	poolA := ScopeFor("uni", &models.Task{CourseID: 1, PrivateGradePool: boolPtr(true)})
	poolB := ScopeFor("uni", &models.Task{CourseID: 2, PrivateGradePool: boolPtr(true)})
	shared1 := ScopeFor("uni", &models.Task{CourseID: 1, PrivateGradePool: boolPtr(false)})
	shared2 := ScopeFor("uni", &models.Task{CourseID: 2, PrivateGradePool: boolPtr(false)})

	a, err := id.SyncID(ctx, 7, true, poolA)
	require.NoError(t, err)
	b, err := id.SyncID(ctx, 7, true, poolB)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
	assert.True(t, strings.HasSuffix(a, "p1"))

	s1, err := id.SyncID(ctx, 7, true, shared1)
	require.NoError(t, err)
	s2, err := id.SyncID(ctx, 7, true, shared2)
	require.NoError(t, err)
	assert.Equal(t, s1, s2)

	t.Run("reverse lookup honours the pool", func(t *testing.T) {
		userID, err := id.UserID(ctx, a, true, poolA)
		require.NoError(t, err)
		assert.Equal(t, int64(7), userID)

		_, err = id.UserID(ctx, a, true, poolB)
		assert.True(t, errors.Is(err, ErrUnresolvable))
	})

	t.Run("two users in two pools stay distinct", func(t *testing.T) {
		other, err := id.SyncID(ctx, 8, true, poolA)
		require.NoError(t, err)
		assert.NotEqual(t, a, other)

		userID, err := id.UserID(ctx, other, true, poolA)
		require.NoError(t, err)
		assert.Equal(t, int64(8), userID)
	})
}

func TestIdentity_ConcurrentCallsCreateOneMapping(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	id := NewIdentity(store, "")
	scope := Scope{Org: "uni", Pool: "p3"}

	var wg sync.WaitGroup
	results := make([]string, 16)
	for n := range results {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			sid, err := id.SyncID(ctx, 99, true, scope)
			assert.NoError(t, err)
			results[n] = sid
		}(n)
	}
	wg.Wait()

	for _, sid := range results {
		assert.Equal(t, results[0], sid)
	}
	assert.Equal(t, 1, store.inserts)
}

func TestIdentity_UserIDFailures(t *testing.T) {
	ctx := context.Background()
	id := NewIdentity(newMemStore(), "")

	for _, sid := range []string{"", "GSSO_uni_", "GSSO_uni_abc", "nodelimiter"} {
		_, err := id.UserID(ctx, sid, false, Scope{Org: "uni"})
		assert.True(t, errors.Is(err, ErrUnresolvable), sid)
	}

	_, err := id.UserID(ctx, "GSSO_uni_deadbeef", true, Scope{Org: "uni"})
	assert.True(t, errors.Is(err, ErrUnresolvable))
}
