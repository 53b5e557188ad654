package presence

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"session-relay-svc/src/internal/identity"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func snapshotPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "active-users.json")
}

func TestUpsertReadAllRoundTrip(t *testing.T) {
	store := NewStore(snapshotPath(t))

	key := identity.Key{Role: identity.RoleUser, ID: 42}
	record := Record{
		AccountID:     "acct-9",
		LastActivity:  time.Now(),
		UserAgent:     "Mozilla/5.0",
		RemoteAddress: "10.0.0.1",
	}

	require.NoError(t, store.Upsert(key, record))

	all := store.ReadAll()
	require.Len(t, all, 1)
	got, ok := all["user42"]
	require.True(t, ok)
	assert.Equal(t, int64(42), got.ID)
	assert.Equal(t, "user", got.Role)
	assert.Equal(t, "acct-9", got.AccountID)
	assert.Equal(t, "Mozilla/5.0", got.UserAgent)
	assert.Equal(t, "10.0.0.1", got.RemoteAddress)
}

func TestUpsertLeavesOtherKeysUnchanged(t *testing.T) {
	store := NewStore(snapshotPath(t))

	first := identity.Key{Role: identity.RoleUser, ID: 1}
	second := identity.Key{Role: identity.RoleEmployee, ID: 1}

	require.NoError(t, store.Upsert(first, Record{AccountID: "a"}))
	require.NoError(t, store.Upsert(second, Record{AccountID: "b"}))
	require.NoError(t, store.Upsert(first, Record{AccountID: "a2"}))

	all := store.ReadAll()
	assert.Equal(t, "a2", all["user1"].AccountID)
	assert.Equal(t, "b", all["employee1"].AccountID)
}

func TestDelete(t *testing.T) {
	store := NewStore(snapshotPath(t))

	key := identity.Key{Role: identity.RoleUser, ID: 42}
	require.NoError(t, store.Upsert(key, Record{}))
	require.NoError(t, store.Delete(key))

	assert.Empty(t, store.ReadAll())

	// Deleting an absent record is a no-op.
	require.NoError(t, store.Delete(key))
}

func TestSnapshotRewrittenWholesale(t *testing.T) {
	path := snapshotPath(t)
	store := NewStore(path)

	require.NoError(t, store.Upsert(identity.Key{Role: identity.RoleUser, ID: 42}, Record{AccountID: "acct"}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var onDisk map[string]Record
	require.NoError(t, json.Unmarshal(data, &onDisk))
	assert.Contains(t, onDisk, "user42")

	require.NoError(t, store.Delete(identity.Key{Role: identity.RoleUser, ID: 42}))

	data, err = os.ReadFile(path)
	require.NoError(t, err)
	onDisk = nil
	require.NoError(t, json.Unmarshal(data, &onDisk))
	assert.Empty(t, onDisk)
}

func TestStaleSnapshotDiscardedAtStartup(t *testing.T) {
	path := snapshotPath(t)
	require.NoError(t, os.WriteFile(path, []byte(`{"user42":{"id":42}}`), 0o644))

	store := NewStore(path)

	assert.Empty(t, store.ReadAll())
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestCorruptSnapshotTreatedAsEmpty(t *testing.T) {
	path := snapshotPath(t)
	require.NoError(t, os.WriteFile(path, []byte(`{not json`), 0o644))

	store := NewStore(path)
	assert.Empty(t, store.ReadAll())
}

func TestGetStats(t *testing.T) {
	store := NewStore(snapshotPath(t))

	require.NoError(t, store.Upsert(identity.Key{Role: identity.RoleUser, ID: 1}, Record{}))
	require.NoError(t, store.Upsert(identity.Key{Role: identity.RoleUser, ID: 2}, Record{}))
	require.NoError(t, store.Upsert(identity.Key{Role: identity.RoleEmployee, ID: 1}, Record{}))

	stats := store.GetStats()
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 2, stats.Users)
	assert.Equal(t, 1, stats.Employees)
}
