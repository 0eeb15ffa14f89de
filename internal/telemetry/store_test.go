package telemetry

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := OpenSQLiteStore(filepath.Join(t.TempDir(), "telemetry", "metrics.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLiteStore_OperationCountsAccumulate(t *testing.T) {
	store := openTestStore(t)
	count := OpKey{Index: "pile", Operation: "count", Status: StatusSuccess}
	find := OpKey{Index: "pile", Operation: "find", Status: StatusSuccess}
	bad := OpKey{Index: "nope", Operation: "count", Status: StatusClientError}

	require.NoError(t, store.SaveOperationCounts("2026-01-06", map[OpKey]int64{count: 10, find: 2}))
	require.NoError(t, store.SaveOperationCounts("2026-01-06", map[OpKey]int64{count: 5, bad: 1}))
	require.NoError(t, store.SaveOperationCounts("2026-01-07", map[OpKey]int64{count: 1}))

	day, err := store.GetOperationCounts("2026-01-06", "2026-01-06")
	require.NoError(t, err)
	assert.Equal(t, []OpCount{{count, 15}, {find, 2}, {bad, 1}}, day)

	both, err := store.GetOperationCounts("2026-01-06", "2026-01-07")
	require.NoError(t, err)
	require.NotEmpty(t, both)
	assert.Equal(t, OpCount{count, 16}, both[0])

	none, err := store.GetOperationCounts("2025-01-01", "2025-12-31")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSQLiteStore_TopQueries(t *testing.T) {
	store := openTestStore(t)

	require.NoError(t, store.UpsertQueryCounts(map[string]int64{"nature": 3, "banana": 1}))
	require.NoError(t, store.UpsertQueryCounts(map[string]int64{"banana": 5}))
	require.NoError(t, store.UpsertQueryCounts(nil))

	top, err := store.GetTopQueries(10)
	require.NoError(t, err)
	assert.Equal(t, []QueryCount{{"banana", 6}, {"nature", 3}}, top)
}

func TestSQLiteStore_ZeroResultBufferIsBounded(t *testing.T) {
	store := openTestStore(t)

	now := time.Now()
	for i := 0; i < maxZeroResultRows+5; i++ {
		require.NoError(t, store.AddZeroResultQuery(fmt.Sprintf("q%d", i), now))
	}

	all, err := store.GetZeroResultQueries(1000)
	require.NoError(t, err)
	assert.Len(t, all, maxZeroResultRows)
	assert.Equal(t, fmt.Sprintf("q%d", maxZeroResultRows+4), all[0])
}

func TestSQLiteStore_LatencyCounts(t *testing.T) {
	store := openTestStore(t)

	require.NoError(t, store.SaveLatencyCounts("2026-01-06", map[LatencyBucket]int64{BucketP1: 4, BucketP100: 1}))
	require.NoError(t, store.SaveLatencyCounts("2026-01-06", map[LatencyBucket]int64{BucketP1: 1}))

	got, err := store.GetLatencyCounts("2026-01-01", "2026-12-31")
	require.NoError(t, err)
	assert.Equal(t, map[LatencyBucket]int64{BucketP1: 5, BucketP100: 1}, got)
}

func TestNewSQLiteStore_SharedDB(t *testing.T) {
	_, err := NewSQLiteStore(nil)
	require.Error(t, err)

	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "shared.db"))
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, InitSchema(db))

	store, err := NewSQLiteStore(db)
	require.NoError(t, err)
	require.NoError(t, store.Close())
	// The caller still owns db.
	require.NoError(t, db.Ping())
}
