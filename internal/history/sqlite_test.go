package history

import (
	"bytes"
	"context"
	"database/sql"
	"log"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nested", "history.db")
	store, err := OpenSQLite(path, log.New(&bytes.Buffer{}, "", 0))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store, path
}

func TestRecentReturnsNewestFirst(t *testing.T) {
	store, _ := openTestStore(t)
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, store.Record(Record{
			AgentID:    "alpha",
			Target:     mgl64.Vec3{float64(i), 2, 3},
			Outcome:    "arrived",
			Ticks:      10 * (i + 1),
			Plans:      1,
			Distance:   1.25,
			FinishedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}
	require.NoError(t, store.Record(Record{AgentID: "beta", Outcome: "stuck", Error: "navigation: replan budget exhausted"}))

	recs, err := store.Recent(context.Background(), "alpha", 3)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	require.Equal(t, mgl64.Vec3{4, 2, 3}, recs[0].Target)
	require.Equal(t, 50, recs[0].Ticks)
	require.True(t, base.Add(4*time.Second).Equal(recs[0].FinishedAt))
	require.Equal(t, 30, recs[2].Ticks)

	beta, err := store.Recent(context.Background(), "beta", 0)
	require.NoError(t, err)
	require.Len(t, beta, 1)
	require.Equal(t, "stuck", beta[0].Outcome)
	require.False(t, beta[0].FinishedAt.IsZero())
}

func TestOutcomeCounts(t *testing.T) {
	store, _ := openTestStore(t)
	for _, outcome := range []string{"arrived", "arrived", "timed out", "stuck"} {
		require.NoError(t, store.Record(Record{AgentID: "alpha", Outcome: outcome}))
	}
	counts, err := store.OutcomeCounts(context.Background(), "alpha")
	require.NoError(t, err)
	require.Equal(t, map[string]int{"arrived": 2, "timed out": 1, "stuck": 1}, counts)
}

func TestCloseFlushesAndPersists(t *testing.T) {
	store, path := openTestStore(t)
	require.NoError(t, store.Record(Record{AgentID: "alpha", Outcome: "arrived", Replans: 2}))
	require.NoError(t, store.Close())
	require.ErrorIs(t, store.Record(Record{AgentID: "alpha"}), ErrClosed)

	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()
	var replans int
	require.NoError(t, db.QueryRow(`SELECT replans FROM sessions WHERE agent_id='alpha'`).Scan(&replans))
	require.Equal(t, 2, replans)
}

func TestNilStoreIgnoresRecords(t *testing.T) {
	var store *Store
	require.NoError(t, store.Record(Record{AgentID: "alpha"}))
}

func TestOpenRejectsEmptyPath(t *testing.T) {
	_, err := OpenSQLite("", nil)
	require.Error(t, err)
}
