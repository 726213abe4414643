package backtest

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openResultStore(t *testing.T) *ResultStore {
	t.Helper()
	store, err := NewResultStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestResultStoreRoundTripAndUpsert(t *testing.T) {
	store := openResultStore(t)
	ctx := context.Background()

	created := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	require.NoError(t, store.SaveRun(ctx, Run{
		ID:        "run-1",
		Status:    StatusRunning,
		CreatedAt: created,
	}))

	pending, err := store.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, pending.Status)
	assert.Nil(t, pending.Stats)
	assert.True(t, pending.FinishedAt.IsZero())

	finished := Run{
		ID:         "run-1",
		Status:     StatusCompleted,
		CreatedAt:  created,
		FinishedAt: created.Add(time.Minute),
		Stats:      &Stats{StartingCash: 100000, FinalEquity: 104000, ReturnPct: 4, TotalSells: 3},
		EquityCurve: []EquityPoint{
			{Date: created, Equity: 100000},
			{Date: created.Add(24 * time.Hour), Equity: 104000},
		},
	}
	require.NoError(t, store.SaveRun(ctx, finished))

	got, err := store.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	require.NotNil(t, got.Stats)
	assert.Equal(t, 104000.0, got.Stats.FinalEquity)
	require.Len(t, got.EquityCurve, 2)
	assert.Equal(t, created.Add(time.Minute), got.FinishedAt)
}

func TestResultStoreListNewestFirstWithoutCurves(t *testing.T) {
	store := openResultStore(t)
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"old", "mid", "new"} {
		require.NoError(t, store.SaveRun(ctx, Run{
			ID:          id,
			Status:      StatusCompleted,
			CreatedAt:   base.Add(time.Duration(i) * time.Hour),
			EquityCurve: []EquityPoint{{Date: base, Equity: 1}},
		}))
	}

	runs, err := store.ListRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "new", runs[0].ID)
	assert.Equal(t, "mid", runs[1].ID)
	assert.Empty(t, runs[0].EquityCurve, "listings omit the curve payload")
}

func TestResultStoreMissingRun(t *testing.T) {
	store := openResultStore(t)
	_, err := store.GetRun(context.Background(), "nope")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}
