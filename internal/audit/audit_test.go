package audit

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantumflow/nevra/internal/models"
	"github.com/quantumflow/nevra/internal/storage"
)

func newTestLog(t *testing.T) *SQLiteLog {
	t.Helper()
	db, err := storage.OpenSQLite(filepath.Join(t.TempDir(), "nevra.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	log, err := NewSQLiteLog(db)
	require.NoError(t, err)
	return log
}

func quality(v float64) *float64 { return &v }

func TestSQLiteLog_LogAndQuery(t *testing.T) {
	log := newTestLog(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour).Truncate(time.Second)

	entries := []*Entry{
		{Timestamp: base, RequestID: "r1", UserID: "u1", SessionID: "s1", Mode: models.ModeBuilder, Intent: models.IntentCodeGeneration,
			FinalState: models.StateDone, ExecutionAttempts: 2, RevisionAttempts: 1, TotalAttempts: 3, QualityScore: quality(0.8), Duration: 1500 * time.Millisecond},
		{Timestamp: base.Add(time.Minute), RequestID: "r2", UserID: "u1", SessionID: "s2", Mode: models.ModeTutor,
			FinalState: models.StateError, Error: "backend unavailable"},
		{Timestamp: base.Add(2 * time.Minute), RequestID: "r3", UserID: "u2", FinalState: models.StateDone, QualityScore: quality(0.6)},
	}
	for _, e := range entries {
		require.NoError(t, log.Log(ctx, e))
	}

	got, err := log.Query(ctx, Filter{UserID: "u1"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "r2", got[0].RequestID)
	assert.Equal(t, "r1", got[1].RequestID)

	first := got[1]
	assert.Equal(t, models.ModeBuilder, first.Mode)
	assert.Equal(t, models.IntentCodeGeneration, first.Intent)
	assert.Equal(t, 3, first.TotalAttempts)
	require.NotNil(t, first.QualityScore)
	assert.InDelta(t, 0.8, *first.QualityScore, 1e-9)
	assert.Equal(t, 1500*time.Millisecond, first.Duration)
	assert.Nil(t, got[0].QualityScore)
	assert.Equal(t, "backend unavailable", got[0].Error)

	failed, err := log.Query(ctx, Filter{FinalState: models.StateError})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "r2", failed[0].RequestID)

	window, err := log.Query(ctx, Filter{StartTime: base.Add(30 * time.Second), Limit: 1})
	require.NoError(t, err)
	require.Len(t, window, 1)
	assert.Equal(t, "r3", window[0].RequestID)

	paged, err := log.Query(ctx, Filter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, paged, 1)
	assert.Equal(t, "r2", paged[0].RequestID)
}

func TestSQLiteLog_GetStats(t *testing.T) {
	log := newTestLog(t)
	ctx := context.Background()
	since := time.Now().Add(-time.Hour)

	empty, err := log.GetStats(ctx, "", since)
	require.NoError(t, err)
	assert.Equal(t, 0, empty.TotalRuns)
	assert.Zero(t, empty.ErrorRate)

	require.NoError(t, log.Log(ctx, &Entry{RequestID: "a", UserID: "u1", FinalState: models.StateDone, QualityScore: quality(0.9), Duration: time.Second}))
	require.NoError(t, log.Log(ctx, &Entry{RequestID: "b", UserID: "u1", FinalState: models.StateDone, QualityScore: quality(0.7), Duration: 3 * time.Second}))
	require.NoError(t, log.Log(ctx, &Entry{RequestID: "c", UserID: "u1", FinalState: models.StateError}))
	require.NoError(t, log.Log(ctx, &Entry{RequestID: "d", UserID: "u2", FinalState: models.StateError}))

	stats, err := log.GetStats(ctx, "u1", since)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalRuns)
	assert.Equal(t, 1, stats.FailedRuns)
	assert.InDelta(t, 1.0/3.0, stats.ErrorRate, 1e-9)
	assert.InDelta(t, 0.8, stats.AverageQuality, 1e-9)

	all, err := log.GetStats(ctx, "", since)
	require.NoError(t, err)
	assert.Equal(t, 4, all.TotalRuns)
	assert.InDelta(t, 0.5, all.ErrorRate, 1e-9)

	future, err := log.GetStats(ctx, "", time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 0, future.TotalRuns)
}

func TestNewEntry(t *testing.T) {
	q := 0.75
	wc := &models.WorkflowContext{RequestID: "req-1", UserID: "u1", SessionID: "s1", Mode: models.ModeTutor}
	result := &models.WorkflowResult{
		Error: "boom",
		Metadata: models.ResultMetadata{
			Intent:            models.IntentQuestion,
			FinalState:        models.StateError,
			ExecutionAttempts: 1,
			TotalAttempts:     1,
			QualityScore:      &q,
			Duration:          time.Second,
		},
	}

	entry := NewEntry(wc, result)
	assert.Equal(t, "req-1", entry.RequestID)
	assert.Equal(t, "u1", entry.UserID)
	assert.Equal(t, models.ModeTutor, entry.Mode)
	assert.Equal(t, models.IntentQuestion, entry.Intent)
	assert.Equal(t, models.StateError, entry.FinalState)
	assert.Equal(t, &q, entry.QualityScore)
	assert.Equal(t, "boom", entry.Error)
	assert.False(t, entry.Timestamp.IsZero())
}
