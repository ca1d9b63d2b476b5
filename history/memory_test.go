package history_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/agentrun/runtime/history"
)

func TestMemoryStoreStartAndLoad(t *testing.T) {
	s := history.NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.StartRun(ctx, history.Record{RunID: "r1", Mode: "single"}))
	rec, err := s.Load(ctx, "r1")
	require.NoError(t, err)
	require.Equal(t, history.StatusRunning, rec.Status)
	require.False(t, rec.UpdatedAt.IsZero())
}

func TestMemoryStoreLoadMissing(t *testing.T) {
	s := history.NewMemoryStore()
	_, err := s.Load(context.Background(), "missing")
	require.ErrorIs(t, err, history.ErrNotFound)
}

func TestMemoryStoreCompleteRunIsIdempotent(t *testing.T) {
	s := history.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.StartRun(ctx, history.Record{RunID: "r1"}))
	require.NoError(t, s.CompleteRun(ctx, history.Record{RunID: "r1", Text: "done"}))
	require.NoError(t, s.CompleteRun(ctx, history.Record{RunID: "r1", Text: "done again"}))

	rec, err := s.Load(ctx, "r1")
	require.NoError(t, err)
	require.Equal(t, history.StatusCompleted, rec.Status)
	require.False(t, rec.FinishedAt.IsZero())
}

func TestMemoryStoreMinimalFallbacks(t *testing.T) {
	s := history.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.StartRun(ctx, history.Record{RunID: "r1"}))
	require.NoError(t, s.MarkRunCompletedMinimal(ctx, "r1"))

	rec, err := s.Load(ctx, "r1")
	require.NoError(t, err)
	require.Equal(t, history.StatusCompleted, rec.Status)

	require.NoError(t, s.StartRun(ctx, history.Record{RunID: "r2"}))
	require.NoError(t, s.MarkRunFailedMinimal(ctx, "r2", "boom"))
	rec2, err := s.Load(ctx, "r2")
	require.NoError(t, err)
	require.Equal(t, history.StatusFailed, rec2.Status)
	require.Equal(t, "boom", rec2.ErrorMessage)
}

func TestMemoryStoreRecoverRunningRuns(t *testing.T) {
	s := history.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.StartRun(ctx, history.Record{RunID: "r1"}))
	require.NoError(t, s.StartRun(ctx, history.Record{RunID: "r2"}))
	require.NoError(t, s.CompleteRun(ctx, history.Record{RunID: "r2"}))

	n, err := s.RecoverRunningRuns(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	rec, err := s.Load(ctx, "r1")
	require.NoError(t, err)
	require.Equal(t, history.StatusInterrupted, rec.Status)
	require.Equal(t, history.RecoveryMessage, rec.ErrorMessage)

	rec2, err := s.Load(ctx, "r2")
	require.NoError(t, err)
	require.Equal(t, history.StatusCompleted, rec2.Status)
}

func TestMemoryStoreListSortAndFilter(t *testing.T) {
	s := history.NewMemoryStore()
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	require.NoError(t, s.StartRun(ctx, history.Record{RunID: "old", StartedAt: base}))
	require.NoError(t, s.CompleteRun(ctx, history.Record{RunID: "old", StartedAt: base}))
	require.NoError(t, s.StartRun(ctx, history.Record{RunID: "new", StartedAt: base.Add(time.Minute)}))
	require.NoError(t, s.FailRun(ctx, history.Record{RunID: "new", StartedAt: base.Add(time.Minute)}))

	all, err := s.List(ctx, history.ListOptions{Limit: 10})
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, "new", all[0].RunID)

	anomalies, err := s.List(ctx, history.ListOptions{Limit: 10, AnomaliesOnly: true})
	require.NoError(t, err)
	require.Len(t, anomalies, 1)
	require.Equal(t, "new", anomalies[0].RunID)
}

func TestMemoryStoreListClampsLimitAndOffset(t *testing.T) {
	s := history.NewMemoryStore()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		id := string(rune('a' + i))
		require.NoError(t, s.StartRun(ctx, history.Record{RunID: id}))
	}
	out, err := s.List(ctx, history.ListOptions{Limit: 0, Offset: 100})
	require.NoError(t, err)
	require.Empty(t, out)
}
