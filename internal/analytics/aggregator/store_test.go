package aggregator

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/Document-QA-Retrieval-Platform/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Retrieval-Platform/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Retrieval-Platform/pkg/postgres"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	if os.Getenv("DQ_TEST_POSTGRES") != "1" {
		t.Skip("set DQ_TEST_POSTGRES=1 to run postgres-backed tests")
	}
	cfg, err := config.Load("")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	db, err := postgres.New(ctx, cfg.Postgres)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	s := NewStore(db, 3)
	require.NoError(t, s.EnsureSchema(ctx))
	_, err = db.DB.ExecContext(ctx, `TRUNCATE analytics_snapshots`)
	require.NoError(t, err)
	return s
}

func TestLatestSnapshotEmpty(t *testing.T) {
	s := newTestStore(t)
	got, err := s.LatestSnapshot(context.Background())
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSaveAndListSnapshots(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveSnapshot(ctx, analytics.AggregatedStats{TotalQuestions: 1}))
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, s.SaveSnapshot(ctx, analytics.AggregatedStats{
		TotalQuestions: 7,
		TopQuestions:   []analytics.TermCount{{Key: "what is bm25", Count: 4}},
	}))

	latest, err := s.LatestSnapshot(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, int64(7), latest.TotalQuestions)
	assert.Equal(t, "what is bm25", latest.TopQuestions[0].Key)

	list, err := s.ListSnapshots(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, int64(7), list[0].TotalQuestions)
	assert.Equal(t, int64(1), list[1].TotalQuestions)
}

func TestPeriodicSaveWritesFinalSnapshot(t *testing.T) {
	s := newTestStore(t)
	agg := analytics.NewAggregator()
	agg.RecordQuestion(analytics.QAEvent{DocumentID: "doc-1", Question: "Who?", Matched: true})

	ctx, cancel := context.WithCancel(context.Background())
	done := s.StartPeriodicSave(ctx, agg, time.Hour)
	cancel()
	<-done

	latest, err := s.LatestSnapshot(context.Background())
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, int64(1), latest.TotalQuestions)
}

func TestRetentionPrunesOldest(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)
	for i := range 5 {
		require.NoError(t, s.SaveSnapshot(ctx, analytics.AggregatedStats{
			TotalQuestions: int64(i),
			CapturedAt:     base.Add(time.Duration(i) * time.Minute),
		}))
	}
	list, err := s.ListSnapshots(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, int64(4), list[0].TotalQuestions)
	assert.Equal(t, int64(2), list[2].TotalQuestions)
}

func TestPeriodicSaveSkipsUnchanged(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	stats := analytics.AggregatedStats{TotalQuestions: 3, CapturedAt: time.Now().UTC()}

	require.NoError(t, s.saveIfChanged(ctx, stats))
	stats.CapturedAt = stats.CapturedAt.Add(time.Minute)
	require.NoError(t, s.saveIfChanged(ctx, stats))

	list, err := s.ListSnapshots(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}
