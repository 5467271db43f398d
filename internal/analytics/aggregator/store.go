// Package aggregator persists snapshots of the aggregated QA analytics to
// PostgreSQL so totals survive restarts and history can be charted.
package aggregator

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Document-QA-Retrieval-Platform/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Retrieval-Platform/pkg/postgres"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS analytics_snapshots (
		id          BIGSERIAL PRIMARY KEY,
		data        JSONB NOT NULL,
		captured_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS analytics_snapshots_captured_at_idx
		ON analytics_snapshots (captured_at DESC)`,
}

// StatsSource yields the stats to persist; *analytics.Aggregator implements it.
type StatsSource interface {
	Stats() analytics.AggregatedStats
}

type Store struct {
	db        *postgres.Client
	retention int
	logger    *slog.Logger

	// lastSaved is the body of the previous periodic save with CapturedAt
	// cleared. It is only touched by the periodic save goroutine.
	lastSaved []byte
}

// NewStore keeps the newest retention snapshots after every save. A
// retention of zero or less keeps everything.
func NewStore(db *postgres.Client, retention int) *Store {
	return &Store{
		db:        db,
		retention: retention,
		logger:    slog.Default().With("component", "analytics-store"),
	}
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	if err := s.db.Migrate(ctx, schema...); err != nil {
		return fmt.Errorf("creating analytics schema: %w", err)
	}
	return nil
}

// SaveSnapshot inserts stats and prunes rows beyond the retention limit in
// the same transaction.
func (s *Store) SaveSnapshot(ctx context.Context, stats analytics.AggregatedStats) error {
	data, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("encoding stats: %w", err)
	}
	capturedAt := stats.CapturedAt
	if capturedAt.IsZero() {
		capturedAt = time.Now().UTC()
	}

	var pruned int64
	err = s.db.InTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO analytics_snapshots (data, captured_at) VALUES ($1, $2)`,
			data, capturedAt,
		); err != nil {
			return fmt.Errorf("inserting snapshot: %w", err)
		}
		if s.retention <= 0 {
			return nil
		}
		res, err := tx.ExecContext(ctx,
			`DELETE FROM analytics_snapshots WHERE id NOT IN (
				SELECT id FROM analytics_snapshots ORDER BY captured_at DESC, id DESC LIMIT $1
			)`,
			s.retention,
		)
		if err != nil {
			return fmt.Errorf("pruning snapshots: %w", err)
		}
		pruned, _ = res.RowsAffected()
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.Info("analytics snapshot saved",
		"total_questions", stats.TotalQuestions,
		"total_docs_indexed", stats.TotalDocsIndexed,
		"pruned", pruned,
	)
	return nil
}

// LatestSnapshot returns nil, nil when nothing has been saved yet.
func (s *Store) LatestSnapshot(ctx context.Context) (*analytics.AggregatedStats, error) {
	list, err := s.ListSnapshots(ctx, 1)
	if err != nil || len(list) == 0 {
		return nil, err
	}
	return &list[0], nil
}

// ListSnapshots returns up to limit snapshots, newest first. CapturedAt is
// taken from the row so it matches the stored ordering. Rows that fail to
// decode are skipped.
func (s *Store) ListSnapshots(ctx context.Context, limit int) ([]analytics.AggregatedStats, error) {
	rows, err := s.db.DB.QueryContext(ctx,
		`SELECT data, captured_at FROM analytics_snapshots ORDER BY captured_at DESC, id DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []analytics.AggregatedStats
	for rows.Next() {
		var data []byte
		var capturedAt time.Time
		if err := rows.Scan(&data, &capturedAt); err != nil {
			return nil, fmt.Errorf("scanning snapshot row: %w", err)
		}
		var stats analytics.AggregatedStats
		if err := json.Unmarshal(data, &stats); err != nil {
			s.logger.Warn("skipping corrupt snapshot", "error", err)
			continue
		}
		stats.CapturedAt = capturedAt.UTC()
		snapshots = append(snapshots, stats)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading snapshots: %w", err)
	}
	return snapshots, nil
}

// StartPeriodicSave snapshots src every interval and once more when ctx is
// cancelled. Ticks where nothing changed since the last save are skipped.
// The returned channel closes after the final snapshot.
func (s *Store) StartPeriodicSave(ctx context.Context, src StatsSource, interval time.Duration) <-chan struct{} {
	if interval <= 0 {
		interval = time.Minute
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := s.saveIfChanged(ctx, src.Stats()); err != nil {
					s.logger.Error("periodic snapshot failed", "error", err)
				}
			case <-ctx.Done():
				finalCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				if err := s.saveIfChanged(finalCtx, src.Stats()); err != nil {
					s.logger.Error("final snapshot failed", "error", err)
				}
				cancel()
				return
			}
		}
	}()
	s.logger.Info("periodic snapshot started", "interval", interval, "retention", s.retention)
	return done
}

func (s *Store) saveIfChanged(ctx context.Context, stats analytics.AggregatedStats) error {
	body := stats
	body.CapturedAt = time.Time{}
	key, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding stats: %w", err)
	}
	if s.lastSaved != nil && bytes.Equal(key, s.lastSaved) {
		s.logger.Debug("stats unchanged, snapshot skipped")
		return nil
	}
	if err := s.SaveSnapshot(ctx, stats); err != nil {
		return err
	}
	s.lastSaved = key
	return nil
}
