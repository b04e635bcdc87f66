// Package store persists run outputs (segment aggregates, corrected
// metrics, alignment warnings) to SQLite. Writes happen only after a
// subject's full result set is ready, so a crash mid-computation never
// leaves a partially written run.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "modernc.org/sqlite"

	"github.com/physio-data/physio.report/internal/physio"
)

// Store wraps the results database.
type Store struct {
	*sql.DB
}

// Run identifies one pipeline invocation. Config carries the JSON
// parameter snapshot so results stay interpretable after config changes.
type Run struct {
	ID        string
	CreatedAt time.Time
	Config    string
}

// Open opens (creating if needed) the results database at path and applies
// pending migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open results database: %w", err)
	}
	s := &Store{db}
	if err := s.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// openRaw opens the database without touching the schema. The migrate
// subcommand manages migrations itself.
func openRaw(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open results database: %w", err)
	}
	return &Store{db}, nil
}

// CreateRun records a new run row.
func (s *Store) CreateRun(ctx context.Context, run Run) error {
	_, err := s.ExecContext(ctx,
		`INSERT INTO runs (run_id, created_at_unix, config_json) VALUES (?, ?, ?)`,
		run.ID, run.CreatedAt.Unix(), run.Config,
	)
	if err != nil {
		return fmt.Errorf("failed to create run %s: %w", run.ID, err)
	}
	return nil
}

// SaveSubject writes one subject's aggregates, corrected metrics and
// alignment warnings in a single transaction.
func (s *Store) SaveSubject(ctx context.Context, runID string, aggs []physio.SegmentAggregate, metrics []physio.CorrectedMetric, warnings []physio.AlignmentWarning) error {
	tx, err := s.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
			// ErrTxDone means the transaction was already committed.
			log.Printf("warning: failed to rollback transaction: %v", err)
		}
	}()

	aggStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO segment_aggregates (
			run_id, subject_id, segment_label, segment_instance,
			segment_name, duration_s, usable_windows, total_windows
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer aggStmt.Close()

	featStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO aggregate_features (aggregate_id, feature, value)
		VALUES (?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer featStmt.Close()

	for _, agg := range aggs {
		result, err := aggStmt.ExecContext(ctx,
			runID, agg.SubjectID, agg.Label, agg.Instance,
			agg.SegmentName, agg.Duration, agg.UsableWindows, agg.TotalWindows,
		)
		if err != nil {
			return fmt.Errorf("failed to insert aggregate %s/%s: %w", agg.SubjectID, agg.SegmentName, err)
		}
		aggID, err := result.LastInsertId()
		if err != nil {
			return err
		}
		for _, name := range physio.SortedFeatureNames([]physio.SegmentAggregate{agg}) {
			if _, err := featStmt.ExecContext(ctx, aggID, name, nullable(agg.Features[name])); err != nil {
				return fmt.Errorf("failed to insert feature %s: %w", name, err)
			}
		}
	}

	metricStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO corrected_metrics (
			run_id, subject_id, segment_name, feature,
			raw_value, baseline_value, corrected_value
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer metricStmt.Close()

	for _, m := range metrics {
		if _, err := metricStmt.ExecContext(ctx,
			runID, m.SubjectID, m.SegmentName, m.Feature,
			nullable(m.Raw), nullable(m.Baseline), nullable(m.Corrected),
		); err != nil {
			return fmt.Errorf("failed to insert corrected metric %s/%s/%s: %w", m.SubjectID, m.SegmentName, m.Feature, err)
		}
	}

	warnStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO alignment_warnings (run_id, subject_id, event_label, event_t, reason)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer warnStmt.Close()

	for _, w := range warnings {
		if _, err := warnStmt.ExecContext(ctx, runID, w.SubjectID, w.Label, w.T, w.Reason); err != nil {
			return fmt.Errorf("failed to insert alignment warning: %w", err)
		}
	}

	return tx.Commit()
}

// AggregateRow is one persisted segment aggregate with its feature values.
type AggregateRow struct {
	SubjectID     string
	SegmentLabel  string
	Instance      int
	SegmentName   string
	DurationS     float64
	UsableWindows int
	TotalWindows  int
	Features      map[string]sql.NullFloat64
}

// Aggregates returns the persisted aggregates for a run, ordered by
// subject, then segment name.
func (s *Store) Aggregates(ctx context.Context, runID string) ([]AggregateRow, error) {
	rows, err := s.QueryContext(ctx, `
		SELECT id, subject_id, segment_label, segment_instance,
		       segment_name, duration_s, usable_windows, total_windows
		FROM segment_aggregates
		WHERE run_id = ?
		ORDER BY subject_id, segment_name
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query aggregates: %w", err)
	}
	defer rows.Close()

	var out []AggregateRow
	var ids []int64
	for rows.Next() {
		var id int64
		var r AggregateRow
		if err := rows.Scan(&id, &r.SubjectID, &r.SegmentLabel, &r.Instance,
			&r.SegmentName, &r.DurationS, &r.UsableWindows, &r.TotalWindows); err != nil {
			return nil, err
		}
		r.Features = make(map[string]sql.NullFloat64)
		out = append(out, r)
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, id := range ids {
		featRows, err := s.QueryContext(ctx,
			`SELECT feature, value FROM aggregate_features WHERE aggregate_id = ? ORDER BY feature`, id)
		if err != nil {
			return nil, fmt.Errorf("failed to query aggregate features: %w", err)
		}
		for featRows.Next() {
			var name string
			var v sql.NullFloat64
			if err := featRows.Scan(&name, &v); err != nil {
				featRows.Close()
				return nil, err
			}
			out[i].Features[name] = v
		}
		if err := featRows.Err(); err != nil {
			featRows.Close()
			return nil, err
		}
		featRows.Close()
	}
	return out, nil
}

// CorrectedRow is one persisted corrected metric.
type CorrectedRow struct {
	SubjectID   string
	SegmentName string
	Feature     string
	Raw         sql.NullFloat64
	Baseline    sql.NullFloat64
	Corrected   sql.NullFloat64
}

// CorrectedMetrics returns the persisted corrected metrics for a run,
// ordered by subject, segment name, then feature.
func (s *Store) CorrectedMetrics(ctx context.Context, runID string) ([]CorrectedRow, error) {
	rows, err := s.QueryContext(ctx, `
		SELECT subject_id, segment_name, feature, raw_value, baseline_value, corrected_value
		FROM corrected_metrics
		WHERE run_id = ?
		ORDER BY subject_id, segment_name, feature
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query corrected metrics: %w", err)
	}
	defer rows.Close()

	var out []CorrectedRow
	for rows.Next() {
		var r CorrectedRow
		if err := rows.Scan(&r.SubjectID, &r.SegmentName, &r.Feature, &r.Raw, &r.Baseline, &r.Corrected); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// WarningCount returns the number of alignment warnings stored for a run.
func (s *Store) WarningCount(ctx context.Context, runID string) (int, error) {
	var n int
	err := s.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM alignment_warnings WHERE run_id = ?`, runID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count warnings: %w", err)
	}
	return n, nil
}

func nullable(v physio.Value) sql.NullFloat64 {
	return sql.NullFloat64{Float64: v.V, Valid: v.Defined}
}
