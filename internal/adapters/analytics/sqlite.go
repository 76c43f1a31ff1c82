// Package analytics exports the read-only judging feed into a sqlite file
// that reporting tools can query offline.
package analytics

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// ErrClosed is returned after Close.
var ErrClosed = errors.New("analytics exporter closed")

// SQLiteExporter writes one Feed per (event, round), replacing the previous
// export of that round.
type SQLiteExporter struct {
	db *sql.DB
}

// OpenSQLite opens path (":memory:" for tests) and applies migrations.
func OpenSQLite(ctx context.Context, path string) (*SQLiteExporter, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open analytics db: %w", err)
	}
	if path == ":memory:" || strings.Contains(path, "mode=memory") {
		// every pooled connection would get its own empty database
		db.SetMaxOpenConns(1)
	} else if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("analytics pragma: %w", err)
	}
	if err := applyMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteExporter{db: db}, nil
}

// Export replaces the stored snapshot of feed's round in one transaction.
func (e *SQLiteExporter) Export(ctx context.Context, feed Feed) (err error) {
	if e.db == nil {
		return ErrClosed
	}
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin export: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, table := range []string{"scores", "aggregates", "judge_metrics", "exports"} {
		if _, err = tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE event_id = ? AND round = ?`, feed.EventID, feed.Round); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}

	if _, err = tx.ExecContext(ctx,
		`INSERT INTO exports (event_id, round, version, method, generated_at) VALUES (?, ?, ?, ?, ?)`,
		feed.EventID, feed.Round, feed.Version, feed.Method, feed.GeneratedAt.UTC().UnixMilli()); err != nil {
		return fmt.Errorf("insert export: %w", err)
	}

	for _, s := range feed.Scores {
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO scores (event_id, round, score_id, judge_id, submission_id, total, normalized, unnormalized)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			feed.EventID, feed.Round, s.ScoreID, s.JudgeID, s.SubmissionID, s.Total, s.Normalized, s.Unnormalized); err != nil {
			return fmt.Errorf("insert score %s: %w", s.ScoreID, err)
		}
	}

	for _, a := range feed.Aggregates {
		var rank sql.NullInt64
		if a.Rank > 0 {
			rank = sql.NullInt64{Int64: int64(a.Rank), Valid: true}
		}
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO aggregates (event_id, round, submission_id, rank, aggregate, raw_mean, coverage, insufficient_coverage)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			feed.EventID, feed.Round, a.SubmissionID, rank, nullFloat(a.Aggregate), a.RawMean, a.Coverage, a.InsufficientCoverage); err != nil {
			return fmt.Errorf("insert aggregate %s: %w", a.SubmissionID, err)
		}
	}

	for _, j := range feed.Judges {
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO judge_metrics (event_id, round, judge_id, scored, agreement, bias, outlier)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			feed.EventID, feed.Round, j.JudgeID, j.Scored, nullFloat(j.Agreement), nullFloat(j.Bias), j.Outlier); err != nil {
			return fmt.Errorf("insert judge metric %s: %w", j.JudgeID, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit export: %w", err)
	}
	return nil
}

// Load reads back the stored snapshot of a round.
func (e *SQLiteExporter) Load(ctx context.Context, eventID string, round int) (Feed, bool, error) {
	if e.db == nil {
		return Feed{}, false, ErrClosed
	}
	feed := Feed{EventID: eventID, Round: round}
	var generated int64
	err := e.db.QueryRowContext(ctx,
		`SELECT version, method, generated_at FROM exports WHERE event_id = ? AND round = ?`,
		eventID, round).Scan(&feed.Version, &feed.Method, &generated)
	if errors.Is(err, sql.ErrNoRows) {
		return Feed{}, false, nil
	}
	if err != nil {
		return Feed{}, false, fmt.Errorf("load export: %w", err)
	}
	feed.GeneratedAt = time.UnixMilli(generated).UTC()

	if feed.Scores, err = e.loadScores(ctx, eventID, round); err != nil {
		return Feed{}, false, err
	}
	if feed.Aggregates, err = e.loadAggregates(ctx, eventID, round); err != nil {
		return Feed{}, false, err
	}
	if feed.Judges, err = e.loadJudges(ctx, eventID, round); err != nil {
		return Feed{}, false, err
	}
	return feed, true, nil
}

func (e *SQLiteExporter) loadScores(ctx context.Context, eventID string, round int) ([]ScoreRow, error) {
	rows, err := e.db.QueryContext(ctx,
		`SELECT score_id, judge_id, submission_id, total, normalized, unnormalized
		 FROM scores WHERE event_id = ? AND round = ? ORDER BY judge_id, submission_id`, eventID, round)
	if err != nil {
		return nil, fmt.Errorf("load scores: %w", err)
	}
	defer rows.Close()
	var out []ScoreRow
	for rows.Next() {
		var s ScoreRow
		if err := rows.Scan(&s.ScoreID, &s.JudgeID, &s.SubmissionID, &s.Total, &s.Normalized, &s.Unnormalized); err != nil {
			return nil, fmt.Errorf("scan score: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (e *SQLiteExporter) loadAggregates(ctx context.Context, eventID string, round int) ([]AggregateRow, error) {
	rows, err := e.db.QueryContext(ctx,
		`SELECT submission_id, rank, aggregate, raw_mean, coverage, insufficient_coverage
		 FROM aggregates WHERE event_id = ? AND round = ?
		 ORDER BY rank IS NULL, rank, submission_id`, eventID, round)
	if err != nil {
		return nil, fmt.Errorf("load aggregates: %w", err)
	}
	defer rows.Close()
	var out []AggregateRow
	for rows.Next() {
		var (
			a    AggregateRow
			rank sql.NullInt64
			agg  sql.NullFloat64
		)
		if err := rows.Scan(&a.SubmissionID, &rank, &agg, &a.RawMean, &a.Coverage, &a.InsufficientCoverage); err != nil {
			return nil, fmt.Errorf("scan aggregate: %w", err)
		}
		if rank.Valid {
			a.Rank = int(rank.Int64)
		}
		a.Aggregate = floatPtr(agg)
		out = append(out, a)
	}
	return out, rows.Err()
}

func (e *SQLiteExporter) loadJudges(ctx context.Context, eventID string, round int) ([]JudgeRow, error) {
	rows, err := e.db.QueryContext(ctx,
		`SELECT judge_id, scored, agreement, bias, outlier
		 FROM judge_metrics WHERE event_id = ? AND round = ? ORDER BY judge_id`, eventID, round)
	if err != nil {
		return nil, fmt.Errorf("load judge metrics: %w", err)
	}
	defer rows.Close()
	var out []JudgeRow
	for rows.Next() {
		var (
			j               JudgeRow
			agreement, bias sql.NullFloat64
		)
		if err := rows.Scan(&j.JudgeID, &j.Scored, &agreement, &bias, &j.Outlier); err != nil {
			return nil, fmt.Errorf("scan judge metric: %w", err)
		}
		j.Agreement = floatPtr(agreement)
		j.Bias = floatPtr(bias)
		out = append(out, j)
	}
	return out, rows.Err()
}

// Close releases the database.
func (e *SQLiteExporter) Close() error {
	if e.db == nil {
		return nil
	}
	err := e.db.Close()
	e.db = nil
	return err
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
