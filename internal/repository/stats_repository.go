package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"focusflow/backend/internal/model"
)

type StatsRepository struct {
	db *sql.DB
}

func NewStatsRepository(db *sql.DB) *StatsRepository {
	return &StatsRepository{db: db}
}

func (r *StatsRepository) BeginTx(ctx context.Context) (*sql.Tx, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	return tx, nil
}

func (r *StatsRepository) GetDailyStat(ctx context.Context, userID, date string) (*model.DailyStat, error) {
	return r.getDailyStat(ctx, r.db.QueryRowContext, userID, date)
}

func (r *StatsRepository) GetDailyStatTx(ctx context.Context, tx *sql.Tx, userID, date string) (*model.DailyStat, error) {
	return r.getDailyStat(ctx, tx.QueryRowContext, userID, date)
}

type queryRowFunc func(ctx context.Context, query string, args ...interface{}) *sql.Row

func (r *StatsRepository) getDailyStat(ctx context.Context, queryRow queryRowFunc, userID, date string) (*model.DailyStat, error) {
	row := queryRow(
		ctx,
		`SELECT user_id, date, total_work_seconds, total_break_seconds,
		        session_count, productivity_score, updated_at
		 FROM daily_stats
		 WHERE user_id = ? AND date = ?`,
		userID,
		date,
	)

	stat := model.DailyStat{}
	var updatedAt string
	err := row.Scan(
		&stat.UserID,
		&stat.Date,
		&stat.TotalWorkSeconds,
		&stat.TotalBreakSeconds,
		&stat.SessionCount,
		&stat.ProductivityScore,
		&updatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan daily stat: %w", err)
	}

	parsedUpdatedAt, err := parseTime(updatedAt)
	if err != nil {
		return nil, fmt.Errorf("parse daily stat updated_at: %w", err)
	}
	stat.UpdatedAt = parsedUpdatedAt
	return &stat, nil
}

func (r *StatsRepository) UpsertDailyStatTx(ctx context.Context, tx *sql.Tx, stat *model.DailyStat) error {
	_, err := tx.ExecContext(
		ctx,
		`INSERT INTO daily_stats (
			user_id, date, total_work_seconds, total_break_seconds,
			session_count, productivity_score, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, date) DO UPDATE SET
			total_work_seconds = excluded.total_work_seconds,
			total_break_seconds = excluded.total_break_seconds,
			session_count = excluded.session_count,
			productivity_score = excluded.productivity_score,
			updated_at = excluded.updated_at`,
		stat.UserID,
		stat.Date,
		stat.TotalWorkSeconds,
		stat.TotalBreakSeconds,
		stat.SessionCount,
		stat.ProductivityScore,
		stat.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("upsert daily stat: %w", err)
	}
	return nil
}

// MarkIntervalAggregatedTx records an interval in the aggregation ledger.
// Returns false when the interval was already ledgered, which tells the
// aggregator to skip it on replay.
func (r *StatsRepository) MarkIntervalAggregatedTx(ctx context.Context, tx *sql.Tx, sessionID string, seq int) (bool, error) {
	result, err := tx.ExecContext(
		ctx,
		`INSERT OR IGNORE INTO aggregated_intervals (session_id, seq) VALUES (?, ?)`,
		sessionID,
		seq,
	)
	if err != nil {
		return false, fmt.Errorf("mark interval aggregated: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark interval aggregated: %w", err)
	}
	return affected == 1, nil
}

// ListPendingSessionIDs finds stopped sessions that still have intervals
// missing from the ledger, i.e. sessions whose aggregation never committed.
func (r *StatsRepository) ListPendingSessionIDs(ctx context.Context, userID string) ([]string, error) {
	rows, err := r.db.QueryContext(
		ctx,
		`SELECT DISTINCT s.id
		 FROM sessions s
		 JOIN intervals i ON i.session_id = s.id
		 LEFT JOIN aggregated_intervals a ON a.session_id = i.session_id AND a.seq = i.seq
		 WHERE s.user_id = ? AND s.status = ? AND a.session_id IS NULL`,
		userID,
		model.StatusStopped,
	)
	if err != nil {
		return nil, fmt.Errorf("list pending sessions: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0, 2)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan pending session id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending sessions: %w", err)
	}
	return ids, nil
}
