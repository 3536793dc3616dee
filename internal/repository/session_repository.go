package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"focusflow/backend/internal/model"
)

type SessionRepository struct {
	db *sql.DB
}

func NewSessionRepository(db *sql.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

func (r *SessionRepository) BeginTx(ctx context.Context) (*sql.Tx, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	return tx, nil
}

// InsertSessionTx writes the session row and its interval log. The partial
// unique index on active sessions makes a concurrent second insert fail;
// IsActiveConflict recognizes that failure.
func (r *SessionRepository) InsertSessionTx(ctx context.Context, tx *sql.Tx, session *model.Session) error {
	tags, err := json.Marshal(session.Tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}

	_, err = tx.ExecContext(
		ctx,
		`INSERT INTO sessions (id, user_id, description, tags, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		session.ID,
		session.UserID,
		session.Description,
		string(tags),
		session.Status,
		session.CreatedAt.UTC().Format(time.RFC3339Nano),
		session.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}

	for seq, interval := range session.Intervals {
		if err := r.insertIntervalTx(ctx, tx, session.ID, seq, interval); err != nil {
			return err
		}
	}
	return nil
}

func IsActiveConflict(err error) bool {
	return err != nil && strings.Contains(err.Error(), "idx_sessions_active")
}

// GetActiveSessionTx loads the user's running or paused session with its
// interval log, or ErrNotFound.
func (r *SessionRepository) GetActiveSessionTx(ctx context.Context, tx *sql.Tx, userID string) (*model.Session, error) {
	row := tx.QueryRowContext(
		ctx,
		`SELECT id, user_id, description, tags, status, created_at, updated_at
		 FROM sessions
		 WHERE user_id = ? AND status IN (?, ?)`,
		userID,
		model.StatusRunning,
		model.StatusPaused,
	)
	session, err := scanSession(row)
	if err != nil {
		return nil, err
	}
	if err := r.loadIntervalsTx(ctx, tx, session); err != nil {
		return nil, err
	}
	return session, nil
}

func (r *SessionRepository) GetActiveSession(ctx context.Context, userID string) (*model.Session, error) {
	tx, err := r.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	session, err := r.GetActiveSessionTx(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit read tx: %w", err)
	}
	return session, nil
}

func (r *SessionRepository) GetSessionTx(ctx context.Context, tx *sql.Tx, sessionID string) (*model.Session, error) {
	row := tx.QueryRowContext(
		ctx,
		`SELECT id, user_id, description, tags, status, created_at, updated_at
		 FROM sessions
		 WHERE id = ?`,
		sessionID,
	)
	session, err := scanSession(row)
	if err != nil {
		return nil, err
	}
	if err := r.loadIntervalsTx(ctx, tx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// UpdateStatusTx is the per-owner serialization point: a conditional write
// against the status the caller observed. Zero rows affected means another
// transition committed first.
func (r *SessionRepository) UpdateStatusTx(
	ctx context.Context,
	tx *sql.Tx,
	sessionID, fromStatus, toStatus string,
	now time.Time,
) (bool, error) {
	result, err := tx.ExecContext(
		ctx,
		`UPDATE sessions
		 SET status = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		toStatus,
		now.UTC().Format(time.RFC3339Nano),
		sessionID,
		fromStatus,
	)
	if err != nil {
		return false, fmt.Errorf("update session status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update session status: %w", err)
	}
	return affected == 1, nil
}

// CloseIntervalTx terminates the open interval at seq. Conditional on
// ended_at still being null so a racing close cannot apply twice.
func (r *SessionRepository) CloseIntervalTx(ctx context.Context, tx *sql.Tx, sessionID string, seq int, endedAt time.Time) (bool, error) {
	result, err := tx.ExecContext(
		ctx,
		`UPDATE intervals
		 SET ended_at = ?
		 WHERE session_id = ? AND seq = ? AND ended_at IS NULL`,
		endedAt.UTC().Format(time.RFC3339Nano),
		sessionID,
		seq,
	)
	if err != nil {
		return false, fmt.Errorf("close interval: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("close interval: %w", err)
	}
	return affected == 1, nil
}

func (r *SessionRepository) AppendIntervalTx(ctx context.Context, tx *sql.Tx, sessionID string, seq int, interval model.Interval) error {
	return r.insertIntervalTx(ctx, tx, sessionID, seq, interval)
}

func (r *SessionRepository) insertIntervalTx(ctx context.Context, tx *sql.Tx, sessionID string, seq int, interval model.Interval) error {
	var endedAt interface{}
	if interval.EndedAt != nil {
		endedAt = interval.EndedAt.UTC().Format(time.RFC3339Nano)
	}

	_, err := tx.ExecContext(
		ctx,
		`INSERT INTO intervals (session_id, seq, kind, started_at, ended_at)
		 VALUES (?, ?, ?, ?, ?)`,
		sessionID,
		seq,
		interval.Kind,
		interval.StartedAt.UTC().Format(time.RFC3339Nano),
		endedAt,
	)
	if err != nil {
		return fmt.Errorf("insert interval: %w", err)
	}
	return nil
}

func (r *SessionRepository) ListSessions(ctx context.Context, userID string, limit int) ([]model.Session, error) {
	tx, err := r.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(
		ctx,
		`SELECT id, user_id, description, tags, status, created_at, updated_at
		 FROM sessions
		 WHERE user_id = ?
		 ORDER BY created_at DESC
		 LIMIT ?`,
		userID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	sessions := make([]model.Session, 0, limit)
	for rows.Next() {
		session, scanErr := scanSession(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		sessions = append(sessions, *session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}

	for i := range sessions {
		if err := r.loadIntervalsTx(ctx, tx, &sessions[i]); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit read tx: %w", err)
	}
	return sessions, nil
}

func (r *SessionRepository) loadIntervalsTx(ctx context.Context, tx *sql.Tx, session *model.Session) error {
	rows, err := tx.QueryContext(
		ctx,
		`SELECT kind, started_at, ended_at
		 FROM intervals
		 WHERE session_id = ?
		 ORDER BY seq ASC`,
		session.ID,
	)
	if err != nil {
		return fmt.Errorf("load intervals: %w", err)
	}
	defer rows.Close()

	intervals := make([]model.Interval, 0, 4)
	for rows.Next() {
		var interval model.Interval
		var startedAt string
		var endedAt sql.NullString
		if err := rows.Scan(&interval.Kind, &startedAt, &endedAt); err != nil {
			return fmt.Errorf("scan interval: %w", err)
		}

		parsedStartedAt, err := parseTime(startedAt)
		if err != nil {
			return fmt.Errorf("parse interval started_at: %w", err)
		}
		interval.StartedAt = parsedStartedAt

		if endedAt.Valid {
			parsedEndedAt, parseErr := parseTime(endedAt.String)
			if parseErr != nil {
				return fmt.Errorf("parse interval ended_at: %w", parseErr)
			}
			interval.EndedAt = &parsedEndedAt
		}
		intervals = append(intervals, interval)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate intervals: %w", err)
	}

	session.Intervals = intervals
	return nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(s scanner) (*model.Session, error) {
	session := model.Session{}
	var tags string
	var createdAt string
	var updatedAt string
	err := s.Scan(
		&session.ID,
		&session.UserID,
		&session.Description,
		&tags,
		&session.Status,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan session: %w", err)
	}

	if err := json.Unmarshal([]byte(tags), &session.Tags); err != nil {
		return nil, fmt.Errorf("unmarshal tags: %w", err)
	}
	if session.Tags == nil {
		session.Tags = []string{}
	}

	parsedCreatedAt, err := parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse session created_at: %w", err)
	}
	session.CreatedAt = parsedCreatedAt

	parsedUpdatedAt, err := parseTime(updatedAt)
	if err != nil {
		return nil, fmt.Errorf("parse session updated_at: %w", err)
	}
	session.UpdatedAt = parsedUpdatedAt

	return &session, nil
}
