package service

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"

	apperrors "focusflow/backend/internal/errors"
	"focusflow/backend/internal/model"
	"focusflow/backend/internal/repository"
)

// SessionService is the focus-session state machine. Every transition is
// server-timestamped and committed under a conditional status write, so two
// racing transitions for the same user cannot both apply.
type SessionService struct {
	repo  *repository.SessionRepository
	stats *StatsService
	now   func() time.Time
}

// SessionView is the wire shape of a session: the record plus elapsed
// seconds derived from the interval log at ServerTime. The client rebases
// its cosmetic tick from these fields on every sync.
type SessionView struct {
	model.Session
	WorkSeconds  int       `json:"workSeconds"`
	BreakSeconds int       `json:"breakSeconds"`
	TotalSeconds int       `json:"totalSeconds"`
	ServerTime   time.Time `json:"serverTime"`
}

func NewSessionService(repo *repository.SessionRepository, stats *StatsService) *SessionService {
	return &SessionService{
		repo:  repo,
		stats: stats,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (s *SessionService) Start(ctx context.Context, userID, description string, tags []string) (*SessionView, *apperrors.APIError) {
	description = strings.TrimSpace(description)
	if description == "" {
		return nil, apperrors.BadRequest("invalid_description", "description is required")
	}
	if tags == nil {
		tags = []string{}
	}

	now := s.now()
	tx, err := s.repo.BeginTx(ctx)
	if err != nil {
		return nil, apperrors.Internal("failed to start transaction")
	}
	defer tx.Rollback()

	if active, getErr := s.repo.GetActiveSessionTx(ctx, tx, userID); getErr == nil {
		view := s.toView(active, now)
		return nil, apperrors.Conflict("active_session_exists", "an active session already exists", map[string]interface{}{
			"session": view,
		})
	} else if getErr != repository.ErrNotFound {
		return nil, apperrors.Internal("failed to check active session")
	}

	session := model.Session{
		ID:          uuid.NewString(),
		UserID:      userID,
		Description: description,
		Tags:        tags,
		Intervals: []model.Interval{
			{Kind: model.IntervalWork, StartedAt: now},
		},
		Status:    model.StatusRunning,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.repo.InsertSessionTx(ctx, tx, &session); err != nil {
		if repository.IsActiveConflict(err) {
			return nil, apperrors.Conflict("active_session_exists", "an active session already exists", nil)
		}
		return nil, apperrors.Internal("failed to create session")
	}

	if commitErr := tx.Commit(); commitErr != nil {
		return nil, apperrors.Internal("failed to commit transaction")
	}

	view := s.toView(&session, now)
	return &view, nil
}

func (s *SessionService) Pause(ctx context.Context, userID string) (*SessionView, *apperrors.APIError) {
	return s.transition(ctx, userID, model.StatusRunning, model.StatusPaused, model.IntervalBreak,
		"only a running session can be paused")
}

func (s *SessionService) Resume(ctx context.Context, userID string) (*SessionView, *apperrors.APIError) {
	return s.transition(ctx, userID, model.StatusPaused, model.StatusRunning, model.IntervalWork,
		"only a paused session can be resumed")
}

// transition closes the open interval, opens one of nextKind and flips the
// status from fromStatus to toStatus, all conditionally.
func (s *SessionService) transition(
	ctx context.Context,
	userID, fromStatus, toStatus, nextKind, invalidMsg string,
) (*SessionView, *apperrors.APIError) {
	now := s.now()
	tx, err := s.repo.BeginTx(ctx)
	if err != nil {
		return nil, apperrors.Internal("failed to start transaction")
	}
	defer tx.Rollback()

	session, apiErr := s.activeForUpdate(ctx, tx, userID)
	if apiErr != nil {
		return nil, apiErr
	}
	if session.Status != fromStatus {
		return nil, apperrors.InvalidState(invalidMsg)
	}

	if apiErr := s.closeOpenInterval(ctx, tx, session, now); apiErr != nil {
		return nil, apiErr
	}

	next := model.Interval{Kind: nextKind, StartedAt: now}
	if err := s.repo.AppendIntervalTx(ctx, tx, session.ID, len(session.Intervals), next); err != nil {
		return nil, apperrors.Internal("failed to open interval")
	}
	session.Intervals = append(session.Intervals, next)

	ok, err := s.repo.UpdateStatusTx(ctx, tx, session.ID, fromStatus, toStatus, now)
	if err != nil {
		return nil, apperrors.Internal("failed to update session")
	}
	if !ok {
		return nil, apperrors.Conflict("transition_conflict", "session changed concurrently", nil)
	}
	session.Status = toStatus
	session.UpdatedAt = now

	if commitErr := tx.Commit(); commitErr != nil {
		return nil, apperrors.Internal("failed to commit transaction")
	}

	view := s.toView(session, now)
	return &view, nil
}

// Stop closes the open interval and makes the session terminal, then folds it
// into the daily stats. Aggregation is idempotent, so a failure here is
// healed by replay on the next stats read.
func (s *SessionService) Stop(ctx context.Context, userID string) (*SessionView, *apperrors.APIError) {
	now := s.now()
	tx, err := s.repo.BeginTx(ctx)
	if err != nil {
		return nil, apperrors.Internal("failed to start transaction")
	}
	defer tx.Rollback()

	session, apiErr := s.activeForUpdate(ctx, tx, userID)
	if apiErr != nil {
		return nil, apiErr
	}

	if apiErr := s.closeOpenInterval(ctx, tx, session, now); apiErr != nil {
		return nil, apiErr
	}

	ok, err := s.repo.UpdateStatusTx(ctx, tx, session.ID, session.Status, model.StatusStopped, now)
	if err != nil {
		return nil, apperrors.Internal("failed to update session")
	}
	if !ok {
		return nil, apperrors.Conflict("transition_conflict", "session changed concurrently", nil)
	}
	session.Status = model.StatusStopped
	session.UpdatedAt = now

	if commitErr := tx.Commit(); commitErr != nil {
		return nil, apperrors.Internal("failed to commit transaction")
	}

	if apiErr := s.stats.AggregateSession(ctx, session); apiErr != nil {
		return nil, apiErr
	}

	view := s.toView(session, now)
	return &view, nil
}

// GetActiveSession returns the running or paused session with elapsed
// seconds computed against the server clock.
func (s *SessionService) GetActiveSession(ctx context.Context, userID string) (*SessionView, *apperrors.APIError) {
	session, err := s.repo.GetActiveSession(ctx, userID)
	if err == repository.ErrNotFound {
		return nil, apperrors.NotFound("no_active_session", "no active session")
	}
	if err != nil {
		return nil, apperrors.Internal("failed to get session")
	}

	view := s.toView(session, s.now())
	return &view, nil
}

func (s *SessionService) GetHistory(ctx context.Context, userID string, limit int) ([]model.Session, *apperrors.APIError) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	sessions, err := s.repo.ListSessions(ctx, userID, limit)
	if err != nil {
		return nil, apperrors.Internal("failed to get history")
	}
	return sessions, nil
}

func (s *SessionService) activeForUpdate(ctx context.Context, tx *sql.Tx, userID string) (*model.Session, *apperrors.APIError) {
	session, err := s.repo.GetActiveSessionTx(ctx, tx, userID)
	if err == repository.ErrNotFound {
		return nil, apperrors.NotFound("no_active_session", "no active session")
	}
	if err != nil {
		return nil, apperrors.Internal("failed to get session")
	}
	return session, nil
}

func (s *SessionService) closeOpenInterval(ctx context.Context, tx *sql.Tx, session *model.Session, now time.Time) *apperrors.APIError {
	open := session.OpenInterval()
	if open == nil {
		return apperrors.Internal("active session has no open interval")
	}

	seq := len(session.Intervals) - 1
	ok, err := s.repo.CloseIntervalTx(ctx, tx, session.ID, seq, now)
	if err != nil {
		return apperrors.Internal("failed to close interval")
	}
	if !ok {
		return apperrors.Conflict("transition_conflict", "session changed concurrently", nil)
	}

	end := now
	open.EndedAt = &end
	return nil
}

func (s *SessionService) toView(session *model.Session, now time.Time) SessionView {
	work, brk, total := model.Elapsed(session.Intervals, now)
	return SessionView{
		Session:      *session,
		WorkSeconds:  work,
		BreakSeconds: brk,
		TotalSeconds: total,
		ServerTime:   now,
	}
}
