package service

import (
	"context"
	"sort"
	"time"

	apperrors "focusflow/backend/internal/errors"
	"focusflow/backend/internal/model"
	"focusflow/backend/internal/repository"
)

// StatsService folds stopped sessions into per-user, per-date rollups. An
// aggregation ledger keyed (session_id, seq) makes replay safe: an interval
// is applied at most once no matter how often a session is re-aggregated.
type StatsService struct {
	sessions *repository.SessionRepository
	stats    *repository.StatsRepository
	loc      *time.Location
	now      func() time.Time
}

// DailyStatView is the wire shape of a daily rollup. When the user has an
// open session its in-flight seconds are folded into the totals for display
// without being persisted.
type DailyStatView struct {
	model.DailyStat
	ServerTime time.Time `json:"serverTime"`
}

func NewStatsService(
	sessions *repository.SessionRepository,
	stats *repository.StatsRepository,
	loc *time.Location,
) *StatsService {
	if loc == nil {
		loc = time.UTC
	}
	return &StatsService{
		sessions: sessions,
		stats:    stats,
		loc:      loc,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

type dateDelta struct {
	workSeconds  int
	breakSeconds int
}

// AggregateSession applies every unledgered interval of a stopped session to
// its date's rollup, in one transaction. Each interval contributes to the
// calendar date it started in, clipped at the next local midnight. The score
// is recomputed from the stored totals, never adjusted incrementally.
func (s *StatsService) AggregateSession(ctx context.Context, session *model.Session) *apperrors.APIError {
	if session.Status != model.StatusStopped {
		return apperrors.InvalidState("only a stopped session can be aggregated")
	}

	now := s.now()
	tx, err := s.stats.BeginTx(ctx)
	if err != nil {
		return apperrors.Internal("failed to start transaction")
	}
	defer tx.Rollback()

	deltas := make(map[string]*dateDelta)
	for seq, interval := range session.Intervals {
		if interval.Open() {
			continue
		}

		applied, markErr := s.stats.MarkIntervalAggregatedTx(ctx, tx, session.ID, seq)
		if markErr != nil {
			return apperrors.Internal("failed to record aggregation")
		}
		if !applied {
			continue
		}

		date, seconds := model.ClipToStartDate(interval, s.loc)
		delta, ok := deltas[date]
		if !ok {
			delta = &dateDelta{}
			deltas[date] = delta
		}
		if interval.Kind == model.IntervalBreak {
			delta.breakSeconds += seconds
		} else {
			delta.workSeconds += seconds
		}
	}

	dates := make([]string, 0, len(deltas))
	for date := range deltas {
		dates = append(dates, date)
	}
	sort.Strings(dates)

	for _, date := range dates {
		stat, getErr := s.stats.GetDailyStatTx(ctx, tx, session.UserID, date)
		if getErr == repository.ErrNotFound {
			stat = &model.DailyStat{UserID: session.UserID, Date: date}
		} else if getErr != nil {
			return apperrors.Internal("failed to read daily stat")
		}

		delta := deltas[date]
		stat.TotalWorkSeconds += delta.workSeconds
		stat.TotalBreakSeconds += delta.breakSeconds
		stat.SessionCount++
		stat.ProductivityScore = model.ProductivityScore(stat.TotalWorkSeconds, stat.TotalBreakSeconds)
		stat.UpdatedAt = now

		if upsertErr := s.stats.UpsertDailyStatTx(ctx, tx, stat); upsertErr != nil {
			return apperrors.Internal("failed to update daily stat")
		}
	}

	if commitErr := tx.Commit(); commitErr != nil {
		return apperrors.Internal("failed to commit aggregation")
	}
	return nil
}

// ReplayPending re-aggregates stopped sessions whose aggregation never
// committed, e.g. after a crash between the stop commit and the stat commit.
func (s *StatsService) ReplayPending(ctx context.Context, userID string) *apperrors.APIError {
	ids, err := s.stats.ListPendingSessionIDs(ctx, userID)
	if err != nil {
		return apperrors.Internal("failed to find pending sessions")
	}

	for _, id := range ids {
		session, apiErr := s.loadSession(ctx, id)
		if apiErr != nil {
			return apiErr
		}
		if apiErr := s.AggregateSession(ctx, session); apiErr != nil {
			return apiErr
		}
	}
	return nil
}

// GetDailyStats returns the rollup for date ("" means the server's today in
// the configured timezone). Pending aggregations are replayed first so a
// read issued after a stop always observes it, and the open session's
// in-flight seconds are folded in without being persisted.
func (s *StatsService) GetDailyStats(ctx context.Context, userID, date string) (*DailyStatView, *apperrors.APIError) {
	now := s.now()
	if date == "" {
		date = model.DateKey(now, s.loc)
	} else if _, parseErr := time.Parse(model.DateLayout, date); parseErr != nil {
		return nil, apperrors.BadRequest("invalid_date", "date must be formatted YYYY-MM-DD")
	}

	if apiErr := s.ReplayPending(ctx, userID); apiErr != nil {
		return nil, apiErr
	}

	stat, err := s.stats.GetDailyStat(ctx, userID, date)
	if err == repository.ErrNotFound {
		stat = &model.DailyStat{UserID: userID, Date: date, UpdatedAt: now}
	} else if err != nil {
		return nil, apperrors.Internal("failed to read daily stat")
	}

	if apiErr := s.foldActiveSession(ctx, userID, date, now, stat); apiErr != nil {
		return nil, apiErr
	}

	return &DailyStatView{DailyStat: *stat, ServerTime: now}, nil
}

// foldActiveSession adds the active session's contribution for date to the
// returned stat. Active sessions are never ledgered, so nothing here can
// double-count against persisted totals.
func (s *StatsService) foldActiveSession(
	ctx context.Context,
	userID, date string,
	now time.Time,
	stat *model.DailyStat,
) *apperrors.APIError {
	session, err := s.sessions.GetActiveSession(ctx, userID)
	if err == repository.ErrNotFound {
		return nil
	}
	if err != nil {
		return apperrors.Internal("failed to get session")
	}

	contributed := false
	for _, interval := range session.Intervals {
		if interval.Open() {
			end := now
			interval.EndedAt = &end
		}
		ivDate, seconds := model.ClipToStartDate(interval, s.loc)
		if ivDate != date {
			continue
		}
		contributed = true
		if interval.Kind == model.IntervalBreak {
			stat.TotalBreakSeconds += seconds
		} else {
			stat.TotalWorkSeconds += seconds
		}
	}

	if contributed {
		stat.SessionCount++
		stat.ProductivityScore = model.ProductivityScore(stat.TotalWorkSeconds, stat.TotalBreakSeconds)
	}
	return nil
}

func (s *StatsService) loadSession(ctx context.Context, sessionID string) (*model.Session, *apperrors.APIError) {
	tx, err := s.sessions.BeginTx(ctx)
	if err != nil {
		return nil, apperrors.Internal("failed to start transaction")
	}
	defer tx.Rollback()

	session, err := s.sessions.GetSessionTx(ctx, tx, sessionID)
	if err == repository.ErrNotFound {
		return nil, apperrors.NotFound("session_not_found", "session not found")
	}
	if err != nil {
		return nil, apperrors.Internal("failed to get session")
	}

	if commitErr := tx.Commit(); commitErr != nil {
		return nil, apperrors.Internal("failed to commit transaction")
	}
	return session, nil
}
