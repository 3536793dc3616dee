package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"focusflow/backend/internal/model"
	"focusflow/backend/internal/repository"
)

func TestStopAggregatesIntoDailyStats(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	date := model.DateKey(env.clock.Now(), time.UTC)

	_, apiErr := env.sessions.Start(ctx, env.userID, "Write report", nil)
	require.Nil(t, apiErr)

	env.clock.Advance(120 * time.Second)
	_, apiErr = env.sessions.Pause(ctx, env.userID)
	require.Nil(t, apiErr)

	env.clock.Advance(30 * time.Second)
	_, apiErr = env.sessions.Stop(ctx, env.userID)
	require.Nil(t, apiErr)

	stats, apiErr := env.stats.GetDailyStats(ctx, env.userID, date)
	require.Nil(t, apiErr)
	assert.Equal(t, 120, stats.TotalWorkSeconds)
	assert.Equal(t, 30, stats.TotalBreakSeconds)
	assert.Equal(t, 1, stats.SessionCount)
	// round(100 * 120 / 150)
	assert.Equal(t, 80, stats.ProductivityScore)
}

func TestAggregationIsIdempotent(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	date := model.DateKey(env.clock.Now(), time.UTC)

	_, apiErr := env.sessions.Start(ctx, env.userID, "Focus", nil)
	require.Nil(t, apiErr)
	env.clock.Advance(60 * time.Second)
	stopped, apiErr := env.sessions.Stop(ctx, env.userID)
	require.Nil(t, apiErr)

	// Replaying the same stopped session must not double-count.
	session := stopped.Session
	require.Nil(t, env.stats.AggregateSession(ctx, &session))
	require.Nil(t, env.stats.AggregateSession(ctx, &session))

	stats, apiErr := env.stats.GetDailyStats(ctx, env.userID, date)
	require.Nil(t, apiErr)
	assert.Equal(t, 60, stats.TotalWorkSeconds)
	assert.Equal(t, 0, stats.TotalBreakSeconds)
	assert.Equal(t, 1, stats.SessionCount)
	assert.Equal(t, 100, stats.ProductivityScore)
}

func TestTwoSessionsSameDay(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	date := model.DateKey(env.clock.Now(), time.UTC)

	for _, description := range []string{"One", "Two"} {
		_, apiErr := env.sessions.Start(ctx, env.userID, description, nil)
		require.Nil(t, apiErr)
		env.clock.Advance(60 * time.Second)
		_, apiErr = env.sessions.Stop(ctx, env.userID)
		require.Nil(t, apiErr)
		env.clock.Advance(time.Minute)
	}

	stats, apiErr := env.stats.GetDailyStats(ctx, env.userID, date)
	require.Nil(t, apiErr)
	assert.Equal(t, 120, stats.TotalWorkSeconds)
	assert.Equal(t, 0, stats.TotalBreakSeconds)
	assert.Equal(t, 2, stats.SessionCount)
	assert.Equal(t, 100, stats.ProductivityScore)
}

func TestMidnightCrossingTruncatesToStartDate(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	env.clock.now = time.Date(2025, 3, 10, 23, 59, 0, 0, time.UTC)

	_, apiErr := env.sessions.Start(ctx, env.userID, "Late night", nil)
	require.Nil(t, apiErr)

	env.clock.Advance(11 * time.Minute)
	_, apiErr = env.sessions.Stop(ctx, env.userID)
	require.Nil(t, apiErr)

	// Only the minute before midnight lands on the start date.
	stats, apiErr := env.stats.GetDailyStats(ctx, env.userID, "2025-03-10")
	require.Nil(t, apiErr)
	assert.Equal(t, 60, stats.TotalWorkSeconds)
	assert.Equal(t, 1, stats.SessionCount)

	// The spill past midnight is dropped, not attributed to the next day.
	next, apiErr := env.stats.GetDailyStats(ctx, env.userID, "2025-03-11")
	require.Nil(t, apiErr)
	assert.Equal(t, 0, next.TotalWorkSeconds)
	assert.Equal(t, 0, next.SessionCount)
}

func TestDailyStatsFoldInOpenSession(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	date := model.DateKey(env.clock.Now(), time.UTC)

	_, apiErr := env.sessions.Start(ctx, env.userID, "In flight", nil)
	require.Nil(t, apiErr)
	env.clock.Advance(100 * time.Second)

	stats, apiErr := env.stats.GetDailyStats(ctx, env.userID, date)
	require.Nil(t, apiErr)
	assert.Equal(t, 100, stats.TotalWorkSeconds)
	assert.Equal(t, 1, stats.SessionCount)
	assert.Equal(t, 100, stats.ProductivityScore)

	// Nothing was persisted for the still-open session.
	_, err := env.statRepo.GetDailyStat(ctx, env.userID, date)
	assert.Equal(t, repository.ErrNotFound, err)
}

func TestReplayPendingHealsMissedAggregation(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	now := env.clock.Now()
	date := model.DateKey(now, time.UTC)

	// A stopped session whose aggregation never committed, as after a crash
	// between the stop commit and the stats commit.
	end := now.Add(300 * time.Second)
	session := model.Session{
		ID:          uuid.NewString(),
		UserID:      env.userID,
		Description: "Orphaned",
		Tags:        []string{},
		Intervals: []model.Interval{
			{Kind: model.IntervalWork, StartedAt: now, EndedAt: &end},
		},
		Status:    model.StatusStopped,
		CreatedAt: now,
		UpdatedAt: end,
	}

	tx, err := env.repo.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, env.repo.InsertSessionTx(ctx, tx, &session))
	require.NoError(t, tx.Commit())

	stats, apiErr := env.stats.GetDailyStats(ctx, env.userID, date)
	require.Nil(t, apiErr)
	assert.Equal(t, 300, stats.TotalWorkSeconds)
	assert.Equal(t, 1, stats.SessionCount)

	// The replayed session is now ledgered and persisted.
	persisted, err := env.statRepo.GetDailyStat(ctx, env.userID, date)
	require.NoError(t, err)
	assert.Equal(t, 300, persisted.TotalWorkSeconds)
}

func TestAggregateRejectsActiveSession(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	view, apiErr := env.sessions.Start(ctx, env.userID, "Running", nil)
	require.Nil(t, apiErr)

	session := view.Session
	apiErr = env.stats.AggregateSession(ctx, &session)
	require.NotNil(t, apiErr)
	assert.Equal(t, "invalid_state", apiErr.Code)
}

func TestGetDailyStatsRejectsBadDate(t *testing.T) {
	env := setupEnv(t)

	_, apiErr := env.stats.GetDailyStats(context.Background(), env.userID, "03/10/2025")
	require.NotNil(t, apiErr)
	assert.Equal(t, "invalid_date", apiErr.Code)
}
