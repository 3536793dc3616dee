package service

import (
	"context"
	"net/http"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"focusflow/backend/internal/db"
	"focusflow/backend/internal/model"
	"focusflow/backend/internal/repository"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

type testEnv struct {
	sessions *SessionService
	stats    *StatsService
	repo     *repository.SessionRepository
	statRepo *repository.StatsRepository
	clock    *fakeClock
	userID   string
}

func setupEnv(t *testing.T) *testEnv {
	t.Helper()

	database, err := db.OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = database.Close()
	})

	_, currentFile, _, _ := runtime.Caller(0)
	migrationsDir := filepath.Join(filepath.Dir(currentFile), "..", "..", "migrations")
	require.NoError(t, db.RunMigrations(database, migrationsDir))

	clock := &fakeClock{now: time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)}

	sessionRepo := repository.NewSessionRepository(database)
	statsRepo := repository.NewStatsRepository(database)

	statsService := NewStatsService(sessionRepo, statsRepo, time.UTC)
	statsService.now = clock.Now
	sessionService := NewSessionService(sessionRepo, statsService)
	sessionService.now = clock.Now

	userRepo := repository.NewUserRepository(database)
	user := model.User{
		ID:        uuid.NewString(),
		Email:     "tester@example.com",
		CreatedAt: clock.now,
		UpdatedAt: clock.now,
	}
	user.PasswordHash = "not-a-real-hash"
	require.NoError(t, userRepo.Create(context.Background(), &user))

	return &testEnv{
		sessions: sessionService,
		stats:    statsService,
		repo:     sessionRepo,
		statRepo: statsRepo,
		clock:    clock,
		userID:   user.ID,
	}
}

func TestStartCreatesRunningSession(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	view, apiErr := env.sessions.Start(ctx, env.userID, "Write report", []string{"deep-work"})
	require.Nil(t, apiErr)

	assert.Equal(t, model.StatusRunning, view.Status)
	assert.Equal(t, "Write report", view.Description)
	assert.Equal(t, []string{"deep-work"}, view.Tags)
	require.Len(t, view.Intervals, 1)
	assert.Equal(t, model.IntervalWork, view.Intervals[0].Kind)
	assert.True(t, view.Intervals[0].Open())

	active, apiErr := env.sessions.GetActiveSession(ctx, env.userID)
	require.Nil(t, apiErr)
	assert.Equal(t, view.ID, active.ID)
	assert.Equal(t, model.StatusRunning, active.Status)
}

func TestStartRequiresDescription(t *testing.T) {
	env := setupEnv(t)

	_, apiErr := env.sessions.Start(context.Background(), env.userID, "   ", nil)
	require.NotNil(t, apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Equal(t, "invalid_description", apiErr.Code)
}

func TestStartConflictsWhileActive(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	first, apiErr := env.sessions.Start(ctx, env.userID, "First", nil)
	require.Nil(t, apiErr)

	_, apiErr = env.sessions.Start(ctx, env.userID, "Second", nil)
	require.NotNil(t, apiErr)
	assert.Equal(t, http.StatusConflict, apiErr.Status)
	assert.Equal(t, "active_session_exists", apiErr.Code)

	// First session is unaffected by the rejected start.
	active, getErr := env.sessions.GetActiveSession(ctx, env.userID)
	require.Nil(t, getErr)
	assert.Equal(t, first.ID, active.ID)

	// A paused session still blocks a new start.
	_, apiErr = env.sessions.Pause(ctx, env.userID)
	require.Nil(t, apiErr)
	_, apiErr = env.sessions.Start(ctx, env.userID, "Third", nil)
	require.NotNil(t, apiErr)
	assert.Equal(t, "active_session_exists", apiErr.Code)
}

func TestPauseResumeStopLifecycle(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	_, apiErr := env.sessions.Start(ctx, env.userID, "Focus", nil)
	require.Nil(t, apiErr)

	env.clock.Advance(90 * time.Second)
	paused, apiErr := env.sessions.Pause(ctx, env.userID)
	require.Nil(t, apiErr)
	assert.Equal(t, model.StatusPaused, paused.Status)
	require.Len(t, paused.Intervals, 2)
	assert.False(t, paused.Intervals[0].Open())
	assert.Equal(t, model.IntervalBreak, paused.Intervals[1].Kind)
	assert.True(t, paused.Intervals[1].Open())
	assert.Equal(t, 90, paused.WorkSeconds)

	env.clock.Advance(20 * time.Second)
	resumed, apiErr := env.sessions.Resume(ctx, env.userID)
	require.Nil(t, apiErr)
	assert.Equal(t, model.StatusRunning, resumed.Status)
	require.Len(t, resumed.Intervals, 3)
	assert.Equal(t, 20, resumed.BreakSeconds)

	env.clock.Advance(10 * time.Second)
	stopped, apiErr := env.sessions.Stop(ctx, env.userID)
	require.Nil(t, apiErr)
	assert.Equal(t, model.StatusStopped, stopped.Status)
	assert.Nil(t, stopped.Session.OpenInterval())
	assert.Equal(t, 100, stopped.WorkSeconds)
	assert.Equal(t, 20, stopped.BreakSeconds)

	_, apiErr = env.sessions.GetActiveSession(ctx, env.userID)
	require.NotNil(t, apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
}

func TestPauseWithoutActiveSession(t *testing.T) {
	env := setupEnv(t)

	_, apiErr := env.sessions.Pause(context.Background(), env.userID)
	require.NotNil(t, apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Equal(t, "no_active_session", apiErr.Code)
}

func TestInvalidTransitions(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	_, apiErr := env.sessions.Start(ctx, env.userID, "Focus", nil)
	require.Nil(t, apiErr)

	// Resume only applies to a paused session.
	_, apiErr = env.sessions.Resume(ctx, env.userID)
	require.NotNil(t, apiErr)
	assert.Equal(t, "invalid_state", apiErr.Code)

	_, apiErr = env.sessions.Pause(ctx, env.userID)
	require.Nil(t, apiErr)

	// Pause only applies to a running session.
	_, apiErr = env.sessions.Pause(ctx, env.userID)
	require.NotNil(t, apiErr)
	assert.Equal(t, "invalid_state", apiErr.Code)

	// Stop works from paused and is terminal.
	stopped, apiErr := env.sessions.Stop(ctx, env.userID)
	require.Nil(t, apiErr)
	assert.Equal(t, model.StatusStopped, stopped.Status)

	_, apiErr = env.sessions.Stop(ctx, env.userID)
	require.NotNil(t, apiErr)
	assert.Equal(t, "no_active_session", apiErr.Code)
}

func TestHistoryListsStoppedSessions(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	_, apiErr := env.sessions.Start(ctx, env.userID, "One", nil)
	require.Nil(t, apiErr)
	env.clock.Advance(time.Minute)
	_, apiErr = env.sessions.Stop(ctx, env.userID)
	require.Nil(t, apiErr)

	env.clock.Advance(time.Minute)
	_, apiErr = env.sessions.Start(ctx, env.userID, "Two", nil)
	require.Nil(t, apiErr)

	sessions, apiErr := env.sessions.GetHistory(ctx, env.userID, 10)
	require.Nil(t, apiErr)
	require.Len(t, sessions, 2)
	assert.Equal(t, "Two", sessions[0].Description)
	assert.Equal(t, "One", sessions[1].Description)
	require.Len(t, sessions[1].Intervals, 1)
	assert.False(t, sessions[1].Intervals[0].Open())
}
