package model

import "time"

const (
	StatusRunning = "running"
	StatusPaused  = "paused"
	StatusStopped = "stopped"

	IntervalWork  = "work"
	IntervalBreak = "break"
)

// Interval is one contiguous work or break period within a session. An open
// interval has EndedAt == nil and must be the last entry in the log.
type Interval struct {
	Kind      string     `json:"kind"`
	StartedAt time.Time  `json:"startedAt"`
	EndedAt   *time.Time `json:"endedAt,omitempty"`
}

func (i Interval) Open() bool {
	return i.EndedAt == nil
}

// Session is one focus-tracking attempt. A session in running or paused state
// is "active"; at most one active session exists per user. Stopped is
// terminal and the interval log is immutable from then on.
type Session struct {
	ID          string     `json:"id"`
	UserID      string     `json:"userId"`
	Description string     `json:"description"`
	Tags        []string   `json:"tags"`
	Intervals   []Interval `json:"intervals"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

func (s *Session) Active() bool {
	return s.Status == StatusRunning || s.Status == StatusPaused
}

// OpenInterval returns a pointer to the trailing open interval, or nil when
// every interval is closed.
func (s *Session) OpenInterval() *Interval {
	if len(s.Intervals) == 0 {
		return nil
	}
	last := &s.Intervals[len(s.Intervals)-1]
	if last.Open() {
		return last
	}
	return nil
}

// DailyStat is the per-user, per-date rollup of closed session time. Date is
// a calendar date in the service's aggregation timezone, formatted
// "2006-01-02". Totals only grow within a day; the score is always recomputed
// from the totals, never adjusted incrementally.
type DailyStat struct {
	UserID            string    `json:"userId"`
	Date              string    `json:"date"`
	TotalWorkSeconds  int       `json:"totalWorkSeconds"`
	TotalBreakSeconds int       `json:"totalBreakSeconds"`
	SessionCount      int       `json:"sessionCount"`
	ProductivityScore int       `json:"productivityScore"`
	UpdatedAt         time.Time `json:"updatedAt"`
}
