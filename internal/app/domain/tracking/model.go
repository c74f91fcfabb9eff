// Package tracking defines work-session state for in-progress jobs.
package tracking

import "time"

// Session is the live time-tracking state of one job. Paused time is
// accumulated so the billed duration excludes it.
type Session struct {
	JobID       string        `json:"job_id"`
	CleanerID   string        `json:"cleaner_id"`
	StartedAt   time.Time     `json:"started_at"`
	Paused      bool          `json:"paused"`
	PausedAt    time.Time     `json:"paused_at,omitempty"`
	PauseReason string        `json:"pause_reason,omitempty"`
	PausedTotal time.Duration `json:"paused_total"`
}

// WorkedFor returns the billable duration of the session as of now,
// excluding all paused time.
func (s Session) WorkedFor(now time.Time) time.Duration {
	elapsed := now.Sub(s.StartedAt) - s.PausedTotal
	if s.Paused {
		elapsed -= now.Sub(s.PausedAt)
	}
	if elapsed < 0 {
		return 0
	}
	return elapsed
}

// Result summarises a finished session.
type Result struct {
	JobID           string    `json:"job_id"`
	StartedAt       time.Time `json:"started_at"`
	StoppedAt       time.Time `json:"stopped_at"`
	ActualMinutes   int       `json:"actual_minutes"`
	OvertimeMinutes int       `json:"overtime_minutes"`
	FinalAmount     float64   `json:"final_amount"`
}

// StatusInfo is a point-in-time view of a running session.
type StatusInfo struct {
	JobID               string    `json:"job_id"`
	StartedAt           time.Time `json:"started_at"`
	Paused              bool      `json:"paused"`
	CurrentMinutes      int       `json:"current_minutes"`
	Overtime            bool      `json:"is_overtime"`
	OvertimeMinutes     int       `json:"overtime_minutes"`
	EstimatedCompletion time.Time `json:"estimated_completion"`
}
