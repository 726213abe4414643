package runner

import (
	"context"
	"time"
)

const (
	RunStatusRunning   = "RUNNING"
	RunStatusCompleted = "COMPLETED"
	RunStatusFailed    = "FAILED"
)

const (
	RunTypeScheduled = "scheduled"
	RunTypeManual    = "manual"
	RunTypeBacktest  = "backtest"
)

// Run is the audit record of one strategy invocation for one account.
type Run struct {
	RunID     string       `json:"run_id"`
	AccountID string       `json:"account_id"`
	RunType   string       `json:"run_type"`
	Status    string       `json:"status"`
	StartedAt time.Time    `json:"started_at"`
	EndedAt   time.Time    `json:"ended_at"`
	Output    string       `json:"output"`
	Report    *CycleReport `json:"report,omitempty"`
}

// CycleReport summarizes what one cycle did.
type CycleReport struct {
	EntriesMade           int      `json:"entries_made"`
	ExitsMade             int      `json:"exits_made"`
	AveragesMade          int      `json:"averages_made"`
	ReconciliationActions int      `json:"reconciliation_actions"`
	Skipped               bool     `json:"skipped,omitempty"`
	Notes                 []string `json:"notes,omitempty"`
}

// RunStore persists run records. gormstore implements it.
type RunStore interface {
	InsertRun(ctx context.Context, run Run) error
	FinishRun(ctx context.Context, run Run) error
	ListRuns(ctx context.Context, accountID string, limit int) ([]Run, error)
}
