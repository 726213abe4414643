package runner

import (
	"bytes"
	"context"
	"time"

	"github.com/google/uuid"

	"niftyshop/internal/logger"
	"niftyshop/internal/metrics"
)

// AccountCycle is what the orchestrator drives per account.
type AccountCycle interface {
	AccountID() string
	Run(ctx context.Context) (CycleReport, error)
}

// Orchestrator runs cycles sequentially across accounts and records a
// StrategyRun per account. An account's failure is logged and recorded;
// it never stops the remaining accounts.
type Orchestrator struct {
	runs RunStore
	now  func() time.Time
}

func NewOrchestrator(runs RunStore) *Orchestrator {
	return &Orchestrator{runs: runs, now: time.Now}
}

// SetClock replaces the wall clock, for tests.
func (o *Orchestrator) SetClock(now func() time.Time) {
	if now != nil {
		o.now = now
	}
}

// RunAll processes every account in order, one fully completing before
// the next begins. Returns the runs recorded.
func (o *Orchestrator) RunAll(ctx context.Context, runType string, cycles []AccountCycle) []Run {
	out := make([]Run, 0, len(cycles))
	for _, c := range cycles {
		if ctx.Err() != nil {
			break
		}
		out = append(out, o.runOne(ctx, runType, c))
	}
	return out
}

func (o *Orchestrator) runOne(ctx context.Context, runType string, cycle AccountCycle) Run {
	run := Run{
		RunID:     uuid.NewString(),
		AccountID: cycle.AccountID(),
		RunType:   runType,
		Status:    RunStatusRunning,
		StartedAt: o.now(),
	}
	if err := o.runs.InsertRun(ctx, run); err != nil {
		logger.Errorf("record run %s: %v", run.RunID, err)
	}

	var output bytes.Buffer
	detach := logger.AttachCapture(&output)
	logger.Infof("run %s: starting cycle for account %s", run.RunID, run.AccountID)
	report, err := cycle.Run(ctx)
	if err != nil {
		logger.Errorf("run %s: cycle failed: %v", run.RunID, err)
	} else {
		logger.Infof("run %s: cycle done, entries=%d exits=%d averages=%d reconciliations=%d",
			run.RunID, report.EntriesMade, report.ExitsMade, report.AveragesMade, report.ReconciliationActions)
	}
	detach()

	run.EndedAt = o.now()
	run.Output = output.String()
	run.Report = &report
	switch {
	case err != nil:
		run.Status = RunStatusFailed
		metrics.Cycles.WithLabelValues(run.AccountID, "failed").Inc()
	case report.Skipped:
		run.Status = RunStatusCompleted
		metrics.Cycles.WithLabelValues(run.AccountID, "skipped").Inc()
	default:
		run.Status = RunStatusCompleted
		metrics.Cycles.WithLabelValues(run.AccountID, "completed").Inc()
	}
	if ferr := o.runs.FinishRun(ctx, run); ferr != nil {
		logger.Errorf("finish run %s: %v", run.RunID, ferr)
	}
	return run
}
