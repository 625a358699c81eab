package metadata

import (
	"context"
	"time"

	"contentdir/internal/cds"
)

// BudgetedRunner wraps a handler call with a per-handler wall-clock budget
// (spec §5 Timeouts, default 30s). Expiring yields a *cds.HandlerTimeoutError
// rather than blocking the import pipeline indefinitely.
type BudgetedRunner struct {
	Budget time.Duration
}

// NewBudgetedRunner returns a runner with the spec's default 30s budget.
func NewBudgetedRunner() *BudgetedRunner {
	return &BudgetedRunner{Budget: 30 * time.Second}
}

// Run calls fn with a context bounded by r.Budget. If fn does not return
// before the deadline, Run returns immediately with a HandlerTimeoutError;
// fn keeps running in the background until it notices ctx is done, same as
// any context-aware worker.
func (r *BudgetedRunner) Run(ctx context.Context, handlerName string, fn func(context.Context) error) error {
	budget := r.Budget
	if budget <= 0 {
		budget = 30 * time.Second
	}
	bctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- fn(bctx)
	}()

	select {
	case err := <-done:
		if err != nil {
			return &cds.HandlerError{Handler: handlerName, Cause: err}
		}
		return nil
	case <-bctx.Done():
		return &cds.HandlerTimeoutError{Handler: handlerName, Budget: budget.String()}
	}
}
