/*
orchestrator.go - Full-year recalculation state machine

PURPOSE:
  Drives the recomputation of every settled invoice of a (user, year) and
  of the year's ledger. Single pass, no retries beyond the enclosing
  transaction, idempotent: unchanged inputs produce identical persisted
  values.

SEQUENCE:
  1. Load profile, current-year ledger (fatal if missing), previous-year
     ledger (fatal if missing when seniority > 1), maternity amount
  2. Select the fund strategy; unsupported fund → explicit no-op result
  3. Sort settled invoices by settlement date, tie-break by invoice id
  4. Fold: per-invoice step → Running accumulator → aggregator
  5. Finalize the ledger
  6. Persist all invoice updates plus the ledger atomically
  7. When recomputing a past year, flag year+1 as needing recalculation
     (flag only - the later year is never recomputed automatically)

CONCURRENCY:
  Two concurrent runs over the same (user, year) would both read the
  same "already processed" baseline and corrupt the cumulative sums.
  Runs are serialized per (user, year) with a keyed mutex; different
  keys proceed in parallel.

TRIGGERS (external callers):
  Settle-status change, invoice deletion, cancellation/credit-note.
  Each performs a full recompute of the affected year - never an
  incremental delta.
*/
package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// =============================================================================
// RESULT
// =============================================================================

// RecalculationResult is the outcome of RecalculateYear. Callers must
// check Status: an unsupported fund is a no-op result, not an error.
type RecalculationResult struct {
	Status       RunStatus
	Fund         Fund
	Ledger       *FiscalYearLedger
	InvoiceCount int
}

// =============================================================================
// ORCHESTRATOR
// =============================================================================

// Orchestrator recalculates fiscal years. Safe for concurrent use;
// runs over the same (user, year) are serialized.
type Orchestrator struct {
	store     TxStore
	profiles  ProfileStore
	maternity MaternityTaxTable
	runs      RunLog // optional; nil disables run logging

	now   func() time.Time
	locks yearLocks
}

// NewOrchestrator wires the orchestrator with its collaborators.
func NewOrchestrator(store TxStore, profiles ProfileStore, maternity MaternityTaxTable) *Orchestrator {
	return &Orchestrator{
		store:     store,
		profiles:  profiles,
		maternity: maternity,
		now:       func() time.Time { return time.Now().UTC() },
		locks:     yearLocks{locks: map[yearKey]*sync.Mutex{}},
	}
}

// WithRunLog enables recording of recalculation runs.
func (o *Orchestrator) WithRunLog(runs RunLog) *Orchestrator {
	o.runs = runs
	return o
}

// WithClock overrides the time source (tests).
func (o *Orchestrator) WithClock(now func() time.Time) *Orchestrator {
	o.now = now
	return o
}

// =============================================================================
// RECALCULATE YEAR
// =============================================================================

// RecalculateYear recomputes every settled invoice of (user, year) and
// finalizes the year's ledger. Idempotent full recompute.
func (o *Orchestrator) RecalculateYear(ctx context.Context, userID UserID, year int) (*RecalculationResult, error) {
	unlock := o.locks.acquire(yearKey{userID, year})
	defer unlock()

	startedAt := o.now()

	result, err := o.recalculate(ctx, userID, year)
	o.logRun(ctx, userID, year, startedAt, result, err)
	return result, err
}

func (o *Orchestrator) recalculate(ctx context.Context, userID UserID, year int) (*RecalculationResult, error) {
	// Step 1: preconditions.
	profile, err := o.profiles.Profile(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("loading fiscal profile: %w", err)
	}
	if profile == nil {
		return nil, &PreconditionError{UserID: userID, Year: year, Reason: ErrProfileMissing}
	}

	ledger, err := o.store.Ledger(ctx, userID, year)
	if err != nil {
		return nil, fmt.Errorf("loading ledger: %w", err)
	}
	if ledger == nil {
		return nil, &PreconditionError{UserID: userID, Year: year, Reason: ErrLedgerMissing}
	}

	years := profile.YearsSinceRegistration(year)

	var previous *FiscalYearLedger
	if years > 1 {
		previous, err = o.store.Ledger(ctx, userID, year-1)
		if err != nil {
			return nil, fmt.Errorf("loading previous ledger: %w", err)
		}
		if previous == nil {
			return nil, &PreconditionError{UserID: userID, Year: year, Reason: ErrPreviousLedgerMissing}
		}
	}

	// Step 2: strategy selection. No strategy is an explicit no-op.
	variant := VariantFor(profile.Fund)
	if variant == nil {
		return &RecalculationResult{Status: RunUnsupportedFund, Fund: profile.Fund}, nil
	}

	maternityTax, err := o.maternity.MaternityTax(ctx, year, profile.Fund)
	if err != nil {
		return nil, fmt.Errorf("loading maternity tax: %w", err)
	}

	invoices, err := o.store.SettledInvoices(ctx, userID, year)
	if err != nil {
		return nil, fmt.Errorf("loading settled invoices: %w", err)
	}

	// Step 3: the single total order every cumulative field depends on.
	SortForProcessing(invoices)

	// Step 4: fold.
	running := NewRunning()
	agg := NewLedgerAggregator(userID, year, profile.Fund)

	for i := range invoices {
		ff := variant.ComputeForInvoice(InvoiceInput{
			Invoice:                invoices[i],
			Processed:              running,
			YearsSinceRegistration: years,
			Coefficient:            profile.Coefficient,
			ModularRate:            profile.ModularRate,
			PreviousLedger:         previous,
		})
		ff = ff.Rounded()

		invoices[i].Fund = ff
		running = running.Add(invoices[i].Values.TaxableRevenue, ff)
		agg.CalculateForInvoice(invoices[i])
	}

	// Step 5: finalize.
	finalized := agg.Finalize(FinalizeInput{
		Variant: variant,
		Context: YearContext{
			Year:                   year,
			YearsSinceRegistration: years,
			AgeAtYearEnd:           profile.AgeAtYearEnd(year),
			Benefits:               profile.BenefitsFor(year),
		},
		PreviousLedger: previous,
		MaternityTax:   maternityTax,
		Now:            o.now(),
	})

	// Step 6+7: one transaction for every staged write.
	err = o.store.WithTx(ctx, func(s Stores) error {
		for i := range invoices {
			if err := s.UpdateFundFields(ctx, invoices[i].ID, invoices[i].Fund); err != nil {
				return err
			}
		}
		if err := s.SaveLedger(ctx, finalized); err != nil {
			return err
		}
		if year < o.now().Year() {
			return s.SetNeedsRecalculation(ctx, userID, year+1, true)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("persisting recalculation: %w", err)
	}

	return &RecalculationResult{
		Status:       RunCompleted,
		Fund:         profile.Fund,
		Ledger:       &finalized,
		InvoiceCount: len(invoices),
	}, nil
}

// =============================================================================
// YEAR ROLLOVER
// =============================================================================

// RolloverYear creates the empty ledger of year+1 so the next year's
// recalculation finds its precondition satisfied. No-op when the ledger
// already exists.
func (o *Orchestrator) RolloverYear(ctx context.Context, userID UserID, year int) (*FiscalYearLedger, error) {
	profile, err := o.profiles.Profile(ctx, userID)
	if err != nil {
		return nil, err
	}
	if profile == nil {
		return nil, &PreconditionError{UserID: userID, Year: year, Reason: ErrProfileMissing}
	}

	next, err := o.store.Ledger(ctx, userID, year+1)
	if err != nil {
		return nil, err
	}
	if next != nil {
		return next, nil
	}

	created := FiscalYearLedger{UserID: userID, Year: year + 1, Fund: profile.Fund}
	if err := o.store.SaveLedger(ctx, created); err != nil {
		return nil, err
	}
	return &created, nil
}

// =============================================================================
// ORDERING
// =============================================================================

// SortForProcessing sorts invoices into the total order all cumulative
// calculations depend on: settlement date ascending, tie-break by
// invoice id ascending. Deterministic regardless of fetch order.
func SortForProcessing(invoices []Invoice) {
	sort.SliceStable(invoices, func(i, j int) bool {
		if !invoices[i].SettledAt.Equal(invoices[j].SettledAt) {
			return invoices[i].SettledAt.Before(invoices[j].SettledAt)
		}
		return invoices[i].ID < invoices[j].ID
	})
}

// =============================================================================
// RUN LOG
// =============================================================================

func (o *Orchestrator) logRun(ctx context.Context, userID UserID, year int, startedAt time.Time, result *RecalculationResult, runErr error) {
	if o.runs == nil {
		return
	}

	run := RecalculationRun{
		ID:          fmt.Sprintf("%s-%d-%d", userID, year, startedAt.UnixNano()),
		UserID:      userID,
		Year:        year,
		StartedAt:   startedAt,
		CompletedAt: o.now(),
	}
	switch {
	case runErr != nil:
		run.Status = RunFailed
		run.Error = runErr.Error()
	case result.Status == RunUnsupportedFund:
		run.Status = RunUnsupportedFund
		run.Fund = result.Fund
	default:
		run.Status = RunCompleted
		run.Fund = result.Fund
		run.InvoiceCount = result.InvoiceCount
		run.TotalTax = result.Ledger.TotalTax
	}

	// Best-effort: a run-log failure must not fail the recalculation.
	_ = o.runs.SaveRun(ctx, run)
}

// =============================================================================
// PER-(USER, YEAR) SERIALIZATION
// =============================================================================

type yearKey struct {
	UserID UserID
	Year   int
}

type yearLocks struct {
	mu    sync.Mutex
	locks map[yearKey]*sync.Mutex
}

func (t *yearLocks) acquire(k yearKey) (unlock func()) {
	t.mu.Lock()
	l, ok := t.locks[k]
	if !ok {
		l = &sync.Mutex{}
		t.locks[k] = l
	}
	t.mu.Unlock()

	l.Lock()
	return l.Unlock
}
