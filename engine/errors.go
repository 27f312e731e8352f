/*
errors.go - Centralized error types for the calculation engine

PURPOSE:
  All engine error types in one place. Store implementations and the API
  layer wrap these with additional context and branch with errors.Is.

ERROR CATEGORIES:
  1. Precondition errors - Missing data the recalculation cannot run without
  2. Unsupported-fund results - Explicit no-op, surfaced as a typed error
     only by callers that insist on a computation
  3. Store errors - Persistence-level failures

USAGE:
  if errors.Is(err, engine.ErrPreviousLedgerMissing) {
      // seniority > 1 without last year's ledger: abort, nothing written
  }
*/
package engine

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrLedgerMissing is returned when the current year's ledger does
	// not exist. Ledgers are created at onboarding/rollover; a missing
	// one is a fatal precondition failure.
	ErrLedgerMissing = errors.New("fiscal year ledger missing")

	// ErrPreviousLedgerMissing is returned when seniority is above one
	// year but the previous year's finalized ledger cannot be found.
	// Recalculation aborts without partial writes.
	ErrPreviousLedgerMissing = errors.New("previous year ledger missing")

	// ErrProfileMissing is returned when the user has no fiscal profile.
	ErrProfileMissing = errors.New("fiscal profile missing")

	// ErrUnsupportedFund marks a fund with no registered strategy.
	// RecalculateYear reports this through the result status rather
	// than the error return; the sentinel exists for callers that
	// require a computation.
	ErrUnsupportedFund = errors.New("unsupported fund")

	// ErrInvoiceNotFound is returned by stores for unknown invoice IDs.
	ErrInvoiceNotFound = errors.New("invoice not found")

	// ErrNoLineItems is returned by the calculator for an empty invoice.
	ErrNoLineItems = errors.New("invoice has no line items")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// PreconditionError reports which (user, year) input was missing.
type PreconditionError struct {
	UserID UserID
	Year   int
	Reason error
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("recalculation precondition failed for user %s year %d: %v",
		e.UserID, e.Year, e.Reason)
}

func (e *PreconditionError) Unwrap() error { return e.Reason }

// UnsupportedFundError carries the offending fund.
type UnsupportedFundError struct {
	Fund Fund
}

func (e *UnsupportedFundError) Error() string {
	return fmt.Sprintf("no calculation strategy registered for fund %q", e.Fund)
}

func (e *UnsupportedFundError) Unwrap() error { return ErrUnsupportedFund }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsPrecondition reports whether err is a fatal missing-input failure.
func IsPrecondition(err error) bool {
	return errors.Is(err, ErrLedgerMissing) ||
		errors.Is(err, ErrPreviousLedgerMissing) ||
		errors.Is(err, ErrProfileMissing)
}

// IsNotFound reports whether err indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrInvoiceNotFound) ||
		errors.Is(err, ErrProfileMissing) ||
		errors.Is(err, ErrLedgerMissing)
}
