/*
store.go - Persistence interfaces for invoices, ledgers and profiles

PURPOSE:
  Defines the interface between the calculation engine and the database.
  The orchestrator is the only writer of fund fields and finalized
  ledgers, and its persistence phase runs inside one transaction.

KEY INTERFACES:
  InvoiceStore:      Settled-invoice fetch + partial fund-field updates
  LedgerStore:       Fiscal-year ledger fetch/save + dirty flag
  ProfileStore:      Read-only fiscal profile lookup
  MaternityTaxTable: (year, fund) → flat surcharge lookup
  TxStore:           Atomic multi-write wrapper (WithTx)

ATOMICITY:
  WithTx ensures all-or-nothing semantics: every invoice update of a
  recalculation run plus the ledger write commit together or not at all.
  A mid-batch failure leaves no partial state.

IMPLEMENTATIONS:
  - store/sqlite: production SQLite
  - engine/store: in-memory for testing

SEE ALSO:
  - orchestrator.go: the only consumer of WithTx
*/
package engine

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// INVOICE STORE
// =============================================================================

// InvoiceStore provides the invoice surface the engine consumes.
// Invoice CRUD itself is owned by the invoicing module, not this core.
type InvoiceStore interface {
	// SettledInvoices returns the settled invoices of (user, year) with
	// line items and values. Order is NOT guaranteed; the orchestrator
	// sorts into the required total order itself.
	SettledInvoices(ctx context.Context, userID UserID, year int) ([]Invoice, error)

	// UpdateFundFields persists one invoice's recomputed fund fields.
	// Returns ErrInvoiceNotFound for unknown IDs.
	UpdateFundFields(ctx context.Context, id InvoiceID, ff FundFields) error
}

// =============================================================================
// LEDGER STORE
// =============================================================================

// LedgerStore persists fiscal-year ledgers.
type LedgerStore interface {
	// Ledger returns the ledger for (user, year), or nil when absent.
	Ledger(ctx context.Context, userID UserID, year int) (*FiscalYearLedger, error)

	// SaveLedger upserts a ledger.
	SaveLedger(ctx context.Context, l FiscalYearLedger) error

	// SetNeedsRecalculation flags (user, year) as stale. Setting the
	// flag on a year with no ledger row is a silent no-op.
	SetNeedsRecalculation(ctx context.Context, userID UserID, year int, needs bool) error

	// DirtyLedgers lists ledgers flagged as needing recalculation.
	DirtyLedgers(ctx context.Context) ([]FiscalYearLedger, error)
}

// =============================================================================
// PROFILE AND MATERNITY LOOKUPS - Read-only inputs
// =============================================================================

// ProfileStore provides fiscal profiles.
type ProfileStore interface {
	// Profile returns the profile for a user, or nil when absent.
	Profile(ctx context.Context, userID UserID) (*FiscalProfile, error)
}

// MaternityTaxTable looks up the flat maternity surcharge.
type MaternityTaxTable interface {
	// MaternityTax returns the amount for (year, fund); zero when the
	// table has no entry.
	MaternityTax(ctx context.Context, year int, fund Fund) (decimal.Decimal, error)
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// Stores is the view available inside a transaction.
type Stores interface {
	InvoiceStore
	LedgerStore
}

// TxStore wraps the writable stores with transaction support.
type TxStore interface {
	Stores

	// WithTx executes fn within a transaction. If fn returns an error,
	// every write is rolled back; otherwise all commit together.
	WithTx(ctx context.Context, fn func(Stores) error) error
}

// =============================================================================
// RECALCULATION RUN LOG
// =============================================================================

// RunStatus is the outcome of a recalculation run.
type RunStatus string

const (
	RunCompleted       RunStatus = "completed"
	RunUnsupportedFund RunStatus = "unsupported_fund"
	RunFailed          RunStatus = "failed"
)

// RecalculationRun records one orchestrator run for auditability.
type RecalculationRun struct {
	ID           string
	UserID       UserID
	Year         int
	Fund         Fund
	Status       RunStatus
	InvoiceCount int
	TotalTax     decimal.Decimal
	Error        string
	StartedAt    time.Time
	CompletedAt  time.Time
}

// RunLog stores recalculation runs. Append-only.
type RunLog interface {
	SaveRun(ctx context.Context, run RecalculationRun) error
	Runs(ctx context.Context, userID UserID) ([]RecalculationRun, error)
}
