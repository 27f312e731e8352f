/*
fund.go - Fund strategy interface and registry

PURPOSE:
  Defines the contract every fund ("cassa") strategy implements: the
  per-invoice computation step and the yearly finalization inputs. The
  engine has NO knowledge of specific funds - concrete strategies live in
  the funds package and register themselves here.

THE TWO STEPS:
  ComputeForInvoice:
    Runs once per settled invoice, in processing order. Receives the
    Running accumulator of everything processed earlier this year plus
    the previous year's finalized ledger, and returns this invoice's
    fund fields (notional income, contributions, installment family).

  Minimums / MaternityWaived / SubstituteRate:
    Consulted by the LedgerAggregator at finalize time to apply
    minimum-contribution floors and the flat maternity surcharge.

ORDER SENSITIVITY:
  The installment "dueNow"/"residuo" allocation of an individual invoice
  depends on what was processed before it. The year-end ledger totals do
  not: they are sums over the set. Tests in the funds package pin both
  properties.

SEE ALSO:
  - funds/: the four concrete strategies
  - orchestrator.go: selects the variant and drives the fold
*/
package engine

import (
	"sync"

	"github.com/shopspring/decimal"
)

// =============================================================================
// PER-INVOICE STEP INPUT
// =============================================================================

// InvoiceInput is everything a fund strategy may consult when computing
// one invoice's fund fields. Prior invoices appear only as the Running
// accumulator; strategies never re-scan the processed slice.
type InvoiceInput struct {
	Invoice Invoice

	// Processed accumulates the invoices already computed this year,
	// in processing order. Count == 0 marks the first invoice.
	Processed Running

	YearsSinceRegistration int

	// Coefficient converts taxable revenue to notional income.
	Coefficient decimal.Decimal

	// ModularRate applies only to funds with a modular contribution.
	ModularRate decimal.Decimal

	// PreviousLedger is nil in the registration year; otherwise it is
	// the immutable snapshot of last year's finalized ledger.
	PreviousLedger *FiscalYearLedger
}

// =============================================================================
// FUND VARIANT - Strategy interface
// =============================================================================

// FundVariant is the calculation strategy for one fund. Implementations
// are pure: no I/O, no mutable state, fixed compiled constants.
type FundVariant interface {
	// Fund returns the fund this strategy serves.
	Fund() Fund

	// RivalsaRate returns the contribution surcharge rate for an
	// invoice. Professional funds return a fixed rate; the general
	// regime honors the ApplyRivalsa preference.
	RivalsaRate(prefs BillingPreferences) decimal.Decimal

	// ComputeForInvoice computes one invoice's fund fields.
	ComputeForInvoice(in InvoiceInput) FundFields

	// SubstituteRate returns the substitute-tax rate for a seniority.
	SubstituteRate(yearsSinceRegistration int) decimal.Decimal

	// Minimums returns the contribution floors for a year.
	Minimums(yc YearContext) Minimums

	// MaternityWaived reports whether the flat maternity surcharge is
	// waived for this year (benefit-tier dependent).
	MaternityWaived(yc YearContext) bool
}

// =============================================================================
// REGISTRY
// =============================================================================

var (
	registryMu sync.RWMutex
	registry   = map[Fund]FundVariant{}
)

// RegisterVariant registers a fund strategy. Called from funds package
// init; later registrations for the same fund replace earlier ones.
func RegisterVariant(v FundVariant) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[v.Fund()] = v
}

// VariantFor returns the strategy for a fund, or nil when the fund is
// unsupported. Callers must treat nil as an explicit "unsupported"
// result, not an error.
func VariantFor(f Fund) FundVariant {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return registry[f]
}

// SupportedFunds lists the registered funds.
func SupportedFunds() []Fund {
	registryMu.RLock()
	defer registryMu.RUnlock()
	funds := make([]Fund, 0, len(registry))
	for f := range registry {
		funds = append(funds, f)
	}
	return funds
}
