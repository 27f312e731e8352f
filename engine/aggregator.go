/*
aggregator.go - Yearly ledger accumulation and finalization

PURPOSE:
  Accumulates per-invoice fund fields across all settled invoices of a
  year, then finalizes the FiscalYearLedger: minimum-contribution floors,
  the flat maternity surcharge, total tax, net income and the residuo
  carried into the next year.

ACCUMULATION IS ORDER-BLIND:
  CalculateForInvoice is called once per invoice in processing order, but
  every accumulated field is a plain sum over the set. Permuting the
  order changes individual dueNow/residuo allocations (computed upstream
  by the fund strategy), never the finalized totals.

FLOORS:
  Funds impose minimum subjective/solidarity contributions as step
  functions of seniority, age, income band and benefit flags. The
  accumulated value is used only when it exceeds the minimum; the
  modular contribution is an add-on on top of the floored amounts.

SEE ALSO:
  - fund.go: Minimums and MaternityWaived on the strategy interface
  - orchestrator.go: drives accumulate → finalize → persist
*/
package engine

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// AGGREGATOR
// =============================================================================

// LedgerAggregator folds settled invoices into a year's running totals.
// One instance per recalculation run; not safe for concurrent use and
// not meant to be.
type LedgerAggregator struct {
	userID UserID
	year   int
	fund   Fund

	count int

	revenue  decimal.Decimal
	taxable  decimal.Decimal
	notional decimal.Decimal

	subjective decimal.Decimal
	solidarity decimal.Decimal
	modular    decimal.Decimal

	taxSaldo   decimal.Decimal
	taxAcconto decimal.Decimal
	taxDueNow  decimal.Decimal
}

// NewLedgerAggregator returns a zeroed aggregator for (user, year, fund).
func NewLedgerAggregator(userID UserID, year int, fund Fund) *LedgerAggregator {
	return &LedgerAggregator{
		userID:     userID,
		year:       year,
		fund:       fund,
		revenue:    decimal.Zero,
		taxable:    decimal.Zero,
		notional:   decimal.Zero,
		subjective: decimal.Zero,
		solidarity: decimal.Zero,
		modular:    decimal.Zero,
		taxSaldo:   decimal.Zero,
		taxAcconto: decimal.Zero,
		taxDueNow:  decimal.Zero,
	}
}

// CalculateForInvoice folds one computed invoice into the totals.
// The invoice must already carry its fund fields for this run.
func (a *LedgerAggregator) CalculateForInvoice(inv Invoice) {
	a.count++
	a.revenue = a.revenue.Add(inv.Values.Revenue)
	a.taxable = a.taxable.Add(inv.Values.TaxableRevenue)
	a.notional = a.notional.Add(inv.Fund.NotionalIncome)
	a.subjective = a.subjective.Add(inv.Fund.Subjective)
	a.solidarity = a.solidarity.Add(inv.Fund.Solidarity)
	a.modular = a.modular.Add(inv.Fund.Modular)
	a.taxSaldo = a.taxSaldo.Add(inv.Fund.TaxSaldo)
	a.taxAcconto = a.taxAcconto.Add(inv.Fund.TaxAcconto)
	a.taxDueNow = a.taxDueNow.Add(inv.Fund.TaxDueNow)
}

// Count returns the number of invoices folded so far.
func (a *LedgerAggregator) Count() int { return a.count }

// =============================================================================
// FINALIZATION
// =============================================================================

// FinalizeInput carries the year-level facts finalization needs.
type FinalizeInput struct {
	Variant        FundVariant
	Context        YearContext
	PreviousLedger *FiscalYearLedger
	MaternityTax   decimal.Decimal
	Now            time.Time
}

// Finalize applies floors and produces the persistable ledger.
func (a *LedgerAggregator) Finalize(in FinalizeInput) FiscalYearLedger {
	yc := in.Context
	yc.NotionalIncome = a.notional

	mins := in.Variant.Minimums(yc)

	subjective := decimal.Max(a.subjective, mins.Subjective)
	solidarity := decimal.Max(a.solidarity, mins.Solidarity)

	maternity := in.MaternityTax
	if in.Variant.MaternityWaived(yc) {
		maternity = decimal.Zero
	}

	contributionsDue := subjective.Add(solidarity).Add(a.modular).Add(maternity)
	totalTax := contributionsDue.Add(a.taxDueNow)
	netIncome := ClampZero(a.revenue.Sub(totalTax))

	// Residuo: prior-year credit not consumed by this year's totals.
	// There is nothing to carry in the registration year.
	residuo := decimal.Zero
	if yc.YearsSinceRegistration > 1 {
		residuo = ClampZero(in.PreviousLedger.Credit().Sub(a.taxSaldo).Sub(a.taxAcconto))
	}

	return FiscalYearLedger{
		UserID: a.userID,
		Year:   a.year,
		Fund:   a.fund,

		Revenue:        Round2(a.revenue),
		TaxableRevenue: Round2(a.taxable),
		NotionalIncome: Round2(a.notional),

		Subjective: Round2(subjective),
		Solidarity: Round2(solidarity),
		Modular:    Round2(a.modular),
		Maternity:  Round2(maternity),

		TaxSaldo:   Round2(a.taxSaldo),
		TaxAcconto: Round2(a.taxAcconto),
		TaxDueNow:  Round2(a.taxDueNow),

		Residuo: Round2(residuo),

		TotalTax:          Round2(totalTax),
		NetIncome:         Round2(netIncome),
		ContributionsPaid: Round2(subjective.Add(maternity)),

		NeedsRecalculation: false,
		FinalizedAt:        in.Now,
	}
}
