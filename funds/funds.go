/*
Package funds implements the per-fund calculation strategies.

PURPOSE:
  One file per cassa: the general INPS regime (gestione separata), Cassa
  Forense, Inarcassa and ENPAP. Each strategy is a pure value type with
  fixed compiled constants - rates and thresholds are business logic, not
  runtime configuration - implementing engine.FundVariant.

COMMON PIPELINE:
  Every per-invoice step follows the same explicit pipeline:
    notional income (ril) = coefficient × taxable revenue
    → contributions as fixed percentages of ril or taxable revenue
    → substitute-tax installment family via the shared netting helper
  There is no shared mutable state and no evaluation-order dependency.

INSTALLMENT NETTING (this file):
  The saldo/acconto scheme pays this year's balance plus next year's
  advance. Per invoice, "dueNow" is the cumulative total over everything
  processed so far this year minus the previous year's credit (advance +
  residuo) minus what earlier invoices were already charged. Negative
  intermediate results mean prior over-payment and clamp to zero.

SEE ALSO:
  - engine/fund.go: the strategy interface and registry
  - engine/aggregator.go: where Minimums and MaternityWaived are consumed
*/
package funds

import (
	"github.com/shopspring/decimal"

	"github.com/warp/fiscal-engine/engine"
)

// Register all fund strategies with the engine registry.
func init() {
	engine.RegisterVariant(GestioneSeparata{})
	engine.RegisterVariant(Forense{})
	engine.RegisterVariant(Inarcassa{})
	engine.RegisterVariant(Enpap{})
}

// =============================================================================
// SHARED HELPERS
// =============================================================================

// notionalIncome derives ril from this invoice's taxable revenue.
func notionalIncome(in engine.InvoiceInput) decimal.Decimal {
	return in.Coefficient.Mul(in.Invoice.Values.TaxableRevenue)
}

// installmentFamily computes the substitute-tax fields for one invoice.
//
// saldo and acconto are each rate × ril (the advance is 100% of the
// balance). dueNow nets the cumulative year total against last year's
// credit and against what earlier invoices already charged:
//
//	dueNow_k  = max(0, Σ_{i≤k} total_i − credit − Σ_{i<k} dueNow_i)
//	residuo_k = max(0, credit − Σ_{i≤k} total_i)
//
// In the first fiscal year there is no previous ledger to net against:
// dueNow is the full per-invoice total.
func installmentFamily(rate, ril decimal.Decimal, in engine.InvoiceInput) (saldo, acconto, total, dueNow, residuo decimal.Decimal) {
	saldo = rate.Mul(ril)
	acconto = rate.Mul(ril)
	total = saldo.Add(acconto)

	if in.YearsSinceRegistration == 1 {
		return saldo, acconto, total, total, decimal.Zero
	}

	credit := in.PreviousLedger.Credit()

	var cumTotal, charged decimal.Decimal
	if in.Processed.Count == 0 {
		// First invoice of the year: net directly against the ledger.
		cumTotal = total
		charged = decimal.Zero
	} else {
		cumTotal = in.Processed.TaxTotal.Add(total)
		charged = in.Processed.TaxDueNow
	}

	dueNow = engine.ClampZero(cumTotal.Sub(credit).Sub(charged))
	residuo = engine.ClampZero(credit.Sub(cumTotal))
	return saldo, acconto, total, dueNow, residuo
}

// escalatingRate is the 5% → 15% substitute-tax schedule shared by the
// funds whose rate steps up after the fifth year of activity.
func escalatingRate(yearsSinceRegistration int) decimal.Decimal {
	if yearsSinceRegistration <= 5 {
		return engine.MustParseDecimal("0.05")
	}
	return engine.MustParseDecimal("0.15")
}

// halfIf halves d when cond is set.
func halfIf(cond bool, d decimal.Decimal) decimal.Decimal {
	if cond {
		return d.Div(decimal.NewFromInt(2))
	}
	return d
}
