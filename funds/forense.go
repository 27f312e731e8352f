/*
forense.go - Cassa Forense (lawyers)

Distinctive traits:
  - Mandatory 4% rivalsa.
  - Subjective contribution at 15% of notional income, solidarity at 4%
    of taxable revenue (the "15%/4%" fund).
  - Subjective minimum from a 2×2 step table keyed by (seniority ≤ 6,
    age ≤ 35): only members who satisfy BOTH youth criteria get the
    reduced minimum. The chosen amount additionally halves when notional
    income falls below the low-income band threshold.
  - Flat solidarity minimum.
*/
package funds

import (
	"github.com/shopspring/decimal"

	"github.com/warp/fiscal-engine/engine"
)

// Forense implements the Cassa Forense strategy.
type Forense struct{}

var _ engine.FundVariant = Forense{}

var (
	forenseRivalsaRate    = engine.MustParseDecimal("0.04")
	forenseSubjectiveRate = engine.MustParseDecimal("0.15")
	forenseSolidarityRate = engine.MustParseDecimal("0.04")

	// Subjective-minimum step table.
	forenseMinFull    = engine.MustParseDecimal("2750.00")
	forenseMinReduced = engine.MustParseDecimal("1375.00")

	// Below this notional income the chosen minimum halves.
	forenseLowIncomeBand = engine.MustParseDecimal("10400.00")

	forenseMinSolidarity = engine.MustParseDecimal("350.00")
)

const (
	forenseYouthSeniority = 6
	forenseYouthAge       = 35
)

func (Forense) Fund() engine.Fund { return engine.FundForense }

func (Forense) RivalsaRate(engine.BillingPreferences) decimal.Decimal {
	return forenseRivalsaRate
}

func (Forense) SubstituteRate(yearsSinceRegistration int) decimal.Decimal {
	return escalatingRate(yearsSinceRegistration)
}

func (v Forense) ComputeForInvoice(in engine.InvoiceInput) engine.FundFields {
	ril := notionalIncome(in)
	saldo, acconto, total, dueNow, residuo := installmentFamily(
		v.SubstituteRate(in.YearsSinceRegistration), ril, in)

	return engine.FundFields{
		NotionalIncome: ril,
		Subjective:     ril.Mul(forenseSubjectiveRate),
		Solidarity:     in.Invoice.Values.TaxableRevenue.Mul(forenseSolidarityRate),
		Modular:        decimal.Zero,
		TaxSaldo:       saldo,
		TaxAcconto:     acconto,
		TaxTotal:       total,
		TaxDueNow:      dueNow,
		TaxResiduo:     residuo,
	}
}

// Minimums applies the 2×2 (seniority, age) table, then the income band.
func (Forense) Minimums(yc engine.YearContext) engine.Minimums {
	min := forenseMinFull
	if yc.YearsSinceRegistration <= forenseYouthSeniority && yc.AgeAtYearEnd <= forenseYouthAge {
		min = forenseMinReduced
	}
	min = halfIf(yc.NotionalIncome.LessThan(forenseLowIncomeBand), min)

	return engine.Minimums{
		Subjective: min,
		Solidarity: forenseMinSolidarity,
	}
}

func (Forense) MaternityWaived(engine.YearContext) bool { return false }
