/*
enpap.go - ENPAP (psychologists)

Distinctive traits:
  - The 2% rivalsa fund (every other cassa charges 4%).
  - Subjective contribution at 10% of notional income, solidarity at
    0.5% of notional income.
  - Both minimums halve under the reduced-rate benefit.
  - The flat maternity surcharge is WAIVED entirely for members in the
    full-time-employment benefit tier - the only fund with a waiver.
*/
package funds

import (
	"github.com/shopspring/decimal"

	"github.com/warp/fiscal-engine/engine"
)

// Enpap implements the ENPAP strategy.
type Enpap struct{}

var _ engine.FundVariant = Enpap{}

var (
	enpapRivalsaRate    = engine.MustParseDecimal("0.02")
	enpapSubjectiveRate = engine.MustParseDecimal("0.10")
	enpapSolidarityRate = engine.MustParseDecimal("0.005")
	enpapMinSubjective  = engine.MustParseDecimal("780.00")
	enpapMinSolidarity  = engine.MustParseDecimal("60.00")
)

func (Enpap) Fund() engine.Fund { return engine.FundEnpap }

func (Enpap) RivalsaRate(engine.BillingPreferences) decimal.Decimal {
	return enpapRivalsaRate
}

func (Enpap) SubstituteRate(yearsSinceRegistration int) decimal.Decimal {
	return escalatingRate(yearsSinceRegistration)
}

func (v Enpap) ComputeForInvoice(in engine.InvoiceInput) engine.FundFields {
	ril := notionalIncome(in)
	saldo, acconto, total, dueNow, residuo := installmentFamily(
		v.SubstituteRate(in.YearsSinceRegistration), ril, in)

	return engine.FundFields{
		NotionalIncome: ril,
		Subjective:     ril.Mul(enpapSubjectiveRate),
		Solidarity:     ril.Mul(enpapSolidarityRate),
		Modular:        decimal.Zero,
		TaxSaldo:       saldo,
		TaxAcconto:     acconto,
		TaxTotal:       total,
		TaxDueNow:      dueNow,
		TaxResiduo:     residuo,
	}
}

func (Enpap) Minimums(yc engine.YearContext) engine.Minimums {
	return engine.Minimums{
		Subjective: halfIf(yc.Benefits.ReducedRate, enpapMinSubjective),
		Solidarity: halfIf(yc.Benefits.ReducedRate, enpapMinSolidarity),
	}
}

// MaternityWaived: full-time employees elsewhere are covered by their
// employer's scheme.
func (Enpap) MaternityWaived(yc engine.YearContext) bool {
	return yc.Benefits.FullTimeEmployment
}
