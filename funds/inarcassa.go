/*
inarcassa.go - Inarcassa (engineers and architects)

Distinctive traits:
  - Mandatory 4% rivalsa.
  - Subjective contribution at 14.5% of notional income plus an OPTIONAL
    modular contribution at a member-chosen percentage of notional income
    (0 to 8.5%, read from the fiscal profile).
  - Substitute tax at a FLAT 10% of notional income regardless of
    seniority - the only fund whose installment rate does not escalate.
  - Subjective minimum halves under the reduced-rate benefit and is
    waived entirely in the registration year.
*/
package funds

import (
	"github.com/shopspring/decimal"

	"github.com/warp/fiscal-engine/engine"
)

// Inarcassa implements the Inarcassa strategy.
type Inarcassa struct{}

var _ engine.FundVariant = Inarcassa{}

var (
	inarcassaRivalsaRate    = engine.MustParseDecimal("0.04")
	inarcassaSubjectiveRate = engine.MustParseDecimal("0.145")
	inarcassaFlatTaxRate    = engine.MustParseDecimal("0.10")
	inarcassaMinSubjective  = engine.MustParseDecimal("2695.00")
)

func (Inarcassa) Fund() engine.Fund { return engine.FundInarcassa }

func (Inarcassa) RivalsaRate(engine.BillingPreferences) decimal.Decimal {
	return inarcassaRivalsaRate
}

// SubstituteRate is flat: seniority never changes it.
func (Inarcassa) SubstituteRate(int) decimal.Decimal {
	return inarcassaFlatTaxRate
}

func (v Inarcassa) ComputeForInvoice(in engine.InvoiceInput) engine.FundFields {
	ril := notionalIncome(in)
	saldo, acconto, total, dueNow, residuo := installmentFamily(
		v.SubstituteRate(in.YearsSinceRegistration), ril, in)

	return engine.FundFields{
		NotionalIncome: ril,
		Subjective:     ril.Mul(inarcassaSubjectiveRate),
		Solidarity:     decimal.Zero,
		Modular:        ril.Mul(in.ModularRate),
		TaxSaldo:       saldo,
		TaxAcconto:     acconto,
		TaxTotal:       total,
		TaxDueNow:      dueNow,
		TaxResiduo:     residuo,
	}
}

func (Inarcassa) Minimums(yc engine.YearContext) engine.Minimums {
	if yc.YearsSinceRegistration <= 1 {
		return engine.Minimums{Subjective: decimal.Zero, Solidarity: decimal.Zero}
	}
	return engine.Minimums{
		Subjective: halfIf(yc.Benefits.ReducedRate, inarcassaMinSubjective),
		Solidarity: decimal.Zero,
	}
}

func (Inarcassa) MaternityWaived(engine.YearContext) bool { return false }
