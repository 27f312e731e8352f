/*
gestioneseparata.go - General INPS regime (gestione separata)

The catch-all regime for professionals without a dedicated cassa.
Distinctive traits:
  - The 4% rivalsa is OPTIONAL: the professional decides per profile
    whether to apply it at all (the only fund honoring ApplyRivalsa).
  - A single subjective contribution at 26.07% of notional income; no
    solidarity, no modular, no minimum floors.
  - Maternity cover is bundled in the subjective rate: the maternity
    table carries a zero amount for this fund.
*/
package funds

import (
	"github.com/shopspring/decimal"

	"github.com/warp/fiscal-engine/engine"
)

// GestioneSeparata implements the general-regime strategy.
type GestioneSeparata struct{}

var _ engine.FundVariant = GestioneSeparata{}

var (
	gsRivalsaRate    = engine.MustParseDecimal("0.04")
	gsSubjectiveRate = engine.MustParseDecimal("0.2607")
)

func (GestioneSeparata) Fund() engine.Fund { return engine.FundGestioneSeparata }

// RivalsaRate honors the per-user ApplyRivalsa toggle: 4% or nothing.
func (GestioneSeparata) RivalsaRate(prefs engine.BillingPreferences) decimal.Decimal {
	if prefs.ApplyRivalsa {
		return gsRivalsaRate
	}
	return decimal.Zero
}

func (GestioneSeparata) SubstituteRate(yearsSinceRegistration int) decimal.Decimal {
	return escalatingRate(yearsSinceRegistration)
}

func (v GestioneSeparata) ComputeForInvoice(in engine.InvoiceInput) engine.FundFields {
	ril := notionalIncome(in)
	saldo, acconto, total, dueNow, residuo := installmentFamily(
		v.SubstituteRate(in.YearsSinceRegistration), ril, in)

	return engine.FundFields{
		NotionalIncome: ril,
		Subjective:     ril.Mul(gsSubjectiveRate),
		Solidarity:     decimal.Zero,
		Modular:        decimal.Zero,
		TaxSaldo:       saldo,
		TaxAcconto:     acconto,
		TaxTotal:       total,
		TaxDueNow:      dueNow,
		TaxResiduo:     residuo,
	}
}

// Minimums: the gestione separata has no contribution floors.
func (GestioneSeparata) Minimums(engine.YearContext) engine.Minimums {
	return engine.Minimums{Subjective: decimal.Zero, Solidarity: decimal.Zero}
}

func (GestioneSeparata) MaternityWaived(engine.YearContext) bool { return false }
