/*
Package engine provides the core tax and contribution calculation engine.

PURPOSE:
  This package contains the fund-agnostic types and algorithms that compute
  social-security contributions and the substitute-tax installment scheme
  for self-employed professionals. Whether the professional is affiliated
  with the general regime or one of the professional funds, the same engine
  drives per-invoice computation, yearly aggregation, and recalculation.

KEY CONCEPTS IN THIS FILE (types.go):
  - LineItem / BillingPreferences: Inputs to invoice value calculation
  - InvoiceValues: Amounts fixed at invoice creation (gross, net, rivalsa)
  - FundFields: Fund-specific amounts recomputed by the orchestrator
  - Invoice: Immutable identity plus recomputable financial fields
  - Running: The accumulator threaded through a year's invoice fold

DESIGN PRINCIPLES:
  1. Precision: Uses decimal.Decimal everywhere to avoid floating-point drift
  2. Purity: Per-invoice computation has no I/O and no hidden state
  3. Explicit order: A year's invoices are folded in one total order;
     cumulative fields come from the Running accumulator, never from
     re-scanning previously processed invoices
  4. Non-negativity: Amounts owed are clamped at zero before use

SEE ALSO:
  - calculator.go: Pure invoice value calculation
  - fund.go: FundVariant strategy interface and registry
  - aggregator.go: Yearly ledger accumulation and finalization
  - orchestrator.go: Full-year recalculation state machine
*/
package engine

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type UserID string
type InvoiceID string

// Fund identifies a welfare/pension fund affiliation ("cassa").
// Each fund has its own calculation strategy; see the funds package.
type Fund string

const (
	// FundGestioneSeparata is the general INPS regime for professionals
	// without a dedicated professional fund.
	FundGestioneSeparata Fund = "gestione_separata"

	// FundForense is the lawyers' fund (Cassa Forense).
	FundForense Fund = "cassa_forense"

	// FundInarcassa is the engineers' and architects' fund.
	FundInarcassa Fund = "inarcassa"

	// FundEnpap is the psychologists' fund.
	FundEnpap Fund = "enpap"
)

// =============================================================================
// DECIMAL HELPERS
// =============================================================================

// MustParseDecimal parses s, returning zero on malformed input.
// Intended for compile-time constants and trusted storage reads.
func MustParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// ClampZero returns d, or zero when d is negative.
// Over-payment in prior periods legitimately produces negative
// intermediate dues; they are never charged.
func ClampZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

// Round2 rounds to the 2-decimal precision used for persisted amounts.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// =============================================================================
// INVOICE INPUTS - Line items and billing preferences
// =============================================================================

// LineItem is a single invoice line: quantity times unit price.
type LineItem struct {
	Description string
	Quantity    decimal.Decimal
	UnitPrice   decimal.Decimal
}

// Total returns quantity × unit price.
func (li LineItem) Total() decimal.Decimal {
	return li.Quantity.Mul(li.UnitPrice)
}

// BillingPreferences are the per-user toggles that shape invoice values.
type BillingPreferences struct {
	// RivalsaOnClient: the contribution surcharge is billed on top of the
	// line items. When false, the invoiced amount already includes it and
	// the net base is obtained by scorporo (S / (1+rate)).
	RivalsaOnClient bool

	// StampDutyOnClient: the revenue stamp is re-billed to the client and
	// therefore counts as taxable revenue.
	StampDutyOnClient bool

	// ApplyRivalsa: general-regime only. The 4% INPS surcharge is optional;
	// professional funds ignore this toggle (their surcharge is mandatory).
	ApplyRivalsa bool
}

// =============================================================================
// INVOICE VALUES - Fixed at creation/edit time by the calculator
// =============================================================================

// InvoiceValues are the amounts derived from line items and preferences.
// Computed by ComputeInvoiceValues; pure function of its inputs.
type InvoiceValues struct {
	GrossTotal     decimal.Decimal
	NetBase        decimal.Decimal
	Rivalsa        decimal.Decimal
	StampDuty      decimal.Decimal
	Revenue        decimal.Decimal
	TaxableRevenue decimal.Decimal
}

// =============================================================================
// FUND FIELDS - Recomputed per invoice by the fund strategy
// =============================================================================

// FundFields are the fund-specific amounts attached to one settled invoice.
// They depend on processing order within the year and on the previous
// year's finalized ledger, so they are owned by the recalculation
// orchestrator, never by invoice CRUD.
type FundFields struct {
	// NotionalIncome ("ril") = income coefficient × taxable revenue.
	NotionalIncome decimal.Decimal

	// Contributions as fixed fund percentages.
	Subjective decimal.Decimal
	Solidarity decimal.Decimal
	Modular    decimal.Decimal

	// Substitute-tax installment family (saldo/acconto scheme).
	TaxSaldo   decimal.Decimal // this year's balance share
	TaxAcconto decimal.Decimal // next year's advance share
	TaxTotal   decimal.Decimal // saldo + acconto
	TaxDueNow  decimal.Decimal // charged on this invoice after netting
	TaxResiduo decimal.Decimal // prior-year credit left after this invoice
}

// Rounded returns a copy rounded to persisted 2-decimal precision.
// TaxTotal is recomputed from the rounded parts so saldo + acconto
// always equals total exactly.
func (ff FundFields) Rounded() FundFields {
	ff.NotionalIncome = Round2(ff.NotionalIncome)
	ff.Subjective = Round2(ff.Subjective)
	ff.Solidarity = Round2(ff.Solidarity)
	ff.Modular = Round2(ff.Modular)
	ff.TaxSaldo = Round2(ff.TaxSaldo)
	ff.TaxAcconto = Round2(ff.TaxAcconto)
	ff.TaxTotal = ff.TaxSaldo.Add(ff.TaxAcconto)
	ff.TaxDueNow = Round2(ff.TaxDueNow)
	ff.TaxResiduo = Round2(ff.TaxResiduo)
	return ff
}

// =============================================================================
// INVOICE
// =============================================================================

// Invoice carries immutable identity plus the financial fields the engine
// owns. Values is written once by the calculator at creation; Fund is
// rewritten on every recalculation of the year.
type Invoice struct {
	ID     InvoiceID
	UserID UserID
	Number string

	IssuedAt  time.Time
	SettledAt time.Time
	Settled   bool

	// Transmitted invoices are frozen for CRUD purposes; recalculation of
	// fund fields is still allowed (cancellation flows live elsewhere).
	Transmitted bool

	Items  []LineItem
	Values InvoiceValues
	Fund   FundFields
}

// =============================================================================
// RUNNING - Accumulator threaded through a year's invoice fold
// =============================================================================

// Running holds the cumulative sums over invoices already processed this
// year, in order. Fund strategies net each invoice's installment against
// these sums instead of re-scanning the processed slice.
type Running struct {
	Count int

	TaxableRevenue decimal.Decimal
	NotionalIncome decimal.Decimal

	TaxTotal  decimal.Decimal // Σ total_i over processed invoices
	TaxDueNow decimal.Decimal // Σ dueNow_i already charged this year
}

// NewRunning returns a zeroed accumulator.
func NewRunning() Running {
	return Running{
		TaxableRevenue: decimal.Zero,
		NotionalIncome: decimal.Zero,
		TaxTotal:       decimal.Zero,
		TaxDueNow:      decimal.Zero,
	}
}

// Add folds one computed invoice into the accumulator and returns the
// updated value. Running is a value type: each fold step produces a new
// accumulator, keeping per-step state testable in isolation.
func (r Running) Add(taxable decimal.Decimal, ff FundFields) Running {
	r.Count++
	r.TaxableRevenue = r.TaxableRevenue.Add(taxable)
	r.NotionalIncome = r.NotionalIncome.Add(ff.NotionalIncome)
	r.TaxTotal = r.TaxTotal.Add(ff.TaxTotal)
	r.TaxDueNow = r.TaxDueNow.Add(ff.TaxDueNow)
	return r
}

// =============================================================================
// FISCAL YEAR LEDGER
// =============================================================================

// FiscalYearLedger is the finalized aggregate for one (user, year).
// The previous year's ledger is read as an immutable snapshot by the
// current year's computation and is never mutated by it.
type FiscalYearLedger struct {
	UserID UserID
	Year   int
	Fund   Fund

	Revenue        decimal.Decimal
	TaxableRevenue decimal.Decimal
	NotionalIncome decimal.Decimal

	// Contributions after minimum floors.
	Subjective decimal.Decimal
	Solidarity decimal.Decimal
	Modular    decimal.Decimal
	Maternity  decimal.Decimal

	// Substitute-tax totals for the year.
	TaxSaldo   decimal.Decimal
	TaxAcconto decimal.Decimal
	TaxDueNow  decimal.Decimal

	// Residuo is the prior-year credit still unconsumed at year end,
	// carried forward into the next year's netting.
	Residuo decimal.Decimal

	TotalTax          decimal.Decimal
	NetIncome         decimal.Decimal
	ContributionsPaid decimal.Decimal

	// NeedsRecalculation flags a year whose inputs changed upstream
	// (a past year was recomputed). Consumption is a manual trigger.
	NeedsRecalculation bool

	FinalizedAt time.Time
}

// Credit returns the carry-forward available to the following year:
// the advance already paid plus any unconsumed residue.
func (l *FiscalYearLedger) Credit() decimal.Decimal {
	if l == nil {
		return decimal.Zero
	}
	return l.TaxAcconto.Add(l.Residuo)
}

// =============================================================================
// FISCAL PROFILE - Read-only input to the engine
// =============================================================================

// BenefitFlags are per-year eligibility flags read from the profile.
type BenefitFlags struct {
	// ReducedRate halves minimum-contribution floors for funds that
	// grant a reduced tier (young professionals, low income).
	ReducedRate bool

	// FullTimeEmployment marks professionals employed full-time
	// elsewhere; ENPAP waives the maternity surcharge for this tier.
	FullTimeEmployment bool
}

// FiscalProfile holds the registration data the engine reads.
type FiscalProfile struct {
	UserID           UserID
	Fund             Fund
	RegistrationDate time.Time // VAT-equivalent opening
	BirthDate        time.Time

	// Coefficient converts taxable revenue into notional income
	// (coefficiente di redditività, e.g. 0.78).
	Coefficient decimal.Decimal

	// ModularRate is the optional modular contribution percentage for
	// funds that support it (Inarcassa, 0 to 0.085).
	ModularRate decimal.Decimal

	// Benefits maps calendar year to that year's eligibility flags.
	Benefits map[int]BenefitFlags
}

// YearsSinceRegistration counts fiscal years of seniority: the
// registration year itself counts as year 1.
func (p *FiscalProfile) YearsSinceRegistration(year int) int {
	return year - p.RegistrationDate.Year() + 1
}

// AgeAtYearEnd is the age reached by December 31 of year.
func (p *FiscalProfile) AgeAtYearEnd(year int) int {
	age := year - p.BirthDate.Year()
	if age < 0 {
		return 0
	}
	return age
}

// BenefitsFor returns the flags for a year, zero-valued when unset.
func (p *FiscalProfile) BenefitsFor(year int) BenefitFlags {
	return p.Benefits[year]
}

// =============================================================================
// YEAR CONTEXT - Inputs to fund minimum/waiver decisions
// =============================================================================

// YearContext bundles the profile-derived facts a fund strategy needs
// when finalizing a year: seniority, age, income band, benefit flags.
type YearContext struct {
	Year                   int
	YearsSinceRegistration int
	AgeAtYearEnd           int
	NotionalIncome         decimal.Decimal
	Benefits               BenefitFlags
}

// Minimums are the contribution floors a fund imposes for a year.
type Minimums struct {
	Subjective decimal.Decimal
	Solidarity decimal.Decimal
}
