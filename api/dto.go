/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY ENCODING:
  Every monetary field travels as a string with two decimals ("1234.50").
  Floats would re-introduce the representation drift the engine's decimal
  arithmetic exists to prevent.

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - engine/types.go: The domain model these mirror
*/
package api

import (
	"time"

	"github.com/warp/fiscal-engine/engine"
)

// =============================================================================
// INVOICE TYPES
// =============================================================================

// LineItemDTO is one invoice line in requests and responses.
type LineItemDTO struct {
	Description string `json:"description"`
	Quantity    string `json:"quantity"`
	UnitPrice   string `json:"unit_price"`
}

// PreviewRequest asks for invoice values without persisting anything.
// Invoice create/edit flows call this to show totals as the user types.
type PreviewRequest struct {
	Fund              string        `json:"fund"`
	Items             []LineItemDTO `json:"items"`
	RivalsaOnClient   bool          `json:"rivalsa_on_client"`
	StampDutyOnClient bool          `json:"stamp_duty_on_client"`
	ApplyRivalsa      bool          `json:"apply_rivalsa"`
}

// InvoiceValuesDTO mirrors engine.InvoiceValues.
type InvoiceValuesDTO struct {
	GrossTotal     string `json:"gross_total"`
	NetBase        string `json:"net_base"`
	Rivalsa        string `json:"rivalsa"`
	StampDuty      string `json:"stamp_duty"`
	Revenue        string `json:"revenue"`
	TaxableRevenue string `json:"taxable_revenue"`
}

// FundFieldsDTO mirrors engine.FundFields.
type FundFieldsDTO struct {
	NotionalIncome string `json:"notional_income"`
	Subjective     string `json:"subjective"`
	Solidarity     string `json:"solidarity"`
	Modular        string `json:"modular"`
	TaxSaldo       string `json:"tax_saldo"`
	TaxAcconto     string `json:"tax_acconto"`
	TaxTotal       string `json:"tax_total"`
	TaxDueNow      string `json:"tax_due_now"`
	TaxResiduo     string `json:"tax_residuo"`
}

// InvoiceDTO represents an invoice in API responses.
type InvoiceDTO struct {
	ID          string           `json:"id"`
	UserID      string           `json:"user_id"`
	Number      string           `json:"number"`
	IssuedAt    string           `json:"issued_at"`
	SettledAt   string           `json:"settled_at,omitempty"`
	Settled     bool             `json:"settled"`
	Transmitted bool             `json:"transmitted"`
	Items       []LineItemDTO    `json:"items"`
	Values      InvoiceValuesDTO `json:"values"`
	Fund        FundFieldsDTO    `json:"fund"`
}

// =============================================================================
// LEDGER TYPES
// =============================================================================

// LedgerDTO represents a fiscal-year ledger in API responses.
type LedgerDTO struct {
	UserID             string `json:"user_id"`
	Year               int    `json:"year"`
	Fund               string `json:"fund"`
	Revenue            string `json:"revenue"`
	TaxableRevenue     string `json:"taxable_revenue"`
	NotionalIncome     string `json:"notional_income"`
	Subjective         string `json:"subjective"`
	Solidarity         string `json:"solidarity"`
	Modular            string `json:"modular"`
	Maternity          string `json:"maternity"`
	TaxSaldo           string `json:"tax_saldo"`
	TaxAcconto         string `json:"tax_acconto"`
	TaxDueNow          string `json:"tax_due_now"`
	Residuo            string `json:"residuo"`
	TotalTax           string `json:"total_tax"`
	NetIncome          string `json:"net_income"`
	ContributionsPaid  string `json:"contributions_paid"`
	NeedsRecalculation bool   `json:"needs_recalculation"`
	FinalizedAt        string `json:"finalized_at,omitempty"`
}

// =============================================================================
// PROFILE TYPES
// =============================================================================

// BenefitFlagsDTO mirrors engine.BenefitFlags for one year.
type BenefitFlagsDTO struct {
	ReducedRate        bool `json:"reduced_rate"`
	FullTimeEmployment bool `json:"full_time_employment"`
}

// ProfileDTO represents a fiscal profile in API responses.
type ProfileDTO struct {
	UserID           string                  `json:"user_id"`
	Fund             string                  `json:"fund"`
	RegistrationDate string                  `json:"registration_date"`
	BirthDate        string                  `json:"birth_date"`
	Coefficient      string                  `json:"coefficient"`
	ModularRate      string                  `json:"modular_rate"`
	Benefits         map[int]BenefitFlagsDTO `json:"benefits,omitempty"`
}

// SaveProfileRequest creates or replaces a fiscal profile.
type SaveProfileRequest struct {
	UserID           string                  `json:"user_id"`
	Fund             string                  `json:"fund"`
	RegistrationDate string                  `json:"registration_date"`
	BirthDate        string                  `json:"birth_date"`
	Coefficient      string                  `json:"coefficient"`
	ModularRate      string                  `json:"modular_rate,omitempty"`
	Benefits         map[int]BenefitFlagsDTO `json:"benefits,omitempty"`
}

// SetMaternityTaxRequest seeds the maternity table for (year, fund).
type SetMaternityTaxRequest struct {
	Year   int    `json:"year"`
	Fund   string `json:"fund"`
	Amount string `json:"amount"`
}

// =============================================================================
// RECALCULATION TYPES
// =============================================================================

// RecalculationResultDTO is the response of a recalculation trigger.
type RecalculationResultDTO struct {
	Status       string     `json:"status"`
	Fund         string     `json:"fund,omitempty"`
	InvoiceCount int        `json:"invoice_count"`
	Ledger       *LedgerDTO `json:"ledger,omitempty"`
}

// RunDTO represents a logged recalculation run.
type RunDTO struct {
	ID           string `json:"id"`
	UserID       string `json:"user_id"`
	Year         int    `json:"year"`
	Fund         string `json:"fund,omitempty"`
	Status       string `json:"status"`
	InvoiceCount int    `json:"invoice_count"`
	TotalTax     string `json:"total_tax"`
	Error        string `json:"error,omitempty"`
	StartedAt    string `json:"started_at"`
	CompletedAt  string `json:"completed_at"`
}

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Fund        string `json:"fund,omitempty"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toInvoiceValuesDTO(v engine.InvoiceValues) InvoiceValuesDTO {
	return InvoiceValuesDTO{
		GrossTotal:     v.GrossTotal.StringFixed(2),
		NetBase:        v.NetBase.StringFixed(2),
		Rivalsa:        v.Rivalsa.StringFixed(2),
		StampDuty:      v.StampDuty.StringFixed(2),
		Revenue:        v.Revenue.StringFixed(2),
		TaxableRevenue: v.TaxableRevenue.StringFixed(2),
	}
}

func toFundFieldsDTO(ff engine.FundFields) FundFieldsDTO {
	return FundFieldsDTO{
		NotionalIncome: ff.NotionalIncome.StringFixed(2),
		Subjective:     ff.Subjective.StringFixed(2),
		Solidarity:     ff.Solidarity.StringFixed(2),
		Modular:        ff.Modular.StringFixed(2),
		TaxSaldo:       ff.TaxSaldo.StringFixed(2),
		TaxAcconto:     ff.TaxAcconto.StringFixed(2),
		TaxTotal:       ff.TaxTotal.StringFixed(2),
		TaxDueNow:      ff.TaxDueNow.StringFixed(2),
		TaxResiduo:     ff.TaxResiduo.StringFixed(2),
	}
}

func toInvoiceDTO(inv engine.Invoice) InvoiceDTO {
	items := make([]LineItemDTO, len(inv.Items))
	for i, li := range inv.Items {
		items[i] = LineItemDTO{
			Description: li.Description,
			Quantity:    li.Quantity.String(),
			UnitPrice:   li.UnitPrice.StringFixed(2),
		}
	}

	dto := InvoiceDTO{
		ID:          string(inv.ID),
		UserID:      string(inv.UserID),
		Number:      inv.Number,
		IssuedAt:    inv.IssuedAt.Format(time.RFC3339),
		Settled:     inv.Settled,
		Transmitted: inv.Transmitted,
		Items:       items,
		Values:      toInvoiceValuesDTO(inv.Values),
		Fund:        toFundFieldsDTO(inv.Fund),
	}
	if inv.Settled {
		dto.SettledAt = inv.SettledAt.Format(time.RFC3339)
	}
	return dto
}

func toLedgerDTO(l engine.FiscalYearLedger) LedgerDTO {
	dto := LedgerDTO{
		UserID:             string(l.UserID),
		Year:               l.Year,
		Fund:               string(l.Fund),
		Revenue:            l.Revenue.StringFixed(2),
		TaxableRevenue:     l.TaxableRevenue.StringFixed(2),
		NotionalIncome:     l.NotionalIncome.StringFixed(2),
		Subjective:         l.Subjective.StringFixed(2),
		Solidarity:         l.Solidarity.StringFixed(2),
		Modular:            l.Modular.StringFixed(2),
		Maternity:          l.Maternity.StringFixed(2),
		TaxSaldo:           l.TaxSaldo.StringFixed(2),
		TaxAcconto:         l.TaxAcconto.StringFixed(2),
		TaxDueNow:          l.TaxDueNow.StringFixed(2),
		Residuo:            l.Residuo.StringFixed(2),
		TotalTax:           l.TotalTax.StringFixed(2),
		NetIncome:          l.NetIncome.StringFixed(2),
		ContributionsPaid:  l.ContributionsPaid.StringFixed(2),
		NeedsRecalculation: l.NeedsRecalculation,
	}
	if !l.FinalizedAt.IsZero() {
		dto.FinalizedAt = l.FinalizedAt.Format(time.RFC3339)
	}
	return dto
}

func toProfileDTO(p engine.FiscalProfile) ProfileDTO {
	dto := ProfileDTO{
		UserID:           string(p.UserID),
		Fund:             string(p.Fund),
		RegistrationDate: p.RegistrationDate.Format("2006-01-02"),
		BirthDate:        p.BirthDate.Format("2006-01-02"),
		Coefficient:      p.Coefficient.String(),
		ModularRate:      p.ModularRate.String(),
	}
	if len(p.Benefits) > 0 {
		dto.Benefits = make(map[int]BenefitFlagsDTO, len(p.Benefits))
		for year, b := range p.Benefits {
			dto.Benefits[year] = BenefitFlagsDTO{
				ReducedRate:        b.ReducedRate,
				FullTimeEmployment: b.FullTimeEmployment,
			}
		}
	}
	return dto
}

func toRunDTO(r engine.RecalculationRun) RunDTO {
	return RunDTO{
		ID:           r.ID,
		UserID:       string(r.UserID),
		Year:         r.Year,
		Fund:         string(r.Fund),
		Status:       string(r.Status),
		InvoiceCount: r.InvoiceCount,
		TotalTax:     r.TotalTax.StringFixed(2),
		Error:        r.Error,
		StartedAt:    r.StartedAt.Format(time.RFC3339),
		CompletedAt:  r.CompletedAt.Format(time.RFC3339),
	}
}
