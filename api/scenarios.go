/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with realistic
	data for testing and demos. Each scenario creates a fiscal profile,
	ledgers, settled invoices, and runs a recalculation so the finalized
	year is immediately visible.

AVAILABLE SCENARIOS:

	gs-first-year:     Gestione separata, registration year, no netting
	forense-minimums:  Cassa Forense low income year hitting the floors
	inarcassa-modular: Inarcassa with a modular contribution rate
	enpap-waiver:      ENPAP with the maternity waiver benefit tier
	credit-exhaustion: Prior-year credit consumed across the year

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Save the fiscal profile and maternity amounts
 3. Create the year's ledger (and the previous year's when netting)
 4. Seed settled invoices with calculator-produced values
 5. Run a full-year recalculation

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "forense-minimums"}

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: LoadScenario, ListScenarios handlers
  - engine/orchestrator.go: The recalculation the loaders trigger
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/fiscal-engine/engine"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "gs-first-year",
		Name:        "Gestione Separata - First Year",
		Description: "Registration year: no prior credit, every installment due in full",
		Fund:        string(engine.FundGestioneSeparata),
	},
	{
		ID:          "forense-minimums",
		Name:        "Cassa Forense - Minimum Floors",
		Description: "Low-income lawyer whose accumulated contributions fall below the minimums",
		Fund:        string(engine.FundForense),
	},
	{
		ID:          "inarcassa-modular",
		Name:        "Inarcassa - Modular Contribution",
		Description: "Engineer with an optional modular rate on top of the subjective contribution",
		Fund:        string(engine.FundInarcassa),
	},
	{
		ID:          "enpap-waiver",
		Name:        "ENPAP - Maternity Waiver",
		Description: "Psychologist employed full-time elsewhere: maternity surcharge waived",
		Fund:        string(engine.FundEnpap),
	},
	{
		ID:          "credit-exhaustion",
		Name:        "Credit Exhaustion",
		Description: "Prior-year acconto and residuo absorbed invoice by invoice until exhausted",
		Fund:        string(engine.FundGestioneSeparata),
	},
}

const scenarioYear = 2024

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	if h.currentScenario == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}

	for _, s := range scenarios {
		if s.ID == h.currentScenario {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}

	writeJSON(w, http.StatusOK, ScenarioDTO{
		ID:   h.currentScenario,
		Name: h.currentScenario,
	})
}

// LoadScenario loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ScenarioID string `json:"scenario_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	ctx := r.Context()

	if err := h.Store.Reset(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.currentScenario = ""

	var err error
	switch req.ScenarioID {
	case "gs-first-year":
		err = h.loadFirstYearScenario(ctx)
	case "forense-minimums":
		err = h.loadForenseScenario(ctx)
	case "inarcassa-modular":
		err = h.loadInarcassaScenario(ctx)
	case "enpap-waiver":
		err = h.loadEnpapScenario(ctx)
	case "credit-exhaustion":
		err = h.loadCreditExhaustionScenario(ctx)
	default:
		writeError(w, http.StatusBadRequest, "Unknown scenario: "+req.ScenarioID, nil)
		return
	}

	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load scenario", err)
		return
	}

	h.currentScenario = req.ScenarioID
	writeJSON(w, http.StatusOK, map[string]any{"status": "loaded", "scenario_id": req.ScenarioID})
}

// ResetDatabase clears all data.
// POST /api/scenarios/reset
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.currentScenario = ""
	writeJSON(w, http.StatusOK, map[string]any{"status": "reset"})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadFirstYearScenario(ctx context.Context) error {
	userID := engine.UserID("maria-rossi")

	profile := engine.FiscalProfile{
		UserID:           userID,
		Fund:             engine.FundGestioneSeparata,
		RegistrationDate: date(scenarioYear, 1, 10),
		BirthDate:        date(1990, 5, 20),
		Coefficient:      engine.MustParseDecimal("0.78"),
	}
	if err := h.Store.SaveProfile(ctx, profile); err != nil {
		return err
	}
	if err := h.Store.SaveLedger(ctx, engine.FiscalYearLedger{
		UserID: userID, Year: scenarioYear, Fund: profile.Fund,
	}); err != nil {
		return err
	}

	prefs := engine.BillingPreferences{ApplyRivalsa: true}
	amounts := []string{"1200.00", "850.00", "2400.00"}
	for i, amount := range amounts {
		if err := h.seedSettledInvoice(ctx, profile, prefs, seedInvoice{
			id:        fmt.Sprintf("inv-%s-%d", userID, i+1),
			number:    fmt.Sprintf("%d/%d", scenarioYear, i+1),
			settledAt: date(scenarioYear, time.Month(2*i+2), 15),
			items: []engine.LineItem{{
				Description: "Consulting services",
				Quantity:    decimal.NewFromInt(1),
				UnitPrice:   engine.MustParseDecimal(amount),
			}},
		}); err != nil {
			return err
		}
	}

	_, err := h.Orchestrator.RecalculateYear(ctx, userID, scenarioYear)
	return err
}

func (h *Handler) loadForenseScenario(ctx context.Context) error {
	userID := engine.UserID("giulia-bianchi")

	profile := engine.FiscalProfile{
		UserID:           userID,
		Fund:             engine.FundForense,
		RegistrationDate: date(scenarioYear-4, 3, 1),
		BirthDate:        date(1995, 9, 2),
		Coefficient:      engine.MustParseDecimal("0.78"),
	}
	if err := h.Store.SaveProfile(ctx, profile); err != nil {
		return err
	}
	if err := h.Store.SetMaternityTax(ctx, scenarioYear, profile.Fund, engine.MustParseDecimal("97.50")); err != nil {
		return err
	}

	// Modest carry-forward from the finalized previous year.
	if err := h.Store.SaveLedger(ctx, engine.FiscalYearLedger{
		UserID: userID, Year: scenarioYear - 1, Fund: profile.Fund,
		TaxAcconto:  engine.MustParseDecimal("310.00"),
		Residuo:     engine.MustParseDecimal("40.00"),
		FinalizedAt: date(scenarioYear, 1, 5),
	}); err != nil {
		return err
	}
	if err := h.Store.SaveLedger(ctx, engine.FiscalYearLedger{
		UserID: userID, Year: scenarioYear, Fund: profile.Fund,
	}); err != nil {
		return err
	}

	// A low-revenue year: accumulated contributions land below the
	// floors, so finalization lifts them to the minimums.
	prefs := engine.BillingPreferences{}
	amounts := []string{"2100.00", "1750.00"}
	for i, amount := range amounts {
		if err := h.seedSettledInvoice(ctx, profile, prefs, seedInvoice{
			id:        fmt.Sprintf("inv-%s-%d", userID, i+1),
			number:    fmt.Sprintf("%d/%d", scenarioYear, i+1),
			settledAt: date(scenarioYear, time.Month(4*i+3), 20),
			items: []engine.LineItem{{
				Description: "Legal assistance",
				Quantity:    decimal.NewFromInt(1),
				UnitPrice:   engine.MustParseDecimal(amount),
			}},
		}); err != nil {
			return err
		}
	}

	_, err := h.Orchestrator.RecalculateYear(ctx, userID, scenarioYear)
	return err
}

func (h *Handler) loadInarcassaScenario(ctx context.Context) error {
	userID := engine.UserID("luca-ferrari")

	profile := engine.FiscalProfile{
		UserID:           userID,
		Fund:             engine.FundInarcassa,
		RegistrationDate: date(scenarioYear-6, 6, 15),
		BirthDate:        date(1985, 2, 11),
		Coefficient:      engine.MustParseDecimal("0.78"),
		ModularRate:      engine.MustParseDecimal("0.02"),
	}
	if err := h.Store.SaveProfile(ctx, profile); err != nil {
		return err
	}
	if err := h.Store.SetMaternityTax(ctx, scenarioYear, profile.Fund, engine.MustParseDecimal("72.00")); err != nil {
		return err
	}

	if err := h.Store.SaveLedger(ctx, engine.FiscalYearLedger{
		UserID: userID, Year: scenarioYear - 1, Fund: profile.Fund,
		TaxAcconto:  engine.MustParseDecimal("2350.00"),
		FinalizedAt: date(scenarioYear, 1, 8),
	}); err != nil {
		return err
	}
	if err := h.Store.SaveLedger(ctx, engine.FiscalYearLedger{
		UserID: userID, Year: scenarioYear, Fund: profile.Fund,
	}); err != nil {
		return err
	}

	prefs := engine.BillingPreferences{}
	amounts := []string{"9800.00", "12400.00", "7600.00"}
	for i, amount := range amounts {
		if err := h.seedSettledInvoice(ctx, profile, prefs, seedInvoice{
			id:        fmt.Sprintf("inv-%s-%d", userID, i+1),
			number:    fmt.Sprintf("%d/%d", scenarioYear, i+1),
			settledAt: date(scenarioYear, time.Month(3*i+2), 10),
			items: []engine.LineItem{{
				Description: "Structural design",
				Quantity:    decimal.NewFromInt(1),
				UnitPrice:   engine.MustParseDecimal(amount),
			}},
		}); err != nil {
			return err
		}
	}

	_, err := h.Orchestrator.RecalculateYear(ctx, userID, scenarioYear)
	return err
}

func (h *Handler) loadEnpapScenario(ctx context.Context) error {
	userID := engine.UserID("anna-ricci")

	profile := engine.FiscalProfile{
		UserID:           userID,
		Fund:             engine.FundEnpap,
		RegistrationDate: date(scenarioYear-2, 9, 1),
		BirthDate:        date(1992, 12, 3),
		Coefficient:      engine.MustParseDecimal("0.78"),
		Benefits: map[int]engine.BenefitFlags{
			scenarioYear: {ReducedRate: true, FullTimeEmployment: true},
		},
	}
	if err := h.Store.SaveProfile(ctx, profile); err != nil {
		return err
	}
	// The table amount exists but the full-time-employment tier waives it.
	if err := h.Store.SetMaternityTax(ctx, scenarioYear, profile.Fund, engine.MustParseDecimal("130.00")); err != nil {
		return err
	}

	if err := h.Store.SaveLedger(ctx, engine.FiscalYearLedger{
		UserID: userID, Year: scenarioYear - 1, Fund: profile.Fund,
		TaxAcconto:  engine.MustParseDecimal("180.00"),
		FinalizedAt: date(scenarioYear, 1, 12),
	}); err != nil {
		return err
	}
	if err := h.Store.SaveLedger(ctx, engine.FiscalYearLedger{
		UserID: userID, Year: scenarioYear, Fund: profile.Fund,
	}); err != nil {
		return err
	}

	prefs := engine.BillingPreferences{}
	amounts := []string{"950.00", "1100.00"}
	for i, amount := range amounts {
		if err := h.seedSettledInvoice(ctx, profile, prefs, seedInvoice{
			id:        fmt.Sprintf("inv-%s-%d", userID, i+1),
			number:    fmt.Sprintf("%d/%d", scenarioYear, i+1),
			settledAt: date(scenarioYear, time.Month(5*i+3), 7),
			items: []engine.LineItem{{
				Description: "Therapy sessions",
				Quantity:    decimal.NewFromInt(1),
				UnitPrice:   engine.MustParseDecimal(amount),
			}},
		}); err != nil {
			return err
		}
	}

	_, err := h.Orchestrator.RecalculateYear(ctx, userID, scenarioYear)
	return err
}

func (h *Handler) loadCreditExhaustionScenario(ctx context.Context) error {
	userID := engine.UserID("paolo-verdi")

	profile := engine.FiscalProfile{
		UserID:           userID,
		Fund:             engine.FundGestioneSeparata,
		RegistrationDate: date(scenarioYear-3, 4, 1),
		BirthDate:        date(1988, 7, 30),
		Coefficient:      engine.MustParseDecimal("0.78"),
	}
	if err := h.Store.SaveProfile(ctx, profile); err != nil {
		return err
	}

	// A large credit: early invoices owe nothing, later ones start
	// paying once the running installment total crosses the credit.
	if err := h.Store.SaveLedger(ctx, engine.FiscalYearLedger{
		UserID: userID, Year: scenarioYear - 1, Fund: profile.Fund,
		TaxAcconto:  engine.MustParseDecimal("600.00"),
		Residuo:     engine.MustParseDecimal("150.00"),
		FinalizedAt: date(scenarioYear, 1, 3),
	}); err != nil {
		return err
	}
	if err := h.Store.SaveLedger(ctx, engine.FiscalYearLedger{
		UserID: userID, Year: scenarioYear, Fund: profile.Fund,
	}); err != nil {
		return err
	}

	prefs := engine.BillingPreferences{ApplyRivalsa: true}
	amounts := []string{"2500.00", "2500.00", "2500.00", "2500.00"}
	for i, amount := range amounts {
		if err := h.seedSettledInvoice(ctx, profile, prefs, seedInvoice{
			id:        fmt.Sprintf("inv-%s-%d", userID, i+1),
			number:    fmt.Sprintf("%d/%d", scenarioYear, i+1),
			settledAt: date(scenarioYear, time.Month(2*i+2), 28),
			items: []engine.LineItem{{
				Description: "Software development",
				Quantity:    decimal.NewFromInt(1),
				UnitPrice:   engine.MustParseDecimal(amount),
			}},
		}); err != nil {
			return err
		}
	}

	_, err := h.Orchestrator.RecalculateYear(ctx, userID, scenarioYear)
	return err
}

// =============================================================================
// SEEDING HELPERS
// =============================================================================

type seedInvoice struct {
	id        string
	number    string
	settledAt time.Time
	items     []engine.LineItem
}

func (h *Handler) seedSettledInvoice(ctx context.Context, profile engine.FiscalProfile, prefs engine.BillingPreferences, seed seedInvoice) error {
	variant := engine.VariantFor(profile.Fund)
	if variant == nil {
		return &engine.UnsupportedFundError{Fund: profile.Fund}
	}

	values, err := engine.ComputeInvoiceValues(seed.items, prefs, variant)
	if err != nil {
		return err
	}

	return h.Store.SaveInvoice(ctx, engine.Invoice{
		ID:        engine.InvoiceID(seed.id),
		UserID:    profile.UserID,
		Number:    seed.number,
		IssuedAt:  seed.settledAt.AddDate(0, 0, -14),
		SettledAt: seed.settledAt,
		Settled:   true,
		Items:     seed.items,
		Values:    values,
	})
}

func date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}
