/*
handlers.go - HTTP API handlers for the fiscal calculation engine

PURPOSE:
  Exposes the calculation engine via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Invoices:
    POST   /api/invoices/preview          Compute invoice values (no persistence)
    GET    /api/invoices/{id}             Get one invoice with fund fields
    GET    /api/users/{id}/invoices       Settled invoices of a year

  Recalculation:
    POST   /api/users/{id}/years/{year}/recalculate  Full-year recompute
    POST   /api/users/{id}/years/{year}/rollover     Create next year's ledger
    GET    /api/users/{id}/years/{year}/ledger       Read the year's ledger
    GET    /api/users/{id}/runs                      Recalculation run history
    GET    /api/ledgers/dirty                        Ledgers flagged stale

  Profiles:
    GET    /api/profiles               List fiscal profiles
    POST   /api/profiles               Create/replace a profile
    GET    /api/profiles/{id}          Get a profile

  Admin:
    POST   /api/admin/maternity        Seed the maternity-tax table
    GET    /api/funds                  List supported funds

  Scenarios:
    GET    /api/scenarios              List demo scenarios
    POST   /api/scenarios/load         Load a demo scenario

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input, unsupported fund
  - 404: Resource not found
  - 409: Failed recalculation preconditions (missing ledgers/profile)
  - 500: Internal errors

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/warp/fiscal-engine/engine"
	"github.com/warp/fiscal-engine/store/sqlite"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store        *sqlite.Store
	Orchestrator *engine.Orchestrator

	// Track currently loaded scenario
	currentScenario string
}

// NewHandler creates a new handler with the given store. The orchestrator
// is wired against the same store for invoices, ledgers, profiles,
// maternity amounts and run logging.
func NewHandler(store *sqlite.Store) *Handler {
	return &Handler{
		Store:        store,
		Orchestrator: engine.NewOrchestrator(store, store, store).WithRunLog(store),
	}
}

// =============================================================================
// INVOICE HANDLERS
// =============================================================================

// PreviewInvoice computes invoice values without persisting anything.
// POST /api/invoices/preview
func (h *Handler) PreviewInvoice(w http.ResponseWriter, r *http.Request) {
	var req PreviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	variant := engine.VariantFor(engine.Fund(req.Fund))
	if variant == nil {
		writeError(w, http.StatusBadRequest, "Unsupported fund",
			&engine.UnsupportedFundError{Fund: engine.Fund(req.Fund)})
		return
	}

	items, err := parseLineItems(req.Items)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid line items", err)
		return
	}

	values, err := engine.ComputeInvoiceValues(items, engine.BillingPreferences{
		RivalsaOnClient:   req.RivalsaOnClient,
		StampDutyOnClient: req.StampDutyOnClient,
		ApplyRivalsa:      req.ApplyRivalsa,
	}, variant)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid invoice", err)
		return
	}

	writeJSON(w, http.StatusOK, toInvoiceValuesDTO(values))
}

// GetInvoice returns one invoice with its persisted fund fields.
// GET /api/invoices/{id}
func (h *Handler) GetInvoice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	inv, err := h.Store.Invoice(r.Context(), engine.InvoiceID(id))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get invoice", err)
		return
	}
	if inv == nil {
		writeError(w, http.StatusNotFound, "Invoice not found", nil)
		return
	}

	writeJSON(w, http.StatusOK, toInvoiceDTO(*inv))
}

// ListUserInvoices returns the settled invoices of (user, year) in
// processing order.
// GET /api/users/{id}/invoices?year=2024
func (h *Handler) ListUserInvoices(w http.ResponseWriter, r *http.Request) {
	userID := engine.UserID(chi.URLParam(r, "id"))

	year, err := strconv.Atoi(r.URL.Query().Get("year"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Missing or invalid year query parameter", err)
		return
	}

	invoices, err := h.Store.SettledInvoices(r.Context(), userID, year)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list invoices", err)
		return
	}
	engine.SortForProcessing(invoices)

	dtos := make([]InvoiceDTO, len(invoices))
	for i, inv := range invoices {
		dtos[i] = toInvoiceDTO(inv)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// RECALCULATION HANDLERS
// =============================================================================

// RecalculateYear triggers a full-year recompute for (user, year).
// POST /api/users/{id}/years/{year}/recalculate
func (h *Handler) RecalculateYear(w http.ResponseWriter, r *http.Request) {
	userID := engine.UserID(chi.URLParam(r, "id"))
	year, err := strconv.Atoi(chi.URLParam(r, "year"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid year", err)
		return
	}

	result, err := h.Orchestrator.RecalculateYear(r.Context(), userID, year)
	if err != nil {
		if engine.IsPrecondition(err) {
			writeError(w, http.StatusConflict, "Recalculation precondition failed", err)
			return
		}
		writeError(w, http.StatusInternalServerError, "Recalculation failed", err)
		return
	}

	dto := RecalculationResultDTO{
		Status:       string(result.Status),
		Fund:         string(result.Fund),
		InvoiceCount: result.InvoiceCount,
	}
	if result.Ledger != nil {
		ledger := toLedgerDTO(*result.Ledger)
		dto.Ledger = &ledger
	}
	writeJSON(w, http.StatusOK, dto)
}

// RolloverYear creates the empty ledger of year+1.
// POST /api/users/{id}/years/{year}/rollover
func (h *Handler) RolloverYear(w http.ResponseWriter, r *http.Request) {
	userID := engine.UserID(chi.URLParam(r, "id"))
	year, err := strconv.Atoi(chi.URLParam(r, "year"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid year", err)
		return
	}

	ledger, err := h.Orchestrator.RolloverYear(r.Context(), userID, year)
	if err != nil {
		if engine.IsPrecondition(err) {
			writeError(w, http.StatusConflict, "Rollover precondition failed", err)
			return
		}
		writeError(w, http.StatusInternalServerError, "Rollover failed", err)
		return
	}

	writeJSON(w, http.StatusCreated, toLedgerDTO(*ledger))
}

// GetLedger returns the ledger of (user, year).
// GET /api/users/{id}/years/{year}/ledger
func (h *Handler) GetLedger(w http.ResponseWriter, r *http.Request) {
	userID := engine.UserID(chi.URLParam(r, "id"))
	year, err := strconv.Atoi(chi.URLParam(r, "year"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid year", err)
		return
	}

	ledger, err := h.Store.Ledger(r.Context(), userID, year)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get ledger", err)
		return
	}
	if ledger == nil {
		writeError(w, http.StatusNotFound, "Ledger not found", nil)
		return
	}

	writeJSON(w, http.StatusOK, toLedgerDTO(*ledger))
}

// ListDirtyLedgers returns ledgers flagged as needing recalculation.
// Recomputing them stays a manual trigger.
// GET /api/ledgers/dirty
func (h *Handler) ListDirtyLedgers(w http.ResponseWriter, r *http.Request) {
	ledgers, err := h.Store.DirtyLedgers(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list dirty ledgers", err)
		return
	}

	dtos := make([]LedgerDTO, len(ledgers))
	for i, l := range ledgers {
		dtos[i] = toLedgerDTO(l)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ListRuns returns a user's recalculation run history, most recent first.
// GET /api/users/{id}/runs
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	userID := engine.UserID(chi.URLParam(r, "id"))

	runs, err := h.Store.Runs(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list runs", err)
		return
	}

	dtos := make([]RunDTO, len(runs))
	for i, run := range runs {
		dtos[i] = toRunDTO(run)
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": dtos})
}

// =============================================================================
// PROFILE HANDLERS
// =============================================================================

// ListProfiles returns all fiscal profiles.
// GET /api/profiles
func (h *Handler) ListProfiles(w http.ResponseWriter, r *http.Request) {
	profiles, err := h.Store.ListProfiles(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list profiles", err)
		return
	}

	dtos := make([]ProfileDTO, len(profiles))
	for i, p := range profiles {
		dtos[i] = toProfileDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetProfile returns one fiscal profile.
// GET /api/profiles/{id}
func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	userID := engine.UserID(chi.URLParam(r, "id"))

	profile, err := h.Store.Profile(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get profile", err)
		return
	}
	if profile == nil {
		writeError(w, http.StatusNotFound, "Profile not found", nil)
		return
	}

	writeJSON(w, http.StatusOK, toProfileDTO(*profile))
}

// SaveProfile creates or replaces a fiscal profile.
// POST /api/profiles
func (h *Handler) SaveProfile(w http.ResponseWriter, r *http.Request) {
	var req SaveProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	profile, err := parseProfile(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid profile", err)
		return
	}

	if err := h.Store.SaveProfile(r.Context(), profile); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save profile", err)
		return
	}

	writeJSON(w, http.StatusCreated, toProfileDTO(profile))
}

func parseProfile(req SaveProfileRequest) (engine.FiscalProfile, error) {
	var p engine.FiscalProfile

	if req.UserID == "" {
		return p, fmt.Errorf("user_id is required")
	}

	registration, err := time.Parse("2006-01-02", req.RegistrationDate)
	if err != nil {
		return p, fmt.Errorf("invalid registration_date (use YYYY-MM-DD): %w", err)
	}
	birth, err := time.Parse("2006-01-02", req.BirthDate)
	if err != nil {
		return p, fmt.Errorf("invalid birth_date (use YYYY-MM-DD): %w", err)
	}

	coefficient, err := decimal.NewFromString(req.Coefficient)
	if err != nil {
		return p, fmt.Errorf("invalid coefficient: %w", err)
	}

	modularRate := decimal.Zero
	if req.ModularRate != "" {
		modularRate, err = decimal.NewFromString(req.ModularRate)
		if err != nil {
			return p, fmt.Errorf("invalid modular_rate: %w", err)
		}
	}

	p = engine.FiscalProfile{
		UserID:           engine.UserID(req.UserID),
		Fund:             engine.Fund(req.Fund),
		RegistrationDate: registration,
		BirthDate:        birth,
		Coefficient:      coefficient,
		ModularRate:      modularRate,
	}
	if len(req.Benefits) > 0 {
		p.Benefits = make(map[int]engine.BenefitFlags, len(req.Benefits))
		for year, b := range req.Benefits {
			p.Benefits[year] = engine.BenefitFlags{
				ReducedRate:        b.ReducedRate,
				FullTimeEmployment: b.FullTimeEmployment,
			}
		}
	}
	return p, nil
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// SetMaternityTax seeds the maternity table for (year, fund).
// POST /api/admin/maternity
func (h *Handler) SetMaternityTax(w http.ResponseWriter, r *http.Request) {
	var req SetMaternityTaxRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}

	if err := h.Store.SetMaternityTax(r.Context(), req.Year, engine.Fund(req.Fund), amount); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to set maternity tax", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"year":   req.Year,
		"fund":   req.Fund,
		"amount": amount.StringFixed(2),
	})
}

// ListFunds returns the funds with a registered calculation strategy.
// GET /api/funds
func (h *Handler) ListFunds(w http.ResponseWriter, r *http.Request) {
	funds := engine.SupportedFunds()
	out := make([]string, len(funds))
	for i, f := range funds {
		out[i] = string(f)
	}
	writeJSON(w, http.StatusOK, map[string]any{"funds": out})
}

// =============================================================================
// HELPERS
// =============================================================================

func parseLineItems(items []LineItemDTO) ([]engine.LineItem, error) {
	parsed := make([]engine.LineItem, len(items))
	for i, li := range items {
		quantity, err := decimal.NewFromString(li.Quantity)
		if err != nil {
			return nil, fmt.Errorf("item %d: invalid quantity: %w", i, err)
		}
		unitPrice, err := decimal.NewFromString(li.UnitPrice)
		if err != nil {
			return nil, fmt.Errorf("item %d: invalid unit_price: %w", i, err)
		}
		parsed[i] = engine.LineItem{
			Description: li.Description,
			Quantity:    quantity,
			UnitPrice:   unitPrice,
		}
	}
	return parsed, nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
