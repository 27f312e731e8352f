package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/fiscal-engine/api"
	"github.com/warp/fiscal-engine/engine"
	"github.com/warp/fiscal-engine/store/sqlite"

	// Registers the fund calculation strategies.
	_ "github.com/warp/fiscal-engine/funds"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestServer(t *testing.T) (*api.Handler, http.Handler) {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	handler := api.NewHandler(store)
	return handler, api.NewRouter(handler)
}

func doRequest(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out),
		"body: %s", rec.Body.String())
	return out
}

func saveTestProfile(t *testing.T, h *api.Handler, userID engine.UserID, fund engine.Fund, registrationYear int) {
	t.Helper()
	require.NoError(t, h.Store.SaveProfile(context.Background(), engine.FiscalProfile{
		UserID:           userID,
		Fund:             fund,
		RegistrationDate: time.Date(registrationYear, 1, 10, 0, 0, 0, 0, time.UTC),
		BirthDate:        time.Date(1990, 5, 20, 0, 0, 0, 0, time.UTC),
		Coefficient:      engine.MustParseDecimal("0.78"),
	}))
}

// =============================================================================
// INVOICE PREVIEW
// =============================================================================

func TestPreviewInvoice_ComputesValues(t *testing.T) {
	// GIVEN: A 100.00 general-regime invoice with rivalsa billed on top
	// WHEN: Requesting a preview
	// THEN: Values come back as fixed-decimal strings, nothing persisted

	_, router := newTestServer(t)

	rec := doRequest(t, router, http.MethodPost, "/api/invoices/preview", api.PreviewRequest{
		Fund:            string(engine.FundGestioneSeparata),
		ApplyRivalsa:    true,
		RivalsaOnClient: true,
		Items: []api.LineItemDTO{
			{Description: "consulting", Quantity: "1", UnitPrice: "100.00"},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	values := decode[api.InvoiceValuesDTO](t, rec)
	assert.Equal(t, "100.00", values.NetBase)
	assert.Equal(t, "4.00", values.Rivalsa)
	assert.Equal(t, "2.00", values.StampDuty, "104.00 is over the stamp threshold")
	assert.Equal(t, "104.00", values.TaxableRevenue, "absorbed stamp is not revenue")
	assert.Equal(t, "104.00", values.GrossTotal)
}

func TestPreviewInvoice_UnsupportedFund(t *testing.T) {
	_, router := newTestServer(t)

	rec := doRequest(t, router, http.MethodPost, "/api/invoices/preview", api.PreviewRequest{
		Fund:  "enasarco",
		Items: []api.LineItemDTO{{Description: "x", Quantity: "1", UnitPrice: "100.00"}},
	})

	require.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decode[api.ErrorResponse](t, rec)
	assert.Equal(t, "Unsupported fund", resp.Error)
}

func TestPreviewInvoice_NoLineItems(t *testing.T) {
	_, router := newTestServer(t)

	rec := doRequest(t, router, http.MethodPost, "/api/invoices/preview", api.PreviewRequest{
		Fund: string(engine.FundEnpap),
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// RECALCULATION FLOW
// =============================================================================

func TestRecalculateYear_MissingLedger_Conflict(t *testing.T) {
	// GIVEN: A profile without the year's ledger
	// WHEN: Triggering a recalculation
	// THEN: 409 with the precondition in the details

	h, router := newTestServer(t)
	saveTestProfile(t, h, "u1", engine.FundGestioneSeparata, 2024)

	rec := doRequest(t, router, http.MethodPost, "/api/users/u1/years/2024/recalculate", nil)

	require.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())
	resp := decode[api.ErrorResponse](t, rec)
	assert.Contains(t, resp.Details, "ledger missing")
}

func TestRecalculateYear_MissingProfile_Conflict(t *testing.T) {
	_, router := newTestServer(t)

	rec := doRequest(t, router, http.MethodPost, "/api/users/ghost/years/2024/recalculate", nil)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRolloverThenRecalculate(t *testing.T) {
	// GIVEN: A fresh profile registered in 2024
	// WHEN: Rolling 2023 over (creating the 2024 ledger) and recalculating
	// THEN: Rollover answers 201, the recalculation completes with an
	//       empty year and the run is logged

	h, router := newTestServer(t)
	saveTestProfile(t, h, "u1", engine.FundGestioneSeparata, 2024)

	rec := doRequest(t, router, http.MethodPost, "/api/users/u1/years/2023/rollover", nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[api.LedgerDTO](t, rec)
	assert.Equal(t, 2024, created.Year)
	assert.Equal(t, string(engine.FundGestioneSeparata), created.Fund)

	rec = doRequest(t, router, http.MethodPost, "/api/users/u1/years/2024/recalculate", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	result := decode[api.RecalculationResultDTO](t, rec)
	assert.Equal(t, "completed", result.Status)
	assert.Equal(t, 0, result.InvoiceCount)
	require.NotNil(t, result.Ledger)
	assert.Equal(t, "0.00", result.Ledger.TaxDueNow)

	rec = doRequest(t, router, http.MethodGet, "/api/users/u1/runs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	runs := decode[map[string][]api.RunDTO](t, rec)
	require.Len(t, runs["runs"], 1)
	assert.Equal(t, "completed", runs["runs"][0].Status)
}

func TestGetLedger_NotFound(t *testing.T) {
	_, router := newTestServer(t)

	rec := doRequest(t, router, http.MethodGet, "/api/users/u1/years/2024/ledger", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetInvoice_NotFound(t *testing.T) {
	_, router := newTestServer(t)

	rec := doRequest(t, router, http.MethodGet, "/api/invoices/ghost", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListDirtyLedgers_EmptyIsArray(t *testing.T) {
	_, router := newTestServer(t)

	rec := doRequest(t, router, http.MethodGet, "/api/ledgers/dirty", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]", string(bytes.TrimSpace(rec.Body.Bytes())))
}

// =============================================================================
// PROFILES AND ADMIN
// =============================================================================

func TestSaveProfile_RoundtripThroughAPI(t *testing.T) {
	_, router := newTestServer(t)

	rec := doRequest(t, router, http.MethodPost, "/api/profiles", api.SaveProfileRequest{
		UserID:           "u1",
		Fund:             string(engine.FundInarcassa),
		RegistrationDate: "2020-06-15",
		BirthDate:        "1985-02-11",
		Coefficient:      "0.78",
		ModularRate:      "0.02",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = doRequest(t, router, http.MethodGet, "/api/profiles/u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	profile := decode[api.ProfileDTO](t, rec)
	assert.Equal(t, string(engine.FundInarcassa), profile.Fund)
	assert.Equal(t, "2020-06-15", profile.RegistrationDate)
	assert.Equal(t, "0.02", profile.ModularRate)
}

func TestSaveProfile_InvalidDate(t *testing.T) {
	_, router := newTestServer(t)

	rec := doRequest(t, router, http.MethodPost, "/api/profiles", api.SaveProfileRequest{
		UserID:           "u1",
		Fund:             string(engine.FundEnpap),
		RegistrationDate: "15/06/2020",
		BirthDate:        "1985-02-11",
		Coefficient:      "0.78",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSetMaternityTax_Endpoint(t *testing.T) {
	h, router := newTestServer(t)

	rec := doRequest(t, router, http.MethodPost, "/api/admin/maternity", api.SetMaternityTaxRequest{
		Year: 2024, Fund: string(engine.FundEnpap), Amount: "130.00",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	amount, err := h.Store.MaternityTax(context.Background(), 2024, engine.FundEnpap)
	require.NoError(t, err)
	assert.True(t, amount.Equal(engine.MustParseDecimal("130.00")))
}

func TestListFunds_AllRegistered(t *testing.T) {
	_, router := newTestServer(t)

	rec := doRequest(t, router, http.MethodGet, "/api/funds", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[map[string][]string](t, rec)
	assert.ElementsMatch(t, []string{
		string(engine.FundGestioneSeparata),
		string(engine.FundForense),
		string(engine.FundInarcassa),
		string(engine.FundEnpap),
	}, resp["funds"])
}

// =============================================================================
// SCENARIOS
// =============================================================================

func TestLoadScenario_FirstYear_EndToEnd(t *testing.T) {
	// GIVEN: The gestione-separata first-year demo scenario
	// WHEN: Loading it and reading the finalized year back
	// THEN: Three settled invoices, every installment due in full

	_, router := newTestServer(t)

	rec := doRequest(t, router, http.MethodPost, "/api/scenarios/load",
		map[string]string{"scenario_id": "gs-first-year"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doRequest(t, router, http.MethodGet, "/api/users/maria-rossi/invoices?year=2024", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	invoices := decode[[]api.InvoiceDTO](t, rec)
	require.Len(t, invoices, 3)

	rec = doRequest(t, router, http.MethodGet, "/api/users/maria-rossi/years/2024/ledger", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	ledger := decode[api.LedgerDTO](t, rec)

	// Taxable revenue 1200 + 850 + 2400; ril at 0.78; 5% first-year rate,
	// advance = balance, no prior credit to net against.
	assert.Equal(t, "4450.00", ledger.TaxableRevenue)
	assert.Equal(t, "3471.00", ledger.NotionalIncome)
	assert.Equal(t, "173.55", ledger.TaxSaldo)
	assert.Equal(t, "173.55", ledger.TaxAcconto)
	assert.Equal(t, "347.10", ledger.TaxDueNow)
	assert.Equal(t, "0.00", ledger.Residuo)
	assert.False(t, ledger.NeedsRecalculation)
}

func TestLoadScenario_CreditExhaustion(t *testing.T) {
	// GIVEN: The prior-year credit scenario (600.00 + 150.00 against four
	//        identical invoices of 195.00 installments each)
	// WHEN: Loading it
	// THEN: The first invoices owe nothing, the total charged is the
	//       excess over the credit

	_, router := newTestServer(t)

	rec := doRequest(t, router, http.MethodPost, "/api/scenarios/load",
		map[string]string{"scenario_id": "credit-exhaustion"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doRequest(t, router, http.MethodGet, "/api/users/paolo-verdi/invoices?year=2024", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	invoices := decode[[]api.InvoiceDTO](t, rec)
	require.Len(t, invoices, 4)

	assert.Equal(t, "0.00", invoices[0].Fund.TaxDueNow, "credit covers the first invoice")
	assert.NotEqual(t, "0.00", invoices[3].Fund.TaxDueNow, "credit exhausted by the last invoice")

	rec = doRequest(t, router, http.MethodGet, "/api/users/paolo-verdi/years/2024/ledger", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	ledger := decode[api.LedgerDTO](t, rec)
	assert.Equal(t, "30.00", ledger.TaxDueNow, "4 × 195.00 installments minus 750.00 credit")
	assert.Equal(t, "0.00", ledger.Residuo)
}

func TestLoadScenario_Unknown(t *testing.T) {
	_, router := newTestServer(t)

	rec := doRequest(t, router, http.MethodPost, "/api/scenarios/load",
		map[string]string{"scenario_id": "nope"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListScenarios(t *testing.T) {
	_, router := newTestServer(t)

	rec := doRequest(t, router, http.MethodGet, "/api/scenarios/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[[]api.ScenarioDTO](t, rec)
	assert.Len(t, list, 5)
}
