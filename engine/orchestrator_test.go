package engine_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/fiscal-engine/engine"
	"github.com/warp/fiscal-engine/engine/store"

	// Registers the real fund strategies.
	_ "github.com/warp/fiscal-engine/funds"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func fixedClock() time.Time {
	return time.Date(2025, time.June, 1, 12, 0, 0, 0, time.UTC)
}

func newTestOrchestrator(t *testing.T) (*engine.Orchestrator, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	orch := engine.NewOrchestrator(mem, mem, mem).
		WithRunLog(mem).
		WithClock(fixedClock)
	return orch, mem
}

func seedProfile(mem *store.Memory, userID engine.UserID, fund engine.Fund, registrationYear int) {
	mem.PutProfile(engine.FiscalProfile{
		UserID:           userID,
		Fund:             fund,
		RegistrationDate: time.Date(registrationYear, time.February, 1, 0, 0, 0, 0, time.UTC),
		BirthDate:        time.Date(1990, time.March, 15, 0, 0, 0, 0, time.UTC),
		Coefficient:      dec("0.78"),
	})
}

func seedLedger(t *testing.T, mem *store.Memory, userID engine.UserID, year int, fund engine.Fund) {
	t.Helper()
	err := mem.SaveLedger(context.Background(), engine.FiscalYearLedger{
		UserID: userID, Year: year, Fund: fund,
	})
	require.NoError(t, err)
}

func seedSettled(mem *store.Memory, userID engine.UserID, id string, taxable string, settledAt time.Time) {
	mem.PutInvoice(engine.Invoice{
		ID:        engine.InvoiceID(id),
		UserID:    userID,
		Number:    id,
		IssuedAt:  settledAt.AddDate(0, 0, -10),
		SettledAt: settledAt,
		Settled:   true,
		Items: []engine.LineItem{{
			Description: "services",
			Quantity:    decimal.NewFromInt(1),
			UnitPrice:   dec(taxable),
		}},
		Values: engine.InvoiceValues{
			GrossTotal:     dec(taxable),
			NetBase:        dec(taxable),
			Revenue:        dec(taxable),
			TaxableRevenue: dec(taxable),
		},
	})
}

func settled(day int) time.Time {
	return time.Date(2024, time.March, day, 0, 0, 0, 0, time.UTC)
}

// =============================================================================
// PRECONDITIONS
// =============================================================================

func TestRecalculateYear_MissingProfile_Fatal(t *testing.T) {
	// GIVEN: No fiscal profile for the user
	// WHEN: Recalculating
	// THEN: Fatal precondition error, nothing computed

	orch, _ := newTestOrchestrator(t)

	_, err := orch.RecalculateYear(context.Background(), "ghost", 2024)

	require.Error(t, err)
	assert.True(t, engine.IsPrecondition(err))
	assert.ErrorIs(t, err, engine.ErrProfileMissing)
}

func TestRecalculateYear_MissingLedger_Fatal(t *testing.T) {
	// GIVEN: A profile but no ledger for the year
	// WHEN: Recalculating
	// THEN: Fatal precondition error

	orch, mem := newTestOrchestrator(t)
	seedProfile(mem, "user-1", engine.FundGestioneSeparata, 2024)

	_, err := orch.RecalculateYear(context.Background(), "user-1", 2024)

	require.Error(t, err)
	assert.ErrorIs(t, err, engine.ErrLedgerMissing)
}

func TestRecalculateYear_MissingPreviousLedger_Fatal(t *testing.T) {
	// GIVEN: Seniority above one year but no previous-year ledger
	// WHEN: Recalculating
	// THEN: Fatal precondition error, no partial writes

	orch, mem := newTestOrchestrator(t)
	seedProfile(mem, "user-1", engine.FundGestioneSeparata, 2022)
	seedLedger(t, mem, "user-1", 2024, engine.FundGestioneSeparata)
	seedSettled(mem, "user-1", "inv-1", "1000.00", settled(10))

	_, err := orch.RecalculateYear(context.Background(), "user-1", 2024)

	require.Error(t, err)
	assert.ErrorIs(t, err, engine.ErrPreviousLedgerMissing)

	var pre *engine.PreconditionError
	require.ErrorAs(t, err, &pre)
	assert.Equal(t, engine.UserID("user-1"), pre.UserID)
	assert.Equal(t, 2024, pre.Year)

	inv, ok := mem.Invoice("inv-1")
	require.True(t, ok)
	assert.True(t, inv.Fund.TaxDueNow.IsZero(), "nothing may be persisted on a failed precondition")
}

func TestRecalculateYear_UnsupportedFund_NoOp(t *testing.T) {
	// GIVEN: A profile affiliated with a fund that has no strategy
	// WHEN: Recalculating
	// THEN: Explicit unsupported-fund result with nil error, no writes

	orch, mem := newTestOrchestrator(t)
	seedProfile(mem, "user-1", engine.Fund("enasarco"), 2024)
	seedLedger(t, mem, "user-1", 2024, engine.Fund("enasarco"))
	seedSettled(mem, "user-1", "inv-1", "1000.00", settled(10))

	result, err := orch.RecalculateYear(context.Background(), "user-1", 2024)

	require.NoError(t, err)
	assert.Equal(t, engine.RunUnsupportedFund, result.Status)
	assert.Equal(t, engine.Fund("enasarco"), result.Fund)
	assert.Nil(t, result.Ledger)

	inv, _ := mem.Invoice("inv-1")
	assert.True(t, inv.Fund.NotionalIncome.IsZero())
}

// =============================================================================
// FULL RECOMPUTE
// =============================================================================

func TestRecalculateYear_FirstYear_FullCharge(t *testing.T) {
	// GIVEN: Registration-year user with two settled invoices
	// WHEN: Recalculating
	// THEN: No netting: every installment is due in full, invoices carry
	//       their fund fields, the ledger holds the sums

	orch, mem := newTestOrchestrator(t)
	seedProfile(mem, "user-1", engine.FundGestioneSeparata, 2024)
	seedLedger(t, mem, "user-1", 2024, engine.FundGestioneSeparata)
	seedSettled(mem, "user-1", "inv-1", "1000.00", settled(10))
	seedSettled(mem, "user-1", "inv-2", "500.00", settled(20))

	result, err := orch.RecalculateYear(context.Background(), "user-1", 2024)
	require.NoError(t, err)

	assert.Equal(t, engine.RunCompleted, result.Status)
	assert.Equal(t, 2, result.InvoiceCount)

	// inv-1: ril 780.00, rate 5% → saldo 39.00, acconto 39.00, due 78.00
	inv1, ok := mem.Invoice("inv-1")
	require.True(t, ok)
	assert.True(t, inv1.Fund.NotionalIncome.Equal(dec("780.00")))
	assert.True(t, inv1.Fund.TaxSaldo.Equal(dec("39.00")))
	assert.True(t, inv1.Fund.TaxAcconto.Equal(dec("39.00")))
	assert.True(t, inv1.Fund.TaxDueNow.Equal(dec("78.00")))
	assert.True(t, inv1.Fund.TaxResiduo.IsZero())
	assert.True(t, inv1.Fund.Subjective.Equal(dec("203.35")), "got %s", inv1.Fund.Subjective)

	inv2, _ := mem.Invoice("inv-2")
	assert.True(t, inv2.Fund.TaxDueNow.Equal(dec("39.00")))

	ledger := result.Ledger
	require.NotNil(t, ledger)
	assert.True(t, ledger.NotionalIncome.Equal(dec("1170.00")))
	assert.True(t, ledger.TaxDueNow.Equal(dec("117.00")))
	assert.True(t, ledger.Subjective.Equal(dec("305.02")), "got %s", ledger.Subjective)
	assert.False(t, ledger.NeedsRecalculation)
}

func TestRecalculateYear_NetsAgainstPreviousCredit(t *testing.T) {
	// GIVEN: Seniority 3 with prior credit 120.00 (acconto 100 + residuo 20)
	//        and two invoices whose installments total 78.00 each
	// WHEN: Recalculating
	// THEN: The first invoice is fully covered, the second pays only the
	//       excess over the remaining credit

	orch, mem := newTestOrchestrator(t)
	seedProfile(mem, "user-1", engine.FundGestioneSeparata, 2022)
	require.NoError(t, mem.SaveLedger(context.Background(), engine.FiscalYearLedger{
		UserID: "user-1", Year: 2023, Fund: engine.FundGestioneSeparata,
		TaxAcconto: dec("100.00"),
		Residuo:    dec("20.00"),
	}))
	seedLedger(t, mem, "user-1", 2024, engine.FundGestioneSeparata)
	seedSettled(mem, "user-1", "inv-1", "1000.00", settled(5))
	seedSettled(mem, "user-1", "inv-2", "1000.00", settled(25))

	result, err := orch.RecalculateYear(context.Background(), "user-1", 2024)
	require.NoError(t, err)

	inv1, _ := mem.Invoice("inv-1")
	assert.True(t, inv1.Fund.TaxDueNow.IsZero(), "credit covers the first installment")
	assert.True(t, inv1.Fund.TaxResiduo.Equal(dec("42.00")), "got %s", inv1.Fund.TaxResiduo)

	inv2, _ := mem.Invoice("inv-2")
	assert.True(t, inv2.Fund.TaxDueNow.Equal(dec("36.00")), "got %s", inv2.Fund.TaxDueNow)
	assert.True(t, inv2.Fund.TaxResiduo.IsZero())

	// Year totals: credit fully consumed, 36.00 charged.
	assert.True(t, result.Ledger.TaxDueNow.Equal(dec("36.00")))
	assert.True(t, result.Ledger.Residuo.IsZero())
}

func TestRecalculateYear_Idempotent(t *testing.T) {
	// GIVEN: A completed recalculation
	// WHEN: Running it again with unchanged inputs
	// THEN: Every persisted value is identical

	orch, mem := newTestOrchestrator(t)
	seedProfile(mem, "user-1", engine.FundGestioneSeparata, 2022)
	require.NoError(t, mem.SaveLedger(context.Background(), engine.FiscalYearLedger{
		UserID: "user-1", Year: 2023, Fund: engine.FundGestioneSeparata,
		TaxAcconto: dec("55.00"),
	}))
	seedLedger(t, mem, "user-1", 2024, engine.FundGestioneSeparata)
	seedSettled(mem, "user-1", "inv-1", "1234.56", settled(3))
	seedSettled(mem, "user-1", "inv-2", "789.01", settled(17))

	first, err := orch.RecalculateYear(context.Background(), "user-1", 2024)
	require.NoError(t, err)
	firstInv1, _ := mem.Invoice("inv-1")

	second, err := orch.RecalculateYear(context.Background(), "user-1", 2024)
	require.NoError(t, err)
	secondInv1, _ := mem.Invoice("inv-1")

	assert.Equal(t, firstInv1.Fund, secondInv1.Fund)
	assert.True(t, first.Ledger.TotalTax.Equal(second.Ledger.TotalTax))
	assert.True(t, first.Ledger.TaxDueNow.Equal(second.Ledger.TaxDueNow))
	assert.True(t, first.Ledger.Residuo.Equal(second.Ledger.Residuo))
	assert.True(t, first.Ledger.Subjective.Equal(second.Ledger.Subjective))
}

// =============================================================================
// DIRTY FLAG PROPAGATION
// =============================================================================

func TestRecalculateYear_PastYear_FlagsNextYear(t *testing.T) {
	// GIVEN: Recomputing 2024 while the clock says 2025, with a 2025 ledger
	// WHEN: The run completes
	// THEN: The 2025 ledger is flagged as needing recalculation but its
	//       values are untouched

	orch, mem := newTestOrchestrator(t)
	seedProfile(mem, "user-1", engine.FundGestioneSeparata, 2024)
	seedLedger(t, mem, "user-1", 2024, engine.FundGestioneSeparata)
	require.NoError(t, mem.SaveLedger(context.Background(), engine.FiscalYearLedger{
		UserID: "user-1", Year: 2025, Fund: engine.FundGestioneSeparata,
		TaxDueNow: dec("42.00"),
	}))
	seedSettled(mem, "user-1", "inv-1", "1000.00", settled(10))

	_, err := orch.RecalculateYear(context.Background(), "user-1", 2024)
	require.NoError(t, err)

	next, err := mem.Ledger(context.Background(), "user-1", 2025)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.True(t, next.NeedsRecalculation)
	assert.True(t, next.TaxDueNow.Equal(dec("42.00")), "flag only, never a recompute")
}

func TestRecalculateYear_PastYear_NoNextLedger_SilentNoOp(t *testing.T) {
	// GIVEN: Recomputing a past year when year+1 has no ledger row
	// WHEN: The run completes
	// THEN: No error; the flag write is a silent no-op

	orch, mem := newTestOrchestrator(t)
	seedProfile(mem, "user-1", engine.FundGestioneSeparata, 2024)
	seedLedger(t, mem, "user-1", 2024, engine.FundGestioneSeparata)
	seedSettled(mem, "user-1", "inv-1", "1000.00", settled(10))

	_, err := orch.RecalculateYear(context.Background(), "user-1", 2024)
	require.NoError(t, err)

	next, err := mem.Ledger(context.Background(), "user-1", 2025)
	require.NoError(t, err)
	assert.Nil(t, next)
}

// =============================================================================
// ATOMICITY
// =============================================================================

// ledgerWriteFailStore forces the ledger write inside the transaction to
// fail so the rollback path can be observed.
type ledgerWriteFailStore struct {
	*store.Memory
}

func (s ledgerWriteFailStore) WithTx(ctx context.Context, fn func(engine.Stores) error) error {
	return s.Memory.WithTx(ctx, func(inner engine.Stores) error {
		return fn(failingStores{inner})
	})
}

type failingStores struct {
	engine.Stores
}

func (failingStores) SaveLedger(context.Context, engine.FiscalYearLedger) error {
	return errors.New("ledger write failed")
}

func TestRecalculateYear_PersistFailure_RollsBackInvoiceUpdates(t *testing.T) {
	// GIVEN: A store whose ledger write fails mid-transaction
	// WHEN: Recalculating
	// THEN: The run errors and the already-staged invoice updates are
	//       rolled back: all-or-nothing

	mem := store.NewMemory()
	orch := engine.NewOrchestrator(ledgerWriteFailStore{mem}, mem, mem).WithClock(fixedClock)

	seedProfile(mem, "user-1", engine.FundGestioneSeparata, 2024)
	seedLedger(t, mem, "user-1", 2024, engine.FundGestioneSeparata)
	seedSettled(mem, "user-1", "inv-1", "1000.00", settled(10))

	_, err := orch.RecalculateYear(context.Background(), "user-1", 2024)
	require.Error(t, err)

	inv, ok := mem.Invoice("inv-1")
	require.True(t, ok)
	assert.True(t, inv.Fund.TaxDueNow.IsZero(), "staged invoice update must be rolled back")
	assert.True(t, inv.Fund.NotionalIncome.IsZero())
}

// =============================================================================
// ROLLOVER
// =============================================================================

func TestRolloverYear_CreatesEmptyNextLedger(t *testing.T) {
	// GIVEN: A finalized 2024
	// WHEN: Rolling over
	// THEN: 2025 gets an empty ledger carrying the fund affiliation

	orch, mem := newTestOrchestrator(t)
	seedProfile(mem, "user-1", engine.FundForense, 2024)

	created, err := orch.RolloverYear(context.Background(), "user-1", 2024)
	require.NoError(t, err)

	assert.Equal(t, 2025, created.Year)
	assert.Equal(t, engine.FundForense, created.Fund)
	assert.True(t, created.TaxDueNow.IsZero())

	stored, err := mem.Ledger(context.Background(), "user-1", 2025)
	require.NoError(t, err)
	require.NotNil(t, stored)
}

func TestRolloverYear_ExistingLedgerUntouched(t *testing.T) {
	// GIVEN: 2025 already has a ledger with values
	// WHEN: Rolling over 2024 again
	// THEN: The existing ledger is returned unchanged

	orch, mem := newTestOrchestrator(t)
	seedProfile(mem, "user-1", engine.FundForense, 2024)
	require.NoError(t, mem.SaveLedger(context.Background(), engine.FiscalYearLedger{
		UserID: "user-1", Year: 2025, Fund: engine.FundForense,
		TaxDueNow: dec("10.00"),
	}))

	ledger, err := orch.RolloverYear(context.Background(), "user-1", 2024)
	require.NoError(t, err)
	assert.True(t, ledger.TaxDueNow.Equal(dec("10.00")))
}

// =============================================================================
// RUN LOG
// =============================================================================

func TestRecalculateYear_RecordsRun(t *testing.T) {
	// GIVEN: A run log wired into the orchestrator
	// WHEN: A recalculation completes
	// THEN: The run is recorded with status, invoice count and totals

	orch, mem := newTestOrchestrator(t)
	seedProfile(mem, "user-1", engine.FundGestioneSeparata, 2024)
	seedLedger(t, mem, "user-1", 2024, engine.FundGestioneSeparata)
	seedSettled(mem, "user-1", "inv-1", "1000.00", settled(10))

	_, err := orch.RecalculateYear(context.Background(), "user-1", 2024)
	require.NoError(t, err)

	runs, err := mem.Runs(context.Background(), "user-1")
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, engine.RunCompleted, runs[0].Status)
	assert.Equal(t, 1, runs[0].InvoiceCount)
	assert.False(t, runs[0].TotalTax.IsZero())
}

func TestRecalculateYear_RecordsFailedRun(t *testing.T) {
	// GIVEN: A precondition failure
	// WHEN: The run aborts
	// THEN: A failed run is recorded with the error text

	orch, mem := newTestOrchestrator(t)
	seedProfile(mem, "user-1", engine.FundGestioneSeparata, 2024)

	_, err := orch.RecalculateYear(context.Background(), "user-1", 2024)
	require.Error(t, err)

	runs, err := mem.Runs(context.Background(), "user-1")
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, engine.RunFailed, runs[0].Status)
	assert.Contains(t, runs[0].Error, "ledger missing")
}

// =============================================================================
// ORDERING
// =============================================================================

func TestSortForProcessing_DateThenID(t *testing.T) {
	// GIVEN: Invoices out of order, two sharing a settlement date
	// WHEN: Sorting for processing
	// THEN: Settlement date ascending, ties broken by invoice id

	invoices := []engine.Invoice{
		{ID: "c", SettledAt: settled(20)},
		{ID: "b", SettledAt: settled(10)},
		{ID: "a", SettledAt: settled(10)},
	}

	engine.SortForProcessing(invoices)

	assert.Equal(t, engine.InvoiceID("a"), invoices[0].ID)
	assert.Equal(t, engine.InvoiceID("b"), invoices[1].ID)
	assert.Equal(t, engine.InvoiceID("c"), invoices[2].ID)
}

// =============================================================================
// CONCURRENCY
// =============================================================================

func TestRecalculateYear_ConcurrentRunsSerialized(t *testing.T) {
	// GIVEN: Many concurrent triggers for the same (user, year)
	// WHEN: They all run
	// THEN: Every run completes and the persisted state matches a single
	//       clean recomputation

	orch, mem := newTestOrchestrator(t)
	seedProfile(mem, "user-1", engine.FundGestioneSeparata, 2024)
	seedLedger(t, mem, "user-1", 2024, engine.FundGestioneSeparata)
	for i := 1; i <= 5; i++ {
		seedSettled(mem, "user-1", fmt.Sprintf("inv-%d", i), "1000.00", settled(i))
	}

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = orch.RecalculateYear(context.Background(), "user-1", 2024)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}

	reference, err := orch.RecalculateYear(context.Background(), "user-1", 2024)
	require.NoError(t, err)

	stored, err := mem.Ledger(context.Background(), "user-1", 2024)
	require.NoError(t, err)
	assert.True(t, stored.TaxDueNow.Equal(reference.Ledger.TaxDueNow))
	assert.True(t, stored.TotalTax.Equal(reference.Ledger.TotalTax))
}
