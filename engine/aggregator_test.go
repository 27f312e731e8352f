package engine_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/warp/fiscal-engine/engine"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func computedInvoice(id string, taxable string, ff engine.FundFields) engine.Invoice {
	return engine.Invoice{
		ID:     engine.InvoiceID(id),
		UserID: "user-1",
		Values: engine.InvoiceValues{
			Revenue:        dec(taxable),
			TaxableRevenue: dec(taxable),
		},
		Fund: ff,
	}
}

func finalizeWith(agg *engine.LedgerAggregator, v stubVariant, years int, prev *engine.FiscalYearLedger, maternity decimal.Decimal) engine.FiscalYearLedger {
	return agg.Finalize(engine.FinalizeInput{
		Variant: v,
		Context: engine.YearContext{
			Year:                   2024,
			YearsSinceRegistration: years,
		},
		PreviousLedger: prev,
		MaternityTax:   maternity,
		Now:            time.Date(2025, time.January, 15, 10, 0, 0, 0, time.UTC),
	})
}

// =============================================================================
// ACCUMULATION
// =============================================================================

func TestLedgerAggregator_SumsInvoiceFields(t *testing.T) {
	// GIVEN: Two computed invoices
	// WHEN: Folding them into the aggregator and finalizing
	// THEN: Every ledger field is the sum over the set

	agg := engine.NewLedgerAggregator("user-1", 2024, engine.FundEnpap)

	agg.CalculateForInvoice(computedInvoice("inv-1", "1000.00", engine.FundFields{
		NotionalIncome: dec("780.00"),
		Subjective:     dec("78.00"),
		Solidarity:     dec("3.90"),
		TaxSaldo:       dec("39.00"),
		TaxAcconto:     dec("39.00"),
		TaxTotal:       dec("78.00"),
		TaxDueNow:      dec("78.00"),
	}))
	agg.CalculateForInvoice(computedInvoice("inv-2", "500.00", engine.FundFields{
		NotionalIncome: dec("390.00"),
		Subjective:     dec("39.00"),
		Solidarity:     dec("1.95"),
		TaxSaldo:       dec("19.50"),
		TaxAcconto:     dec("19.50"),
		TaxTotal:       dec("39.00"),
		TaxDueNow:      dec("39.00"),
	}))

	assert.Equal(t, 2, agg.Count())

	ledger := finalizeWith(agg, stubVariant{}, 1, nil, decimal.Zero)

	assert.True(t, ledger.Revenue.Equal(dec("1500.00")))
	assert.True(t, ledger.NotionalIncome.Equal(dec("1170.00")))
	assert.True(t, ledger.Subjective.Equal(dec("117.00")))
	assert.True(t, ledger.Solidarity.Equal(dec("5.85")))
	assert.True(t, ledger.TaxSaldo.Equal(dec("58.50")))
	assert.True(t, ledger.TaxAcconto.Equal(dec("58.50")))
	assert.True(t, ledger.TaxDueNow.Equal(dec("117.00")))
}

func TestLedgerAggregator_OrderBlindTotals(t *testing.T) {
	// GIVEN: The same set of computed invoices in two different orders
	// WHEN: Folding and finalizing both
	// THEN: The finalized totals are identical

	invoices := []engine.Invoice{
		computedInvoice("a", "300.00", engine.FundFields{NotionalIncome: dec("234.00"), Subjective: dec("23.40"), TaxDueNow: dec("23.40")}),
		computedInvoice("b", "700.00", engine.FundFields{NotionalIncome: dec("546.00"), Subjective: dec("54.60"), TaxDueNow: dec("0.00")}),
		computedInvoice("c", "150.00", engine.FundFields{NotionalIncome: dec("117.00"), Subjective: dec("11.70"), TaxDueNow: dec("5.00")}),
	}

	forward := engine.NewLedgerAggregator("user-1", 2024, engine.FundEnpap)
	for _, inv := range invoices {
		forward.CalculateForInvoice(inv)
	}

	backward := engine.NewLedgerAggregator("user-1", 2024, engine.FundEnpap)
	for i := len(invoices) - 1; i >= 0; i-- {
		backward.CalculateForInvoice(invoices[i])
	}

	l1 := finalizeWith(forward, stubVariant{}, 1, nil, decimal.Zero)
	l2 := finalizeWith(backward, stubVariant{}, 1, nil, decimal.Zero)

	assert.True(t, l1.Subjective.Equal(l2.Subjective))
	assert.True(t, l1.NotionalIncome.Equal(l2.NotionalIncome))
	assert.True(t, l1.TaxDueNow.Equal(l2.TaxDueNow))
	assert.True(t, l1.TotalTax.Equal(l2.TotalTax))
}

// =============================================================================
// FLOORS AND MATERNITY
// =============================================================================

func TestLedgerAggregator_MinimumFloors(t *testing.T) {
	// GIVEN: Accumulated contributions below the fund's floors
	// WHEN: Finalizing
	// THEN: Floors replace the accumulated values

	agg := engine.NewLedgerAggregator("user-1", 2024, engine.FundForense)
	agg.CalculateForInvoice(computedInvoice("inv-1", "1000.00", engine.FundFields{
		Subjective: dec("150.00"),
		Solidarity: dec("40.00"),
	}))

	variant := stubVariant{minimums: engine.Minimums{
		Subjective: dec("2750.00"),
		Solidarity: dec("350.00"),
	}}

	ledger := finalizeWith(agg, variant, 1, nil, decimal.Zero)

	assert.True(t, ledger.Subjective.Equal(dec("2750.00")))
	assert.True(t, ledger.Solidarity.Equal(dec("350.00")))
}

func TestLedgerAggregator_AccumulatedAboveFloorKept(t *testing.T) {
	// GIVEN: Accumulated contributions above the floors
	// WHEN: Finalizing
	// THEN: The accumulated values survive untouched

	agg := engine.NewLedgerAggregator("user-1", 2024, engine.FundForense)
	agg.CalculateForInvoice(computedInvoice("inv-1", "40000.00", engine.FundFields{
		Subjective: dec("4680.00"),
		Solidarity: dec("1600.00"),
	}))

	variant := stubVariant{minimums: engine.Minimums{
		Subjective: dec("2750.00"),
		Solidarity: dec("350.00"),
	}}

	ledger := finalizeWith(agg, variant, 1, nil, decimal.Zero)

	assert.True(t, ledger.Subjective.Equal(dec("4680.00")))
	assert.True(t, ledger.Solidarity.Equal(dec("1600.00")))
}

func TestLedgerAggregator_MaternityWaived(t *testing.T) {
	// GIVEN: A maternity-table amount and a benefit tier that waives it
	// WHEN: Finalizing
	// THEN: Maternity is zero and excluded from the totals

	agg := engine.NewLedgerAggregator("user-1", 2024, engine.FundEnpap)
	agg.CalculateForInvoice(computedInvoice("inv-1", "1000.00", engine.FundFields{
		Subjective: dec("100.00"),
	}))

	waiving := stubVariant{waived: true}
	charging := stubVariant{waived: false}

	withWaiver := finalizeWith(agg, waiving, 1, nil, dec("130.00"))

	agg2 := engine.NewLedgerAggregator("user-1", 2024, engine.FundEnpap)
	agg2.CalculateForInvoice(computedInvoice("inv-1", "1000.00", engine.FundFields{
		Subjective: dec("100.00"),
	}))
	withCharge := finalizeWith(agg2, charging, 1, nil, dec("130.00"))

	assert.True(t, withWaiver.Maternity.IsZero())
	assert.True(t, withCharge.Maternity.Equal(dec("130.00")))
	assert.True(t, withCharge.TotalTax.Sub(withWaiver.TotalTax).Equal(dec("130.00")))
	assert.True(t, withCharge.ContributionsPaid.Sub(withWaiver.ContributionsPaid).Equal(dec("130.00")))
}

// =============================================================================
// RESIDUO AND NET INCOME
// =============================================================================

func TestLedgerAggregator_ResiduoCarriedForward(t *testing.T) {
	// GIVEN: Prior-year credit larger than this year's installment totals
	// WHEN: Finalizing with seniority > 1
	// THEN: The unconsumed credit is the year-end residuo

	agg := engine.NewLedgerAggregator("user-1", 2024, engine.FundGestioneSeparata)
	agg.CalculateForInvoice(computedInvoice("inv-1", "1000.00", engine.FundFields{
		TaxSaldo:   dec("39.00"),
		TaxAcconto: dec("39.00"),
		TaxDueNow:  decimal.Zero,
	}))

	previous := &engine.FiscalYearLedger{
		TaxAcconto: dec("100.00"),
		Residuo:    dec("20.00"),
	}

	ledger := finalizeWith(agg, stubVariant{}, 3, previous, decimal.Zero)

	// credit 120.00 minus saldo 39.00 minus acconto 39.00
	assert.True(t, ledger.Residuo.Equal(dec("42.00")), "got %s", ledger.Residuo)
}

func TestLedgerAggregator_ResiduoZeroInRegistrationYear(t *testing.T) {
	// GIVEN: The registration year (no previous ledger)
	// WHEN: Finalizing
	// THEN: Residuo is zero

	agg := engine.NewLedgerAggregator("user-1", 2024, engine.FundGestioneSeparata)
	agg.CalculateForInvoice(computedInvoice("inv-1", "1000.00", engine.FundFields{
		TaxSaldo:   dec("39.00"),
		TaxAcconto: dec("39.00"),
	}))

	ledger := finalizeWith(agg, stubVariant{}, 1, nil, decimal.Zero)
	assert.True(t, ledger.Residuo.IsZero())
}

func TestLedgerAggregator_NetIncomeClampedAtZero(t *testing.T) {
	// GIVEN: Floors that push total tax above the year's revenue
	// WHEN: Finalizing
	// THEN: Net income clamps at zero, never negative

	agg := engine.NewLedgerAggregator("user-1", 2024, engine.FundForense)
	agg.CalculateForInvoice(computedInvoice("inv-1", "500.00", engine.FundFields{
		Subjective: dec("75.00"),
	}))

	variant := stubVariant{minimums: engine.Minimums{
		Subjective: dec("2750.00"),
		Solidarity: dec("350.00"),
	}}

	ledger := finalizeWith(agg, variant, 1, nil, dec("97.50"))

	assert.True(t, ledger.NetIncome.IsZero())
	assert.True(t, ledger.TotalTax.GreaterThan(ledger.Revenue))
}

func TestLedgerAggregator_FinalizeClearsDirtyFlag(t *testing.T) {
	// GIVEN: Any finalization
	// THEN: The produced ledger is clean and timestamped

	agg := engine.NewLedgerAggregator("user-1", 2024, engine.FundEnpap)
	ledger := finalizeWith(agg, stubVariant{}, 1, nil, decimal.Zero)

	assert.False(t, ledger.NeedsRecalculation)
	assert.False(t, ledger.FinalizedAt.IsZero())
}
