/*
calculator.go - Pure invoice value calculation

PURPOSE:
  Turns line items plus billing preferences into the monetary values of a
  single invoice: net base, rivalsa surcharge, stamp duty, taxable revenue
  and gross total. Runs at invoice creation/edit time, before persistence.
  No dependency on other invoices, no I/O, no side effects.

THE RIVALSA TOGGLE:
  The professional chooses whether the contribution surcharge is billed
  on top of the line items or absorbed into them:

    Absorbed (default):  lines already include the surcharge
                         net = S / (1 + rate);  rivalsa = net × rate
    Billed to client:    net = S;               rivalsa = net × rate

  Either way net + rivalsa is the amount subject to taxation.

STAMP DUTY (marca da bollo):
  A flat 2.00 stamp applies once net + rivalsa reaches 77.47. It counts
  as taxable revenue only when re-billed to the client.

NO VAT:
  The flat-rate regime is VAT-exempt: gross total equals taxable revenue.
*/
package engine

import "github.com/shopspring/decimal"

// =============================================================================
// STAMP DUTY CONSTANTS
// =============================================================================

var (
	// StampDutyAmount is the flat marca da bollo charge.
	StampDutyAmount = MustParseDecimal("2.00")

	// StampDutyThreshold triggers the stamp once net + rivalsa reaches it.
	// The comparison must be exact, hence decimal end-to-end.
	StampDutyThreshold = MustParseDecimal("77.47")
)

// =============================================================================
// CALCULATOR
// =============================================================================

// ComputeInvoiceValues computes the monetary values of one invoice.
// Pure: calling it twice with identical inputs yields identical output.
func ComputeInvoiceValues(items []LineItem, prefs BillingPreferences, variant FundVariant) (InvoiceValues, error) {
	if len(items) == 0 {
		return InvoiceValues{}, ErrNoLineItems
	}

	sum := decimal.Zero
	for _, li := range items {
		sum = sum.Add(li.Total())
	}

	rate := variant.RivalsaRate(prefs)

	var netBase, rivalsa decimal.Decimal
	if prefs.RivalsaOnClient {
		// Surcharge billed on top: lines are the net base.
		netBase = sum
		rivalsa = netBase.Mul(rate)
	} else {
		// Surcharge absorbed: scorporo the net base out of the lines.
		netBase = sum.Div(decimal.NewFromInt(1).Add(rate))
		rivalsa = netBase.Mul(rate)
	}

	stampDuty := decimal.Zero
	if netBase.Add(rivalsa).GreaterThanOrEqual(StampDutyThreshold) {
		stampDuty = StampDutyAmount
	}

	taxable := netBase.Add(rivalsa)
	if prefs.StampDutyOnClient {
		taxable = taxable.Add(stampDuty)
	}

	return InvoiceValues{
		GrossTotal:     taxable,
		NetBase:        netBase,
		Rivalsa:        rivalsa,
		StampDuty:      stampDuty,
		Revenue:        taxable,
		TaxableRevenue: taxable,
	}, nil
}
