// Package store provides in-memory implementations of the engine store
// interfaces, for testing and development.
package store

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/warp/fiscal-engine/engine"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type ledgerKey struct {
	UserID engine.UserID
	Year   int
}

type maternityKey struct {
	Year int
	Fund engine.Fund
}

// Memory implements every engine store interface in memory.
type Memory struct {
	mu        sync.RWMutex
	invoices  map[engine.InvoiceID]engine.Invoice
	ledgers   map[ledgerKey]engine.FiscalYearLedger
	profiles  map[engine.UserID]engine.FiscalProfile
	maternity map[maternityKey]decimal.Decimal
	runs      []engine.RecalculationRun
}

var (
	_ engine.TxStore           = (*Memory)(nil)
	_ engine.ProfileStore      = (*Memory)(nil)
	_ engine.MaternityTaxTable = (*Memory)(nil)
	_ engine.RunLog            = (*Memory)(nil)
)

func NewMemory() *Memory {
	return &Memory{
		invoices:  make(map[engine.InvoiceID]engine.Invoice),
		ledgers:   make(map[ledgerKey]engine.FiscalYearLedger),
		profiles:  make(map[engine.UserID]engine.FiscalProfile),
		maternity: make(map[maternityKey]decimal.Decimal),
	}
}

// =============================================================================
// SEEDING (tests/dev)
// =============================================================================

// PutInvoice stores or replaces an invoice.
func (m *Memory) PutInvoice(inv engine.Invoice) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invoices[inv.ID] = inv
}

// PutProfile stores or replaces a fiscal profile.
func (m *Memory) PutProfile(p engine.FiscalProfile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[p.UserID] = p
}

// SetMaternityTax sets the flat surcharge for (year, fund).
func (m *Memory) SetMaternityTax(year int, fund engine.Fund, amount decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.maternity[maternityKey{year, fund}] = amount
}

// Invoice returns a stored invoice (tests inspect persisted fields).
func (m *Memory) Invoice(id engine.InvoiceID) (engine.Invoice, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inv, ok := m.invoices[id]
	return inv, ok
}

// =============================================================================
// INVOICE STORE
// =============================================================================

func (m *Memory) SettledInvoices(_ context.Context, userID engine.UserID, year int) ([]engine.Invoice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.settledInvoicesLocked(userID, year), nil
}

func (m *Memory) settledInvoicesLocked(userID engine.UserID, year int) []engine.Invoice {
	var result []engine.Invoice
	for _, inv := range m.invoices {
		if inv.UserID == userID && inv.Settled && inv.SettledAt.Year() == year {
			result = append(result, inv)
		}
	}
	return result
}

func (m *Memory) UpdateFundFields(_ context.Context, id engine.InvoiceID, ff engine.FundFields) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateFundFieldsLocked(id, ff)
}

func (m *Memory) updateFundFieldsLocked(id engine.InvoiceID, ff engine.FundFields) error {
	inv, ok := m.invoices[id]
	if !ok {
		return engine.ErrInvoiceNotFound
	}
	inv.Fund = ff
	m.invoices[id] = inv
	return nil
}

// =============================================================================
// LEDGER STORE
// =============================================================================

func (m *Memory) Ledger(_ context.Context, userID engine.UserID, year int) (*engine.FiscalYearLedger, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ledgerLocked(userID, year), nil
}

func (m *Memory) ledgerLocked(userID engine.UserID, year int) *engine.FiscalYearLedger {
	l, ok := m.ledgers[ledgerKey{userID, year}]
	if !ok {
		return nil
	}
	return &l
}

func (m *Memory) SaveLedger(_ context.Context, l engine.FiscalYearLedger) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveLedgerLocked(l)
	return nil
}

func (m *Memory) saveLedgerLocked(l engine.FiscalYearLedger) {
	m.ledgers[ledgerKey{l.UserID, l.Year}] = l
}

func (m *Memory) SetNeedsRecalculation(_ context.Context, userID engine.UserID, year int, needs bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setNeedsRecalculationLocked(userID, year, needs)
	return nil
}

func (m *Memory) setNeedsRecalculationLocked(userID engine.UserID, year int, needs bool) {
	k := ledgerKey{userID, year}
	if l, ok := m.ledgers[k]; ok {
		l.NeedsRecalculation = needs
		m.ledgers[k] = l
	}
}

func (m *Memory) DirtyLedgers(_ context.Context) ([]engine.FiscalYearLedger, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []engine.FiscalYearLedger
	for _, l := range m.ledgers {
		if l.NeedsRecalculation {
			result = append(result, l)
		}
	}
	return result, nil
}

// =============================================================================
// PROFILE STORE / MATERNITY TABLE
// =============================================================================

func (m *Memory) Profile(_ context.Context, userID engine.UserID) (*engine.FiscalProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.profiles[userID]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (m *Memory) MaternityTax(_ context.Context, year int, fund engine.Fund) (decimal.Decimal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	amount, ok := m.maternity[maternityKey{year, fund}]
	if !ok {
		return decimal.Zero, nil
	}
	return amount, nil
}

// =============================================================================
// RUN LOG
// =============================================================================

func (m *Memory) SaveRun(_ context.Context, run engine.RecalculationRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, run)
	return nil
}

func (m *Memory) Runs(_ context.Context, userID engine.UserID) ([]engine.RecalculationRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []engine.RecalculationRun
	for _, r := range m.runs {
		if r.UserID == userID {
			result = append(result, r)
		}
	}
	return result, nil
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// WithTx executes fn within a transaction. For the memory store this is
// simulated with a snapshot restored on error.
func (m *Memory) WithTx(_ context.Context, fn func(engine.Stores) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.snapshot()

	if err := fn(&txMemoryView{parent: m}); err != nil {
		m.restore(snapshot)
		return err
	}
	return nil
}

type memorySnapshot struct {
	invoices map[engine.InvoiceID]engine.Invoice
	ledgers  map[ledgerKey]engine.FiscalYearLedger
}

func (m *Memory) snapshot() memorySnapshot {
	invCopy := make(map[engine.InvoiceID]engine.Invoice, len(m.invoices))
	for k, v := range m.invoices {
		invCopy[k] = v
	}
	ledCopy := make(map[ledgerKey]engine.FiscalYearLedger, len(m.ledgers))
	for k, v := range m.ledgers {
		ledCopy[k] = v
	}
	return memorySnapshot{invoices: invCopy, ledgers: ledCopy}
}

func (m *Memory) restore(s memorySnapshot) {
	m.invoices = s.invoices
	m.ledgers = s.ledgers
}

// txMemoryView bypasses the parent's mutex: WithTx already holds it.
type txMemoryView struct {
	parent *Memory
}

func (tv *txMemoryView) SettledInvoices(_ context.Context, userID engine.UserID, year int) ([]engine.Invoice, error) {
	return tv.parent.settledInvoicesLocked(userID, year), nil
}

func (tv *txMemoryView) UpdateFundFields(_ context.Context, id engine.InvoiceID, ff engine.FundFields) error {
	return tv.parent.updateFundFieldsLocked(id, ff)
}

func (tv *txMemoryView) Ledger(_ context.Context, userID engine.UserID, year int) (*engine.FiscalYearLedger, error) {
	return tv.parent.ledgerLocked(userID, year), nil
}

func (tv *txMemoryView) SaveLedger(_ context.Context, l engine.FiscalYearLedger) error {
	tv.parent.saveLedgerLocked(l)
	return nil
}

func (tv *txMemoryView) SetNeedsRecalculation(_ context.Context, userID engine.UserID, year int, needs bool) error {
	tv.parent.setNeedsRecalculationLocked(userID, year, needs)
	return nil
}

func (tv *txMemoryView) DirtyLedgers(_ context.Context) ([]engine.FiscalYearLedger, error) {
	var result []engine.FiscalYearLedger
	for _, l := range tv.parent.ledgers {
		if l.NeedsRecalculation {
			result = append(result, l)
		}
	}
	return result, nil
}
