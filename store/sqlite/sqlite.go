/*
Package sqlite provides a SQLite-backed implementation of the engine
storage interfaces.

PURPOSE:
  Implements engine.TxStore, engine.ProfileStore, engine.MaternityTaxTable
  and engine.RunLog using SQLite. In production, the same patterns apply
  to PostgreSQL - only minor SQL dialect differences.

KEY TABLES:
  invoices:            Invoice identity, line items and computed fields
  fiscal_year_ledgers: One row per (user, year) with finalized totals
  fiscal_profiles:     Registration data, coefficient, benefit flags
  maternity_tax:       (year, fund) flat surcharge amounts
  recalculation_runs:  Append-only log of orchestrator runs

DECIMAL PERSISTENCE:
  Monetary columns are TEXT holding decimal.Decimal.String(), never REAL:
  binary floats would reintroduce the drift the decimal arithmetic exists
  to prevent.

ATOMIC RECALCULATION:
  WithTx wraps every per-invoice fund-field update plus the ledger write
  of a recalculation run in one BEGIN/COMMIT. A mid-batch failure rolls
  the whole run back, so readers never observe a half-updated year.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. In production with PostgreSQL,
  database-level concurrency control handles this instead.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/fiscal.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  orch := engine.NewOrchestrator(store, store, store)

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - engine/store.go: Interface definitions
  - engine/store/memory.go: In-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/fiscal-engine/engine"
)

// Store implements the engine storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var (
	_ engine.TxStore           = (*Store)(nil)
	_ engine.ProfileStore      = (*Store)(nil)
	_ engine.MaternityTaxTable = (*Store)(nil)
	_ engine.RunLog            = (*Store)(nil)
)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection: SQLite allows a single writer anyway, and with
	// ":memory:" every pooled connection would otherwise get its own
	// empty database.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Invoices: identity and values fixed at creation, fund fields
	-- overwritten on every recalculation of the invoice's year.
	CREATE TABLE IF NOT EXISTS invoices (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		number TEXT NOT NULL,
		issued_at TEXT NOT NULL,
		settled_at TEXT,
		settled BOOLEAN NOT NULL DEFAULT FALSE,
		transmitted BOOLEAN NOT NULL DEFAULT FALSE,
		line_items_json TEXT NOT NULL,

		gross_total TEXT NOT NULL,
		net_base TEXT NOT NULL,
		rivalsa TEXT NOT NULL,
		stamp_duty TEXT NOT NULL,
		revenue TEXT NOT NULL,
		taxable_revenue TEXT NOT NULL,

		notional_income TEXT NOT NULL DEFAULT '0',
		subjective TEXT NOT NULL DEFAULT '0',
		solidarity TEXT NOT NULL DEFAULT '0',
		modular TEXT NOT NULL DEFAULT '0',
		tax_saldo TEXT NOT NULL DEFAULT '0',
		tax_acconto TEXT NOT NULL DEFAULT '0',
		tax_total TEXT NOT NULL DEFAULT '0',
		tax_due_now TEXT NOT NULL DEFAULT '0',
		tax_residuo TEXT NOT NULL DEFAULT '0',

		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Recalculation hot path: settled invoices of a user's year.
	CREATE INDEX IF NOT EXISTS idx_invoices_user_settled
		ON invoices(user_id, settled, settled_at);

	-- One ledger row per (user, fiscal year).
	CREATE TABLE IF NOT EXISTS fiscal_year_ledgers (
		user_id TEXT NOT NULL,
		year INTEGER NOT NULL,
		fund TEXT NOT NULL,

		revenue TEXT NOT NULL DEFAULT '0',
		taxable_revenue TEXT NOT NULL DEFAULT '0',
		notional_income TEXT NOT NULL DEFAULT '0',
		subjective TEXT NOT NULL DEFAULT '0',
		solidarity TEXT NOT NULL DEFAULT '0',
		modular TEXT NOT NULL DEFAULT '0',
		maternity TEXT NOT NULL DEFAULT '0',
		tax_saldo TEXT NOT NULL DEFAULT '0',
		tax_acconto TEXT NOT NULL DEFAULT '0',
		tax_due_now TEXT NOT NULL DEFAULT '0',
		residuo TEXT NOT NULL DEFAULT '0',
		total_tax TEXT NOT NULL DEFAULT '0',
		net_income TEXT NOT NULL DEFAULT '0',
		contributions_paid TEXT NOT NULL DEFAULT '0',

		needs_recalculation BOOLEAN NOT NULL DEFAULT FALSE,
		finalized_at TEXT,
		PRIMARY KEY (user_id, year)
	);

	CREATE INDEX IF NOT EXISTS idx_ledgers_dirty
		ON fiscal_year_ledgers(needs_recalculation) WHERE needs_recalculation;

	-- Per-user fiscal configuration.
	CREATE TABLE IF NOT EXISTS fiscal_profiles (
		user_id TEXT PRIMARY KEY,
		fund TEXT NOT NULL,
		registration_date TEXT NOT NULL,
		birth_date TEXT NOT NULL,
		coefficient TEXT NOT NULL,
		modular_rate TEXT NOT NULL DEFAULT '0',
		benefits_json TEXT NOT NULL DEFAULT '{}'
	);

	-- Yearly flat maternity surcharge per fund.
	CREATE TABLE IF NOT EXISTS maternity_tax (
		year INTEGER NOT NULL,
		fund TEXT NOT NULL,
		amount TEXT NOT NULL,
		PRIMARY KEY (year, fund)
	);

	-- Append-only log of recalculation runs.
	CREATE TABLE IF NOT EXISTS recalculation_runs (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		year INTEGER NOT NULL,
		fund TEXT,
		status TEXT NOT NULL,
		invoice_count INTEGER NOT NULL DEFAULT 0,
		total_tax TEXT NOT NULL DEFAULT '0',
		error TEXT,
		started_at TEXT NOT NULL,
		completed_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_runs_user
		ON recalculation_runs(user_id, started_at DESC);
	`

	_, err := s.db.Exec(schema)
	return err
}

// execer and querier abstract *sql.DB and *sql.Tx so reads and writes
// can run either standalone or inside WithTx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// =============================================================================
// INVOICE STORE (engine.InvoiceStore interface)
// =============================================================================

// SaveInvoice upserts an invoice with its line items and creation-time
// values. Fund fields are untouched on conflict: those belong to the
// recalculation orchestrator.
func (s *Store) SaveInvoice(ctx context.Context, inv engine.Invoice) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	itemsJSON, err := json.Marshal(toLineItemRecords(inv.Items))
	if err != nil {
		return fmt.Errorf("failed to encode line items: %w", err)
	}

	var settledAt any
	if inv.Settled {
		settledAt = inv.SettledAt.UTC().Format(time.RFC3339)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	query := `
		INSERT INTO invoices
		(id, user_id, number, issued_at, settled_at, settled, transmitted, line_items_json,
		 gross_total, net_base, rivalsa, stamp_duty, revenue, taxable_revenue,
		 created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			number = excluded.number,
			issued_at = excluded.issued_at,
			settled_at = excluded.settled_at,
			settled = excluded.settled,
			transmitted = excluded.transmitted,
			line_items_json = excluded.line_items_json,
			gross_total = excluded.gross_total,
			net_base = excluded.net_base,
			rivalsa = excluded.rivalsa,
			stamp_duty = excluded.stamp_duty,
			revenue = excluded.revenue,
			taxable_revenue = excluded.taxable_revenue,
			updated_at = excluded.updated_at
	`

	_, err = s.db.ExecContext(ctx, query,
		inv.ID, inv.UserID, inv.Number,
		inv.IssuedAt.UTC().Format(time.RFC3339), settledAt, inv.Settled, inv.Transmitted,
		string(itemsJSON),
		inv.Values.GrossTotal.String(), inv.Values.NetBase.String(),
		inv.Values.Rivalsa.String(), inv.Values.StampDuty.String(),
		inv.Values.Revenue.String(), inv.Values.TaxableRevenue.String(),
		now, now,
	)
	return err
}

// SettledInvoices returns the settled invoices of (user, year).
func (s *Store) SettledInvoices(ctx context.Context, userID engine.UserID, year int) ([]engine.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	from := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(1, 0, 0)

	query := invoiceSelect + `
		WHERE user_id = ? AND settled = TRUE
		  AND settled_at >= ? AND settled_at < ?
		ORDER BY settled_at ASC, id ASC
	`

	return s.queryInvoices(ctx, s.db, query, userID,
		from.Format(time.RFC3339), to.Format(time.RFC3339))
}

// Invoice returns one invoice by ID, or nil when absent.
func (s *Store) Invoice(ctx context.Context, id engine.InvoiceID) (*engine.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	invoices, err := s.queryInvoices(ctx, s.db, invoiceSelect+` WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(invoices) == 0 {
		return nil, nil
	}
	return &invoices[0], nil
}

// UpdateFundFields persists one invoice's recomputed fund fields.
func (s *Store) UpdateFundFields(ctx context.Context, id engine.InvoiceID, ff engine.FundFields) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateFundFields(ctx, s.db, id, ff)
}

func (s *Store) updateFundFields(ctx context.Context, db execer, id engine.InvoiceID, ff engine.FundFields) error {
	query := `
		UPDATE invoices SET
			notional_income = ?, subjective = ?, solidarity = ?, modular = ?,
			tax_saldo = ?, tax_acconto = ?, tax_total = ?, tax_due_now = ?, tax_residuo = ?,
			updated_at = ?
		WHERE id = ?
	`

	res, err := db.ExecContext(ctx, query,
		ff.NotionalIncome.String(), ff.Subjective.String(), ff.Solidarity.String(), ff.Modular.String(),
		ff.TaxSaldo.String(), ff.TaxAcconto.String(), ff.TaxTotal.String(),
		ff.TaxDueNow.String(), ff.TaxResiduo.String(),
		time.Now().UTC().Format(time.RFC3339),
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to update fund fields: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return engine.ErrInvoiceNotFound
	}
	return nil
}

const invoiceSelect = `
	SELECT id, user_id, number, issued_at, settled_at, settled, transmitted, line_items_json,
	       gross_total, net_base, rivalsa, stamp_duty, revenue, taxable_revenue,
	       notional_income, subjective, solidarity, modular,
	       tax_saldo, tax_acconto, tax_total, tax_due_now, tax_residuo
	FROM invoices
`

func (s *Store) queryInvoices(ctx context.Context, db querier, query string, args ...any) ([]engine.Invoice, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query invoices: %w", err)
	}
	defer rows.Close()

	var invoices []engine.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, inv)
	}
	return invoices, rows.Err()
}

func scanInvoice(rows *sql.Rows) (engine.Invoice, error) {
	var (
		inv       engine.Invoice
		issuedAt  string
		settledAt sql.NullString
		itemsJSON string

		gross, net, rivalsa, stamp, revenue, taxable          string
		ril, subj, soli, modular                              string
		taxSaldo, taxAcconto, taxTotal, taxDueNow, taxResiduo string
	)

	err := rows.Scan(
		&inv.ID, &inv.UserID, &inv.Number, &issuedAt, &settledAt, &inv.Settled, &inv.Transmitted, &itemsJSON,
		&gross, &net, &rivalsa, &stamp, &revenue, &taxable,
		&ril, &subj, &soli, &modular,
		&taxSaldo, &taxAcconto, &taxTotal, &taxDueNow, &taxResiduo,
	)
	if err != nil {
		return inv, fmt.Errorf("failed to scan invoice: %w", err)
	}

	inv.IssuedAt, _ = time.Parse(time.RFC3339, issuedAt)
	if settledAt.Valid {
		inv.SettledAt, _ = time.Parse(time.RFC3339, settledAt.String)
	}

	var records []lineItemRecord
	if err := json.Unmarshal([]byte(itemsJSON), &records); err != nil {
		return inv, fmt.Errorf("failed to decode line items: %w", err)
	}
	inv.Items = fromLineItemRecords(records)

	inv.Values = engine.InvoiceValues{
		GrossTotal:     engine.MustParseDecimal(gross),
		NetBase:        engine.MustParseDecimal(net),
		Rivalsa:        engine.MustParseDecimal(rivalsa),
		StampDuty:      engine.MustParseDecimal(stamp),
		Revenue:        engine.MustParseDecimal(revenue),
		TaxableRevenue: engine.MustParseDecimal(taxable),
	}
	inv.Fund = engine.FundFields{
		NotionalIncome: engine.MustParseDecimal(ril),
		Subjective:     engine.MustParseDecimal(subj),
		Solidarity:     engine.MustParseDecimal(soli),
		Modular:        engine.MustParseDecimal(modular),
		TaxSaldo:       engine.MustParseDecimal(taxSaldo),
		TaxAcconto:     engine.MustParseDecimal(taxAcconto),
		TaxTotal:       engine.MustParseDecimal(taxTotal),
		TaxDueNow:      engine.MustParseDecimal(taxDueNow),
		TaxResiduo:     engine.MustParseDecimal(taxResiduo),
	}
	return inv, nil
}

// lineItemRecord is the JSON shape of a stored line item. Quantities and
// prices travel as strings to keep decimal precision exact.
type lineItemRecord struct {
	Description string `json:"description"`
	Quantity    string `json:"quantity"`
	UnitPrice   string `json:"unit_price"`
}

func toLineItemRecords(items []engine.LineItem) []lineItemRecord {
	records := make([]lineItemRecord, len(items))
	for i, li := range items {
		records[i] = lineItemRecord{
			Description: li.Description,
			Quantity:    li.Quantity.String(),
			UnitPrice:   li.UnitPrice.String(),
		}
	}
	return records
}

func fromLineItemRecords(records []lineItemRecord) []engine.LineItem {
	items := make([]engine.LineItem, len(records))
	for i, r := range records {
		items[i] = engine.LineItem{
			Description: r.Description,
			Quantity:    engine.MustParseDecimal(r.Quantity),
			UnitPrice:   engine.MustParseDecimal(r.UnitPrice),
		}
	}
	return items
}

// =============================================================================
// LEDGER STORE (engine.LedgerStore interface)
// =============================================================================

const ledgerSelect = `
	SELECT user_id, year, fund,
	       revenue, taxable_revenue, notional_income,
	       subjective, solidarity, modular, maternity,
	       tax_saldo, tax_acconto, tax_due_now, residuo,
	       total_tax, net_income, contributions_paid,
	       needs_recalculation, finalized_at
	FROM fiscal_year_ledgers
`

// Ledger returns the ledger for (user, year), or nil when absent.
func (s *Store) Ledger(ctx context.Context, userID engine.UserID, year int) (*engine.FiscalYearLedger, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ledgers, err := s.queryLedgers(ctx, s.db, ledgerSelect+` WHERE user_id = ? AND year = ?`, userID, year)
	if err != nil {
		return nil, err
	}
	if len(ledgers) == 0 {
		return nil, nil
	}
	return &ledgers[0], nil
}

// SaveLedger upserts a ledger.
func (s *Store) SaveLedger(ctx context.Context, l engine.FiscalYearLedger) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLedger(ctx, s.db, l)
}

func (s *Store) saveLedger(ctx context.Context, db execer, l engine.FiscalYearLedger) error {
	var finalizedAt any
	if !l.FinalizedAt.IsZero() {
		finalizedAt = l.FinalizedAt.UTC().Format(time.RFC3339)
	}

	query := `
		INSERT INTO fiscal_year_ledgers
		(user_id, year, fund, revenue, taxable_revenue, notional_income,
		 subjective, solidarity, modular, maternity,
		 tax_saldo, tax_acconto, tax_due_now, residuo,
		 total_tax, net_income, contributions_paid,
		 needs_recalculation, finalized_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, year) DO UPDATE SET
			fund = excluded.fund,
			revenue = excluded.revenue,
			taxable_revenue = excluded.taxable_revenue,
			notional_income = excluded.notional_income,
			subjective = excluded.subjective,
			solidarity = excluded.solidarity,
			modular = excluded.modular,
			maternity = excluded.maternity,
			tax_saldo = excluded.tax_saldo,
			tax_acconto = excluded.tax_acconto,
			tax_due_now = excluded.tax_due_now,
			residuo = excluded.residuo,
			total_tax = excluded.total_tax,
			net_income = excluded.net_income,
			contributions_paid = excluded.contributions_paid,
			needs_recalculation = excluded.needs_recalculation,
			finalized_at = excluded.finalized_at
	`

	_, err := db.ExecContext(ctx, query,
		l.UserID, l.Year, l.Fund,
		l.Revenue.String(), l.TaxableRevenue.String(), l.NotionalIncome.String(),
		l.Subjective.String(), l.Solidarity.String(), l.Modular.String(), l.Maternity.String(),
		l.TaxSaldo.String(), l.TaxAcconto.String(), l.TaxDueNow.String(), l.Residuo.String(),
		l.TotalTax.String(), l.NetIncome.String(), l.ContributionsPaid.String(),
		l.NeedsRecalculation, finalizedAt,
	)
	return err
}

// SetNeedsRecalculation flags (user, year) as stale. Missing rows are a
// silent no-op: a year with no ledger has nothing to invalidate.
func (s *Store) SetNeedsRecalculation(ctx context.Context, userID engine.UserID, year int, needs bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setNeedsRecalculation(ctx, s.db, userID, year, needs)
}

func (s *Store) setNeedsRecalculation(ctx context.Context, db execer, userID engine.UserID, year int, needs bool) error {
	_, err := db.ExecContext(ctx,
		`UPDATE fiscal_year_ledgers SET needs_recalculation = ? WHERE user_id = ? AND year = ?`,
		needs, userID, year,
	)
	return err
}

// DirtyLedgers lists ledgers flagged as needing recalculation.
func (s *Store) DirtyLedgers(ctx context.Context) ([]engine.FiscalYearLedger, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryLedgers(ctx, s.db, ledgerSelect+` WHERE needs_recalculation ORDER BY user_id, year`)
}

func (s *Store) queryLedgers(ctx context.Context, db querier, query string, args ...any) ([]engine.FiscalYearLedger, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledgers: %w", err)
	}
	defer rows.Close()

	var ledgers []engine.FiscalYearLedger
	for rows.Next() {
		var (
			l           engine.FiscalYearLedger
			finalizedAt sql.NullString

			revenue, taxable, ril, subj, soli, modular, maternity string
			taxSaldo, taxAcconto, taxDueNow, residuo              string
			totalTax, netIncome, contributionsPaid                string
		)

		if err := rows.Scan(
			&l.UserID, &l.Year, &l.Fund,
			&revenue, &taxable, &ril,
			&subj, &soli, &modular, &maternity,
			&taxSaldo, &taxAcconto, &taxDueNow, &residuo,
			&totalTax, &netIncome, &contributionsPaid,
			&l.NeedsRecalculation, &finalizedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan ledger: %w", err)
		}

		l.Revenue = engine.MustParseDecimal(revenue)
		l.TaxableRevenue = engine.MustParseDecimal(taxable)
		l.NotionalIncome = engine.MustParseDecimal(ril)
		l.Subjective = engine.MustParseDecimal(subj)
		l.Solidarity = engine.MustParseDecimal(soli)
		l.Modular = engine.MustParseDecimal(modular)
		l.Maternity = engine.MustParseDecimal(maternity)
		l.TaxSaldo = engine.MustParseDecimal(taxSaldo)
		l.TaxAcconto = engine.MustParseDecimal(taxAcconto)
		l.TaxDueNow = engine.MustParseDecimal(taxDueNow)
		l.Residuo = engine.MustParseDecimal(residuo)
		l.TotalTax = engine.MustParseDecimal(totalTax)
		l.NetIncome = engine.MustParseDecimal(netIncome)
		l.ContributionsPaid = engine.MustParseDecimal(contributionsPaid)
		if finalizedAt.Valid {
			l.FinalizedAt, _ = time.Parse(time.RFC3339, finalizedAt.String)
		}

		ledgers = append(ledgers, l)
	}
	return ledgers, rows.Err()
}

// =============================================================================
// TRANSACTIONAL STORE (engine.TxStore interface)
// =============================================================================

// WithTx executes fn within a database transaction. Reads inside the
// callback run on the same transaction and see its staged writes;
// nothing becomes visible outside until commit.
func (s *Store) WithTx(ctx context.Context, fn func(engine.Stores) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx, parent: s}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// txStore routes every read and write through the open transaction
// (the parent mutex is already held).
type txStore struct {
	tx     *sql.Tx
	parent *Store
}

func (ts *txStore) SettledInvoices(ctx context.Context, userID engine.UserID, year int) ([]engine.Invoice, error) {
	from := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(1, 0, 0)

	query := invoiceSelect + `
		WHERE user_id = ? AND settled = TRUE
		  AND settled_at >= ? AND settled_at < ?
		ORDER BY settled_at ASC, id ASC
	`
	return ts.parent.queryInvoices(ctx, ts.tx, query, userID,
		from.Format(time.RFC3339), to.Format(time.RFC3339))
}

func (ts *txStore) UpdateFundFields(ctx context.Context, id engine.InvoiceID, ff engine.FundFields) error {
	return ts.parent.updateFundFields(ctx, ts.tx, id, ff)
}

func (ts *txStore) Ledger(ctx context.Context, userID engine.UserID, year int) (*engine.FiscalYearLedger, error) {
	ledgers, err := ts.parent.queryLedgers(ctx, ts.tx, ledgerSelect+` WHERE user_id = ? AND year = ?`, userID, year)
	if err != nil {
		return nil, err
	}
	if len(ledgers) == 0 {
		return nil, nil
	}
	return &ledgers[0], nil
}

func (ts *txStore) SaveLedger(ctx context.Context, l engine.FiscalYearLedger) error {
	return ts.parent.saveLedger(ctx, ts.tx, l)
}

func (ts *txStore) SetNeedsRecalculation(ctx context.Context, userID engine.UserID, year int, needs bool) error {
	return ts.parent.setNeedsRecalculation(ctx, ts.tx, userID, year, needs)
}

func (ts *txStore) DirtyLedgers(ctx context.Context) ([]engine.FiscalYearLedger, error) {
	return ts.parent.queryLedgers(ctx, ts.tx, ledgerSelect+` WHERE needs_recalculation ORDER BY user_id, year`)
}

// =============================================================================
// PROFILE STORE (engine.ProfileStore interface)
// =============================================================================

const profileSelect = `
	SELECT user_id, fund, registration_date, birth_date, coefficient, modular_rate, benefits_json
	FROM fiscal_profiles
`

// SaveProfile upserts a fiscal profile.
func (s *Store) SaveProfile(ctx context.Context, p engine.FiscalProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	benefits := p.Benefits
	if benefits == nil {
		benefits = map[int]engine.BenefitFlags{}
	}
	benefitsJSON, err := json.Marshal(benefits)
	if err != nil {
		return fmt.Errorf("failed to encode benefits: %w", err)
	}

	query := `
		INSERT INTO fiscal_profiles
		(user_id, fund, registration_date, birth_date, coefficient, modular_rate, benefits_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			fund = excluded.fund,
			registration_date = excluded.registration_date,
			birth_date = excluded.birth_date,
			coefficient = excluded.coefficient,
			modular_rate = excluded.modular_rate,
			benefits_json = excluded.benefits_json
	`

	_, err = s.db.ExecContext(ctx, query,
		p.UserID, p.Fund,
		p.RegistrationDate.Format("2006-01-02"),
		p.BirthDate.Format("2006-01-02"),
		p.Coefficient.String(), p.ModularRate.String(),
		string(benefitsJSON),
	)
	return err
}

// Profile returns the profile for a user, or nil when absent.
func (s *Store) Profile(ctx context.Context, userID engine.UserID) (*engine.FiscalProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, profileSelect+` WHERE user_id = ?`, userID)
	p, err := scanProfile(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListProfiles returns all fiscal profiles.
func (s *Store) ListProfiles(ctx context.Context) ([]engine.FiscalProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, profileSelect+` ORDER BY user_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var profiles []engine.FiscalProfile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, p)
	}
	return profiles, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProfile(row rowScanner) (engine.FiscalProfile, error) {
	var (
		p                    engine.FiscalProfile
		registration, birth  string
		coefficient, modular string
		benefitsJSON         string
	)

	if err := row.Scan(&p.UserID, &p.Fund, &registration, &birth,
		&coefficient, &modular, &benefitsJSON); err != nil {
		return p, err
	}

	p.RegistrationDate, _ = time.Parse("2006-01-02", registration)
	p.BirthDate, _ = time.Parse("2006-01-02", birth)
	p.Coefficient = engine.MustParseDecimal(coefficient)
	p.ModularRate = engine.MustParseDecimal(modular)
	if err := json.Unmarshal([]byte(benefitsJSON), &p.Benefits); err != nil || p.Benefits == nil {
		p.Benefits = map[int]engine.BenefitFlags{}
	}
	return p, nil
}

// =============================================================================
// MATERNITY TAX TABLE (engine.MaternityTaxTable interface)
// =============================================================================

// SetMaternityTax upserts the flat surcharge for (year, fund).
func (s *Store) SetMaternityTax(ctx context.Context, year int, fund engine.Fund, amount decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO maternity_tax (year, fund, amount) VALUES (?, ?, ?)
		 ON CONFLICT(year, fund) DO UPDATE SET amount = excluded.amount`,
		year, fund, amount.String(),
	)
	return err
}

// MaternityTax returns the amount for (year, fund), zero when unset.
func (s *Store) MaternityTax(ctx context.Context, year int, fund engine.Fund) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var amount string
	err := s.db.QueryRowContext(ctx,
		`SELECT amount FROM maternity_tax WHERE year = ? AND fund = ?`,
		year, fund,
	).Scan(&amount)

	if err == sql.ErrNoRows {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	return engine.MustParseDecimal(amount), nil
}

// =============================================================================
// RECALCULATION RUN LOG (engine.RunLog interface)
// =============================================================================

// SaveRun appends a recalculation run record.
func (s *Store) SaveRun(ctx context.Context, run engine.RecalculationRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO recalculation_runs
		 (id, user_id, year, fund, status, invoice_count, total_tax, error, started_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.UserID, run.Year, string(run.Fund), string(run.Status),
		run.InvoiceCount, run.TotalTax.String(), run.Error,
		run.StartedAt.UTC().Format(time.RFC3339), run.CompletedAt.UTC().Format(time.RFC3339),
	)
	return err
}

// Runs returns a user's recalculation runs, most recent first.
func (s *Store) Runs(ctx context.Context, userID engine.UserID) ([]engine.RecalculationRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, year, fund, status, invoice_count, total_tax, error, started_at, completed_at
		 FROM recalculation_runs WHERE user_id = ? ORDER BY started_at DESC, id`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []engine.RecalculationRun
	for rows.Next() {
		var (
			r                      engine.RecalculationRun
			fund, errText          sql.NullString
			totalTax               string
			startedAt, completedAt string
		)
		if err := rows.Scan(&r.ID, &r.UserID, &r.Year, &fund, &r.Status,
			&r.InvoiceCount, &totalTax, &errText, &startedAt, &completedAt); err != nil {
			return nil, err
		}
		r.Fund = engine.Fund(fund.String)
		r.TotalTax = engine.MustParseDecimal(totalTax)
		r.Error = errText.String
		r.StartedAt, _ = time.Parse(time.RFC3339, startedAt)
		r.CompletedAt, _ = time.Parse(time.RFC3339, completedAt)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for tests and demo reseeding).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"invoices", "fiscal_year_ledgers", "fiscal_profiles", "maternity_tax", "recalculation_runs"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}
