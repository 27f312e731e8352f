/*
scheduler.go - Automated year-rollover scheduler

PURPOSE:
  Periodically ensures every fiscal profile has a ledger for the current
  calendar year. A missing current-year ledger is a fatal precondition
  for recalculation, so creating it ahead of time keeps January triggers
  from failing.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Creates only missing ledgers; existing ones are never touched
  - Never recomputes anything: ledgers flagged as needing recalculation
    stay a manual trigger

CONFIGURATION:
  - CheckInterval: How often to check (default: 1 hour)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  scheduler := NewRolloverScheduler(store, handler)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: RolloverYear endpoint (manual rollover)
  - engine/orchestrator.go: RolloverYear semantics
*/
package api

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/warp/fiscal-engine/store/sqlite"
)

// RolloverScheduler creates missing current-year ledgers in the background.
type RolloverScheduler struct {
	Store         *sqlite.Store
	Handler       *Handler
	CheckInterval time.Duration
	Enabled       bool

	ticker *time.Ticker
	stop   chan bool
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewRolloverScheduler creates a new scheduler.
func NewRolloverScheduler(store *sqlite.Store, handler *Handler) *RolloverScheduler {
	return &RolloverScheduler{
		Store:         store,
		Handler:       handler,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
		stop:          make(chan bool),
	}
}

// Start begins the scheduler.
func (rs *RolloverScheduler) Start() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if !rs.Enabled {
		log.Println("[Scheduler] Disabled, not starting")
		return
	}

	rs.ticker = time.NewTicker(rs.CheckInterval)
	rs.wg.Add(1)

	go rs.run()

	log.Printf("[Scheduler] Started with check interval: %v", rs.CheckInterval)
}

// Stop stops the scheduler.
func (rs *RolloverScheduler) Stop() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.ticker != nil {
		rs.ticker.Stop()
		close(rs.stop)
		rs.wg.Wait()
		log.Println("[Scheduler] Stopped")
	}
}

func (rs *RolloverScheduler) run() {
	defer rs.wg.Done()

	// Run immediately on start
	rs.checkAndProcess()

	for {
		select {
		case <-rs.ticker.C:
			rs.checkAndProcess()
		case <-rs.stop:
			return
		}
	}
}

func (rs *RolloverScheduler) checkAndProcess() {
	ctx := context.Background()
	currentYear := time.Now().UTC().Year()

	profiles, err := rs.Store.ListProfiles(ctx)
	if err != nil {
		log.Printf("[Scheduler] Error listing profiles: %v", err)
		return
	}

	createdCount := 0
	for _, p := range profiles {
		// Registration in the future relative to the wall clock means
		// there is no fiscal year to prepare yet.
		if p.RegistrationDate.Year() > currentYear {
			continue
		}

		ledger, err := rs.Store.Ledger(ctx, p.UserID, currentYear)
		if err != nil {
			log.Printf("[Scheduler] Error checking ledger for %s: %v", p.UserID, err)
			continue
		}
		if ledger != nil {
			continue
		}

		if _, err := rs.Handler.Orchestrator.RolloverYear(ctx, p.UserID, currentYear-1); err != nil {
			log.Printf("[Scheduler] Error creating ledger for %s/%d: %v", p.UserID, currentYear, err)
			continue
		}
		createdCount++
	}

	if createdCount > 0 {
		log.Printf("[Scheduler] Created %d missing %d ledgers", createdCount, currentYear)
	}
}

// RunNow triggers an immediate check (for testing/admin).
func (rs *RolloverScheduler) RunNow() {
	rs.checkAndProcess()
}
