/**
 * @description
 * Cron-scheduled conservation audit. The job recomputes every account balance
 * from the payment log and the reserve balance from the last audit baseline,
 * and logs a warning when either disagrees with the stored values. Drift here
 * means an invariant was violated outside the payment engine.
 */
package app

import (
	"context"
	"log"
	"time"

	"github.com/novabank/ledger-service/internal/store"
	"github.com/robfig/cron/v3"
)

// Auditor runs the periodic ledger conservation check.
type Auditor struct {
	repo     store.Repository
	cron     *cron.Cron
	schedule string
}

// NewAuditor creates an auditor with a cron schedule expression, e.g. "@daily".
func NewAuditor(repo store.Repository, schedule string) *Auditor {
	c := cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger)))
	return &Auditor{
		repo:     repo,
		cron:     c,
		schedule: schedule,
	}
}

// Start registers and starts the audit job.
func (a *Auditor) Start() {
	if _, err := a.cron.AddFunc(a.schedule, a.RunOnce); err != nil {
		log.Printf("level=error component=auditor msg=\"audit job schedule failed\" schedule=%q err=%v", a.schedule, err)
		return
	}
	log.Printf("level=info component=auditor msg=\"audit job scheduled\" schedule=%q", a.schedule)
	a.cron.Start()
}

// Stop gracefully stops the scheduler.
func (a *Auditor) Stop() context.Context {
	return a.cron.Stop()
}

// RunOnce executes a single conservation audit.
func (a *Auditor) RunOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	audit, err := a.repo.AuditLedger(ctx)
	if err != nil {
		log.Printf("level=error component=auditor msg=\"ledger audit failed\" err=%v", err)
		return
	}

	if audit.DriftedAccounts > 0 || audit.ReserveDrift != 0 {
		log.Printf("level=warn component=auditor msg=\"ledger drift detected\" drifted_accounts=%d reserve_drift=%d account_total=%d reserve_balance=%d",
			audit.DriftedAccounts, audit.ReserveDrift, audit.AccountTotal, audit.ReserveBalance)
		return
	}

	log.Printf("level=info component=auditor msg=\"ledger audit clean\" accounts=%d account_total=%d reserve_balance=%d",
		audit.AccountCount, audit.AccountTotal, audit.ReserveBalance)
}
