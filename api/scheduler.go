/*
scheduler.go - Automated reconcile scheduler

PURPOSE:
  Periodically sweeps every invoice, rebuilding stale aggregates from the
  ledger and flagging ledgers that exceed their invoice amount.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Runs one sweep immediately on Start
  - Each sweep is bounded by its own timeout so a stuck store cannot
    pile up overlapping runs
  - The most recent report is served by GET /api/admin/reconcile

CONFIGURATION:
  - Interval: How often to sweep (ledger.reconcile_interval, default 1 hour)
  - Interval 0 disables the scheduler

USAGE:
  scheduler := NewReconcileScheduler(svc, interval, log)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: Reconcile endpoints (manual sweep, scheduler status)
  - invoice/reconcile.go: Service.Reconcile
*/
package api

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/framehouse/studio-ledger/invoice"
)

// Reconciler runs one reconcile sweep.
type Reconciler interface {
	Reconcile(ctx context.Context) (*invoice.ReconcileReport, error)
}

// ReconcileScheduler runs Reconcile on a fixed interval.
type ReconcileScheduler struct {
	Reconciler Reconciler
	Interval   time.Duration
	// RunTimeout bounds a single sweep. Defaults to Interval.
	RunTimeout time.Duration

	log *zap.Logger

	mu         sync.Mutex
	ticker     *time.Ticker
	stop       chan struct{}
	wg         sync.WaitGroup
	lastRun    time.Time
	lastReport *invoice.ReconcileReport
}

// NewReconcileScheduler creates a new scheduler.
func NewReconcileScheduler(r Reconciler, interval time.Duration, log *zap.Logger) *ReconcileScheduler {
	if log == nil {
		log = zap.NewNop()
	}
	return &ReconcileScheduler{
		Reconciler: r,
		Interval:   interval,
		log:        log.Named("scheduler"),
	}
}

// Start begins the scheduler. It is a no-op when Interval is not positive
// or the scheduler is already running.
func (rs *ReconcileScheduler) Start() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.Interval <= 0 {
		rs.log.Info("reconcile scheduler disabled")
		return
	}
	if rs.ticker != nil {
		return
	}

	rs.ticker = time.NewTicker(rs.Interval)
	rs.stop = make(chan struct{})
	rs.wg.Add(1)
	go rs.run(rs.ticker, rs.stop)

	rs.log.Info("reconcile scheduler started", zap.Duration("interval", rs.Interval))
}

// Stop stops the scheduler and waits for an in-flight sweep to finish.
func (rs *ReconcileScheduler) Stop() {
	rs.mu.Lock()
	if rs.ticker == nil {
		rs.mu.Unlock()
		return
	}
	rs.ticker.Stop()
	close(rs.stop)
	rs.ticker = nil
	rs.mu.Unlock()

	rs.wg.Wait()
	rs.log.Info("reconcile scheduler stopped")
}

func (rs *ReconcileScheduler) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer rs.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-stop
		cancel()
	}()

	// Run immediately on start
	rs.RunNow(ctx)

	for {
		select {
		case <-ticker.C:
			rs.RunNow(ctx)
		case <-stop:
			return
		}
	}
}

// RunNow runs one sweep synchronously and returns its report.
func (rs *ReconcileScheduler) RunNow(ctx context.Context) (*invoice.ReconcileReport, error) {
	timeout := rs.RunTimeout
	if timeout <= 0 {
		timeout = rs.Interval
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	started := time.Now()
	report, err := rs.Reconciler.Reconcile(ctx)
	if err != nil {
		rs.log.Error("scheduled reconcile failed", zap.Error(err))
	}

	rs.mu.Lock()
	rs.lastRun = started
	if report != nil {
		rs.lastReport = report
	}
	rs.mu.Unlock()
	return report, err
}

// LastReport returns the most recent report and when its sweep started.
// The report is nil before the first sweep.
func (rs *ReconcileScheduler) LastReport() (*invoice.ReconcileReport, time.Time) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.lastReport, rs.lastRun
}

// GetNextRunTime returns when the next scheduled sweep will occur, or the
// zero time when the scheduler is disabled.
func (rs *ReconcileScheduler) GetNextRunTime() time.Time {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.Interval <= 0 {
		return time.Time{}
	}
	if rs.lastRun.IsZero() {
		return time.Now().Add(rs.Interval)
	}
	return rs.lastRun.Add(rs.Interval)
}
