// Package process wraps the closure service in an automated driver: a
// kickoff that liquidates and issues a confirmation number and ETA, resume
// calls that record progress, and a sweeper that keeps in-progress closures
// moving. Only audit records are persisted; control state always comes from
// the brokerage.
package process

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"sunset/internal/closure"
	"sunset/internal/domain"
	"sunset/internal/lock"
	"sunset/internal/store"
	"sunset/internal/util"
)

// CodeInProgress is returned when another worker currently drives the same
// account.
const CodeInProgress = "closure_in_progress"

const auditQueueSize = 256

// progressPct is the human-facing completion estimate for each step.
var progressPct = map[domain.ClosureStep]int{
	domain.StepInitiated:            5,
	domain.StepCancelingOrders:      15,
	domain.StepLiquidatingPositions: 25,
	domain.StepWaitingSettlement:    45,
	domain.StepWithdrawingFunds:     65,
	domain.StepClosingAccount:       85,
	domain.StepCompleted:            100,
}

// Options tunes the Runner.
type Options struct {
	// SettlementDays is the number of trading days trades take to settle.
	SettlementDays int
	// TransferDays is the number of trading days an outgoing ACH takes.
	TransferDays int
	// LockTTL bounds how long one call may hold the account lock.
	LockTTL time.Duration
}

func (o *Options) withDefaults() {
	if o.SettlementDays <= 0 {
		o.SettlementDays = 1
	}
	if o.TransferDays <= 0 {
		o.TransferDays = 3
	}
	if o.LockTTL <= 0 {
		o.LockTTL = 2 * time.Minute
	}
}

// StartResult is returned by Start. It extends the liquidation result with
// the human-facing artifacts.
type StartResult struct {
	domain.ActionResult
	PositionsLiquidated int        `json:"positions_liquidated"`
	ConfirmationNumber  string     `json:"confirmation_number,omitempty"`
	EstimatedCompletion *time.Time `json:"estimated_completion,omitempty"`
}

// Runner is the automated closure driver.
type Runner struct {
	svc    *closure.Service
	store  store.AuditStore
	locker lock.Locker
	cal    *util.TradingCalendar
	opts   Options
	log    *slog.Logger
	now    func() time.Time

	mu        sync.Mutex // guards closed and the pending.Add/close ordering
	closed    bool
	events    chan domain.ClosureEvent
	pending   sync.WaitGroup
	closeOnce sync.Once
	done      chan struct{}
}

// NewRunner creates a Runner and starts its audit writer. st may be nil to
// disable the audit trail; locker may be nil to skip locking.
func NewRunner(svc *closure.Service, st store.AuditStore, locker lock.Locker, cal *util.TradingCalendar, opts Options, log *slog.Logger) *Runner {
	opts.withDefaults()
	if locker == nil {
		locker = lock.NoopLocker{}
	}
	if cal == nil {
		cal = util.NewTradingCalendar(nil)
	}
	r := &Runner{
		svc:    svc,
		store:  st,
		locker: locker,
		cal:    cal,
		opts:   opts,
		log:    log.With("component", "process"),
		now:    time.Now,
		events: make(chan domain.ClosureEvent, auditQueueSize),
		done:   make(chan struct{}),
	}
	go r.writeAudit()
	return r
}

// Start validates preconditions, cancels orders, submits liquidation and
// returns with a confirmation number and ETA. Further progress is made by
// Resume.
func (r *Runner) Start(ctx context.Context, accountID, relationshipID string) StartResult {
	if strings.TrimSpace(relationshipID) == "" {
		return failStart(domain.StepInitiated, domain.CodeRelationshipRequired,
			"ACH relationship ID required for fund withdrawal")
	}

	unlock, res, ok := r.acquire(ctx, accountID, domain.StepInitiated)
	if !ok {
		return StartResult{ActionResult: res}
	}
	defer unlock()

	ready := r.svc.CheckPreconditions(ctx, accountID)
	if !ready.Ready {
		reason := ready.Reason
		if reason == "" {
			reason = ready.Error
		}
		r.record(domain.ClosureEvent{
			AccountID: accountID,
			Status:    domain.ProcessFailed,
			Step:      domain.StepInitiated,
			Error:     reason,
		})
		return failStart(domain.StepInitiated, ready.Code, reason)
	}

	now := r.now()
	confirmation := ConfirmationNumber(now)
	eta := r.EstimateCompletion(now)
	base := domain.ClosureEvent{
		AccountID:              accountID,
		ConfirmationNumber:     confirmation,
		Status:                 domain.ProcessInProgress,
		TransferRelationshipID: relationshipID,
		EstimatedCompletion:    &eta,
	}

	r.record(withStep(base, domain.StepInitiated, "", "Account closure initiated"))

	res = r.svc.LiquidatePositions(ctx, accountID)
	r.record(withStep(base, domain.StepCancelingOrders, "",
		fmt.Sprintf("Canceled %d open orders", res.OrdersCanceled)))
	if !res.Success {
		ev := withStep(base, domain.StepLiquidatingPositions, "", "")
		ev.Status = domain.ProcessFailed
		ev.Error = res.Error
		r.record(ev)
		return StartResult{ActionResult: res, ConfirmationNumber: confirmation}
	}
	r.record(withStep(base, domain.StepLiquidatingPositions, res.ActionTaken, res.Message))

	r.log.InfoContext(ctx, "closure started",
		"account_id", accountID,
		"confirmation", confirmation,
		"eta", eta.Format(time.DateOnly),
		"liquidation_orders", res.LiquidationOrders,
	)
	return StartResult{
		ActionResult:        res,
		PositionsLiquidated: res.LiquidationOrders,
		ConfirmationNumber:  confirmation,
		EstimatedCompletion: &eta,
	}
}

// Resume advances the closure by one action and records the outcome when the
// account has a confirmed kickoff. When relationshipID is empty the one
// supplied at kickoff is used.
func (r *Runner) Resume(ctx context.Context, accountID, relationshipID string) domain.ActionResult {
	var last *domain.ClosureEvent
	if r.store != nil {
		ev, err := r.store.LatestClosureEvent(ctx, accountID)
		switch {
		case err == nil:
			last = ev
		case !errors.Is(err, domain.ErrNotFound):
			r.log.WarnContext(ctx, "audit lookup failed", "account_id", accountID, "error", err)
		}
	}
	if relationshipID == "" && last != nil {
		relationshipID = last.TransferRelationshipID
	}

	unlock, res, ok := r.acquire(ctx, accountID, closure.StepResumeError)
	if !ok {
		return res
	}
	defer unlock()

	res = r.svc.Resume(ctx, accountID, relationshipID)

	ev := domain.ClosureEvent{
		AccountID:              accountID,
		Status:                 processStatus(res),
		Step:                   res.Step,
		ProgressPct:            progressPct[res.Step],
		Action:                 res.ActionTaken,
		Message:                res.Message,
		Error:                  res.Error,
		TransferRelationshipID: relationshipID,
	}
	// Accounts without a confirmed kickoff get no trail and so are never swept.
	if last == nil || last.ConfirmationNumber == "" {
		r.log.DebugContext(ctx, "resume without kickoff, not recorded", "account_id", accountID, "step", res.Step)
		return res
	}
	ev.ConfirmationNumber = last.ConfirmationNumber
	ev.EstimatedCompletion = last.EstimatedCompletion
	r.record(ev)
	return res
}

// EstimateCompletion returns a rough completion date: settlement plus the
// ACH transfer, counted in trading days.
func (r *Runner) EstimateCompletion(from time.Time) time.Time {
	return r.cal.AddTradingDays(from, r.opts.SettlementDays+r.opts.TransferDays)
}

// Wait blocks until all queued audit records are written.
func (r *Runner) Wait() {
	r.pending.Wait()
}

// Close drains the audit queue and stops the writer.
func (r *Runner) Close() {
	r.closeOnce.Do(func() {
		r.mu.Lock()
		r.closed = true
		r.mu.Unlock()
		r.pending.Wait()
		close(r.events)
		<-r.done
	})
}

// ConfirmationNumber formats a human-facing closure reference such as
// CL-20261017-9F86D081.
func ConfirmationNumber(t time.Time) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return fmt.Sprintf("CL-%s-%s", t.UTC().Format("20060102"), strings.ToUpper(id[:8]))
}

func (r *Runner) acquire(ctx context.Context, accountID string, step domain.ClosureStep) (func(), domain.ActionResult, bool) {
	unlock, err := r.locker.Acquire(ctx, "closure:"+accountID, r.opts.LockTTL)
	switch {
	case err == nil:
		return unlock, domain.ActionResult{}, true
	case errors.Is(err, domain.ErrLockHeld):
		return nil, domain.ActionResult{
			Success: false,
			Step:    step,
			Code:    CodeInProgress,
			Error:   "Another request is already processing this account; try again shortly",
		}, false
	default:
		// Lock is advisory; carry on without it.
		r.log.WarnContext(ctx, "account lock unavailable", "account_id", accountID, "error", err)
		return func() {}, domain.ActionResult{}, true
	}
}

// record queues an audit event without blocking. A full queue, or a Runner
// that has been closed, drops the event.
func (r *Runner) record(ev domain.ClosureEvent) {
	if r.store == nil {
		return
	}
	if ev.ProgressPct == 0 {
		ev.ProgressPct = progressPct[ev.Step]
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = r.now().UTC()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		r.log.Warn("audit writer closed, dropping event", "account_id", ev.AccountID, "step", ev.Step)
		return
	}
	r.pending.Add(1)
	select {
	case r.events <- ev:
	default:
		r.pending.Done()
		r.log.Warn("audit queue full, dropping event", "account_id", ev.AccountID, "step", ev.Step)
	}
}

func (r *Runner) writeAudit() {
	defer close(r.done)
	for ev := range r.events {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := r.store.AppendClosureEvent(ctx, &ev); err != nil {
			r.log.Warn("audit write failed", "account_id", ev.AccountID, "step", ev.Step, "error", err)
		}
		cancel()
		r.pending.Done()
	}
}

func processStatus(res domain.ActionResult) string {
	switch {
	case res.Step == domain.StepCompleted && res.Success:
		return domain.ProcessCompleted
	case res.Step == domain.StepFailed:
		return domain.ProcessFailed
	default:
		return domain.ProcessInProgress
	}
}

func withStep(base domain.ClosureEvent, step domain.ClosureStep, action, msg string) domain.ClosureEvent {
	base.Step = step
	base.Action = action
	base.Message = msg
	return base
}

func failStart(step domain.ClosureStep, code, msg string) StartResult {
	return StartResult{ActionResult: domain.ActionResult{Success: false, Step: step, Code: code, Error: msg}}
}
