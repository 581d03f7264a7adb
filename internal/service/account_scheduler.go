package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"forwardbot/internal/metrics"
	"forwardbot/internal/models"

	"github.com/sirupsen/logrus"
)

// AccountLister returns the accounts that should be polled
type AccountLister interface {
	Accounts(ctx context.Context) ([]models.Account, error)
}

// Deregisterer removes an account that can no longer be polled
type Deregisterer interface {
	Deregister(ctx context.Context, account *models.Account, cause error) error
}

// accountWorker runs the cycles of one account sequentially
type accountWorker struct {
	account atomic.Pointer[models.Account]
	tick    chan struct{}
	cancel  context.CancelFunc
	done    chan struct{}
}

// AccountScheduler keeps one worker per registered account and ticks every
// worker on a fixed cadence. Ticks coalesce: a worker that is still busy
// when the next tick arrives runs one more cycle, not a backlog.
type AccountScheduler struct {
	accounts   AccountLister
	cycle      Cycle
	alerter    *Alerter
	deregister Deregisterer
	interval   time.Duration
	metrics    *metrics.Registry
	logger     *logrus.Logger

	mu      sync.Mutex
	workers map[int64]*accountWorker
	refresh chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool

	// suspended holds accounts inside Exclusive; no worker may start for them.
	// epoch moves on after every account mutation so that an account list
	// read before it is never applied.
	suspended map[int64]int
	epoch     uint64
}

func NewAccountScheduler(accounts AccountLister, cycle Cycle, alerter *Alerter, deregister Deregisterer, interval time.Duration, registry *metrics.Registry, logger *logrus.Logger) *AccountScheduler {
	return &AccountScheduler{
		accounts:   accounts,
		cycle:      cycle,
		alerter:    alerter,
		deregister: deregister,
		interval:   interval,
		metrics:    registry,
		logger:     logger,
		workers:    make(map[int64]*accountWorker),
		refresh:    make(chan struct{}, 1),
		suspended:  make(map[int64]int),
	}
}

// Start begins scheduling. The first pass runs immediately.
func (s *AccountScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("account scheduler is already running")
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.running = true

	s.wg.Add(1)
	go s.loop()

	s.logger.WithField("interval", s.interval).Info("Account scheduler started")
	return nil
}

// Stop cancels every worker and waits for in-flight cycles to return
func (s *AccountScheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.logger.Info("Stopping account scheduler...")
	s.cancel()
	s.running = false
	s.mu.Unlock()

	s.wg.Wait()

	s.mu.Lock()
	s.workers = make(map[int64]*accountWorker)
	s.mu.Unlock()
	s.metrics.SetGauge(metrics.ActiveWorkers, 0, nil, "Accounts with a running poll worker")
	s.logger.Info("Account scheduler stopped")
}

// Refresh asks for an immediate pass, e.g. after an account was registered
func (s *AccountScheduler) Refresh() {
	select {
	case s.refresh <- struct{}{}:
	default:
	}
}

// Exclusive stops the worker of accountID, waits for its in-flight cycle to
// return and runs fn while no cycle of that account can start. Account
// writes that touch the cursor go through here so a finishing cycle cannot
// resurrect a cursor fn deleted.
func (s *AccountScheduler) Exclusive(ctx context.Context, accountID int64, fn func() error) error {
	s.mu.Lock()
	s.suspended[accountID]++
	w := s.workers[accountID]
	if w != nil {
		s.stopWorkerLocked(accountID)
		s.metrics.SetGauge(metrics.ActiveWorkers, float64(len(s.workers)), nil, "Accounts with a running poll worker")
	}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.suspended[accountID]--
		if s.suspended[accountID] <= 0 {
			delete(s.suspended, accountID)
		}
		s.epoch++
		s.mu.Unlock()
		s.Refresh()
	}()

	if w != nil {
		select {
		case <-w.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fn()
}

// ActiveAccounts returns the ids of accounts that currently have a worker
func (s *AccountScheduler) ActiveAccounts() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]int64, 0, len(s.workers))
	for id := range s.workers {
		ids = append(ids, id)
	}
	return ids
}

func (s *AccountScheduler) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.reconcile(s.ctx)
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.reconcile(s.ctx)
		case <-s.refresh:
			s.reconcile(s.ctx)
		}
	}
}

// reconcile starts and stops workers to match the account list, then ticks every worker
func (s *AccountScheduler) reconcile(ctx context.Context) {
	s.mu.Lock()
	epoch := s.epoch
	s.mu.Unlock()

	accounts, err := s.accounts.Accounts(ctx)
	if err != nil {
		s.logger.WithError(err).Error("Failed to load accounts, ticking existing workers")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if ctx.Err() != nil {
		return
	}

	stale := err == nil && epoch != s.epoch
	if stale {
		// An account changed while the list was loading; the next pass reloads it
		s.Refresh()
	}

	if err == nil && !stale {
		seen := make(map[int64]struct{}, len(accounts))
		for i := range accounts {
			account := accounts[i]
			seen[account.AccountID] = struct{}{}
			if w, ok := s.workers[account.AccountID]; ok {
				w.account.Store(&account)
				continue
			}
			if s.suspended[account.AccountID] > 0 {
				continue
			}
			s.startWorkerLocked(ctx, &account)
		}
		for id := range s.workers {
			if _, ok := seen[id]; !ok {
				s.stopWorkerLocked(id)
			}
		}
	}

	for _, w := range s.workers {
		select {
		case w.tick <- struct{}{}:
		default:
		}
	}
	s.metrics.SetGauge(metrics.ActiveWorkers, float64(len(s.workers)), nil, "Accounts with a running poll worker")
}

func (s *AccountScheduler) startWorkerLocked(ctx context.Context, account *models.Account) {
	workerCtx, cancel := context.WithCancel(ctx)
	w := &accountWorker{tick: make(chan struct{}, 1), cancel: cancel, done: make(chan struct{})}
	w.account.Store(account)
	s.workers[account.AccountID] = w

	s.wg.Add(1)
	go s.runWorker(workerCtx, w)

	s.logger.WithFields(accountFields(ctx, account.AccountID)).Info("Starting account worker")
}

func (s *AccountScheduler) stopWorkerLocked(accountID int64) {
	w, ok := s.workers[accountID]
	if !ok {
		return
	}
	w.cancel()
	delete(s.workers, accountID)
	s.logger.WithFields(accountFields(s.ctx, accountID)).Info("Stopped account worker")
}

// removeWorker stops the worker of accountID if it is still the given one
func (s *AccountScheduler) removeWorker(accountID int64, w *accountWorker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if current, ok := s.workers[accountID]; ok && current == w {
		s.stopWorkerLocked(accountID)
		s.epoch++
		s.metrics.SetGauge(metrics.ActiveWorkers, float64(len(s.workers)), nil, "Accounts with a running poll worker")
	}
}

func (s *AccountScheduler) runWorker(ctx context.Context, w *accountWorker) {
	defer s.wg.Done()
	defer close(w.done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.tick:
			s.runOnce(ctx, w)
		}
	}
}

// runOnce runs one cycle and routes its outcome. A panic counts as a poll failure.
func (s *AccountScheduler) runOnce(ctx context.Context, w *accountWorker) {
	account := w.account.Load()

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic in forwarding cycle: %v", r)
			s.logger.WithFields(accountFields(ctx, account.AccountID)).WithError(err).Error("Recovered from panic in account worker")
			s.metrics.IncrementCounter(metrics.PollFailuresTotal, nil, "Failed poll cycles")
			s.alerter.RecordFailure(ctx, account, FailurePoll, err)
		}
	}()

	outcome := s.cycle.RunCycle(ctx, account)
	if ctx.Err() != nil {
		return
	}

	switch outcome.Kind {
	case OutcomeAcquireFailed:
		s.alerter.RecordFailure(ctx, account, FailureAcquire, outcome.Err)
	case OutcomePollFailed:
		s.alerter.RecordFailure(ctx, account, FailurePoll, outcome.Err)
	case OutcomeDeregister:
		if err := s.deregister.Deregister(ctx, account, outcome.Err); err != nil {
			s.logger.WithFields(accountFields(ctx, account.AccountID)).WithError(err).Error("Failed to deregister account")
		}
		s.removeWorker(account.AccountID, w)
	}
}
