package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"forwardbot/internal/metrics"
	"forwardbot/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLister struct {
	mu       sync.Mutex
	accounts []models.Account
	err      error
}

func (l *fakeLister) Accounts(ctx context.Context) ([]models.Account, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]models.Account(nil), l.accounts...), l.err
}

func (l *fakeLister) set(accounts ...models.Account) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.accounts = accounts
}

type fakeCycle struct {
	mu            sync.Mutex
	calls         map[int64]int
	maxConcurrent map[int64]int
	inFlight      map[int64]int
	block         chan struct{}
	outcome       func(account *models.Account) CycleOutcome
}

func newFakeCycle() *fakeCycle {
	return &fakeCycle{
		calls:         make(map[int64]int),
		maxConcurrent: make(map[int64]int),
		inFlight:      make(map[int64]int),
	}
}

func (c *fakeCycle) RunCycle(ctx context.Context, account *models.Account) CycleOutcome {
	c.mu.Lock()
	c.calls[account.AccountID]++
	c.inFlight[account.AccountID]++
	if c.inFlight[account.AccountID] > c.maxConcurrent[account.AccountID] {
		c.maxConcurrent[account.AccountID] = c.inFlight[account.AccountID]
	}
	block := c.block
	outcome := c.outcome
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.inFlight[account.AccountID]--
		c.mu.Unlock()
	}()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
		}
	}
	if outcome != nil {
		return outcome(account)
	}
	return CycleOutcome{Kind: OutcomeOK}
}

func (c *fakeCycle) callCount(accountID int64) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[accountID]
}

type fakeDeregisterer struct {
	mu     sync.Mutex
	ids    []int64
	lister *fakeLister
}

func (d *fakeDeregisterer) Deregister(ctx context.Context, account *models.Account, cause error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ids = append(d.ids, account.AccountID)
	d.lister.set()
	return nil
}

func (d *fakeDeregisterer) deregistered() []int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]int64(nil), d.ids...)
}

type schedulerFixture struct {
	lister   *fakeLister
	cycle    *fakeCycle
	notifier *recordingNotifier
	dereg    *fakeDeregisterer
	registry *metrics.Registry
	sched    *AccountScheduler
}

func newSchedulerFixture(threshold int, accounts ...models.Account) *schedulerFixture {
	f := &schedulerFixture{
		lister:   &fakeLister{accounts: accounts},
		cycle:    newFakeCycle(),
		notifier: &recordingNotifier{},
		registry: metrics.NewRegistry(),
	}
	f.dereg = &fakeDeregisterer{lister: f.lister}
	logger := newTestLogger()
	alerter := NewAlerter(f.notifier, threshold, f.registry, logger)
	f.sched = NewAccountScheduler(f.lister, f.cycle, alerter, f.dereg, time.Hour, f.registry, logger)
	return f
}

func (f *schedulerFixture) start(t *testing.T) {
	t.Helper()
	require.NoError(t, f.sched.Start(context.Background()))
	t.Cleanup(f.sched.Stop)
}

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

func TestAccountScheduler_RunsEveryAccount(t *testing.T) {
	f := newSchedulerFixture(5, models.Account{AccountID: 1}, models.Account{AccountID: 2})
	f.start(t)

	assert.Eventually(t, func() bool {
		return f.cycle.callCount(1) == 1 && f.cycle.callCount(2) == 1
	}, waitFor, tick)
	assert.ElementsMatch(t, []int64{1, 2}, f.sched.ActiveAccounts())
	assert.Equal(t, float64(2), f.registry.GaugeValue(metrics.ActiveWorkers, nil))
}

func TestAccountScheduler_StartTwiceFails(t *testing.T) {
	f := newSchedulerFixture(5)
	f.start(t)
	assert.Error(t, f.sched.Start(context.Background()))
}

func TestAccountScheduler_FollowsAccountList(t *testing.T) {
	f := newSchedulerFixture(5, models.Account{AccountID: 1})
	f.start(t)
	require.Eventually(t, func() bool { return f.cycle.callCount(1) == 1 }, waitFor, tick)

	f.lister.set(models.Account{AccountID: 2})
	f.sched.Refresh()

	assert.Eventually(t, func() bool { return f.cycle.callCount(2) == 1 }, waitFor, tick)
	assert.Eventually(t, func() bool {
		ids := f.sched.ActiveAccounts()
		return len(ids) == 1 && ids[0] == 2
	}, waitFor, tick)
}

func TestAccountScheduler_ListFailureStillTicksWorkers(t *testing.T) {
	f := newSchedulerFixture(5, models.Account{AccountID: 1})
	f.start(t)
	require.Eventually(t, func() bool { return f.cycle.callCount(1) == 1 }, waitFor, tick)

	f.lister.mu.Lock()
	f.lister.err = errors.New("database is locked")
	f.lister.mu.Unlock()
	f.sched.reconcile(f.sched.ctx)

	assert.Eventually(t, func() bool { return f.cycle.callCount(1) == 2 }, waitFor, tick)
	assert.Equal(t, []int64{1}, f.sched.ActiveAccounts())
}

func TestAccountScheduler_TicksCoalesce(t *testing.T) {
	f := newSchedulerFixture(5, models.Account{AccountID: 1})
	block := make(chan struct{})
	f.cycle.block = block
	f.start(t)
	require.Eventually(t, func() bool { return f.cycle.callCount(1) == 1 }, waitFor, tick)

	for i := 0; i < 5; i++ {
		f.sched.reconcile(f.sched.ctx)
	}
	close(block)

	assert.Eventually(t, func() bool { return f.cycle.callCount(1) == 2 }, waitFor, tick)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 2, f.cycle.callCount(1))

	f.cycle.mu.Lock()
	defer f.cycle.mu.Unlock()
	assert.Equal(t, 1, f.cycle.maxConcurrent[1], "cycles of one account must never overlap")
}

func TestAccountScheduler_FailuresAreThrottled(t *testing.T) {
	f := newSchedulerFixture(2, models.Account{AccountID: 1, SourceUserID: 1001})
	f.cycle.outcome = func(*models.Account) CycleOutcome {
		return CycleOutcome{Kind: OutcomePollFailed, Err: errors.New("poll broke")}
	}
	f.start(t)
	require.Eventually(t, func() bool { return f.cycle.callCount(1) == 1 }, waitFor, tick)
	assert.Empty(t, f.notifier.operatorMessages())

	f.sched.reconcile(f.sched.ctx)

	assert.Eventually(t, func() bool { return len(f.notifier.operatorMessages()) == 1 }, waitFor, tick)
	assert.Contains(t, f.notifier.operatorMessages()[0], "poll broke")
}

func TestAccountScheduler_PanicIsRecovered(t *testing.T) {
	f := newSchedulerFixture(1, models.Account{AccountID: 1})
	var once sync.Once
	f.cycle.outcome = func(*models.Account) CycleOutcome {
		once.Do(func() { panic("nil map") })
		return CycleOutcome{Kind: OutcomeOK}
	}
	f.start(t)

	require.Eventually(t, func() bool { return len(f.notifier.operatorMessages()) == 1 }, waitFor, tick)
	assert.Contains(t, f.notifier.operatorMessages()[0], "panic in forwarding cycle: nil map")
	assert.Equal(t, float64(1), f.registry.CounterValue(metrics.PollFailuresTotal, nil))

	f.sched.reconcile(f.sched.ctx)
	assert.Eventually(t, func() bool { return f.cycle.callCount(1) == 2 }, waitFor, tick)
}

func TestAccountScheduler_DeregisterStopsWorker(t *testing.T) {
	f := newSchedulerFixture(5, models.Account{AccountID: 1}, models.Account{AccountID: 2})
	f.cycle.outcome = func(account *models.Account) CycleOutcome {
		if account.AccountID == 1 {
			return CycleOutcome{Kind: OutcomeDeregister, Err: errors.New("revoked")}
		}
		return CycleOutcome{Kind: OutcomeOK}
	}
	f.start(t)

	require.Eventually(t, func() bool { return len(f.dereg.deregistered()) == 1 }, waitFor, tick)
	assert.Equal(t, []int64{1}, f.dereg.deregistered())
	assert.Eventually(t, func() bool {
		for _, id := range f.sched.ActiveAccounts() {
			if id == 1 {
				return false
			}
		}
		return true
	}, waitFor, tick)
}

func TestAccountScheduler_StopWaitsForWorkers(t *testing.T) {
	f := newSchedulerFixture(5, models.Account{AccountID: 1})
	f.cycle.block = make(chan struct{})
	require.NoError(t, f.sched.Start(context.Background()))
	require.Eventually(t, func() bool { return f.cycle.callCount(1) == 1 }, waitFor, tick)

	f.sched.Stop()

	f.cycle.mu.Lock()
	inFlight := f.cycle.inFlight[1]
	f.cycle.mu.Unlock()
	assert.Zero(t, inFlight)
	assert.Empty(t, f.sched.ActiveAccounts())
	assert.Zero(t, f.registry.GaugeValue(metrics.ActiveWorkers, nil))

	f.sched.Stop()
}

func TestAccountScheduler_ExclusiveWaitsForInFlightCycle(t *testing.T) {
	f := newSchedulerFixture(5, models.Account{AccountID: 1})
	f.cycle.block = make(chan struct{})
	f.start(t)
	require.Eventually(t, func() bool { return f.cycle.callCount(1) == 1 }, waitFor, tick)

	var inFlightDuringFn int
	err := f.sched.Exclusive(context.Background(), 1, func() error {
		f.cycle.mu.Lock()
		inFlightDuringFn = f.cycle.inFlight[1]
		f.cycle.mu.Unlock()
		assert.Empty(t, f.sched.ActiveAccounts())

		// A pass with the account still listed must not restart it yet
		f.sched.reconcile(f.sched.ctx)
		assert.Empty(t, f.sched.ActiveAccounts())
		return nil
	})

	require.NoError(t, err)
	assert.Zero(t, inFlightDuringFn)

	// Still listed, so the worker comes back once the write is done
	assert.Eventually(t, func() bool { return len(f.sched.ActiveAccounts()) == 1 }, waitFor, tick)
}

func TestAccountScheduler_ExclusivePropagatesError(t *testing.T) {
	f := newSchedulerFixture(5)
	f.start(t)

	err := f.sched.Exclusive(context.Background(), 7, func() error { return errors.New("disk full") })

	assert.EqualError(t, err, "disk full")
}

func TestAccountScheduler_StaleListIsNotApplied(t *testing.T) {
	f := newSchedulerFixture(5)
	lister := &epochBumpingLister{fakeLister: f.lister, sched: f.sched}
	lister.set(models.Account{AccountID: 3})
	f.sched.accounts = lister

	f.sched.reconcile(context.Background())

	assert.Empty(t, f.sched.ActiveAccounts())
	assert.Len(t, f.sched.refresh, 1, "a stale pass asks for another one")
}

// epochBumpingLister simulates an account write landing while the list loads
type epochBumpingLister struct {
	*fakeLister
	sched *AccountScheduler
}

func (l *epochBumpingLister) Accounts(ctx context.Context) ([]models.Account, error) {
	accounts, err := l.fakeLister.Accounts(ctx)
	l.sched.mu.Lock()
	l.sched.epoch++
	l.sched.mu.Unlock()
	return accounts, err
}
