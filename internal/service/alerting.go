package service

import (
	"context"
	"errors"
	"sync"

	apperrors "forwardbot/internal/errors"
	"forwardbot/internal/metrics"
	"forwardbot/internal/models"
	tgtypes "forwardbot/pkg/telegram/types"

	"github.com/sirupsen/logrus"
)

// FailureKind selects one of the two per-account failure counters
type FailureKind int

const (
	FailureAcquire FailureKind = iota
	FailurePoll
)

func (k FailureKind) String() string {
	if k == FailureAcquire {
		return "acquire"
	}
	return "poll"
}

// ExceptionThrottler counts failures per account and kind. A counter that
// reaches its threshold resets to zero and reports that an alert is due.
type ExceptionThrottler struct {
	mu     sync.Mutex
	counts map[int64]*[2]int
}

func NewExceptionThrottler() *ExceptionThrottler {
	return &ExceptionThrottler{counts: make(map[int64]*[2]int)}
}

// Record adds one failure and reports whether threshold was reached
func (t *ExceptionThrottler) Record(accountID int64, kind FailureKind, threshold int) bool {
	if threshold < 1 {
		threshold = 1
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	c, ok := t.counts[accountID]
	if !ok {
		c = &[2]int{}
		t.counts[accountID] = c
	}
	c[kind]++
	if c[kind] >= threshold {
		c[kind] = 0
		return true
	}
	return false
}

func (t *ExceptionThrottler) Count(accountID int64, kind FailureKind) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok := t.counts[accountID]; ok {
		return c[kind]
	}
	return 0
}

// Forget drops the counters of a removed account
func (t *ExceptionThrottler) Forget(accountID int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.counts, accountID)
}

// Alerter turns repeated cycle failures into throttled operator alerts
type Alerter struct {
	throttler        *ExceptionThrottler
	notifier         Notifier
	defaultThreshold int
	metrics          *metrics.Registry
	logger           *logrus.Logger
}

func NewAlerter(notifier Notifier, defaultThreshold int, registry *metrics.Registry, logger *logrus.Logger) *Alerter {
	return &Alerter{
		throttler:        NewExceptionThrottler(),
		notifier:         notifier,
		defaultThreshold: defaultThreshold,
		metrics:          registry,
		logger:           logger,
	}
}

// RecordFailure counts a failed cycle and alerts the operator once per threshold crossings
func (a *Alerter) RecordFailure(ctx context.Context, account *models.Account, kind FailureKind, err error) {
	threshold := account.ExceptionThreshold(a.defaultThreshold)
	if !a.throttler.Record(account.AccountID, kind, threshold) {
		return
	}

	fields := accountFields(ctx, account.AccountID)
	fields[LogFieldThreshold] = threshold
	fields[LogFieldOperation] = kind.String()
	a.logger.WithFields(fields).Warn("Failure threshold reached, alerting operator")

	a.Notify(ctx, apperrors.BuildAlertMessage(err, account.SourceUserID))
}

// Notify sends message to the operator, logging delivery failures
func (a *Alerter) Notify(ctx context.Context, message string) {
	if err := a.notifier.NotifyOperator(ctx, message); err != nil {
		a.logger.WithError(err).Error("Failed to notify operator")
		return
	}
	a.metrics.IncrementCounter(metrics.AlertsSentTotal, nil, "Operator alerts sent")
}

// Forget drops an account's failure counters
func (a *Alerter) Forget(accountID int64) {
	a.throttler.Forget(accountID)
}

// MultiNotifier fans an operator message out to several notifiers
type MultiNotifier []Notifier

func (m MultiNotifier) NotifyOperator(ctx context.Context, message string) error {
	var errs []error
	for _, n := range m {
		if err := n.NotifyOperator(ctx, message); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// TelegramAdminNotifier posts operator messages to the admin chat
type TelegramAdminNotifier struct {
	client tgtypes.Client
	chatID int64
}

func NewTelegramAdminNotifier(client tgtypes.Client, chatID int64) *TelegramAdminNotifier {
	return &TelegramAdminNotifier{client: client, chatID: chatID}
}

func (n *TelegramAdminNotifier) NotifyOperator(ctx context.Context, message string) error {
	if n.chatID == 0 {
		return nil
	}
	_, err := n.client.SendMessage(ctx, n.chatID, message, tgtypes.ParseModeNone)
	return err
}
