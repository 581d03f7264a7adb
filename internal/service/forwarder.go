package service

import (
	"context"
	"time"

	apperrors "forwardbot/internal/errors"
	"forwardbot/internal/metrics"
	"forwardbot/internal/models"
	"forwardbot/internal/tracing"
	"forwardbot/pkg/vk"
	vktypes "forwardbot/pkg/vk/types"

	"github.com/sirupsen/logrus"
)

// OutcomeKind classifies how a forwarding cycle ended
type OutcomeKind int

const (
	OutcomeOK OutcomeKind = iota
	OutcomeAcquireFailed
	OutcomePollFailed
	OutcomeDeregister
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeOK:
		return "ok"
	case OutcomeAcquireFailed:
		return "acquire_failed"
	case OutcomePollFailed:
		return "poll_failed"
	case OutcomeDeregister:
		return "deregister"
	default:
		return "unknown"
	}
}

// CycleOutcome is the result of one RunCycle. Err is set for every kind but OutcomeOK.
type CycleOutcome struct {
	Kind      OutcomeKind
	Err       error
	Events    int
	Forwarded int
	Position  int64
}

// AllowListSource returns the allow-list of an account
type AllowListSource interface {
	Get(ctx context.Context, accountID int64) (models.AllowList, error)
}

// ForwarderDeps bundles the collaborators of a Forwarder
type ForwarderDeps struct {
	Acquirer   *CursorAcquirer
	Store      CursorStore
	Source     SourceAPI
	AllowLists AllowListSource
	Resolver   *AttachmentResolver
	Sink       Sink
	Metrics    *metrics.Registry
	Logger     *logrus.Logger

	// LongPollWaitSec is passed to VK as "wait"; the request deadline is wait plus PollGrace
	LongPollWaitSec int
	PollGrace       time.Duration
}

// Forwarder runs the poll-and-forward cycle of one account
type Forwarder struct {
	acquirer   *CursorAcquirer
	store      CursorStore
	source     SourceAPI
	allowLists AllowListSource
	resolver   *AttachmentResolver
	sink       Sink
	metrics    *metrics.Registry
	logger     *logrus.Logger
	errLogger  *apperrors.Logger
	wait       int
	grace      time.Duration
	now        func() time.Time
}

var _ Cycle = (*Forwarder)(nil)

func NewForwarder(deps ForwarderDeps) *Forwarder {
	return &Forwarder{
		acquirer:   deps.Acquirer,
		store:      deps.Store,
		source:     deps.Source,
		allowLists: deps.AllowLists,
		resolver:   deps.Resolver,
		sink:       deps.Sink,
		metrics:    deps.Metrics,
		logger:     deps.Logger,
		errLogger:  apperrors.WrapLogger(deps.Logger),
		wait:       deps.LongPollWaitSec,
		grace:      deps.PollGrace,
		now:        time.Now,
	}
}

// RunCycle acquires a cursor, long-polls once, forwards the admitted
// messages and persists the advanced cursor. Dispatch failures are counted
// but never end the cycle early.
func (f *Forwarder) RunCycle(ctx context.Context, account *models.Account) CycleOutcome {
	ctx, span := tracing.StartCycleSpan(ctx, account.AccountID)
	defer span.End()

	start := time.Now()
	outcome := f.runCycle(ctx, account)

	f.metrics.IncrementCounter(metrics.CyclesTotal, map[string]string{"outcome": outcome.Kind.String()}, "Forwarding cycles by outcome")
	f.metrics.RecordTimer(metrics.CycleDuration, time.Since(start), nil, "Duration of one forwarding cycle")

	tracing.AddSpanAttributes(ctx,
		tracing.AttrOutcome.String(outcome.Kind.String()),
		tracing.AttrEvents.Int(outcome.Events),
		tracing.AttrForwarded.Int(outcome.Forwarded),
		tracing.AttrPosition.Int64(outcome.Position),
	)
	if outcome.Err != nil {
		tracing.RecordError(ctx, outcome.Err)
	}
	return outcome
}

func (f *Forwarder) runCycle(ctx context.Context, account *models.Account) CycleOutcome {
	cursor, err := f.acquirer.Acquire(ctx, account)
	if err != nil {
		if apperrors.HasCode(err, apperrors.ErrCodeAccountUnrecoverable) {
			return CycleOutcome{Kind: OutcomeDeregister, Err: err}
		}
		f.metrics.IncrementCounter(metrics.AcquireFailuresTotal, nil, "Failed long-poll session acquisitions")
		f.errLogger.LogError(err, "Failed to acquire long-poll cursor", accountFields(ctx, account.AccountID))
		return CycleOutcome{Kind: OutcomeAcquireFailed, Err: err}
	}

	// Loaded before polling so a repository failure leaves the cursor alone
	allowList, err := f.allowLists.Get(ctx, account.AccountID)
	if err != nil {
		err = apperrors.NewPollFailedError(account.AccountID, err)
		f.metrics.IncrementCounter(metrics.PollFailuresTotal, nil, "Failed poll cycles")
		f.errLogger.LogError(err, "Failed to load allow-list", accountFields(ctx, account.AccountID))
		return CycleOutcome{Kind: OutcomePollFailed, Err: err, Position: cursor.Position}
	}

	result, err := f.poll(ctx, cursor)
	if err != nil {
		err = apperrors.NewPollFailedError(account.AccountID, err)
		f.metrics.IncrementCounter(metrics.PollFailuresTotal, nil, "Failed poll cycles")
		if ctx.Err() != nil {
			// Shutting down; the cursor is still good
			return CycleOutcome{Kind: OutcomePollFailed, Err: err, Position: cursor.Position}
		}
		fields := accountFields(ctx, account.AccountID)
		fields[LogFieldPosition] = cursor.Position
		f.errLogger.LogWarn(err, "Long-poll failed, dropping cursor", fields)
		if delErr := f.store.Delete(ctx, account.AccountID); delErr != nil {
			f.errLogger.LogError(apperrors.NewDatabaseError("delete cursor", delErr), "Failed to delete cursor", accountFields(ctx, account.AccountID))
		}
		return CycleOutcome{Kind: OutcomePollFailed, Err: err, Position: cursor.Position}
	}

	if ctx.Err() != nil {
		// The worker was stopped while polling; the batch is fetched again from the kept cursor
		return CycleOutcome{Kind: OutcomePollFailed, Err: apperrors.NewPollFailedError(account.AccountID, ctx.Err()), Position: cursor.Position}
	}

	messages, filtered := f.assemble(ctx, account, allowList, result.Events)
	forwarded := f.dispatch(ctx, account, messages)

	cursor.Advance(result.TS, f.now())
	if err := f.store.Save(ctx, cursor); err != nil {
		err = apperrors.NewPollFailedError(account.AccountID, apperrors.NewDatabaseError("save cursor", err))
		f.metrics.IncrementCounter(metrics.PollFailuresTotal, nil, "Failed poll cycles")
		f.errLogger.LogError(err, "Failed to persist cursor", accountFields(ctx, account.AccountID))
		return CycleOutcome{Kind: OutcomePollFailed, Err: err, Events: len(result.Events), Forwarded: forwarded, Position: cursor.Position}
	}

	if len(result.Events) > 0 {
		fields := accountFields(ctx, account.AccountID)
		fields[LogFieldNewPosition] = cursor.Position
		fields[LogFieldEvents] = len(result.Events)
		fields[LogFieldForwarded] = forwarded
		fields[LogFieldFiltered] = filtered
		f.logger.WithFields(fields).Info("Forwarded long-poll batch")
	}

	return CycleOutcome{Kind: OutcomeOK, Events: len(result.Events), Forwarded: forwarded, Position: cursor.Position}
}

func (f *Forwarder) poll(ctx context.Context, cursor *models.Cursor) (*vktypes.PollResult, error) {
	pollCtx, cancel := context.WithTimeout(ctx, time.Duration(f.wait)*time.Second+f.grace)
	defer cancel()
	return f.source.Poll(pollCtx, cursor.Server, cursor.Key, cursor.Position, f.wait)
}

// assemble filters events against the allow-list and resolves their attachments, preserving order
func (f *Forwarder) assemble(ctx context.Context, account *models.Account, allowList models.AllowList, events []vktypes.MessageEvent) ([]*models.ForwardableMessage, int) {
	var (
		messages []*models.ForwardableMessage
		filtered int
	)

	for _, ev := range events {
		inbound := toInboundEvent(ev)
		if !allowList.Admits(inbound.SourceContactID) {
			filtered++
			fields := accountFields(ctx, account.AccountID)
			fields[LogFieldContactID] = contactField(ctx, inbound.SourceContactID)
			f.logger.WithFields(fields).Debug("Skipping message: contact not in allow-list")
			continue
		}

		msg := &models.ForwardableMessage{
			AccountID:   account.AccountID,
			DisplayName: allowList.DisplayName(inbound.SourceContactID),
			Text:        inbound.RawText,
			Direction:   inbound.Direction,
		}
		for _, ref := range inbound.Attachments {
			value := f.resolver.Resolve(ctx, account, inbound.SourceContactID, ref)
			if value == "" {
				continue
			}
			kind := models.AttachmentUnsupported
			if _, ok := ref.(models.PhotoRef); ok {
				kind = models.AttachmentPhoto
			}
			msg.Attachments = append(msg.Attachments, models.Attachment{Kind: kind, Value: value})
		}
		messages = append(messages, msg)
	}

	if filtered > 0 {
		f.metrics.AddToCounter(metrics.MessagesFilteredTotal, float64(filtered), nil, "Messages skipped by the allow-list")
	}
	return messages, filtered
}

func (f *Forwarder) dispatch(ctx context.Context, account *models.Account, messages []*models.ForwardableMessage) int {
	forwarded := 0
	for _, msg := range messages {
		if err := f.sink.Send(ctx, msg); err != nil {
			f.metrics.IncrementCounter(metrics.DispatchFailuresTotal, nil, "Messages Telegram did not accept")
			f.errLogger.LogWarn(apperrors.NewDispatchError(account.AccountID, err), "Failed to dispatch message", accountFields(ctx, account.AccountID))
			continue
		}
		forwarded++
	}
	if forwarded > 0 {
		f.metrics.AddToCounter(metrics.MessagesForwardedTotal, float64(forwarded), nil, "Messages delivered to Telegram")
	}
	return forwarded
}

// toInboundEvent maps a long-poll event onto the domain event
func toInboundEvent(ev vktypes.MessageEvent) models.InboundEvent {
	inbound := models.InboundEvent{
		MessageID:       ev.MessageID,
		SourceContactID: ev.PeerID,
		RawText:         ev.Text,
		Direction:       models.Inbound,
	}
	if ev.Outbox() {
		inbound.Direction = models.Outbound
	}

	for _, a := range ev.Attachments {
		if a.Type != "photo" {
			inbound.Attachments = append(inbound.Attachments, models.UnsupportedRef{Label: a.Type})
			continue
		}
		ownerID, photoID, err := vk.ParsePhotoID(a.ID)
		if err != nil {
			inbound.Attachments = append(inbound.Attachments, models.UnsupportedRef{Label: a.Type})
			continue
		}
		inbound.Attachments = append(inbound.Attachments, models.PhotoRef{OwnerID: ownerID, PhotoID: photoID})
	}
	return inbound
}
