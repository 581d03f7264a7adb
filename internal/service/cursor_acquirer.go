package service

import (
	"context"
	"strings"
	"time"

	apperrors "forwardbot/internal/errors"
	"forwardbot/internal/models"
	"forwardbot/pkg/vk"

	"github.com/sirupsen/logrus"
)

// CursorAcquirer hands out a usable long-poll cursor for an account,
// replacing a missing, expired or never-issued one with a fresh session.
type CursorAcquirer struct {
	store  CursorStore
	source SourceAPI
	maxAge time.Duration
	logger *logrus.Logger
	now    func() time.Time
}

func NewCursorAcquirer(store CursorStore, source SourceAPI, maxAge time.Duration, logger *logrus.Logger) *CursorAcquirer {
	return &CursorAcquirer{
		store:  store,
		source: source,
		maxAge: maxAge,
		logger: logger,
		now:    time.Now,
	}
}

// Acquire returns the stored cursor when it is still usable. Otherwise the
// stored cursor is deleted and a new session is requested and persisted.
//
// Errors carry ErrCodeSourceUnavailable, or ErrCodeAccountUnrecoverable when
// VK rejects the account's token.
func (a *CursorAcquirer) Acquire(ctx context.Context, account *models.Account) (*models.Cursor, error) {
	stored, err := a.store.Load(ctx, account.AccountID)
	if err != nil {
		return nil, apperrors.NewSourceUnavailableError(account.AccountID, err)
	}

	now := a.now()
	if stored.Usable(now, a.maxAge) {
		return stored, nil
	}

	if stored != nil {
		fields := accountFields(ctx, account.AccountID)
		fields[LogFieldPosition] = stored.Position
		a.logger.WithFields(fields).Info("Stored cursor expired or invalid, requesting a new long-poll session")
		if err := a.store.Delete(ctx, account.AccountID); err != nil {
			return nil, apperrors.NewSourceUnavailableError(account.AccountID, err)
		}
	}

	server, err := a.source.GetLongPollServer(ctx, account.SourceToken)
	if err != nil {
		if vk.IsAuthError(err) {
			return nil, apperrors.NewAccountUnrecoverableError(account.AccountID, "source credentials revoked", err)
		}
		return nil, apperrors.NewSourceUnavailableError(account.AccountID, err)
	}

	cursor := &models.Cursor{
		AccountID: account.AccountID,
		Server:    serverURL(server.Server),
		Key:       server.Key,
		Position:  server.TS,
		UpdatedAt: now,
	}
	if err := a.store.Save(ctx, cursor); err != nil {
		return nil, apperrors.NewSourceUnavailableError(account.AccountID, err)
	}

	fields := accountFields(ctx, account.AccountID)
	fields[LogFieldPosition] = cursor.Position
	a.logger.WithFields(fields).Info("Acquired new long-poll session")
	return cursor, nil
}

// serverURL turns the scheme-less host/path VK returns into a URL
func serverURL(server string) string {
	if strings.HasPrefix(server, "https://") || strings.HasPrefix(server, "http://") {
		return server
	}
	return "https://" + server
}
