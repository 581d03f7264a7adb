package service

import (
	"context"
	"strconv"
	"strings"

	apperrors "forwardbot/internal/errors"
	"forwardbot/internal/metrics"
	"forwardbot/internal/models"
	"forwardbot/internal/validation"

	"github.com/sirupsen/logrus"
)

const deregisteredNotice = "Your VK session is no longer valid and forwarding has been stopped. Register again to resume."

// AccountService owns every write to accounts and allow-lists so the caches
// it invalidates stay coherent with the repository.
type AccountService struct {
	repo       Repository
	cursors    CursorStore
	accounts   *AccountCache
	allowLists *AllowListCache
	alerter    *Alerter
	chat       ChatNotifier
	gate       AccountGate
	metrics    *metrics.Registry
	logger     *logrus.Logger
}

func NewAccountService(repo Repository, cursors CursorStore, accounts *AccountCache, allowLists *AllowListCache, alerter *Alerter, chat ChatNotifier, registry *metrics.Registry, logger *logrus.Logger) *AccountService {
	return &AccountService{
		repo:       repo,
		cursors:    cursors,
		accounts:   accounts,
		allowLists: allowLists,
		alerter:    alerter,
		chat:       chat,
		gate:       ungated{},
		metrics:    registry,
		logger:     logger,
	}
}

// UseGate routes account writes through gate, normally the AccountScheduler
func (s *AccountService) UseGate(gate AccountGate) {
	s.gate = gate
}

// Accounts lists the registered accounts through the account cache
func (s *AccountService) Accounts(ctx context.Context) ([]models.Account, error) {
	return s.accounts.Accounts(ctx)
}

// Account returns one account or an ErrCodeNotFound error
func (s *AccountService) Account(ctx context.Context, accountID int64) (*models.Account, error) {
	account, err := s.repo.FindAccount(ctx, accountID)
	if err != nil {
		return nil, apperrors.NewDatabaseError("find account", err)
	}
	if account == nil {
		return nil, apperrors.NewNotFoundError("account", strconv.FormatInt(accountID, 10))
	}
	return account, nil
}

// RegisterAccount creates an account or replaces its credentials. The stored
// cursor belongs to the old token and is dropped.
func (s *AccountService) RegisterAccount(ctx context.Context, account *models.Account) error {
	if account.AccountID == 0 {
		return apperrors.NewValidationError("account_id", "account_id is required")
	}
	if account.SourceUserID == 0 {
		return apperrors.NewValidationError("source_user_id", "source_user_id is required")
	}
	if err := validation.ValidateSourceToken(account.SourceToken); err != nil {
		return err
	}
	if account.MaxExceptionCount < 0 {
		return apperrors.NewValidationError("max_exception_count", "max_exception_count must not be negative")
	}

	err := s.gate.Exclusive(ctx, account.AccountID, func() error {
		if err := s.repo.SaveAccount(ctx, account); err != nil {
			return apperrors.NewDatabaseError("save account", err)
		}
		s.accounts.Invalidate()
		if err := s.cursors.Delete(ctx, account.AccountID); err != nil {
			return apperrors.NewDatabaseError("delete cursor", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.alerter.Forget(account.AccountID)

	s.logger.WithFields(accountFields(ctx, account.AccountID)).Info("Registered account")
	return nil
}

// RemoveAccount deletes an account with its allow-list and cursor. Removing
// an unknown account is not an error.
func (s *AccountService) RemoveAccount(ctx context.Context, accountID int64) error {
	return s.gate.Exclusive(ctx, accountID, func() error {
		return s.removeAccount(ctx, accountID)
	})
}

// removeAccount is RemoveAccount for callers that already own the account's
// cycle, such as the worker deregistering it
func (s *AccountService) removeAccount(ctx context.Context, accountID int64) error {
	if err := s.repo.DeleteAccount(ctx, accountID); err != nil {
		return apperrors.NewDatabaseError("delete account", err)
	}
	s.accounts.Invalidate()
	s.allowLists.Invalidate(accountID)
	s.alerter.Forget(accountID)

	if err := s.cursors.Delete(ctx, accountID); err != nil {
		return apperrors.NewDatabaseError("delete cursor", err)
	}

	s.logger.WithFields(accountFields(ctx, accountID)).Info("Removed account")
	return nil
}

// Deregister removes an account whose credentials can no longer be used and
// tells both the operator and the account's chat. It runs on the account's
// own worker, so it does not wait for that worker.
func (s *AccountService) Deregister(ctx context.Context, account *models.Account, cause error) error {
	err := s.removeAccount(ctx, account.AccountID)
	s.metrics.IncrementCounter(metrics.AccountsDeregisteredTotal, nil, "Accounts removed after unrecoverable errors")

	fields := accountFields(ctx, account.AccountID)
	apperrors.WrapLogger(s.logger).LogError(cause, "Deregistering account", fields)

	s.alerter.Notify(ctx, "Account deregistered\n"+apperrors.BuildAlertMessage(cause, account.SourceUserID))
	if notifyErr := s.chat.NotifyAccount(ctx, account.AccountID, deregisteredNotice); notifyErr != nil {
		s.logger.WithFields(fields).WithError(notifyErr).Warn("Failed to notify account chat")
	}
	return err
}

// Contacts returns the stored allow-list entries of an account
func (s *AccountService) Contacts(ctx context.Context, accountID int64) ([]models.AllowListEntry, error) {
	if _, err := s.Account(ctx, accountID); err != nil {
		return nil, err
	}
	entries, err := s.repo.FindAllowList(ctx, accountID)
	if err != nil {
		return nil, apperrors.NewDatabaseError("find allow-list", err)
	}
	return entries, nil
}

// AddContact admits a VK contact into an account's chat, updating the display name of an existing entry
func (s *AccountService) AddContact(ctx context.Context, entry *models.AllowListEntry) error {
	if entry.SourceContactID == 0 {
		return apperrors.NewValidationError("contact_id", "contact_id is required")
	}
	if _, err := s.Account(ctx, entry.AccountID); err != nil {
		return err
	}
	entry.DisplayName = strings.TrimSpace(entry.DisplayName)
	if err := validation.ValidateDisplayName(entry.DisplayName); err != nil {
		return err
	}

	if err := s.repo.AddAllowListEntry(ctx, entry); err != nil {
		return apperrors.NewDatabaseError("add allow-list entry", err)
	}
	s.allowLists.Invalidate(entry.AccountID)

	fields := accountFields(ctx, entry.AccountID)
	fields[LogFieldContactID] = contactField(ctx, entry.SourceContactID)
	s.logger.WithFields(fields).Info("Added contact to allow-list")
	return nil
}

// RemoveContact drops a contact from an account's allow-list
func (s *AccountService) RemoveContact(ctx context.Context, accountID, contactID int64) error {
	if err := s.repo.RemoveAllowListEntry(ctx, accountID, contactID); err != nil {
		return apperrors.NewDatabaseError("remove allow-list entry", err)
	}
	s.allowLists.Invalidate(accountID)
	return nil
}
