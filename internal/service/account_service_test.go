package service

import (
	"context"
	"testing"
	"time"

	apperrors "forwardbot/internal/errors"
	"forwardbot/internal/metrics"
	"forwardbot/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type accountServiceFixture struct {
	repo       *memRepository
	cursors    *memCursorStore
	accounts   *AccountCache
	allowLists *AllowListCache
	notifier   *recordingNotifier
	registry   *metrics.Registry
	svc        *AccountService
}

func newAccountServiceFixture() *accountServiceFixture {
	f := &accountServiceFixture{
		repo:     newMemRepository(),
		cursors:  newMemCursorStore(),
		notifier: &recordingNotifier{},
		registry: metrics.NewRegistry(),
	}
	logger := newTestLogger()
	f.accounts = NewAccountCache(f.repo, time.Hour)
	f.allowLists = NewAllowListCache(f.repo, 100, time.Hour)
	alerter := NewAlerter(f.notifier, 5, f.registry, logger)
	f.svc = NewAccountService(f.repo, f.cursors, f.accounts, f.allowLists, alerter, f.notifier, f.registry, logger)
	return f
}

func TestAccountCache_LoadsOnceUntilInvalidated(t *testing.T) {
	f := newAccountServiceFixture()
	ctx := context.Background()
	f.repo.accounts[42] = models.Account{AccountID: 42}

	for i := 0; i < 3; i++ {
		accounts, err := f.accounts.Accounts(ctx)
		require.NoError(t, err)
		assert.Len(t, accounts, 1)
	}
	assert.Equal(t, 1, f.repo.accountReads)

	f.accounts.Invalidate()
	_, err := f.accounts.Accounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, f.repo.accountReads)
}

func TestAllowListCache_ErrorsAreNotCached(t *testing.T) {
	f := newAccountServiceFixture()
	ctx := context.Background()
	f.repo.allowListErr = assert.AnError

	_, err := f.allowLists.Get(ctx, 42)
	assert.ErrorIs(t, err, assert.AnError)

	f.repo.allowListErr = nil
	list, err := f.allowLists.Get(ctx, 42)
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.Equal(t, 2, f.repo.allowListReads)
}

func TestAccountService_RegisterAccount(t *testing.T) {
	f := newAccountServiceFixture()
	ctx := context.Background()
	f.cursors.cursors[42] = models.Cursor{AccountID: 42, Position: 100}

	// prime the cache so the registration has something to invalidate
	accounts, err := f.svc.Accounts(ctx)
	require.NoError(t, err)
	require.Empty(t, accounts)

	err = f.svc.RegisterAccount(ctx, &models.Account{AccountID: 42, SourceUserID: 1001, SourceToken: "new-token"})
	require.NoError(t, err)

	accounts, err = f.svc.Accounts(ctx)
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.Equal(t, "new-token", accounts[0].SourceToken)

	_, ok := f.cursors.get(42)
	assert.False(t, ok, "cursor of the previous token must be dropped")
}

func TestAccountService_RegisterAccountValidation(t *testing.T) {
	f := newAccountServiceFixture()

	tests := []struct {
		name    string
		account models.Account
		field   string
	}{
		{"missing account id", models.Account{SourceUserID: 1, SourceToken: "t"}, "account_id"},
		{"missing source user", models.Account{AccountID: 1, SourceToken: "t"}, "source_user_id"},
		{"blank token", models.Account{AccountID: 1, SourceUserID: 1, SourceToken: "  "}, "source_token"},
		{"token with whitespace", models.Account{AccountID: 1, SourceUserID: 1, SourceToken: "ab cd"}, "source_token"},
		{"negative threshold", models.Account{AccountID: 1, SourceUserID: 1, SourceToken: "t", MaxExceptionCount: -1}, "max_exception_count"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := f.svc.RegisterAccount(context.Background(), &tt.account)
			require.Error(t, err)
			assert.Equal(t, apperrors.ErrCodeInvalidInput, apperrors.GetCode(err))
		})
	}
	assert.Empty(t, f.repo.accounts)
}

func TestAccountService_ContactsInvalidateAllowList(t *testing.T) {
	f := newAccountServiceFixture()
	ctx := context.Background()
	f.repo.accounts[42] = models.Account{AccountID: 42}

	list, err := f.allowLists.Get(ctx, 42)
	require.NoError(t, err)
	assert.True(t, list.Admits(9), "empty allow-list admits everyone")

	require.NoError(t, f.svc.AddContact(ctx, &models.AllowListEntry{AccountID: 42, SourceContactID: 7, DisplayName: " Alice "}))

	list, err = f.allowLists.Get(ctx, 42)
	require.NoError(t, err)
	assert.True(t, list.Admits(7))
	assert.False(t, list.Admits(9))
	assert.Equal(t, "Alice", list.DisplayName(7))

	entries, err := f.svc.Contacts(ctx, 42)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	require.NoError(t, f.svc.RemoveContact(ctx, 42, 7))
	list, err = f.allowLists.Get(ctx, 42)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestAccountService_AddContactUnknownAccount(t *testing.T) {
	f := newAccountServiceFixture()

	err := f.svc.AddContact(context.Background(), &models.AllowListEntry{AccountID: 42, SourceContactID: 7})

	assert.Equal(t, apperrors.ErrCodeNotFound, apperrors.GetCode(err))
}

func TestAccountService_AddContactRejectsControlCharacters(t *testing.T) {
	f := newAccountServiceFixture()
	f.repo.accounts[42] = models.Account{AccountID: 42}

	err := f.svc.AddContact(context.Background(), &models.AllowListEntry{AccountID: 42, SourceContactID: 7, DisplayName: "Al\nice"})

	assert.Equal(t, apperrors.ErrCodeInvalidInput, apperrors.GetCode(err))
	assert.Empty(t, f.repo.allowLists[42])
}

func TestAccountService_RemoveAccountIsIdempotent(t *testing.T) {
	f := newAccountServiceFixture()
	ctx := context.Background()
	f.repo.accounts[42] = models.Account{AccountID: 42}
	f.repo.allowLists[42] = []models.AllowListEntry{{AccountID: 42, SourceContactID: 7}}
	f.cursors.cursors[42] = models.Cursor{AccountID: 42, Position: 100}

	require.NoError(t, f.svc.RemoveAccount(ctx, 42))
	require.NoError(t, f.svc.RemoveAccount(ctx, 42))

	assert.Empty(t, f.repo.accounts)
	assert.Empty(t, f.repo.allowLists)
	_, ok := f.cursors.get(42)
	assert.False(t, ok)
}

func TestAccountService_Deregister(t *testing.T) {
	f := newAccountServiceFixture()
	ctx := context.Background()
	account := models.Account{AccountID: 42, SourceUserID: 1001, SourceToken: "t"}
	f.repo.accounts[42] = account
	f.cursors.cursors[42] = models.Cursor{AccountID: 42, Position: 100}

	cause := apperrors.NewAccountUnrecoverableError(42, "source credentials revoked", assert.AnError)
	require.NoError(t, f.svc.Deregister(ctx, &account, cause))

	assert.Empty(t, f.repo.accounts)
	_, ok := f.cursors.get(42)
	assert.False(t, ok)

	operator := f.notifier.operatorMessages()
	require.Len(t, operator, 1)
	assert.Contains(t, operator[0], "Account deregistered")
	assert.Contains(t, operator[0], "vkUserId = 1001")
	assert.Equal(t, []string{deregisteredNotice}, f.notifier.chatMessages(42))
	assert.Equal(t, float64(1), f.registry.CounterValue(metrics.AccountsDeregisteredTotal, nil))
}
