package service

import (
	"context"

	"forwardbot/internal/models"
	vktypes "forwardbot/pkg/vk/types"
)

// CursorStore persists the long-poll cursor of each account.
// Load returns nil, nil when no cursor is stored; Delete is idempotent.
type CursorStore interface {
	Load(ctx context.Context, accountID int64) (*models.Cursor, error)
	Save(ctx context.Context, cursor *models.Cursor) error
	Delete(ctx context.Context, accountID int64) error
}

// Repository is the durable store of accounts and their allow-lists
type Repository interface {
	FindAccounts(ctx context.Context) ([]models.Account, error)
	FindAccount(ctx context.Context, accountID int64) (*models.Account, error)
	SaveAccount(ctx context.Context, account *models.Account) error
	DeleteAccount(ctx context.Context, accountID int64) error
	FindAllowList(ctx context.Context, accountID int64) ([]models.AllowListEntry, error)
	AddAllowListEntry(ctx context.Context, entry *models.AllowListEntry) error
	RemoveAllowListEntry(ctx context.Context, accountID, contactID int64) error
}

// SourceAPI is the VK surface the forwarding cycle needs
type SourceAPI = vktypes.Client

// Sink delivers a forwardable message to the account's Telegram chat
type Sink interface {
	Send(ctx context.Context, msg *models.ForwardableMessage) error
}

// Notifier reaches the operator
type Notifier interface {
	NotifyOperator(ctx context.Context, message string) error
}

// ChatNotifier sends a plain notice to an account's own chat
type ChatNotifier interface {
	NotifyAccount(ctx context.Context, accountID int64, message string) error
}

// AccountGate runs fn while no forwarding cycle of accountID is in flight
type AccountGate interface {
	Exclusive(ctx context.Context, accountID int64, fn func() error) error
}

type ungated struct{}

func (ungated) Exclusive(_ context.Context, _ int64, fn func() error) error {
	return fn()
}

// Cycle runs one poll-and-forward pass for an account
type Cycle interface {
	RunCycle(ctx context.Context, account *models.Account) CycleOutcome
}
