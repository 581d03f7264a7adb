package types

import "context"

// Client is the subset of the Telegram Bot API the bridge uses
type Client interface {
	SendMessage(ctx context.Context, chatID int64, text, parseMode string) (*Message, error)
	SendPhoto(ctx context.Context, chatID int64, photoURL string) (*Message, error)
	SendMediaGroup(ctx context.Context, chatID int64, photoURLs []string) ([]Message, error)
}
