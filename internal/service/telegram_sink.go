package service

import (
	"context"
	"strings"

	"forwardbot/internal/constants"
	"forwardbot/internal/models"
	tgtypes "forwardbot/pkg/telegram/types"

	"github.com/sirupsen/logrus"
)

// TelegramSink delivers forwarded messages into the account's Telegram chat:
// the formatted text first, then photos as a single photo or media groups.
type TelegramSink struct {
	client tgtypes.Client
	logger *logrus.Logger
}

var _ Sink = (*TelegramSink)(nil)

func NewTelegramSink(client tgtypes.Client, logger *logrus.Logger) *TelegramSink {
	return &TelegramSink{client: client, logger: logger}
}

// Send is a no-op for a zero chat id or a message with neither text nor attachments
func (s *TelegramSink) Send(ctx context.Context, msg *models.ForwardableMessage) error {
	if msg == nil || msg.AccountID == 0 {
		return nil
	}
	if strings.TrimSpace(msg.Text) == "" && len(msg.Attachments) == 0 {
		return nil
	}

	if _, err := s.client.SendMessage(ctx, msg.AccountID, FormatMessage(msg), tgtypes.ParseModeMarkdown); err != nil {
		return err
	}

	photos := msg.Photos()
	for len(photos) > 0 {
		n := min(len(photos), constants.DefaultTelegramMediaGroupSize)
		batch := photos[:n]
		photos = photos[n:]

		var err error
		if len(batch) == 1 {
			_, err = s.client.SendPhoto(ctx, msg.AccountID, batch[0])
		} else {
			_, err = s.client.SendMediaGroup(ctx, msg.AccountID, batch)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// NotifyAccount sends a plain notice to an account's chat
func (s *TelegramSink) NotifyAccount(ctx context.Context, accountID int64, message string) error {
	if accountID == 0 || strings.TrimSpace(message) == "" {
		return nil
	}
	_, err := s.client.SendMessage(ctx, accountID, message, tgtypes.ParseModeNone)
	return err
}
