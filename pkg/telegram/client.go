package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"forwardbot/internal/constants"
	"forwardbot/internal/retry"
	"forwardbot/pkg/circuitbreaker"
	"forwardbot/pkg/telegram/types"

	"github.com/sirupsen/logrus"
)

type TelegramClient struct {
	baseURL string
	token   string
	client  *http.Client
	backoff *retry.Backoff
	breaker *circuitbreaker.CircuitBreaker
	logger  *logrus.Logger
}

var _ types.Client = (*TelegramClient)(nil)

// Config bundles the client dependencies; zero values get defaults
type Config struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	Backoff    *retry.Backoff
	Breaker    *circuitbreaker.CircuitBreaker
	Logger     *logrus.Logger
}

func NewClient(cfg Config) *TelegramClient {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
		cfg.Logger.SetLevel(logrus.WarnLevel)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = constants.DefaultTelegramAPIBaseURL
	}
	if cfg.Backoff == nil {
		cfg.Backoff = retry.NewBackoff(retry.DefaultBackoffConfig())
	}
	if cfg.Breaker == nil {
		cfg.Breaker = circuitbreaker.New("telegram", 5, 30*time.Second,
			circuitbreaker.WithLogger(cfg.Logger),
			circuitbreaker.WithFailurePredicate(IsTransient),
		)
	}

	return &TelegramClient{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		token:   cfg.Token,
		client:  cfg.HTTPClient,
		backoff: cfg.Backoff,
		breaker: cfg.Breaker,
		logger:  cfg.Logger,
	}
}

// SendMessage sends text to a chat. A Markdown message Telegram cannot parse is resent as plain text.
func (c *TelegramClient) SendMessage(ctx context.Context, chatID int64, text, parseMode string) (*types.Message, error) {
	var msg types.Message
	err := c.do(ctx, "sendMessage", types.SendMessageRequest{ChatID: chatID, Text: text, ParseMode: parseMode}, &msg)
	if err != nil && parseMode != types.ParseModeNone && isEntityParseError(err) {
		c.logger.WithField("chat_id", chatID).Debug("Markdown rejected, resending as plain text")
		err = c.do(ctx, "sendMessage", types.SendMessageRequest{ChatID: chatID, Text: text}, &msg)
	}
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// SendPhoto sends a single photo by URL
func (c *TelegramClient) SendPhoto(ctx context.Context, chatID int64, photoURL string) (*types.Message, error) {
	var msg types.Message
	if err := c.do(ctx, "sendPhoto", types.SendPhotoRequest{ChatID: chatID, Photo: photoURL}, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// SendMediaGroup sends 2 to 10 photos as one album
func (c *TelegramClient) SendMediaGroup(ctx context.Context, chatID int64, photoURLs []string) ([]types.Message, error) {
	if len(photoURLs) < 2 || len(photoURLs) > constants.DefaultTelegramMediaGroupSize {
		return nil, fmt.Errorf("media group needs 2 to %d photos, got %d", constants.DefaultTelegramMediaGroupSize, len(photoURLs))
	}

	media := make([]types.InputMediaPhoto, 0, len(photoURLs))
	for _, u := range photoURLs {
		media = append(media, types.InputMediaPhoto{Type: "photo", Media: u})
	}

	var msgs []types.Message
	if err := c.do(ctx, "sendMediaGroup", types.SendMediaGroupRequest{ChatID: chatID, Media: media}, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// do runs one Bot API call through the circuit breaker, retrying transient failures
func (c *TelegramClient) do(ctx context.Context, method string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s request: %w", method, err)
	}

	return c.breaker.Execute(ctx, func(ctx context.Context) error {
		return c.backoff.RetryWithPredicate(ctx, func() error {
			return c.post(ctx, method, body, out)
		}, IsTransient)
	})
}

func (c *TelegramClient) post(ctx context.Context, method string, body []byte, out interface{}) error {
	endpoint := fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		// The URL embeds the bot token; keep it out of error messages
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			err = urlErr.Err
		}
		return fmt.Errorf("telegram %s request failed: %w", method, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read %s response: %w", method, err)
	}

	var envelope types.Response[json.RawMessage]
	if err := json.Unmarshal(raw, &envelope); err != nil {
		if resp.StatusCode != http.StatusOK {
			return &types.APIError{Method: method, Code: resp.StatusCode, Description: http.StatusText(resp.StatusCode)}
		}
		return fmt.Errorf("failed to decode %s response: %w", method, err)
	}

	if !envelope.OK {
		apiErr := &types.APIError{Method: method, Code: envelope.ErrorCode, Description: envelope.Description}
		if apiErr.Code == 0 {
			apiErr.Code = resp.StatusCode
		}
		if envelope.Parameters != nil {
			apiErr.RetryAfterS = envelope.Parameters.RetryAfter
		}
		return apiErr
	}

	if out != nil && len(envelope.Result) > 0 {
		if err := json.Unmarshal(envelope.Result, out); err != nil {
			return fmt.Errorf("failed to decode %s result: %w", method, err)
		}
	}
	return nil
}

// IsTransient reports whether err is worth retrying: flood control, server errors and network failures
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *types.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Temporary()
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func isEntityParseError(err error) bool {
	var apiErr *types.APIError
	return errors.As(err, &apiErr) &&
		apiErr.Code == http.StatusBadRequest &&
		strings.Contains(apiErr.Description, "can't parse entities")
}
