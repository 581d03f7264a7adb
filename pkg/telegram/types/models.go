package types

import (
	"fmt"
	"net/http"
	"time"
)

// Parse modes accepted by the Bot API
const (
	ParseModeMarkdown = "Markdown"
	ParseModeNone     = ""
)

type SendMessageRequest struct {
	ChatID    int64  `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode,omitempty"`
}

type SendPhotoRequest struct {
	ChatID  int64  `json:"chat_id"`
	Photo   string `json:"photo"`
	Caption string `json:"caption,omitempty"`
}

type InputMediaPhoto struct {
	Type  string `json:"type"`
	Media string `json:"media"`
}

type SendMediaGroupRequest struct {
	ChatID int64             `json:"chat_id"`
	Media  []InputMediaPhoto `json:"media"`
}

// Message is the part of a sent message the bridge cares about
type Message struct {
	MessageID int64 `json:"message_id"`
	Date      int64 `json:"date"`
}

type ResponseParameters struct {
	RetryAfter int `json:"retry_after"`
}

// Response is the Bot API envelope
type Response[T any] struct {
	OK          bool                `json:"ok"`
	Result      T                   `json:"result"`
	ErrorCode   int                 `json:"error_code"`
	Description string              `json:"description"`
	Parameters  *ResponseParameters `json:"parameters"`
}

// APIError is a Bot API error reply
type APIError struct {
	Method      string
	Code        int
	Description string
	RetryAfterS int
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram %s failed: %d %s", e.Method, e.Code, e.Description)
}

// RetryAfter returns the flood-control wait Telegram asked for
func (e *APIError) RetryAfter() time.Duration {
	return time.Duration(e.RetryAfterS) * time.Second
}

// Temporary reports whether repeating the same request may succeed
func (e *APIError) Temporary() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= http.StatusInternalServerError
}
