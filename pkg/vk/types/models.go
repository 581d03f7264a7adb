package types

import (
	"encoding/json"
	"fmt"
)

// APIError is the error object VK returns in place of "response"
type APIError struct {
	Code    int    `json:"error_code"`
	Message string `json:"error_msg"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("vk api error %d: %s", e.Code, e.Message)
}

// VK error codes the bridge reacts to
const (
	ErrCodeAuthFailed   = 5
	ErrCodeTooMany      = 6
	ErrCodeAccessDenied = 15
)

// Envelope wraps every VK method response
type Envelope struct {
	Response json.RawMessage `json:"response"`
	Error    *APIError       `json:"error"`
}

// LongPollServer is the result of messages.getLongPollServer
type LongPollServer struct {
	Server string `json:"server"`
	Key    string `json:"key"`
	TS     int64  `json:"ts"`
}

// PollResponse is the raw body of a long-poll a_check request
type PollResponse struct {
	TS      int64             `json:"ts"`
	Failed  int               `json:"failed"`
	Updates []json.RawMessage `json:"updates"`
}

// PollResult is a successful long-poll round
type PollResult struct {
	TS     int64
	Events []MessageEvent
}

// Long-poll event codes and flags
const (
	EventNewMessage = 4
	FlagOutbox      = 2
)

// MessageEvent is a decoded new-message (code 4) update
type MessageEvent struct {
	MessageID   int64
	Flags       int64
	PeerID      int64
	Timestamp   int64
	Text        string
	Attachments []AttachmentRef
}

// Outbox reports whether the account owner sent the message
func (e MessageEvent) Outbox() bool {
	return e.Flags&FlagOutbox != 0
}

// AttachmentRef is one attachN_type/attachN pair from the event extras.
// For photos ID is "<owner>_<photo>".
type AttachmentRef struct {
	Type string
	ID   string
}

// PhotoSize is one rendition in the sizes array of a photo
type PhotoSize struct {
	Type   string `json:"type"`
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// Photo is a photo object as returned by messages.getHistoryAttachments.
// Older API versions fill the photo_NNN fields, newer ones only the sizes array.
type Photo struct {
	ID        int64       `json:"id"`
	OwnerID   int64       `json:"owner_id"`
	Photo2560 string      `json:"photo_2560"`
	Photo1280 string      `json:"photo_1280"`
	Photo807  string      `json:"photo_807"`
	Photo604  string      `json:"photo_604"`
	Photo130  string      `json:"photo_130"`
	Photo75   string      `json:"photo_75"`
	Sizes     []PhotoSize `json:"sizes"`
}

// sizeTypeByWidth maps ladder widths onto the sizes[].type letters VK uses for them
var sizeTypeByWidth = map[int]string{
	2560: "w",
	1280: "z",
	807:  "y",
	604:  "x",
	130:  "m",
	75:   "s",
}

// URLForWidth returns the rendition for a ladder width, or "" when VK has none
func (p *Photo) URLForWidth(width int) string {
	var legacy string
	switch width {
	case 2560:
		legacy = p.Photo2560
	case 1280:
		legacy = p.Photo1280
	case 807:
		legacy = p.Photo807
	case 604:
		legacy = p.Photo604
	case 130:
		legacy = p.Photo130
	case 75:
		legacy = p.Photo75
	}
	if legacy != "" {
		return legacy
	}

	want, ok := sizeTypeByWidth[width]
	if !ok {
		return ""
	}
	for _, s := range p.Sizes {
		if s.Type == want {
			return s.URL
		}
	}
	return ""
}

// HistoryAttachment is one item of messages.getHistoryAttachments
type HistoryAttachment struct {
	MessageID  int64 `json:"message_id"`
	Attachment struct {
		Type  string `json:"type"`
		Photo *Photo `json:"photo"`
	} `json:"attachment"`
}

// HistoryAttachmentsResponse is the response of messages.getHistoryAttachments
type HistoryAttachmentsResponse struct {
	Items    []HistoryAttachment `json:"items"`
	NextFrom string              `json:"next_from"`
}
