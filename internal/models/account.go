package models

import (
	"strconv"
	"time"
)

// Account is one user's VK subscription. AccountID is the Telegram chat that
// receives the forwarded messages.
type Account struct {
	AccountID         int64     `json:"account_id"`
	SourceUserID      int64     `json:"source_user_id"`
	SourceToken       string    `json:"-"`
	MaxExceptionCount int       `json:"max_exception_count"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// ExceptionThreshold returns the account threshold, or fallback when unset
func (a *Account) ExceptionThreshold(fallback int) int {
	if a.MaxExceptionCount > 0 {
		return a.MaxExceptionCount
	}
	return fallback
}

// AllowListEntry permits one VK contact to be forwarded into an account's chat
type AllowListEntry struct {
	ID              int64  `json:"id"`
	AccountID       int64  `json:"account_id"`
	SourceContactID int64  `json:"contact_id"`
	DisplayName     string `json:"display_name"`
}

// AllowList is the per-account lookup built from AllowListEntry rows.
// An empty AllowList admits every contact.
type AllowList map[int64]string

// NewAllowList indexes entries by contact id
func NewAllowList(entries []AllowListEntry) AllowList {
	list := make(AllowList, len(entries))
	for _, e := range entries {
		list[e.SourceContactID] = e.DisplayName
	}
	return list
}

// Admits reports whether messages from contactID should be forwarded
func (l AllowList) Admits(contactID int64) bool {
	if len(l) == 0 {
		return true
	}
	_, ok := l[contactID]
	return ok
}

// DisplayName returns the stored name for contactID, or "id<contactID>"
func (l AllowList) DisplayName(contactID int64) string {
	if name, ok := l[contactID]; ok && name != "" {
		return name
	}
	return "id" + strconv.FormatInt(contactID, 10)
}
