package models

import "time"

// Cursor is the resumable VK long-poll position of one account
type Cursor struct {
	AccountID int64     `json:"account_id"`
	Server    string    `json:"server"`
	Key       string    `json:"key"`
	Position  int64     `json:"position"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Usable reports whether the cursor can be polled with at now. A cursor is
// unusable when its position was never issued (<= 1) or when it is older
// than maxAge.
func (c *Cursor) Usable(now time.Time, maxAge time.Duration) bool {
	if c == nil || c.Position <= 1 {
		return false
	}
	return now.Sub(c.UpdatedAt) <= maxAge
}

// Advance moves the cursor to position without ever going backwards
func (c *Cursor) Advance(position int64, now time.Time) {
	if position > c.Position {
		c.Position = position
	}
	c.UpdatedAt = now
}
