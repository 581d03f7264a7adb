package models

// Direction tells whether a VK message was received or sent by the account owner
type Direction int

const (
	Inbound Direction = iota
	Outbound
)

func (d Direction) String() string {
	if d == Outbound {
		return "outbound"
	}
	return "inbound"
}

// AttachmentRef is a raw attachment reference taken from a long-poll event.
// It is either a PhotoRef or an UnsupportedRef.
type AttachmentRef interface {
	attachmentRef()
}

// PhotoRef points at a photo stored by VK as "<owner>_<id>"
type PhotoRef struct {
	OwnerID int64
	PhotoID int64
}

// UnsupportedRef carries the VK type label of anything that is not a photo
type UnsupportedRef struct {
	Label string
}

func (PhotoRef) attachmentRef()       {}
func (UnsupportedRef) attachmentRef() {}

// InboundEvent is one new-message event from the long-poll stream
type InboundEvent struct {
	MessageID       int64
	SourceContactID int64
	RawText         string
	Direction       Direction
	Attachments     []AttachmentRef
}

type AttachmentKind string

const (
	AttachmentPhoto       AttachmentKind = "photo"
	AttachmentUnsupported AttachmentKind = "unsupported"
)

// Attachment is a resolved attachment. Value is a URL for photos and the VK
// type label for unsupported kinds.
type Attachment struct {
	Kind  AttachmentKind `json:"kind"`
	Value string         `json:"value"`
}

// ForwardableMessage is what gets dispatched to the Telegram chat of an account
type ForwardableMessage struct {
	AccountID   int64        `json:"account_id"`
	DisplayName string       `json:"display_name"`
	Text        string       `json:"text"`
	Direction   Direction    `json:"direction"`
	Attachments []Attachment `json:"attachments"`
}

// Photos returns the photo URLs in order
func (m *ForwardableMessage) Photos() []string {
	var urls []string
	for _, a := range m.Attachments {
		if a.Kind == AttachmentPhoto {
			urls = append(urls, a.Value)
		}
	}
	return urls
}

// UnsupportedLabels returns the labels of attachments that cannot be forwarded as media
func (m *ForwardableMessage) UnsupportedLabels() []string {
	var labels []string
	for _, a := range m.Attachments {
		if a.Kind == AttachmentUnsupported {
			labels = append(labels, a.Value)
		}
	}
	return labels
}
