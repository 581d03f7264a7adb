package service

import (
	"strings"

	"forwardbot/internal/models"
)

const (
	inboundLabel            = "From:"
	outboundLabel           = "To:"
	unsupportedAttachments  = "Unsupported attachments:"
	unsupportedAttachmentLn = " - "
)

// FormatMessage renders the Markdown text of a forwarded message:
//
//	_From:_ ***Name***
//	text
//	Unsupported attachments:
//	 - sticker
func FormatMessage(msg *models.ForwardableMessage) string {
	label := inboundLabel
	if msg.Direction == models.Outbound {
		label = outboundLabel
	}

	var sb strings.Builder
	sb.WriteString("_" + label + "_ ")
	sb.WriteString("***" + escapeMarkdown(msg.DisplayName) + "***\n")
	sb.WriteString(msg.Text)
	sb.WriteString("\n")

	if labels := msg.UnsupportedLabels(); len(labels) > 0 {
		sb.WriteString(unsupportedAttachments)
		for _, l := range labels {
			sb.WriteString("\n" + unsupportedAttachmentLn + l)
		}
	}
	return sb.String()
}

var markdownEscaper = strings.NewReplacer("*", "", "_", "", "`", "", "[", "")

// escapeMarkdown strips characters that would break the header markup
func escapeMarkdown(s string) string {
	return markdownEscaper.Replace(s)
}
