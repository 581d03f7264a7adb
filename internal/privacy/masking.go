package privacy

import (
	"strconv"
	"strings"

	"forwardbot/internal/constants"
)

// MaskToken hides an access token, keeping only the last few characters
// Example: "vk1.a.abcdef123456" -> "**************3456"
func MaskToken(token string) string {
	if token == "" {
		return ""
	}
	return maskString(token, constants.DefaultTokenVisibleChars)
}

// MaskID masks a numeric platform identifier (chat id, user id, contact id)
// Example: 123456789 -> "******789", -100123 -> "-***123"
func MaskID(id int64) string {
	s := strconv.FormatInt(id, 10)
	if strings.HasPrefix(s, "-") {
		return "-" + maskString(s[1:], constants.DefaultIDVisibleChars)
	}
	return maskString(s, constants.DefaultIDVisibleChars)
}

// MaskURL keeps scheme and host of a long-poll server address and hides the path
// Example: "https://im.vk.com/nim123" -> "https://im.vk.com/***"
func MaskURL(raw string) string {
	if raw == "" {
		return ""
	}
	rest := raw
	scheme := ""
	if i := strings.Index(raw, "://"); i >= 0 {
		scheme = raw[:i+3]
		rest = raw[i+3:]
	}
	host, _, found := strings.Cut(rest, "/")
	if !found {
		return raw
	}
	return scheme + host + "/***"
}

// maskString masks a string showing only the last n characters
func maskString(s string, keepLast int) string {
	if s == "" {
		return ""
	}

	if len(s) <= keepLast {
		return strings.Repeat("*", len(s))
	}

	return strings.Repeat("*", len(s)-keepLast) + s[len(s)-keepLast:]
}

// MaskSensitiveFields applies appropriate masking to common logging fields
func MaskSensitiveFields(fields map[string]interface{}) map[string]interface{} {
	if fields == nil {
		return nil
	}

	masked := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		switch k {
		case "token", "access_token", "source_token", "key":
			if s, ok := v.(string); ok {
				masked[k] = MaskToken(s)
			} else {
				masked[k] = v
			}
		case "account_id", "chat_id", "source_user_id", "contact_id", "peer_id":
			switch id := v.(type) {
			case int64:
				masked[k] = MaskID(id)
			case int:
				masked[k] = MaskID(int64(id))
			case string:
				masked[k] = maskString(id, constants.DefaultIDVisibleChars)
			default:
				masked[k] = v
			}
		case "server":
			if s, ok := v.(string); ok {
				masked[k] = MaskURL(s)
			} else {
				masked[k] = v
			}
		default:
			masked[k] = v
		}
	}

	return masked
}
