package validation

import (
	"fmt"
	"strings"
	"unicode"

	"forwardbot/internal/errors"
)

const (
	// MaxDisplayNameLength bounds the name rendered in forwarded headers
	MaxDisplayNameLength = 256
	maxSourceTokenLength = 512
)

// ValidateSourceToken checks a VK access token before it is stored
func ValidateSourceToken(token string) error {
	if strings.TrimSpace(token) == "" {
		return errors.New(errors.ErrCodeInvalidInput, "source_token is required")
	}
	if err := ValidateStringLength(token, "source_token", 1, maxSourceTokenLength); err != nil {
		return err
	}
	for _, r := range token {
		if unicode.IsSpace(r) || !unicode.IsPrint(r) {
			return errors.New(errors.ErrCodeInvalidInput, "source_token contains invalid characters")
		}
	}
	return nil
}

// ValidateDisplayName rejects names that would break the forwarded header.
// An empty name is allowed; the contact id is shown instead.
func ValidateDisplayName(name string) error {
	if err := ValidateStringLength(name, "display_name", 0, MaxDisplayNameLength); err != nil {
		return err
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return errors.New(errors.ErrCodeInvalidInput, "display_name contains control characters")
		}
	}
	return nil
}

// ValidateStringLength validates string length against bounds
func ValidateStringLength(value, fieldName string, minLength, maxLength int) error {
	if len(value) < minLength {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("%s too short (min %d characters)", fieldName, minLength))
	}

	if len(value) > maxLength {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("%s too long (max %d characters)", fieldName, maxLength))
	}

	return nil
}

// ValidateNumericRange validates numeric values against bounds
func ValidateNumericRange(value int, fieldName string, min, max int) error {
	if value < min {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("%s too small (min %d)", fieldName, min))
	}

	if value > max {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("%s too large (max %d)", fieldName, max))
	}

	return nil
}

// ValidateTimeout validates timeout values
func ValidateTimeout(timeoutSec int, fieldName string) error {
	if timeoutSec < 1 {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("%s must be at least 1 second", fieldName))
	}

	if timeoutSec > 3600 { // Max 1 hour
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("%s too large (max 3600 seconds)", fieldName))
	}

	return nil
}
