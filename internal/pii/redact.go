package pii

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// redactedIDPlaceholder replaces identifiers that cannot be split into a
// local part and domain.
const redactedIDPlaceholder = "[REDACTED_ID]"

// Redact produces the masked form of value for the given kind. It is a pure
// function and never fails: values too short for a kind's boundary-preserving
// transform fall back to the generic length placeholder. Redacting an
// already-redacted value is out of contract.
func Redact(kind Kind, value string) string {
	switch kind {
	case KindPhone:
		return redactPhone(value)
	case KindAadhar:
		return redactAadhar(value)
	case KindPassport:
		return redactPassport(value)
	case KindIdentifier:
		return redactIdentifier(value)
	case KindName:
		return redactName(value)
	default:
		return redactText(value)
	}
}

// redactPhone keeps the first two and last two characters: 9876543210
// becomes 98XXXXXX10.
func redactPhone(value string) string {
	r := []rune(value)
	if len(r) < 4 {
		return redactText(value)
	}
	return string(r[:2]) + "XXXXXX" + string(r[len(r)-2:])
}

// redactAadhar strips internal spaces and keeps the outer 4-digit groups:
// "1234 5678 9012" becomes "1234 XXXX 9012".
func redactAadhar(value string) string {
	clean := strings.ReplaceAll(value, " ", "")
	r := []rune(clean)
	if len(r) < 8 {
		return redactText(value)
	}
	return string(r[:4]) + " XXXX " + string(r[len(r)-4:])
}

// redactPassport keeps the first and last character: A1234567 becomes
// AXXXXXX7.
func redactPassport(value string) string {
	r := []rune(value)
	if len(r) < 2 {
		return redactText(value)
	}
	return string(r[:1]) + "XXXXXX" + string(r[len(r)-1:])
}

// redactIdentifier masks the local part of an email address or UPI handle,
// keeping the domain intact. Values without exactly one "@" collapse to a
// fixed placeholder.
func redactIdentifier(value string) string {
	parts := strings.Split(value, "@")
	if len(parts) != 2 {
		return redactedIDPlaceholder
	}

	user := []rune(parts[0])
	if len(user) <= 2 {
		return "X@" + parts[1]
	}
	masked := string(user[:2]) + strings.Repeat("X", len(user)-3) + string(user[len(user)-1:])
	return masked + "@" + parts[1]
}

// redactName keeps each token's initial: "John Smith" becomes "JXXX SXXXX".
// Single-character tokens pass through unchanged.
func redactName(value string) string {
	parts := strings.Fields(value)
	for i, p := range parts {
		r := []rune(p)
		if len(r) > 1 {
			parts[i] = string(r[:1]) + strings.Repeat("X", len(r)-1)
		}
	}
	return strings.Join(parts, " ")
}

// redactText discards the value entirely, reporting only its length.
func redactText(value string) string {
	return fmt.Sprintf("[REDACTED_%d_CHARS]", utf8.RuneCountInString(value))
}
