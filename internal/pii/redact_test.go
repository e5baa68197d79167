package pii

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestRedact(t *testing.T) {
	tests := []struct {
		name  string
		kind  Kind
		value string
		want  string
	}{
		{"Phone", KindPhone, "9876543210", "98XXXXXX10"},
		{"PhoneTooShort", KindPhone, "98", "[REDACTED_2_CHARS]"},
		{"AadharSpaced", KindAadhar, "1234 5678 9012", "1234 XXXX 9012"},
		{"AadharCompact", KindAadhar, "123456789012", "1234 XXXX 9012"},
		{"Passport", KindPassport, "A1234567", "AXXXXXX7"},
		{"PassportTooShort", KindPassport, "A", "[REDACTED_1_CHARS]"},
		{"Email", KindIdentifier, "john.doe@mail.com", "joXXXXXe@mail.com"},
		{"ShortLocalPart", KindIdentifier, "ab@mail.com", "X@mail.com"},
		// A 3-char local part has nothing left to mask: first 2 + last 1.
		{"ThreeCharLocalPart", KindIdentifier, "abc@mail.com", "abc@mail.com"},
		{"NoAt", KindIdentifier, "not-an-email", "[REDACTED_ID]"},
		{"DoubleAt", KindIdentifier, "a@b@c", "[REDACTED_ID]"},
		{"Name", KindName, "John Smith", "JXXX SXXXX"},
		{"NameSingleCharToken", KindName, "J R Ewing", "J R EXXXX"},
		{"NameExtraWhitespace", KindName, "  Jane   Doe  ", "JXXX DXX"},
		{"Text", KindText, "221B Baker Street", "[REDACTED_17_CHARS]"},
		{"TextEmpty", KindText, "", "[REDACTED_0_CHARS]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Redact(tt.kind, tt.value); got != tt.want {
				t.Errorf("Redact(%v, %q) = %q, want %q", tt.kind, tt.value, got, tt.want)
			}
		})
	}
}

func TestRedactTextLengthSignal(t *testing.T) {
	// The embedded count must equal the original character count for any
	// length, so a reviewer can verify redaction ran without seeing content.
	for _, n := range []int{0, 1, 7, 64, 1023} {
		value := strings.Repeat("a", n)
		want := fmt.Sprintf("[REDACTED_%d_CHARS]", n)
		if got := Redact(KindText, value); got != want {
			t.Errorf("length %d: got %q, want %q", n, got, want)
		}
	}

	// Multi-byte runes count as single characters.
	value := "日本橋1-2-3"
	want := fmt.Sprintf("[REDACTED_%d_CHARS]", utf8.RuneCountInString(value))
	if got := Redact(KindText, value); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestRedactIdentifierKeepsDomain(t *testing.T) {
	got := Redact(KindIdentifier, "priya.sharma@okhdfcbank")
	if !strings.HasSuffix(got, "@okhdfcbank") {
		t.Errorf("Domain not preserved: %q", got)
	}
	if strings.Contains(strings.TrimSuffix(got, "@okhdfcbank")[2:], "sharma") {
		t.Errorf("Local part not masked: %q", got)
	}
}
