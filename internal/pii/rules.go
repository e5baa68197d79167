package pii

import (
	"regexp"
	"strings"
)

// Validators for standalone fields. All standalone patterns match a prefix of
// the value rather than the full string: "9876543210extra" still counts as a
// phone number. This mirrors long-observed detection behavior; tightening it
// would silently change which records get flagged.
var (
	phonePattern    = regexp.MustCompile(`^\d{10}`)
	aadharPattern   = regexp.MustCompile(`^\d{4}\s?\d{4}\s?\d{4}`)
	passportPattern = regexp.MustCompile(`^[A-Z]\d{7}`)
	upiPattern      = regexp.MustCompile(`^[\w.-]+@[\w.-]+`)

	// emailPattern is full-string: it gates combinatorial eligibility, not
	// standalone detection.
	emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
)

// DefaultRules returns the standalone field rules. A match on any of these
// flags the record on its own.
func DefaultRules() []FieldRule {
	return []FieldRule{
		{Field: "phone", Pattern: phonePattern, Kind: KindPhone},
		{Field: "contact", Pattern: phonePattern, Kind: KindPhone},
		{Field: "aadhar", Pattern: aadharPattern, Kind: KindAadhar},
		{Field: "passport", Pattern: passportPattern, Kind: KindPassport},
		{Field: "upi_id", Pattern: upiPattern, Kind: KindIdentifier},
	}
}

// combinatorialFields lists the quasi-identifiers in evaluation order. None
// of these is sensitive alone; two or more together identify a person.
var combinatorialFields = []string{"name", "email", "address", "device_id", "ip_address"}

// combinatorialKinds maps each quasi-identifier to its redaction transform.
var combinatorialKinds = map[string]Kind{
	"name":       KindName,
	"email":      KindIdentifier,
	"address":    KindText,
	"device_id":  KindText,
	"ip_address": KindText,
}

// combinatorialThreshold is the minimum number of eligible quasi-identifiers
// that makes a record combinatorial PII.
const combinatorialThreshold = 2

// eligible reports whether a quasi-identifier value counts toward the
// combinatorial threshold.
func eligible(field, value string) bool {
	if value == "" {
		return false
	}
	switch field {
	case "name":
		// A bare single name is never eligible.
		return len(strings.Fields(value)) >= 2
	case "email":
		return emailPattern.MatchString(value)
	default:
		return true
	}
}
