package pii

import "regexp"

// Record is a flat field mapping decoded from a record's serialized payload.
// Only string values are ever classified or redacted; everything else passes
// through untouched.
type Record map[string]any

// Kind identifies the redaction transform applied to a flagged field.
type Kind int

const (
	// KindPhone keeps the first and last two digits of a 10-digit number.
	KindPhone Kind = iota
	// KindAadhar keeps the outer 4-digit groups of a 12-digit Aadhar number.
	KindAadhar
	// KindPassport keeps the first and last character.
	KindPassport
	// KindIdentifier masks the local part of an email or UPI handle, keeping
	// the domain intact.
	KindIdentifier
	// KindName keeps each name token's initial.
	KindName
	// KindText replaces the value with a placeholder carrying its length.
	KindText
)

// FieldRule describes how a standalone PII field is recognized and redacted.
// The pattern is anchored at the start of the value only; trailing characters
// after a valid match are tolerated.
type FieldRule struct {
	Field   string
	Pattern *regexp.Regexp
	Kind    Kind
}

// ProcessResult contains the result of scanning a single record
type ProcessResult struct {
	Redacted Record   `json:"redacted"`
	Fields   []string `json:"fields,omitempty"`
	IsPII    bool     `json:"is_pii"`
}
