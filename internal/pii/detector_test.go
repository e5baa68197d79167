package pii

import (
	"testing"

	"github.com/localh0ste/piiguard/internal/config"
	"github.com/localh0ste/piiguard/internal/logger"
	"go.uber.org/zap"
)

func newTestDetector(t *testing.T) *Detector {
	t.Helper()

	detector, err := New(config.DetectorConfig{
		Enabled: true,
		Rules:   []string{"all"},
	}, &logger.Logger{Logger: zap.NewNop()})
	if err != nil {
		t.Fatalf("Failed to create detector: %v", err)
	}
	return detector
}

func TestNew(t *testing.T) {
	t.Run("AllRules", func(t *testing.T) {
		detector := newTestDetector(t)
		if got := detector.countEnabledRules(); got != 5 {
			t.Errorf("Expected 5 enabled rules, got %d", got)
		}
	})

	t.Run("SpecificRules", func(t *testing.T) {
		detector, err := New(config.DetectorConfig{
			Enabled: true,
			Rules:   []string{"phone", "aadhar"},
		}, &logger.Logger{Logger: zap.NewNop()})
		if err != nil {
			t.Fatalf("Failed to create detector: %v", err)
		}

		enabled := detector.GetEnabledRules()
		if len(enabled) != 2 {
			t.Errorf("Expected 2 enabled rules, got %v", enabled)
		}
	})

	t.Run("UnknownRule", func(t *testing.T) {
		_, err := New(config.DetectorConfig{
			Enabled: true,
			Rules:   []string{"ssn"},
		}, &logger.Logger{Logger: zap.NewNop()})
		if err == nil {
			t.Error("Expected error for unknown rule")
		}
	})
}

func TestClassify_Standalone(t *testing.T) {
	detector := newTestDetector(t)

	tests := []struct {
		name    string
		record  Record
		flagged []string
	}{
		{"ValidPhone", Record{"phone": "9876543210"}, []string{"phone"}},
		{"ValidContact", Record{"contact": "9876543210"}, []string{"contact"}},
		{"ShortPhone", Record{"phone": "98765"}, nil},
		{"AadharSpaced", Record{"aadhar": "1234 5678 9012"}, []string{"aadhar"}},
		{"AadharCompact", Record{"aadhar": "123456789012"}, []string{"aadhar"}},
		{"Passport", Record{"passport": "A1234567"}, []string{"passport"}},
		{"PassportLowercase", Record{"passport": "a1234567"}, nil},
		{"UPI", Record{"upi_id": "john.doe@upi"}, []string{"upi_id"}},
		{"UPINoDomain", Record{"upi_id": "@upi"}, nil},
		// Prefix-anchored matching deliberately tolerates trailing characters.
		{"PhoneTrailingGarbage", Record{"phone": "9876543210extra"}, []string{"phone"}},
		{"PhoneLeadingGarbage", Record{"phone": "x9876543210"}, nil},
		// Non-string values under rule names are skipped, not an error.
		{"NumericPhone", Record{"phone": 9876543210.0}, nil},
		{"NilValue", Record{"phone": nil}, nil},
		{"UnknownField", Record{"order_id": "9876543210"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := detector.Classify(tt.record)
			if len(got) != len(tt.flagged) {
				t.Fatalf("Classify() = %v, want %v", got, tt.flagged)
			}
			for i := range got {
				if got[i] != tt.flagged[i] {
					t.Errorf("Classify() = %v, want %v", got, tt.flagged)
				}
			}
		})
	}
}

func TestClassify_Combinatorial(t *testing.T) {
	detector := newTestDetector(t)

	t.Run("BelowThreshold", func(t *testing.T) {
		record := Record{"name": "Jane Doe", "order_id": "A-42"}
		if got := detector.Classify(record); len(got) != 0 {
			t.Errorf("Single eligible field should not flag, got %v", got)
		}
	})

	t.Run("AtThreshold", func(t *testing.T) {
		record := Record{"name": "Jane Doe", "email": "jane@x.com"}
		got := detector.Classify(record)
		if len(got) != 2 {
			t.Fatalf("Expected both fields flagged, got %v", got)
		}
		if got[0] != "name" || got[1] != "email" {
			t.Errorf("Expected [name email], got %v", got)
		}
	})

	t.Run("SingleNameExcluded", func(t *testing.T) {
		// A bare single name never counts toward the threshold.
		record := Record{"name": "Madonna", "email": "m@label.com"}
		if got := detector.Classify(record); len(got) != 0 {
			t.Errorf("Single name should be ineligible, got %v", got)
		}
	})

	t.Run("InvalidEmailExcluded", func(t *testing.T) {
		record := Record{"name": "Jane Doe", "email": "jane@localhost"}
		if got := detector.Classify(record); len(got) != 0 {
			t.Errorf("Invalid email should be ineligible, got %v", got)
		}
	})

	t.Run("EmptyValuesExcluded", func(t *testing.T) {
		record := Record{"address": "", "device_id": "", "ip_address": "10.0.0.1"}
		if got := detector.Classify(record); len(got) != 0 {
			t.Errorf("Empty values should be ineligible, got %v", got)
		}
	})

	t.Run("NoFormatCheckForGenericFields", func(t *testing.T) {
		record := Record{"device_id": "not-a-real-id", "ip_address": "also not an ip"}
		got := detector.Classify(record)
		if len(got) != 2 {
			t.Errorf("Non-empty generic fields are always eligible, got %v", got)
		}
	})

	t.Run("UnionWithStandalone", func(t *testing.T) {
		record := Record{
			"phone": "9876543210",
			"name":  "Jane Doe",
			"email": "jane@x.com",
		}
		got := detector.Classify(record)
		if len(got) != 3 {
			t.Errorf("Expected union of both passes, got %v", got)
		}
	})
}

func TestProcess(t *testing.T) {
	detector := newTestDetector(t)

	t.Run("CleanRecordPassthrough", func(t *testing.T) {
		record := Record{"order_id": "A-42", "amount": 199.0, "name": "Madonna"}
		result := detector.Process(record)

		if result.IsPII {
			t.Error("Clean record should not be flagged")
		}
		if len(result.Redacted) != len(record) {
			t.Fatalf("Redacted record has %d fields, want %d", len(result.Redacted), len(record))
		}
		for k, v := range record {
			if result.Redacted[k] != v {
				t.Errorf("Field %q changed: %v -> %v", k, v, result.Redacted[k])
			}
		}
	})

	t.Run("StandaloneRedaction", func(t *testing.T) {
		record := Record{"phone": "9876543210", "order_id": "A-42"}
		result := detector.Process(record)

		if !result.IsPII {
			t.Fatal("Expected PII verdict")
		}
		if result.Redacted["phone"] != "98XXXXXX10" {
			t.Errorf("phone redacted to %v, want 98XXXXXX10", result.Redacted["phone"])
		}
		if result.Redacted["order_id"] != "A-42" {
			t.Errorf("Unflagged field changed: %v", result.Redacted["order_id"])
		}
	})

	t.Run("CombinatorialRedaction", func(t *testing.T) {
		record := Record{"name": "Jane Doe", "email": "jane@x.com"}
		result := detector.Process(record)

		if !result.IsPII {
			t.Fatal("Expected PII verdict")
		}
		if result.Redacted["name"] != "JXXX DXX" {
			t.Errorf("name redacted to %v, want JXXX DXX", result.Redacted["name"])
		}
		if result.Redacted["email"] != "jaXe@x.com" {
			t.Errorf("email redacted to %v, want jaXe@x.com", result.Redacted["email"])
		}
	})

	t.Run("InputNotMutated", func(t *testing.T) {
		record := Record{"phone": "9876543210"}
		detector.Process(record)

		if record["phone"] != "9876543210" {
			t.Errorf("Input record was mutated: %v", record["phone"])
		}
	})

	t.Run("NonStringFieldsPassThrough", func(t *testing.T) {
		record := Record{
			"name":    "Jane Doe",
			"email":   "jane@x.com",
			"balance": 42.5,
			"tags":    []any{"a", "b"},
		}
		result := detector.Process(record)

		if result.Redacted["balance"] != 42.5 {
			t.Errorf("Numeric field changed: %v", result.Redacted["balance"])
		}
	})

	t.Run("DisabledDetector", func(t *testing.T) {
		disabled, err := New(config.DetectorConfig{Enabled: false}, &logger.Logger{Logger: zap.NewNop()})
		if err != nil {
			t.Fatalf("Failed to create detector: %v", err)
		}

		result := disabled.Process(Record{"phone": "9876543210"})
		if result.IsPII {
			t.Error("Disabled detector should never flag")
		}
		if result.Redacted["phone"] != "9876543210" {
			t.Errorf("Disabled detector should pass values through, got %v", result.Redacted["phone"])
		}
	})
}

func TestEnableDisableRule(t *testing.T) {
	detector := newTestDetector(t)

	if err := detector.DisableRule("phone"); err != nil {
		t.Fatalf("DisableRule failed: %v", err)
	}
	if got := detector.Classify(Record{"phone": "9876543210"}); len(got) != 0 {
		t.Errorf("Disabled rule still matched: %v", got)
	}

	if err := detector.EnableRule("phone"); err != nil {
		t.Fatalf("EnableRule failed: %v", err)
	}
	if got := detector.Classify(Record{"phone": "9876543210"}); len(got) != 1 {
		t.Errorf("Re-enabled rule did not match: %v", got)
	}

	if err := detector.EnableRule("ssn"); err == nil {
		t.Error("Expected error enabling unknown rule")
	}
}
