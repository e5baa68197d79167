package pii

import (
	"fmt"

	"github.com/localh0ste/piiguard/internal/config"
	"github.com/localh0ste/piiguard/internal/logger"
	"go.uber.org/zap"
)

// Detector classifies records against the standalone and combinatorial rule
// tables and produces redacted copies. The rule tables are read-only, so a
// single Detector is safe for concurrent use across workers.
type Detector struct {
	rules   []FieldRule
	byField map[string]FieldRule
	enabled map[string]bool
	logger  *logger.Logger
	config  config.DetectorConfig
}

// New creates a new PII detector instance
func New(cfg config.DetectorConfig, log *logger.Logger) (*Detector, error) {
	detector := &Detector{
		rules:   DefaultRules(),
		byField: make(map[string]FieldRule),
		enabled: make(map[string]bool),
		logger:  log,
		config:  cfg,
	}

	for _, rule := range detector.rules {
		detector.byField[rule.Field] = rule
	}

	// Configure enabled rules
	if err := detector.configureRules(cfg.Rules); err != nil {
		return nil, fmt.Errorf("failed to configure rules: %w", err)
	}

	log.Info("PII detector initialized",
		zap.Int("standalone_rules", len(detector.rules)),
		zap.Int("enabled_rules", detector.countEnabledRules()),
		zap.Int("combinatorial_fields", len(combinatorialFields)),
	)

	return detector, nil
}

// configureRules enables/disables standalone rules based on configuration
func (d *Detector) configureRules(rules []string) error {
	// Disable all rules by default
	for _, rule := range d.rules {
		d.enabled[rule.Field] = false
	}

	for _, name := range rules {
		if name == "all" {
			for _, rule := range d.rules {
				d.enabled[rule.Field] = true
			}
			continue
		}

		if _, ok := d.byField[name]; !ok {
			return fmt.Errorf("unknown rule: %s", name)
		}
		d.enabled[name] = true
	}

	return nil
}

// Classify returns the names of the fields to redact: standalone matches
// plus, when at least two quasi-identifiers are eligible, every eligible
// quasi-identifier. The returned order is stable (rule table order, then
// combinatorial order).
func (d *Detector) Classify(record Record) []string {
	if !d.config.Enabled {
		return nil
	}

	var flagged []string
	seen := make(map[string]bool)

	// Standalone pass: prefix-anchored format check per registered field.
	for _, rule := range d.rules {
		if !d.enabled[rule.Field] {
			continue
		}
		value, ok := record[rule.Field].(string)
		if !ok {
			continue
		}
		if rule.Pattern.MatchString(value) {
			flagged = append(flagged, rule.Field)
			seen[rule.Field] = true

			d.logger.Debug("Standalone PII detected",
				zap.String("field", rule.Field),
			)
		}
	}

	// Combinatorial pass: count eligible quasi-identifiers in declared order.
	var eligibleFields []string
	for _, field := range combinatorialFields {
		value, ok := record[field].(string)
		if !ok {
			continue
		}
		if eligible(field, value) {
			eligibleFields = append(eligibleFields, field)
		}
	}

	if len(eligibleFields) >= combinatorialThreshold {
		for _, field := range eligibleFields {
			if !seen[field] {
				flagged = append(flagged, field)
				seen[field] = true
			}
		}

		d.logger.Debug("Combinatorial PII detected",
			zap.Strings("fields", eligibleFields),
		)
	}

	return flagged
}

// Process scans a record and returns a redacted copy plus the overall PII
// verdict. The input record is never mutated; each flagged field's transform
// is applied exactly once regardless of which pass flagged it.
func (d *Detector) Process(record Record) ProcessResult {
	flagged := d.Classify(record)

	redacted := make(Record, len(record))
	for k, v := range record {
		redacted[k] = v
	}

	for _, field := range flagged {
		value, ok := record[field].(string)
		if !ok {
			continue
		}
		redacted[field] = Redact(d.kindOf(field), value)
	}

	return ProcessResult{
		Redacted: redacted,
		Fields:   flagged,
		IsPII:    len(flagged) > 0,
	}
}

// kindOf resolves a flagged field to its redaction transform. Standalone
// rules take precedence over the combinatorial kind table.
func (d *Detector) kindOf(field string) Kind {
	if rule, ok := d.byField[field]; ok {
		return rule.Kind
	}
	if kind, ok := combinatorialKinds[field]; ok {
		return kind
	}
	return KindText
}

// countEnabledRules returns the number of enabled standalone rules
func (d *Detector) countEnabledRules() int {
	count := 0
	for _, enabled := range d.enabled {
		if enabled {
			count++
		}
	}
	return count
}

// GetEnabledRules returns a list of enabled standalone rule names
func (d *Detector) GetEnabledRules() []string {
	var enabled []string
	for _, rule := range d.rules {
		if d.enabled[rule.Field] {
			enabled = append(enabled, rule.Field)
		}
	}
	return enabled
}

// EnableRule enables a specific standalone rule
func (d *Detector) EnableRule(name string) error {
	if _, ok := d.byField[name]; !ok {
		return fmt.Errorf("unknown rule: %s", name)
	}
	d.enabled[name] = true
	d.logger.Info("Detection rule enabled", zap.String("rule", name))
	return nil
}

// DisableRule disables a specific standalone rule
func (d *Detector) DisableRule(name string) error {
	if _, ok := d.enabled[name]; !ok {
		return fmt.Errorf("unknown rule: %s", name)
	}
	d.enabled[name] = false
	d.logger.Info("Detection rule disabled", zap.String("rule", name))
	return nil
}
