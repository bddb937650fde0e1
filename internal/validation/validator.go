// Package validation provides plausibility checks for decoded ECU snapshots.
package validation

import (
	"fmt"
	"sort"
	"strings"

	"github.com/resident-x/go-apsecu/internal/domain"
	"github.com/rs/zerolog"
)

// ValidationLevel defines the strictness of validation rules.
type ValidationLevel int

const (
	ValidationLevelBasic ValidationLevel = iota
	ValidationLevelStandard
	ValidationLevelStrict
)

// String returns the string representation of the validation level.
func (vl ValidationLevel) String() string {
	switch vl {
	case ValidationLevelBasic:
		return "basic"
	case ValidationLevelStandard:
		return "standard"
	case ValidationLevelStrict:
		return "strict"
	default:
		return "unknown"
	}
}

// ParseLevel converts a configured level name into a ValidationLevel.
func ParseLevel(name string) (ValidationLevel, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "basic":
		return ValidationLevelBasic, nil
	case "", "standard":
		return ValidationLevelStandard, nil
	case "strict":
		return ValidationLevelStrict, nil
	default:
		return ValidationLevelStandard, fmt.Errorf("unknown validation level %q", name)
	}
}

// Severity values used by ValidationError.
const (
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// ValidationError represents a validation error with severity and context.
type ValidationError struct {
	Rule     string
	Severity string
	Message  string
	Field    string
	Value    interface{}
	// Inverter is the uid the finding belongs to, empty for ECU level fields.
	Inverter string
}

// Error implements the error interface.
func (ve *ValidationError) Error() string {
	if ve.Inverter != "" {
		return fmt.Sprintf("%s validation error in %s of inverter %s: %s", ve.Severity, ve.Field, ve.Inverter, ve.Message)
	}
	return fmt.Sprintf("%s validation error in %s: %s", ve.Severity, ve.Field, ve.Message)
}

// ValidationResult contains the result of a validation check.
type ValidationResult struct {
	Valid      bool
	Errors     []*ValidationError
	Warnings   []*ValidationError
	Confidence float64 // 0.0-1.0 confidence in data integrity
}

// HasCriticalErrors returns true if there are any critical validation errors.
func (vr *ValidationResult) HasCriticalErrors() bool {
	for _, err := range vr.Errors {
		if err.Severity == SeverityCritical {
			return true
		}
	}
	return false
}

// HasWarnings returns true if there are any validation warnings.
func (vr *ValidationResult) HasWarnings() bool {
	return len(vr.Warnings) > 0
}

// Summary returns a summary of the validation result.
func (vr *ValidationResult) Summary() string {
	if vr.Valid && !vr.HasWarnings() {
		return fmt.Sprintf("Valid (confidence: %.2f)", vr.Confidence)
	}

	var parts []string
	if !vr.Valid {
		parts = append(parts, fmt.Sprintf("%d errors", len(vr.Errors)))
	}
	if vr.HasWarnings() {
		parts = append(parts, fmt.Sprintf("%d warnings", len(vr.Warnings)))
	}

	return fmt.Sprintf("%s (confidence: %.2f)", strings.Join(parts, ", "), vr.Confidence)
}

// SnapshotRule checks ECU level fields of a snapshot.
type SnapshotRule struct {
	Name  string
	Level ValidationLevel
	Check func(snapshot *domain.Snapshot) *ValidationError
}

// InverterRule checks a single inverter record.
type InverterRule struct {
	Name  string
	Level ValidationLevel
	Check func(record domain.InverterRecord) *ValidationError
}

// Validator runs the rules enabled at its level against snapshots.
type Validator struct {
	level         ValidationLevel
	snapshotRules []*SnapshotRule
	inverterRules []*InverterRule
	logger        zerolog.Logger
}

// NewValidator creates a validator with the default rule set.
func NewValidator(level ValidationLevel, logger zerolog.Logger) *Validator {
	v := &Validator{
		level:  level,
		logger: logger.With().Str("component", "validator").Logger(),
	}
	v.registerDefaultRules()
	return v
}

// Level returns the configured validation level.
func (v *Validator) Level() ValidationLevel {
	return v.level
}

// ValidateSnapshot applies every enabled rule to the snapshot.
func (v *Validator) ValidateSnapshot(snapshot *domain.Snapshot) *ValidationResult {
	result := &ValidationResult{
		Valid:      true,
		Errors:     make([]*ValidationError, 0),
		Warnings:   make([]*ValidationError, 0),
		Confidence: 1.0,
	}

	for _, rule := range v.snapshotRules {
		if rule.Level > v.level {
			continue
		}
		if err := rule.Check(snapshot); err != nil {
			err.Rule = rule.Name
			addValidationError(result, err)
		}
	}

	// Sorted so findings come out in a stable order.
	uids := make([]string, 0, len(snapshot.Inverters))
	for uid := range snapshot.Inverters {
		uids = append(uids, uid)
	}
	sort.Strings(uids)

	for _, uid := range uids {
		record := snapshot.Inverters[uid]
		for _, rule := range v.inverterRules {
			if rule.Level > v.level {
				continue
			}
			if err := rule.Check(record); err != nil {
				err.Rule = rule.Name
				err.Inverter = uid
				addValidationError(result, err)
			}
		}
	}

	v.logger.Debug().
		Str("ecu_id", snapshot.EcuID).
		Int("errors", len(result.Errors)).
		Int("warnings", len(result.Warnings)).
		Float64("confidence", result.Confidence).
		Msg("Snapshot validation completed")

	return result
}

// addValidationError adds a validation error to the result and lowers the confidence.
func addValidationError(result *ValidationResult, err *ValidationError) {
	if err.Severity == SeverityWarning {
		result.Warnings = append(result.Warnings, err)
		result.Confidence *= 0.95
		return
	}

	result.Errors = append(result.Errors, err)
	result.Valid = false
	switch err.Severity {
	case SeverityCritical:
		result.Confidence *= 0.1
	default:
		result.Confidence *= 0.5
	}
}

// expectedChannels is the channel count each model reports.
var expectedChannels = map[domain.Model]int{
	domain.ModelYC600:       2,
	domain.ModelYC1000:      4,
	domain.ModelQS1:         4,
	domain.ModelUnsupported: 0,
}

func (v *Validator) registerDefaultRules() {
	v.snapshotRules = []*SnapshotRule{
		{
			Name:  "online_within_total",
			Level: ValidationLevelBasic,
			Check: func(s *domain.Snapshot) *ValidationError {
				if s.QtyOfOnlineInverters > s.QtyOfInverters {
					return &ValidationError{
						Severity: SeverityCritical,
						Message:  fmt.Sprintf("%d inverters online out of %d", s.QtyOfOnlineInverters, s.QtyOfInverters),
						Field:    "qty_of_online_inverters",
						Value:    s.QtyOfOnlineInverters,
					}
				}
				return nil
			},
		},
		{
			Name:  "lifetime_energy_positive",
			Level: ValidationLevelBasic,
			Check: func(s *domain.Snapshot) *ValidationError {
				if s.LifetimeEnergy <= 0 {
					return &ValidationError{
						Severity: SeverityError,
						Message:  "lifetime energy must be positive",
						Field:    "lifetime_energy",
						Value:    s.LifetimeEnergy,
					}
				}
				return nil
			},
		},
		{
			Name:  "inverter_count_matches",
			Level: ValidationLevelStrict,
			Check: func(s *domain.Snapshot) *ValidationError {
				if len(s.Inverters) > 0 && len(s.Inverters) != s.QtyOfInverters {
					return &ValidationError{
						Severity: SeverityWarning,
						Message:  fmt.Sprintf("%d inverter records for %d reported inverters", len(s.Inverters), s.QtyOfInverters),
						Field:    "inverters",
						Value:    len(s.Inverters),
					}
				}
				return nil
			},
		},
	}

	v.inverterRules = []*InverterRule{
		{
			Name:  "signal_range",
			Level: ValidationLevelStandard,
			Check: func(r domain.InverterRecord) *ValidationError {
				if r.Signal < 0 || r.Signal > 100 {
					return &ValidationError{
						Severity: SeverityError,
						Message:  "signal strength outside 0..100",
						Field:    "signal",
						Value:    r.Signal,
					}
				}
				return nil
			},
		},
		{
			Name:  "frequency_range",
			Level: ValidationLevelStandard,
			Check: func(r domain.InverterRecord) *ValidationError {
				if r.Frequency == nil || !r.Online {
					return nil
				}
				if f := *r.Frequency; f < 45 || f > 65 {
					return &ValidationError{
						Severity: SeverityWarning,
						Message:  fmt.Sprintf("grid frequency %.1f Hz outside 45..65", f),
						Field:    "frequency",
						Value:    f,
					}
				}
				return nil
			},
		},
		{
			Name:  "temperature_range",
			Level: ValidationLevelStandard,
			Check: func(r domain.InverterRecord) *ValidationError {
				if r.Temperature == nil {
					return nil
				}
				if t := *r.Temperature; t < -40 || t > 100 {
					return &ValidationError{
						Severity: SeverityWarning,
						Message:  fmt.Sprintf("temperature %d outside -40..100", t),
						Field:    "temperature",
						Value:    t,
					}
				}
				return nil
			},
		},
		{
			Name:  "channel_count",
			Level: ValidationLevelStrict,
			Check: func(r domain.InverterRecord) *ValidationError {
				want := expectedChannels[r.Model]
				if r.ChannelQty != want || len(r.Power) != want {
					return &ValidationError{
						Severity: SeverityError,
						Message:  fmt.Sprintf("%s reports %d channels with %d power values, expected %d", r.Model, r.ChannelQty, len(r.Power), want),
						Field:    "channel_qty",
						Value:    r.ChannelQty,
					}
				}
				return nil
			},
		},
	}
}
