package validation

import (
	"testing"

	"github.com/resident-x/go-apsecu/internal/domain"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func floatPtr(f float64) *float64 { return &f }
func intPtr(i int) *int           { return &i }

func healthySnapshot() *domain.Snapshot {
	return &domain.Snapshot{
		EcuID:                "216200001234",
		LifetimeEnergy:       1234.5,
		CurrentPower:         245,
		QtyOfInverters:       2,
		QtyOfOnlineInverters: 1,
		Inverters: map[string]domain.InverterRecord{
			"408000012345": {
				UID: "408000012345", Online: true, Signal: 80,
				Model: domain.ModelYC600, ChannelQty: 2,
				Power: []int{120, 125}, Voltage: []int{230, 231},
				Frequency: floatPtr(50.0), Temperature: intPtr(30),
			},
			"801000056789": {
				UID: "801000056789", Online: false, Signal: 0,
				Model: domain.ModelQS1, ChannelQty: 4,
				Power: []int{0, 0, 0, 0}, Voltage: []int{0},
				Frequency: floatPtr(0),
			},
		},
	}
}

func TestValidationLevel_String(t *testing.T) {
	tests := []struct {
		level    ValidationLevel
		expected string
	}{
		{ValidationLevelBasic, "basic"},
		{ValidationLevelStandard, "standard"},
		{ValidationLevelStrict, "strict"},
		{ValidationLevel(999), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.level.String())
		})
	}
}

func TestParseLevel(t *testing.T) {
	level, err := ParseLevel("STRICT")
	require.NoError(t, err)
	assert.Equal(t, ValidationLevelStrict, level)

	level, err = ParseLevel("")
	require.NoError(t, err)
	assert.Equal(t, ValidationLevelStandard, level)

	_, err = ParseLevel("paranoid")
	assert.Error(t, err)
}

func TestValidationError(t *testing.T) {
	err := &ValidationError{Severity: "critical", Message: "test error", Field: "test_field"}
	assert.Equal(t, "critical validation error in test_field: test error", err.Error())

	err.Inverter = "408000012345"
	assert.Equal(t, "critical validation error in test_field of inverter 408000012345: test error", err.Error())
}

func TestValidationResult(t *testing.T) {
	result := &ValidationResult{
		Valid:      false,
		Errors:     []*ValidationError{{Severity: SeverityError}},
		Warnings:   []*ValidationError{{Severity: SeverityWarning}},
		Confidence: 0.5,
	}
	assert.False(t, result.HasCriticalErrors())
	assert.True(t, result.HasWarnings())
	assert.Equal(t, "1 errors, 1 warnings (confidence: 0.50)", result.Summary())

	result.Errors = append(result.Errors, &ValidationError{Severity: SeverityCritical})
	assert.True(t, result.HasCriticalErrors())

	clean := &ValidationResult{Valid: true, Confidence: 1}
	assert.Equal(t, "Valid (confidence: 1.00)", clean.Summary())
}

func TestValidateHealthySnapshot(t *testing.T) {
	v := NewValidator(ValidationLevelStrict, zerolog.Nop())

	result := v.ValidateSnapshot(healthySnapshot())
	assert.True(t, result.Valid, result.Summary())
	assert.Empty(t, result.Warnings)
	assert.Equal(t, 1.0, result.Confidence)
}

func TestValidateOfflineFrequencyIgnored(t *testing.T) {
	v := NewValidator(ValidationLevelStandard, zerolog.Nop())

	// The offline QS1 reports 0 Hz, which is not a finding.
	result := v.ValidateSnapshot(healthySnapshot())
	assert.Empty(t, result.Warnings)
}

func TestValidateSnapshotRules(t *testing.T) {
	tests := []struct {
		name     string
		level    ValidationLevel
		modify   func(*domain.Snapshot)
		rule     string
		severity string
	}{
		{
			name:     "online exceeds total",
			level:    ValidationLevelBasic,
			modify:   func(s *domain.Snapshot) { s.QtyOfOnlineInverters = 5 },
			rule:     "online_within_total",
			severity: SeverityCritical,
		},
		{
			name:     "zero lifetime",
			level:    ValidationLevelBasic,
			modify:   func(s *domain.Snapshot) { s.LifetimeEnergy = 0 },
			rule:     "lifetime_energy_positive",
			severity: SeverityError,
		},
		{
			name:  "signal out of range",
			level: ValidationLevelStandard,
			modify: func(s *domain.Snapshot) {
				rec := s.Inverters["408000012345"]
				rec.Signal = 140
				s.Inverters["408000012345"] = rec
			},
			rule:     "signal_range",
			severity: SeverityError,
		},
		{
			name:  "frequency out of range",
			level: ValidationLevelStandard,
			modify: func(s *domain.Snapshot) {
				rec := s.Inverters["408000012345"]
				rec.Frequency = floatPtr(70.2)
				s.Inverters["408000012345"] = rec
			},
			rule:     "frequency_range",
			severity: SeverityWarning,
		},
		{
			name:  "temperature out of range",
			level: ValidationLevelStandard,
			modify: func(s *domain.Snapshot) {
				rec := s.Inverters["408000012345"]
				rec.Temperature = intPtr(-60)
				s.Inverters["408000012345"] = rec
			},
			rule:     "temperature_range",
			severity: SeverityWarning,
		},
		{
			name:  "channel count mismatch",
			level: ValidationLevelStrict,
			modify: func(s *domain.Snapshot) {
				rec := s.Inverters["408000012345"]
				rec.Power = []int{120}
				s.Inverters["408000012345"] = rec
			},
			rule:     "channel_count",
			severity: SeverityError,
		},
		{
			name:     "record count mismatch",
			level:    ValidationLevelStrict,
			modify:   func(s *domain.Snapshot) { s.QtyOfInverters = 3 },
			rule:     "inverter_count_matches",
			severity: SeverityWarning,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snapshot := healthySnapshot()
			tt.modify(snapshot)

			result := NewValidator(tt.level, zerolog.Nop()).ValidateSnapshot(snapshot)
			findings := append(append([]*ValidationError{}, result.Errors...), result.Warnings...)
			require.Len(t, findings, 1, result.Summary())
			assert.Equal(t, tt.rule, findings[0].Rule)
			assert.Equal(t, tt.severity, findings[0].Severity)
			assert.Less(t, result.Confidence, 1.0)
			assert.Equal(t, tt.severity == SeverityWarning, result.Valid)

			if tt.level > ValidationLevelBasic {
				lower := NewValidator(tt.level-1, zerolog.Nop()).ValidateSnapshot(snapshot)
				assert.True(t, lower.Valid)
				assert.Empty(t, lower.Warnings, "rule is not enabled below %s", tt.level)
			}
		})
	}
}

func TestValidateFindingsAreOrdered(t *testing.T) {
	snapshot := healthySnapshot()
	for uid, rec := range snapshot.Inverters {
		rec.Signal = 200
		snapshot.Inverters[uid] = rec
	}

	result := NewValidator(ValidationLevelStandard, zerolog.Nop()).ValidateSnapshot(snapshot)
	require.Len(t, result.Errors, 2)
	assert.Equal(t, "408000012345", result.Errors[0].Inverter)
	assert.Equal(t, "801000056789", result.Errors[1].Inverter)
}
