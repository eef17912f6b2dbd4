// Package aivoice runs the heuristic AI-generated-voice checks over an
// acoustic feature record.
package aivoice

import (
	"fmt"

	"github.com/callguard-ai/callguard/internal/domain"
)

// Detector evaluates the configured voice checks. It holds only
// configuration and is safe for concurrent use.
type Detector struct {
	checks []domain.VoiceCheck
}

// New creates a detector from voice detection configuration. An empty
// check list falls back to the built-in defaults.
func New(cfg domain.VoiceDetectionConfig) *Detector {
	checks := cfg.Checks
	if len(checks) == 0 {
		checks = domain.DefaultVoiceChecks()
	}
	return &Detector{checks: checks}
}

// Detect runs every applicable check against the record's acoustic
// features and returns the resulting indicators. A check whose feature
// is absent from the record is not applicable: missing evidence is not
// evidence of a human voice. A record with no acoustic features at all
// is invalid input.
func (d *Detector) Detect(rec *domain.FeatureRecord) ([]domain.Indicator, error) {
	if len(rec.Acoustic) == 0 {
		return nil, fmt.Errorf("%w: acoustic features required for voice detection", domain.ErrInvalidInput)
	}

	var indicators []domain.Indicator
	for _, check := range d.checks {
		value, ok := rec.Acoustic[check.Feature]
		if !ok {
			continue
		}
		if !fires(check, value) {
			continue
		}

		category := domain.RiskAIVoice
		if check.Verdict == "human" {
			category = domain.RiskGeneral
		}

		indicators = append(indicators, domain.Indicator{
			Type:              domain.RuleAcoustic,
			Category:          category,
			Severity:          check.Severity,
			Description:       check.Description,
			ScoreContribution: check.Weight,
			Evidence:          []string{fmt.Sprintf("%s=%.4g (%s %.4g)", check.Feature, value, check.Op, check.Threshold)},
		})
	}
	return indicators, nil
}

func fires(check domain.VoiceCheck, value float64) bool {
	switch check.Op {
	case "lt":
		return value < check.Threshold
	case "gt":
		return value > check.Threshold
	default:
		return false
	}
}
