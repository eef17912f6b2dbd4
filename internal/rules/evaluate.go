package rules

import (
	"fmt"
	"strings"

	"github.com/callguard-ai/callguard/internal/domain"
)

// Signals carries the derived call-shape inputs that behavioral rules
// see in addition to the feature record. They are computed by the
// caller (the core performs no I/O) except keyword density, which the
// engine derives from its own keyword stage.
type Signals struct {
	// CallVelocity is the number of calls from the same caller inside
	// the configured time window.
	CallVelocity int64
}

// Evaluate runs the keyword/pattern, acoustic, and behavioral
// evaluators in that order against one record and the loaded rule
// snapshot. It is pure over its inputs: same record, same rule set,
// same indicators. Per-rule failures surface as warnings and never
// abort the evaluation.
func (e *Engine) Evaluate(rec *domain.FeatureRecord, sig Signals) ([]domain.Indicator, []domain.RuleWarning) {
	e.mu.RLock()
	snap := e.snapshot
	e.mu.RUnlock()

	var indicators []domain.Indicator
	warnings := append([]domain.RuleWarning(nil), snap.warnings...)

	indicators = append(indicators, evaluateText(snap.text, rec)...)

	keywordMatches := len(indicators)

	acoustic, acousticWarns := evaluateExpr(snap.acoustic, exprActivation(rec, sig, keywordMatches))
	indicators = append(indicators, acoustic...)
	warnings = append(warnings, acousticWarns...)

	behavioral, behavioralWarns := evaluateExpr(snap.behavioral, exprActivation(rec, sig, keywordMatches))
	indicators = append(indicators, behavioral...)
	warnings = append(warnings, behavioralWarns...)

	return indicators, warnings
}

// evaluateText runs keyword and pattern rules against the transcript.
// Matching is case-insensitive, and a rule that matches multiple times
// in the same transcript contributes only once: repetition must not
// inflate the score.
func evaluateText(rules []*compiledTextRule, rec *domain.FeatureRecord) []domain.Indicator {
	if !rec.HasTranscript() {
		return nil
	}

	var indicators []domain.Indicator
	for _, cr := range rules {
		if !ruleAppliesToLanguage(cr.rule, rec.Language) {
			continue
		}

		match := cr.re.FindString(rec.Transcript)
		if match == "" {
			continue
		}

		indicators = append(indicators, domain.Indicator{
			RuleID:            cr.rule.ID,
			Type:              cr.rule.Category,
			Category:          cr.rule.Label,
			Severity:          cr.rule.Severity,
			Description:       ruleDescription(cr.rule),
			ScoreContribution: cr.rule.ScoreImpact,
			Evidence:          []string{match},
		})
	}
	return indicators
}

// evaluateExpr runs CEL threshold rules. A rule whose expression reads
// a feature absent from the record is not applicable: no indicator and
// no warning. Any other evaluation error is reported as a warning and
// the rule is skipped.
func evaluateExpr(rules []*compiledExprRule, activation map[string]any) ([]domain.Indicator, []domain.RuleWarning) {
	var indicators []domain.Indicator
	var warnings []domain.RuleWarning

	for _, cr := range rules {
		out, _, err := cr.program.Eval(activation)
		if err != nil {
			if isMissingFeature(err) {
				continue
			}
			warnings = append(warnings, domain.RuleWarning{
				RuleID:  cr.rule.ID,
				Message: fmt.Sprintf("evaluation error: %v", err),
			})
			continue
		}

		if toScore(out) <= 0 {
			continue
		}

		indicators = append(indicators, domain.Indicator{
			RuleID:            cr.rule.ID,
			Type:              cr.rule.Category,
			Category:          cr.rule.Label,
			Severity:          cr.rule.Severity,
			Description:       ruleDescription(cr.rule),
			ScoreContribution: cr.rule.ScoreImpact,
			Evidence:          []string{cr.rule.Pattern},
		})
	}
	return indicators, warnings
}

func exprActivation(rec *domain.FeatureRecord, sig Signals, keywordMatches int) map[string]any {
	features := map[string]any{}
	for k, v := range rec.Acoustic {
		features[k] = v
	}
	linguistic := map[string]any{}
	for k, v := range rec.Linguistic {
		linguistic[k] = v
	}

	words := len(strings.Fields(rec.Transcript))
	density := 0.0
	if words > 0 {
		density = float64(keywordMatches) / float64(words)
	}

	return map[string]any{
		"features":          features,
		"linguistic":        linguistic,
		"call_velocity":     sig.CallVelocity,
		"keyword_density":   density,
		"keyword_matches":   keywordMatches,
		"duration":          rec.DurationSeconds,
		"transcript_length": len(rec.Transcript),
		"language":          rec.Language,
	}
}

func ruleAppliesToLanguage(rule *domain.DetectionRule, language string) bool {
	return rule.Language == "" || rule.Language == language
}

func ruleDescription(rule *domain.DetectionRule) string {
	if rule.Description != "" {
		return rule.Description
	}
	return fmt.Sprintf("Detected %s-severity %s indicator: %s", rule.Severity, rule.Label, rule.Name)
}

// isMissingFeature recognizes CEL's missing-map-key error, which is how
// "feature absent from the record" surfaces at evaluation time.
func isMissingFeature(err error) bool {
	return strings.Contains(err.Error(), "no such key")
}
