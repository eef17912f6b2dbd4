// Package score combines weighted indicators into a bounded composite
// risk score, a discrete classification, and a reproducible
// explanation.
package score

import (
	"fmt"
	"sort"
	"strings"

	"github.com/callguard-ai/callguard/internal/domain"
)

// MaxScore is the ceiling for the composite risk score.
const MaxScore = 100

// Band maps a capped score to its display band. Bands label the score
// for display only; they never override the categorical decision.
// Exact boundaries: [0,20) minimal, [20,40) low, [40,60) medium,
// [60,80) high, [80,100] critical.
func Band(score float64) string {
	switch {
	case score < 20:
		return "minimal"
	case score < 40:
		return "low"
	case score < 60:
		return "medium"
	case score < 80:
		return "high"
	default:
		return "critical"
	}
}

// Aggregate combines indicators into the final call analysis result.
// The composite score is the sum of contributions capped at MaxScore.
// With no indicators the call is safe with score zero. Otherwise the
// label is the call risk category with the highest cumulative
// contribution; ties break by the fixed priority order
// fraud > phishing > spam > robocall.
func Aggregate(rec *domain.FeatureRecord, indicators []domain.Indicator, warnings []domain.RuleWarning, skipped []string) *domain.AnalysisResult {
	result := &domain.AnalysisResult{
		Indicators:        indicators,
		Warnings:          warnings,
		SkippedCategories: skipped,
		Language:          rec.Language,
		LanguageSource:    rec.LanguageSource,
	}

	total := 0
	categoryScores := make(map[domain.RiskCategory]int)
	for _, ind := range indicators {
		total += ind.ScoreContribution
		categoryScores[ind.Category] += ind.ScoreContribution
	}

	score := float64(total)
	if score > MaxScore {
		score = MaxScore
	}
	result.RiskScore = score
	result.RiskBand = Band(score)
	result.CategoryScores = categoryScores
	result.Classification = classify(indicators, categoryScores)
	result.ConfidenceScore = confidence(indicators)
	result.SuspiciousKeywords = suspiciousKeywords(indicators)
	result.Highlights = highlights(rec.Transcript, indicators)
	result.Explanation = explain("Call", result.Classification, score, indicators)

	return result
}

// classify picks the label from indicator categories. Only the four
// call risk categories compete for the label; general or ai_voice
// indicators raise the score without claiming the classification.
func classify(indicators []domain.Indicator, categoryScores map[domain.RiskCategory]int) domain.Classification {
	if len(indicators) == 0 {
		return domain.ClassSafe
	}

	best := domain.RiskCategory("")
	bestScore := 0
	// CallRiskCategories is ordered most severe first, so iterating in
	// order with a strict > comparison implements the tie-break.
	for _, cat := range domain.CallRiskCategories {
		if s := categoryScores[cat]; s > bestScore {
			best, bestScore = cat, s
		}
	}

	switch best {
	case domain.RiskFraud:
		return domain.ClassFraud
	case domain.RiskPhishing:
		return domain.ClassPhishing
	case domain.RiskSpam:
		return domain.ClassSpam
	case domain.RiskRobocall:
		return domain.ClassRobocall
	}

	// Indicators fired but none in a call risk category (e.g. only
	// general urgency signals). Moderate evidence defaults to spam.
	total := 0
	for _, ind := range indicators {
		total += ind.ScoreContribution
	}
	if total >= 50 {
		return domain.ClassSpam
	}
	return domain.ClassSafe
}

// AggregateVoice applies the three-way AI-voice decision: score at or
// above the ai threshold is ai_generated, at or below the human
// threshold is human, anything between is uncertain. IsAIGenerated is
// nil exactly when the classification is uncertain.
func AggregateVoice(rec *domain.FeatureRecord, indicators []domain.Indicator, warnings []domain.RuleWarning, cfg domain.VoiceDetectionConfig) *domain.AnalysisResult {
	result := &domain.AnalysisResult{
		Indicators:     indicators,
		Warnings:       warnings,
		Language:       rec.Language,
		LanguageSource: rec.LanguageSource,
	}

	total := 0
	for _, ind := range indicators {
		total += ind.ScoreContribution
	}
	score := float64(total)
	if score > MaxScore {
		score = MaxScore
	}
	result.RiskScore = score
	result.RiskBand = Band(score)
	result.ConfidenceScore = confidence(indicators)

	switch {
	case score >= cfg.AIThreshold:
		result.Classification = domain.ClassAIGenerated
		v := true
		result.IsAIGenerated = &v
	case score <= cfg.HumanThreshold:
		result.Classification = domain.ClassHuman
		v := false
		result.IsAIGenerated = &v
	default:
		result.Classification = domain.ClassUncertain
	}

	result.Explanation = explain("Voice sample", result.Classification, score, indicators)
	return result
}

// explain builds the deterministic explanation: a fixed summary
// sentence stating the classification and numeric score, followed by
// the descriptions of every indicator with a positive contribution in
// severity-then-insertion order.
func explain(subject string, class domain.Classification, score float64, indicators []domain.Indicator) string {
	if len(indicators) == 0 {
		return fmt.Sprintf("%s classified as %s with risk score 0/100. No suspicious indicators detected.",
			subject, strings.ToUpper(string(class)))
	}

	summary := fmt.Sprintf("%s classified as %s with risk score %.0f/100.",
		subject, strings.ToUpper(string(class)), score)

	ordered := make([]domain.Indicator, 0, len(indicators))
	for _, ind := range indicators {
		if ind.ScoreContribution > 0 {
			ordered = append(ordered, ind)
		}
	}
	if len(ordered) == 0 {
		return summary
	}

	// Stable sort keeps insertion order within equal severities.
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Severity.Rank() > ordered[j].Severity.Rank()
	})

	descs := make([]string, len(ordered))
	for i, ind := range ordered {
		descs[i] = ind.Description
	}
	return summary + " Findings: " + strings.Join(descs, "; ") + "."
}

// confidence is a heuristic certainty score in [0,100] derived from
// indicator severities and count. Not a calibrated probability.
func confidence(indicators []domain.Indicator) float64 {
	if len(indicators) == 0 {
		return 95
	}

	sum := 0.0
	for _, ind := range indicators {
		switch ind.Severity {
		case domain.SeverityCritical:
			sum += 90
		case domain.SeverityHigh:
			sum += 85
		case domain.SeverityMedium:
			sum += 70
		default:
			sum += 60
		}
	}
	avg := sum / float64(len(indicators))

	boost := float64(len(indicators)) * 2
	if boost > 20 {
		boost = 20
	}

	c := avg + boost
	if c > 99 {
		c = 99
	}
	return c
}

// suspiciousKeywords collects unique matched phrases from keyword and
// pattern indicators, in first-seen order.
func suspiciousKeywords(indicators []domain.Indicator) []string {
	seen := map[string]bool{}
	var keywords []string
	for _, ind := range indicators {
		if ind.Type != domain.RuleKeyword && ind.Type != domain.RulePattern {
			continue
		}
		for _, ev := range ind.Evidence {
			if !seen[ev] {
				seen[ev] = true
				keywords = append(keywords, ev)
			}
		}
	}
	return keywords
}

// highlights locates each piece of keyword evidence in the transcript
// so the caller can mark it up for display.
func highlights(transcript string, indicators []domain.Indicator) []domain.Highlight {
	if transcript == "" {
		return nil
	}
	lower := strings.ToLower(transcript)

	var out []domain.Highlight
	for _, ind := range indicators {
		if ind.Type != domain.RuleKeyword && ind.Type != domain.RulePattern {
			continue
		}
		for _, ev := range ind.Evidence {
			pos := strings.Index(lower, strings.ToLower(ev))
			if pos < 0 {
				continue
			}
			out = append(out, domain.Highlight{
				Text:     ev,
				Start:    pos,
				End:      pos + len(ev),
				Category: ind.Category,
				Severity: ind.Severity,
			})
		}
	}
	return out
}
