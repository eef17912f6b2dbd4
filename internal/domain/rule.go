package domain

import "time"

// RuleCategory identifies how a detection rule is evaluated.
type RuleCategory string

const (
	// RuleKeyword matches a literal phrase or regex against the transcript.
	RuleKeyword RuleCategory = "keyword"

	// RulePattern matches a regex against the transcript. Evaluated the
	// same way as keyword rules; kept distinct for administrative grouping.
	RulePattern RuleCategory = "pattern"

	// RuleAcoustic evaluates a CEL threshold expression over the
	// acoustic feature map (e.g. "features.pitch_std < 15.0").
	RuleAcoustic RuleCategory = "acoustic"

	// RuleBehavioral evaluates a CEL expression over derived call-shape
	// signals (velocity, keyword density, duration).
	RuleBehavioral RuleCategory = "behavioral"
)

// RiskCategory is the class of threat a rule accuses when it fires.
type RiskCategory string

const (
	RiskFraud    RiskCategory = "fraud"
	RiskPhishing RiskCategory = "phishing"
	RiskSpam     RiskCategory = "spam"
	RiskRobocall RiskCategory = "robocall"

	// RiskAIVoice marks synthetic-voice artifacts found by the
	// AI voice detection path.
	RiskAIVoice RiskCategory = "ai_voice"

	// RiskGeneral covers cross-cutting signals (urgency, stress) that
	// raise the score without accusing a specific call category.
	RiskGeneral RiskCategory = "general"
)

// CallRiskCategories is the fixed priority order used to break ties when
// two categories accumulate the same contribution. Most severe first.
var CallRiskCategories = []RiskCategory{RiskFraud, RiskPhishing, RiskSpam, RiskRobocall}

// Severity is the ordered severity of a rule or indicator.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank returns the ordering of a severity, higher is more severe.
// Unknown severities rank lowest.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// DetectionRule is an administrator-defined detection pattern.
type DetectionRule struct {
	ID          string `json:"id"`
	TenantID    string `json:"tenantId"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	// Pattern is a regex for keyword/pattern rules and a CEL expression
	// for acoustic/behavioral rules.
	Pattern string `json:"pattern"`

	Category RuleCategory `json:"category"`

	// Label is the risk category an indicator from this rule carries.
	Label RiskCategory `json:"label"`

	Severity Severity `json:"severity"`

	// ScoreImpact is the additive weight, in [0,100], contributed to the
	// composite score when the rule fires.
	ScoreImpact int `json:"scoreImpact"`

	// Language optionally restricts the rule to one language code.
	// Empty means the rule applies to every supported language.
	Language string `json:"language,omitempty"`

	Active bool `json:"isActive"`

	CreatedAt time.Time `json:"createdAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

// Indicator is a single weighted finding produced by one evaluator.
// Indicators are attached to one analysis result and never persisted on
// their own. ScoreContribution is always >= 0: risk only accumulates.
type Indicator struct {
	RuleID      string       `json:"ruleId,omitempty"`
	Type        RuleCategory `json:"type"`
	Category    RiskCategory `json:"category"`
	Severity    Severity     `json:"severity"`
	Description string       `json:"description"`

	ScoreContribution int `json:"scoreContribution"`

	// Evidence holds the matched text or the offending feature reading.
	Evidence []string `json:"evidence,omitempty"`
}

// RuleWarning reports a rule that could not be evaluated. A malformed
// rule is skipped, never fatal: one bad administrator-entered rule must
// not break every future call's analysis.
type RuleWarning struct {
	RuleID  string `json:"ruleId"`
	Message string `json:"message"`
}
