package domain

import (
	"time"
)

// Modality is the kind of input a feature record was built from.
type Modality string

const (
	ModalityAudio Modality = "audio"
	ModalityText  Modality = "text"
)

// LanguageSource records how the record's language was resolved.
type LanguageSource string

const (
	LanguageFromHint      LanguageSource = "hint"
	LanguageFromDetection LanguageSource = "detected"
	LanguageFromDefault   LanguageSource = "default"
)

// FeatureRecord is the normalized unit of work for one analysis request.
// Exactly one of {Transcript, non-empty Acoustic} must be present for
// evaluation to proceed. A feature missing from Acoustic means
// "not evaluated", never zero.
type FeatureRecord struct {
	Modality   Modality `json:"modality"`
	Transcript string   `json:"transcript,omitempty"`

	// Language is the resolved ISO code, always one of the configured
	// supported set.
	Language       string         `json:"language"`
	LanguageSource LanguageSource `json:"languageSource"`

	Acoustic   map[string]float64 `json:"acousticFeatures,omitempty"`
	Linguistic map[string]float64 `json:"linguisticFeatures,omitempty"`

	CallerNumber    string  `json:"callerNumber,omitempty"`
	DurationSeconds float64 `json:"durationSeconds,omitempty"`
}

// HasTranscript reports whether text-based evaluators can run.
func (r *FeatureRecord) HasTranscript() bool {
	return r.Transcript != ""
}

// Classification labels for call analysis.
type Classification string

const (
	ClassSafe     Classification = "safe"
	ClassSpam     Classification = "spam"
	ClassFraud    Classification = "fraud"
	ClassPhishing Classification = "phishing"
	ClassRobocall Classification = "robocall"

	// Voice detection labels.
	ClassAIGenerated Classification = "ai_generated"
	ClassHuman       Classification = "human"
	ClassUncertain   Classification = "uncertain"
)

// Highlight marks a matched phrase inside the transcript for display.
type Highlight struct {
	Text     string       `json:"text"`
	Start    int          `json:"start"`
	End      int          `json:"end"`
	Category RiskCategory `json:"category"`
	Severity Severity     `json:"severity"`
}

// AnalysisResult is the immutable output of one evaluation. It carries
// no timestamps or identity; those are attached by the caller.
type AnalysisResult struct {
	Classification Classification `json:"classification"`

	// RiskScore is the capped composite score in [0,100].
	RiskScore float64 `json:"riskScore"`

	// RiskBand is the display band for the score: minimal, low, medium,
	// high, or critical. It never overrides the categorical decision.
	RiskBand string `json:"riskBand"`

	// ConfidenceScore is a heuristic score in [0,100], not a calibrated
	// probability.
	ConfidenceScore float64 `json:"confidenceScore"`

	// CategoryScores is the cumulative contribution per call risk
	// category (uncapped), used for the breakdown display.
	CategoryScores map[RiskCategory]int `json:"categoryScores,omitempty"`

	// Indicators in evaluation order.
	Indicators []Indicator `json:"indicators"`

	SuspiciousKeywords []string    `json:"suspiciousKeywords,omitempty"`
	Highlights         []Highlight `json:"highlightedPhrases,omitempty"`

	Explanation string `json:"explanation"`

	Language       string         `json:"language"`
	LanguageSource LanguageSource `json:"languageSource"`

	// SkippedCategories lists evaluator categories that could not run
	// because a collaborator was unavailable (e.g. "keyword" when
	// transcription failed).
	SkippedCategories []string `json:"skippedCategories,omitempty"`

	Warnings []RuleWarning `json:"warnings,omitempty"`

	// IsAIGenerated is set by the voice detection path only. It is nil
	// exactly when the classification is uncertain.
	IsAIGenerated *bool `json:"isAiGenerated,omitempty"`
}

// Analysis is the persisted envelope around one AnalysisResult.
// IDs and timestamps live here, outside the core, so the scoring engine
// stays free of time and identity side effects.
type Analysis struct {
	ID        string         `json:"id"`
	TenantID  string         `json:"tenantId"`
	CallID    string         `json:"callId"`
	Result    AnalysisResult `json:"result"`
	Timestamp time.Time      `json:"timestamp"`
}

// CallRecord is a stored call submitted for analysis.
type CallRecord struct {
	ID       string `json:"id"`
	TenantID string `json:"tenantId"`

	CallerNumber string   `json:"callerNumber,omitempty"`
	Modality     Modality `json:"modality"`
	Transcript   string   `json:"transcript,omitempty"`
	Language     string   `json:"language,omitempty"`

	DurationSeconds float64 `json:"durationSeconds,omitempty"`

	Timestamp time.Time `json:"timestamp"`
	CreatedAt time.Time `json:"createdAt"`

	Metadata map[string]interface{} `json:"metadata,omitempty"`
}
