package rules

import (
	"strings"
	"testing"

	"github.com/callguard-ai/callguard/internal/domain"
)

func keywordRule(id, pattern string, label domain.RiskCategory, impact int) *domain.DetectionRule {
	return &domain.DetectionRule{
		ID:          id,
		Name:        id,
		Pattern:     pattern,
		Category:    domain.RuleKeyword,
		Label:       label,
		Severity:    domain.SeverityHigh,
		ScoreImpact: impact,
		Active:      true,
	}
}

func textRecord(transcript string) *domain.FeatureRecord {
	return &domain.FeatureRecord{
		Modality:       domain.ModalityText,
		Transcript:     transcript,
		Language:       "en",
		LanguageSource: domain.LanguageFromDefault,
	}
}

func TestEngineReload(t *testing.T) {
	engine, err := NewEngine()
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}

	t.Run("LoadsActiveRules", func(t *testing.T) {
		engine.ReloadRules([]*domain.DetectionRule{
			keywordRule("r1", "bank account", domain.RiskFraud, 45),
			keywordRule("r2", "lottery", domain.RiskSpam, 20),
		})

		if engine.RulesCount() != 2 {
			t.Errorf("expected 2 rules, got %d", engine.RulesCount())
		}
	})

	t.Run("SkipsInactiveRules", func(t *testing.T) {
		inactive := keywordRule("r3", "prize", domain.RiskSpam, 10)
		inactive.Active = false

		engine.ReloadRules([]*domain.DetectionRule{
			keywordRule("r1", "bank account", domain.RiskFraud, 45),
			inactive,
		})

		if engine.RulesCount() != 1 {
			t.Errorf("expected 1 rule, got %d", engine.RulesCount())
		}
	})

	t.Run("MalformedRuleBecomesWarning", func(t *testing.T) {
		engine.ReloadRules([]*domain.DetectionRule{
			keywordRule("good", "bank account", domain.RiskFraud, 45),
			keywordRule("broken", "(unclosed", domain.RiskSpam, 10),
		})

		if engine.RulesCount() != 1 {
			t.Errorf("expected 1 loaded rule, got %d", engine.RulesCount())
		}

		// The warning is carried into every evaluation
		_, warnings := engine.Evaluate(textRecord("hello"), Signals{})
		if len(warnings) != 1 {
			t.Fatalf("expected 1 warning, got %d", len(warnings))
		}
		if warnings[0].RuleID != "broken" {
			t.Errorf("expected warning for 'broken', got %s", warnings[0].RuleID)
		}
	})

	t.Run("ReplacesPreviousSet", func(t *testing.T) {
		engine.ReloadRules([]*domain.DetectionRule{
			keywordRule("r1", "bank account", domain.RiskFraud, 45),
		})
		engine.ReloadRules(nil)

		if engine.RulesCount() != 0 {
			t.Errorf("expected 0 rules after empty reload, got %d", engine.RulesCount())
		}
	})

	t.Run("LoadedRulesOrderedByID", func(t *testing.T) {
		engine.ReloadRules([]*domain.DetectionRule{
			keywordRule("zz", "later", domain.RiskSpam, 10),
			keywordRule("aa", "earlier", domain.RiskSpam, 10),
		})

		loaded := engine.LoadedRules()
		if len(loaded) != 2 {
			t.Fatalf("expected 2 rules, got %d", len(loaded))
		}
		if loaded[0].ID != "aa" || loaded[1].ID != "zz" {
			t.Errorf("expected [aa zz], got [%s %s]", loaded[0].ID, loaded[1].ID)
		}
	})
}

func TestEvaluateText(t *testing.T) {
	engine, err := NewEngine()
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}

	t.Run("CaseInsensitiveMatch", func(t *testing.T) {
		engine.ReloadRules([]*domain.DetectionRule{
			keywordRule("kw-bank", "bank account", domain.RiskFraud, 45),
		})

		indicators, warnings := engine.Evaluate(textRecord("Please verify your BANK ACCOUNT now"), Signals{})
		if len(warnings) != 0 {
			t.Errorf("unexpected warnings: %v", warnings)
		}
		if len(indicators) != 1 {
			t.Fatalf("expected 1 indicator, got %d", len(indicators))
		}

		ind := indicators[0]
		if ind.RuleID != "kw-bank" {
			t.Errorf("expected rule kw-bank, got %s", ind.RuleID)
		}
		if ind.Category != domain.RiskFraud {
			t.Errorf("expected category fraud, got %s", ind.Category)
		}
		if ind.ScoreContribution != 45 {
			t.Errorf("expected contribution 45, got %d", ind.ScoreContribution)
		}
		if len(ind.Evidence) != 1 || ind.Evidence[0] != "BANK ACCOUNT" {
			t.Errorf("expected matched text as evidence, got %v", ind.Evidence)
		}
	})

	t.Run("RepetitionFiresOnce", func(t *testing.T) {
		engine.ReloadRules([]*domain.DetectionRule{
			keywordRule("kw-otp", "otp", domain.RiskPhishing, 40),
		})

		indicators, _ := engine.Evaluate(textRecord("read the otp, the otp, one more time the otp"), Signals{})
		if len(indicators) != 1 {
			t.Errorf("expected 1 indicator for repeated match, got %d", len(indicators))
		}
	})

	t.Run("RegexPattern", func(t *testing.T) {
		rule := keywordRule("pat-prize", "you (have )?won", domain.RiskSpam, 20)
		rule.Category = domain.RulePattern
		engine.ReloadRules([]*domain.DetectionRule{rule})

		indicators, _ := engine.Evaluate(textRecord("Congratulations, you won a cruise"), Signals{})
		if len(indicators) != 1 {
			t.Fatalf("expected 1 indicator, got %d", len(indicators))
		}
		if indicators[0].Type != domain.RulePattern {
			t.Errorf("expected pattern type, got %s", indicators[0].Type)
		}
	})

	t.Run("LanguageRestriction", func(t *testing.T) {
		restricted := keywordRule("kw-ta", "வங்கி", domain.RiskFraud, 45)
		restricted.Language = "ta"
		engine.ReloadRules([]*domain.DetectionRule{restricted})

		rec := textRecord("வங்கி கணக்கு")
		rec.Language = "ta"
		indicators, _ := engine.Evaluate(rec, Signals{})
		if len(indicators) != 1 {
			t.Errorf("expected rule to fire for matching language, got %d indicators", len(indicators))
		}

		rec.Language = "en"
		indicators, _ = engine.Evaluate(rec, Signals{})
		if len(indicators) != 0 {
			t.Errorf("expected rule skipped for other language, got %d indicators", len(indicators))
		}
	})

	t.Run("NoTranscriptNoTextIndicators", func(t *testing.T) {
		engine.ReloadRules([]*domain.DetectionRule{
			keywordRule("kw-bank", "bank account", domain.RiskFraud, 45),
		})

		rec := &domain.FeatureRecord{
			Modality: domain.ModalityAudio,
			Language: "en",
			Acoustic: map[string]float64{"pitch_std": 5},
		}
		indicators, _ := engine.Evaluate(rec, Signals{})
		if len(indicators) != 0 {
			t.Errorf("expected no indicators without transcript, got %d", len(indicators))
		}
	})
}

func TestEvaluateExpressions(t *testing.T) {
	engine, err := NewEngine()
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}

	acousticRule := &domain.DetectionRule{
		ID:          "ac-pitch",
		Name:        "monotone pitch",
		Pattern:     "features.pitch_std < 15.0",
		Category:    domain.RuleAcoustic,
		Label:       domain.RiskAIVoice,
		Severity:    domain.SeverityHigh,
		ScoreImpact: 25,
		Active:      true,
	}

	t.Run("AcousticThresholdFires", func(t *testing.T) {
		engine.ReloadRules([]*domain.DetectionRule{acousticRule})

		rec := &domain.FeatureRecord{
			Modality: domain.ModalityAudio,
			Language: "en",
			Acoustic: map[string]float64{"pitch_std": 5},
		}
		indicators, warnings := engine.Evaluate(rec, Signals{})
		if len(warnings) != 0 {
			t.Errorf("unexpected warnings: %v", warnings)
		}
		if len(indicators) != 1 {
			t.Fatalf("expected 1 indicator, got %d", len(indicators))
		}
		if indicators[0].RuleID != "ac-pitch" {
			t.Errorf("expected ac-pitch, got %s", indicators[0].RuleID)
		}
	})

	t.Run("AcousticThresholdHolds", func(t *testing.T) {
		engine.ReloadRules([]*domain.DetectionRule{acousticRule})

		rec := &domain.FeatureRecord{
			Modality: domain.ModalityAudio,
			Language: "en",
			Acoustic: map[string]float64{"pitch_std": 80},
		}
		indicators, _ := engine.Evaluate(rec, Signals{})
		if len(indicators) != 0 {
			t.Errorf("expected no indicators, got %d", len(indicators))
		}
	})

	t.Run("AbsentFeatureNotApplicable", func(t *testing.T) {
		engine.ReloadRules([]*domain.DetectionRule{acousticRule})

		// Feature map has no pitch_std: rule is not applicable, no
		// indicator and no warning.
		rec := &domain.FeatureRecord{
			Modality: domain.ModalityAudio,
			Language: "en",
			Acoustic: map[string]float64{"rms_mean": 0.2},
		}
		indicators, warnings := engine.Evaluate(rec, Signals{})
		if len(indicators) != 0 {
			t.Errorf("expected no indicators, got %d", len(indicators))
		}
		if len(warnings) != 0 {
			t.Errorf("expected no warnings for absent feature, got %v", warnings)
		}
	})

	t.Run("BehavioralVelocity", func(t *testing.T) {
		engine.ReloadRules([]*domain.DetectionRule{
			{
				ID:          "bh-velocity",
				Name:        "high call velocity",
				Pattern:     "call_velocity > 10",
				Category:    domain.RuleBehavioral,
				Label:       domain.RiskRobocall,
				Severity:    domain.SeverityMedium,
				ScoreImpact: 30,
				Active:      true,
			},
		})

		rec := textRecord("hello there")

		indicators, _ := engine.Evaluate(rec, Signals{CallVelocity: 25})
		if len(indicators) != 1 {
			t.Errorf("expected velocity rule to fire, got %d indicators", len(indicators))
		}

		indicators, _ = engine.Evaluate(rec, Signals{CallVelocity: 2})
		if len(indicators) != 0 {
			t.Errorf("expected velocity rule to hold, got %d indicators", len(indicators))
		}
	})

	t.Run("BehavioralKeywordDensity", func(t *testing.T) {
		engine.ReloadRules([]*domain.DetectionRule{
			keywordRule("kw-urgent", "urgent", domain.RiskSpam, 10),
			{
				ID:          "bh-density",
				Name:        "keyword dense transcript",
				Pattern:     "keyword_density > 0.2",
				Category:    domain.RuleBehavioral,
				Label:       domain.RiskSpam,
				Severity:    domain.SeverityMedium,
				ScoreImpact: 15,
				Active:      true,
			},
		})

		// One keyword match over four words: density 0.25
		indicators, _ := engine.Evaluate(textRecord("urgent reply needed now"), Signals{})
		if len(indicators) != 2 {
			t.Errorf("expected keyword and density indicators, got %d", len(indicators))
		}
	})
}

func TestValidateRule(t *testing.T) {
	engine, err := NewEngine()
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}

	t.Run("ValidRules", func(t *testing.T) {
		valid := []*domain.DetectionRule{
			keywordRule("v1", "bank account", domain.RiskFraud, 45),
			{ID: "v2", Name: "v2", Pattern: "features.pitch_std < 15.0",
				Category: domain.RuleAcoustic, ScoreImpact: 20},
			{ID: "v3", Name: "v3", Pattern: "call_velocity > 10 && duration < 30.0",
				Category: domain.RuleBehavioral, ScoreImpact: 20},
		}
		for _, rule := range valid {
			if err := engine.ValidateRule(rule); err != nil {
				t.Errorf("expected rule %s valid, got: %v", rule.ID, err)
			}
		}
	})

	t.Run("InvalidRules", func(t *testing.T) {
		invalid := []struct {
			name string
			rule *domain.DetectionRule
		}{
			{"nil rule", nil},
			{"missing name", &domain.DetectionRule{ID: "x", Pattern: "p", Category: domain.RuleKeyword}},
			{"negative impact", &domain.DetectionRule{ID: "x", Name: "x", Pattern: "p",
				Category: domain.RuleKeyword, ScoreImpact: -5}},
			{"impact above 100", &domain.DetectionRule{ID: "x", Name: "x", Pattern: "p",
				Category: domain.RuleKeyword, ScoreImpact: 150}},
			{"bad regex", &domain.DetectionRule{ID: "x", Name: "x", Pattern: "(unclosed",
				Category: domain.RuleKeyword, ScoreImpact: 10}},
			{"empty pattern", &domain.DetectionRule{ID: "x", Name: "x",
				Category: domain.RuleKeyword, ScoreImpact: 10}},
			{"bad expression", &domain.DetectionRule{ID: "x", Name: "x", Pattern: "features.[broken",
				Category: domain.RuleAcoustic, ScoreImpact: 10}},
			{"string expression", &domain.DetectionRule{ID: "x", Name: "x", Pattern: "language",
				Category: domain.RuleAcoustic, ScoreImpact: 10}},
			{"unknown category", &domain.DetectionRule{ID: "x", Name: "x", Pattern: "p",
				Category: "magic", ScoreImpact: 10}},
		}
		for _, tt := range invalid {
			if err := engine.ValidateRule(tt.rule); err == nil {
				t.Errorf("expected error for %s", tt.name)
			}
		}
	})
}

func TestRuleDescription(t *testing.T) {
	withDesc := keywordRule("r1", "otp", domain.RiskPhishing, 40)
	withDesc.Description = "Caller asks for a one-time password"
	if got := ruleDescription(withDesc); got != "Caller asks for a one-time password" {
		t.Errorf("expected explicit description, got %q", got)
	}

	without := keywordRule("r2", "otp", domain.RiskPhishing, 40)
	if got := ruleDescription(without); !strings.Contains(got, "phishing") {
		t.Errorf("expected generated description to name the label, got %q", got)
	}
}
