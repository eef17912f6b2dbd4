package analysis

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/callguard-ai/callguard/internal/aivoice"
	"github.com/callguard-ai/callguard/internal/bus"
	"github.com/callguard-ai/callguard/internal/cache"
	"github.com/callguard-ai/callguard/internal/domain"
	"github.com/callguard-ai/callguard/internal/ingest"
	"github.com/callguard-ai/callguard/internal/rules"
)

func testRules() []*domain.DetectionRule {
	return []*domain.DetectionRule{
		{
			ID:          "kw-bank",
			Name:        "bank account request",
			Pattern:     "bank account",
			Category:    domain.RuleKeyword,
			Label:       domain.RiskFraud,
			Severity:    domain.SeverityCritical,
			ScoreImpact: 45,
			Active:      true,
		},
		{
			ID:          "kw-otp",
			Name:        "otp request",
			Pattern:     "otp",
			Category:    domain.RuleKeyword,
			Label:       domain.RiskPhishing,
			Severity:    domain.SeverityHigh,
			ScoreImpact: 40,
			Active:      true,
		},
	}
}

func newTestService(t *testing.T, deps Deps) *Service {
	t.Helper()

	if deps.Engine == nil {
		engine, err := rules.NewEngine()
		if err != nil {
			t.Fatalf("failed to create engine: %v", err)
		}
		engine.ReloadRules(testRules())
		deps.Engine = engine
	}

	cfg := domain.DefaultConfig()
	if deps.Ingestor == nil {
		deps.Ingestor = ingest.New(cfg.Detection, cfg.Languages)
	}
	if deps.Detector == nil {
		deps.Detector = aivoice.New(cfg.Voice)
	}
	deps.Detection = cfg.Detection
	deps.Voice = cfg.Voice

	return NewService(deps)
}

// stubTranscriber returns a fixed transcript for any audio.
type stubTranscriber struct {
	transcript string
	language   string
}

func (s stubTranscriber) Transcribe(ctx context.Context, audio []byte, hint string) (string, string, error) {
	return s.transcript, s.language, nil
}

// fakeAudio is large enough to pass the minimum-size validation.
func fakeAudio() []byte {
	return make([]byte, 4096)
}

func TestAnalyzeCall(t *testing.T) {
	ctx := context.Background()

	t.Run("FraudulentTranscript", func(t *testing.T) {
		svc := newTestService(t, Deps{})

		result, err := svc.AnalyzeCall(ctx, "tenant-001", &Request{
			Transcript:   "please verify your bank account and read the otp",
			LanguageHint: "en",
		})
		if err != nil {
			t.Fatalf("AnalyzeCall failed: %v", err)
		}

		if result.ID == "" || result.CallID == "" {
			t.Error("expected analysis and call IDs to be assigned")
		}
		if result.TenantID != "tenant-001" {
			t.Errorf("expected tenant-001, got %s", result.TenantID)
		}
		if result.Result.Classification != domain.ClassFraud {
			t.Errorf("expected fraud, got %s", result.Result.Classification)
		}
		if result.Result.RiskScore != 85 {
			t.Errorf("expected score 85, got %.2f", result.Result.RiskScore)
		}
	})

	t.Run("InvalidInput", func(t *testing.T) {
		svc := newTestService(t, Deps{})

		_, err := svc.AnalyzeCall(ctx, "tenant-001", &Request{LanguageHint: "en"})
		if !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got: %v", err)
		}
	})

	t.Run("AudioWithoutCollaborators", func(t *testing.T) {
		// Audio but no transcription or extraction backend: nothing can
		// be evaluated, so the request fails instead of degrading.
		svc := newTestService(t, Deps{})

		_, err := svc.AnalyzeCall(ctx, "tenant-001", &Request{
			Audio: fakeAudio(),
		})
		if !errors.Is(err, domain.ErrCollaboratorUnavailable) {
			t.Errorf("expected ErrCollaboratorUnavailable, got: %v", err)
		}
	})

	t.Run("AudioBelowMinimumSize", func(t *testing.T) {
		// A payload of a few bytes cannot hold speech. It is rejected
		// as a client error before any collaborator is invoked.
		svc := newTestService(t, Deps{
			Transcriber: stubTranscriber{transcript: "confirm your bank account", language: "en"},
		})

		_, err := svc.AnalyzeCall(ctx, "tenant-001", &Request{
			Audio: []byte{0x52, 0x49, 0x46, 0x46},
		})
		if !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got: %v", err)
		}
	})

	t.Run("AudioWithTranscriberDegrades", func(t *testing.T) {
		// Transcription works but extraction does not: the acoustic
		// evaluator is skipped and disclosed, the text path still runs.
		svc := newTestService(t, Deps{
			Transcriber: stubTranscriber{transcript: "confirm your bank account", language: "en"},
		})

		result, err := svc.AnalyzeCall(ctx, "tenant-001", &Request{
			Audio: fakeAudio(),
		})
		if err != nil {
			t.Fatalf("AnalyzeCall failed: %v", err)
		}

		if result.Result.Classification != domain.ClassFraud {
			t.Errorf("expected fraud from transcribed text, got %s", result.Result.Classification)
		}

		found := false
		for _, cat := range result.Result.SkippedCategories {
			if cat == string(domain.RuleAcoustic) {
				found = true
			}
		}
		if !found {
			t.Errorf("expected acoustic in skipped categories, got %v", result.Result.SkippedCategories)
		}
	})

	t.Run("CacheHitReturnsSameAnalysis", func(t *testing.T) {
		svc := newTestService(t, Deps{Cache: cache.NewLRUCache(100)})

		req := &Request{Transcript: "hello, quick question", LanguageHint: "en"}

		first, err := svc.AnalyzeCall(ctx, "tenant-001", req)
		if err != nil {
			t.Fatalf("first AnalyzeCall failed: %v", err)
		}

		second, err := svc.AnalyzeCall(ctx, "tenant-001", req)
		if err != nil {
			t.Fatalf("second AnalyzeCall failed: %v", err)
		}

		if first.ID != second.ID {
			t.Errorf("expected cached analysis with same ID, got %s and %s", first.ID, second.ID)
		}
	})

	t.Run("CacheIsPerTenant", func(t *testing.T) {
		svc := newTestService(t, Deps{Cache: cache.NewLRUCache(100)})

		req := &Request{Transcript: "hello, quick question", LanguageHint: "en"}

		a, _ := svc.AnalyzeCall(ctx, "tenant-a", req)
		b, _ := svc.AnalyzeCall(ctx, "tenant-b", req)

		if a.ID == b.ID {
			t.Error("expected distinct analyses for distinct tenants")
		}
	})

	t.Run("PublishesCompletedAndAlert", func(t *testing.T) {
		eventBus := bus.NewChannelBus(100)
		defer eventBus.Close()

		var completed, alerted atomic.Int32
		eventBus.Subscribe(ctx, "tenant-001", domain.TopicAnalysisCompleted, func(ctx context.Context, msg *domain.Message) error {
			completed.Add(1)
			return nil
		})
		eventBus.Subscribe(ctx, "tenant-001", domain.TopicAlert, func(ctx context.Context, msg *domain.Message) error {
			alerted.Add(1)
			return nil
		})
		time.Sleep(10 * time.Millisecond)

		svc := newTestService(t, Deps{Bus: eventBus})

		// Safe call: completed only
		_, err := svc.AnalyzeCall(ctx, "tenant-001", &Request{
			Transcript:   "see you at dinner",
			LanguageHint: "en",
		})
		if err != nil {
			t.Fatalf("AnalyzeCall failed: %v", err)
		}

		// High-risk call: completed and alert
		_, err = svc.AnalyzeCall(ctx, "tenant-001", &Request{
			Transcript:   "read me the otp and your bank account number",
			LanguageHint: "en",
		})
		if err != nil {
			t.Fatalf("AnalyzeCall failed: %v", err)
		}

		time.Sleep(50 * time.Millisecond)

		if completed.Load() != 2 {
			t.Errorf("expected 2 completed events, got %d", completed.Load())
		}
		if alerted.Load() != 1 {
			t.Errorf("expected 1 alert event, got %d", alerted.Load())
		}
	})

	t.Run("AlertsOnLowScoringThreatVerdict", func(t *testing.T) {
		// The alert follows the classification, not the score. A spam
		// verdict worth 30 points still produces an alert event.
		engine, err := rules.NewEngine()
		if err != nil {
			t.Fatalf("failed to create engine: %v", err)
		}
		engine.ReloadRules([]*domain.DetectionRule{
			{
				ID:          "kw-cruise",
				Name:        "free cruise bait",
				Pattern:     "free cruise",
				Category:    domain.RuleKeyword,
				Label:       domain.RiskSpam,
				Severity:    domain.SeverityMedium,
				ScoreImpact: 30,
				Active:      true,
			},
		})

		eventBus := bus.NewChannelBus(100)
		defer eventBus.Close()

		var alerted atomic.Int32
		eventBus.Subscribe(ctx, "tenant-001", domain.TopicAlert, func(ctx context.Context, msg *domain.Message) error {
			alerted.Add(1)
			return nil
		})
		time.Sleep(10 * time.Millisecond)

		svc := newTestService(t, Deps{Engine: engine, Bus: eventBus})

		result, err := svc.AnalyzeCall(ctx, "tenant-001", &Request{
			Transcript:   "congratulations, you have been selected for a free cruise",
			LanguageHint: "en",
		})
		if err != nil {
			t.Fatalf("AnalyzeCall failed: %v", err)
		}
		if result.Result.Classification != domain.ClassSpam {
			t.Fatalf("expected spam, got %s", result.Result.Classification)
		}
		if result.Result.RiskScore != 30 {
			t.Fatalf("expected score 30, got %.2f", result.Result.RiskScore)
		}

		time.Sleep(50 * time.Millisecond)

		if alerted.Load() != 1 {
			t.Errorf("expected 1 alert for spam verdict below 60, got %d", alerted.Load())
		}
	})
}

func TestDetectVoice(t *testing.T) {
	ctx := context.Background()

	t.Run("SyntheticFeatures", func(t *testing.T) {
		svc := newTestService(t, Deps{})

		result, err := svc.DetectVoice(ctx, "tenant-001", &Request{
			Acoustic: map[string]float64{
				"pitch_std":              5,
				"spectral_flatness_mean": 0.05,
				"spectral_flatness_std":  0.01,
				"spectral_centroid_std":  100,
				"onset_regularity":       0.95,
				"zero_crossing_rate":     0.01,
				"mfcc_variance_total":    20,
				"hnr_approx":             30,
			},
		})
		if err != nil {
			t.Fatalf("DetectVoice failed: %v", err)
		}

		if result.Result.Classification != domain.ClassAIGenerated {
			t.Errorf("expected ai_generated, got %s", result.Result.Classification)
		}
		if result.Result.IsAIGenerated == nil || !*result.Result.IsAIGenerated {
			t.Error("expected IsAIGenerated true")
		}
	})

	t.Run("MissingFeatures", func(t *testing.T) {
		svc := newTestService(t, Deps{})

		_, err := svc.DetectVoice(ctx, "tenant-001", &Request{
			Transcript:   "no features supplied",
			LanguageHint: "en",
		})
		if !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got: %v", err)
		}
	})

	t.Run("AudioWithoutExtractor", func(t *testing.T) {
		svc := newTestService(t, Deps{})

		_, err := svc.DetectVoice(ctx, "tenant-001", &Request{
			Audio: fakeAudio(),
		})
		if !errors.Is(err, domain.ErrCollaboratorUnavailable) {
			t.Errorf("expected ErrCollaboratorUnavailable, got: %v", err)
		}
	})

	t.Run("AudioBelowMinimumSize", func(t *testing.T) {
		svc := newTestService(t, Deps{})

		_, err := svc.DetectVoice(ctx, "tenant-001", &Request{
			Audio: []byte{0x52, 0x49},
		})
		if !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got: %v", err)
		}
	})
}

func TestContentKey(t *testing.T) {
	recA := &domain.FeatureRecord{
		Transcript:   "hello",
		Language:     "en",
		CallerNumber: "+14155550001",
		Acoustic:     map[string]float64{"a": 1, "b": 2},
	}
	recB := &domain.FeatureRecord{
		Transcript:   "hello",
		Language:     "en",
		CallerNumber: "+14155550001",
		Acoustic:     map[string]float64{"b": 2, "a": 1},
	}
	recC := &domain.FeatureRecord{
		Transcript:   "hello",
		Language:     "ta",
		CallerNumber: "+14155550001",
	}

	if contentKey(recA) != contentKey(recB) {
		t.Error("expected identical keys regardless of map iteration order")
	}
	if contentKey(recA) == contentKey(recC) {
		t.Error("expected different keys for different language")
	}
}
