// Package analysis orchestrates the call analysis pipeline: collaborator
// calls, ingestion, rule evaluation, scoring, persistence, and events.
// The evaluators themselves are pure; every side effect lives here.
package analysis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/callguard-ai/callguard/internal/aivoice"
	"github.com/callguard-ai/callguard/internal/callstats"
	"github.com/callguard-ai/callguard/internal/domain"
	"github.com/callguard-ai/callguard/internal/ingest"
	"github.com/callguard-ai/callguard/internal/rules"
	"github.com/callguard-ai/callguard/internal/score"
)

// analysisCacheTTL bounds how long an identical submission can reuse a
// previous result. Rule reloads do not invalidate cached entries within
// this window.
const analysisCacheTTL = 5 * time.Minute

// Service runs the analysis pipeline. All fields are set at
// construction; the service is safe for concurrent use.
type Service struct {
	repo  domain.Repository
	cache domain.Cache
	bus   domain.EventBus

	ingestor *ingest.Ingestor
	engine   *rules.Engine
	detector *aivoice.Detector
	stats    *callstats.Service

	transcriber domain.Transcriber
	extractor   domain.FeatureExtractor

	detection domain.DetectionConfig
	voice     domain.VoiceDetectionConfig
}

// Deps bundles the service dependencies. Repo, cache, and bus may be
// nil; the pipeline degrades to pure evaluation without them.
type Deps struct {
	Repo  domain.Repository
	Cache domain.Cache
	Bus   domain.EventBus

	Ingestor *ingest.Ingestor
	Engine   *rules.Engine
	Detector *aivoice.Detector
	Stats    *callstats.Service

	Transcriber domain.Transcriber
	Extractor   domain.FeatureExtractor

	Detection domain.DetectionConfig
	Voice     domain.VoiceDetectionConfig
}

// NewService creates the pipeline service. Missing collaborators fall
// back to the unavailable defaults so audio-only requests degrade
// instead of panicking.
func NewService(deps Deps) *Service {
	transcriber := deps.Transcriber
	if transcriber == nil {
		transcriber = domain.UnavailableTranscriber{}
	}
	extractor := deps.Extractor
	if extractor == nil {
		extractor = domain.UnavailableExtractor{}
	}

	return &Service{
		repo:        deps.Repo,
		cache:       deps.Cache,
		bus:         deps.Bus,
		ingestor:    deps.Ingestor,
		engine:      deps.Engine,
		detector:    deps.Detector,
		stats:       deps.Stats,
		transcriber: transcriber,
		extractor:   extractor,
		detection:   deps.Detection,
		voice:       deps.Voice,
	}
}

// Request is the raw material for one analysis. Audio is optional; when
// present it is transcribed and feature-extracted unless the caller
// already supplied a transcript or features.
type Request struct {
	Audio []byte `json:"-"`

	Transcript   string             `json:"transcript,omitempty"`
	Acoustic     map[string]float64 `json:"acousticFeatures,omitempty"`
	Linguistic   map[string]float64 `json:"linguisticFeatures,omitempty"`
	LanguageHint string             `json:"language,omitempty"`

	CallerNumber    string  `json:"callerNumber,omitempty"`
	DurationSeconds float64 `json:"durationSeconds,omitempty"`
}

// AnalyzeCall runs the full classification pipeline for one call. A
// failed collaborator skips its evaluator categories and discloses them
// in the result; only invalid input or an unsupported language fails
// the request.
func (s *Service) AnalyzeCall(ctx context.Context, tenantID string, req *Request) (*domain.Analysis, error) {
	if err := s.checkAudio(req.Audio); err != nil {
		return nil, err
	}

	transcript, acoustic, hint, skipped := s.gatherInputs(ctx, req)

	if len(req.Audio) > 0 && transcript == "" && len(acoustic) == 0 {
		return nil, fmt.Errorf("%w: audio supplied but no transcription or extraction backend available",
			domain.ErrCollaboratorUnavailable)
	}

	rec, err := s.ingestor.Normalize(ingest.Input{
		Transcript:      transcript,
		Acoustic:        acoustic,
		Linguistic:      req.Linguistic,
		LanguageHint:    hint,
		CallerNumber:    req.CallerNumber,
		DurationSeconds: req.DurationSeconds,
	})
	if err != nil {
		return nil, err
	}

	key := contentKey(rec)
	if cached := s.cachedAnalysis(ctx, tenantID, key); cached != nil {
		return cached, nil
	}

	velocity := s.callVelocity(ctx, tenantID, rec.CallerNumber)

	indicators, warnings := s.engine.Evaluate(rec, rules.Signals{CallVelocity: velocity})
	result := score.Aggregate(rec, indicators, warnings, skipped)

	analysis := s.persist(ctx, tenantID, rec, result)

	if s.cache != nil {
		if err := s.cache.SetAnalysis(ctx, tenantID, key, analysis, analysisCacheTTL); err != nil {
			slog.Warn("failed to cache analysis", "analysis_id", analysis.ID, "error", err)
		}
	}

	s.publishResult(ctx, tenantID, analysis)
	return analysis, nil
}

// DetectVoice runs the AI-voice detection path. It requires acoustic
// features, supplied directly or extracted from audio.
func (s *Service) DetectVoice(ctx context.Context, tenantID string, req *Request) (*domain.Analysis, error) {
	if err := s.checkAudio(req.Audio); err != nil {
		return nil, err
	}

	acoustic := req.Acoustic
	if len(acoustic) == 0 && len(req.Audio) > 0 {
		extracted, err := s.extractor.ExtractFeatures(ctx, req.Audio)
		if err != nil {
			return nil, fmt.Errorf("%w: feature extraction failed: %v", domain.ErrCollaboratorUnavailable, err)
		}
		acoustic = extracted
	}

	rec, err := s.ingestor.Normalize(ingest.Input{
		Transcript:      req.Transcript,
		Acoustic:        acoustic,
		LanguageHint:    req.LanguageHint,
		CallerNumber:    req.CallerNumber,
		DurationSeconds: req.DurationSeconds,
	})
	if err != nil {
		return nil, err
	}

	indicators, err := s.detector.Detect(rec)
	if err != nil {
		return nil, err
	}

	result := score.AggregateVoice(rec, indicators, nil, s.voice)
	analysis := s.persist(ctx, tenantID, rec, result)
	s.publishResult(ctx, tenantID, analysis)
	return analysis, nil
}

// ReloadRules loads the tenant's active rules from the repository into
// the engine and announces the reload on the bus. Returns the number of
// rules now loaded.
func (s *Service) ReloadRules(ctx context.Context, tenantID string) (int, error) {
	if s.repo == nil {
		return 0, fmt.Errorf("repository not available")
	}

	dbRules, err := s.repo.ListActiveRules(ctx, tenantID)
	if err != nil {
		return 0, fmt.Errorf("failed to list rules: %w", err)
	}

	s.engine.ReloadRules(dbRules)
	count := s.engine.RulesCount()

	if s.bus != nil {
		payload, _ := json.Marshal(map[string]int{"count": count})
		if err := s.bus.Publish(ctx, tenantID, domain.TopicRuleReload, payload); err != nil {
			slog.Warn("failed to publish rule reload", "error", err)
		}
	}

	slog.Info("rules reloaded", "tenant_id", tenantID, "count", count)
	return count, nil
}

// checkAudio rejects audio payloads smaller than the configured
// minimum before any collaborator is invoked. A few bytes cannot hold
// speech; rejecting them is a client error, not a degradation.
func (s *Service) checkAudio(audio []byte) error {
	if len(audio) > 0 && len(audio) < s.detection.MinAudioBytes {
		return fmt.Errorf("%w: audio payload is %d bytes, minimum is %d",
			domain.ErrInvalidInput, len(audio), s.detection.MinAudioBytes)
	}
	return nil
}

// gatherInputs resolves the transcript and acoustic features, invoking
// collaborators for raw audio. Each collaborator failure appends the
// evaluator categories it silences to skipped.
func (s *Service) gatherInputs(ctx context.Context, req *Request) (transcript string, acoustic map[string]float64, hint string, skipped []string) {
	transcript = req.Transcript
	acoustic = req.Acoustic
	hint = req.LanguageHint

	if len(req.Audio) == 0 {
		return transcript, acoustic, hint, nil
	}

	if transcript == "" {
		text, detected, err := s.transcriber.Transcribe(ctx, req.Audio, hint)
		if err != nil {
			if !errors.Is(err, domain.ErrCollaboratorUnavailable) {
				slog.Warn("transcription failed", "error", err)
			}
			skipped = append(skipped, string(domain.RuleKeyword), string(domain.RulePattern))
		} else {
			transcript = text
			if hint == "" {
				hint = detected
			}
		}
	}

	if len(acoustic) == 0 {
		features, err := s.extractor.ExtractFeatures(ctx, req.Audio)
		if err != nil {
			if !errors.Is(err, domain.ErrCollaboratorUnavailable) {
				slog.Warn("feature extraction failed", "error", err)
			}
			skipped = append(skipped, string(domain.RuleAcoustic))
		} else {
			acoustic = features
		}
	}

	return transcript, acoustic, hint, skipped
}

// callVelocity fetches the caller velocity signal. Failures degrade to
// zero; the behavioral evaluator still runs.
func (s *Service) callVelocity(ctx context.Context, tenantID, callerNumber string) int64 {
	if s.stats == nil || callerNumber == "" {
		return 0
	}
	count, err := s.stats.CallCount(ctx, tenantID, callerNumber, s.detection.VelocityWindowSecs)
	if err != nil {
		slog.Warn("velocity lookup failed", "caller", callerNumber, "error", err)
		return 0
	}
	return count
}

func (s *Service) cachedAnalysis(ctx context.Context, tenantID, key string) *domain.Analysis {
	if s.cache == nil {
		return nil
	}
	cached, err := s.cache.GetAnalysis(ctx, tenantID, key)
	if err != nil {
		slog.Warn("analysis cache lookup failed", "error", err)
		return nil
	}
	return cached
}

// persist attaches identity and timestamps to the result and stores the
// call and analysis. Storage failures are logged and the in-memory
// analysis is still returned: the caller gets their verdict either way.
func (s *Service) persist(ctx context.Context, tenantID string, rec *domain.FeatureRecord, result *domain.AnalysisResult) *domain.Analysis {
	now := time.Now().UTC()

	call := &domain.CallRecord{
		ID:              uuid.New().String(),
		TenantID:        tenantID,
		CallerNumber:    rec.CallerNumber,
		Modality:        rec.Modality,
		Transcript:      rec.Transcript,
		Language:        rec.Language,
		DurationSeconds: rec.DurationSeconds,
		Timestamp:       now,
		CreatedAt:       now,
	}

	analysis := &domain.Analysis{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		CallID:    call.ID,
		Result:    *result,
		Timestamp: now,
	}

	if s.repo != nil {
		if err := s.repo.SaveCall(ctx, tenantID, call); err != nil {
			slog.Error("failed to save call", "call_id", call.ID, "error", err)
		}
		if err := s.repo.SaveAnalysis(ctx, tenantID, analysis); err != nil {
			slog.Error("failed to save analysis", "analysis_id", analysis.ID, "error", err)
		}
	}

	return analysis
}

// publishResult announces a completed analysis, plus an alert whenever
// the classification names a threat. The score does not gate the alert:
// a low-scoring spam verdict still alerts.
func (s *Service) publishResult(ctx context.Context, tenantID string, analysis *domain.Analysis) {
	if s.bus == nil {
		return
	}

	payload, err := json.Marshal(analysis)
	if err != nil {
		slog.Error("failed to marshal analysis", "analysis_id", analysis.ID, "error", err)
		return
	}

	if err := s.bus.Publish(ctx, tenantID, domain.TopicAnalysisCompleted, payload); err != nil {
		slog.Error("failed to publish analysis", "analysis_id", analysis.ID, "error", err)
	}

	if alertable(analysis.Result.Classification) {
		if err := s.bus.Publish(ctx, tenantID, domain.TopicAlert, payload); err != nil {
			slog.Error("failed to publish alert", "analysis_id", analysis.ID, "error", err)
		}
	}
}

// alertable reports whether a classification warrants an alert event.
// Safe calls, human voice verdicts, and uncertain voice verdicts do
// not; everything else is a threat verdict.
func alertable(c domain.Classification) bool {
	switch c {
	case domain.ClassSafe, domain.ClassHuman, domain.ClassUncertain:
		return false
	}
	return true
}

// contentKey derives a stable cache key from everything that affects
// the verdict: transcript, features, caller, and resolved language.
func contentKey(rec *domain.FeatureRecord) string {
	h := sha256.New()
	h.Write([]byte(rec.Transcript))
	h.Write([]byte(rec.Language))
	h.Write([]byte(rec.CallerNumber))

	names := make([]string, 0, len(rec.Acoustic))
	for name := range rec.Acoustic {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(h, "%s=%v;", name, rec.Acoustic[name])
	}

	return hex.EncodeToString(h.Sum(nil))
}
