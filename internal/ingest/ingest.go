// Package ingest normalizes externally computed features into the
// uniform record the evaluators consume.
package ingest

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/callguard-ai/callguard/internal/domain"
)

// Ingestor builds normalized feature records. It holds only
// configuration and is safe for concurrent use.
type Ingestor struct {
	languages domain.LanguageConfig
	bounds    map[string]domain.FeatureBound
	maxChars  int
}

// New creates an ingestor from detection and language configuration.
func New(det domain.DetectionConfig, langs domain.LanguageConfig) *Ingestor {
	bounds := det.FeatureBounds
	if bounds == nil {
		bounds = domain.DefaultFeatureBounds()
	}
	maxChars := det.MaxTranscriptChars
	if maxChars <= 0 {
		maxChars = 100000
	}
	return &Ingestor{
		languages: langs,
		bounds:    bounds,
		maxChars:  maxChars,
	}
}

// Input is the raw material for one normalization.
type Input struct {
	Transcript   string
	Acoustic     map[string]float64
	Linguistic   map[string]float64
	LanguageHint string

	CallerNumber    string
	DurationSeconds float64
}

// Normalize validates and normalizes raw input into a FeatureRecord.
// Fails with ErrInvalidInput when both transcript and acoustic features
// are absent, and with ErrUnsupportedLanguage when the resolved language
// is outside the supported set. Out-of-range numeric features are
// clamped to their declared bounds; a single noisy feature must not
// abort the analysis.
func (i *Ingestor) Normalize(in Input) (*domain.FeatureRecord, error) {
	transcript := strings.TrimSpace(in.Transcript)

	if transcript == "" && len(in.Acoustic) == 0 {
		return nil, fmt.Errorf("%w: transcript and acoustic features both absent", domain.ErrInvalidInput)
	}
	if len(transcript) > i.maxChars {
		return nil, fmt.Errorf("%w: transcript exceeds %d characters", domain.ErrInvalidInput, i.maxChars)
	}

	lang, source, err := i.resolveLanguage(in.LanguageHint, transcript)
	if err != nil {
		return nil, err
	}

	modality := domain.ModalityText
	if len(in.Acoustic) > 0 {
		modality = domain.ModalityAudio
	}

	rec := &domain.FeatureRecord{
		Modality:        modality,
		Transcript:      transcript,
		Language:        lang,
		LanguageSource:  source,
		Acoustic:        i.clamp(in.Acoustic),
		Linguistic:      copyMap(in.Linguistic),
		CallerNumber:    in.CallerNumber,
		DurationSeconds: in.DurationSeconds,
	}
	return rec, nil
}

// resolveLanguage applies the resolution order: explicit hint, then
// detection from the transcript, then the configured default. The
// chosen language and its source are always reported, never silently
// substituted.
func (i *Ingestor) resolveLanguage(hint, transcript string) (string, domain.LanguageSource, error) {
	if hint != "" {
		if !i.languages.IsSupported(hint) {
			return "", "", fmt.Errorf("%w: %q (supported: %s)",
				domain.ErrUnsupportedLanguage, hint, strings.Join(i.languages.Supported, ","))
		}
		return hint, domain.LanguageFromHint, nil
	}

	if transcript != "" {
		if detected := detectScript(transcript); detected != "" {
			if !i.languages.IsSupported(detected) {
				return "", "", fmt.Errorf("%w: detected %q", domain.ErrUnsupportedLanguage, detected)
			}
			return detected, domain.LanguageFromDetection, nil
		}
	}

	return i.languages.Default, domain.LanguageFromDefault, nil
}

// clamp copies the feature map, forcing each declared feature into its
// valid range. Unknown feature names pass through untouched so custom
// extraction backends keep working.
func (i *Ingestor) clamp(features map[string]float64) map[string]float64 {
	if len(features) == 0 {
		return nil
	}
	out := make(map[string]float64, len(features))
	for name, v := range features {
		if b, ok := i.bounds[name]; ok {
			if v < b.Min {
				v = b.Min
			} else if v > b.Max {
				v = b.Max
			}
		}
		out[name] = v
	}
	return out
}

func copyMap(m map[string]float64) map[string]float64 {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// detectScript guesses a language code from the dominant Unicode script
// in the transcript. It covers the Indic scripts of the supported set;
// Latin text detects as English. Returns "" when nothing recognizable
// is present, letting the configured default apply.
func detectScript(text string) string {
	counts := map[string]int{}
	for _, r := range text {
		switch {
		case unicode.In(r, unicode.Tamil):
			counts["ta"]++
		case unicode.In(r, unicode.Devanagari):
			counts["hi"]++
		case unicode.In(r, unicode.Malayalam):
			counts["ml"]++
		case unicode.In(r, unicode.Telugu):
			counts["te"]++
		case unicode.In(r, unicode.Latin):
			counts["en"]++
		}
	}

	best, bestCount := "", 0
	for lang, n := range counts {
		if n > bestCount {
			best, bestCount = lang, n
		}
	}
	return best
}
