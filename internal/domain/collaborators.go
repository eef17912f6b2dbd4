package domain

import "context"

// Transcriber converts call audio to text. Implementations wrap an
// external speech-to-text service; the core never decodes audio itself.
// A failed transcription degrades the analysis (text evaluators are
// skipped), it does not fail the request.
type Transcriber interface {
	// Transcribe returns the transcript and the detected language code.
	Transcribe(ctx context.Context, audio []byte, languageHint string) (transcript string, detectedLanguage string, err error)
}

// FeatureExtractor computes named acoustic features from call audio.
// Failures degrade to an empty or partial feature map.
type FeatureExtractor interface {
	ExtractFeatures(ctx context.Context, audio []byte) (map[string]float64, error)
}

// UnavailableTranscriber is the default Transcriber when no speech-to-
// text backend is configured. Every call fails with
// ErrCollaboratorUnavailable, which the pipeline treats as
// "transcript absent".
type UnavailableTranscriber struct{}

func (UnavailableTranscriber) Transcribe(ctx context.Context, audio []byte, languageHint string) (string, string, error) {
	return "", "", ErrCollaboratorUnavailable
}

// UnavailableExtractor is the default FeatureExtractor when no signal
// processing backend is configured.
type UnavailableExtractor struct{}

func (UnavailableExtractor) ExtractFeatures(ctx context.Context, audio []byte) (map[string]float64, error) {
	return nil, ErrCollaboratorUnavailable
}
