package domain

import "errors"

// Error taxonomy for the analysis pipeline. Only ErrInvalidInput and
// ErrUnsupportedLanguage are fatal to a request; collaborator failures
// degrade the analysis instead.
var (
	// ErrInvalidInput means the caller supplied neither a transcript nor
	// acoustic features, or the input failed minimum validation.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnsupportedLanguage means the requested language is outside the
	// configured supported set.
	ErrUnsupportedLanguage = errors.New("unsupported language")

	// ErrCollaboratorUnavailable is returned by transcription or feature
	// extraction collaborators when they cannot serve a request. The
	// pipeline treats it as "signal absent", not as a request failure.
	ErrCollaboratorUnavailable = errors.New("collaborator unavailable")
)
