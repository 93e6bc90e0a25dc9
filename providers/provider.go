// Package providers defines the contracts for the external AI services
// the capture pipeline calls after a recording completes: speech-to-text,
// content generation, cover illustration, and speech synthesis. The
// pipeline treats each as an opaque asynchronous call; different
// vendors implement these interfaces behind their own subpackages.
package providers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Transcriber converts a finished audio recording into text.
type Transcriber interface {
	// Transcribe sends the recording blob and returns the transcription.
	// The mimeType identifies the blob's container format.
	Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error)
}

// GeneratedContent is the polished post produced from a transcription.
type GeneratedContent struct {
	// Content is the full generated text.
	Content string
	// IsTeaser marks content truncated by the caller's entitlement
	// tier; the full version sits behind an upgrade.
	IsTeaser bool
}

// ContentGenerator turns a raw transcription into publishable content.
type ContentGenerator interface {
	Generate(ctx context.Context, transcription string) (GeneratedContent, error)
}

// CoverImage describes a generated illustration for a post.
type CoverImage struct {
	URL    string
	Alt    string
	Width  int
	Height int
}

// CoverArtist produces a cover illustration from generated content.
type CoverArtist interface {
	Illustrate(ctx context.Context, content string) (CoverImage, error)
}

// SpeechRequest asks for synthesized narration of a piece of content.
type SpeechRequest struct {
	Text string
	// Voice selects a vendor voice id, or identifies the cloned voice.
	Voice string
	// VoiceSample, when present, is a recording of the author's voice
	// for cloning-capable synthesizers.
	VoiceSample []byte
	// Language is a two-letter language code, defaulting to "en".
	Language string
}

// SpeechSynthesizer renders text to an audio blob.
type SpeechSynthesizer interface {
	Synthesize(ctx context.Context, req SpeechRequest) ([]byte, error)
}

// QuotaError is a quota/entitlement rejection from any downstream AI
// call. It carries the user-facing upgrade messaging so the UI layer
// can prompt without interpreting vendor error codes.
type QuotaError struct {
	Message  string
	Benefits []string
	ResetAt  *time.Time
}

func (e *QuotaError) Error() string {
	if len(e.Benefits) == 0 {
		return fmt.Sprintf("quota exceeded: %s", e.Message)
	}
	return fmt.Sprintf("quota exceeded: %s (upgrade for: %s)", e.Message, strings.Join(e.Benefits, ", "))
}

// IsQuota reports whether err is (or wraps) a quota rejection.
func IsQuota(err error) bool {
	var qe *QuotaError
	return errors.As(err, &qe)
}

// AsQuota extracts the quota rejection from err, if any.
func AsQuota(err error) (*QuotaError, bool) {
	var qe *QuotaError
	if errors.As(err, &qe) {
		return qe, true
	}
	return nil, false
}
