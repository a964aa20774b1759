// Package parser extracts plain text, a title, and a published date from
// a fetched document, dispatching on content type/extension. HTML
// extraction is grounded on internal/crawler/extractor.go's
// JSON-LD -> feed -> OpenGraph -> readability -> raw-text fallback chain;
// the other formats are SUPPLEMENTED (see SPEC_FULL.md §11/§12) since the
// teacher only ever parses HTML and RSS/Atom feeds.
package parser

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"

	"github.com/spyglass-search/spyglass-sub001/internal/platform/config"
	"github.com/spyglass-search/spyglass-sub001/internal/platform/observability"
	"github.com/spyglass-search/spyglass-sub001/internal/queue"
)

// Dispatcher routes a fetched body to the right format-specific parser by
// content type first, then by URL extension.
type Dispatcher struct {
	audio  *AudioTranscriber
	logger *zerolog.Logger
}

// NewDispatcher constructs a Dispatcher. audio may be nil when
// AudioTranscriptionEnabled is false, in which case audio files are
// skipped with a permanent parse error.
func NewDispatcher(audio *AudioTranscriber, logger *zerolog.Logger) *Dispatcher {
	return &Dispatcher{audio: audio, logger: logger}
}

// NewDispatcherFromConfig wires an AudioTranscriber only if the process
// config has audio transcription enabled.
func NewDispatcherFromConfig(cfg *config.Config, logger *zerolog.Logger) *Dispatcher {
	var audio *AudioTranscriber
	if cfg.AudioTranscriptionEnabled {
		audio = NewAudioTranscriber(cfg.WhisperModelPath, logger)
	}

	return NewDispatcher(audio, logger)
}

// Parse extracts content from body, routing on contentType then on
// rawURL's file extension.
func (d *Dispatcher) Parse(ctx context.Context, rawURL, contentType string, body []byte) (*queue.FetchResult, error) {
	kind, result, err := d.dispatch(ctx, rawURL, contentType, body)
	if err != nil {
		observability.ExtractionErrors.WithLabelValues(kind, classifyParseError(err)).Inc()
	}

	return result, err
}

func (d *Dispatcher) dispatch(ctx context.Context, rawURL, contentType string, body []byte) (string, *queue.FetchResult, error) {
	switch {
	case containsAny(contentType, "application/pdf") || hasSuffix(rawURL, ".pdf"):
		result, err := ParsePDF(body)
		return "pdf", result, err
	case containsAny(contentType, "wordprocessingml") || hasSuffix(rawURL, ".docx"):
		result, err := ParseDOCX(body)
		return "docx", result, err
	case containsAny(contentType, "spreadsheetml") || hasSuffix(rawURL, ".xlsx"):
		result, err := ParseXLSX(body)
		return "xlsx", result, err
	case isAudioContentType(contentType) || hasAudioSuffix(rawURL):
		result, err := d.parseAudio(ctx, body)
		return "audio", result, err
	default:
		result, err := ParseHTML(rawURL, body)
		return "html", result, err
	}
}

func classifyParseError(err error) string {
	if errors.Is(err, errAudioTranscriptionDisabled) {
		return "audio_disabled"
	}

	return "extraction_failed"
}

func (d *Dispatcher) parseAudio(ctx context.Context, body []byte) (*queue.FetchResult, error) {
	if d.audio == nil {
		return nil, errAudioTranscriptionDisabled
	}

	return d.audio.Transcribe(ctx, body)
}

func containsAny(s string, substrs ...string) bool {
	s = strings.ToLower(s)
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}

	return false
}

func hasSuffix(rawURL, suffix string) bool {
	return strings.HasSuffix(strings.ToLower(stripQuery(rawURL)), suffix)
}

func hasAudioSuffix(rawURL string) bool {
	for _, suffix := range []string{".wav", ".mp3", ".m4a", ".flac"} {
		if hasSuffix(rawURL, suffix) {
			return true
		}
	}

	return false
}

func isAudioContentType(contentType string) bool {
	return containsAny(contentType, "audio/")
}

func stripQuery(rawURL string) string {
	if i := strings.IndexByte(rawURL, '?'); i >= 0 {
		return rawURL[:i]
	}

	return rawURL
}
