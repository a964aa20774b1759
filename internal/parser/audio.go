package parser

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/go-audio/wav"
	whisper "github.com/ggerganov/whisper.cpp/bindings/go"
	"github.com/rs/zerolog"

	"github.com/spyglass-search/spyglass-sub001/internal/queue"
)

var errAudioTranscriptionDisabled = &parseError{msg: "audio transcription is disabled"}

// AudioTranscriber transcribes WAV audio to text via a local whisper.cpp
// model. Opt-in per Config.AudioTranscriptionEnabled: loading a model is
// expensive, and most installs never ingest audio.
//
// SUPPLEMENTED: the teacher has no audio pipeline at all; grounded on
// SPEC_FULL.md §11's domain-stack mapping to
// github.com/ggerganov/whisper.cpp/bindings/go + github.com/go-audio/wav.
type AudioTranscriber struct {
	modelPath string
	model     whisper.Model
	logger    *zerolog.Logger
}

// NewAudioTranscriber constructs an AudioTranscriber. The whisper model
// is loaded lazily on first use, so construction never blocks startup on
// a missing model file.
func NewAudioTranscriber(modelPath string, logger *zerolog.Logger) *AudioTranscriber {
	return &AudioTranscriber{modelPath: modelPath, logger: logger}
}

func (a *AudioTranscriber) ensureModel() error {
	if a.model != nil {
		return nil
	}

	model, err := whisper.New(a.modelPath)
	if err != nil {
		return fmt.Errorf("load whisper model: %w", err)
	}

	a.model = model

	return nil
}

// Transcribe decodes WAV audio and runs it through whisper.cpp, returning
// the transcript as the document's content.
func (a *AudioTranscriber) Transcribe(ctx context.Context, body []byte) (*queue.FetchResult, error) {
	if err := a.ensureModel(); err != nil {
		return nil, err
	}

	samples, err := decodeWAV(body)
	if err != nil {
		return nil, fmt.Errorf("decode wav: %w", err)
	}

	wctx, err := a.model.NewContext()
	if err != nil {
		return nil, fmt.Errorf("new whisper context: %w", err)
	}

	if err := wctx.Process(samples, nil, nil); err != nil {
		return nil, fmt.Errorf("whisper process: %w", err)
	}

	var b strings.Builder

	for {
		segment, err := wctx.NextSegment()
		if err != nil {
			break
		}

		b.WriteString(segment.Text)
		b.WriteString(" ")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
	}

	content := strings.TrimSpace(b.String())
	if len(content) < minContentLength {
		return nil, errContentTooShort
	}

	return &queue.FetchResult{Content: content}, nil
}

// decodeWAV converts 16-bit PCM WAV bytes into whisper's expected
// normalized float32 mono samples, averaging the channels of
// multi-channel input. The sample rate is not converted.
func decodeWAV(body []byte) ([]float32, error) {
	dec := wav.NewDecoder(bytes.NewReader(body))
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("not a valid wav file")
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, err
	}

	ints := buf.AsIntBuffer().Data

	channels := 1
	if buf.Format != nil && buf.Format.NumChannels > 1 {
		channels = buf.Format.NumChannels
	}

	samples := make([]float32, len(ints)/channels)
	for i := range samples {
		sum := 0
		for c := 0; c < channels; c++ {
			sum += ints[i*channels+c]
		}

		samples[i] = float32(sum) / float32(channels) / 32768.0
	}

	return samples, nil
}
