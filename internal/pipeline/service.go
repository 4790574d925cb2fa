// Package pipeline orchestrates one audio upload: admission, validation,
// optional transcoding, two inference calls, and chunked chat delivery.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"notewire/internal/admission"
	"notewire/internal/chunker"
	"notewire/internal/conversation"
	"notewire/internal/upstream/gemini"
)

const transcribePrompt = `Transcribe the attached audio recording verbatim. Return only the transcript text, with no introduction, headings, or commentary.`

const summarizePromptFormat = `Write a concise summary of the following transcript. Return only the summary text.

Transcript:
%s`

// DefaultCompressThreshold is the payload size above which audio is
// transcoded before inference.
const DefaultCompressThreshold = 10 << 20

// audioMIMETypes is the extension allow-list. File contents are never
// sniffed; the declared extension alone decides acceptance.
var audioMIMETypes = map[string]string{
	".mp3":  "audio/mpeg",
	".wav":  "audio/wav",
	".flac": "audio/flac",
	".m4a":  "audio/mp4",
}

// ErrRateLimited signals admission rejection; nothing ran and no state
// was touched.
var ErrRateLimited = fmt.Errorf("too many concurrent transcription requests")

type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

type TranscodeError struct {
	Err error
}

func (e *TranscodeError) Error() string { return "transcoding failed: " + e.Err.Error() }
func (e *TranscodeError) Unwrap() error { return e.Err }

type DeliveryError struct {
	Err error
}

func (e *DeliveryError) Error() string { return "chat delivery failed: " + e.Err.Error() }
func (e *DeliveryError) Unwrap() error { return e.Err }

type Generator interface {
	Generate(ctx context.Context, prompt string, att *gemini.Attachment) (string, error)
}

type Transcoder interface {
	Compress(ctx context.Context, data []byte, ext string) ([]byte, string, error)
}

type Sender interface {
	SendMessage(ctx context.Context, text string) error
}

type Upload struct {
	Data     []byte
	Filename string
}

type Result struct {
	Transcript string
	Summary    string
}

type Options struct {
	CompressThreshold int64
	ChunkSize         int
	Logger            *slog.Logger
}

type Service struct {
	gate              *admission.Controller
	generator         Generator
	transcoder        Transcoder
	sender            Sender
	state             *conversation.State
	compressThreshold int64
	chunkSize         int
	logger            *slog.Logger
}

func New(gate *admission.Controller, generator Generator, transcoder Transcoder, sender Sender, state *conversation.State, opts Options) *Service {
	if opts.CompressThreshold <= 0 {
		opts.CompressThreshold = DefaultCompressThreshold
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = chunker.DefaultLimit
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Service{
		gate:              gate,
		generator:         generator,
		transcoder:        transcoder,
		sender:            sender,
		state:             state,
		compressThreshold: opts.CompressThreshold,
		chunkSize:         opts.ChunkSize,
		logger:            opts.Logger,
	}
}

// ValidateUpload checks the payload and extension and returns the MIME
// type to declare on the attachment.
func ValidateUpload(up Upload) (string, error) {
	if len(up.Data) == 0 {
		return "", &ValidationError{Message: "audio file is empty"}
	}
	ext := strings.ToLower(filepath.Ext(up.Filename))
	mimeType, ok := audioMIMETypes[ext]
	if !ok {
		return "", &ValidationError{Message: fmt.Sprintf("Unsupported audio file type: %q (allowed: .mp3, .wav, .flac, .m4a)", ext)}
	}
	return mimeType, nil
}

// Process runs the upload state machine. Steps short-circuit on the
// first failure; the admission slot is released on every exit path. A
// stored transcript survives a later summarization or delivery failure.
func (s *Service) Process(ctx context.Context, up Upload) (Result, error) {
	if !s.gate.TryEnter() {
		return Result{}, ErrRateLimited
	}
	defer s.gate.Leave()

	mimeType, err := ValidateUpload(up)
	if err != nil {
		return Result{}, err
	}

	data := up.Data
	if int64(len(data)) > s.compressThreshold {
		ext := strings.ToLower(filepath.Ext(up.Filename))
		s.logger.Info("compressing oversized upload", "filename", up.Filename, "bytes", len(data))
		data, mimeType, err = s.transcoder.Compress(ctx, data, ext)
		if err != nil {
			return Result{}, &TranscodeError{Err: err}
		}
	}

	transcript, err := s.generator.Generate(ctx, transcribePrompt, &gemini.Attachment{MIMEType: mimeType, Data: data})
	if err != nil {
		return Result{}, fmt.Errorf("transcribe: %w", err)
	}
	s.state.SetTranscript(transcript)

	summary, err := s.generator.Generate(ctx, fmt.Sprintf(summarizePromptFormat, transcript), nil)
	if err != nil {
		// Transcript stays stored; partial success is visible.
		return Result{Transcript: transcript}, fmt.Errorf("summarize: %w", err)
	}
	s.state.SetSummary(summary)

	result := Result{Transcript: transcript, Summary: summary}
	message := "Summary:\n\n" + summary + "\n\nSend /transcription for the full transcript."
	for _, fragment := range chunker.Split(message, s.chunkSize) {
		if err := s.sender.SendMessage(ctx, fragment); err != nil {
			return result, &DeliveryError{Err: err}
		}
	}
	return result, nil
}
