// Package media turns inbound attachments into the single canonical text or
// image reference fed to the reasoning step. Each attachment kind maps to
// exactly one collaborator call with no retry; failures surface as typed
// errors and abort the message's pipeline.
package media

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ashabot/asha/internal/transport"
)

// FallbackInput is used when a message carries neither text nor any
// extractable content, e.g. a bare image with no caption.
const FallbackInput = "Describe this content"

// ImageHost stores image bytes and returns a retrievable URL.
type ImageHost interface {
	Upload(ctx context.Context, data []byte, mime string) (string, error)
}

// DocumentExtractor turns document bytes into plain text.
type DocumentExtractor interface {
	Extract(ctx context.Context, data []byte) (string, error)
}

// SpeechTranscriber turns audio bytes into text.
type SpeechTranscriber interface {
	Transcribe(ctx context.Context, data []byte, mime string) (string, error)
}

// Normalized is the outcome of normalizing one attachment.
type Normalized struct {
	// Text holds extracted document text or an audio transcription.
	Text string
	// ImageURL references an uploaded image for the reasoning request.
	ImageURL string
}

// Normalizer dispatches an attachment to the collaborator for its kind.
type Normalizer struct {
	logger     *slog.Logger
	images     ImageHost
	documents  DocumentExtractor
	transcribe SpeechTranscriber
}

// NewNormalizer wires the three media collaborators.
func NewNormalizer(log *slog.Logger, images ImageHost, documents DocumentExtractor, transcribe SpeechTranscriber) *Normalizer {
	if log == nil {
		log = slog.Default()
	}
	return &Normalizer{
		logger:     log.With(slog.String("service", "media")),
		images:     images,
		documents:  documents,
		transcribe: transcribe,
	}
}

// Normalize maps the attachment to canonical text or an image URL. Unknown
// kinds are not an error: the zero Normalized is returned and the caller
// falls back to the raw message text.
func (n *Normalizer) Normalize(ctx context.Context, att transport.Attachment, data []byte) (Normalized, error) {
	switch att.Kind {
	case transport.AttachmentImage:
		url, err := n.images.Upload(ctx, data, att.Mime)
		if err != nil {
			n.logger.Error("image upload failed", slog.Any("error", err))
			return Normalized{}, fmt.Errorf("%w: %w", ErrUploadFailed, err)
		}
		return Normalized{ImageURL: url}, nil
	case transport.AttachmentDocument:
		text, err := n.documents.Extract(ctx, data)
		if err != nil {
			n.logger.Error("document extraction failed", slog.Any("error", err))
			return Normalized{}, fmt.Errorf("%w: %w", ErrUnreadableDocument, err)
		}
		if strings.TrimSpace(text) == "" {
			return Normalized{}, fmt.Errorf("%w: no text extracted", ErrUnreadableDocument)
		}
		return Normalized{Text: text}, nil
	case transport.AttachmentAudio:
		text, err := n.transcribe.Transcribe(ctx, data, att.Mime)
		if err != nil {
			n.logger.Error("transcription failed", slog.Any("error", err))
			return Normalized{}, fmt.Errorf("%w: %w", ErrTranscriptionFailed, err)
		}
		return Normalized{Text: text}, nil
	default:
		return Normalized{}, nil
	}
}

// Input picks the canonical text for the reasoning step: extracted document
// text wins, then transcribed or typed text, then the fixed fallback phrase.
func Input(documentText, messageText string) string {
	if text := strings.TrimSpace(documentText); text != "" {
		return text
	}
	if text := strings.TrimSpace(messageText); text != "" {
		return text
	}
	return FallbackInput
}
