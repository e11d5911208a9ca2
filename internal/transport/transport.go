// Package transport defines the narrow chat-transport boundary the relay
// consumes: an inbound message stream, text and voice-note delivery, and
// attachment download. Adapters live in subpackages.
package transport

import "context"

// AttachmentKind classifies an inbound attachment for normalization.
type AttachmentKind string

const (
	AttachmentImage    AttachmentKind = "image"
	AttachmentDocument AttachmentKind = "document"
	AttachmentAudio    AttachmentKind = "audio"
	AttachmentUnknown  AttachmentKind = "unknown"
)

// Attachment references a platform-hosted file on an inbound message.
type Attachment struct {
	Kind AttachmentKind
	Mime string
	Name string
	// FileID is the platform key used to resolve a download URL.
	FileID string
	Size   int64
}

// Message is one inbound chat message.
type Message struct {
	ID         string
	SenderID   string
	Text       string
	Attachment *Attachment
}

// Handler processes one inbound message. It is invoked on its own goroutine.
type Handler func(ctx context.Context, msg Message)

// Connection represents an active inbound stream.
type Connection interface {
	Stop(ctx context.Context) error
}

// Transport is the chat platform boundary.
type Transport interface {
	// Connect starts receiving messages and forwards each one to handler.
	Connect(ctx context.Context, handler Handler) (Connection, error)
	// SendText delivers a plain text message.
	SendText(ctx context.Context, destination, text string) error
	// SendVoice delivers an audio file as a voice note.
	SendVoice(ctx context.Context, destination, filePath string) error
	// SendTyping signals that a reply is being prepared. Best effort.
	SendTyping(ctx context.Context, destination string) error
	// Download fetches the raw bytes of an attachment.
	Download(ctx context.Context, att Attachment) ([]byte, error)
}
