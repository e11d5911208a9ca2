// Package bot orchestrates the relay pipeline: route an inbound message,
// normalize its attachment, extend the conversation window, fetch the
// reasoned reply and deliver it as text plus voice.
package bot

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/ashabot/asha/internal/history"
	"github.com/ashabot/asha/internal/media"
	"github.com/ashabot/asha/internal/transport"
)

// DataCommand triggers the outbreak-data fetch instead of a conversation.
// Matching is a case-insensitive exact match; anything else is conversational.
const DataCommand = "/data"

// dataAckText is sent before the multi-second scrape so the user is not
// left staring at silence.
const dataAckText = "Please wait, fetching latest outbreak data..."

// Fixed user-facing apologies for media failures. Never technical.
const (
	imageApology    = "Could not upload the image. Please try again."
	documentApology = "Could not read the document. Please try again."
	audioApology    = "Could not transcribe the voice message."
)

// Messenger is the slice of the transport the pipeline sends through.
type Messenger interface {
	SendText(ctx context.Context, destination, text string) error
	SendTyping(ctx context.Context, destination string) error
	Download(ctx context.Context, att transport.Attachment) ([]byte, error)
}

// Normalizer turns an attachment into canonical text or an image URL.
type Normalizer interface {
	Normalize(ctx context.Context, att transport.Attachment, data []byte) (media.Normalized, error)
}

// Responder produces the assistant reply for a user's current history.
type Responder interface {
	Reply(ctx context.Context, userID, imageURL string) string
}

// VoiceDeliverer speaks a reply to the destination. Best effort by default.
type VoiceDeliverer interface {
	Deliver(ctx context.Context, destination, text string) error
}

// DataFetcher is the external-data command collaborator. It returns
// user-ready text and never fails past its boundary.
type DataFetcher interface {
	Fetch(ctx context.Context) string
}

// Bot wires the pipeline components.
type Bot struct {
	logger     *slog.Logger
	messenger  Messenger
	normalizer Normalizer
	store      *history.Store
	responder  Responder
	speaker    VoiceDeliverer
	fetcher    DataFetcher

	// userLocks serializes pipelines per sender so overlapping messages
	// from one user cannot interleave their history writes.
	userLocks sync.Map
}

// New builds the Bot.
func New(log *slog.Logger, messenger Messenger, normalizer Normalizer, store *history.Store, responder Responder, speaker VoiceDeliverer, fetcher DataFetcher) *Bot {
	if log == nil {
		log = slog.Default()
	}
	return &Bot{
		logger:     log.With(slog.String("service", "bot")),
		messenger:  messenger,
		normalizer: normalizer,
		store:      store,
		responder:  responder,
		speaker:    speaker,
		fetcher:    fetcher,
	}
}

// IsCommand reports whether text is the data command.
func IsCommand(text string) bool {
	return strings.EqualFold(strings.TrimSpace(text), DataCommand)
}

// Handle processes one inbound message end to end. It is safe to call from
// concurrent goroutines; messages from the same sender are serialized.
func (b *Bot) Handle(ctx context.Context, msg transport.Message) {
	if IsCommand(msg.Text) {
		b.handleCommand(ctx, msg)
		return
	}
	lock := b.lockFor(msg.SenderID)
	lock.Lock()
	defer lock.Unlock()
	b.handleConversation(ctx, msg)
}

// handleCommand short-circuits the pipeline: acknowledge, fetch, forward the
// collaborator's text verbatim. History is never touched and no voice reply
// is produced for command turns.
func (b *Bot) handleCommand(ctx context.Context, msg transport.Message) {
	b.logger.Info("data command received", slog.String("sender_id", msg.SenderID))
	if err := b.messenger.SendText(ctx, msg.SenderID, dataAckText); err != nil {
		b.logger.Error("send ack failed", slog.String("sender_id", msg.SenderID), slog.Any("error", err))
		return
	}
	result := b.fetcher.Fetch(ctx)
	if err := b.messenger.SendText(ctx, msg.SenderID, result); err != nil {
		b.logger.Error("send data result failed", slog.String("sender_id", msg.SenderID), slog.Any("error", err))
	}
}

func (b *Bot) handleConversation(ctx context.Context, msg transport.Message) {
	if err := b.messenger.SendTyping(ctx, msg.SenderID); err != nil {
		b.logger.Debug("send typing failed", slog.Any("error", err))
	}

	var normalized media.Normalized
	if att := msg.Attachment; att != nil && att.Kind != transport.AttachmentUnknown {
		data, err := b.messenger.Download(ctx, *att)
		if err != nil {
			// Transport failure: nothing sensible to tell the user, drop
			// the message without touching history.
			b.logger.Error("attachment download failed", slog.String("sender_id", msg.SenderID), slog.Any("error", err))
			return
		}
		normalized, err = b.normalizer.Normalize(ctx, *att, data)
		if err != nil {
			b.apologize(ctx, msg.SenderID, err)
			return
		}
	}

	input := media.Input(normalized.Text, msg.Text)
	b.store.Append(msg.SenderID, history.Turn{Role: history.RoleUser, Content: input})

	reply := b.responder.Reply(ctx, msg.SenderID, normalized.ImageURL)

	if err := b.messenger.SendText(ctx, msg.SenderID, reply); err != nil {
		b.logger.Error("send reply failed", slog.String("sender_id", msg.SenderID), slog.Any("error", err))
		return
	}
	if err := b.speaker.Deliver(ctx, msg.SenderID, reply); err != nil {
		b.logger.Error("voice delivery failed", slog.String("sender_id", msg.SenderID), slog.Any("error", err))
	}
}

// apologize sends exactly one fixed apology for a failed media stage and
// ends the pipeline for that message.
func (b *Bot) apologize(ctx context.Context, destination string, cause error) {
	apology := imageApology
	switch {
	case errors.Is(cause, media.ErrUnreadableDocument):
		apology = documentApology
	case errors.Is(cause, media.ErrTranscriptionFailed):
		apology = audioApology
	}
	if err := b.messenger.SendText(ctx, destination, apology); err != nil {
		b.logger.Error("send apology failed", slog.String("sender_id", destination), slog.Any("error", err))
	}
}

func (b *Bot) lockFor(userID string) *sync.Mutex {
	lock, _ := b.userLocks.LoadOrStore(userID, &sync.Mutex{})
	return lock.(*sync.Mutex)
}
