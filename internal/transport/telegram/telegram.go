// Package telegram adapts the Telegram Bot API to the transport boundary.
package telegram

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/ashabot/asha/internal/transport"
)

const (
	maxMessageLength = 4096
	// maxDownloadBytes caps attachment downloads; Telegram bots cannot fetch
	// files over 20 MB anyway.
	maxDownloadBytes int64 = 20 * 1024 * 1024
)

// Adapter implements transport.Transport over Telegram long polling.
type Adapter struct {
	logger *slog.Logger
	bot    *tgbotapi.BotAPI
	client *http.Client
}

var newBotForTest func(token string) (*tgbotapi.BotAPI, error)

// NewAdapter authenticates the bot token and returns a connected adapter.
func NewAdapter(log *slog.Logger, token string) (*Adapter, error) {
	if log == nil {
		log = slog.Default()
	}
	newBot := newBotForTest
	if newBot == nil {
		newBot = tgbotapi.NewBotAPI
	}
	bot, err := newBot(token)
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}
	return &Adapter{
		logger: log.With(slog.String("adapter", "telegram")),
		bot:    bot,
		client: &http.Client{Timeout: 60 * time.Second},
	}, nil
}

// Connect starts long-polling for updates and forwards each message to
// handler on its own goroutine.
func (a *Adapter) Connect(ctx context.Context, handler transport.Handler) (transport.Connection, error) {
	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = 30
	updates := a.bot.GetUpdatesChan(updateConfig)
	connCtx, cancel := context.WithCancel(ctx)

	a.logger.Info("start", slog.String("bot", a.bot.Self.UserName))

	go func() {
		for {
			select {
			case <-connCtx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					a.logger.Info("updates channel closed")
					return
				}
				if update.Message == nil {
					continue
				}
				msg, ok := buildInbound(update.Message)
				if !ok {
					continue
				}
				a.logger.Info("inbound received",
					slog.String("sender_id", msg.SenderID),
					slog.Int("text_len", len(msg.Text)),
					slog.Bool("has_attachment", msg.Attachment != nil),
				)
				go handler(connCtx, msg)
			}
		}
	}()

	stop := func(_ context.Context) error {
		a.logger.Info("stop")
		a.bot.StopReceivingUpdates()
		cancel()
		// Drain remaining updates so the library's polling goroutine can
		// finish writing and exit.
		for range updates {
		}
		return nil
	}
	return connection{stop: stop}, nil
}

type connection struct {
	stop func(ctx context.Context) error
}

func (c connection) Stop(ctx context.Context) error { return c.stop(ctx) }

// buildInbound converts a Telegram message into the transport model.
// Messages with no text and no usable attachment are dropped.
func buildInbound(msg *tgbotapi.Message) (transport.Message, bool) {
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		text = strings.TrimSpace(msg.Caption)
	}
	att := collectAttachment(msg)
	if text == "" && att == nil {
		return transport.Message{}, false
	}
	senderID := ""
	if msg.From != nil {
		senderID = strconv.FormatInt(msg.From.ID, 10)
	}
	if senderID == "" && msg.Chat != nil {
		senderID = strconv.FormatInt(msg.Chat.ID, 10)
	}
	if senderID == "" {
		return transport.Message{}, false
	}
	return transport.Message{
		ID:         strconv.Itoa(msg.MessageID),
		SenderID:   senderID,
		Text:       text,
		Attachment: att,
	}, true
}

// collectAttachment picks the single attachment the pipeline can use.
// Photos beat documents beat voice/audio; anything else maps to unknown so
// the normalizer can skip it.
func collectAttachment(msg *tgbotapi.Message) *transport.Attachment {
	if len(msg.Photo) > 0 {
		photo := pickLargestPhoto(msg.Photo)
		return &transport.Attachment{
			Kind:   transport.AttachmentImage,
			Mime:   "image/jpeg",
			FileID: photo.FileID,
			Size:   int64(photo.FileSize),
		}
	}
	if msg.Document != nil {
		kind := transport.AttachmentUnknown
		mime := strings.TrimSpace(msg.Document.MimeType)
		switch {
		case mime == "application/pdf":
			kind = transport.AttachmentDocument
		case strings.HasPrefix(mime, "image/"):
			kind = transport.AttachmentImage
		case strings.HasPrefix(mime, "audio/"):
			kind = transport.AttachmentAudio
		}
		return &transport.Attachment{
			Kind:   kind,
			Mime:   mime,
			Name:   strings.TrimSpace(msg.Document.FileName),
			FileID: msg.Document.FileID,
			Size:   int64(msg.Document.FileSize),
		}
	}
	if msg.Voice != nil {
		return &transport.Attachment{
			Kind:   transport.AttachmentAudio,
			Mime:   strings.TrimSpace(msg.Voice.MimeType),
			FileID: msg.Voice.FileID,
			Size:   int64(msg.Voice.FileSize),
		}
	}
	if msg.Audio != nil {
		return &transport.Attachment{
			Kind:   transport.AttachmentAudio,
			Mime:   strings.TrimSpace(msg.Audio.MimeType),
			Name:   strings.TrimSpace(msg.Audio.FileName),
			FileID: msg.Audio.FileID,
			Size:   int64(msg.Audio.FileSize),
		}
	}
	if msg.Sticker != nil {
		return &transport.Attachment{
			Kind:   transport.AttachmentUnknown,
			Mime:   "image/webp",
			FileID: msg.Sticker.FileID,
		}
	}
	return nil
}

func pickLargestPhoto(items []tgbotapi.PhotoSize) tgbotapi.PhotoSize {
	best := items[0]
	for _, item := range items[1:] {
		if item.FileSize > best.FileSize {
			best = item
			continue
		}
		if item.Width*item.Height > best.Width*best.Height {
			best = item
		}
	}
	return best
}

// SendText delivers a plain text message, truncated to Telegram's limit.
func (a *Adapter) SendText(ctx context.Context, destination, text string) error {
	chatID, err := parseChatID(destination)
	if err != nil {
		return err
	}
	message := tgbotapi.NewMessage(chatID, truncateText(text))
	if _, err := a.bot.Send(message); err != nil {
		return fmt.Errorf("send text: %w", err)
	}
	return nil
}

// SendVoice uploads a local audio file as a voice note.
func (a *Adapter) SendVoice(ctx context.Context, destination, filePath string) error {
	chatID, err := parseChatID(destination)
	if err != nil {
		return err
	}
	voice := tgbotapi.NewVoice(chatID, tgbotapi.FilePath(filePath))
	if _, err := a.bot.Send(voice); err != nil {
		return fmt.Errorf("send voice: %w", err)
	}
	return nil
}

// SendTyping sends a typing chat action. Failures are silently ignored by
// callers; the indicator is purely cosmetic.
func (a *Adapter) SendTyping(ctx context.Context, destination string) error {
	chatID, err := parseChatID(destination)
	if err != nil {
		return err
	}
	action := tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)
	if _, err := a.bot.Request(action); err != nil {
		return fmt.Errorf("send typing: %w", err)
	}
	return nil
}

// Download resolves the attachment's file ID to a direct URL and fetches the
// bytes, rejecting oversized payloads.
func (a *Adapter) Download(ctx context.Context, att transport.Attachment) ([]byte, error) {
	fileID := strings.TrimSpace(att.FileID)
	if fileID == "" {
		return nil, fmt.Errorf("attachment file id is required")
	}
	downloadURL, err := a.bot.GetFileDirectURL(fileID)
	if err != nil {
		return nil, fmt.Errorf("resolve file url: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build download request: %w", err)
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download attachment: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("download attachment status: %d", resp.StatusCode)
	}
	limited := &io.LimitedReader{R: resp.Body, N: maxDownloadBytes + 1}
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("read attachment: %w", err)
	}
	if int64(len(data)) > maxDownloadBytes {
		return nil, fmt.Errorf("attachment too large: max %d bytes", maxDownloadBytes)
	}
	return data, nil
}

func parseChatID(destination string) (int64, error) {
	chatID, err := strconv.ParseInt(strings.TrimSpace(destination), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("telegram destination must be a chat id")
	}
	return chatID, nil
}

// truncateText truncates text to Telegram's message limit on a rune
// boundary, appending "..." when truncation occurs.
func truncateText(text string) string {
	if len(text) <= maxMessageLength {
		return text
	}
	const suffix = "..."
	limit := maxMessageLength - len(suffix)
	for limit > 0 && !utf8.RuneStart(text[limit]) {
		limit--
	}
	return text[:limit] + suffix
}
