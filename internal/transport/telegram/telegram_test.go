package telegram

import (
	"strings"
	"testing"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/ashabot/asha/internal/transport"
)

func TestBuildInbound(t *testing.T) {
	t.Parallel()

	t.Run("plain text", func(t *testing.T) {
		t.Parallel()
		msg, ok := buildInbound(&tgbotapi.Message{
			MessageID: 7,
			From:      &tgbotapi.User{ID: 123},
			Text:      " Hello ",
		})
		if !ok {
			t.Fatalf("expected message")
		}
		if msg.SenderID != "123" || msg.Text != "Hello" || msg.ID != "7" {
			t.Fatalf("unexpected message: %+v", msg)
		}
		if msg.Attachment != nil {
			t.Fatalf("expected no attachment")
		}
	})

	t.Run("caption becomes text", func(t *testing.T) {
		t.Parallel()
		msg, ok := buildInbound(&tgbotapi.Message{
			From:    &tgbotapi.User{ID: 1},
			Caption: "look at this",
			Photo:   []tgbotapi.PhotoSize{{FileID: "f1", Width: 10, Height: 10}},
		})
		if !ok {
			t.Fatalf("expected message")
		}
		if msg.Text != "look at this" {
			t.Fatalf("unexpected text: %q", msg.Text)
		}
		if msg.Attachment == nil || msg.Attachment.Kind != transport.AttachmentImage {
			t.Fatalf("expected image attachment, got %+v", msg.Attachment)
		}
	})

	t.Run("empty message dropped", func(t *testing.T) {
		t.Parallel()
		if _, ok := buildInbound(&tgbotapi.Message{From: &tgbotapi.User{ID: 1}}); ok {
			t.Fatalf("expected drop")
		}
	})
}

func TestCollectAttachment(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		msg      *tgbotapi.Message
		wantKind transport.AttachmentKind
		wantNil  bool
	}{
		{
			name: "largest photo wins",
			msg: &tgbotapi.Message{Photo: []tgbotapi.PhotoSize{
				{FileID: "small", FileSize: 100},
				{FileID: "large", FileSize: 900},
			}},
			wantKind: transport.AttachmentImage,
		},
		{
			name:     "pdf document",
			msg:      &tgbotapi.Message{Document: &tgbotapi.Document{FileID: "d1", MimeType: "application/pdf"}},
			wantKind: transport.AttachmentDocument,
		},
		{
			name:     "image sent as document",
			msg:      &tgbotapi.Message{Document: &tgbotapi.Document{FileID: "d2", MimeType: "image/png"}},
			wantKind: transport.AttachmentImage,
		},
		{
			name:     "word document is unknown",
			msg:      &tgbotapi.Message{Document: &tgbotapi.Document{FileID: "d3", MimeType: "application/msword"}},
			wantKind: transport.AttachmentUnknown,
		},
		{
			name:     "voice note",
			msg:      &tgbotapi.Message{Voice: &tgbotapi.Voice{FileID: "v1", MimeType: "audio/ogg"}},
			wantKind: transport.AttachmentAudio,
		},
		{
			name:     "audio file",
			msg:      &tgbotapi.Message{Audio: &tgbotapi.Audio{FileID: "a1", MimeType: "audio/mpeg"}},
			wantKind: transport.AttachmentAudio,
		},
		{
			name:    "no media",
			msg:     &tgbotapi.Message{Text: "hi"},
			wantNil: true,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			att := collectAttachment(tt.msg)
			if tt.wantNil {
				if att != nil {
					t.Fatalf("expected nil attachment, got %+v", att)
				}
				return
			}
			if att == nil {
				t.Fatalf("expected attachment")
			}
			if att.Kind != tt.wantKind {
				t.Fatalf("kind = %s, want %s", att.Kind, tt.wantKind)
			}
		})
	}
}

func TestPickLargestPhoto(t *testing.T) {
	t.Parallel()

	photo := pickLargestPhoto([]tgbotapi.PhotoSize{
		{FileID: "a", Width: 90, Height: 90},
		{FileID: "b", Width: 320, Height: 320},
		{FileID: "c", Width: 100, Height: 100},
	})
	if photo.FileID != "b" {
		t.Fatalf("expected largest photo b, got %s", photo.FileID)
	}
}

func TestTruncateText(t *testing.T) {
	t.Parallel()

	short := "hello"
	if got := truncateText(short); got != short {
		t.Fatalf("short text must pass through")
	}

	long := strings.Repeat("я", 3000) // 2 bytes per rune, 6000 bytes
	got := truncateText(long)
	if len(got) > maxMessageLength {
		t.Fatalf("truncated text is %d bytes, max %d", len(got), maxMessageLength)
	}
	if !utf8.ValidString(got) {
		t.Fatalf("truncation broke utf-8")
	}
	if !strings.HasSuffix(got, "...") {
		t.Fatalf("expected ellipsis suffix")
	}
}

func TestParseChatID(t *testing.T) {
	t.Parallel()

	if _, err := parseChatID("not-a-number"); err == nil {
		t.Fatalf("expected error")
	}
	id, err := parseChatID(" 123456789 ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != 123456789 {
		t.Fatalf("unexpected chat id: %d", id)
	}
}
