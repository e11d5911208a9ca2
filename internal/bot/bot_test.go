package bot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashabot/asha/internal/history"
	"github.com/ashabot/asha/internal/media"
	"github.com/ashabot/asha/internal/transport"
)

type sentText struct {
	destination string
	text        string
}

type fakeMessenger struct {
	mu           sync.Mutex
	texts        []sentText
	typingCount  int
	downloadData []byte
	downloadErr  error
	sendTextErr  error
}

func (f *fakeMessenger) SendText(_ context.Context, destination, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendTextErr != nil {
		return f.sendTextErr
	}
	f.texts = append(f.texts, sentText{destination: destination, text: text})
	return nil
}

func (f *fakeMessenger) SendTyping(context.Context, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.typingCount++
	return nil
}

func (f *fakeMessenger) Download(context.Context, transport.Attachment) ([]byte, error) {
	return f.downloadData, f.downloadErr
}

func (f *fakeMessenger) sentTexts() []sentText {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]sentText, len(f.texts))
	copy(out, f.texts)
	return out
}

type fakeNormalizer struct {
	norm media.Normalized
	err  error
}

func (f fakeNormalizer) Normalize(context.Context, transport.Attachment, []byte) (media.Normalized, error) {
	return f.norm, f.err
}

// fakeResponder mirrors the synthesizer contract: it appends exactly one
// assistant turn per call.
type fakeResponder struct {
	store    *history.Store
	reply    string
	imageURL string
	calls    int
}

func (f *fakeResponder) Reply(_ context.Context, userID, imageURL string) string {
	f.calls++
	f.imageURL = imageURL
	f.store.Append(userID, history.Turn{Role: history.RoleAssistant, Content: f.reply})
	return f.reply
}

type fakeSpeaker struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (f *fakeSpeaker) Deliver(_ context.Context, destination, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.calls = append(f.calls, text)
	return nil
}

type fakeFetcher struct {
	result string
	calls  int
}

func (f *fakeFetcher) Fetch(context.Context) string {
	f.calls++
	return f.result
}

type fixture struct {
	bot       *Bot
	messenger *fakeMessenger
	store     *history.Store
	responder *fakeResponder
	speaker   *fakeSpeaker
	fetcher   *fakeFetcher
}

func newFixture(normalizer Normalizer, reply string) *fixture {
	store := history.NewStore(10)
	messenger := &fakeMessenger{}
	responder := &fakeResponder{store: store, reply: reply}
	speaker := &fakeSpeaker{}
	fetcher := &fakeFetcher{result: "Latest Outbreaks\n1. ..."}
	if normalizer == nil {
		normalizer = fakeNormalizer{}
	}
	return &fixture{
		bot:       New(nil, messenger, normalizer, store, responder, speaker, fetcher),
		messenger: messenger,
		store:     store,
		responder: responder,
		speaker:   speaker,
		fetcher:   fetcher,
	}
}

func TestIsCommand(t *testing.T) {
	t.Parallel()

	tests := []struct {
		text string
		want bool
	}{
		{"/data", true},
		{"/DATA", true},
		{" /Data ", true},
		{"/database", false},
		{"data", false},
		{"hello", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsCommand(tt.text); got != tt.want {
			t.Fatalf("IsCommand(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}

func TestPlainTextConversation(t *testing.T) {
	t.Parallel()

	f := newFixture(nil, "Hi there")
	f.bot.Handle(context.Background(), transport.Message{SenderID: "u1", Text: "Hello"})

	turns := f.store.Read("u1")
	require.Len(t, turns, 2)
	assert.Equal(t, history.Turn{Role: history.RoleUser, Content: "Hello"}, turns[0])
	assert.Equal(t, history.Turn{Role: history.RoleAssistant, Content: "Hi there"}, turns[1])

	texts := f.messenger.sentTexts()
	require.Len(t, texts, 1)
	assert.Equal(t, sentText{destination: "u1", text: "Hi there"}, texts[0])
	assert.Equal(t, []string{"Hi there"}, f.speaker.calls)
	assert.Empty(t, f.responder.imageURL)
}

func TestCommandNeverTouchesHistory(t *testing.T) {
	t.Parallel()

	for _, result := range []string{"Latest Outbreaks\n...", "Sorry, there was an error fetching the outbreak data."} {
		f := newFixture(nil, "unused")
		f.fetcher.result = result
		f.bot.Handle(context.Background(), transport.Message{SenderID: "u1", Text: "/DATA"})

		assert.Empty(t, f.store.Read("u1"), "command turns must not mutate history")
		assert.Equal(t, 0, f.responder.calls)
		assert.Empty(t, f.speaker.calls, "command turns get no voice reply")

		texts := f.messenger.sentTexts()
		require.Len(t, texts, 2, "acknowledgement then result")
		assert.Equal(t, dataAckText, texts[0].text)
		assert.Equal(t, result, texts[1].text)
	}
}

func TestMediaFailureAbortsWithOneApology(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		kind    transport.AttachmentKind
		err     error
		apology string
	}{
		{"image", transport.AttachmentImage, fmt.Errorf("%w: 502", media.ErrUploadFailed), imageApology},
		{"document", transport.AttachmentDocument, fmt.Errorf("%w: empty", media.ErrUnreadableDocument), documentApology},
		{"audio", transport.AttachmentAudio, fmt.Errorf("%w: whisper", media.ErrTranscriptionFailed), audioApology},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(fakeNormalizer{err: tt.err}, "unused")
			f.messenger.downloadData = []byte("payload")
			f.bot.Handle(context.Background(), transport.Message{
				SenderID:   "u1",
				Attachment: &transport.Attachment{Kind: tt.kind},
			})

			assert.Empty(t, f.store.Read("u1"), "failed media must not touch history")
			assert.Equal(t, 0, f.responder.calls)
			assert.Empty(t, f.speaker.calls)

			texts := f.messenger.sentTexts()
			require.Len(t, texts, 1, "exactly one apology message")
			assert.Equal(t, tt.apology, texts[0].text)
		})
	}
}

func TestDownloadFailureIsSilent(t *testing.T) {
	t.Parallel()

	f := newFixture(nil, "unused")
	f.messenger.downloadErr = errors.New("network down")
	f.bot.Handle(context.Background(), transport.Message{
		SenderID:   "u1",
		Attachment: &transport.Attachment{Kind: transport.AttachmentImage},
	})

	assert.Empty(t, f.messenger.sentTexts())
	assert.Empty(t, f.store.Read("u1"))
}

func TestImageFeedsReasoningRequest(t *testing.T) {
	t.Parallel()

	f := newFixture(fakeNormalizer{norm: media.Normalized{ImageURL: "https://img.example/x.jpg"}}, "Looks fine")
	f.messenger.downloadData = []byte("jpeg")
	f.bot.Handle(context.Background(), transport.Message{
		SenderID:   "u1",
		Text:       "what is this?",
		Attachment: &transport.Attachment{Kind: transport.AttachmentImage},
	})

	assert.Equal(t, "https://img.example/x.jpg", f.responder.imageURL)
	turns := f.store.Read("u1")
	require.Len(t, turns, 2)
	assert.Equal(t, "what is this?", turns[0].Content)
}

func TestBareImageUsesFallbackInput(t *testing.T) {
	t.Parallel()

	f := newFixture(fakeNormalizer{norm: media.Normalized{ImageURL: "https://img.example/x.jpg"}}, "A scan")
	f.messenger.downloadData = []byte("jpeg")
	f.bot.Handle(context.Background(), transport.Message{
		SenderID:   "u1",
		Attachment: &transport.Attachment{Kind: transport.AttachmentImage},
	})

	turns := f.store.Read("u1")
	require.NotEmpty(t, turns)
	assert.Equal(t, media.FallbackInput, turns[0].Content)
}

func TestDocumentTextBeatsCaption(t *testing.T) {
	t.Parallel()

	f := newFixture(fakeNormalizer{norm: media.Normalized{Text: "lab report body"}}, "Summary")
	f.messenger.downloadData = []byte("%PDF")
	f.bot.Handle(context.Background(), transport.Message{
		SenderID:   "u1",
		Text:       "see attached",
		Attachment: &transport.Attachment{Kind: transport.AttachmentDocument},
	})

	turns := f.store.Read("u1")
	require.NotEmpty(t, turns)
	assert.Equal(t, "lab report body", turns[0].Content)
}

func TestVoiceFailureDoesNotRetryText(t *testing.T) {
	t.Parallel()

	f := newFixture(nil, "Hi there")
	f.speaker.err = errors.New("tts down")
	f.bot.Handle(context.Background(), transport.Message{SenderID: "u1", Text: "Hello"})

	texts := f.messenger.sentTexts()
	require.Len(t, texts, 1, "exactly one text message despite voice failure")
	assert.Equal(t, "Hi there", texts[0].text)
}

func TestTextSendFailureSkipsVoice(t *testing.T) {
	t.Parallel()

	f := newFixture(nil, "Hi there")
	f.messenger.sendTextErr = errors.New("send failed")
	f.bot.Handle(context.Background(), transport.Message{SenderID: "u1", Text: "Hello"})

	assert.Empty(t, f.speaker.calls, "voice must not run when the text reply failed")
}

func TestUnknownAttachmentSkipsNormalizer(t *testing.T) {
	t.Parallel()

	f := newFixture(fakeNormalizer{err: errors.New("must not be called")}, "Hi")
	f.bot.Handle(context.Background(), transport.Message{
		SenderID:   "u1",
		Text:       "a sticker",
		Attachment: &transport.Attachment{Kind: transport.AttachmentUnknown},
	})

	turns := f.store.Read("u1")
	require.Len(t, turns, 2)
	assert.Equal(t, "a sticker", turns[0].Content)
}

func TestConcurrentMessagesFromOneUserStaySerialized(t *testing.T) {
	t.Parallel()

	f := newFixture(nil, "ok")
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			f.bot.Handle(context.Background(), transport.Message{
				SenderID: "u1",
				Text:     fmt.Sprintf("msg-%d", n),
			})
		}(i)
	}
	wg.Wait()

	turns := f.store.Read("u1")
	require.Len(t, turns, 10)
	// With per-user serialization every user turn is directly followed by
	// its assistant turn.
	for i := 0; i < len(turns); i += 2 {
		assert.Equal(t, history.RoleUser, turns[i].Role)
		assert.Equal(t, history.RoleAssistant, turns[i+1].Role)
	}
}
