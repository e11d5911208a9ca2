package voice

import (
	"context"
	"errors"
	"os"
	"testing"
)

type recordingSender struct {
	destinations []string
	files        []string
	err          error
}

func (r *recordingSender) SendVoice(_ context.Context, destination, filePath string) error {
	r.destinations = append(r.destinations, destination)
	r.files = append(r.files, filePath)
	return r.err
}

func TestDeliver(t *testing.T) {
	scratch := t.TempDir()
	sender := &recordingSender{}
	var gotArgs []string
	runTTSForTest = func(_ context.Context, command string, args []string) error {
		gotArgs = append([]string{command}, args...)
		// The TTS program writes the waveform to its last argument.
		return os.WriteFile(args[len(args)-1], []byte("RIFF"), 0o600)
	}
	defer func() { runTTSForTest = nil }()

	s := NewSpeaker(nil, sender, "python3", []string{"tts.py"}, scratch, 0, false)
	if err := s.Deliver(context.Background(), "42", "Hi there"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sender.destinations) != 1 || sender.destinations[0] != "42" {
		t.Fatalf("unexpected destinations: %v", sender.destinations)
	}
	if len(gotArgs) != 4 || gotArgs[0] != "python3" || gotArgs[1] != "tts.py" || gotArgs[2] != "Hi there" {
		t.Fatalf("unexpected tts invocation: %v", gotArgs)
	}

	entries, err := os.ReadDir(scratch)
	if err != nil {
		t.Fatalf("read scratch dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("scratch dir not cleaned: %d entries", len(entries))
	}
}

func TestDeliverSynthesisFailureSwallowed(t *testing.T) {
	runTTSForTest = func(context.Context, string, []string) error {
		return errors.New("exit status 1")
	}
	defer func() { runTTSForTest = nil }()

	sender := &recordingSender{}
	s := NewSpeaker(nil, sender, "python3", nil, t.TempDir(), 0, false)
	if err := s.Deliver(context.Background(), "42", "text"); err != nil {
		t.Fatalf("best-effort mode must swallow failures, got %v", err)
	}
	if len(sender.destinations) != 0 {
		t.Fatalf("no voice note must be sent on synthesis failure")
	}
}

func TestDeliverSynthesisFailureRequired(t *testing.T) {
	runTTSForTest = func(context.Context, string, []string) error {
		return errors.New("exit status 1")
	}
	defer func() { runTTSForTest = nil }()

	s := NewSpeaker(nil, &recordingSender{}, "python3", nil, t.TempDir(), 0, true)
	if err := s.Deliver(context.Background(), "42", "text"); err == nil {
		t.Fatalf("required mode must surface the failure")
	}
}

func TestDeliverNoOutputFile(t *testing.T) {
	runTTSForTest = func(context.Context, string, []string) error {
		// Exit 0 but nothing written.
		return nil
	}
	defer func() { runTTSForTest = nil }()

	s := NewSpeaker(nil, &recordingSender{}, "python3", nil, t.TempDir(), 0, true)
	if err := s.Deliver(context.Background(), "42", "text"); err == nil {
		t.Fatalf("missing output file must be a failure")
	}
}

func TestDeliverSendFailureSwallowed(t *testing.T) {
	runTTSForTest = func(_ context.Context, _ string, args []string) error {
		return os.WriteFile(args[len(args)-1], []byte("RIFF"), 0o600)
	}
	defer func() { runTTSForTest = nil }()

	sender := &recordingSender{err: errors.New("network down")}
	s := NewSpeaker(nil, sender, "python3", nil, t.TempDir(), 0, false)
	if err := s.Deliver(context.Background(), "42", "text"); err != nil {
		t.Fatalf("best-effort mode must swallow send failures, got %v", err)
	}
}

func TestDeliverDisabled(t *testing.T) {
	sender := &recordingSender{}
	s := NewSpeaker(nil, sender, "", nil, t.TempDir(), 0, true)
	if err := s.Deliver(context.Background(), "42", "text"); err != nil {
		t.Fatalf("disabled speaker must be a no-op, got %v", err)
	}
	if len(sender.destinations) != 0 {
		t.Fatalf("disabled speaker must not send")
	}
}
