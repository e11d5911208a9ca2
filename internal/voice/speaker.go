// Package voice synthesizes a reply to speech through an external TTS
// program and delivers it as a voice note. Delivery is best effort by
// default: the text reply has already been sent when this runs.
package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// Sender delivers a synthesized audio file as a voice note.
type Sender interface {
	SendVoice(ctx context.Context, destination, filePath string) error
}

// Speaker runs the configured TTS command as `command [args...] text outPath`.
// Success is exit code 0 plus the output file existing.
type Speaker struct {
	logger     *slog.Logger
	sender     Sender
	command    string
	args       []string
	scratchDir string
	timeout    time.Duration
	// required escalates synthesis/send failures to the caller instead of
	// swallowing them.
	required bool
}

// NewSpeaker wires the voice path. An empty command disables it entirely.
func NewSpeaker(log *slog.Logger, sender Sender, command string, args []string, scratchDir string, timeout time.Duration, required bool) *Speaker {
	if log == nil {
		log = slog.Default()
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Speaker{
		logger:     log.With(slog.String("service", "voice")),
		sender:     sender,
		command:    command,
		args:       args,
		scratchDir: scratchDir,
		timeout:    timeout,
		required:   required,
	}
}

var runTTSForTest func(ctx context.Context, command string, args []string) error

// Deliver synthesizes text and sends the result to destination. When the
// speaker is not required, failures are logged and nil is returned.
func (s *Speaker) Deliver(ctx context.Context, destination, text string) error {
	if s.command == "" {
		s.logger.Debug("voice synthesis not configured, skipping")
		return nil
	}
	err := s.deliver(ctx, destination, text)
	if err == nil {
		return nil
	}
	if s.required {
		return err
	}
	s.logger.Warn("voice delivery failed", slog.String("destination", destination), slog.Any("error", err))
	return nil
}

func (s *Speaker) deliver(ctx context.Context, destination, text string) error {
	outPath := filepath.Join(s.scratchDir, uuid.NewString()+"_tts.wav")
	defer func() {
		_ = os.Remove(outPath)
	}()

	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	args := append(append([]string(nil), s.args...), text, outPath)
	run := runTTSForTest
	if run == nil {
		run = runTTS
	}
	if err := run(runCtx, s.command, args); err != nil {
		return fmt.Errorf("synthesize speech: %w", err)
	}
	if _, err := os.Stat(outPath); err != nil {
		return errors.New("synthesize speech: no output file generated")
	}
	if err := s.sender.SendVoice(ctx, destination, outPath); err != nil {
		return fmt.Errorf("send voice note: %w", err)
	}
	s.logger.Info("voice reply sent", slog.String("destination", destination))
	return nil
}

func runTTS(ctx context.Context, command string, args []string) error {
	cmd := exec.CommandContext(ctx, command, args...)
	return cmd.Run()
}
