package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
	"github.com/go-audio/wav"
	"github.com/google/uuid"
)

// SpeechEngine transcribes mono 16 kHz float32 PCM to text.
type SpeechEngine interface {
	TranscribePCM(ctx context.Context, pcm []float32, language string) (string, error)
}

// WhisperEngine wraps a loaded whisper.cpp model.
type WhisperEngine struct {
	model whisper.Model
}

// NewWhisperEngine loads the ggml model at modelPath.
func NewWhisperEngine(modelPath string) (*WhisperEngine, error) {
	if strings.TrimSpace(modelPath) == "" {
		return nil, errors.New("whisper model path is required")
	}
	model, err := whisper.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("load whisper model: %w", err)
	}
	return &WhisperEngine{model: model}, nil
}

// Close releases the model.
func (e *WhisperEngine) Close() error {
	if e.model == nil {
		return nil
	}
	return e.model.Close()
}

// TranscribePCM runs whisper over the samples and joins the segments.
func (e *WhisperEngine) TranscribePCM(ctx context.Context, pcm []float32, language string) (string, error) {
	if e.model == nil {
		return "", errors.New("whisper model is not loaded")
	}
	if len(pcm) == 0 {
		return "", errors.New("no audio samples")
	}
	wctx, err := e.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("new whisper context: %w", err)
	}
	if language == "" {
		language = "en"
	}
	if err := wctx.SetLanguage(language); err != nil {
		return "", fmt.Errorf("set language: %w", err)
	}
	wctx.SetThreads(uint(runtime.NumCPU()))
	if err := wctx.Process(pcm, nil, nil, nil); err != nil {
		return "", fmt.Errorf("process audio: %w", err)
	}

	var parts []string
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}
		segment, err := wctx.NextSegment()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("next segment: %w", err)
		}
		parts = append(parts, strings.TrimSpace(segment.Text))
	}
	return strings.Join(parts, " "), nil
}

// Transcriber is the two-stage audio collaborator: ffmpeg transcodes the
// attachment to a canonical mono 16 kHz WAV, then the speech engine turns
// the waveform into text. The transcription language is a fixed constant
// from config; no detection is performed.
type Transcriber struct {
	logger     *slog.Logger
	ffmpegPath string
	scratchDir string
	language   string
	engine     SpeechEngine
}

// NewTranscriber wires the transcode and transcription stages.
func NewTranscriber(log *slog.Logger, ffmpegPath, scratchDir, language string, engine SpeechEngine) *Transcriber {
	if log == nil {
		log = slog.Default()
	}
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &Transcriber{
		logger:     log.With(slog.String("service", "speech")),
		ffmpegPath: ffmpegPath,
		scratchDir: scratchDir,
		language:   language,
		engine:     engine,
	}
}

var runFFmpegForTest func(ctx context.Context, ffmpegPath, inPath, outPath string) error

// Transcribe stages the audio bytes, transcodes and transcribes them.
// Scratch files are removed on every exit path.
func (t *Transcriber) Transcribe(ctx context.Context, data []byte, mime string) (string, error) {
	if len(data) == 0 {
		return "", errors.New("audio payload is empty")
	}
	base := filepath.Join(t.scratchDir, uuid.NewString())
	inPath := base + extForAudioMime(mime)
	wavPath := base + ".wav"
	if err := os.WriteFile(inPath, data, 0o600); err != nil {
		return "", fmt.Errorf("stage audio: %w", err)
	}
	defer func() {
		_ = os.Remove(inPath)
		_ = os.Remove(wavPath)
	}()

	run := runFFmpegForTest
	if run == nil {
		run = runFFmpeg
	}
	if err := run(ctx, t.ffmpegPath, inPath, wavPath); err != nil {
		return "", fmt.Errorf("transcode: %w", err)
	}

	pcm, err := DecodeWAVPCM(wavPath)
	if err != nil {
		return "", fmt.Errorf("decode waveform: %w", err)
	}
	text, err := t.engine.TranscribePCM(ctx, pcm, t.language)
	if err != nil {
		return "", err
	}
	t.logger.Info("transcribed", slog.Int("chars", len(text)))
	return strings.TrimSpace(text), nil
}

func runFFmpeg(ctx context.Context, ffmpegPath, inPath, outPath string) error {
	cmd := exec.CommandContext(ctx, ffmpegPath, "-y", "-i", inPath, "-ac", "1", "-ar", "16000", "-f", "wav", outPath)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := bytes.TrimSpace(stderr.Bytes()); len(msg) > 0 {
			return fmt.Errorf("%w: %s", err, tail(msg, 300))
		}
		return err
	}
	return nil
}

// tail keeps the last n bytes of ffmpeg's noisy stderr.
func tail(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[len(b)-n:]
}

// DecodeWAVPCM reads a mono 16 kHz WAV file into float32 samples in [-1, 1].
func DecodeWAVPCM(path string) ([]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = f.Close()
	}()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, errors.New("invalid wav file")
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, err
	}
	if buf == nil || len(buf.Data) == 0 {
		return nil, errors.New("empty wav file")
	}
	bitDepth := int(dec.BitDepth)
	if bitDepth == 0 {
		bitDepth = 16
	}
	scale := float32(int(1) << (bitDepth - 1))
	out := make([]float32, len(buf.Data))
	for i, sample := range buf.Data {
		out[i] = float32(sample) / scale
	}
	return out, nil
}

func extForAudioMime(mime string) string {
	mime = strings.ToLower(strings.TrimSpace(mime))
	if idx := strings.Index(mime, ";"); idx >= 0 {
		mime = strings.TrimSpace(mime[:idx])
	}
	switch mime {
	case "audio/ogg", "audio/opus":
		return ".ogg"
	case "audio/mpeg", "audio/mp3":
		return ".mp3"
	case "audio/wav", "audio/x-wav":
		return ".wav"
	case "audio/mp4", "audio/m4a", "audio/x-m4a":
		return ".m4a"
	default:
		return ".bin"
	}
}
