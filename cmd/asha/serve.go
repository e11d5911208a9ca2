package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/ashabot/asha/internal/bot"
	"github.com/ashabot/asha/internal/config"
	"github.com/ashabot/asha/internal/history"
	"github.com/ashabot/asha/internal/logger"
	"github.com/ashabot/asha/internal/media"
	"github.com/ashabot/asha/internal/outbreak"
	"github.com/ashabot/asha/internal/reason"
	"github.com/ashabot/asha/internal/server"
	"github.com/ashabot/asha/internal/transport/telegram"
	"github.com/ashabot/asha/internal/voice"
)

func runServe() {
	fx.New(
		fx.Provide(
			provideConfig,
			provideLogger,
			provideAdapter,
			provideStore,
			provideImageHost,
			provideDocumentExtractor,
			provideSpeechEngine,
			provideTranscriber,
			provideNormalizer,
			provideSynthesizer,
			provideSpeaker,
			provideFetcher,
			provideBot,
			provideServer,
		),
		fx.Invoke(
			ensureScratchDir,
			startBot,
			startServer,
		),
		fx.WithLogger(func(log *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: log.With(slog.String("component", "fx"))}
		}),
	).Run()
}

func provideConfig() (config.Config, error) {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func provideAdapter(log *slog.Logger, cfg config.Config) (*telegram.Adapter, error) {
	return telegram.NewAdapter(log, cfg.Telegram.BotToken)
}

func provideStore() *history.Store {
	return history.NewStore(history.DefaultWindow)
}

func provideImageHost(cfg config.Config) *media.HTTPImageHost {
	return media.NewHTTPImageHost(
		cfg.ImageHost.UploadURL,
		cfg.ImageHost.APIKey,
		cfg.ImageHost.Folder,
		time.Duration(cfg.ImageHost.TimeoutSeconds)*time.Second,
	)
}

func provideDocumentExtractor(cfg config.Config) *media.PdfToText {
	return media.NewPdfToText(cfg.Media.PdfToTextPath, cfg.Media.ScratchDir)
}

// unconfiguredSpeechEngine stands in when no whisper model is configured so
// voice messages fail with the normal transcription apology instead of a
// startup error.
type unconfiguredSpeechEngine struct{}

func (unconfiguredSpeechEngine) TranscribePCM(context.Context, []float32, string) (string, error) {
	return "", errors.New("speech model is not configured")
}

func provideSpeechEngine(lc fx.Lifecycle, log *slog.Logger, cfg config.Config) (media.SpeechEngine, error) {
	if cfg.Speech.ModelPath == "" {
		log.Warn("speech.model_path not set, voice messages will not be transcribed")
		return unconfiguredSpeechEngine{}, nil
	}
	engine, err := media.NewWhisperEngine(cfg.Speech.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper init: %w", err)
	}
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { return engine.Close() }})
	return engine, nil
}

func provideTranscriber(log *slog.Logger, cfg config.Config, engine media.SpeechEngine) *media.Transcriber {
	return media.NewTranscriber(log, cfg.Speech.FFmpegPath, cfg.Media.ScratchDir, cfg.Speech.Language, engine)
}

func provideNormalizer(log *slog.Logger, images *media.HTTPImageHost, documents *media.PdfToText, transcriber *media.Transcriber) *media.Normalizer {
	return media.NewNormalizer(log, images, documents, transcriber)
}

func provideSynthesizer(log *slog.Logger, store *history.Store, cfg config.Config) *reason.Synthesizer {
	return reason.NewSynthesizer(
		log,
		store,
		cfg.Reasoning.BaseURL,
		cfg.Reasoning.APIKey,
		cfg.Reasoning.Model,
		cfg.Reasoning.SystemPrompt,
		time.Duration(cfg.Reasoning.TimeoutSeconds)*time.Second,
	)
}

func provideSpeaker(log *slog.Logger, cfg config.Config, adapter *telegram.Adapter) *voice.Speaker {
	return voice.NewSpeaker(
		log,
		adapter,
		cfg.Voice.Command,
		cfg.Voice.Args,
		cfg.Media.ScratchDir,
		time.Duration(cfg.Voice.TimeoutSeconds)*time.Second,
		cfg.Voice.Required,
	)
}

func provideFetcher(log *slog.Logger, cfg config.Config) *outbreak.Fetcher {
	return outbreak.NewFetcher(log, outbreak.Config{
		BaseURL:  cfg.Outbreak.BaseURL,
		Username: cfg.Outbreak.Username,
		Password: cfg.Outbreak.Password,
		Query:    cfg.Outbreak.Query,
		DateFrom: cfg.Outbreak.DateFrom,
		DateTo:   cfg.Outbreak.DateTo,
		Headless: cfg.Outbreak.Headless,
		Timeout:  time.Duration(cfg.Outbreak.TimeoutSeconds) * time.Second,
	})
}

func provideBot(log *slog.Logger, adapter *telegram.Adapter, normalizer *media.Normalizer, store *history.Store, synthesizer *reason.Synthesizer, speaker *voice.Speaker, fetcher *outbreak.Fetcher) *bot.Bot {
	return bot.New(log, adapter, normalizer, store, synthesizer, speaker, fetcher)
}

func provideServer(log *slog.Logger, cfg config.Config) *server.Server {
	return server.NewServer(log, cfg.Server.Addr)
}

func ensureScratchDir(cfg config.Config) error {
	if err := os.MkdirAll(cfg.Media.ScratchDir, 0o755); err != nil {
		return fmt.Errorf("create scratch dir: %w", err)
	}
	return nil
}

func startBot(lc fx.Lifecycle, log *slog.Logger, adapter *telegram.Adapter, b *bot.Bot) {
	var stop func(ctx context.Context) error
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			conn, err := adapter.Connect(context.Background(), b.Handle)
			if err != nil {
				return fmt.Errorf("connect transport: %w", err)
			}
			stop = conn.Stop
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if stop == nil {
				return nil
			}
			return stop(ctx)
		},
	})
	log.Info("bot wired")
}

func startServer(lc fx.Lifecycle, srv *server.Server, log *slog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("ops server failed", slog.Any("error", err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}
