package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

const (
	DefaultConfigPath       = "config.toml"
	DefaultHTTPAddr         = ":8080"
	DefaultReasoningBaseURL = "https://openrouter.ai/api/v1"
	DefaultReasoningModel   = "x-ai/grok-4"
	DefaultSpeechLanguage   = "en"
	DefaultScratchDir       = "temp"
	DefaultFFmpegPath       = "ffmpeg"
	DefaultPdfToTextPath    = "pdftotext"
	DefaultOutbreakBaseURL  = "https://www.promedmail.org"
	DefaultOutbreakQuery    = "dengue"
	DefaultOutbreakDateFrom = "2024-01-01"
	DefaultOutbreakDateTo   = "2024-12-31"
)

type Config struct {
	Log       LogConfig       `toml:"log"`
	Server    ServerConfig    `toml:"server"`
	Telegram  TelegramConfig  `toml:"telegram"`
	Reasoning ReasoningConfig `toml:"reasoning"`
	ImageHost ImageHostConfig `toml:"image_host"`
	Speech    SpeechConfig    `toml:"speech"`
	Voice     VoiceConfig     `toml:"voice"`
	Outbreak  OutbreakConfig  `toml:"outbreak"`
	Media     MediaConfig     `toml:"media"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
}

type TelegramConfig struct {
	BotToken string `toml:"bot_token"`
}

type ReasoningConfig struct {
	BaseURL        string `toml:"base_url"`
	APIKey         string `toml:"api_key"`
	Model          string `toml:"model"`
	SystemPrompt   string `toml:"system_prompt"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

type ImageHostConfig struct {
	UploadURL      string `toml:"upload_url"`
	APIKey         string `toml:"api_key"`
	Folder         string `toml:"folder"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

type SpeechConfig struct {
	ModelPath  string `toml:"model_path"`
	Language   string `toml:"language"`
	FFmpegPath string `toml:"ffmpeg_path"`
}

type VoiceConfig struct {
	Command        string   `toml:"command"`
	Args           []string `toml:"args"`
	Required       bool     `toml:"required"`
	TimeoutSeconds int      `toml:"timeout_seconds"`
}

type OutbreakConfig struct {
	BaseURL        string `toml:"base_url"`
	Username       string `toml:"username"`
	Password       string `toml:"password"`
	Query          string `toml:"query"`
	DateFrom       string `toml:"date_from"`
	DateTo         string `toml:"date_to"`
	Headless       bool   `toml:"headless"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

type MediaConfig struct {
	ScratchDir    string `toml:"scratch_dir"`
	PdfToTextPath string `toml:"pdftotext_path"`
}

func Load(path string) (Config, error) {
	cfg := Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr: DefaultHTTPAddr,
		},
		Reasoning: ReasoningConfig{
			BaseURL:        DefaultReasoningBaseURL,
			Model:          DefaultReasoningModel,
			TimeoutSeconds: 60,
		},
		ImageHost: ImageHostConfig{
			Folder:         "asha",
			TimeoutSeconds: 30,
		},
		Speech: SpeechConfig{
			Language:   DefaultSpeechLanguage,
			FFmpegPath: DefaultFFmpegPath,
		},
		Voice: VoiceConfig{
			TimeoutSeconds: 60,
		},
		Outbreak: OutbreakConfig{
			BaseURL:        DefaultOutbreakBaseURL,
			Query:          DefaultOutbreakQuery,
			DateFrom:       DefaultOutbreakDateFrom,
			DateTo:         DefaultOutbreakDateTo,
			Headless:       true,
			TimeoutSeconds: 90,
		},
		Media: MediaConfig{
			ScratchDir:    DefaultScratchDir,
			PdfToTextPath: DefaultPdfToTextPath,
		},
	}

	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			applyEnv(&cfg)
			return cfg, nil
		}
		return cfg, err
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, err
	}
	applyEnv(&cfg)
	return cfg, nil
}

// applyEnv overlays secrets from the environment so they can live in .env
// instead of the config file.
func applyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("TELEGRAM_BOT_TOKEN")); v != "" {
		cfg.Telegram.BotToken = v
	}
	if v := strings.TrimSpace(os.Getenv("REASONING_API_KEY")); v != "" {
		cfg.Reasoning.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("IMAGE_HOST_API_KEY")); v != "" {
		cfg.ImageHost.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("PROMED_USERNAME")); v != "" {
		cfg.Outbreak.Username = v
	}
	if v := strings.TrimSpace(os.Getenv("PROMED_PASSWORD")); v != "" {
		cfg.Outbreak.Password = v
	}
}

// Validate checks the fields the relay cannot run without.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Telegram.BotToken) == "" {
		return fmt.Errorf("telegram bot_token is required")
	}
	if strings.TrimSpace(c.Reasoning.APIKey) == "" {
		return fmt.Errorf("reasoning api_key is required")
	}
	return nil
}
