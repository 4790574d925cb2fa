package config

import (
	"errors"
	"strings"
	"time"

	cenv "github.com/caarlos0/env/v11"
)

type Config struct {
	ListenAddr        string
	GeminiBaseURL     string
	GeminiAPIKey      string
	GeminiModel       string
	TelegramToken     string
	TelegramChatID    int64
	RequestTimeout    time.Duration
	MaxUploadBytes    int64
	CompressThreshold int64
	MaxConcurrent     int
	ChunkSize         int
	FFmpegPath        string
	LogLevel          string
}

type envConfig struct {
	ListenAddr            string `env:"LISTEN_ADDR" envDefault:":8080"`
	GeminiBaseURL         string `env:"GEMINI_BASE_URL" envDefault:"https://generativelanguage.googleapis.com/v1beta"`
	GeminiAPIKey          string `env:"GEMINI_API_KEY"`
	GeminiModel           string `env:"GEMINI_MODEL" envDefault:"gemini-2.0-flash"`
	TelegramToken         string `env:"TELEGRAM_BOT_TOKEN"`
	TelegramChatID        int64  `env:"TELEGRAM_CHAT_ID"`
	RequestTimeoutSeconds int    `env:"REQUEST_TIMEOUT_SECONDS" envDefault:"120"`
	MaxUploadBytes        int64  `env:"MAX_UPLOAD_BYTES" envDefault:"52428800"`
	CompressThreshold     int64  `env:"COMPRESS_THRESHOLD_BYTES" envDefault:"10485760"`
	MaxConcurrent         int    `env:"MAX_CONCURRENT_TRANSCRIPTIONS" envDefault:"5"`
	ChunkSize             int    `env:"MESSAGE_CHUNK_SIZE" envDefault:"4096"`
	FFmpegPath            string `env:"FFMPEG_PATH" envDefault:"ffmpeg"`
	LogLevel              string `env:"LOG_LEVEL" envDefault:"info"`
}

func Load() (Config, error) {
	var raw envConfig
	if err := cenv.Parse(&raw); err != nil {
		return Config{}, err
	}

	cfg := Config{
		ListenAddr:        strings.TrimSpace(raw.ListenAddr),
		GeminiBaseURL:     strings.TrimRight(strings.TrimSpace(raw.GeminiBaseURL), "/"),
		GeminiAPIKey:      strings.TrimSpace(raw.GeminiAPIKey),
		GeminiModel:       strings.TrimSpace(raw.GeminiModel),
		TelegramToken:     strings.TrimSpace(raw.TelegramToken),
		TelegramChatID:    raw.TelegramChatID,
		RequestTimeout:    time.Duration(raw.RequestTimeoutSeconds) * time.Second,
		MaxUploadBytes:    raw.MaxUploadBytes,
		CompressThreshold: raw.CompressThreshold,
		MaxConcurrent:     raw.MaxConcurrent,
		ChunkSize:         raw.ChunkSize,
		FFmpegPath:        strings.TrimSpace(raw.FFmpegPath),
		LogLevel:          strings.ToLower(strings.TrimSpace(raw.LogLevel)),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate fails fast: a missing credential is a startup error, never a
// request-time one.
func (c Config) Validate() error {
	if c.ListenAddr == "" {
		return errors.New("LISTEN_ADDR must not be empty")
	}
	if c.GeminiBaseURL == "" {
		return errors.New("GEMINI_BASE_URL must not be empty")
	}
	if c.GeminiAPIKey == "" {
		return errors.New("GEMINI_API_KEY is required")
	}
	if c.GeminiModel == "" {
		return errors.New("GEMINI_MODEL must not be empty")
	}
	if c.TelegramToken == "" {
		return errors.New("TELEGRAM_BOT_TOKEN is required")
	}
	if c.TelegramChatID == 0 {
		return errors.New("TELEGRAM_CHAT_ID is required")
	}
	if c.RequestTimeout <= 0 {
		return errors.New("REQUEST_TIMEOUT_SECONDS must be > 0")
	}
	if c.MaxUploadBytes <= 0 {
		return errors.New("MAX_UPLOAD_BYTES must be > 0")
	}
	if c.CompressThreshold <= 0 {
		return errors.New("COMPRESS_THRESHOLD_BYTES must be > 0")
	}
	if c.MaxConcurrent <= 0 {
		return errors.New("MAX_CONCURRENT_TRANSCRIPTIONS must be > 0")
	}
	if c.ChunkSize <= 0 {
		return errors.New("MESSAGE_CHUNK_SIZE must be > 0")
	}
	return nil
}
