package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const defaultSystemPrompt = "You are a helpful insurance advisor. Speak in the language the user speaks and remember previous interactions."

// Config contains all runtime settings for the voice loop agent and the dialogue backend.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	AllowAnyOrigin bool

	CapabilityMode string

	DialogueBaseURL string
	DialogueTimeout time.Duration

	RecognitionLanguage string

	RetryNoSpeechDelay     time.Duration
	RetryNetworkDelay      time.Duration
	RetryAbortedDelay      time.Duration
	RetryUnclassifiedDelay time.Duration

	AvatarCrossfade     time.Duration
	AvatarBlinkingAsset string
	AvatarTalkingAsset  string

	DialogueBindAddr         string
	BrainProvider            string
	GeminiAPIKey             string
	GeminiChatModel          string
	GeminiTTSModel           string
	GeminiTTSVoice           string
	SystemPrompt             string
	HistoryLimit             int
	RecordingsDir            string
	SessionInactivityTimeout time.Duration

	DatabaseURL string
	RedisURL    string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:            envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:    envOrDefault("APP_METRICS_NAMESPACE", "voiceloop"),
		AllowAnyOrigin:      false,
		CapabilityMode:      strings.ToLower(envOrDefault("CAPABILITY_MODE", "bridge")),
		DialogueBaseURL:     strings.TrimRight(envOrDefault("DIALOGUE_BASE_URL", "http://localhost:5000"), "/"),
		RecognitionLanguage: envOrDefault("RECOGNITION_LANGUAGE", "en-US"),
		AvatarBlinkingAsset: envOrDefault("AVATAR_BLINKING_ASSET", "/static/blinking.mp4"),
		AvatarTalkingAsset:  envOrDefault("AVATAR_TALKING_ASSET", "/static/talking.mp4"),
		DialogueBindAddr:    envOrDefault("DIALOGUE_BIND_ADDR", ":5000"),
		BrainProvider:       strings.ToLower(envOrDefault("BRAIN_PROVIDER", "auto")),
		GeminiAPIKey:        stringsTrimSpace("GEMINI_API_KEY"),
		GeminiChatModel:     envOrDefault("GEMINI_CHAT_MODEL", "gemini-2.0-flash"),
		GeminiTTSModel:      envOrDefault("GEMINI_TTS_MODEL", "gemini-2.5-flash-preview-tts"),
		GeminiTTSVoice:      envOrDefault("GEMINI_TTS_VOICE", "Kore"),
		SystemPrompt:        envOrDefault("DIALOGUE_SYSTEM_PROMPT", defaultSystemPrompt),
		HistoryLimit:        9,
		RecordingsDir:       envOrDefault("RECORDINGS_DIR", "recordings"),
		DatabaseURL:         stringsTrimSpace("DATABASE_URL"),
		RedisURL:            stringsTrimSpace("REDIS_URL"),

		ShutdownTimeout:          15 * time.Second,
		DialogueTimeout:          60 * time.Second,
		RetryNoSpeechDelay:       15 * time.Second,
		RetryNetworkDelay:        15 * time.Second,
		RetryAbortedDelay:        500 * time.Millisecond,
		RetryUnclassifiedDelay:   15 * time.Second,
		AvatarCrossfade:          300 * time.Millisecond,
		SessionInactivityTimeout: 30 * time.Minute,
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"APP_SHUTDOWN_TIMEOUT", &cfg.ShutdownTimeout},
		{"DIALOGUE_TIMEOUT", &cfg.DialogueTimeout},
		{"RETRY_NO_SPEECH_DELAY", &cfg.RetryNoSpeechDelay},
		{"RETRY_NETWORK_DELAY", &cfg.RetryNetworkDelay},
		{"RETRY_ABORTED_DELAY", &cfg.RetryAbortedDelay},
		{"RETRY_UNCLASSIFIED_DELAY", &cfg.RetryUnclassifiedDelay},
		{"AVATAR_CROSSFADE", &cfg.AvatarCrossfade},
		{"APP_SESSION_INACTIVITY_TIMEOUT", &cfg.SessionInactivityTimeout},
	}
	var err error
	for _, d := range durations {
		*d.dst, err = durationFromEnv(d.key, *d.dst)
		if err != nil {
			return Config{}, err
		}
	}

	cfg.HistoryLimit, err = intFromEnv("DIALOGUE_HISTORY_LIMIT", cfg.HistoryLimit)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	switch cfg.CapabilityMode {
	case "bridge", "mock":
	default:
		return Config{}, fmt.Errorf("CAPABILITY_MODE must be bridge or mock, got %q", cfg.CapabilityMode)
	}
	switch cfg.BrainProvider {
	case "auto", "gemini", "mock":
	default:
		return Config{}, fmt.Errorf("BRAIN_PROVIDER must be auto, gemini or mock, got %q", cfg.BrainProvider)
	}
	if cfg.BrainProvider == "gemini" && cfg.GeminiAPIKey == "" {
		return Config{}, fmt.Errorf("BRAIN_PROVIDER=gemini requires GEMINI_API_KEY")
	}
	if cfg.HistoryLimit <= 0 {
		return Config{}, fmt.Errorf("DIALOGUE_HISTORY_LIMIT must be positive")
	}
	if cfg.DialogueTimeout <= 0 {
		return Config{}, fmt.Errorf("DIALOGUE_TIMEOUT must be positive")
	}
	for _, d := range []struct {
		key string
		v   time.Duration
	}{
		{"RETRY_NO_SPEECH_DELAY", cfg.RetryNoSpeechDelay},
		{"RETRY_NETWORK_DELAY", cfg.RetryNetworkDelay},
		{"RETRY_ABORTED_DELAY", cfg.RetryAbortedDelay},
		{"RETRY_UNCLASSIFIED_DELAY", cfg.RetryUnclassifiedDelay},
		{"AVATAR_CROSSFADE", cfg.AvatarCrossfade},
	} {
		if d.v < 0 {
			return Config{}, fmt.Errorf("%s must not be negative", d.key)
		}
	}
	if cfg.SessionInactivityTimeout < 5*time.Second {
		return Config{}, fmt.Errorf("APP_SESSION_INACTIVITY_TIMEOUT must be at least 5s")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
