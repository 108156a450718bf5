package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":8080" {
		t.Fatalf("BindAddr = %q, want %q", cfg.BindAddr, ":8080")
	}
	if cfg.RetryNoSpeechDelay != 15*time.Second {
		t.Fatalf("RetryNoSpeechDelay = %v, want 15s", cfg.RetryNoSpeechDelay)
	}
	if cfg.RetryAbortedDelay != 500*time.Millisecond {
		t.Fatalf("RetryAbortedDelay = %v, want 500ms", cfg.RetryAbortedDelay)
	}
	if cfg.AvatarCrossfade != 300*time.Millisecond {
		t.Fatalf("AvatarCrossfade = %v, want 300ms", cfg.AvatarCrossfade)
	}
	if cfg.RecognitionLanguage != "en-US" {
		t.Fatalf("RecognitionLanguage = %q, want %q", cfg.RecognitionLanguage, "en-US")
	}
	if cfg.HistoryLimit != 9 {
		t.Fatalf("HistoryLimit = %d, want 9", cfg.HistoryLimit)
	}
	if cfg.CapabilityMode != "bridge" {
		t.Fatalf("CapabilityMode = %q, want %q", cfg.CapabilityMode, "bridge")
	}
}

func TestLoadTrimsDialogueBaseURL(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("DIALOGUE_BASE_URL", "http://backend.test:5000/")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.DialogueBaseURL != "http://backend.test:5000" {
		t.Fatalf("DialogueBaseURL = %q, want trailing slash removed", cfg.DialogueBaseURL)
	}
}

func TestLoadRetryOverrides(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("RETRY_NO_SPEECH_DELAY", "2s")
	t.Setenv("RETRY_ABORTED_DELAY", "250ms")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.RetryNoSpeechDelay != 2*time.Second {
		t.Fatalf("RetryNoSpeechDelay = %v, want 2s", cfg.RetryNoSpeechDelay)
	}
	if cfg.RetryAbortedDelay != 250*time.Millisecond {
		t.Fatalf("RetryAbortedDelay = %v, want 250ms", cfg.RetryAbortedDelay)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := []struct {
		key   string
		value string
	}{
		{"CAPABILITY_MODE", "speaker"},
		{"BRAIN_PROVIDER", "gemini"},
		{"DIALOGUE_HISTORY_LIMIT", "0"},
		{"RETRY_NETWORK_DELAY", "soon"},
		{"RETRY_NETWORK_DELAY", "-1s"},
		{"APP_ALLOW_ANY_ORIGIN", "maybe"},
		{"APP_SESSION_INACTIVITY_TIMEOUT", "1s"},
	}
	for _, tc := range cases {
		setCoreEnvEmpty(t)
		t.Setenv(tc.key, tc.value)
		if _, err := Load(); err == nil {
			t.Fatalf("Load() with %s=%q error = nil, want error", tc.key, tc.value)
		}
	}
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"APP_BIND_ADDR",
		"APP_SHUTDOWN_TIMEOUT",
		"APP_METRICS_NAMESPACE",
		"APP_ALLOW_ANY_ORIGIN",
		"APP_SESSION_INACTIVITY_TIMEOUT",
		"CAPABILITY_MODE",
		"DIALOGUE_BASE_URL",
		"DIALOGUE_TIMEOUT",
		"RECOGNITION_LANGUAGE",
		"RETRY_NO_SPEECH_DELAY",
		"RETRY_NETWORK_DELAY",
		"RETRY_ABORTED_DELAY",
		"RETRY_UNCLASSIFIED_DELAY",
		"AVATAR_CROSSFADE",
		"AVATAR_BLINKING_ASSET",
		"AVATAR_TALKING_ASSET",
		"DIALOGUE_BIND_ADDR",
		"BRAIN_PROVIDER",
		"GEMINI_API_KEY",
		"GEMINI_CHAT_MODEL",
		"GEMINI_TTS_MODEL",
		"GEMINI_TTS_VOICE",
		"DIALOGUE_SYSTEM_PROMPT",
		"DIALOGUE_HISTORY_LIMIT",
		"RECORDINGS_DIR",
		"DATABASE_URL",
		"REDIS_URL",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}
