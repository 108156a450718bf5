package app

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/ent0n29/voiceloop/internal/backend"
	"github.com/ent0n29/voiceloop/internal/bridge"
	"github.com/ent0n29/voiceloop/internal/config"
	"github.com/ent0n29/voiceloop/internal/gemini"
	"github.com/ent0n29/voiceloop/internal/recordings"
	"github.com/ent0n29/voiceloop/internal/voice"
)

// mockUtterances drive the loop in mock mode. The empty entry exercises the silence retry.
var mockUtterances = []string{"hello there", "", "what can you help me with"}

type capabilitySetup struct {
	capability voice.SpeechCapability
	playback   voice.PlaybackEngine
	surface    voice.AvatarSurface
	mode       string
	detail     string
}

func resolveCapabilities(cfg config.Config, hub *bridge.Hub) (capabilitySetup, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.CapabilityMode)) {
	case "", "bridge":
		return capabilitySetup{
			capability: hub,
			playback:   hub,
			surface:    hub.Surface(),
			mode:       "bridge",
			detail:     "device websocket at /v1/device/ws",
		}, nil
	case "mock":
		return capabilitySetup{
			capability: voice.NewMockCapability(2*time.Second, mockUtterances...),
			playback:   voice.NewMockPlayback(),
			surface:    voice.LogSurface{},
			mode:       "mock",
			detail:     "scripted utterances, simulated playback",
		}, nil
	default:
		return capabilitySetup{}, fmt.Errorf("invalid CAPABILITY_MODE: %q (expected bridge|mock)", cfg.CapabilityMode)
	}
}

type brainSetup struct {
	brain       backend.Brain
	synthesizer backend.Synthesizer
	transcriber recordings.Transcriber
	provider    string
}

func resolveBrain(ctx context.Context, cfg config.Config) (brainSetup, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.BrainProvider))
	if mode == "" {
		mode = "auto"
	}

	tryGemini := func() (brainSetup, bool, error) {
		if strings.TrimSpace(cfg.GeminiAPIKey) == "" {
			return brainSetup{}, false, nil
		}
		c, err := gemini.NewClient(ctx, gemini.Config{
			APIKey:    cfg.GeminiAPIKey,
			ChatModel: cfg.GeminiChatModel,
			TTSModel:  cfg.GeminiTTSModel,
			Voice:     cfg.GeminiTTSVoice,
		})
		if err != nil {
			return brainSetup{}, false, err
		}
		return brainSetup{brain: c, synthesizer: c, transcriber: c, provider: "gemini"}, true, nil
	}
	mock := brainSetup{brain: backend.MockBrain{}, synthesizer: backend.MockSynthesizer{}, provider: "mock"}

	switch mode {
	case "gemini":
		setup, ok, err := tryGemini()
		if err != nil {
			return brainSetup{}, fmt.Errorf("gemini init failed: %w", err)
		}
		if !ok {
			return brainSetup{}, fmt.Errorf("BRAIN_PROVIDER=gemini but GEMINI_API_KEY is not set")
		}
		return setup, nil
	case "mock":
		return mock, nil
	case "auto":
		setup, ok, err := tryGemini()
		if err != nil {
			log.Printf("gemini unavailable: %v", err)
		}
		if ok {
			return setup, nil
		}
		log.Printf("brain provider: mock (no gemini key)")
		return mock, nil
	default:
		return brainSetup{}, fmt.Errorf("invalid BRAIN_PROVIDER: %q (expected auto|gemini|mock)", cfg.BrainProvider)
	}
}
