package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/ent0n29/voiceloop/internal/backend"
	"github.com/ent0n29/voiceloop/internal/bridge"
	"github.com/ent0n29/voiceloop/internal/config"
	"github.com/ent0n29/voiceloop/internal/dialogue"
	"github.com/ent0n29/voiceloop/internal/httpapi"
	"github.com/ent0n29/voiceloop/internal/memory"
	"github.com/ent0n29/voiceloop/internal/observability"
	"github.com/ent0n29/voiceloop/internal/recordings"
	"github.com/ent0n29/voiceloop/internal/session"
	"github.com/ent0n29/voiceloop/internal/voice"
)

const deviceAckTimeout = 5 * time.Second

type BuildResult struct {
	Config       config.Config
	API          *httpapi.Server
	Hub          *bridge.Hub
	Orchestrator *voice.Orchestrator
	Avatar       *voice.AvatarController
	Metrics      *observability.Metrics
	Mode         string
	Detail       string
}

// Build wires the voice loop agent. Callers start Avatar.Run and Orchestrator.Run.
// A nil metrics registers on the default Prometheus registry.
func Build(cfg config.Config, metrics *observability.Metrics) (*BuildResult, error) {
	if metrics == nil {
		metrics = observability.NewMetrics(cfg.MetricsNamespace)
	}
	hub := bridge.NewHub(metrics, deviceAckTimeout)

	setup, err := resolveCapabilities(cfg, hub)
	if err != nil {
		return nil, err
	}

	avatar := voice.NewAvatarController(setup.surface, voice.AvatarAssets{
		Blinking: cfg.AvatarBlinkingAsset,
		Talking:  cfg.AvatarTalkingAsset,
	}, cfg.AvatarCrossfade, metrics)

	orchestrator := voice.NewOrchestrator(voice.Options{
		Capability: setup.capability,
		Dialogue:   dialogue.NewClient(cfg.DialogueBaseURL, cfg.DialogueTimeout),
		Playback:   setup.playback,
		Avatar:     avatar,
		Display:    hub,
		Metrics:    metrics,
		Recognition: voice.RecognitionConfig{
			Language:        cfg.RecognitionLanguage,
			InterimResults:  true,
			MaxAlternatives: 1,
		},
		Retry: voice.RetryPolicy{
			NoSpeech:     cfg.RetryNoSpeechDelay,
			Network:      cfg.RetryNetworkDelay,
			Superseded:   cfg.RetryAbortedDelay,
			Unclassified: cfg.RetryUnclassifiedDelay,
		},
	})
	hub.SetActivator(orchestrator.Activate)

	return &BuildResult{
		Config:       cfg,
		API:          httpapi.New(cfg, orchestrator, hub, metrics),
		Hub:          hub,
		Orchestrator: orchestrator,
		Avatar:       avatar,
		Metrics:      metrics,
		Mode:         setup.mode,
		Detail:       setup.detail,
	}, nil
}

type BackendResult struct {
	Config     config.Config
	Server     *backend.Server
	Sessions   *session.Manager
	Recordings *recordings.Library
	Metrics    *observability.Metrics
	Provider   string
	MemoryMode string

	// Cleanup should be called on shutdown to release external resources (DB, Redis).
	Cleanup func() error
}

// BuildBackend wires the dialogue backend. Callers scan recordings and start the
// session janitor.
func BuildBackend(ctx context.Context, cfg config.Config, metrics *observability.Metrics) (*BackendResult, error) {
	if metrics == nil {
		metrics = observability.NewMetrics(cfg.MetricsNamespace)
	}

	store, err := memory.NewStore(ctx, cfg.DatabaseURL, cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("memory store init failed: %w", err)
	}

	setup, err := resolveBrain(ctx, cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	sessions := session.NewManager(cfg.SessionInactivityTimeout)
	library := recordings.NewLibrary(cfg.RecordingsDir, setup.transcriber)
	server := backend.NewServer(backend.Options{
		SystemPrompt: cfg.SystemPrompt,
		HistoryLimit: cfg.HistoryLimit,
		Brain:        setup.brain,
		Synthesizer:  setup.synthesizer,
		Store:        store,
		Sessions:     sessions,
		Context:      library,
		Metrics:      metrics,
		BrainName:    setup.provider,
	})
	sessions.SetExpireHook(func(s *session.Session) {
		server.ExpireSession(context.Background(), s)
	})
	log.Printf("dialogue backend: brain=%s memory=%s", setup.provider, memory.Mode(store))

	return &BackendResult{
		Config:     cfg,
		Server:     server,
		Sessions:   sessions,
		Recordings: library,
		Metrics:    metrics,
		Provider:   setup.provider,
		MemoryMode: memory.Mode(store),
		Cleanup:    store.Close,
	}, nil
}
