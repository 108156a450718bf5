package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/ent0n29/voiceloop/internal/app"
	"github.com/ent0n29/voiceloop/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	built, err := app.Build(cfg, nil)
	if err != nil {
		log.Fatalf("build failed: %v", err)
	}
	log.Printf("capabilities: %s (%s)", built.Mode, built.Detail)
	log.Printf("dialogue backend: %s", cfg.DialogueBaseURL)

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()

	go built.Avatar.Run(runCtx)
	loopDone := make(chan error, 1)
	go func() { loopDone <- built.Orchestrator.Run(runCtx) }()

	// Mock mode has no device to press the button.
	if built.Mode == "mock" {
		if err := built.Orchestrator.Activate(runCtx); err != nil {
			log.Printf("activate failed: %v", err)
		}
	}

	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: built.API.Router(),
	}
	go func() {
		log.Printf("server listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
		log.Printf("shutdown signal received")
	case err := <-loopDone:
		log.Printf("voice loop stopped: %v", err)
	}

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	log.Printf("shutdown complete")
}
