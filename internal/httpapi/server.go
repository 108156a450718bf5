package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/ent0n29/voiceloop/internal/config"
	"github.com/ent0n29/voiceloop/internal/observability"
	"github.com/ent0n29/voiceloop/internal/voice"
)

// Loop is the voice loop as seen by the API.
type Loop interface {
	Activate(ctx context.Context) error
	Snapshot() voice.Snapshot
}

// Device serves the device and display websockets.
type Device interface {
	ServeDevice(ctx context.Context, conn *websocket.Conn)
	ServeDisplay(ctx context.Context, conn *websocket.Conn)
	Connected() bool
}

type Server struct {
	cfg      config.Config
	loop     Loop
	device   Device
	metrics  *observability.Metrics
	upgrader websocket.Upgrader
}

func New(cfg config.Config, loop Loop, device Device, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:     cfg,
		loop:    loop,
		device:  device,
		metrics: metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only same-origin pages may drive the microphone unless explicitly opened up.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Handle("/metrics", s.metrics.Handler())

	r.Get("/v1/state", s.handleState)
	r.Post("/v1/activate", s.handleActivate)
	r.Get("/v1/perf/latency", s.handlePerfLatency)
	r.Get("/v1/device/ws", s.handleDeviceWS)
	r.Get("/v1/display/ws", s.handleDisplayWS)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"capability_mode": s.cfg.CapabilityMode,
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	connected := s.device != nil && s.device.Connected()
	if s.cfg.CapabilityMode == "bridge" && !connected {
		respondJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status":           "waiting_for_device",
			"device_connected": false,
		})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":           "ready",
		"device_connected": connected,
	})
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	if s.loop == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "voice loop not configured")
		return
	}
	respondJSON(w, http.StatusOK, s.loop.Snapshot())
}

func (s *Server) handleActivate(w http.ResponseWriter, r *http.Request) {
	if s.loop == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "voice loop not configured")
		return
	}
	err := s.loop.Activate(r.Context())
	switch {
	case err == nil:
		respondJSON(w, http.StatusAccepted, s.loop.Snapshot())
	case errors.Is(err, voice.ErrAlreadyActive):
		respondError(w, http.StatusConflict, "already_active", err.Error())
	case errors.Is(err, voice.ErrStopped):
		respondError(w, http.StatusServiceUnavailable, "stopped", err.Error())
	default:
		respondError(w, http.StatusInternalServerError, "activate_failed", err.Error())
	}
}

func (s *Server) handleDeviceWS(w http.ResponseWriter, r *http.Request) {
	if s.device == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "device bridge not configured")
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.device.ServeDevice(r.Context(), conn)
}

func (s *Server) handleDisplayWS(w http.ResponseWriter, r *http.Request) {
	if s.device == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "device bridge not configured")
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.device.ServeDisplay(r.Context(), conn)
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
