// Package backend is the dialogue service the voice loop talks to: it keeps a
// conversation per caller, asks a Brain for replies and renders them as speech.
package backend

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/ent0n29/voiceloop/internal/audio"
	"github.com/ent0n29/voiceloop/internal/memory"
	"github.com/ent0n29/voiceloop/internal/observability"
	"github.com/ent0n29/voiceloop/internal/policy"
	"github.com/ent0n29/voiceloop/internal/reliability"
	"github.com/ent0n29/voiceloop/internal/session"
)

const sessionCookie = "voiceloop_session"

// ContextSource supplies extra system prompt context, such as recording transcripts.
type ContextSource interface {
	ContextBlock() string
}

type Options struct {
	SystemPrompt string
	HistoryLimit int
	Brain        Brain
	Synthesizer  Synthesizer
	Store        memory.Store
	Sessions     *session.Manager
	Context      ContextSource
	Metrics      *observability.Metrics
	BrainName    string
}

type Server struct {
	opts Options
}

func NewServer(opts Options) *Server {
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 9
	}
	if opts.Brain == nil {
		opts.Brain = MockBrain{}
	}
	if opts.Synthesizer == nil {
		opts.Synthesizer = MockSynthesizer{}
	}
	if opts.Store == nil {
		opts.Store = memory.NewInMemoryStore()
	}
	if opts.Sessions == nil {
		opts.Sessions = session.NewManager(0)
	}
	return &Server{opts: opts}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.observe)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", s.opts.Metrics.Handler())
	r.Post("/process", s.handleProcess)
	r.Post("/tts", s.handleTTS)
	r.Post("/v1/conversation/reset", s.handleReset)
	return r
}

// ExpireSession clears the stored history of a session the janitor ended.
func (s *Server) ExpireSession(ctx context.Context, sess *session.Session) {
	if err := s.opts.Store.Reset(ctx, sess.ID); err != nil {
		log.Printf("backend: clear expired session %s: %v", sess.ID, err)
	}
	s.opts.Metrics.ObserveSessionEvent("expired", s.opts.Sessions.ActiveCount())
}

type processRequest struct {
	Text string `json:"text"`
}

type processResponse struct {
	Reply   string `json:"reply"`
	AudioID string `json:"audio_id"`
}

type ttsRequest struct {
	Text    string `json:"text"`
	AudioID string `json:"audio_id"`
}

type ttsResponse struct {
	AudioBase64 string `json:"audio_base64"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"brain":           s.opts.BrainName,
		"memory":          memory.Mode(s.opts.Store),
		"active_sessions": s.opts.Sessions.ActiveCount(),
	})
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	var req processRequest
	_ = json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req)
	text := strings.TrimSpace(req.Text)
	if text == "" {
		respondError(w, http.StatusBadRequest, "Missing input")
		return
	}

	sess := s.resolveSession(w, r)
	ctx := r.Context()

	var history []Message
	// Stores read a non-positive limit as "no limit".
	if limit := s.opts.HistoryLimit - 1; limit > 0 {
		turns, err := s.opts.Store.Recent(ctx, sess.ID, limit)
		if err != nil {
			log.Printf("backend: load history session=%s: %v", sess.ID, err)
		}
		for _, t := range turns {
			history = append(history, Message{Role: t.Role, Content: t.Content})
		}
	}
	history = append(history, Message{Role: memory.RoleUser, Content: text})

	prompt := s.opts.SystemPrompt
	if s.opts.Context != nil {
		prompt += s.opts.Context.ContextBlock()
	}

	reply, err := s.opts.Brain.Reply(ctx, prompt, history)
	if err != nil {
		status, msg := replyFailure(err)
		log.Printf("backend: reply failed session=%s: %v", sess.ID, err)
		respondError(w, status, msg)
		return
	}
	reply = strings.TrimSpace(reply)

	s.saveTurn(ctx, sess.ID, memory.RoleUser, text)
	s.saveTurn(ctx, sess.ID, memory.RoleAssistant, reply)
	if err := s.opts.Sessions.RecordExchange(sess.ID); err != nil {
		log.Printf("backend: record exchange session=%s: %v", sess.ID, err)
	}

	respondJSON(w, http.StatusOK, processResponse{Reply: reply, AudioID: uuid.NewString()})
}

func (s *Server) handleTTS(w http.ResponseWriter, r *http.Request) {
	var req ttsRequest
	_ = json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req)
	text := strings.TrimSpace(req.Text)
	if text == "" {
		respondError(w, http.StatusBadRequest, "Missing text for TTS")
		return
	}

	data, err := s.opts.Synthesizer.Synthesize(r.Context(), text)
	if err != nil {
		log.Printf("backend: synthesis failed audio_id=%s: %v", req.AudioID, err)
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, ttsResponse{AudioBase64: audio.EncodeBase64(data)})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	sess := s.resolveSession(w, r)
	if err := s.opts.Store.Reset(r.Context(), sess.ID); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "reset", "session_id": sess.ID})
}

func (s *Server) resolveSession(w http.ResponseWriter, r *http.Request) *session.Session {
	id := ""
	if c, err := r.Cookie(sessionCookie); err == nil {
		id = c.Value
	}
	sess, created := s.opts.Sessions.Resolve(id)
	if created {
		http.SetCookie(w, &http.Cookie{
			Name:     sessionCookie,
			Value:    sess.ID,
			Path:     "/",
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
		s.opts.Metrics.ObserveSessionEvent("created", s.opts.Sessions.ActiveCount())
	}
	return sess
}

func (s *Server) saveTurn(ctx context.Context, sessionID, role, content string) {
	redacted, changed := policy.RedactPII(content)
	err := s.opts.Store.SaveTurn(ctx, memory.TurnRecord{
		SessionID:   sessionID,
		Role:        role,
		Content:     redacted,
		PIIRedacted: changed,
	})
	if err != nil {
		log.Printf("backend: save %s turn session=%s: %v", role, sessionID, err)
	}
}

// replyFailure maps a Brain error to the status and message callers see.
func replyFailure(err error) (int, string) {
	ue, ok := reliability.AsUpstream(err)
	if !ok {
		return http.StatusInternalServerError, err.Error()
	}
	switch ue.Kind {
	case reliability.UpstreamAuth:
		return http.StatusInternalServerError, "Invalid API key. Please check your GEMINI_API_KEY environment variable."
	case reliability.UpstreamBadRequest:
		return http.StatusBadRequest, "Bad Request: " + ue.Message
	default:
		return http.StatusInternalServerError, "API Error: " + ue.Message
	}
}

func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if p := rc.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.opts.Metrics.ObserveBackendRequest(route, status, time.Since(start))
	})
}

type errorResponse struct {
	Error string `json:"error"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, errorResponse{Error: message})
}
