// Package httpapi exposes the optional test/debug HTTP surface: direct
// access to the reasoning workflow and TTS synthesizer, plus a health
// endpoint reflecting component state.
package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/loomvoice/agentcore/internal/adapters/livekit"
	"github.com/loomvoice/agentcore/internal/memory"
	"github.com/loomvoice/agentcore/internal/reasoning"
	"github.com/loomvoice/agentcore/internal/speech"
)

// Server wires the chi router to the reasoning workflow and TTS
// synthesizer for manual exercising outside a live voice session.
type Server struct {
	workflow   *reasoning.Workflow
	synth      *speech.Synthesizer
	store      *memory.Store
	liveKit    *livekit.Service
	ready      func() bool
	busHealthy func() bool
	router     chi.Router
}

// New builds the HTTP surface. ready reports whether the process
// considers itself able to serve /chat and /tts (false while dependencies
// are still connecting). busHealthy reports ephemeral-bus connectivity for
// /health. liveKit is nil when no LiveKit credentials were configured, in
// which case /rooms/{roomID}/token responds 503.
func New(workflow *reasoning.Workflow, synth *speech.Synthesizer, store *memory.Store, liveKit *livekit.Service, ready func() bool, busHealthy func() bool) *Server {
	s := &Server{workflow: workflow, synth: synth, store: store, liveKit: liveKit, ready: ready, busHealthy: busHealthy}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Post("/chat", s.handleChat)
	r.Post("/tts", s.handleTTS)
	r.Post("/rooms/{roomID}/token", s.handleRoomToken)
	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Info("http request", "method", r.Method, "path", r.URL.Path, "duration_ms", time.Since(start).Milliseconds())
	})
}

type chatRequest struct {
	UserID string `json:"user_id"`
	Text   string `json:"text"`
}

type chatResponse struct {
	UserID    string `json:"user_id"`
	Text      string `json:"text"`
	LatencyMs int64  `json:"latency_ms"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil && !s.ready() {
		http.Error(w, "not ready", http.StatusServiceUnavailable)
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}

	start := time.Now()
	state := &reasoning.State{UserID: req.UserID, Utterance: req.Text}
	s.workflow.RetrieveContext(r.Context(), state)
	result, err := s.workflow.GenerateReply(r.Context(), state)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, chatResponse{
		UserID:    req.UserID,
		Text:      result.Reply,
		LatencyMs: time.Since(start).Milliseconds(),
	})
}

type ttsRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleTTS(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil && !s.ready() {
		http.Error(w, "not ready", http.StatusServiceUnavailable)
		return
	}

	var req ttsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}

	chunks, err := s.synth.Synthesize(r.Context(), req.Text)
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "audio/wav")
	w.WriteHeader(http.StatusOK)
	flusher, canFlush := w.(http.Flusher)
	for chunk := range chunks {
		if _, err := w.Write(chunk); err != nil {
			return
		}
		if canFlush {
			flusher.Flush()
		}
	}
}

type roomTokenRequest struct {
	ParticipantID   string `json:"participant_id"`
	ParticipantName string `json:"participant_name"`
}

type roomTokenResponse struct {
	Token         string `json:"token"`
	ExpiresAt     int64  `json:"expires_at"`
	RoomName      string `json:"room_name"`
	ParticipantID string `json:"participant_id"`
}

// handleRoomToken creates the room backing roomID if it does not already
// exist and mints an access token for the joining participant. This is
// the HTTP counterpart to voice.Manager.Join: the token returned here is
// what the participant's client presents to LiveKit itself before any
// session is created on this process.
func (s *Server) handleRoomToken(w http.ResponseWriter, r *http.Request) {
	if s.liveKit == nil {
		http.Error(w, "livekit is not configured", http.StatusServiceUnavailable)
		return
	}

	roomID := chi.URLParam(r, "roomID")
	if roomID == "" {
		http.Error(w, "room ID is required", http.StatusBadRequest)
		return
	}

	var req roomTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}
	if req.ParticipantID == "" {
		http.Error(w, "participant_id is required", http.StatusBadRequest)
		return
	}

	if _, err := s.liveKit.GetRoom(r.Context(), roomID); err != nil {
		if _, err := s.liveKit.CreateRoom(r.Context(), roomID, 300, 2); err != nil {
			http.Error(w, "failed to create room: "+err.Error(), http.StatusInternalServerError)
			return
		}
	}

	token, err := s.liveKit.GenerateToken(r.Context(), roomID, req.ParticipantID, req.ParticipantName)
	if err != nil {
		http.Error(w, "failed to generate token: "+err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, roomTokenResponse{
		Token:         token.Token,
		ExpiresAt:     token.ExpiresAt,
		RoomName:      roomID,
		ParticipantID: req.ParticipantID,
	})
}

type healthResponse struct {
	Status      string `json:"status"`
	Database    bool   `json:"database"`
	Bus         bool   `json:"bus"`
	ModelLoaded bool   `json:"model_loaded"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	dbHealthy := s.store != nil && s.store.Health(ctx)
	modelLoaded := s.synth != nil
	busOK := s.busHealthy == nil || s.busHealthy()

	status := "healthy"
	if !dbHealthy || !modelLoaded || !busOK {
		status = "degraded"
	}

	writeJSON(w, http.StatusOK, healthResponse{
		Status:      status,
		Database:    dbHealthy,
		Bus:         busOK,
		ModelLoaded: modelLoaded,
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
