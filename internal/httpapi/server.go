package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/ent0n29/agora/internal/config"
	"github.com/ent0n29/agora/internal/facilitator"
	"github.com/ent0n29/agora/internal/observability"
	"github.com/ent0n29/agora/internal/store"
	"github.com/ent0n29/agora/internal/throttle"
)

type Server struct {
	cfg      config.Config
	store    store.Store
	turns    *facilitator.Turns
	throttle *throttle.Controller
	metrics  *observability.Metrics
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

func New(cfg config.Config, st store.Store, turns *facilitator.Turns, ctrl *throttle.Controller, metrics *observability.Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:      cfg,
		store:    st,
		turns:    turns,
		throttle: ctrl,
		metrics:  metrics,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only same-origin browsers unless explicitly opened up.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin.
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
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})
	r.Get("/v1/perf/latency", s.handlePerfLatency)

	r.Post("/v1/sessions", s.handleCreateSession)
	r.Get("/v1/sessions/{id}", s.handleGetSession)
	r.Post("/v1/sessions/{id}/threads", s.handleCreateThread)
	r.Get("/v1/sessions/{id}/throttle", s.handleGetThrottle)
	r.Get("/v1/threads/{id}/messages", s.handleListMessages)
	r.Post("/v1/threads/{id}/messages", s.handlePostMessage)
	r.Get("/v1/threads/{id}/ws", s.handleThreadWS)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"store_mode": s.store.Mode(),
		"crosspoll":  s.cfg.CrossPoll.Enabled,
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		respondError(w, http.StatusServiceUnavailable, "store_unavailable", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":     "ready",
		"store_mode": s.store.Mode(),
	})
}

type createSessionRequest struct {
	Topic       string `json:"topic"`
	Goal        string `json:"goal"`
	Description string `json:"description"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	req.Topic = strings.TrimSpace(req.Topic)
	if req.Topic == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "topic is required")
		return
	}

	sess, err := s.store.CreateSession(r.Context(), store.Session{
		Topic:       req.Topic,
		Goal:        strings.TrimSpace(req.Goal),
		Description: strings.TrimSpace(req.Description),
	})
	if err != nil {
		s.internalError(w, "create session", err)
		return
	}
	respondJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sess, err := s.store.Session(r.Context(), id)
	if err != nil {
		s.storeError(w, "session_not_found", err)
		return
	}
	threads, err := s.store.ListThreads(r.Context(), id)
	if err != nil {
		s.internalError(w, "list threads", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"session": sess,
		"threads": threads,
	})
}

type createThreadRequest struct {
	ParticipantID string `json:"participant_id"`
}

func (s *Server) handleCreateThread(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req createThreadRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if _, err := s.store.Session(r.Context(), id); err != nil {
		s.storeError(w, "session_not_found", err)
		return
	}
	thread, err := s.store.CreateThread(r.Context(), store.Thread{
		SessionID:     id,
		ParticipantID: strings.TrimSpace(req.ParticipantID),
	})
	if err != nil {
		s.internalError(w, "create thread", err)
		return
	}
	respondJSON(w, http.StatusCreated, thread)
}

type throttleResponse struct {
	SessionID        string     `json:"session_id"`
	SuppressionCount int        `json:"suppression_count"`
	SuppressedThread string     `json:"suppressed_thread_id,omitempty"`
	LastTriggeredAt  *time.Time `json:"last_triggered_at"`
	CooldownElapsed  bool       `json:"cooldown_elapsed"`
	Eligible         bool       `json:"eligible"`
	Version          int64      `json:"version"`
}

func (s *Server) handleGetThrottle(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.store.Session(r.Context(), id); err != nil {
		s.storeError(w, "session_not_found", err)
		return
	}
	st, err := s.throttle.Snapshot(r.Context(), id)
	if err != nil {
		s.internalError(w, "throttle snapshot", err)
		return
	}
	resp := throttleResponse{
		SessionID:        id,
		SuppressionCount: st.SuppressionCount,
		SuppressedThread: st.SuppressedThreadID,
		CooldownElapsed:  st.CooldownElapsed(s.throttle.Now(), s.throttle.Policy().Cooldown),
		Eligible:         s.throttle.Eligible(st),
		Version:          st.Version,
	}
	if st.Triggered() {
		at := st.LastTriggeredAt
		resp.LastTriggeredAt = &at
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.store.Thread(r.Context(), id); err != nil {
		s.storeError(w, "thread_not_found", err)
		return
	}
	msgs, err := s.store.MessagesInOrder(r.Context(), id)
	if err != nil {
		s.internalError(w, "list messages", err)
		return
	}
	if msgs == nil {
		msgs = []store.Message{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

type postMessageRequest struct {
	Content string `json:"content"`
}

func (s *Server) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req postMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	content := strings.TrimSpace(req.Content)
	if content == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "content is required")
		return
	}

	res, err := s.turns.Submit(r.Context(), id, content)
	if err != nil {
		s.storeError(w, "thread_not_found", err)
		return
	}
	respondJSON(w, http.StatusCreated, res)
}

func (s *Server) storeError(w http.ResponseWriter, notFoundCode string, err error) {
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, notFoundCode, err.Error())
		return
	}
	s.internalError(w, notFoundCode, err)
}

func (s *Server) internalError(w http.ResponseWriter, op string, err error) {
	s.logger.Error("httpapi: request failed", "op", op, "error", err)
	respondError(w, http.StatusInternalServerError, "internal", "internal error")
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
