// Package devserver is a local collector implementing the ingestion
// endpoints. It is used for capture-replay workflows and end-to-end tests.
package devserver

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"

	"github.com/bft-labs/replayship/internal/codec"
	"github.com/bft-labs/replayship/internal/domain"
	"github.com/bft-labs/replayship/internal/ports"
	"github.com/bft-labs/replayship/pkg/log"
)

// Request size limits.
const (
	maxBodyBytes    = 16 << 20
	maxArchiveBytes = 64 << 20
)

// Config configures the collector.
type Config struct {
	// Dir persists received payloads below Dir/<session-id>/ when set.
	Dir string

	// FPS and Quality are returned to every negotiating client.
	FPS     int
	Quality string
}

// Server serves the collector endpoints.
type Server struct {
	router *chi.Mux
	store  *Store
	cfg    Config
	logger ports.Logger
	now    func() time.Time
}

// New creates a collector. A nil logger discards output.
func New(cfg Config, logger ports.Logger) *Server {
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	if cfg.FPS <= 0 {
		cfg.FPS = 1
	}
	if cfg.Quality == "" {
		cfg.Quality = string(domain.QualityStandard)
	}

	s := &Server{
		router: chi.NewRouter(),
		store:  NewStore(cfg.Dir),
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}

	r := s.router
	r.Use(middleware.RequestID)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	r.Route("/v1/mobile", func(r chi.Router) {
		r.Post("/start", s.handleStart)
		r.Post("/i", s.handleIngest)
		r.Post("/late", s.handleLate)
		r.Post("/images", s.handleImages)
	})
	r.Get("/v1/dev/sessions", s.handleSessions)
	r.Post("/v1/dev/sessions/{id}/revoke", s.handleRevoke)

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Store returns the store holding received data.
func (s *Server) Store() *Store {
	return s.store
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			ports.String("method", r.Method),
			ports.String("path", r.URL.Path),
			ports.Int("status", ww.Status()),
			ports.Int("bytes", ww.BytesWritten()),
			ports.Duration("duration", time.Since(start)),
			ports.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req domain.SessionRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		http.Error(w, "invalid session request", http.StatusBadRequest)
		return
	}
	if req.ProjectKey == "" {
		http.Error(w, "missing projectKey", http.StatusBadRequest)
		return
	}

	userUUID := req.UserUUID
	if userUUID == "" {
		userUUID = uuid.NewString()
	}
	sess := &Session{
		ID:        uuid.NewString(),
		Token:     uuid.NewString(),
		Request:   req,
		StartedAt: s.now(),
	}
	s.store.addSession(sess)
	s.logger.Info("session started",
		ports.String("session_id", sess.ID),
		ports.String("project_key", req.ProjectKey),
		ports.String("device", req.UserDevice),
	)

	writeJSON(w, http.StatusOK, domain.SessionResponse{
		UserUUID:  userUUID,
		Token:     sess.Token,
		SessionID: sess.ID,
		FPS:       s.cfg.FPS,
		Quality:   s.cfg.Quality,
		ProjectID: "dev",
	})
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.authorize(w, r, true)
	if !ok {
		return
	}

	body := io.Reader(io.LimitReader(r.Body, maxBodyBytes))
	if strings.EqualFold(r.Header.Get("Content-Encoding"), "gzip") {
		zr, err := gzip.NewReader(body)
		if err != nil {
			http.Error(w, "invalid gzip body", http.StatusBadRequest)
			return
		}
		defer zr.Close()
		body = zr
	}
	s.receive(w, body, sess, false)
}

func (s *Server) handleLate(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.authorize(w, r, false)
	if !ok {
		return
	}
	s.receive(w, io.LimitReader(r.Body, maxBodyBytes), sess, true)
}

func (s *Server) receive(w http.ResponseWriter, body io.Reader, sess *Session, late bool) {
	data, err := io.ReadAll(body)
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}
	msgs, err := codec.DecodeAll(data)
	if err != nil {
		http.Error(w, fmt.Sprintf("decode messages: %v", err), http.StatusBadRequest)
		return
	}

	p := Payload{
		SessionID:  sess.ID,
		Late:       late,
		ReceivedAt: s.now(),
		Data:       data,
		Messages:   msgs,
	}
	if err := s.store.addPayload(p); err != nil {
		s.logger.Error("failed to persist payload", ports.Err(err))
		http.Error(w, "persist payload", http.StatusInternalServerError)
		return
	}
	s.logger.Debug("payload received",
		ports.String("session_id", sess.ID),
		ports.Bool("late", late),
		ports.Int("messages", len(msgs)),
	)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleImages(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.authorize(w, r, true)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxArchiveBytes)
	if err := r.ParseMultipartForm(maxArchiveBytes); err != nil {
		http.Error(w, "invalid multipart body", http.StatusBadRequest)
		return
	}
	projectKey := r.FormValue("projectKey")
	if projectKey == "" {
		http.Error(w, "missing projectKey", http.StatusBadRequest)
		return
	}
	file, hdr, err := r.FormFile("batch")
	if err != nil {
		http.Error(w, "missing batch file", http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "read batch file", http.StatusBadRequest)
		return
	}

	a := Archive{
		SessionID:  sess.ID,
		ProjectKey: projectKey,
		Name:       hdr.Filename,
		ReceivedAt: s.now(),
		Data:       data,
	}
	if err := s.store.addArchive(a); err != nil {
		s.logger.Error("failed to persist archive", ports.Err(err))
		http.Error(w, "persist archive", http.StatusInternalServerError)
		return
	}
	s.logger.Debug("archive received",
		ports.String("session_id", sess.ID),
		ports.String("name", a.Name),
		ports.Int("bytes", len(data)),
	)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleSessions(w http.ResponseWriter, _ *http.Request) {
	type summary struct {
		Session
		Payloads int `json:"payloads"`
		Messages int `json:"messages"`
		Archives int `json:"archives"`
	}

	sessions := s.store.Sessions()
	out := make([]summary, 0, len(sessions))
	for _, sess := range sessions {
		sum := summary{Session: sess}
		for _, p := range s.store.Payloads() {
			if p.SessionID == sess.ID {
				sum.Payloads++
				sum.Messages += len(p.Messages)
			}
		}
		for _, a := range s.store.Archives() {
			if a.SessionID == sess.ID {
				sum.Archives++
			}
		}
		out = append(out, sum)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	if !s.store.Revoke(chi.URLParam(r, "id")) {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// authorize resolves the bearer token. live rejects revoked tokens.
func (s *Server) authorize(w http.ResponseWriter, r *http.Request, live bool) (*Session, bool) {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || token == "" {
		http.Error(w, "missing bearer token", http.StatusUnauthorized)
		return nil, false
	}
	sess, ok := s.store.lookup(token, live)
	if !ok {
		http.Error(w, "unknown or revoked token", http.StatusUnauthorized)
		return nil, false
	}
	return sess, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
