package control

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/conductor-sdlc/conductor/internal/domain"
)

// Server exposes a Surface over HTTP for the conductor CLI and dashboards
// to talk to a running conductor process.
type Server struct {
	router  chi.Router
	surface *Surface
}

// NewServer builds the chi router for surface. CORS is wide open: this is
// an operator-facing control plane, not a public API.
func NewServer(surface *Surface) *Server {
	s := &Server{surface: surface}
	s.router = s.setupRouter()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(loggingMiddleware)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	})
	r.Use(corsHandler.Handler)

	r.Get("/health", handleHealth)

	r.Route("/workflows", func(r chi.Router) {
		r.Post("/{workflowID}/start", s.handleStart)
		r.Post("/{workflowID}/resume", s.handleResume)
		r.Get("/{workflowID}", s.handleStatus)
		r.Post("/{workflowID}/rollback", s.handleRollback)
		r.Post("/{workflowID}/cancel", s.handleCancel)
	})

	return r
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		defer func() {
			log.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
			)
		}()
		next.ServeHTTP(ww, r)
	})
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			log.Error("failed to encode response", "error", err)
		}
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "workflowID")
	var req StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	resp, exit, err := s.surface.Start(r.Context(), id, req)
	if err != nil {
		respondError(w, httpStatusFor(exit), err.Error())
		return
	}
	respondJSON(w, http.StatusAccepted, resp)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "workflowID")
	var req ResumeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	wf, exit, err := s.surface.Resume(r.Context(), id, req)
	if err != nil {
		respondError(w, httpStatusFor(exit), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, wf)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "workflowID")
	resp, err := s.surface.Status(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

type rollbackRequest struct {
	Seq int64 `json:"checkpoint_seq"`
}

func (s *Server) handleRollback(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "workflowID")
	var req rollbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	wf, err := s.surface.Rollback(r.Context(), id, req.Seq)
	if err != nil {
		status := http.StatusInternalServerError
		if cerr, ok := err.(*domain.ClassifiedError); ok && cerr.Code == domain.CodeBusy {
			status = http.StatusConflict
		}
		respondError(w, status, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, wf)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "workflowID")
	wf, exit, err := s.surface.Cancel(r.Context(), id)
	if err != nil {
		respondError(w, httpStatusFor(exit), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, wf)
}

func httpStatusFor(exit ExitCode) int {
	switch exit {
	case ExitCompleted, ExitPausedForInput:
		return http.StatusOK
	case ExitBudgetExceeded:
		return http.StatusPaymentRequired
	case ExitStorageUnavailable:
		return http.StatusServiceUnavailable
	case ExitBusy:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// ListenAndServe runs the server until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("starting control server", "addr", addr)
	return srv.ListenAndServe()
}
