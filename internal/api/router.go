package api

import (
	"bytes"
	"context"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"time"

	"mailpilot/internal/core"
	"mailpilot/internal/store"
	"mailpilot/web"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Server holds the HTTP server state.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	store      *store.Store
	supervisor *core.Supervisor
	logger     *slog.Logger
	authToken  string
}

// NewServer constructs the HTTP API server.
func NewServer(addr string, authToken string, store *store.Store, supervisor *core.Supervisor, logger *slog.Logger) (*Server, error) {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)

	staticFS := web.Files()

	s := &Server{
		router:     router,
		store:      store,
		supervisor: supervisor,
		logger:     logger,
		authToken:  authToken,
	}
	s.registerRoutes(staticFS)

	httpServer := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}
	s.httpServer = httpServer
	return s, nil
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) registerRoutes(staticFS fs.FS) {
	fileServer := http.StripPrefix("/assets/", http.FileServer(http.FS(staticFS)))

	s.router.Get("/", s.handleIndex(staticFS))
	s.router.Handle("/assets/*", fileServer)
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/v1", func(r chi.Router) {
		// Apply authentication to all API endpoints
		if s.authToken != "" {
			r.Use(AuthMiddleware(s.authToken))
		}

		r.Get("/status", s.handleStatus)
		r.Post("/start", s.handleStart)
		r.Post("/stop", s.handleStop)
		r.Post("/wake", s.handleWake)
		r.Post("/verification", s.handleVerification)
		r.Get("/screenshot", s.handleScreenshot)
		r.Get("/cycles", s.handleListCycles)
		r.Get("/tokens", s.handleListTokens)
	})
}

func (s *Server) handleIndex(staticFS fs.FS) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		file, err := staticFS.Open("index.html")
		if err != nil {
			http.Error(w, "index not found", http.StatusInternalServerError)
			return
		}
		defer file.Close()
		info, err := fs.Stat(staticFS, "index.html")
		modTime := time.Now()
		if err == nil {
			modTime = info.ModTime()
		}
		if reader, ok := file.(io.ReadSeeker); ok {
			http.ServeContent(w, r, "index.html", modTime, reader)
			return
		}
		data, err := io.ReadAll(file)
		if err != nil {
			http.Error(w, "failed to load index", http.StatusInternalServerError)
			return
		}
		http.ServeContent(w, r, "index.html", modTime, bytes.NewReader(data))
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
