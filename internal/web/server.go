package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/kozaktomas/cin-capture/internal/capture"
	"github.com/kozaktomas/cin-capture/internal/config"
	"github.com/kozaktomas/cin-capture/internal/constants"
	"github.com/kozaktomas/cin-capture/internal/logger"
	"github.com/kozaktomas/cin-capture/internal/search"
	"github.com/kozaktomas/cin-capture/internal/upload"
	"github.com/kozaktomas/cin-capture/internal/web/handlers"
	"github.com/kozaktomas/cin-capture/internal/web/middleware"
)

// Deps are the collaborators shared by every workspace.
type Deps struct {
	Recognizer capture.Recognizer
	Portraits  capture.PortraitExtractor
	Saver      capture.Saver
	Store      search.DocumentStore
	Faces      search.FaceSearcher
	Health     handlers.HealthChecker
	// Linker resolves portrait paths for document details. Optional.
	Linker handlers.PortraitLinker
	// OnDelete runs after a document was deleted. Optional.
	OnDelete func(id int64) error
}

// Server represents the web server
type Server struct {
	config     *config.Config
	deps       Deps
	router     *chi.Mux
	httpServer *http.Server
	sessions   *middleware.SessionManager[*handlers.Workspace]
	log        *zap.Logger
}

// NewServer creates a new web server
func NewServer(cfg *config.Config, deps Deps, log *zap.Logger) *Server {
	r := chi.NewRouter()
	log = logger.OrNop(log)

	s := &Server{
		config: cfg,
		deps:   deps,
		router: r,
		log:    log,
	}
	s.sessions = middleware.NewSessionManager(cfg.Web.SessionSecret, 0, s.newWorkspace, releaseWorkspace)

	// Set up middleware stack
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Recoverer)
	r.Use(requestLogger(log))
	r.Use(middleware.CORS(cfg.Web.AllowedOrigins))
	r.Use(middleware.SecurityHeaders())

	s.setupRoutes()

	// Uploads wait for the recognizer, so the write timeout covers one collaborator call.
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Web.Host, cfg.Web.Port),
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.API.Timeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// newWorkspace builds the capture controller and document listing of a new session.
func (s *Server) newWorkspace() *handlers.Workspace {
	rules := upload.Rules{
		MaxBytes:     s.config.Upload.MaxBytes,
		AllowedTypes: s.config.Upload.AllowedTypes,
	}
	ctrl := capture.NewController(s.deps.Recognizer, s.deps.Portraits, s.deps.Saver, capture.Options{
		RequestTimeout: s.config.API.Timeout,
		ResetDelay:     s.config.Workflow.ResetDelay,
		Rules:          rules,
		Logger:         s.log,
	})
	correlator := search.NewCorrelator(s.deps.Faces, search.Options{
		Threshold: s.config.FaceSearch.Threshold,
		TopK:      s.config.FaceSearch.TopK,
	})
	listing := search.NewListing(s.deps.Store, correlator, search.ListingOptions{
		RequestTimeout: s.config.API.Timeout,
		PageSize:       constants.DefaultHandlerPageSize,
		Rules:          rules,
		Logger:         s.log,
	})
	s.log.Debug("workspace created")
	return &handlers.Workspace{Capture: ctrl, Listing: listing}
}

// releaseWorkspace discards any in-flight capture of an expired session.
func releaseWorkspace(ws *handlers.Workspace) {
	ws.Capture.Reset()
}

// requestLogger logs every request with its status and duration.
func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r.WithContext(logger.ContextWithLogger(r.Context(), log)))
			log.Debug("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", chiMiddleware.GetReqID(r.Context())))
		})
	}
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.log.Info("starting web server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down web server")

	err := s.httpServer.Shutdown(ctx)
	s.sessions.Stop()
	if err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	return nil
}

// Router returns the chi router for testing
func (s *Server) Router() *chi.Mux {
	return s.router
}
