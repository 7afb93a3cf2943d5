package web

import (
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kozaktomas/cin-capture/internal/metrics"
	"github.com/kozaktomas/cin-capture/internal/web/handlers"
	"github.com/kozaktomas/cin-capture/internal/web/middleware"
)

func (s *Server) setupRoutes() {
	// Create handlers
	captureHandler := handlers.NewCaptureHandler(s.log)
	documentsHandler := handlers.NewDocumentsHandler(s.deps.Linker, s.deps.OnDelete, s.log)
	configHandler := handlers.NewConfigHandler(s.config)

	s.router.Handle("/metrics", promhttp.Handler())

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(metrics.Middleware())

		// No session needed
		r.Get("/health", handlers.HealthCheck)
		if s.deps.Health != nil {
			r.Get("/health/upstream", handlers.UpstreamHealth(s.deps.Health))
		}
		r.Get("/config", configHandler.Get)

		// Everything else runs against the caller's workspace
		r.Group(func(r chi.Router) {
			r.Use(middleware.WithSession(s.sessions))

			// Capture
			r.Get("/capture", captureHandler.Get)
			r.Post("/capture/recto", captureHandler.UploadRecto)
			r.Post("/capture/verso", captureHandler.UploadVerso)
			r.Post("/capture/verso/skip", captureHandler.SkipVerso)
			r.Put("/capture/fields/{key}", captureHandler.EditField)
			r.Post("/capture/save", captureHandler.Save)
			r.Post("/capture/reset", captureHandler.Reset)

			// Documents
			r.Get("/documents", documentsHandler.List)
			r.Get("/documents/view", documentsHandler.View)
			r.Get("/documents/filter", documentsHandler.Filter)
			r.Get("/documents/search", documentsHandler.Search)
			r.Post("/documents/photo-search", documentsHandler.PhotoSearch)
			r.Post("/documents/photo-search/reset", documentsHandler.ResetPhotoSearch)
			r.Get("/documents/{id}", documentsHandler.Get)
			r.Delete("/documents/{id}", documentsHandler.Delete)
		})
	})
}
