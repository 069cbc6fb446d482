package web

import (
	"github.com/go-chi/chi/v5"

	"github.com/photoevent/facematch/internal/web/handlers"
)

func (s *Server) setupRoutes() {
	ingestHandler := handlers.NewIngestHandler(s.engine)
	matchHandler := handlers.NewMatchHandler(s.engine)
	eventHandler := handlers.NewEventHandler(s.engine)

	// Health check
	s.router.Get("/api/v1/health", handlers.HealthCheck)

	// API routes
	s.router.Route("/api/v1", func(r chi.Router) {
		// Organizer routes
		r.Get("/events", eventHandler.ListEvents)
		r.Post("/events/{eventID}/photos", ingestHandler.IngestBatch)
		r.Delete("/events/{eventID}/photos/{photoID}", eventHandler.DeletePhoto)
		r.Delete("/events/{eventID}/index", eventHandler.DeleteEvent)

		// Public guest routes
		r.Post("/public/events/{eventID}/find-my-photos", matchHandler.FindMyPhotos)
	})
}
