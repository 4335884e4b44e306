package web

import (
	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/faceclock/internal/web/handlers"
)

func (s *Server) setupRoutes(svc Services) {
	previewHandler := handlers.NewPreviewHandler(svc.Previewer)
	staffHandler := handlers.NewStaffHandler(svc.Enroller)
	clockHandler := handlers.NewClockHandler(svc.Clocker, svc.DeviceKey)
	thresholdsHandler := handlers.NewThresholdsHandler(svc.Thresholds, svc.ThresholdSource)
	statsHandler := handlers.NewStatsHandler()

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", handlers.HealthCheck)

		// Capture feedback
		r.Post("/preview", previewHandler.Preview)

		// Staff
		r.Post("/staff", staffHandler.Create)
		r.Get("/staff", staffHandler.List)
		r.Get("/staff/{id}", staffHandler.Get)
		r.Get("/staff/{id}/clock-events", clockHandler.Events)

		// Attendance
		r.Post("/clock", clockHandler.Clock)

		// Thresholds & index
		r.Get("/thresholds", thresholdsHandler.Get)
		r.Get("/stats", statsHandler.Get)
		r.Post("/index/rebuild", statsHandler.RebuildIndex)
	})
}
