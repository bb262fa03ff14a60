package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"vitalwatch/internal/api/handlers"
	apimw "vitalwatch/internal/api/middleware"
	ws "vitalwatch/internal/api/websocket"
	"vitalwatch/internal/metrics"
)

func NewRouter(server *handlers.Server, hub *ws.Hub, m *metrics.Metrics, log *logrus.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(apimw.Logging(log, m))
	r.Use(apimw.CORS(server.Config.Server.CORSOrigins))

	r.Get("/healthz", server.Health)
	r.Method(http.MethodGet, "/metrics", m.Handler())

	limiter := apimw.NewRateLimiter(server.Config.HTTP.RateLimitPerMinute, server.Config.HTTP.RateLimitBurst)

	r.Route("/api/v1", func(api chi.Router) {
		// The update channel is long-lived and rate limited per frame inside the hub.
		api.Get("/ws", hub.ServeWS)

		api.Group(func(rest chi.Router) {
			rest.Use(limiter.Group("patients"))
			rest.Get("/patients", server.ListPatients)
			rest.Post("/patients", server.AdmitPatient)
			rest.Get("/patients/{id}", server.GetPatient)
			rest.Delete("/patients/{id}", server.DischargePatient)
			rest.Get("/patients/{id}/severity", server.PatientSeverity)
			rest.Patch("/patients/{id}/vitals", server.UpdateVitals)
		})

		api.Group(func(rest chi.Router) {
			rest.Use(limiter.Group("preferences"))
			rest.Get("/preferences", server.ListPreferences)
			rest.Get("/preferences/{key}", server.GetPreference)
			rest.Put("/preferences/{key}", server.PutPreference)
			rest.Delete("/preferences/{key}", server.DeletePreference)
		})

		api.Group(func(rest chi.Router) {
			rest.Use(limiter.Group("status"))
			rest.Get("/config/ui", server.UIConfig)
			rest.Get("/broker/stats", server.BrokerStats)
		})

		api.Group(func(rest chi.Router) {
			rest.Use(limiter.Group("admin"))
			rest.Get("/admin/stats", server.AdminStats)
			rest.Post("/admin/backup", server.AdminBackup)
			rest.Post("/admin/vacuum", server.AdminVacuum)
			rest.Delete("/admin/patients/discharged", server.PurgeDischarged)
		})
	})

	return r
}
