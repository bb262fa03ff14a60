package handlers

import (
	"database/sql"
	"net/http"

	"vitalwatch/internal/broker"
	"vitalwatch/internal/config"
	"vitalwatch/internal/service"
)

type Server struct {
	App    *service.App
	Broker *broker.Broker
	DB     *sql.DB
	Config config.Config
}

func New(app *service.App, b *broker.Broker, db *sql.DB, cfg config.Config) *Server {
	return &Server{
		App:    app,
		Broker: b,
		DB:     db,
		Config: cfg,
	}
}

func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	if err := s.DB.PingContext(r.Context()); err != nil {
		writeErr(w, http.StatusServiceUnavailable, "UNAVAILABLE", "database unreachable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": s.Broker.Stats().Sessions,
	}, nil)
}
