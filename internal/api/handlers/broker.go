package handlers

import (
	"net/http"

	"vitalwatch/internal/config"
)

func (s *Server) BrokerStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"broker": s.Broker.Stats()}, nil)
}

type uiConfig struct {
	WSURL                string            `json:"ws_url"`
	ReconnectIntervalMS  int64             `json:"reconnect_interval_ms"`
	MaxReconnectAttempts int               `json:"max_reconnect_attempts"`
	HighlightDurationMS  int64             `json:"highlight_duration_ms"`
	GridColumns          int               `json:"grid_columns"`
	AnimationMS          int               `json:"animation_ms"`
	PageSize             int               `json:"page_size"`
	Thresholds           config.Thresholds `json:"thresholds"`
}

// UIConfig exposes the client-facing settings a dashboard needs before it connects.
func (s *Server) UIConfig(w http.ResponseWriter, _ *http.Request) {
	cfg := s.Config
	writeJSON(w, http.StatusOK, map[string]any{"ui": uiConfig{
		WSURL:                cfg.Client.WSURL,
		ReconnectIntervalMS:  config.ReconnectInterval(cfg).Milliseconds(),
		MaxReconnectAttempts: cfg.Client.MaxReconnectAttempts,
		HighlightDurationMS:  config.HighlightDuration(cfg).Milliseconds(),
		GridColumns:          cfg.UI.GridColumns,
		AnimationMS:          cfg.UI.AnimationMS,
		PageSize:             cfg.UI.PageSize,
		Thresholds:           cfg.Thresholds,
	}}, nil)
}
