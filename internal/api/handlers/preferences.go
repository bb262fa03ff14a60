package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (s *Server) ListPreferences(w http.ResponseWriter, r *http.Request) {
	prefs, err := s.App.ListPreferences(r.Context())
	if err != nil {
		writeServiceErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"preferences": prefs}, nil)
}

func (s *Server) GetPreference(w http.ResponseWriter, r *http.Request) {
	pref, err := s.App.GetPreference(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		writeServiceErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"preference": pref}, nil)
}

// PutPreference stores the raw request body as the preference value.
func (s *Server) PutPreference(w http.ResponseWriter, r *http.Request) {
	var value json.RawMessage
	if err := decodeJSON(w, r, &value); err != nil {
		writeErr(w, http.StatusBadRequest, "VALIDATION_ERROR", "body must be a JSON value")
		return
	}
	pref, err := s.App.PutPreference(r.Context(), chi.URLParam(r, "key"), value)
	if err != nil {
		writeServiceErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"preference": pref}, nil)
}

func (s *Server) DeletePreference(w http.ResponseWriter, r *http.Request) {
	if err := s.App.DeletePreference(r.Context(), chi.URLParam(r, "key")); err != nil {
		writeServiceErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": true}, nil)
}
