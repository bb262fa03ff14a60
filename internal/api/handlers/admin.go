package handlers

import (
	"net/http"
	"time"

	"vitalwatch/internal/storage"
)

func (s *Server) AdminStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	patients, err := s.App.Store.CountActivePatients(ctx)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, "INTERNAL", err.Error())
		return
	}
	rows, err := s.App.Store.Count(ctx, "patients")
	if err != nil {
		writeErr(w, http.StatusInternalServerError, "INTERNAL", err.Error())
		return
	}
	prefs, err := s.App.Store.Count(ctx, "preferences")
	if err != nil {
		writeErr(w, http.StatusInternalServerError, "INTERNAL", err.Error())
		return
	}
	migrations, err := storage.AppliedMigrations(ctx, s.DB)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, "INTERNAL", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stats": map[string]any{
		"active_patients": patients,
		"patient_rows":    rows,
		"preferences":     prefs,
		"migrations":      migrations,
		"broker":          s.Broker.Stats(),
	}}, nil)
}

func (s *Server) AdminBackup(w http.ResponseWriter, r *http.Request) {
	path, err := storage.Backup(r.Context(), s.DB, s.Config.Database.BackupPath)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, "INTERNAL", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"backup_path": path}, nil)
}

func (s *Server) AdminVacuum(w http.ResponseWriter, r *http.Request) {
	if err := storage.Vacuum(r.Context(), s.DB); err != nil {
		writeErr(w, http.StatusInternalServerError, "INTERNAL", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"vacuumed": true}, nil)
}

// PurgeDischarged removes discharged patients older than ?older_than (a Go duration,
// default 720h).
func (s *Server) PurgeDischarged(w http.ResponseWriter, r *http.Request) {
	olderThan := 720 * time.Hour
	if raw := r.URL.Query().Get("older_than"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d < 0 {
			writeErr(w, http.StatusBadRequest, "VALIDATION_ERROR", "older_than must be a non-negative duration")
			return
		}
		olderThan = d
	}
	n, err := s.App.Store.PurgeDischarged(r.Context(), time.Now().Add(-olderThan))
	if err != nil {
		writeErr(w, http.StatusInternalServerError, "INTERNAL", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"purged": n}, nil)
}
