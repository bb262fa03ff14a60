package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"vitalwatch/internal/model"
	"vitalwatch/internal/service"
)

func (s *Server) ListPatients(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := s.App.ListPatients(r.Context(), service.ListPatientsInput{
		Room:    q.Get("room"),
		Sort:    q.Get("sort"),
		Page:    parseInt(q.Get("page"), 1),
		PerPage: parseInt(q.Get("per_page"), 0),
	})
	if err != nil {
		writeServiceErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"patients": page.Patients}, &pagination{
		Page: page.Page, PerPage: page.PerPage, Total: page.Total,
	})
}

func (s *Server) GetPatient(w http.ResponseWriter, r *http.Request) {
	p, err := s.App.GetPatient(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"patient": p}, nil)
}

func (s *Server) PatientSeverity(w http.ResponseWriter, r *http.Request) {
	sev, err := s.App.PatientSeverity(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sev, nil)
}

func (s *Server) UpdateVitals(w http.ResponseWriter, r *http.Request) {
	var delta model.VitalsDelta
	if err := decodeJSON(w, r, &delta); err != nil {
		writeErr(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid request body")
		return
	}
	p, err := s.App.UpdateVitals(r.Context(), chi.URLParam(r, "id"), delta)
	if err != nil {
		writeServiceErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"patient": p}, nil)
}

func (s *Server) AdmitPatient(w http.ResponseWriter, r *http.Request) {
	var req service.AdmitInput
	if err := decodeJSON(w, r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid request body")
		return
	}
	p, err := s.App.AdmitPatient(r.Context(), req)
	if err != nil {
		writeServiceErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"patient": p}, nil)
}

func (s *Server) DischargePatient(w http.ResponseWriter, r *http.Request) {
	d, err := s.App.DischargePatient(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"discharge": d}, nil)
}
