package sdk

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

type PatientsService struct{ client *Client }

type ListOptions struct {
	Room    string
	Sort    string
	Page    int
	PerPage int
}

type PatientPage struct {
	Patients   []Patient  `json:"patients"`
	Pagination Pagination `json:"pagination"`
}

func (s *PatientsService) List(ctx context.Context, opts ListOptions) (PatientPage, error) {
	q := url.Values{}
	if opts.Room != "" {
		q.Set("room", opts.Room)
	}
	if opts.Sort != "" {
		q.Set("sort", opts.Sort)
	}
	if opts.Page > 0 {
		q.Set("page", strconv.Itoa(opts.Page))
	}
	if opts.PerPage > 0 {
		q.Set("per_page", strconv.Itoa(opts.PerPage))
	}
	path := "/api/v1/patients"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out struct {
		Patients []Patient `json:"patients"`
	}
	pg, err := s.client.do(ctx, http.MethodGet, path, nil, &out)
	if err != nil {
		return PatientPage{}, err
	}
	page := PatientPage{Patients: out.Patients}
	if pg != nil {
		page.Pagination = *pg
	}
	return page, nil
}

func (s *PatientsService) Get(ctx context.Context, id string) (Patient, error) {
	var out struct {
		Patient Patient `json:"patient"`
	}
	_, err := s.client.do(ctx, http.MethodGet, "/api/v1/patients/"+url.PathEscape(id), nil, &out)
	return out.Patient, err
}

type Analysis struct {
	IsBPHigh      bool   `json:"isBPHigh"`
	IsBPLow       bool   `json:"isBPLow"`
	IsHRHigh      bool   `json:"isHRHigh"`
	IsHRLow       bool   `json:"isHRLow"`
	IsO2Low       bool   `json:"isO2Low"`
	SeverityScore int    `json:"severityScore"`
	Level         string `json:"level"`
}

func (s *PatientsService) Severity(ctx context.Context, id string) (Patient, Analysis, error) {
	var out struct {
		Patient  Patient  `json:"patient"`
		Analysis Analysis `json:"analysis"`
	}
	_, err := s.client.do(ctx, http.MethodGet, "/api/v1/patients/"+url.PathEscape(id)+"/severity", nil, &out)
	return out.Patient, out.Analysis, err
}

func (s *PatientsService) UpdateVitals(ctx context.Context, id string, delta VitalsDelta) (Patient, error) {
	var out struct {
		Patient Patient `json:"patient"`
	}
	_, err := s.client.do(ctx, http.MethodPatch, "/api/v1/patients/"+url.PathEscape(id)+"/vitals", delta, &out)
	return out.Patient, err
}

type AdmitRequest struct {
	ID     string `json:"id,omitempty"`
	Name   string `json:"name"`
	Age    int    `json:"age"`
	Gender Gender `json:"gender,omitempty"`
	Room   string `json:"room"`
	Vitals Vitals `json:"vitals"`
}

func (s *PatientsService) Admit(ctx context.Context, req AdmitRequest) (Patient, error) {
	var out struct {
		Patient Patient `json:"patient"`
	}
	_, err := s.client.do(ctx, http.MethodPost, "/api/v1/patients", req, &out)
	return out.Patient, err
}

type Discharge struct {
	PatientID    string    `json:"patientId"`
	Room         string    `json:"room"`
	DischargedAt time.Time `json:"dischargedAt"`
}

func (s *PatientsService) Discharge(ctx context.Context, id string) (Discharge, error) {
	var out struct {
		Discharge Discharge `json:"discharge"`
	}
	_, err := s.client.do(ctx, http.MethodDelete, "/api/v1/patients/"+url.PathEscape(id), nil, &out)
	return out.Discharge, err
}

type PreferencesService struct{ client *Client }

func (s *PreferencesService) List(ctx context.Context) ([]Preference, error) {
	var out struct {
		Preferences []Preference `json:"preferences"`
	}
	_, err := s.client.do(ctx, http.MethodGet, "/api/v1/preferences", nil, &out)
	return out.Preferences, err
}

// Get decodes the stored value into dst.
func (s *PreferencesService) Get(ctx context.Context, key string, dst any) error {
	var out struct {
		Preference Preference `json:"preference"`
	}
	if _, err := s.client.do(ctx, http.MethodGet, "/api/v1/preferences/"+url.PathEscape(key), nil, &out); err != nil {
		return err
	}
	return json.Unmarshal(out.Preference.Value, dst)
}

func (s *PreferencesService) Put(ctx context.Context, key string, value any) error {
	_, err := s.client.do(ctx, http.MethodPut, "/api/v1/preferences/"+url.PathEscape(key), value, nil)
	return err
}

func (s *PreferencesService) Delete(ctx context.Context, key string) error {
	_, err := s.client.do(ctx, http.MethodDelete, "/api/v1/preferences/"+url.PathEscape(key), nil, nil)
	return err
}
