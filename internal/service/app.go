package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"vitalwatch/internal/config"
	"vitalwatch/internal/model"
	"vitalwatch/internal/storage/repos"
	"vitalwatch/internal/vitals"
)

var (
	ErrNotFound   = errors.New("not_found")
	ErrConflict   = errors.New("conflict")
	ErrValidation = errors.New("validation")
)

// Publisher is the broker's ingestion edge as seen by the service layer.
type Publisher interface {
	Publish(topic string, update model.Update) error
}

type App struct {
	Config   config.Config
	Store    *repos.Store
	Broker   Publisher
	Analyzer vitals.Analyzer
	Log      *logrus.Logger
}

func New(cfg config.Config, store *repos.Store, pub Publisher, log *logrus.Logger) *App {
	return &App{
		Config:   cfg,
		Store:    store,
		Broker:   pub,
		Analyzer: vitals.NewAnalyzer(cfg.Thresholds),
		Log:      log,
	}
}

func mapStoreErr(err error) error {
	if errors.Is(err, repos.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil && strings.Contains(strings.ToLower(err.Error()), "unique") {
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	return err
}

// publish fans an update out to the family topic and the patient's room topic. Persistence
// has already succeeded at this point, so broker errors are logged rather than returned.
func (a *App) publish(family string, room string, u model.Update) {
	topics := []string{family}
	if room != "" {
		topics = append(topics, model.RoomTopic(room))
	}
	for _, topic := range topics {
		if err := a.Broker.Publish(topic, u); err != nil {
			a.Log.WithError(err).WithField("topic", topic).Warn("publish update")
		}
	}
}

type ListPatientsInput struct {
	Room    string
	Sort    string
	Page    int
	PerPage int
}

type PatientPage struct {
	Patients []model.Patient
	Total    int
	Page     int
	PerPage  int
}

const SortSeverity = "severity"

var validSorts = map[string]bool{"": true, "name": true, "room": true, "admitted": true, SortSeverity: true}

func (a *App) ListPatients(ctx context.Context, in ListPatientsInput) (PatientPage, error) {
	if !validSorts[in.Sort] {
		return PatientPage{}, fmt.Errorf("%w: unknown sort %q", ErrValidation, in.Sort)
	}
	if in.Page <= 0 {
		in.Page = 1
	}
	if in.PerPage <= 0 {
		in.PerPage = a.Config.UI.PageSize
	}
	if in.PerPage <= 0 || in.PerPage > 500 {
		in.PerPage = 50
	}

	if in.Sort != SortSeverity {
		patients, total, err := a.Store.ListPatients(ctx, repos.PatientFilter{
			Room: in.Room, Sort: in.Sort, Page: in.Page, PerPage: in.PerPage,
		})
		if err != nil {
			return PatientPage{}, err
		}
		return PatientPage{Patients: patients, Total: total, Page: in.Page, PerPage: in.PerPage}, nil
	}

	// Severity depends on thresholds, so ordering happens here rather than in SQL.
	all, err := a.Store.ListAllPatients(ctx, in.Room)
	if err != nil {
		return PatientPage{}, err
	}
	a.Analyzer.SortBySeverity(all)
	start := (in.Page - 1) * in.PerPage
	if start > len(all) {
		start = len(all)
	}
	end := start + in.PerPage
	if end > len(all) {
		end = len(all)
	}
	return PatientPage{Patients: all[start:end], Total: len(all), Page: in.Page, PerPage: in.PerPage}, nil
}

func (a *App) GetPatient(ctx context.Context, id string) (model.Patient, error) {
	p, err := a.Store.GetPatient(ctx, id)
	if err != nil {
		return model.Patient{}, mapStoreErr(err)
	}
	return p, nil
}

type PatientSeverity struct {
	Patient  model.Patient   `json:"patient"`
	Analysis vitals.Analysis `json:"analysis"`
}

func (a *App) PatientSeverity(ctx context.Context, id string) (PatientSeverity, error) {
	p, err := a.GetPatient(ctx, id)
	if err != nil {
		return PatientSeverity{}, err
	}
	return PatientSeverity{Patient: p, Analysis: a.Analyzer.Analyze(p.Vitals)}, nil
}

// UpdateVitals merges a partial reading into the stored vitals and publishes the delta on
// the vitals topic and the patient's room topic.
func (a *App) UpdateVitals(ctx context.Context, id string, delta model.VitalsDelta) (model.Patient, error) {
	if delta.IsEmpty() {
		return model.Patient{}, fmt.Errorf("%w: vitals delta is empty", ErrValidation)
	}
	if err := validateDelta(delta); err != nil {
		return model.Patient{}, err
	}
	p, err := a.Store.UpdatePatientVitals(ctx, id, delta)
	if err != nil {
		return model.Patient{}, mapStoreErr(err)
	}
	a.publish(model.TopicVitals, p.Room, model.VitalsUpdate{
		PatientID: p.ID,
		Room:      p.Room,
		Vitals:    delta,
		Timestamp: p.LastUpdated,
	})
	return p, nil
}

type AdmitInput struct {
	ID     string       `json:"id,omitempty"`
	Name   string       `json:"name"`
	Age    int          `json:"age"`
	Gender model.Gender `json:"gender"`
	Room   string       `json:"room"`
	Vitals model.Vitals `json:"vitals"`
}

func (a *App) AdmitPatient(ctx context.Context, in AdmitInput) (model.Patient, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Room = strings.TrimSpace(in.Room)
	if in.Name == "" {
		return model.Patient{}, fmt.Errorf("%w: name is required", ErrValidation)
	}
	if in.Room == "" {
		return model.Patient{}, fmt.Errorf("%w: room is required", ErrValidation)
	}
	if in.Age < 0 || in.Age > 130 {
		return model.Patient{}, fmt.Errorf("%w: age out of range", ErrValidation)
	}
	switch in.Gender {
	case "", model.GenderFemale, model.GenderMale, model.GenderOther, model.GenderUnknown:
	default:
		return model.Patient{}, fmt.Errorf("%w: unknown gender %q", ErrValidation, in.Gender)
	}
	if err := validateVitals(in.Vitals); err != nil {
		return model.Patient{}, err
	}

	p, err := a.Store.CreatePatient(ctx, repos.CreatePatientInput{
		ID: in.ID, Name: in.Name, Age: in.Age, Gender: in.Gender, Room: in.Room, Vitals: in.Vitals,
	})
	if err != nil {
		return model.Patient{}, mapStoreErr(err)
	}
	a.publish(model.TopicAdmissions, p.Room, model.Admission{Patient: p})
	return p, nil
}

func (a *App) DischargePatient(ctx context.Context, id string) (model.Discharge, error) {
	p, at, err := a.Store.DischargePatient(ctx, id)
	if err != nil {
		return model.Discharge{}, mapStoreErr(err)
	}
	d := model.Discharge{PatientID: p.ID, Room: p.Room, DischargedAt: at}
	a.publish(model.TopicDischarges, p.Room, d)
	return d, nil
}

func validateVitals(v model.Vitals) error {
	bp := v.BloodPressure
	if v.HeartRate < 0 || bp.Systolic < 0 || bp.Diastolic < 0 || v.RespiratoryRate < 0 || v.Temperature < 0 {
		return fmt.Errorf("%w: vitals must not be negative", ErrValidation)
	}
	if v.OxygenSaturation < 0 || v.OxygenSaturation > 100 {
		return fmt.Errorf("%w: oxygenSaturation must be within 0..100", ErrValidation)
	}
	return nil
}

func validateDelta(d model.VitalsDelta) error {
	neg := func(p *int) bool { return p != nil && *p < 0 }
	if neg(d.HeartRate) || neg(d.RespiratoryRate) || (d.Temperature != nil && *d.Temperature < 0) {
		return fmt.Errorf("%w: vitals must not be negative", ErrValidation)
	}
	if d.BloodPressure != nil && (neg(d.BloodPressure.Systolic) || neg(d.BloodPressure.Diastolic)) {
		return fmt.Errorf("%w: vitals must not be negative", ErrValidation)
	}
	if d.OxygenSaturation != nil && (*d.OxygenSaturation < 0 || *d.OxygenSaturation > 100) {
		return fmt.Errorf("%w: oxygenSaturation must be within 0..100", ErrValidation)
	}
	return nil
}

func (a *App) GetPreference(ctx context.Context, key string) (model.Preference, error) {
	p, err := a.Store.GetPreference(ctx, key)
	if err != nil {
		return model.Preference{}, mapStoreErr(err)
	}
	return p, nil
}

func (a *App) PutPreference(ctx context.Context, key string, value json.RawMessage) (model.Preference, error) {
	key = strings.TrimSpace(key)
	if key == "" || len(key) > 128 {
		return model.Preference{}, fmt.Errorf("%w: key must be 1..128 characters", ErrValidation)
	}
	if len(value) == 0 || !json.Valid(value) {
		return model.Preference{}, fmt.Errorf("%w: value must be valid JSON", ErrValidation)
	}
	return a.Store.PutPreference(ctx, key, value)
}

func (a *App) ListPreferences(ctx context.Context) ([]model.Preference, error) {
	return a.Store.ListPreferences(ctx)
}

func (a *App) DeletePreference(ctx context.Context, key string) error {
	return mapStoreErr(a.Store.DeletePreference(ctx, key))
}
