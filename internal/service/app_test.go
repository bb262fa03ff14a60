package service

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"vitalwatch/internal/config"
	"vitalwatch/internal/logging"
	"vitalwatch/internal/model"
	"vitalwatch/internal/storage"
	"vitalwatch/internal/storage/repos"
)

type published struct {
	topic  string
	update model.Update
}

type recordingPublisher struct {
	mu  sync.Mutex
	got []published
}

func (r *recordingPublisher) Publish(topic string, u model.Update) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, published{topic: topic, update: u})
	return nil
}

func (r *recordingPublisher) topics() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.got))
	for _, p := range r.got {
		out = append(out, p.topic)
	}
	return out
}

func setupServiceTestApp(t *testing.T) (*App, *recordingPublisher) {
	t.Helper()

	cfg := config.Default()
	cfg.Database.Path = filepath.Join(t.TempDir(), "service-test.db")

	db, err := storage.Open(context.Background(), cfg)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if _, err := storage.Migrate(context.Background(), db); err != nil {
		t.Fatalf("migrate db: %v", err)
	}

	pub := &recordingPublisher{}
	return New(cfg, repos.New(db), pub, logging.Discard()), pub
}

func admitTestPatient(t *testing.T, app *App, name, room string, v model.Vitals) model.Patient {
	t.Helper()
	p, err := app.AdmitPatient(context.Background(), AdmitInput{Name: name, Age: 50, Room: room, Vitals: v})
	if err != nil {
		t.Fatalf("admit %s: %v", name, err)
	}
	return p
}

func healthy() model.Vitals {
	return model.Vitals{
		HeartRate:        75,
		BloodPressure:    model.BloodPressure{Systolic: 118, Diastolic: 76},
		OxygenSaturation: 98,
		Temperature:      36.7,
		RespiratoryRate:  15,
	}
}

func TestAdmitPublishesToAdmissionsAndRoom(t *testing.T) {
	app, pub := setupServiceTestApp(t)
	p := admitTestPatient(t, app, "Ada", "204", healthy())

	got := pub.topics()
	if len(got) != 2 || got[0] != "admissions" || got[1] != "room-204" {
		t.Fatalf("unexpected publish topics: %v", got)
	}
	adm, ok := pub.got[0].update.(model.Admission)
	if !ok || adm.Patient.ID != p.ID {
		t.Fatalf("expected admission for %s, got %#v", p.ID, pub.got[0].update)
	}
}

func TestAdmitValidation(t *testing.T) {
	app, pub := setupServiceTestApp(t)
	ctx := context.Background()

	cases := []AdmitInput{
		{Name: "", Room: "101"},
		{Name: "x", Room: " "},
		{Name: "x", Room: "101", Age: -1},
		{Name: "x", Room: "101", Gender: "robot"},
		{Name: "x", Room: "101", Vitals: model.Vitals{OxygenSaturation: 101}},
	}
	for _, in := range cases {
		if _, err := app.AdmitPatient(ctx, in); !errors.Is(err, ErrValidation) {
			t.Fatalf("%+v: expected ErrValidation, got %v", in, err)
		}
	}
	if len(pub.topics()) != 0 {
		t.Fatal("rejected admissions must not publish")
	}
}

func TestUpdateVitalsPersistsThenPublishesDelta(t *testing.T) {
	app, pub := setupServiceTestApp(t)
	ctx := context.Background()
	p := admitTestPatient(t, app, "Grace", "101", healthy())
	pub.got = nil

	delta := model.VitalsDelta{HeartRate: model.IntPtr(128)}
	updated, err := app.UpdateVitals(ctx, p.ID, delta)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Vitals.HeartRate != 128 || updated.Vitals.OxygenSaturation != 98 {
		t.Fatalf("unexpected vitals: %+v", updated.Vitals)
	}

	got := pub.topics()
	if len(got) != 2 || got[0] != "vitals" || got[1] != "room-101" {
		t.Fatalf("unexpected publish topics: %v", got)
	}
	vu := pub.got[0].update.(model.VitalsUpdate)
	if vu.PatientID != p.ID || vu.Vitals.HeartRate == nil || *vu.Vitals.HeartRate != 128 || vu.Vitals.OxygenSaturation != nil {
		t.Fatalf("published update should carry only the delta: %+v", vu)
	}

	if _, err := app.UpdateVitals(ctx, p.ID, model.VitalsDelta{}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for empty delta, got %v", err)
	}
	if _, err := app.UpdateVitals(ctx, "nope", delta); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDischargePublishesAndHides(t *testing.T) {
	app, pub := setupServiceTestApp(t)
	ctx := context.Background()
	p := admitTestPatient(t, app, "Linus", "103", healthy())
	pub.got = nil

	d, err := app.DischargePatient(ctx, p.ID)
	if err != nil {
		t.Fatalf("discharge: %v", err)
	}
	if d.PatientID != p.ID || d.Room != "103" || d.DischargedAt.IsZero() {
		t.Fatalf("unexpected discharge: %+v", d)
	}
	if got := pub.topics(); len(got) != 2 || got[0] != "discharges" {
		t.Fatalf("unexpected publish topics: %v", got)
	}
	if _, err := app.GetPatient(ctx, p.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after discharge, got %v", err)
	}
}

func TestListPatientsBySeverity(t *testing.T) {
	app, _ := setupServiceTestApp(t)
	ctx := context.Background()

	sick := healthy()
	sick.OxygenSaturation = 86
	sick.HeartRate = 135
	warn := healthy()
	warn.BloodPressure.Systolic = 165

	admitTestPatient(t, app, "Alice", "101", healthy())
	admitTestPatient(t, app, "Bob", "101", warn)
	admitTestPatient(t, app, "Carol", "102", sick)

	page, err := app.ListPatients(ctx, ListPatientsInput{Sort: SortSeverity, PerPage: 2})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if page.Total != 3 || len(page.Patients) != 2 {
		t.Fatalf("unexpected page: total=%d len=%d", page.Total, len(page.Patients))
	}
	if page.Patients[0].Name != "Carol" || page.Patients[1].Name != "Bob" {
		t.Fatalf("unexpected severity order: %s, %s", page.Patients[0].Name, page.Patients[1].Name)
	}

	last, err := app.ListPatients(ctx, ListPatientsInput{Sort: SortSeverity, PerPage: 2, Page: 3})
	if err != nil || len(last.Patients) != 0 {
		t.Fatalf("out of range page should be empty: %v %v", last.Patients, err)
	}

	room, err := app.ListPatients(ctx, ListPatientsInput{Room: "101"})
	if err != nil || room.Total != 2 {
		t.Fatalf("room filter: total=%d err=%v", room.Total, err)
	}

	if _, err := app.ListPatients(ctx, ListPatientsInput{Sort: "age"}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for unknown sort, got %v", err)
	}
}

func TestPatientSeverity(t *testing.T) {
	app, _ := setupServiceTestApp(t)
	v := healthy()
	v.OxygenSaturation = 90
	p := admitTestPatient(t, app, "Dora", "201", v)

	sev, err := app.PatientSeverity(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("severity: %v", err)
	}
	if !sev.Analysis.IsO2Low || sev.Analysis.SeverityScore != 2 {
		t.Fatalf("unexpected analysis: %+v", sev.Analysis)
	}
}

func TestPreferencesValidation(t *testing.T) {
	app, _ := setupServiceTestApp(t)
	ctx := context.Background()

	if _, err := app.PutPreference(ctx, "", json.RawMessage(`{}`)); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for empty key, got %v", err)
	}
	if _, err := app.PutPreference(ctx, "filter", json.RawMessage(`{bad`)); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for invalid json, got %v", err)
	}
	if _, err := app.PutPreference(ctx, "filter", json.RawMessage(`{"room":"101"}`)); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := app.GetPreference(ctx, "filter")
	if err != nil || string(got.Value) != `{"room":"101"}` {
		t.Fatalf("get: %s %v", got.Value, err)
	}
	if _, err := app.GetPreference(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
