package repos

import (
	"context"
	"strings"
	"time"

	"vitalwatch/internal/model"
)

const patientColumns = `id, name, age, gender, room, heart_rate, systolic, diastolic,
oxygen_saturation, temperature, respiratory_rate, admitted_at, last_updated`

type CreatePatientInput struct {
	ID     string
	Name   string
	Age    int
	Gender model.Gender
	Room   string
	Vitals model.Vitals
}

// PatientFilter narrows and orders ListPatients. Sort accepts "name", "room" or
// "admitted" (newest first); anything else falls back to name.
type PatientFilter struct {
	Room    string
	Sort    string
	Page    int
	PerPage int
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPatient(row rowScanner) (model.Patient, error) {
	var (
		p                       model.Patient
		gender                  string
		admittedAt, lastUpdated string
	)
	err := row.Scan(
		&p.ID, &p.Name, &p.Age, &gender, &p.Room,
		&p.Vitals.HeartRate, &p.Vitals.BloodPressure.Systolic, &p.Vitals.BloodPressure.Diastolic,
		&p.Vitals.OxygenSaturation, &p.Vitals.Temperature, &p.Vitals.RespiratoryRate,
		&admittedAt, &lastUpdated,
	)
	if err != nil {
		return model.Patient{}, err
	}
	p.Gender = model.Gender(gender)
	p.AdmittedAt = parseTS(admittedAt)
	p.LastUpdated = parseTS(lastUpdated)
	return p, nil
}

func (s *Store) CreatePatient(ctx context.Context, in CreatePatientInput) (model.Patient, error) {
	if in.ID == "" {
		in.ID = newID()
	}
	if in.Gender == "" {
		in.Gender = model.GenderUnknown
	}
	now := nowUTC().Format(timeFormat)
	v := in.Vitals
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO patients(`+patientColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		in.ID, in.Name, in.Age, string(in.Gender), in.Room,
		v.HeartRate, v.BloodPressure.Systolic, v.BloodPressure.Diastolic,
		v.OxygenSaturation, v.Temperature, v.RespiratoryRate,
		now, now,
	)
	if err != nil {
		return model.Patient{}, err
	}
	return s.GetPatient(ctx, in.ID)
}

// GetPatient returns an admitted patient; discharged patients are ErrNotFound.
func (s *Store) GetPatient(ctx context.Context, id string) (model.Patient, error) {
	row := s.DB.QueryRowContext(ctx, `
SELECT `+patientColumns+`
FROM patients WHERE id = ? AND discharged_at IS NULL`, id)
	p, err := scanPatient(row)
	return p, notFound(err)
}

func (s *Store) ListPatients(ctx context.Context, f PatientFilter) ([]model.Patient, int, error) {
	if f.Page <= 0 {
		f.Page = 1
	}
	if f.PerPage <= 0 {
		f.PerPage = 50
	}
	where := "WHERE discharged_at IS NULL"
	args := []any{}
	if room := strings.TrimSpace(f.Room); room != "" {
		where += " AND room = ?"
		args = append(args, room)
	}
	var total int
	if err := s.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM patients "+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `
SELECT ` + patientColumns + `
FROM patients ` + where + ` ORDER BY ` + patientOrder(f.Sort) + ` LIMIT ? OFFSET ?`
	args = append(args, f.PerPage, (f.Page-1)*f.PerPage)
	out, err := s.queryPatients(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// ListAllPatients returns every admitted patient, optionally limited to one room.
func (s *Store) ListAllPatients(ctx context.Context, room string) ([]model.Patient, error) {
	query := "SELECT " + patientColumns + " FROM patients WHERE discharged_at IS NULL"
	args := []any{}
	if room = strings.TrimSpace(room); room != "" {
		query += " AND room = ?"
		args = append(args, room)
	}
	return s.queryPatients(ctx, query+" ORDER BY name COLLATE NOCASE, id", args...)
}

func (s *Store) queryPatients(ctx context.Context, query string, args ...any) ([]model.Patient, error) {
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Patient{}
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func patientOrder(sort string) string {
	switch sort {
	case "room":
		return "room, name COLLATE NOCASE, id"
	case "admitted":
		return "admitted_at DESC, id"
	default:
		return "name COLLATE NOCASE, id"
	}
}

// UpdatePatientVitals merges delta into the stored vitals inside one transaction and returns
// the updated patient.
func (s *Store) UpdatePatientVitals(ctx context.Context, id string, delta model.VitalsDelta) (model.Patient, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return model.Patient{}, err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
SELECT `+patientColumns+`
FROM patients WHERE id = ? AND discharged_at IS NULL`, id)
	p, err := scanPatient(row)
	if err != nil {
		return model.Patient{}, notFound(err)
	}

	v := delta.Apply(p.Vitals)
	now := nowUTC()
	if _, err := tx.ExecContext(ctx, `
UPDATE patients SET heart_rate = ?, systolic = ?, diastolic = ?, oxygen_saturation = ?,
  temperature = ?, respiratory_rate = ?, last_updated = ?
WHERE id = ?`,
		v.HeartRate, v.BloodPressure.Systolic, v.BloodPressure.Diastolic, v.OxygenSaturation,
		v.Temperature, v.RespiratoryRate, now.Format(timeFormat), id,
	); err != nil {
		return model.Patient{}, err
	}
	if err := tx.Commit(); err != nil {
		return model.Patient{}, err
	}
	p.Vitals = v
	p.LastUpdated = now
	return p, nil
}

// DischargePatient marks the patient discharged and returns the record as it was at discharge.
func (s *Store) DischargePatient(ctx context.Context, id string) (model.Patient, time.Time, error) {
	p, err := s.GetPatient(ctx, id)
	if err != nil {
		return model.Patient{}, time.Time{}, err
	}
	now := nowUTC()
	res, err := s.DB.ExecContext(ctx,
		"UPDATE patients SET discharged_at = ? WHERE id = ? AND discharged_at IS NULL",
		now.Format(timeFormat), id,
	)
	if err != nil {
		return model.Patient{}, time.Time{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.Patient{}, time.Time{}, ErrNotFound
	}
	return p, now, nil
}

func (s *Store) CountActivePatients(ctx context.Context) (int, error) {
	var c int
	err := s.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM patients WHERE discharged_at IS NULL").Scan(&c)
	return c, err
}

// PurgeDischarged deletes patients discharged before cutoff and reports how many rows went.
func (s *Store) PurgeDischarged(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.DB.ExecContext(ctx,
		"DELETE FROM patients WHERE discharged_at IS NOT NULL AND discharged_at < ?",
		cutoff.UTC().Format(timeFormat),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
