package model

import (
	"encoding/json"
	"time"
)

type Gender string

const (
	GenderFemale  Gender = "female"
	GenderMale    Gender = "male"
	GenderOther   Gender = "other"
	GenderUnknown Gender = "unknown"
)

type BloodPressure struct {
	Systolic  int `json:"systolic"`
	Diastolic int `json:"diastolic"`
}

type Vitals struct {
	HeartRate        int           `json:"heartRate"`
	BloodPressure    BloodPressure `json:"bloodPressure"`
	OxygenSaturation int           `json:"oxygenSaturation"`
	Temperature      float64       `json:"temperature"`
	RespiratoryRate  int           `json:"respiratoryRate"`
}

// VitalsDelta is a partial vitals reading; nil fields are left untouched by Apply.
type VitalsDelta struct {
	HeartRate        *int                `json:"heartRate,omitempty"`
	BloodPressure    *BloodPressureDelta `json:"bloodPressure,omitempty"`
	OxygenSaturation *int                `json:"oxygenSaturation,omitempty"`
	Temperature      *float64            `json:"temperature,omitempty"`
	RespiratoryRate  *int                `json:"respiratoryRate,omitempty"`
}

type BloodPressureDelta struct {
	Systolic  *int `json:"systolic,omitempty"`
	Diastolic *int `json:"diastolic,omitempty"`
}

func (d VitalsDelta) IsEmpty() bool {
	bpEmpty := d.BloodPressure == nil || (d.BloodPressure.Systolic == nil && d.BloodPressure.Diastolic == nil)
	return d.HeartRate == nil && bpEmpty && d.OxygenSaturation == nil &&
		d.Temperature == nil && d.RespiratoryRate == nil
}

// Apply merges the present fields of d into v and returns the result.
func (d VitalsDelta) Apply(v Vitals) Vitals {
	if d.HeartRate != nil {
		v.HeartRate = *d.HeartRate
	}
	if d.BloodPressure != nil {
		if d.BloodPressure.Systolic != nil {
			v.BloodPressure.Systolic = *d.BloodPressure.Systolic
		}
		if d.BloodPressure.Diastolic != nil {
			v.BloodPressure.Diastolic = *d.BloodPressure.Diastolic
		}
	}
	if d.OxygenSaturation != nil {
		v.OxygenSaturation = *d.OxygenSaturation
	}
	if d.Temperature != nil {
		v.Temperature = *d.Temperature
	}
	if d.RespiratoryRate != nil {
		v.RespiratoryRate = *d.RespiratoryRate
	}
	return v
}

type Patient struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Age         int       `json:"age"`
	Gender      Gender    `json:"gender"`
	Room        string    `json:"room"`
	Vitals      Vitals    `json:"vitals"`
	AdmittedAt  time.Time `json:"admittedAt"`
	LastUpdated time.Time `json:"lastUpdated"`
}

type Preference struct {
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// IntPtr and FloatPtr build delta fields inline.
func IntPtr(v int) *int { return &v }

func FloatPtr(v float64) *float64 { return &v }
