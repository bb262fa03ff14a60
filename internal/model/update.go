package model

import (
	"encoding/json"
	"time"
)

// UpdateKind is the wire discriminator carried in the "type" field of an update item.
type UpdateKind string

const (
	KindVitals    UpdateKind = "VITALS_UPDATE"
	KindAdmission UpdateKind = "NEW_PATIENT"
	KindDischarge UpdateKind = "DISCHARGE"
	KindRaw       UpdateKind = "RAW"
)

// Update is one buffered domain event. The set of implementations is closed:
// VitalsUpdate, Admission, Discharge and RawUpdate.
type Update interface {
	Kind() UpdateKind
	isUpdate()
}

// VitalsUpdate, Admission and Discharge built from a client frame keep that frame's bytes in
// Raw and serialize as exactly those bytes. Updates created server-side leave Raw empty and
// serialize from their fields.
type VitalsUpdate struct {
	PatientID string          `json:"patientId"`
	Room      string          `json:"room,omitempty"`
	Vitals    VitalsDelta     `json:"vitals"`
	Timestamp time.Time       `json:"timestamp"`
	Raw       json.RawMessage `json:"-"`
}

func (VitalsUpdate) Kind() UpdateKind { return KindVitals }
func (VitalsUpdate) isUpdate()        {}

func (u VitalsUpdate) MarshalJSON() ([]byte, error) {
	if len(u.Raw) > 0 {
		return u.Raw, nil
	}
	type plain VitalsUpdate
	return json.Marshal(struct {
		Type UpdateKind `json:"type"`
		plain
	}{KindVitals, plain(u)})
}

// Admission carries a full patient record and serializes as that record.
type Admission struct {
	Patient Patient
	Raw     json.RawMessage `json:"-"`
}

func (Admission) Kind() UpdateKind { return KindAdmission }
func (Admission) isUpdate()        {}

func (a Admission) MarshalJSON() ([]byte, error) {
	if len(a.Raw) > 0 {
		return a.Raw, nil
	}
	return json.Marshal(a.Patient)
}

type Discharge struct {
	PatientID    string          `json:"patientId"`
	Room         string          `json:"room,omitempty"`
	DischargedAt time.Time       `json:"dischargedAt"`
	Raw          json.RawMessage `json:"-"`
}

func (Discharge) Kind() UpdateKind { return KindDischarge }
func (Discharge) isUpdate()        {}

func (d Discharge) MarshalJSON() ([]byte, error) {
	if len(d.Raw) > 0 {
		return d.Raw, nil
	}
	type plain Discharge
	return json.Marshal(struct {
		Type UpdateKind `json:"type"`
		plain
	}{KindDischarge, plain(d)})
}

// RawUpdate is the generic/unrecognized variant; its payload is forwarded verbatim.
type RawUpdate struct {
	Raw json.RawMessage
}

func (RawUpdate) Kind() UpdateKind { return KindRaw }
func (RawUpdate) isUpdate()        {}

func (r RawUpdate) MarshalJSON() ([]byte, error) {
	if len(r.Raw) == 0 {
		return []byte("null"), nil
	}
	return r.Raw, nil
}

// DecodeUpdate turns an inbound data payload into a typed Update. The kind comes from the
// payload's "type" field, falling back to the topic family. Payloads that do not decode into
// a valid typed variant become a RawUpdate. Every variant keeps a copy of data and
// re-serializes as it.
func DecodeUpdate(topic string, data json.RawMessage) Update {
	raw := append(json.RawMessage(nil), data...)
	var head struct {
		Type UpdateKind `json:"type"`
	}
	_ = json.Unmarshal(data, &head)
	kind := head.Type
	if kind == "" {
		switch FamilyOf(topic) {
		case FamilyVitals:
			kind = KindVitals
		case FamilyAdmissions:
			kind = KindAdmission
		case FamilyDischarges:
			kind = KindDischarge
		}
	}

	switch kind {
	case KindVitals:
		var u VitalsUpdate
		if err := json.Unmarshal(data, &u); err == nil && u.PatientID != "" {
			u.Raw = raw
			return u
		}
	case KindAdmission:
		if p, ok := decodePatient(data); ok {
			return Admission{Patient: p, Raw: raw}
		}
	case KindDischarge:
		var d Discharge
		if err := json.Unmarshal(data, &d); err == nil && d.PatientID != "" {
			d.Raw = raw
			return d
		}
	}
	return RawUpdate{Raw: raw}
}

// decodePatient accepts either {"patient": {...}} or a bare patient record.
func decodePatient(data json.RawMessage) (Patient, bool) {
	var wrapped struct {
		Patient *Patient `json:"patient"`
	}
	if err := json.Unmarshal(data, &wrapped); err == nil && wrapped.Patient != nil && wrapped.Patient.ID != "" {
		return *wrapped.Patient, true
	}
	var p Patient
	if err := json.Unmarshal(data, &p); err == nil && p.ID != "" {
		return p, true
	}
	return Patient{}, false
}
