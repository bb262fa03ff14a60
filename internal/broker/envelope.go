package broker

import "vitalwatch/internal/model"

const (
	BatchUpdateVitals = "BATCH_UPDATE_VITALS"
	BatchNewPatients  = "BATCH_NEW_PATIENTS"
	BatchDischarges   = "BATCH_DISCHARGES"
)

// Envelope is the outbound frame for one flushed batch of one topic.
type Envelope struct {
	Topic string `json:"topic"`
	Data  any    `json:"data"`
}

type VitalsBatch struct {
	Type    string         `json:"type"`
	Updates []model.Update `json:"updates"`
}

type AdmissionsBatch struct {
	Type     string         `json:"type"`
	Patients []model.Update `json:"patients"`
}

type DischargesBatch struct {
	Type       string         `json:"type"`
	Discharges []model.Update `json:"discharges"`
}

// Shape wraps a batch in the wire shape for its topic family. Topics without a dedicated
// shape, room topics included, carry the bare update array.
func Shape(topic string, updates []model.Update) Envelope {
	if updates == nil {
		updates = []model.Update{}
	}
	switch model.FamilyOf(topic) {
	case model.FamilyVitals:
		return Envelope{Topic: topic, Data: VitalsBatch{Type: BatchUpdateVitals, Updates: updates}}
	case model.FamilyAdmissions:
		return Envelope{Topic: topic, Data: AdmissionsBatch{Type: BatchNewPatients, Patients: updates}}
	case model.FamilyDischarges:
		return Envelope{Topic: topic, Data: DischargesBatch{Type: BatchDischarges, Discharges: updates}}
	}
	return Envelope{Topic: topic, Data: updates}
}
