package sdk

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"vitalwatch/internal/model"
)

// PatientState is a local copy of the ward, kept current by applying update envelopes.
// Patients touched by an envelope stay highlighted for the highlight duration.
type PatientState struct {
	mu       sync.RWMutex
	patients map[string]Patient

	highlights *ttlcache.Cache[string, struct{}]
}

type StateOptions struct {
	HighlightDuration time.Duration
	// OnHighlightCleared fires when a patient's highlight expires.
	OnHighlightCleared func(patientID string)
}

func NewPatientState(opts StateOptions) *PatientState {
	if opts.HighlightDuration <= 0 {
		opts.HighlightDuration = 2 * time.Second
	}
	highlights := ttlcache.New[string, struct{}](
		ttlcache.WithTTL[string, struct{}](opts.HighlightDuration),
		ttlcache.WithDisableTouchOnHit[string, struct{}](),
	)
	if opts.OnHighlightCleared != nil {
		highlights.OnEviction(func(_ context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[string, struct{}]) {
			if reason == ttlcache.EvictionReasonExpired {
				opts.OnHighlightCleared(item.Key())
			}
		})
	}
	go highlights.Start()

	return &PatientState{
		patients:   make(map[string]Patient),
		highlights: highlights,
	}
}

// Close stops the highlight expiry loop.
func (s *PatientState) Close() {
	s.highlights.Stop()
}

// Load replaces the state with a full patient list, typically from PatientsService.List.
func (s *PatientState) Load(patients []Patient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.patients = make(map[string]Patient, len(patients))
	for _, p := range patients {
		s.patients[p.ID] = p
	}
}

func (s *PatientState) Patient(id string) (Patient, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.patients[id]
	return p, ok
}

// Patients returns the current patients ordered by name.
func (s *PatientState) Patients() []Patient {
	s.mu.RLock()
	out := make([]Patient, 0, len(s.patients))
	for _, p := range s.patients {
		out = append(out, p)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		a, b := strings.ToLower(out[i].Name), strings.ToLower(out[j].Name)
		if a != b {
			return a < b
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *PatientState) IsHighlighted(id string) bool {
	return s.highlights.Get(id) != nil
}

// Apply folds one envelope into the state and returns how many updates it carried.
// Updates for patients not in the state are ignored, except admissions.
func (s *PatientState) Apply(env Envelope) (int, error) {
	items, err := envelopeItems(env)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	touched := make([]string, 0, len(items))
	for _, raw := range items {
		switch u := decodeItem(env.Topic, raw).(type) {
		case model.VitalsUpdate:
			p, ok := s.patients[u.PatientID]
			if !ok {
				continue
			}
			p.Vitals = u.Vitals.Apply(p.Vitals)
			if !u.Timestamp.IsZero() {
				p.LastUpdated = u.Timestamp
			}
			s.patients[p.ID] = p
			touched = append(touched, p.ID)
		case model.Admission:
			s.patients[u.Patient.ID] = u.Patient
			touched = append(touched, u.Patient.ID)
		case model.Discharge:
			delete(s.patients, u.PatientID)
			s.highlights.Delete(u.PatientID)
		}
	}
	s.mu.Unlock()

	for _, id := range touched {
		s.highlights.Set(id, struct{}{}, ttlcache.DefaultTTL)
	}
	return len(items), nil
}

// envelopeItems unwraps the topic-specific batch shape into its list of update items.
func envelopeItems(env Envelope) ([]json.RawMessage, error) {
	var items []json.RawMessage
	switch model.FamilyOf(env.Topic) {
	case model.FamilyVitals:
		var batch struct {
			Updates []json.RawMessage `json:"updates"`
		}
		if err := json.Unmarshal(env.Data, &batch); err != nil {
			return nil, fmt.Errorf("decode %s batch: %w", env.Topic, err)
		}
		items = batch.Updates
	case model.FamilyAdmissions:
		var batch struct {
			Patients []json.RawMessage `json:"patients"`
		}
		if err := json.Unmarshal(env.Data, &batch); err != nil {
			return nil, fmt.Errorf("decode %s batch: %w", env.Topic, err)
		}
		items = batch.Patients
	case model.FamilyDischarges:
		var batch struct {
			Discharges []json.RawMessage `json:"discharges"`
		}
		if err := json.Unmarshal(env.Data, &batch); err != nil {
			return nil, fmt.Errorf("decode %s batch: %w", env.Topic, err)
		}
		items = batch.Discharges
	default:
		if err := json.Unmarshal(env.Data, &items); err != nil {
			return nil, fmt.Errorf("decode %s batch: %w", env.Topic, err)
		}
	}
	return items, nil
}

// decodeItem types one item. Room and other topics mix kinds; untyped records there are
// admissions.
func decodeItem(topic string, raw json.RawMessage) model.Update {
	u := model.DecodeUpdate(topic, raw)
	if _, ok := u.(model.RawUpdate); ok {
		return model.DecodeUpdate(model.TopicAdmissions, raw)
	}
	return u
}
