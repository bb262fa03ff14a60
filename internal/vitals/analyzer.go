// Package vitals evaluates readings against configured clinical thresholds.
package vitals

import (
	"sort"
	"strings"

	"vitalwatch/internal/config"
	"vitalwatch/internal/model"
)

type Level string

const (
	LevelNormal   Level = "normal"
	LevelWarning  Level = "warning"
	LevelCritical Level = "critical"
)

type Analysis struct {
	IsBPHigh      bool  `json:"isBPHigh"`
	IsBPLow       bool  `json:"isBPLow"`
	IsHRHigh      bool  `json:"isHRHigh"`
	IsHRLow       bool  `json:"isHRLow"`
	IsO2Low       bool  `json:"isO2Low"`
	SeverityScore int   `json:"severityScore"`
	Level         Level `json:"level"`
}

// Analyzer is a pure function of its thresholds; it is safe for concurrent use.
type Analyzer struct {
	Thresholds config.Thresholds
}

func NewAnalyzer(t config.Thresholds) Analyzer {
	return Analyzer{Thresholds: t}
}

// Analyze flags out-of-range readings. Each abnormal flag adds one point except low oxygen
// saturation, which adds two. Bounds are exclusive: a reading equal to a threshold is normal.
func (a Analyzer) Analyze(v model.Vitals) Analysis {
	t := a.Thresholds
	bp := v.BloodPressure
	out := Analysis{
		IsBPHigh: bp.Systolic > t.SystolicHigh || bp.Diastolic > t.DiastolicHigh,
		IsBPLow:  bp.Systolic < t.SystolicLow || bp.Diastolic < t.DiastolicLow,
		IsHRHigh: v.HeartRate > t.HeartRateHigh,
		IsHRLow:  v.HeartRate < t.HeartRateLow,
		IsO2Low:  v.OxygenSaturation < t.OxygenLow,
	}
	for _, flag := range []bool{out.IsBPHigh, out.IsBPLow, out.IsHRHigh, out.IsHRLow} {
		if flag {
			out.SeverityScore++
		}
	}
	if out.IsO2Low {
		out.SeverityScore += 2
	}
	switch {
	case out.SeverityScore >= 3:
		out.Level = LevelCritical
	case out.SeverityScore > 0:
		out.Level = LevelWarning
	default:
		out.Level = LevelNormal
	}
	return out
}

// SortBySeverity orders patients most severe first; ties keep name order.
func (a Analyzer) SortBySeverity(patients []model.Patient) {
	scores := make(map[string]int, len(patients))
	for _, p := range patients {
		scores[p.ID] = a.Analyze(p.Vitals).SeverityScore
	}
	sort.SliceStable(patients, func(i, j int) bool {
		si, sj := scores[patients[i].ID], scores[patients[j].ID]
		if si != sj {
			return si > sj
		}
		return strings.ToLower(patients[i].Name) < strings.ToLower(patients[j].Name)
	})
}
