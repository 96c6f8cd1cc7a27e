package emergency

import "sort"

// EmergencyType is the kind of emergency a patient reports.
type EmergencyType string

const (
	TypeCardiac       EmergencyType = "cardiac"
	TypeTrauma        EmergencyType = "trauma"
	TypeRespiratory   EmergencyType = "respiratory"
	TypeStroke        EmergencyType = "stroke"
	TypeBurn          EmergencyType = "burn"
	TypePoisoning     EmergencyType = "poisoning"
	TypeAllergic      EmergencyType = "allergic"
	TypeSeizure       EmergencyType = "seizure"
	TypeDiabetic      EmergencyType = "diabetic"
	TypeObstetric     EmergencyType = "obstetric"
	TypePediatric     EmergencyType = "pediatric"
	TypePsychiatric   EmergencyType = "psychiatric"
	TypeDrowning      EmergencyType = "drowning"
	TypeElectrocution EmergencyType = "electrocution"
	TypeFall          EmergencyType = "fall"
	TypeFracture      EmergencyType = "fracture"
	TypeBleeding      EmergencyType = "bleeding"
	TypeChoking       EmergencyType = "choking"
	TypeHeatstroke    EmergencyType = "heatstroke"
	TypeHypothermia   EmergencyType = "hypothermia"
	TypeAnimalBite    EmergencyType = "animal_bite"
	TypeOverdose      EmergencyType = "overdose"
	TypeAccident      EmergencyType = "accident"
	TypeGeneral       EmergencyType = "general"
)

var knownTypes = map[EmergencyType]bool{
	TypeCardiac: true, TypeTrauma: true, TypeRespiratory: true, TypeStroke: true,
	TypeBurn: true, TypePoisoning: true, TypeAllergic: true, TypeSeizure: true,
	TypeDiabetic: true, TypeObstetric: true, TypePediatric: true, TypePsychiatric: true,
	TypeDrowning: true, TypeElectrocution: true, TypeFall: true, TypeFracture: true,
	TypeBleeding: true, TypeChoking: true, TypeHeatstroke: true, TypeHypothermia: true,
	TypeAnimalBite: true, TypeOverdose: true, TypeAccident: true, TypeGeneral: true,
}

// ValidType reports whether t is one of the known emergency types.
func ValidType(t string) bool {
	return knownTypes[EmergencyType(t)]
}

// Types returns every known emergency type in alphabetical order.
func Types() []EmergencyType {
	out := make([]EmergencyType, 0, len(knownTypes))
	for t := range knownTypes {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Level is an alert's severity. Levels are ordered low < medium < high < critical.
type Level string

const (
	LevelLow      Level = "low"
	LevelMedium   Level = "medium"
	LevelHigh     Level = "high"
	LevelCritical Level = "critical"
)

// Rank orders levels; unknown levels rank below low.
func (l Level) Rank() int {
	switch l {
	case LevelLow:
		return 1
	case LevelMedium:
		return 2
	case LevelHigh:
		return 3
	case LevelCritical:
		return 4
	}
	return 0
}

type Severity struct {
	Level               Level   `json:"level"`
	EstimatedCasualties *int    `json:"estimated_casualties,omitempty"`
	AffectedArea        *string `json:"affected_area,omitempty"`
}

// ClassifySeverity maps an emergency type to a severity. It is total:
// types without their own rule, including unknown ones, fall through to
// medium with one estimated casualty.
func ClassifySeverity(t EmergencyType) Severity {
	switch t {
	case TypeCardiac:
		return Severity{Level: LevelCritical}
	case TypeTrauma, TypeRespiratory:
		return Severity{Level: LevelHigh}
	}
	one := 1
	return Severity{Level: LevelMedium, EstimatedCasualties: &one}
}

// HasExplicitSeverity reports whether t has its own classification rule.
// Alerts for other types are stored with severity_defaulted set.
func HasExplicitSeverity(t EmergencyType) bool {
	switch t {
	case TypeCardiac, TypeTrauma, TypeRespiratory:
		return true
	}
	return false
}
