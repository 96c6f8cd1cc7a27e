package ai

import "strings"

type rule struct {
	keywords   []string
	suggestion string
}

var suggestionRules = map[Mode][]rule{
	ModeDoctor: {
		{[]string{"cardiolog", "heart", "chest pain", "palpitation"}, "Cardiologist"},
		{[]string{"dermatolog", "skin", "rash", "acne"}, "Dermatologist"},
		{[]string{"neurolog", "migraine", "seizure", "numbness"}, "Neurologist"},
		{[]string{"orthop", "bone", "joint", "fracture", "back pain"}, "Orthopedic"},
		{[]string{"pediatric", "child", "infant"}, "Pediatrician"},
		{[]string{"gynec", "pregnan", "menstrua"}, "Gynecologist"},
		{[]string{"psychiatr", "anxiety", "depress", "mental health"}, "Psychiatrist"},
		{[]string{"ent specialist", "earache", "ear infection", "throat", "sinus"}, "ENT Specialist"},
		{[]string{"ophthalm", "eye", "vision"}, "Ophthalmologist"},
		{[]string{"gastro", "stomach", "digest", "abdominal"}, "Gastroenterologist"},
		{[]string{"pulmonolog", "lung", "asthma", "breathing"}, "Pulmonologist"},
		{[]string{"general physician", "primary care", "family doctor"}, "General Physician"},
	},
	ModeHealthTips: {
		{[]string{"water", "hydrat"}, "Stay hydrated"},
		{[]string{"sleep"}, "Keep a regular sleep schedule"},
		{[]string{"exercise", "walk", "physical activity"}, "Move for 30 minutes a day"},
		{[]string{"diet", "vegetable", "fruit", "nutrition"}, "Eat a balanced diet"},
		{[]string{"stress", "meditat", "breath"}, "Take time to manage stress"},
		{[]string{"screen", "posture"}, "Take screen breaks"},
	},
	ModeMedicine: {
		{[]string{"side effect"}, "Watch for side effects"},
		{[]string{"dosage", "dose"}, "Follow the prescribed dosage"},
		{[]string{"allerg"}, "Check for allergies before use"},
		{[]string{"alcohol"}, "Avoid alcohol"},
		{[]string{"pregnan"}, "Ask your doctor if pregnant"},
		{[]string{"interact", "combin"}, "Ask a pharmacist about interactions"},
	},
	ModeSymptoms: {
		{[]string{"emergency", "chest pain", "difficulty breathing", "unconscious", "severe bleeding", "stroke"}, "Seek emergency care now"},
		{[]string{"see a doctor", "consult", "persistent", "fever", "worsen"}, "See a doctor within 24 hours"},
		{[]string{"rest", "monitor", "home", "mild"}, "Monitor at home"},
	},
}

// Suggest extracts follow-up suggestions from a reply by keyword matching.
// Suggestions keep the rule order and are never duplicated.
func Suggest(mode Mode, text string) []string {
	lower := strings.ToLower(text)
	out := []string{}
	for _, r := range suggestionRules[mode] {
		for _, kw := range r.keywords {
			if strings.Contains(lower, kw) {
				out = append(out, r.suggestion)
				break
			}
		}
	}
	if mode == ModeSymptoms && len(out) > 1 {
		// Only the most urgent triage level applies.
		out = out[:1]
	}
	return out
}
