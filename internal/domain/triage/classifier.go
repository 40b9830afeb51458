// Package triage assigns an urgency tier to a consultation from the patient's
// reported symptoms and vital signs.
package triage

import (
	"strconv"
	"strings"
)

var criticalKeywords = []string{
	"chest pain",
	"severe shortness of breath",
	"loss of consciousness",
	"seizure",
	"hemorrhage",
	"accident",
	"major trauma",
	"stroke",
	"heart attack",
}

var highKeywords = []string{
	"high fever",
	"persistent vomiting",
	"severe diarrhea",
	"respiratory difficulty",
	"intense pain",
	"mental confusion",
}

// Input carries the raw triage fields. Vitals are the strings the patient or
// nurse typed; they are parsed here and ignored when malformed.
type Input struct {
	Symptoms         string
	PainScore        *int
	Temperature      string
	OxygenSaturation string
}

// Factor is one contribution to an assessment.
type Factor struct {
	Name   string `json:"name"`
	Points int    `json:"points"`
}

// Assessment is the outcome of scoring an Input.
type Assessment struct {
	Tier    Tier     `json:"tier"`
	Score   int      `json:"score"`
	Factors []Factor `json:"factors,omitempty"`
	// ShortCircuit names the rule that forced critical, if any.
	ShortCircuit string `json:"short_circuit,omitempty"`
}

// Classify returns the urgency tier for the input. It never fails.
func Classify(in Input) Tier {
	return Score(in).Tier
}

// Score evaluates the input and reports the contributing factors.
func Score(in Input) Assessment {
	symptoms := strings.ToLower(in.Symptoms)

	for _, kw := range criticalKeywords {
		if strings.Contains(symptoms, kw) {
			return Assessment{Tier: TierCritical, ShortCircuit: "symptom:" + kw}
		}
	}

	var a Assessment
	add := func(name string, points int) {
		a.Score += points
		a.Factors = append(a.Factors, Factor{Name: name, Points: points})
	}

	if temp, ok := parseReading(in.Temperature); ok {
		switch {
		case temp >= 39.5 || temp <= 35.0:
			add("temperature", 3)
		case temp >= 38.5:
			add("temperature", 2)
		}
	}

	if sat, ok := parseReading(in.OxygenSaturation); ok {
		switch {
		case sat < 90:
			return Assessment{Tier: TierCritical, ShortCircuit: "oxygen_saturation"}
		case sat < 95:
			add("oxygen_saturation", 2)
		}
	}

	if in.PainScore != nil {
		switch p := *in.PainScore; {
		case p >= 8:
			add("pain_score", 3)
		case p >= 6:
			add("pain_score", 2)
		}
	}

	for _, kw := range highKeywords {
		if strings.Contains(symptoms, kw) {
			add("symptom:"+kw, 2)
		}
	}

	a.Tier = tierForScore(a.Score)
	return a
}

func tierForScore(score int) Tier {
	switch {
	case score >= 5:
		return TierCritical
	case score >= 3:
		return TierHigh
	case score >= 1:
		return TierMedium
	}
	return TierLow
}

// parseReading accepts "38,7", "38.7", "94%" and surrounding whitespace.
func parseReading(raw string) (float64, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, false
	}
	s = strings.TrimSpace(strings.TrimSuffix(s, "%"))
	s = strings.Replace(s, ",", ".", 1)
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
