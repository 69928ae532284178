package model

// AmbiguityType classifies how a piece of input is unclear
type AmbiguityType string

const (
	AmbiguityMissing    AmbiguityType = "missing"
	AmbiguityIncomplete AmbiguityType = "incomplete"
	AmbiguityAmbiguous  AmbiguityType = "ambiguous"
	AmbiguityVague      AmbiguityType = "vague"
)

// ParseAmbiguityType returns the known type for s, or AmbiguityAmbiguous
func ParseAmbiguityType(s string) AmbiguityType {
	switch t := AmbiguityType(s); t {
	case AmbiguityMissing, AmbiguityIncomplete, AmbiguityAmbiguous, AmbiguityVague:
		return t
	default:
		return AmbiguityAmbiguous
	}
}

type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityLow    Severity = "low"
)

// ParseSeverity returns the known severity for s, or SeverityMedium
func ParseSeverity(s string) Severity {
	switch v := Severity(s); v {
	case SeverityHigh, SeverityMedium, SeverityLow:
		return v
	default:
		return SeverityMedium
	}
}

// Rank orders severities: high is 0, medium 1, low 2
func (x Severity) Rank() int {
	switch x {
	case SeverityHigh:
		return 0
	case SeverityMedium:
		return 1
	default:
		return 2
	}
}

// Ambiguity is a transient finding about one unclear aspect of the input
type Ambiguity struct {
	Type       AmbiguityType `json:"type"`
	Field      string        `json:"field"`
	Reason     string        `json:"reason"`
	Severity   Severity      `json:"severity"`
	Suggestion string        `json:"suggestion,omitempty"`
}

// Analysis is the result of running an ambiguity detector
type Analysis struct {
	Ambiguities  []*Ambiguity `json:"ambiguities"`
	ClarityScore int          `json:"overall_clarity_score"`
	Summary      string       `json:"summary"`
}
