package model

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// Intent is the classification of a user turn
type Intent string

const (
	IntentRequirement Intent = "requirement"
	IntentQuestion    Intent = "question"
	IntentGreeting    Intent = "greeting"
)

// ParseIntent returns the intent named by s; ok is false for unknown names
func ParseIntent(s string) (Intent, bool) {
	switch i := Intent(s); i {
	case IntentRequirement, IntentQuestion, IntentGreeting:
		return i, true
	default:
		return "", false
	}
}

// TurnStatus is the terminal (or initial) state of the clarification workflow
type TurnStatus string

const (
	TurnStatusClarification TurnStatus = "clarification"
	TurnStatusAwaitUser     TurnStatus = "await_user"
	TurnStatusProceed       TurnStatus = "proceed"
)

// TurnInput is what the transport layer hands to the workflow for one turn
type TurnInput struct {
	Text                string         `json:"text"`
	ConversationHistory []string       `json:"conversation_history"`
	ExtractedFields     map[string]any `json:"extracted_fields"`
}

// TurnOutput is what the workflow hands back to the transport layer
type TurnOutput struct {
	ResponseText       string       `json:"response_text"`
	Questions          []string     `json:"questions"`
	Ambiguities        []*Ambiguity `json:"ambiguities"`
	NeedsClarification bool         `json:"needs_clarification"`
	LastNode           string       `json:"last_node"`
	ClarityScore       int          `json:"clarity_score"`
	Intent             Intent       `json:"intent"`
	Status             TurnStatus   `json:"status"`

	// Suggestions is set only when the suggestions node ran
	Suggestions []*Suggestion `json:"suggestions,omitempty"`
}

// TurnID identifies a recorded turn; ULIDs sort by creation time
type TurnID string

func NewTurnID() TurnID {
	return TurnID(ulid.Make().String())
}

// TurnRecord is a processed turn written to the turn log
type TurnRecord struct {
	ID                 string    `bigquery:"id"`
	ProjectID          int64     `bigquery:"project_id"`
	Text               string    `bigquery:"text"`
	Intent             string    `bigquery:"intent"`
	Status             string    `bigquery:"status"`
	LastNode           string    `bigquery:"last_node"`
	ClarityScore       int64     `bigquery:"clarity_score"`
	NeedsClarification bool      `bigquery:"needs_clarification"`
	AmbiguityCount     int64     `bigquery:"ambiguity_count"`
	SuggestionCount    int64     `bigquery:"suggestion_count"`
	Questions          []string  `bigquery:"questions"`
	CreatedAt          time.Time `bigquery:"created_at"`
}
