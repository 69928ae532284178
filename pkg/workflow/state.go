package workflow

import (
	"github.com/m-mizutani/elicit/pkg/interfaces"
	"github.com/m-mizutani/elicit/pkg/model"
	"github.com/m-mizutani/elicit/pkg/usecase/memory"
)

// Node names reported as TurnOutput.LastNode
const (
	NodeClarification = "clarification"
	NodeEcho          = "echo"
	NodeMemory        = "memory"
	NodeSuggestions   = "suggestions"
)

// State is the mutable context of one turn. The caller fills the input half; the engine fills
// the rest.
type State struct {
	Text                string
	ConversationHistory []string
	ExtractedFields     map[string]any

	// ProjectID and DB enable memory recall and write-back; both are optional
	ProjectID int64
	// MessageID is the source id of the memory written for this turn; write-back is skipped
	// unless it is positive
	MessageID int64
	DB        interfaces.Session

	Ambiguities        []*model.Ambiguity
	Questions          []string
	ClarityScore       int
	Summary            string
	Intent             model.Intent
	NeedsClarification bool
	Response           string
	LastNode           string
	Status             model.TurnStatus
	Recalled           *memory.Recall
	// Saved reports whether the turn was written to project memory
	Saved bool
	// Suggestions stays nil unless the suggestions node ran
	Suggestions []*model.Suggestion
}

// NewState builds the initial state of a turn from the transport input
func NewState(input *model.TurnInput) *State {
	return &State{
		Text:                input.Text,
		ConversationHistory: input.ConversationHistory,
		ExtractedFields:     input.ExtractedFields,
		Status:              model.TurnStatusClarification,
	}
}

// Output converts the state into the transport output. Slices are never nil.
func (x *State) Output() *model.TurnOutput {
	questions := x.Questions
	if questions == nil {
		questions = []string{}
	}
	ambiguities := x.Ambiguities
	if ambiguities == nil {
		ambiguities = []*model.Ambiguity{}
	}

	return &model.TurnOutput{
		ResponseText:       x.Response,
		Questions:          questions,
		Ambiguities:        ambiguities,
		NeedsClarification: x.NeedsClarification,
		LastNode:           x.LastNode,
		ClarityScore:       x.ClarityScore,
		Intent:             x.Intent,
		Status:             x.Status,
		Suggestions:        x.Suggestions,
	}
}
