// Package clarify decides whether requirement text is clear enough to act on, and what to ask
// when it is not.
package clarify

import (
	"context"

	"github.com/m-mizutani/elicit/pkg/model"
)

// Context is what a detector knows about the conversation besides the current text
type Context struct {
	// ConversationHistory is ordered oldest first
	ConversationHistory []string
	ExtractedFields     map[string]any
	// Memories are recalled project memories, used only as additional context
	Memories []string
	// MemorySummary is a digest of Memories with source kinds and relevance; preferred over the
	// raw texts when set
	MemorySummary string
}

// Detector judges a piece of requirement text. Detect never fails: an implementation that cannot
// reach its judgment returns a neutral analysis instead.
type Detector interface {
	Detect(ctx context.Context, text string, in Context) *model.Analysis
}

// ClarityThreshold is the score under which a turn needs clarification even without findings
const ClarityThreshold = 70

// NeutralScore is reported when no judgment could be made
const NeutralScore = 50

// Result bundles an analysis with the questions derived from it
type Result struct {
	*model.Analysis
	Questions          []string
	NeedsClarification bool
}

// Evaluate runs the detector and derives questions and the clarification decision
func Evaluate(ctx context.Context, d Detector, text string, in Context) *Result {
	analysis := d.Detect(ctx, text, in)
	if analysis == nil {
		analysis = &model.Analysis{ClarityScore: NeutralScore}
	}
	questions := GenerateQuestions(analysis.Ambiguities)

	return &Result{
		Analysis:           analysis,
		Questions:          questions,
		NeedsClarification: NeedsClarification(analysis, questions),
	}
}

// NeedsClarification is true when there is something to ask about (a finding or a low score)
// and at least one question was produced.
func NeedsClarification(analysis *model.Analysis, questions []string) bool {
	if analysis == nil || len(questions) == 0 {
		return false
	}
	return len(analysis.Ambiguities) > 0 || analysis.ClarityScore < ClarityThreshold
}

func clampScore(score int) int {
	return max(0, min(100, score))
}
