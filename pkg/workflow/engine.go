package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/m-mizutani/elicit/pkg/adapter"
	"github.com/m-mizutani/elicit/pkg/clarify"
	"github.com/m-mizutani/elicit/pkg/model"
	"github.com/m-mizutani/elicit/pkg/suggest"
	"github.com/m-mizutani/elicit/pkg/usecase/memory"
	"github.com/m-mizutani/elicit/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
)

const (
	recallLimit     = 3
	recallThreshold = 0.2

	clarifyPreamble = "I'd like to clarify a few points to ensure I capture your requirements accurately:\n\n"
	clearResponse   = "Thank you! Your requirements are clear. I'll proceed with processing them."
	savedSuffix     = "\n\n(This requirement has been saved to project memory.)"
	suggestPreamble = "\n\nHere are some ideas that could complement your requirements:\n\n"
)

// Engine runs the clarification workflow once per user turn:
//
//	clarification -> await_user                                  (questions to ask)
//	clarification -> echo -> [memory] -> [suggestions] -> proceed (clear enough)
//
// The memory node is part of the extended configuration enabled by WithPersistence. The
// suggestions node is enabled by WithSuggestions and runs only when the client asks for ideas.
type Engine struct {
	detector   clarify.Detector
	classifier IntentClassifier
	memory     *memory.Coordinator
	persist    bool
	suggester  SuggestionGenerator
	recorder   adapter.TurnRecorder
	now        func() time.Time
}

// SuggestionGenerator proposes features beyond the stated requirement. It never fails; a
// generator that cannot answer returns an empty list.
type SuggestionGenerator interface {
	Generate(ctx context.Context, text string, pc suggest.Context) []*model.Suggestion
}

type Option func(*Engine)

// WithMemory enables recall of project memories as detector context
func WithMemory(coordinator *memory.Coordinator) Option {
	return func(e *Engine) {
		e.memory = coordinator
	}
}

// WithPersistence adds the memory node: clear requirement statements are saved to project memory
func WithPersistence() Option {
	return func(e *Engine) {
		e.persist = true
	}
}

// WithSuggestions adds the suggestions node. It needs project memory (WithMemory) for context.
func WithSuggestions(gen SuggestionGenerator) Option {
	return func(e *Engine) {
		e.suggester = gen
	}
}

func WithIntentClassifier(classifier IntentClassifier) Option {
	return func(e *Engine) {
		e.classifier = classifier
	}
}

// WithTurnRecorder logs every finished turn
func WithTurnRecorder(recorder adapter.TurnRecorder) Option {
	return func(e *Engine) {
		e.recorder = recorder
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// New creates a workflow engine around detector
func New(detector clarify.Detector, opts ...Option) *Engine {
	e := &Engine{
		detector:   detector,
		classifier: RuleClassifier{},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run evaluates one turn. Memory and turn log failures never fail the turn; only invalid input
// does.
func (e *Engine) Run(ctx context.Context, state *State) (*model.TurnOutput, error) {
	if state == nil || strings.TrimSpace(state.Text) == "" {
		return nil, goerr.Wrap(model.ErrValidation, "turn text is required")
	}

	logger := logging.From(ctx)
	state.Status = model.TurnStatusClarification

	e.clarification(ctx, state)

	if state.NeedsClarification {
		state.Status = model.TurnStatusAwaitUser
	} else {
		e.echo(ctx, state)
		if e.persist {
			e.writeBack(ctx, state)
		}
		if e.suggester != nil && suggest.Requested(state.Text) {
			e.suggestions(ctx, state)
		}
		state.Status = model.TurnStatusProceed
	}

	logger.Info("turn processed",
		"status", state.Status,
		"last_node", state.LastNode,
		"intent", state.Intent,
		"clarity_score", state.ClarityScore,
		"ambiguities", len(state.Ambiguities),
		"questions", len(state.Questions),
		"suggestions", len(state.Suggestions))

	e.record(ctx, state)
	return state.Output(), nil
}

func (e *Engine) clarification(ctx context.Context, state *State) {
	state.LastNode = NodeClarification

	in := clarify.Context{
		ConversationHistory: state.ConversationHistory,
		ExtractedFields:     state.ExtractedFields,
	}
	if e.memory != nil && state.DB != nil && state.ProjectID > 0 {
		state.Recalled = e.memory.Recall(ctx, state.DB, state.ProjectID, state.Text, recallLimit, recallThreshold)
		in.Memories = state.Recalled.Texts()
		in.MemorySummary = state.Recalled.Summary
	}

	result := clarify.Evaluate(ctx, e.detector, state.Text, in)

	state.Ambiguities = result.Ambiguities
	state.Questions = result.Questions
	state.ClarityScore = result.ClarityScore
	state.Summary = result.Summary
	state.NeedsClarification = result.NeedsClarification
	state.Intent = e.classifier.Classify(ctx, state.Text, state.ConversationHistory)

	if state.NeedsClarification {
		state.Response = clarifyResponse(state.Questions)
	} else {
		state.Response = clearResponse
	}
}

func clarifyResponse(questions []string) string {
	var b strings.Builder
	b.WriteString(clarifyPreamble)
	for i, q := range questions {
		fmt.Fprintf(&b, "%d. %s\n", i+1, q)
	}
	return b.String()
}

// echo acknowledges a clear turn; the response set by the clarification node is kept
func (e *Engine) echo(ctx context.Context, state *State) {
	state.LastNode = NodeEcho
	logging.From(ctx).Debug("turn acknowledged", "intent", state.Intent)
}

func (e *Engine) writeBack(ctx context.Context, state *State) {
	state.LastNode = NodeMemory
	logger := logging.From(ctx)

	if state.Intent != model.IntentRequirement || state.NeedsClarification {
		return
	}
	if e.memory == nil || state.DB == nil || state.ProjectID <= 0 {
		logger.Debug("memory write-back skipped, no project memory configured")
		return
	}
	if state.MessageID <= 0 {
		logger.Debug("memory write-back skipped, turn has no message ID", "project_id", state.ProjectID)
		return
	}

	rec, err := e.memory.Create(ctx, state.DB, memory.CreateInput{
		ProjectID:  state.ProjectID,
		Text:       state.Text,
		SourceKind: model.SourceKindMessage,
		SourceID:   state.MessageID,
		Metadata: map[string]any{
			"clarity_score": state.ClarityScore,
			"intent":        string(state.Intent),
		},
	})
	if err != nil {
		logger.Warn("failed to save requirement to project memory, continuing", "error", err,
			"project_id", state.ProjectID, "message_id", state.MessageID)
		return
	}

	state.Saved = true
	state.Response += savedSuffix
	logger.Debug("requirement saved to project memory", "memory_id", rec.ID, "vector_id", rec.VectorID)
}

func (e *Engine) suggestions(ctx context.Context, state *State) {
	state.LastNode = NodeSuggestions
	state.Suggestions = []*model.Suggestion{}

	if e.memory == nil || state.DB == nil || state.ProjectID <= 0 {
		logging.From(ctx).Warn("suggestions skipped, no project memory configured")
		return
	}

	pc := suggest.Gather(ctx, e.memory, state.DB, state.ProjectID)
	state.Suggestions = e.suggester.Generate(ctx, state.Text, pc)
	if state.Suggestions == nil {
		state.Suggestions = []*model.Suggestion{}
	}
	if len(state.Suggestions) > 0 {
		state.Response += suggestionsResponse(state.Suggestions)
	}
}

func suggestionsResponse(suggestions []*model.Suggestion) string {
	var b strings.Builder
	b.WriteString(suggestPreamble)
	for i, s := range suggestions {
		fmt.Fprintf(&b, "%d. %s: %s\n", i+1, s.Title, s.Description)
	}
	return b.String()
}

func (e *Engine) record(ctx context.Context, state *State) {
	if e.recorder == nil {
		return
	}

	record := &model.TurnRecord{
		ID:                 string(model.NewTurnID()),
		ProjectID:          state.ProjectID,
		Text:               state.Text,
		Intent:             string(state.Intent),
		Status:             string(state.Status),
		LastNode:           state.LastNode,
		ClarityScore:       int64(state.ClarityScore),
		NeedsClarification: state.NeedsClarification,
		AmbiguityCount:     int64(len(state.Ambiguities)),
		SuggestionCount:    int64(len(state.Suggestions)),
		Questions:          state.Questions,
		CreatedAt:          e.now().UTC(),
	}
	if record.Questions == nil {
		record.Questions = []string{}
	}

	if err := e.recorder.Record(ctx, record); err != nil {
		logging.From(ctx).Warn("failed to record turn", "error", err, "turn_id", record.ID)
	}
}
