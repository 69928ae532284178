package workflow_test

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/m-mizutani/elicit/pkg/clarify"
	"github.com/m-mizutani/elicit/pkg/embedding"
	"github.com/m-mizutani/elicit/pkg/interfaces"
	"github.com/m-mizutani/elicit/pkg/model"
	"github.com/m-mizutani/elicit/pkg/repository"
	"github.com/m-mizutani/elicit/pkg/usecase/memory"
	"github.com/m-mizutani/elicit/pkg/vector"
	"github.com/m-mizutani/elicit/pkg/workflow"
	"github.com/m-mizutani/gt"
)

const clearRequirement = "The project name is Ledger. Description: an invoicing tool for small firms. " +
	"Target users are accountants and their customers. Main features include invoice export and payment tracking. " +
	"Business goals are to reduce billing errors by 30 percent within 6 months."

// stubDetector returns a fixed analysis and remembers the context it was given
type stubDetector struct {
	analysis *model.Analysis
	seen     []clarify.Context
}

func (x *stubDetector) Detect(ctx context.Context, text string, in clarify.Context) *model.Analysis {
	x.seen = append(x.seen, in)
	return x.analysis
}

func clearDetector() *stubDetector {
	return &stubDetector{analysis: &model.Analysis{ClarityScore: 90, Summary: "clear"}}
}

type brokenIndex struct {
	interfaces.VectorIndex
}

func (x *brokenIndex) Upsert(ctx context.Context, item *model.VectorItem) error {
	return errors.New("vector store is down")
}

type recorder struct {
	records []*model.TurnRecord
	err     error
}

func (x *recorder) Record(ctx context.Context, record *model.TurnRecord) error {
	x.records = append(x.records, record)
	return x.err
}

func (x *recorder) Close() error { return nil }

type store struct {
	db    *sql.DB
	index interfaces.VectorIndex
	coord *memory.Coordinator
}

func newStore(t *testing.T) *store {
	t.Helper()
	ctx := context.Background()

	db, err := repository.OpenSQLite(ctx, filepath.Join(t.TempDir(), "memory.db"))
	gt.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	gt.NoError(t, repository.Migrate(ctx, db))

	emb, err := embedding.NewHashing(256)
	gt.NoError(t, err)
	index, err := vector.NewLocal(emb)
	gt.NoError(t, err)

	return &store{db: db, index: index, coord: memory.New(index)}
}

func (x *store) count(t *testing.T) int {
	t.Helper()
	var n int
	gt.NoError(t, x.db.QueryRow(`SELECT COUNT(*) FROM ai_memory_index`).Scan(&n))
	return n
}

func TestRunAwaitsUserOnAmbiguousInput(t *testing.T) {
	ctx := context.Background()
	engine := workflow.New(clarify.NewRuleDetector(nil))

	out, err := engine.Run(ctx, workflow.NewState(&model.TurnInput{
		Text: "I want a fast and user-friendly system that can handle some users.",
	}))
	gt.NoError(t, err)

	gt.Equal(t, out.Status, model.TurnStatusAwaitUser)
	gt.Equal(t, out.LastNode, workflow.NodeClarification)
	gt.True(t, out.NeedsClarification)
	gt.A(t, out.Questions).Length(clarify.MaxQuestions)
	gt.True(t, strings.HasPrefix(out.ResponseText,
		"I'd like to clarify a few points to ensure I capture your requirements accurately:\n\n1. "))
	gt.S(t, out.ResponseText).Contains("\n5. ")
}

func TestRunProceedsWithoutPersistence(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	engine := workflow.New(clarify.NewRuleDetector(nil), workflow.WithMemory(s.coord))

	state := workflow.NewState(&model.TurnInput{Text: clearRequirement})
	state.ProjectID = 1
	state.DB = s.db

	out, err := engine.Run(ctx, state)
	gt.NoError(t, err)
	gt.Equal(t, out.Status, model.TurnStatusProceed)
	gt.Equal(t, out.LastNode, workflow.NodeEcho)
	gt.False(t, out.NeedsClarification)
	gt.Equal(t, out.ResponseText, "Thank you! Your requirements are clear. I'll proceed with processing them.")
	gt.A(t, out.Questions).Length(0)
	gt.A(t, out.Ambiguities).Length(0)
	gt.Equal(t, s.count(t), 0)
}

func TestRunSavesRequirement(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	engine := workflow.New(clarify.NewRuleDetector(nil), workflow.WithMemory(s.coord), workflow.WithPersistence())

	state := workflow.NewState(&model.TurnInput{Text: clearRequirement})
	state.ProjectID = 1
	state.MessageID = 7
	state.DB = s.db

	out, err := engine.Run(ctx, state)
	gt.NoError(t, err)
	gt.Equal(t, out.Status, model.TurnStatusProceed)
	gt.Equal(t, out.LastNode, workflow.NodeMemory)
	gt.Equal(t, out.Intent, model.IntentRequirement)
	gt.True(t, strings.HasSuffix(out.ResponseText, "\n\n(This requirement has been saved to project memory.)"))
	gt.True(t, state.Saved)

	rec, err := s.coord.FindBySource(ctx, s.db, model.SourceKindMessage, 7)
	gt.NoError(t, err)
	gt.V(t, rec).NotNil()
	gt.Equal(t, rec.ProjectID, int64(1))

	item, err := s.index.Get(ctx, rec.VectorID)
	gt.NoError(t, err)
	gt.Equal(t, item.Text, clearRequirement)
	gt.Equal(t, item.Metadata["intent"], any("requirement"))
	gt.Equal(t, item.Metadata["clarity_score"], any(100))
}

func TestRunSkipsWriteBackWithoutMessageID(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	engine := workflow.New(clarify.NewRuleDetector(nil), workflow.WithMemory(s.coord), workflow.WithPersistence())

	for _, id := range []int64{0, -1} {
		state := workflow.NewState(&model.TurnInput{Text: clearRequirement})
		state.ProjectID = 1
		state.MessageID = id
		state.DB = s.db

		out, err := engine.Run(ctx, state)
		gt.NoError(t, err)
		gt.Equal(t, out.Status, model.TurnStatusProceed)
		gt.Equal(t, out.ResponseText, "Thank you! Your requirements are clear. I'll proceed with processing them.")
		gt.False(t, state.Saved)
	}
	gt.Equal(t, s.count(t), 0)
}

func TestRunSwallowsWriteFailure(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	coord := memory.New(&brokenIndex{VectorIndex: s.index})
	engine := workflow.New(clarify.NewRuleDetector(nil), workflow.WithMemory(coord), workflow.WithPersistence())

	state := workflow.NewState(&model.TurnInput{Text: clearRequirement})
	state.ProjectID = 1
	state.MessageID = 3
	state.DB = s.db

	out, err := engine.Run(ctx, state)
	gt.NoError(t, err)
	gt.Equal(t, out.Status, model.TurnStatusProceed)
	gt.Equal(t, out.ResponseText, "Thank you! Your requirements are clear. I'll proceed with processing them.")
	gt.False(t, state.Saved)
	gt.Equal(t, s.count(t), 0)
}

func TestRunDoesNotSaveNonRequirements(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	engine := workflow.New(clearDetector(), workflow.WithMemory(s.coord), workflow.WithPersistence())

	for text, intent := range map[string]model.Intent{
		"What export formats do you support?": model.IntentQuestion,
		"Hello there!":                        model.IntentGreeting,
	} {
		state := workflow.NewState(&model.TurnInput{Text: text})
		state.ProjectID = 1
		state.MessageID = 5
		state.DB = s.db

		out, err := engine.Run(ctx, state)
		gt.NoError(t, err)
		gt.Equal(t, out.Intent, intent)
		gt.Equal(t, out.Status, model.TurnStatusProceed)
		gt.False(t, state.Saved)
	}
	gt.Equal(t, s.count(t), 0)
}

func TestRunRecallsProjectMemory(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	text := "Invoices are exported monthly as CSV"
	_, err := s.coord.Create(ctx, s.db, memory.CreateInput{ProjectID: 1, Text: text, SourceKind: model.SourceKindMessage, SourceID: 1})
	gt.NoError(t, err)
	_, err = s.coord.Create(ctx, s.db, memory.CreateInput{ProjectID: 2, Text: text, SourceKind: model.SourceKindMessage, SourceID: 2})
	gt.NoError(t, err)

	detector := clearDetector()
	engine := workflow.New(detector, workflow.WithMemory(s.coord))

	state := workflow.NewState(&model.TurnInput{
		Text:                text,
		ConversationHistory: []string{"hi"},
	})
	state.ProjectID = 1
	state.DB = s.db

	_, err = engine.Run(ctx, state)
	gt.NoError(t, err)

	gt.A(t, detector.seen).Length(1)
	gt.Equal(t, detector.seen[0].Memories, []string{text})
	gt.Equal(t, detector.seen[0].ConversationHistory, []string{"hi"})
	gt.S(t, detector.seen[0].MemorySummary).Contains("Found 1 relevant past interactions")
	gt.S(t, detector.seen[0].MemorySummary).Contains("[message]")
	gt.Equal(t, detector.seen[0].MemorySummary, state.Recalled.Summary)
	gt.True(t, state.Recalled.HasContext())
	gt.Equal(t, state.Recalled.Memories[0].ProjectID, int64(1))
}

func TestRunRecordsTurn(t *testing.T) {
	ctx := context.Background()

	rec := &recorder{}
	engine := workflow.New(clarify.NewRuleDetector(nil), workflow.WithTurnRecorder(rec))
	_, err := engine.Run(ctx, workflow.NewState(&model.TurnInput{Text: "It should be fast"}))
	gt.NoError(t, err)

	gt.A(t, rec.records).Length(1)
	got := rec.records[0]
	gt.True(t, got.ID != "")
	gt.Equal(t, got.Status, string(model.TurnStatusAwaitUser))
	gt.Equal(t, got.LastNode, workflow.NodeClarification)
	gt.True(t, got.NeedsClarification)
	gt.True(t, got.AmbiguityCount > 0)

	t.Run("recorder failure is not fatal", func(t *testing.T) {
		rec := &recorder{err: errors.New("bigquery is down")}
		engine := workflow.New(clarify.NewRuleDetector(nil), workflow.WithTurnRecorder(rec))
		out, err := engine.Run(ctx, workflow.NewState(&model.TurnInput{Text: clearRequirement}))
		gt.NoError(t, err)
		gt.Equal(t, out.Status, model.TurnStatusProceed)
	})
}

func TestRunRejectsEmptyText(t *testing.T) {
	engine := workflow.New(clarify.NewRuleDetector(nil))
	_, err := engine.Run(context.Background(), workflow.NewState(&model.TurnInput{Text: "  "}))
	gt.True(t, errors.Is(err, model.ErrValidation))
}

func TestRunWithIntentPolicy(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	dir := t.TempDir()
	gt.NoError(t, os.WriteFile(filepath.Join(dir, "intent.rego"), []byte(`package intent

intent := "requirement" if {
	startswith(input.text, "REQ:")
}
`), 0644))

	classifier, err := workflow.NewIntentClassifier(ctx, dir)
	gt.NoError(t, err)

	engine := workflow.New(clearDetector(),
		workflow.WithMemory(s.coord),
		workflow.WithPersistence(),
		workflow.WithIntentClassifier(classifier))

	// Without the policy this would be classified as a question
	state := workflow.NewState(&model.TurnInput{Text: "REQ: can admins export invoices?"})
	state.ProjectID = 1
	state.MessageID = 9
	state.DB = s.db

	out, err := engine.Run(ctx, state)
	gt.NoError(t, err)
	gt.Equal(t, out.Intent, model.IntentRequirement)
	gt.True(t, state.Saved)
	gt.Equal(t, s.count(t), 1)
}
