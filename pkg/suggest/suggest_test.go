package suggest_test

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/m-mizutani/elicit/pkg/embedding"
	"github.com/m-mizutani/elicit/pkg/model"
	"github.com/m-mizutani/elicit/pkg/repository"
	"github.com/m-mizutani/elicit/pkg/suggest"
	"github.com/m-mizutani/elicit/pkg/usecase/memory"
	"github.com/m-mizutani/elicit/pkg/vector"
	"github.com/m-mizutani/gt"
	"google.golang.org/genai"
)

type mockGemini struct {
	response string
	config   *genai.GenerateContentConfig
	calls    int
}

func (m *mockGemini) GenerateContent(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	m.calls++
	m.config = config
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{
			{Content: genai.NewContentFromText(m.response, genai.RoleModel)},
		},
	}, nil
}

func TestRequested(t *testing.T) {
	for text, want := range map[string]bool{
		"What else should the system do?":       true,
		"Could you RECOMMEND a reporting tool?": true,
		"We need more features for admins":      true,
		"Please improve the export":             true,
		"Invoices are exported monthly":         false,
		"Hello there!":                          false,
	} {
		gt.Equal(t, suggest.Requested(text), want)
	}
}

func TestGenerate(t *testing.T) {
	ctx := context.Background()

	t.Run("fenced bare list is accepted and unknown categories are normalized", func(t *testing.T) {
		gemini := &mockGemini{response: "Sure:\n```json\n" + `[
			{"category": "enhancement_ideas", "title": "Audit log", "description": "Track edits", "value_proposition": "Compliance"},
			{"category": "WILD_IDEAS", "title": "Chat bot", "description": "Answer billing questions", "value_proposition": "Less support load"},
			{"category": "", "title": "No category", "description": "x", "value_proposition": "y"}
		]` + "\n```"}

		got := suggest.NewGenerator(gemini).Generate(ctx, "suggest more", suggest.Context{})
		gt.A(t, got).Length(2)
		gt.Equal(t, got[0].Category, model.SuggestionEnhancementIdeas)
		gt.Equal(t, got[1].Category, model.SuggestionAdditionalFeatures)
		gt.Equal(t, got[1].Title, "Chat bot")
	})

	t.Run("at most eight suggestions", func(t *testing.T) {
		var items []string
		for i := range 12 {
			items = append(items, fmt.Sprintf(
				`{"category": "ADDITIONAL_FEATURES", "title": "Idea %d", "description": "d", "value_proposition": "v"}`, i))
		}
		gemini := &mockGemini{response: `{"suggestions": [` + strings.Join(items, ",") + `]}`}

		got := suggest.NewGenerator(gemini).Generate(ctx, "what else?", suggest.Context{})
		gt.A(t, got).Length(suggest.MaxSuggestions)
		gt.Equal(t, got[7].Title, "Idea 7")
	})

	t.Run("requests a JSON schema", func(t *testing.T) {
		gemini := &mockGemini{response: `{"suggestions": []}`}
		got := suggest.NewGenerator(gemini, suggest.WithTemperature(0.3)).Generate(ctx, "suggest", suggest.Context{})
		gt.True(t, got != nil)
		gt.A(t, got).Length(0)

		gt.Equal(t, gemini.calls, 1)
		gt.Equal(t, gemini.config.ResponseMIMEType, "application/json")
		gt.Equal(t, *gemini.config.Temperature, float32(0.3))
		gt.V(t, gemini.config.ResponseSchema.Properties["suggestions"]).NotNil()
	})
}

func TestGather(t *testing.T) {
	ctx := context.Background()

	db, err := repository.OpenSQLite(ctx, filepath.Join(t.TempDir(), "memory.db"))
	gt.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	gt.NoError(t, repository.Migrate(ctx, db))

	emb, err := embedding.NewHashing(256)
	gt.NoError(t, err)
	index, err := vector.NewLocal(emb)
	gt.NoError(t, err)
	coord := memory.New(index)

	create := func(db *sql.DB, projectID, sourceID int64, text string) {
		_, err := coord.Create(ctx, db, memory.CreateInput{ProjectID: projectID, Text: text, SourceKind: model.SourceKindCRS, SourceID: sourceID})
		gt.NoError(t, err)
	}
	create(db, 1, 1, "Use case: the accountant workflow to approve a refund scenario")
	create(db, 1, 2, "Technology stack: PostgreSQL database behind a REST API")
	create(db, 2, 3, "Use case: the warehouse workflow scenario")

	pc := suggest.Gather(ctx, coord, db, 1)
	gt.A(t, pc.UseCases).Length(1)
	gt.Equal(t, pc.UseCases[0], "Use case: the accountant workflow to approve a refund scenario")
	gt.A(t, pc.TechnicalDetails).Length(1)
	gt.False(t, pc.IsEmpty())

	t.Run("unknown project has no context", func(t *testing.T) {
		gt.True(t, suggest.Gather(ctx, coord, db, 9).IsEmpty())
	})
}
