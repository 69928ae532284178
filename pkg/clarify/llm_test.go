package clarify_test

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/m-mizutani/elicit/pkg/adapter"
	"github.com/m-mizutani/elicit/pkg/clarify"
	"github.com/m-mizutani/elicit/pkg/model"
	"github.com/m-mizutani/gt"
	"google.golang.org/genai"
)

type mockGemini struct {
	response string
	err      error
	prompts  []string
}

func (m *mockGemini) GenerateContent(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	for _, c := range contents {
		for _, p := range c.Parts {
			m.prompts = append(m.prompts, p.Text)
		}
	}
	if m.err != nil {
		return nil, m.err
	}
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{
			{Content: genai.NewContentFromText(m.response, genai.RoleModel)},
		},
	}, nil
}

func TestLLMDetector(t *testing.T) {
	ctx := context.Background()

	gemini := &mockGemini{response: `{
		"ambiguities": [
			{"type": "vague", "field": "performance", "reason": "fast is not measurable", "severity": "high", "suggestion": "How fast?"},
			{"type": "inconsistent", "field": "scope", "reason": "contradicts earlier turn", "severity": "urgent"}
		],
		"overall_clarity_score": 140,
		"summary": "Needs numbers"
	}`}

	d := clarify.NewLLMDetector(gemini)
	analysis := d.Detect(ctx, "It must be fast", clarify.Context{
		ConversationHistory: []string{"We sell invoices"},
		ExtractedFields:     map[string]any{"project_name": "Ledger"},
		Memories:            []string{"Invoices are exported monthly"},
	})

	gt.A(t, analysis.Ambiguities).Length(2)
	gt.Equal(t, analysis.Ambiguities[0].Type, model.AmbiguityVague)
	gt.Equal(t, analysis.Ambiguities[0].Severity, model.SeverityHigh)
	gt.Equal(t, analysis.Ambiguities[1].Type, model.AmbiguityAmbiguous)
	gt.Equal(t, analysis.Ambiguities[1].Severity, model.SeverityMedium)
	gt.Equal(t, analysis.ClarityScore, 100)
	gt.Equal(t, analysis.Summary, "Needs numbers")

	gt.A(t, gemini.prompts).Length(1)
	gt.S(t, gemini.prompts[0]).Contains("It must be fast")
	gt.S(t, gemini.prompts[0]).Contains("- We sell invoices")
	gt.S(t, gemini.prompts[0]).Contains(`"project_name": "Ledger"`)
	gt.S(t, gemini.prompts[0]).Contains("- Invoices are exported monthly")
}

func TestLLMDetectorPrefersMemorySummary(t *testing.T) {
	ctx := context.Background()

	gemini := &mockGemini{response: `{"ambiguities": [], "overall_clarity_score": 90, "summary": "ok"}`}
	clarify.NewLLMDetector(gemini).Detect(ctx, "Export invoices", clarify.Context{
		Memories:      []string{"Invoices are exported monthly"},
		MemorySummary: "Found 1 relevant past interactions:\n1. [message] (relevance: 80%) Invoices are exported monthly",
	})

	gt.A(t, gemini.prompts).Length(1)
	gt.S(t, gemini.prompts[0]).Contains("## Related project memory")
	gt.S(t, gemini.prompts[0]).Contains("1. [message] (relevance: 80%) Invoices are exported monthly")
	gt.False(t, strings.Contains(gemini.prompts[0], "- Invoices are exported monthly"))
}

func TestLLMDetectorFencedResponse(t *testing.T) {
	ctx := context.Background()

	gemini := &mockGemini{response: "Here is my analysis:\n```json\n" +
		`{"ambiguities": [], "overall_clarity_score": 85, "summary": "Clear"}` +
		"\n```\nLet me know if you need more."}

	analysis := clarify.NewLLMDetector(gemini).Detect(ctx, "text", clarify.Context{})
	gt.A(t, analysis.Ambiguities).Length(0)
	gt.Equal(t, analysis.ClarityScore, 85)
	gt.Equal(t, analysis.Summary, "Clear")
}

func TestLLMDetectorNeutralOnFailure(t *testing.T) {
	ctx := context.Background()

	testCases := map[string]*mockGemini{
		"capability error": {err: errors.New("quota exceeded")},
		"not json":         {response: "I cannot help with that."},
		"empty":            {response: ""},
		"missing score":    {response: `{"ambiguities": [], "summary": "?"}`},
	}

	for name, gemini := range testCases {
		t.Run(name, func(t *testing.T) {
			result := clarify.Evaluate(ctx, clarify.NewLLMDetector(gemini), "text", clarify.Context{})
			gt.A(t, result.Ambiguities).Length(0)
			gt.Equal(t, result.ClarityScore, clarify.NeutralScore)
			gt.Equal(t, result.Summary, clarify.NeutralSummary)
			gt.A(t, result.Questions).Length(0)
			gt.False(t, result.NeedsClarification)
		})
	}
}

func TestLLMDetectorWithGemini(t *testing.T) {
	projectID, ok := os.LookupEnv("TEST_GEMINI_PROJECT_ID")
	if !ok {
		t.Skip("TEST_GEMINI_PROJECT_ID is not set")
	}
	location := os.Getenv("TEST_GEMINI_LOCATION")
	if location == "" {
		location = "us-central1"
	}

	ctx := context.Background()
	gemini, err := adapter.NewGemini(ctx, projectID, location)
	gt.NoError(t, err)

	result := clarify.Evaluate(ctx, clarify.NewLLMDetector(gemini),
		"I want a fast and user-friendly system that can handle some users.", clarify.Context{})
	gt.True(t, result.ClarityScore >= 0 && result.ClarityScore <= 100)
	gt.True(t, result.NeedsClarification)
}
