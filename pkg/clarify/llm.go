package clarify

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"strings"
	"text/template"

	"github.com/m-mizutani/elicit/pkg/adapter"
	"github.com/m-mizutani/elicit/pkg/model"
	"github.com/m-mizutani/elicit/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/genai"
)

//go:embed prompt/analysis.md
var analysisPromptRaw string

var analysisPromptTmpl = template.Must(template.New("analysis").Parse(analysisPromptRaw))

// NeutralSummary is reported when the language model gave no usable answer
const NeutralSummary = "Unable to analyze the requirement automatically"

// LLMDetector delegates the judgment to Gemini. Any failure yields a neutral analysis.
type LLMDetector struct {
	gemini      adapter.Gemini
	temperature float32
}

type LLMOption func(*LLMDetector)

func WithTemperature(t float32) LLMOption {
	return func(d *LLMDetector) {
		d.temperature = t
	}
}

func NewLLMDetector(gemini adapter.Gemini, opts ...LLMOption) *LLMDetector {
	d := &LLMDetector{
		gemini:      gemini,
		temperature: 0.2,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

type llmAnalysis struct {
	Ambiguities []struct {
		Type       string `json:"type"`
		Field      string `json:"field"`
		Reason     string `json:"reason"`
		Severity   string `json:"severity"`
		Suggestion string `json:"suggestion"`
	} `json:"ambiguities"`
	ClarityScore *float64 `json:"overall_clarity_score"`
	Summary      string   `json:"summary"`
}

func (x *LLMDetector) Detect(ctx context.Context, text string, in Context) *model.Analysis {
	logger := logging.From(ctx)

	analysis, err := x.analyze(ctx, text, in)
	if err != nil {
		logger.Warn("language model analysis failed, using neutral result", "error", err)
		return &model.Analysis{
			Ambiguities:  []*model.Ambiguity{},
			ClarityScore: NeutralScore,
			Summary:      NeutralSummary,
		}
	}

	logger.Debug("language model analysis completed",
		"ambiguities", len(analysis.Ambiguities),
		"clarity_score", analysis.ClarityScore)
	return analysis
}

func (x *LLMDetector) analyze(ctx context.Context, text string, in Context) (*model.Analysis, error) {
	extracted := in.ExtractedFields
	if extracted == nil {
		extracted = map[string]any{}
	}
	extractedJSON, err := json.MarshalIndent(extracted, "", "  ")
	if err != nil {
		return nil, goerr.Wrap(err, "failed to marshal extracted fields")
	}

	var buf bytes.Buffer
	if err := analysisPromptTmpl.Execute(&buf, map[string]any{
		"History":         in.ConversationHistory,
		"ExtractedFields": string(extractedJSON),
		"Memories":        in.Memories,
		"MemorySummary":   in.MemorySummary,
		"Text":            text,
	}); err != nil {
		return nil, goerr.Wrap(err, "failed to execute analysis prompt template")
	}

	contents := []*genai.Content{
		genai.NewContentFromText(buf.String(), genai.RoleUser),
	}

	resp, err := x.gemini.GenerateContent(ctx, contents, analysisConfig(x.temperature))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to generate analysis")
	}

	raw := ResponseText(resp)
	if raw == "" {
		return nil, goerr.Wrap(model.ErrMalformedResponse, "empty response from gemini")
	}

	var data llmAnalysis
	if err := ExtractJSON(raw, &data); err != nil {
		return nil, err
	}
	if data.ClarityScore == nil {
		return nil, goerr.Wrap(model.ErrMalformedResponse, "overall_clarity_score is missing",
			goerr.V("response", truncate(raw, 200)))
	}

	analysis := &model.Analysis{
		Ambiguities:  make([]*model.Ambiguity, 0, len(data.Ambiguities)),
		ClarityScore: clampScore(int(*data.ClarityScore)),
		Summary:      data.Summary,
	}
	for _, a := range data.Ambiguities {
		analysis.Ambiguities = append(analysis.Ambiguities, &model.Ambiguity{
			Type:       model.ParseAmbiguityType(strings.ToLower(strings.TrimSpace(a.Type))),
			Field:      a.Field,
			Reason:     a.Reason,
			Severity:   model.ParseSeverity(strings.ToLower(strings.TrimSpace(a.Severity))),
			Suggestion: a.Suggestion,
		})
	}

	return analysis, nil
}

// ResponseText concatenates the text parts of the first candidate
func ResponseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil && part.Text != "" {
			b.WriteString(part.Text)
		}
	}
	return b.String()
}

func analysisConfig(temperature float32) *genai.GenerateContentConfig {
	thinkingBudget := int32(0)
	return &genai.GenerateContentConfig{
		Temperature:      &temperature,
		ResponseMIMEType: "application/json",
		ThinkingConfig: &genai.ThinkingConfig{
			IncludeThoughts: false,
			ThinkingBudget:  &thinkingBudget,
		},
		ResponseSchema: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"ambiguities": {
					Type:        genai.TypeArray,
					Description: "Findings that need clarification",
					Items: &genai.Schema{
						Type: genai.TypeObject,
						Properties: map[string]*genai.Schema{
							"type": {
								Type: genai.TypeString,
								Enum: []string{"missing", "vague", "incomplete", "ambiguous"},
							},
							"field": {
								Type:        genai.TypeString,
								Description: "Area that needs clarification, snake_case",
							},
							"reason": {
								Type:        genai.TypeString,
								Description: "Why it is unclear",
							},
							"severity": {
								Type: genai.TypeString,
								Enum: []string{"high", "medium", "low"},
							},
							"suggestion": {
								Type:        genai.TypeString,
								Description: "Clarification question for the client",
							},
						},
						Required: []string{"type", "field", "reason", "severity"},
					},
				},
				"overall_clarity_score": {
					Type:        genai.TypeInteger,
					Description: "0 (unusable) to 100 (ready to implement)",
				},
				"summary": {
					Type:        genai.TypeString,
					Description: "One sentence on the requirement quality",
				},
			},
			Required: []string{"ambiguities", "overall_clarity_score", "summary"},
		},
	}
}
