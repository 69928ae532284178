// Package suggest proposes features and scenarios the client has not asked for, based on what
// the project memory already records.
package suggest

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"regexp"
	"strings"
	"text/template"

	"github.com/m-mizutani/elicit/pkg/adapter"
	"github.com/m-mizutani/elicit/pkg/clarify"
	"github.com/m-mizutani/elicit/pkg/model"
	"github.com/m-mizutani/elicit/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/genai"
)

// MaxSuggestions bounds the suggestions returned for one turn
const MaxSuggestions = 8

//go:embed prompt/suggestions.md
var suggestionsPromptRaw string

var suggestionsPromptTmpl = template.Must(template.New("suggestions").Parse(suggestionsPromptRaw))

// Generator asks Gemini for suggestions. Any failure yields no suggestions.
type Generator struct {
	gemini      adapter.Gemini
	temperature float32
}

type Option func(*Generator)

func WithTemperature(t float32) Option {
	return func(g *Generator) {
		g.temperature = t
	}
}

func NewGenerator(gemini adapter.Gemini, opts ...Option) *Generator {
	g := &Generator{
		gemini:      gemini,
		temperature: 0.7,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

type llmSuggestion struct {
	Category         string `json:"category"`
	Title            string `json:"title"`
	Description      string `json:"description"`
	ValueProposition string `json:"value_proposition"`
	Complexity       string `json:"complexity"`
	Priority         string `json:"priority"`
}

// Generate returns at most MaxSuggestions suggestions for text. The result is never nil.
func (x *Generator) Generate(ctx context.Context, text string, pc Context) []*model.Suggestion {
	logger := logging.From(ctx)

	suggestions, err := x.generate(ctx, text, pc)
	if err != nil {
		logger.Warn("suggestion generation failed, returning none", "error", err)
		return []*model.Suggestion{}
	}

	logger.Debug("suggestions generated", "count", len(suggestions))
	return suggestions
}

func (x *Generator) generate(ctx context.Context, text string, pc Context) ([]*model.Suggestion, error) {
	var buf bytes.Buffer
	if err := suggestionsPromptTmpl.Execute(&buf, map[string]any{
		"ExistingRequirements": pc.ExistingRequirements,
		"Features":             pc.Features,
		"UseCases":             pc.UseCases,
		"TechnicalDetails":     pc.TechnicalDetails,
		"Text":                 text,
		"Max":                  MaxSuggestions,
	}); err != nil {
		return nil, goerr.Wrap(err, "failed to execute suggestions prompt template")
	}

	contents := []*genai.Content{
		genai.NewContentFromText(buf.String(), genai.RoleUser),
	}

	resp, err := x.gemini.GenerateContent(ctx, contents, suggestionsConfig(x.temperature))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to generate suggestions")
	}

	raw := clarify.ResponseText(resp)
	if raw == "" {
		return nil, goerr.Wrap(model.ErrMalformedResponse, "empty response from gemini")
	}

	items, err := parseSuggestions(raw)
	if err != nil {
		return nil, err
	}

	suggestions := make([]*model.Suggestion, 0, min(len(items), MaxSuggestions))
	for _, item := range items {
		if len(suggestions) >= MaxSuggestions {
			break
		}
		s := &model.Suggestion{
			Category:         model.ParseSuggestionCategory(strings.ToUpper(strings.TrimSpace(item.Category))),
			Title:            strings.TrimSpace(item.Title),
			Description:      strings.TrimSpace(item.Description),
			ValueProposition: strings.TrimSpace(item.ValueProposition),
			Complexity:       strings.TrimSpace(item.Complexity),
			Priority:         strings.TrimSpace(item.Priority),
		}
		if strings.TrimSpace(item.Category) == "" || s.Title == "" || s.Description == "" || s.ValueProposition == "" {
			logging.From(ctx).Debug("incomplete suggestion dropped", "title", s.Title)
			continue
		}
		suggestions = append(suggestions, s)
	}
	return suggestions, nil
}

var listPattern = regexp.MustCompile(`(?s)\[.*\]`)

// parseSuggestions accepts an object with a suggestions list, or a bare list anywhere in the
// response
func parseSuggestions(raw string) ([]llmSuggestion, error) {
	var wrapped struct {
		Suggestions []llmSuggestion `json:"suggestions"`
	}
	if err := clarify.ExtractJSON(raw, &wrapped); err == nil && wrapped.Suggestions != nil {
		return wrapped.Suggestions, nil
	}

	if m := listPattern.FindString(raw); m != "" {
		var list []llmSuggestion
		if err := json.Unmarshal([]byte(m), &list); err == nil {
			return list, nil
		}
	}

	return nil, goerr.Wrap(model.ErrMalformedResponse, "no suggestion list found in response")
}

func categoryNames() []string {
	names := make([]string, len(model.SuggestionCategories))
	for i, c := range model.SuggestionCategories {
		names[i] = string(c)
	}
	return names
}

func suggestionsConfig(temperature float32) *genai.GenerateContentConfig {
	thinkingBudget := int32(0)
	levels := []string{"Low", "Medium", "High"}
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
				"suggestions": {
					Type:        genai.TypeArray,
					Description: "Ideas the client has not asked for yet",
					Items: &genai.Schema{
						Type: genai.TypeObject,
						Properties: map[string]*genai.Schema{
							"category": {
								Type: genai.TypeString,
								Enum: categoryNames(),
							},
							"title": {
								Type:        genai.TypeString,
								Description: "Short name of the idea",
							},
							"description": {
								Type:        genai.TypeString,
								Description: "What the system would do",
							},
							"value_proposition": {
								Type:        genai.TypeString,
								Description: "Why the client would want it",
							},
							"complexity": {
								Type: genai.TypeString,
								Enum: levels,
							},
							"priority": {
								Type: genai.TypeString,
								Enum: levels,
							},
						},
						Required: []string{"category", "title", "description", "value_proposition"},
					},
				},
			},
			Required: []string{"suggestions"},
		},
	}
}
