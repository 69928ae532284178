package clarify

import (
	"slices"
	"strings"

	"github.com/m-mizutani/elicit/pkg/model"
)

// MaxQuestions bounds how many questions a single turn asks
const MaxQuestions = 5

type questionKey struct {
	kind  model.AmbiguityType
	field string
}

var questionTemplates = map[questionKey]string{
	{model.AmbiguityMissing, "project_name"}:                "What would you like to name this project?",
	{model.AmbiguityMissing, "project_description"}:         "Could you provide a brief description of what this project aims to achieve?",
	{model.AmbiguityMissing, "target_users"}:                "Who are the intended users or target audience for this system?",
	{model.AmbiguityMissing, "main_functionality"}:          "What are the main features or functionalities you need in this system?",
	{model.AmbiguityMissing, "business_goals"}:              "What are the key business goals or objectives this system should support?",
	{model.AmbiguityMissing, "non_functional_requirements"}: "Have you considered non-functional requirements such as performance, security, or scalability?",
	{model.AmbiguityIncomplete, "functional_requirement"}:   "Could you clarify who will use this feature and what specific outcome they should achieve?",
	{model.AmbiguityVague, "language_clarity"}:              "Could you provide more specific details? For example, what specific metrics or criteria define success?",
	{model.AmbiguityAmbiguous, "quantifiers"}:               "Could you specify exact numbers or ranges? For example, how many users or what specific timeframe?",
	{model.AmbiguityAmbiguous, "technical_terms"}:           "Could you define or provide more context for the technical terms mentioned?",
}

// GenerateQuestions asks about high and medium severity ambiguities, most severe first. Known
// type/field pairs use a fixed question; others fall back to the suggestion. At most
// MaxQuestions are returned.
func GenerateQuestions(ambiguities []*model.Ambiguity) []string {
	sorted := slices.Clone(ambiguities)
	sorted = slices.DeleteFunc(sorted, func(a *model.Ambiguity) bool { return a == nil })
	slices.SortStableFunc(sorted, func(a, b *model.Ambiguity) int {
		return a.Severity.Rank() - b.Severity.Rank()
	})

	var questions []string
	for _, a := range sorted {
		if a.Severity == model.SeverityLow {
			continue
		}

		q, ok := questionTemplates[questionKey{a.Type, a.Field}]
		if !ok {
			q = a.Suggestion
		}
		q = strings.TrimSpace(q)
		if q == "" || slices.Contains(questions, q) {
			continue
		}

		questions = append(questions, q)
		if len(questions) == MaxQuestions {
			break
		}
	}
	return questions
}
