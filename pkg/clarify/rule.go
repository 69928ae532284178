package clarify

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/m-mizutani/elicit/pkg/model"
)

// RuleDetector evaluates text against a fixed lexicon. It is pure and deterministic.
type RuleDetector struct {
	lex *lexicon
}

// NewRuleDetector builds a detector from rules; nil uses DefaultRules
func NewRuleDetector(rules *Rules) *RuleDetector {
	if rules == nil {
		rules = DefaultRules()
	}
	return &RuleDetector{lex: compile(rules)}
}

func (x *RuleDetector) Detect(ctx context.Context, text string, in Context) *model.Analysis {
	lowered := strings.ToLower(text)

	var found []*model.Ambiguity
	found = append(found, x.missingFields(lowered, in.ExtractedFields)...)
	found = appendIf(found, x.vagueLanguage(lowered))
	found = appendIf(found, x.quantifiers(lowered))
	found = appendIf(found, x.incompleteFunctional(lowered))
	found = appendIf(found, x.nonFunctional(lowered, in.ConversationHistory))
	found = appendIf(found, x.undefinedTerms(text))

	score := 100
	for _, a := range found {
		score -= x.lex.penalty(a.Severity)
	}
	score = clampScore(score)

	return &model.Analysis{
		Ambiguities:  found,
		ClarityScore: score,
		Summary:      ruleSummary(found, score),
	}
}

func appendIf(list []*model.Ambiguity, a *model.Ambiguity) []*model.Ambiguity {
	if a == nil {
		return list
	}
	return append(list, a)
}

func (x *RuleDetector) missingFields(lowered string, extracted map[string]any) []*model.Ambiguity {
	var found []*model.Ambiguity
	for _, field := range x.lex.CriticalFields {
		if hasValue(extracted, field.Name) {
			continue
		}

		keywords := field.Keywords
		if len(keywords) == 0 {
			keywords = []string{strings.ReplaceAll(field.Name, "_", " ")}
		}
		if containsAny(lowered, keywords) {
			continue
		}

		found = append(found, &model.Ambiguity{
			Type:       model.AmbiguityMissing,
			Field:      field.Name,
			Reason:     fmt.Sprintf("Critical field '%s' is not specified", field.Name),
			Severity:   model.SeverityHigh,
			Suggestion: "Please provide information about " + strings.ReplaceAll(field.Name, "_", " "),
		})
	}
	return found
}

// hasValue reports whether the field was extracted with a non-empty value
func hasValue(extracted map[string]any, name string) bool {
	v, ok := extracted[name]
	if !ok || v == nil {
		return false
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t) != ""
	case []any:
		return len(t) > 0
	case []string:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	case bool:
		return t
	}
	return true
}

func (x *RuleDetector) vagueLanguage(lowered string) *model.Ambiguity {
	terms := matchTerms(x.lex.vague, lowered)
	if len(terms) == 0 {
		return nil
	}
	return &model.Ambiguity{
		Type:       model.AmbiguityVague,
		Field:      "language_clarity",
		Reason:     "Vague terms detected: " + strings.Join(firstN(terms, 3), ", "),
		Severity:   model.SeverityMedium,
		Suggestion: "Please provide specific, measurable descriptions instead of vague terms",
	}
}

func (x *RuleDetector) quantifiers(lowered string) *model.Ambiguity {
	terms := matchTerms(x.lex.quantifiers, lowered)
	if len(terms) == 0 {
		return nil
	}
	return &model.Ambiguity{
		Type:       model.AmbiguityAmbiguous,
		Field:      "quantifiers",
		Reason:     "Ambiguous quantifiers detected: " + strings.Join(firstN(terms, 3), ", "),
		Severity:   model.SeverityMedium,
		Suggestion: "Please specify exact numbers or ranges instead of ambiguous quantities",
	}
}

// incompleteFunctional fires on action language with neither a role nor an outcome
func (x *RuleDetector) incompleteFunctional(lowered string) *model.Ambiguity {
	rules := x.lex.Functional
	if !containsAny(lowered, rules.Actions) {
		return nil
	}
	if containsAny(lowered, rules.Roles) || containsAny(lowered, rules.Outcomes) {
		return nil
	}
	return &model.Ambiguity{
		Type:       model.AmbiguityIncomplete,
		Field:      "functional_requirement",
		Reason:     "Functional requirement lacks user role or outcome description",
		Severity:   model.SeverityHigh,
		Suggestion: "Please specify who will use this feature and what outcome it should achieve",
	}
}

func (x *RuleDetector) nonFunctional(lowered string, history []string) *model.Ambiguity {
	rules := x.lex.NonFunctional
	if len(rules.Categories) == 0 || len(history) < rules.MinHistory {
		return nil
	}

	all := lowered + " " + strings.ToLower(strings.Join(history, " "))

	var missing []string
	covered := 0
	for _, c := range rules.Categories {
		if containsAny(all, c.Keywords) {
			covered++
		} else {
			missing = append(missing, c.Name)
		}
	}
	if covered >= rules.MinCovered {
		return nil
	}

	return &model.Ambiguity{
		Type:       model.AmbiguityMissing,
		Field:      "non_functional_requirements",
		Reason:     "Non-functional requirements not sufficiently addressed",
		Severity:   model.SeverityMedium,
		Suggestion: "Consider specifying requirements for: " + strings.Join(firstN(missing, 3), ", "),
	}
}

// undefinedTerms looks for acronyms in the original casing
func (x *RuleDetector) undefinedTerms(text string) *model.Ambiguity {
	var terms []string
	for _, m := range acronymPattern.FindAllString(text, -1) {
		if _, ok := x.lex.common[m]; ok || slices.Contains(terms, m) {
			continue
		}
		terms = append(terms, m)
	}
	if len(terms) == 0 {
		return nil
	}
	slices.Sort(terms)

	return &model.Ambiguity{
		Type:       model.AmbiguityAmbiguous,
		Field:      "technical_terms",
		Reason:     "Technical terms or acronyms detected: " + strings.Join(firstN(terms, 3), ", "),
		Severity:   model.SeverityLow,
		Suggestion: "Please define or clarify any technical terms or acronyms",
	}
}

func firstN(list []string, n int) []string {
	if len(list) > n {
		return list[:n]
	}
	return list
}

func ruleSummary(found []*model.Ambiguity, score int) string {
	if len(found) == 0 {
		return fmt.Sprintf("No ambiguities detected (clarity %d/100)", score)
	}

	counts := map[model.Severity]int{}
	for _, a := range found {
		counts[a.Severity]++
	}
	return fmt.Sprintf("%d ambiguities detected (high: %d, medium: %d, low: %d), clarity %d/100",
		len(found), counts[model.SeverityHigh], counts[model.SeverityMedium], counts[model.SeverityLow], score)
}
