package clarify_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/m-mizutani/elicit/pkg/clarify"
	"github.com/m-mizutani/elicit/pkg/model"
	"github.com/m-mizutani/gt"
)

func findAmbiguity(analysis *model.Analysis, kind model.AmbiguityType, field string) *model.Ambiguity {
	for _, a := range analysis.Ambiguities {
		if a.Type == kind && a.Field == field {
			return a
		}
	}
	return nil
}

func countType(analysis *model.Analysis, kind model.AmbiguityType) int {
	n := 0
	for _, a := range analysis.Ambiguities {
		if a.Type == kind {
			n++
		}
	}
	return n
}

const clearRequirement = "The project name is Ledger. Description: an invoicing tool for small firms. " +
	"Target users are accountants and their customers. Main features include invoice export and payment tracking. " +
	"Business goals are to reduce billing errors by 30 percent within 6 months."

func TestRuleDetectorVagueInput(t *testing.T) {
	ctx := context.Background()
	d := clarify.NewRuleDetector(nil)

	result := clarify.Evaluate(ctx, d, "I want a fast and user-friendly system that can handle some users.", clarify.Context{})

	vague := findAmbiguity(result.Analysis, model.AmbiguityVague, "language_clarity")
	gt.V(t, vague).NotNil()
	gt.S(t, vague.Reason).Contains("fast")
	gt.S(t, vague.Reason).Contains("user-friendly")
	gt.Equal(t, vague.Severity, model.SeverityMedium)

	quantifier := findAmbiguity(result.Analysis, model.AmbiguityAmbiguous, "quantifiers")
	gt.V(t, quantifier).NotNil()
	gt.S(t, quantifier.Reason).Contains("some")

	// "users" mentions the audience; the other four fields are missing
	gt.Equal(t, countType(result.Analysis, model.AmbiguityMissing), 4)
	gt.V(t, findAmbiguity(result.Analysis, model.AmbiguityMissing, "target_users")).Nil()

	gt.Equal(t, result.ClarityScore, 0)
	gt.True(t, result.NeedsClarification)
	gt.A(t, result.Questions).Length(clarify.MaxQuestions)
}

func TestRuleDetectorExtractedFields(t *testing.T) {
	ctx := context.Background()
	d := clarify.NewRuleDetector(nil)

	analysis := d.Detect(ctx, clearRequirement, clarify.Context{
		ExtractedFields: map[string]any{
			"project_name":        "Ledger",
			"project_description": "An invoicing tool for small firms",
			"target_users":        []any{"accountants", "customers"},
			"main_functionality":  []any{"invoice export", "payment tracking"},
			"business_goals":      "Reduce billing errors by 30 percent",
		},
	})
	gt.Equal(t, countType(analysis, model.AmbiguityMissing), 0)
}

func TestRuleDetectorExtractedFieldsOnly(t *testing.T) {
	ctx := context.Background()
	d := clarify.NewRuleDetector(nil)

	// Nothing in the text mentions the fields, the extracted values alone satisfy them
	analysis := d.Detect(ctx, "Invoices are exported as CSV files.", clarify.Context{
		ExtractedFields: map[string]any{
			"project_name":        "Ledger",
			"project_description": "Invoicing",
			"target_users":        "Accountants",
			"main_functionality":  "Export",
			"business_goals":      "Fewer errors",
		},
	})
	gt.Equal(t, countType(analysis, model.AmbiguityMissing), 0)

	// An empty extracted value does not count
	analysis = d.Detect(ctx, "Invoices are exported as CSV files.", clarify.Context{
		ExtractedFields: map[string]any{"project_name": ""},
	})
	gt.V(t, findAmbiguity(analysis, model.AmbiguityMissing, "project_name")).NotNil()
}

func TestRuleDetectorClearInput(t *testing.T) {
	ctx := context.Background()
	d := clarify.NewRuleDetector(nil)

	result := clarify.Evaluate(ctx, d, clearRequirement, clarify.Context{})
	gt.A(t, result.Ambiguities).Length(0)
	gt.Equal(t, result.ClarityScore, 100)
	gt.A(t, result.Questions).Length(0)
	gt.False(t, result.NeedsClarification)
}

func TestRuleDetectorIsDeterministic(t *testing.T) {
	ctx := context.Background()
	d := clarify.NewRuleDetector(nil)
	in := clarify.Context{ConversationHistory: []string{"a", "b", "c", "d"}}
	text := "The system should support SSO and LDAP for many admins, maybe via the API."

	first := d.Detect(ctx, text, in)
	for i := 0; i < 5; i++ {
		gt.Equal(t, *d.Detect(ctx, text, in), *first)
	}
}

func TestRuleDetectorFunctionalRequirement(t *testing.T) {
	ctx := context.Background()
	d := clarify.NewRuleDetector(nil)

	analysis := d.Detect(ctx, "The system shall export invoices.", clarify.Context{})
	incomplete := findAmbiguity(analysis, model.AmbiguityIncomplete, "functional_requirement")
	gt.V(t, incomplete).NotNil()
	gt.Equal(t, incomplete.Severity, model.SeverityHigh)

	analysis = d.Detect(ctx, "The system shall export invoices so that accountants can file taxes.", clarify.Context{})
	gt.V(t, findAmbiguity(analysis, model.AmbiguityIncomplete, "functional_requirement")).Nil()
}

func TestRuleDetectorNonFunctional(t *testing.T) {
	ctx := context.Background()
	d := clarify.NewRuleDetector(nil)
	history := []string{"hello", "we build invoices", "for accountants", "with export"}

	analysis := d.Detect(ctx, "Invoices are exported.", clarify.Context{ConversationHistory: history})
	nfr := findAmbiguity(analysis, model.AmbiguityMissing, "non_functional_requirements")
	gt.V(t, nfr).NotNil()
	gt.Equal(t, nfr.Suggestion, "Consider specifying requirements for: performance, security, scalability")

	// Too early in the conversation
	analysis = d.Detect(ctx, "Invoices are exported.", clarify.Context{ConversationHistory: history[:3]})
	gt.V(t, findAmbiguity(analysis, model.AmbiguityMissing, "non_functional_requirements")).Nil()

	// Two categories covered across text and history
	analysis = d.Detect(ctx, "Response time under 200ms.", clarify.Context{
		ConversationHistory: append([]string{"login needs authentication"}, history...),
	})
	gt.V(t, findAmbiguity(analysis, model.AmbiguityMissing, "non_functional_requirements")).Nil()
}

func TestRuleDetectorAcronyms(t *testing.T) {
	ctx := context.Background()
	d := clarify.NewRuleDetector(nil)

	analysis := d.Detect(ctx, "Sync with SAP and LDAP through the API, export PDF.", clarify.Context{})
	terms := findAmbiguity(analysis, model.AmbiguityAmbiguous, "technical_terms")
	gt.V(t, terms).NotNil()
	gt.Equal(t, terms.Severity, model.SeverityLow)
	gt.Equal(t, terms.Reason, "Technical terms or acronyms detected: LDAP, SAP")

	analysis = d.Detect(ctx, "Export a PDF through the API.", clarify.Context{})
	gt.V(t, findAmbiguity(analysis, model.AmbiguityAmbiguous, "technical_terms")).Nil()
}

func TestRuleDetectorWordBoundary(t *testing.T) {
	ctx := context.Background()
	d := clarify.NewRuleDetector(nil)

	// "handsome" and "breakfast" must not match "some" and "fast"
	analysis := d.Detect(ctx, "A handsome breakfast menu.", clarify.Context{})
	gt.V(t, findAmbiguity(analysis, model.AmbiguityVague, "language_clarity")).Nil()
	gt.V(t, findAmbiguity(analysis, model.AmbiguityAmbiguous, "quantifiers")).Nil()
}

func TestLoadRules(t *testing.T) {
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "rules.yaml")
	gt.NoError(t, os.WriteFile(path, []byte(`
critical_fields:
  - name: budget
    keywords: ["budget", "cost"]
vague_terms: ["soon"]
penalties:
  high: 50
  medium: 10
`), 0644))

	rules, err := clarify.LoadRules(path)
	gt.NoError(t, err)

	d := clarify.NewRuleDetector(rules)
	analysis := d.Detect(ctx, "We need it soon.", clarify.Context{})
	gt.A(t, analysis.Ambiguities).Length(2)
	gt.V(t, findAmbiguity(analysis, model.AmbiguityMissing, "budget")).NotNil()
	gt.V(t, findAmbiguity(analysis, model.AmbiguityVague, "language_clarity")).NotNil()
	gt.Equal(t, analysis.ClarityScore, 40)

	t.Run("missing file", func(t *testing.T) {
		_, err := clarify.LoadRules(filepath.Join(t.TempDir(), "none.yaml"))
		gt.Error(t, err)
	})

	t.Run("unknown severity", func(t *testing.T) {
		bad := filepath.Join(t.TempDir(), "bad.yaml")
		gt.NoError(t, os.WriteFile(bad, []byte("penalties:\n  critical: 30\n"), 0644))
		_, err := clarify.LoadRules(bad)
		gt.Error(t, err)
	})

	t.Run("empty path uses defaults", func(t *testing.T) {
		rules, err := clarify.LoadRules("")
		gt.NoError(t, err)
		gt.A(t, rules.CriticalFields).Length(5)
	})
}

func TestGenerateQuestions(t *testing.T) {
	ambiguities := []*model.Ambiguity{
		{Type: model.AmbiguityAmbiguous, Field: "technical_terms", Severity: model.SeverityLow, Suggestion: "define"},
		{Type: model.AmbiguityVague, Field: "language_clarity", Severity: model.SeverityMedium},
		{Type: model.AmbiguityMissing, Field: "project_name", Severity: model.SeverityHigh},
		{Type: model.AmbiguityMissing, Field: "deadline", Severity: model.SeverityHigh, Suggestion: "When is the deadline?"},
		{Type: model.AmbiguityMissing, Field: "budget", Severity: model.SeverityMedium},
	}

	questions := clarify.GenerateQuestions(ambiguities)
	gt.Equal(t, questions, []string{
		"What would you like to name this project?",
		"When is the deadline?",
		"Could you provide more specific details? For example, what specific metrics or criteria define success?",
	})

	t.Run("capped", func(t *testing.T) {
		var many []*model.Ambiguity
		for i := 0; i < 8; i++ {
			many = append(many, &model.Ambiguity{
				Type:       model.AmbiguityMissing,
				Field:      "field",
				Severity:   model.SeverityHigh,
				Suggestion: "question " + strings.Repeat("?", i+1),
			})
		}
		gt.A(t, clarify.GenerateQuestions(many)).Length(clarify.MaxQuestions)
	})

	t.Run("low only", func(t *testing.T) {
		gt.A(t, clarify.GenerateQuestions(ambiguities[:1])).Length(0)
	})
}

func TestNeedsClarification(t *testing.T) {
	amb := []*model.Ambiguity{{Type: model.AmbiguityVague, Field: "x", Severity: model.SeverityLow}}

	testCases := map[string]struct {
		analysis  *model.Analysis
		questions []string
		expect    bool
	}{
		"finding with question":    {&model.Analysis{Ambiguities: amb, ClarityScore: 95}, []string{"q"}, true},
		"low score with question":  {&model.Analysis{ClarityScore: 60}, []string{"q"}, true},
		"finding without question": {&model.Analysis{Ambiguities: amb, ClarityScore: 20}, nil, false},
		"clear":                    {&model.Analysis{ClarityScore: 90}, []string{"q"}, false},
		"nil analysis":             {nil, []string{"q"}, false},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			gt.Equal(t, clarify.NeedsClarification(tc.analysis, tc.questions), tc.expect)
		})
	}
}

func TestRuleDetectorFunctionalRoleOrOutcome(t *testing.T) {
	ctx := context.Background()
	d := clarify.NewRuleDetector(nil)

	// Names all five critical fields; "audience" covers target users but is not a role
	base := "Project name: Stockroom. Description: an inventory tool for warehouse staff. " +
		"Audience: warehouse staff. Main features: shelf counting. Business goals: cut counting time in half. " +
		"It will provide stock counting."

	result := clarify.Evaluate(ctx, d, base, clarify.Context{})
	gt.A(t, result.Ambiguities).Length(1)
	incomplete := findAmbiguity(result.Analysis, model.AmbiguityIncomplete, "functional_requirement")
	gt.V(t, incomplete).NotNil()
	gt.Equal(t, incomplete.Severity, model.SeverityHigh)
	gt.Equal(t, result.ClarityScore, 80)
	gt.True(t, result.NeedsClarification)

	for _, sentence := range []string{
		"Store users can start a count.",
		"An admin approves each count.",
		"Customers see stock levels.",
		"Each client receives a report.",
		"Counts are exported so that managers can reorder.",
		"Counts are locked in order to keep history.",
		"Counts are compared to achieve accuracy.",
	} {
		t.Run(sentence, func(t *testing.T) {
			result := clarify.Evaluate(ctx, d, base+" "+sentence, clarify.Context{})
			gt.V(t, findAmbiguity(result.Analysis, model.AmbiguityIncomplete, "functional_requirement")).Nil()
			gt.A(t, result.Ambiguities).Length(0)
			gt.Equal(t, result.ClarityScore, 100)
			gt.False(t, result.NeedsClarification)
		})
	}
}
