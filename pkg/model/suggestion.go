package model

// SuggestionCategory groups feature suggestions offered to the client
type SuggestionCategory string

const (
	SuggestionAdditionalFeatures       SuggestionCategory = "ADDITIONAL_FEATURES"
	SuggestionAlternativeScenarios     SuggestionCategory = "ALTERNATIVE_SCENARIOS"
	SuggestionIntegrationOpportunities SuggestionCategory = "INTEGRATION_OPPORTUNITIES"
	SuggestionEnhancementIdeas         SuggestionCategory = "ENHANCEMENT_IDEAS"
	SuggestionFutureConsiderations     SuggestionCategory = "FUTURE_CONSIDERATIONS"
)

// SuggestionCategories lists every category in presentation order
var SuggestionCategories = []SuggestionCategory{
	SuggestionAdditionalFeatures,
	SuggestionAlternativeScenarios,
	SuggestionIntegrationOpportunities,
	SuggestionEnhancementIdeas,
	SuggestionFutureConsiderations,
}

// ParseSuggestionCategory falls back to ADDITIONAL_FEATURES for unknown names
func ParseSuggestionCategory(s string) SuggestionCategory {
	for _, c := range SuggestionCategories {
		if string(c) == s {
			return c
		}
	}
	return SuggestionAdditionalFeatures
}

// Suggestion is a feature or scenario the client did not ask for but may want
type Suggestion struct {
	Category         SuggestionCategory `json:"category"`
	Title            string             `json:"title"`
	Description      string             `json:"description"`
	ValueProposition string             `json:"value_proposition"`
	Complexity       string             `json:"complexity,omitempty"`
	Priority         string             `json:"priority,omitempty"`
}
