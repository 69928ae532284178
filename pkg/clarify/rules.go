package clarify

import (
	_ "embed"
	"os"
	"regexp"
	"strings"

	"github.com/m-mizutani/elicit/pkg/model"
	"github.com/m-mizutani/goerr/v2"
	"gopkg.in/yaml.v3"
)

//go:embed rules.yaml
var defaultRulesRaw []byte

// Rules is the lexicon evaluated by RuleDetector
type Rules struct {
	CriticalFields []CriticalField        `yaml:"critical_fields"`
	VagueTerms     []string               `yaml:"vague_terms"`
	Quantifiers    []string               `yaml:"quantifiers"`
	Functional     FunctionalRules        `yaml:"functional"`
	NonFunctional  NonFunctionalRules     `yaml:"non_functional"`
	CommonAcronyms []string               `yaml:"common_acronyms"`
	Penalties      map[model.Severity]int `yaml:"penalties"`
}

// CriticalField is a piece of information every requirement set must eventually name
type CriticalField struct {
	Name     string   `yaml:"name"`
	Keywords []string `yaml:"keywords"`
}

type FunctionalRules struct {
	Actions  []string `yaml:"actions"`
	Roles    []string `yaml:"roles"`
	Outcomes []string `yaml:"outcomes"`
}

// NonFunctionalRules fires once the conversation has at least MinHistory turns and fewer than
// MinCovered categories were mentioned anywhere in it.
type NonFunctionalRules struct {
	MinCovered int           `yaml:"min_covered"`
	MinHistory int           `yaml:"min_history"`
	Categories []NFRCategory `yaml:"categories"`
}

type NFRCategory struct {
	Name     string   `yaml:"name"`
	Keywords []string `yaml:"keywords"`
}

// DefaultRules returns the built-in lexicon
func DefaultRules() *Rules {
	rules, err := parseRules(defaultRulesRaw)
	if err != nil {
		panic("embedded rules.yaml is invalid: " + err.Error())
	}
	return rules
}

// LoadRules reads a lexicon from a YAML file. An empty path returns the built-in lexicon.
func LoadRules(path string) (*Rules, error) {
	if path == "" {
		return DefaultRules(), nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read rules file", goerr.V("file", path))
	}

	rules, err := parseRules(content)
	if err != nil {
		return nil, goerr.Wrap(err, "invalid rules file", goerr.V("file", path))
	}
	return rules, nil
}

func parseRules(content []byte) (*Rules, error) {
	var rules Rules
	if err := yaml.Unmarshal(content, &rules); err != nil {
		return nil, goerr.Wrap(err, "failed to parse rules YAML")
	}
	if err := rules.validate(); err != nil {
		return nil, err
	}
	return &rules, nil
}

func (x *Rules) validate() error {
	for _, f := range x.CriticalFields {
		if f.Name == "" {
			return goerr.Wrap(model.ErrValidation, "critical field without name")
		}
	}
	for sev, p := range x.Penalties {
		if model.ParseSeverity(string(sev)) != sev {
			return goerr.Wrap(model.ErrValidation, "unknown severity in penalties", goerr.V("severity", sev))
		}
		if p < 0 {
			return goerr.Wrap(model.ErrValidation, "penalty must not be negative", goerr.V("severity", sev))
		}
	}
	return nil
}

// lexicon is Rules compiled for matching
type lexicon struct {
	*Rules
	vague       []*term
	quantifiers []*term
	common      map[string]struct{}
}

type term struct {
	word string
	re   *regexp.Regexp
}

var acronymPattern = regexp.MustCompile(`\b[A-Z]{2,}\b`)

func compile(rules *Rules) *lexicon {
	lex := &lexicon{
		Rules:       rules,
		vague:       compileTerms(rules.VagueTerms),
		quantifiers: compileTerms(rules.Quantifiers),
		common:      make(map[string]struct{}, len(rules.CommonAcronyms)),
	}
	for _, a := range rules.CommonAcronyms {
		lex.common[a] = struct{}{}
	}
	return lex
}

func compileTerms(words []string) []*term {
	terms := make([]*term, 0, len(words))
	for _, w := range words {
		w = strings.ToLower(strings.TrimSpace(w))
		if w == "" {
			continue
		}
		terms = append(terms, &term{
			word: w,
			re:   regexp.MustCompile(`\b` + regexp.QuoteMeta(w) + `\b`),
		})
	}
	return terms
}

// matchTerms returns the terms found in lowered text, in lexicon order
func matchTerms(terms []*term, lowered string) []string {
	var found []string
	for _, t := range terms {
		if t.re.MatchString(lowered) {
			found = append(found, t.word)
		}
	}
	return found
}

func containsAny(lowered string, keywords []string) bool {
	for _, k := range keywords {
		if k != "" && strings.Contains(lowered, strings.ToLower(k)) {
			return true
		}
	}
	return false
}

func (x *lexicon) penalty(sev model.Severity) int {
	return x.Penalties[sev]
}
