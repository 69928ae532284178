package workflow

import (
	"context"
	"log/slog"
	"regexp"
	"strings"

	"github.com/m-mizutani/elicit/pkg/model"
	"github.com/m-mizutani/elicit/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/open-policy-agent/opa/v1/topdown/print"
)

// IntentClassifier decides what kind of turn the user sent
type IntentClassifier interface {
	Classify(ctx context.Context, text string, history []string) model.Intent
}

var (
	greetingPattern = regexp.MustCompile(`^(hi|hello|hey|good (morning|afternoon|evening)|thanks|thank you)\b`)
	questionPattern = regexp.MustCompile(`^(what|how|why|when|where|who|which|can you|could you|do you|does|is there|are there)\b`)
)

// maxGreetingWords keeps "hello, we need an invoicing system ..." a requirement
const maxGreetingWords = 5

// RuleClassifier classifies by surface form: short salutations are greetings, interrogatives are
// questions, everything else is a requirement statement.
type RuleClassifier struct{}

func (RuleClassifier) Classify(ctx context.Context, text string, history []string) model.Intent {
	lowered := strings.ToLower(strings.TrimSpace(text))

	if greetingPattern.MatchString(lowered) && len(strings.Fields(lowered)) <= maxGreetingWords {
		return model.IntentGreeting
	}
	if strings.HasSuffix(lowered, "?") || questionPattern.MatchString(lowered) {
		return model.IntentQuestion
	}
	return model.IntentRequirement
}

// regoPrintHook forwards Rego print() output to the logger
type regoPrintHook struct {
	logger *slog.Logger
}

func (h *regoPrintHook) Print(ctx print.Context, message string) error {
	h.logger.Debug("[Rego] " + message)
	return nil
}

// PolicyClassifier evaluates `data.intent` and expects an object with an `intent` string. An
// undefined, unknown or failing result falls back to the built-in rules.
type PolicyClassifier struct {
	query    *rego.PreparedEvalQuery
	fallback IntentClassifier
}

// NewIntentClassifier loads intent policies from policyDir. Without a directory or without policy
// files it returns RuleClassifier.
func NewIntentClassifier(ctx context.Context, policyDir string) (IntentClassifier, error) {
	if policyDir == "" {
		return RuleClassifier{}, nil
	}

	query, err := loadPolicy(ctx, policyDir, "data.intent")
	if err != nil {
		return nil, goerr.Wrap(err, "failed to load intent policy", goerr.V("policy_dir", policyDir))
	}
	if query == nil {
		return RuleClassifier{}, nil
	}

	return &PolicyClassifier{
		query:    query,
		fallback: RuleClassifier{},
	}, nil
}

func (x *PolicyClassifier) Classify(ctx context.Context, text string, history []string) model.Intent {
	logger := logging.From(ctx)

	if history == nil {
		history = []string{}
	}
	input := map[string]any{
		"text":    text,
		"history": history,
	}

	intent, err := x.eval(ctx, input, logger)
	if err != nil {
		logger.Warn("intent policy failed, using built-in rules", "error", err)
		return x.fallback.Classify(ctx, text, history)
	}
	if intent == "" {
		return x.fallback.Classify(ctx, text, history)
	}
	return intent
}

func (x *PolicyClassifier) eval(ctx context.Context, input map[string]any, logger *slog.Logger) (model.Intent, error) {
	rs, err := x.query.Eval(ctx, rego.EvalInput(input), rego.EvalPrintHook(&regoPrintHook{logger: logger}))
	if err != nil {
		return "", goerr.Wrap(err, "failed to evaluate intent policy")
	}

	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return "", nil
	}

	data, ok := rs[0].Expressions[0].Value.(map[string]any)
	if !ok {
		return "", goerr.New("invalid intent policy result: not an object")
	}

	name := getString(data, "intent")
	if name == "" {
		return "", nil
	}

	intent, ok := model.ParseIntent(name)
	if !ok {
		return "", goerr.New("unknown intent in policy result", goerr.V("intent", name))
	}
	return intent, nil
}

func getString(m map[string]any, key string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
