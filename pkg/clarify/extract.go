package clarify

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/m-mizutani/elicit/pkg/model"
	"github.com/m-mizutani/goerr/v2"
)

var (
	fencedJSONPattern = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")
	braceJSONPattern  = regexp.MustCompile(`(?s)\{.*\}`)
)

// ExtractJSON decodes the JSON object embedded in a language model response into v. It tries
// the whole text, then a fenced code block, then the widest brace delimited substring.
func ExtractJSON(text string, v any) error {
	text = strings.TrimSpace(text)

	if err := json.Unmarshal([]byte(text), v); err == nil {
		return nil
	}

	if m := fencedJSONPattern.FindStringSubmatch(text); m != nil {
		if err := json.Unmarshal([]byte(m[1]), v); err == nil {
			return nil
		}
	}

	if m := braceJSONPattern.FindString(text); m != "" {
		if err := json.Unmarshal([]byte(m), v); err == nil {
			return nil
		}
	}

	return goerr.Wrap(model.ErrMalformedResponse, "no JSON object found in response",
		goerr.V("response", truncate(text, 200)))
}

func truncate(s string, n int) string {
	if r := []rune(s); len(r) > n {
		return string(r[:n]) + "..."
	}
	return s
}
