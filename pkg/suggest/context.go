package suggest

import (
	"context"
	"strings"

	"github.com/m-mizutani/elicit/pkg/interfaces"
	"github.com/m-mizutani/elicit/pkg/usecase/memory"
	"github.com/m-mizutani/elicit/pkg/utils/logging"
)

// Context is the project knowledge suggestions are built on, one list of memory texts per
// category
type Context struct {
	ExistingRequirements []string
	Features             []string
	UseCases             []string
	TechnicalDetails     []string
}

// IsEmpty reports whether no category found any memory
func (x Context) IsEmpty() bool {
	return len(x.ExistingRequirements)+len(x.Features)+len(x.UseCases)+len(x.TechnicalDetails) == 0
}

type contextQuery struct {
	query     string
	limit     int
	threshold float64
	// maxItems bounds how many results are quoted in the prompt
	maxItems int
	target   func(*Context) *[]string
}

var contextQueries = []contextQuery{
	{
		query:     "requirements specification functional non-functional",
		limit:     10,
		threshold: 0.2,
		maxItems:  5,
		target:    func(c *Context) *[]string { return &c.ExistingRequirements },
	},
	{
		query:     "feature functionality capability module component",
		limit:     10,
		threshold: 0.2,
		maxItems:  5,
		target:    func(c *Context) *[]string { return &c.Features },
	},
	{
		query:     "use case scenario workflow process user story",
		limit:     10,
		threshold: 0.2,
		maxItems:  5,
		target:    func(c *Context) *[]string { return &c.UseCases },
	},
	{
		query:     "technology stack architecture database API integration",
		limit:     5,
		threshold: 0.3,
		maxItems:  3,
		target:    func(c *Context) *[]string { return &c.TechnicalDetails },
	},
}

// Gather searches the project's memories once per category. A failed search leaves its
// category empty and is logged; Gather itself never fails.
func Gather(ctx context.Context, coord *memory.Coordinator, db interfaces.Executor, projectID int64) Context {
	logger := logging.From(ctx)

	var pc Context
	for _, q := range contextQueries {
		results, err := coord.Search(ctx, db, memory.SearchInput{
			ProjectID: projectID,
			Query:     q.query,
			Limit:     q.limit,
			Threshold: q.threshold,
		})
		if err != nil {
			logger.Warn("suggestion context search failed, continuing", "error", err,
				"project_id", projectID, "query", q.query)
			continue
		}

		texts := q.target(&pc)
		for _, r := range results {
			if len(*texts) >= q.maxItems {
				break
			}
			*texts = append(*texts, r.Text)
		}
	}

	logger.Debug("suggestion context gathered",
		"project_id", projectID,
		"requirements", len(pc.ExistingRequirements),
		"features", len(pc.Features),
		"use_cases", len(pc.UseCases),
		"technical_details", len(pc.TechnicalDetails))
	return pc
}

var requestKeywords = []string{
	"suggest",
	"recommend",
	"additional",
	"more features",
	"what else",
	"enhance",
	"improve",
	"extend",
	"expand",
}

// Requested reports whether the client asked for ideas beyond the stated requirement
func Requested(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range requestKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
