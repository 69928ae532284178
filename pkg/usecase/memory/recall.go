package memory

import (
	"context"
	"fmt"
	"strings"

	"github.com/m-mizutani/elicit/pkg/interfaces"
	"github.com/m-mizutani/elicit/pkg/model"
	"github.com/m-mizutani/elicit/pkg/utils/logging"
)

// recallSnippetLength is how many runes of each memory are quoted in the context text
const recallSnippetLength = 100

// Recall is past project context retrieved for a turn
type Recall struct {
	Memories []*model.SearchResult
	// Summary is a human readable digest used as additional prompt context
	Summary string
}

func (x *Recall) HasContext() bool {
	return x != nil && len(x.Memories) > 0
}

// Texts returns the recalled memory texts, most relevant first
func (x *Recall) Texts() []string {
	if x == nil {
		return nil
	}
	texts := make([]string, len(x.Memories))
	for i, m := range x.Memories {
		texts[i] = m.Text
	}
	return texts
}

// Recall searches the project's memories for context related to text. A failed search is
// logged and yields an empty recall; it never fails the caller.
func (c *Coordinator) Recall(ctx context.Context, db interfaces.Executor, projectID int64, text string, limit int, threshold float64) *Recall {
	results, err := c.Search(ctx, db, SearchInput{
		ProjectID: projectID,
		Query:     text,
		Limit:     limit,
		Threshold: threshold,
	})
	if err != nil {
		logging.From(ctx).Warn("memory recall failed, continuing without context",
			"error", err, "project_id", projectID)
		return &Recall{}
	}

	return &Recall{
		Memories: results,
		Summary:  summarizeRecall(results),
	}
}

func summarizeRecall(results []*model.SearchResult) string {
	if len(results) == 0 {
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d relevant past interactions:\n", len(results))
	for i, r := range results {
		text := r.Text
		if runes := []rune(text); len(runes) > recallSnippetLength {
			text = string(runes[:recallSnippetLength]) + "..."
		}
		fmt.Fprintf(&b, "%d. [%s] (relevance: %.0f%%) %s\n", i+1, r.SourceKind, r.Similarity*100, text)
	}
	return strings.TrimRight(b.String(), "\n")
}

// Stats is a project's memory summary together with coverage flags
type Stats struct {
	*model.MemorySummary
	VectorEntries    int  `json:"vector_entries"`
	HasRequirements  bool `json:"has_requirements"`
	HasConversations bool `json:"has_conversations"`
	HasFeedback      bool `json:"has_feedback"`
}

// Stats summarizes the project and reports which kinds of context exist. VectorEntries counts
// the whole vector index, not only this project.
func (c *Coordinator) Stats(ctx context.Context, db interfaces.Executor, projectID int64) (*Stats, error) {
	summary, err := c.Summarize(ctx, db, projectID)
	if err != nil {
		return nil, err
	}

	count, err := c.index.Count(ctx)
	if err != nil {
		logging.From(ctx).Error("failed to count vector entries", "error", err)
		return nil, storeError(err, "failed to count vector entries")
	}

	return &Stats{
		MemorySummary:    summary,
		VectorEntries:    count,
		HasRequirements:  summary.BySourceKind[model.SourceKindCRS] > 0,
		HasConversations: summary.BySourceKind[model.SourceKindMessage] > 0,
		HasFeedback:      summary.BySourceKind[model.SourceKindComment] > 0,
	}, nil
}
