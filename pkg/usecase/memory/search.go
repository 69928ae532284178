package memory

import (
	"context"
	"strings"

	"github.com/m-mizutani/elicit/pkg/interfaces"
	"github.com/m-mizutani/elicit/pkg/model"
	"github.com/m-mizutani/elicit/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
)

// SearchInput describes a similarity search. Limit bounds the candidates fetched from the
// vector index, before the threshold is applied. An empty SourceKind searches all kinds.
type SearchInput struct {
	ProjectID  int64
	Query      string
	Limit      int
	Threshold  float64
	SourceKind model.SourceKind
}

// DefaultSearchInput returns a search over all source kinds with the default limit and threshold
func DefaultSearchInput(projectID int64, query string) SearchInput {
	return SearchInput{
		ProjectID: projectID,
		Query:     query,
		Limit:     DefaultLimit,
		Threshold: DefaultThreshold,
	}
}

func (x SearchInput) validate() error {
	if x.ProjectID <= 0 {
		return goerr.Wrap(model.ErrValidation, "project ID must be positive", goerr.V("project_id", x.ProjectID))
	}
	if strings.TrimSpace(x.Query) == "" {
		return goerr.Wrap(model.ErrValidation, "query is required")
	}
	if x.Threshold < 0 || x.Threshold > 1 {
		return goerr.Wrap(model.ErrValidation, "threshold must be between 0 and 1", goerr.V("threshold", x.Threshold))
	}
	if x.SourceKind != "" {
		if err := x.SourceKind.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Search returns the project's memories most similar to the query, most similar first. Vector
// entries without a relational row are dropped and logged.
func (c *Coordinator) Search(ctx context.Context, db interfaces.Executor, input SearchInput) ([]*model.SearchResult, error) {
	if err := input.validate(); err != nil {
		return nil, err
	}
	limit := input.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}

	logger := logging.From(ctx)

	filter := map[string]any{
		model.MetaProjectID: input.ProjectID,
	}
	if input.SourceKind != "" {
		filter[model.MetaSourceKind] = string(input.SourceKind)
	}

	matches, err := c.index.Query(ctx, input.Query, filter, limit)
	if err != nil {
		logger.Error("failed to query vector index", "error", err, "project_id", input.ProjectID)
		return nil, storeError(err, "failed to query vector index", goerr.V("project_id", input.ProjectID))
	}

	results := make([]*model.SearchResult, 0, len(matches))
	for _, match := range matches {
		similarity := match.Similarity()
		if similarity < input.Threshold {
			continue
		}

		rec, err := c.repo.FindByVectorID(ctx, db, match.ID)
		if err != nil {
			logger.Error("failed to enrich search result", "error", err, "vector_id", match.ID)
			return nil, storeError(err, "failed to enrich search result", goerr.V("vector_id", match.ID))
		}
		if rec == nil || rec.ProjectID != input.ProjectID {
			logger.Warn("vector entry without memory row, skipped",
				"vector_id", match.ID, "project_id", input.ProjectID)
			continue
		}

		results = append(results, &model.SearchResult{
			MemoryRecord: *rec,
			Text:         match.Text,
			Similarity:   similarity,
			Metadata:     match.Metadata,
		})
	}

	logger.Debug("memory search completed",
		"project_id", input.ProjectID,
		"candidates", len(matches),
		"results", len(results),
		"threshold", input.Threshold)

	return results, nil
}
