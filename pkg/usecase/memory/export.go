package memory

import (
	"context"
	"encoding/json"
	"io"

	"github.com/m-mizutani/elicit/pkg/interfaces"
	"github.com/m-mizutani/elicit/pkg/model"
	"github.com/m-mizutani/elicit/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
)

// ExportEntry is one line of a memory export
type ExportEntry struct {
	model.MemoryRecord
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Export writes every memory of the project to w as JSON lines, oldest first, and returns the
// number of entries written. Rows whose vector entry is missing are skipped and logged.
func (c *Coordinator) Export(ctx context.Context, db interfaces.Executor, projectID int64, w io.Writer) (int, error) {
	logger := logging.From(ctx)

	records, err := c.repo.ListByProject(ctx, db, projectID)
	if err != nil {
		logger.Error("failed to list memories for export", "error", err, "project_id", projectID)
		return 0, storeError(err, "failed to list memories", goerr.V("project_id", projectID))
	}

	enc := json.NewEncoder(w)
	written := 0
	for _, rec := range records {
		item, err := c.index.Get(ctx, rec.VectorID)
		if err != nil {
			logger.Error("failed to get vector entry for export", "error", err, "vector_id", rec.VectorID)
			return written, storeError(err, "failed to get vector entry", goerr.V("vector_id", rec.VectorID))
		}
		if item == nil {
			logger.Warn("memory row without vector entry, skipped", "memory_id", rec.ID, "vector_id", rec.VectorID)
			continue
		}

		if err := enc.Encode(&ExportEntry{
			MemoryRecord: *rec,
			Text:         item.Text,
			Metadata:     item.Metadata,
		}); err != nil {
			return written, goerr.Wrap(err, "failed to write export entry", goerr.V("memory_id", rec.ID))
		}
		written++
	}

	return written, nil
}
