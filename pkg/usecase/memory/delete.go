package memory

import (
	"context"
	"database/sql"
	"errors"

	"github.com/m-mizutani/elicit/pkg/interfaces"
	"github.com/m-mizutani/elicit/pkg/model"
	"github.com/m-mizutani/elicit/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
)

// DeleteByVectorID removes a memory from both stores and reports whether it existed. A vector
// entry with no relational row is still removed, but reported as not found.
func (c *Coordinator) DeleteByVectorID(ctx context.Context, db interfaces.Session, vectorID model.VectorID) (bool, error) {
	rec, err := c.Retrieve(ctx, db, vectorID)
	if err != nil {
		return false, err
	}

	if rec == nil {
		if err := c.index.Delete(ctx, vectorID); err != nil {
			logging.From(ctx).Error("failed to delete orphaned vector entry", "error", err, "vector_id", vectorID)
			return false, storeError(err, "failed to delete vector entry", goerr.V("vector_id", vectorID))
		}
		return false, nil
	}

	if err := c.delete(ctx, db, rec); err != nil {
		return true, err
	}
	return true, nil
}

// DeleteByMemoryID removes a memory from both stores and reports whether it existed
func (c *Coordinator) DeleteByMemoryID(ctx context.Context, db interfaces.Session, id model.MemoryID) (bool, error) {
	rec, err := c.Get(ctx, db, id)
	if err != nil {
		return false, err
	}
	if rec == nil {
		return false, nil
	}

	if err := c.delete(ctx, db, rec); err != nil {
		return true, err
	}
	return true, nil
}

// DeleteBySource removes every memory derived from the source and returns how many were removed
func (c *Coordinator) DeleteBySource(ctx context.Context, db interfaces.Session, kind model.SourceKind, sourceID int64) (int, error) {
	if err := kind.Validate(); err != nil {
		return 0, err
	}

	records, err := c.repo.ListBySource(ctx, db, kind, sourceID)
	if err != nil {
		logging.From(ctx).Error("failed to list memories by source", "error", err,
			"source_kind", kind, "source_id", sourceID)
		return 0, storeError(err, "failed to list memories by source")
	}

	var firstErr error
	deleted := 0
	for _, rec := range records {
		if err := c.delete(ctx, db, rec); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		deleted++
	}

	return deleted, firstErr
}

// delete removes the vector entry first and the relational row second. The relational row is
// removed even when the vector deletion fails; the failure is still reported.
func (c *Coordinator) delete(ctx context.Context, db interfaces.Session, rec *model.MemoryRecord) error {
	logger := logging.From(ctx)

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		logger.Error("failed to begin delete transaction", "error", err)
		return storeError(err, "failed to begin transaction")
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			logger.Warn("failed to roll back delete transaction", "error", err)
		}
	}()

	vectorErr := c.index.Delete(ctx, rec.VectorID)
	if vectorErr != nil {
		logger.Error("failed to delete vector entry, removing memory row anyway",
			"error", vectorErr, "vector_id", rec.VectorID, "memory_id", rec.ID)
	}

	if _, err := c.repo.Delete(ctx, tx, rec.ID); err != nil {
		logger.Error("failed to delete memory row", "error", err, "memory_id", rec.ID)
		return storeError(err, "failed to delete memory row", goerr.V("memory_id", rec.ID))
	}
	if err := tx.Commit(); err != nil {
		logger.Error("failed to commit memory deletion", "error", err, "memory_id", rec.ID)
		return storeError(err, "failed to commit memory deletion", goerr.V("memory_id", rec.ID))
	}

	if vectorErr != nil {
		return storeError(vectorErr, "failed to delete vector entry", goerr.V("vector_id", rec.VectorID))
	}

	logger.Debug("memory deleted", "memory_id", rec.ID, "vector_id", rec.VectorID)
	return nil
}
