package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/m-mizutani/elicit/pkg/interfaces"
	"github.com/m-mizutani/elicit/pkg/model"
	"github.com/m-mizutani/goerr/v2"
)

// Fixed-width UTC layout so that created_at sorts lexically in SQL
const timeLayout = "2006-01-02T15:04:05.000000Z"

const selectColumns = `SELECT id, project_id, source_kind, source_id, vector_id, created_at FROM ai_memory_index`

// MemoryIndex is the relational system of record for which memories exist. It keeps no state
// and never opens a transaction: every method runs on the Executor it is given, so a *sql.Tx
// from the caller scopes the work to that transaction.
type MemoryIndex struct{}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{}
}

// Insert allocates a row for rec and returns its ID. rec.ID is left untouched.
func (x *MemoryIndex) Insert(ctx context.Context, db interfaces.Executor, rec *model.MemoryRecord) (model.MemoryID, error) {
	res, err := db.ExecContext(ctx,
		`INSERT INTO ai_memory_index (project_id, source_kind, source_id, vector_id, created_at) VALUES (?, ?, ?, ?, ?)`,
		rec.ProjectID, string(rec.SourceKind), rec.SourceID, string(rec.VectorID), formatTime(rec.CreatedAt))
	if err != nil {
		return 0, goerr.Wrap(err, "failed to insert memory index row",
			goerr.V("project_id", rec.ProjectID), goerr.V("vector_id", rec.VectorID))
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, goerr.Wrap(err, "failed to get inserted memory id")
	}
	return model.MemoryID(id), nil
}

// Get returns nil when no row has the id
func (x *MemoryIndex) Get(ctx context.Context, db interfaces.Executor, id model.MemoryID) (*model.MemoryRecord, error) {
	row := db.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, int64(id))
	rec, err := scanRecord(row)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get memory", goerr.V("memory_id", id))
	}
	return rec, nil
}

// FindBySource returns the newest memory derived from the source, or nil
func (x *MemoryIndex) FindBySource(ctx context.Context, db interfaces.Executor, kind model.SourceKind, sourceID int64) (*model.MemoryRecord, error) {
	row := db.QueryRowContext(ctx,
		selectColumns+` WHERE source_kind = ? AND source_id = ? ORDER BY created_at DESC, id DESC LIMIT 1`,
		string(kind), sourceID)
	rec, err := scanRecord(row)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to find memory by source",
			goerr.V("source_kind", kind), goerr.V("source_id", sourceID))
	}
	return rec, nil
}

// FindByVectorID returns nil when no row references the vector id
func (x *MemoryIndex) FindByVectorID(ctx context.Context, db interfaces.Executor, vectorID model.VectorID) (*model.MemoryRecord, error) {
	row := db.QueryRowContext(ctx, selectColumns+` WHERE vector_id = ?`, string(vectorID))
	rec, err := scanRecord(row)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to find memory by vector id", goerr.V("vector_id", vectorID))
	}
	return rec, nil
}

// ListBySource returns every memory derived from the source, oldest first
func (x *MemoryIndex) ListBySource(ctx context.Context, db interfaces.Executor, kind model.SourceKind, sourceID int64) ([]*model.MemoryRecord, error) {
	rows, err := db.QueryContext(ctx,
		selectColumns+` WHERE source_kind = ? AND source_id = ? ORDER BY created_at, id`,
		string(kind), sourceID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list memories by source",
			goerr.V("source_kind", kind), goerr.V("source_id", sourceID))
	}
	return scanRecords(rows)
}

// ListByProject returns every memory of the project, oldest first
func (x *MemoryIndex) ListByProject(ctx context.Context, db interfaces.Executor, projectID int64) ([]*model.MemoryRecord, error) {
	rows, err := db.QueryContext(ctx,
		selectColumns+` WHERE project_id = ? ORDER BY created_at, id`, projectID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list memories", goerr.V("project_id", projectID))
	}
	return scanRecords(rows)
}

// Delete reports whether a row was removed
func (x *MemoryIndex) Delete(ctx context.Context, db interfaces.Executor, id model.MemoryID) (bool, error) {
	res, err := db.ExecContext(ctx, `DELETE FROM ai_memory_index WHERE id = ?`, int64(id))
	if err != nil {
		return false, goerr.Wrap(err, "failed to delete memory", goerr.V("memory_id", id))
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, goerr.Wrap(err, "failed to get deleted row count", goerr.V("memory_id", id))
	}
	return n > 0, nil
}

// Summarize aggregates the memories of a project by source kind
func (x *MemoryIndex) Summarize(ctx context.Context, db interfaces.Executor, projectID int64) (*model.MemorySummary, error) {
	summary := &model.MemorySummary{
		ProjectID:    projectID,
		BySourceKind: make(map[model.SourceKind]int),
	}

	rows, err := db.QueryContext(ctx,
		`SELECT source_kind, COUNT(*) FROM ai_memory_index WHERE project_id = ? GROUP BY source_kind`, projectID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to count memories", goerr.V("project_id", projectID))
	}
	defer rows.Close()

	for rows.Next() {
		var kind string
		var count int
		if err := rows.Scan(&kind, &count); err != nil {
			return nil, goerr.Wrap(err, "failed to scan memory count")
		}
		summary.BySourceKind[model.SourceKind(kind)] = count
		summary.TotalMemories += count
	}
	if err := rows.Err(); err != nil {
		return nil, goerr.Wrap(err, "failed to iterate memory counts")
	}

	if summary.TotalMemories == 0 {
		return summary, nil
	}

	var oldest, newest string
	if err := db.QueryRowContext(ctx,
		`SELECT MIN(created_at), MAX(created_at) FROM ai_memory_index WHERE project_id = ?`, projectID,
	).Scan(&oldest, &newest); err != nil {
		return nil, goerr.Wrap(err, "failed to get memory time range", goerr.V("project_id", projectID))
	}

	o, err := parseTime(oldest)
	if err != nil {
		return nil, err
	}
	n, err := parseTime(newest)
	if err != nil {
		return nil, err
	}
	summary.OldestMemory = &o
	summary.NewestMemory = &n

	return summary, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*model.MemoryRecord, error) {
	var (
		rec       model.MemoryRecord
		kind      string
		vectorID  string
		createdAt string
	)
	err := row.Scan(&rec.ID, &rec.ProjectID, &kind, &rec.SourceID, &vectorID, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, goerr.Wrap(err, "failed to scan memory row")
	}

	rec.SourceKind = model.SourceKind(kind)
	rec.VectorID = model.VectorID(vectorID)
	if rec.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &rec, nil
}

func scanRecords(rows *sql.Rows) ([]*model.MemoryRecord, error) {
	defer rows.Close()

	var records []*model.MemoryRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, goerr.Wrap(err, "failed to iterate memory rows")
	}
	return records, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, goerr.Wrap(err, "invalid created_at", goerr.V("value", s))
	}
	return t, nil
}
