package memory

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/m-mizutani/elicit/pkg/interfaces"
	"github.com/m-mizutani/elicit/pkg/model"
	"github.com/m-mizutani/elicit/pkg/repository"
	"github.com/m-mizutani/elicit/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
)

const (
	// DefaultLimit is the number of candidates fetched when SearchInput.Limit is not set
	DefaultLimit = 5
	// DefaultThreshold is the similarity threshold used by callers without a preference
	DefaultThreshold = 0.3
)

// Coordinator is the only component that writes to both the vector index and the relational
// memory index. A committed memory always has exactly one vector entry and vice versa.
type Coordinator struct {
	index interfaces.VectorIndex
	repo  *repository.MemoryIndex

	now         func() time.Time
	newVectorID func() model.VectorID
}

type Option func(*Coordinator)

// WithClock replaces time.Now for created_at timestamps
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		c.now = now
	}
}

// WithVectorIDGenerator replaces the UUID generator for vector ids
func WithVectorIDGenerator(f func() model.VectorID) Option {
	return func(c *Coordinator) {
		c.newVectorID = f
	}
}

// WithRelationalIndex replaces the relational memory index
func WithRelationalIndex(repo *repository.MemoryIndex) Option {
	return func(c *Coordinator) {
		c.repo = repo
	}
}

func New(index interfaces.VectorIndex, opts ...Option) *Coordinator {
	c := &Coordinator{
		index:       index,
		repo:        repository.NewMemoryIndex(),
		now:         time.Now,
		newVectorID: model.NewVectorID,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateInput describes a memory to create
type CreateInput struct {
	ProjectID  int64
	Text       string
	SourceKind model.SourceKind
	SourceID   int64
	Metadata   map[string]any
}

func (x CreateInput) validate() error {
	if x.ProjectID <= 0 {
		return goerr.Wrap(model.ErrValidation, "project ID must be positive", goerr.V("project_id", x.ProjectID))
	}
	if strings.TrimSpace(x.Text) == "" {
		return goerr.Wrap(model.ErrValidation, "text is required", goerr.V("project_id", x.ProjectID))
	}
	if err := x.SourceKind.Validate(); err != nil {
		return err
	}
	if err := model.ValidateMetadata(x.Metadata); err != nil {
		return err
	}
	return nil
}

// Create stores a memory in both stores. The relational row is inserted in an uncommitted
// transaction first; the vector entry is written next; the transaction commits only if the
// vector write succeeded, so a failed vector write leaves nothing behind.
func (c *Coordinator) Create(ctx context.Context, db interfaces.Session, input CreateInput) (*model.MemoryRecord, error) {
	records, err := c.create(ctx, db, []CreateInput{input})
	if err != nil {
		return nil, err
	}
	return records[0], nil
}

// CreateBatch stores many memories in one transaction and one batched vector write. Either all
// of them exist afterwards or none do.
func (c *Coordinator) CreateBatch(ctx context.Context, db interfaces.Session, inputs []CreateInput) ([]*model.MemoryRecord, error) {
	if len(inputs) == 0 {
		return nil, nil
	}
	return c.create(ctx, db, inputs)
}

func (c *Coordinator) create(ctx context.Context, db interfaces.Session, inputs []CreateInput) ([]*model.MemoryRecord, error) {
	for i, input := range inputs {
		if err := input.validate(); err != nil {
			return nil, goerr.Wrap(err, "invalid memory input", goerr.V("index", i))
		}
	}

	logger := logging.From(ctx)

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		logger.Error("failed to begin memory transaction", "error", err)
		return nil, storeError(err, "failed to begin transaction")
	}
	defer func() {
		// No-op once committed
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			logger.Warn("failed to roll back memory transaction", "error", err)
		}
	}()

	// Microsecond precision matches what the relational index persists
	createdAt := c.now().UTC().Truncate(time.Microsecond)

	records := make([]*model.MemoryRecord, len(inputs))
	items := make([]*model.VectorItem, len(inputs))
	for i, input := range inputs {
		rec := &model.MemoryRecord{
			ProjectID:  input.ProjectID,
			SourceKind: input.SourceKind,
			SourceID:   input.SourceID,
			VectorID:   c.newVectorID(),
			CreatedAt:  createdAt,
		}

		id, err := c.repo.Insert(ctx, tx, rec)
		if err != nil {
			logger.Error("failed to insert memory row", "error", err, "project_id", rec.ProjectID)
			return nil, storeError(err, "failed to insert memory row")
		}
		rec.ID = id

		records[i] = rec
		items[i] = &model.VectorItem{
			ID:       rec.VectorID,
			Text:     input.Text,
			Metadata: vectorMetadata(rec, input.Metadata),
		}
	}

	if len(items) == 1 {
		err = c.index.Upsert(ctx, items[0])
	} else {
		err = c.index.UpsertBatch(ctx, items)
	}
	if err != nil {
		logger.Error("failed to write vector entry, rolling back memory rows",
			"error", err, "count", len(items))
		return nil, storeError(err, "failed to write vector entry")
	}

	if err := tx.Commit(); err != nil {
		logger.Error("failed to commit memory rows, removing vector entries", "error", err)
		for _, item := range items {
			if delErr := c.index.Delete(ctx, item.ID); delErr != nil {
				logger.Error("orphaned vector entry after failed commit",
					"error", delErr, "vector_id", item.ID)
			}
		}
		return nil, storeError(err, "failed to commit memory rows")
	}

	for _, rec := range records {
		logger.Debug("memory created",
			"memory_id", rec.ID,
			"project_id", rec.ProjectID,
			"source_kind", rec.SourceKind,
			"vector_id", rec.VectorID)
	}
	return records, nil
}

// vectorMetadata merges caller metadata under the reserved keys. Reserved keys always win so the
// vector entry can never disagree with its relational row about scope.
func vectorMetadata(rec *model.MemoryRecord, extra map[string]any) map[string]any {
	md := make(map[string]any, len(extra)+5)
	for k, v := range extra {
		md[k] = v
	}
	md[model.MetaProjectID] = rec.ProjectID
	md[model.MetaSourceKind] = string(rec.SourceKind)
	md[model.MetaSourceID] = rec.SourceID
	md[model.MetaMemoryID] = int64(rec.ID)
	md[model.MetaCreatedAt] = rec.CreatedAt.Format(time.RFC3339Nano)
	return md
}

// Retrieve looks up a memory by vector id in the relational index only. It returns nil without
// error when no such memory exists.
func (c *Coordinator) Retrieve(ctx context.Context, db interfaces.Executor, vectorID model.VectorID) (*model.MemoryRecord, error) {
	rec, err := c.repo.FindByVectorID(ctx, db, vectorID)
	if err != nil {
		logging.From(ctx).Error("failed to retrieve memory", "error", err, "vector_id", vectorID)
		return nil, storeError(err, "failed to retrieve memory")
	}
	return rec, nil
}

// Get looks up a memory by its relational id; nil when absent
func (c *Coordinator) Get(ctx context.Context, db interfaces.Executor, id model.MemoryID) (*model.MemoryRecord, error) {
	rec, err := c.repo.Get(ctx, db, id)
	if err != nil {
		logging.From(ctx).Error("failed to get memory", "error", err, "memory_id", id)
		return nil, storeError(err, "failed to get memory")
	}
	return rec, nil
}

// FindBySource returns the newest memory derived from the source; nil when absent
func (c *Coordinator) FindBySource(ctx context.Context, db interfaces.Executor, kind model.SourceKind, sourceID int64) (*model.MemoryRecord, error) {
	if err := kind.Validate(); err != nil {
		return nil, err
	}
	rec, err := c.repo.FindBySource(ctx, db, kind, sourceID)
	if err != nil {
		logging.From(ctx).Error("failed to find memory by source", "error", err,
			"source_kind", kind, "source_id", sourceID)
		return nil, storeError(err, "failed to find memory by source")
	}
	return rec, nil
}

// Summarize counts a project's memories by source kind
func (c *Coordinator) Summarize(ctx context.Context, db interfaces.Executor, projectID int64) (*model.MemorySummary, error) {
	summary, err := c.repo.Summarize(ctx, db, projectID)
	if err != nil {
		logging.From(ctx).Error("failed to summarize memories", "error", err, "project_id", projectID)
		return nil, storeError(err, "failed to summarize memories")
	}
	return summary, nil
}

// storeError categorizes err as ErrStoreUnavailable, keeping the original error as a value
func storeError(err error, msg string, opts ...goerr.Option) error {
	if errors.Is(err, model.ErrStoreUnavailable) {
		return goerr.Wrap(err, msg, opts...)
	}
	return goerr.Wrap(model.ErrStoreUnavailable, msg, append(opts, goerr.V("error", err))...)
}
