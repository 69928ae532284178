package interfaces

import (
	"context"

	"github.com/m-mizutani/elicit/pkg/model"
)

// VectorIndex is a similarity-searchable store of (id, text, metadata) entries
type VectorIndex interface {
	// Upsert stores one item, computing its embedding from the text
	Upsert(ctx context.Context, item *model.VectorItem) error

	// UpsertBatch stores many items with one embedding call and one store write
	UpsertBatch(ctx context.Context, items []*model.VectorItem) error

	// Query returns up to topK items whose metadata equals every filter entry, nearest first
	Query(ctx context.Context, text string, filter map[string]any, topK int) ([]*model.VectorMatch, error)

	// Get returns nil without error when the id is unknown
	Get(ctx context.Context, id model.VectorID) (*model.VectorItem, error)

	// Delete is idempotent
	Delete(ctx context.Context, id model.VectorID) error

	Count(ctx context.Context) (int, error)

	Close() error
}

// Embedder converts texts into fixed-length vectors
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}
