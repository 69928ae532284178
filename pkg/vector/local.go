package vector

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/m-mizutani/elicit/pkg/embedding"
	"github.com/m-mizutani/elicit/pkg/interfaces"
	"github.com/m-mizutani/elicit/pkg/model"
	"github.com/m-mizutani/goerr/v2"
)

// Local is an in-process vector index. With WithSnapshot every mutation is persisted to a JSON
// file so the index survives restarts of a local CLI host.
type Local struct {
	mu       sync.RWMutex
	embedder interfaces.Embedder
	path     string
	entries  []*localEntry
}

type localEntry struct {
	Item      model.VectorItem `json:"item"`
	Embedding []float32        `json:"embedding"`
}

type localSnapshot struct {
	Entries []*localEntry `json:"entries"`
}

type LocalOption func(*Local)

// WithSnapshot persists the index to path, loading it first if the file exists
func WithSnapshot(path string) LocalOption {
	return func(x *Local) {
		x.path = path
	}
}

var _ interfaces.VectorIndex = (*Local)(nil)

func NewLocal(embedder interfaces.Embedder, opts ...LocalOption) (*Local, error) {
	if embedder == nil {
		return nil, goerr.New("embedder is required")
	}

	x := &Local{embedder: embedder}
	for _, opt := range opts {
		opt(x)
	}

	if x.path != "" {
		if err := x.load(); err != nil {
			return nil, err
		}
	}

	return x, nil
}

func (x *Local) Upsert(ctx context.Context, item *model.VectorItem) error {
	return x.UpsertBatch(ctx, []*model.VectorItem{item})
}

func (x *Local) UpsertBatch(ctx context.Context, items []*model.VectorItem) error {
	if len(items) == 0 {
		return nil
	}

	texts := make([]string, len(items))
	for i, item := range items {
		texts[i] = item.Text
	}

	vectors, err := x.embedder.Embed(ctx, texts)
	if err != nil {
		return goerr.Wrap(model.ErrStoreUnavailable, "failed to embed texts",
			goerr.V("error", err), goerr.V("count", len(items)))
	}
	if len(vectors) != len(items) {
		return goerr.Wrap(model.ErrStoreUnavailable, "embedding count mismatch",
			goerr.V("expected", len(items)), goerr.V("actual", len(vectors)))
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	prev := append([]*localEntry(nil), x.entries...)
	for i, item := range items {
		if len(vectors[i]) == 0 {
			x.entries = prev
			return goerr.Wrap(model.ErrStoreUnavailable, "empty embedding", goerr.V("id", item.ID))
		}

		entry := &localEntry{
			Item: model.VectorItem{
				ID:       item.ID,
				Text:     item.Text,
				Metadata: copyMetadata(item.Metadata),
			},
			Embedding: vectors[i],
		}

		if idx := x.indexOf(item.ID); idx >= 0 {
			x.entries[idx] = entry
		} else {
			x.entries = append(x.entries, entry)
		}
	}

	if err := x.save(); err != nil {
		x.entries = prev
		return err
	}
	return nil
}

func (x *Local) Query(ctx context.Context, text string, filter map[string]any, topK int) ([]*model.VectorMatch, error) {
	if topK <= 0 {
		return nil, goerr.Wrap(model.ErrValidation, "topK must be positive", goerr.V("top_k", topK))
	}

	vectors, err := x.embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, goerr.Wrap(model.ErrStoreUnavailable, "failed to embed query", goerr.V("error", err))
	}
	if len(vectors) != 1 || len(vectors[0]) == 0 {
		return nil, goerr.Wrap(model.ErrStoreUnavailable, "malformed query vector")
	}
	query := vectors[0]

	x.mu.RLock()
	defer x.mu.RUnlock()

	var matches []*model.VectorMatch
	for _, entry := range x.entries {
		if !matchFilter(entry.Item.Metadata, filter) {
			continue
		}
		if len(entry.Embedding) != len(query) {
			return nil, goerr.Wrap(model.ErrStoreUnavailable, "vector dimension mismatch",
				goerr.V("id", entry.Item.ID),
				goerr.V("stored", len(entry.Embedding)),
				goerr.V("query", len(query)))
		}

		matches = append(matches, &model.VectorMatch{
			VectorItem: model.VectorItem{
				ID:       entry.Item.ID,
				Text:     entry.Item.Text,
				Metadata: copyMetadata(entry.Item.Metadata),
			},
			Distance: embedding.CosineDistance(query, entry.Embedding),
		})
	}

	// Stable sort keeps insertion order for equal distances
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Distance < matches[j].Distance
	})

	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

func (x *Local) Get(ctx context.Context, id model.VectorID) (*model.VectorItem, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	idx := x.indexOf(id)
	if idx < 0 {
		return nil, nil
	}

	item := x.entries[idx].Item
	item.Metadata = copyMetadata(item.Metadata)
	return &item, nil
}

func (x *Local) Delete(ctx context.Context, id model.VectorID) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	idx := x.indexOf(id)
	if idx < 0 {
		return nil
	}

	prev := x.entries
	next := make([]*localEntry, 0, len(x.entries)-1)
	next = append(next, x.entries[:idx]...)
	x.entries = append(next, x.entries[idx+1:]...)

	if err := x.save(); err != nil {
		x.entries = prev
		return err
	}
	return nil
}

func (x *Local) Count(ctx context.Context) (int, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.entries), nil
}

func (x *Local) Close() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.save()
}

func (x *Local) indexOf(id model.VectorID) int {
	for i, entry := range x.entries {
		if entry.Item.ID == id {
			return i
		}
	}
	return -1
}

func (x *Local) load() error {
	raw, err := os.ReadFile(x.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return goerr.Wrap(model.ErrStoreUnavailable, "failed to read vector snapshot",
			goerr.V("path", x.path), goerr.V("error", err))
	}

	var snapshot localSnapshot
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		return goerr.Wrap(model.ErrStoreUnavailable, "failed to parse vector snapshot",
			goerr.V("path", x.path), goerr.V("error", err))
	}

	x.entries = snapshot.Entries
	return nil
}

// save must be called with mu held
func (x *Local) save() error {
	if x.path == "" {
		return nil
	}

	raw, err := json.Marshal(localSnapshot{Entries: x.entries})
	if err != nil {
		return goerr.Wrap(model.ErrStoreUnavailable, "failed to marshal vector snapshot", goerr.V("error", err))
	}

	tmp, err := os.CreateTemp(filepath.Dir(x.path), ".vectors-*.json")
	if err != nil {
		return goerr.Wrap(model.ErrStoreUnavailable, "failed to create snapshot file",
			goerr.V("path", x.path), goerr.V("error", err))
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		return goerr.Wrap(model.ErrStoreUnavailable, "failed to write snapshot file", goerr.V("error", err))
	}
	if err := tmp.Close(); err != nil {
		return goerr.Wrap(model.ErrStoreUnavailable, "failed to close snapshot file", goerr.V("error", err))
	}
	if err := os.Rename(tmp.Name(), x.path); err != nil {
		return goerr.Wrap(model.ErrStoreUnavailable, "failed to replace snapshot file",
			goerr.V("path", x.path), goerr.V("error", err))
	}

	return nil
}
