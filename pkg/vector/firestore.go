package vector

import (
	"context"
	"sort"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/firestore/apiv1/firestorepb"
	"github.com/m-mizutani/elicit/pkg/embedding"
	"github.com/m-mizutani/elicit/pkg/interfaces"
	"github.com/m-mizutani/elicit/pkg/model"
	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	embeddingField = "embedding"
	distanceField  = "vector_distance"
	metadataField  = "metadata"

	// Firestore rejects FindNearest limits above this
	maxFindNearestLimit = 1000
)

// Firestore stores vector entries as documents of one collection and answers similarity queries
// with Firestore vector search. Metadata filters become equality Where clauses that run before
// the nearest-neighbor ranking, which requires a composite vector index over the filtered fields.
type Firestore struct {
	client     *firestore.Client
	collection string
	embedder   interfaces.Embedder
}

type firestoreDoc struct {
	Text      string             `firestore:"text"`
	Embedding firestore.Vector32 `firestore:"embedding"`
	Metadata  map[string]any     `firestore:"metadata"`
	Distance  float64            `firestore:"vector_distance,omitempty"`
}

var _ interfaces.VectorIndex = (*Firestore)(nil)

// NewFirestore connects to the Firestore database. Call Close at process shutdown.
func NewFirestore(ctx context.Context, projectID, databaseID, collection string, embedder interfaces.Embedder, opts ...option.ClientOption) (*Firestore, error) {
	if projectID == "" {
		return nil, goerr.New("project ID is required")
	}
	if collection == "" {
		return nil, goerr.New("collection is required")
	}
	if embedder == nil {
		return nil, goerr.New("embedder is required")
	}
	if databaseID == "" {
		databaseID = firestore.DefaultDatabaseID
	}

	client, err := firestore.NewClientWithDatabase(ctx, projectID, databaseID, opts...)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create firestore client",
			goerr.V("project_id", projectID), goerr.V("database_id", databaseID))
	}

	return &Firestore{
		client:     client,
		collection: collection,
		embedder:   embedder,
	}, nil
}

func (x *Firestore) Upsert(ctx context.Context, item *model.VectorItem) error {
	vectors, err := x.embed(ctx, []string{item.Text})
	if err != nil {
		return err
	}

	doc := &firestoreDoc{
		Text:      item.Text,
		Embedding: firestore.Vector32(vectors[0]),
		Metadata:  normalizeMetadata(item.Metadata),
	}
	if _, err := x.client.Collection(x.collection).Doc(item.ID.String()).Set(ctx, doc); err != nil {
		return goerr.Wrap(model.ErrStoreUnavailable, "failed to set vector document",
			goerr.V("id", item.ID), goerr.V("error", err))
	}
	return nil
}

func (x *Firestore) UpsertBatch(ctx context.Context, items []*model.VectorItem) error {
	if len(items) == 0 {
		return nil
	}

	texts := make([]string, len(items))
	for i, item := range items {
		texts[i] = item.Text
	}
	vectors, err := x.embed(ctx, texts)
	if err != nil {
		return err
	}

	bw := x.client.BulkWriter(ctx)
	coll := x.client.Collection(x.collection)
	jobs := make([]*firestore.BulkWriterJob, 0, len(items))
	for i, item := range items {
		job, err := bw.Set(coll.Doc(item.ID.String()), &firestoreDoc{
			Text:      item.Text,
			Embedding: firestore.Vector32(vectors[i]),
			Metadata:  normalizeMetadata(item.Metadata),
		})
		if err != nil {
			bw.End()
			return goerr.Wrap(model.ErrStoreUnavailable, "failed to enqueue vector document",
				goerr.V("id", item.ID), goerr.V("error", err))
		}
		jobs = append(jobs, job)
	}
	bw.End()

	for i, job := range jobs {
		if _, err := job.Results(); err != nil {
			return goerr.Wrap(model.ErrStoreUnavailable, "failed to write vector document",
				goerr.V("id", items[i].ID), goerr.V("error", err))
		}
	}
	return nil
}

func (x *Firestore) Query(ctx context.Context, text string, filter map[string]any, topK int) ([]*model.VectorMatch, error) {
	if topK <= 0 || topK > maxFindNearestLimit {
		return nil, goerr.Wrap(model.ErrValidation, "topK out of range", goerr.V("top_k", topK))
	}

	vectors, err := x.embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}

	q := x.client.Collection(x.collection).Query
	keys := make([]string, 0, len(filter))
	for k := range filter {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		q = q.Where(metadataField+"."+k, "==", normalizeValue(filter[k]))
	}

	vq := q.FindNearest(embeddingField, firestore.Vector32(vectors[0]), topK,
		firestore.DistanceMeasureCosine,
		&firestore.FindNearestOptions{DistanceResultField: distanceField})

	snaps, err := vq.Documents(ctx).GetAll()
	if err != nil {
		return nil, goerr.Wrap(model.ErrStoreUnavailable, "failed to run vector query",
			goerr.V("collection", x.collection), goerr.V("error", err))
	}

	matches := make([]*model.VectorMatch, 0, len(snaps))
	for _, snap := range snaps {
		var doc firestoreDoc
		if err := snap.DataTo(&doc); err != nil {
			return nil, goerr.Wrap(model.ErrStoreUnavailable, "malformed vector document",
				goerr.V("id", snap.Ref.ID), goerr.V("error", err))
		}

		matches = append(matches, &model.VectorMatch{
			VectorItem: model.VectorItem{
				ID:       model.VectorID(snap.Ref.ID),
				Text:     doc.Text,
				Metadata: doc.Metadata,
			},
			Distance: embedding.ClampDistance(doc.Distance),
		})
	}

	return matches, nil
}

func (x *Firestore) Get(ctx context.Context, id model.VectorID) (*model.VectorItem, error) {
	snap, err := x.client.Collection(x.collection).Doc(id.String()).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, nil
	}
	if err != nil {
		return nil, goerr.Wrap(model.ErrStoreUnavailable, "failed to get vector document",
			goerr.V("id", id), goerr.V("error", err))
	}

	var doc firestoreDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, goerr.Wrap(model.ErrStoreUnavailable, "malformed vector document",
			goerr.V("id", id), goerr.V("error", err))
	}

	return &model.VectorItem{
		ID:       id,
		Text:     doc.Text,
		Metadata: doc.Metadata,
	}, nil
}

func (x *Firestore) Delete(ctx context.Context, id model.VectorID) error {
	if _, err := x.client.Collection(x.collection).Doc(id.String()).Delete(ctx); err != nil {
		return goerr.Wrap(model.ErrStoreUnavailable, "failed to delete vector document",
			goerr.V("id", id), goerr.V("error", err))
	}
	return nil
}

func (x *Firestore) Count(ctx context.Context) (int, error) {
	result, err := x.client.Collection(x.collection).NewAggregationQuery().WithCount("all").Get(ctx)
	if err != nil {
		return 0, goerr.Wrap(model.ErrStoreUnavailable, "failed to count vector documents",
			goerr.V("collection", x.collection), goerr.V("error", err))
	}

	switch v := result["all"].(type) {
	case *firestorepb.Value:
		return int(v.GetIntegerValue()), nil
	case int64:
		return int(v), nil
	default:
		return 0, goerr.Wrap(model.ErrStoreUnavailable, "unexpected count result type")
	}
}

func (x *Firestore) Close() error {
	if err := x.client.Close(); err != nil {
		return goerr.Wrap(err, "failed to close firestore client")
	}
	return nil
}

func (x *Firestore) embed(ctx context.Context, texts []string) ([][]float32, error) {
	vectors, err := x.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, goerr.Wrap(model.ErrStoreUnavailable, "failed to embed texts",
			goerr.V("count", len(texts)), goerr.V("error", err))
	}
	if len(vectors) != len(texts) {
		return nil, goerr.Wrap(model.ErrStoreUnavailable, "embedding count mismatch",
			goerr.V("expected", len(texts)), goerr.V("actual", len(vectors)))
	}
	for i, v := range vectors {
		if len(v) == 0 {
			return nil, goerr.Wrap(model.ErrStoreUnavailable, "empty embedding", goerr.V("index", i))
		}
	}
	return vectors, nil
}

func normalizeMetadata(md map[string]any) map[string]any {
	out := make(map[string]any, len(md))
	for k, v := range md {
		out[k] = normalizeValue(v)
	}
	return out
}
