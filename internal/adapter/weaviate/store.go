// Package weaviate implements the persistent index backend. Chunks of every
// document live in one class and are partitioned by content key, so an
// index built by the worker can be loaded by the API process.
package weaviate

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"paperqa/internal/index"
	"paperqa/internal/text"
	"paperqa/internal/vector"
)

type Store struct {
	client *weaviate.Client
}

func NewStore(client *weaviate.Client) *Store {
	return &Store{client: client}
}

func (s *Store) ClassExists(ctx context.Context, className string) (bool, error) {
	return s.client.Schema().ClassExistenceChecker().WithClassName(className).Do(ctx)
}

func (s *Store) CreateClass(ctx context.Context, class *models.Class) error {
	return s.client.Schema().ClassCreator().WithClass(class).Do(ctx)
}

func (s *Store) GetClass(ctx context.Context, className string) (*models.Class, error) {
	return s.client.Schema().ClassGetter().WithClassName(className).Do(ctx)
}

func (s *Store) AddProperty(ctx context.Context, className string, property *models.Property) error {
	return s.client.Schema().PropertyCreator().WithClassName(className).WithProperty(property).Do(ctx)
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	return vector.EnsureSchema(ctx, s)
}

var chunkNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("paperqa/chunk"))

// ChunkID is the object ID of the chunk at position under key. Writing the
// same document twice, from any process, overwrites the same objects.
func ChunkID(key string, position int) strfmt.UUID {
	return strfmt.UUID(uuid.NewSHA1(chunkNamespace, []byte(key+"/"+strconv.Itoa(position))).String())
}

// Build upserts chunks under key. The key fixes the chunking, so concurrent
// builds of one key write identical objects and converge on len(chunks)
// objects.
func (s *Store) Build(ctx context.Context, key string, chunks []text.Chunk, vectors [][]float32) (index.Index, error) {
	if len(chunks) != len(vectors) {
		return nil, fmt.Errorf("%w: %d chunks, %d vectors", index.ErrLengthMismatch, len(chunks), len(vectors))
	}
	if len(chunks) == 0 {
		return index.Empty{}, nil
	}

	if err := s.upsert(ctx, key, chunks, vectors); err != nil {
		return nil, err
	}

	// Objects written under random IDs by older builds are not overwritten.
	n, err := s.countWhere(ctx, docFilter(key))
	if err != nil {
		return nil, fmt.Errorf("counting stored chunks: %w", err)
	}
	if n > len(chunks) {
		slog.WarnContext(ctx, "removing stale chunks", "doc_key", key, "stored", n, "want", len(chunks))
		if err := s.DeleteDocument(ctx, key); err != nil {
			return nil, fmt.Errorf("clearing stale chunks: %w", err)
		}
		if err := s.upsert(ctx, key, chunks, vectors); err != nil {
			return nil, err
		}
	}

	return &remoteIndex{store: s, key: key, size: len(chunks)}, nil
}

func (s *Store) upsert(ctx context.Context, key string, chunks []text.Chunk, vectors [][]float32) error {
	objects := make([]*models.Object, len(chunks))
	for i, c := range chunks {
		objects[i] = &models.Object{
			ID:    ChunkID(key, c.Position),
			Class: vector.ChunkClass,
			Properties: map[string]interface{}{
				"content":  c.Text,
				"docKey":   key,
				"position": c.Position,
				"offset":   c.Offset,
			},
			Vector: models.C11yVector(vectors[i]),
		}
	}

	resp, err := s.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
	if err == nil {
		err = batchErrors(resp)
	}
	if err != nil {
		return fmt.Errorf("storing chunks: %w", err)
	}
	return nil
}

// Load returns the stored index for key when exactly want chunks are
// stored. Partially written documents are reported as missing.
func (s *Store) Load(ctx context.Context, key string, want int) (index.Index, bool, error) {
	if want <= 0 {
		return nil, false, nil
	}
	n, err := s.countWhere(ctx, docFilter(key))
	if err != nil {
		return nil, false, err
	}
	if n != want {
		if n > 0 {
			slog.DebugContext(ctx, "stored index incomplete", "doc_key", key, "stored", n, "want", want)
		}
		return nil, false, nil
	}
	return &remoteIndex{store: s, key: key, size: n}, true, nil
}

func (s *Store) DeleteDocument(ctx context.Context, key string) error {
	_, err := s.client.Batch().ObjectsBatchDeleter().
		WithClassName(vector.ChunkClass).
		WithOutput("minimal").
		WithWhere(docFilter(key)).
		Do(ctx)
	return err
}

// CountChunks returns the number of chunks stored across all documents.
func (s *Store) CountChunks(ctx context.Context) (int, error) {
	return s.countWhere(ctx, nil)
}

func (s *Store) countWhere(ctx context.Context, where *filters.WhereBuilder) (int, error) {
	agg := s.client.GraphQL().Aggregate().
		WithClassName(vector.ChunkClass).
		WithFields(graphql.Field{Name: "meta", Fields: []graphql.Field{{Name: "count"}}})
	if where != nil {
		agg = agg.WithWhere(where)
	}

	res, err := agg.Do(ctx)
	if err != nil {
		return 0, err
	}
	if len(res.Errors) > 0 {
		return 0, fmt.Errorf("graphql error: %s", res.Errors[0].Message)
	}

	data, ok := res.Data["Aggregate"].(map[string]interface{})
	if !ok {
		return 0, nil
	}
	groups, ok := data[vector.ChunkClass].([]interface{})
	if !ok || len(groups) == 0 {
		return 0, nil
	}
	group, _ := groups[0].(map[string]interface{})
	meta, _ := group["meta"].(map[string]interface{})
	count, _ := meta["count"].(float64)
	return int(count), nil
}

func (s *Store) query(ctx context.Context, key string, vec []float32, k int) ([]index.Hit, error) {
	nearVector := s.client.GraphQL().NearVectorArgBuilder().WithVector(vec)

	fields := []graphql.Field{
		{Name: "content"},
		{Name: "position"},
		{Name: "offset"},
		{Name: "_additional", Fields: []graphql.Field{{Name: "distance"}}},
	}

	res, err := s.client.GraphQL().Get().
		WithClassName(vector.ChunkClass).
		WithNearVector(nearVector).
		WithWhere(docFilter(key)).
		WithLimit(k).
		WithFields(fields...).
		Do(ctx)
	if err != nil {
		return nil, err
	}
	if len(res.Errors) > 0 {
		return nil, fmt.Errorf("graphql error: %s", res.Errors[0].Message)
	}

	hits := []index.Hit{}
	data, ok := res.Data["Get"].(map[string]interface{})
	if !ok {
		return hits, nil
	}
	rows, ok := data[vector.ChunkClass].([]interface{})
	if !ok {
		return hits, nil
	}
	for _, row := range rows {
		props, ok := row.(map[string]interface{})
		if !ok {
			continue
		}
		hit := index.Hit{Chunk: text.Chunk{DocID: key}}
		if content, ok := props["content"].(string); ok {
			hit.Chunk.Text = content
		}
		if pos, ok := props["position"].(float64); ok {
			hit.Chunk.Position = int(pos)
		}
		if off, ok := props["offset"].(float64); ok {
			hit.Chunk.Offset = int(off)
		}
		if additional, ok := props["_additional"].(map[string]interface{}); ok {
			if d, ok := additional["distance"].(float64); ok {
				hit.Score = float32(1 - d)
			}
		}
		hits = append(hits, hit)
	}
	index.SortHits(hits)
	return hits, nil
}

func docFilter(key string) *filters.WhereBuilder {
	return filters.Where().
		WithPath([]string{"docKey"}).
		WithOperator(filters.Equal).
		WithValueString(key)
}

func batchErrors(resp []models.ObjectsGetResponse) error {
	var msgs []string
	for _, r := range resp {
		if r.Result == nil || r.Result.Errors == nil {
			continue
		}
		for _, e := range r.Result.Errors.Error {
			if e != nil {
				msgs = append(msgs, e.Message)
			}
		}
	}
	if len(msgs) == 0 {
		return nil
	}
	return fmt.Errorf("batch rejected %d objects: %s", len(msgs), strings.Join(msgs, "; "))
}

// remoteIndex is a read-only view of one document's stored chunks.
type remoteIndex struct {
	store *Store
	key   string
	size  int
}

func (r *remoteIndex) Len() int { return r.size }

func (r *remoteIndex) Query(ctx context.Context, vec []float32, k int) ([]index.Hit, error) {
	if k <= 0 || r.size == 0 {
		return []index.Hit{}, nil
	}
	return r.store.query(ctx, r.key, vec, k)
}
