// Package vector provides the dense index on Qdrant. Namespaces are
// realized as an indexed payload field and every query carries a
// mandatory namespace condition, so cross-namespace reads are impossible
// by construction.
package vector

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/qdrant/go-client/qdrant"

	"dealerrag/internal/breaker"
	"dealerrag/internal/logging"
	"dealerrag/internal/types"
)

const (
	upsertBatchSize = 100
	maxRetries      = 3
)

// Config configures the Qdrant store.
type Config struct {
	Host       string
	Port       int
	APIKey     string
	UseTLS     bool
	Collection string
	Dimension  int
}

// Store is the Qdrant-backed vector index.
type Store struct {
	client     *qdrant.Client
	collection string
	dimension  int
	breaker    *breaker.Breaker

	mu       sync.Mutex
	upserts  int64
	queries  int64
	failures int64
}

// NewStore connects to Qdrant and ensures the collection exists.
func NewStore(ctx context.Context, cfg Config, brk *breaker.Breaker) (*Store, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant connect: %w", err)
	}

	s := &Store{
		client:     client,
		collection: cfg.Collection,
		dimension:  cfg.Dimension,
		breaker:    brk,
	}
	if err := s.ensureCollection(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("collection check: %w", err)
	}
	if exists {
		return nil
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(s.dimension),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("create collection: %w", err)
	}

	// Namespace lookups happen on every query
	_, err = s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
		CollectionName: s.collection,
		FieldName:      "namespace",
		FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
	})
	if err != nil {
		logging.VectorError("namespace index creation failed: %v", err)
	}

	logging.Vector("created collection %s (dim=%d)", s.collection, s.dimension)
	return nil
}

// PointID converts a 32-hex content hash into the canonical UUID form
// Qdrant accepts as a point id. Identical hashes map to identical ids,
// which makes upserts idempotent.
func PointID(hash32 string) string {
	h := hash32
	if len(h) < 32 {
		h = h + strings.Repeat("0", 32-len(h))
	}
	h = h[:32]
	return fmt.Sprintf("%s-%s-%s-%s-%s", h[0:8], h[8:12], h[12:16], h[16:20], h[20:32])
}

// Upsert writes chunks with their vectors into the given namespace in
// batches. Returns the number of points written; per-batch failures are
// retried with exponential backoff and counted, not fatal.
func (s *Store) Upsert(ctx context.Context, namespace string, chunks []types.Chunk, vectors [][]float32) (int, error) {
	if len(chunks) != len(vectors) {
		return 0, fmt.Errorf("chunk/vector count mismatch: %d vs %d", len(chunks), len(vectors))
	}
	if len(chunks) == 0 {
		return 0, nil
	}

	points := make([]*qdrant.PointStruct, 0, len(chunks))
	for i, ch := range chunks {
		payload := map[string]interface{}{
			"text":         ch.Text,
			"namespace":    namespace,
			"content_hash": ch.ContentHash,
			"chunk_index":  ch.Index,
		}
		for k, v := range ch.Metadata {
			if _, reserved := payload[k]; !reserved {
				payload[k] = v
			}
		}
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewID(PointID(ch.ContentHash)),
			Vectors: qdrant.NewVectors(vectors[i]...),
			Payload: qdrant.NewValueMap(payload),
		})
	}

	written := 0
	var firstErr error
	for start := 0; start < len(points); start += upsertBatchSize {
		end := start + upsertBatchSize
		if end > len(points) {
			end = len(points)
		}
		batch := points[start:end]

		if err := s.upsertBatch(ctx, batch); err != nil {
			s.mu.Lock()
			s.failures++
			s.mu.Unlock()
			logging.VectorError("upsert batch %d-%d failed: %v", start, end, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		written += len(batch)
	}

	s.mu.Lock()
	s.upserts += int64(written)
	s.mu.Unlock()

	if firstErr != nil && written < len(points) {
		return written, &types.PartialIndexError{Attempted: len(points), Failed: len(points) - written, Cause: firstErr}
	}
	return written, nil
}

func (s *Store) upsertBatch(ctx context.Context, batch []*qdrant.PointStruct) error {
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(time.Duration(1<<uint(attempt-1)) * time.Second):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		err := s.do(ctx, func() error {
			_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
				CollectionName: s.collection,
				Points:         batch,
				Wait:           qdrant.PtrOf(true),
			})
			return err
		})
		if err == nil {
			return nil
		}
		lastErr = err
	}
	return lastErr
}

// Query searches the namespace and returns scored chunks. Errors are
// logged and an empty slice returned: retrieval degrades, never aborts.
func (s *Store) Query(ctx context.Context, namespace string, vector []float32, topK int, filters map[string]interface{}) []types.ScoredDocument {
	s.mu.Lock()
	s.queries++
	s.mu.Unlock()

	limit := uint64(topK)
	var results []*qdrant.ScoredPoint
	err := s.do(ctx, func() error {
		var err error
		results, err = s.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: s.collection,
			Query:          qdrant.NewQuery(vector...),
			Limit:          &limit,
			Filter:         buildFilter(namespace, filters),
			WithPayload:    qdrant.NewWithPayload(true),
		})
		return err
	})
	if err != nil {
		s.mu.Lock()
		s.failures++
		s.mu.Unlock()
		logging.VectorError("query failed: %v", err)
		return nil
	}

	docs := make([]types.ScoredDocument, 0, len(results))
	for _, p := range results {
		doc := types.ScoredDocument{
			ID:       p.Id.GetUuid(),
			Score:    float64(p.Score),
			Metadata: make(map[string]interface{}),
		}
		for k, v := range p.Payload {
			if k == "text" {
				doc.Text = v.GetStringValue()
				continue
			}
			doc.Metadata[k] = valueToInterface(v)
		}
		docs = append(docs, doc)
	}
	return docs
}

// buildFilter translates the engine's filter grammar into Qdrant
// conditions. Keys ending in _min/_max become range bounds; everything
// else is an exact match. The namespace condition is always present.
func buildFilter(namespace string, filters map[string]interface{}) *qdrant.Filter {
	must := []*qdrant.Condition{qdrant.NewMatch("namespace", namespace)}

	ranges := map[string]*qdrant.Range{}
	for key, val := range filters {
		switch {
		case strings.HasSuffix(key, "_min"):
			field := strings.TrimSuffix(key, "_min")
			if ranges[field] == nil {
				ranges[field] = &qdrant.Range{}
			}
			if f, ok := toFloat(val); ok {
				ranges[field].Gte = qdrant.PtrOf(f)
			}
		case strings.HasSuffix(key, "_max"):
			field := strings.TrimSuffix(key, "_max")
			if ranges[field] == nil {
				ranges[field] = &qdrant.Range{}
			}
			if f, ok := toFloat(val); ok {
				ranges[field].Lte = qdrant.PtrOf(f)
			}
		default:
			switch v := val.(type) {
			case string:
				must = append(must, qdrant.NewMatch(key, v))
			case bool:
				must = append(must, qdrant.NewMatchBool(key, v))
			default:
				if f, ok := toFloat(val); ok {
					must = append(must, qdrant.NewRange(key, &qdrant.Range{Gte: qdrant.PtrOf(f), Lte: qdrant.PtrOf(f)}))
				}
			}
		}
	}
	for field, r := range ranges {
		must = append(must, qdrant.NewRange(field, r))
	}

	return &qdrant.Filter{Must: must}
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func valueToInterface(v *qdrant.Value) interface{} {
	switch k := v.Kind.(type) {
	case *qdrant.Value_StringValue:
		return k.StringValue
	case *qdrant.Value_IntegerValue:
		return k.IntegerValue
	case *qdrant.Value_DoubleValue:
		return k.DoubleValue
	case *qdrant.Value_BoolValue:
		return k.BoolValue
	default:
		return v.String()
	}
}

// DeleteNamespace removes every point in the namespace.
func (s *Store) DeleteNamespace(ctx context.Context, namespace string) error {
	return s.do(ctx, func() error {
		_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: s.collection,
			Points: qdrant.NewPointsSelectorFilter(&qdrant.Filter{
				Must: []*qdrant.Condition{qdrant.NewMatch("namespace", namespace)},
			}),
			Wait: qdrant.PtrOf(true),
		})
		return err
	})
}

// CountNamespace returns the number of points in a namespace.
func (s *Store) CountNamespace(ctx context.Context, namespace string) (uint64, error) {
	var count uint64
	err := s.do(ctx, func() error {
		var err error
		count, err = s.client.Count(ctx, &qdrant.CountPoints{
			CollectionName: s.collection,
			Filter: &qdrant.Filter{
				Must: []*qdrant.Condition{qdrant.NewMatch("namespace", namespace)},
			},
			Exact: qdrant.PtrOf(true),
		})
		return err
	})
	return count, err
}

// IndexStats describes the collection: total points, vector dimension
// and per-namespace point counts.
type IndexStats struct {
	TotalVectors uint64            `json:"total_vectors"`
	Dimension    int               `json:"dimension"`
	Namespaces   map[string]uint64 `json:"namespaces"`
}

// DescribeStats reports exact collection totals and the point count per
// namespace, from a facet over the namespace payload field.
func (s *Store) DescribeStats(ctx context.Context) (*IndexStats, error) {
	stats := &IndexStats{Dimension: s.dimension, Namespaces: map[string]uint64{}}

	err := s.do(ctx, func() error {
		total, err := s.client.Count(ctx, &qdrant.CountPoints{
			CollectionName: s.collection,
			Exact:          qdrant.PtrOf(true),
		})
		if err != nil {
			return fmt.Errorf("count: %w", err)
		}
		stats.TotalVectors = total

		hits, err := s.client.Facet(ctx, &qdrant.FacetCounts{
			CollectionName: s.collection,
			Key:            "namespace",
			Limit:          qdrant.PtrOf(uint64(1000)),
			Exact:          qdrant.PtrOf(true),
		})
		if err != nil {
			return fmt.Errorf("namespace facet: %w", err)
		}
		stats.Namespaces = facetNamespaces(hits)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stats, nil
}

// facetNamespaces folds facet hits into a namespace count map. Hits
// whose value is not a keyword are skipped.
func facetNamespaces(hits []*qdrant.FacetHit) map[string]uint64 {
	counts := make(map[string]uint64, len(hits))
	for _, hit := range hits {
		name := hit.GetValue().GetStringValue()
		if name == "" {
			continue
		}
		counts[name] = hit.GetCount()
	}
	return counts
}

// Health checks connectivity.
func (s *Store) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := s.client.CollectionExists(ctx, s.collection)
	return err
}

// Stats reports operation counters.
type Stats struct {
	Upserts  int64 `json:"upserts"`
	Queries  int64 `json:"queries"`
	Failures int64 `json:"failures"`
}

// Stats returns operation counters.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{Upserts: s.upserts, Queries: s.queries, Failures: s.failures}
}

func (s *Store) do(ctx context.Context, fn func() error) error {
	if s.breaker != nil {
		return s.breaker.Do(ctx, fn)
	}
	return fn()
}
