// Package retrieval fuses dense and lexical search results with
// Reciprocal Rank Fusion, optionally re-ranked by a cross-encoder.
package retrieval

import (
	"context"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"dealerrag/internal/embedding"
	"dealerrag/internal/logging"
	"dealerrag/internal/rerank"
	"dealerrag/internal/types"
)

// DenseIndex is the vector search surface the retriever needs.
type DenseIndex interface {
	Query(ctx context.Context, namespace string, vector []float32, topK int, filters map[string]interface{}) []types.ScoredDocument
}

// KeywordIndex is the lexical search surface the retriever needs.
type KeywordIndex interface {
	Search(ctx context.Context, namespace, query string, topK int, filters map[string]interface{}) []types.ScoredDocument
}

// Reranker reorders candidates by cross-encoder relevance.
type Reranker interface {
	Rerank(ctx context.Context, query string, documents []string, topN int) ([]rerank.Result, error)
	Model() string
}

// Options tunes one retrieval pass.
type Options struct {
	// RRF rank constant
	RRFK int
	// Fusion weights, summing to 1.0
	DenseWeight   float64
	LexicalWeight float64
	// Candidate pool fetched from each index before fusion
	TopKRetrieval int
	// Rerank settings
	RerankEnabled bool
	RerankTopN    int
}

// DefaultOptions mirrors the retrieval section defaults.
func DefaultOptions() Options {
	return Options{
		RRFK:          60,
		DenseWeight:   0.6,
		LexicalWeight: 0.4,
		TopKRetrieval: 20,
		RerankEnabled: true,
		RerankTopN:    20,
	}
}

// Retriever runs hybrid dense plus lexical retrieval.
type Retriever struct {
	embedder embedding.Embedder
	dense    DenseIndex
	keyword  KeywordIndex
	reranker Reranker
	opts     Options
}

// NewRetriever wires the hybrid retriever. keyword and reranker may be
// nil, degrading to dense-only and fused-order respectively.
func NewRetriever(embedder embedding.Embedder, dense DenseIndex, keyword KeywordIndex, reranker Reranker, opts Options) *Retriever {
	if opts.RRFK <= 0 {
		opts.RRFK = 60
	}
	if opts.TopKRetrieval < 1 {
		opts.TopKRetrieval = 20
	}
	return &Retriever{
		embedder: embedder,
		dense:    dense,
		keyword:  keyword,
		reranker: reranker,
		opts:     opts,
	}
}

// Retrieve returns the fused top-k documents for the query. Either
// branch failing degrades to the other; both failing yields an empty
// result, never an error, so the caller can still answer honestly.
func (r *Retriever) Retrieve(ctx context.Context, query, namespace string, topK int, filters map[string]interface{}) []types.ScoredDocument {
	if query == "" || topK <= 0 {
		return []types.ScoredDocument{}
	}
	start := time.Now()
	timer := logging.StartTimer(logging.CategoryRetrieval, "hybrid retrieve "+namespace)
	defer timer.StopWithThreshold(2 * time.Second)

	poolSize := r.opts.TopKRetrieval
	if topK > poolSize {
		poolSize = topK
	}

	var denseDocs, lexicalDocs []types.ScoredDocument
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		vector, err := r.embedder.Embed(gctx, query)
		if err != nil {
			logging.RetrievalWarn("dense branch degraded, embed failed: %v", err)
			return nil
		}
		denseDocs = r.dense.Query(gctx, namespace, vector, poolSize, filters)
		return nil
	})

	if r.keyword != nil {
		g.Go(func() error {
			lexicalDocs = r.keyword.Search(gctx, namespace, query, poolSize, filters)
			return nil
		})
	}

	// Branches report degradation by returning empty, never an error
	g.Wait()

	fused := r.fuse(denseDocs, lexicalDocs)
	logging.RetrievalDebug("fused %d dense + %d lexical into %d candidates",
		len(denseDocs), len(lexicalDocs), len(fused))

	reranked := false
	if r.opts.RerankEnabled && r.reranker != nil && len(fused) > 1 {
		if out, ok := r.rerankCandidates(ctx, query, fused, topK); ok {
			fused = out
			reranked = true
		}
	}

	if len(fused) > topK {
		fused = fused[:topK]
	}

	now := time.Now().UTC().Format(time.RFC3339)
	for i := range fused {
		fused[i].Metadata["retrieval_method"] = "hybrid_rrf"
		fused[i].Metadata["namespace"] = namespace
		fused[i].Metadata["retrieval_timestamp"] = now
		fused[i].Metadata["reranking_used"] = reranked
	}
	logging.Audit().Retrieval(namespace, len(denseDocs), len(lexicalDocs), len(fused),
		time.Since(start).Milliseconds())
	return fused
}

// fuse merges the two ranked lists with weighted Reciprocal Rank
// Fusion. Documents appearing in both lists are deduplicated by content
// hash and accumulate both contributions. Ties break toward the better
// vector rank, then the better lexical rank.
func (r *Retriever) fuse(dense, lexical []types.ScoredDocument) []types.ScoredDocument {
	type fusedDoc struct {
		doc         types.ScoredDocument
		rrfScore    float64
		vectorRank  int
		keywordRank int
	}
	const unranked = 1 << 30

	byHash := make(map[string]*fusedDoc)
	var order []string

	identity := func(doc types.ScoredDocument) string {
		if h, ok := doc.Metadata["content_hash"].(string); ok && h != "" {
			return h
		}
		return doc.ID
	}

	for rank, doc := range dense {
		key := identity(doc)
		fd, ok := byHash[key]
		if !ok {
			if doc.Metadata == nil {
				doc.Metadata = make(map[string]interface{})
			}
			fd = &fusedDoc{doc: doc, vectorRank: unranked, keywordRank: unranked}
			byHash[key] = fd
			order = append(order, key)
		}
		fd.vectorRank = rank + 1
		fd.rrfScore += r.opts.DenseWeight / float64(r.opts.RRFK+rank+1)
	}
	for rank, doc := range lexical {
		key := identity(doc)
		fd, ok := byHash[key]
		if !ok {
			if doc.Metadata == nil {
				doc.Metadata = make(map[string]interface{})
			}
			fd = &fusedDoc{doc: doc, vectorRank: unranked, keywordRank: unranked}
			byHash[key] = fd
			order = append(order, key)
		}
		fd.keywordRank = rank + 1
		fd.rrfScore += r.opts.LexicalWeight / float64(r.opts.RRFK+rank+1)
	}

	fused := make([]*fusedDoc, 0, len(order))
	for _, key := range order {
		fused = append(fused, byHash[key])
	}
	sort.SliceStable(fused, func(i, j int) bool {
		if fused[i].rrfScore != fused[j].rrfScore {
			return fused[i].rrfScore > fused[j].rrfScore
		}
		if fused[i].vectorRank != fused[j].vectorRank {
			return fused[i].vectorRank < fused[j].vectorRank
		}
		return fused[i].keywordRank < fused[j].keywordRank
	})

	out := make([]types.ScoredDocument, 0, len(fused))
	for _, fd := range fused {
		doc := fd.doc
		doc.Score = fd.rrfScore
		doc.Metadata["rrf_score"] = fd.rrfScore
		if fd.vectorRank != unranked {
			doc.Metadata["vector_rank"] = fd.vectorRank
		}
		if fd.keywordRank != unranked {
			doc.Metadata["keyword_rank"] = fd.keywordRank
		}
		out = append(out, doc)
	}
	return out
}

// rerankCandidates reorders the fused list by cross-encoder score.
// Any rerank failure keeps the fused order.
func (r *Retriever) rerankCandidates(ctx context.Context, query string, fused []types.ScoredDocument, topK int) ([]types.ScoredDocument, bool) {
	texts := make([]string, len(fused))
	for i, doc := range fused {
		texts[i] = doc.Text
	}

	topN := r.opts.RerankTopN
	if topK > topN {
		topN = topK
	}
	results, err := r.reranker.Rerank(ctx, query, texts, topN)
	if err != nil {
		logging.RerankWarn("falling back to fused order: %v", err)
		return nil, false
	}

	out := make([]types.ScoredDocument, 0, len(results))
	for _, res := range results {
		if res.Index < 0 || res.Index >= len(fused) {
			continue
		}
		doc := fused[res.Index]
		doc.Metadata["rerank_score"] = res.RelevanceScore
		doc.Metadata["rerank_position"] = len(out) + 1
		doc.Metadata["rerank_model"] = r.reranker.Model()
		out = append(out, doc)
	}
	if len(out) == 0 {
		return nil, false
	}
	return out, true
}
