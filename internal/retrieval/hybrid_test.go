package retrieval

import (
	"context"
	"errors"
	"testing"

	"dealerrag/internal/rerank"
	"dealerrag/internal/types"
)

type fakeEmbedder struct {
	err error
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []float32{1, 0, 0}, nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

func (f *fakeEmbedder) Dimensions() int { return 3 }
func (f *fakeEmbedder) Name() string    { return "fake" }

type fakeDense struct {
	docs      []types.ScoredDocument
	namespace string
	topK      int
}

func (f *fakeDense) Query(ctx context.Context, namespace string, vector []float32, topK int, filters map[string]interface{}) []types.ScoredDocument {
	f.namespace = namespace
	f.topK = topK
	if topK < len(f.docs) {
		return f.docs[:topK]
	}
	return f.docs
}

type fakeKeyword struct {
	docs []types.ScoredDocument
}

func (f *fakeKeyword) Search(ctx context.Context, namespace, query string, topK int, filters map[string]interface{}) []types.ScoredDocument {
	if topK < len(f.docs) {
		return f.docs[:topK]
	}
	return f.docs
}

type fakeReranker struct {
	results []rerank.Result
	err     error
	called  bool
}

func (f *fakeReranker) Rerank(ctx context.Context, query string, documents []string, topN int) ([]rerank.Result, error) {
	f.called = true
	return f.results, f.err
}

func (f *fakeReranker) Model() string { return "cross-encoder-test" }

func doc(id, hash string) types.ScoredDocument {
	return types.ScoredDocument{
		ID:       id,
		Text:     "text of " + id,
		Metadata: map[string]interface{}{"content_hash": hash, "source": id + ".md"},
	}
}

func TestRetrieveEmptyQuery(t *testing.T) {
	r := NewRetriever(&fakeEmbedder{}, &fakeDense{}, &fakeKeyword{}, nil, DefaultOptions())
	if got := r.Retrieve(context.Background(), "", "default", 5, nil); len(got) != 0 {
		t.Fatalf("expected empty result, got %d", len(got))
	}
}

func TestRetrieveFusesBothBranches(t *testing.T) {
	dense := &fakeDense{docs: []types.ScoredDocument{doc("a", "h1"), doc("b", "h2")}}
	keyword := &fakeKeyword{docs: []types.ScoredDocument{doc("c", "h3"), doc("a", "h1")}}

	opts := DefaultOptions()
	opts.RerankEnabled = false
	r := NewRetriever(&fakeEmbedder{}, dense, keyword, nil, opts)

	got := r.Retrieve(context.Background(), "oil change", "service", 5, nil)
	if len(got) != 3 {
		t.Fatalf("expected 3 deduped docs, got %d", len(got))
	}

	// "a" ranked first in dense and second in lexical, so it fuses ahead
	// of everything else
	if got[0].ID != "a" {
		t.Errorf("expected a first, got %s", got[0].ID)
	}
	if got[0].Metadata["vector_rank"] != 1 || got[0].Metadata["keyword_rank"] != 2 {
		t.Errorf("rank annotations wrong: %v", got[0].Metadata)
	}

	wantScore := 0.6/61.0 + 0.4/62.0
	if rrf, _ := got[0].Metadata["rrf_score"].(float64); rrf < wantScore-1e-12 || rrf > wantScore+1e-12 {
		t.Errorf("rrf score %v, want %v", rrf, wantScore)
	}

	for _, d := range got {
		if d.Metadata["retrieval_method"] != "hybrid_rrf" {
			t.Errorf("missing retrieval_method on %s", d.ID)
		}
		if d.Metadata["namespace"] != "service" {
			t.Errorf("missing namespace on %s", d.ID)
		}
		if d.Metadata["reranking_used"] != false {
			t.Errorf("reranking_used should be false on %s", d.ID)
		}
	}

	if dense.namespace != "service" {
		t.Errorf("dense branch queried namespace %q", dense.namespace)
	}
}

func TestRetrieveDegradesWhenEmbeddingFails(t *testing.T) {
	dense := &fakeDense{docs: []types.ScoredDocument{doc("a", "h1")}}
	keyword := &fakeKeyword{docs: []types.ScoredDocument{doc("k", "h9")}}

	opts := DefaultOptions()
	opts.RerankEnabled = false
	r := NewRetriever(&fakeEmbedder{err: errors.New("down")}, dense, keyword, nil, opts)

	got := r.Retrieve(context.Background(), "brakes", "service", 5, nil)
	if len(got) != 1 || got[0].ID != "k" {
		t.Fatalf("expected lexical-only result, got %v", got)
	}
}

func TestRetrieveDenseOnlyWithoutKeywordIndex(t *testing.T) {
	dense := &fakeDense{docs: []types.ScoredDocument{doc("a", "h1"), doc("b", "h2")}}

	opts := DefaultOptions()
	opts.RerankEnabled = false
	r := NewRetriever(&fakeEmbedder{}, dense, nil, nil, opts)

	got := r.Retrieve(context.Background(), "suv", "inventory", 5, nil)
	if len(got) != 2 {
		t.Fatalf("expected 2 docs, got %d", len(got))
	}
	if got[0].ID != "a" || got[1].ID != "b" {
		t.Errorf("dense order not preserved: %s %s", got[0].ID, got[1].ID)
	}
}

func TestRetrieveTruncatesToTopK(t *testing.T) {
	var docs []types.ScoredDocument
	for _, id := range []string{"a", "b", "c", "d", "e", "f"} {
		docs = append(docs, doc(id, "h-"+id))
	}
	opts := DefaultOptions()
	opts.RerankEnabled = false
	r := NewRetriever(&fakeEmbedder{}, &fakeDense{docs: docs}, nil, nil, opts)

	got := r.Retrieve(context.Background(), "trucks", "inventory", 3, nil)
	if len(got) != 3 {
		t.Fatalf("expected 3, got %d", len(got))
	}
}

func TestRetrieveAppliesReranker(t *testing.T) {
	dense := &fakeDense{docs: []types.ScoredDocument{doc("a", "h1"), doc("b", "h2"), doc("c", "h3")}}
	rr := &fakeReranker{results: []rerank.Result{
		{Index: 2, RelevanceScore: 0.95},
		{Index: 0, RelevanceScore: 0.40},
	}}

	r := NewRetriever(&fakeEmbedder{}, dense, nil, rr, DefaultOptions())

	got := r.Retrieve(context.Background(), "financing", "sales", 5, nil)
	if !rr.called {
		t.Fatal("reranker was not invoked")
	}
	if len(got) != 2 || got[0].ID != "c" || got[1].ID != "a" {
		t.Fatalf("rerank order not applied: %v", got)
	}
	if got[0].Metadata["rerank_score"] != 0.95 {
		t.Errorf("rerank score missing: %v", got[0].Metadata)
	}
	if got[0].Metadata["rerank_position"] != 1 || got[1].Metadata["rerank_position"] != 2 {
		t.Errorf("rerank positions wrong: %v %v",
			got[0].Metadata["rerank_position"], got[1].Metadata["rerank_position"])
	}
	if got[0].Metadata["rerank_model"] != "cross-encoder-test" {
		t.Errorf("rerank model missing: %v", got[0].Metadata["rerank_model"])
	}
	if got[0].Metadata["reranking_used"] != true {
		t.Error("reranking_used should be true")
	}
}

func TestRetrieveCandidatePoolSize(t *testing.T) {
	dense := &fakeDense{docs: []types.ScoredDocument{doc("a", "h1")}}

	opts := DefaultOptions()
	opts.RerankEnabled = false
	r := NewRetriever(&fakeEmbedder{}, dense, nil, nil, opts)

	// A small topK still fetches the full candidate pool from each branch
	r.Retrieve(context.Background(), "trucks", "inventory", 5, nil)
	if dense.topK != 20 {
		t.Errorf("candidate pool %d, want 20", dense.topK)
	}

	// A topK above the pool widens the fetch to match
	r.Retrieve(context.Background(), "trucks", "inventory", 30, nil)
	if dense.topK != 30 {
		t.Errorf("candidate pool %d, want 30", dense.topK)
	}
}

func TestRetrieveRerankerFailureKeepsFusedOrder(t *testing.T) {
	dense := &fakeDense{docs: []types.ScoredDocument{doc("a", "h1"), doc("b", "h2")}}
	rr := &fakeReranker{err: errors.New("rerank service down")}

	r := NewRetriever(&fakeEmbedder{}, dense, nil, rr, DefaultOptions())

	got := r.Retrieve(context.Background(), "warranty", "service", 5, nil)
	if len(got) != 2 || got[0].ID != "a" {
		t.Fatalf("fused order lost: %v", got)
	}
	if got[0].Metadata["reranking_used"] != false {
		t.Error("reranking_used should be false when reranking fails")
	}
}
