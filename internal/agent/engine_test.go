package agent

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"dealerrag/internal/dms"
	"dealerrag/internal/generate"
	"dealerrag/internal/ingest"
	"dealerrag/internal/types"
)

type fakeClassifier struct {
	intent types.Intent
}

func (f *fakeClassifier) Classify(ctx context.Context, query string) types.Intent {
	return f.intent
}

type fakeRetriever struct {
	docs      []types.ScoredDocument
	namespace string
	filters   map[string]interface{}
	topK      int
}

func (f *fakeRetriever) Retrieve(ctx context.Context, query, namespace string, topK int, filters map[string]interface{}) []types.ScoredDocument {
	f.namespace = namespace
	f.filters = filters
	f.topK = topK
	return f.docs
}

type fakeGenerator struct {
	answer  string
	err     error
	docs    []types.ScoredDocument
	history []types.ConversationTurn
	calls   int
}

func (f *fakeGenerator) Generate(ctx context.Context, query string, docs []types.ScoredDocument, history []types.ConversationTurn) (*generate.Answer, error) {
	f.calls++
	f.docs = docs
	f.history = history
	if f.err != nil {
		return nil, f.err
	}
	return &generate.Answer{Text: f.answer, ModelUsed: "test-model"}, nil
}

type fakeIngestor struct {
	result    ingest.Result
	docs      []types.Document
	namespace string
}

func (f *fakeIngestor) Run(ctx context.Context, docs []types.Document, namespace string) ingest.Result {
	f.docs = docs
	f.namespace = namespace
	return f.result
}

type fakeDMS struct {
	vehicles []types.Vehicle
	records  []types.ServiceRecord
	err      error

	lastOp       string
	lastPageSize int
	lastFilters  map[string]interface{}
}

func (f *fakeDMS) GetInventory(ctx context.Context, filters map[string]interface{}, page, pageSize int) ([]types.Vehicle, error) {
	f.lastOp = "get_inventory"
	f.lastPageSize = pageSize
	f.lastFilters = filters
	return f.vehicles, f.err
}

func (f *fakeDMS) GetVehicleDetails(ctx context.Context, vin string) (*types.Vehicle, error) {
	if len(f.vehicles) == 0 {
		return nil, f.err
	}
	return &f.vehicles[0], f.err
}

func (f *fakeDMS) GetServiceHistory(ctx context.Context, vin string) ([]types.ServiceRecord, error) {
	f.lastOp = "get_service_history"
	return f.records, f.err
}

func (f *fakeDMS) CheckAvailability(ctx context.Context, vin string) (bool, error) {
	return len(f.vehicles) > 0, f.err
}

func (f *fakeDMS) SearchVehicles(ctx context.Context, query string, limit int) ([]types.Vehicle, error) {
	f.lastOp = "search_vehicles"
	return f.vehicles, f.err
}

func (f *fakeDMS) SyncPricing(ctx context.Context, vins []string) (int, error) { return 0, f.err }
func (f *fakeDMS) HealthCheck(ctx context.Context) error                       { return f.err }
func (f *fakeDMS) Name() string                                                { return "fake-dms" }
func (f *fakeDMS) Stats() dms.Stats                                            { return dms.Stats{} }

func redisClient(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func newTestEngine(classifier Classifier, retriever Retriever, gen AnswerGenerator) *Engine {
	return NewEngine(classifier, retriever, gen, &fakeIngestor{}, nil, nil, nil, nil, nil, Options{})
}

func TestSanitize(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"  what   is   the  price  ", "what is the price"},
		{"<script>alert(1)</script>oil change", "oil change"},
		{"hello <b>world</b>", "hello b world /b"},
		{"DROP TABLE users; what cars", "TABLE users what cars"},
		{"DROP TABLE users", "TABLE users"},
		{"select price from cars", "price from cars"},
		{"a;b;c", "a b c"},
		{"&amp;lt;script&amp;gt; hours?", "script hours?"},
		{`<img onerror=alert(1)> tires`, "img alert(1) tires"},
	}
	for _, tc := range cases {
		if got := Sanitize(tc.in); got != tc.want {
			t.Errorf("Sanitize(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}

	long := strings.Repeat("a", 1500)
	if got := Sanitize(long); len(got) != 1000 {
		t.Errorf("length cap: got %d", len(got))
	}
}

func TestProcessQueryFlow(t *testing.T) {
	classifier := &fakeClassifier{intent: types.Intent{
		Type:       types.IntentInventory,
		Confidence: 0.9,
		Entities:   map[string]interface{}{"make": "Honda", "max_price": 30000.0},
	}}
	retriever := &fakeRetriever{docs: []types.ScoredDocument{
		{ID: "1", Text: "doc", Metadata: map[string]interface{}{"source": "inv.md"}},
	}}
	gen := &fakeGenerator{answer: "We have three Accords in stock. [Source: inv.md]"}

	e := newTestEngine(classifier, retriever, gen)

	resp, err := e.ProcessQuery(context.Background(), types.QueryRequest{
		Query:          "any accords under 30k?",
		Filters:        map[string]interface{}{"max_price": 25000.0},
		IncludeSources: true,
	})
	if err != nil {
		t.Fatal(err)
	}

	if retriever.namespace != "inventory" {
		t.Errorf("namespace: %s", retriever.namespace)
	}
	// Caller filter wins over the extracted entity
	if retriever.filters["max_price"] != 25000.0 {
		t.Errorf("caller filter lost: %v", retriever.filters)
	}
	if retriever.filters["make"] != "Honda" {
		t.Errorf("entity filter lost: %v", retriever.filters)
	}
	if retriever.topK != 5 {
		t.Errorf("default topK: %d", retriever.topK)
	}

	if resp.Answer != "We have three Accords in stock. [Source: inv.md]" {
		t.Errorf("answer: %q", resp.Answer)
	}
	if resp.Intent != types.IntentInventory || resp.RetrievalMethod != "hybrid_rrf" {
		t.Errorf("response fields: %+v", resp)
	}
	if resp.ConversationID == "" {
		t.Error("conversation id should be assigned")
	}
	if len(resp.Sources) != 1 {
		t.Errorf("sources: %v", resp.Sources)
	}
}

func TestPredictiveQueriesUsePredictiveNamespace(t *testing.T) {
	retriever := &fakeRetriever{}
	e := newTestEngine(
		&fakeClassifier{intent: types.Intent{Type: types.IntentPredictive, Confidence: 0.9}},
		retriever, &fakeGenerator{answer: "demand is trending up"})

	if _, err := e.ProcessQuery(context.Background(), types.QueryRequest{
		Query: "what is the demand forecast for SUVs",
	}); err != nil {
		t.Fatal(err)
	}
	if retriever.namespace != "predictive" {
		t.Errorf("namespace: %s", retriever.namespace)
	}
}

func TestInventoryQueryPullsLiveInventory(t *testing.T) {
	d := &fakeDMS{vehicles: []types.Vehicle{
		{VIN: "1HGCM82633A004352", Make: "Honda", Model: "Accord", Year: 2024, Price: 28500, Status: "available"},
	}}
	gen := &fakeGenerator{answer: "yes"}
	e := NewEngine(
		&fakeClassifier{intent: types.Intent{
			Type:     types.IntentInventory,
			Entities: map[string]interface{}{"make": "Honda"},
		}},
		&fakeRetriever{}, gen, &fakeIngestor{}, d, nil, nil, nil, nil, Options{})

	if _, err := e.ProcessQuery(context.Background(), types.QueryRequest{
		Query: "do you have accords in stock",
	}); err != nil {
		t.Fatal(err)
	}

	if d.lastOp != "get_inventory" || d.lastPageSize != 10 {
		t.Errorf("dms call: op=%s pageSize=%d", d.lastOp, d.lastPageSize)
	}
	if d.lastFilters["make"] != "Honda" {
		t.Errorf("entity filters not forwarded: %v", d.lastFilters)
	}
	if len(gen.docs) == 0 || gen.docs[0].Metadata["doc_type"] != "dms_live" {
		t.Fatalf("live inventory document missing: %v", gen.docs)
	}
}

func TestSalesQueryGetsInventorySample(t *testing.T) {
	d := &fakeDMS{vehicles: []types.Vehicle{
		{VIN: "2T1BURHE5JC123456", Make: "Toyota", Model: "Corolla", Year: 2023, Price: 24000, Status: "available"},
	}}
	gen := &fakeGenerator{answer: "sure"}
	e := NewEngine(
		&fakeClassifier{intent: types.Intent{Type: types.IntentSales}},
		&fakeRetriever{}, gen, &fakeIngestor{}, d, nil, nil, nil, nil, Options{})

	if _, err := e.ProcessQuery(context.Background(), types.QueryRequest{
		Query: "what financing deals do you have",
	}); err != nil {
		t.Fatal(err)
	}
	if d.lastOp != "get_inventory" || d.lastPageSize != 5 {
		t.Errorf("sales sample: op=%s pageSize=%d", d.lastOp, d.lastPageSize)
	}
	if d.lastFilters != nil {
		t.Errorf("sales sample should be unfiltered: %v", d.lastFilters)
	}
}

func TestDMSFailureRecordedInContext(t *testing.T) {
	d := &fakeDMS{err: errors.New("dms timeout")}
	gen := &fakeGenerator{answer: "I can only answer from indexed documents."}
	e := NewEngine(
		&fakeClassifier{intent: types.Intent{Type: types.IntentInventory}},
		&fakeRetriever{}, gen, &fakeIngestor{}, d, nil, nil, nil, nil, Options{})

	if _, err := e.ProcessQuery(context.Background(), types.QueryRequest{
		Query: "anything in stock",
	}); err != nil {
		t.Fatal(err)
	}

	if len(gen.docs) == 0 {
		t.Fatal("expected an error document in the context")
	}
	errDoc := gen.docs[0]
	if errDoc.Metadata["doc_type"] != "dms_error" {
		t.Errorf("doc_type: %v", errDoc.Metadata["doc_type"])
	}
	if !strings.Contains(errDoc.Text, "dms timeout") {
		t.Errorf("error text lost: %q", errDoc.Text)
	}
}

func TestProcessQueryRejectsEmptyQuery(t *testing.T) {
	e := newTestEngine(&fakeClassifier{}, &fakeRetriever{}, &fakeGenerator{})

	_, err := e.ProcessQuery(context.Background(), types.QueryRequest{Query: "<script></script>"})
	if !errors.Is(err, types.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestProcessQueryGenerationFailure(t *testing.T) {
	gen := &fakeGenerator{err: errors.New("model overloaded")}
	e := newTestEngine(&fakeClassifier{intent: types.Intent{Type: types.IntentGeneral}}, &fakeRetriever{}, gen)

	if _, err := e.ProcessQuery(context.Background(), types.QueryRequest{Query: "hours?"}); err == nil {
		t.Fatal("expected error")
	}
}

func TestAnswerCacheHitAndConversationBypass(t *testing.T) {
	client := redisClient(t)
	gen := &fakeGenerator{answer: "cached answer"}
	e := NewEngine(
		&fakeClassifier{intent: types.Intent{Type: types.IntentGeneral}},
		&fakeRetriever{}, gen, &fakeIngestor{}, nil,
		NewConversationStore(client, time.Hour, 10, 5),
		NewAnswerCache(client, time.Hour), nil, nil, Options{})

	req := types.QueryRequest{Query: "what are your hours"}
	if _, err := e.ProcessQuery(context.Background(), req); err != nil {
		t.Fatal(err)
	}
	if _, err := e.ProcessQuery(context.Background(), req); err != nil {
		t.Fatal(err)
	}
	if gen.calls != 1 {
		t.Errorf("second identical query should hit the cache, got %d generations", gen.calls)
	}

	// A conversation makes the query stateful, bypassing the cache
	req.ConversationID = "conv-1"
	if _, err := e.ProcessQuery(context.Background(), req); err != nil {
		t.Fatal(err)
	}
	if gen.calls != 2 {
		t.Errorf("conversational query must bypass the cache, got %d generations", gen.calls)
	}
}

func TestConversationHistoryFlowsToGenerator(t *testing.T) {
	client := redisClient(t)
	gen := &fakeGenerator{answer: "ok"}
	e := NewEngine(
		&fakeClassifier{intent: types.Intent{Type: types.IntentGeneral}},
		&fakeRetriever{}, gen, &fakeIngestor{}, nil,
		NewConversationStore(client, time.Hour, 10, 5),
		nil, nil, nil, Options{})

	ctx := context.Background()
	for i := 0; i < 7; i++ {
		req := types.QueryRequest{Query: "turn question " + strings.Repeat("x", i+1), ConversationID: "conv-9"}
		if _, err := e.ProcessQuery(ctx, req); err != nil {
			t.Fatal(err)
		}
	}

	// The 7th call saw the prior 6 turns, capped at 5 in the prompt
	if len(gen.history) != 5 {
		t.Errorf("prompt history length: %d", len(gen.history))
	}

	store := NewConversationStore(client, time.Hour, 10, 5)
	if n := store.TurnCount(ctx, "conv-9"); n != 7 {
		t.Errorf("stored turns: %d", n)
	}
}

func TestConversationStoreTrimsToCap(t *testing.T) {
	client := redisClient(t)
	store := NewConversationStore(client, time.Hour, 10, 5)
	ctx := context.Background()

	for i := 0; i < 13; i++ {
		store.Append(ctx, "conv-2", types.ConversationTurn{Query: "q", Answer: "a"})
	}
	if n := store.TurnCount(ctx, "conv-2"); n != 10 {
		t.Errorf("stored turns should cap at 10, got %d", n)
	}
	if h := store.History(ctx, "conv-2"); len(h) != 5 {
		t.Errorf("prompt history should cap at 5, got %d", len(h))
	}
}

func TestIngestText(t *testing.T) {
	ing := &fakeIngestor{result: ingest.Result{DocumentsProcessed: 1, ChunksCreated: 2, VectorsUpserted: 2}}
	e := NewEngine(&fakeClassifier{}, &fakeRetriever{}, &fakeGenerator{}, ing, nil, nil, nil, nil, nil, Options{})

	resp, err := e.Ingest(context.Background(), types.IngestRequest{
		SourceType: "text",
		Content:    "The dealership offers free car washes with every service.",
		Metadata:   map[string]interface{}{"department": "service"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Status != "success" || resp.ChunksCreated != 2 {
		t.Errorf("unexpected response: %+v", resp)
	}
	if len(ing.docs) != 1 || ing.docs[0].Metadata["department"] != "service" {
		t.Errorf("metadata not forwarded: %+v", ing.docs)
	}
}

func TestIngestDMSRunsInBackground(t *testing.T) {
	d := &fakeDMS{vehicles: []types.Vehicle{
		{VIN: "1HGCM82633A004352", Make: "Honda", Model: "Accord", Year: 2024, Price: 28500, Status: "available"},
	}}
	ing := &fakeIngestor{result: ingest.Result{DocumentsProcessed: 1, ChunksCreated: 1, VectorsUpserted: 1}}
	e := NewEngine(&fakeClassifier{}, &fakeRetriever{}, &fakeGenerator{}, ing, d, nil, nil, nil, nil, Options{})

	resp, err := e.Ingest(context.Background(), types.IngestRequest{
		SourceType: "dms", Namespace: "inventory",
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Status != "accepted" {
		t.Errorf("status: %s", resp.Status)
	}

	e.Wait()
	if len(ing.docs) != 1 || ing.namespace != "inventory" {
		t.Errorf("background sync did not run the pipeline: %d docs in %q", len(ing.docs), ing.namespace)
	}
}

func TestIngestNamespaceValidation(t *testing.T) {
	ing := &fakeIngestor{result: ingest.Result{DocumentsProcessed: 1, ChunksCreated: 1}}
	e := NewEngine(&fakeClassifier{}, &fakeRetriever{}, &fakeGenerator{}, ing, nil, nil, nil, nil, nil, Options{})
	ctx := context.Background()

	_, err := e.Ingest(ctx, types.IngestRequest{
		SourceType: "text", Content: "hello", Namespace: "Bad Namespace!",
	})
	if !errors.Is(err, types.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if err := e.DeleteNamespace(ctx, "UPPER"); !errors.Is(err, types.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}

	// Empty maps to the default namespace
	if _, err := e.Ingest(ctx, types.IngestRequest{SourceType: "text", Content: "hello"}); err != nil {
		t.Fatal(err)
	}
	if ing.namespace != "default" {
		t.Errorf("namespace: %q", ing.namespace)
	}
}

func TestIngestURLNotImplemented(t *testing.T) {
	e := newTestEngine(&fakeClassifier{}, &fakeRetriever{}, &fakeGenerator{})

	_, err := e.Ingest(context.Background(), types.IngestRequest{
		SourceType: "url", SourceIdentifier: "https://example.com",
	})
	if !errors.Is(err, types.ErrNotImplemented) {
		t.Fatalf("expected not-implemented, got %v", err)
	}
}

func TestIngestUnknownSourceType(t *testing.T) {
	e := newTestEngine(&fakeClassifier{}, &fakeRetriever{}, &fakeGenerator{})

	if _, err := e.Ingest(context.Background(), types.IngestRequest{SourceType: "ftp"}); !errors.Is(err, types.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
