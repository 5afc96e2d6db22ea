// Package agent orchestrates the query pipeline: sanitize, classify,
// retrieve, augment with live DMS data, and synthesize a grounded
// answer with citations.
package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"dealerrag/internal/dms"
	"dealerrag/internal/generate"
	"dealerrag/internal/ingest"
	"dealerrag/internal/logging"
	"dealerrag/internal/types"
)

// Retriever is the hybrid retrieval surface the engine calls.
type Retriever interface {
	Retrieve(ctx context.Context, query, namespace string, topK int, filters map[string]interface{}) []types.ScoredDocument
}

// Classifier routes queries to an intent.
type Classifier interface {
	Classify(ctx context.Context, query string) types.Intent
}

// AnswerGenerator synthesizes the final answer.
type AnswerGenerator interface {
	Generate(ctx context.Context, query string, docs []types.ScoredDocument, history []types.ConversationTurn) (*generate.Answer, error)
}

// Ingestor runs the document pipeline.
type Ingestor interface {
	Run(ctx context.Context, docs []types.Document, namespace string) ingest.Result
}

// NamespaceDeleter removes a namespace from one index.
type NamespaceDeleter interface {
	DeleteNamespace(ctx context.Context, namespace string) error
}

// Intent categories map to the namespace their documents live in.
var intentNamespaces = map[string]string{
	types.IntentSales:      "sales",
	types.IntentService:    "service",
	types.IntentInventory:  "inventory",
	types.IntentPredictive: "predictive",
	types.IntentGeneral:    "default",
}

// Options tunes engine behavior.
type Options struct {
	DefaultTopK  int
	MaxTopK      int
	DMSTimeout   time.Duration
	SyncPageSize int
}

// Engine is the query orchestrator.
type Engine struct {
	classifier    Classifier
	retriever     Retriever
	generator     AnswerGenerator
	pipeline      Ingestor
	dmsAdapter    dms.Adapter
	conversations *ConversationStore
	answers       *AnswerCache
	vectorIndex   NamespaceDeleter
	lexicalIndex  NamespaceDeleter
	opts          Options

	bg sync.WaitGroup
}

// Wait blocks until detached background ingestion tasks finish. Called
// during shutdown so in-flight DMS syncs drain instead of being killed.
func (e *Engine) Wait() {
	e.bg.Wait()
}

// NewEngine wires the orchestrator. dmsAdapter, conversations, answers
// and lexicalIndex may be nil.
func NewEngine(classifier Classifier, retriever Retriever, generator AnswerGenerator,
	pipeline Ingestor, dmsAdapter dms.Adapter, conversations *ConversationStore,
	answers *AnswerCache, vectorIndex, lexicalIndex NamespaceDeleter, opts Options) *Engine {
	if opts.DefaultTopK <= 0 {
		opts.DefaultTopK = 5
	}
	if opts.MaxTopK <= 0 {
		opts.MaxTopK = 50
	}
	if opts.DMSTimeout <= 0 {
		opts.DMSTimeout = 10 * time.Second
	}
	if opts.SyncPageSize <= 0 {
		opts.SyncPageSize = 50
	}
	return &Engine{
		classifier:    classifier,
		retriever:     retriever,
		generator:     generator,
		pipeline:      pipeline,
		dmsAdapter:    dmsAdapter,
		conversations: conversations,
		answers:       answers,
		vectorIndex:   vectorIndex,
		lexicalIndex:  lexicalIndex,
		opts:          opts,
	}
}

// ProcessQuery runs the full pipeline for one query.
func (e *Engine) ProcessQuery(ctx context.Context, req types.QueryRequest) (*types.QueryResponse, error) {
	start := time.Now()

	query := Sanitize(req.Query)
	if query == "" {
		return nil, &types.ValidationError{Field: "query", Message: "empty after sanitization"}
	}

	topK := req.TopK
	if topK <= 0 {
		topK = e.opts.DefaultTopK
	}
	if topK > e.opts.MaxTopK {
		topK = e.opts.MaxTopK
	}

	intent := e.classifier.Classify(ctx, query)
	namespace := intentNamespaces[intent.Type]
	if namespace == "" {
		namespace = "default"
	}
	logging.Audit().QueryReceived(len(query), namespace)

	// Cached answers only apply to stateless queries; a conversation
	// changes what the same words mean
	if req.ConversationID == "" {
		if cached := e.answers.Get(ctx, query, namespace); cached != nil {
			cached.QueryTimeMS = float64(time.Since(start).Microseconds()) / 1000
			logging.Session("answer cache hit for namespace %s", namespace)
			return cached, nil
		}
	}

	// Entity filters seed the set; caller-supplied filters win conflicts
	filters := make(map[string]interface{}, len(intent.Entities)+len(req.Filters))
	for k, v := range intent.Entities {
		if k == "vin" || k == "model" {
			continue
		}
		filters[k] = v
	}
	for k, v := range req.Filters {
		filters[k] = v
	}

	docs := e.retriever.Retrieve(ctx, query, namespace, topK, filters)

	if doc := e.fetchDMSContext(ctx, intent); doc != nil {
		docs = append([]types.ScoredDocument{*doc}, docs...)
	}

	conversationID := req.ConversationID
	var history []types.ConversationTurn
	if conversationID != "" {
		history = e.conversations.History(ctx, conversationID)
	} else {
		conversationID = uuid.NewString()
	}

	answer, err := e.generator.Generate(ctx, query, docs, history)
	if err != nil {
		logging.Audit().QueryFailed("generation", err, time.Since(start).Milliseconds())
		return nil, err
	}

	resp := &types.QueryResponse{
		Answer:          answer.Text,
		ConversationID:  conversationID,
		QueryTimeMS:     float64(time.Since(start).Microseconds()) / 1000,
		ModelUsed:       answer.ModelUsed,
		Intent:          intent.Type,
		RetrievalMethod: "hybrid_rrf",
	}
	if req.IncludeSources {
		resp.Sources = generate.ExtractSources(answer.Text, docs)
	}

	e.conversations.Append(ctx, conversationID, types.ConversationTurn{
		Query:     query,
		Answer:    answer.Text,
		Intent:    intent.Type,
		Timestamp: time.Now().UTC(),
	})
	if req.ConversationID == "" {
		e.answers.Set(ctx, query, namespace, resp)
	}

	logging.Audit().QueryAnswered(intent.Type, len(resp.Sources), time.Since(start).Milliseconds())
	return resp, nil
}

// fetchDMSContext pulls live dealership data for intents that benefit
// from it. A failed lookup still yields a context document recording
// the error, so the generator can admit the limitation; the pipeline
// never aborts here.
func (e *Engine) fetchDMSContext(ctx context.Context, intent types.Intent) *types.ScoredDocument {
	if e.dmsAdapter == nil {
		return nil
	}

	switch intent.Type {
	case types.IntentSales, types.IntentInventory, types.IntentService:
	default:
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, e.opts.DMSTimeout)
	defer cancel()
	start := time.Now()

	var (
		text string
		op   string
		err  error
	)
	switch intent.Type {
	case types.IntentService:
		vin, _ := intent.Entities["vin"].(string)
		if vin == "" {
			// Service history is per-vehicle; without a VIN there is
			// nothing meaningful to fetch
			return nil
		}
		op = "get_service_history"
		var records []types.ServiceRecord
		records, err = e.dmsAdapter.GetServiceHistory(ctx, vin)
		if err == nil {
			text = renderServiceHistory(vin, records)
		}
	case types.IntentInventory:
		op = "get_inventory"
		var vehicles []types.Vehicle
		vehicles, err = e.dmsAdapter.GetInventory(ctx, dmsFilters(intent.Entities), 1, 10)
		if err == nil {
			text = renderVehicles(vehicles)
		}
	default:
		// Sales queries get a small unfiltered inventory sample
		op = "sales_inventory"
		var vehicles []types.Vehicle
		vehicles, err = e.dmsAdapter.GetInventory(ctx, nil, 1, 5)
		if err == nil {
			text = renderVehicles(vehicles)
		}
	}

	logging.Audit().DMSCall(e.dmsAdapter.Name(), op, time.Since(start).Milliseconds(), err == nil, errString(err))
	docType := "dms_live"
	if err != nil {
		logging.DMSWarn("%s failed, recording error in context: %v", op, err)
		text = fmt.Sprintf("Live DMS lookup (%s) failed: %v. Current operational data is unavailable; answer from indexed documents only.", op, err)
		docType = "dms_error"
	}
	if text == "" {
		return nil
	}

	return &types.ScoredDocument{
		ID:   "dms_" + op,
		Text: text,
		Metadata: map[string]interface{}{
			"source":   "DMS",
			"doc_type": docType,
			"provider": e.dmsAdapter.Name(),
		},
	}
}

func dmsFilters(entities map[string]interface{}) map[string]interface{} {
	filters := make(map[string]interface{})
	for _, key := range []string{"make", "model", "year", "max_price", "fuel_type"} {
		if v, ok := entities[key]; ok {
			filters[key] = v
		}
	}
	return filters
}

func renderVehicles(vehicles []types.Vehicle) string {
	if len(vehicles) == 0 {
		return "Live inventory check: no matching vehicles are currently on the lot."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Live inventory data (%d matching vehicles):\n", len(vehicles))
	for _, v := range vehicles {
		fmt.Fprintf(&b, "- %d %s %s", v.Year, v.Make, v.Model)
		if v.Trim != "" {
			fmt.Fprintf(&b, " %s", v.Trim)
		}
		fmt.Fprintf(&b, ", $%.0f, %d miles, %s, VIN %s\n", v.Price, v.Mileage, v.Status, v.VIN)
	}
	return b.String()
}

func renderServiceHistory(vin string, records []types.ServiceRecord) string {
	if len(records) == 0 {
		return fmt.Sprintf("Live DMS data: no service records on file for VIN %s.", vin)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Live service history for VIN %s (%d records):\n", vin, len(records))
	for _, r := range records {
		fmt.Fprintf(&b, "- %s at %d miles: %s ($%.2f)\n",
			r.Date.Format("2006-01-02"), r.Mileage, r.Description, r.Cost)
	}
	return b.String()
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
