// Package types holds the shared data structures of the dealership RAG
// engine: documents and chunks flowing through the dual-index pipeline,
// retrieval results, API request/response payloads, and vehicle records
// surfaced by the DMS integrations.
package types

import "time"

// Document is a raw unit of content entering the ingestion pipeline,
// before splitting.
type Document struct {
	Text     string                 `json:"text"`
	Metadata map[string]interface{} `json:"metadata"`
}

// Chunk is a split piece of a document, ready for embedding and indexing.
// ID is deterministic: chunk_<index>_<sha256-prefix of content+source>,
// so re-ingesting identical content overwrites rather than duplicates.
type Chunk struct {
	ID          string                 `json:"id"`
	Text        string                 `json:"text"`
	ContentHash string                 `json:"content_hash"`
	Index       int                    `json:"chunk_index"`
	Metadata    map[string]interface{} `json:"metadata"`
}

// ScoredDocument is a chunk returned by an index query, carrying whichever
// scores the retrieval path produced. Metadata keys vector_rank,
// keyword_rank, rrf_score and rerank_score are attached during fusion.
type ScoredDocument struct {
	ID       string                 `json:"id"`
	Text     string                 `json:"text"`
	Score    float64                `json:"score"`
	Metadata map[string]interface{} `json:"metadata"`
}

// SourceDocument is the citation shape returned to API clients: the first
// chunk per distinct source, snippet capped at 200 characters.
type SourceDocument struct {
	ID       string                 `json:"id"`
	Text     string                 `json:"text"`
	Metadata map[string]interface{} `json:"metadata"`
	Score    float64                `json:"score,omitempty"`
}

// ConversationTurn is one stored exchange in a multi-turn session.
type ConversationTurn struct {
	Query     string    `json:"query"`
	Answer    string    `json:"answer"`
	Intent    string    `json:"intent"`
	Timestamp time.Time `json:"timestamp"`
}

// QueryRequest is the POST /query payload.
type QueryRequest struct {
	Query          string                 `json:"query"`
	ConversationID string                 `json:"conversation_id,omitempty"`
	Filters        map[string]interface{} `json:"filters,omitempty"`
	TopK           int                    `json:"top_k,omitempty"`
	IncludeSources bool                   `json:"include_sources"`
}

// QueryResponse is the POST /query result.
type QueryResponse struct {
	Answer          string           `json:"answer"`
	Sources         []SourceDocument `json:"sources"`
	ConversationID  string           `json:"conversation_id"`
	QueryTimeMS     float64          `json:"query_time_ms"`
	ModelUsed       string           `json:"model_used"`
	Intent          string           `json:"intent,omitempty"`
	RetrievalMethod string           `json:"retrieval_method,omitempty"`
}

// IngestRequest is the POST /ingest payload. SourceType is one of
// file, dms, url, text.
type IngestRequest struct {
	SourceType       string                 `json:"source_type"`
	SourceIdentifier string                 `json:"source_identifier,omitempty"`
	Content          string                 `json:"content,omitempty"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
	Namespace        string                 `json:"namespace,omitempty"`
}

// IngestResponse reports what the pipeline accomplished. Errors holds
// per-document failure messages; a non-empty slice with nonzero counts
// means a partial success.
type IngestResponse struct {
	Status             string   `json:"status"`
	DocumentsProcessed int      `json:"documents_processed"`
	ChunksCreated      int      `json:"chunks_created"`
	VectorsUpserted    int      `json:"vectors_upserted"`
	ProcessingTimeMS   float64  `json:"processing_time_ms"`
	Errors             []string `json:"errors"`
}

// HealthCheck is the GET /health response.
type HealthCheck struct {
	Status    string          `json:"status"`
	Timestamp time.Time       `json:"timestamp"`
	Version   string          `json:"version"`
	Services  map[string]bool `json:"services"`
}

// Intent is the classified purpose of a query plus any entities pulled
// from its text.
type Intent struct {
	Type       string                 `json:"intent"`
	Confidence float64                `json:"confidence"`
	SubIntent  string                 `json:"sub_intent,omitempty"`
	Entities   map[string]interface{} `json:"entities"`
}

// Intent categories.
const (
	IntentSales      = "sales"
	IntentService    = "service"
	IntentInventory  = "inventory"
	IntentPredictive = "predictive"
	IntentGeneral    = "general"
)
