// Package lexical provides the BM25 keyword index on an
// OpenSearch-compatible cluster. Each namespace gets its own index
// named <prefix>-documents-<namespace>, created on first write with an
// automotive analyzer tuned for dealership vocabulary.
package lexical

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"dealerrag/internal/breaker"
	"dealerrag/internal/logging"
	"dealerrag/internal/types"
)

const bulkBatchSize = 500

// Config configures the lexical client.
type Config struct {
	BaseURL     string
	Username    string
	Password    string
	IndexPrefix string
}

// Client talks to an OpenSearch-compatible cluster over its REST API.
type Client struct {
	baseURL     string
	username    string
	password    string
	indexPrefix string
	httpClient  *http.Client
	breaker     *breaker.Breaker

	mu           sync.Mutex
	knownIndexes map[string]bool
	indexedDocs  int64
	searches     int64
	searchErrors int64
}

// NewClient creates a lexical client.
func NewClient(cfg Config, brk *breaker.Breaker) *Client {
	return &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		username:    cfg.Username,
		password:    cfg.Password,
		indexPrefix: cfg.IndexPrefix,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		breaker:      brk,
		knownIndexes: make(map[string]bool),
	}
}

// IndexName returns the per-namespace index name.
func (c *Client) IndexName(namespace string) string {
	return fmt.Sprintf("%s-documents-%s", c.indexPrefix, namespace)
}

// EnsureIndex creates the namespace index if it does not exist.
func (c *Client) EnsureIndex(ctx context.Context, namespace string) error {
	index := c.IndexName(namespace)

	c.mu.Lock()
	if c.knownIndexes[index] {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	status, _, err := c.request(ctx, http.MethodHead, "/"+index, nil)
	if err != nil {
		return err
	}
	if status == http.StatusOK {
		c.mu.Lock()
		c.knownIndexes[index] = true
		c.mu.Unlock()
		return nil
	}

	body, err := json.Marshal(indexDefinition())
	if err != nil {
		return err
	}
	status, respBody, err := c.request(ctx, http.MethodPut, "/"+index, body)
	if err != nil {
		return err
	}
	// A concurrent creator losing the race is fine
	if status >= 300 && !strings.Contains(string(respBody), "resource_already_exists") {
		return fmt.Errorf("create index %s: status %d: %s", index, status, respBody)
	}

	c.mu.Lock()
	c.knownIndexes[index] = true
	c.mu.Unlock()
	logging.Lexical("created index %s", index)
	return nil
}

// BulkIndex writes chunks into the namespace index in batches of up to
// 500. Document ids are <namespace>_<content_hash>, so identical content
// overwrites in place. Returns documents indexed.
func (c *Client) BulkIndex(ctx context.Context, namespace string, chunks []types.Chunk) (int, error) {
	if len(chunks) == 0 {
		return 0, nil
	}
	if err := c.EnsureIndex(ctx, namespace); err != nil {
		return 0, err
	}

	index := c.IndexName(namespace)
	indexed := 0
	var firstErr error

	for start := 0; start < len(chunks); start += bulkBatchSize {
		end := start + bulkBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}

		var buf bytes.Buffer
		for _, ch := range chunks[start:end] {
			action := map[string]interface{}{
				"index": map[string]interface{}{
					"_index": index,
					"_id":    fmt.Sprintf("%s_%s", namespace, ch.ContentHash),
				},
			}
			doc := map[string]interface{}{
				"content":      ch.Text,
				"content_hash": ch.ContentHash,
				"namespace":    namespace,
				"chunk_index":  ch.Index,
				"timestamp":    time.Now().UTC().Format(time.RFC3339),
			}
			for k, v := range ch.Metadata {
				if _, reserved := doc[k]; !reserved {
					doc[k] = v
				}
			}
			a, _ := json.Marshal(action)
			d, _ := json.Marshal(doc)
			buf.Write(a)
			buf.WriteByte('\n')
			buf.Write(d)
			buf.WriteByte('\n')
		}

		count, err := c.bulkRequest(ctx, buf.Bytes())
		if err != nil {
			logging.LexicalError("bulk batch %d-%d failed: %v", start, end, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		indexed += count
	}

	c.mu.Lock()
	c.indexedDocs += int64(indexed)
	c.mu.Unlock()

	if firstErr != nil && indexed < len(chunks) {
		return indexed, &types.PartialIndexError{Attempted: len(chunks), Failed: len(chunks) - indexed, Cause: firstErr}
	}
	return indexed, nil
}

func (c *Client) bulkRequest(ctx context.Context, body []byte) (int, error) {
	var resp bulkResponse
	err := c.do(ctx, func() error {
		status, respBody, err := c.requestNDJSON(ctx, http.MethodPost, "/_bulk?refresh=true", body)
		if err != nil {
			return err
		}
		if status >= 300 {
			return fmt.Errorf("bulk request: status %d: %s", status, respBody)
		}
		return json.Unmarshal(respBody, &resp)
	})
	if err != nil {
		return 0, err
	}

	ok := 0
	for _, item := range resp.Items {
		if item.Index.Status < 300 {
			ok++
		}
	}
	return ok, nil
}

// Search runs a BM25 query against the namespace. An empty query or any
// transport error yields an empty result after logging.
func (c *Client) Search(ctx context.Context, namespace, query string, topK int, filters map[string]interface{}) []types.ScoredDocument {
	if strings.TrimSpace(query) == "" {
		return nil
	}

	c.mu.Lock()
	c.searches++
	c.mu.Unlock()

	body, err := json.Marshal(buildSearchBody(query, topK, filters))
	if err != nil {
		return nil
	}

	var resp searchResponse
	err = c.do(ctx, func() error {
		status, respBody, err := c.request(ctx, http.MethodPost, "/"+c.IndexName(namespace)+"/_search", body)
		if err != nil {
			return err
		}
		if status == http.StatusNotFound {
			// Namespace never ingested: nothing to find
			return nil
		}
		if status >= 300 {
			return fmt.Errorf("search: status %d: %s", status, respBody)
		}
		return json.Unmarshal(respBody, &resp)
	})
	if err != nil {
		c.mu.Lock()
		c.searchErrors++
		c.mu.Unlock()
		logging.LexicalError("search failed: %v", err)
		return nil
	}

	docs := make([]types.ScoredDocument, 0, len(resp.Hits.Hits))
	for _, hit := range resp.Hits.Hits {
		doc := types.ScoredDocument{
			ID:       hit.ID,
			Score:    hit.Score,
			Metadata: make(map[string]interface{}),
		}
		for k, v := range hit.Source {
			if k == "content" {
				if s, ok := v.(string); ok {
					doc.Text = s
				}
				continue
			}
			doc.Metadata[k] = v
		}
		doc.Metadata["bm25_score"] = hit.Score
		if len(hit.Highlight.Content) > 0 {
			doc.Metadata["highlights"] = hit.Highlight.Content
		}
		docs = append(docs, doc)
	}
	return docs
}

// buildSearchBody assembles the query DSL: multi_match over content and
// boosted title with fuzziness, plus term/range filter clauses.
func buildSearchBody(query string, topK int, filters map[string]interface{}) map[string]interface{} {
	must := []interface{}{
		map[string]interface{}{
			"multi_match": map[string]interface{}{
				"query":     query,
				"fields":    []string{"content", "title^2.0"},
				"type":      "best_fields",
				"fuzziness": "AUTO",
			},
		},
	}

	var filterClauses []interface{}
	ranges := map[string]map[string]interface{}{}
	for key, val := range filters {
		switch {
		case strings.HasSuffix(key, "_min"):
			field := strings.TrimSuffix(key, "_min")
			if ranges[field] == nil {
				ranges[field] = map[string]interface{}{}
			}
			ranges[field]["gte"] = val
		case strings.HasSuffix(key, "_max"):
			field := strings.TrimSuffix(key, "_max")
			if ranges[field] == nil {
				ranges[field] = map[string]interface{}{}
			}
			ranges[field]["lte"] = val
		default:
			filterClauses = append(filterClauses, map[string]interface{}{
				"term": map[string]interface{}{key: val},
			})
		}
	}
	for field, bounds := range ranges {
		filterClauses = append(filterClauses, map[string]interface{}{
			"range": map[string]interface{}{field: bounds},
		})
	}

	boolQuery := map[string]interface{}{"must": must}
	if len(filterClauses) > 0 {
		boolQuery["filter"] = filterClauses
	}

	return map[string]interface{}{
		"size":  topK,
		"query": map[string]interface{}{"bool": boolQuery},
		"highlight": map[string]interface{}{
			"fields": map[string]interface{}{
				"content": map[string]interface{}{
					"fragment_size":       150,
					"number_of_fragments": 2,
				},
			},
		},
	}
}

// DeleteNamespace drops the namespace index entirely.
func (c *Client) DeleteNamespace(ctx context.Context, namespace string) error {
	index := c.IndexName(namespace)
	return c.do(ctx, func() error {
		status, body, err := c.request(ctx, http.MethodDelete, "/"+index, nil)
		if err != nil {
			return err
		}
		if status >= 300 && status != http.StatusNotFound {
			return fmt.Errorf("delete index %s: status %d: %s", index, status, body)
		}
		c.mu.Lock()
		delete(c.knownIndexes, index)
		c.mu.Unlock()
		return nil
	})
}

// Count returns the document count for a namespace, 0 if absent.
func (c *Client) Count(ctx context.Context, namespace string) (int64, error) {
	var resp countResponse
	err := c.do(ctx, func() error {
		status, body, err := c.request(ctx, http.MethodGet, "/"+c.IndexName(namespace)+"/_count", nil)
		if err != nil {
			return err
		}
		if status == http.StatusNotFound {
			return nil
		}
		if status >= 300 {
			return fmt.Errorf("count: status %d: %s", status, body)
		}
		return json.Unmarshal(body, &resp)
	})
	return resp.Count, err
}

// Health returns the cluster status (green, yellow, red).
func (c *Client) Health(ctx context.Context) (string, error) {
	var resp healthResponse
	err := c.do(ctx, func() error {
		status, body, err := c.request(ctx, http.MethodGet, "/_cluster/health", nil)
		if err != nil {
			return err
		}
		if status >= 300 {
			return fmt.Errorf("cluster health: status %d: %s", status, body)
		}
		return json.Unmarshal(body, &resp)
	})
	if err != nil {
		return "red", err
	}
	return resp.Status, nil
}

// Stats reports operation counters.
type Stats struct {
	IndexedDocs  int64 `json:"indexed_documents"`
	Searches     int64 `json:"searches"`
	SearchErrors int64 `json:"search_errors"`
}

// Stats returns operation counters.
func (c *Client) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{IndexedDocs: c.indexedDocs, Searches: c.searches, SearchErrors: c.searchErrors}
}

func (c *Client) do(ctx context.Context, fn func() error) error {
	if c.breaker != nil {
		return c.breaker.Do(ctx, fn)
	}
	return fn()
}

func (c *Client) request(ctx context.Context, method, path string, body []byte) (int, []byte, error) {
	return c.doRequest(ctx, method, path, body, "application/json")
}

func (c *Client) requestNDJSON(ctx context.Context, method, path string, body []byte) (int, []byte, error) {
	return c.doRequest(ctx, method, path, body, "application/x-ndjson")
}

func (c *Client) doRequest(ctx context.Context, method, path string, body []byte, contentType string) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", contentType)
	}
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, respBody, nil
}

// =============================================================================
// INDEX DEFINITION
// =============================================================================

// indexDefinition returns the settings and mappings for a namespace
// index: BM25 with k1=1.2 b=0.75, an analyzer with automotive synonyms,
// and typed fields for the vehicle attributes the DMS feeds carry.
func indexDefinition() map[string]interface{} {
	return map[string]interface{}{
		"settings": map[string]interface{}{
			"number_of_shards":   1,
			"number_of_replicas": 0,
			"similarity": map[string]interface{}{
				"default": map[string]interface{}{
					"type": "BM25",
					"k1":   1.2,
					"b":    0.75,
				},
			},
			"analysis": map[string]interface{}{
				"filter": map[string]interface{}{
					"automotive_synonyms": map[string]interface{}{
						"type": "synonym",
						"synonyms": []string{
							"suv, sport utility vehicle",
							"mpg, miles per gallon",
							"awd, all wheel drive",
							"fwd, front wheel drive",
							"4wd, four wheel drive",
							"ev, electric vehicle",
							"cpo, certified pre-owned, certified preowned",
							"msrp, sticker price",
						},
					},
					"english_stop": map[string]interface{}{
						"type":      "stop",
						"stopwords": "_english_",
					},
					"english_stemmer": map[string]interface{}{
						"type":     "stemmer",
						"language": "english",
					},
				},
				"analyzer": map[string]interface{}{
					"automotive_analyzer": map[string]interface{}{
						"type":      "custom",
						"tokenizer": "standard",
						"filter": []string{
							"lowercase",
							"automotive_synonyms",
							"english_stop",
							"english_stemmer",
						},
					},
				},
			},
		},
		"mappings": map[string]interface{}{
			"properties": map[string]interface{}{
				"content":      map[string]interface{}{"type": "text", "analyzer": "automotive_analyzer"},
				"title":        map[string]interface{}{"type": "text", "analyzer": "automotive_analyzer", "boost": 2.0},
				"vin":          map[string]interface{}{"type": "keyword"},
				"make":         map[string]interface{}{"type": "keyword"},
				"model":        map[string]interface{}{"type": "keyword"},
				"year":         map[string]interface{}{"type": "integer"},
				"price":        map[string]interface{}{"type": "float"},
				"mileage":      map[string]interface{}{"type": "integer"},
				"dealer_id":    map[string]interface{}{"type": "keyword"},
				"source":       map[string]interface{}{"type": "keyword"},
				"doc_type":     map[string]interface{}{"type": "keyword"},
				"content_hash": map[string]interface{}{"type": "keyword"},
				"namespace":    map[string]interface{}{"type": "keyword"},
				"chunk_index":  map[string]interface{}{"type": "integer"},
				"timestamp":    map[string]interface{}{"type": "date"},
			},
		},
	}
}

// =============================================================================
// REQUEST/RESPONSE TYPES
// =============================================================================

type bulkResponse struct {
	Errors bool `json:"errors"`
	Items  []struct {
		Index struct {
			ID     string `json:"_id"`
			Status int    `json:"status"`
		} `json:"index"`
	} `json:"items"`
}

type searchResponse struct {
	Hits struct {
		Total struct {
			Value int64 `json:"value"`
		} `json:"total"`
		Hits []struct {
			ID        string                 `json:"_id"`
			Score     float64                `json:"_score"`
			Source    map[string]interface{} `json:"_source"`
			Highlight struct {
				Content []string `json:"content"`
			} `json:"highlight"`
		} `json:"hits"`
	} `json:"hits"`
}

type countResponse struct {
	Count int64 `json:"count"`
}

type healthResponse struct {
	Status string `json:"status"`
}
