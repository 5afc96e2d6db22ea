package lexical

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"dealerrag/internal/types"
)

func TestIndexName(t *testing.T) {
	c := NewClient(Config{IndexPrefix: "dealership"}, nil)
	if got := c.IndexName("sales"); got != "dealership-documents-sales" {
		t.Fatalf("unexpected index name: %s", got)
	}
}

func TestEmptyQueryReturnsNilWithoutHTTP(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, IndexPrefix: "d"}, nil)
	if docs := c.Search(context.Background(), "sales", "   ", 5, nil); docs != nil {
		t.Fatal("expected nil for blank query")
	}
	if called {
		t.Fatal("blank query must not hit the cluster")
	}
}

func TestEnsureIndexCreatesWithBM25Settings(t *testing.T) {
	var createBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodHead:
			w.WriteHeader(http.StatusNotFound)
		case http.MethodPut:
			createBody, _ = io.ReadAll(r.Body)
			fmt.Fprint(w, `{"acknowledged":true}`)
		}
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, IndexPrefix: "d"}, nil)
	if err := c.EnsureIndex(context.Background(), "sales"); err != nil {
		t.Fatalf("EnsureIndex: %v", err)
	}

	body := string(createBody)
	for _, want := range []string{`"k1":1.2`, `"b":0.75`, "automotive_analyzer", "automotive_synonyms", `"content_hash"`} {
		if !strings.Contains(body, want) {
			t.Errorf("index definition missing %s", want)
		}
	}

	// Second call hits the local cache, no extra HTTP
	if err := c.EnsureIndex(context.Background(), "sales"); err != nil {
		t.Fatalf("cached EnsureIndex: %v", err)
	}
}

func TestBulkIndexBatchesAndIDs(t *testing.T) {
	var bulkCalls atomic.Int64
	var firstPayload string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodHead:
			w.WriteHeader(http.StatusOK)
		case strings.HasSuffix(r.URL.Path, "/_bulk"):
			n := bulkCalls.Add(1)
			body, _ := io.ReadAll(r.Body)
			if n == 1 {
				firstPayload = string(body)
			}
			// Count action lines (every other NDJSON line)
			lines := strings.Count(strings.TrimSpace(string(body)), "\n") + 1
			items := make([]map[string]interface{}, lines/2)
			for i := range items {
				items[i] = map[string]interface{}{"index": map[string]interface{}{"status": 201}}
			}
			json.NewEncoder(w).Encode(map[string]interface{}{"errors": false, "items": items})
		}
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, IndexPrefix: "d"}, nil)

	chunks := make([]types.Chunk, 501)
	for i := range chunks {
		chunks[i] = types.Chunk{
			Text:        fmt.Sprintf("chunk %d", i),
			ContentHash: fmt.Sprintf("%032d", i),
			Index:       i,
			Metadata:    map[string]interface{}{"make": "Honda"},
		}
	}

	indexed, err := c.BulkIndex(context.Background(), "inventory", chunks)
	if err != nil {
		t.Fatalf("BulkIndex: %v", err)
	}
	if indexed != 501 {
		t.Fatalf("expected 501 indexed, got %d", indexed)
	}
	// 501 docs at batch size 500 -> 2 bulk requests
	if bulkCalls.Load() != 2 {
		t.Fatalf("expected 2 bulk calls, got %d", bulkCalls.Load())
	}

	if !strings.Contains(firstPayload, `"_id":"inventory_`+fmt.Sprintf("%032d", 0)) {
		t.Error("bulk payload missing namespace_hash document id")
	}
	if !strings.Contains(firstPayload, `"make":"Honda"`) {
		t.Error("bulk payload missing metadata passthrough")
	}
}

func TestSearchParsesHitsAndFilters(t *testing.T) {
	var searchBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/_search") {
			searchBody, _ = io.ReadAll(r.Body)
			fmt.Fprint(w, `{
				"hits": {
					"total": {"value": 2},
					"hits": [
						{"_id": "inventory_abc", "_score": 7.5,
						 "_source": {"content": "2022 Honda Civic", "make": "Honda", "content_hash": "abc"},
						 "highlight": {"content": ["<em>Civic</em>"]}},
						{"_id": "inventory_def", "_score": 4.1,
						 "_source": {"content": "2021 Honda Accord", "make": "Honda", "content_hash": "def"}}
					]
				}
			}`)
		}
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, IndexPrefix: "d"}, nil)
	docs := c.Search(context.Background(), "inventory", "honda civic", 5, map[string]interface{}{
		"make":     "Honda",
		"year_min": 2020,
	})

	if len(docs) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(docs))
	}
	if docs[0].Text != "2022 Honda Civic" || docs[0].Score != 7.5 {
		t.Errorf("unexpected first hit: %+v", docs[0])
	}
	if docs[0].Metadata["bm25_score"] != 7.5 {
		t.Error("bm25_score annotation missing")
	}
	if docs[0].Metadata["content_hash"] != "abc" {
		t.Error("content_hash metadata missing")
	}

	body := string(searchBody)
	for _, want := range []string{`"multi_match"`, `"title^2.0"`, `"fuzziness":"AUTO"`, `"term":{"make":"Honda"}`, `"range":{"year":{"gte":2020}}`} {
		if !strings.Contains(body, want) {
			t.Errorf("search body missing %s\nbody: %s", want, body)
		}
	}
}

func TestSearchMissingIndexReturnsEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, IndexPrefix: "d"}, nil)
	docs := c.Search(context.Background(), "ghost", "anything", 5, nil)
	if len(docs) != 0 {
		t.Fatalf("expected empty result for missing index, got %d", len(docs))
	}
	if c.Stats().SearchErrors != 0 {
		t.Error("missing index is not an error")
	}
}

func TestDeleteNamespace(t *testing.T) {
	var deleted string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodDelete {
			deleted = r.URL.Path
			fmt.Fprint(w, `{"acknowledged":true}`)
		}
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, IndexPrefix: "d"}, nil)
	if err := c.DeleteNamespace(context.Background(), "old"); err != nil {
		t.Fatalf("DeleteNamespace: %v", err)
	}
	if deleted != "/d-documents-old" {
		t.Fatalf("unexpected delete path: %s", deleted)
	}
}

func TestHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/_cluster/health" {
			fmt.Fprint(w, `{"status":"yellow"}`)
		}
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, IndexPrefix: "d"}, nil)
	status, err := c.Health(context.Background())
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if status != "yellow" {
		t.Fatalf("expected yellow, got %s", status)
	}

	srv.Close()
	if status, _ := c.Health(context.Background()); status != "red" {
		t.Fatalf("unreachable cluster should be red, got %s", status)
	}
}
