package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"dealerrag/internal/types"
)

// MockEmbedder implements embedding.Embedder with function fields.
type MockEmbedder struct {
	EmbedFunc      func(ctx context.Context, text string) ([]float32, error)
	EmbedBatchFunc func(ctx context.Context, texts []string) ([][]float32, error)
}

func (m *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if m.EmbedFunc != nil {
		return m.EmbedFunc(ctx, text)
	}
	return []float32{1, 0}, nil
}

func (m *MockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if m.EmbedBatchFunc != nil {
		return m.EmbedBatchFunc(ctx, texts)
	}
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

func (m *MockEmbedder) Dimensions() int { return 2 }
func (m *MockEmbedder) Name() string    { return "mock" }

type mockVectorIndex struct {
	upserted  []types.Chunk
	namespace string
	err       error
}

func (m *mockVectorIndex) Upsert(ctx context.Context, namespace string, chunks []types.Chunk, vectors [][]float32) (int, error) {
	m.namespace = namespace
	m.upserted = append(m.upserted, chunks...)
	if m.err != nil {
		return 0, m.err
	}
	if len(chunks) != len(vectors) {
		return 0, errors.New("misaligned chunks and vectors")
	}
	return len(chunks), nil
}

type mockLexicalIndex struct {
	indexed []types.Chunk
	err     error
}

func (m *mockLexicalIndex) BulkIndex(ctx context.Context, namespace string, chunks []types.Chunk) (int, error) {
	m.indexed = append(m.indexed, chunks...)
	if m.err != nil {
		return 0, m.err
	}
	return len(chunks), nil
}

func TestPipelineRun(t *testing.T) {
	vec := &mockVectorIndex{}
	lex := &mockLexicalIndex{}
	p := NewPipeline(&MockEmbedder{}, vec, lex, 1000, 200)

	docs := []types.Document{
		{Text: "A warranty covers the powertrain for 60000 miles.", Metadata: map[string]interface{}{"source": "warranty.md"}},
		{Text: "Oil changes are recommended every 5000 miles.", Metadata: map[string]interface{}{"source": "service.md"}},
	}

	res := p.Run(context.Background(), docs, "service")

	if res.DocumentsProcessed != 2 {
		t.Errorf("expected 2 documents, got %d", res.DocumentsProcessed)
	}
	if res.ChunksCreated != 2 {
		t.Errorf("expected 2 chunks, got %d", res.ChunksCreated)
	}
	if res.VectorsUpserted != 2 {
		t.Errorf("expected 2 upserts, got %d", res.VectorsUpserted)
	}
	if len(res.Errors) != 0 {
		t.Errorf("unexpected errors: %v", res.Errors)
	}
	if vec.namespace != "service" {
		t.Errorf("wrong namespace: %s", vec.namespace)
	}
	if len(lex.indexed) != 2 {
		t.Errorf("lexical index got %d chunks", len(lex.indexed))
	}
}

func TestPipelineDeduplicatesIdenticalContent(t *testing.T) {
	vec := &mockVectorIndex{}
	p := NewPipeline(&MockEmbedder{}, vec, nil, 1000, 200)

	same := types.Document{Text: "identical content", Metadata: map[string]interface{}{"source": "a.md"}}
	res := p.Run(context.Background(), []types.Document{same, same}, "default")

	if res.DocumentsProcessed != 2 {
		t.Errorf("both documents processed, got %d", res.DocumentsProcessed)
	}
	if res.ChunksCreated != 1 {
		t.Errorf("duplicate content should collapse to 1 chunk, got %d", res.ChunksCreated)
	}
	if len(vec.upserted) != 1 {
		t.Errorf("expected 1 upserted chunk, got %d", len(vec.upserted))
	}
}

func TestPipelineContinuesPastBadDocument(t *testing.T) {
	vec := &mockVectorIndex{}
	p := NewPipeline(&MockEmbedder{}, vec, nil, 1000, 200)

	docs := []types.Document{
		{Text: "   ", Metadata: map[string]interface{}{"source": "empty.md"}},
		{Text: "good content here", Metadata: map[string]interface{}{"source": "good.md"}},
	}

	res := p.Run(context.Background(), docs, "default")

	if len(res.Errors) != 1 {
		t.Fatalf("expected 1 error, got %v", res.Errors)
	}
	if res.DocumentsProcessed != 1 || res.ChunksCreated != 1 {
		t.Errorf("good document should still land: %+v", res)
	}
}

func TestPipelineEmbeddingFailure(t *testing.T) {
	vec := &mockVectorIndex{}
	emb := &MockEmbedder{
		EmbedBatchFunc: func(ctx context.Context, texts []string) ([][]float32, error) {
			return nil, errors.New("embedding service down")
		},
	}
	p := NewPipeline(emb, vec, nil, 1000, 200)

	res := p.Run(context.Background(), []types.Document{
		{Text: "content", Metadata: map[string]interface{}{"source": "a.md"}},
	}, "default")

	if res.VectorsUpserted != 0 {
		t.Error("nothing should be upserted when embedding fails")
	}
	if len(res.Errors) == 0 || !strings.Contains(res.Errors[0], "embedding") {
		t.Errorf("expected embedding error, got %v", res.Errors)
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()

	txtPath := filepath.Join(dir, "notes.txt")
	os.WriteFile(txtPath, []byte("plain text content"), 0644)

	doc, err := LoadFile(txtPath)
	if err != nil {
		t.Fatalf("LoadFile txt: %v", err)
	}
	if doc.Text != "plain text content" {
		t.Errorf("unexpected text: %q", doc.Text)
	}
	if doc.Metadata["source"] != "notes.txt" || doc.Metadata["doc_type"] != "txt" {
		t.Errorf("unexpected metadata: %v", doc.Metadata)
	}

	htmlPath := filepath.Join(dir, "page.html")
	os.WriteFile(htmlPath, []byte("<html><script>evil()</script><body><h1>Title</h1><p>Body &amp; more</p></body></html>"), 0644)
	doc, err = LoadFile(htmlPath)
	if err != nil {
		t.Fatalf("LoadFile html: %v", err)
	}
	if strings.Contains(doc.Text, "<") || strings.Contains(doc.Text, "evil") {
		t.Errorf("html not stripped: %q", doc.Text)
	}
	if !strings.Contains(doc.Text, "Title") || !strings.Contains(doc.Text, "Body & more") {
		t.Errorf("html content lost: %q", doc.Text)
	}

	// Unsupported extension
	binPath := filepath.Join(dir, "image.png")
	os.WriteFile(binPath, []byte{0x89, 0x50}, 0644)
	if _, err := LoadFile(binPath); !errors.Is(err, types.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestLoadDirectory(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "a.txt"), []byte("doc a"), 0644)
	os.WriteFile(filepath.Join(dir, "b.md"), []byte("doc b"), 0644)
	os.WriteFile(filepath.Join(dir, "skip.png"), []byte("x"), 0644)
	sub := filepath.Join(dir, "sub")
	os.MkdirAll(sub, 0755)
	os.WriteFile(filepath.Join(sub, "c.txt"), []byte("doc c"), 0644)

	docs, errs := LoadDirectory(dir)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if len(docs) != 3 {
		t.Fatalf("expected 3 documents, got %d", len(docs))
	}
}

func TestFromVehicle(t *testing.T) {
	doc := FromVehicle(types.Vehicle{
		VIN: "1HGCM82633A004352", Make: "Honda", Model: "Accord", Year: 2022,
		Price: 27500, Mileage: 12000, Status: types.StatusAvailable,
		Category: types.CategoryUsed, FuelType: "gasoline", MPGCity: 30, MPGHighway: 38,
		DealerID: "D-0001",
	})

	for _, want := range []string{"2022 Honda Accord", "1HGCM82633A004352", "$27500.00", "12000 miles", "30 city / 38 highway"} {
		if !strings.Contains(doc.Text, want) {
			t.Errorf("vehicle document missing %q:\n%s", want, doc.Text)
		}
	}
	if doc.Metadata["vin"] != "1HGCM82633A004352" || doc.Metadata["source"] != "dms" {
		t.Errorf("unexpected metadata: %v", doc.Metadata)
	}
}
