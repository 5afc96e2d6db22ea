package ingest

import (
	"context"
	"fmt"
	"time"

	"dealerrag/internal/embedding"
	"dealerrag/internal/logging"
	"dealerrag/internal/types"
)

// VectorIndex is the dense index write surface the pipeline needs.
type VectorIndex interface {
	Upsert(ctx context.Context, namespace string, chunks []types.Chunk, vectors [][]float32) (int, error)
}

// LexicalIndex is the keyword index write surface the pipeline needs.
type LexicalIndex interface {
	BulkIndex(ctx context.Context, namespace string, chunks []types.Chunk) (int, error)
}

// Pipeline splits, embeds and dual-indexes documents.
type Pipeline struct {
	embedder embedding.Embedder
	vector   VectorIndex
	lexical  LexicalIndex
	splitter *Splitter
}

// NewPipeline wires the pipeline. lexical may be nil, in which case only
// the dense index is written.
func NewPipeline(embedder embedding.Embedder, vector VectorIndex, lexical LexicalIndex, chunkSize, chunkOverlap int) *Pipeline {
	return &Pipeline{
		embedder: embedder,
		vector:   vector,
		lexical:  lexical,
		splitter: NewSplitter(chunkSize, chunkOverlap),
	}
}

// Result reports what one Run accomplished.
type Result struct {
	DocumentsProcessed int
	ChunksCreated      int
	VectorsUpserted    int
	ProcessingTime     time.Duration
	Errors             []string
}

// Run ingests documents into the namespace. It never aborts mid-batch:
// per-document failures are recorded in Result.Errors and processing
// continues, so a bad file cannot poison the rest of an upload.
func (p *Pipeline) Run(ctx context.Context, docs []types.Document, namespace string) Result {
	start := time.Now()
	timer := logging.StartTimer(logging.CategoryIngest, fmt.Sprintf("ingest %d docs into %s", len(docs), namespace))
	defer timer.StopWithInfo()

	var res Result
	seen := make(map[string]bool)
	var allChunks []types.Chunk

	for i, doc := range docs {
		if err := ctx.Err(); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("document %d: %v", i, err))
			break
		}

		texts := p.splitter.Split(doc.Text)
		if len(texts) == 0 {
			res.Errors = append(res.Errors, fmt.Sprintf("document %d: no content after splitting", i))
			continue
		}

		chunks := MakeChunks(texts, doc.Metadata)
		added := 0
		for _, ch := range chunks {
			// Identical content from the same source only goes in once
			if seen[ch.ContentHash] {
				continue
			}
			seen[ch.ContentHash] = true
			allChunks = append(allChunks, ch)
			added++
		}
		res.DocumentsProcessed++
		res.ChunksCreated += added
	}

	if len(allChunks) == 0 {
		res.ProcessingTime = time.Since(start)
		return res
	}

	texts := make([]string, len(allChunks))
	for i, ch := range allChunks {
		texts[i] = ch.Text
	}

	vectors, err := p.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("embedding: %v", err))
		res.ProcessingTime = time.Since(start)
		return res
	}

	upserted, err := p.vector.Upsert(ctx, namespace, allChunks, vectors)
	if err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("vector index: %v", err))
	}
	res.VectorsUpserted = upserted

	if p.lexical != nil {
		if _, err := p.lexical.BulkIndex(ctx, namespace, allChunks); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("lexical index: %v", err))
		}
	}

	res.ProcessingTime = time.Since(start)
	logging.Audit().IngestComplete(namespace, res.DocumentsProcessed, res.ChunksCreated,
		res.VectorsUpserted, len(res.Errors), res.ProcessingTime.Milliseconds())
	return res
}
