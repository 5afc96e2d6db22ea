// Package ingest implements the document pipeline: loading, recursive
// splitting, deduplication, embedding and dual-index writes.
package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"dealerrag/internal/types"
)

// Separator priority for recursive splitting: paragraph, line, sentence,
// word, character.
var defaultSeparators = []string{"\n\n", "\n", ". ", " ", ""}

// Splitter breaks text into overlapping chunks.
type Splitter struct {
	chunkSize    int
	chunkOverlap int
	separators   []string
}

// NewSplitter creates a splitter. Overlap is clamped below chunk size.
func NewSplitter(chunkSize, chunkOverlap int) *Splitter {
	if chunkSize <= 0 {
		chunkSize = 1000
	}
	if chunkOverlap < 0 {
		chunkOverlap = 0
	}
	if chunkOverlap >= chunkSize {
		chunkOverlap = chunkSize / 2
	}
	return &Splitter{
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
		separators:   defaultSeparators,
	}
}

// Split breaks text into chunks of at most chunkSize characters with the
// configured overlap between consecutive chunks.
func (s *Splitter) Split(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if len(text) <= s.chunkSize {
		return []string{text}
	}
	return s.splitRecursive(text, s.separators)
}

func (s *Splitter) splitRecursive(text string, separators []string) []string {
	// Pick the highest-priority separator present in the text
	sep := separators[len(separators)-1]
	var rest []string
	for i, candidate := range separators {
		if candidate == "" {
			sep = ""
			rest = nil
			break
		}
		if strings.Contains(text, candidate) {
			sep = candidate
			rest = separators[i+1:]
			break
		}
	}

	var splits []string
	if sep == "" {
		for start := 0; start < len(text); start += s.chunkSize {
			end := start + s.chunkSize
			if end > len(text) {
				end = len(text)
			}
			splits = append(splits, text[start:end])
		}
		return splits
	}
	splits = strings.Split(text, sep)

	var final []string
	var good []string
	for _, piece := range splits {
		if len(piece) <= s.chunkSize {
			good = append(good, piece)
			continue
		}
		// Oversized piece: flush what we have and recurse into it
		if len(good) > 0 {
			final = append(final, s.merge(good, sep)...)
			good = nil
		}
		final = append(final, s.splitRecursive(piece, rest)...)
	}
	if len(good) > 0 {
		final = append(final, s.merge(good, sep)...)
	}
	return final
}

// merge greedily joins splits up to chunkSize, carrying chunkOverlap
// characters of trailing context into the next chunk.
func (s *Splitter) merge(splits []string, sep string) []string {
	var chunks []string
	var current []string
	total := 0

	flush := func() {
		if len(current) == 0 {
			return
		}
		chunk := strings.TrimSpace(strings.Join(current, sep))
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
	}

	for _, piece := range splits {
		pieceLen := len(piece)
		if total+pieceLen+len(sep)*len(current) > s.chunkSize && len(current) > 0 {
			flush()
			// Drop from the front until the carried tail fits the overlap
			// and leaves room for the incoming piece
			for len(current) > 0 && (total > s.chunkOverlap ||
				total+pieceLen+len(sep)*len(current) > s.chunkSize) {
				total -= len(current[0])
				current = current[1:]
			}
		}
		current = append(current, piece)
		total += pieceLen
	}
	flush()
	return chunks
}

// ContentHash returns the 32-hex identity of a chunk: the first half of
// sha256 over content plus source. Identical content from the same
// source always maps to the same hash, making index writes idempotent.
func ContentHash(content, source string) string {
	sum := sha256.Sum256([]byte(content + source))
	return hex.EncodeToString(sum[:])[:32]
}

// MakeChunks converts split texts into chunks with deterministic ids and
// per-chunk metadata layered over the document metadata.
func MakeChunks(texts []string, docMeta map[string]interface{}) []types.Chunk {
	source := ""
	if docMeta != nil {
		if s, ok := docMeta["source"].(string); ok {
			source = s
		}
	}

	chunks := make([]types.Chunk, 0, len(texts))
	for i, text := range texts {
		hash := ContentHash(text, source)
		meta := make(map[string]interface{}, len(docMeta)+2)
		for k, v := range docMeta {
			meta[k] = v
		}
		meta["chunk_index"] = i
		meta["chunk_size"] = len(text)

		chunks = append(chunks, types.Chunk{
			ID:          fmt.Sprintf("chunk_%d_%s", i, hash[:16]),
			Text:        text,
			ContentHash: hash,
			Index:       i,
			Metadata:    meta,
		})
	}
	return chunks
}
