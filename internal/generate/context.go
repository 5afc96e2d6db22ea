package generate

import (
	"fmt"
	"strings"

	"dealerrag/internal/types"
)

const (
	// At most this many chunks are merged into one context block
	maxChunksPerSource = 3
	// Citation snippets are capped at this many characters
	maxSnippetChars = 200
	// History turns included in the prompt
	maxHistoryTurns = 5
	// Each history answer is truncated to this many characters
	maxHistoryAnswerChars = 500
)

// BuildContext renders retrieved chunks as the Context Documents block
// of the prompt. Chunks are grouped by source in first-appearance order
// and up to maxChunksPerSource per source are merged into one block.
func BuildContext(docs []types.ScoredDocument) string {
	if len(docs) == 0 {
		return ""
	}

	type group struct {
		source  string
		docType string
		texts   []string
	}
	bySource := make(map[string]*group)
	var order []*group

	for _, doc := range docs {
		source := metaString(doc.Metadata, "source", "unknown")
		g, ok := bySource[source]
		if !ok {
			g = &group{
				source:  source,
				docType: metaString(doc.Metadata, "doc_type", "document"),
			}
			bySource[source] = g
			order = append(order, g)
		}
		if len(g.texts) < maxChunksPerSource {
			g.texts = append(g.texts, strings.TrimSpace(doc.Text))
		}
	}

	var b strings.Builder
	b.WriteString("Context Documents:\n")
	for i, g := range order {
		fmt.Fprintf(&b, "\n[Document %d - Source: %s, Type: %s", i+1, g.source, g.docType)
		if len(g.texts) > 1 {
			fmt.Fprintf(&b, ", Merged: %d chunks", len(g.texts))
		}
		b.WriteString("]\n")
		b.WriteString(strings.Join(g.texts, "\n"))
		b.WriteString("\n")
	}
	return b.String()
}

// BuildHistory renders prior turns for the prompt, most recent last.
// Only the last maxHistoryTurns are included and long answers are
// truncated.
func BuildHistory(turns []types.ConversationTurn) string {
	if len(turns) == 0 {
		return ""
	}
	if len(turns) > maxHistoryTurns {
		turns = turns[len(turns)-maxHistoryTurns:]
	}

	var b strings.Builder
	b.WriteString("Previous conversation:\n")
	for _, turn := range turns {
		answer := turn.Answer
		if len(answer) > maxHistoryAnswerChars {
			answer = answer[:maxHistoryAnswerChars] + "..."
		}
		fmt.Fprintf(&b, "Customer: %s\nAssistant: %s\n", turn.Query, answer)
	}
	return b.String()
}

// ExtractSources produces the citation list for a response: one entry
// per distinct context source the answer actually mentions, in
// first-appearance order, snippet capped at maxSnippetChars. An answer
// that cites nothing (for instance the no-information statement) yields
// an empty list.
func ExtractSources(answer string, docs []types.ScoredDocument) []types.SourceDocument {
	seen := make(map[string]bool)
	var sources []types.SourceDocument

	for _, doc := range docs {
		source := metaString(doc.Metadata, "source", "unknown")
		if seen[source] || !strings.Contains(answer, source) {
			continue
		}
		seen[source] = true

		snippet := strings.TrimSpace(doc.Text)
		if len(snippet) > maxSnippetChars {
			snippet = snippet[:maxSnippetChars] + "..."
		}
		sources = append(sources, types.SourceDocument{
			ID:       doc.ID,
			Text:     snippet,
			Metadata: doc.Metadata,
			Score:    doc.Score,
		})
	}
	return sources
}

func metaString(meta map[string]interface{}, key, fallback string) string {
	if meta != nil {
		if s, ok := meta[key].(string); ok && s != "" {
			return s
		}
	}
	return fallback
}
