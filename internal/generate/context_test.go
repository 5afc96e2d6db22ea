package generate

import (
	"strings"
	"testing"

	"dealerrag/internal/types"
)

func scored(id, source, text string) types.ScoredDocument {
	return types.ScoredDocument{
		ID:   id,
		Text: text,
		Metadata: map[string]interface{}{
			"source":   source,
			"doc_type": "txt",
		},
	}
}

func TestBuildContextGroupsBySource(t *testing.T) {
	docs := []types.ScoredDocument{
		scored("1", "warranty.md", "chunk one"),
		scored("2", "pricing.md", "chunk two"),
		scored("3", "warranty.md", "chunk three"),
	}

	ctx := BuildContext(docs)

	if !strings.Contains(ctx, "[Document 1 - Source: warranty.md, Type: txt, Merged: 2 chunks]") {
		t.Errorf("warranty group header wrong:\n%s", ctx)
	}
	if !strings.Contains(ctx, "[Document 2 - Source: pricing.md, Type: txt]") {
		t.Errorf("pricing group header wrong:\n%s", ctx)
	}
	// Merged chunks appear under one header in order
	wIdx := strings.Index(ctx, "chunk one")
	w2Idx := strings.Index(ctx, "chunk three")
	if wIdx < 0 || w2Idx < 0 || w2Idx < wIdx {
		t.Errorf("merged chunk order wrong:\n%s", ctx)
	}
}

func TestBuildContextCapsMergedChunks(t *testing.T) {
	docs := []types.ScoredDocument{
		scored("1", "manual.pdf", "first"),
		scored("2", "manual.pdf", "second"),
		scored("3", "manual.pdf", "third"),
		scored("4", "manual.pdf", "fourth"),
	}

	ctx := BuildContext(docs)
	if !strings.Contains(ctx, "Merged: 3 chunks") {
		t.Errorf("expected 3-chunk cap:\n%s", ctx)
	}
	if strings.Contains(ctx, "fourth") {
		t.Errorf("fourth chunk should be dropped:\n%s", ctx)
	}
}

func TestBuildContextEmpty(t *testing.T) {
	if BuildContext(nil) != "" {
		t.Error("empty input should render nothing")
	}
}

func TestBuildHistoryTruncatesTurns(t *testing.T) {
	var turns []types.ConversationTurn
	for _, q := range []string{"q1", "q2", "q3", "q4", "q5", "q6", "q7"} {
		turns = append(turns, types.ConversationTurn{Query: q, Answer: "a-" + q})
	}

	h := BuildHistory(turns)
	if strings.Contains(h, "q1") || strings.Contains(h, "q2") {
		t.Errorf("oldest turns should be dropped:\n%s", h)
	}
	for _, want := range []string{"q3", "q4", "q5", "q6", "q7"} {
		if !strings.Contains(h, want) {
			t.Errorf("turn %s missing:\n%s", want, h)
		}
	}

	long := []types.ConversationTurn{{Query: "q", Answer: strings.Repeat("x", 600)}}
	h = BuildHistory(long)
	if !strings.Contains(h, strings.Repeat("x", 500)+"...") {
		t.Error("long answers should be truncated")
	}
	if strings.Contains(h, strings.Repeat("x", 501)) {
		t.Error("truncation cap exceeded")
	}
}

func TestExtractSourcesDedupes(t *testing.T) {
	docs := []types.ScoredDocument{
		scored("1", "warranty.md", strings.Repeat("w", 300)),
		scored("2", "pricing.md", "short text"),
		scored("3", "warranty.md", "later chunk from same source"),
	}
	answer := "Coverage is 5 years [Source: warranty.md] at $500 [Source: pricing.md]."

	sources := ExtractSources(answer, docs)
	if len(sources) != 2 {
		t.Fatalf("expected 2 sources, got %d", len(sources))
	}
	if sources[0].ID != "1" || sources[1].ID != "2" {
		t.Errorf("first-appearance order lost: %s %s", sources[0].ID, sources[1].ID)
	}
	if len(sources[0].Text) != 203 || !strings.HasSuffix(sources[0].Text, "...") {
		t.Errorf("snippet not capped at 200 chars: %d", len(sources[0].Text))
	}
	if sources[1].Text != "short text" {
		t.Errorf("short snippet altered: %q", sources[1].Text)
	}
}

func TestExtractSourcesOnlyMentioned(t *testing.T) {
	docs := []types.ScoredDocument{
		scored("1", "warranty.md", "warranty terms"),
		scored("2", "pricing.md", "price sheet"),
	}

	sources := ExtractSources("The warranty runs 5 years [Source: warranty.md].", docs)
	if len(sources) != 1 || sources[0].ID != "1" {
		t.Fatalf("expected only the cited source, got %v", sources)
	}

	// An answer citing nothing yields no sources
	if got := ExtractSources(noInformationStatement, docs); len(got) != 0 {
		t.Errorf("uncited answer should have no sources: %v", got)
	}
}

func TestBuildUserPrompt(t *testing.T) {
	prompt := buildUserPrompt("Is it in stock?",
		[]types.ScoredDocument{scored("1", "inv.md", "stock info")},
		[]types.ConversationTurn{{Query: "hi", Answer: "hello"}})

	histIdx := strings.Index(prompt, "Previous conversation:")
	ctxIdx := strings.Index(prompt, "Context Documents:")
	qIdx := strings.Index(prompt, "Customer question: Is it in stock?")
	if histIdx < 0 || ctxIdx < 0 || qIdx < 0 {
		t.Fatalf("prompt missing sections:\n%s", prompt)
	}
	if !(histIdx < ctxIdx && ctxIdx < qIdx) {
		t.Errorf("sections out of order:\n%s", prompt)
	}

	if !strings.Contains(prompt, "[Source: document_name]") {
		t.Errorf("missing citation instruction:\n%s", prompt)
	}
	if !strings.Contains(prompt, noInformationStatement) {
		t.Errorf("missing no-information fallback:\n%s", prompt)
	}

	bare := buildUserPrompt("hours?", nil, nil)
	if !strings.Contains(bare, "No context documents were retrieved") {
		t.Errorf("missing empty-context notice:\n%s", bare)
	}
}

func TestSystemPromptRequiresCitations(t *testing.T) {
	if !strings.Contains(systemPrompt, "[Source: ...]") {
		t.Error("system prompt should mandate source citations")
	}
	if !strings.Contains(systemPrompt, "ONLY using the provided context") {
		t.Error("system prompt should forbid answering outside the context")
	}
}
