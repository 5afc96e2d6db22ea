package generate

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"

	"dealerrag/internal/logging"
	"dealerrag/internal/types"
)

const (
	validationMaxTokens = 500
	summaryMaxTokens    = 300
)

const validationSystemPrompt = "You are an expert fact-checker evaluating answer quality."

// Validation is the fact-check verdict on a generated answer: how well
// it is grounded in the context it was given.
type Validation struct {
	GroundednessScore int    `json:"groundedness_score"`
	Assessment        string `json:"assessment"`
}

// ValidateGroundedness asks the model to score the answer against the
// context documents it was generated from, 1 (fabricated) to 10 (fully
// supported). Intended for offline evaluation, not the query path.
func (g *Generator) ValidateGroundedness(ctx context.Context, answer string, docs []types.ScoredDocument) (*Validation, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	var b strings.Builder
	b.WriteString("Evaluate how well this answer is grounded in the provided context.\n\n")
	if c := BuildContext(docs); c != "" {
		b.WriteString(c)
		b.WriteString("\n")
	} else {
		b.WriteString("Context Documents: none were provided.\n\n")
	}
	b.WriteString("Answer to evaluate:\n")
	b.WriteString(answer)
	b.WriteString("\n\nRespond with:\n")
	b.WriteString("Groundedness Score: [1-10]\n")
	b.WriteString("Supported Claims: claims backed by the context\n")
	b.WriteString("Unsupported Claims: claims not backed by the context\n")
	b.WriteString("Overall Assessment: one or two sentences")

	start := time.Now()
	msg, err := g.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(g.model),
		MaxTokens: validationMaxTokens,
		System: []anthropic.TextBlockParam{
			{Text: validationSystemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(b.String())),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("groundedness validation: %w", err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		text.WriteString(block.Text)
	}
	assessment := strings.TrimSpace(text.String())

	score, err := parseGroundednessScore(assessment)
	if err != nil {
		return nil, err
	}
	logging.Generation("answer groundedness %d/10 in %s", score,
		time.Since(start).Round(time.Millisecond))
	return &Validation{GroundednessScore: score, Assessment: assessment}, nil
}

var groundednessRe = regexp.MustCompile(`(?i)groundedness score:\s*\[?(\d{1,2})\]?`)

// parseGroundednessScore pulls the 1-10 score out of the verdict text.
func parseGroundednessScore(text string) (int, error) {
	m := groundednessRe.FindStringSubmatch(text)
	if m == nil {
		return 0, fmt.Errorf("no groundedness score in validation response")
	}
	score, err := strconv.Atoi(m[1])
	if err != nil || score < 1 || score > 10 {
		return 0, fmt.Errorf("groundedness score %q out of range", m[1])
	}
	return score, nil
}

// SummarizeConversation condenses prior turns into a short summary
// suitable for seeding a fresh conversation context.
func (g *Generator) SummarizeConversation(ctx context.Context, turns []types.ConversationTurn) (string, error) {
	if len(turns) == 0 {
		return "", nil
	}
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	prompt := BuildHistory(turns) +
		"\nSummarize this dealership conversation in under 150 words. " +
		"Keep every vehicle, VIN, price and commitment mentioned."

	msg, err := g.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(g.model),
		MaxTokens: summaryMaxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("conversation summary: %w", err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		text.WriteString(block.Text)
	}
	return strings.TrimSpace(text.String()), nil
}
