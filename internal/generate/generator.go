// Package generate synthesizes grounded answers from retrieved context
// with the Anthropic Messages API.
package generate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"

	"dealerrag/internal/breaker"
	"dealerrag/internal/logging"
	"dealerrag/internal/types"
)

const (
	requestTimeout = 30 * time.Second
	temperature    = 0.2
	maxTokens      = 1024
)

const systemPrompt = `You are an expert automotive dealership assistant with deep
knowledge of vehicle specifications, dealership operations, service
procedures, and customer service. Rules:
- Answer ONLY using the provided context documents and live DMS data.
- Never invent or hallucinate information, prices, availability, or
  vehicle specifications.
- Cite every factual claim with [Source: ...] notation naming the
  document it came from.
- If the context does not contain enough information, state that
  clearly and explicitly.
- Be specific: exact VINs, prices, model names and figures, not
  generalizations.
- Be concise, professional, and customer-focused.`

// The model is told to emit exactly this when the context cannot
// answer, so callers and evaluation can detect the no-information path.
const noInformationStatement = "I don't have that specific information in my current knowledge base."

// Generator produces answers from retrieved context.
type Generator struct {
	client  *anthropic.Client
	model   string
	breaker *breaker.Breaker
}

// Answer is a synthesized response plus its token accounting.
type Answer struct {
	Text         string
	ModelUsed    string
	InputTokens  int64
	OutputTokens int64
}

// NewGenerator wires the answer synthesizer. br may be nil.
func NewGenerator(client *anthropic.Client, model string, br *breaker.Breaker) *Generator {
	return &Generator{client: client, model: model, breaker: br}
}

// Generate answers the query from the retrieved documents and prior
// conversation turns.
func (g *Generator) Generate(ctx context.Context, query string, docs []types.ScoredDocument, history []types.ConversationTurn) (*Answer, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	prompt := buildUserPrompt(query, docs, history)

	start := time.Now()
	var msg *anthropic.Message
	call := func() error {
		var err error
		msg, err = g.client.Messages.New(ctx, anthropic.MessageNewParams{
			Model:       anthropic.Model(g.model),
			MaxTokens:   maxTokens,
			Temperature: anthropic.Float(temperature),
			System: []anthropic.TextBlockParam{
				{Text: systemPrompt},
			},
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
			},
		})
		return err
	}

	var err error
	if g.breaker != nil {
		err = g.breaker.Do(ctx, call)
	} else {
		err = call()
	}
	if err != nil {
		logging.GenerationError("messages call failed: %v", err)
		logging.Audit().LLMCall(g.model, 0, time.Since(start).Milliseconds(), false, err.Error())
		return nil, fmt.Errorf("generation: %w", err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		text.WriteString(block.Text)
	}

	answer := &Answer{
		Text:         strings.TrimSpace(text.String()),
		ModelUsed:    g.model,
		InputTokens:  msg.Usage.InputTokens,
		OutputTokens: msg.Usage.OutputTokens,
	}
	logging.Generation("answered in %s (%d in / %d out tokens)",
		time.Since(start).Round(time.Millisecond), answer.InputTokens, answer.OutputTokens)
	logging.Audit().LLMCall(g.model, int(answer.InputTokens+answer.OutputTokens),
		time.Since(start).Milliseconds(), true, "")
	return answer, nil
}

// GenerateStream answers the query, sending text deltas to the returned
// channel as they arrive. The channel closes when the stream ends; a
// terminal error closes it early and is returned by the final func.
func (g *Generator) GenerateStream(ctx context.Context, query string, docs []types.ScoredDocument, history []types.ConversationTurn) (<-chan string, func() error) {
	out := make(chan string, 16)
	prompt := buildUserPrompt(query, docs, history)

	stream := g.client.Messages.NewStreaming(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(g.model),
		MaxTokens:   maxTokens,
		Temperature: anthropic.Float(temperature),
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})

	var streamErr error
	done := make(chan struct{})
	go func() {
		defer close(out)
		defer close(done)
		for stream.Next() {
			event := stream.Current()
			switch delta := event.AsAny().(type) {
			case anthropic.ContentBlockDeltaEvent:
				if delta.Delta.Text != "" {
					select {
					case out <- delta.Delta.Text:
					case <-ctx.Done():
						return
					}
				}
			}
		}
		streamErr = stream.Err()
	}()

	return out, func() error {
		<-done
		return streamErr
	}
}

// FollowUpQuestions suggests questions the customer might ask next.
func (g *Generator) FollowUpQuestions(ctx context.Context, query, answer string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	prompt := fmt.Sprintf("A dealership customer asked: %q\nThe assistant answered: %q\n\n"+
		"Suggest 3 short follow-up questions the customer might ask next. "+
		"Return one question per line with no numbering.", query, answer)

	msg, err := g.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(g.model),
		MaxTokens: 256,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return nil, err
	}

	var text strings.Builder
	for _, block := range msg.Content {
		text.WriteString(block.Text)
	}
	var questions []string
	for _, line := range strings.Split(text.String(), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			questions = append(questions, line)
		}
	}
	if len(questions) > 3 {
		questions = questions[:3]
	}
	return questions, nil
}

// buildUserPrompt assembles history, context documents and the query
// into the single user message the model sees.
func buildUserPrompt(query string, docs []types.ScoredDocument, history []types.ConversationTurn) string {
	var b strings.Builder
	if h := BuildHistory(history); h != "" {
		b.WriteString(h)
		b.WriteString("\n---\n\n")
	}
	if c := BuildContext(docs); c != "" {
		b.WriteString(c)
		b.WriteString("\n")
	} else {
		b.WriteString("No context documents were retrieved for this query.\n\n")
	}
	b.WriteString("Customer question: ")
	b.WriteString(query)
	b.WriteString("\n\nAnswer using ONLY the context above. ")
	b.WriteString("Cite the source of each factual claim as [Source: document_name]. ")
	b.WriteString("If the context does not answer the question, say: \"")
	b.WriteString(noInformationStatement)
	b.WriteString("\"")
	return b.String()
}
