// Package intent classifies dealership queries into routing categories
// and extracts vehicle entities. The LLM path is primary; a keyword
// rule table answers when the model is unavailable or times out.
package intent

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"

	"dealerrag/internal/logging"
	"dealerrag/internal/types"
)

const (
	llmTimeout = 5 * time.Second
	// Confidence assigned to keyword-rule matches
	ruleConfidence = 0.75
	// Confidence when nothing matches and we fall through to general
	generalConfidence = 0.60
)

const systemPrompt = `You classify car dealership customer queries.
Categories: sales, service, inventory, predictive, general.
Respond with exactly one line: CATEGORY|CONFIDENCE
where CONFIDENCE is a decimal between 0 and 1.`

// Classifier routes queries to an intent category.
type Classifier struct {
	client *anthropic.Client
	model  string
}

// NewClassifier builds a classifier. client may be nil, which makes
// the rule table the only path.
func NewClassifier(client *anthropic.Client, model string) *Classifier {
	return &Classifier{client: client, model: model}
}

// Classify determines the query's intent. The result always carries
// extracted entities regardless of which path produced the category.
func (c *Classifier) Classify(ctx context.Context, query string) types.Intent {
	intent, ok := c.classifyLLM(ctx, query)
	method := "llm"
	if !ok {
		intent = classifyRules(query)
		method = "rules"
	}
	intent.Entities = ExtractEntities(query)
	intent.SubIntent = subIntentFor(intent.Type, query)

	logging.IntentDebug("query classified as %s (%.2f) via %s", intent.Type, intent.Confidence, method)
	logging.Audit().IntentDetected(intent.Type, intent.Confidence, method)
	return intent
}

func (c *Classifier) classifyLLM(ctx context.Context, query string) (types.Intent, bool) {
	if c.client == nil {
		return types.Intent{}, false
	}
	ctx, cancel := context.WithTimeout(ctx, llmTimeout)
	defer cancel()

	msg, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: 16,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(query)),
		},
	})
	if err != nil {
		logging.Intent("llm classification failed, using rules: %v", err)
		return types.Intent{}, false
	}

	var text string
	for _, block := range msg.Content {
		text += block.Text
	}
	intent, err := parseLLMResponse(text)
	if err != nil {
		logging.Intent("unparseable llm classification %q: %v", text, err)
		return types.Intent{}, false
	}
	return intent, true
}

// parseLLMResponse parses the CATEGORY|CONFIDENCE line.
func parseLLMResponse(text string) (types.Intent, error) {
	line := strings.TrimSpace(text)
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	parts := strings.SplitN(line, "|", 2)
	if len(parts) != 2 {
		return types.Intent{}, fmt.Errorf("expected CATEGORY|CONFIDENCE")
	}

	category := strings.ToLower(strings.TrimSpace(parts[0]))
	switch category {
	case types.IntentSales, types.IntentService, types.IntentInventory, types.IntentPredictive, types.IntentGeneral:
	default:
		return types.Intent{}, fmt.Errorf("unknown category %q", category)
	}

	confidence, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil || confidence < 0 || confidence > 1 {
		return types.Intent{}, fmt.Errorf("bad confidence %q", parts[1])
	}
	return types.Intent{Type: category, Confidence: confidence}, nil
}

var ruleKeywords = map[string][]string{
	types.IntentSales: {
		"price", "cost", "finance", "payment", "deal", "buy", "purchase",
	},
	types.IntentService: {
		"service", "repair", "maintenance", "oil change", "tire", "brake",
		"appointment",
	},
	types.IntentInventory: {
		"available", "stock", "inventory", "have", "show me", "find", "vin",
	},
	types.IntentPredictive: {
		"forecast", "predict", "trend", "demand", "analytics", "future",
		"projection",
	},
}

// Categories are checked in this order; a query matching several
// tables gets the earliest, so "price of an oil change" is sales.
var ruleOrder = []string{
	types.IntentSales,
	types.IntentService,
	types.IntentInventory,
	types.IntentPredictive,
}

// classifyRules matches the query against the keyword table.
func classifyRules(query string) types.Intent {
	q := strings.ToLower(query)
	for _, category := range ruleOrder {
		for _, kw := range ruleKeywords[category] {
			if strings.Contains(q, kw) {
				return types.Intent{Type: category, Confidence: ruleConfidence}
			}
		}
	}
	return types.Intent{Type: types.IntentGeneral, Confidence: generalConfidence}
}

func subIntentFor(category, query string) string {
	q := strings.ToLower(query)
	switch category {
	case types.IntentSales:
		if strings.Contains(q, "price") || strings.Contains(q, "cost") || strings.Contains(q, "msrp") {
			return "pricing"
		}
		if strings.Contains(q, "finance") || strings.Contains(q, "lease") || strings.Contains(q, "apr") {
			return "financing"
		}
	case types.IntentService:
		if strings.Contains(q, "appointment") || strings.Contains(q, "schedule") {
			return "scheduling"
		}
		if strings.Contains(q, "recall") {
			return "recall"
		}
		return "maintenance"
	case types.IntentInventory:
		return "availability"
	case types.IntentPredictive:
		return "forecast"
	}
	return ""
}
