package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/chasef07/marketplace/pkg/models"
)

// DefaultGeminiModel is the model used when the config leaves it blank.
const DefaultGeminiModel = "gemini-2.0-flash-001"

// GeminiDecider is a DecisionPort backed by the Gemini API. It asks the model
// for a structured JSON verdict and validates it before handing it back; any
// malformed response is an error, which the invoker swallows.
type GeminiDecider struct {
	model *genai.GenerativeModel
}

// NewGeminiDecider creates a decider against the given API key and model name.
func NewGeminiDecider(ctx context.Context, apiKey, modelName string) (*GeminiDecider, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	if modelName == "" {
		modelName = DefaultGeminiModel
	}
	model := client.GenerativeModel(modelName)
	model.ResponseMIMEType = "application/json"
	return &GeminiDecider{model: model}, nil
}

type geminiVerdict struct {
	Decision     string  `json:"decision"`
	CounterPrice float64 `json:"counter_price"`
	Reasoning    string  `json:"reasoning"`
	Confidence   float64 `json:"confidence"`
}

func (d *GeminiDecider) Decide(ctx context.Context, in Input) (*Decision, error) {
	prompt := buildPrompt(in)

	resp, err := d.model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return nil, fmt.Errorf("generate content: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("empty response from gemini")
	}

	txt, ok := resp.Candidates[0].Content.Parts[0].(genai.Text)
	if !ok {
		return nil, fmt.Errorf("unexpected response part type %T", resp.Candidates[0].Content.Parts[0])
	}

	var verdict geminiVerdict
	if err := json.Unmarshal([]byte(txt), &verdict); err != nil {
		return nil, fmt.Errorf("parse gemini verdict: %w", err)
	}

	decision := &Decision{
		Reasoning:  verdict.Reasoning,
		Confidence: verdict.Confidence,
	}
	switch strings.ToUpper(verdict.Decision) {
	case string(models.AgentDecisionAccept):
		decision.Type = models.AgentDecisionAccept
	case string(models.AgentDecisionDecline):
		decision.Type = models.AgentDecisionDecline
	case string(models.AgentDecisionWait):
		decision.Type = models.AgentDecisionWait
	case string(models.AgentDecisionCounter):
		if verdict.CounterPrice <= 0 {
			return nil, fmt.Errorf("gemini countered without a usable price: %v", verdict.CounterPrice)
		}
		decision.Type = models.AgentDecisionCounter
		price := verdict.CounterPrice
		decision.CounterPrice = &price
	default:
		return nil, fmt.Errorf("gemini returned unknown decision %q", verdict.Decision)
	}

	return decision, nil
}

func buildPrompt(in Input) string {
	var history strings.Builder
	for _, o := range in.Offers {
		fmt.Fprintf(&history, "- round %d, %s: $%.2f", o.RoundNumber, o.OfferType, o.Price)
		if o.Message != nil && *o.Message != "" {
			fmt.Fprintf(&history, " (%s)", *o.Message)
		}
		history.WriteString("\n")
	}

	return fmt.Sprintf(`You are a negotiation agent acting for the SELLER of a used furniture item.
Your goal is to close the sale at the best possible price without losing the buyer.

Item:
- Name: %s
- Listing price: $%.2f

Negotiation so far (round %d of %d):
%s
The buyer has just offered $%.2f.

Decide one of:
- "ACCEPT": the offer is good enough, take it.
- "COUNTER": propose a higher price (set counter_price).
- "DECLINE": the offer is an unworkable lowball, end the negotiation.
- "WAIT": do nothing this round.

Rules:
- Never counter below the buyer's offer.
- Never counter above the listing price.
- Prefer COUNTER over DECLINE unless the offer is under half the listing price.

Respond with JSON only:
{"decision": "ACCEPT" | "COUNTER" | "DECLINE" | "WAIT", "counter_price": 0.0, "reasoning": "...", "confidence": 0.0}`,
		in.Item.Name, in.Item.ListingPrice,
		in.Negotiation.RoundNumber, in.Negotiation.MaxRounds,
		history.String(), in.BuyerOffer.Price)
}
