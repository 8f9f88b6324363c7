package analyzer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// ErrSentimentMissing reports a primary response that carried significance and
// summary but no sentiment field. Score still returns the partial result so
// the caller can keep it and fill in sentiment from the lexicon.
var ErrSentimentMissing = errors.New("primary response missing sentiment")

// GeminiScorer is the primary generative scorer. A nil scorer (no API key)
// degrades every call to the lexicon fallback.
type GeminiScorer struct {
	model *genai.GenerativeModel
}

// scoreResult is the structured triple requested from the model.
type scoreResult struct {
	Significance *float64 `json:"significance"`
	Sentiment    *float64 `json:"sentiment"`
	Summary      string   `json:"summary"`
}

func NewGeminiScorer(ctx context.Context, apiKey, modelID string) (*GeminiScorer, error) {
	if apiKey == "" {
		return nil, nil // Return nil scorer if no key provided
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	model := client.GenerativeModel(modelID)
	model.SetTemperature(0.1) // Low temperature for deterministic output
	model.ResponseMIMEType = "application/json"

	model.ResponseSchema = &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"significance": {
				Type:        genai.TypeNumber,
				Description: "How newsworthy the item is for a market status update, 0 (noise) to 10 (major market-moving event).",
			},
			"sentiment": {
				Type:        genai.TypeNumber,
				Description: "Emotional polarity of the item text, -1 (very negative) to 1 (very positive).",
			},
			"summary": {
				Type:        genai.TypeString,
				Description: "One neutral sentence summarizing the item, suitable for inclusion in a short status post.",
			},
		},
		Required: []string{"significance", "sentiment", "summary"},
	}

	return &GeminiScorer{model: model}, nil
}

// Score asks the model for a significance/sentiment/summary triple. The raw
// model text is returned for audit storage. A response missing only the
// sentiment field returns the rest of the triple with ErrSentimentMissing;
// a missing significance is a full failure.
func (g *GeminiScorer) Score(ctx context.Context, text string) (significance, sentiment float64, summary, raw string, err error) {
	if g == nil || g.model == nil {
		return 0, 0, "", "", fmt.Errorf("gemini scorer not configured")
	}

	prompt := fmt.Sprintf(`
Analyze this short market-related post:
%q

Task:
1. Rate its significance for a cryptocurrency market status update, 0-10.
2. Rate the sentiment of the text, -1 to 1.
3. Write a one-sentence neutral summary.

Output JSON adhering to the schema.
`, text)

	resp, err := g.model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return 0, 0, "", "", fmt.Errorf("gemini generation failed: %w", err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return 0, 0, "", "", fmt.Errorf("no response candidates from gemini")
	}

	for _, part := range resp.Candidates[0].Content.Parts {
		txt, ok := part.(genai.Text)
		if !ok {
			continue
		}
		// Clean up potential markdown formatting just in case
		jsonStr := strings.TrimSpace(string(txt))
		jsonStr = strings.TrimPrefix(jsonStr, "```json")
		jsonStr = strings.TrimPrefix(jsonStr, "```")
		jsonStr = strings.TrimSuffix(jsonStr, "```")

		var result scoreResult
		if err := json.Unmarshal([]byte(jsonStr), &result); err != nil {
			return 0, 0, "", "", fmt.Errorf("failed to parse gemini response: %w", err)
		}
		if result.Significance == nil {
			return 0, 0, "", "", fmt.Errorf("gemini response missing significance")
		}
		if result.Sentiment == nil {
			return clamp(*result.Significance, 0, 10), 0, result.Summary, jsonStr, ErrSentimentMissing
		}
		return clamp(*result.Significance, 0, 10), clamp(*result.Sentiment, -1, 1), result.Summary, jsonStr, nil
	}

	return 0, 0, "", "", fmt.Errorf("no text part in response")
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
