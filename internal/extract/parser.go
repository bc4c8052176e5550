package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	bq "github.com/osokin/receipt-ledger/internal/bigquery"
	"google.golang.org/genai"
)

// GeminiParser is the concrete implementation of ReceiptParser that sends
// the receipt image or PDF to Gemini.
type GeminiParser struct {
	repo  bq.CategoryRepository
	model string
}

// NewGeminiParser creates a parser using the given taxonomy repository and
// model name. An empty model name falls back to DefaultModelName.
func NewGeminiParser(repo bq.CategoryRepository, model string) *GeminiParser {
	if model == "" {
		model = DefaultModelName
	}
	return &GeminiParser{repo: repo, model: model}
}

// ParseReceipt sends the file to Gemini and returns the parsed JSON output
// together with the token usage Gemini reported for the call.
// It expects the model to return a STRICT JSON object describing the receipt.
func (p *GeminiParser) ParseReceipt(ctx context.Context, data []byte, mimeType string) (map[string]interface{}, *Usage, error) {
	// 1) Build category prompt from the taxonomy.
	catPrompt, err := buildCategoriesPrompt(ctx, p.repo)
	if err != nil {
		return nil, nil, fmt.Errorf("ParseReceipt: loading categories: %w", err)
	}

	basePrompt :=
		"You are a receipt parser for photos, scans and PDFs of purchase receipts.\n\n" +
			"Task:\n" +
			"- Read the attached receipt and extract its contents.\n" +
			"- Output STRICT JSON only (no comments, no trailing commas, no extra text).\n" +
			"- Output a single JSON object.\n\n" +
			"The object must have these fields:\n" +
			"- \"merchant_name\": string\n" +
			"- \"purchase_date\": string, ISO format \"YYYY-MM-DD\"\n" +
			"- \"purchase_time\": string \"HH:MM\" (24h) or null\n" +
			"- \"currency\": string (e.g. \"EUR\")\n" +
			"- \"total\": number (the amount actually paid)\n" +
			"- \"subtotal\": number or null\n" +
			"- \"tax\": number or null\n" +
			"- \"tip\": number or null\n" +
			"- \"payment_method\": string (\"CARD\", \"CASH\", ...) or null\n" +
			"- \"card_last4\": string or null\n" +
			"- \"category\": string (one of the predefined categories, for the merchant as a whole)\n" +
			"- \"subcategory\": string (one of the predefined subcategories) or \"\"\n" +
			"- \"line_items\": array of objects with fields:\n" +
			"    \"description\": string\n" +
			"    \"quantity\": number or null\n" +
			"    \"unit_price\": number or null\n" +
			"    \"total_price\": number or null\n" +
			"    \"category\": string (one of the predefined categories)\n" +
			"    \"subcategory\": string or \"\"\n\n"

	rulesPrompt :=
		"Rules:\n" +
			"- All amounts are positive numbers in the receipt currency.\n" +
			"- If a value cannot be determined, set it to null.\n" +
			"- Discounts appear as line items with a negative total_price.\n" +
			"- If the receipt has no itemized lines, return an empty \"line_items\" array.\n\n" +
			"Return ONLY valid raw JSON.\n" +
			"Do NOT wrap the response in code fences.\n" +
			"Do NOT use ```json or any Markdown.\n" +
			"Output must begin with \"{\" and end with \"}\".\n"

	fullPrompt := basePrompt + "\n" + catPrompt + "\n\n" + rulesPrompt

	// 2) Create GenAI client.
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		HTTPOptions: genai.HTTPOptions{APIVersion: "v1"},
	})
	if err != nil {
		return nil, nil, fmt.Errorf("ParseReceipt: create genai client: %w", err)
	}

	if mimeType == "" {
		mimeType = "application/pdf"
	}

	contents := []*genai.Content{
		{
			Role: "user",
			Parts: []*genai.Part{
				{Text: fullPrompt},
				{
					InlineData: &genai.Blob{
						MIMEType: mimeType,
						Data:     data,
					},
				},
			},
		},
	}

	resp, err := client.Models.GenerateContent(ctx, p.model, contents, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("ParseReceipt: generate content: %w", err)
	}

	usage := &Usage{ModelVersion: resp.ModelVersion}
	if resp.UsageMetadata != nil {
		usage.TokensInput = int64(resp.UsageMetadata.PromptTokenCount)
		usage.TokensOutput = int64(resp.UsageMetadata.CandidatesTokenCount)
	}

	rawText := resp.Text()
	if rawText == "" {
		return nil, nil, fmt.Errorf("ParseReceipt: empty response from model")
	}

	// Clean up Markdown fences / extra text if the model ignored instructions.
	clean := cleanModelJSON(rawText)

	// 3) Parse JSON into a generic value.
	var parsed interface{}
	if err := json.Unmarshal([]byte(clean), &parsed); err != nil {
		return nil, nil, fmt.Errorf("ParseReceipt: unmarshal JSON: %w\nraw response: %s", err, rawText)
	}

	// Wrap under "receipt" so downstream code has a stable top-level shape.
	return map[string]interface{}{
		"receipt": parsed,
	}, usage, nil
}

func cleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)

	// Handle ```json ... ``` or ``` ... ``` wrappers.
	if strings.HasPrefix(s, "```") {
		// Drop the first line (``` or ```json).
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		} else {
			// Single-line weirdness; just return as-is.
			return s
		}
		s = strings.TrimSpace(s)
	}

	// Remove trailing ``` if present.
	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}

	s = strings.TrimSpace(s)

	// Extra safety: if there's still junk around the JSON object,
	// try to keep only from the first '{' to the last '}'.
	if start := strings.Index(s, "{"); start != -1 {
		if end := strings.LastIndex(s, "}"); end != -1 && end > start {
			s = s[start : end+1]
			s = strings.TrimSpace(s)
		}
	}

	return s
}

var _ ReceiptParser = (*GeminiParser)(nil)
