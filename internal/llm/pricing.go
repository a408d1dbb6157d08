package llm

import "strings"

// modelPrice is USD per million tokens.
type modelPrice struct {
	prompt     float64
	completion float64
}

// Prices are matched by prefix so dated model snapshots resolve to their
// family. Unknown models cost zero rather than guessing.
var priceTable = []struct {
	prefix string
	price  modelPrice
}{
	{"gpt-4o-mini", modelPrice{0.15, 0.60}},
	{"gpt-4o", modelPrice{2.50, 10.00}},
	{"gpt-4.1-mini", modelPrice{0.40, 1.60}},
	{"gpt-4.1", modelPrice{2.00, 8.00}},
	{"o3-mini", modelPrice{1.10, 4.40}},
	{"claude-opus", modelPrice{15.00, 75.00}},
	{"claude-sonnet", modelPrice{3.00, 15.00}},
	{"claude-haiku", modelPrice{0.80, 4.00}},
	{"gemini-2.5-pro", modelPrice{1.25, 10.00}},
	{"gemini-2.5-flash", modelPrice{0.30, 2.50}},
	{"gemini-2.0-flash", modelPrice{0.10, 0.40}},
}

// cost estimates the USD cost of one generation.
func cost(model string, promptTokens, completionTokens int) float64 {
	for _, entry := range priceTable {
		if strings.HasPrefix(model, entry.prefix) {
			return float64(promptTokens)/1e6*entry.price.prompt +
				float64(completionTokens)/1e6*entry.price.completion
		}
	}
	return 0
}
