package upstream

import (
	"encoding/json"

	"github.com/anyclaude/anyclaude/internal/config"
)

// usageFromResponseBody extracts the top-level usage object a non-streaming
// Anthropic-compatible response carries. A malformed or absent usage object
// yields zeros rather than an error, matching this package's general
// tolerance for best-effort observability extraction.
func usageFromResponseBody(body []byte) (inputTokens, outputTokens int) {
	var parsed struct {
		Usage struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return 0, 0
	}
	return parsed.Usage.InputTokens, parsed.Usage.OutputTokens
}

// estimateCostUSD computes input_tokens/1e6 * price_in +
// output_tokens/1e6 * price_out. Backends without a configured Pricing
// section estimate to
// zero rather than erroring — cost is observability, not billing.
func estimateCostUSD(pricing *config.Pricing, inputTokens, outputTokens int) float64 {
	if pricing == nil {
		return 0
	}
	return float64(inputTokens)/1_000_000*pricing.InputPerMillion +
		float64(outputTokens)/1_000_000*pricing.OutputPerMillion
}
