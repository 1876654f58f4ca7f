// Package usage prices model turns and records them for quota accounting.
package usage

import (
	"strings"
)

// Price is USD per million tokens
type Price struct {
	Input  float64
	Output float64
}

// PriceTable maps "provider/model" to a price
type PriceTable map[string]Price

// DefaultPrices lists list prices for the models the service can be configured with
var DefaultPrices = PriceTable{
	"anthropic/claude-sonnet-4":  {Input: 3, Output: 15},
	"anthropic/claude-opus-4":    {Input: 15, Output: 75},
	"anthropic/claude-3-5-haiku": {Input: 0.80, Output: 4},
	"anthropic/claude-haiku-4":   {Input: 1, Output: 5},
	"openai/gpt-4o":              {Input: 2.50, Output: 10},
	"openai/gpt-4o-mini":         {Input: 0.15, Output: 0.60},
	"openai/gpt-4.1":             {Input: 2, Output: 8},
	"openai/gpt-4.1-mini":        {Input: 0.40, Output: 1.60},
	"gemini/gemini-2.5-flash":    {Input: 0.30, Output: 2.50},
	"gemini/gemini-2.5-pro":      {Input: 1.25, Output: 10},
}

// Lookup finds the price for a model. Dated ids such as
// claude-sonnet-4-20250514 match their family by longest prefix.
func (t PriceTable) Lookup(provider, model string) (Price, bool) {
	key := provider + "/" + model
	if p, ok := t[key]; ok {
		return p, true
	}

	best, bestLen := Price{}, 0
	for k, p := range t {
		if strings.HasPrefix(key, k) && len(k) > bestLen {
			best, bestLen = p, len(k)
		}
	}
	return best, bestLen > 0
}

// Cost returns the USD cost of a turn
func Cost(p Price, inputTokens, outputTokens int) float64 {
	return float64(inputTokens)/1e6*p.Input + float64(outputTokens)/1e6*p.Output
}
