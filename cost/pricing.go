package cost

import "strings"

// Pricing is the USD price per 1K tokens for one model.
type Pricing struct {
	InputPer1K  float64 `json:"input_per_1k" mapstructure:"input_per_1k" yaml:"input_per_1k"`
	OutputPer1K float64 `json:"output_per_1k" mapstructure:"output_per_1k" yaml:"output_per_1k"`
}

// Cost returns the price of the given token counts.
func (p Pricing) Cost(in, out int64) float64 {
	return float64(in)/1000*p.InputPer1K + float64(out)/1000*p.OutputPer1K
}

// PriceTable maps model names to prices.
type PriceTable map[string]Pricing

// DefaultPriceTable returns a fresh copy of the built-in prices.
func DefaultPriceTable() PriceTable {
	return PriceTable{
		"gpt-4.1-2025-04-14":     {InputPer1K: 0.003, OutputPer1K: 0.012},
		"gpt-4-turbo":            {InputPer1K: 0.01, OutputPer1K: 0.03},
		"gpt-4-turbo-preview":    {InputPer1K: 0.01, OutputPer1K: 0.03},
		"gpt-3.5-turbo":          {InputPer1K: 0.0015, OutputPer1K: 0.002},
		"text-embedding-3-small": {InputPer1K: 0.00002},
		"claude-3-5-sonnet":      {InputPer1K: 0.003, OutputPer1K: 0.015},
		"claude-3-5-haiku":       {InputPer1K: 0.0008, OutputPer1K: 0.004},
	}
}

// Lookup returns the price for model. Dated variants fall back to the longest
// matching prefix ("claude-3-5-sonnet-20241022" -> "claude-3-5-sonnet").
func (t PriceTable) Lookup(model string) (Pricing, bool) {
	if p, ok := t[model]; ok {
		return p, true
	}

	best := ""
	for name := range t {
		if strings.HasPrefix(model, name) && len(name) > len(best) {
			best = name
		}
	}
	if best == "" {
		return Pricing{}, false
	}

	return t[best], true
}

// EstimateTokens approximates the token count of text at four characters per
// token.
func EstimateTokens(text string) int {
	return len(text) / 4
}

// Estimate is the projected spend of a planned run.
type Estimate struct {
	Calls        int     `json:"calls"`
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	InputCost    float64 `json:"input_cost"`
	OutputCost   float64 `json:"output_cost"`
}

// Total returns input plus output cost.
func (e Estimate) Total() float64 { return e.InputCost + e.OutputCost }

// Tokens returns input plus output tokens.
func (e Estimate) Tokens() int64 { return e.InputTokens + e.OutputTokens }

// EstimateRun projects calls requests of avgIn prompt tokens and at most
// maxOut completion tokens each.
func (t PriceTable) EstimateRun(model string, calls, avgIn, maxOut int) Estimate {
	e := Estimate{
		Calls:        calls,
		InputTokens:  int64(calls) * int64(avgIn),
		OutputTokens: int64(calls) * int64(maxOut),
	}
	if p, ok := t.Lookup(model); ok {
		e.InputCost = float64(e.InputTokens) / 1000 * p.InputPer1K
		e.OutputCost = float64(e.OutputTokens) / 1000 * p.OutputPer1K
	}

	return e
}
