package pricing

import (
	"cmp"
	"slices"
	"strings"
	"sync"

	"github.com/samber/lo"

	"mercator-hq/costplane/pkg/config"
)

// Match describes how a model's price was found.
type Match string

const (
	MatchExact   Match = "exact"
	MatchPrefix  Match = "prefix"
	MatchDefault Match = "default"
)

// ModelPricing contains the resolved price for a model.
type ModelPricing struct {
	// Model is the model the price was requested for.
	Model string

	// Pattern is the configured name that matched. Empty for the default.
	Pattern string

	// InputCentsPer1K is the cost of 1000 input tokens in cents.
	InputCentsPer1K float64

	// OutputCentsPer1K is the cost of 1000 output tokens in cents.
	OutputCentsPer1K float64

	// Match is how the price was resolved.
	Match Match
}

// Calculator computes usage cost from a price table.
type Calculator struct {
	mu       sync.RWMutex
	models   map[string]config.ModelPriceConfig
	prefixes []string // longest first
	fallback config.ModelPriceConfig
}

// NewCalculator creates a calculator for the given price table.
func NewCalculator(cfg config.PricingConfig) *Calculator {
	c := &Calculator{}
	c.UpdatePricing(cfg)
	return c
}

// UpdatePricing replaces the price table. It is safe to call while the
// calculator is in use.
func (c *Calculator) UpdatePricing(cfg config.PricingConfig) {
	models := make(map[string]config.ModelPriceConfig, len(cfg.Models))
	for name, price := range cfg.Models {
		models[name] = price
	}

	prefixes := lo.Keys(models)
	sortLongestFirst(prefixes)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.models = models
	c.prefixes = prefixes
	c.fallback = cfg.Default
}

// GetModelPricing resolves the price for model: exact match, then the
// longest prefix match, then the default price.
func (c *Calculator) GetModelPricing(model string) ModelPricing {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if price, ok := c.models[model]; ok {
		return ModelPricing{
			Model:            model,
			Pattern:          model,
			InputCentsPer1K:  price.Input,
			OutputCentsPer1K: price.Output,
			Match:            MatchExact,
		}
	}

	for _, pattern := range c.prefixes {
		if strings.HasPrefix(model, pattern) {
			price := c.models[pattern]
			return ModelPricing{
				Model:            model,
				Pattern:          pattern,
				InputCentsPer1K:  price.Input,
				OutputCentsPer1K: price.Output,
				Match:            MatchPrefix,
			}
		}
	}

	return ModelPricing{
		Model:            model,
		InputCentsPer1K:  c.fallback.Input,
		OutputCentsPer1K: c.fallback.Output,
		Match:            MatchDefault,
	}
}

// CostCents returns the cost in cents of a call to model with the given
// token counts. Fractional cents are kept.
func (c *Calculator) CostCents(model string, inputTokens, outputTokens int64) float64 {
	p := c.GetModelPricing(model)
	return tokenCost(inputTokens, p.InputCentsPer1K) + tokenCost(outputTokens, p.OutputCentsPer1K)
}

func tokenCost(tokens int64, centsPer1K float64) float64 {
	if tokens <= 0 {
		return 0
	}
	return float64(tokens) / 1000.0 * centsPer1K
}

// sortLongestFirst orders names by descending length, then alphabetically,
// so prefix resolution does not depend on map iteration order.
func sortLongestFirst(names []string) {
	slices.SortFunc(names, func(a, b string) int {
		return cmp.Or(cmp.Compare(len(b), len(a)), strings.Compare(a, b))
	})
}
