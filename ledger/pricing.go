package ledger

import (
	"fmt"
	"os"
	"sync"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// ModelPrice holds per-1k-token prices in USD. Input and output are priced
// independently.
type ModelPrice struct {
	InputPer1K  float64 `koanf:"input_per_1k"`
	OutputPer1K float64 `koanf:"output_per_1k"`
}

// defaultPrices seeds the table so the gate works without a pricing file.
// Values are refreshable at runtime; they are deliberately conservative.
var defaultPrices = map[string]map[string]ModelPrice{
	"openai": {
		"gpt-4o":      {InputPer1K: 0.0025, OutputPer1K: 0.01},
		"gpt-4o-mini": {InputPer1K: 0.00015, OutputPer1K: 0.0006},
	},
	"anthropic": {
		"claude-3-5-sonnet-20241022": {InputPer1K: 0.003, OutputPer1K: 0.015},
		"claude-3-5-haiku-20241022":  {InputPer1K: 0.0008, OutputPer1K: 0.004},
	},
	"mock": {
		"mock": {InputPer1K: 0.001, OutputPer1K: 0.002},
	},
}

// PriceTable resolves provider/model pairs to token prices. Loaded at
// startup and refreshable at runtime; reads are concurrent.
type PriceTable struct {
	mu     sync.RWMutex
	prices map[string]map[string]ModelPrice
}

// NewPriceTable creates a table seeded with the built-in defaults.
func NewPriceTable() *PriceTable {
	return &PriceTable{prices: clonePrices(defaultPrices)}
}

// LoadFile replaces entries from a YAML document of the shape
//
//	openai:
//	  gpt-4o:
//	    input_per_1k: 0.0025
//	    output_per_1k: 0.01
//
// Providers absent from the file keep their current prices.
func (pt *PriceTable) LoadFile(path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read price table: %w", err)
	}
	return pt.LoadBytes(content)
}

// LoadBytes merges a YAML price document into the table.
func (pt *PriceTable) LoadBytes(content []byte) error {
	k := koanf.New(".")
	if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
		return fmt.Errorf("parse price table: %w", err)
	}

	loaded := map[string]map[string]ModelPrice{}
	if err := k.Unmarshal("", &loaded); err != nil {
		return fmt.Errorf("unmarshal price table: %w", err)
	}
	for provider, models := range loaded {
		for model, price := range models {
			if price.InputPer1K < 0 || price.OutputPer1K < 0 {
				return fmt.Errorf("negative price for %s/%s", provider, model)
			}
		}
	}

	pt.mu.Lock()
	defer pt.mu.Unlock()
	for provider, models := range loaded {
		if pt.prices[provider] == nil {
			pt.prices[provider] = map[string]ModelPrice{}
		}
		for model, price := range models {
			pt.prices[provider][model] = price
		}
	}
	return nil
}

// Cost computes the USD cost for a call. Unknown provider/model pairs cost
// zero rather than failing the conversation; the ledger still records the
// token counts.
func (pt *PriceTable) Cost(provider, model string, inputTokens, outputTokens int) float64 {
	pt.mu.RLock()
	defer pt.mu.RUnlock()
	models, ok := pt.prices[provider]
	if !ok {
		return 0
	}
	price, ok := models[model]
	if !ok {
		return 0
	}
	return float64(inputTokens)/1000*price.InputPer1K + float64(outputTokens)/1000*price.OutputPer1K
}

// Lookup returns the price entry for a provider/model pair.
func (pt *PriceTable) Lookup(provider, model string) (ModelPrice, bool) {
	pt.mu.RLock()
	defer pt.mu.RUnlock()
	price, ok := pt.prices[provider][model]
	return price, ok
}

func clonePrices(src map[string]map[string]ModelPrice) map[string]map[string]ModelPrice {
	dst := make(map[string]map[string]ModelPrice, len(src))
	for provider, models := range src {
		dst[provider] = make(map[string]ModelPrice, len(models))
		for model, price := range models {
			dst[provider][model] = price
		}
	}
	return dst
}
