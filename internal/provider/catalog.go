package provider

import (
	"fmt"
	"sync"

	"github.com/charmbracelet/catwalk/pkg/catwalk"
)

// Catalog resolves a configured provider/model pair into its
// catwalk.Model metadata (context window, per-token cost). The CLI
// registers the selected model and logs its context window; neither
// TurnRunner nor the Dispatcher consults a Catalog.
//
// Grounded on gentica's llm/config.go Config.Models/GetModelByType,
// generalized from the teacher's single global config instance (Get())
// into an explicit, constructible value so multiple sessions in one
// process never share mutable catalog state.
type Catalog struct {
	mu    sync.RWMutex
	byKey map[catalogKey]catwalk.Model
}

type catalogKey struct {
	providerType catwalk.Type
	modelID      string
}

// NewCatalog returns an empty Catalog.
func NewCatalog() *Catalog {
	return &Catalog{byKey: make(map[catalogKey]catwalk.Model)}
}

// Register adds or replaces the catalog entry for one provider/model
// pair, the way loading Config.Models populates the teacher's
// provider->[]catwalk.Model map at startup.
func (c *Catalog) Register(providerType catwalk.Type, model catwalk.Model) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byKey[catalogKey{providerType, model.ID}] = model
}

// Lookup returns the catwalk.Model for a provider type and model id.
func (c *Catalog) Lookup(providerType catwalk.Type, modelID string) (catwalk.Model, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.byKey[catalogKey{providerType, modelID}]
	if !ok {
		return catwalk.Model{}, fmt.Errorf("provider: unknown model %q for provider type %q", modelID, providerType)
	}
	return m, nil
}

// ContextWindow returns the model's context window, or the fallback if
// the model isn't registered (used for best-effort token accounting
// rather than failing a turn over missing catalog metadata).
func (c *Catalog) ContextWindow(providerType catwalk.Type, modelID string, fallback int64) int64 {
	m, err := c.Lookup(providerType, modelID)
	if err != nil || m.ContextWindow == 0 {
		return fallback
	}
	return m.ContextWindow
}

// EstimateCostUSD estimates the dollar cost of a completed turn from
// catwalk's per-million-token pricing, mirroring the cost fields
// exercised by gentica's provider tests (CostPer1MIn/CostPer1MOut).
func (c *Catalog) EstimateCostUSD(providerType catwalk.Type, modelID string, inputTokens, outputTokens int64) (float64, error) {
	m, err := c.Lookup(providerType, modelID)
	if err != nil {
		return 0, err
	}
	in := float64(inputTokens) / 1_000_000 * m.CostPer1MIn
	out := float64(outputTokens) / 1_000_000 * m.CostPer1MOut
	return in + out, nil
}
