// Package cost prices Anthropic token usage and tallies it per phase.
package cost

import (
	"sort"
	"sync"

	"github.com/sells-group/intel-cli/internal/config"
	"github.com/sells-group/intel-cli/pkg/anthropic"
)

// ModelRate holds per-model token pricing (USD per million tokens).
type ModelRate struct {
	Input         float64
	Output        float64
	CacheWriteMul float64
	CacheReadMul  float64
}

// Calculator computes the cost of API usage.
type Calculator struct {
	rates map[string]ModelRate
}

// NewCalculator creates a Calculator with the given rates.
func NewCalculator(rates map[string]ModelRate) *Calculator {
	return &Calculator{rates: rates}
}

// FromConfig builds a Calculator from the pricing section, falling back to
// DefaultRates when none are configured.
func FromConfig(p config.PricingConfig) *Calculator {
	if len(p.Anthropic) == 0 {
		return NewCalculator(DefaultRates())
	}
	rates := make(map[string]ModelRate, len(p.Anthropic))
	for model, r := range p.Anthropic {
		rates[model] = ModelRate{Input: r.Input, Output: r.Output, CacheWriteMul: r.CacheWriteMul, CacheReadMul: r.CacheReadMul}
	}
	return NewCalculator(rates)
}

// Claude computes the cost of one Messages call. Unknown models cost 0.
func (c *Calculator) Claude(model string, u anthropic.TokenUsage) float64 {
	rate, ok := c.rates[model]
	if !ok {
		return 0
	}
	in := float64(u.InputTokens) / 1e6 * rate.Input
	out := float64(u.OutputTokens) / 1e6 * rate.Output
	cw := float64(u.CacheCreationInputTokens) / 1e6 * rate.Input * rate.CacheWriteMul
	cr := float64(u.CacheReadInputTokens) / 1e6 * rate.Input * rate.CacheReadMul
	return in + out + cw + cr
}

// DefaultRates returns list prices for the models the services use.
func DefaultRates() map[string]ModelRate {
	return map[string]ModelRate{
		"claude-haiku-4-5-20251001":  {Input: 1.00, Output: 5.00, CacheWriteMul: 1.25, CacheReadMul: 0.1},
		"claude-sonnet-4-5-20250929": {Input: 3.00, Output: 15.00, CacheWriteMul: 1.25, CacheReadMul: 0.1},
	}
}

// PhaseTotal is the accumulated usage of one phase.
type PhaseTotal struct {
	Phase        string  `json:"phase"`
	Calls        int     `json:"calls"`
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	USD          float64 `json:"usd"`
}

// Ledger accumulates cost per phase. Safe for concurrent use.
type Ledger struct {
	mu     sync.Mutex
	phases map[string]*PhaseTotal
}

// NewLedger creates an empty Ledger.
func NewLedger() *Ledger {
	return &Ledger{phases: make(map[string]*PhaseTotal)}
}

// Add records one call.
func (l *Ledger) Add(phase string, u anthropic.TokenUsage, usd float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.phases[phase]
	if !ok {
		p = &PhaseTotal{Phase: phase}
		l.phases[phase] = p
	}
	p.Calls++
	p.InputTokens += u.InputTokens
	p.OutputTokens += u.OutputTokens
	p.USD += usd
}

// Totals returns a snapshot sorted by phase.
func (l *Ledger) Totals() []PhaseTotal {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]PhaseTotal, 0, len(l.phases))
	for _, p := range l.phases {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Phase < out[j].Phase })
	return out
}
