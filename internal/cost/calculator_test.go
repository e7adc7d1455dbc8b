package cost

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/intel-cli/internal/config"
	"github.com/sells-group/intel-cli/pkg/anthropic"
)

func testRates() map[string]ModelRate {
	return map[string]ModelRate{
		"haiku":  {Input: 1.00, Output: 5.00, CacheWriteMul: 1.25, CacheReadMul: 0.1},
		"sonnet": {Input: 3.00, Output: 15.00, CacheWriteMul: 1.25, CacheReadMul: 0.1},
	}
}

func TestClaude(t *testing.T) {
	t.Parallel()
	calc := NewCalculator(testRates())

	tests := []struct {
		name  string
		model string
		usage anthropic.TokenUsage
		want  float64
	}{
		{
			name:  "haiku simple",
			model: "haiku",
			usage: anthropic.TokenUsage{InputTokens: 1_000_000, OutputTokens: 100_000},
			want:  1.00 + 0.50,
		},
		{
			name:  "sonnet with cache",
			model: "sonnet",
			usage: anthropic.TokenUsage{CacheCreationInputTokens: 1_000_000, CacheReadInputTokens: 1_000_000},
			want:  3.00*1.25 + 3.00*0.1,
		},
		{
			name:  "unknown model",
			model: "gpt",
			usage: anthropic.TokenUsage{InputTokens: 1_000_000},
			want:  0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, calc.Claude(tt.model, tt.usage), 1e-9)
		})
	}
}

func TestFromConfig(t *testing.T) {
	calc := FromConfig(config.PricingConfig{})
	assert.Greater(t, calc.Claude("claude-haiku-4-5-20251001", anthropic.TokenUsage{InputTokens: 1_000_000}), 0.0)

	calc = FromConfig(config.PricingConfig{Anthropic: map[string]config.ModelPricing{
		"m": {Input: 2, Output: 4},
	}})
	assert.InDelta(t, 2.0, calc.Claude("m", anthropic.TokenUsage{InputTokens: 1_000_000}), 1e-9)
}

func TestLedger(t *testing.T) {
	l := NewLedger()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Add("enrich", anthropic.TokenUsage{InputTokens: 10, OutputTokens: 5}, 0.01)
		}()
	}
	wg.Wait()
	l.Add("classify", anthropic.TokenUsage{InputTokens: 1}, 0.001)

	totals := l.Totals()
	require.Len(t, totals, 2)
	assert.Equal(t, "classify", totals[0].Phase)
	assert.Equal(t, 10, totals[1].Calls)
	assert.Equal(t, int64(100), totals[1].InputTokens)
	assert.InDelta(t, 0.1, totals[1].USD, 1e-9)
}
