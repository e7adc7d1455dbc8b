package network

import (
	"context"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/sells-group/intel-cli/internal/ai"
	"github.com/sells-group/intel-cli/internal/model"
)

const normalizeSystemPrompt = `You are a name normalization system. Given a person's name, return its most common canonical form. Return only the name, no other text.`

// maxCanonicalRunes rejects replies that are clearly not a name.
const maxCanonicalRunes = 100

// Normalizer resolves the canonical form of an entity name.
type Normalizer struct {
	ai    ai.Completer
	model string
}

// NewNormalizer creates a Normalizer. model may be empty to use the
// service default; a nil completer makes every name its own canonical form.
func NewNormalizer(completer ai.Completer, model string) *Normalizer {
	return &Normalizer{ai: completer, model: model}
}

// Canonical returns name unchanged for every type except person, which is
// normalized by the model. Any AI failure falls back to name.
func (n *Normalizer) Canonical(ctx context.Context, name string, t model.EntityType) string {
	if t != model.EntityPerson || n == nil || n.ai == nil {
		return name
	}
	resp, err := n.ai.Complete(ctx, ai.Request{
		Phase:       "normalize_entity",
		Model:       n.model,
		System:      normalizeSystemPrompt,
		Prompt:      "Normalize this name: " + name,
		Temperature: 0.1,
		MaxTokens:   50,
	})
	if err != nil {
		zap.L().Debug("network: name normalization failed", zap.String("name", name), zap.Error(err))
		return name
	}
	if canonical, ok := cleanName(resp); ok {
		return canonical
	}
	return name
}

// cleanName accepts a single short line, stripped of quotes and a trailing
// period.
func cleanName(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" || strings.ContainsAny(s, "\n{[") {
		return "", false
	}
	s = strings.Trim(s, `"'`+"`")
	s = strings.TrimSuffix(s, ".")
	s = strings.Join(strings.Fields(s), " ")
	if s == "" || utf8.RuneCountInString(s) > maxCanonicalRunes {
		return "", false
	}
	return s, true
}
