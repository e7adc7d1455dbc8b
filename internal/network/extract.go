package network

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/intel-cli/internal/ai"
	"github.com/sells-group/intel-cli/internal/model"
	"github.com/sells-group/intel-cli/internal/similarity"
)

const extractSystemPrompt = `You are an entity extraction system. Extract geopolitical entities (people, organizations, locations, events, countries) from text. Respond with valid JSON only.`

const extractPrompt = `Extract all geopolitical entities from the following text. Return a JSON object:
{"entities": [{"name": "exact name as mentioned", "type": "person|organization|location|event|country"}]}

Title: %s
Content: %s`

// extractContentChars bounds the article text sent for extraction.
const extractContentChars = 1000

// Candidate is an entity name found in an article, before resolution.
type Candidate struct {
	Name string           `json:"name"`
	Type model.EntityType `json:"type"`
}

// Extractor turns an article into entity candidates.
type Extractor struct {
	ai ai.Completer
}

// NewExtractor creates an Extractor. A nil completer disables the AI
// fallback.
func NewExtractor(completer ai.Completer) *Extractor {
	return &Extractor{ai: completer}
}

// Extract returns the article's tagged entities and countries. Only when
// there are none does it ask the model. Extraction never fails: an AI error
// yields no candidates.
func (x *Extractor) Extract(ctx context.Context, a model.Article) []Candidate {
	var raw []Candidate
	if a.Entities != nil {
		raw = appendTyped(raw, a.Entities.People, model.EntityPerson)
		raw = appendTyped(raw, a.Entities.Organizations, model.EntityOrganization)
		raw = appendTyped(raw, a.Entities.Locations, model.EntityLocation)
		raw = appendTyped(raw, a.Entities.Events, model.EntityEvent)
	}
	raw = appendTyped(raw, a.Countries, model.EntityCountry)

	if out := dedupe(raw); len(out) > 0 {
		return out
	}
	if x.ai == nil || strings.TrimSpace(a.Title) == "" {
		return nil
	}

	found, err := x.extractWithAI(ctx, a)
	if err != nil {
		zap.L().Warn("network: entity extraction failed", zap.String("article_id", a.ID), zap.Error(err))
		return nil
	}
	return dedupe(found)
}

func (x *Extractor) extractWithAI(ctx context.Context, a model.Article) ([]Candidate, error) {
	text := a.Snippet
	if text == "" {
		text = a.Content
	}
	resp, err := x.ai.Complete(ctx, ai.Request{
		Phase:       "extract_entities",
		System:      extractSystemPrompt,
		Prompt:      fmt.Sprintf(extractPrompt, a.Title, truncate(text, extractContentChars)),
		Temperature: 0.1,
	})
	if err != nil {
		return nil, eris.Wrap(err, "network: extract entities")
	}
	return decodeCandidates(resp)
}

// grouped is the shape {"people": [...], "organizations": [...], ...}.
type grouped struct {
	People        []string `json:"people"`
	Organizations []string `json:"organizations"`
	Locations     []string `json:"locations"`
	Events        []string `json:"events"`
	Countries     []string `json:"countries"`
}

func (g grouped) candidates() []Candidate {
	var out []Candidate
	out = appendTyped(out, g.People, model.EntityPerson)
	out = appendTyped(out, g.Organizations, model.EntityOrganization)
	out = appendTyped(out, g.Locations, model.EntityLocation)
	out = appendTyped(out, g.Events, model.EntityEvent)
	return appendTyped(out, g.Countries, model.EntityCountry)
}

func nonEmpty(cs []Candidate) error {
	if len(cs) == 0 {
		return eris.New("network: no entities")
	}
	return nil
}

// decodeCandidates accepts {"entities": [...]}, a bare array, or lists
// grouped by type.
func decodeCandidates(raw string) ([]Candidate, error) {
	type listed struct {
		Entities []Candidate `json:"entities"`
	}
	return ai.DecodeFirst(raw,
		ai.Map(ai.Object(func(l listed) error { return nonEmpty(l.Entities) }),
			func(l listed) []Candidate { return l.Entities }),
		ai.Array(nonEmpty),
		ai.Map(ai.Object(func(g grouped) error { return nonEmpty(g.candidates()) }),
			grouped.candidates),
	)
}

func appendTyped(dst []Candidate, names []string, t model.EntityType) []Candidate {
	for _, n := range names {
		dst = append(dst, Candidate{Name: n, Type: t})
	}
	return dst
}

// dedupe trims names, lowercases types, drops unknown types and keeps the
// first candidate per (folded name, type).
func dedupe(in []Candidate) []Candidate {
	seen := make(map[string]struct{}, len(in))
	out := make([]Candidate, 0, len(in))
	for _, c := range in {
		c.Name = strings.Join(strings.Fields(c.Name), " ")
		c.Type = model.EntityType(strings.ToLower(strings.TrimSpace(string(c.Type))))
		if c.Name == "" || !c.Type.Valid() {
			continue
		}
		key := string(c.Type) + "\x00" + similarity.Fold(c.Name)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, c)
	}
	return out
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
