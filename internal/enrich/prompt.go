package enrich

import (
	"fmt"
	"strings"

	"github.com/sells-group/intel-cli/internal/model"
)

const enrichSystemPrompt = `You are an expert geopolitical and markets intelligence analyst. Always respond in valid JSON.`

const enrichPrompt = `Analyze this group of news articles about a single event and return a complete, structured analysis.

Respond ONLY with a JSON object of exactly this shape:
{
  "canonical_title": "Precise title naming the main event",
  "summary": "2-3 paragraph executive summary with context and consequences",
  "countries": ["Country 1", "Country 2"],
  "topics": ["topic1", "topic2"],
  "entities": {
    "people": ["Person 1"],
    "organizations": ["Org 1"],
    "locations": ["City 1", "Region 1"],
    "events": ["Key event 1"]
  },
  "relationships": [{"source": "Entity A", "target": "Entity B", "type": "conflict"}],
  "timeline": [{"date": "2026-03-01", "event": "What happened"}],
  "severity": 75,
  "confidence": 85,
  "geopolitical_implications": ["Specific, actionable implication"],
  "key_signals": ["Observable signal to monitor"],
  "market_impact": {
    "affected_sectors": ["Energy", "Defense"],
    "affected_regions": ["Europe"],
    "potential_symbols": ["XLE", "ITA"],
    "risk_level": "low|medium|high",
    "timeframe": "immediate|short_term|medium_term|long_term"
  },
  "map_data": {
    "primary_locations": [
      {"name": "Kyiv", "coordinates": {"lat": 50.4501, "lng": 30.5234}, "significance": "primary|secondary|tertiary"}
    ],
    "affected_regions": ["Eastern Europe"],
    "conflict_zones": ["Donbas"]
  }
}

Rules:
1. severity (0-100) reflects real geopolitical impact:
   80-100 regime change, major conflict or a shift in the balance of power;
   60-79 significant events with regional or global impact;
   40-59 important but contained events;
   0-39 minor or routine events.
2. confidence (0-100) reflects source quality and agreement:
   80-100 several reliable sources confirm;
   60-79 consistent information from limited sources;
   40-59 partial or contradictory information;
   0-39 very limited information.
3. Include coordinates only for places you can locate with confidence.
4. Extract every relevant leader, organization and specific location.
5. Implications must be specific. Signals must be observable.

ARTICLES:
%s

Return only the JSON object.`

// articleContext renders the per-article block of the prompt.
func articleContext(articles []model.Article, snippetChars int) string {
	var b strings.Builder
	for i, a := range articles {
		if i > 0 {
			b.WriteString("\n\n")
		}
		date := "N/A"
		if !a.PublishedAt.IsZero() {
			date = a.PublishedAt.UTC().Format("2006-01-02T15:04:05Z")
		}
		fmt.Fprintf(&b, "Article %d:\nTitle: %s\nSource: %s\nDate: %s\nCountries: %s\nTopics: %s\nSnippet: %s",
			i+1, a.Title, orNA(a.Domain), date,
			orNA(strings.Join(a.Countries, ", ")),
			orNA(strings.Join(a.Topics, ", ")),
			orNA(truncate(a.Snippet, snippetChars)),
		)
	}
	return b.String()
}

func orNA(s string) string {
	if strings.TrimSpace(s) == "" {
		return "N/A"
	}
	return s
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	if n <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
