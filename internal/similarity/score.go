package similarity

import (
	"math"
	"strings"
	"time"

	"github.com/sells-group/intel-cli/internal/model"
)

// Signal weights for Score.
const (
	TitleWeight   = 0.4
	CountryWeight = 0.3
	TopicWeight   = 0.2
	DomainWeight  = 0.1
)

// Signals is the per-article input to Score.
type Signals struct {
	Keywords    []string
	Countries   []string
	Topics      []string
	Domain      string
	PublishedAt time.Time
}

// FromArticle extracts the scoring signals of an article.
func FromArticle(a model.Article) Signals {
	return Signals{
		Keywords:    Keywords(a.Title, ArticleKeywordLimit),
		Countries:   a.Countries,
		Topics:      a.Topics,
		Domain:      a.Domain,
		PublishedAt: a.PublishedAt,
	}
}

// Score returns the similarity of two articles in [0,1]. Signals whose
// operands are empty on both sides carry no weight, so the weighted sum is
// renormalized over the signals present. A time-proximity bonus is added
// after normalization.
func Score(a, b Signals) float64 {
	var score, weight float64

	if s, ok := jaccard(a.Keywords, b.Keywords, false); ok {
		score += s * TitleWeight
		weight += TitleWeight
	}
	if s, ok := jaccard(a.Countries, b.Countries, true); ok {
		score += s * CountryWeight
		weight += CountryWeight
	}
	if s, ok := jaccard(a.Topics, b.Topics, true); ok {
		score += s * TopicWeight
		weight += TopicWeight
	}
	da, db := strings.TrimSpace(a.Domain), strings.TrimSpace(b.Domain)
	if da != "" || db != "" {
		if strings.EqualFold(da, db) {
			score += DomainWeight
		}
		weight += DomainWeight
	}

	if weight == 0 {
		return 0
	}
	return math.Min(1, score/weight+TimeBonus(a.PublishedAt, b.PublishedAt))
}

// TimeBonus is +0.1 within 6 hours and +0.05 within 24 hours.
func TimeBonus(a, b time.Time) float64 {
	if a.IsZero() || b.IsZero() {
		return 0
	}
	diff := a.Sub(b)
	if diff < 0 {
		diff = -diff
	}
	switch {
	case diff <= 6*time.Hour:
		return 0.1
	case diff <= 24*time.Hour:
		return 0.05
	}
	return 0
}

// ClusterScore matches an article against an existing cluster, which only
// exposes its canonical title and aggregate countries: 0.7 x keyword overlap
// plus 0.3 when any country is shared.
func ClusterScore(a Signals, c model.Cluster) float64 {
	kw, _ := jaccard(a.Keywords, Keywords(c.CanonicalTitle, ClusterKeywordLimit), false)
	score := kw * 0.7
	if overlaps(a.Countries, c.Countries) {
		score += 0.3
	}
	return score
}

// KeywordOverlap is the keyword Jaccard of two titles with the given cap.
func KeywordOverlap(a, b string, limit int) float64 {
	s, _ := jaccard(Keywords(a, limit), Keywords(b, limit), false)
	return s
}

// jaccard returns |a∩b|/|a∪b| and whether either side was non-empty.
func jaccard(a, b []string, fold bool) (float64, bool) {
	sa, sb := set(a, fold), set(b, fold)
	if len(sa) == 0 && len(sb) == 0 {
		return 0, false
	}
	inter := 0
	for k := range sa {
		if _, ok := sb[k]; ok {
			inter++
		}
	}
	union := len(sa) + len(sb) - inter
	return float64(inter) / float64(union), true
}

func overlaps(a, b []string) bool {
	sb := set(b, true)
	for k := range set(a, true) {
		if _, ok := sb[k]; ok {
			return true
		}
	}
	return false
}

func set(values []string, fold bool) map[string]struct{} {
	m := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if fold {
			v = strings.ToLower(v)
		}
		if v != "" {
			m[v] = struct{}{}
		}
	}
	return m
}
