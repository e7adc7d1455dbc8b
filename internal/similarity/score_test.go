package similarity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/intel-cli/internal/model"
)

func TestKeywords(t *testing.T) {
	got := Keywords("The Russian military said today it struck Ukraine's energy grid, energy officials say", 15)
	assert.Equal(t, []string{"russian", "military", "struck", "ukraine", "energy", "grid", "officials"}, got)
}

func TestKeywords_Limit(t *testing.T) {
	got := Keywords("alpha bravo charlie delta echo foxtrot", 3)
	assert.Equal(t, []string{"alpha", "bravo", "charlie"}, got)
	assert.Nil(t, Keywords("alpha", 0))
}

func TestKeywords_FoldsDiacritics(t *testing.T) {
	assert.Equal(t, []string{"turkiye", "election"}, Keywords("Türkiye election", 5))
}

func TestTopKeywords(t *testing.T) {
	got := TopKeywords([]string{
		"Flooding hits coastal towns",
		"Coastal flooding worsens",
		"Storm surge flooding",
	}, 2)
	assert.Equal(t, []string{"flooding", "coastal"}, got)
}

func TestTitleHash_OrderInsensitive(t *testing.T) {
	assert.Equal(t, TitleHash("Energy grid Ukraine"), TitleHash("Ukraine energy grid"))
	assert.NotEqual(t, TitleHash("Energy grid Ukraine"), TitleHash("Energy grid Poland"))
	assert.NotEmpty(t, TitleHash("a b c"))
}

func TestScore_SameEventScenario(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	a := FromArticle(model.Article{
		Title: "Russia strikes Ukraine energy grid", Countries: []string{"RU", "UA"},
		Domain: "reuters.com", PublishedAt: now,
	})
	b := FromArticle(model.Article{
		Title: "Ukraine energy grid hit by Russian strikes", Countries: []string{"RU", "UA"},
		Domain: "reuters.com", PublishedAt: now.Add(3 * time.Hour),
	})

	s := Score(a, b)
	assert.GreaterOrEqual(t, s, 0.5)
	assert.InDelta(t, 0.9333, s, 0.001)
	assert.Equal(t, s, Score(b, a))
}

func TestScore_SelfIsOne(t *testing.T) {
	a := FromArticle(model.Article{
		Title: "Central bank raises interest rates", Countries: []string{"US"},
		Topics: []string{"economy"}, Domain: "ft.com", PublishedAt: time.Now(),
	})
	assert.Equal(t, 1.0, Score(a, a))
}

func TestScore_Bounds(t *testing.T) {
	a := Signals{Keywords: []string{"volcano", "eruption"}, Countries: []string{"IS"}}
	b := Signals{Keywords: []string{"football", "transfer"}, Countries: []string{"ES"}}
	s := Score(a, b)
	assert.GreaterOrEqual(t, s, 0.0)
	assert.LessOrEqual(t, s, 1.0)
	assert.Equal(t, 0.0, s)
}

func TestScore_EmptySignalsCarryNoWeight(t *testing.T) {
	a := Signals{Keywords: []string{"volcano", "eruption"}}
	b := Signals{Keywords: []string{"volcano", "eruption"}}
	assert.Equal(t, 1.0, Score(a, b))
	assert.Equal(t, 0.0, Score(Signals{}, Signals{}))
}

func TestTimeBonus(t *testing.T) {
	now := time.Now()
	assert.Equal(t, 0.1, TimeBonus(now, now.Add(-5*time.Hour)))
	assert.Equal(t, 0.05, TimeBonus(now, now.Add(20*time.Hour)))
	assert.Equal(t, 0.0, TimeBonus(now, now.Add(48*time.Hour)))
	assert.Equal(t, 0.0, TimeBonus(time.Time{}, now))
}

func TestClusterScore(t *testing.T) {
	c := model.Cluster{CanonicalTitle: "Russia strikes Ukraine energy grid", Countries: []string{"RU", "UA"}}
	a := Signals{Keywords: Keywords("Russia strikes Ukraine energy grid", ArticleKeywordLimit), Countries: []string{"ua"}}
	assert.InDelta(t, 1.0, ClusterScore(a, c), 1e-9)

	other := Signals{Keywords: []string{"football"}, Countries: []string{"BR"}}
	assert.Equal(t, 0.0, ClusterScore(other, c))
}

func TestKeywordOverlap(t *testing.T) {
	assert.InDelta(t, 1.0, KeywordOverlap("Ukraine energy grid", "grid energy Ukraine", RepairKeywordLimit), 1e-9)
	assert.Equal(t, 0.0, KeywordOverlap("", "", RepairKeywordLimit))
}
