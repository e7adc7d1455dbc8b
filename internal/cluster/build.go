package cluster

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sells-group/intel-cli/internal/model"
	"github.com/sells-group/intel-cli/internal/similarity"
)

const (
	maxTitleRunes    = 100
	maxClusterFacets = 10
	titleKeywords    = 5
)

// Group partitions articles greedily: the first unclaimed article claims
// every later unclaimed article scoring at least threshold against it.
// Only groups of two or more are returned.
func Group(articles []model.Article, threshold float64) [][]model.Article {
	signals := make([]similarity.Signals, len(articles))
	for i, a := range articles {
		signals[i] = similarity.FromArticle(a)
	}

	claimed := make([]bool, len(articles))
	var groups [][]model.Article
	for i := range articles {
		if claimed[i] {
			continue
		}
		claimed[i] = true
		group := []model.Article{articles[i]}
		for j := i + 1; j < len(articles); j++ {
			if claimed[j] {
				continue
			}
			if similarity.Score(signals[i], signals[j]) >= threshold {
				claimed[j] = true
				group = append(group, articles[j])
			}
		}
		if len(group) >= 2 {
			groups = append(groups, group)
		}
	}
	return groups
}

// sourceKey identifies the outlet of an article, the same way the store
// counts sources.
func sourceKey(a model.Article) string {
	if a.SourceID != "" {
		return a.SourceID
	}
	return a.Domain
}

// BuildCluster derives a new cluster from a group of articles. now stands in
// for missing publication times.
func BuildCluster(group []model.Article, now time.Time) model.Cluster {
	var c model.Cluster
	if len(group) == 0 {
		return c
	}

	sources := map[string]struct{}{}
	titles := make([]string, 0, len(group))
	for i, a := range group {
		pub := a.PublishedAt
		if pub.IsZero() {
			pub = now
		}
		pub = pub.UTC()
		if i == 0 || pub.Before(c.WindowStart) {
			c.WindowStart = pub
		}
		if i == 0 || pub.After(c.WindowEnd) {
			c.WindowEnd = pub
		}
		sources[sourceKey(a)] = struct{}{}
		titles = append(titles, a.Title)
		c.Countries = appendDistinct(c.Countries, a.Countries, maxClusterFacets)
		c.Topics = appendDistinct(c.Topics, a.Topics, maxClusterFacets)
	}

	articles, srcs := len(group), len(sources)
	c.ArticleCount = articles
	c.SourceCount = srcs
	c.Severity = min(100, 12*srcs+5*articles)
	c.Confidence = min(100, 30+8*articles+5*srcs)
	c.Summary = fmt.Sprintf("Event covered by %d articles from %d sources", articles, srcs)
	c.CanonicalTitle = canonicalTitle(group[0].Title, titles)
	c.TitleHash = similarity.TitleHash(c.CanonicalTitle)
	return c
}

func canonicalTitle(first string, titles []string) string {
	if utf8.RuneCountInString(first) < maxTitleRunes {
		return first
	}
	if top := similarity.TopKeywords(titles, titleKeywords); len(top) > 0 {
		return strings.Join(top, " ")
	}
	return first
}

func appendDistinct(dst, src []string, limit int) []string {
	for _, v := range src {
		if len(dst) >= limit {
			return dst
		}
		dup := false
		for _, have := range dst {
			if have == v {
				dup = true
				break
			}
		}
		if !dup && v != "" {
			dst = append(dst, v)
		}
	}
	return dst
}
