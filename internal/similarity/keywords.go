// Package similarity scores how likely two articles, or an article and a
// cluster, describe the same event. All functions are pure.
package similarity

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Keyword caps.
const (
	ArticleKeywordLimit = 15
	ClusterKeywordLimit = 5
	RepairKeywordLimit  = 20
)

var stopwords = toSet(
	"the", "a", "an", "and", "or", "but", "in", "on", "at", "to", "for", "of", "with", "by",
	"from", "as", "is", "was", "are", "were", "been", "be", "have", "has", "had", "do", "does",
	"did", "will", "would", "could", "should", "may", "might", "must", "can", "this", "that",
	"these", "those", "it", "its", "they", "them", "their", "there", "here", "where", "when",
	"what", "who", "which", "why", "how", "about", "into", "through", "during", "before",
	"after", "above", "below", "up", "down", "out", "off", "over", "under", "again", "further",
	"then", "once", "said", "says", "say", "new", "old", "more", "most", "less", "least",
	"very", "much", "many", "some", "any", "all", "each", "every", "both", "few", "other",
	"such", "only", "own", "same", "than", "too", "just", "also", "now", "today", "yesterday",
	"tomorrow", "year", "years", "month", "months", "day", "days", "week", "weeks", "time",
	"times", "first", "last", "next", "previous", "recent", "recently",
)

func toSet(words ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}

// Fold lowercases s and strips diacritics ("Türkiye" -> "turkiye").
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(out)
}

// Keywords returns up to limit distinct keywords of text in first-seen order.
// Tokens are split on anything that is not a letter, digit or underscore; only
// tokens longer than three characters that are not stopwords are kept.
func Keywords(text string, limit int) []string {
	if limit <= 0 {
		return nil
	}
	fields := strings.FieldsFunc(Fold(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})

	seen := make(map[string]struct{}, len(fields))
	out := make([]string, 0, limit)
	for _, w := range fields {
		if utf8.RuneCountInString(w) <= 3 {
			continue
		}
		if _, stop := stopwords[w]; stop {
			continue
		}
		if _, dup := seen[w]; dup {
			continue
		}
		seen[w] = struct{}{}
		out = append(out, w)
		if len(out) == limit {
			break
		}
	}
	return out
}

// TopKeywords ranks the keywords of titles by frequency across all titles.
// Ties keep first-appearance order.
func TopKeywords(titles []string, n int) []string {
	counts := make(map[string]int)
	var order []string
	for _, t := range titles {
		for _, k := range Keywords(t, ArticleKeywordLimit) {
			if counts[k] == 0 {
				order = append(order, k)
			}
			counts[k]++
		}
	}
	sort.SliceStable(order, func(i, j int) bool {
		return counts[order[i]] > counts[order[j]]
	})
	if len(order) > n {
		order = order[:n]
	}
	return order
}

// TitleHash fingerprints a canonical title so that rewordings with the same
// keyword set collide.
func TitleHash(title string) string {
	kw := Keywords(title, ArticleKeywordLimit)
	sort.Strings(kw)
	key := strings.Join(kw, " ")
	if key == "" {
		key = strings.TrimSpace(Fold(title))
	}
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
