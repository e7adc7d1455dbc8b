// Package transfer loads article files into the store and exports clusters
// and relationships to spreadsheets.
package transfer

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/intel-cli/internal/model"
)

// ArticleWriter bulk upserts articles.
type ArticleWriter interface {
	UpsertArticles(ctx context.Context, articles []model.Article) (int64, error)
}

const importBatch = 500

// ReadArticles decodes a .json, .yaml or .yml file holding an array of
// articles. Records without an ID or title are skipped.
func ReadArticles(path string) ([]model.Article, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "transfer: read %s", path)
	}

	var articles []model.Article
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		dec := json.NewDecoder(bytes.NewReader(data))
		if err := dec.Decode(&articles); err != nil {
			return nil, eris.Wrapf(err, "transfer: decode json %s", path)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &articles); err != nil {
			return nil, eris.Wrapf(err, "transfer: decode yaml %s", path)
		}
	default:
		return nil, eris.Errorf("transfer: unsupported file type %q", ext)
	}

	valid := articles[:0]
	for _, a := range articles {
		a.ID = strings.TrimSpace(a.ID)
		a.Title = strings.TrimSpace(a.Title)
		if a.ID == "" || a.Title == "" {
			zap.L().Warn("transfer: skipping article without id or title", zap.String("id", a.ID))
			continue
		}
		// Assignment belongs to the cluster pass.
		a.ClusterID = nil
		valid = append(valid, a)
	}
	return valid, nil
}

// ImportArticles reads path and upserts its articles in batches. It returns
// the number of rows written.
func ImportArticles(ctx context.Context, w ArticleWriter, path string) (int64, error) {
	articles, err := ReadArticles(path)
	if err != nil {
		return 0, err
	}

	var total int64
	for start := 0; start < len(articles); start += importBatch {
		end := min(start+importBatch, len(articles))
		n, err := w.UpsertArticles(ctx, articles[start:end])
		if err != nil {
			return total, eris.Wrapf(err, "transfer: upsert batch at %d", start)
		}
		total += n
	}
	zap.L().Info("transfer: import complete",
		zap.String("file", path),
		zap.Int("articles", len(articles)),
		zap.Int64("written", total),
	)
	return total, nil
}
