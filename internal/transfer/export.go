package transfer

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/intel-cli/internal/model"
	"github.com/sells-group/intel-cli/internal/store"
)

// ExportSource is the slice of store.Store read by the exporter.
type ExportSource interface {
	ListClusters(ctx context.Context, filter store.ClusterFilter) ([]model.Cluster, error)
	ListRelationships(ctx context.Context, filter model.GraphFilter) ([]model.EntityRelationship, error)
	GetEntities(ctx context.Context, ids []string) ([]model.Entity, error)
}

// ExportOptions bounds the export.
type ExportOptions struct {
	MaxClusters      int
	MaxRelationships int
	MinStrength      float64
}

const exportPage = 200

var (
	clusterHeader = []string{
		"ID", "Title", "Summary", "Severity", "Confidence", "Articles", "Sources",
		"Countries", "Topics", "Window Start", "Window End", "Enriched At",
	}
	relationshipHeader = []string{
		"Source", "Source Type", "Target", "Target Type", "Relationship", "Strength",
		"Articles", "Context", "Last Seen",
	}
)

// Counts reports how many rows each sheet received.
type Counts struct {
	Clusters      int `json:"clusters"`
	Relationships int `json:"relationships"`
}

// ExportXLSX writes a workbook with Clusters and Relationships sheets.
func ExportXLSX(ctx context.Context, src ExportSource, path string, opts ExportOptions) (Counts, error) {
	var counts Counts
	if opts.MaxClusters <= 0 {
		opts.MaxClusters = 1000
	}
	if opts.MaxRelationships <= 0 {
		opts.MaxRelationships = 1000
	}

	f := xlsx.NewFile()
	clusters, err := f.AddSheet("Clusters")
	if err != nil {
		return counts, eris.Wrap(err, "transfer: add clusters sheet")
	}
	addRow(clusters, clusterHeader...)

	for offset := 0; offset < opts.MaxClusters; offset += exportPage {
		page, err := src.ListClusters(ctx, store.ClusterFilter{Limit: min(exportPage, opts.MaxClusters-offset), Offset: offset})
		if err != nil {
			return counts, eris.Wrap(err, "transfer: list clusters")
		}
		for _, c := range page {
			writeCluster(clusters, c)
			counts.Clusters++
		}
		if len(page) < exportPage {
			break
		}
	}

	rels, err := f.AddSheet("Relationships")
	if err != nil {
		return counts, eris.Wrap(err, "transfer: add relationships sheet")
	}
	addRow(rels, relationshipHeader...)

	list, err := src.ListRelationships(ctx, model.GraphFilter{MinStrength: model.Strength(opts.MinStrength), Limit: opts.MaxRelationships})
	if err != nil {
		return counts, eris.Wrap(err, "transfer: list relationships")
	}
	entities, err := entityIndex(ctx, src, list)
	if err != nil {
		return counts, err
	}
	for _, r := range list {
		s, t := entities[r.SourceEntityID], entities[r.TargetEntityID]
		row := rels.AddRow()
		row.AddCell().SetString(s.Label())
		row.AddCell().SetString(string(s.Type))
		row.AddCell().SetString(t.Label())
		row.AddCell().SetString(string(t.Type))
		row.AddCell().SetString(string(r.RelationshipType))
		row.AddCell().SetFloat(r.Strength)
		row.AddCell().SetInt(r.ArticleCount)
		row.AddCell().SetString(r.Context)
		row.AddCell().SetString(formatTime(r.LastSeenAt))
		counts.Relationships++
	}

	if err := f.Save(path); err != nil {
		return counts, eris.Wrapf(err, "transfer: save %s", path)
	}
	return counts, nil
}

func addRow(sheet *xlsx.Sheet, values ...string) {
	row := sheet.AddRow()
	for _, v := range values {
		row.AddCell().SetString(v)
	}
}

func writeCluster(sheet *xlsx.Sheet, c model.Cluster) {
	row := sheet.AddRow()
	row.AddCell().SetString(c.ID)
	row.AddCell().SetString(c.CanonicalTitle)
	row.AddCell().SetString(c.Summary)
	row.AddCell().SetInt(c.Severity)
	row.AddCell().SetInt(c.Confidence)
	row.AddCell().SetInt(c.ArticleCount)
	row.AddCell().SetInt(c.SourceCount)
	row.AddCell().SetString(strings.Join(c.Countries, ", "))
	row.AddCell().SetString(strings.Join(c.Topics, ", "))
	row.AddCell().SetString(formatTime(c.WindowStart))
	row.AddCell().SetString(formatTime(c.WindowEnd))
	if c.EnrichedAt != nil {
		row.AddCell().SetString(formatTime(*c.EnrichedAt))
	} else {
		row.AddCell().SetString("")
	}
}

func entityIndex(ctx context.Context, src ExportSource, rels []model.EntityRelationship) (map[string]model.Entity, error) {
	seen := make(map[string]struct{}, len(rels)*2)
	var ids []string
	for _, r := range rels {
		for _, id := range []string{r.SourceEntityID, r.TargetEntityID} {
			if _, ok := seen[id]; !ok {
				seen[id] = struct{}{}
				ids = append(ids, id)
			}
		}
	}
	out := make(map[string]model.Entity, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	entities, err := src.GetEntities(ctx, ids)
	if err != nil {
		return nil, eris.Wrap(err, "transfer: load entities")
	}
	for _, e := range entities {
		out[e.ID] = e
	}
	return out, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
