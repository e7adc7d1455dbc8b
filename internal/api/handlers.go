package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/sells-group/intel-cli/internal/cluster"
	"github.com/sells-group/intel-cli/internal/coord"
	"github.com/sells-group/intel-cli/internal/geo"
	"github.com/sells-group/intel-cli/internal/model"
	"github.com/sells-group/intel-cli/internal/network"
	"github.com/sells-group/intel-cli/internal/store"
)

const (
	defaultClusterLimit = 50
	maxClusterLimit     = 200
	defaultGraphLimit   = 100
	maxGraphLimit       = 1000
	maxAnalyzeHours     = 24 * 7
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}

func serverError(w http.ResponseWriter, r *http.Request, err error) {
	zap.L().Error("api: request failed",
		zap.String("path", r.URL.Path),
		zap.String("request_id", middleware.GetReqID(r.Context())),
		zap.Error(err),
	)
	writeError(w, http.StatusInternalServerError, "internal error")
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Debug("api: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
}

func intParam(r *http.Request, name string, def, maxVal int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, false
	}
	if maxVal > 0 && n > maxVal {
		n = maxVal
	}
	return n, true
}

func csvParam(r *http.Request, name string) []string {
	var out []string
	for _, part := range strings.Split(r.URL.Query().Get(name), ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.Store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleResetAI(w http.ResponseWriter, r *http.Request) {
	if h.deps.AI == nil {
		writeError(w, http.StatusNotFound, "ai disabled")
		return
	}
	h.deps.AI.ResetBreaker()
	zap.L().Info("api: ai circuit breaker reset", zap.String("remote", r.RemoteAddr))
	writeJSON(w, http.StatusOK, map[string]bool{"available": h.deps.AI.Available()})
}

func (h *Handler) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if h.deps.Metrics == nil {
		writeError(w, http.StatusNotFound, "metrics disabled")
		return
	}
	hours, ok := intParam(r, "lookback_hours", h.deps.LookbackHours, 24*30)
	if !ok {
		writeError(w, http.StatusBadRequest, "lookback_hours must be a non-negative integer")
		return
	}
	snap, err := h.deps.Metrics.Collect(r.Context(), hours)
	if err != nil {
		serverError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *Handler) handleListClusters(w http.ResponseWriter, r *http.Request) {
	limit, ok := intParam(r, "limit", defaultClusterLimit, maxClusterLimit)
	if !ok {
		writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
		return
	}
	offset, ok := intParam(r, "offset", 0, 0)
	if !ok {
		writeError(w, http.StatusBadRequest, "offset must be a non-negative integer")
		return
	}
	clusters, err := h.deps.Store.ListClusters(r.Context(), store.ClusterFilter{
		UnenrichedOnly: r.URL.Query().Get("unenriched") == "true",
		Limit:          limit,
		Offset:         offset,
	})
	if err != nil {
		serverError(w, r, err)
		return
	}
	if clusters == nil {
		clusters = []model.Cluster{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"clusters": clusters, "limit": limit, "offset": offset})
}

func (h *Handler) loadCluster(w http.ResponseWriter, r *http.Request) (*model.Cluster, bool) {
	id := chi.URLParam(r, "id")
	c, err := h.deps.Store.GetCluster(r.Context(), id)
	if err != nil {
		serverError(w, r, err)
		return nil, false
	}
	if c == nil {
		writeError(w, http.StatusNotFound, "cluster not found")
		return nil, false
	}
	return c, true
}

func (h *Handler) handleGetCluster(w http.ResponseWriter, r *http.Request) {
	c, ok := h.loadCluster(w, r)
	if !ok {
		return
	}
	articles, err := h.deps.Store.ListArticlesByCluster(r.Context(), c.ID, 0)
	if err != nil {
		serverError(w, r, err)
		return
	}
	if articles == nil {
		articles = []model.Article{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"cluster": c, "articles": articles})
}

func (h *Handler) handleClusterMap(w http.ResponseWriter, r *http.Request) {
	c, ok := h.loadCluster(w, r)
	if !ok {
		return
	}
	data, err := geo.MarshalMap(*c)
	if err != nil {
		serverError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/geo+json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (h *Handler) handleClusterPass(w http.ResponseWriter, r *http.Request) {
	res, err := store.RecordRun(r.Context(), h.deps.Store, model.RunKindClusterPass, func(ctx context.Context) (*model.RunResult, error) {
		pass, err := h.deps.Passer.RunPass(ctx)
		return pass.RunResult(), err
	})
	switch {
	case errors.Is(err, coord.ErrLockHeld):
		writeError(w, http.StatusConflict, "a cluster pass is already running")
	case err != nil:
		serverError(w, r, err)
	default:
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "created": res.Created, "updated": res.Updated})
	}
}

func (h *Handler) handleReanalyze(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var res cluster.RepairResult
	_, err := store.RecordRun(r.Context(), h.deps.Store, model.RunKindRepair, func(ctx context.Context) (*model.RunResult, error) {
		var err error
		res, err = h.deps.Repairer.Repair(ctx, id)
		return res.RunResult(), err
	})
	switch {
	case errors.Is(err, cluster.ErrClusterNotFound):
		writeError(w, http.StatusNotFound, "cluster not found")
	case err != nil:
		serverError(w, r, err)
	default:
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "relinked": res.Relinked, "enriched": res.Enriched})
	}
}

// analyzeRequest selects one scope; article_id wins over cluster_id, which
// wins over time_range (hours).
type analyzeRequest struct {
	ArticleID string `json:"article_id"`
	ClusterID string `json:"cluster_id"`
	TimeRange int    `json:"time_range"`
}

func (h *Handler) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	ctx := r.Context()

	switch {
	case req.ArticleID != "":
		res, err := h.deps.Network.AnalyzeArticle(ctx, req.ArticleID)
		if errors.Is(err, network.ErrArticleNotFound) {
			writeError(w, http.StatusNotFound, "article not found")
			return
		}
		if err != nil {
			serverError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success":                true,
			"entities_stored":        res.EntitiesStored,
			"relationships_detected": res.RelationshipsDetected,
		})
	case req.ClusterID != "" || req.TimeRange > 0:
		var (
			res *model.RunResult
			err error
		)
		res, err = store.RecordRun(ctx, h.deps.Store, model.RunKindNetwork, func(ctx context.Context) (*model.RunResult, error) {
			if req.ClusterID != "" {
				return h.deps.Network.AnalyzeCluster(ctx, req.ClusterID)
			}
			return h.deps.Network.AnalyzeRecent(ctx, min(req.TimeRange, maxAnalyzeHours))
		})
		if err != nil {
			serverError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success":                true,
			"entities_stored":        res.EntitiesStored,
			"relationships_detected": res.RelationshipsDetected,
			"articles_analyzed":      res.ArticlesAnalyzed,
		})
	default:
		writeError(w, http.StatusBadRequest, "must provide article_id, cluster_id, or time_range")
	}
}

func (h *Handler) handleGraph(w http.ResponseWriter, r *http.Request) {
	filter := model.GraphFilter{EntityIDs: csvParam(r, "entity_ids")}
	for _, t := range csvParam(r, "relationship_types") {
		rt := model.RelationshipType(t)
		if !rt.Valid() {
			writeError(w, http.StatusBadRequest, "unknown relationship type "+t)
			return
		}
		filter.RelationshipTypes = append(filter.RelationshipTypes, rt)
	}
	if raw := r.URL.Query().Get("min_strength"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v < 0 || v > 1 {
			writeError(w, http.StatusBadRequest, "min_strength must be between 0 and 1")
			return
		}
		filter.MinStrength = &v
	}
	limit, ok := intParam(r, "limit", defaultGraphLimit, maxGraphLimit)
	if !ok {
		writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
		return
	}
	filter.Limit = limit

	g, err := h.deps.Network.Graph(r.Context(), filter)
	if err != nil {
		serverError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}
