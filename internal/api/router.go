// Package api exposes clusters, network analysis and metrics over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/sells-group/intel-cli/internal/cluster"
	"github.com/sells-group/intel-cli/internal/model"
	"github.com/sells-group/intel-cli/internal/monitoring"
	"github.com/sells-group/intel-cli/internal/network"
	"github.com/sells-group/intel-cli/internal/store"
)

// Passer runs a clustering pass.
type Passer interface {
	RunPass(ctx context.Context) (cluster.PassResult, error)
}

// Repairer pulls missed articles into a cluster and re-enriches it.
type Repairer interface {
	Repair(ctx context.Context, clusterID string) (cluster.RepairResult, error)
}

// NetworkAnalyzer builds and reads the entity network.
type NetworkAnalyzer interface {
	AnalyzeArticle(ctx context.Context, articleID string) (network.Result, error)
	AnalyzeCluster(ctx context.Context, clusterID string) (*model.RunResult, error)
	AnalyzeRecent(ctx context.Context, hours int) (*model.RunResult, error)
	Graph(ctx context.Context, filter model.GraphFilter) (*model.Graph, error)
}

// MetricsCollector snapshots system health.
type MetricsCollector interface {
	Collect(ctx context.Context, lookbackHours int) (*monitoring.MetricsSnapshot, error)
}

// BreakerResetter closes the AI circuit breaker on operator request.
type BreakerResetter interface {
	ResetBreaker()
	Available() bool
}

// Deps wires the handlers. Metrics and AI may be nil.
type Deps struct {
	Store         store.Store
	Passer        Passer
	Repairer      Repairer
	Network       NetworkAnalyzer
	Metrics       MetricsCollector
	AI            BreakerResetter
	CORSOrigins   []string
	LookbackHours int
}

// Handler serves the read and trigger API.
type Handler struct {
	deps Deps
}

const requestTimeout = 5 * time.Minute

// NewRouter builds the chi router with CORS and request logging.
func NewRouter(d Deps) http.Handler {
	h := &Handler{deps: d}
	origins := d.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))
	r.Use(middleware.Timeout(requestTimeout))

	r.Get("/health", h.handleHealth)
	r.Get("/metrics", h.handleMetrics)

	r.Route("/clusters", func(cr chi.Router) {
		cr.Get("/", h.handleListClusters)
		cr.Post("/pass", h.handleClusterPass)
		cr.Get("/{id}", h.handleGetCluster)
		cr.Get("/{id}/map", h.handleClusterMap)
		cr.Post("/{id}/reanalyze", h.handleReanalyze)
	})

	r.Route("/network", func(nr chi.Router) {
		nr.Post("/analyze", h.handleAnalyze)
		nr.Get("/graph", h.handleGraph)
	})

	r.Post("/admin/ai/reset", h.handleResetAI)

	return r
}
