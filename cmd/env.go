package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/intel-cli/internal/ai"
	"github.com/sells-group/intel-cli/internal/cluster"
	"github.com/sells-group/intel-cli/internal/coord"
	"github.com/sells-group/intel-cli/internal/cost"
	"github.com/sells-group/intel-cli/internal/enrich"
	"github.com/sells-group/intel-cli/internal/graph"
	"github.com/sells-group/intel-cli/internal/network"
	"github.com/sells-group/intel-cli/internal/store"
	anthropicpkg "github.com/sells-group/intel-cli/pkg/anthropic"
)

// coordinator is the pass lock plus the event bus.
type coordinator interface {
	coord.Locker
	coord.Publisher
}

// appEnv holds the store, clients and services shared by the commands.
type appEnv struct {
	Store    store.Store
	AI       *ai.Service
	Coord    coordinator
	Graph    *graph.Projector
	Enricher *enrich.Enricher
	Repairer *cluster.Repairer
	Analyzer *network.Analyzer

	redis *coord.Redis
}

// Close releases resources held by the environment.
func (e *appEnv) Close() {
	if e.Graph != nil {
		if err := e.Graph.Close(context.Background()); err != nil {
			zap.L().Warn("close neo4j driver", zap.Error(err))
		}
	}
	if e.redis != nil {
		_ = e.redis.Close()
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// Engine builds a clustering engine sharing the environment's lock and
// event bus.
func (e *appEnv) Engine(opts ...cluster.Option) *cluster.Engine {
	opts = append([]cluster.Option{cluster.WithLocker(e.Coord), cluster.WithPublisher(e.Coord)}, opts...)
	return cluster.NewEngine(e.Store, cluster.FromConfig(cfg.Cluster), opts...)
}

// Pool starts an enrichment pool bound to ctx. Callers must Close it.
func (e *appEnv) Pool(ctx context.Context) *enrich.Pool {
	return enrich.NewPool(ctx, e.Enricher, e.Store, enrich.PoolFromConfig(cfg.Enrich))
}

// initStoreOnly opens and migrates the store for commands that never call
// out to Claude, redis or neo4j.
func initStoreOnly(ctx context.Context) (store.Store, error) {
	if err := cfg.Validate("store"); err != nil {
		return nil, err
	}
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// initEnv opens the store and wires every service. mode is passed to
// config validation. Callers should defer env.Close().
func initEnv(ctx context.Context, mode string) (*appEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	env := &appEnv{Store: st, Coord: coord.Noop{}}

	if err := st.Migrate(ctx); err != nil {
		env.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	var client anthropicpkg.Client
	if cfg.Anthropic.Key != "" {
		client = anthropicpkg.NewClient(cfg.Anthropic.Key)
	} else {
		zap.L().Warn("anthropic key not set, AI steps will use fallbacks or fail")
	}
	env.AI = ai.NewService(client, cfg, cost.NewLedger())

	if cfg.Redis.Addr != "" {
		r, err := coord.NewRedis(ctx, coord.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Channel:  cfg.Redis.Channel,
		})
		if err != nil {
			env.Close()
			return nil, err
		}
		env.redis = r
		env.Coord = r
	}

	proj, err := graph.New(ctx, cfg.Neo4j)
	if err != nil {
		env.Close()
		return nil, err
	}
	env.Graph = proj

	env.Enricher = enrich.NewEnricher(st, env.AI, enrich.FromConfig(cfg.Enrich), env.Coord)
	env.Repairer = cluster.NewRepairer(st, env.Enricher, cluster.RepairFromConfig(cfg.Cluster))

	netOpts := []network.Option{network.WithPublisher(env.Coord)}
	if proj != nil {
		netOpts = append(netOpts, network.WithProjector(proj))
	}
	env.Analyzer = network.NewAnalyzer(st, env.AI, network.FromConfig(cfg), netOpts...)

	zap.L().Debug("environment ready",
		zap.String("store", cfg.Store.Driver),
		zap.Bool("ai", env.AI.Available()),
		zap.Bool("redis", env.redis != nil),
		zap.Bool("neo4j", proj != nil),
	)
	return env, nil
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "intel.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}
