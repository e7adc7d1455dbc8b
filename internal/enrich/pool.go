package enrich

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/intel-cli/internal/config"
	"github.com/sells-group/intel-cli/internal/model"
	"github.com/sells-group/intel-cli/internal/resilience"
	"github.com/sells-group/intel-cli/internal/store"
)

// Runner enriches one cluster.
type Runner interface {
	Enrich(ctx context.Context, clusterID string) error
}

// PoolConfig sizes the worker pool.
type PoolConfig struct {
	Concurrency int
	BatchDelay  time.Duration
	QueueSize   int
}

// PoolFromConfig maps the enrich section of the app config.
func PoolFromConfig(cfg config.EnrichConfig) PoolConfig {
	return PoolConfig{
		Concurrency: cfg.Concurrency,
		BatchDelay:  time.Duration(cfg.BatchDelayMs) * time.Millisecond,
		QueueSize:   cfg.QueueSize,
	}.withDefaults()
}

func (c PoolConfig) withDefaults() PoolConfig {
	if c.Concurrency <= 0 {
		c.Concurrency = 3
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 100
	}
	return c
}

// Pool runs enrichments on a fixed set of workers fed by a bounded queue.
// A failed cluster is logged and parked in the dead letter queue; it never
// affects other clusters or the caller that submitted it.
type Pool struct {
	runner  Runner
	store   store.Store
	limiter *rate.Limiter
	jobs    chan string

	mu     sync.RWMutex
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	enriched atomic.Int64
	failed   atomic.Int64
	dropped  atomic.Int64

	now func() time.Time
}

// NewPool starts cfg.Concurrency workers. Cancelling ctx aborts in-flight
// calls; Close drains what is queued.
func NewPool(ctx context.Context, runner Runner, st store.Store, cfg PoolConfig) *Pool {
	cfg = cfg.withDefaults()
	limit := rate.Inf
	if cfg.BatchDelay > 0 {
		limit = rate.Every(cfg.BatchDelay)
	}

	ctx, cancel := context.WithCancel(ctx)
	p := &Pool{
		runner:  runner,
		store:   st,
		limiter: rate.NewLimiter(limit, cfg.Concurrency),
		jobs:    make(chan string, cfg.QueueSize),
		ctx:     ctx,
		cancel:  cancel,
		now:     time.Now,
	}
	for i := 0; i < cfg.Concurrency; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	zap.L().Debug("enrich: pool started", zap.Int("workers", cfg.Concurrency), zap.Int("queue", cfg.QueueSize))
	return p
}

// Submit queues a cluster without blocking. It returns false when the queue
// is full or the pool is closed; the cluster stays unenriched and is picked
// up by the next EnrichPending sweep.
func (p *Pool) Submit(clusterID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false
	}
	select {
	case p.jobs <- clusterID:
		return true
	default:
		p.dropped.Add(1)
		zap.L().Warn("enrich: queue full, dropping cluster", zap.String("cluster_id", clusterID))
		return false
	}
}

// EnrichPending submits up to limit clusters that have never been enriched
// and returns how many were queued.
func (p *Pool) EnrichPending(ctx context.Context, limit int) (int, error) {
	clusters, err := p.store.ListClusters(ctx, store.ClusterFilter{UnenrichedOnly: true, Limit: limit})
	if err != nil {
		return 0, eris.Wrap(err, "enrich: list pending clusters")
	}
	queued := 0
	for _, c := range clusters {
		if p.Submit(c.ID) {
			queued++
		}
	}
	zap.L().Info("enrich: pending clusters queued", zap.Int("pending", len(clusters)), zap.Int("queued", queued))
	return queued, nil
}

// Close stops accepting work, waits for the queue to drain and releases
// the workers. It is safe to call more than once.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()

	p.wg.Wait()
	p.cancel()
	zap.L().Info("enrich: pool stopped",
		zap.Int64("enriched", p.enriched.Load()),
		zap.Int64("failed", p.failed.Load()),
		zap.Int64("dropped", p.dropped.Load()),
	)
}

// Result reports the counters accumulated so far.
func (p *Pool) Result() *model.RunResult {
	return &model.RunResult{
		Enriched: int(p.enriched.Load()),
		Failed:   int(p.failed.Load()),
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for id := range p.jobs {
		if err := p.limiter.Wait(p.ctx); err != nil {
			// Cancelled: drain without calling out.
			p.failed.Add(1)
			continue
		}
		p.run(id)
	}
}

func (p *Pool) run(clusterID string) {
	log := zap.L().With(zap.String("cluster_id", clusterID))

	err := p.runner.Enrich(p.ctx, clusterID)
	if err == nil {
		p.enriched.Add(1)
		if rmErr := p.store.RemoveDLQ(context.WithoutCancel(p.ctx), resilience.WorkEnrichCluster, clusterID); rmErr != nil {
			log.Debug("enrich: clear dead letter failed", zap.Error(rmErr))
		}
		return
	}

	p.failed.Add(1)
	log.Warn("enrich: cluster enrichment failed", zap.Error(err))
	entry := resilience.NewDLQEntry(resilience.WorkEnrichCluster, clusterID, err, p.now().UTC())
	if dlqErr := p.store.EnqueueDLQ(context.WithoutCancel(p.ctx), entry); dlqErr != nil {
		log.Error("enrich: dead letter enqueue failed", zap.Error(dlqErr))
	}
}
