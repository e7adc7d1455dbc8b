package enrich

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/intel-cli/internal/resilience"
)

type funcRunner struct {
	mu    sync.Mutex
	calls []string
	fn    func(id string) error
}

func (r *funcRunner) Enrich(_ context.Context, id string) error {
	r.mu.Lock()
	r.calls = append(r.calls, id)
	r.mu.Unlock()
	if r.fn == nil {
		return nil
	}
	return r.fn(id)
}

func TestPool_IsolatesFailures(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	runner := &funcRunner{fn: func(id string) error {
		if id == "bad" {
			return errors.New("model returned garbage")
		}
		return nil
	}}

	pool := NewPool(ctx, runner, st, PoolConfig{Concurrency: 2, QueueSize: 10})
	for _, id := range []string{"c1", "bad", "c2"} {
		require.True(t, pool.Submit(id))
	}
	pool.Close()

	res := pool.Result()
	assert.Equal(t, 2, res.Enriched)
	assert.Equal(t, 1, res.Failed)
	assert.ElementsMatch(t, []string{"c1", "bad", "c2"}, runner.calls)

	entries, err := st.ListDLQ(ctx, resilience.DLQFilter{Kind: resilience.WorkEnrichCluster})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "bad", entries[0].SubjectID)
	assert.Equal(t, resilience.ErrorPermanent, entries[0].ErrorType)
}

func TestPool_SuccessClearsDeadLetter(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, st.EnqueueDLQ(ctx, resilience.NewDLQEntry(resilience.WorkEnrichCluster, "c1", errors.New("boom"), baseTime)))

	pool := NewPool(ctx, &funcRunner{}, st, PoolConfig{Concurrency: 1})
	require.True(t, pool.Submit("c1"))
	pool.Close()

	n, err := st.CountDLQ(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestPool_SubmitDropsWhenFull(t *testing.T) {
	st := newTestStore(t)
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	runner := &funcRunner{fn: func(string) error {
		started <- struct{}{}
		<-release
		return nil
	}}

	pool := NewPool(context.Background(), runner, st, PoolConfig{Concurrency: 1, QueueSize: 1})
	require.True(t, pool.Submit("c1"))
	<-started // worker holds c1
	require.True(t, pool.Submit("c2"))
	assert.False(t, pool.Submit("c3"))

	close(release)
	pool.Close()
	assert.Equal(t, 2, pool.Result().Enriched)
	assert.False(t, pool.Submit("c4"), "closed pool rejects work")
	pool.Close()
}

func TestPool_PacesCalls(t *testing.T) {
	st := newTestStore(t)
	var mu sync.Mutex
	var stamps []time.Time
	runner := &funcRunner{fn: func(string) error {
		mu.Lock()
		stamps = append(stamps, time.Now())
		mu.Unlock()
		return nil
	}}

	pool := NewPool(context.Background(), runner, st, PoolConfig{Concurrency: 1, BatchDelay: 50 * time.Millisecond})
	for _, id := range []string{"c1", "c2", "c3"} {
		require.True(t, pool.Submit(id))
	}
	pool.Close()

	require.Len(t, stamps, 3)
	assert.GreaterOrEqual(t, stamps[2].Sub(stamps[0]), 90*time.Millisecond)
}

func TestPool_EnrichPending(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	c1 := seedCluster(t, st, "h1", 2)
	c2 := seedCluster(t, st, "h2", 2)

	runner := &funcRunner{}
	pool := NewPool(ctx, runner, st, PoolConfig{Concurrency: 2})
	queued, err := pool.EnrichPending(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, queued)
	pool.Close()
	assert.ElementsMatch(t, []string{c1.ID, c2.ID}, runner.calls)
}

func TestPoolFromConfigDefaults(t *testing.T) {
	cfg := PoolConfig{}.withDefaults()
	assert.Equal(t, 3, cfg.Concurrency)
	assert.Equal(t, 100, cfg.QueueSize)
	assert.Equal(t, time.Duration(0), cfg.BatchDelay)
}
