// Package coord keeps background passes from overlapping and announces
// pipeline events over redis.
package coord

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// ErrLockHeld is returned by Acquire when another holder owns the key.
var ErrLockHeld = eris.New("coord: lock held")

// Lock keys.
const (
	KeyClusterPass = "intel:lock:cluster_pass"
	KeyEnrichPass  = "intel:lock:enrich_pass"
)

// releaseScript deletes the key only while it still carries our token.
const releaseScript = `if redis.call("get", KEYS[1]) == ARGV[1] then return redis.call("del", KEYS[1]) else return 0 end`

// Locker hands out advisory locks.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
}

// EventType names a pipeline event.
type EventType string

const (
	EventClusterCreated  EventType = "cluster.created"
	EventClusterUpdated  EventType = "cluster.updated"
	EventClusterEnriched EventType = "cluster.enriched"
	EventNetworkAnalyzed EventType = "network.analyzed"
)

// Event is published as JSON on the configured channel.
type Event struct {
	Type      EventType `json:"type"`
	ClusterID string    `json:"cluster_id,omitempty"`
	ArticleID string    `json:"article_id,omitempty"`
	At        time.Time `json:"at"`
}

// Publisher announces events.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// redisClient is the subset of *goredis.Client used here.
type redisClient interface {
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *goredis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...any) *goredis.Cmd
	Publish(ctx context.Context, channel string, message any) *goredis.IntCmd
}

// Redis implements Locker and Publisher over a single redis client.
type Redis struct {
	rdb     redisClient
	channel string
	closeFn func() error
}

// Options configures NewRedis.
type Options struct {
	Addr     string
	Password string
	DB       int
	Channel  string
}

// NewRedis connects and pings the server.
func NewRedis(ctx context.Context, opts Options) (*Redis, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        opts.Addr,
		Password:    opts.Password,
		DB:          opts.DB,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, eris.Wrap(err, "coord: redis ping")
	}

	channel := opts.Channel
	if channel == "" {
		channel = "intel:events"
	}
	return &Redis{rdb: rdb, channel: channel, closeFn: rdb.Close}, nil
}

// Acquire sets key with a random token if absent. The returned release
// deletes the key only if the token still matches, so a lock that expired
// and was taken by someone else is left alone.
func (r *Redis) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.New().String()
	ok, err := r.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, eris.Wrapf(err, "coord: acquire %s", key)
	}
	if !ok {
		return nil, ErrLockHeld
	}

	release := func() {
		// Release must run even when the pass's context is cancelled.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.rdb.Eval(ctx, releaseScript, []string{key}, token).Err(); err != nil {
			zap.L().Warn("coord: release lock failed", zap.String("key", key), zap.Error(err))
		}
	}
	return release, nil
}

// Publish sends ev as JSON. A zero At is stamped with the current time.
func (r *Redis) Publish(ctx context.Context, ev Event) error {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	raw, err := json.Marshal(ev)
	if err != nil {
		return eris.Wrap(err, "coord: marshal event")
	}
	return eris.Wrapf(r.rdb.Publish(ctx, r.channel, raw).Err(), "coord: publish %s", ev.Type)
}

// Close closes the underlying client.
func (r *Redis) Close() error {
	if r == nil || r.closeFn == nil {
		return nil
	}
	return r.closeFn()
}

// Noop grants every lock and drops every event. It stands in when redis is
// not configured.
type Noop struct{}

func (Noop) Acquire(context.Context, string, time.Duration) (func(), error) {
	return func() {}, nil
}

func (Noop) Publish(context.Context, Event) error { return nil }

var (
	_ Locker    = (*Redis)(nil)
	_ Publisher = (*Redis)(nil)
	_ Locker    = Noop{}
	_ Publisher = Noop{}
)
