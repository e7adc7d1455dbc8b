package coord

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockRedis struct {
	mock.Mock
}

func (m *mockRedis) SetNX(ctx context.Context, key string, value any, expiration time.Duration) *goredis.BoolCmd {
	args := m.Called(ctx, key, value, expiration)
	return args.Get(0).(*goredis.BoolCmd)
}

func (m *mockRedis) Eval(ctx context.Context, script string, keys []string, args ...any) *goredis.Cmd {
	called := m.Called(ctx, script, keys, args)
	return called.Get(0).(*goredis.Cmd)
}

func (m *mockRedis) Publish(ctx context.Context, channel string, message any) *goredis.IntCmd {
	args := m.Called(ctx, channel, message)
	return args.Get(0).(*goredis.IntCmd)
}

func TestRedis_AcquireAndRelease(t *testing.T) {
	rdb := &mockRedis{}
	r := &Redis{rdb: rdb, channel: "intel:events"}

	var token any
	rdb.On("SetNX", mock.Anything, KeyClusterPass, mock.AnythingOfType("string"), 5*time.Minute).
		Run(func(args mock.Arguments) { token = args.Get(2) }).
		Return(goredis.NewBoolResult(true, nil))
	rdb.On("Eval", mock.Anything, releaseScript, []string{KeyClusterPass}, mock.Anything).
		Return(goredis.NewCmdResult(int64(1), nil))

	release, err := r.Acquire(context.Background(), KeyClusterPass, 5*time.Minute)
	require.NoError(t, err)
	release()

	rdb.AssertExpectations(t)
	evalArgs := rdb.Calls[1].Arguments.Get(3).([]any)
	assert.Equal(t, token, evalArgs[0])
}

func TestRedis_AcquireHeld(t *testing.T) {
	rdb := &mockRedis{}
	r := &Redis{rdb: rdb}

	rdb.On("SetNX", mock.Anything, KeyEnrichPass, mock.Anything, time.Minute).
		Return(goredis.NewBoolResult(false, nil))

	release, err := r.Acquire(context.Background(), KeyEnrichPass, time.Minute)
	assert.ErrorIs(t, err, ErrLockHeld)
	assert.Nil(t, release)
}

func TestRedis_AcquireError(t *testing.T) {
	rdb := &mockRedis{}
	r := &Redis{rdb: rdb}

	rdb.On("SetNX", mock.Anything, KeyEnrichPass, mock.Anything, time.Minute).
		Return(goredis.NewBoolResult(false, errors.New("connection refused")))

	_, err := r.Acquire(context.Background(), KeyEnrichPass, time.Minute)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrLockHeld)
	assert.Contains(t, err.Error(), "coord: acquire")
}

func TestRedis_Publish(t *testing.T) {
	rdb := &mockRedis{}
	r := &Redis{rdb: rdb, channel: "intel:events"}

	var payload []byte
	rdb.On("Publish", mock.Anything, "intel:events", mock.Anything).
		Run(func(args mock.Arguments) { payload = args.Get(2).([]byte) }).
		Return(goredis.NewIntResult(1, nil))

	err := r.Publish(context.Background(), Event{Type: EventClusterCreated, ClusterID: "c1"})
	require.NoError(t, err)

	var ev Event
	require.NoError(t, json.Unmarshal(payload, &ev))
	assert.Equal(t, EventClusterCreated, ev.Type)
	assert.Equal(t, "c1", ev.ClusterID)
	assert.False(t, ev.At.IsZero())
}

func TestNoop(t *testing.T) {
	release, err := Noop{}.Acquire(context.Background(), KeyClusterPass, time.Second)
	require.NoError(t, err)
	release()
	assert.NoError(t, Noop{}.Publish(context.Background(), Event{Type: EventClusterUpdated}))
	assert.NoError(t, (*Redis)(nil).Close())
}
