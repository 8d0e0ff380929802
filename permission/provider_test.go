package permission

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/3rs4lg4d0/eventpipe/test"
	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingSource struct {
	perms []string
	err   error
	calls atomic.Int32
}

func (s *countingSource) Permissions(context.Context, uuid.UUID) ([]string, error) {
	s.calls.Add(1)
	return s.perms, s.err
}

func newProvider(t *testing.T, src Source) (*Provider, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewProvider(client, src, time.Minute), mr
}

func TestForUserReadThrough(t *testing.T) {
	src := &countingSource{perms: []string{"orders:write", "orders:read", "orders:read"}}
	p, mr := newProvider(t, src)
	ctx := context.Background()
	userId := uuid.New()

	set, err := p.ForUser(ctx, userId)
	require.NoError(t, err)
	assert.Equal(t, []string{"orders:read", "orders:write"}, Sorted(set))

	key := "auth:permissions-" + userId.String()
	require.True(t, mr.Exists(key))
	cached, err := mr.Get(key)
	require.NoError(t, err)
	assert.JSONEq(t, `["orders:read","orders:write"]`, cached)
	assert.Equal(t, time.Minute, mr.TTL(key))

	// second lookup is served by the cache.
	set, err = p.ForUser(ctx, userId)
	require.NoError(t, err)
	assert.Len(t, set, 2)
	assert.Equal(t, int32(1), src.calls.Load())

	// expired entries are loaded again.
	mr.FastForward(2 * time.Minute)
	_, err = p.ForUser(ctx, userId)
	require.NoError(t, err)
	assert.Equal(t, int32(2), src.calls.Load())
}

func TestEmptySourceIsCached(t *testing.T) {
	p, mr := newProvider(t, nil)
	userId := uuid.New()

	set, err := p.ForUser(context.Background(), userId)
	require.NoError(t, err)
	assert.Empty(t, set)

	cached, err := mr.Get("auth:permissions-" + userId.String())
	require.NoError(t, err)
	assert.Equal(t, "[]", cached)
}

func TestHasAndInvalidate(t *testing.T) {
	src := &countingSource{perms: []string{"users:read"}}
	p, _ := newProvider(t, src)
	ctx := context.Background()
	userId := uuid.New()

	ok, err := p.Has(ctx, userId, "users:read")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = p.Has(ctx, userId, "users:delete")
	require.NoError(t, err)
	assert.False(t, ok)

	src.perms = []string{"users:read", "users:delete"}
	require.NoError(t, p.Invalidate(ctx, userId))
	ok, err = p.Has(ctx, userId, "users:delete")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestForUserFailures(t *testing.T) {
	testcases := []struct {
		name     string
		source   *countingSource
		prepare  func(mr *miniredis.Miniredis, key string)
		wantErr  bool
		wantLogs int
	}{
		{
			name:    "source fails",
			source:  &countingSource{err: errors.New("directory unavailable")},
			prepare: func(*miniredis.Miniredis, string) {},
			wantErr: true,
		},
		{
			name:   "unreadable cache entry is replaced",
			source: &countingSource{perms: []string{"a"}},
			prepare: func(mr *miniredis.Miniredis, key string) {
				require.NoError(t, mr.Set(key, "not-json"))
			},
			wantLogs: 1,
		},
		{
			name:   "cache down falls back to source",
			source: &countingSource{perms: []string{"a"}},
			prepare: func(mr *miniredis.Miniredis, _ string) {
				mr.SetError("ERR cache unavailable")
			},
			wantLogs: 2,
		},
	}
	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			p, mr := newProvider(t, tc.source)
			logger := &test.TestLogger{}
			p.SetLogger(logger)
			userId := uuid.New()
			tc.prepare(mr, cacheKey(userId))

			set, err := p.ForUser(context.Background(), userId)
			test.AssertError(t, err, tc.wantErr)
			if !tc.wantErr {
				assert.Contains(t, set, "a")
			}
			assert.Len(t, logger.Messages, tc.wantLogs)
		})
	}
}

func TestNewProvider(t *testing.T) {
	assert.Panics(t, func() { NewProvider(nil, EmptySource{}, 0) })
	p := NewProvider(redis.NewClient(&redis.Options{Addr: "localhost:0"}), nil, 0)
	assert.Equal(t, DefaultTTL, p.ttl)
	assert.IsType(t, EmptySource{}, p.source)
}
