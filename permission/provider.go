// Package permission resolves the permission set of a user through a
// Redis read-through cache.
package permission

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/3rs4lg4d0/eventpipe/evp"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const DefaultTTL = 10 * time.Minute

// Source loads the permissions of a user from the system of record.
type Source interface {
	Permissions(ctx context.Context, userId uuid.UUID) ([]string, error)
}

// EmptySource grants nothing. It is the default until a real source exists.
type EmptySource struct{}

func (EmptySource) Permissions(context.Context, uuid.UUID) ([]string, error) {
	return []string{}, nil
}

// Provider returns cached permissions and falls back to its Source on a
// miss. A failing cache never blocks a lookup: read and write errors are
// logged and the Source answer is used.
type Provider struct {
	cache  redis.Cmdable
	source Source
	ttl    time.Duration
	logger evp.Logger
}

var _ evp.Loggable = (*Provider)(nil)

func NewProvider(cache redis.Cmdable, source Source, ttl time.Duration) *Provider {
	if cache == nil {
		panic("cache is mandatory")
	}
	if source == nil {
		source = EmptySource{}
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Provider{
		cache:  cache,
		source: source,
		ttl:    ttl,
		logger: &evp.NopLogger{},
	}
}

func (p *Provider) SetLogger(l evp.Logger) {
	p.logger = l
}

func cacheKey(userId uuid.UUID) string {
	return fmt.Sprintf("auth:permissions-%s", userId)
}

// ForUser returns the permission set of the user.
func (p *Provider) ForUser(ctx context.Context, userId uuid.UUID) (map[string]struct{}, error) {
	key := cacheKey(userId)

	raw, err := p.cache.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var cached []string
		if err := json.Unmarshal(raw, &cached); err == nil {
			return toSet(cached), nil
		}
		p.logger.Warn(fmt.Sprintf("discarding unreadable cache entry %s", key))
	case !errors.Is(err, redis.Nil):
		p.logger.Error(fmt.Sprintf("could not read cache entry %s", key), err)
	}

	perms, err := p.source.Permissions(ctx, userId)
	if err != nil {
		return nil, fmt.Errorf("could not load permissions for user %s: %w", userId, err)
	}
	set := toSet(perms)

	payload, err := json.Marshal(sorted(set))
	if err != nil {
		return nil, err
	}
	if err := p.cache.Set(ctx, key, payload, p.ttl).Err(); err != nil {
		p.logger.Error(fmt.Sprintf("could not write cache entry %s", key), err)
	}

	return set, nil
}

// Has reports whether the user holds the permission.
func (p *Provider) Has(ctx context.Context, userId uuid.UUID, permission string) (bool, error) {
	set, err := p.ForUser(ctx, userId)
	if err != nil {
		return false, err
	}
	_, ok := set[permission]
	return ok, nil
}

// Invalidate drops the cached entry of the user.
func (p *Provider) Invalidate(ctx context.Context, userId uuid.UUID) error {
	return p.cache.Del(ctx, cacheKey(userId)).Err()
}

func toSet(perms []string) map[string]struct{} {
	set := make(map[string]struct{}, len(perms))
	for _, p := range perms {
		set[p] = struct{}{}
	}
	return set
}

// Sorted returns the permissions of a set in lexical order.
func Sorted(set map[string]struct{}) []string {
	return sorted(set)
}

func sorted(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
