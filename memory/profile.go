package memory

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/memchat/internal/cache"
	"github.com/BaSui01/memchat/types"
)

// ProfileStore is the store surface the profile tier needs.
type ProfileStore interface {
	GetProfile(ctx context.Context, userID string) (types.Profile, bool, error)
	UpsertProfile(ctx context.Context, userID string, profile types.Profile) error
}

// ProfileCache is a read-through cache in front of the durable profile row.
// Implementations: in-process map, redis.
type ProfileCache interface {
	Get(ctx context.Context, userID string) (types.Profile, bool)
	Put(ctx context.Context, userID string, profile types.Profile)
	Delete(ctx context.Context, userID string)
}

// MapProfileCache is the in-process ProfileCache.
type MapProfileCache struct {
	mu       sync.RWMutex
	profiles map[string]types.Profile
}

// NewMapProfileCache creates an empty in-process profile cache.
func NewMapProfileCache() *MapProfileCache {
	return &MapProfileCache{profiles: make(map[string]types.Profile)}
}

func (c *MapProfileCache) Get(_ context.Context, userID string) (types.Profile, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.profiles[userID]
	return p, ok
}

func (c *MapProfileCache) Put(_ context.Context, userID string, profile types.Profile) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.profiles[userID] = profile
}

func (c *MapProfileCache) Delete(_ context.Context, userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.profiles, userID)
}

// RedisProfileCache is the external ProfileCache over the shared redis
// manager. Cache errors degrade to a miss; the durable row is authoritative.
type RedisProfileCache struct {
	manager *cache.Manager
	ttl     time.Duration
	logger  *zap.Logger
}

// NewRedisProfileCache creates a redis-backed profile cache.
func NewRedisProfileCache(manager *cache.Manager, ttl time.Duration, logger *zap.Logger) *RedisProfileCache {
	return &RedisProfileCache{
		manager: manager,
		ttl:     ttl,
		logger:  logger.With(zap.String("cache", "profile")),
	}
}

func profileKey(userID string) string { return "profile:" + userID }

func (c *RedisProfileCache) Get(ctx context.Context, userID string) (types.Profile, bool) {
	var profile types.Profile
	err := c.manager.GetJSON(ctx, profileKey(userID), &profile)
	if err != nil {
		if !cache.IsMiss(err) {
			c.logger.Warn("profile cache read failed", zap.String("user_id", userID), zap.Error(err))
		}
		return types.Profile{}, false
	}
	return profile, true
}

func (c *RedisProfileCache) Put(ctx context.Context, userID string, profile types.Profile) {
	if err := c.manager.SetJSON(ctx, profileKey(userID), profile, c.ttl); err != nil {
		c.logger.Warn("profile cache write failed", zap.String("user_id", userID), zap.Error(err))
	}
}

func (c *RedisProfileCache) Delete(ctx context.Context, userID string) {
	if err := c.manager.Delete(ctx, profileKey(userID)); err != nil {
		c.logger.Warn("profile cache delete failed", zap.String("user_id", userID), zap.Error(err))
	}
}

// Profiles is the long-term profile tier: durable row plus write-through
// cache. First access for a user materializes the default profile shape.
type Profiles struct {
	store  ProfileStore
	cache  ProfileCache
	logger *zap.Logger
}

// NewProfiles creates the profile tier.
func NewProfiles(store ProfileStore, cache ProfileCache, logger *zap.Logger) *Profiles {
	return &Profiles{
		store:  store,
		cache:  cache,
		logger: logger.With(zap.String("tier", "profile")),
	}
}

// Get returns the profile for a user, creating and persisting the default
// shape on first access.
func (p *Profiles) Get(ctx context.Context, userID string) (types.Profile, error) {
	if profile, ok := p.cache.Get(ctx, userID); ok {
		return profile, nil
	}

	profile, found, err := p.store.GetProfile(ctx, userID)
	if err != nil {
		return types.Profile{}, err
	}
	if !found {
		profile = types.DefaultProfile()
		if err := p.Put(ctx, userID, profile); err != nil {
			return types.Profile{}, err
		}
		return profile, nil
	}
	p.cache.Put(ctx, userID, profile)
	return profile, nil
}

// Put upserts the profile and refreshes the cache (write-through).
func (p *Profiles) Put(ctx context.Context, userID string, profile types.Profile) error {
	if err := p.store.UpsertProfile(ctx, userID, profile); err != nil {
		return err
	}
	p.cache.Put(ctx, userID, profile)
	return nil
}

// Update deep-merges updates into the stored profile and persists the
// result. updates keys are the profile sections (preferences,
// behavior_patterns, context); nested maps merge recursively, scalars and
// lists replace wholesale.
func (p *Profiles) Update(ctx context.Context, userID string, updates map[string]map[string]any) (types.Profile, error) {
	profile, err := p.Get(ctx, userID)
	if err != nil {
		return types.Profile{}, err
	}

	if section, ok := updates["preferences"]; ok {
		profile.Preferences = deepMerge(profile.Preferences, section)
	}
	if section, ok := updates["behavior_patterns"]; ok {
		profile.BehaviorPatterns = deepMerge(profile.BehaviorPatterns, section)
	}
	if section, ok := updates["context"]; ok {
		profile.Context = deepMerge(profile.Context, section)
	}
	profile.LastUpdated = time.Now().UTC()

	if err := p.Put(ctx, userID, profile); err != nil {
		return types.Profile{}, err
	}
	return profile, nil
}

// Invalidate drops the cached copy for a user.
func (p *Profiles) Invalidate(ctx context.Context, userID string) {
	p.cache.Delete(ctx, userID)
}

// deepMerge merges src into a copy of dst. Map values merge recursively;
// everything else in src replaces the dst value. Keys present only in dst
// are preserved.
func deepMerge(dst, src map[string]any) map[string]any {
	out := make(map[string]any, len(dst)+len(src))
	for k, v := range dst {
		out[k] = v
	}
	for k, v := range src {
		srcMap, srcIsMap := v.(map[string]any)
		dstMap, dstIsMap := out[k].(map[string]any)
		if srcIsMap && dstIsMap {
			out[k] = deepMerge(dstMap, srcMap)
			continue
		}
		out[k] = v
	}
	return out
}
