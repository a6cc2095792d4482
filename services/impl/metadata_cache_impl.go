package impl

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/aigroupchat/backend/config"
	"github.com/aigroupchat/backend/services"
)

const metadataCachePrefix = "doc_meta"

// metadataCacheImpl caches the owner's document id -> title map with a
// TTL. Redis when configured, in-memory otherwise; a Redis failure
// falls back to the in-memory map rather than surfacing an error, since
// the cache is an optimization on the retrieval hot path.
type metadataCacheImpl struct {
	memCache map[string]metadataEntry
	mu       sync.RWMutex

	redis    *redis.Client
	useRedis bool
	ttl      time.Duration
}

type metadataEntry struct {
	data      []byte
	expiresAt time.Time
}

func NewMetadataCache(cfg *config.RedisConfig) services.MetadataCache {
	svc := &metadataCacheImpl{
		memCache: make(map[string]metadataEntry),
		ttl:      time.Duration(cfg.MetadataTTLSecs) * time.Second,
	}

	if cfg.Host != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Password: cfg.Password,
			DB:       cfg.DB,
		})

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := redisClient.Ping(ctx).Err(); err == nil {
			svc.redis = redisClient
			svc.useRedis = true
		}
		// Redis unreachable: stay on the in-memory cache.
	}

	return svc
}

// NewMetadataCacheWithRedis wires an existing Redis client, used by tests
// with miniredis.
func NewMetadataCacheWithRedis(redisClient *redis.Client, ttlSeconds int) services.MetadataCache {
	return &metadataCacheImpl{
		memCache: make(map[string]metadataEntry),
		redis:    redisClient,
		useRedis: redisClient != nil,
		ttl:      time.Duration(ttlSeconds) * time.Second,
	}
}

func (s *metadataCacheImpl) GetTitles(ctx context.Context, ownerID string) (map[uuid.UUID]string, bool) {
	key := s.prefixKey(ownerID)

	if s.useRedis && s.redis != nil {
		data, err := s.redis.Get(ctx, key).Bytes()
		if err == nil {
			var titles map[uuid.UUID]string
			if err := json.Unmarshal(data, &titles); err != nil {
				s.redis.Del(ctx, key)
				return nil, false
			}
			return titles, true
		}
		if err != redis.Nil {
			return s.getFromMemCache(key)
		}
		return nil, false
	}

	return s.getFromMemCache(key)
}

func (s *metadataCacheImpl) getFromMemCache(key string) (map[uuid.UUID]string, bool) {
	s.mu.RLock()
	entry, exists := s.memCache[key]
	s.mu.RUnlock()

	if !exists {
		return nil, false
	}

	if time.Now().After(entry.expiresAt) {
		s.mu.Lock()
		delete(s.memCache, key)
		s.mu.Unlock()
		return nil, false
	}

	var titles map[uuid.UUID]string
	if err := json.Unmarshal(entry.data, &titles); err != nil {
		return nil, false
	}
	return titles, true
}

func (s *metadataCacheImpl) SetTitles(ctx context.Context, ownerID string, titles map[uuid.UUID]string) {
	data, err := json.Marshal(titles)
	if err != nil {
		return
	}

	key := s.prefixKey(ownerID)

	if s.useRedis && s.redis != nil {
		if err := s.redis.Set(ctx, key, data, s.ttl).Err(); err == nil {
			return
		}
		// Fall through to memory on Redis failure.
	}

	s.mu.Lock()
	s.memCache[key] = metadataEntry{
		data:      data,
		expiresAt: time.Now().Add(s.ttl),
	}
	s.mu.Unlock()
}

func (s *metadataCacheImpl) Invalidate(ctx context.Context, ownerID string) {
	key := s.prefixKey(ownerID)

	if s.useRedis && s.redis != nil {
		s.redis.Del(ctx, key)
	}

	s.mu.Lock()
	delete(s.memCache, key)
	s.mu.Unlock()
}

func (s *metadataCacheImpl) prefixKey(ownerID string) string {
	return fmt.Sprintf("%s:%s", metadataCachePrefix, ownerID)
}
