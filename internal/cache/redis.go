package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/shubhsaxena/intent-search/internal/config"
	"github.com/shubhsaxena/intent-search/internal/models"
	"github.com/shubhsaxena/intent-search/internal/observability"
)

// RedisCache caches finished search responses. Each cached entry also gets
// a long-lived stale twin that the orchestrator serves when Elasticsearch
// is down.
type RedisCache struct {
	client redis.UniversalClient
	ttl    config.CacheTTLConfig
	logger *zap.Logger
}

func NewRedisCache(cfg config.RedisConfig, logger *zap.Logger) (*RedisCache, error) {
	var client redis.UniversalClient

	if len(cfg.Addresses) > 1 {
		client = redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:        cfg.Addresses,
			Password:     cfg.Password,
			PoolSize:     cfg.PoolSize,
			MinIdleConns: cfg.MinIdleConns,
			DialTimeout:  cfg.DialTimeout,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		})
	} else {
		client = redis.NewClient(&redis.Options{
			Addr:         cfg.Addresses[0],
			Password:     cfg.Password,
			DB:           cfg.DB,
			PoolSize:     cfg.PoolSize,
			MinIdleConns: cfg.MinIdleConns,
			DialTimeout:  cfg.DialTimeout,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	logger.Info("redis cache connected", zap.Strings("addresses", cfg.Addresses))

	return &RedisCache{
		client: client,
		ttl:    cfg.TTL,
		logger: logger,
	}, nil
}

func (rc *RedisCache) GetKeywordResults(ctx context.Context, req *models.SearchRequest) (*models.KeywordSearchResponse, error) {
	var resp models.KeywordSearchResponse
	found, err := rc.get(ctx, keywordKey(req), &resp)
	if err != nil || !found {
		return nil, err
	}
	return &resp, nil
}

func (rc *RedisCache) SetKeywordResults(ctx context.Context, req *models.SearchRequest, resp *models.KeywordSearchResponse) error {
	if err := rc.set(ctx, keywordKey(req), resp, rc.ttl.KeywordResults); err != nil {
		return err
	}
	return rc.set(ctx, staleKeywordKey(req), resp, rc.ttl.StaleFallback)
}

func (rc *RedisCache) GetStaleKeywordResults(ctx context.Context, req *models.SearchRequest) (*models.KeywordSearchResponse, error) {
	var resp models.KeywordSearchResponse
	found, err := rc.get(ctx, staleKeywordKey(req), &resp)
	if err != nil || !found {
		return nil, err
	}
	return &resp, nil
}

func (rc *RedisCache) GetIntentResults(ctx context.Context, req *models.SearchRequest) (*models.IntentSearchResponse, error) {
	var resp models.IntentSearchResponse
	found, err := rc.get(ctx, intentKey(req), &resp)
	if err != nil || !found {
		return nil, err
	}
	return &resp, nil
}

func (rc *RedisCache) SetIntentResults(ctx context.Context, req *models.SearchRequest, resp *models.IntentSearchResponse) error {
	return rc.set(ctx, intentKey(req), resp, rc.ttl.IntentResults)
}

// InvalidateSearchResults drops all cached search responses. Called by the
// indexing pipeline after catalog changes; stale twins survive on purpose
// so outage fallback still has something to serve.
func (rc *RedisCache) InvalidateSearchResults(ctx context.Context) error {
	for _, pattern := range []string{"kw:*", "in:*"} {
		iter := rc.client.Scan(ctx, 0, pattern, 100).Iterator()
		var keys []string
		for iter.Next(ctx) {
			keys = append(keys, iter.Val())
		}
		if err := iter.Err(); err != nil {
			rc.logger.Warn("cache scan error", zap.String("pattern", pattern), zap.Error(err))
			continue
		}
		if len(keys) > 0 {
			if err := rc.client.Del(ctx, keys...).Err(); err != nil {
				rc.logger.Warn("cache delete error", zap.Int("keys", len(keys)), zap.Error(err))
			}
		}
	}
	return nil
}

func (rc *RedisCache) HealthCheck(ctx context.Context) error {
	return rc.client.Ping(ctx).Err()
}

func (rc *RedisCache) Close() error {
	return rc.client.Close()
}

func (rc *RedisCache) get(ctx context.Context, key string, out any) (bool, error) {
	val, err := rc.client.Get(ctx, key).Result()
	if err == redis.Nil {
		observability.CacheMisses.Inc()
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("cache get: %w", err)
	}

	observability.CacheHits.Inc()
	if err := json.Unmarshal([]byte(val), out); err != nil {
		return false, fmt.Errorf("cache unmarshal: %w", err)
	}
	return true, nil
}

func (rc *RedisCache) set(ctx context.Context, key string, resp any, ttl time.Duration) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("cache marshal: %w", err)
	}
	return rc.client.Set(ctx, key, data, ttl).Err()
}

func keywordKey(req *models.SearchRequest) string {
	return "kw:" + hashRequest(req)
}

// Stale twins live under their own prefix so InvalidateSearchResults'
// "kw:*" scan cannot touch them.
func staleKeywordKey(req *models.SearchRequest) string {
	return "kwstale:" + hashRequest(req)
}

func intentKey(req *models.SearchRequest) string {
	return "in:" + hashRequest(req)
}

// hashRequest keys on everything that changes the result set. Filters are
// part of the key; RequestID and ForceFresh are not.
func hashRequest(req *models.SearchRequest) string {
	raw := fmt.Sprintf("%s:%d", req.Query, req.Size)
	if f := req.Filters; f != nil {
		min, max := "", ""
		if f.PriceMin != nil {
			min = fmt.Sprintf("%g", *f.PriceMin)
		}
		if f.PriceMax != nil {
			max = fmt.Sprintf("%g", *f.PriceMax)
		}
		raw += fmt.Sprintf(":%s:%s:%s:%v", f.Category, min, max, f.InStockOnly)
	}
	return hashString(raw)
}

func hashString(s string) string {
	h := sha256.Sum256([]byte(s))
	return fmt.Sprintf("%x", h[:8])
}
