package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// =============================================================================
// 🔁 Checkpoint 解析结果读透缓存
// =============================================================================
// 包裹 checkpoint.Resolver.Resolve 的一层可选 Redis 缓存，命中时跳过数据库
// 查询与断路器判定。缓存永远不是数据源：任何一次 Lifecycle 状态迁移都会使
// 受影响任务的缓存失效，下一次 Resolve 调用会穿透到底层重新计算。
//
// 失效粒度为整个 task_id，而非单条 (task_id, definition_id)：用一个按任务
// 维护的版本号取代精确的键失效，避免在 Redis 里做 SCAN/KEYS 模式匹配删除。
// 版本号自增后，旧版本的缓存条目仅仅是孤儿键，会随 TTL 自然过期，不会被
// 误读——版本号本身也是缓存键的一部分。

// ResolveFunc 是被缓存包裹的底层解析函数，通常是 (*checkpoint.Resolver).Resolve。
type ResolveFunc func(ctx context.Context, taskID string, position string, mode string) ([]json.RawMessage, error)

// Recorder 是缓存命中/未命中的可选观测钩子，由 internal/metrics.Collector 实现。
type Recorder interface {
	RecordCacheHit(cacheType string)
	RecordCacheMiss(cacheType string)
}

type noopRecorder struct{}

func (noopRecorder) RecordCacheHit(string)  {}
func (noopRecorder) RecordCacheMiss(string) {}

const resolveCacheType = "checkpoint_resolve"

// ResolveCache is a read-through cache in front of a checkpoint resolve
// call, keyed by (task, position, mode, version). Bumping a task's
// version evicts every entry for that task without a key scan.
type ResolveCache struct {
	manager  *Manager
	resolve  ResolveFunc
	ttl      time.Duration
	recorder Recorder
	logger   *zap.Logger
}

// NewResolveCache constructs a ResolveCache. recorder may be nil, in
// which case cache hit/miss metrics are simply not recorded.
func NewResolveCache(manager *Manager, resolve ResolveFunc, ttl time.Duration, recorder Recorder, logger *zap.Logger) *ResolveCache {
	if recorder == nil {
		recorder = noopRecorder{}
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &ResolveCache{
		manager:  manager,
		resolve:  resolve,
		ttl:      ttl,
		recorder: recorder,
		logger:   logger.With(zap.String("component", "resolve_cache")),
	}
}

// Resolve returns the cached result for (taskID, position, mode) if
// present and not stale, otherwise calls through to the wrapped
// resolver and populates the cache.
func (c *ResolveCache) Resolve(ctx context.Context, taskID, position, mode string) ([]json.RawMessage, error) {
	version, err := c.currentVersion(ctx, taskID)
	if err != nil {
		// Cache unavailable: degrade to calling straight through.
		c.logger.Warn("resolve cache version lookup failed, bypassing cache", zap.Error(err))
		return c.resolve(ctx, taskID, position, mode)
	}

	key := c.entryKey(taskID, position, mode, version)

	var cached []json.RawMessage
	if err := c.manager.GetJSON(ctx, key, &cached); err == nil {
		c.recorder.RecordCacheHit(resolveCacheType)
		return cached, nil
	} else if !IsCacheMiss(err) {
		c.logger.Warn("resolve cache read failed", zap.Error(err))
	}
	c.recorder.RecordCacheMiss(resolveCacheType)

	result, err := c.resolve(ctx, taskID, position, mode)
	if err != nil {
		return nil, err
	}

	if err := c.manager.SetJSON(ctx, key, result, c.ttl); err != nil {
		c.logger.Warn("resolve cache write failed", zap.Error(err))
	}
	return result, nil
}

// Invalidate evicts every cached resolve result for taskID by bumping
// its version counter. Called by the service layer after any Lifecycle
// transition (submit, skip, retry, timeout) affecting that task.
func (c *ResolveCache) Invalidate(ctx context.Context, taskID string) error {
	_, err := c.manager.redis.Incr(ctx, c.versionKey(taskID)).Result()
	if err != nil {
		return fmt.Errorf("resolve cache invalidate: %w", err)
	}
	return nil
}

func (c *ResolveCache) currentVersion(ctx context.Context, taskID string) (int64, error) {
	val, err := c.manager.redis.Get(ctx, c.versionKey(taskID)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return val, nil
}

func (c *ResolveCache) versionKey(taskID string) string {
	return fmt.Sprintf("checkpoint:resolve:ver:%s", taskID)
}

func (c *ResolveCache) entryKey(taskID, position, mode string, version int64) string {
	return fmt.Sprintf("checkpoint:resolve:%s:%s:%s:%d", taskID, position, mode, version)
}
