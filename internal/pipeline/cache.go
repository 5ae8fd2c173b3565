package pipeline

import (
	"slices"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// EnvelopeCache 缓存运行记录及其中间信封，失败的运行可从最近成功的阶段继续
type EnvelopeCache struct {
	lru *expirable.LRU[string, Run]
}

// NewEnvelopeCache 创建缓存，超过 ttl 的记录自动过期
func NewEnvelopeCache(size int, ttl time.Duration) *EnvelopeCache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &EnvelopeCache{lru: expirable.NewLRU[string, Run](size, nil, ttl)}
}

// Put 保存运行记录快照
func (c *EnvelopeCache) Put(run *Run) {
	c.lru.Add(run.ID, run.snapshot())
}

// Get 读取运行记录快照
func (c *EnvelopeCache) Get(id string) (*Run, bool) {
	r, ok := c.lru.Get(id)
	if !ok {
		return nil, false
	}
	cp := r.snapshot()
	return &cp, true
}

// Remove 删除运行记录
func (c *EnvelopeCache) Remove(id string) {
	c.lru.Remove(id)
}

// Len 缓存条数
func (c *EnvelopeCache) Len() int {
	return c.lru.Len()
}

// snapshot 复制运行记录；信封创建后不再修改，按指针共享
func (r *Run) snapshot() Run {
	cp := *r
	cp.Transitions = slices.Clone(r.Transitions)
	return cp
}
