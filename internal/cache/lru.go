package cache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/SyedDaiam9101/cardio-risk-service/internal/inference"
)

// LRU is an in-process, size-bounded cache with per-entry expiry.
type LRU struct {
	lru *expirable.LRU[string, inference.Prediction]
}

// NewLRU creates an LRU holding at most size entries for ttl each.
// A zero ttl keeps entries until evicted by size.
func NewLRU(size int, ttl time.Duration) *LRU {
	return &LRU{lru: expirable.NewLRU[string, inference.Prediction](size, nil, ttl)}
}

func (c *LRU) Get(_ context.Context, key string) (inference.Prediction, bool, error) {
	p, ok := c.lru.Get(key)
	return p, ok, nil
}

func (c *LRU) Set(_ context.Context, key string, p inference.Prediction) error {
	c.lru.Add(key, p)
	return nil
}

// Len returns the number of cached entries.
func (c *LRU) Len() int {
	return c.lru.Len()
}

func (c *LRU) Close() error {
	c.lru.Purge()
	return nil
}
