package planning

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/evolvai/evolv/core"
)

// planCacheTTL keeps cached plans short-lived: preferences and skills
// shift under the learning loop, so stale plans age out quickly.
const planCacheTTL = 5 * time.Minute

// PlanCache is a short-lived LRU over recently generated plans, keyed by
// a hash of the normalized goal text.
type PlanCache struct {
	lru *expirable.LRU[string, *core.Plan]
}

// NewPlanCache creates a cache with the given capacity.
func NewPlanCache(capacity int) *PlanCache {
	if capacity <= 0 {
		capacity = 64
	}
	return &PlanCache{
		lru: expirable.NewLRU[string, *core.Plan](capacity, nil, planCacheTTL),
	}
}

func cacheKey(normalizedGoal string) string {
	sum := sha256.Sum256([]byte(normalizedGoal))
	return hex.EncodeToString(sum[:])
}

// Get returns the cached plan for a normalized goal, if present.
func (c *PlanCache) Get(normalizedGoal string) (*core.Plan, bool) {
	return c.lru.Get(cacheKey(normalizedGoal))
}

// Put stores a plan under its normalized goal.
func (c *PlanCache) Put(normalizedGoal string, plan *core.Plan) {
	c.lru.Add(cacheKey(normalizedGoal), plan)
}

// Len reports the number of live entries.
func (c *PlanCache) Len() int {
	return c.lru.Len()
}
