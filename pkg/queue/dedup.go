package queue

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sirupsen/logrus"

	"github.com/bbva/deeptracy-api/internal/models"
)

// DeliveryCache drops Hooks already delivered within a time window.
// Webhook providers redeliver on timeouts, which would otherwise queue the
// same commit range twice.
type DeliveryCache struct {
	cache     *expirable.LRU[string, time.Time]
	ttl       time.Duration
	logger    *logrus.Logger
	hitCount  int64
	missCount int64
}

// NewDeliveryCache creates a cache remembering up to size Hooks for ttl
func NewDeliveryCache(size int, ttl time.Duration, logger *logrus.Logger) *DeliveryCache {
	return &DeliveryCache{
		cache:  expirable.NewLRU[string, time.Time](size, nil, ttl),
		ttl:    ttl,
		logger: logger,
	}
}

// IsDuplicate reports whether the Hook was delivered within the TTL window.
// It does not mark the Hook; call MarkDelivered once it is queued.
func (dc *DeliveryCache) IsDuplicate(hook *models.Hook) bool {
	key := deliveryKey(hook)

	if firstSeen, ok := dc.cache.Peek(key); ok {
		atomic.AddInt64(&dc.hitCount, 1)
		dc.logger.WithFields(logrus.Fields{
			"key": key,
			"age": time.Since(firstSeen).String(),
		}).Debug("Duplicate hook detected")
		return true
	}

	atomic.AddInt64(&dc.missCount, 1)
	return false
}

// MarkDelivered records the Hook so redeliveries within the TTL are dropped
func (dc *DeliveryCache) MarkDelivered(hook *models.Hook) {
	dc.cache.Add(deliveryKey(hook), time.Now())
}

// deliveryKey identifies a push by provider, repository, branch and head commit
func deliveryKey(hook *models.Hook) string {
	return fmt.Sprintf("%s/%s/%s", hook.Key(), hook.RepoURL, hook.After)
}

// Stats returns cache statistics
func (dc *DeliveryCache) Stats() DedupStats {
	hits := atomic.LoadInt64(&dc.hitCount)
	misses := atomic.LoadInt64(&dc.missCount)

	var hitRate float64
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}

	return DedupStats{
		Size:    dc.cache.Len(),
		Hits:    hits,
		Misses:  misses,
		HitRate: hitRate,
		TTL:     dc.ttl,
	}
}

// DedupStats represents deduplication cache statistics
type DedupStats struct {
	Size    int
	Hits    int64
	Misses  int64
	HitRate float64 // Percentage
	TTL     time.Duration
}
