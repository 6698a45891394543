package queue

import (
	"testing"
	"time"

	"github.com/bbva/deeptracy-api/internal/models"
	"github.com/bbva/deeptracy-api/pkg/logging"
)

func pushHook(branch, after string) *models.Hook {
	return &models.Hook{
		Provider:   models.ProviderGitHub,
		RepoURL:    "git@github.com:o/r.git",
		BranchName: branch,
		After:      after,
	}
}

// seen checks a Hook and marks it delivered, like a successful enqueue
func seen(cache *DeliveryCache, hook *models.Hook) bool {
	if cache.IsDuplicate(hook) {
		return true
	}
	cache.MarkDelivered(hook)
	return false
}

func TestDeliveryCache_IsDuplicate(t *testing.T) {
	ttl := 100 * time.Millisecond
	cache := NewDeliveryCache(16, ttl, logging.NewNopLogger())

	if seen(cache, pushHook("main", "c1")) {
		t.Error("first delivery should not be duplicate")
	}
	if !cache.IsDuplicate(pushHook("main", "c1")) {
		t.Error("redelivery of the same push should be duplicate")
	}
	if seen(cache, pushHook("main", "c2")) {
		t.Error("new head commit should not be duplicate")
	}
	if seen(cache, pushHook("dev", "c1")) {
		t.Error("same commit on another branch should not be duplicate")
	}

	time.Sleep(ttl + 50*time.Millisecond)

	if cache.IsDuplicate(pushHook("main", "c1")) {
		t.Error("after TTL expiry, delivery should not be duplicate")
	}
}

func TestDeliveryCache_Eviction(t *testing.T) {
	cache := NewDeliveryCache(2, time.Minute, logging.NewNopLogger())

	seen(cache, pushHook("a", "1"))
	seen(cache, pushHook("b", "1"))
	seen(cache, pushHook("c", "1"))

	if cache.IsDuplicate(pushHook("a", "1")) {
		t.Error("least recently used entry should have been evicted")
	}
}

func TestDeliveryCache_Stats(t *testing.T) {
	cache := NewDeliveryCache(16, time.Minute, logging.NewNopLogger())

	seen(cache, pushHook("main", "c1")) // Miss
	seen(cache, pushHook("main", "c1")) // Hit
	seen(cache, pushHook("dev", "c1"))  // Miss

	stats := cache.Stats()

	if stats.Hits != 1 {
		t.Errorf("Stats.Hits = %d, want 1", stats.Hits)
	}
	if stats.Misses != 2 {
		t.Errorf("Stats.Misses = %d, want 2", stats.Misses)
	}
	if stats.Size != 2 {
		t.Errorf("Stats.Size = %d, want 2", stats.Size)
	}

	expectedHitRate := (1.0 / 3.0) * 100
	if stats.HitRate < expectedHitRate-1 || stats.HitRate > expectedHitRate+1 {
		t.Errorf("Stats.HitRate = %f, want ~%f", stats.HitRate, expectedHitRate)
	}
}

func TestDeliveryCache_UnmarkedHookIsNotDuplicate(t *testing.T) {
	cache := NewDeliveryCache(16, time.Minute, logging.NewNopLogger())
	hook := pushHook("main", "c1")

	if cache.IsDuplicate(hook) {
		t.Fatal("first delivery should not be duplicate")
	}
	if cache.IsDuplicate(hook) {
		t.Error("a hook never marked delivered should not become duplicate")
	}

	cache.MarkDelivered(hook)
	if !cache.IsDuplicate(hook) {
		t.Error("a delivered hook should be duplicate")
	}
}
